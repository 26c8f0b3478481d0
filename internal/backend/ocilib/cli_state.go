package ocilib

import (
	"encoding/json"
	"fmt"

	specs "github.com/opencontainers/runtime-spec/specs-go"
)

// parseCLIState decodes the `<runtime> state <id>` JSON output, which the
// reference OCI CLIs emit as a specs.State document.
func parseCLIState(out []byte) (*specs.State, error) {
	st := new(specs.State)
	if err := json.Unmarshal(out, st); err != nil {
		return nil, fmt.Errorf("ocilib: malformed state output: %w", err)
	}
	return st, nil
}
