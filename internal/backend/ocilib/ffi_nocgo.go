//go:build !cgo

package ocilib

import (
	"fmt"

	specs "github.com/opencontainers/runtime-spec/specs-go"
)

// Non-cgo builds never have the library binding available; every call goes
// through the CLI fallback instead.

func libraryAvailable() bool { return false }

func libCreate(id, bundleDir, configPath string) (int64, error) {
	return 0, fmt.Errorf("ocilib: built without cgo, library binding unavailable")
}

func libStart(id string) error {
	return fmt.Errorf("ocilib: built without cgo, library binding unavailable")
}

func libKill(id, signal string) error {
	return fmt.Errorf("ocilib: built without cgo, library binding unavailable")
}

func libDelete(id string, force bool) error {
	return fmt.Errorf("ocilib: built without cgo, library binding unavailable")
}

func libState(id string) (*specs.State, error) {
	return nil, fmt.Errorf("ocilib: built without cgo, library binding unavailable")
}
