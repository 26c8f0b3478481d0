package docfile

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

type doc struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "doc.json")
	in := doc{Name: "widget", Count: 3}
	require.NoError(t, EncodeFile(path, &in, 0o640))

	var out doc
	require.NoError(t, DecodeFile(path, &out))
	require.Equal(t, in, out)
}

func TestDecodeFileMissing(t *testing.T) {
	var out doc
	err := DecodeFile(filepath.Join(t.TempDir(), "absent.json"), &out)
	require.Error(t, err)
}

func TestEncodeFileOverwritesAtomically(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.json")
	require.NoError(t, EncodeFile(path, &doc{Name: "v1"}, 0o640))
	require.NoError(t, EncodeFile(path, &doc{Name: "v2"}, 0o640))

	var out doc
	require.NoError(t, DecodeFile(path, &out))
	require.Equal(t, "v2", out.Name)
}
