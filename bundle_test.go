package ocirun

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	specs "github.com/opencontainers/runtime-spec/specs-go"
	"github.com/stretchr/testify/require"
)

func writeTestBundle(t *testing.T, spec *specs.Spec) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "rootfs"), 0o755))
	data, err := json.Marshal(spec)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, BundleConfigFile), data, 0o644))
	return dir
}

func minimalSpec() *specs.Spec {
	return &specs.Spec{
		Version:  "1.0.2",
		Root:     &specs.Root{Path: "rootfs"},
		Hostname: "test-host",
		Process: &specs.Process{
			Args: []string{"/bin/true"},
			Cwd:  "/",
		},
	}
}

func TestParseBundleMinimal(t *testing.T) {
	dir := writeTestBundle(t, minimalSpec())

	b, err := ParseBundle(dir)
	require.NoError(t, err)
	require.Equal(t, []string{"/bin/true"}, b.Args)
	require.Equal(t, "test-host", b.Hostname)
	require.Equal(t, "/", b.Cwd)
	require.Equal(t, "1.0.2", b.SpecVersion())
}

func TestParseBundleMissingConfig(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "rootfs"), 0o755))

	_, err := ParseBundle(dir)
	require.Error(t, err)
}

func TestParseBundleRejectsOldVersion(t *testing.T) {
	spec := minimalSpec()
	spec.Version = "0.9.0"
	dir := writeTestBundle(t, spec)

	_, err := ParseBundle(dir)
	require.Error(t, err)
}

func TestParseBundleRejectsEmptyArgs(t *testing.T) {
	spec := minimalSpec()
	spec.Process.Args = nil
	dir := writeTestBundle(t, spec)

	_, err := ParseBundle(dir)
	require.Error(t, err)
}

func TestParseBundlePreservesUnknownTopLevelKeys(t *testing.T) {
	dir := writeTestBundle(t, minimalSpec())

	raw, err := os.ReadFile(filepath.Join(dir, BundleConfigFile))
	require.NoError(t, err)
	var doc map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &doc))
	doc["futureField"] = json.RawMessage(`{"x":1}`)
	out, err := json.Marshal(doc)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, BundleConfigFile), out, 0o644))

	b, err := ParseBundle(dir)
	require.NoError(t, err)
	require.Contains(t, b.Annotations, "unknown.futureField")
}

func TestEmitOCIConfigRoundTrips(t *testing.T) {
	dir := writeTestBundle(t, minimalSpec())
	b, err := ParseBundle(dir)
	require.NoError(t, err)

	dst := filepath.Join(t.TempDir(), "scratch", BundleConfigFile)
	require.NoError(t, b.EmitOCIConfig(dst))

	reparsed, err := ParseBundle(filepath.Dir(dst))
	require.NoError(t, err)
	require.Equal(t, b.Args, reparsed.Args)
	require.Equal(t, b.Hostname, reparsed.Hostname)
	require.Equal(t, b.SpecVersion(), reparsed.SpecVersion())
}

func TestNormalizeResourcesRejectsNegativeMemory(t *testing.T) {
	spec := minimalSpec()
	limit := int64(-1)
	spec.Linux = &specs.Linux{Resources: &specs.LinuxResources{Memory: &specs.LinuxMemory{Limit: &limit}}}
	dir := writeTestBundle(t, spec)

	_, err := ParseBundle(dir)
	require.Error(t, err)
}
