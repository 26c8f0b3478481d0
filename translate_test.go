package ocirun

import (
	"testing"

	specs "github.com/opencontainers/runtime-spec/specs-go"
	"github.com/stretchr/testify/require"
)

func TestHintFromID(t *testing.T) {
	require.Equal(t, BackendLXC, HintFromID("lxc-web1").Tag)
	require.Equal(t, BackendLXC, HintFromID("db-primary").Tag)
	require.Equal(t, BackendVM, HintFromID("vm-builder").Tag)
	require.Equal(t, BackendOCILib, HintFromID("anything-else").Tag)
}

func TestToOCIRuntimeConfigEmitsScratchBundle(t *testing.T) {
	dir := writeTestBundle(t, minimalSpec())
	b, err := ParseBundle(dir)
	require.NoError(t, err)

	stateRoot := t.TempDir()
	cfg, err := ToOCIRuntimeConfig(b, "c1", stateRoot)
	require.NoError(t, err)
	require.Equal(t, "c1", cfg.ContainerID)

	reparsed, err := ParseBundle(cfg.ScratchBundle)
	require.NoError(t, err)
	require.Equal(t, b.Args, reparsed.Args)
}

func TestToLXCConfigDerivesCoresFromShares(t *testing.T) {
	b := &Bundle{
		Hostname:  "",
		Resources: Resources{HasCPUShares: true, CPUShares: 2048},
	}
	log := NewConsoleLogger(false)

	cfg, err := ToLXCConfig(b, "lxc-app", log)
	require.NoError(t, err)
	require.Equal(t, 2, cfg.Cores)
	require.Equal(t, "lxc-app", cfg.Hostname) // falls back to id when Hostname is empty
	require.NotZero(t, cfg.VMID)
}

func TestToLXCConfigDropsUnsupportedNamespaces(t *testing.T) {
	b := &Bundle{Namespaces: []specs.LinuxNamespace{{Type: specs.LinuxNamespaceType("bogus")}}}
	log := NewConsoleLogger(false)

	cfg, err := ToLXCConfig(b, "lxc-app2", log)
	require.NoError(t, err)
	require.Empty(t, cfg.NamespaceFlags)
}

func TestToVMConfigDefaultsMemoryWhenUnset(t *testing.T) {
	b := &Bundle{}
	cfg, err := ToVMConfig(b, "vm-1", func(int) bool { return false })
	require.NoError(t, err)
	require.Equal(t, int64(512), cfg.MemoryMiB)
	require.Equal(t, 1, cfg.Cores)
}

func TestDeriveVMIDResolvesCollisions(t *testing.T) {
	seen := map[int]bool{}
	first, err := deriveVMID("same-id", func(c int) bool { return seen[c] })
	require.NoError(t, err)
	seen[first] = true

	second, err := deriveVMID("same-id", func(c int) bool { return seen[c] })
	require.NoError(t, err)
	require.NotEqual(t, first, second)
}

func TestDeriveVMIDExhaustion(t *testing.T) {
	_, err := deriveVMID("anything", func(int) bool { return true })
	require.Error(t, err)
	ociErr, ok := err.(*Error)
	require.True(t, ok)
	require.Equal(t, KindVmidExhaustion, ociErr.Kind)
}
