package lxc

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	ocirun "github.com/nexroute/ocirun"
)

func TestParseStatusWord(t *testing.T) {
	require.Equal(t, "running", parseStatusWord([]byte("status: running\n")))
	require.Equal(t, "stopped", parseStatusWord([]byte("status: stopped")))
	require.Equal(t, "garbage", parseStatusWord([]byte("garbage")))
}

func TestContainerVMID(t *testing.T) {
	vmid, err := containerVMID("123")
	require.NoError(t, err)
	require.Equal(t, 123, vmid)

	_, err = containerVMID("not-numeric")
	require.Error(t, err)
	ociErr, ok := err.(*ocirun.Error)
	require.True(t, ok)
	require.Equal(t, ocirun.KindInternal, ociErr.Kind)
}

func TestReadInitPidMissingCgroupIsNotAnError(t *testing.T) {
	pid, err := readInitPid(t.TempDir(), 999)
	require.NoError(t, err)
	require.Equal(t, 0, pid)
}

func TestReadInitPidParsesFirstPid(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "101")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cgroup.procs"), []byte("4242\n4243\n"), 0o644))

	pid, err := readInitPid(filepath.Dir(dir), 101)
	require.NoError(t, err)
	require.Equal(t, 4242, pid)
}

func TestInitCmdlineIsContainerInitOnMissingProcIsFalse(t *testing.T) {
	require.False(t, initCmdlineIsContainerInit(1<<30))
}

func TestOstypeFromTemplate(t *testing.T) {
	require.Equal(t, "ubuntu", ostypeFromTemplate("local:vztmpl/ubuntu-22.04-standard_22.04-1_amd64.tar.zst"))
	require.Equal(t, "debian", ostypeFromTemplate("debian-12-standard_12.2-1_amd64.tar.gz"))
}

func TestBuildCreateArgsZstTemplateForcesOstypeAndUnprivileged(t *testing.T) {
	cfg := &ocirun.LXCConfig{
		VMID: 101, Hostname: "web1", Cores: 2,
		RootfsRef:    "local:vztmpl/ubuntu-22.04-standard_22.04-1_amd64.tar.zst",
		Unprivileged: false,
	}
	args := buildCreateArgs(cfg)
	require.Contains(t, args, "--ostype")
	require.Contains(t, args, "ubuntu")
	require.Contains(t, args, "--unprivileged")
	require.Contains(t, args, "0")
	require.NotContains(t, args, "unmanaged")
}

func TestBuildCreateArgsTarTemplateOmitsOstypeAndForcedUnprivileged(t *testing.T) {
	cfg := &ocirun.LXCConfig{
		VMID: 102, Hostname: "redis1", Cores: 1,
		RootfsRef:    "local:vztmpl/redis_latest.tar",
		Unprivileged: false,
	}
	args := buildCreateArgs(cfg)
	require.NotContains(t, args, "--ostype")
	require.NotContains(t, args, "--unprivileged")
}

func TestBuildCreateArgsTarTemplateStillHonorsUserNamespaceUnprivileged(t *testing.T) {
	cfg := &ocirun.LXCConfig{
		VMID: 103, Hostname: "app1", Cores: 1,
		RootfsRef:    "local:vztmpl/redis_latest.tar",
		Unprivileged: true,
	}
	args := buildCreateArgs(cfg)
	require.NotContains(t, args, "--ostype")
	idx := -1
	for i, a := range args {
		if a == "--unprivileged" {
			idx = i
		}
	}
	require.NotEqual(t, -1, idx)
	require.Equal(t, "1", args[idx+1])
}

func TestTemplateKind(t *testing.T) {
	require.Equal(t, "zstd", templateKind("ubuntu-22.04.tar.zst"))
	require.Equal(t, "gzip", templateKind("ubuntu-22.04.tar.gz"))
	require.Equal(t, "gzip", templateKind("ubuntu-22.04.tgz"))
	require.Equal(t, "none", templateKind("rootfs.tar"))
	require.Equal(t, "unknown", templateKind("/var/lib/lxc/rootfs"))
}

func TestFirstArg(t *testing.T) {
	require.Equal(t, "create", firstArg([]string{"create", "101"}))
	require.Equal(t, "", firstArg(nil))
}

func TestRunExit127MapsToNotInstalled(t *testing.T) {
	b := &Backend{Log: ocirun.NewConsoleLogger(false), ToolPath: "sh"}
	_, err := b.run(context.Background(), "-c", "exit 127")
	require.Error(t, err)
	ociErr, ok := err.(*ocirun.Error)
	require.True(t, ok)
	require.Equal(t, ocirun.KindNotInstalled, ociErr.Kind)
}

func TestRunNonZeroExitMapsToCliFailed(t *testing.T) {
	b := &Backend{Log: ocirun.NewConsoleLogger(false), ToolPath: "false"}
	_, err := b.run(context.Background(), "status", strconv.Itoa(1))
	require.Error(t, err)
	ociErr, ok := err.(*ocirun.Error)
	require.True(t, ok)
	require.Equal(t, ocirun.KindCliFailed, ociErr.Kind)
}

func TestBackendTag(t *testing.T) {
	b := NewBackend("pct", t.TempDir(), ocirun.NewConsoleLogger(false))
	require.Equal(t, ocirun.BackendLXC, b.Tag())
}
