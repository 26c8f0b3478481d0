package lxc

import (
	"bufio"
	"bytes"
	"os"
	"path/filepath"
	"testing"

	specs "github.com/opencontainers/runtime-spec/specs-go"
	"github.com/stretchr/testify/require"
)

func TestWriteSeccompSyscallNoArgs(t *testing.T) {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	err := writeSeccompSyscall(w, specs.LinuxSyscall{Names: []string{"read", "write"}, Action: specs.ActAllow})
	require.NoError(t, err)
	require.NoError(t, w.Flush())
	require.Equal(t, "read allow\nwrite allow\n", buf.String())
}

func TestWriteSeccompSyscallWithArgs(t *testing.T) {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	sc := specs.LinuxSyscall{
		Names:  []string{"mount"},
		Action: specs.ActErrno,
		Args: []specs.LinuxSeccompArg{
			{Index: 0, Value: 1, Op: specs.OpEqualTo, ValueTwo: 0},
		},
	}
	require.NoError(t, writeSeccompSyscall(w, sc))
	require.NoError(t, w.Flush())
	require.Equal(t, "mount errno [0,1,SCMP_CMP_EQ,0]\n", buf.String())
}

func TestWriteSeccompSyscallRejectsUnknownAction(t *testing.T) {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	err := writeSeccompSyscall(w, specs.LinuxSyscall{Names: []string{"x"}, Action: specs.LinuxSeccompAction("SCMP_ACT_NOTIFY")})
	require.Error(t, err)
}

func TestDefaultSeccompAction(t *testing.T) {
	action, err := defaultSeccompAction(&specs.LinuxSeccomp{DefaultAction: specs.ActErrno})
	require.NoError(t, err)
	require.Equal(t, "errno 0", action)

	_, err = defaultSeccompAction(&specs.LinuxSeccomp{DefaultAction: specs.LinuxSeccompAction("SCMP_ACT_NOTIFY")})
	require.Error(t, err)
}

func TestNullTerminatedString(t *testing.T) {
	buf := make([]byte, 8)
	copy(buf, "x86_64")
	require.Equal(t, "x86_64", nullTerminatedString(buf))
	require.Equal(t, "abc", nullTerminatedString([]byte("abc")))
}

// TestSeccompArchTrimsLiteralPrefixOnly guards the fix over a naive
// strings.TrimLeft cutset trim: TrimPrefix must only remove the exact
// "SCMP_ARCH_" prefix, not any run of its individual characters.
func TestSeccompArchTrimsLiteralPrefixOnly(t *testing.T) {
	archs, err := seccompArchs(&specs.LinuxSeccomp{
		Architectures: []specs.Arch{specs.Arch("SCMP_ARCH_AARCH64")},
	})
	require.NoError(t, err)
	require.Len(t, archs, 1)
	// A cutset trim of "SCMP_ARCH_" would also eat leading characters of
	// "AARCH64" that happen to appear in the cutset (A, R, C, H); the fixed
	// literal-prefix trim must not.
	require.Equal(t, "aarch64", archs[0])
}

func TestWriteSeccompProfileProducesParseableHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seccomp.conf")
	seccomp := &specs.LinuxSeccomp{
		DefaultAction: specs.ActErrno,
		Architectures: []specs.Arch{specs.Arch("SCMP_ARCH_X86_64")},
		Syscalls: []specs.LinuxSyscall{
			{Names: []string{"clone"}, Action: specs.ActAllow},
		},
	}
	require.NoError(t, writeSeccompProfile(path, seccomp))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(data)
	require.Contains(t, content, "2\n")
	require.Contains(t, content, "allowlist errno 0\n")
	require.Contains(t, content, "clone allow\n")
}
