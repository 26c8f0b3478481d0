package lxc

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	specs "github.com/opencontainers/runtime-spec/specs-go"
	"golang.org/x/sys/unix"

	ocirun "github.com/nexroute/ocirun"
)

var seccompAction = map[specs.LinuxSeccompAction]string{
	specs.ActKill:  "kill",
	specs.ActTrap:  "trap",
	specs.ActErrno: "errno",
	specs.ActAllow: "allow",
}

func writeSeccompSyscall(w *bufio.Writer, sc specs.LinuxSyscall) error {
	action, ok := seccompAction[sc.Action]
	if !ok {
		return fmt.Errorf("unsupported seccomp action: %s", sc.Action)
	}
	for _, name := range sc.Names {
		if len(sc.Args) == 0 {
			fmt.Fprintf(w, "%s %s\n", name, action)
			continue
		}
		// One argument comparison per line: liblxc's seccomp rule parser
		// rejects multiple comparisons against the same argument index in
		// a single rule.
		for _, arg := range sc.Args {
			fmt.Fprintf(w, "%s %s [%d,%d,%s,%d]\n", name, action, arg.Index, arg.Value, arg.Op, arg.ValueTwo)
		}
	}
	return nil
}

func defaultSeccompAction(seccomp *specs.LinuxSeccomp) (string, error) {
	switch seccomp.DefaultAction {
	case specs.ActKill:
		return "kill", nil
	case specs.ActTrap:
		return "trap", nil
	case specs.ActErrno:
		return "errno 0", nil
	case specs.ActAllow:
		return "allow", nil
	default:
		return "kill", fmt.Errorf("unsupported seccomp default action %q", seccomp.DefaultAction)
	}
}

func seccompArchs(seccomp *specs.LinuxSeccomp) ([]string, error) {
	var uts unix.Utsname
	if err := unix.Uname(&uts); err != nil {
		return nil, err
	}
	nativeArch := nullTerminatedString(uts.Machine[:])

	archs := make([]string, 0, len(seccomp.Architectures))
	for _, a := range seccomp.Architectures {
		s := strings.ToLower(strings.TrimPrefix(string(a), "SCMP_ARCH_"))
		if s == strings.ToLower(nativeArch) {
			// liblxc's seccomp code adds compat-architecture syscalls on
			// its own once the native arch is listed.
			return []string{nativeArch}, nil
		}
		archs = append(archs, s)
	}
	return archs, nil
}

func nullTerminatedString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// writeSeccompProfile renders an OCI seccomp spec into the liblxc seccomp
// profile text format (version 2, an allowlist/denylist per architecture
// section) at profilePath.
func writeSeccompProfile(profilePath string, seccomp *specs.LinuxSeccomp) error {
	profile, err := os.OpenFile(profilePath, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o440)
	if err != nil {
		return err
	}
	defer profile.Close()

	w := bufio.NewWriter(profile)
	defer w.Flush()

	w.WriteString("2\n")
	action, err := defaultSeccompAction(seccomp)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "allowlist %s\n", action)

	archs, err := seccompArchs(seccomp)
	if err != nil {
		return fmt.Errorf("failed to detect platform architecture: %w", err)
	}
	for _, arch := range archs {
		fmt.Fprintf(w, "[%s]\n", arch)
		for _, sc := range seccomp.Syscalls {
			if err := writeSeccompSyscall(w, sc); err != nil {
				return err
			}
		}
	}
	return nil
}

// applySeccomp writes the bundle's seccomp profile (if any) into the
// container's runtime directory and applies it via a raw lxc config
// passthrough, the same mechanism Proxmox exposes for config keys it does
// not have its own pct flag for.
func (b *Backend) applySeccomp(ctx context.Context, id string, bundle *ocirun.Bundle) error {
	if bundle.Seccomp == nil || len(bundle.Seccomp.Syscalls) == 0 {
		return nil
	}
	vmid, err := containerVMID(id)
	if err != nil {
		return err
	}
	profilePath := fmt.Sprintf("%s/%d/seccomp.conf", b.StateRoot, vmid)
	if err := writeSeccompProfile(profilePath, bundle.Seccomp); err != nil {
		return fmt.Errorf("lxc: failed to write seccomp profile: %w", err)
	}
	_, err = b.run(ctx, "set", fmt.Sprintf("%d", vmid), "--lxc.seccomp.profile", profilePath)
	return err
}
