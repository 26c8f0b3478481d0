// Package lxc implements the Proxmox LXC backend: it drives the host's
// local `pct` (or bare `lxc-*`) tooling as a subprocess, the same way a
// cgo wrapper drives liblxc, but through argv and parsed stdout instead of
// C calls. Status introspection supplements the tool's own reporting by
// sniffing /proc/<pid>/cmdline for the container-init marker, adapted from
// the liblxc-direct init-state detection idiom: read the init cmdline,
// treat ENOENT/ESRCH as "process already gone" rather than an error.
package lxc

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	ocirun "github.com/nexroute/ocirun"
)

// Backend adapts the Proxmox LXC host tool to the ocirun.Backend surface.
type Backend struct {
	Log       ocirun.Logger
	ToolPath  string // "pct", or "lxc-start"/"lxc-stop"/... when Proxmox's pct is absent
	StateRoot string
	CgroupDir string // e.g. /sys/fs/cgroup/lxc, used for init-pid discovery
}

// NewBackend constructs the LXC backend.
func NewBackend(toolPath, stateRoot string, log ocirun.Logger) *Backend {
	return &Backend{
		Log:       log,
		ToolPath:  toolPath,
		StateRoot: stateRoot,
		CgroupDir: "/sys/fs/cgroup/lxc",
	}
}

func (b *Backend) Tag() ocirun.BackendTag { return ocirun.BackendLXC }

// Create translates the bundle into pct create arguments and provisions
// the container. The backend itself does not start it; Start does that.
func (b *Backend) Create(ctx context.Context, id string, bundle *ocirun.Bundle, consoleSocket string) (int64, error) {
	if consoleSocket != "" {
		b.Log.Debugf("lxc backend has no console-socket handoff, ignoring --console-socket for %q", id)
	}
	cfg, err := ocirun.ToLXCConfig(bundle, id, b.Log)
	if err != nil {
		return 0, err
	}

	args := buildCreateArgs(cfg)
	if kind := templateKind(cfg.RootfsRef); kind != "unknown" && kind != "none" {
		b.Log.Debugf("provisioning %q from %s-compressed template %q as ostype %q", id, kind, cfg.RootfsRef, ostypeFromTemplate(cfg.RootfsRef))
	}

	if _, err := b.run(ctx, args...); err != nil {
		return 0, err
	}
	if err := b.applySeccomp(ctx, id, bundle); err != nil {
		return 0, err
	}
	return 0, nil // no process exists until Start
}

// buildCreateArgs builds the `pct create` argument vector for cfg. A
// `.tar.zst`/`.tar.gz` template names a compressed host-tool-native
// template archive: pct needs an explicit --ostype to unpack it and the
// container it produces is never user-namespace-mapped, so --unprivileged
// 0 is forced regardless of cfg.Unprivileged. A `.tar` template names an
// OCI-image-derived rootfs archive, already unpacked the ordinary way:
// both flags are omitted, and cfg.Unprivileged (derived from the bundle's
// user namespace) decides --unprivileged on its own.
func buildCreateArgs(cfg *ocirun.LXCConfig) []string {
	args := []string{"create", strconv.Itoa(cfg.VMID), cfg.RootfsRef,
		"--hostname", cfg.Hostname,
		"--cores", strconv.Itoa(cfg.Cores),
	}

	forcedUnprivileged := false
	if kind := templateKind(cfg.RootfsRef); kind != "unknown" && kind != "none" {
		args = append(args, "--ostype", ostypeFromTemplate(cfg.RootfsRef), "--unprivileged", "0")
		forcedUnprivileged = true
	}
	if cfg.MemoryBytes > 0 {
		args = append(args, "--memory", strconv.FormatInt(cfg.MemoryBytes/(1024*1024), 10))
	}
	if cfg.Unprivileged && !forcedUnprivileged {
		args = append(args, "--unprivileged", "1")
	}
	for i, m := range cfg.BindMounts {
		args = append(args, fmt.Sprintf("--mp%d", i), fmt.Sprintf("%s,mp=%s", m.Source, m.Destination))
	}
	return args
}

func (b *Backend) Start(ctx context.Context, id string) error {
	vmid, err := containerVMID(id)
	if err != nil {
		return err
	}
	_, err = b.run(ctx, "start", strconv.Itoa(vmid))
	return err
}

// Stop sends SIGTERM via `pct shutdown`, polls for the stopped state, and
// escalates to SIGKILL (`pct stop`) if force is set and the grace period
// elapses without the container stopping.
func (b *Backend) Stop(ctx context.Context, id string, force bool) error {
	vmid, err := containerVMID(id)
	if err != nil {
		return err
	}
	if _, err := b.run(ctx, "shutdown", strconv.Itoa(vmid)); err != nil && !force {
		return err
	}

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		status, _, err := b.State(ctx, id)
		if err == nil && status == ocirun.StatusStopped {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	if !force {
		return nil
	}
	_, err = b.run(ctx, "stop", strconv.Itoa(vmid))
	return err
}

func (b *Backend) Kill(ctx context.Context, id, signal string) error {
	vmid, err := containerVMID(id)
	if err != nil {
		return err
	}
	// pct has no direct per-signal kill; TERM maps to shutdown, everything
	// else (including KILL) maps to the hard stop.
	if strings.EqualFold(signal, "TERM") {
		_, err := b.run(ctx, "shutdown", strconv.Itoa(vmid), "--forceStop", "0")
		return err
	}
	_, err = b.run(ctx, "stop", strconv.Itoa(vmid))
	return err
}

func (b *Backend) Delete(ctx context.Context, id string, force bool) error {
	vmid, err := containerVMID(id)
	if err != nil {
		return err
	}
	args := []string{"destroy", strconv.Itoa(vmid)}
	if force {
		args = append(args, "--force", "1")
	}
	_, err = b.run(ctx, args...)
	return err
}

// State queries `pct status` and supplements it with the init-process
// cmdline sniff below when the container reports running, to distinguish
// "created but init not yet execed" from "fully running" the same way the
// liblxc-direct path distinguishes lxc.RUNNING from the guest's own init
// state.
func (b *Backend) State(ctx context.Context, id string) (ocirun.Status, int64, error) {
	vmid, err := containerVMID(id)
	if err != nil {
		return "", 0, err
	}
	out, err := b.run(ctx, "status", strconv.Itoa(vmid))
	if err != nil {
		return "", 0, err
	}
	statusWord := parseStatusWord(out)

	pid, pidErr := readInitPid(b.CgroupDir, vmid)
	if pidErr != nil || pid == 0 {
		pid = 0
	}

	switch statusWord {
	case "stopped":
		return ocirun.StatusStopped, 0, nil
	case "running":
		if pid != 0 && !initCmdlineIsContainerInit(pid) {
			return ocirun.StatusRunning, int64(pid), nil
		}
		return ocirun.StatusCreated, int64(pid), nil
	default:
		return ocirun.StatusStopped, 0, nil
	}
}

func (b *Backend) List(ctx context.Context) ([]string, error) {
	return nil, fmt.Errorf("lxc: List is served by the state store, not the backend")
}

func (b *Backend) Info(ctx context.Context, id string) (map[string]string, error) {
	status, pid, err := b.State(ctx, id)
	if err != nil {
		return nil, err
	}
	return map[string]string{"status": string(status), "pid": fmt.Sprintf("%d", pid)}, nil
}

func (b *Backend) Exec(ctx context.Context, id string, args []string) (int, error) {
	vmid, err := containerVMID(id)
	if err != nil {
		return -1, err
	}
	session := uuid.NewString()
	b.Log.With("exec_session", session).Debugf("exec %v on vmid %d", args, vmid)
	full := append([]string{"exec", strconv.Itoa(vmid), "--"}, args...)
	_, err = b.run(ctx, full...)
	if err == nil {
		return 0, nil
	}
	if ociErr, ok := err.(*ocirun.Error); ok && ociErr.Kind == ocirun.KindCliFailed {
		return ociErr.ExitCode, nil
	}
	return -1, err
}

func (b *Backend) run(ctx context.Context, args ...string) ([]byte, error) {
	// #nosec G204 -- args are derived from validated container ids/paths upstream
	cmd := exec.CommandContext(ctx, b.ToolPath, args...)
	var out, errBuf bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errBuf
	err := cmd.Run()
	if err == nil {
		return out.Bytes(), nil
	}
	exitCode := -1
	if ee, ok := err.(*exec.ExitError); ok {
		exitCode = ee.ExitCode()
	}
	if exitCode == 127 {
		return nil, &ocirun.Error{Kind: ocirun.KindNotInstalled, Op: "pct:" + firstArg(args), Message: b.ToolPath + " not found"}
	}
	return nil, &ocirun.Error{
		Kind: ocirun.KindCliFailed, Op: "pct:" + firstArg(args),
		Message: fmt.Sprintf("%s %v exited %d", b.ToolPath, args, exitCode), Stderr: errBuf.String(), ExitCode: exitCode,
	}
}

func firstArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}

// parseStatusWord extracts the status token from `pct status` output of
// the form "status: running".
func parseStatusWord(out []byte) string {
	line := strings.TrimSpace(string(out))
	parts := strings.SplitN(line, ":", 2)
	if len(parts) != 2 {
		return strings.TrimSpace(line)
	}
	return strings.TrimSpace(parts[1])
}

// containerVMID recovers the numeric Proxmox vmid from the container id's
// recorded translation. The state store is the source of truth for this
// mapping in the runtime facade; here we accept only ids that already
// encode their vmid (ids produced by ToLXCConfig/deriveVMID are opaque to
// the caller, so the LXC runtime directory name is the integer vmid).
func containerVMID(id string) (int, error) {
	if vmid, err := strconv.Atoi(id); err == nil {
		return vmid, nil
	}
	return 0, &ocirun.Error{Kind: ocirun.KindInternal, Op: "lxc_vmid", Message: "container id " + id + " does not map to a known vmid"}
}

// readInitPid reads the first pid from the container's cgroup.procs file,
// tolerating a missing cgroup (container not yet started, or already gone).
func readInitPid(cgroupDir string, vmid int) (int, error) {
	path := filepath.Join(cgroupDir, strconv.Itoa(vmid), "cgroup.procs")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return 0, nil
	}
	return strconv.Atoi(fields[0])
}

// initCmdlineIsContainerInit reports whether pid's cmdline still shows the
// runtime's own init shim rather than the workload's real process,
// distinguishing "created" from "running" the same way sniffing
// /proc/<pid>/cmdline does for a liblxc monitor's init process. Any read
// error (process raced past, already exited) is treated as "not the init
// shim any more" rather than propagated.
func initCmdlineIsContainerInit(pid int) bool {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/cmdline", pid))
	if err != nil {
		return false
	}
	return strings.Contains(string(data), "/.ocirun/init")
}

// templateKind reports whether ref names a zstd- or gzip-compressed
// template archive ("zstd"/"gzip"), a plain ".tar" ("none"), or anything
// else ("unknown"); buildCreateArgs adds --ostype and --unprivileged 0 for
// the compressed kinds only.
func templateKind(ref string) string {
	switch {
	case strings.HasSuffix(ref, ".tar.zst"):
		return "zstd"
	case strings.HasSuffix(ref, ".tar.gz"), strings.HasSuffix(ref, ".tgz"):
		return "gzip"
	case strings.HasSuffix(ref, ".tar"):
		return "none"
	default:
		return "unknown"
	}
}

// ostypeFromTemplate extracts the pct --ostype token from a host-tool
// template filename, e.g. "local:vztmpl/ubuntu-22.04-standard_22.04-1_amd64.tar.zst"
// names ostype "ubuntu": the distribution token up to the first hyphen in
// the archive's base filename.
func ostypeFromTemplate(ref string) string {
	base := ref
	if idx := strings.LastIndex(base, "/"); idx != -1 {
		base = base[idx+1:]
	}
	if idx := strings.Index(base, "-"); idx != -1 {
		return base[:idx]
	}
	return base
}
