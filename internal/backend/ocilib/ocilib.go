// Package ocilib implements the OCI-runtime backend: it drives a local
// OCI runtime library (a libcrun/runc-equivalent) through a stable binary
// interface, falling back to the reference CLI when the library link is
// unavailable at build or load time. The cgo binding style mirrors a cgo
// wrapper around liblxc: an opaque library handle owned on the Go side,
// Go-owned strings pinned for the call's duration, and every non-zero
// return mapped to a tagged Go error before the C error handle is
// released.
package ocilib

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	specs "github.com/opencontainers/runtime-spec/specs-go"

	ocirun "github.com/nexroute/ocirun"
)

// State machine: none -> created -> running -> stopped -> deleted.
// pause/resume are valid only from running/paused.

// Backend adapts a local OCI runtime (library-first, CLI-fallback) to the
// ocirun.Backend capability surface.
type Backend struct {
	Log        ocirun.Logger
	StateRoot  string
	CLIPath    string // e.g. "crun" or "runc", used when the library is unavailable
	libraryOK  bool
	maxCapture int // bytes of stdout/stderr captured from the CLI fallback
}

// NewBackend constructs the OCI-runtime backend. It probes the library
// binding once; if unavailable, every subsequent call transparently uses
// the CLI fallback rather than aborting initialization.
func NewBackend(stateRoot, cliPath string, log ocirun.Logger) *Backend {
	b := &Backend{
		Log:        log,
		StateRoot:  stateRoot,
		CLIPath:    cliPath,
		maxCapture: 1 << 20, // 1 MiB
	}
	b.libraryOK = libraryAvailable()
	if !b.libraryOK {
		log.Warnf("oci-runtime library binding unavailable, falling back to CLI %q", cliPath)
	}
	return b
}

func (b *Backend) Tag() ocirun.BackendTag { return ocirun.BackendOCILib }

func (b *Backend) runtimeDir(id string) string { return filepath.Join(b.StateRoot, id, "oci-lib") }

// Create loads the bundle's emitted config.json through the library (or
// the CLI) and creates the container via container_create (or `create`);
// it does not start it, Start does that.
func (b *Backend) Create(ctx context.Context, id string, bundle *ocirun.Bundle, consoleSocket string) (int64, error) {
	dir := b.runtimeDir(id)
	configPath := filepath.Join(dir, ocirun.BundleConfigFile)
	if err := bundle.EmitOCIConfig(configPath); err != nil {
		return 0, err
	}

	if b.libraryOK {
		pid, err := libCreate(id, dir, configPath)
		if err != nil {
			return 0, mapLibraryError("container_create", err)
		}
		return pid, nil
	}
	return b.cliCreate(ctx, id, dir, configPath, consoleSocket)
}

func (b *Backend) cliCreate(ctx context.Context, id, dir, configPath, consoleSocket string) (int64, error) {
	if consoleSocket != "" {
		// #nosec G204 -- args are validated container ids/paths before reaching here
		cmd := exec.CommandContext(ctx, b.CLIPath, "create", "--bundle", filepath.Dir(configPath), id)
		if err := startWithConsole(ctx, cmd, consoleSocket); err != nil {
			return 0, &ocirun.Error{Kind: ocirun.KindCliFailed, Op: "cli:create", Message: err.Error(), Cause: err}
		}
	} else if _, err := b.runCLI(ctx, "create", "--bundle", filepath.Dir(configPath), id); err != nil {
		return 0, err
	}
	state, err := b.cliState(ctx, id)
	if err != nil {
		return 0, err
	}
	return int64(state.Pid), nil
}

func (b *Backend) Start(ctx context.Context, id string) error {
	if b.libraryOK {
		if err := libStart(id); err != nil {
			return mapLibraryError("container_start", err)
		}
		return nil
	}
	_, err := b.runCLI(ctx, "start", id)
	return err
}

// Kill accepts POSIX signal names case-insensitively (already normalized
// by ocirun.ValidateSignalName before this call).
func (b *Backend) Kill(ctx context.Context, id, signal string) error {
	if b.libraryOK {
		if err := libKill(id, signal); err != nil {
			return mapLibraryError("container_kill", err)
		}
		return nil
	}
	_, err := b.runCLI(ctx, "kill", id, signal)
	return err
}

func (b *Backend) Stop(ctx context.Context, id string, force bool) error {
	if err := b.Kill(ctx, id, "TERM"); err != nil && !force {
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
	if force {
		return b.Kill(ctx, id, "KILL")
	}
	return nil
}

func (b *Backend) Delete(ctx context.Context, id string, force bool) error {
	if b.libraryOK {
		if err := libDelete(id, force); err != nil {
			return mapLibraryError("container_delete", err)
		}
		return nil
	}
	args := []string{"delete", id}
	if force {
		args = append(args, "--force")
	}
	_, err := b.runCLI(ctx, args...)
	return err
}

// libState/cliState return a specs.State; State() maps its
// specs.ContainerState to the superset ocirun.Status.
func (b *Backend) State(ctx context.Context, id string) (ocirun.Status, int64, error) {
	if b.libraryOK {
		st, err := libState(id)
		if err != nil {
			return "", 0, mapLibraryError("container_state", err)
		}
		return mapSpecState(st.Status), int64(st.Pid), nil
	}
	st, err := b.cliState(ctx, id)
	if err != nil {
		return "", 0, err
	}
	return mapSpecState(st.Status), int64(st.Pid), nil
}

func (b *Backend) List(ctx context.Context) ([]string, error) {
	// The library/CLI have no bulk listing primitive of their own; the
	// state store (not this backend) is authoritative for listing across
	// all backends.
	return nil, fmt.Errorf("ocilib: List is served by the state store, not the backend")
}

func (b *Backend) Info(ctx context.Context, id string) (map[string]string, error) {
	status, pid, err := b.State(ctx, id)
	if err != nil {
		return nil, err
	}
	return map[string]string{"status": string(status), "pid": fmt.Sprintf("%d", pid)}, nil
}

func (b *Backend) Exec(ctx context.Context, id string, args []string) (int, error) {
	session := uuid.NewString()
	log := b.Log.With("exec_session", session)
	log.Debugf("exec %v on %q", args, id)
	full := append([]string{"exec", id}, args...)
	_, err := b.runCLI(ctx, full...)
	if err != nil {
		if ee, ok := asExitError(err); ok {
			return ee, nil
		}
		return -1, err
	}
	return 0, nil
}

// runCLI spawns the reference OCI CLI with the same argument conventions
// as the library path, capturing stdout/stderr up to maxCapture bytes and
// mapping exit codes
func (b *Backend) runCLI(ctx context.Context, args...string) ([]byte, error) {
	// #nosec G204 -- args are validated container ids/signals/paths before reaching here
	cmd := exec.CommandContext(ctx, b.CLIPath, args...)
	var out, errBuf bytes.Buffer
	cmd.Stdout = &limitedWriter{w: &out, max: b.maxCapture}
	cmd.Stderr = &limitedWriter{w: &errBuf, max: b.maxCapture}

	err := cmd.Run()
	if err == nil {
		return out.Bytes(), nil
	}

	exitCode := -1
	if ee, ok := err.(*exec.ExitError); ok {
		exitCode = ee.ExitCode()
	}
	if exitCode == 127 {
		return nil, &ocirun.Error{Kind: ocirun.KindNotInstalled, Op: "cli:" + args[0], Message: b.CLIPath + " not found"}
	}
	return nil, &ocirun.Error{
		Kind: ocirun.KindCliFailed, Op: "cli:" + args[0],
		Message: fmt.Sprintf("%s %v exited %d", b.CLIPath, args, exitCode), Stderr: errBuf.String(), ExitCode: exitCode,
	}
}

func asExitError(err error) (int, bool) {
	ociErr, ok := err.(*ocirun.Error)
	if !ok || ociErr.Kind != ocirun.KindCliFailed {
		return 0, false
	}
	return ociErr.ExitCode, true
}

func (b *Backend) cliState(ctx context.Context, id string) (*specs.State, error) {
	out, err := b.runCLI(ctx, "state", id)
	if err != nil {
		return nil, err
	}
	return parseCLIState(out)
}

func mapSpecState(s specs.ContainerState) ocirun.Status {
	switch s {
	case specs.StateCreating:
		return ocirun.StatusCreating
	case specs.StateCreated:
		return ocirun.StatusCreated
	case specs.StateRunning:
		return ocirun.StatusRunning
	case specs.StateStopped:
		return ocirun.StatusStopped
	default:
		return ocirun.StatusStopped
	}
}

// limitedWriter caps captured CLI output at max bytes
// ("captures stdout/stderr up to 1 MiB").
type limitedWriter struct {
	w   *bytes.Buffer
	max int
}

func (l *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	remaining := l.max - l.w.Len()
	if remaining <= 0 {
		return n, nil
	}
	if len(p) > remaining {
		p = p[:remaining]
	}
	if _, err := l.w.Write(p); err != nil {
		return 0, err
	}
	return n, nil
}

func mapLibraryError(op string, cause error) error {
	return &ocirun.Error{Kind: ocirun.KindLibraryError, Op: op, Message: cause.Error(), Cause: cause}
}
