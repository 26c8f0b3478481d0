package ocilib

import (
	"context"
	"fmt"
	"net"
	"os/exec"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"
)

// startWithConsole starts cmd attached to a pseudo-terminal and sends the
// pty's master file descriptor over consoleSocket via SCM_RIGHTS, the
// mechanism an external console-proxy process (e.g. conmon) uses to take
// over a container's terminal.
func startWithConsole(ctx context.Context, cmd *exec.Cmd, consoleSocket string) error {
	dialer := net.Dialer{}
	conn, err := dialer.DialContext(ctx, "unix", consoleSocket)
	if err != nil {
		return fmt.Errorf("ocilib: connecting to console socket failed: %w", err)
	}
	defer conn.Close()

	unixConn, ok := conn.(*net.UnixConn)
	if !ok {
		return fmt.Errorf("ocilib: expected a unix connection but got %T", conn)
	}
	if deadline, ok := ctx.Deadline(); ok {
		if err := unixConn.SetDeadline(deadline); err != nil {
			return fmt.Errorf("ocilib: failed to set console socket deadline: %w", err)
		}
	}

	sockFile, err := unixConn.File()
	if err != nil {
		return fmt.Errorf("ocilib: failed to get file from unix connection: %w", err)
	}
	defer sockFile.Close()

	ptmx, err := pty.Start(cmd)
	if err != nil {
		return fmt.Errorf("ocilib: failed to start with pty: %w", err)
	}
	defer ptmx.Close()

	oob := unix.UnixRights(int(ptmx.Fd()))
	if err := unix.Sendmsg(int(sockFile.Fd()), []byte("terminal"), oob, nil, 0); err != nil {
		return fmt.Errorf("ocilib: failed to send console fd: %w", err)
	}
	return nil
}
