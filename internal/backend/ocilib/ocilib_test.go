package ocilib

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	ocirun "github.com/nexroute/ocirun"
)

func TestLimitedWriterCapsAtMax(t *testing.T) {
	var buf bytes.Buffer
	w := &limitedWriter{w: &buf, max: 4}
	n, err := w.Write([]byte("hello world"))
	require.NoError(t, err)
	require.Equal(t, 11, n) // reports the full length written by the caller
	require.Equal(t, "hell", buf.String())
}

func TestLimitedWriterNoopOnceFull(t *testing.T) {
	var buf bytes.Buffer
	w := &limitedWriter{w: &buf, max: 2}
	_, err := w.Write([]byte("ab"))
	require.NoError(t, err)
	n, err := w.Write([]byte("more"))
	require.NoError(t, err)
	require.Equal(t, 4, n)
	require.Equal(t, "ab", buf.String())
}

func TestRunCLIExit127MapsToNotInstalled(t *testing.T) {
	b := &Backend{Log: ocirun.NewConsoleLogger(false), CLIPath: "sh", maxCapture: 1024}
	_, err := b.runCLI(context.Background(), "-c", "exit 127")
	require.Error(t, err)
	ociErr, ok := err.(*ocirun.Error)
	require.True(t, ok)
	require.Equal(t, ocirun.KindNotInstalled, ociErr.Kind)
}

func TestRunCLIMissingBinaryMapsToCliFailed(t *testing.T) {
	b := &Backend{Log: ocirun.NewConsoleLogger(false), CLIPath: "ocirun-definitely-not-a-real-binary", maxCapture: 1024}
	_, err := b.runCLI(context.Background(), "state", "c1")
	require.Error(t, err)
	ociErr, ok := err.(*ocirun.Error)
	require.True(t, ok)
	require.Equal(t, ocirun.KindCliFailed, ociErr.Kind)
}

func TestRunCLINonZeroExitMapsToCliFailed(t *testing.T) {
	b := &Backend{Log: ocirun.NewConsoleLogger(false), CLIPath: "false", maxCapture: 1024}
	_, err := b.runCLI(context.Background(), "state", "c1")
	require.Error(t, err)
	ociErr, ok := err.(*ocirun.Error)
	require.True(t, ok)
	require.Equal(t, ocirun.KindCliFailed, ociErr.Kind)
}

func TestAsExitError(t *testing.T) {
	wrapped := &ocirun.Error{Kind: ocirun.KindCliFailed, ExitCode: 3}
	code, ok := asExitError(wrapped)
	require.True(t, ok)
	require.Equal(t, 3, code)

	_, ok = asExitError(&ocirun.Error{Kind: ocirun.KindValidation})
	require.False(t, ok)
}

func TestBackendTag(t *testing.T) {
	b := NewBackend("/var/lib/ocirun", "crun", ocirun.NewConsoleLogger(false))
	require.Equal(t, ocirun.BackendOCILib, b.Tag())
}
