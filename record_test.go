package ocirun

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	require.True(t, CanTransition(StatusCreating, StatusCreated))
	require.True(t, CanTransition(StatusRunning, StatusPaused))
	require.True(t, CanTransition(StatusStopped, StatusStopped)) // idempotent no-op
	require.False(t, CanTransition(StatusDeleted, StatusRunning))
	require.False(t, CanTransition(StatusCreated, StatusPaused))
}

func TestNewRecordDefaults(t *testing.T) {
	r := NewRecord("c1", "/bundles/c1", BackendLXC, map[string]string{"a": "b"})
	require.Equal(t, StatusCreating, r.Status)
	require.Equal(t, int32(-1), r.ExitCode)
	require.Equal(t, int64(0), r.Pid)
	require.NotZero(t, r.CreatedAt)
}

func TestPidAllowed(t *testing.T) {
	require.True(t, pidAllowed(StatusCreated, 0))
	require.True(t, pidAllowed(StatusRunning, 123))
	require.False(t, pidAllowed(StatusCreated, 123))
	require.False(t, pidAllowed(StatusStopped, 123))
}

func TestToStateResponseCollapsesStopping(t *testing.T) {
	r := NewRecord("c1", "/bundles/c1", BackendLXC, nil)
	r.Status = StatusStopping
	resp := r.ToStateResponse("1.1.0")
	require.Equal(t, StatusStopped, resp.Status)
	require.Equal(t, "1.1.0", resp.OCIVersion)
}
