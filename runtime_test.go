package ocirun

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type failingCreateBackend struct {
	tag BackendTag
}

func (f *failingCreateBackend) Tag() BackendTag { return f.tag }
func (f *failingCreateBackend) Create(ctx context.Context, id string, b *Bundle, consoleSocket string) (int64, error) {
	return 0, &Error{Kind: KindCliFailed, Op: "create", Message: "boom"}
}
func (f *failingCreateBackend) Start(ctx context.Context, id string) error            { return nil }
func (f *failingCreateBackend) Stop(ctx context.Context, id string, force bool) error { return nil }
func (f *failingCreateBackend) Kill(ctx context.Context, id, signal string) error     { return nil }
func (f *failingCreateBackend) Delete(ctx context.Context, id string, force bool) error {
	return nil
}
func (f *failingCreateBackend) State(ctx context.Context, id string) (Status, int64, error) {
	return StatusRunning, 1, nil
}
func (f *failingCreateBackend) List(ctx context.Context) ([]string, error) { return nil, nil }
func (f *failingCreateBackend) Info(ctx context.Context, id string) (map[string]string, error) {
	return nil, nil
}
func (f *failingCreateBackend) Exec(ctx context.Context, id string, args []string) (int, error) {
	return 0, nil
}

func newTestRuntime(t *testing.T, backends map[BackendTag]Backend, defaultRuntime string) *Runtime {
	t.Helper()
	store := newTestStore(t)
	router := NewRouter(backends, defaultRuntime)
	return NewRuntime(store, router, NewConsoleLogger(false), nil)
}

func TestRuntimeCreateStartStopDelete(t *testing.T) {
	rt := newTestRuntime(t, map[BackendTag]Backend{
		BackendOCILib: &fakeBackend{tag: BackendOCILib},
	}, "oci-lib")
	dir := writeTestBundle(t, minimalSpec())

	record, err := rt.Create(context.Background(), "c1", dir, "", "")
	require.NoError(t, err)
	require.Equal(t, StatusCreated, record.Status)

	require.NoError(t, rt.Start(context.Background(), "c1"))
	loaded, err := rt.State(context.Background(), "c1")
	require.NoError(t, err)
	require.Equal(t, StatusRunning, loaded.Status)

	require.NoError(t, rt.Stop(context.Background(), "c1", false))
	loaded, err = rt.State(context.Background(), "c1")
	require.NoError(t, err)
	require.Equal(t, StatusStopped, loaded.Status)

	require.NoError(t, rt.Delete(context.Background(), "c1", false))
	_, err = rt.State(context.Background(), "c1")
	require.Error(t, err)
}

func TestRuntimeCreateRollsBackOnBackendFailure(t *testing.T) {
	rt := newTestRuntime(t, map[BackendTag]Backend{
		BackendOCILib: &failingCreateBackend{tag: BackendOCILib},
	}, "oci-lib")
	dir := writeTestBundle(t, minimalSpec())

	_, err := rt.Create(context.Background(), "c2", dir, "", "")
	require.Error(t, err)
	require.False(t, rt.Store.Exists("c2"))
}

func TestRuntimeStartIsIdempotentWhenAlreadyRunning(t *testing.T) {
	rt := newTestRuntime(t, map[BackendTag]Backend{
		BackendOCILib: &fakeBackend{tag: BackendOCILib},
	}, "oci-lib")
	dir := writeTestBundle(t, minimalSpec())

	_, err := rt.Create(context.Background(), "c3", dir, "", "")
	require.NoError(t, err)
	require.NoError(t, rt.Start(context.Background(), "c3"))
	require.NoError(t, rt.Start(context.Background(), "c3")) // already running, no-op
}

func TestRuntimeDeleteRequiresForceWhenNotStopped(t *testing.T) {
	rt := newTestRuntime(t, map[BackendTag]Backend{
		BackendOCILib: &fakeBackend{tag: BackendOCILib},
	}, "oci-lib")
	dir := writeTestBundle(t, minimalSpec())

	_, err := rt.Create(context.Background(), "c4", dir, "", "")
	require.NoError(t, err)
	require.Error(t, rt.Delete(context.Background(), "c4", false))
	require.NoError(t, rt.Delete(context.Background(), "c4", true))
}

func TestRuntimeDeleteOnMissingIsNoOp(t *testing.T) {
	rt := newTestRuntime(t, map[BackendTag]Backend{
		BackendOCILib: &fakeBackend{tag: BackendOCILib},
	}, "oci-lib")
	require.NoError(t, rt.Delete(context.Background(), "never-existed", false))
}

func TestRuntimeListReturnsLiveRecords(t *testing.T) {
	rt := newTestRuntime(t, map[BackendTag]Backend{
		BackendOCILib: &fakeBackend{tag: BackendOCILib},
	}, "oci-lib")
	dir := writeTestBundle(t, minimalSpec())

	_, err := rt.Create(context.Background(), "c5", dir, "", "")
	require.NoError(t, err)

	records, err := rt.List(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
}
