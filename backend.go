package ocirun

import "context"

// Backend is the single capability surface every adapter implements: a
// uniform set of operations with three implementations behind it. The
// router returns a value of this interface and callers are unaware of
// which backend actually ran.
type Backend interface {
	Tag() BackendTag

	Create(ctx context.Context, id string, b *Bundle, consoleSocket string) (pid int64, err error)
	Start(ctx context.Context, id string) error
	Stop(ctx context.Context, id string, force bool) error
	Kill(ctx context.Context, id string, signal string) error
	Delete(ctx context.Context, id string, force bool) error
	State(ctx context.Context, id string) (Status, int64, error)
	List(ctx context.Context) ([]string, error)
	Info(ctx context.Context, id string) (map[string]string, error)
	Exec(ctx context.Context, id string, args []string) (exitCode int, err error)
}
