// Package ocirun implements the OCI bundle parsing, backend translation,
// and dispatch core of a multi-backend container runtime: a local OCI
// runtime library backend, a Proxmox LXC host-tool backend, and a Proxmox
// VM remote-HTTPS backend, behind one router and one on-disk state store.
//
// The command-line parser, configuration-file loading, logging/metrics
// backends, signal handling, plugin discovery, and image unpack are
// external collaborators; this package consumes their outputs (a parsed
// Config, a prepared rootfs directory) but does not implement them.
package ocirun

import (
	"context"
	"fmt"

	"github.com/nexroute/ocirun/internal/metrics"
)

// OCIVersion is the runtime-spec version this core reports in `state`
// responses.
const OCIVersion = "1.1.0"

// Runtime is the top-level facade: Router + StateStore + metrics sink.
// It is the single entry point the CLI layer (cmd/ocirun) calls into.
type Runtime struct {
	Router  *Router
	Store   *StateStore
	Log     Logger
	Metrics metrics.Recorder
}

// NewRuntime wires a Runtime from already-constructed collaborators. The
// CLI layer is responsible for constructing the backends (which need
// tool paths, remote endpoints, etc.) and passing them in here.
func NewRuntime(store *StateStore, router *Router, log Logger, rec metrics.Recorder) *Runtime {
	if rec == nil {
		rec = metrics.NoOp{}
	}
	return &Runtime{Router: router, Store: store, Log: log, Metrics: rec}
}

// Create parses the bundle, selects a backend, translates, and persists a
// new Record before invoking the backend. A failed create removes the
// state record and any scratch bundle.
func (rt *Runtime) Create(ctx context.Context, id, bundlePath, runtimeFlag, consoleSocket string) (*Record, error) {
	if err := ValidateContainerID(id); err != nil {
		return nil, err
	}

	b, err := ParseBundle(bundlePath)
	if err != nil {
		return nil, err
	}

	tag, err := rt.Router.SelectForCreate(runtimeFlag, id)
	if err != nil {
		return nil, err
	}
	backend, err := rt.Router.Backend(tag)
	if err != nil {
		return nil, err
	}

	unlock, err := rt.Store.Lock(id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	record := NewRecord(id, bundlePath, tag, b.Annotations)
	if err := rt.Store.Create(record); err != nil {
		return nil, err
	}
	rt.Metrics.Transition(id, "", string(StatusCreating))

	pid, err := backend.Create(ctx, id, b, consoleSocket)
	if err != nil {
		// roll back: remove the record and any scratch bundle
		_ = rt.Store.Delete(id, true)
		return nil, err
	}

	record.Pid = pid
	if err := rt.Store.Update(record, StatusCreated); err != nil {
		return nil, err
	}
	rt.Metrics.Transition(id, string(StatusCreating), string(StatusCreated))
	return record, nil
}

// Start transitions a created container to running.
func (rt *Runtime) Start(ctx context.Context, id string) error {
	return rt.mutate(ctx, id, StatusRunning, func(backend Backend, r *Record) error {
		if r.Status == StatusRunning {
			return nil // idempotent no-op
		}
		if r.Status != StatusCreated {
			return preconditionErr(fmt.Sprintf("cannot start container %q in status %q", id, r.Status))
		}
		return backend.Start(ctx, id)
	})
}

// Stop transitions a running/paused container to stopped. Stop on an
// already-stopped container is a no-op that returns success.
func (rt *Runtime) Stop(ctx context.Context, id string, force bool) error {
	return rt.mutate(ctx, id, StatusStopped, func(backend Backend, r *Record) error {
		if r.Status == StatusStopped {
			return nil
		}
		if err := rt.Store.Update(r, StatusStopping); err != nil {
			return err
		}
		return backend.Stop(ctx, id, force)
	})
}

// Kill sends a validated symbolic signal to the container's process.
func (rt *Runtime) Kill(ctx context.Context, id, signal string) error {
	sig, err := ValidateSignalName(signal)
	if err != nil {
		return err
	}
	unlock, err := rt.Store.Lock(id)
	if err != nil {
		return err
	}
	defer unlock()

	r, err := rt.Store.Load(id)
	if err != nil {
		return err
	}
	backend, err := rt.Router.Backend(r.BackendTag)
	if err != nil {
		return err
	}
	return backend.Kill(ctx, id, sig)
}

// Delete removes a container's state; a non-stopped record requires force.
// Delete --force on an already-deleted id is a no-op that returns success.
func (rt *Runtime) Delete(ctx context.Context, id string, force bool) error {
	unlock, err := rt.Store.Lock(id)
	if err != nil {
		return err
	}
	defer unlock()

	r, err := rt.Store.Load(id)
	if err != nil {
		if ociErr, ok := err.(*Error); ok && ociErr.Kind == KindNotFound {
			return nil
		}
		return err
	}
	backend, err := rt.Router.Backend(r.BackendTag)
	if err != nil {
		return err
	}
	if r.Status != StatusStopped {
		if !force {
			return preconditionErr(fmt.Sprintf("container %q is not stopped (status %q); use --force", id, r.Status))
		}
	}
	if err := backend.Delete(ctx, id, force); err != nil {
		return err
	}
	if err := rt.Store.Delete(id, true); err != nil {
		return err
	}
	rt.Metrics.Transition(id, string(r.Status), string(StatusDeleted))
	return nil
}

// State returns the current state without mutating persisted state.
func (rt *Runtime) State(ctx context.Context, id string) (*Record, error) {
	return rt.Store.Load(id)
}

// List returns the record of every live container.
func (rt *Runtime) List(ctx context.Context) ([]*Record, error) {
	return rt.Store.List()
}

// mutate is the common lock/load/dispatch/persist skeleton shared by
// Start and Stop.
func (rt *Runtime) mutate(ctx context.Context, id string, target Status, fn func(Backend, *Record) error) error {
	unlock, err := rt.Store.Lock(id)
	if err != nil {
		return err
	}
	defer unlock()

	r, err := rt.Store.Load(id)
	if err != nil {
		return err
	}
	backend, err := rt.Router.Backend(r.BackendTag)
	if err != nil {
		return err
	}

	before := r.Status
	if err := fn(backend, r); err != nil {
		return err
	}
	if r.Status == target {
		return nil // already at target: fn took its idempotent no-op path
	}
	if err := rt.Store.Update(r, target); err != nil {
		return err
	}
	rt.Metrics.Transition(id, string(before), string(target))
	return nil
}
