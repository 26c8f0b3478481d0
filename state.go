package ocirun

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/nexroute/ocirun/internal/docfile"
)

// StateStore is the on-disk per-container state directory:
// <state_root>/<id>/record.json, an advisory lock file, and a pointer to
// the bundle path.
type StateStore struct {
	Root string
}

// NewStateStore returns a StateStore rooted at root, creating it if needed.
func NewStateStore(root string) (*StateStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, stateErr("failed to create state root", err)
	}
	return &StateStore{Root: root}, nil
}

func (s *StateStore) dir(id string) string {
	return filepath.Join(s.Root, id)
}

func (s *StateStore) recordPath(id string) string {
	return filepath.Join(s.dir(id), "record.json")
}

func (s *StateStore) lockPath(id string) string {
	return filepath.Join(s.dir(id), "lock")
}

// Lock acquires the exclusive per-id file lock for the duration of any
// state-mutating operation: operations on a given container id are
// linearized by the per-id file lock. The returned unlock func must be
// deferred by the caller.
func (s *StateStore) Lock(id string) (unlock func() error, err error) {
	if err := ValidateContainerID(id); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(s.dir(id), 0o755); err != nil {
		return nil, stateErr("failed to create container state dir", err)
	}
	fl := flock.New(s.lockPath(id))
	if err := fl.Lock(); err != nil {
		return nil, stateErr("failed to acquire state lock for "+id, err)
	}
	return fl.Unlock, nil
}

// Exists reports whether a record exists for id.
func (s *StateStore) Exists(id string) bool {
	_, err := os.Stat(s.recordPath(id))
	return err == nil
}

// Create atomically persists a new Record. It fails if a non-terminal
// record already exists for the id: at most one non-terminal record is
// ever live per id.
func (s *StateStore) Create(r *Record) error {
	if existing, err := s.Load(r.ID); err == nil && existing.Status != StatusDeleted {
		return preconditionErr(fmt.Sprintf("container %q already exists with status %q", r.ID, existing.Status))
	}
	return s.save(r)
}

// Load reads the persisted Record for id.
func (s *StateStore) Load(id string) (*Record, error) {
	r := new(Record)
	if err := docfile.DecodeFile(s.recordPath(id), r); err != nil {
		if os.IsNotExist(err) {
			return nil, &Error{Kind: KindNotFound, Op: "state_load", Message: "no such container " + id}
		}
		return nil, stateErr("failed to load record for "+id, err)
	}
	return r, nil
}

// Update validates the requested transition and persists the record.
// Idempotent no-op transitions (from == to) are always allowed, matching
// the stop-on-stopped and delete-on-deleted call sites.
func (s *StateStore) Update(r *Record, newStatus Status) error {
	if !CanTransition(r.Status, newStatus) {
		return preconditionErr(fmt.Sprintf("illegal transition %s -> %s for %s", r.Status, newStatus, r.ID))
	}
	r.Status = newStatus
	if !pidAllowed(r.Status, r.Pid) {
		r.Pid = 0
	}
	return s.save(r)
}

func (s *StateStore) save(r *Record) error {
	return docfile.EncodeFile(s.recordPath(r.ID), r, 0o640)
}

// Delete requires an explicit force flag if the record's status is not
// stopped. On success it removes the container's entire state directory,
// leaving no files attributable to that id.
func (s *StateStore) Delete(id string, force bool) error {
	r, err := s.Load(id)
	if err != nil {
		if ociErr, ok := err.(*Error); ok && ociErr.Kind == KindNotFound {
			return nil // delete on an already-deleted id is a no-op
		}
		return err
	}
	if r.Status != StatusStopped && r.Status != StatusDeleted {
		if !force {
			return preconditionErr(fmt.Sprintf("container %q is not stopped (status %q); use force", id, r.Status))
		}
	}
	if err := os.RemoveAll(s.dir(id)); err != nil {
		return stateErr("failed to remove state dir for "+id, err)
	}
	return nil
}

// List returns every record currently in the state root (Delete removes a
// record's directory, so no deleted record remains to be listed).
// A container id accepted by create is returned exactly once until delete
// completes.
func (s *StateStore) List() ([]*Record, error) {
	entries, err := os.ReadDir(s.Root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, stateErr("failed to list state root", err)
	}
	var out []*Record
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		r, err := s.Load(e.Name())
		if err != nil {
			continue // partially-created/torn entries are skipped, not fatal
		}
		out = append(out, r)
	}
	return out, nil
}
