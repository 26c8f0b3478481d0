package ocirun

import "time"

// Status is the container lifecycle status, a superset of the OCI runtime
// spec's states that adds paused/stopping/deleted
type Status string

const (
	StatusCreating Status = "creating"
	StatusCreated  Status = "created"
	StatusRunning  Status = "running"
	StatusPaused   Status = "paused"
	StatusStopping Status = "stopping"
	StatusStopped  Status = "stopped"
	StatusDeleted  Status = "deleted"
)

// validTransitions encodes the container lifecycle state machine:
// creating -> created -> running <-> paused -> stopping -> stopped -> deleted
// with the single shortcut creating -> deleted on create-failure cleanup.
var validTransitions = map[Status]map[Status]bool{
	StatusCreating: {StatusCreated: true, StatusDeleted: true},
	StatusCreated:  {StatusRunning: true},
	StatusRunning:  {StatusPaused: true, StatusStopping: true},
	StatusPaused:   {StatusRunning: true, StatusStopping: true},
	StatusStopping: {StatusStopped: true},
	StatusStopped:  {StatusDeleted: true},
	StatusDeleted:  {},
}

// CanTransition reports whether moving from 'from' to 'to' is a legal
// single step in the state machine.
func CanTransition(from, to Status) bool {
	if from == to {
		return true // idempotent no-op transitions are allowed by the caller
	}
	next, ok := validTransitions[from]
	return ok && next[to]
}

// Record is the persisted, per-container state document a StateStore
// reads and writes to disk.
type Record struct {
	ID          string            `json:"id"`
	BundlePath  string            `json:"bundle_path"`
	BackendTag  BackendTag        `json:"backend_tag"`
	Status      Status            `json:"status"`
	Pid         int64             `json:"pid"`
	CreatedAt   int64             `json:"created_at"` // unix ns
	ExitCode    int32             `json:"exit_code"`  // -1 until exit
	Annotations map[string]string `json:"annotations,omitempty"`
}

// NewRecord builds the initial record for a container at create time.
func NewRecord(id, bundlePath string, tag BackendTag, annotations map[string]string) *Record {
	return &Record{
		ID:          id,
		BundlePath:  bundlePath,
		BackendTag:  tag,
		Status:      StatusCreating,
		Pid:         0,
		CreatedAt:   time.Now().UnixNano(),
		ExitCode:    -1,
		Annotations: annotations,
	}
}

// pidAllowed reports whether pid is allowed to be non-zero for status:
// only while running, paused, or stopping.
func pidAllowed(status Status, pid int64) bool {
	if pid == 0 {
		return true
	}
	switch status {
	case StatusRunning, StatusPaused, StatusStopping:
		return true
	default:
		return false
	}
}

// StateResponse is the `state` subcommand's JSON response.
type StateResponse struct {
	OCIVersion  string            `json:"ociVersion"`
	ID          string            `json:"id"`
	Status      Status            `json:"status"`
	Pid         int64             `json:"pid"`
	Bundle      string            `json:"bundle"`
	Annotations map[string]string `json:"annotations,omitempty"`
}

// ToStateResponse projects a Record into the CLI's `state` JSON document.
// Status=deleted is never surfaced here (the record is gone by then); the
// response enum is {creating, created, running, paused, stopped}
// (stopping collapses to stopped for external consumers, since
// "stopping" is an internal-only transient recorded during Stop).
func (r *Record) ToStateResponse(ociVersion string) StateResponse {
	status := r.Status
	if status == StatusStopping {
		status = StatusStopped
	}
	return StateResponse{
		OCIVersion:  ociVersion,
		ID:          r.ID,
		Status:      status,
		Pid:         r.Pid,
		Bundle:      r.BundlePath,
		Annotations: r.Annotations,
	}
}
