// Package tracker maintains the registry of files moving through the
// upload pipeline and enforces their lifecycle state machine.
package tracker

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// State is the lifecycle state of a tracked file.
type State int

// Lifecycle states, in rough pipeline order.
const (
	// StatePending means the file is awaiting a retry backoff.
	StatePending State = iota
	// StateSettling means the file was recently written and its quiet
	// period has not yet elapsed.
	StateSettling
	// StateReadyToUpload means the quiet period elapsed with no further writes.
	StateReadyToUpload
	// StateUploading means an upload worker currently owns the file.
	StateUploading
	// StateUploaded means the upload succeeded and the file awaits archival.
	StateUploaded
	// StateFailed means the file permanently failed; it stays on disk.
	StateFailed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateSettling:
		return "settling"
	case StateReadyToUpload:
		return "ready"
	case StateUploading:
		return "uploading"
	case StateUploaded:
		return "uploaded"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// File is the tracked record of one file under observation.
type File struct {
	Path           string
	State          State
	Attempts       int
	LastModifiedAt time.Time
}

// Registry errors.
var (
	ErrNotTracked        = errors.New("path is not tracked")
	ErrInvalidTransition = errors.New("invalid state transition")
)

// Registry holds one entry per distinct path. All mutation happens under a
// single mutex so that a settle timer firing and a concurrent filesystem
// event for the same path cannot race.
type Registry struct {
	mu    sync.Mutex
	files map[string]*File
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{files: make(map[string]*File)}
}

// Observe records a create or modify event for a path. An untracked path is
// inserted in the settling state; a tracked path that is settling or pending
// has its last-modified time refreshed. Returns the file snapshot and true
// if the event restarted (or started) the settle window.
func (r *Registry) Observe(path string, now time.Time) (File, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, ok := r.files[path]
	if !ok {
		f = &File{Path: path, State: StateSettling, LastModifiedAt: now}
		r.files[path] = f
		return *f, true
	}

	switch f.State {
	case StateSettling, StatePending, StateReadyToUpload:
		// A new write invalidates any prior readiness decision.
		f.State = StateSettling
		f.LastModifiedAt = now
		return *f, true
	default:
		// Uploading or later: the bytes are already being consumed;
		// further events for this path are ignored until the entry is
		// removed, at which point a fresh create re-tracks it.
		return *f, false
	}
}

// MarkReady transitions a settling file to ready-to-upload. It refuses the
// transition if the file saw a write after the given settle start, which
// means a stale timer fired.
func (r *Registry) MarkReady(path string, settledAt time.Time) (File, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, ok := r.files[path]
	if !ok {
		return File{}, ErrNotTracked
	}
	if f.State != StateSettling {
		return *f, fmt.Errorf("%w: %s -> ready", ErrInvalidTransition, f.State)
	}
	if f.LastModifiedAt.After(settledAt) {
		return *f, fmt.Errorf("%w: modified during settle window", ErrInvalidTransition)
	}

	f.State = StateReadyToUpload
	return *f, nil
}

// BeginUpload transitions a ready file to uploading and increments its
// attempt counter. The returned snapshot carries the new attempt number.
func (r *Registry) BeginUpload(path string) (File, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, ok := r.files[path]
	if !ok {
		return File{}, ErrNotTracked
	}
	if f.State != StateReadyToUpload {
		return *f, fmt.Errorf("%w: %s -> uploading", ErrInvalidTransition, f.State)
	}

	f.State = StateUploading
	f.Attempts++
	return *f, nil
}

// MarkUploaded transitions an uploading file to uploaded.
func (r *Registry) MarkUploaded(path string) (File, error) {
	return r.transition(path, StateUploading, StateUploaded)
}

// Requeue returns a file that failed transiently to the pending state,
// awaiting its backoff timer.
func (r *Registry) Requeue(path string) (File, error) {
	return r.transition(path, StateUploading, StatePending)
}

// Retry transitions a pending file back to ready once its backoff elapses.
func (r *Registry) Retry(path string) (File, error) {
	return r.transition(path, StatePending, StateReadyToUpload)
}

// MarkFailed transitions a file to the terminal failed state from any
// non-terminal state.
func (r *Registry) MarkFailed(path string) (File, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, ok := r.files[path]
	if !ok {
		return File{}, ErrNotTracked
	}
	if f.State == StateFailed {
		return *f, nil
	}

	f.State = StateFailed
	return *f, nil
}

// Remove drops a path from tracking. Used after archival, after a terminal
// failure is recorded, or when the file disappears mid-settle.
func (r *Registry) Remove(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.files, path)
}

// Get returns a snapshot of the tracked file for path.
func (r *Registry) Get(path string) (File, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, ok := r.files[path]
	if !ok {
		return File{}, false
	}
	return *f, true
}

// Len returns the number of tracked files.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.files)
}

// transition moves a file from one expected state to another.
func (r *Registry) transition(path string, from, to State) (File, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, ok := r.files[path]
	if !ok {
		return File{}, ErrNotTracked
	}
	if f.State != from {
		return *f, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, f.State, to)
	}

	f.State = to
	return *f, nil
}
