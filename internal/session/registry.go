// Package session owns the broker's live sessions: one (engine handle,
// decorated capability, log buffer) tuple per caller-chosen id.
//
// A session exists only between initializeSchema and teardown. The
// registry is an explicit object threaded into every handler - there is no
// ambient package state - and it applies no cross-handler locking beyond
// protecting its own map: ordering between operations on one session is
// the caller's responsibility, per the protocol's single-client design.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/roach88/driverbench/internal/driver"
	"github.com/roach88/driverbench/internal/engine"
	"github.com/roach88/driverbench/internal/errbridge"
	"github.com/roach88/driverbench/internal/recording"
)

// ErrSessionNotFound is returned for any operation on an id with no live
// session. Operating on a torn-down id is a contract violation the caller
// sees as a handler failure.
var ErrSessionNotFound = errors.New("session not found")

// Mode selects how capabilities are wired at initialization.
type Mode int

const (
	// ModeLive connects straight to the backend.
	ModeLive Mode = iota
	// ModeRecord connects to the backend through the workload recorder.
	ModeRecord
	// ModeReplay never touches a backend; statements resolve from a
	// loaded recording.
	ModeReplay
)

// Session is one live tuple.
type Session struct {
	ID         int
	Engine     engine.QueryEngine
	Capability driver.Queryable
	Logs       *LogBuffer

	// manager is nil in replay mode: there are no backend resources to
	// release.
	manager driver.Manager
}

// Registry owns the session map and its lifecycle.
type Registry struct {
	mu       sync.Mutex
	sessions map[int]*Session

	bridge *errbridge.Registry
	mode   Mode

	// recStore backs ModeRecord and ModeReplay; nil in ModeLive.
	recStore *recording.Store
}

// NewRegistry creates a live-mode registry using bridge for error capture.
func NewRegistry(bridge *errbridge.Registry) *Registry {
	return &Registry{
		sessions: make(map[int]*Session),
		bridge:   bridge,
		mode:     ModeLive,
	}
}

// NewRecordingRegistry creates a registry whose sessions record their
// workload into store.
func NewRecordingRegistry(bridge *errbridge.Registry, store *recording.Store) *Registry {
	return &Registry{
		sessions: make(map[int]*Session),
		bridge:   bridge,
		mode:     ModeRecord,
		recStore: store,
	}
}

// NewReplayRegistry creates a registry whose sessions replay from store and
// never reach a backend.
func NewReplayRegistry(bridge *errbridge.Registry, store *recording.Store) *Registry {
	return &Registry{
		sessions: make(map[int]*Session),
		bridge:   bridge,
		mode:     ModeReplay,
		recStore: store,
	}
}

// InitResult is what initializeSchema reports back to the caller.
type InitResult struct {
	// MaxBindValues is the adapter's bound-parameter limit, or nil when
	// it reports none. Callers size batched statements from it.
	MaxBindValues *int `json:"maxBindValues"`
}

// InitializeSchema creates the session tuple for id.
//
// The adapter manager is selected purely by the url's provider tag. When a
// migration script is supplied, the manager must expose the privileged
// reset path; it runs before the first connection is handed out. The raw
// capability is wrapped once by the error bridge (and, in record/replay
// modes, by the harness first), then the engine is constructed and
// connected against it.
func (r *Registry) InitializeSchema(ctx context.Context, id int, url, schema string, migrationScript *string) (*InitResult, error) {
	r.mu.Lock()
	if _, exists := r.sessions[id]; exists {
		r.mu.Unlock()
		return nil, fmt.Errorf("session %d already initialized", id)
	}
	r.mu.Unlock()

	logs := NewLogBuffer()

	var (
		capability driver.Queryable
		manager    driver.Manager
		info       *driver.ConnectionInfo
	)

	if r.mode == ModeReplay {
		capability = recording.NewReplayer(r.recStore)
	} else {
		mgr, err := newManager(url)
		if err != nil {
			return nil, err
		}
		if migrationScript != nil {
			resetter, ok := mgr.(driver.SchemaResetter)
			if !ok {
				_ = mgr.Release(ctx)
				return nil, fmt.Errorf("provider %s does not support migration scripts", mgr.Provider())
			}
			if err := resetter.ResetSchema(ctx, *migrationScript); err != nil {
				_ = mgr.Release(ctx)
				return nil, err
			}
		}
		raw, err := mgr.Connect(ctx)
		if err != nil {
			_ = mgr.Release(ctx)
			return nil, err
		}
		info, err = raw.ConnectionInfo(ctx)
		if err != nil {
			_ = mgr.Release(ctx)
			return nil, err
		}
		capability = raw
		if r.mode == ModeRecord {
			capability = recording.NewRecorder(capability, r.recStore)
		}
		manager = mgr
	}

	wrapped := errbridge.Wrap(capability, r.bridge)
	eng := engine.New(wrapped, schema, logs)
	if err := eng.Connect(ctx); err != nil {
		if manager != nil {
			_ = manager.Release(ctx)
		}
		return nil, err
	}

	sess := &Session{
		ID:         id,
		Engine:     eng,
		Capability: wrapped,
		Logs:       logs,
		manager:    manager,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[id]; exists {
		// Lost a concurrent initialization race for the same id.
		_ = eng.Disconnect(ctx)
		if manager != nil {
			_ = manager.Release(ctx)
		}
		return nil, fmt.Errorf("session %d already initialized", id)
	}
	r.sessions[id] = sess

	res := &InitResult{}
	if info != nil {
		res.MaxBindValues = info.MaxBindValues
	}
	return res, nil
}

// Get returns the live session for id.
func (r *Registry) Get(id int) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrSessionNotFound, id)
	}
	return sess, nil
}

// Teardown disconnects the engine, releases the adapter's resources and
// deletes the entry. Not safe to call twice: the second call fails with
// ErrSessionNotFound. In-flight handlers on the same session are not
// drained; racing them is the caller's contract to avoid.
func (r *Registry) Teardown(ctx context.Context, id int) error {
	r.mu.Lock()
	sess, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %d", ErrSessionNotFound, id)
	}

	var errs []error
	if err := sess.Engine.Disconnect(ctx); err != nil {
		errs = append(errs, fmt.Errorf("disconnecting engine: %w", err))
	}
	if sess.manager != nil {
		if err := sess.manager.Release(ctx); err != nil {
			errs = append(errs, fmt.Errorf("releasing adapter: %w", err))
		}
	}
	return errors.Join(errs...)
}

// GetLogs returns session id's log lines in append order. Reading is
// idempotent; the buffer is never cleared.
func (r *Registry) GetLogs(id int) ([]string, error) {
	sess, err := r.Get(id)
	if err != nil {
		return nil, err
	}
	return sess.Logs.Snapshot(), nil
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
