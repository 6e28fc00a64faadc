package recording

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Result is the outcome of a finished session.
type Result struct {
	SessionID string
	Path      string
	State     State

	// Err is set when State is StateFailed and wraps one of
	// ErrDeviceUnavailable, ErrStreamingIO or ErrUploadFailed.
	Err error

	// DeleteErr wraps ErrDeleteFailed when the upload succeeded but the
	// local file could not be removed. The session is still done.
	DeleteErr error

	Uploader string
	Location string
	Frames   int64
	Deleted  bool

	StartedAt  time.Time
	FinishedAt time.Time
}

// Duration is the wall time from RecordFor to the terminal state.
func (r Result) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Session is one capture-to-upload run. It is owned by the Controller; callers
// only observe it.
type Session struct {
	ID          string
	Path        string
	Duration    time.Duration
	Uploader    string
	DeleteAfter bool
	StartedAt   time.Time

	mu     sync.RWMutex
	state  State
	result Result
	done   chan struct{}
}

func newSession(id, path string, duration time.Duration, uploader string, deleteAfter bool) *Session {
	return &Session{
		ID:          id,
		Path:        path,
		Duration:    duration,
		Uploader:    uploader,
		DeleteAfter: deleteAfter,
		StartedAt:   time.Now(),
		state:       StateIdle,
		done:        make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Done is closed once the session reached StateDone or StateFailed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Result returns the outcome, and false while the session is still running.
func (s *Session) Result() (Result, bool) {
	select {
	case <-s.done:
	default:
		return Result{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.result, true
}

// Wait blocks until the session finished or ctx is done.
func (s *Session) Wait(ctx context.Context) (Result, error) {
	select {
	case <-s.done:
		r, _ := s.Result()
		return r, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

func (s *Session) transition(to State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !isValidTransition(s.state, to) {
		return fmt.Errorf("invalid transition: %s -> %s", s.state, to)
	}
	slog.Debug("Session state changed", "session", s.ID, "from", s.state, "to", to)
	s.state = to
	return nil
}

// finish moves the session to its terminal state and releases waiters.
func (s *Session) finish(r Result) {
	s.mu.Lock()
	if !isValidTransition(s.state, r.State) {
		slog.Error("Invalid terminal transition", "session", s.ID, "from", s.state, "to", r.State)
	}
	s.state = r.State
	s.result = r
	s.mu.Unlock()

	close(s.done)
}
