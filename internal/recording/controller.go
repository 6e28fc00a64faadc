// Package recording runs timed capture sessions: record to a file, stop after
// a fixed duration, upload the file and optionally delete it.
package recording

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/audiolibrelab/soundarchive/internal/audio"
	"github.com/audiolibrelab/soundarchive/internal/upload"
)

var (
	// ErrDeviceUnavailable is returned synchronously by RecordFor when the
	// capture device cannot be opened or started.
	ErrDeviceUnavailable = audio.ErrDeviceUnavailable

	// ErrStreamingIO fails a session whose audio could not be written.
	ErrStreamingIO = errors.New("streaming I/O error")

	// ErrUploadFailed fails a session whose file could not be uploaded.
	ErrUploadFailed = errors.New("upload failed")

	// ErrDeleteFailed is reported in Result.DeleteErr.
	ErrDeleteFailed = errors.New("delete after upload failed")

	// ErrSessionActive is returned when a controller is asked to record
	// while its previous session is still running.
	ErrSessionActive = errors.New("recording session already active")
)

// Observer is notified of every finished session, including sessions that
// failed to open.
type Observer interface {
	SessionFinished(ctx context.Context, result Result)
}

// Controller owns one capture device and runs at most one session on it at a
// time. Use separate controllers for concurrent sessions.
type Controller struct {
	device    audio.Device
	format    audio.Format
	observers []Observer

	mu     sync.Mutex
	active *Session
}

// Option configures a Controller.
type Option func(*Controller)

// WithObserver registers o to receive every finished session.
func WithObserver(o Observer) Option {
	return func(c *Controller) {
		c.observers = append(c.observers, o)
	}
}

// NewController creates a controller capturing from device in format. The
// format is fixed for the controller's lifetime.
func NewController(device audio.Device, format audio.Format, opts ...Option) (*Controller, error) {
	if device == nil {
		return nil, fmt.Errorf("capture device is required")
	}
	if err := format.Validate(); err != nil {
		return nil, err
	}

	c := &Controller{device: device, format: format}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Active returns the running session, or nil.
func (c *Controller) Active() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// RecordFor records to destinationFile for duration, then uploads the file
// with uploader and removes it if deleteAfter is set.
//
// The device is opened and started before RecordFor returns; failing that,
// the error wraps ErrDeviceUnavailable and nothing is left running. Everything
// after that happens in the background and is reported through the returned
// Session.
//
// Cancelling ctx stops the recording early. The file is still uploaded.
func (c *Controller) RecordFor(ctx context.Context, duration time.Duration, destinationFile string, uploader upload.Uploader, deleteAfter bool) (*Session, error) {
	if duration < 0 {
		return nil, fmt.Errorf("duration must not be negative, got %s", duration)
	}
	if destinationFile == "" {
		return nil, fmt.Errorf("destination file is required")
	}
	if uploader == nil {
		return nil, fmt.Errorf("uploader is required")
	}

	c.mu.Lock()
	if c.active != nil {
		c.mu.Unlock()
		return nil, ErrSessionActive
	}
	s := newSession(uuid.NewString(), destinationFile, duration, uploader.Name(), deleteAfter)
	c.active = s
	c.mu.Unlock()

	c.mustTransition(s, StateOpening)

	line, err := c.open()
	if err != nil {
		err = fmt.Errorf("failed to open %s: %w", c.device.Name(), err)
		c.complete(ctx, s, Result{State: StateFailed, Err: err})
		return nil, err
	}

	c.mustTransition(s, StateRecording)
	slog.Info("Recording started", "session", s.ID, "device", c.device.Name(), "file", destinationFile, "duration", duration)

	streamDone := make(chan streamResult, 1)
	go func() {
		frames, err := audio.StreamToFile(line, destinationFile)
		streamDone <- streamResult{frames: frames, err: err}
	}()

	// The timer starts only now that the line is delivering audio.
	go c.run(ctx, s, &lineHandle{line: line}, streamDone, uploader)

	return s, nil
}

func (c *Controller) open() (audio.Line, error) {
	line, err := c.device.Open(c.format)
	if err != nil {
		return nil, asUnavailable(err)
	}
	if err := line.Start(); err != nil {
		if closeErr := line.Close(); closeErr != nil {
			slog.Warn("Failed to close capture line after start failure", "error", closeErr)
		}
		return nil, asUnavailable(err)
	}
	return line, nil
}

func asUnavailable(err error) error {
	if errors.Is(err, ErrDeviceUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
}

type streamResult struct {
	frames int64
	err    error
}

// run waits for the duration, then performs stop, close, upload and delete in
// that order on this goroutine.
func (c *Controller) run(ctx context.Context, s *Session, line *lineHandle, streamDone <-chan streamResult, uploader upload.Uploader) {
	timer := time.NewTimer(s.Duration)
	defer timer.Stop()

	var stream streamResult
	streamEnded := false

	select {
	case <-timer.C:
		slog.Debug("Recording duration elapsed", "session", s.ID)
	case <-ctx.Done():
		slog.Info("Recording cancelled, stopping early", "session", s.ID, "reason", ctx.Err())
	case stream = <-streamDone:
		streamEnded = true
		if stream.err == nil {
			stream.err = fmt.Errorf("%w: capture ended before stop", audio.ErrStreamAborted)
		}
	}

	c.mustTransition(s, StateStopping)

	if err := line.stop(); err != nil {
		slog.Warn("Failed to stop capture line", "session", s.ID, "error", err)
	}
	if !streamEnded {
		stream = <-streamDone
	}
	if err := line.close(); err != nil {
		slog.Warn("Failed to close capture line", "session", s.ID, "error", err)
	}

	result := Result{State: StateFailed, Frames: stream.frames}

	if stream.err != nil {
		result.Err = fmt.Errorf("%w: %w", ErrStreamingIO, stream.err)
		c.complete(ctx, s, result)
		return
	}

	c.mustTransition(s, StateUploading)
	slog.Info("Uploading recording", "session", s.ID, "file", s.Path, "uploader", s.Uploader)

	// A cancelled recording is still archived.
	location, err := uploader.Upload(context.WithoutCancel(ctx), s.Path)
	if err != nil {
		result.Err = fmt.Errorf("%w: %w", ErrUploadFailed, err)
		c.complete(ctx, s, result)
		return
	}

	result.State = StateDone
	result.Location = location

	if s.DeleteAfter {
		if err := os.Remove(s.Path); err != nil {
			result.DeleteErr = fmt.Errorf("%w: %w", ErrDeleteFailed, err)
		} else {
			result.Deleted = true
		}
	}

	c.complete(ctx, s, result)
}

// complete reports the result, frees the controller and then releases
// waiters, so a caller woken by Wait can start the next session.
func (c *Controller) complete(ctx context.Context, s *Session, r Result) {
	r.SessionID = s.ID
	r.Path = s.Path
	r.Uploader = s.Uploader
	r.StartedAt = s.StartedAt
	r.FinishedAt = time.Now()

	switch {
	case r.State == StateFailed:
		slog.Error("Recording session failed", "session", s.ID, "file", s.Path, "error", r.Err)
	case r.DeleteErr != nil:
		slog.Warn("Recording uploaded but local file was kept", "session", s.ID, "location", r.Location, "error", r.DeleteErr)
	default:
		slog.Info("Recording session done", "session", s.ID, "location", r.Location, "frames", r.Frames, "deleted", r.Deleted)
	}

	for _, o := range c.observers {
		o.SessionFinished(context.WithoutCancel(ctx), r)
	}

	c.mu.Lock()
	if c.active == s {
		c.active = nil
	}
	c.mu.Unlock()

	s.finish(r)
}

func (c *Controller) mustTransition(s *Session, to State) {
	if err := s.transition(to); err != nil {
		slog.Error("Session state machine violated", "session", s.ID, "error", err)
	}
}

// lineHandle stops and closes a line at most once each.
type lineHandle struct {
	line audio.Line

	stopOnce  sync.Once
	stopErr   error
	closeOnce sync.Once
	closeErr  error
}

func (h *lineHandle) stop() error {
	h.stopOnce.Do(func() {
		h.stopErr = h.line.Stop()
	})
	return h.stopErr
}

func (h *lineHandle) close() error {
	h.closeOnce.Do(func() {
		h.closeErr = h.line.Close()
	})
	return h.closeErr
}
