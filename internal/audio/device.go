package audio

import (
	"errors"
	"fmt"
	"io"
	"sync"
)

var (
	// ErrDeviceUnavailable is returned when no matching input exists or it is
	// already held.
	ErrDeviceUnavailable = errors.New("capture device unavailable")

	// ErrStreamAborted is returned when streaming ends for any reason other
	// than Stop.
	ErrStreamAborted = errors.New("capture stream aborted")

	// ErrLineClosed is returned when a closed line is used.
	ErrLineClosed = errors.New("capture line closed")
)

// Device is an audio input that can be opened for capture.
type Device interface {
	Name() string

	// Open claims the input for format. The returned Line must be closed,
	// even when Start fails.
	Open(format Format) (Line, error)
}

// Line is an opened capture device.
//
// Read delivers raw samples in Format and returns io.EOF once the line has
// been stopped and everything captured before Stop has been read. Any other
// error wraps ErrStreamAborted.
type Line interface {
	io.Reader

	Format() Format

	// Start begins the flow of samples.
	Start() error

	// Stop ends the flow of samples. Pending data is still readable.
	Stop() error

	// Close releases the device. It must only be called once reads finished.
	Close() error
}

// claims tracks which inputs are held by an open line in this process.
type claims struct {
	mu   sync.Mutex
	held map[string]bool
}

var deviceClaims = &claims{held: make(map[string]bool)}

func (c *claims) acquire(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.held[name] {
		return fmt.Errorf("%w: %s is already in use", ErrDeviceUnavailable, name)
	}
	c.held[name] = true
	return nil
}

func (c *claims) release(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.held, name)
}
