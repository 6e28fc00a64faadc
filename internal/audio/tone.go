package audio

import (
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	"github.com/audiolibrelab/soundarchive/internal/config"
)

const (
	defaultToneFrequency = 440.0
	toneTick             = 10 * time.Millisecond
)

// ToneBackend provides a synthetic sine input. It needs no audio hardware and
// is used to check a setup end to end.
type ToneBackend struct{}

func (t *ToneBackend) NewDevice(cfg config.AudioConfig) Device {
	name := cfg.Device
	if name == "" {
		name = "default"
	}
	return NewToneDevice("tone:"+name, defaultToneFrequency)
}

func (t *ToneBackend) ListSources() ([]string, error) {
	return []string{"default"}, nil
}

func (t *ToneBackend) ValidateSource(source string) error {
	return validateInList(t, source)
}

func (t *ToneBackend) GetType() BackendType {
	return BackendTypeTone
}

func (t *ToneBackend) Tool() string {
	return ""
}

// ToneDevice generates a sine wave in real time.
type ToneDevice struct {
	name      string
	frequency float64
}

func NewToneDevice(name string, frequency float64) *ToneDevice {
	return &ToneDevice{name: name, frequency: frequency}
}

func (d *ToneDevice) Name() string {
	return d.name
}

func (d *ToneDevice) Open(format Format) (Line, error) {
	if err := format.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}
	if err := deviceClaims.acquire(d.name); err != nil {
		return nil, err
	}
	return &toneLine{
		format:    format,
		frequency: d.frequency,
		stop:      make(chan struct{}),
		release:   func() { deviceClaims.release(d.name) },
	}, nil
}

type toneLine struct {
	format    Format
	frequency float64
	release   func()

	mu       sync.Mutex
	started  bool
	closed   bool
	begin    time.Time
	produced int64
	pending  []byte

	stop     chan struct{}
	stopOnce sync.Once
}

func (l *toneLine) Format() Format {
	return l.format
}

func (l *toneLine) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrLineClosed
	}
	if l.started {
		return fmt.Errorf("tone line already started")
	}
	l.started = true
	l.begin = time.Now()
	return nil
}

// Read blocks until wall clock time has produced at least one frame.
func (l *toneLine) Read(p []byte) (int, error) {
	for {
		l.mu.Lock()
		if l.closed {
			l.mu.Unlock()
			return 0, ErrLineClosed
		}
		if !l.started {
			l.mu.Unlock()
			return 0, fmt.Errorf("%w: tone line not started", ErrStreamAborted)
		}
		if len(l.pending) > 0 {
			n := copy(p, l.pending)
			l.pending = l.pending[n:]
			l.mu.Unlock()
			return n, nil
		}
		select {
		case <-l.stop:
			l.mu.Unlock()
			return 0, io.EOF
		default:
		}

		due := int64(time.Since(l.begin).Seconds()*float64(l.format.SampleRate)) - l.produced
		if due > 0 {
			l.pending = l.generate(due)
			l.mu.Unlock()
			continue
		}
		l.mu.Unlock()

		select {
		case <-l.stop:
		case <-time.After(toneTick):
		}
	}
}

// generate renders frames starting at the current position. Caller holds mu.
func (l *toneLine) generate(frames int64) []byte {
	width := l.format.BytesPerSample()
	frameSize := l.format.FrameSize()
	out := make([]byte, int(frames)*frameSize)
	amplitude := float64(l.format.maxAmplitude()) * 0.5
	rate := float64(l.format.SampleRate)

	for i := int64(0); i < frames; i++ {
		t := float64(l.produced+i) / rate
		v := int(amplitude * math.Sin(2*math.Pi*l.frequency*t))
		base := int(i) * frameSize
		for ch := 0; ch < l.format.Channels; ch++ {
			l.format.encode(v, out[base+ch*width:base+(ch+1)*width])
		}
	}
	l.produced += frames
	return out
}

func (l *toneLine) Stop() error {
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return ErrLineClosed
	}
	l.stopOnce.Do(func() { close(l.stop) })
	return nil
}

func (l *toneLine) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrLineClosed
	}
	l.closed = true
	l.pending = nil
	l.stopOnce.Do(func() { close(l.stop) })
	l.release()
	return nil
}
