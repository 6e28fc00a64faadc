package audio

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

const (
	defaultStartTimeout = 3 * time.Second
	defaultKillTimeout  = 5 * time.Second
	readBufferSize      = 64 * 1024
)

// execDevice captures audio from an external tool writing raw PCM to stdout.
type execDevice struct {
	name string
	tool string

	// command returns argv and extra environment for format.
	command func(format Format) (args []string, env []string)

	// afterStart runs once the process delivers audio, e.g. to wire ports.
	afterStart func() error

	startTimeout time.Duration
	killTimeout  time.Duration
}

func (d *execDevice) Name() string {
	return d.name
}

func (d *execDevice) Open(format Format) (Line, error) {
	if err := format.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}

	if _, err := exec.LookPath(d.tool); err != nil {
		return nil, fmt.Errorf("%w: %s not found: %w", ErrDeviceUnavailable, d.tool, err)
	}

	if err := deviceClaims.acquire(d.name); err != nil {
		return nil, err
	}

	args, env := d.command(format)

	startTimeout := d.startTimeout
	if startTimeout <= 0 {
		startTimeout = defaultStartTimeout
	}
	killTimeout := d.killTimeout
	if killTimeout <= 0 {
		killTimeout = defaultKillTimeout
	}

	slog.Debug("Capture device opened", "device", d.name, "format", format.String())

	return &execLine{
		name:         d.name,
		format:       format,
		args:         args,
		env:          env,
		afterStart:   d.afterStart,
		startTimeout: startTimeout,
		killTimeout:  killTimeout,
		release:      func() { deviceClaims.release(d.name) },
	}, nil
}

// execLine is a running (or runnable) capture process.
type execLine struct {
	name         string
	format       Format
	args         []string
	env          []string
	afterStart   func() error
	startTimeout time.Duration
	killTimeout  time.Duration
	release      func()

	mu        sync.Mutex
	cmd       *exec.Cmd
	out       *bufio.Reader
	stderrBuf bytes.Buffer
	started   bool
	stopped   bool
	closed    bool
	killTimer *time.Timer

	waitOnce sync.Once
	waitErr  error
}

func (l *execLine) Format() Format {
	return l.format
}

// Start spawns the capture process and waits for its first audio bytes, so a
// busy or missing input is reported here rather than mid-stream.
func (l *execLine) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrLineClosed
	}
	if l.started {
		return fmt.Errorf("capture line %s already started", l.name)
	}

	slog.Info("Starting capture process", "device", l.name, "command", strings.Join(l.args, " "))

	cmd := exec.Command(l.args[0], l.args[1:]...)
	cmd.Env = append(os.Environ(), l.env...)
	cmd.Stderr = &l.stderrBuf
	// Bounds Wait when a forked child keeps the output pipes open.
	cmd.WaitDelay = l.killTimeout

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("%w: failed to create stdout pipe: %w", ErrDeviceUnavailable, err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: failed to start %s: %w", ErrDeviceUnavailable, l.args[0], err)
	}

	l.cmd = cmd
	l.out = bufio.NewReaderSize(stdout, readBufferSize)

	ready := make(chan error, 1)
	go func() {
		_, err := l.out.Peek(1)
		ready <- err
	}()

	timer := time.NewTimer(l.startTimeout)
	defer timer.Stop()

	select {
	case err := <-ready:
		if err != nil {
			waitErr := l.wait()
			return fmt.Errorf("%w: %s exited before delivering audio: %v %s",
				ErrDeviceUnavailable, l.args[0], waitErr, strings.TrimSpace(l.stderrBuf.String()))
		}
	case <-timer.C:
		cmd.Process.Kill()
		// A child may still hold the write end, so unblock Peek directly.
		stdout.Close()
		<-ready
		l.wait()
		return fmt.Errorf("%w: no audio from %s within %s", ErrDeviceUnavailable, l.name, l.startTimeout)
	}

	if l.afterStart != nil {
		if err := l.afterStart(); err != nil {
			cmd.Process.Kill()
			l.wait()
			return fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
		}
	}

	l.started = true
	slog.Debug("Capture process delivering audio", "device", l.name, "pid", cmd.Process.Pid)
	return nil
}

func (l *execLine) Read(p []byte) (int, error) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return 0, ErrLineClosed
	}
	if !l.started {
		l.mu.Unlock()
		return 0, fmt.Errorf("%w: capture line %s not started", ErrStreamAborted, l.name)
	}
	out := l.out
	l.mu.Unlock()

	n, err := out.Read(p)
	if err == nil {
		return n, nil
	}

	if errors.Is(err, io.EOF) {
		waitErr := l.wait()
		if l.isStopped() {
			return n, io.EOF
		}
		return n, fmt.Errorf("%w: %s exited unexpectedly: %v %s",
			ErrStreamAborted, l.name, waitErr, strings.TrimSpace(l.stderrBuf.String()))
	}
	return n, fmt.Errorf("%w: %w", ErrStreamAborted, err)
}

// Stop interrupts the capture process so it flushes and exits. A process that
// ignores the interrupt is killed after the kill timeout.
func (l *execLine) Stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrLineClosed
	}
	if !l.started || l.stopped {
		return nil
	}
	l.stopped = true

	proc := l.cmd.Process
	slog.Debug("Sending SIGINT to capture process", "device", l.name, "pid", proc.Pid)
	if err := proc.Signal(os.Interrupt); err != nil && !errors.Is(err, os.ErrProcessDone) {
		slog.Debug("Failed to interrupt capture process, killing", "device", l.name, "error", err)
		proc.Kill()
	}

	l.killTimer = time.AfterFunc(l.killTimeout, func() {
		slog.Warn("Capture process did not exit within timeout, force killing", "device", l.name)
		proc.Kill()
	})
	return nil
}

// Close reaps the capture process and releases the device claim.
func (l *execLine) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrLineClosed
	}
	l.closed = true
	cmd := l.cmd
	stopped := l.stopped
	killTimer := l.killTimer
	l.mu.Unlock()

	defer l.release()

	if cmd == nil {
		slog.Debug("Capture device closed", "device", l.name)
		return nil
	}

	if !stopped {
		cmd.Process.Kill()
	}

	err := l.wait()
	if killTimer != nil {
		killTimer.Stop()
	}

	slog.Debug("Capture device closed", "device", l.name)

	// A process killed by Close is expected to exit with an error.
	if err != nil && stopped && !isInterruptExit(err) {
		slog.Debug("Capture process stderr", "device", l.name, "output", l.stderrBuf.String())
		return fmt.Errorf("capture process %s failed: %w", l.name, err)
	}
	return nil
}

func (l *execLine) isStopped() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stopped
}

func (l *execLine) wait() error {
	l.waitOnce.Do(func() {
		l.waitErr = l.cmd.Wait()
	})
	return l.waitErr
}

// isInterruptExit reports whether err is how capture tools exit on SIGINT.
func isInterruptExit(err error) bool {
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return false
	}
	// ffmpeg exits 255 after an interrupt, arecord 1
	switch exitErr.ExitCode() {
	case 1, 255:
		return true
	}
	if exitErr.ProcessState != nil {
		state := exitErr.ProcessState.String()
		return state == "signal: interrupt" || state == "signal: killed"
	}
	return false
}
