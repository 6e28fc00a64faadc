package audio

import (
	"errors"
	"io"
	"strings"
	"testing"
	"time"
)

// shellDevice runs script through sh in place of a capture tool.
func shellDevice(name, script string) *execDevice {
	return &execDevice{
		name: name,
		tool: "sh",
		command: func(Format) ([]string, []string) {
			return []string{"sh", "-c", script}, nil
		},
		startTimeout: time.Second,
		killTimeout:  time.Second,
	}
}

const streamingScript = `trap 'exit 0' INT; while :; do printf 'abcd'; sleep 0.01; done`

func TestExecDevice_StopDrainsToEOF(t *testing.T) {
	device := shellDevice("exec:stream", streamingScript)

	line, err := device.Open(DefaultFormat)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if err := line.Start(); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	time.AfterFunc(100*time.Millisecond, func() {
		if err := line.Stop(); err != nil {
			t.Errorf("stop failed: %v", err)
		}
	})

	data, err := io.ReadAll(line)
	if err != nil {
		t.Fatalf("expected clean EOF after stop, got %v", err)
	}
	if len(data) == 0 || !strings.HasPrefix(string(data), "abcd") {
		t.Errorf("unexpected captured data %q", data)
	}

	if err := line.Close(); err != nil {
		t.Errorf("close failed: %v", err)
	}

	// The device is free again.
	again, err := device.Open(DefaultFormat)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	again.Close()
}

func TestExecDevice_ExitBeforeAudioIsUnavailable(t *testing.T) {
	device := shellDevice("exec:busy", `echo "device or resource busy" >&2; exit 3`)

	line, err := device.Open(DefaultFormat)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer line.Close()

	err = line.Start()
	if !errors.Is(err, ErrDeviceUnavailable) {
		t.Fatalf("expected ErrDeviceUnavailable, got %v", err)
	}
	if !strings.Contains(err.Error(), "busy") {
		t.Errorf("expected stderr in error, got %v", err)
	}
}

func TestExecDevice_SilentProcessTimesOut(t *testing.T) {
	device := shellDevice("exec:silent", `exec sleep 10`)
	device.startTimeout = 100 * time.Millisecond

	line, err := device.Open(DefaultFormat)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer line.Close()

	begin := time.Now()
	err = line.Start()
	if !errors.Is(err, ErrDeviceUnavailable) {
		t.Fatalf("expected ErrDeviceUnavailable, got %v", err)
	}
	if elapsed := time.Since(begin); elapsed > 5*time.Second {
		t.Errorf("start took %s, expected the start timeout to apply", elapsed)
	}
}

func TestExecDevice_SilentForkedChildTimesOut(t *testing.T) {
	// sh forks sleep, which keeps stdout open after sh is killed.
	device := shellDevice("exec:forked", `sleep 4; :`)
	device.startTimeout = 200 * time.Millisecond
	device.killTimeout = 200 * time.Millisecond

	line, err := device.Open(DefaultFormat)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer line.Close()

	begin := time.Now()
	err = line.Start()
	if !errors.Is(err, ErrDeviceUnavailable) {
		t.Fatalf("expected ErrDeviceUnavailable, got %v", err)
	}
	if elapsed := time.Since(begin); elapsed > 2*time.Second {
		t.Errorf("start took %s, expected it to return shortly after the start timeout", elapsed)
	}
}

func TestExecDevice_UnexpectedExitAbortsStream(t *testing.T) {
	device := shellDevice("exec:dies", `printf 'abcd'; sleep 0.05; exit 2`)

	line, err := device.Open(DefaultFormat)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer line.Close()

	if err := line.Start(); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	_, err = io.ReadAll(line)
	if !errors.Is(err, ErrStreamAborted) {
		t.Errorf("expected ErrStreamAborted, got %v", err)
	}
}

func TestExecDevice_AfterStartFailure(t *testing.T) {
	device := shellDevice("exec:wiring", streamingScript)
	device.afterStart = func() error { return errors.New("port not found: system:capture_9") }

	line, err := device.Open(DefaultFormat)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer line.Close()

	if err := line.Start(); !errors.Is(err, ErrDeviceUnavailable) {
		t.Errorf("expected ErrDeviceUnavailable, got %v", err)
	}
}

func TestExecDevice_Claims(t *testing.T) {
	device := shellDevice("exec:claimed", streamingScript)

	line, err := device.Open(DefaultFormat)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}

	if _, err := device.Open(DefaultFormat); !errors.Is(err, ErrDeviceUnavailable) {
		t.Errorf("expected ErrDeviceUnavailable while held, got %v", err)
	}

	if err := line.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if err := line.Close(); !errors.Is(err, ErrLineClosed) {
		t.Errorf("expected ErrLineClosed, got %v", err)
	}
	if err := line.Start(); !errors.Is(err, ErrLineClosed) {
		t.Errorf("expected ErrLineClosed on start after close, got %v", err)
	}
}

func TestExecDevice_MissingTool(t *testing.T) {
	device := shellDevice("exec:missing", "")
	device.tool = "soundarchive-no-such-tool"

	if _, err := device.Open(DefaultFormat); !errors.Is(err, ErrDeviceUnavailable) {
		t.Errorf("expected ErrDeviceUnavailable, got %v", err)
	}
}
