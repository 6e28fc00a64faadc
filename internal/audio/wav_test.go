package audio

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/wav"
)

// scriptedLine replays fixed chunks, then ends with err (io.EOF if nil).
type scriptedLine struct {
	format Format
	chunks [][]byte
	err    error
}

func (l *scriptedLine) Format() Format { return l.format }
func (l *scriptedLine) Start() error   { return nil }
func (l *scriptedLine) Stop() error    { return nil }
func (l *scriptedLine) Close() error   { return nil }

func (l *scriptedLine) Read(p []byte) (int, error) {
	if len(l.chunks) == 0 {
		if l.err != nil {
			return 0, l.err
		}
		return 0, io.EOF
	}
	n := copy(p, l.chunks[0])
	l.chunks[0] = l.chunks[0][n:]
	if len(l.chunks[0]) == 0 {
		l.chunks = l.chunks[1:]
	}
	return n, nil
}

func decodeWAV(t *testing.T, path string) (*wav.Decoder, []int) {
	t.Helper()

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("failed to open %s: %v", path, err)
	}
	defer f.Close()

	d := wav.NewDecoder(f)
	if !d.IsValidFile() {
		t.Fatalf("%s is not a valid WAV file", path)
	}
	buf, err := d.FullPCMBuffer()
	if err != nil {
		t.Fatalf("failed to decode PCM: %v", err)
	}
	return d, buf.Data
}

func TestStreamToFile_CarriesPartialFrames(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.wav")

	// Three stereo big endian frames split across reads at odd offsets.
	raw := []byte{
		0x00, 0x01, 0xff, 0xff,
		0x7f, 0xff, 0x80, 0x00,
		0x00, 0x00, 0x12, 0x34,
	}
	line := &scriptedLine{
		format: DefaultFormat,
		chunks: [][]byte{raw[:3], raw[3:7], raw[7:]},
	}

	frames, err := StreamToFile(line, path)
	if err != nil {
		t.Fatalf("StreamToFile failed: %v", err)
	}
	if frames != 3 {
		t.Errorf("expected 3 frames, got %d", frames)
	}

	d, samples := decodeWAV(t, path)
	if d.SampleRate != 16000 || d.NumChans != 2 || d.BitDepth != 16 {
		t.Errorf("unexpected header: rate=%d chans=%d bits=%d", d.SampleRate, d.NumChans, d.BitDepth)
	}

	want := []int{1, -1, 32767, -32768, 0, 0x1234}
	if len(samples) != len(want) {
		t.Fatalf("expected %d samples, got %d", len(want), len(samples))
	}
	for i := range want {
		if samples[i] != want[i] {
			t.Errorf("sample %d = %d, want %d", i, samples[i], want[i])
		}
	}
}

func TestStreamToFile_EmptyStreamIsValid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.wav")

	frames, err := StreamToFile(&scriptedLine{format: DefaultFormat}, path)
	if err != nil {
		t.Fatalf("StreamToFile failed: %v", err)
	}
	if frames != 0 {
		t.Errorf("expected 0 frames, got %d", frames)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("failed to stat: %v", err)
	}
	if info.Size() != 44 {
		t.Errorf("expected a bare 44 byte header, got %d bytes", info.Size())
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("failed to open: %v", err)
	}
	defer f.Close()

	d := wav.NewDecoder(f)
	d.ReadInfo()
	if err := d.Err(); err != nil {
		t.Fatalf("failed to read header: %v", err)
	}
	if d.SampleRate != 16000 || d.NumChans != 2 {
		t.Errorf("unexpected header: rate=%d chans=%d", d.SampleRate, d.NumChans)
	}
}

func TestStreamToFile_AbortKeepsPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partial.wav")
	line := &scriptedLine{
		format: DefaultFormat,
		chunks: [][]byte{{0, 1, 0, 2, 0, 3, 0, 4}},
		err:    errors.New("device disconnected"),
	}

	frames, err := StreamToFile(line, path)
	if !errors.Is(err, ErrStreamAborted) {
		t.Fatalf("expected ErrStreamAborted, got %v", err)
	}
	if frames != 2 {
		t.Errorf("expected 2 frames written before the error, got %d", frames)
	}

	_, samples := decodeWAV(t, path)
	if len(samples) != 4 {
		t.Errorf("expected 4 samples in the partial file, got %d", len(samples))
	}
}

func TestStreamToFile_CreateFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "out.wav")

	_, err := StreamToFile(&scriptedLine{format: DefaultFormat}, path)
	if !errors.Is(err, ErrStreamAborted) {
		t.Fatalf("expected ErrStreamAborted, got %v", err)
	}
	if _, statErr := os.Stat(path); !os.IsNotExist(statErr) {
		t.Error("no file should exist")
	}
}
