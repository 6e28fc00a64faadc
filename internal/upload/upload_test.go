package upload

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/audiolibrelab/soundarchive/internal/config"
)

func writeRecording(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "20240102_030405.wav")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write recording: %v", err)
	}
	return path
}

func TestObjectName(t *testing.T) {
	tests := []struct {
		prefix, path, want string
	}{
		{"", "/tmp/a.wav", "a.wav"},
		{"recordings", "/tmp/a.wav", "recordings/a.wav"},
		{"/recordings/2024/", "a.wav", "recordings/2024/a.wav"},
	}
	for _, tt := range tests {
		if got := objectName(tt.prefix, tt.path); got != tt.want {
			t.Errorf("objectName(%q, %q) = %q, want %q", tt.prefix, tt.path, got, tt.want)
		}
	}
}

func TestNew_Backends(t *testing.T) {
	ctx := context.Background()

	u, err := New(ctx, config.UploadConfig{Backend: "local", Local: config.LocalConfig{Directory: t.TempDir()}})
	if err != nil {
		t.Fatalf("local: %v", err)
	}
	if u.Name() != "local" {
		t.Errorf("expected local uploader, got %s", u.Name())
	}

	u, err = New(ctx, config.UploadConfig{Backend: "Dropbox", Dropbox: config.DropboxConfig{AccessToken: "token"}})
	if err != nil {
		t.Fatalf("dropbox: %v", err)
	}
	if u.Name() != "dropbox" {
		t.Errorf("expected dropbox uploader, got %s", u.Name())
	}

	if _, err := New(ctx, config.UploadConfig{Backend: "dropbox"}); err == nil {
		t.Error("expected missing token to fail")
	}
	if _, err := New(ctx, config.UploadConfig{Backend: "ftp"}); err == nil || !strings.Contains(err.Error(), "unknown upload backend") {
		t.Errorf("expected unknown backend error, got %v", err)
	}
}

func TestNew_Mirror(t *testing.T) {
	cfg := config.UploadConfig{
		Backend: "mirror",
		Mirror:  []string{"local", "dropbox"},
		Local:   config.LocalConfig{Directory: t.TempDir()},
		Dropbox: config.DropboxConfig{AccessToken: "token"},
	}

	u, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("mirror: %v", err)
	}
	if u.Name() != "mirror(local,dropbox)" {
		t.Errorf("unexpected name %s", u.Name())
	}

	cfg.Mirror = []string{"mirror"}
	if _, err := New(context.Background(), cfg); err == nil {
		t.Error("expected nested mirror to fail")
	}
}

func TestLocal_Upload(t *testing.T) {
	src := writeRecording(t, "RIFF....WAVE")
	dir := filepath.Join(t.TempDir(), "archive")

	local, err := NewLocal(config.LocalConfig{Directory: dir})
	if err != nil {
		t.Fatalf("NewLocal failed: %v", err)
	}

	location, err := local.Upload(context.Background(), src)
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	if location != filepath.Join(dir, filepath.Base(src)) {
		t.Errorf("unexpected location %s", location)
	}

	data, err := os.ReadFile(location)
	if err != nil {
		t.Fatalf("failed to read copy: %v", err)
	}
	if string(data) != "RIFF....WAVE" {
		t.Errorf("copy content mismatch: %q", data)
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("expected only the copy in %s, got %d entries", dir, len(entries))
	}

	if _, err := local.Upload(context.Background(), src); err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Errorf("expected second upload to refuse overwrite, got %v", err)
	}
}

func TestLocal_UploadMissingFile(t *testing.T) {
	local, _ := NewLocal(config.LocalConfig{Directory: t.TempDir()})

	if _, err := local.Upload(context.Background(), filepath.Join(t.TempDir(), "missing.wav")); err == nil {
		t.Error("expected error for missing source")
	}
}

func TestLocal_UploadCancelled(t *testing.T) {
	src := writeRecording(t, "data")
	dir := t.TempDir()
	local, _ := NewLocal(config.LocalConfig{Directory: dir})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := local.Upload(ctx, src); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if entries, _ := os.ReadDir(dir); len(entries) != 0 {
		t.Errorf("cancelled upload should leave nothing behind, got %d entries", len(entries))
	}
}

type fakeUploader struct {
	name  string
	err   error
	delay time.Duration

	mu    sync.Mutex
	calls int
}

func (f *fakeUploader) Name() string { return f.name }

func (f *fakeUploader) Upload(ctx context.Context, filePath string) (string, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if f.err != nil {
		return "", f.err
	}
	return f.name + ":" + filepath.Base(filePath), nil
}

func TestMirror_AllSucceed(t *testing.T) {
	a := &fakeUploader{name: "a"}
	b := &fakeUploader{name: "b"}
	c := &fakeUploader{name: "c"}

	location, err := NewMirror(a, b, c).Upload(context.Background(), "/tmp/x.wav")
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	if location != "a:x.wav, b:x.wav, c:x.wav" {
		t.Errorf("unexpected location %q", location)
	}
}

func TestMirror_FailureCancelsOthers(t *testing.T) {
	boom := errors.New("quota exceeded")
	failing := &fakeUploader{name: "fails", err: boom}
	slow := &fakeUploader{name: "slow", delay: 10 * time.Second}

	begin := time.Now()
	_, err := NewMirror(failing, slow).Upload(context.Background(), "/tmp/x.wav")
	if !errors.Is(err, boom) {
		t.Fatalf("expected the target error, got %v", err)
	}
	if !strings.Contains(err.Error(), "fails") {
		t.Errorf("expected the failing target name in %v", err)
	}
	if time.Since(begin) > 5*time.Second {
		t.Error("slow target was not cancelled")
	}
}
