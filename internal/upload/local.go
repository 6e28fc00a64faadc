package upload

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/audiolibrelab/soundarchive/internal/config"
)

// Local copies recordings into a directory, e.g. a mounted NAS share.
type Local struct {
	dir string
}

func NewLocal(cfg config.LocalConfig) (*Local, error) {
	if cfg.Directory == "" {
		return nil, fmt.Errorf("local: directory is required")
	}
	return &Local{dir: cfg.Directory}, nil
}

func (l *Local) Name() string {
	return "local"
}

// Upload writes to a temporary name and renames it into place, so a copy is
// either complete or absent. An existing file is never overwritten.
func (l *Local) Upload(ctx context.Context, filePath string) (string, error) {
	if err := os.MkdirAll(l.dir, 0755); err != nil {
		return "", fmt.Errorf("local: %w", err)
	}

	dst := filepath.Join(l.dir, filepath.Base(filePath))
	if _, err := os.Stat(dst); err == nil {
		return "", fmt.Errorf("local: %s already exists", dst)
	}

	src, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("local: %w", err)
	}
	defer src.Close()

	tmp, err := os.CreateTemp(l.dir, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("local: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, &ctxReader{ctx: ctx, r: src}); err != nil {
		tmp.Close()
		return "", fmt.Errorf("local: copy of %s failed: %w", filePath, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", fmt.Errorf("local: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("local: %w", err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return "", fmt.Errorf("local: %w", err)
	}

	return dst, nil
}

// ctxReader stops a copy once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
