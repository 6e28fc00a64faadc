// Package upload copies finished recordings to remote storage.
package upload

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/audiolibrelab/soundarchive/internal/config"
)

// Uploader durably copies a local file somewhere else.
//
// Upload is called from a background goroutine and returns a human readable
// location of the copy. Implementations must not retry.
type Uploader interface {
	Name() string
	Upload(ctx context.Context, filePath string) (string, error)
}

// New builds the uploader named by cfg.Backend.
func New(ctx context.Context, cfg config.UploadConfig) (Uploader, error) {
	switch strings.ToLower(cfg.Backend) {
	case "dropbox":
		return NewDropbox(cfg.Dropbox)
	case "google", "google_drive":
		return NewGoogleDrive(ctx, cfg.GoogleDrive)
	case "gcs":
		return NewGCS(ctx, cfg.GCS)
	case "s3":
		return NewS3(ctx, cfg.S3)
	case "local":
		return NewLocal(cfg.Local)
	case "mirror":
		return newMirrorFromConfig(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown upload backend: %s", cfg.Backend)
	}
}

// objectName places the file's base name under prefix.
func objectName(prefix, filePath string) string {
	name := path.Base(strings.ReplaceAll(filePath, "\\", "/"))
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}
