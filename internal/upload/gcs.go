package upload

import (
	"context"
	"fmt"
	"io"
	"os"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/audiolibrelab/soundarchive/internal/config"
)

// GCS uploads objects to a Google Cloud Storage bucket.
type GCS struct {
	client *storage.Client
	bucket string
	prefix string
}

func NewGCS(ctx context.Context, cfg config.GCSConfig) (*GCS, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("gcs: bucket is required")
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gcs: failed to create client: %w", err)
	}
	return &GCS{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (g *GCS) Name() string {
	return "gcs"
}

func (g *GCS) Upload(ctx context.Context, filePath string) (string, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("gcs: %w", err)
	}
	defer f.Close()

	// Cancelling the context is the only way to abandon a started object write.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	name := objectName(g.prefix, filePath)
	w := g.client.Bucket(g.bucket).Object(name).NewWriter(ctx)
	w.ContentType = "audio/wav"

	if _, err := io.Copy(w, f); err != nil {
		cancel()
		w.Close()
		return "", fmt.Errorf("gcs: upload of %s failed: %w", filePath, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("gcs: upload of %s failed: %w", filePath, err)
	}

	return fmt.Sprintf("gs://%s/%s", g.bucket, name), nil
}
