package upload

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/audiolibrelab/soundarchive/internal/config"
)

const mirrorConcurrency = 2

// Mirror uploads to every target and succeeds only if all of them do.
type Mirror struct {
	targets []Uploader
	limit   int
}

func NewMirror(targets ...Uploader) *Mirror {
	return &Mirror{targets: targets, limit: mirrorConcurrency}
}

func newMirrorFromConfig(ctx context.Context, cfg config.UploadConfig) (*Mirror, error) {
	if len(cfg.Mirror) == 0 {
		return nil, fmt.Errorf("mirror: no backends configured")
	}

	targets := make([]Uploader, 0, len(cfg.Mirror))
	for _, backend := range cfg.Mirror {
		if strings.EqualFold(backend, "mirror") {
			return nil, fmt.Errorf("mirror: cannot nest mirror backends")
		}
		sub := cfg
		sub.Backend = backend
		sub.Mirror = nil

		target, err := New(ctx, sub)
		if err != nil {
			return nil, fmt.Errorf("mirror: %w", err)
		}
		targets = append(targets, target)
	}
	return NewMirror(targets...), nil
}

func (m *Mirror) Name() string {
	names := make([]string, len(m.targets))
	for i, t := range m.targets {
		names[i] = t.Name()
	}
	return "mirror(" + strings.Join(names, ",") + ")"
}

// Upload runs at most limit uploads at a time. The first failure cancels the
// remaining ones.
func (m *Mirror) Upload(ctx context.Context, filePath string) (string, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.limit)

	locations := make([]string, len(m.targets))
	for i, target := range m.targets {
		g.Go(func() error {
			location, err := target.Upload(gctx, filePath)
			if err != nil {
				return fmt.Errorf("%s: %w", target.Name(), err)
			}
			locations[i] = location
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return "", fmt.Errorf("mirror: %w", err)
	}
	return strings.Join(locations, ", "), nil
}
