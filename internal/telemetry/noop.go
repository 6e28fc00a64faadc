package telemetry

import (
	"context"
	"errors"

	"github.com/audiolibrelab/soundarchive/internal/recording"
)

// NoOpExporter is a metrics exporter that does nothing.
type NoOpExporter struct{}

// NewNoOpExporter creates a new no-op exporter for graceful degradation.
func NewNoOpExporter() *NoOpExporter {
	return &NoOpExporter{}
}

func (e *NoOpExporter) SessionFinished(ctx context.Context, r recording.Result) {}

func (e *NoOpExporter) Close(ctx context.Context) error {
	return nil
}

// failureKind maps a session error to a low cardinality label.
func failureKind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, recording.ErrDeviceUnavailable):
		return "device_unavailable"
	case errors.Is(err, recording.ErrStreamingIO):
		return "streaming_io"
	case errors.Is(err, recording.ErrUploadFailed):
		return "upload"
	default:
		return "other"
	}
}
