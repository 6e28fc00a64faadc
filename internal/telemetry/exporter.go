// Package telemetry exports recording session metrics to an OTEL Collector.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/audiolibrelab/soundarchive/internal/config"
	"github.com/audiolibrelab/soundarchive/internal/recording"
)

const serviceName = "soundarchive"

// Observer receives finished sessions and can be shut down.
type Observer interface {
	recording.Observer
	Close(ctx context.Context) error
}

// Exporter records session outcomes as OTEL metrics.
type Exporter struct {
	provider       *sdkmetric.MeterProvider
	sessionsTotal  metric.Int64Counter
	framesTotal    metric.Int64Counter
	durationHist   metric.Float64Histogram
	deleteFailures metric.Int64Counter
}

// New returns an Exporter, or a NoOpExporter when telemetry is disabled or
// the exporter cannot be created.
func New(ctx context.Context, cfg config.TelemetryConfig) Observer {
	if !cfg.Enabled {
		return NewNoOpExporter()
	}
	exp, err := NewExporter(ctx, cfg)
	if err != nil {
		slog.Warn("Telemetry disabled", "error", err)
		return NewNoOpExporter()
	}
	return exp
}

// NewExporter creates an exporter pushing to the OTLP gRPC endpoint.
func NewExporter(ctx context.Context, cfg config.TelemetryConfig) (*Exporter, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("OTEL endpoint not configured")
	}

	opts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(cfg.Endpoint),
	}
	if cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())))
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}

	exp, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating OTLP exporter: %w", err)
	}

	return newExporter(ctx, sdkmetric.NewPeriodicReader(exp))
}

func newExporter(ctx context.Context, reader sdkmetric.Reader) (*Exporter, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(attribute.String("service.name", serviceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("creating resource: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(reader),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(provider)

	meter := provider.Meter(serviceName)

	sessionsTotal, err := meter.Int64Counter(
		"soundarchive_sessions_total",
		metric.WithDescription("Finished recording sessions"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating sessions counter: %w", err)
	}

	framesTotal, err := meter.Int64Counter(
		"soundarchive_frames_total",
		metric.WithDescription("Audio frames written to recordings"),
		metric.WithUnit("{frame}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating frames counter: %w", err)
	}

	durationHist, err := meter.Float64Histogram(
		"soundarchive_session_duration_seconds",
		metric.WithDescription("Session wall time from start to completion"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating duration histogram: %w", err)
	}

	deleteFailures, err := meter.Int64Counter(
		"soundarchive_delete_failures_total",
		metric.WithDescription("Uploaded recordings whose local file could not be removed"),
		metric.WithUnit("{file}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating delete failures counter: %w", err)
	}

	return &Exporter{
		provider:       provider,
		sessionsTotal:  sessionsTotal,
		framesTotal:    framesTotal,
		durationHist:   durationHist,
		deleteFailures: deleteFailures,
	}, nil
}

// SessionFinished records one finished session.
func (e *Exporter) SessionFinished(ctx context.Context, r recording.Result) {
	opt := metric.WithAttributes(
		attribute.String("state", string(r.State)),
		attribute.String("uploader", r.Uploader),
		attribute.String("failure", failureKind(r.Err)),
	)

	e.sessionsTotal.Add(ctx, 1, opt)
	e.framesTotal.Add(ctx, r.Frames, opt)
	e.durationHist.Record(ctx, r.Duration().Seconds(), opt)

	if r.DeleteErr != nil {
		e.deleteFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("uploader", r.Uploader)))
	}
}

// Close shuts down the exporter and flushes any pending metrics.
func (e *Exporter) Close(ctx context.Context) error {
	return e.provider.Shutdown(ctx)
}
