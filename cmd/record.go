package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/audiolibrelab/soundarchive/internal/audio"
	"github.com/audiolibrelab/soundarchive/internal/recording"
	"github.com/audiolibrelab/soundarchive/internal/telemetry"
	"github.com/audiolibrelab/soundarchive/internal/upload"

	"github.com/spf13/cobra"
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record for the configured duration, then upload the file",
	Long: `Record from the configured audio device for a fixed duration, write a WAV
file, upload it with the configured backend and optionally delete the local copy.
Press Ctrl+C to stop early; the recording is still uploaded.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := applyRecordFlags(cmd); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		observer := telemetry.New(ctx, cfg.Telemetry)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := observer.Close(shutdownCtx); err != nil {
				slog.Warn("Failed to flush telemetry", "error", err)
			}
		}()

		uploader, err := upload.New(ctx, cfg.Upload)
		if err != nil {
			return fmt.Errorf("failed to create uploader: %w", err)
		}

		device, err := audio.NewDevice(cfg.Audio)
		if err != nil {
			return err
		}

		controller, err := recording.NewController(device, audio.FormatFromConfig(cfg.Audio), recording.WithObserver(observer))
		if err != nil {
			return fmt.Errorf("invalid capture format: %w", err)
		}

		path, _ := cmd.Flags().GetString("output")
		if path == "" {
			path = cfg.Recording.OutputFile(time.Now())
		}
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}

		session, err := controller.RecordFor(ctx, cfg.Recording.Duration, path, uploader, cfg.Recording.DeleteAfter)
		if err != nil {
			return err
		}

		slog.Info("Recording... Press Ctrl+C to stop early", "file", path, "duration", cfg.Recording.Duration, "uploader", uploader.Name())

		select {
		case <-session.Done():
		case <-ctx.Done():
			// Restore default signal handling so a second Ctrl+C aborts the upload.
			stop()
			slog.Info("Stopping early, the recording will still be uploaded")
			<-session.Done()
		}

		result, _ := session.Result()
		if result.State == recording.StateFailed {
			return result.Err
		}

		fmt.Printf("Uploaded %s to %s\n", result.Path, result.Location)
		if result.DeleteErr != nil {
			fmt.Printf("Warning: local file kept: %v\n", result.DeleteErr)
		}
		return nil
	},
}

// applyRecordFlags overrides the resolved configuration with command line flags.
func applyRecordFlags(cmd *cobra.Command) error {
	flags := cmd.Flags()

	if flags.Changed("duration") {
		cfg.Recording.Duration, _ = flags.GetDuration("duration")
	}
	if flags.Changed("delete-after") {
		cfg.Recording.DeleteAfter, _ = flags.GetBool("delete-after")
	}
	if flags.Changed("backend") {
		cfg.Upload.Backend, _ = flags.GetString("backend")
	}
	if flags.Changed("audio-backend") {
		cfg.Audio.Backend, _ = flags.GetString("audio-backend")
	}

	return cfg.Validate()
}

func init() {
	recordCmd.Flags().DurationP("duration", "d", 0, "recording duration, e.g. 30m (overrides config)")
	recordCmd.Flags().StringP("output", "o", "", "output file (default is a timestamped file in the recording directory)")
	recordCmd.Flags().Bool("delete-after", false, "delete the local file after a successful upload (overrides config)")
	recordCmd.Flags().StringP("backend", "b", "", "upload backend (overrides config)")
	recordCmd.Flags().String("audio-backend", "", "audio backend: alsa, pulse, pipewire, tone (overrides config)")
}
