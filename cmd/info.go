package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/audiolibrelab/soundarchive/internal/audio"

	"github.com/spf13/cobra"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show the resolved profile, capture format and upload target",
	Long:  `Display what the next recording would use: the resolved profile, the capture device and format, the output file and the upload backend.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		format := audio.FormatFromConfig(cfg.Audio)

		fmt.Printf("=== PROFILE ===\n")
		fmt.Printf("profile: %s\n", cfg.Profile)
		if cfgFile != "" {
			fmt.Printf("config_file: %s\n", cfgFile)
		}

		fmt.Printf("\n[Audio]\n")
		fmt.Printf("backend: %s\n", cfg.Audio.Backend)
		fmt.Printf("device: %s\n", cfg.Audio.Device)
		if len(cfg.Audio.Sources) > 0 {
			fmt.Printf("sources: %s\n", strings.Join(cfg.Audio.Sources, ", "))
		}
		fmt.Printf("format: %s\n", format)
		fmt.Printf("data_rate: %d bytes/s\n", format.BytesPerSecond())

		fmt.Printf("\n[Recording]\n")
		fmt.Printf("duration: %s\n", cfg.Recording.Duration)
		fmt.Printf("next_file: %s\n", cfg.Recording.OutputFile(time.Now()))
		fmt.Printf("estimated_size: %.1f MB\n", float64(format.BytesPerSecond())*cfg.Recording.Duration.Seconds()/1e6)
		fmt.Printf("delete_after: %t\n", cfg.Recording.DeleteAfter)

		fmt.Printf("\n[Upload]\n")
		fmt.Printf("backend: %s\n", cfg.Upload.Backend)
		if len(cfg.Upload.Mirror) > 0 {
			fmt.Printf("mirror: %s\n", strings.Join(cfg.Upload.Mirror, ", "))
		}

		fmt.Printf("\n[Telemetry]\n")
		fmt.Printf("enabled: %t\n", cfg.Telemetry.Enabled)
		if cfg.Telemetry.Enabled {
			fmt.Printf("endpoint: %s\n", cfg.Telemetry.Endpoint)
		}

		return nil
	},
}
