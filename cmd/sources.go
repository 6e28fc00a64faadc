package cmd

import (
	"fmt"

	"github.com/audiolibrelab/soundarchive/internal/audio"

	"github.com/spf13/cobra"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List available audio sources",
	Long:  `List the capture sources of the configured audio backend, or of the backend given with --backend.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("backend")
		if name == "" {
			name = cfg.Audio.Backend
		}

		backend, err := audio.BackendFor(name)
		if err != nil {
			return err
		}

		sources, err := backend.ListSources()
		if err != nil {
			return fmt.Errorf("failed to get %s sources: %w", backend.GetType(), err)
		}

		fmt.Printf("Audio sources (%s, %d found):\n", backend.GetType(), len(sources))
		for i, source := range sources {
			fmt.Printf("  %d. %s\n", i+1, source)
		}

		available := audio.GetAvailableBackends()
		fmt.Printf("\nAvailable backends: %v\n", available)

		if backend.GetType() == audio.BackendTypePipeWire {
			fmt.Printf("\nPipeWire usage:\n")
			fmt.Printf("  • Format: \"Device: Audio (hw:X,Y):Z\" or \"Application:port\"\n")
			fmt.Printf("  • Configure in audio.sources; source N is wired to capture channel N\n")
		} else {
			fmt.Printf("\nConfigure the chosen source as audio.device\n")
		}
		return nil
	},
}

func init() {
	sourcesCmd.Flags().String("backend", "", "audio backend to list (alsa, pulse, pipewire, tone)")
}
