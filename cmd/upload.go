package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/audiolibrelab/soundarchive/internal/upload"

	"github.com/spf13/cobra"
)

var uploadCmd = &cobra.Command{
	Use:   "upload [file]",
	Short: "Upload an existing recording with the configured backend",
	Long: `Upload a recording that was kept after a failed upload. Uploads are never
retried automatically; this command is the manual retry.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("cannot upload %s: %w", path, err)
		}

		if backend, _ := cmd.Flags().GetString("backend"); backend != "" {
			cfg.Upload.Backend = backend
			if err := cfg.Validate(); err != nil {
				return err
			}
		}

		uploader, err := upload.New(cmd.Context(), cfg.Upload)
		if err != nil {
			return fmt.Errorf("failed to create uploader: %w", err)
		}

		slog.Info("Uploading", "file", path, "uploader", uploader.Name())
		location, err := uploader.Upload(cmd.Context(), path)
		if err != nil {
			return fmt.Errorf("upload failed, %s kept: %w", path, err)
		}
		fmt.Printf("Uploaded %s to %s\n", path, location)

		deleteAfter, _ := cmd.Flags().GetBool("delete-after")
		if deleteAfter {
			if err := os.Remove(path); err != nil {
				return fmt.Errorf("uploaded but failed to delete %s: %w", path, err)
			}
			slog.Info("Deleted local file", "file", path)
		}
		return nil
	},
}

func init() {
	uploadCmd.Flags().Bool("delete-after", false, "delete the local file after a successful upload")
	uploadCmd.Flags().StringP("backend", "b", "", "upload backend (overrides config)")
}
