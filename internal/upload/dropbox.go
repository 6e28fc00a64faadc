package upload

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/audiolibrelab/soundarchive/internal/config"
)

const dropboxContentURL = "https://content.dropboxapi.com"

// Dropbox uploads through the Dropbox content API.
type Dropbox struct {
	client *resty.Client
	folder string
}

type dropboxUploadArg struct {
	Path       string `json:"path"`
	Mode       string `json:"mode"`
	Autorename bool   `json:"autorename"`
	Mute       bool   `json:"mute"`
}

type dropboxMetadata struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	PathDisplay string `json:"path_display"`
	Size        int64  `json:"size"`
}

func NewDropbox(cfg config.DropboxConfig) (*Dropbox, error) {
	return newDropbox(cfg, dropboxContentURL)
}

func newDropbox(cfg config.DropboxConfig, baseURL string) (*Dropbox, error) {
	if cfg.AccessToken == "" {
		return nil, fmt.Errorf("dropbox: access token is required")
	}

	client := resty.New().
		SetBaseURL(baseURL).
		SetAuthToken(cfg.AccessToken).
		SetTimeout(30 * time.Minute)

	return &Dropbox{client: client, folder: cfg.Folder}, nil
}

func (d *Dropbox) Name() string {
	return "dropbox"
}

// Upload stores the file as /<folder>/<file name>. An existing file of the
// same name is kept and Dropbox renames the new one.
func (d *Dropbox) Upload(ctx context.Context, filePath string) (string, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("dropbox: %w", err)
	}
	defer f.Close()

	arg, err := json.Marshal(dropboxUploadArg{
		Path:       "/" + objectName(d.folder, filePath),
		Mode:       "add",
		Autorename: true,
		Mute:       true,
	})
	if err != nil {
		return "", fmt.Errorf("dropbox: failed to encode upload argument: %w", err)
	}

	var meta dropboxMetadata
	resp, err := d.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/octet-stream").
		SetHeader("Dropbox-API-Arg", string(arg)).
		SetBody(f).
		SetResult(&meta).
		Post("/2/files/upload")
	if err != nil {
		return "", fmt.Errorf("dropbox: upload of %s failed: %w", filePath, err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("dropbox: upload of %s failed: %s: %s", filePath, resp.Status(), strings.TrimSpace(resp.String()))
	}

	slog.Debug("Dropbox upload complete", "path", meta.PathDisplay, "size", meta.Size)
	return "dropbox:" + meta.PathDisplay, nil
}
