package upload

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"github.com/audiolibrelab/soundarchive/internal/config"
)

// GoogleDrive uploads into a Drive folder.
type GoogleDrive struct {
	service  *drive.Service
	folderID string
}

// NewGoogleDrive authenticates with a service account file, or with an OAuth
// client file plus a saved user token when TokenFile is set.
func NewGoogleDrive(ctx context.Context, cfg config.GoogleDriveConfig) (*GoogleDrive, error) {
	if cfg.CredentialsFile == "" {
		return nil, fmt.Errorf("google drive: credentials file is required")
	}

	var opts []option.ClientOption
	if cfg.TokenFile != "" {
		ts, err := userTokenSource(ctx, cfg.CredentialsFile, cfg.TokenFile)
		if err != nil {
			return nil, err
		}
		opts = append(opts, option.WithTokenSource(ts))
	} else {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile), option.WithScopes(drive.DriveFileScope))
	}

	service, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("google drive: failed to create client: %w", err)
	}
	return &GoogleDrive{service: service, folderID: cfg.FolderID}, nil
}

func userTokenSource(ctx context.Context, credentialsFile, tokenFile string) (oauth2.TokenSource, error) {
	b, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("google drive: failed to read credentials: %w", err)
	}
	oauthConfig, err := google.ConfigFromJSON(b, drive.DriveFileScope)
	if err != nil {
		return nil, fmt.Errorf("google drive: invalid OAuth client file: %w", err)
	}

	tb, err := os.ReadFile(tokenFile)
	if err != nil {
		return nil, fmt.Errorf("google drive: failed to read token: %w", err)
	}
	var token oauth2.Token
	if err := json.Unmarshal(tb, &token); err != nil {
		return nil, fmt.Errorf("google drive: invalid token file %s: %w", tokenFile, err)
	}

	return oauthConfig.TokenSource(ctx, &token), nil
}

func (g *GoogleDrive) Name() string {
	return "google_drive"
}

func (g *GoogleDrive) Upload(ctx context.Context, filePath string) (string, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("google drive: %w", err)
	}
	defer f.Close()

	file := &drive.File{
		Name:     filepath.Base(filePath),
		MimeType: "audio/wav",
	}
	if g.folderID != "" {
		file.Parents = []string{g.folderID}
	}

	created, err := g.service.Files.Create(file).
		Media(f).
		Fields("id", "webViewLink").
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("google drive: upload of %s failed: %w", filePath, err)
	}

	if created.WebViewLink != "" {
		return created.WebViewLink, nil
	}
	return "gdrive:" + created.Id, nil
}
