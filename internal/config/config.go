package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// ErrConfigNotFound is returned by Load when the config file does not exist.
var ErrConfigNotFound = errors.New("config file not found")

type RootConfig struct {
	ActiveConfig string                    `mapstructure:"active_config" yaml:"active_config"`
	Audio        *AudioConfig              `mapstructure:"audio,omitempty" yaml:"audio,omitempty"`
	Logging      *LoggingConfig            `mapstructure:"logging,omitempty" yaml:"logging,omitempty"`
	Telemetry    *TelemetryConfig          `mapstructure:"telemetry,omitempty" yaml:"telemetry,omitempty"`
	Configs      map[string]*ConfigProfile `mapstructure:"configs" yaml:"configs"`
}

// Config is the resolved configuration for one profile.
type Config struct {
	Profile   string          `mapstructure:"-" yaml:"profile"`
	Audio     AudioConfig     `mapstructure:"audio" yaml:"audio"`
	Recording RecordingConfig `mapstructure:"recording" yaml:"recording"`
	Upload    UploadConfig    `mapstructure:"upload" yaml:"upload"`
	Logging   LoggingConfig   `mapstructure:"logging" yaml:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`
}

type ConfigProfile struct {
	Recording RecordingConfig `mapstructure:"recording" yaml:"recording"`
	Upload    UploadConfig    `mapstructure:"upload" yaml:"upload"`
}

type AudioConfig struct {
	Backend       string        `mapstructure:"backend" yaml:"backend"` // "alsa", "pulse", "pipewire", "tone"
	Device        string        `mapstructure:"device" yaml:"device"`
	Sources       []string      `mapstructure:"sources" yaml:"sources,omitempty"` // pipewire only: ports wired to the capture inputs
	SampleRate    int           `mapstructure:"sample_rate" yaml:"sample_rate"`
	BitsPerSample int           `mapstructure:"bits_per_sample" yaml:"bits_per_sample"`
	Channels      int           `mapstructure:"channels" yaml:"channels"`
	Unsigned      bool          `mapstructure:"unsigned" yaml:"unsigned"`
	ByteOrder     string        `mapstructure:"byte_order" yaml:"byte_order"` // "big" or "little"
	StartTimeout  time.Duration `mapstructure:"start_timeout" yaml:"start_timeout"`
}

type RecordingConfig struct {
	Duration       time.Duration `mapstructure:"duration" yaml:"duration"`
	Directory      string        `mapstructure:"directory" yaml:"directory"`
	FilenameFormat string        `mapstructure:"filename_format" yaml:"filename_format"`
	DeleteAfter    bool          `mapstructure:"delete_after" yaml:"delete_after"`
}

type UploadConfig struct {
	Backend     string            `mapstructure:"backend" yaml:"backend"`
	Dropbox     DropboxConfig     `mapstructure:"dropbox" yaml:"dropbox,omitempty"`
	GoogleDrive GoogleDriveConfig `mapstructure:"google_drive" yaml:"google_drive,omitempty"`
	GCS         GCSConfig         `mapstructure:"gcs" yaml:"gcs,omitempty"`
	S3          S3Config          `mapstructure:"s3" yaml:"s3,omitempty"`
	Local       LocalConfig       `mapstructure:"local" yaml:"local,omitempty"`
	Mirror      []string          `mapstructure:"mirror" yaml:"mirror,omitempty"` // backends used when backend is "mirror"
}

type DropboxConfig struct {
	AccessToken string `mapstructure:"access_token" yaml:"access_token,omitempty"`
	Folder      string `mapstructure:"folder" yaml:"folder,omitempty"`
}

type GoogleDriveConfig struct {
	CredentialsFile string `mapstructure:"credentials_file" yaml:"credentials_file,omitempty"` // service account or OAuth client JSON
	TokenFile       string `mapstructure:"token_file" yaml:"token_file,omitempty"`             // OAuth user token; enables the user flow
	FolderID        string `mapstructure:"folder_id" yaml:"folder_id,omitempty"`
}

type GCSConfig struct {
	Bucket          string `mapstructure:"bucket" yaml:"bucket,omitempty"`
	Prefix          string `mapstructure:"prefix" yaml:"prefix,omitempty"`
	CredentialsFile string `mapstructure:"credentials_file" yaml:"credentials_file,omitempty"`
}

type S3Config struct {
	Bucket          string `mapstructure:"bucket" yaml:"bucket,omitempty"`
	Prefix          string `mapstructure:"prefix" yaml:"prefix,omitempty"`
	Region          string `mapstructure:"region" yaml:"region,omitempty"`
	Endpoint        string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
	AccessKeyID     string `mapstructure:"access_key_id" yaml:"access_key_id,omitempty"`
	SecretAccessKey string `mapstructure:"secret_access_key" yaml:"secret_access_key,omitempty"`
	UsePathStyle    bool   `mapstructure:"use_path_style" yaml:"use_path_style,omitempty"`
}

type LocalConfig struct {
	Directory string `mapstructure:"directory" yaml:"directory,omitempty"`
}

type LoggingConfig struct {
	File       string `mapstructure:"file" yaml:"file,omitempty"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb,omitempty"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups,omitempty"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days,omitempty"`
}

type TelemetryConfig struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
	Insecure bool   `mapstructure:"insecure" yaml:"insecure,omitempty"`
}

// DefaultFilenameFormat names recordings yyyyMMdd_HHmmss.
const DefaultFilenameFormat = "20060102_150405"

var defaultConfig = Config{
	Profile: "default",
	Audio: AudioConfig{
		Backend:       "alsa",
		Device:        "default",
		SampleRate:    16000,
		BitsPerSample: 16,
		Channels:      2,
		ByteOrder:     "big",
		StartTimeout:  3 * time.Second,
	},
	Recording: RecordingConfig{
		Duration:       time.Hour,
		Directory:      filepath.Join(os.Getenv("HOME"), "Audio", "SoundArchive"),
		FilenameFormat: DefaultFilenameFormat,
	},
	Upload: UploadConfig{
		Backend: "local",
		Local: LocalConfig{
			Directory: filepath.Join(os.Getenv("HOME"), "Audio", "SoundArchive", "uploaded"),
		},
	},
	Logging: LoggingConfig{
		MaxSizeMB:  10,
		MaxBackups: 3,
		MaxAgeDays: 28,
	},
	Telemetry: TelemetryConfig{
		Endpoint: "localhost:4317",
	},
}

// Default returns a copy of the built-in configuration.
func Default() *Config {
	cfg := defaultConfig
	cfg.Audio.Sources = nil
	cfg.Upload.Mirror = nil
	return &cfg
}

// Load reads the active profile of configFile.
func Load(configFile string) (*Config, error) {
	return LoadWithProfile(configFile, "")
}

func LoadWithProfile(configFile, profile string) (*Config, error) {
	if configFile == "" {
		return nil, fmt.Errorf("no config file specified, use --config flag")
	}

	if _, err := os.Stat(configFile); errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, configFile)
	}

	rootConfig, err := ValidateConfigurationFormat(configFile)
	if err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return resolve(rootConfig, profile)
}

func resolve(rootConfig *RootConfig, profile string) (*Config, error) {
	configName := profile
	if configName == "" {
		configName = rootConfig.ActiveConfig
	}
	if configName == "" {
		configName = "default"
	}

	selectedProfile, exists := rootConfig.Configs[configName]
	if !exists {
		return nil, fmt.Errorf("configuration profile '%s' not found", configName)
	}

	selectedConfig := Default()
	selectedConfig.Profile = configName

	// Global sections first, then the default profile, then the selected one.
	if rootConfig.Audio != nil {
		selectedConfig.Audio = mergeAudio(selectedConfig.Audio, *rootConfig.Audio)
	}
	if rootConfig.Logging != nil {
		selectedConfig.Logging = mergeLogging(selectedConfig.Logging, *rootConfig.Logging)
	}
	if rootConfig.Telemetry != nil {
		selectedConfig.Telemetry = mergeTelemetry(selectedConfig.Telemetry, *rootConfig.Telemetry)
	}

	if configName != "default" {
		if defaultProfile, exists := rootConfig.Configs["default"]; exists && defaultProfile != nil {
			selectedConfig = mergeProfile(selectedConfig, defaultProfile)
		}
	}
	if selectedProfile != nil {
		selectedConfig = mergeProfile(selectedConfig, selectedProfile)
	}

	selectedConfig.expand()

	if err := selectedConfig.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return selectedConfig, nil
}

// ValidateConfigurationFormat reads configFile and checks its overall shape.
func ValidateConfigurationFormat(configFile string) (*RootConfig, error) {
	v := viper.New()
	v.SetConfigFile(configFile)

	v.SetEnvPrefix("SOUNDARCHIVE")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
	}

	var rootConfig RootConfig
	if err := v.Unmarshal(&rootConfig); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if len(rootConfig.Configs) == 0 {
		return nil, fmt.Errorf("configs section is required and cannot be empty")
	}

	if rootConfig.ActiveConfig != "" {
		if _, ok := rootConfig.Configs[rootConfig.ActiveConfig]; !ok {
			return nil, fmt.Errorf("active_config '%s' does not name a profile in configs", rootConfig.ActiveConfig)
		}
	}

	return &rootConfig, nil
}

// UpdateActiveConfig updates the active_config field in the config file
func UpdateActiveConfig(configFile, newActiveConfig string) error {
	if configFile == "" {
		return fmt.Errorf("no config file specified")
	}

	v := viper.New()
	v.SetConfigFile(configFile)

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config file %s: %w", configFile, err)
	}

	v.Set("active_config", newActiveConfig)

	if err := v.WriteConfig(); err != nil {
		return fmt.Errorf("error writing config file %s: %w", configFile, err)
	}

	return nil
}

// OutputFile returns the recording path for a session started at t.
func (r RecordingConfig) OutputFile(t time.Time) string {
	format := r.FilenameFormat
	if format == "" {
		format = DefaultFilenameFormat
	}
	return filepath.Join(r.Directory, t.Format(format)+".wav")
}

func mergeAudio(base, override AudioConfig) AudioConfig {
	result := base
	if override.Backend != "" {
		result.Backend = override.Backend
	}
	if override.Device != "" {
		result.Device = override.Device
	}
	if len(override.Sources) > 0 {
		result.Sources = override.Sources
	}
	if override.SampleRate != 0 {
		result.SampleRate = override.SampleRate
	}
	if override.BitsPerSample != 0 {
		result.BitsPerSample = override.BitsPerSample
	}
	if override.Channels != 0 {
		result.Channels = override.Channels
	}
	if override.StartTimeout != 0 {
		result.StartTimeout = override.StartTimeout
	}
	if override.ByteOrder != "" {
		result.ByteOrder = override.ByteOrder
	}
	result.Unsigned = override.Unsigned
	return result
}

func mergeLogging(base, override LoggingConfig) LoggingConfig {
	result := base
	if override.File != "" {
		result.File = override.File
	}
	if override.MaxSizeMB != 0 {
		result.MaxSizeMB = override.MaxSizeMB
	}
	if override.MaxBackups != 0 {
		result.MaxBackups = override.MaxBackups
	}
	if override.MaxAgeDays != 0 {
		result.MaxAgeDays = override.MaxAgeDays
	}
	return result
}

func mergeTelemetry(base, override TelemetryConfig) TelemetryConfig {
	result := base
	result.Enabled = override.Enabled
	result.Insecure = override.Insecure
	if override.Endpoint != "" {
		result.Endpoint = override.Endpoint
	}
	return result
}

// mergeProfile applies the "Selection & Fallback" model: every field the
// profile sets wins, everything else falls back to what base already holds.
func mergeProfile(base *Config, profile *ConfigProfile) *Config {
	result := *base

	if profile.Recording.Duration != 0 {
		result.Recording.Duration = profile.Recording.Duration
	}
	if profile.Recording.Directory != "" {
		result.Recording.Directory = profile.Recording.Directory
	}
	if profile.Recording.FilenameFormat != "" {
		result.Recording.FilenameFormat = profile.Recording.FilenameFormat
	}
	// delete_after is opt-in per profile
	result.Recording.DeleteAfter = profile.Recording.DeleteAfter

	if profile.Upload.Backend != "" {
		// A profile naming a backend brings its own backend settings.
		result.Upload = UploadConfig{Backend: profile.Upload.Backend}
	}
	result.Upload = mergeUpload(result.Upload, profile.Upload)

	return &result
}

func mergeUpload(base, override UploadConfig) UploadConfig {
	result := base
	if override.Dropbox != (DropboxConfig{}) {
		result.Dropbox = override.Dropbox
	}
	if override.GoogleDrive != (GoogleDriveConfig{}) {
		result.GoogleDrive = override.GoogleDrive
	}
	if override.GCS != (GCSConfig{}) {
		result.GCS = override.GCS
	}
	if override.S3 != (S3Config{}) {
		result.S3 = override.S3
	}
	if override.Local != (LocalConfig{}) {
		result.Local = override.Local
	}
	if len(override.Mirror) > 0 {
		result.Mirror = override.Mirror
	}
	return result
}

// expand resolves ~/ prefixes in paths and ${VAR} references in secrets.
func (c *Config) expand() {
	c.Recording.Directory = expandPath(c.Recording.Directory)
	c.Upload.Local.Directory = expandPath(c.Upload.Local.Directory)
	c.Upload.GoogleDrive.CredentialsFile = expandPath(c.Upload.GoogleDrive.CredentialsFile)
	c.Upload.GoogleDrive.TokenFile = expandPath(c.Upload.GoogleDrive.TokenFile)
	c.Upload.GCS.CredentialsFile = expandPath(c.Upload.GCS.CredentialsFile)
	c.Logging.File = expandPath(c.Logging.File)

	c.Upload.Dropbox.AccessToken = os.ExpandEnv(c.Upload.Dropbox.AccessToken)
	c.Upload.S3.AccessKeyID = os.ExpandEnv(c.Upload.S3.AccessKeyID)
	c.Upload.S3.SecretAccessKey = os.ExpandEnv(c.Upload.S3.SecretAccessKey)
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[2:])
	}
	return path
}

var validAudioBackends = []string{"alsa", "pulse", "pipewire", "tone"}

var validUploadBackends = []string{"dropbox", "google", "google_drive", "gcs", "s3", "local", "mirror"}

// Validate checks the resolved configuration.
func (c *Config) Validate() error {
	if err := validateAudio(c.Audio); err != nil {
		return fmt.Errorf("audio: %w", err)
	}

	if c.Recording.Duration < 0 {
		return fmt.Errorf("recording: 'duration' must be >= 0, got: %s", c.Recording.Duration)
	}
	if c.Recording.Directory == "" {
		return fmt.Errorf("recording: 'directory' is required")
	}
	if strings.ContainsRune(c.Recording.FilenameFormat, filepath.Separator) {
		return fmt.Errorf("recording: 'filename_format' must not contain a path separator, got: %s", c.Recording.FilenameFormat)
	}

	if err := validateUpload(c.Upload); err != nil {
		return fmt.Errorf("upload: %w", err)
	}

	if c.Telemetry.Enabled && c.Telemetry.Endpoint == "" {
		return fmt.Errorf("telemetry: 'endpoint' is required when enabled")
	}

	return nil
}

func validateAudio(a AudioConfig) error {
	if !contains(validAudioBackends, strings.ToLower(a.Backend)) {
		return fmt.Errorf("'backend' must be one of %s, got: %s", strings.Join(validAudioBackends, ", "), a.Backend)
	}
	if a.SampleRate <= 0 {
		return fmt.Errorf("'sample_rate' must be > 0, got: %d", a.SampleRate)
	}
	if a.Channels <= 0 {
		return fmt.Errorf("'channels' must be > 0, got: %d", a.Channels)
	}
	switch a.BitsPerSample {
	case 16, 24, 32:
	default:
		return fmt.Errorf("'bits_per_sample' must be 16, 24 or 32, got: %d", a.BitsPerSample)
	}
	if bo := strings.ToLower(a.ByteOrder); bo != "big" && bo != "little" {
		return fmt.Errorf("'byte_order' must be 'big' or 'little', got: %s", a.ByteOrder)
	}
	if a.StartTimeout < 0 {
		return fmt.Errorf("'start_timeout' must be >= 0, got: %s", a.StartTimeout)
	}
	for i, source := range a.Sources {
		if !isValidAudioSource(source) {
			return fmt.Errorf("sources[%d] must be a valid audio source (JACK port), got: %s", i, source)
		}
	}
	return nil
}

func validateUpload(u UploadConfig) error {
	backend := strings.ToLower(u.Backend)
	if !contains(validUploadBackends, backend) {
		return fmt.Errorf("'backend' must be one of %s, got: %s", strings.Join(validUploadBackends, ", "), u.Backend)
	}

	if backend != "mirror" {
		return validateBackend(backend, u)
	}

	if len(u.Mirror) == 0 {
		return fmt.Errorf("'mirror' must list at least one backend")
	}
	seen := make(map[string]bool)
	for i, name := range u.Mirror {
		name = strings.ToLower(name)
		if name == "mirror" || !contains(validUploadBackends, name) {
			return fmt.Errorf("mirror[%d]: unsupported backend: %s", i, name)
		}
		if seen[name] {
			return fmt.Errorf("mirror[%d]: duplicate backend '%s'", i, name)
		}
		seen[name] = true
		if err := validateBackend(name, u); err != nil {
			return fmt.Errorf("mirror[%d]: %w", i, err)
		}
	}
	return nil
}

func validateBackend(backend string, u UploadConfig) error {
	switch backend {
	case "dropbox":
		if u.Dropbox.AccessToken == "" {
			return fmt.Errorf("dropbox: 'access_token' is required")
		}
	case "google", "google_drive":
		if u.GoogleDrive.CredentialsFile == "" {
			return fmt.Errorf("google_drive: 'credentials_file' is required")
		}
	case "gcs":
		if u.GCS.Bucket == "" {
			return fmt.Errorf("gcs: 'bucket' is required")
		}
	case "s3":
		if u.S3.Bucket == "" {
			return fmt.Errorf("s3: 'bucket' is required")
		}
		if (u.S3.AccessKeyID == "") != (u.S3.SecretAccessKey == "") {
			return fmt.Errorf("s3: 'access_key_id' and 'secret_access_key' must be set together")
		}
	case "local":
		if u.Local.Directory == "" {
			return fmt.Errorf("local: 'directory' is required")
		}
	}
	return nil
}

// isValidAudioSource checks if a source name is valid for JACK/PipeWire
func isValidAudioSource(source string) bool {
	source = strings.TrimSpace(source)
	if source == "" {
		return false
	}

	lastColonIndex := strings.LastIndex(source, ":")
	if lastColonIndex == -1 {
		return true
	}

	deviceName := strings.TrimSpace(source[:lastColonIndex])
	port := strings.TrimSpace(source[lastColonIndex+1:])
	return len(deviceName) > 0 && len(port) > 0
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}

// Starter returns the root configuration written by "config init".
func Starter() *RootConfig {
	base := Default()
	audio := base.Audio
	logging := base.Logging
	telemetry := base.Telemetry
	return &RootConfig{
		ActiveConfig: "default",
		Audio:        &audio,
		Logging:      &logging,
		Telemetry:    &telemetry,
		Configs: map[string]*ConfigProfile{
			"default": {
				Recording: base.Recording,
				Upload:    base.Upload,
			},
			"dropbox": {
				Recording: RecordingConfig{DeleteAfter: true},
				Upload: UploadConfig{
					Backend: "dropbox",
					Dropbox: DropboxConfig{AccessToken: "${DROPBOX_ACCESS_TOKEN}", Folder: "/recordings"},
				},
			},
		},
	}
}

// WriteStarter writes Starter to configFile, refusing to overwrite an existing file.
func WriteStarter(configFile string) error {
	if _, err := os.Stat(configFile); err == nil {
		return fmt.Errorf("config file already exists: %s", configFile)
	}

	out, err := yaml.Marshal(Starter())
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(configFile), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(configFile, out, 0600); err != nil {
		return fmt.Errorf("error writing config file %s: %w", configFile, err)
	}
	return nil
}
