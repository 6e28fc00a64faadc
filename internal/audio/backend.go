package audio

import (
	"fmt"
	"os/exec"
	"strings"

	"github.com/audiolibrelab/soundarchive/internal/config"
)

// BackendType represents the type of audio backend
type BackendType string

const (
	BackendTypeALSA     BackendType = "alsa"
	BackendTypePulse    BackendType = "pulse"
	BackendTypePipeWire BackendType = "pipewire"
	BackendTypeTone     BackendType = "tone"
)

// AudioBackend defines the interface for audio backend implementations
type AudioBackend interface {
	// Create a capture device for the configured input
	NewDevice(cfg config.AudioConfig) Device

	// List available audio sources
	ListSources() ([]string, error)

	// Validate if a source is available
	ValidateSource(source string) error

	// Get the backend type
	GetType() BackendType

	// Tool returns the executable the backend needs, or "" for none.
	Tool() string
}

// NewDevice creates a capture device using the backend named in the configuration
func NewDevice(cfg config.AudioConfig) (Device, error) {
	backend, err := BackendFor(cfg.Backend)
	if err != nil {
		return nil, err
	}
	return backend.NewDevice(cfg), nil
}

// BackendFor returns the backend registered under name.
func BackendFor(name string) (AudioBackend, error) {
	switch BackendType(strings.ToLower(name)) {
	case BackendTypeALSA, "":
		return &ALSABackend{}, nil
	case BackendTypePulse:
		return &PulseBackend{}, nil
	case BackendTypePipeWire:
		return &PipeWireBackend{pipewire: NewPipeWire()}, nil
	case BackendTypeTone:
		return &ToneBackend{}, nil
	default:
		return nil, fmt.Errorf("unknown audio backend: %s", name)
	}
}

// GetAvailableBackends returns the backends whose tools exist on this system
func GetAvailableBackends() []BackendType {
	var backends []BackendType
	for _, t := range []BackendType{BackendTypeALSA, BackendTypePulse, BackendTypePipeWire, BackendTypeTone} {
		backend, err := BackendFor(string(t))
		if err != nil {
			continue
		}
		if tool := backend.Tool(); tool != "" {
			if _, err := exec.LookPath(tool); err != nil {
				continue
			}
		}
		backends = append(backends, t)
	}
	return backends
}

// ALSABackend captures with arecord.
type ALSABackend struct{}

func (a *ALSABackend) NewDevice(cfg config.AudioConfig) Device {
	device := cfg.Device
	if device == "" {
		device = "default"
	}
	return &execDevice{
		name: "alsa:" + device,
		tool: "arecord",
		command: func(f Format) ([]string, []string) {
			return []string{
				"arecord",
				"-D", device,
				"-t", "raw",
				"-f", f.alsaName(),
				"-r", fmt.Sprintf("%d", f.SampleRate),
				"-c", fmt.Sprintf("%d", f.Channels),
				"-q",
			}, nil
		},
		startTimeout: cfg.StartTimeout,
	}
}

// ListSources returns the capture PCM names reported by arecord -L
func (a *ALSABackend) ListSources() ([]string, error) {
	output, err := exec.Command("arecord", "-L").Output()
	if err != nil {
		return nil, fmt.Errorf("failed to list ALSA devices: %w", err)
	}
	return parseALSADevices(string(output)), nil
}

func (a *ALSABackend) ValidateSource(source string) error {
	return validateInList(a, source)
}

func (a *ALSABackend) GetType() BackendType {
	return BackendTypeALSA
}

func (a *ALSABackend) Tool() string {
	return "arecord"
}

// parseALSADevices keeps the unindented PCM names of arecord -L output.
func parseALSADevices(output string) []string {
	var devices []string
	for _, line := range strings.Split(output, "\n") {
		if line == "" || strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t") {
			continue
		}
		devices = append(devices, strings.TrimSpace(line))
	}
	return devices
}

// PulseBackend captures from a PulseAudio (or pipewire-pulse) source through ffmpeg.
type PulseBackend struct{}

func (p *PulseBackend) NewDevice(cfg config.AudioConfig) Device {
	device := cfg.Device
	if device == "" {
		device = "default"
	}
	return &execDevice{
		name: "pulse:" + device,
		tool: "ffmpeg",
		command: func(f Format) ([]string, []string) {
			return []string{
				"ffmpeg",
				"-hide_banner", "-nostdin",
				"-loglevel", "error",
				"-f", "pulse",
				"-i", device,
				"-ar", fmt.Sprintf("%d", f.SampleRate),
				"-ac", fmt.Sprintf("%d", f.Channels),
				"-f", f.ffmpegName(),
				"pipe:1",
			}, nil
		},
		startTimeout: cfg.StartTimeout,
	}
}

// ListSources returns source names from pactl list short sources
func (p *PulseBackend) ListSources() ([]string, error) {
	output, err := exec.Command("pactl", "list", "short", "sources").Output()
	if err != nil {
		return nil, fmt.Errorf("failed to list PulseAudio sources: %w", err)
	}
	return parsePulseSources(string(output)), nil
}

func (p *PulseBackend) ValidateSource(source string) error {
	return validateInList(p, source)
}

func (p *PulseBackend) GetType() BackendType {
	return BackendTypePulse
}

func (p *PulseBackend) Tool() string {
	return "ffmpeg"
}

// parsePulseSources extracts the name column of pactl's short listing.
func parsePulseSources(output string) []string {
	var sources []string
	for _, line := range strings.Split(output, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		sources = append(sources, fields[1])
	}
	return sources
}

// validateInList accepts the "default" source and anything the backend lists.
func validateInList(backend AudioBackend, source string) error {
	if source == "" || source == "default" {
		return nil
	}
	sources, err := backend.ListSources()
	if err != nil {
		return err
	}
	for _, s := range sources {
		if s == source {
			return nil
		}
	}
	return fmt.Errorf("source not found: %s", source)
}
