package audio

import (
	"fmt"
	"log/slog"

	"github.com/audiolibrelab/soundarchive/internal/config"
)

// jackClientName is the JACK client ffmpeg registers; its inputs are
// jackClientName:input_1..N.
const jackClientName = "soundarchive"

// PipeWireBackend captures through ffmpeg's JACK input under pw-jack and wires
// the configured source ports to it.
type PipeWireBackend struct {
	pipewire *PipeWire
}

// NewDevice creates a PipeWire capture device
func (p *PipeWireBackend) NewDevice(cfg config.AudioConfig) Device {
	sources := append([]string(nil), cfg.Sources...)
	channels := cfg.Channels

	return &execDevice{
		name: "pipewire:" + jackClientName,
		tool: "pw-jack",
		command: func(f Format) ([]string, []string) {
			args := []string{
				"pw-jack",
				"ffmpeg",
				"-hide_banner", "-nostdin",
				"-loglevel", "error",
				"-f", "jack",
				"-channels", fmt.Sprintf("%d", f.Channels),
				"-i", jackClientName,
				"-ar", fmt.Sprintf("%d", f.SampleRate),
				"-f", f.ffmpegName(),
				"pipe:1",
			}
			env := []string{
				"PIPEWIRE_QUANTUM=256/48000",
				"PIPEWIRE_LATENCY=256/48000",
			}
			return args, env
		},
		afterStart: func() error {
			return p.connectSources(sources, channels)
		},
		startTimeout: cfg.StartTimeout,
	}
}

// connectSources wires source i to input_{i+1} of the capture client.
func (p *PipeWireBackend) connectSources(sources []string, channels int) error {
	for i, source := range sources {
		if i >= channels {
			slog.Warn("More PipeWire sources than capture channels, ignoring", "source", source)
			continue
		}

		destPort := fmt.Sprintf("%s:input_%d", jackClientName, i+1)
		if err := p.pipewire.WaitForPort(destPort, defaultStartTimeout); err != nil {
			return fmt.Errorf("capture input did not appear: %w", err)
		}

		if err := p.pipewire.ConnectPortsWithRetry(source, destPort); err != nil {
			return err
		}
		slog.Info("Connected source", "source", source, "dest", destPort)
	}
	return nil
}

// ListSources returns available PipeWire/JACK ports
func (p *PipeWireBackend) ListSources() ([]string, error) {
	return p.pipewire.ListPorts()
}

// ValidateSource validates a PipeWire/JACK source
func (p *PipeWireBackend) ValidateSource(source string) error {
	if source == "" {
		return nil
	}
	return p.pipewire.ValidatePort(source)
}

// GetType returns the backend type
func (p *PipeWireBackend) GetType() BackendType {
	return BackendTypePipeWire
}

func (p *PipeWireBackend) Tool() string {
	return "pw-jack"
}
