package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/audiolibrelab/soundarchive/internal/config"
)

// ErrUnsupportedFormat is returned for formats no backend can capture.
var ErrUnsupportedFormat = errors.New("unsupported audio format")

// Format describes the raw PCM samples a Line delivers.
type Format struct {
	SampleRate    int
	BitsPerSample int
	Channels      int
	Signed        bool
	BigEndian     bool
}

// DefaultFormat is 16 kHz, 16 bit, stereo, signed, big endian.
var DefaultFormat = Format{
	SampleRate:    16000,
	BitsPerSample: 16,
	Channels:      2,
	Signed:        true,
	BigEndian:     true,
}

// FormatFromConfig builds the capture format from the audio section.
func FormatFromConfig(cfg config.AudioConfig) Format {
	return Format{
		SampleRate:    cfg.SampleRate,
		BitsPerSample: cfg.BitsPerSample,
		Channels:      cfg.Channels,
		Signed:        !cfg.Unsigned,
		BigEndian:     !strings.EqualFold(cfg.ByteOrder, "little"),
	}
}

func (f Format) Validate() error {
	if f.SampleRate <= 0 {
		return fmt.Errorf("%w: sample rate must be > 0, got %d", ErrUnsupportedFormat, f.SampleRate)
	}
	if f.Channels <= 0 {
		return fmt.Errorf("%w: channel count must be > 0, got %d", ErrUnsupportedFormat, f.Channels)
	}
	switch f.BitsPerSample {
	case 16, 24, 32:
	default:
		return fmt.Errorf("%w: %d bits per sample", ErrUnsupportedFormat, f.BitsPerSample)
	}
	return nil
}

func (f Format) BytesPerSample() int { return f.BitsPerSample / 8 }

// FrameSize is the size in bytes of one sample for every channel.
func (f Format) FrameSize() int { return f.BytesPerSample() * f.Channels }

func (f Format) BytesPerSecond() int { return f.FrameSize() * f.SampleRate }

func (f Format) ByteOrder() binary.ByteOrder {
	if f.BigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

func (f Format) String() string {
	sign := "signed"
	if !f.Signed {
		sign = "unsigned"
	}
	order := "little-endian"
	if f.BigEndian {
		order = "big-endian"
	}
	return fmt.Sprintf("%d Hz, %d bit, %d ch, %s, %s", f.SampleRate, f.BitsPerSample, f.Channels, sign, order)
}

// alsaName returns the arecord -f value, e.g. S16_BE.
func (f Format) alsaName() string {
	name := "S"
	if !f.Signed {
		name = "U"
	}
	name += fmt.Sprintf("%d", f.BitsPerSample)
	if f.BitsPerSample == 24 {
		// packed three byte samples, e.g. S24_3BE
		name += "_3"
	} else {
		name += "_"
	}
	if f.BigEndian {
		return name + "BE"
	}
	return name + "LE"
}

// ffmpegName returns the ffmpeg raw muxer name, e.g. s16be.
func (f Format) ffmpegName() string {
	name := "s"
	if !f.Signed {
		name = "u"
	}
	name += fmt.Sprintf("%d", f.BitsPerSample)
	if f.BigEndian {
		return name + "be"
	}
	return name + "le"
}

// decode appends the samples held in raw to dst as signed PCM values.
// raw must hold whole samples.
func (f Format) decode(raw []byte, dst []int) []int {
	width := f.BytesPerSample()
	bits := uint(f.BitsPerSample)
	for i := 0; i+width <= len(raw); i += width {
		var u uint32
		for j := 0; j < width; j++ {
			b := raw[i+j]
			if f.BigEndian {
				u = u<<8 | uint32(b)
			} else {
				u |= uint32(b) << (8 * uint(j))
			}
		}
		var v int
		if f.Signed {
			v = int(int32(u<<(32-bits)) >> (32 - bits))
		} else {
			v = int(int64(u) - int64(1)<<(bits-1))
		}
		dst = append(dst, v)
	}
	return dst
}

// encode writes the signed PCM value v into dst using the format's layout.
func (f Format) encode(v int, dst []byte) {
	width := f.BytesPerSample()
	bits := uint(f.BitsPerSample)
	var u uint32
	if f.Signed {
		u = uint32(int32(v))
	} else {
		u = uint32(int64(v) + int64(1)<<(bits-1))
	}
	for j := 0; j < width; j++ {
		shift := 8 * uint(j)
		if f.BigEndian {
			shift = 8 * uint(width-1-j)
		}
		dst[j] = byte(u >> shift)
	}
}

// maxAmplitude is the largest positive sample value.
func (f Format) maxAmplitude() int {
	return 1<<(uint(f.BitsPerSample)-1) - 1
}
