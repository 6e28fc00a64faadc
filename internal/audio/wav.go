package audio

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// wavPCMFormat is the WAVE format tag for integer PCM.
const wavPCMFormat = 1

// StreamToFile creates path and writes everything read from line into it as
// a WAV file, until the line reports end of stream after Stop. It returns the
// number of frames written.
//
// The WAV header is finalized on every return path, so after an aborted
// stream the partial file is still readable. Errors wrap ErrStreamAborted.
func StreamToFile(line Line, path string) (int64, error) {
	format := line.Format()
	if err := format.Validate(); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrStreamAborted, err)
	}

	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("%w: failed to create %s: %w", ErrStreamAborted, path, err)
	}

	enc := wav.NewEncoder(f, format.SampleRate, format.BitsPerSample, format.Channels, wavPCMFormat)
	buf := &goaudio.IntBuffer{
		Format: &goaudio.Format{
			NumChannels: format.Channels,
			SampleRate:  format.SampleRate,
		},
		SourceBitDepth: format.BitsPerSample,
	}

	frames, streamErr := pump(line, enc, buf, format)

	if err := enc.Close(); err != nil && streamErr == nil {
		streamErr = fmt.Errorf("%w: failed to finalize WAV header: %w", ErrStreamAborted, err)
	}
	if err := f.Close(); err != nil && streamErr == nil {
		streamErr = fmt.Errorf("%w: failed to close %s: %w", ErrStreamAborted, path, err)
	}

	if streamErr != nil {
		slog.Error("Audio stream aborted", "file", path, "frames", frames, "error", streamErr)
		return frames, streamErr
	}

	slog.Debug("Audio stream finished", "file", path, "frames", frames)
	return frames, nil
}

func pump(line Line, enc *wav.Encoder, buf *goaudio.IntBuffer, format Format) (int64, error) {
	frameSize := format.FrameSize()

	// An empty write emits the header, so a stream stopped before its first
	// frame still yields a valid file.
	if err := enc.Write(buf); err != nil {
		return 0, fmt.Errorf("%w: failed to write WAV header: %w", ErrStreamAborted, err)
	}

	raw := make([]byte, readBufferSize)
	var samples []int
	var frames int64
	carry := 0

	for {
		n, readErr := line.Read(raw[carry:])
		total := carry + n
		whole := total - total%frameSize

		if whole > 0 {
			samples = format.decode(raw[:whole], samples[:0])
			buf.Data = samples
			if err := enc.Write(buf); err != nil {
				return frames, fmt.Errorf("%w: failed to write samples: %w", ErrStreamAborted, err)
			}
			frames += int64(whole / frameSize)
		}
		carry = copy(raw, raw[whole:total])

		if readErr == nil {
			continue
		}
		if errors.Is(readErr, io.EOF) {
			if carry > 0 {
				slog.Debug("Dropping partial trailing frame", "bytes", carry)
			}
			return frames, nil
		}
		if errors.Is(readErr, ErrStreamAborted) {
			return frames, readErr
		}
		return frames, fmt.Errorf("%w: %w", ErrStreamAborted, readErr)
	}
}
