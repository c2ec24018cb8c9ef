package audio

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"

	"github.com/jgbrblmd/seed-vc/internal/core"
)

// Provenance records which source slot an asset came from.
type Provenance string

// Source slot provenance values.
const (
	ProvenancePath   Provenance = "path"
	ProvenanceInline Provenance = "inline"
	ProvenanceUpload Provenance = "upload"
)

// Resolver input errors.
var (
	ErrNoSource           = fmt.Errorf("%w: no audio source supplied", core.ErrInput)
	ErrConflictingSources = fmt.Errorf("%w: more than one audio source slot populated", core.ErrInput)
	ErrPathNotFound       = fmt.Errorf("%w: audio path does not exist", core.ErrInput)
	ErrBadTransportText   = fmt.Errorf("%w: transport-encoded audio is not valid base64", core.ErrInput)
	ErrUnknownContainer   = fmt.Errorf("%w: unrecognized audio container", core.ErrInput)
	ErrEmptyAudio         = fmt.Errorf("%w: audio contains no samples", core.ErrInput)
)

// Source describes one audio input in exactly one of three forms: an on-disk
// path, raw uploaded bytes, or transport-encoded text. Populating zero or
// more than one slot is an input error.
type Source struct {
	// Path points to an audio file on the service host.
	Path string
	// Upload carries raw bytes received through a file upload.
	Upload []byte
	// Inline carries base64 transport-encoded audio bytes.
	Inline string
}

// Metadata describes the original recording before normalization.
type Metadata struct {
	DurationSeconds float64 `json:"duration"`
	SampleRate      int     `json:"sample_rate"`
	Channels        int     `json:"channels"`
	ByteSize        int     `json:"file_size"`
	Format          string  `json:"file_format"`
}

// Asset is a decoded recording normalized for the engine: mono samples at
// the canonical sample rate, plus metadata about the original container.
type Asset struct {
	Samples    []float64
	SampleRate int
	Provenance Provenance
	Info       Metadata
}

// Duration returns the normalized waveform length in seconds.
func (a *Asset) Duration() float64 {
	return float64(len(a.Samples)) / float64(a.SampleRate)
}

// Resolve normalizes a source description into a decoded Asset. WAV
// containers are decoded natively; anything else goes through ffmpeg. The
// result is always mono at the canonical sample rate.
func Resolve(ctx context.Context, src Source) (*Asset, error) {
	data, provenance, resolveErr := src.bytes()
	if resolveErr != nil {
		return nil, resolveErr
	}

	format := DetectFormat(data)
	if format == "" {
		return nil, ErrUnknownContainer
	}

	var (
		samples    []float64
		sampleRate int
		channels   int
	)

	if format == string(core.FormatWAV) {
		var decodeErr error

		samples, sampleRate, channels, decodeErr = DecodeWAV(data)
		if decodeErr != nil {
			return nil, fmt.Errorf("%w: %w", core.ErrInput, decodeErr)
		}
	} else {
		wavData, transcodeErr := transcodeToWAV(ctx, data, format)
		if transcodeErr != nil {
			return nil, fmt.Errorf("%w: failed to decode %s audio: %w", core.ErrInput, format, transcodeErr)
		}

		var decodeErr error

		samples, sampleRate, channels, decodeErr = DecodeWAV(wavData)
		if decodeErr != nil {
			return nil, fmt.Errorf("%w: %w", core.ErrInput, decodeErr)
		}
	}

	if len(samples) == 0 {
		return nil, ErrEmptyAudio
	}

	info := Metadata{
		DurationSeconds: float64(len(samples)/channels) / float64(sampleRate),
		SampleRate:      sampleRate,
		Channels:        channels,
		ByteSize:        len(data),
		Format:          format,
	}

	mono := DownmixMono(samples, channels)
	mono = Resample(mono, sampleRate, core.CanonicalSampleRate)

	return &Asset{
		Samples:    mono,
		SampleRate: core.CanonicalSampleRate,
		Provenance: provenance,
		Info:       info,
	}, nil
}

// bytes loads the populated slot, enforcing the exactly-one contract.
func (s Source) bytes() ([]byte, Provenance, error) {
	populated := 0

	if s.Path != "" {
		populated++
	}

	if len(s.Upload) > 0 {
		populated++
	}

	if s.Inline != "" {
		populated++
	}

	switch {
	case populated == 0:
		return nil, "", ErrNoSource
	case populated > 1:
		return nil, "", ErrConflictingSources
	}

	if s.Path != "" {
		data, readErr := os.ReadFile(s.Path)
		if readErr != nil {
			if os.IsNotExist(readErr) {
				return nil, "", fmt.Errorf("%w: %s", ErrPathNotFound, s.Path)
			}

			return nil, "", fmt.Errorf("%w: failed to read %s: %w", core.ErrInput, s.Path, readErr)
		}

		return data, ProvenancePath, nil
	}

	if len(s.Upload) > 0 {
		return s.Upload, ProvenanceUpload, nil
	}

	data, decodeErr := base64.StdEncoding.DecodeString(s.Inline)
	if decodeErr != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrBadTransportText, decodeErr)
	}

	return data, ProvenanceInline, nil
}

// DetectFormat sniffs the container type from magic bytes. It returns the
// empty string for anything outside the recognized set.
func DetectFormat(data []byte) string {
	const headerLen = 12

	if len(data) < headerLen {
		return ""
	}

	switch {
	case string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE":
		return "wav"
	case string(data[0:4]) == "OggS":
		return "ogg"
	case string(data[0:4]) == "fLaC":
		return "flac"
	case string(data[0:3]) == "ID3":
		return "mp3"
	case data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		return "mp3"
	default:
		return ""
	}
}
