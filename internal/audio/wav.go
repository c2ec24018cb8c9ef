package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"

	gosamples "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WAV codec settings. The pipeline stores waveforms as float64 but encodes
// 16-bit PCM, the format the engine service produces and consumes.
const (
	wavBitDepth    = 16
	wavAudioFormat = 1 // PCM
	pcm16Scale     = 1 << (wavBitDepth - 1)
	pcm16Max       = pcm16Scale - 1
	pcm16Min       = -pcm16Scale
)

// WAV codec errors.
var (
	ErrNotWAV        = errors.New("data is not a valid WAV container")
	ErrEmptyWaveform = errors.New("waveform is empty")
)

// DecodeWAV decodes a WAV container into interleaved float64 samples in
// [-1, 1], returning the container's sample rate and channel count.
func DecodeWAV(data []byte) ([]float64, int, int, error) {
	decoder := wav.NewDecoder(bytes.NewReader(data))
	if !decoder.IsValidFile() {
		return nil, 0, 0, ErrNotWAV
	}

	buf, readErr := decoder.FullPCMBuffer()
	if readErr != nil {
		return nil, 0, 0, fmt.Errorf("failed to read PCM data: %w", readErr)
	}

	if buf == nil || len(buf.Data) == 0 {
		return nil, 0, 0, ErrNotWAV
	}

	scale := float64(int(1) << (decoder.BitDepth - 1))
	samples := make([]float64, len(buf.Data))

	for i, v := range buf.Data {
		samples[i] = float64(v) / scale
	}

	return samples, buf.Format.SampleRate, buf.Format.NumChannels, nil
}

// EncodeWAV encodes a mono waveform as a 16-bit PCM WAV container.
func EncodeWAV(samples []float64, sampleRate int) ([]byte, error) {
	if len(samples) == 0 {
		return nil, ErrEmptyWaveform
	}

	buf := &gosamples.IntBuffer{
		Format: &gosamples.Format{
			NumChannels: 1,
			SampleRate:  sampleRate,
		},
		Data:           make([]int, len(samples)),
		SourceBitDepth: wavBitDepth,
	}

	for i, s := range samples {
		buf.Data[i] = quantize16(s)
	}

	out := &seekableBuffer{}

	encoder := wav.NewEncoder(out, sampleRate, wavBitDepth, 1, wavAudioFormat)

	writeErr := encoder.Write(buf)
	if writeErr != nil {
		return nil, fmt.Errorf("failed to write PCM data: %w", writeErr)
	}

	closeErr := encoder.Close()
	if closeErr != nil {
		return nil, fmt.Errorf("failed to finalize WAV container: %w", closeErr)
	}

	return out.data, nil
}

// Quantize16 rounds a waveform to the 16-bit PCM grid in place. Waveforms on
// this grid survive a WAV encode/decode cycle exactly.
func Quantize16(samples []float64) {
	for i, s := range samples {
		samples[i] = float64(quantize16(s)) / pcm16Scale
	}
}

func quantize16(s float64) int {
	v := int(math.Round(s * pcm16Scale))
	if v > pcm16Max {
		v = pcm16Max
	}

	if v < pcm16Min {
		v = pcm16Min
	}

	return v
}

// seekableBuffer adapts an in-memory byte slice to io.WriteSeeker so the WAV
// encoder can backpatch the RIFF header without a temp file.
type seekableBuffer struct {
	data []byte
	pos  int
}

func (b *seekableBuffer) Write(p []byte) (int, error) {
	if need := b.pos + len(p); need > len(b.data) {
		grown := make([]byte, need)
		copy(grown, b.data)
		b.data = grown
	}

	copy(b.data[b.pos:], p)
	b.pos += len(p)

	return len(p), nil
}

func (b *seekableBuffer) Seek(offset int64, whence int) (int64, error) {
	var next int

	switch whence {
	case io.SeekStart:
		next = int(offset)
	case io.SeekCurrent:
		next = b.pos + int(offset)
	case io.SeekEnd:
		next = len(b.data) + int(offset)
	default:
		return 0, fmt.Errorf("invalid whence value %d", whence)
	}

	if next < 0 {
		return 0, errors.New("seek before start of buffer")
	}

	b.pos = next

	return int64(next), nil
}
