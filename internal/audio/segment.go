package audio

import (
	"fmt"
	"math"

	"github.com/jgbrblmd/seed-vc/internal/core"
)

// Segmenter defaults, expressed against the canonical sample rate.
const (
	// DefaultMaxChunkSeconds is the engine's maximum admissible span.
	DefaultMaxChunkSeconds = 30.0
	// DefaultSilenceThreshold is the RMS energy below which a frame is
	// treated as silent.
	DefaultSilenceThreshold = 0.02
	// DefaultMinSilenceSeconds is the minimum silent run that qualifies as
	// a cut candidate.
	DefaultMinSilenceSeconds = 0.3
	// DefaultSearchWindowSeconds is how far below the max-chunk boundary
	// the segmenter will look for a silence cut before forcing a hard cut.
	DefaultSearchWindowSeconds = 5.0

	energyFrameSamples = 512
)

// Segmenter configuration errors.
var (
	ErrMaxChunkNotPositive = fmt.Errorf("%w: max chunk duration must be positive", core.ErrValidation)
	ErrWindowNegative      = fmt.Errorf("%w: search window must be non-negative", core.ErrValidation)
)

// Chunk is a contiguous slice of a source recording sized to the engine's
// admissible span. Index defines output order; Start and End are sample
// offsets into the source waveform.
type Chunk struct {
	Index   int
	Start   int
	End     int
	Samples []float64
}

// SegmenterConfig controls silence-aware segmentation. All sample counts are
// at the canonical sample rate.
type SegmenterConfig struct {
	MaxChunkSamples     int
	SilenceThreshold    float64
	MinSilenceSamples   int
	SearchWindowSamples int
}

// DefaultSegmenterConfig returns the segmenter defaults at the canonical
// sample rate.
func DefaultSegmenterConfig() SegmenterConfig {
	rate := float64(core.CanonicalSampleRate)

	return SegmenterConfig{
		MaxChunkSamples:     int(DefaultMaxChunkSeconds * rate),
		SilenceThreshold:    DefaultSilenceThreshold,
		MinSilenceSamples:   int(DefaultMinSilenceSeconds * rate),
		SearchWindowSamples: int(DefaultSearchWindowSeconds * rate),
	}
}

// Segment splits a waveform into an ordered, gapless, non-overlapping chunk
// sequence in which every chunk fits the engine's admissible span. Cut
// points prefer the silence candidate closest below each max-chunk boundary
// within the search window; without one, a hard cut lands exactly on the
// boundary. A waveform that already fits comes back as a single chunk, and
// the trailing remainder is always kept no matter how short.
func Segment(samples []float64, cfg SegmenterConfig) ([]Chunk, error) {
	if cfg.MaxChunkSamples <= 0 {
		return nil, ErrMaxChunkNotPositive
	}

	if cfg.SearchWindowSamples < 0 {
		return nil, ErrWindowNegative
	}

	if len(samples) == 0 {
		return nil, ErrEmptyWaveform
	}

	if len(samples) <= cfg.MaxChunkSamples {
		return []Chunk{{Index: 0, Start: 0, End: len(samples), Samples: samples}}, nil
	}

	candidates := silenceCutPoints(samples, cfg)

	var chunks []Chunk

	start := 0
	for len(samples)-start > cfg.MaxChunkSamples {
		boundary := start + cfg.MaxChunkSamples
		cut := bestCut(candidates, start, boundary, cfg.SearchWindowSamples)

		if cut < 0 {
			cut = boundary
		}

		chunks = append(chunks, Chunk{
			Index:   len(chunks),
			Start:   start,
			End:     cut,
			Samples: samples[start:cut],
		})
		start = cut
	}

	chunks = append(chunks, Chunk{
		Index:   len(chunks),
		Start:   start,
		End:     len(samples),
		Samples: samples[start:],
	})

	return chunks, nil
}

// bestCut returns the largest candidate in (start, boundary] no further than
// window below the boundary, or -1 when no candidate qualifies.
func bestCut(candidates []int, start, boundary, window int) int {
	best := -1

	for _, c := range candidates {
		if c <= start || c > boundary {
			continue
		}

		if c < boundary-window {
			continue
		}

		if c > best {
			best = c
		}
	}

	return best
}

// silenceCutPoints scans frame energies and returns the midpoint of every
// silent run at least MinSilenceSamples long.
func silenceCutPoints(samples []float64, cfg SegmenterConfig) []int {
	var (
		cuts     []int
		runStart = -1
	)

	flush := func(runEnd int) {
		if runStart < 0 {
			return
		}

		if runEnd-runStart >= cfg.MinSilenceSamples {
			cuts = append(cuts, runStart+(runEnd-runStart)/2)
		}

		runStart = -1
	}

	for offset := 0; offset < len(samples); offset += energyFrameSamples {
		end := offset + energyFrameSamples
		if end > len(samples) {
			end = len(samples)
		}

		if frameRMS(samples[offset:end]) < cfg.SilenceThreshold {
			if runStart < 0 {
				runStart = offset
			}
		} else {
			flush(offset)
		}
	}

	flush(len(samples))

	return cuts
}

func frameRMS(frame []float64) float64 {
	if len(frame) == 0 {
		return 0
	}

	var energy float64
	for _, s := range frame {
		energy += s * s
	}

	return math.Sqrt(energy / float64(len(frame)))
}
