package audio

import (
	"math"
	"sync"
)

// DefaultCrossfadeSamples is the boundary cross-fade length: two engine hops
// at the canonical rate, about 23 ms. The length stays constant in samples so
// per-chunk length adjustment never changes the fade geometry.
const DefaultCrossfadeSamples = 512

// Assembler reassembles converted chunks into a progressively growing
// streaming artifact and, once every chunk has arrived, the full artifact.
// Internal chunk boundaries get a constant-power cross-fade to mask the
// engine's chunk-local normalization.
//
// Append must be called in chunk index order. Streaming may be called
// concurrently from other goroutines at any point.
type Assembler struct {
	mu        sync.RWMutex
	crossfade int
	buf       []float64
	appended  int
}

// NewAssembler creates an assembler with the given cross-fade length in
// samples. Non-positive lengths disable the fade and produce plain
// concatenation.
func NewAssembler(crossfadeSamples int) *Assembler {
	if crossfadeSamples < 0 {
		crossfadeSamples = 0
	}

	return &Assembler{crossfade: crossfadeSamples}
}

// Append merges the next converted chunk into the output, cross-fading over
// the boundary with the previous chunk.
func (a *Assembler) Append(chunk []float64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.appended == 0 {
		a.buf = append(a.buf, chunk...)
		a.appended++

		return
	}

	fade := a.crossfade
	if fade > len(a.buf) {
		fade = len(a.buf)
	}

	if fade > len(chunk) {
		fade = len(chunk)
	}

	// The ramp spans the closed interval: the first faded sample keeps the
	// old chunk at full weight and the last hands off entirely to the new
	// one, so neither fade end leaves a residual step.
	tail := len(a.buf) - fade
	for i := range fade {
		theta := math.Pi / 4
		if fade > 1 {
			theta = math.Pi / 2 * float64(i) / float64(fade-1)
		}

		a.buf[tail+i] = a.buf[tail+i]*math.Cos(theta) + chunk[i]*math.Sin(theta)
	}

	a.buf = append(a.buf, chunk[fade:]...)
	a.appended++
}

// Streaming returns a snapshot of the artifact assembled so far. The
// snapshot is a valid playable prefix of the eventual full artifact.
func (a *Assembler) Streaming() []float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]float64, len(a.buf))
	copy(out, a.buf)

	return out
}

// Full returns the completed artifact. It is identical to the streaming
// snapshot taken after the final chunk was appended.
func (a *Assembler) Full() []float64 {
	return a.Streaming()
}

// Appended reports how many chunks have been merged so far.
func (a *Assembler) Appended() int {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return a.appended
}
