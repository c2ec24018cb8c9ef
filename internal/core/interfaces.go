// Package core defines the core business logic and interfaces for the voice
// conversion service.
package core

import "context"

// CanonicalSampleRate is the sample rate, in Hz, that the model engine
// operates at. Every waveform is resampled to this rate before segmentation.
const CanonicalSampleRate = 22050

// ReferenceConditioning is an opaque handle to the conditioning state the
// engine derived from a reference recording. It is computed once per job and
// reused across all chunks of that job.
type ReferenceConditioning []byte

// VoiceModelEngine is the external generative model collaborator. The
// Scheduler holds the single process-wide handle; no other component may
// invoke the engine directly.
type VoiceModelEngine interface {
	// PrepareReference derives conditioning state from a mono reference
	// waveform at the canonical sample rate.
	PrepareReference(ctx context.Context, reference []float64) (ReferenceConditioning, error)

	// Convert converts one source chunk into the reference timbre. The
	// returned waveform is mono at the canonical sample rate; its length
	// reflects the length-adjust factor in params.
	Convert(ctx context.Context, chunk []float64, conditioning ReferenceConditioning, params Params) ([]float64, error)

	// Ready reports whether the engine has its models loaded. A not-ready
	// engine is surfaced as ErrModelUnavailable on every request.
	Ready(ctx context.Context) error
}

// ObjectStore defines the interface for interacting with a key-value blob
// store holding job inputs and converted artifacts.
type ObjectStore interface {
	Download(ctx context.Context, key string) ([]byte, error)
	Upload(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
}
