// Package audio provides the waveform processing stages of the conversion
// pipeline: source resolution and decoding, silence-aware segmentation,
// cross-faded chunk assembly, and container encoding.
//
// All waveforms inside this package are mono float64 sample slices in the
// range [-1, 1] at the engine's canonical sample rate.
package audio
