package core

import "fmt"

// Format identifies an output container from the closed supported set.
type Format string

// Supported output formats. WAV is the lossless container; MP3 and OGG are
// the lossy-compressed variants.
const (
	FormatWAV Format = "wav"
	FormatMP3 Format = "mp3"
	FormatOGG Format = "ogg"
)

// Parameter ranges enforced at construction time.
const (
	MinDiffusionSteps = 1
	MaxDiffusionSteps = 200

	MinLengthAdjust = 0.5
	MaxLengthAdjust = 2.0

	MinCFGRate = 0.0
	MaxCFGRate = 1.0

	MinTopP = 0.1
	MaxTopP = 1.0

	MinTemperature = 0.1
	MaxTemperature = 2.0

	MinRepetitionPenalty = 1.0
	MaxRepetitionPenalty = 3.0
)

// Duration ceilings, in seconds. Sources beyond the pre-segmentation ceiling
// and references beyond their ceiling are rejected outright; a reference is a
// single conditioning example, never a stream to split.
const (
	MaxSourceSeconds    = 240.0
	MaxReferenceSeconds = 120.0
)

// Default parameter values, matching the public API contract.
const (
	DefaultDiffusionSteps    = 30
	DefaultLengthAdjust      = 1.0
	DefaultCFGRate           = 0.5
	DefaultTopP              = 0.9
	DefaultTemperature       = 1.0
	DefaultRepetitionPenalty = 1.0
)

// Parameter range errors.
var (
	ErrDiffusionStepsRange    = fmt.Errorf("%w: diffusion_steps must be between %d and %d", ErrValidation, MinDiffusionSteps, MaxDiffusionSteps)
	ErrLengthAdjustRange      = fmt.Errorf("%w: length_adjust must be between %.1f and %.1f", ErrValidation, MinLengthAdjust, MaxLengthAdjust)
	ErrIntelligibilityRange   = fmt.Errorf("%w: intelligibility_cfg_rate must be between %.1f and %.1f", ErrValidation, MinCFGRate, MaxCFGRate)
	ErrSimilarityRange        = fmt.Errorf("%w: similarity_cfg_rate must be between %.1f and %.1f", ErrValidation, MinCFGRate, MaxCFGRate)
	ErrTopPRange              = fmt.Errorf("%w: top_p must be between %.1f and %.1f", ErrValidation, MinTopP, MaxTopP)
	ErrTemperatureRange       = fmt.Errorf("%w: temperature must be between %.1f and %.1f", ErrValidation, MinTemperature, MaxTemperature)
	ErrRepetitionPenaltyRange = fmt.Errorf("%w: repetition_penalty must be between %.1f and %.1f", ErrValidation, MinRepetitionPenalty, MaxRepetitionPenalty)
	ErrUnsupportedFormat      = fmt.Errorf("%w: output_format must be one of wav, mp3, ogg", ErrValidation)
	ErrSourceTooLong          = fmt.Errorf("%w: source audio exceeds %.0f seconds", ErrValidation, MaxSourceSeconds)
	ErrReferenceTooLong       = fmt.Errorf("%w: reference audio exceeds %.0f seconds", ErrValidation, MaxReferenceSeconds)
)

// Params holds the generation and output settings for one conversion job.
type Params struct {
	DiffusionSteps     int     `json:"diffusion_steps"`
	LengthAdjust       float64 `json:"length_adjust"`
	IntelligibilityCFG float64 `json:"intelligibility_cfg_rate"`
	SimilarityCFG      float64 `json:"similarity_cfg_rate"`
	TopP               float64 `json:"top_p"`
	Temperature        float64 `json:"temperature"`
	RepetitionPenalty  float64 `json:"repetition_penalty"`
	ConvertStyle       bool    `json:"convert_style"`
	AnonymizationOnly  bool    `json:"anonymization_only"`
	OutputFormat       Format  `json:"output_format"`
	ReturnBase64       bool    `json:"return_base64"`
	CleanupTempFiles   bool    `json:"cleanup_temp_files"`
}

// DefaultParams returns the documented defaults for a conversion request.
func DefaultParams() Params {
	return Params{
		DiffusionSteps:     DefaultDiffusionSteps,
		LengthAdjust:       DefaultLengthAdjust,
		IntelligibilityCFG: DefaultCFGRate,
		SimilarityCFG:      DefaultCFGRate,
		TopP:               DefaultTopP,
		Temperature:        DefaultTemperature,
		RepetitionPenalty:  DefaultRepetitionPenalty,
		ConvertStyle:       false,
		AnonymizationOnly:  false,
		OutputFormat:       FormatWAV,
		ReturnBase64:       false,
		CleanupTempFiles:   true,
	}
}

// NewParams builds a validated parameter set from raw values. Construction
// fails with a ValidationError before any engine access if a value is out of
// its enumerated range.
func NewParams(raw Params) (Params, error) {
	validateErr := raw.Validate()
	if validateErr != nil {
		return Params{}, validateErr
	}

	return raw, nil
}

// Validate checks every parameter against its enumerated range.
func (p Params) Validate() error {
	if p.DiffusionSteps < MinDiffusionSteps || p.DiffusionSteps > MaxDiffusionSteps {
		return ErrDiffusionStepsRange
	}

	if p.LengthAdjust < MinLengthAdjust || p.LengthAdjust > MaxLengthAdjust {
		return ErrLengthAdjustRange
	}

	if p.IntelligibilityCFG < MinCFGRate || p.IntelligibilityCFG > MaxCFGRate {
		return ErrIntelligibilityRange
	}

	if p.SimilarityCFG < MinCFGRate || p.SimilarityCFG > MaxCFGRate {
		return ErrSimilarityRange
	}

	if p.TopP < MinTopP || p.TopP > MaxTopP {
		return ErrTopPRange
	}

	if p.Temperature < MinTemperature || p.Temperature > MaxTemperature {
		return ErrTemperatureRange
	}

	if p.RepetitionPenalty < MinRepetitionPenalty || p.RepetitionPenalty > MaxRepetitionPenalty {
		return ErrRepetitionPenaltyRange
	}

	return p.OutputFormat.Validate()
}

// Validate checks the format tag against the closed supported set.
func (f Format) Validate() error {
	switch f {
	case FormatWAV, FormatMP3, FormatOGG:
		return nil
	default:
		return fmt.Errorf("%w: got %q", ErrUnsupportedFormat, string(f))
	}
}

// Lossless reports whether the format preserves the waveform exactly.
func (f Format) Lossless() bool {
	return f == FormatWAV
}
