package core

import "errors"

// Error taxonomy for the conversion pipeline. Every user-visible failure
// wraps exactly one of these sentinels so transports can map it to a
// structured response instead of leaking a raw internal fault.
var (
	// ErrValidation indicates an out-of-range or missing/conflicting
	// parameter. Rejected before any engine access, no side effects.
	ErrValidation = errors.New("validation error")
	// ErrInput indicates unreadable, missing, or unsupported-format audio.
	ErrInput = errors.New("input error")
	// ErrModelUnavailable indicates the engine has no models loaded. It is
	// reported identically on every request until resolved.
	ErrModelUnavailable = errors.New("model unavailable")
	// ErrProcessing indicates an engine failure mid-job. The job is aborted
	// with no partial result; cleanup still runs.
	ErrProcessing = errors.New("processing error")
	// ErrIO indicates a temp-artifact read or write failure.
	ErrIO = errors.New("io error")
)

// Error kind tags carried in structured failure responses.
const (
	KindValidation       = "validation_error"
	KindInput            = "input_error"
	KindModelUnavailable = "model_unavailable"
	KindProcessing       = "processing_error"
	KindIO               = "io_error"
	KindInternal         = "internal_error"
)

// ErrorKind classifies an error against the taxonomy. Unrecognized errors
// are reported as internal, never as a raw fault.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrInput):
		return KindInput
	case errors.Is(err, ErrModelUnavailable):
		return KindModelUnavailable
	case errors.Is(err, ErrProcessing):
		return KindProcessing
	case errors.Is(err, ErrIO):
		return KindIO
	default:
		return KindInternal
	}
}
