package worker

import (
	"time"

	"github.com/jgbrblmd/seed-vc/internal/core"
)

// EventHeader carries the identifiers shared by every event in a workflow.
type EventHeader struct {
	WorkflowID string    `json:"workflow_id"`
	EmittedAt  time.Time `json:"emitted_at"`
}

// ConversionRequestedEvent asks the worker to convert a source recording into
// the timbre of a reference recording. Both recordings are keys into the
// shared object store.
type ConversionRequestedEvent struct {
	Header       EventHeader `json:"header"`
	SourceKey    string      `json:"source_key"`
	ReferenceKey string      `json:"reference_key"`
	Params       core.Params `json:"params"`
}

// ConversionCompletedEvent is the reply published when a conversion finishes.
// On failure, ErrorKind and Message describe the fault and the artifact keys
// are empty.
type ConversionCompletedEvent struct {
	Header               EventHeader `json:"header"`
	Success              bool        `json:"success"`
	FullArtifactKey      string      `json:"full_artifact_key,omitempty"`
	StreamingArtifactKey string      `json:"streaming_artifact_key,omitempty"`
	OutputFormat         string      `json:"output_format"`
	Chunks               int         `json:"chunks"`
	ProcessingSeconds    float64     `json:"processing_seconds"`
	ErrorKind            string      `json:"error_kind,omitempty"`
	Message              string      `json:"message,omitempty"`
}
