// Package engine provides the HTTP implementation of the voice model engine
// collaborator. It speaks to a standalone model server that hosts the
// autoregressive and diffusion checkpoints.
package engine

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jgbrblmd/seed-vc/internal/audio"
	"github.com/jgbrblmd/seed-vc/internal/core"
)

// API endpoints and paths.
const (
	apiPrepareReference = "/v1/reference"
	apiConvert          = "/v1/convert"
	apiHealth           = "/health"
)

// HTTP headers.
const (
	headerContentType = "Content-Type"
	headerAccept      = "Accept"
	contentTypeJSON   = "application/json"
	contentTypeWAV    = "audio/wav"
)

// Engine client errors.
var (
	ErrEmptyReference        = errors.New("reference waveform cannot be empty")
	ErrEmptyChunk            = errors.New("chunk waveform cannot be empty")
	ErrEmptyConditioning     = errors.New("conditioning handle cannot be empty")
	ErrReceivedEmptyAudio    = errors.New("received empty audio data")
	ErrUnexpectedContentType = errors.New("unexpected response content type")
	ErrModelsNotLoaded       = errors.New("model server reports models not loaded")
)

// HTTPEngine implements core.VoiceModelEngine over the model server's HTTP
// API. One instance is constructed at process start and handed to the
// Scheduler; nothing else talks to the model server.
type HTTPEngine struct {
	httpClient *http.Client
	baseURL    string
}

// conversionRequest is the JSON payload for a chunk conversion call.
type conversionRequest struct {
	AudioBase64        string  `json:"audio_base64"`
	ConditioningID     string  `json:"conditioning_id"`
	DiffusionSteps     int     `json:"diffusion_steps"`
	LengthAdjust       float64 `json:"length_adjust"`
	IntelligibilityCFG float64 `json:"intelligibility_cfg_rate"`
	SimilarityCFG      float64 `json:"similarity_cfg_rate"`
	TopP               float64 `json:"top_p"`
	Temperature        float64 `json:"temperature"`
	RepetitionPenalty  float64 `json:"repetition_penalty"`
	ConvertStyle       bool    `json:"convert_style"`
	AnonymizationOnly  bool    `json:"anonymization_only"`
}

// referenceResponse carries the server-side conditioning handle derived
// from a reference recording.
type referenceResponse struct {
	ConditioningID string `json:"conditioning_id"`
}

// healthResponse mirrors the model server's health endpoint.
type healthResponse struct {
	Status       string `json:"status"`
	ModelsLoaded bool   `json:"models_loaded"`
	Device       string `json:"device,omitempty"`
}

// errorResponse represents a structured error from the model server.
type errorResponse struct {
	Detail    string `json:"detail"`
	ErrorCode string `json:"error_code,omitempty"`
}

// NewHTTP creates an engine client. The baseURL includes protocol and port
// (e.g. "http://localhost:8000"); the timeout applies to every request.
func NewHTTP(baseURL string, timeout time.Duration) *HTTPEngine {
	return &HTTPEngine{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// PrepareReference uploads the reference waveform and returns the opaque
// conditioning handle the server derived from it.
func (e *HTTPEngine) PrepareReference(ctx context.Context, reference []float64) (core.ReferenceConditioning, error) {
	if len(reference) == 0 {
		return nil, ErrEmptyReference
	}

	wavData, encodeErr := audio.EncodeWAV(reference, core.CanonicalSampleRate)
	if encodeErr != nil {
		return nil, fmt.Errorf("failed to encode reference: %w", encodeErr)
	}

	url := e.baseURL + apiPrepareReference

	httpReq, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(wavData))
	if reqErr != nil {
		return nil, fmt.Errorf("failed to create reference request: %w", reqErr)
	}

	httpReq.Header.Set(headerContentType, contentTypeWAV)
	httpReq.Header.Set(headerAccept, contentTypeJSON)

	resp, doErr := e.httpClient.Do(httpReq)
	if doErr != nil {
		return nil, fmt.Errorf("failed to send reference to model server at %s: %w", e.baseURL, doErr)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, e.parseErrorResponse(resp)
	}

	var ref referenceResponse

	decodeErr := json.NewDecoder(resp.Body).Decode(&ref)
	if decodeErr != nil {
		return nil, fmt.Errorf("failed to decode reference response: %w", decodeErr)
	}

	if ref.ConditioningID == "" {
		return nil, ErrEmptyConditioning
	}

	return core.ReferenceConditioning(ref.ConditioningID), nil
}

// Convert sends one chunk and the job's conditioning handle to the model
// server and returns the converted waveform.
func (e *HTTPEngine) Convert(
	ctx context.Context,
	chunk []float64,
	conditioning core.ReferenceConditioning,
	params core.Params,
) ([]float64, error) {
	if len(chunk) == 0 {
		return nil, ErrEmptyChunk
	}

	if len(conditioning) == 0 {
		return nil, ErrEmptyConditioning
	}

	wavData, encodeErr := audio.EncodeWAV(chunk, core.CanonicalSampleRate)
	if encodeErr != nil {
		return nil, fmt.Errorf("failed to encode chunk: %w", encodeErr)
	}

	payload := conversionRequest{
		AudioBase64:        base64.StdEncoding.EncodeToString(wavData),
		ConditioningID:     string(conditioning),
		DiffusionSteps:     params.DiffusionSteps,
		LengthAdjust:       params.LengthAdjust,
		IntelligibilityCFG: params.IntelligibilityCFG,
		SimilarityCFG:      params.SimilarityCFG,
		TopP:               params.TopP,
		Temperature:        params.Temperature,
		RepetitionPenalty:  params.RepetitionPenalty,
		ConvertStyle:       params.ConvertStyle,
		AnonymizationOnly:  params.AnonymizationOnly,
	}

	requestBody, marshalErr := json.Marshal(payload)
	if marshalErr != nil {
		return nil, fmt.Errorf("failed to marshal conversion request: %w", marshalErr)
	}

	url := e.baseURL + apiConvert

	httpReq, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(requestBody))
	if reqErr != nil {
		return nil, fmt.Errorf("failed to create conversion request: %w", reqErr)
	}

	httpReq.Header.Set(headerContentType, contentTypeJSON)
	httpReq.Header.Set(headerAccept, contentTypeWAV)

	resp, doErr := e.httpClient.Do(httpReq)
	if doErr != nil {
		return nil, fmt.Errorf("failed to send chunk to model server at %s: %w", e.baseURL, doErr)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, e.parseErrorResponse(resp)
	}

	if contentType := resp.Header.Get(headerContentType); contentType != contentTypeWAV {
		return nil, fmt.Errorf("%w: expected %s, got %s", ErrUnexpectedContentType, contentTypeWAV, contentType)
	}

	audioData, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return nil, fmt.Errorf("failed to read converted audio: %w", readErr)
	}

	if len(audioData) == 0 {
		return nil, ErrReceivedEmptyAudio
	}

	samples, _, channels, decodeErr := audio.DecodeWAV(audioData)
	if decodeErr != nil {
		return nil, fmt.Errorf("failed to decode converted audio: %w", decodeErr)
	}

	return audio.DownmixMono(samples, channels), nil
}

// Ready checks the model server's health endpoint and verifies that the
// checkpoints are loaded.
func (e *HTTPEngine) Ready(ctx context.Context) error {
	url := e.baseURL + apiHealth

	httpReq, reqErr := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if reqErr != nil {
		return fmt.Errorf("failed to create health check request: %w", reqErr)
	}

	resp, doErr := e.httpClient.Do(httpReq)
	if doErr != nil {
		return fmt.Errorf("health check failed for model server at %s: %w", e.baseURL, doErr)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed with status: %s", resp.Status)
	}

	var health healthResponse

	decodeErr := json.NewDecoder(resp.Body).Decode(&health)
	if decodeErr != nil {
		return fmt.Errorf("failed to decode health response: %w", decodeErr)
	}

	if !health.ModelsLoaded {
		return ErrModelsNotLoaded
	}

	return nil
}

// parseErrorResponse attempts to decode a structured JSON error from the
// model server, falling back to the raw body so diagnostics are preserved.
func (e *HTTPEngine) parseErrorResponse(resp *http.Response) error {
	var structured errorResponse

	decodeErr := json.NewDecoder(resp.Body).Decode(&structured)
	if decodeErr == nil && structured.Detail != "" {
		return fmt.Errorf("model server error (%s): %s (code: %s)",
			resp.Status, structured.Detail, structured.ErrorCode)
	}

	body, _ := io.ReadAll(resp.Body)

	return fmt.Errorf("model server returned non-OK status: %s, body: %s", resp.Status, string(body))
}
