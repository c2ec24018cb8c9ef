// Command vc-client submits voice conversion jobs to a running vc-service
// over HTTP and writes the returned artifacts to disk.
package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// Flag descriptions.
const (
	flagServiceDesc   = "Base URL of the voice conversion service"
	flagSourceDesc    = "Path to the source recording whose speech is converted"
	flagReferenceDesc = "Path to the reference recording whose timbre is applied"
	flagOutputDesc    = "Directory to write the converted artifacts into"
	flagFormatDesc    = "Output format: wav, mp3 or ogg"
	flagStepsDesc     = "Number of diffusion steps"
	flagLengthDesc    = "Length adjust factor"
	flagHealthDesc    = "Check service health and exit"
)

// Flag names.
const (
	flagService   = "service"
	flagSource    = "source"
	flagReference = "reference"
	flagOutput    = "output"
	flagFormat    = "format"
	flagSteps     = "diffusion-steps"
	flagLength    = "length-adjust"
	flagHealth    = "health"
)

const (
	defaultServiceURL = "http://127.0.0.1:8042"
	requestTimeout    = 15 * time.Minute
	healthTimeout     = 10 * time.Second
	outputFileMode    = 0o600
)

var (
	errMissingInputs = errors.New("both --source and --reference must be provided")
	errServerFailure = errors.New("conversion failed")
	errNotHealthy    = errors.New("service is not healthy")
)

// convertRequest mirrors the service's JSON request schema.
type convertRequest struct {
	SourceAudioBase64 string   `json:"source_audio_base64"`
	TargetAudioBase64 string   `json:"target_audio_base64"`
	DiffusionSteps    *int     `json:"diffusion_steps,omitempty"`
	LengthAdjust      *float64 `json:"length_adjust,omitempty"`
	OutputFormat      string   `json:"output_format"`
	ReturnBase64      bool     `json:"return_base64"`
	CleanupTempFiles  bool     `json:"cleanup_temp_files"`
}

// convertResponse mirrors the service's JSON response schema.
type convertResponse struct {
	Success               bool    `json:"success"`
	Message               string  `json:"message"`
	StreamingOutputBase64 string  `json:"streaming_output_base64"`
	FullOutputBase64      string  `json:"full_output_base64"`
	ProcessingTime        float64 `json:"processing_time"`
	OutputFormat          string  `json:"output_format"`
	ErrorKind             string  `json:"error_kind"`
}

// appFlags holds the parsed command-line flag values.
type appFlags struct {
	service   string
	source    string
	reference string
	output    string
	format    string
	steps     int
	length    float64
	health    bool
}

func main() {
	err := run()
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
}

func run() error {
	flags := parseFlags()

	if flags.health {
		return handleHealthCheck(flags.service)
	}

	if flags.source == "" || flags.reference == "" {
		flag.Usage()

		return errMissingInputs
	}

	return handleConversion(flags)
}

// parseFlags defines and parses command-line flags, returning them in a struct.
func parseFlags() appFlags {
	var flags appFlags

	flag.StringVar(&flags.service, flagService, defaultServiceURL, flagServiceDesc)
	flag.StringVar(&flags.source, flagSource, "", flagSourceDesc)
	flag.StringVar(&flags.reference, flagReference, "", flagReferenceDesc)
	flag.StringVar(&flags.output, flagOutput, ".", flagOutputDesc)
	flag.StringVar(&flags.format, flagFormat, "wav", flagFormatDesc)
	flag.IntVar(&flags.steps, flagSteps, 30, flagStepsDesc)
	flag.Float64Var(&flags.length, flagLength, 1.0, flagLengthDesc)
	flag.Parse()

	return flags
}

// handleHealthCheck probes the service health endpoint and prints the result.
func handleHealthCheck(serviceURL string) error {
	ctx, cancel := context.WithTimeout(context.Background(), healthTimeout)
	defer cancel()

	req, reqErr := http.NewRequestWithContext(ctx, http.MethodGet, serviceURL+"/health", nil)
	if reqErr != nil {
		return fmt.Errorf("failed to build health request: %w", reqErr)
	}

	resp, doErr := http.DefaultClient.Do(req)
	if doErr != nil {
		return fmt.Errorf("health check failed: %w", doErr)
	}

	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)

		return fmt.Errorf("%w: %s", errNotHealthy, string(body))
	}

	fmt.Println("Voice conversion service is healthy")

	return nil
}

// handleConversion reads both recordings, submits the job, and writes the
// returned artifacts next to each other in the output directory.
func handleConversion(flags appFlags) error {
	sourceData, sourceErr := os.ReadFile(flags.source)
	if sourceErr != nil {
		return fmt.Errorf("failed to read source recording: %w", sourceErr)
	}

	referenceData, referenceErr := os.ReadFile(flags.reference)
	if referenceErr != nil {
		return fmt.Errorf("failed to read reference recording: %w", referenceErr)
	}

	request := convertRequest{
		SourceAudioBase64: base64.StdEncoding.EncodeToString(sourceData),
		TargetAudioBase64: base64.StdEncoding.EncodeToString(referenceData),
		DiffusionSteps:    &flags.steps,
		LengthAdjust:      &flags.length,
		OutputFormat:      flags.format,
		ReturnBase64:      true,
		CleanupTempFiles:  true,
	}

	response, convertErr := submit(flags.service, request)
	if convertErr != nil {
		return convertErr
	}

	fullPath := filepath.Join(flags.output, "converted_full."+response.OutputFormat)
	streamingPath := filepath.Join(flags.output, "converted_streaming."+response.OutputFormat)

	writeErr := writeArtifact(fullPath, response.FullOutputBase64)
	if writeErr != nil {
		return writeErr
	}

	writeErr = writeArtifact(streamingPath, response.StreamingOutputBase64)
	if writeErr != nil {
		return writeErr
	}

	fmt.Printf("Converted in %.1fs\n", response.ProcessingTime)
	fmt.Printf("Full artifact: %s\n", fullPath)
	fmt.Printf("Streaming artifact: %s\n", streamingPath)

	return nil
}

func submit(serviceURL string, request convertRequest) (*convertResponse, error) {
	payload, marshalErr := json.Marshal(request)
	if marshalErr != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", marshalErr)
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	req, reqErr := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		serviceURL+"/convert",
		bytes.NewReader(payload),
	)
	if reqErr != nil {
		return nil, fmt.Errorf("failed to build conversion request: %w", reqErr)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, doErr := http.DefaultClient.Do(req)
	if doErr != nil {
		return nil, fmt.Errorf("conversion request failed: %w", doErr)
	}

	defer func() { _ = resp.Body.Close() }()

	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return nil, fmt.Errorf("failed to read response body: %w", readErr)
	}

	var response convertResponse

	unmarshalErr := json.Unmarshal(body, &response)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("failed to decode response: %w", unmarshalErr)
	}

	if !response.Success {
		return nil, fmt.Errorf("%w (%s): %s", errServerFailure, response.ErrorKind, response.Message)
	}

	return &response, nil
}

func writeArtifact(path, encoded string) error {
	data, decodeErr := base64.StdEncoding.DecodeString(encoded)
	if decodeErr != nil {
		return fmt.Errorf("failed to decode artifact for %s: %w", path, decodeErr)
	}

	writeFileErr := os.WriteFile(path, data, outputFileMode)
	if writeFileErr != nil {
		return fmt.Errorf("failed to write artifact %s: %w", path, writeFileErr)
	}

	return nil
}
