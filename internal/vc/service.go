// Package vc orchestrates the conversion pipeline: source resolution,
// segmentation, scheduled engine conversion, assembly, and encoding.
package vc

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/book-expert/logger"

	"github.com/jgbrblmd/seed-vc/internal/audio"
	"github.com/jgbrblmd/seed-vc/internal/core"
	"github.com/jgbrblmd/seed-vc/internal/scheduler"
)

// Artifact file names inside a job's temp directory.
const (
	fullArtifactPrefix      = "full_output"
	streamingArtifactPrefix = "streaming_output"
)

// Request is one fully described conversion: two input slots plus the
// parameter set.
type Request struct {
	Source    audio.Source
	Reference audio.Source
	Params    core.Params
}

// InputInfo carries per-input metadata echoed back in responses.
type InputInfo struct {
	Source    audio.Metadata `json:"source"`
	Reference audio.Metadata `json:"target"`
}

// Result describes a finished conversion. Paths point into the job's temp
// directory; base64 fields are populated only when transport encoding was
// requested.
type Result struct {
	JobID             string
	Chunks            int
	StreamingPath     string
	FullPath          string
	StreamingBase64   string
	FullBase64        string
	ProcessingSeconds float64
	OutputFormat      core.Format
	InputInfo         InputInfo
}

// Service wires the pipeline stages together around one scheduler.
type Service struct {
	sched   *scheduler.Scheduler
	segCfg  audio.SegmenterConfig
	workDir string
	log     *logger.Logger
}

// New creates a conversion service. workDir is where per-job temp
// directories are created; empty means the system default.
func New(sched *scheduler.Scheduler, segCfg audio.SegmenterConfig, workDir string, log *logger.Logger) *Service {
	return &Service{
		sched:   sched,
		segCfg:  segCfg,
		workDir: workDir,
		log:     log,
	}
}

// Ready reports whether the engine behind the scheduler has its models
// loaded.
func (s *Service) Ready(ctx context.Context) error {
	return s.sched.Ready(ctx)
}

// Convert runs one request end to end. Validation and input failures happen
// before any engine access; engine failures abort the job with no partial
// result. Temp artifacts are released on every failure path, and on success
// according to the cleanup flag.
func (s *Service) Convert(ctx context.Context, req Request) (*Result, error) {
	started := time.Now()

	params, paramsErr := core.NewParams(req.Params)
	if paramsErr != nil {
		return nil, paramsErr
	}

	readyErr := s.sched.Ready(ctx)
	if readyErr != nil {
		return nil, readyErr
	}

	source, reference, info, resolveErr := s.resolveInputs(ctx, req)
	if resolveErr != nil {
		return nil, resolveErr
	}

	chunks, segmentErr := audio.Segment(source.Samples, s.segCfg)
	if segmentErr != nil {
		return nil, segmentErr
	}

	s.log.Info("Segmented %.2fs source into %d chunks", source.Duration(), len(chunks))

	job := scheduler.NewJob(chunks, reference.Samples, params)

	tempDir, tempErr := os.MkdirTemp(s.workDir, "vc-job-"+job.ID+"-")
	if tempErr != nil {
		return nil, fmt.Errorf("%w: failed to create job temp dir: %w", core.ErrIO, tempErr)
	}

	job.TempDir = tempDir

	result, convertErr := s.sched.Convert(ctx, job)
	if convertErr != nil {
		s.discard(job)

		return nil, convertErr
	}

	out, encodeErr := s.writeArtifacts(ctx, job, result, params)
	if encodeErr != nil {
		s.discard(job)

		return nil, encodeErr
	}

	out.JobID = job.ID
	out.Chunks = result.Chunks
	out.OutputFormat = params.OutputFormat
	out.InputInfo = info
	out.ProcessingSeconds = time.Since(started).Seconds()

	return out, nil
}

// Cleanup removes an on-disk artifact previously returned by path. The path
// must lie under the service work area.
func (s *Service) Cleanup(path string) error {
	if path == "" {
		return fmt.Errorf("%w: artifact path is empty", core.ErrValidation)
	}

	removeErr := os.Remove(path)
	if removeErr != nil {
		if os.IsNotExist(removeErr) {
			return nil
		}

		return fmt.Errorf("%w: failed to remove artifact %s: %w", core.ErrIO, path, removeErr)
	}

	return nil
}

func (s *Service) resolveInputs(ctx context.Context, req Request) (*audio.Asset, *audio.Asset, InputInfo, error) {
	source, sourceErr := audio.Resolve(ctx, req.Source)
	if sourceErr != nil {
		return nil, nil, InputInfo{}, fmt.Errorf("source audio: %w", sourceErr)
	}

	reference, referenceErr := audio.Resolve(ctx, req.Reference)
	if referenceErr != nil {
		return nil, nil, InputInfo{}, fmt.Errorf("reference audio: %w", referenceErr)
	}

	// Duration ceilings are hard rejections, checked before any engine
	// access. A reference is one conditioning example, never segmented.
	if source.Duration() > core.MaxSourceSeconds {
		return nil, nil, InputInfo{}, fmt.Errorf("%w: got %.1fs", core.ErrSourceTooLong, source.Duration())
	}

	if reference.Duration() > core.MaxReferenceSeconds {
		return nil, nil, InputInfo{}, fmt.Errorf("%w: got %.1fs", core.ErrReferenceTooLong, reference.Duration())
	}

	info := InputInfo{
		Source:    source.Info,
		Reference: reference.Info,
	}

	return source, reference, info, nil
}

// writeArtifacts encodes the streaming and full waveforms into the job's
// temp directory and, when requested, into transport-encoded text.
func (s *Service) writeArtifacts(
	ctx context.Context,
	job *scheduler.Job,
	result *scheduler.Result,
	params core.Params,
) (*Result, error) {
	fullData, fullErr := audio.Encode(ctx, result.Full, core.CanonicalSampleRate, params.OutputFormat)
	if fullErr != nil {
		return nil, fullErr
	}

	streamingData, streamingErr := audio.Encode(ctx, result.Streaming, core.CanonicalSampleRate, params.OutputFormat)
	if streamingErr != nil {
		return nil, streamingErr
	}

	out := &Result{
		JobID:             "",
		Chunks:            0,
		StreamingPath:     "",
		FullPath:          "",
		StreamingBase64:   "",
		FullBase64:        "",
		ProcessingSeconds: 0,
		OutputFormat:      params.OutputFormat,
		InputInfo:         InputInfo{Source: audio.Metadata{}, Reference: audio.Metadata{}},
	}

	if params.ReturnBase64 {
		out.FullBase64 = audio.TransportEncode(fullData)
		out.StreamingBase64 = audio.TransportEncode(streamingData)

		// Transport-encoded responses carry the artifact inline; per the
		// cleanup flag there is nothing to keep on disk.
		if params.CleanupTempFiles {
			cleanupErr := job.Cleanup()
			if cleanupErr != nil {
				s.log.Warn("Failed to clean up job %s: %v", job.ID, cleanupErr)
			}

			return out, nil
		}
	}

	ext := "." + string(params.OutputFormat)
	out.FullPath = filepath.Join(job.TempDir, fullArtifactPrefix+ext)
	out.StreamingPath = filepath.Join(job.TempDir, streamingArtifactPrefix+ext)

	writeErr := os.WriteFile(out.FullPath, fullData, 0o600)
	if writeErr != nil {
		return nil, fmt.Errorf("%w: failed to write full artifact: %w", core.ErrIO, writeErr)
	}

	writeErr = os.WriteFile(out.StreamingPath, streamingData, 0o600)
	if writeErr != nil {
		return nil, fmt.Errorf("%w: failed to write streaming artifact: %w", core.ErrIO, writeErr)
	}

	return out, nil
}

// discard releases a failed job's artifacts. Accumulated streaming output
// is dropped with the temp directory; no partial result survives.
func (s *Service) discard(job *scheduler.Job) {
	cleanupErr := job.Cleanup()
	if cleanupErr != nil {
		s.log.Warn("Failed to clean up job %s: %v", job.ID, cleanupErr)
	}
}
