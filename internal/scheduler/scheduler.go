// Package scheduler serializes and rate-limits access to the shared voice
// model engine. It is the only component that invokes the engine.
package scheduler

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/book-expert/logger"
	"github.com/google/uuid"

	"github.com/jgbrblmd/seed-vc/internal/audio"
	"github.com/jgbrblmd/seed-vc/internal/core"
	"github.com/jgbrblmd/seed-vc/internal/metrics"
)

// DefaultMaxConcurrentJobs reflects accelerator memory for one model
// replica, not request volume.
const DefaultMaxConcurrentJobs = 1

// Scheduler construction and admission errors.
var (
	ErrNilEngine       = fmt.Errorf("%w: engine handle is nil", core.ErrValidation)
	ErrBadConcurrency  = fmt.Errorf("%w: max concurrent jobs must be at least 1", core.ErrValidation)
	ErrJobNoChunks     = fmt.Errorf("%w: job has no chunks", core.ErrValidation)
	ErrQueueCancelled  = fmt.Errorf("job cancelled while waiting for an admission slot")
	ErrEmptyConversion = fmt.Errorf("%w: engine returned an empty waveform", core.ErrProcessing)
)

// Job is the unit of work for one conversion request: the ordered chunk
// list, the reference waveform, the parameter set, and the growing output.
// Only the Scheduler mutates a job once it has been submitted.
type Job struct {
	ID        string
	Chunks    []audio.Chunk
	Reference []float64
	Params    core.Params

	// TempDir holds artifacts scoped to this job. Cleanup removes it on
	// every exit path unless the params opt into retention.
	TempDir string

	assembler *audio.Assembler
	cursor    int
}

// NewJob creates a job for an ordered chunk sequence.
func NewJob(chunks []audio.Chunk, reference []float64, params core.Params) *Job {
	return &Job{
		ID:        uuid.NewString(),
		Chunks:    chunks,
		Reference: reference,
		Params:    params,
		TempDir:   "",
		assembler: audio.NewAssembler(audio.DefaultCrossfadeSamples),
		cursor:    0,
	}
}

// Streaming returns the artifact assembled so far. It is safe to call while
// the job is still running; each completed chunk extends the result.
func (j *Job) Streaming() []float64 {
	return j.assembler.Streaming()
}

// Cleanup releases the job's temp artifacts. Retention via the params flag
// skips removal; a missing directory is not an error.
func (j *Job) Cleanup() error {
	if j.TempDir == "" || !j.Params.CleanupTempFiles {
		return nil
	}

	removeErr := os.RemoveAll(j.TempDir)
	if removeErr != nil {
		return fmt.Errorf("%w: failed to remove job temp dir %s: %w", core.ErrIO, j.TempDir, removeErr)
	}

	return nil
}

// Result carries the finished outputs of a job.
type Result struct {
	JobID     string
	Streaming []float64
	Full      []float64
	Chunks    int
	Elapsed   time.Duration
}

// Scheduler admits at most K jobs to the engine at once, in FIFO order.
//
// Cross-job engine occupancy is sharded: each admitted job has exactly one
// chunk in flight, so up to K chunks may be in flight concurrently across
// jobs. The engine service multiplexes its own accelerator; deployments
// whose engine cannot batch occupancy run with K=1, which serializes engine
// access entirely.
type Scheduler struct {
	engine  core.VoiceModelEngine
	log     *logger.Logger
	met     *metrics.Metrics
	maxJobs int
	queue   *fifoQueue
}

// New creates a scheduler around the single process-wide engine handle.
func New(engine core.VoiceModelEngine, maxJobs int, met *metrics.Metrics, log *logger.Logger) (*Scheduler, error) {
	if engine == nil {
		return nil, ErrNilEngine
	}

	if maxJobs < 1 {
		return nil, ErrBadConcurrency
	}

	return &Scheduler{
		engine:  engine,
		log:     log,
		met:     met,
		maxJobs: maxJobs,
		queue:   newFIFOQueue(maxJobs),
	}, nil
}

// Ready reports engine readiness. A failing engine is mapped to the
// model-unavailable taxonomy so every request surfaces it identically.
func (s *Scheduler) Ready(ctx context.Context) error {
	readyErr := s.engine.Ready(ctx)
	if readyErr != nil {
		return fmt.Errorf("%w: %w", core.ErrModelUnavailable, readyErr)
	}

	return nil
}

// Convert runs one job to completion. The job waits FIFO for an admission
// slot; cancellation is honored only until the first chunk is dispatched.
// Chunks are submitted strictly in index order because the engine keeps
// continuity state across chunks of a job. Any chunk failure fails the
// whole job.
func (s *Scheduler) Convert(ctx context.Context, job *Job) (*Result, error) {
	if len(job.Chunks) == 0 {
		return nil, ErrJobNoChunks
	}

	if s.met != nil {
		s.met.QueuedJobs.Inc()
	}

	admitErr := s.queue.Acquire(ctx)

	if s.met != nil {
		s.met.QueuedJobs.Dec()
	}

	if admitErr != nil {
		if s.met != nil {
			s.met.JobsCancelled.Inc()
		}

		return nil, fmt.Errorf("%w: %w", ErrQueueCancelled, admitErr)
	}

	defer s.queue.Release()

	if s.met != nil {
		s.met.JobsAdmitted.Inc()
		s.met.ActiveJobs.Inc()

		defer s.met.ActiveJobs.Dec()
	}

	// Last cancellation point. Past here the job runs to completion or
	// failure; there is no mid-job preemption.
	if ctxErr := ctx.Err(); ctxErr != nil {
		if s.met != nil {
			s.met.JobsCancelled.Inc()
		}

		return nil, fmt.Errorf("%w: %w", ErrQueueCancelled, ctxErr)
	}

	started := time.Now()

	result, runErr := s.run(ctx, job)
	if runErr != nil {
		if s.met != nil {
			s.met.JobsFailed.Inc()
		}

		s.log.Error("Job %s failed after %d/%d chunks: %v", job.ID, job.cursor, len(job.Chunks), runErr)

		return nil, runErr
	}

	result.Elapsed = time.Since(started)

	if s.met != nil {
		s.met.JobsSucceeded.Inc()
		s.met.JobDuration.Observe(result.Elapsed.Seconds())
	}

	s.log.Info("Job %s converted %d chunks in %v", job.ID, result.Chunks, result.Elapsed)

	return result, nil
}

func (s *Scheduler) run(ctx context.Context, job *Job) (*Result, error) {
	conditioning, prepErr := s.prepareReference(ctx, job)
	if prepErr != nil {
		return nil, prepErr
	}

	for _, chunk := range job.Chunks {
		converted, convertErr := s.convertChunk(ctx, job, chunk, conditioning)
		if convertErr != nil {
			return nil, convertErr
		}

		// The streaming artifact grows before the job finishes; callers
		// observing job.Streaming see this chunk immediately.
		job.assembler.Append(converted)
		job.cursor++
	}

	full := job.assembler.Full()

	return &Result{
		JobID:     job.ID,
		Streaming: full,
		Full:      full,
		Chunks:    job.cursor,
		Elapsed:   0,
	}, nil
}

func (s *Scheduler) prepareReference(ctx context.Context, job *Job) (core.ReferenceConditioning, error) {
	if s.met != nil {
		s.met.EngineCalls.Inc()
	}

	conditioning, prepErr := s.engine.PrepareReference(ctx, job.Reference)
	if prepErr != nil {
		if s.met != nil {
			s.met.EngineFailures.Inc()
		}

		return nil, wrapEngineError(fmt.Errorf("failed to prepare reference for job %s: %w", job.ID, prepErr))
	}

	return conditioning, nil
}

func (s *Scheduler) convertChunk(
	ctx context.Context,
	job *Job,
	chunk audio.Chunk,
	conditioning core.ReferenceConditioning,
) ([]float64, error) {
	chunkStart := time.Now()

	if s.met != nil {
		s.met.EngineCalls.Inc()
	}

	converted, convertErr := s.engine.Convert(ctx, chunk.Samples, conditioning, job.Params)
	if convertErr != nil {
		if s.met != nil {
			s.met.EngineFailures.Inc()
		}

		return nil, wrapEngineError(fmt.Errorf("chunk %d of job %s failed: %w", chunk.Index, job.ID, convertErr))
	}

	if len(converted) == 0 {
		return nil, fmt.Errorf("%w: chunk %d of job %s", ErrEmptyConversion, chunk.Index, job.ID)
	}

	if s.met != nil {
		s.met.ChunksConverted.Inc()
		s.met.ChunkDuration.Observe(time.Since(chunkStart).Seconds())
	}

	return converted, nil
}

// wrapEngineError maps engine failures into the taxonomy, preserving errors
// that already carry a kind.
func wrapEngineError(err error) error {
	if core.ErrorKind(err) != core.KindInternal {
		return err
	}

	return fmt.Errorf("%w: %w", core.ErrProcessing, err)
}
