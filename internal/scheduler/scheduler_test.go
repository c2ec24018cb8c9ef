// Package scheduler_test tests job admission, ordering, and failure handling.
package scheduler_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jgbrblmd/seed-vc/internal/audio"
	"github.com/jgbrblmd/seed-vc/internal/core"
	"github.com/jgbrblmd/seed-vc/internal/metrics"
	"github.com/jgbrblmd/seed-vc/internal/scheduler"
)

// fakeEngine implements core.VoiceModelEngine with overridable behavior.
// The default behavior echoes each chunk back unchanged.
type fakeEngine struct {
	prepare func(ctx context.Context, reference []float64) (core.ReferenceConditioning, error)
	convert func(ctx context.Context, chunk []float64, conditioning core.ReferenceConditioning, params core.Params) ([]float64, error)
	ready   func(ctx context.Context) error
}

func (e *fakeEngine) PrepareReference(
	ctx context.Context,
	reference []float64,
) (core.ReferenceConditioning, error) {
	if e.prepare != nil {
		return e.prepare(ctx, reference)
	}

	return core.ReferenceConditioning("conditioning"), nil
}

func (e *fakeEngine) Convert(
	ctx context.Context,
	chunk []float64,
	conditioning core.ReferenceConditioning,
	params core.Params,
) ([]float64, error) {
	if e.convert != nil {
		return e.convert(ctx, chunk, conditioning, params)
	}

	return chunk, nil
}

func (e *fakeEngine) Ready(ctx context.Context) error {
	if e.ready != nil {
		return e.ready(ctx)
	}

	return nil
}

func newTestScheduler(
	t *testing.T,
	engine core.VoiceModelEngine,
	maxJobs int,
) (*scheduler.Scheduler, *metrics.Metrics) {
	t.Helper()

	log, logErr := logger.New(t.TempDir(), "scheduler-test.log")
	require.NoError(t, logErr)

	t.Cleanup(func() { _ = log.Close() })

	met := metrics.New(prometheus.NewRegistry())

	sched, newErr := scheduler.New(engine, maxJobs, met, log)
	require.NoError(t, newErr)

	return sched, met
}

// testChunks builds n single-valued chunks whose sample value encodes the
// chunk index.
func testChunks(n, size int) []audio.Chunk {
	chunks := make([]audio.Chunk, n)

	for i := range chunks {
		samples := make([]float64, size)
		for j := range samples {
			samples[j] = float64(i+1) / 100
		}

		chunks[i] = audio.Chunk{
			Index:   i,
			Start:   i * size,
			End:     (i + 1) * size,
			Samples: samples,
		}
	}

	return chunks
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	log, logErr := logger.New(t.TempDir(), "scheduler-test.log")
	require.NoError(t, logErr)

	t.Cleanup(func() { _ = log.Close() })

	_, err := scheduler.New(nil, 1, nil, log)
	require.ErrorIs(t, err, scheduler.ErrNilEngine)

	_, err = scheduler.New(&fakeEngine{prepare: nil, convert: nil, ready: nil}, 0, nil, log)
	require.ErrorIs(t, err, scheduler.ErrBadConcurrency)
}

func TestConvertRejectsEmptyJob(t *testing.T) {
	t.Parallel()

	sched, _ := newTestScheduler(t, &fakeEngine{prepare: nil, convert: nil, ready: nil}, 1)

	job := scheduler.NewJob(nil, []float64{0.1}, core.DefaultParams())

	_, err := sched.Convert(context.Background(), job)
	require.ErrorIs(t, err, scheduler.ErrJobNoChunks)
	require.ErrorIs(t, err, core.ErrValidation)
}

func TestConvertPreservesChunkOrder(t *testing.T) {
	t.Parallel()

	var (
		mu        sync.Mutex
		seenOrder []float64
	)

	engine := &fakeEngine{
		prepare: nil,
		convert: func(_ context.Context, chunk []float64, _ core.ReferenceConditioning, _ core.Params) ([]float64, error) {
			mu.Lock()
			seenOrder = append(seenOrder, chunk[0])
			mu.Unlock()

			return chunk, nil
		},
		ready: nil,
	}

	sched, met := newTestScheduler(t, engine, 1)

	job := scheduler.NewJob(testChunks(5, 2048), []float64{0.1}, core.DefaultParams())

	result, err := sched.Convert(context.Background(), job)
	require.NoError(t, err)

	assert.Equal(t, 5, result.Chunks)
	assert.Equal(t, job.ID, result.JobID)
	assert.Equal(t, []float64{0.01, 0.02, 0.03, 0.04, 0.05}, seenOrder)

	// Four boundary cross-fades shrink the concatenation.
	assert.Len(t, result.Full, 5*2048-4*audio.DefaultCrossfadeSamples)
	assert.Equal(t, result.Full, result.Streaming)

	assert.InDelta(t, 1.0, testutil.ToFloat64(met.JobsSucceeded), 0)
	assert.InDelta(t, 5.0, testutil.ToFloat64(met.ChunksConverted), 0)
	assert.InDelta(t, 6.0, testutil.ToFloat64(met.EngineCalls), 0)
}

func TestConvertChunkFailureAbortsJob(t *testing.T) {
	t.Parallel()

	calls := 0
	engine := &fakeEngine{
		prepare: nil,
		convert: func(_ context.Context, chunk []float64, _ core.ReferenceConditioning, _ core.Params) ([]float64, error) {
			calls++
			if calls == 3 {
				return nil, errors.New("accelerator fault")
			}

			return chunk, nil
		},
		ready: nil,
	}

	sched, met := newTestScheduler(t, engine, 1)

	job := scheduler.NewJob(testChunks(5, 256), []float64{0.1}, core.DefaultParams())

	_, err := sched.Convert(context.Background(), job)
	require.ErrorIs(t, err, core.ErrProcessing)

	// No further chunks were dispatched after the failure.
	assert.Equal(t, 3, calls)
	assert.InDelta(t, 1.0, testutil.ToFloat64(met.JobsFailed), 0)
	assert.InDelta(t, 0.0, testutil.ToFloat64(met.JobsSucceeded), 0)
}

func TestConvertPreservesEngineErrorKind(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{
		prepare: func(_ context.Context, _ []float64) (core.ReferenceConditioning, error) {
			return nil, fmt.Errorf("%w: models not loaded", core.ErrModelUnavailable)
		},
		convert: nil,
		ready:   nil,
	}

	sched, _ := newTestScheduler(t, engine, 1)

	job := scheduler.NewJob(testChunks(1, 256), []float64{0.1}, core.DefaultParams())

	_, err := sched.Convert(context.Background(), job)
	require.ErrorIs(t, err, core.ErrModelUnavailable)
	assert.Equal(t, core.KindModelUnavailable, core.ErrorKind(err))
}

func TestConvertEmptyEngineOutput(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{
		prepare: nil,
		convert: func(_ context.Context, _ []float64, _ core.ReferenceConditioning, _ core.Params) ([]float64, error) {
			return nil, nil
		},
		ready: nil,
	}

	sched, _ := newTestScheduler(t, engine, 1)

	job := scheduler.NewJob(testChunks(1, 256), []float64{0.1}, core.DefaultParams())

	_, err := sched.Convert(context.Background(), job)
	require.ErrorIs(t, err, scheduler.ErrEmptyConversion)
	require.ErrorIs(t, err, core.ErrProcessing)
}

func TestConvertCancelledWhileQueued(t *testing.T) {
	t.Parallel()

	blocker := make(chan struct{})
	engine := &fakeEngine{
		prepare: nil,
		convert: func(_ context.Context, chunk []float64, _ core.ReferenceConditioning, _ core.Params) ([]float64, error) {
			<-blocker

			return chunk, nil
		},
		ready: nil,
	}

	sched, met := newTestScheduler(t, engine, 1)

	firstDone := make(chan struct{})

	go func() {
		defer close(firstDone)

		job := scheduler.NewJob(testChunks(1, 256), []float64{0.1}, core.DefaultParams())
		_, _ = sched.Convert(context.Background(), job)
	}()

	// Give the first job time to occupy the engine.
	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())

	queuedErr := make(chan error, 1)

	go func() {
		job := scheduler.NewJob(testChunks(1, 256), []float64{0.1}, core.DefaultParams())
		_, err := sched.Convert(ctx, job)
		queuedErr <- err
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	err := <-queuedErr
	require.ErrorIs(t, err, scheduler.ErrQueueCancelled)
	require.ErrorIs(t, err, context.Canceled)

	close(blocker)
	<-firstDone

	assert.InDelta(t, 1.0, testutil.ToFloat64(met.JobsCancelled), 0)
}

func TestConvertBoundsConcurrentJobs(t *testing.T) {
	t.Parallel()

	const maxJobs = 2

	var (
		inFlight    atomic.Int32
		maxInFlight atomic.Int32
	)

	engine := &fakeEngine{
		prepare: nil,
		convert: func(_ context.Context, chunk []float64, _ core.ReferenceConditioning, _ core.Params) ([]float64, error) {
			current := inFlight.Add(1)
			defer inFlight.Add(-1)

			for {
				observed := maxInFlight.Load()
				if current <= observed || maxInFlight.CompareAndSwap(observed, current) {
					break
				}
			}

			time.Sleep(20 * time.Millisecond)

			return chunk, nil
		},
		ready: nil,
	}

	sched, _ := newTestScheduler(t, engine, maxJobs)

	var wg sync.WaitGroup

	for range 6 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			job := scheduler.NewJob(testChunks(2, 256), []float64{0.1}, core.DefaultParams())
			_, err := sched.Convert(context.Background(), job)
			assert.NoError(t, err)
		}()
	}

	wg.Wait()

	assert.LessOrEqual(t, maxInFlight.Load(), int32(maxJobs))
}

func TestConvertAdmitsInArrivalOrder(t *testing.T) {
	t.Parallel()

	blocker := make(chan struct{})

	var (
		mu         sync.Mutex
		admissions []float64
	)

	engine := &fakeEngine{
		prepare: func(_ context.Context, reference []float64) (core.ReferenceConditioning, error) {
			mu.Lock()
			admissions = append(admissions, reference[0])
			mu.Unlock()

			if reference[0] == 0.1 {
				<-blocker
			}

			return core.ReferenceConditioning("conditioning"), nil
		},
		convert: nil,
		ready:   nil,
	}

	sched, _ := newTestScheduler(t, engine, 1)

	var wg sync.WaitGroup

	submit := func(marker float64) {
		wg.Add(1)

		go func() {
			defer wg.Done()

			job := scheduler.NewJob(testChunks(1, 256), []float64{marker}, core.DefaultParams())
			_, err := sched.Convert(context.Background(), job)
			assert.NoError(t, err)
		}()
	}

	// The first job occupies the engine; the next two queue up in order.
	submit(0.1)
	time.Sleep(50 * time.Millisecond)
	submit(0.2)
	time.Sleep(50 * time.Millisecond)
	submit(0.3)
	time.Sleep(50 * time.Millisecond)

	close(blocker)
	wg.Wait()

	assert.Equal(t, []float64{0.1, 0.2, 0.3}, admissions)
}

func TestStreamingGrowsDuringJob(t *testing.T) {
	t.Parallel()

	step := make(chan struct{})
	engine := &fakeEngine{
		prepare: nil,
		convert: func(_ context.Context, chunk []float64, _ core.ReferenceConditioning, _ core.Params) ([]float64, error) {
			<-step

			return chunk, nil
		},
		ready: nil,
	}

	sched, _ := newTestScheduler(t, engine, 1)

	job := scheduler.NewJob(testChunks(3, 2048), []float64{0.1}, core.DefaultParams())

	done := make(chan struct{})

	go func() {
		defer close(done)

		_, err := sched.Convert(context.Background(), job)
		assert.NoError(t, err)
	}()

	require.Empty(t, job.Streaming())

	lastLen := 0

	for range 3 {
		step <- struct{}{}

		require.Eventually(t, func() bool {
			return len(job.Streaming()) > lastLen
		}, time.Second, 5*time.Millisecond)

		lastLen = len(job.Streaming())
	}

	<-done
}

func TestReadyMapsToModelUnavailable(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{
		prepare: nil,
		convert: nil,
		ready: func(_ context.Context) error {
			return errors.New("connection refused")
		},
	}

	sched, _ := newTestScheduler(t, engine, 1)

	err := sched.Ready(context.Background())
	require.ErrorIs(t, err, core.ErrModelUnavailable)
}
