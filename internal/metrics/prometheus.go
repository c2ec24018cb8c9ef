// Package metrics exposes Prometheus instrumentation for the voice
// conversion service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the conversion service.
type Metrics struct {
	// Job metrics
	JobsAdmitted  prometheus.Counter
	JobsSucceeded prometheus.Counter
	JobsFailed    prometheus.Counter
	JobsCancelled prometheus.Counter
	ActiveJobs    prometheus.Gauge
	QueuedJobs    prometheus.Gauge
	JobDuration   prometheus.Histogram

	// Chunk metrics
	ChunksConverted prometheus.Counter
	ChunkDuration   prometheus.Histogram

	// Engine metrics
	EngineCalls    prometheus.Counter
	EngineFailures prometheus.Counter

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec
}

// New creates and registers all metrics against the given registerer. Tests
// pass a fresh registry; the service passes prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		JobsAdmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "vc_jobs_admitted_total",
			Help: "Total number of conversion jobs admitted to the engine",
		}),
		JobsSucceeded: factory.NewCounter(prometheus.CounterOpts{
			Name: "vc_jobs_succeeded_total",
			Help: "Total number of conversion jobs completed successfully",
		}),
		JobsFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "vc_jobs_failed_total",
			Help: "Total number of conversion jobs aborted by an error",
		}),
		JobsCancelled: factory.NewCounter(prometheus.CounterOpts{
			Name: "vc_jobs_cancelled_total",
			Help: "Total number of jobs cancelled while queued",
		}),
		ActiveJobs: factory.NewGauge(prometheus.GaugeOpts{
			Name: "vc_active_jobs",
			Help: "Number of jobs currently holding the engine",
		}),
		QueuedJobs: factory.NewGauge(prometheus.GaugeOpts{
			Name: "vc_queued_jobs",
			Help: "Number of jobs waiting for an admission slot",
		}),
		JobDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "vc_job_duration_seconds",
			Help:    "End-to-end conversion duration per job",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
		ChunksConverted: factory.NewCounter(prometheus.CounterOpts{
			Name: "vc_chunks_converted_total",
			Help: "Total number of audio chunks converted",
		}),
		ChunkDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "vc_chunk_duration_seconds",
			Help:    "Engine conversion duration per chunk",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
		EngineCalls: factory.NewCounter(prometheus.CounterOpts{
			Name: "vc_engine_calls_total",
			Help: "Total number of engine invocations",
		}),
		EngineFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "vc_engine_failures_total",
			Help: "Total number of failed engine invocations",
		}),
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vc_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status"}),
	}
}
