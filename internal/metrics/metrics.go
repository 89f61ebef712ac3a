// Package metrics holds the Prometheus collectors of the job core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// Namespace is the namespace for all metrics.
	Namespace = "alto_editor"
)

// Metrics holds all Prometheus metrics of the job core.
type Metrics struct {
	// Dispatcher
	JobsSubmittedTotal *prometheus.CounterVec
	JobsFinishedTotal  *prometheus.CounterVec
	JobDurationSeconds *prometheus.HistogramVec
	QueueDepth         prometheus.Gauge
	WorkersBusy        prometheus.Gauge
	WorkerPoolSize     prometheus.Gauge

	// Engines
	EngineRunsTotal       *prometheus.CounterVec
	EngineDurationSeconds *prometheus.HistogramVec

	// Versions
	VersionTransitionsTotal *prometheus.CounterVec
}

// New creates and registers all metrics on reg. A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	factory := promauto.With(reg)
	m := &Metrics{}
	m.initDispatcherMetrics(factory)
	m.initEngineMetrics(factory)

	m.VersionTransitionsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "versions",
			Name:      "transitions_total",
			Help:      "Total number of content version state transitions",
		},
		[]string{"operation", "to"},
	)

	return m
}

// NewNop returns metrics registered on a throwaway registry. Use it in tests.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}

func (m *Metrics) initDispatcherMetrics(factory promauto.Factory) {
	m.JobsSubmittedTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "dispatcher",
			Name:      "jobs_submitted_total",
			Help:      "Total number of jobs submitted to the dispatcher",
		},
		[]string{"kind", "priority"},
	)

	m.JobsFinishedTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "dispatcher",
			Name:      "jobs_finished_total",
			Help:      "Total number of jobs that reached a terminal state",
		},
		[]string{"kind", "state"},
	)

	m.JobDurationSeconds = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "dispatcher",
			Name:      "job_duration_seconds",
			Help:      "Duration of job execution in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 16),
		},
		[]string{"kind"},
	)

	m.QueueDepth = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Subsystem: "dispatcher",
		Name:      "queue_depth",
		Help:      "Number of jobs waiting for a worker",
	})

	m.WorkersBusy = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Subsystem: "dispatcher",
		Name:      "workers_busy",
		Help:      "Number of workers currently running a job",
	})

	m.WorkerPoolSize = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Subsystem: "dispatcher",
		Name:      "worker_pool_size",
		Help:      "Configured number of workers",
	})
}

func (m *Metrics) initEngineMetrics(factory promauto.Factory) {
	m.EngineRunsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "engine",
			Name:      "runs_total",
			Help:      "Total number of engine subprocess runs",
		},
		[]string{"engine", "outcome"},
	)

	m.EngineDurationSeconds = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "engine",
			Name:      "run_duration_seconds",
			Help:      "Duration of engine subprocess runs in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
		},
		[]string{"engine"},
	)
}
