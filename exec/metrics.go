package exec

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides Prometheus-compatible metrics for executor
// monitoring in production.
//
// Metrics exposed (all namespaced with "fabricexec_"):
//
//  1. active_workers (gauge): workers currently running.
//  2. queue_depth (gauge): jobs waiting across all worker queues.
//  3. job_duration_ms (histogram): job execution duration.
//     Labels: action, outcome (success/error).
//  4. jobs_total (counter): jobs executed. Labels: outcome.
//  5. procedures_total (counter): procedures admitted to workers.
//  6. rollbacks_total (counter): transaction rollbacks, by result
//     (ok/failed).
//  7. commit_failures_total (counter): commits that failed after a
//     successful action.
//
// All methods are nil-receiver safe, so metrics stay optional:
// an executor without Metrics pays only a nil check.
type Metrics struct {
	activeWorkers  prometheus.Gauge
	queueDepth     prometheus.Gauge
	jobDuration    *prometheus.HistogramVec
	jobs           *prometheus.CounterVec
	procedures     prometheus.Counter
	rollbacks      *prometheus.CounterVec
	commitFailures prometheus.Counter
}

// NewMetrics creates and registers all executor metrics with the
// provided registry (prometheus.DefaultRegisterer when nil).
//
// Expose them via HTTP for scraping:
//
//	registry := prometheus.NewRegistry()
//	metrics := exec.NewMetrics(registry)
//	http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &Metrics{
		activeWorkers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "fabricexec",
			Name:      "active_workers",
			Help:      "Number of executor workers currently running",
		}),
		queueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "fabricexec",
			Name:      "queue_depth",
			Help:      "Jobs waiting for execution across all worker queues",
		}),
		jobDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "fabricexec",
			Name:      "job_duration_ms",
			Help:      "Job execution duration in milliseconds",
			Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000},
		}, []string{"action", "outcome"}),
		jobs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fabricexec",
			Name:      "jobs_total",
			Help:      "Jobs executed",
		}, []string{"outcome"}),
		procedures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "fabricexec",
			Name:      "procedures_total",
			Help:      "Procedures admitted to workers",
		}),
		rollbacks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fabricexec",
			Name:      "rollbacks_total",
			Help:      "Transaction rollbacks after failed actions",
		}, []string{"result"}),
		commitFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "fabricexec",
			Name:      "commit_failures_total",
			Help:      "Commits that failed after a successful action",
		}),
	}
}

// WorkerStarted increments the active worker gauge.
func (m *Metrics) WorkerStarted() {
	if m == nil {
		return
	}
	m.activeWorkers.Inc()
}

// WorkerStopped decrements the active worker gauge.
func (m *Metrics) WorkerStopped() {
	if m == nil {
		return
	}
	m.activeWorkers.Dec()
}

// QueueAdd adjusts the aggregate queue depth gauge.
func (m *Metrics) QueueAdd(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Add(float64(n))
}

// ObserveJob records one job execution.
func (m *Metrics) ObserveJob(action, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.jobDuration.WithLabelValues(action, outcome).Observe(float64(d.Milliseconds()))
	m.jobs.WithLabelValues(outcome).Inc()
}

// IncProcedures records a procedure admission.
func (m *Metrics) IncProcedures() {
	if m == nil {
		return
	}
	m.procedures.Inc()
}

// IncRollbacks records a successful rollback.
func (m *Metrics) IncRollbacks() {
	if m == nil {
		return
	}
	m.rollbacks.WithLabelValues("ok").Inc()
}

// IncRollbackFailures records a rollback that itself failed.
func (m *Metrics) IncRollbackFailures() {
	if m == nil {
		return
	}
	m.rollbacks.WithLabelValues("failed").Inc()
}

// IncCommitFailures records a failed commit.
func (m *Metrics) IncCommitFailures() {
	if m == nil {
		return
	}
	m.commitFailures.Inc()
}
