// Package metrics provides the Prometheus collectors for session processing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	// Namespace is the namespace for all lead engine metrics
	Namespace = "lead_engine"
)

// Metrics holds the counters the processors, workers and sweeper update.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	UnitsTotal          *prometheus.CounterVec
	SessionsFinalized   *prometheus.CounterVec
	SweeperCancelled    *prometheus.CounterVec
	SweeperSkipped      *prometheus.CounterVec
	JobsSubmitted       *prometheus.CounterVec
	JobsHandled         *prometheus.CounterVec
	WorkersBusy         *prometheus.GaugeVec
	EnrichmentFetches   *prometheus.CounterVec
	EnrichmentDurations prometheus.Histogram

	gatherer prometheus.Gatherer
}

// NewMetrics creates and registers every collector on reg.
// A nil reg uses a fresh registry.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		UnitsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "units_total",
			Help:      "Units of work handled, by session kind and outcome",
		}, []string{"kind", "outcome"}),

		SessionsFinalized: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "sessions_finalized_total",
			Help:      "Sessions moved to a terminal status by a worker",
		}, []string{"kind", "status"}),

		SweeperCancelled: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "sweeper",
			Name:      "cancelled_total",
			Help:      "Stuck sessions forced to CANCELLED",
		}, []string{"kind"}),

		SweeperSkipped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "sweeper",
			Name:      "skipped_total",
			Help:      "Sessions the sweeper left alone",
		}, []string{"kind", "reason"}),

		JobsSubmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "queue",
			Name:      "jobs_submitted_total",
			Help:      "Jobs submitted per queue",
		}, []string{"queue"}),

		JobsHandled: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "worker",
			Name:      "jobs_handled_total",
			Help:      "Jobs acknowledged by workers, by result",
		}, []string{"queue", "result"}),

		WorkersBusy: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "worker",
			Name:      "busy",
			Help:      "Worker slots currently running a job",
		}, []string{"queue"}),

		EnrichmentFetches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "enrichment",
			Name:      "fetches_total",
			Help:      "Site fetches by result",
		}, []string{"result"}),

		EnrichmentDurations: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "enrichment",
			Name:      "fetch_duration_seconds",
			Help:      "Duration of site fetches including retries",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}),

		gatherer: reg,
	}
}

// Handler serves the registered collectors in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// ObserveUnit counts one handled unit
func (m *Metrics) ObserveUnit(kind, outcome string) {
	if m == nil {
		return
	}
	m.UnitsTotal.WithLabelValues(kind, outcome).Inc()
}

// ObserveFinalized counts one terminal write made by a worker
func (m *Metrics) ObserveFinalized(kind, status string) {
	if m == nil {
		return
	}
	m.SessionsFinalized.WithLabelValues(kind, status).Inc()
}

// ObserveSweep records one sweeper pass
func (m *Metrics) ObserveSweep(kind string, cancelled, skippedTerminal, skippedLive int) {
	if m == nil {
		return
	}
	m.SweeperCancelled.WithLabelValues(kind).Add(float64(cancelled))
	m.SweeperSkipped.WithLabelValues(kind, "terminal").Add(float64(skippedTerminal))
	m.SweeperSkipped.WithLabelValues(kind, "live_job").Add(float64(skippedLive))
}

// ObserveSubmitted counts one submitted job
func (m *Metrics) ObserveSubmitted(queue string) {
	if m == nil {
		return
	}
	m.JobsSubmitted.WithLabelValues(queue).Inc()
}

// ObserveJobHandled counts one job acknowledgment
func (m *Metrics) ObserveJobHandled(queue, result string) {
	if m == nil {
		return
	}
	m.JobsHandled.WithLabelValues(queue, result).Inc()
}

// ObserveReclaimed counts jobs whose lease expired, by what happened to them
func (m *Metrics) ObserveReclaimed(queue string, requeued, failed int) {
	if m == nil {
		return
	}
	m.JobsHandled.WithLabelValues(queue, "stalled_requeued").Add(float64(requeued))
	m.JobsHandled.WithLabelValues(queue, "stalled_failed").Add(float64(failed))
}

// WorkerStarted and WorkerFinished track busy slots
func (m *Metrics) WorkerStarted(queue string) {
	if m == nil {
		return
	}
	m.WorkersBusy.WithLabelValues(queue).Inc()
}

func (m *Metrics) WorkerFinished(queue string) {
	if m == nil {
		return
	}
	m.WorkersBusy.WithLabelValues(queue).Dec()
}

// ObserveFetch records one enrichment fetch
func (m *Metrics) ObserveFetch(result string, seconds float64) {
	if m == nil {
		return
	}
	m.EnrichmentFetches.WithLabelValues(result).Inc()
	m.EnrichmentDurations.Observe(seconds)
}
