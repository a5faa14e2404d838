// Package metrics exposes the service's Prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bnema/clipper/internal/domain"
	"github.com/bnema/clipper/internal/port"
)

const namespace = "clipper"

// Prometheus implements port.Metrics on its own registry so tests and
// multiple instances never collide on the global one.
type Prometheus struct {
	registry *prometheus.Registry

	jobTransitions  *prometheus.CounterVec
	lockClaims      *prometheus.CounterVec
	uploadParts     *prometheus.CounterVec
	handOffs        *prometheus.CounterVec
	handOffDuration prometheus.Histogram
	sweepDeleted    *prometheus.CounterVec
	sweepErrors     prometheus.Counter
	tasks           *prometheus.CounterVec
}

func New() *Prometheus {
	m := &Prometheus{
		registry: prometheus.NewRegistry(),
		jobTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_transitions_total",
			Help:      "Committed job status changes.",
		}, []string{"from", "to"}),
		lockClaims: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lock_claims_total",
			Help:      "Worker claim attempts by outcome.",
		}, []string{"outcome"}),
		uploadParts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upload_parts_total",
			Help:      "Reported upload parts by outcome.",
		}, []string{"outcome"}),
		handOffs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handoffs_total",
			Help:      "Hand-offs to the processing worker by outcome.",
		}, []string{"outcome"}),
		handOffDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "handoff_duration_seconds",
			Help:      "Time spent waiting for the worker to acknowledge a hand-off.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		sweepDeleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_deleted_total",
			Help:      "Jobs removed by the retention sweeper.",
		}, []string{"status"}),
		sweepErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_errors_total",
			Help:      "Jobs the retention sweeper failed to remove.",
		}),
		tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_total",
			Help:      "Outbox task runs by kind and outcome.",
		}, []string{"kind", "outcome"}),
	}

	m.registry.MustRegister(
		m.jobTransitions,
		m.lockClaims,
		m.uploadParts,
		m.handOffs,
		m.handOffDuration,
		m.sweepDeleted,
		m.sweepErrors,
		m.tasks,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Prometheus) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Prometheus) JobTransition(from, to domain.JobStatus) {
	m.jobTransitions.WithLabelValues(string(from), string(to)).Inc()
}

func (m *Prometheus) LockClaim(outcome string) {
	m.lockClaims.WithLabelValues(outcome).Inc()
}

func (m *Prometheus) UploadPart(outcome string) {
	m.uploadParts.WithLabelValues(outcome).Inc()
}

// HandOff only observes a duration when the worker was actually called.
func (m *Prometheus) HandOff(outcome string, took time.Duration) {
	m.handOffs.WithLabelValues(outcome).Inc()
	if took > 0 {
		m.handOffDuration.Observe(took.Seconds())
	}
}

func (m *Prometheus) SweepDeleted(status domain.JobStatus, n int) {
	if n <= 0 {
		return
	}
	m.sweepDeleted.WithLabelValues(string(status)).Add(float64(n))
}

func (m *Prometheus) SweepError() {
	m.sweepErrors.Inc()
}

func (m *Prometheus) Task(kind domain.TaskKind, outcome string) {
	m.tasks.WithLabelValues(string(kind), outcome).Inc()
}

var _ port.Metrics = (*Prometheus)(nil)
