// Package metrics exposes rotation and session metrics on a private
// Prometheus registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Rotation outcomes.
const (
	OutcomeCommitted     = "committed"
	OutcomeRestored      = "restored"
	OutcomeUnrecoverable = "unrecoverable"
	OutcomeRejected      = "rejected"
)

// Restore triggers.
const (
	TriggerRotation = "rotation"
	TriggerOperator = "operator"
	TriggerStartup  = "startup"
)

// Metrics is safe to use as a nil pointer; every recorder is then a no-op.
type Metrics struct {
	registry *prometheus.Registry

	rotationStarted  *prometheus.CounterVec
	rotationOutcome  *prometheus.CounterVec
	rotationDuration *prometheus.HistogramVec
	restoreTotal     *prometheus.CounterVec
	snapshotTotal    *prometheus.CounterVec
	sessionsSwept    prometheus.Counter
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		rotationStarted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gophvault_rotation_started_total",
			Help: "Total number of master key rotations started",
		}, []string{"vault"}),
		rotationOutcome: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gophvault_rotation_completed_total",
			Help: "Total number of master key rotations by outcome",
		}, []string{"vault", "outcome"}),
		rotationDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gophvault_rotation_duration_seconds",
			Help:    "Duration of master key rotations in seconds",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		}, []string{"vault"}),
		restoreTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gophvault_snapshot_restore_total",
			Help: "Total number of snapshot restores by trigger and result",
		}, []string{"vault", "trigger", "result"}),
		snapshotTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gophvault_snapshot_created_total",
			Help: "Total number of snapshots taken by origin",
		}, []string{"vault", "origin"}),
		sessionsSwept: f.NewCounter(prometheus.CounterOpts{
			Name: "gophvault_sessions_expired_total",
			Help: "Total number of expired sessions removed by the sweeper",
		}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the exposition format for the private registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) RotationStarted(vault string) {
	if m == nil {
		return
	}
	m.rotationStarted.WithLabelValues(vault).Inc()
}

func (m *Metrics) RotationFinished(vault, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.rotationOutcome.WithLabelValues(vault, outcome).Inc()
	if outcome != OutcomeRejected {
		m.rotationDuration.WithLabelValues(vault).Observe(d.Seconds())
	}
}

func (m *Metrics) Restore(vault, trigger string, ok bool) {
	if m == nil {
		return
	}
	result := "success"
	if !ok {
		result = "failure"
	}
	m.restoreTotal.WithLabelValues(vault, trigger, result).Inc()
}

func (m *Metrics) SnapshotTaken(vault, origin string) {
	if m == nil {
		return
	}
	m.snapshotTotal.WithLabelValues(vault, origin).Inc()
}

func (m *Metrics) SessionsSwept(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.sessionsSwept.Add(float64(n))
}
