package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the check-in collectors. A nil *Metrics records nothing.
type Metrics struct {
	Started            *prometheus.CounterVec
	Completed          *prometheus.CounterVec
	Resets             *prometheus.CounterVec
	PreconditionFailed *prometheus.CounterVec
	MatchFailures      *prometheus.CounterVec
	CameraErrors       prometheus.Counter
	Duration           *prometheus.HistogramVec
	ActiveSessions     prometheus.Gauge
}

// New creates the collectors and registers them with reg when non-nil.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Started: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "checkin_attempts_started_total",
			Help: "Check-in attempts started, by flow.",
		}, []string{"flow"}),
		Completed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "checkin_attempts_completed_total",
			Help: "Check-in attempts that produced a result, by flow and method.",
		}, []string{"flow", "method"}),
		Resets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "checkin_resets_total",
			Help: "Explicit session resets, by flow.",
		}, []string{"flow"}),
		PreconditionFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "checkin_precondition_failures_total",
			Help: "Start actions rejected because the camera was not active.",
		}, []string{"flow"}),
		MatchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "checkin_match_failures_total",
			Help: "Attempts aborted because the matcher returned an error.",
		}, []string{"flow"}),
		CameraErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "checkin_camera_errors_total",
			Help: "Camera activations that failed.",
		}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "checkin_attempt_duration_seconds",
			Help:    "Time from start to result.",
			Buckets: []float64{0.5, 1, 2, 3, 5, 10},
		}, []string{"flow"}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "checkin_active_sessions",
			Help: "Sessions currently open.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Started, m.Completed, m.Resets, m.PreconditionFailed,
			m.MatchFailures, m.CameraErrors, m.Duration, m.ActiveSessions)
	}
	return m
}

func (m *Metrics) AttemptStarted(flow string) {
	if m == nil {
		return
	}
	m.Started.WithLabelValues(flow).Inc()
}

func (m *Metrics) AttemptCompleted(flow, method string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Completed.WithLabelValues(flow, method).Inc()
	m.Duration.WithLabelValues(flow).Observe(elapsed.Seconds())
}

func (m *Metrics) SessionReset(flow string) {
	if m == nil {
		return
	}
	m.Resets.WithLabelValues(flow).Inc()
}

func (m *Metrics) Precondition(flow string) {
	if m == nil {
		return
	}
	m.PreconditionFailed.WithLabelValues(flow).Inc()
}

func (m *Metrics) MatchFailed(flow string) {
	if m == nil {
		return
	}
	m.MatchFailures.WithLabelValues(flow).Inc()
}

func (m *Metrics) CameraError() {
	if m == nil {
		return
	}
	m.CameraErrors.Inc()
}

func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.ActiveSessions.Inc()
}

func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.ActiveSessions.Dec()
}
