package dbstate

import (
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

// Metrics records transition, detection and backup outcomes. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	transitions        *prom.CounterVec
	transitionDuration *prom.HistogramVec
	detections         *prom.CounterVec
	backups            *prom.CounterVec
	inFlight           prom.Gauge
}

func NewMetrics(reg prom.Registerer) *Metrics {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	m := &Metrics{
		transitions: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "testdata",
			Name:      "transitions_total",
			Help:      "State transitions by target state, kind and result",
		}, []string{"state", "kind", "result"}),
		transitionDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "testdata",
			Name:      "transition_duration_seconds",
			Help:      "Script execution time of successful transitions",
			Buckets:   prom.DefBuckets,
		}, []string{"state"}),
		detections: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "testdata",
			Name:      "detections_total",
			Help:      "State detections by classified state",
		}, []string{"state"}),
		backups: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "testdata",
			Name:      "backups_total",
			Help:      "Backups by result",
		}, []string{"result"}),
		inFlight: prom.NewGauge(prom.GaugeOpts{
			Namespace: "testdata",
			Name:      "transition_in_flight",
			Help:      "1 while a transition holds the lock",
		}),
	}
	reg.MustRegister(m.transitions, m.transitionDuration, m.detections, m.backups, m.inFlight)
	return m
}

func (m *Metrics) ObserveTransition(state string, kind TransitionKind, d time.Duration, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = string(KindOf(err))
		if result == "" {
			result = "error"
		}
	}
	m.transitions.WithLabelValues(state, string(kind), result).Inc()
	if err == nil {
		m.transitionDuration.WithLabelValues(state).Observe(d.Seconds())
	}
}

func (m *Metrics) SetInFlight(v bool) {
	if m == nil {
		return
	}
	if v {
		m.inFlight.Set(1)
		return
	}
	m.inFlight.Set(0)
}

func (m *Metrics) IncDetection(state string) {
	if m == nil {
		return
	}
	m.detections.WithLabelValues(state).Inc()
}

func (m *Metrics) IncBackup(success bool) {
	if m == nil {
		return
	}
	if success {
		m.backups.WithLabelValues("success").Inc()
		return
	}
	m.backups.WithLabelValues("failed").Inc()
}
