package changelog

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Step outcomes used as metric labels.
const (
	OutcomeExecuted = "executed"
	OutcomeSkipped  = "skipped"
	OutcomeMarkRan  = "mark_ran"
	OutcomeFailed   = "failed"
)

// Metrics 升级运行指标
type Metrics struct {
	StepDuration *prometheus.HistogramVec
	Steps        *prometheus.CounterVec
}

// NewMetrics registers the runner metrics on reg. A nil reg leaves them
// unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		StepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "openmrs",
			Subsystem: "upgrade",
			Name:      "changeset_duration_seconds",
			Help:      "Time spent applying a changeset, including its ledger write.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 4, 8),
		}, []string{"kind", "outcome"}),
		Steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "openmrs",
			Subsystem: "upgrade",
			Name:      "changesets_total",
			Help:      "Changesets seen by the runner, by outcome.",
		}, []string{"outcome"}),
	}
	if reg != nil {
		reg.MustRegister(m.StepDuration, m.Steps)
	}
	return m
}

func (m *Metrics) observe(cs Changeset, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.Steps.WithLabelValues(outcome).Inc()
	if outcome == OutcomeSkipped {
		return
	}
	m.StepDuration.WithLabelValues(cs.kind(), outcome).Observe(d.Seconds())
}

func (c Changeset) kind() string {
	if c.Rule != "" {
		return "rule"
	}
	return "sql"
}
