package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the pipeline's Prometheus collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	BackendCalls    *prometheus.CounterVec
	BackendLatency  *prometheus.HistogramVec
	CoachingRounds  *prometheus.HistogramVec
	CoachingOutcome *prometheus.CounterVec
	TaskFailures    *prometheus.CounterVec
	GateResults     *prometheus.CounterVec
	RunsInFlight    prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		BackendCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finrep_backend_calls_total",
				Help: "Model backend calls by provider, call kind and outcome",
			},
			[]string{"provider", "kind", "outcome"},
		),
		BackendLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "finrep_backend_call_duration_seconds",
				Help:    "Model backend call latency",
				Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
			},
			[]string{"provider", "kind"},
		),
		CoachingRounds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "finrep_coaching_rounds",
				Help:    "Rounds executed per coaching loop",
				Buckets: prometheus.LinearBuckets(1, 1, 6),
			},
			[]string{"section"},
		),
		CoachingOutcome: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finrep_coaching_outcomes_total",
				Help: "Coaching loop outcomes (converged, exhausted, empty)",
			},
			[]string{"section", "outcome"},
		),
		TaskFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finrep_task_failures_total",
				Help: "Extraction tasks that contributed nothing to the merge",
			},
			[]string{"kind"},
		),
		GateResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finrep_gate_results_total",
				Help: "Acceptance gate verdicts",
			},
			[]string{"result"},
		),
		RunsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "finrep_runs_in_flight",
			Help: "Documents currently being processed",
		}),
	}
	reg.MustRegister(
		m.BackendCalls,
		m.BackendLatency,
		m.CoachingRounds,
		m.CoachingOutcome,
		m.TaskFailures,
		m.GateResults,
		m.RunsInFlight,
	)
	return m
}

// ObserveCall records one backend call.
func (m *Metrics) ObserveCall(provider, kind string, ok bool, seconds float64) {
	if m == nil {
		return
	}
	outcome := "success"
	if !ok {
		outcome = "failure"
	}
	m.BackendCalls.WithLabelValues(provider, kind, outcome).Inc()
	m.BackendLatency.WithLabelValues(provider, kind).Observe(seconds)
}

// ObserveCoaching records the end of one coaching loop.
func (m *Metrics) ObserveCoaching(section string, rounds int, outcome string) {
	if m == nil {
		return
	}
	m.CoachingRounds.WithLabelValues(section).Observe(float64(rounds))
	m.CoachingOutcome.WithLabelValues(section, outcome).Inc()
}

// ObserveTaskFailure counts a failed extraction task by error kind.
func (m *Metrics) ObserveTaskFailure(kind string) {
	if m == nil {
		return
	}
	m.TaskFailures.WithLabelValues(kind).Inc()
}

// ObserveGate records a gate verdict.
func (m *Metrics) ObserveGate(passed bool) {
	if m == nil {
		return
	}
	result := "passed"
	if !passed {
		result = "failed"
	}
	m.GateResults.WithLabelValues(result).Inc()
}

// RunStarted and RunFinished bracket one document run.
func (m *Metrics) RunStarted() {
	if m == nil {
		return
	}
	m.RunsInFlight.Inc()
}

func (m *Metrics) RunFinished() {
	if m == nil {
		return
	}
	m.RunsInFlight.Dec()
}
