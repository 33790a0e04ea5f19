// Package metrics records run-level metrics of the orchestrator and reads
// aggregated usage back from a Prometheus server.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// RunRecorder observes orchestrator runs.
type RunRecorder interface {
	// ObserveRun records a finished run.
	ObserveRun(status string, iterations int)

	// ObserveExecution records one Runner invocation.
	ObserveExecution(outcome string, duration time.Duration)

	// ObserveDiagnosis counts a Reviewer verdict.
	ObserveDiagnosis(kind string)

	// ObserveTransition counts a state change.
	ObserveTransition(from, to string)
}

// NoopRunRecorder discards all metrics.
type NoopRunRecorder struct{}

// Nop returns a no-op run recorder.
func Nop() RunRecorder {
	return NoopRunRecorder{}
}

func (NoopRunRecorder) ObserveRun(_ string, _ int) {}

func (NoopRunRecorder) ObserveExecution(_ string, _ time.Duration) {}

func (NoopRunRecorder) ObserveDiagnosis(_ string) {}

func (NoopRunRecorder) ObserveTransition(_, _ string) {}

// PrometheusRunRecorder implements RunRecorder with Prometheus collectors.
type PrometheusRunRecorder struct {
	runsTotal         *prometheus.CounterVec
	iterations        prometheus.Histogram
	executionDuration *prometheus.HistogramVec
	diagnosesTotal    *prometheus.CounterVec
	transitionsTotal  *prometheus.CounterVec
}

// NewPrometheusRunRecorder registers the run collectors on reg.
func NewPrometheusRunRecorder(reg prometheus.Registerer) *PrometheusRunRecorder {
	factory := promauto.With(reg)
	return &PrometheusRunRecorder{
		runsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "foamagent_runs_total",
				Help: "Finished runs by final status",
			},
			[]string{"status"},
		),
		iterations: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "foamagent_run_iterations",
				Help:    "Iterations used per finished run",
				Buckets: prometheus.LinearBuckets(1, 1, 10),
			},
		),
		executionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "foamagent_runner_duration_seconds",
				Help:    "Duration of case executions by outcome",
				Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
			},
			[]string{"outcome"},
		),
		diagnosesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "foamagent_diagnoses_total",
				Help: "Reviewer diagnoses by failure kind",
			},
			[]string{"kind"},
		),
		transitionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "foamagent_state_transitions_total",
				Help: "Orchestrator state transitions",
			},
			[]string{"from", "to"},
		),
	}
}

// ObserveRun records a finished run.
func (p *PrometheusRunRecorder) ObserveRun(status string, iterations int) {
	p.runsTotal.WithLabelValues(status).Inc()
	p.iterations.Observe(float64(iterations))
}

// ObserveExecution records one Runner invocation.
func (p *PrometheusRunRecorder) ObserveExecution(outcome string, duration time.Duration) {
	p.executionDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// ObserveDiagnosis counts a Reviewer verdict.
func (p *PrometheusRunRecorder) ObserveDiagnosis(kind string) {
	p.diagnosesTotal.WithLabelValues(kind).Inc()
}

// ObserveTransition counts a state change.
func (p *PrometheusRunRecorder) ObserveTransition(from, to string) {
	p.transitionsTotal.WithLabelValues(from, to).Inc()
}
