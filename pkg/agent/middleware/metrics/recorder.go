// Package metrics records LLM request metrics for every component's model client.
package metrics

import "time"

// Recorder defines the interface for recording LLM operation metrics.
type Recorder interface {
	// ObserveRequest records a completed LLM request.
	ObserveRequest(
		model, component string,
		promptTokens, completionTokens int,
		cost float64,
		success bool,
		errorType string,
		duration time.Duration,
	)

	// IncThrottle counts rate limiting events.
	IncThrottle(model, reason string)

	// ObserveQueueWait records time spent waiting for rate limit availability.
	ObserveQueueWait(model string, duration time.Duration)
}

// NoopRecorder discards all metrics.
type NoopRecorder struct{}

// Nop returns a no-op metrics recorder.
func Nop() Recorder {
	return NoopRecorder{}
}

func (NoopRecorder) ObserveRequest(_, _ string, _, _ int, _ float64, _ bool, _ string, _ time.Duration) {
}

func (NoopRecorder) IncThrottle(_, _ string) {}

func (NoopRecorder) ObserveQueueWait(_ string, _ time.Duration) {}
