package telemetry

import "sync"

// ResetMetricsForTest clears cached metric instruments so tests can
// reinitialize them against a fresh MeterProvider. This is intended for
// use in test code only.
func ResetMetricsForTest() {
	metricsOnce = sync.Once{}
	metricsInitErr = nil
	taskExecutionCounter = nil
	taskSkipCounter = nil
	taskTimeoutCounter = nil
	taskLatencyHistogram = nil
	routingCounter = nil
	routingConfidence = nil
}
