// Package telemetry wires OpenTelemetry exporters and meters for the worker
// orchestration core.
//
// It centralises trace provider setup, applies service resource attributes,
// and records task and routing metrics so operators can correlate governance
// decisions with worker behaviour.
package telemetry
