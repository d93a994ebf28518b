// Package governance provides the runtime safety controls that protect the
// execution path from a slow or failing collaborator: circuit breaking for
// governance checkpoint calls and per-worker concurrency limiting.
//
// These primitives carry no policy of their own; the gate decides what a
// tripped breaker or saturated limiter means (its configured fail-safe).
package governance
