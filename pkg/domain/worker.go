package domain

import (
	"context"
	"time"
)

// WorkerDescriptor describes a registered worker's capabilities and routing
// metadata. Descriptors are immutable after registration; learned trust state
// lives separately in TrustRecord.
type WorkerDescriptor struct {
	ID             string
	Name           string
	Capabilities   []string
	Keywords       []string
	TriggerPhrases []string
	// Priority ranks the worker from 1 (lowest) to 10 (highest). It scales
	// the routing score and breaks score ties.
	Priority      int
	Resources     ResourceRequirements
	MaxConcurrent int
	Timeout       time.Duration
	// Fallback marks the worker as a designated low-confidence fallback
	// target. At most one fallback should be registered.
	Fallback bool
}

// ResourceRequirements declares what request-supplied resources a worker
// needs before it can do useful work.
type ResourceRequirements struct {
	// RequiresResource indicates the worker cannot run without at least one
	// supplied resource of an allowed type.
	RequiresResource bool
	// AllowedTypes restricts which resource types count as a match
	// (e.g. "csv", "json", "image"). Empty means any type.
	AllowedTypes []string
}

// ResourceRef points at a requester-supplied resource (an uploaded file, a
// dataset handle). The core never dereferences the URI; it only matches types.
type ResourceRef struct {
	Type string
	Name string
	URI  string
}

// WorkInput carries everything a worker receives for a single invocation.
type WorkInput struct {
	TaskID    string
	Request   string
	Resources []ResourceRef
	Params    map[string]any
}

// WorkOutput is the result of a single worker invocation.
type WorkOutput struct {
	Status string
	Body   map[string]any
}

// Worker statuses reported via WorkOutput.Status.
const (
	WorkStatusOK    = "ok"
	WorkStatusError = "error"
)

// Worker is the single-capability contract every worker implements. Errors
// returned by Invoke are captured per task and never abort a batch.
type Worker interface {
	Invoke(ctx context.Context, input WorkInput) (WorkOutput, error)
}

// WorkerFunc adapts a plain function to the Worker interface.
type WorkerFunc func(ctx context.Context, input WorkInput) (WorkOutput, error)

// Invoke implements Worker.
func (f WorkerFunc) Invoke(ctx context.Context, input WorkInput) (WorkOutput, error) {
	return f(ctx, input)
}
