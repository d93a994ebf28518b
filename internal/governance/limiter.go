package governance

import (
	"context"
	"sync"
)

// ConcurrencyLimiter bounds in-flight invocations per worker according to
// each descriptor's concurrency limit. Acquire blocks until a slot frees or
// the task deadline cancels the wait; workers without a configured limit are
// never throttled.
type ConcurrencyLimiter struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

// NewConcurrencyLimiter creates an empty limiter.
func NewConcurrencyLimiter() *ConcurrencyLimiter {
	return &ConcurrencyLimiter{
		slots: make(map[string]chan struct{}),
	}
}

// Configure sets the slot count for one worker. Zero or negative removes the
// limit. Reconfiguration replaces the pool; in-flight holders release into
// the old pool harmlessly.
func (l *ConcurrencyLimiter) Configure(workerID string, limit int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if limit <= 0 {
		delete(l.slots, workerID)
		return
	}
	l.slots[workerID] = make(chan struct{}, limit)
}

// Acquire takes one slot for the worker, blocking until one is available or
// ctx is done. The returned release function is a no-op for unlimited
// workers and always safe to call exactly once.
func (l *ConcurrencyLimiter) Acquire(ctx context.Context, workerID string) (func(), error) {
	l.mu.Lock()
	pool, ok := l.slots[workerID]
	l.mu.Unlock()

	if !ok {
		return func() {}, nil
	}

	select {
	case pool <- struct{}{}:
		return func() { <-pool }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// InFlight reports how many slots are currently held for a worker.
func (l *ConcurrencyLimiter) InFlight(workerID string) int {
	l.mu.Lock()
	pool, ok := l.slots[workerID]
	l.mu.Unlock()

	if !ok {
		return 0
	}
	return len(pool)
}
