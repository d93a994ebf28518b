// Package registry indexes worker descriptors and their bound
// implementations. Mutation is single-writer; readers see copy-on-write
// snapshots and never block on a write in progress.
package registry

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/stewardai/steward-oss/pkg/domain"
)

// snapshot is the immutable view swapped in on every mutation. Descriptors
// preserve registration order; the map indexes by id.
type snapshot struct {
	descriptors []domain.WorkerDescriptor
	byID        map[string]int
	workers     map[string]domain.Worker
}

// Registry holds the active worker descriptor set.
type Registry struct {
	writeMu sync.Mutex
	current atomic.Pointer[snapshot]
	logger  *slog.Logger
}

// New creates an empty registry.
func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{logger: logger}
	r.current.Store(&snapshot{
		byID:    make(map[string]int),
		workers: make(map[string]domain.Worker),
	})
	return r
}

// Register adds a descriptor. It fails with domain.ErrDuplicateWorker when
// the id already exists and validates the descriptor's priority bounds.
func (r *Registry) Register(desc domain.WorkerDescriptor) error {
	if desc.ID == "" {
		return fmt.Errorf("%w: descriptor id is required", domain.ErrConfigInvalid)
	}
	if desc.Priority < 1 || desc.Priority > 10 {
		return fmt.Errorf("%w: worker %q priority %d outside [1,10]", domain.ErrConfigInvalid, desc.ID, desc.Priority)
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	cur := r.current.Load()
	if _, exists := cur.byID[desc.ID]; exists {
		return fmt.Errorf("%w: %s", domain.ErrDuplicateWorker, desc.ID)
	}

	next := cur.cloneForWrite()
	next.byID[desc.ID] = len(next.descriptors)
	next.descriptors = append(next.descriptors, desc)
	r.current.Store(next)

	r.logger.Info("worker registered",
		"worker_id", desc.ID,
		"priority", desc.Priority,
		"keywords", len(desc.Keywords),
		"triggers", len(desc.TriggerPhrases),
	)
	return nil
}

// Update replaces an existing descriptor in place, preserving registration
// order and any bound implementation. Used by manifest hot reload.
func (r *Registry) Update(desc domain.WorkerDescriptor) error {
	if desc.Priority < 1 || desc.Priority > 10 {
		return fmt.Errorf("%w: worker %q priority %d outside [1,10]", domain.ErrConfigInvalid, desc.ID, desc.Priority)
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	cur := r.current.Load()
	idx, exists := cur.byID[desc.ID]
	if !exists {
		return fmt.Errorf("%w: %s", domain.ErrWorkerNotFound, desc.ID)
	}

	next := cur.cloneForWrite()
	next.descriptors[idx] = desc
	r.current.Store(next)

	r.logger.Info("worker descriptor updated", "worker_id", desc.ID, "priority", desc.Priority)
	return nil
}

// Bind attaches a worker implementation to a registered descriptor.
func (r *Registry) Bind(id string, worker domain.Worker) error {
	if worker == nil {
		return fmt.Errorf("%w: nil worker for %q", domain.ErrConfigInvalid, id)
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	cur := r.current.Load()
	if _, exists := cur.byID[id]; !exists {
		return fmt.Errorf("%w: %s", domain.ErrWorkerNotFound, id)
	}

	next := cur.cloneForWrite()
	next.workers[id] = worker
	r.current.Store(next)
	return nil
}

// Get returns the descriptor for the given id.
func (r *Registry) Get(id string) (domain.WorkerDescriptor, error) {
	cur := r.current.Load()
	idx, ok := cur.byID[id]
	if !ok {
		return domain.WorkerDescriptor{}, fmt.Errorf("%w: %s", domain.ErrWorkerNotFound, id)
	}
	return cur.descriptors[idx], nil
}

// Worker returns the bound implementation for the given id.
func (r *Registry) Worker(id string) (domain.Worker, error) {
	cur := r.current.Load()
	worker, ok := cur.workers[id]
	if !ok {
		return nil, fmt.Errorf("%w: no implementation bound for %s", domain.ErrWorkerNotFound, id)
	}
	return worker, nil
}

// List returns the descriptor set in registration order. The returned slice
// is an immutable snapshot; later registrations never mutate it.
func (r *Registry) List() []domain.WorkerDescriptor {
	return r.current.Load().descriptors
}

// Fallback returns the designated fallback descriptor, if any.
func (r *Registry) Fallback() (domain.WorkerDescriptor, bool) {
	for _, desc := range r.current.Load().descriptors {
		if desc.Fallback {
			return desc, true
		}
	}
	return domain.WorkerDescriptor{}, false
}

// Len reports how many workers are registered.
func (r *Registry) Len() int {
	return len(r.current.Load().descriptors)
}

func (s *snapshot) cloneForWrite() *snapshot {
	next := &snapshot{
		descriptors: make([]domain.WorkerDescriptor, len(s.descriptors)),
		byID:        make(map[string]int, len(s.byID)+1),
		workers:     make(map[string]domain.Worker, len(s.workers)+1),
	}
	copy(next.descriptors, s.descriptors)
	for id, idx := range s.byID {
		next.byID[id] = idx
	}
	for id, w := range s.workers {
		next.workers[id] = w
	}
	return next
}
