package executor

import (
	"context"
	"sync"
)

// CancellationRegistry tracks the live cancellation token for every
// in-flight execution, keyed by executionId, so an external Cancel call
// can abort a specific run mid-stage (spec.md §9 "Cancellation").
type CancellationRegistry struct {
	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

func NewCancellationRegistry() *CancellationRegistry {
	return &CancellationRegistry{cancels: make(map[string]context.CancelFunc)}
}

func (r *CancellationRegistry) register(executionID string, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancels[executionID] = cancel
}

func (r *CancellationRegistry) unregister(executionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cancels, executionID)
}

// Cancel aborts the execution's context if it is still in flight. Returns
// false if no such execution is currently running (already completed or
// unknown id); callers should treat that as a no-op, not an error.
func (r *CancellationRegistry) Cancel(executionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cancel, ok := r.cancels[executionID]
	if !ok {
		return false
	}
	cancel()
	return true
}

// CancelAll aborts every execution currently in flight. Used by the
// worker pool's graceful shutdown once its deadline has passed.
func (r *CancellationRegistry) CancelAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, cancel := range r.cancels {
		cancel()
	}
}
