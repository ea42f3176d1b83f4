// Package metrics implements C14 (partial, per SPEC_FULL §10.6): a minimal
// in-process counter set, read through Snapshot. No HTTP endpoint exposes
// these counters; the cache-stats endpoint reports only the cache's own
// hit/miss counters. Exposing these in a Prometheus-compatible wire format
// is explicitly out of scope.
package metrics

import "sync"

// Registry holds the process-wide counters. The zero value is usable.
type Registry struct {
	mu         sync.Mutex
	byStatus   map[int]int64
	retries    int64
	dispatched int64
}

// New builds an empty Registry.
func New() *Registry {
	return &Registry{byStatus: make(map[int]int64)}
}

// IncStatus records one completed request's final HTTP status.
func (r *Registry) IncStatus(status int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byStatus[status]++
}

// IncRetry records one dispatcher retry attempt (not the original call).
func (r *Registry) IncRetry() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retries++
}

// IncDispatched records one outbound backend call, including retries.
func (r *Registry) IncDispatched() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dispatched++
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	RequestsByStatus map[int]int64 `json:"requests_by_status"`
	Retries          int64         `json:"retries"`
	Dispatched       int64         `json:"dispatched"`
}

// Snapshot copies the current counter values.
func (r *Registry) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	byStatus := make(map[int]int64, len(r.byStatus))
	for k, v := range r.byStatus {
		byStatus[k] = v
	}
	return Snapshot{RequestsByStatus: byStatus, Retries: r.retries, Dispatched: r.dispatched}
}
