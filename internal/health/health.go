// Package health aggregates subsystem checks behind a single report.
package health

import (
	"context"
	"sync"
)

// Status is the outcome of one subsystem check.
type Status struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Detail  string `json:"detail,omitempty"`
}

// Checker inspects one subsystem. A nil return means healthy; the error
// text becomes the reported detail.
type Checker func(ctx context.Context) error

// Registry runs registered checkers on demand, in registration order.
type Registry struct {
	mu     sync.RWMutex
	names  []string
	checks map[string]Checker
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{checks: make(map[string]Checker)}
}

// Register adds a checker under a name. Registering the same name again
// replaces the earlier checker.
func (r *Registry) Register(name string, check Checker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.checks[name]; !exists {
		r.names = append(r.names, name)
	}
	r.checks[name] = check
}

// CheckAll runs every checker and returns the aggregate verdict plus the
// per-subsystem results. Healthy only when every check passes.
func (r *Registry) CheckAll(ctx context.Context) (bool, []Status) {
	r.mu.RLock()
	names := make([]string, len(r.names))
	copy(names, r.names)
	checks := make(map[string]Checker, len(r.checks))
	for name, check := range r.checks {
		checks[name] = check
	}
	r.mu.RUnlock()

	healthy := true
	statuses := make([]Status, 0, len(names))
	for _, name := range names {
		st := Status{Name: name, Healthy: true}
		if err := checks[name](ctx); err != nil {
			st.Healthy = false
			st.Detail = err.Error()
			healthy = false
		}
		statuses = append(statuses, st)
	}
	return healthy, statuses
}
