// Package circuitbreaker provides a per-operation circuit breaker with
// closed → open → half-open state transitions.
//
// The payment provider client wraps each outbound call family (intent,
// refund, transfer) in its own circuit so a refund outage does not block
// new checkouts.
package circuitbreaker

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// State represents the circuit breaker state.
type State int

const (
	StateClosed   State = iota // Normal: requests flow through
	StateOpen                  // Tripped: requests are rejected
	StateHalfOpen              // Probing: one request allowed to test recovery
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

var cbStateTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "taskvine",
	Subsystem: "circuitbreaker",
	Name:      "state_transitions_total",
	Help:      "Circuit breaker state transitions by operation, from-state, and to-state.",
}, []string{"op", "from_state", "to_state"})

func init() {
	prometheus.MustRegister(cbStateTransitions)
}

type entry struct {
	state       State
	failures    int
	lastFailure time.Time
}

// Breaker tracks failure counts per operation and trips open when
// consecutive failures reach the threshold. After openDuration, the circuit
// moves to half-open and allows one probe request.
type Breaker struct {
	mu           sync.Mutex
	entries      map[string]*entry
	threshold    int
	openDuration time.Duration
}

// New creates a circuit breaker.
func New(threshold int, openDuration time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if openDuration <= 0 {
		openDuration = 30 * time.Second
	}
	return &Breaker{
		entries:      make(map[string]*entry),
		threshold:    threshold,
		openDuration: openDuration,
	}
}

// Allow returns true if a request for op should be allowed.
// If the circuit is open and openDuration has elapsed, it transitions to
// half-open and allows one probe.
func (b *Breaker) Allow(op string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[op]
	if !ok {
		return true
	}

	switch e.state {
	case StateClosed:
		return true
	case StateOpen:
		if time.Since(e.lastFailure) >= b.openDuration {
			b.transition(e, op, StateHalfOpen)
			return true
		}
		return false
	case StateHalfOpen:
		return false
	default:
		return true
	}
}

// RecordSuccess resets the failure count and closes a half-open circuit.
func (b *Breaker) RecordSuccess(op string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[op]
	if !ok {
		return
	}
	if e.state == StateHalfOpen {
		b.transition(e, op, StateClosed)
	}
	e.failures = 0
}

// RecordFailure counts a failure and trips the circuit when the threshold
// is reached. A failed half-open probe re-opens immediately.
func (b *Breaker) RecordFailure(op string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[op]
	if !ok {
		e = &entry{state: StateClosed}
		b.entries[op] = e
	}

	e.failures++
	e.lastFailure = time.Now()

	if e.state == StateHalfOpen {
		b.transition(e, op, StateOpen)
		return
	}
	if e.state == StateClosed && e.failures >= b.threshold {
		b.transition(e, op, StateOpen)
	}
}

// State returns the current state for op. Unknown ops are closed.
func (b *Breaker) State(op string) State {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[op]
	if !ok {
		return StateClosed
	}
	return e.state
}

// Caller must hold b.mu.
func (b *Breaker) transition(e *entry, op string, to State) {
	from := e.state
	if from == to {
		return
	}
	e.state = to
	cbStateTransitions.WithLabelValues(op, from.String(), to.String()).Inc()
}
