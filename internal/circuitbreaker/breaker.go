// Package circuitbreaker provides a per-channel circuit breaker with
// closed → open → half-open state transitions.
//
// The router uses it to stop hammering a failing relay: after enough
// consecutive failures the relay channel trips open and submissions go
// straight to the direct path until a probe succeeds.
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

var stateTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "txshield",
	Subsystem: "circuitbreaker",
	Name:      "state_transitions_total",
	Help:      "Circuit breaker state transitions by channel, from-state, and to-state.",
}, []string{"channel", "from_state", "to_state"})

func init() {
	prometheus.MustRegister(stateTransitions)
}

// entry tracks per-channel circuit state.
type entry struct {
	state       State
	failures    int
	lastFailure time.Time
}

// Breaker is a per-channel circuit breaker. It tracks consecutive failure
// counts per submission channel and trips open when failures exceed the
// threshold. After openDuration, the circuit moves to half-open and
// allows one probe request.
type Breaker struct {
	mu           sync.Mutex
	entries      map[string]*entry
	threshold    int
	openDuration time.Duration
}

// New creates a circuit breaker that opens after threshold consecutive
// failures and stays open for openDuration before probing.
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

// Allow returns true if a request on channel should be attempted.
// If the circuit is open and openDuration has elapsed, it transitions to
// half-open and admits one probe.
func (b *Breaker) Allow(channel string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[channel]
	if !ok {
		return true // No entry = closed
	}

	switch e.state {
	case StateClosed:
		return true
	case StateOpen:
		if time.Since(e.lastFailure) >= b.openDuration {
			b.transition(e, channel, StateHalfOpen)
			return true // Allow one probe
		}
		return false
	case StateHalfOpen:
		return false // Already probing; reject until probe completes
	default:
		return true
	}
}

// RecordSuccess records a successful request. Resets the failure count
// and closes the circuit if it was half-open.
func (b *Breaker) RecordSuccess(channel string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[channel]
	if !ok {
		return
	}

	if e.state == StateHalfOpen {
		b.transition(e, channel, StateClosed)
	}
	e.failures = 0
}

// RecordFailure records a failed request. If consecutive failures reach
// the threshold, trips the circuit open.
func (b *Breaker) RecordFailure(channel string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[channel]
	if !ok {
		e = &entry{state: StateClosed}
		b.entries[channel] = e
	}

	e.failures++
	e.lastFailure = time.Now()

	if e.state == StateHalfOpen {
		// Probe failed, back to open.
		b.transition(e, channel, StateOpen)
		return
	}

	if e.state == StateClosed && e.failures >= b.threshold {
		b.transition(e, channel, StateOpen)
	}
}

// State returns the current state for a channel. Unknown channels are closed.
func (b *Breaker) State(channel string) State {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[channel]
	if !ok {
		return StateClosed
	}
	return e.state
}

// transition changes state and records the metric. Caller must hold b.mu.
func (b *Breaker) transition(e *entry, channel string, to State) {
	from := e.state
	if from == to {
		return
	}
	e.state = to
	stateTransitions.WithLabelValues(channel, from.String(), to.String()).Inc()
}
