// Package breaker implements per-(provider, role) circuit breakers that
// gate LLM gateway calls, failing fast while a provider is unhealthy.
package breaker

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen rejects a call without consuming a retry slot.
var ErrCircuitOpen = errors.New("circuit breaker open")

// State is the breaker state.
type State string

// Breaker states.
const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// Config holds the breaker thresholds.
type Config struct {
	// FailureThreshold opens the breaker after this many consecutive
	// failures in the closed state.
	FailureThreshold int

	// SuccessThreshold closes the breaker after this many consecutive
	// successes in the half-open state.
	SuccessThreshold int

	// OpenTimeout is how long the breaker stays open before allowing a
	// half-open probe.
	OpenTimeout time.Duration
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		OpenTimeout:      60 * time.Second,
	}
}

// Stats is a snapshot of a breaker's counters.
type Stats struct {
	Name           string    `json:"name"`
	State          State     `json:"state"`
	TotalRequests  int64     `json:"total_requests"`
	TotalFailures  int64     `json:"total_failures"`
	TotalSuccesses int64     `json:"total_successes"`
	LastTransition time.Time `json:"last_transition"`
}

// Breaker is a single circuit breaker. All transitions happen under the
// breaker's own mutex; callers never observe a partial transition.
type Breaker struct {
	name string
	cfg  Config
	now  func() time.Time

	mu             sync.Mutex
	state          State
	consecFails    int
	consecOKs      int
	openedAt       time.Time
	lastTransition time.Time

	totalRequests  int64
	totalFailures  int64
	totalSuccesses int64
}

// New creates a closed breaker.
func New(name string, cfg Config) *Breaker {
	return newWithClock(name, cfg, time.Now)
}

// newWithClock injects a clock for tests.
func newWithClock(name string, cfg Config, now func() time.Time) *Breaker {
	return &Breaker{
		name:           name,
		cfg:            cfg,
		now:            now,
		state:          StateClosed,
		lastTransition: now(),
	}
}

// Allow reports whether a call may proceed. An open breaker transitions to
// half-open once OpenTimeout has elapsed; otherwise the call is rejected
// with ErrCircuitOpen.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen {
		if b.now().Sub(b.openedAt) >= b.cfg.OpenTimeout {
			b.transition(StateHalfOpen)
		} else {
			return fmt.Errorf("%w: %s", ErrCircuitOpen, b.name)
		}
	}
	b.totalRequests++
	return nil
}

// RecordSuccess counts a successful call.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalSuccesses++
	b.consecFails = 0

	if b.state == StateHalfOpen {
		b.consecOKs++
		if b.consecOKs >= b.cfg.SuccessThreshold {
			b.transition(StateClosed)
		}
	}
}

// RecordFailure counts a failed call. From half-open, any failure reopens;
// from closed, FailureThreshold consecutive failures open the breaker.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalFailures++
	b.consecOKs = 0

	switch b.state {
	case StateHalfOpen:
		b.transition(StateOpen)
	case StateClosed:
		b.consecFails++
		if b.consecFails >= b.cfg.FailureThreshold {
			b.transition(StateOpen)
		}
	}
}

// State returns the current state, applying the open → half-open timeout.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cfg.OpenTimeout {
		b.transition(StateHalfOpen)
	}
	return b.state
}

// Stats returns a snapshot of the breaker counters.
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		Name:           b.name,
		State:          b.state,
		TotalRequests:  b.totalRequests,
		TotalFailures:  b.totalFailures,
		TotalSuccesses: b.totalSuccesses,
		LastTransition: b.lastTransition,
	}
}

// Reset forces the breaker closed and clears consecutive counters.
// Admin operation; cumulative totals are preserved.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecFails = 0
	b.consecOKs = 0
	if b.state != StateClosed {
		b.transition(StateClosed)
	}
}

// transition moves to a new state. Caller holds b.mu.
func (b *Breaker) transition(to State) {
	from := b.state
	b.state = to
	b.lastTransition = b.now()
	b.consecFails = 0
	b.consecOKs = 0
	if to == StateOpen {
		b.openedAt = b.now()
	}
	slog.Info("Circuit breaker state change",
		"breaker", b.name, "from", from, "to", to)
}
