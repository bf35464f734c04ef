package breaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock lets tests advance the breaker's notion of time.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time             { return c.t }
func (c *fakeClock) advance(d time.Duration)    { c.t = c.t.Add(d) }
func newFakeClock() *fakeClock                  { return &fakeClock{t: time.Unix(1700000000, 0)} }
func newTestBreaker(clk *fakeClock) *Breaker {
	return newWithClock("ollama/target", DefaultConfig(), clk.now)
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	clk := newFakeClock()
	b := newTestBreaker(clk)

	for i := 0; i < 4; i++ {
		require.NoError(t, b.Allow())
		b.RecordFailure()
		assert.Equal(t, StateClosed, b.State(), "breaker must stay closed at %d failures", i+1)
	}

	require.NoError(t, b.Allow())
	b.RecordFailure()
	assert.Equal(t, StateOpen, b.State())

	err := b.Allow()
	require.ErrorIs(t, err, ErrCircuitOpen)
}

func TestBreakerSuccessResetsFailureStreak(t *testing.T) {
	clk := newFakeClock()
	b := newTestBreaker(clk)

	for i := 0; i < 4; i++ {
		b.RecordFailure()
	}
	b.RecordSuccess()
	for i := 0; i < 4; i++ {
		b.RecordFailure()
	}
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerHalfOpenAfterTimeout(t *testing.T) {
	clk := newFakeClock()
	b := newTestBreaker(clk)

	for i := 0; i < 5; i++ {
		b.RecordFailure()
	}
	require.Equal(t, StateOpen, b.State())

	clk.advance(59 * time.Second)
	require.ErrorIs(t, b.Allow(), ErrCircuitOpen)

	clk.advance(1 * time.Second)
	require.NoError(t, b.Allow())
	assert.Equal(t, StateHalfOpen, b.State())
}

func TestBreakerClosesAfterHalfOpenSuccesses(t *testing.T) {
	clk := newFakeClock()
	b := newTestBreaker(clk)

	for i := 0; i < 5; i++ {
		b.RecordFailure()
	}
	clk.advance(60 * time.Second)

	require.NoError(t, b.Allow())
	b.RecordSuccess()
	assert.Equal(t, StateHalfOpen, b.State(), "one success must not close")

	require.NoError(t, b.Allow())
	b.RecordSuccess()
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerReopensOnHalfOpenFailure(t *testing.T) {
	clk := newFakeClock()
	b := newTestBreaker(clk)

	for i := 0; i < 5; i++ {
		b.RecordFailure()
	}
	clk.advance(60 * time.Second)

	require.NoError(t, b.Allow())
	b.RecordSuccess()
	require.NoError(t, b.Allow())
	b.RecordFailure()
	assert.Equal(t, StateOpen, b.State())

	// Full open timeout applies again after reopening.
	clk.advance(30 * time.Second)
	require.ErrorIs(t, b.Allow(), ErrCircuitOpen)
	clk.advance(30 * time.Second)
	require.NoError(t, b.Allow())
}

func TestBreakerStatsAndReset(t *testing.T) {
	clk := newFakeClock()
	b := newTestBreaker(clk)

	require.NoError(t, b.Allow())
	b.RecordSuccess()
	for i := 0; i < 5; i++ {
		require.NoError(t, b.Allow())
		b.RecordFailure()
	}

	s := b.Stats()
	assert.Equal(t, "ollama/target", s.Name)
	assert.Equal(t, StateOpen, s.State)
	assert.Equal(t, int64(6), s.TotalRequests)
	assert.Equal(t, int64(5), s.TotalFailures)
	assert.Equal(t, int64(1), s.TotalSuccesses)

	b.Reset()
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, int64(6), b.Stats().TotalRequests, "reset keeps cumulative totals")
	require.NoError(t, b.Allow())
}

func TestRegistrySeparatesProviderRolePairs(t *testing.T) {
	r := NewRegistry(DefaultConfig())

	target := r.Get("ollama", "target")
	judge := r.Get("ollama", "judge")
	require.NotSame(t, target, judge)
	assert.Same(t, target, r.Get("ollama", "target"))

	for i := 0; i < 5; i++ {
		target.RecordFailure()
	}
	assert.Equal(t, StateOpen, target.State())
	assert.Equal(t, StateClosed, judge.State())

	require.True(t, r.Reset("ollama", "target"))
	assert.Equal(t, StateClosed, target.State())
	assert.False(t, r.Reset("openai", "target"))
}

func TestRegistryStatsSorted(t *testing.T) {
	r := NewRegistry(DefaultConfig())
	r.Get("openai", "judge")
	r.Get("ollama", "attacker")

	stats := r.Stats()
	require.Len(t, stats, 2)
	assert.Equal(t, "ollama/attacker", stats[0].Name)
	assert.Equal(t, "openai/judge", stats[1].Name)
}
