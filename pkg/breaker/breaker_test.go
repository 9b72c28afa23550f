package breaker

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBreaker(timeout time.Duration) *Breaker {
	return New("test", Config{
		FailureThreshold: 5,
		SuccessThreshold: 1,
		Timeout:          timeout,
	}, nil)
}

func TestStartsClosed(t *testing.T) {
	b := newTestBreaker(time.Minute)
	assert.Equal(t, StateClosed, b.State())
	require.NoError(t, b.Allow())
}

func TestOpensAtFailureThreshold(t *testing.T) {
	b := newTestBreaker(time.Minute)

	for i := 0; i < 4; i++ {
		b.RecordFailure()
		assert.Equal(t, StateClosed, b.State(), "failure %d should not trip", i+1)
	}
	b.RecordFailure()
	assert.Equal(t, StateOpen, b.State())
	assert.ErrorIs(t, b.Allow(), ErrCircuitOpen)
}

func TestSuccessResetsFailureCount(t *testing.T) {
	b := newTestBreaker(time.Minute)

	for i := 0; i < 4; i++ {
		b.RecordFailure()
	}
	b.RecordSuccess()

	// Intermittent failures never accumulate to a trip.
	for i := 0; i < 4; i++ {
		b.RecordFailure()
	}
	assert.Equal(t, StateClosed, b.State())

	b.RecordFailure()
	assert.Equal(t, StateOpen, b.State())
}

func TestHalfOpenAfterTimeout(t *testing.T) {
	b := newTestBreaker(20 * time.Millisecond)

	for i := 0; i < 5; i++ {
		b.RecordFailure()
	}
	require.Equal(t, StateOpen, b.State())
	require.ErrorIs(t, b.Allow(), ErrCircuitOpen)

	time.Sleep(30 * time.Millisecond)

	// The transition happens lazily on the next admission check.
	require.NoError(t, b.Allow())
	assert.Equal(t, StateHalfOpen, b.State())

	b.RecordSuccess()
	assert.Equal(t, StateClosed, b.State())
	require.NoError(t, b.Allow())
}

func TestHalfOpenFailureReopens(t *testing.T) {
	b := newTestBreaker(20 * time.Millisecond)

	for i := 0; i < 5; i++ {
		b.RecordFailure()
	}
	time.Sleep(30 * time.Millisecond)
	require.NoError(t, b.Allow())
	require.Equal(t, StateHalfOpen, b.State())

	b.RecordFailure()
	assert.Equal(t, StateOpen, b.State())
	assert.ErrorIs(t, b.Allow(), ErrCircuitOpen)
}

func TestHalfOpenLimitsProbes(t *testing.T) {
	b := newTestBreaker(20 * time.Millisecond)

	for i := 0; i < 5; i++ {
		b.RecordFailure()
	}
	time.Sleep(30 * time.Millisecond)

	require.NoError(t, b.Allow())
	assert.ErrorIs(t, b.Allow(), ErrCircuitOpen, "second concurrent probe should be rejected")
}

func TestSuccessThresholdAboveOne(t *testing.T) {
	b := New("test", Config{
		FailureThreshold: 2,
		SuccessThreshold: 2,
		Timeout:          20 * time.Millisecond,
		HalfOpenProbes:   5,
	}, nil)

	b.RecordFailure()
	b.RecordFailure()
	time.Sleep(30 * time.Millisecond)

	require.NoError(t, b.Allow())
	b.RecordSuccess()
	assert.Equal(t, StateHalfOpen, b.State(), "one success of two should not close")

	require.NoError(t, b.Allow())
	b.RecordSuccess()
	assert.Equal(t, StateClosed, b.State())
}

func TestStatsSnapshot(t *testing.T) {
	b := newTestBreaker(time.Minute)

	require.NoError(t, b.Allow())
	b.RecordSuccess()
	require.NoError(t, b.Allow())
	b.RecordFailure()

	s := b.Stats()
	assert.Equal(t, "test", s.Provider)
	assert.Equal(t, StateClosed, s.State)
	assert.Equal(t, int64(2), s.TotalRequests)
	assert.Equal(t, int64(1), s.TotalSuccesses)
	assert.Equal(t, int64(1), s.TotalFailures)
	assert.Equal(t, 1, s.ConsecutiveFailures)
}

func TestReset(t *testing.T) {
	b := newTestBreaker(time.Minute)
	for i := 0; i < 5; i++ {
		b.RecordFailure()
	}
	require.Equal(t, StateOpen, b.State())

	b.Reset()
	assert.Equal(t, StateClosed, b.State())
	require.NoError(t, b.Allow())
}

func TestManagerCreatesOnFirstTouch(t *testing.T) {
	m := NewManager(DefaultConfig(), nil)

	a := m.Get("openai")
	b := m.Get("anthropic")
	require.NotNil(t, a)
	require.NotNil(t, b)
	assert.Same(t, a, m.Get("openai"))
}

func TestManagerBreakersAreIndependent(t *testing.T) {
	m := NewManager(DefaultConfig(), nil)

	for i := 0; i < 5; i++ {
		m.Get("openai").RecordFailure()
	}
	assert.Equal(t, StateOpen, m.Get("openai").State())
	assert.Equal(t, StateClosed, m.Get("anthropic").State())
	require.NoError(t, m.Get("anthropic").Allow())
}

func TestConcurrentAccess(t *testing.T) {
	m := NewManager(DefaultConfig(), nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			providers := []string{"openai", "anthropic", "gemini"}
			for j := 0; j < 200; j++ {
				b := m.Get(providers[(n+j)%len(providers)])
				if b.Allow() == nil {
					if j%3 == 0 {
						b.RecordFailure()
					} else {
						b.RecordSuccess()
					}
				}
			}
		}(i)
	}
	wg.Wait()

	stats := m.AllStats()
	assert.Len(t, stats, 3)
	for _, s := range stats {
		assert.Equal(t, s.TotalRequests, s.TotalSuccesses+s.TotalFailures+s.TotalRejected)
	}
}
