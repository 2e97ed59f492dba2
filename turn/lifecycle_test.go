package turn

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func TestNewTurnIsActive(t *testing.T) {
	l := New()
	assert.Equal(t, StateActive, l.State())
	assert.NotEmpty(t, l.ID())
	assert.False(t, l.Closed())
	assert.NotEqual(t, l.ID(), New().ID())
}

func TestTryFinalizeIsIdempotent(t *testing.T) {
	l := New(WithID("t-1"))
	require.True(t, l.TryFinalize("final"))
	assert.Equal(t, StateFinalizing, l.State())

	assert.False(t, l.TryFinalize("hard_timeout_final"))
	assert.Equal(t, "final", l.Reason())

	l.MarkFinalized()
	assert.False(t, l.TryFinalize("partial_fallback"))
	assert.Equal(t, StateFinalized, l.State())
	assert.Equal(t, "final", l.Reason())
}

func TestSilencePendingCanFinalize(t *testing.T) {
	l := New()
	l.MarkSilencePending()
	assert.Equal(t, StateSilencePending, l.State())
	assert.True(t, l.TryFinalize("final"))

	l.MarkSilencePending()
	assert.Equal(t, StateFinalizing, l.State())
}

func TestMarkFinalizedRecordsLatency(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	l := New(WithClock(clock.Now))

	assert.Zero(t, l.MarkFinalized())

	require.True(t, l.TryFinalize("final"))
	clock.Advance(250 * time.Millisecond)
	assert.Equal(t, 250*time.Millisecond, l.MarkFinalized())
	assert.Equal(t, time.Unix(1000, 250_000_000), l.FinalizedAt())
}

func TestConcurrentTriggersFinalizeOnce(t *testing.T) {
	const triggers = 64
	l := New()

	var completions, noops atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < triggers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			ran, _, err := l.Finalize(context.Background(), "final", func(context.Context) error {
				completions.Add(1)
				time.Sleep(time.Millisecond)
				return nil
			})
			assert.NoError(t, err)
			if !ran {
				noops.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), completions.Load())
	assert.Equal(t, int32(triggers-1), noops.Load())
	assert.Equal(t, StateFinalized, l.State())
}

func TestFinalizeRollsBackOnError(t *testing.T) {
	l := New()
	boom := errors.New("scorer failed")

	ran, _, err := l.Finalize(context.Background(), "final", func(context.Context) error { return boom })
	assert.True(t, ran)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, StateActive, l.State())
	assert.Empty(t, l.Reason())

	ran, _, err = l.Finalize(context.Background(), "hard_timeout_final", func(context.Context) error { return nil })
	assert.True(t, ran)
	assert.NoError(t, err)
	assert.Equal(t, StateFinalized, l.State())
	assert.Equal(t, "hard_timeout_final", l.Reason())
}

func TestFinalizeRollsBackOnPanic(t *testing.T) {
	l := New()
	ran, _, err := l.Finalize(context.Background(), "final", func(context.Context) error {
		panic("nil decision")
	})
	assert.True(t, ran)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nil decision")
	assert.Equal(t, StateActive, l.State())
}

func TestFinalizeReportsLatency(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	l := New(WithClock(clock.Now))
	ran, latency, err := l.Finalize(context.Background(), "final", func(context.Context) error {
		clock.Advance(40 * time.Millisecond)
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, 40*time.Millisecond, latency)
}

func TestRollbackOnlyFromFinalizing(t *testing.T) {
	l := New()
	l.Rollback()
	assert.Equal(t, StateActive, l.State())

	require.True(t, l.TryFinalize("final"))
	l.MarkFinalized()
	l.Rollback()
	assert.Equal(t, StateFinalized, l.State())
}
