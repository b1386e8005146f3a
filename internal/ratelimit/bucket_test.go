package ratelimit

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/geo-analyzer/internal/apperr"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestBucket_StartsFull(t *testing.T) {
	clock := newFakeClock()
	b := New(5, 60).WithClock(clock.Now)

	assert.InDelta(t, 5.0, b.Tokens(), 0.0001)
	for i := 0; i < 5; i++ {
		require.NoError(t, b.Consume(1))
	}
	err := b.Consume(1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrRateLimited))
	assert.InDelta(t, 0.0, b.Tokens(), 0.0001)
}

func TestBucket_RefillsLazily(t *testing.T) {
	clock := newFakeClock()
	b := New(2, 120).WithClock(clock.Now) // 2 tokens/sec

	require.NoError(t, b.Consume(2))
	assert.Error(t, b.Consume(1))

	clock.Advance(500 * time.Millisecond)
	assert.InDelta(t, 1.0, b.Tokens(), 0.0001)
	require.NoError(t, b.Consume(1))
	assert.Error(t, b.Consume(1))
}

func TestBucket_FullRefillAfterCapacityOverRate(t *testing.T) {
	clock := newFakeClock()
	capacity := 10
	perMin := 30.0 // 0.5 tokens/sec
	b := New(capacity, perMin).WithClock(clock.Now)

	require.NoError(t, b.Consume(capacity))
	assert.InDelta(t, 0.0, b.Tokens(), 0.0001)

	wait := time.Duration(float64(capacity) / (perMin / 60) * float64(time.Second))
	clock.Advance(wait)
	require.NoError(t, b.Consume(capacity))
}

func TestBucket_NeverExceedsCapacity(t *testing.T) {
	clock := newFakeClock()
	b := New(3, 600).WithClock(clock.Now)

	clock.Advance(time.Hour)
	assert.InDelta(t, 3.0, b.Tokens(), 0.0001)
	assert.Error(t, b.Consume(4))
	assert.InDelta(t, 3.0, b.Tokens(), 0.0001, "failed consume must not take tokens")
}

func TestBucket_TokensStayInRangeUnderContention(t *testing.T) {
	b := New(20, 60)

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = b.Consume(1)
			tokens := b.Tokens()
			assert.GreaterOrEqual(t, tokens, 0.0)
			assert.LessOrEqual(t, tokens, 20.0)
		}()
	}
	wg.Wait()
}

func TestNew_Defaults(t *testing.T) {
	b := New(0, 0)
	assert.Equal(t, 60, b.Capacity())
	assert.InDelta(t, 60.0, b.RefillPerMinute(), 0.0001)
}
