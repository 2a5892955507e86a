package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"stockdata/internal/marketdata"
)

// fakeClock advances virtual time whenever the limiter sleeps.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 2, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.Advance(d)
	return nil
}

func TestSlidingWindowThirdCallWaitsForWindow(t *testing.T) {
	clock := newFakeClock()
	start := clock.Now()
	limiter := NewSlidingWindow(2, time.Second, WithClock(clock.Now, clock.Sleep))

	ctx := context.Background()
	require.NoError(t, limiter.Wait(ctx))
	require.NoError(t, limiter.Wait(ctx))
	require.Equal(t, start, clock.Now(), "first two calls must proceed immediately")

	require.NoError(t, limiter.Wait(ctx))
	require.Equal(t, time.Second, clock.Now().Sub(start), "third call waits until the window frees up")
}

func TestSlidingWindowRealTimeScenario(t *testing.T) {
	window := 150 * time.Millisecond
	limiter := NewSlidingWindow(2, window)

	ctx := context.Background()
	begin := time.Now()
	require.NoError(t, limiter.Wait(ctx))
	require.NoError(t, limiter.Wait(ctx))
	require.Less(t, time.Since(begin), window/2)

	require.NoError(t, limiter.Wait(ctx))
	require.GreaterOrEqual(t, time.Since(begin), window-10*time.Millisecond)
}

func TestSlidingWindowNeverExceedsLimit(t *testing.T) {
	const (
		maxRequests = 3
		window      = time.Second
	)
	clock := newFakeClock()
	limiter := NewSlidingWindow(maxRequests, window, WithClock(clock.Now, clock.Sleep))

	var recorded []time.Time
	gaps := []time.Duration{0, 0, 0, 0, 100 * time.Millisecond, 0, 700 * time.Millisecond, 0, 0, 2 * time.Second, 0, 0, 0, 0}
	for _, gap := range gaps {
		clock.Advance(gap)
		require.NoError(t, limiter.Wait(context.Background()))
		recorded = append(recorded, clock.Now())
	}

	for i, from := range recorded {
		inWindow := 0
		for _, ts := range recorded[i:] {
			if ts.Sub(from) < window {
				inWindow++
			}
		}
		require.LessOrEqualf(t, inWindow, maxRequests, "window starting at %s holds %d requests", from, inWindow)
	}
}

func TestSlidingWindowConcurrentCallersDoNotUnderCount(t *testing.T) {
	limiter := NewSlidingWindow(5, time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := limiter.Wait(ctx); err == nil {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 5, granted)
	require.Equal(t, 5, limiter.Len())
}

func TestSlidingWindowHonoursContext(t *testing.T) {
	limiter := NewSlidingWindow(1, time.Hour)
	require.NoError(t, limiter.Wait(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, limiter.Wait(ctx), context.Canceled)
}

func TestFromConfigDefaults(t *testing.T) {
	limiter := FromConfig(marketdata.RateLimitConfig{})
	require.Equal(t, defaultRequestsPerMinute, limiter.maxRequests)
	require.Equal(t, time.Minute, limiter.window)

	limiter = FromConfig(marketdata.RateLimitConfig{RequestsPerMinute: 30, BurstLimit: 5})
	require.Equal(t, 30, limiter.maxRequests)
}

func TestSleepContext(t *testing.T) {
	require.NoError(t, SleepContext(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	started := time.Now()
	require.ErrorIs(t, SleepContext(ctx, time.Minute), context.Canceled)
	require.Less(t, time.Since(started), time.Second)
}

func TestFromConfigIgnoresBurstLimit(t *testing.T) {
	clock := newFakeClock()
	start := clock.Now()
	limiter := FromConfig(marketdata.RateLimitConfig{RequestsPerMinute: 2, BurstLimit: 50}, WithClock(clock.Now, clock.Sleep))

	ctx := context.Background()
	require.NoError(t, limiter.Wait(ctx))
	require.NoError(t, limiter.Wait(ctx))
	require.NoError(t, limiter.Wait(ctx))
	require.Equal(t, time.Minute, clock.Now().Sub(start), "the per-minute budget still applies past the burst value")
}
