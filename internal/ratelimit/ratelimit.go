package ratelimit

import (
	"context"
	"sync"
	"time"

	"stockdata/internal/marketdata"
)

const defaultRequestsPerMinute = 60

// SlidingWindow throttles callers so that no trailing window of the
// configured length ever holds more than maxRequests recorded requests.
// A request is recorded under the mutex before Wait returns, so concurrent
// callers never under-count.
type SlidingWindow struct {
	maxRequests int
	window      time.Duration

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	mu     sync.Mutex
	stamps []time.Time
}

// Option customises a SlidingWindow.
type Option func(*SlidingWindow)

// WithClock replaces the time source and the sleeper, mainly for tests.
func WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(s *SlidingWindow) {
		if now != nil {
			s.now = now
		}
		if sleep != nil {
			s.sleep = sleep
		}
	}
}

// NewSlidingWindow builds a limiter allowing maxRequests per window.
func NewSlidingWindow(maxRequests int, window time.Duration, opts ...Option) *SlidingWindow {
	if maxRequests <= 0 {
		maxRequests = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	s := &SlidingWindow{
		maxRequests: maxRequests,
		window:      window,
		now:         time.Now,
		sleep:       SleepContext,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FromConfig builds a one-minute window from a provider rate limit.
func FromConfig(cfg marketdata.RateLimitConfig, opts ...Option) *SlidingWindow {
	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = defaultRequestsPerMinute
	}
	return NewSlidingWindow(rpm, time.Minute, opts...)
}

// Wait blocks until one more request fits in the window, then records it.
// It returns early with the context error if ctx is done while waiting.
func (s *SlidingWindow) Wait(ctx context.Context) error {
	for {
		s.mu.Lock()
		now := s.now()
		s.prune(now)
		if len(s.stamps) < s.maxRequests {
			s.stamps = append(s.stamps, now)
			s.mu.Unlock()
			return nil
		}
		wait := s.window - now.Sub(s.stamps[0])
		s.mu.Unlock()

		if wait <= 0 {
			continue
		}
		if err := s.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// Len reports how many requests are currently inside the window.
func (s *SlidingWindow) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prune(s.now())
	return len(s.stamps)
}

// prune drops timestamps that fell out of the window. Stamps are appended
// in order, so the slice stays sorted.
func (s *SlidingWindow) prune(now time.Time) {
	cut := 0
	for cut < len(s.stamps) && now.Sub(s.stamps[cut]) >= s.window {
		cut++
	}
	if cut > 0 {
		s.stamps = append(s.stamps[:0], s.stamps[cut:]...)
	}
}

// SleepContext waits for d or until ctx is done, whichever comes first.
func SleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
