package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"stockdata/internal/ratelimit"
)

// TickFunc is invoked once per refresh bucket.
type TickFunc func(ctx context.Context, bucket time.Time) error

// Options tune scheduler behaviour.
type Options struct {
	Interval     time.Duration
	AlignToStart bool
	// RunOnStart fires one tick right after the startup delay instead of
	// waiting for the first bucket boundary.
	RunOnStart   bool
	StartupDelay time.Duration
}

// Scheduler drives aligned execution of refresh jobs.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger
	now    func() time.Time
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	if opts.Interval <= 0 {
		panic("scheduler interval must be positive")
	}
	return &Scheduler{
		opts:   opts,
		logger: logger.With().Str("component", "scheduler").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Run blocks, invoking the tick function at each aligned interval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context, tick TickFunc) error {
	if s.opts.StartupDelay > 0 {
		if err := ratelimit.SleepContext(ctx, s.opts.StartupDelay); err != nil {
			return err
		}
	}

	if s.opts.RunOnStart {
		s.fire(ctx, tick, s.bucketStart(s.now()))
	}

	next := s.nextTick(s.now())
	for {
		delay := next.Sub(s.now())
		if delay < 0 {
			skipped := s.nextTick(s.now())
			s.logger.Warn().Time("missed_bucket", next).Time("next_bucket", skipped).Msg("tick overran its interval")
			next = skipped
			delay = next.Sub(s.now())
		}

		s.logger.Debug().Time("next_bucket", next).Msg("waiting for next bucket")
		if err := ratelimit.SleepContext(ctx, delay); err != nil {
			return err
		}

		s.fire(ctx, tick, s.bucketStart(next))
		next = next.Add(s.opts.Interval)
	}
}

func (s *Scheduler) fire(ctx context.Context, tick TickFunc, bucket time.Time) {
	s.logger.Info().Time("bucket", bucket).Msg("executing scheduled tick")
	started := time.Now()
	if err := tick(ctx, bucket); err != nil {
		s.logger.Error().Err(err).Time("bucket", bucket).Msg("tick execution failed")
		return
	}
	s.logger.Debug().Time("bucket", bucket).Dur("elapsed", time.Since(started)).Msg("tick finished")
}

func (s *Scheduler) nextTick(now time.Time) time.Time {
	if !s.opts.AlignToStart {
		return now.Add(s.opts.Interval)
	}
	bucket := now.Truncate(s.opts.Interval)
	if !bucket.After(now) {
		bucket = bucket.Add(s.opts.Interval)
	}
	return bucket
}

func (s *Scheduler) bucketStart(t time.Time) time.Time {
	if !s.opts.AlignToStart {
		return t
	}
	return t.Truncate(s.opts.Interval)
}
