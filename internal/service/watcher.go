package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"stockdata/internal/alerting"
	"stockdata/internal/marketdata"
	"stockdata/internal/scheduler"
	"stockdata/internal/storage"
)

// WatchOptions configure the background refresh loop.
type WatchOptions struct {
	Symbols        []string
	Resolution     marketdata.Resolution
	HealthChecks   bool
	AlertsEnabled  bool
	NotifyRecovery bool
	Channels       []string
	LockKey        int64

	// HealthRetention is how long archived health events are kept.
	// Zero disables pruning.
	HealthRetention time.Duration
}

// Watcher refreshes the watched symbols on every scheduler bucket, archives
// the quotes and reports provider health transitions.
type Watcher struct {
	scheduler *scheduler.Scheduler
	guard     *Guard
	bars      storage.BarStore
	events    storage.HealthStore
	notifier  alerting.Notifier
	locker    storage.AdvisoryLocker
	logger    zerolog.Logger
	opts      WatchOptions
	now       func() time.Time

	mu     sync.Mutex
	health map[marketdata.ProviderName]bool
}

// NewWatcher constructs the refresh loop. bars, events and notifier may be nil.
func NewWatcher(opts WatchOptions, sched *scheduler.Scheduler, guard *Guard, bars storage.BarStore, events storage.HealthStore, notifier alerting.Notifier, logger zerolog.Logger) *Watcher {
	if opts.Resolution == "" {
		opts.Resolution = marketdata.ResolutionDaily
	}

	var locker storage.AdvisoryLocker
	if l, ok := bars.(storage.AdvisoryLocker); ok {
		locker = l
	}

	return &Watcher{
		scheduler: sched,
		guard:     guard,
		bars:      bars,
		events:    events,
		notifier:  notifier,
		locker:    locker,
		logger:    logger.With().Str("component", "watcher").Logger(),
		opts:      opts,
		now:       func() time.Time { return time.Now().UTC() },
		health:    make(map[marketdata.ProviderName]bool),
	}
}

// Run begins the aligned refresh loop.
func (w *Watcher) Run(ctx context.Context) error {
	if w.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return w.scheduler.Run(ctx, w.ProcessBucket)
}

// ProcessBucket 执行单个时间桶的刷新逻辑。
func (w *Watcher) ProcessBucket(ctx context.Context, bucket time.Time) error {
	unlock, proceed, err := w.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		w.logger.Debug().Time("bucket", bucket).Msg("skip bucket because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	return w.executeBucket(ctx, bucket)
}

func (w *Watcher) executeBucket(ctx context.Context, bucket time.Time) error {
	var errs []error
	if len(w.opts.Symbols) > 0 {
		if err := w.refreshQuotes(ctx, bucket); err != nil {
			errs = append(errs, err)
		}
	}
	if w.opts.HealthChecks {
		w.checkHealth(ctx, bucket)
	}
	if err := w.pruneHealthEvents(ctx, bucket); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (w *Watcher) pruneHealthEvents(ctx context.Context, bucket time.Time) error {
	if w.events == nil || w.opts.HealthRetention <= 0 {
		return nil
	}
	cutoff := bucket.Add(-w.opts.HealthRetention)
	if err := w.events.DeleteHealthEventsBefore(ctx, cutoff); err != nil {
		return fmt.Errorf("prune health events: %w", err)
	}
	w.logger.Debug().Time("cutoff", cutoff).Msg("old health events pruned")
	return nil
}

func (w *Watcher) refreshQuotes(ctx context.Context, bucket time.Time) error {
	records, err := w.guard.Batch(ctx, w.opts.Symbols, w.opts.Resolution, "")
	if err != nil {
		return fmt.Errorf("refresh quotes: %w", err)
	}

	if missing := missingSymbols(w.opts.Symbols, records); len(missing) > 0 {
		w.logger.Info().Time("bucket", bucket).Strs("missing", missing).Msg("some watched symbols were not served")
	}

	if w.bars != nil {
		bars := make([]storage.PriceBar, 0, len(records))
		for _, rec := range records {
			bars = append(bars, storage.BarFromRecord(rec, w.opts.Resolution))
		}
		if _, err := w.bars.UpsertBars(ctx, bars); err != nil {
			w.logger.Error().Err(err).Time("bucket", bucket).Msg("failed to archive quotes")
		}
	}

	w.logger.Info().Time("bucket", bucket).Int("quotes", len(records)).Msg("quotes refreshed")
	return nil
}

func missingSymbols(want []string, got []marketdata.StandardStockData) []string {
	served := make(map[string]bool, len(got))
	for _, rec := range got {
		served[rec.Symbol] = true
	}
	var missing []string
	for _, s := range want {
		if !served[s] {
			missing = append(missing, s)
		}
	}
	return missing
}

// checkHealth checks every enabled source and reacts to state changes. A
// source seen for the first time is assumed to have been healthy.
func (w *Watcher) checkHealth(ctx context.Context, bucket time.Time) {
	manager := w.guard.Manager()
	status := manager.HealthCheckAll(ctx)
	if ctx.Err() != nil {
		return
	}
	lastErrs := manager.SourceErrors()
	observed := w.now()

	var notes []alerting.Notification
	w.mu.Lock()
	for _, info := range manager.AvailableSources() {
		healthy := status[info.Name]
		prev, seen := w.health[info.Name]
		if !seen {
			prev = true
		}
		w.health[info.Name] = healthy
		if prev == healthy {
			continue
		}
		note := alerting.Notification{
			ObservedAt:    observed,
			Provider:      info.Name,
			DisplayName:   info.DisplayName,
			Healthy:       healthy,
			Previous:      prev,
			DefaultSource: manager.DefaultSource(),
			Channels:      w.opts.Channels,
		}
		if !healthy && lastErrs[info.Name] != nil {
			note.Error = lastErrs[info.Name].Error()
		}
		notes = append(notes, note)
	}
	w.mu.Unlock()

	sort.Slice(notes, func(i, j int) bool { return notes[i].Provider < notes[j].Provider })
	for _, note := range notes {
		w.logger.Warn().Time("bucket", bucket).
			Str("provider", string(note.Provider)).
			Bool("healthy", note.Healthy).
			Str("error", note.Error).
			Msg("provider health changed")

		if w.events != nil {
			event := storage.HealthEvent{
				Provider:   note.Provider,
				Healthy:    note.Healthy,
				Channels:   note.Channels,
				ObservedAt: note.ObservedAt,
			}
			if note.Error != "" {
				msg := note.Error
				event.Error = &msg
			}
			if _, err := w.events.InsertHealthEvent(ctx, event); err != nil {
				w.logger.Error().Err(err).Str("provider", string(note.Provider)).Msg("failed to persist health event")
			}
		}

		if !w.opts.AlertsEnabled || w.notifier == nil {
			continue
		}
		if note.Healthy && !w.opts.NotifyRecovery {
			continue
		}
		if err := w.notifier.Notify(ctx, note); err != nil {
			w.logger.Error().Err(err).Str("provider", string(note.Provider)).Msg("failed to dispatch alert")
		}
	}
}

// Health returns the last observed health of each enabled source.
func (w *Watcher) Health() map[marketdata.ProviderName]bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make(map[marketdata.ProviderName]bool, len(w.health))
	for k, v := range w.health {
		out[k] = v
	}
	return out
}

func (w *Watcher) acquireLock(ctx context.Context) (func(), bool, error) {
	if w.opts.LockKey == 0 || w.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := w.locker.TryAdvisoryLock(ctx, w.opts.LockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
