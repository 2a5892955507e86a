package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"stockdata/internal/cache"
	"stockdata/internal/fetcher"
	"stockdata/internal/marketdata"
)

const (
	opHistorical = "historical"
	opCurrent    = "current"
	opBatch      = "batch"

	defaultHistoricalTTL = 60 * time.Second
	defaultCurrentTTL    = 10 * time.Second
	defaultBatchTTL      = 10 * time.Second
)

var (
	// ErrSourceUnavailable is returned when a named source is unknown or disabled.
	ErrSourceUnavailable = errors.New("source unavailable")
	// ErrInvalidRequest wraps parameter validation failures; no adapter is called.
	ErrInvalidRequest = errors.New("invalid request")
)

// Options configure the routing and caching policy of a SourceManager.
// Zero TTLs take the defaults; a negative TTL disables caching for that operation.
type Options struct {
	DefaultSource marketdata.ProviderName
	FallbackOrder []marketdata.ProviderName
	HistoricalTTL time.Duration
	CurrentTTL    time.Duration
	BatchTTL      time.Duration
	Cache         *cache.ResponseCache
}

// SourceManager routes requests to the preferred adapter, falls back across
// the remaining enabled adapters and caches successful responses.
type SourceManager struct {
	adapters      map[marketdata.ProviderName]fetcher.Adapter
	names         []marketdata.ProviderName
	fallbackOrder []marketdata.ProviderName
	historicalTTL time.Duration
	currentTTL    time.Duration
	batchTTL      time.Duration
	cache         *cache.ResponseCache
	logger        zerolog.Logger

	mu            sync.RWMutex
	defaultSource marketdata.ProviderName
}

// NewSourceManager wires the adapters under one routing policy.
func NewSourceManager(adapters []fetcher.Adapter, opts Options, logger zerolog.Logger) *SourceManager {
	m := &SourceManager{
		adapters:      make(map[marketdata.ProviderName]fetcher.Adapter, len(adapters)),
		fallbackOrder: opts.FallbackOrder,
		historicalTTL: ttlOrDefault(opts.HistoricalTTL, defaultHistoricalTTL),
		currentTTL:    ttlOrDefault(opts.CurrentTTL, defaultCurrentTTL),
		batchTTL:      ttlOrDefault(opts.BatchTTL, defaultBatchTTL),
		cache:         opts.Cache,
		logger:        logger.With().Str("component", "source_manager").Logger(),
	}
	if m.cache == nil {
		m.cache = cache.New(0)
	}
	for _, a := range adapters {
		if _, dup := m.adapters[a.Name()]; dup {
			m.logger.Warn().Str("provider", string(a.Name())).Msg("duplicate adapter ignored")
			continue
		}
		m.adapters[a.Name()] = a
		m.names = append(m.names, a.Name())
	}
	sort.Slice(m.names, func(i, j int) bool { return m.less(m.names[i], m.names[j]) })

	m.defaultSource = opts.DefaultSource
	if a, ok := m.adapters[m.defaultSource]; !ok || !a.Enabled() {
		if m.defaultSource != "" {
			m.logger.Warn().Str("provider", string(m.defaultSource)).Msg("default source unavailable, picking highest priority enabled source")
		}
		m.defaultSource = ""
		for _, name := range m.names {
			if m.adapters[name].Enabled() {
				m.defaultSource = name
				break
			}
		}
	}
	return m
}

func ttlOrDefault(v, def time.Duration) time.Duration {
	if v == 0 {
		return def
	}
	return v
}

// less orders by priority, then name.
func (m *SourceManager) less(a, b marketdata.ProviderName) bool {
	pa, pb := m.adapters[a].Config().Priority, m.adapters[b].Config().Priority
	if pa != pb {
		return pa < pb
	}
	return a < b
}

// FetchHistoricalData returns the historical series for params.
func (m *SourceManager) FetchHistoricalData(ctx context.Context, params marketdata.HistoricalDataParams, preferred marketdata.ProviderName) ([]marketdata.StandardStockData, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	params.Resolution, _ = marketdata.ParseResolution(string(params.Resolution))

	call := route[[]marketdata.StandardStockData]{
		op:     opHistorical,
		symbol: params.Symbol,
		key:    cache.Key(opHistorical, params),
		ttl:    m.historicalTTL,
		fetch: func(ctx context.Context, a fetcher.Adapter) ([]marketdata.StandardStockData, error) {
			return a.FetchHistoricalData(ctx, params)
		},
	}
	series, err := call.run(ctx, m, preferred)
	return slices.Clone(series), err
}

// FetchCurrentData returns the latest point for symbol.
func (m *SourceManager) FetchCurrentData(ctx context.Context, symbol string, res marketdata.Resolution, preferred marketdata.ProviderName) (marketdata.StandardStockData, error) {
	res, err := marketdata.ParseResolution(string(res))
	if err != nil {
		return marketdata.StandardStockData{}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	if strings.TrimSpace(symbol) == "" {
		return marketdata.StandardStockData{}, fmt.Errorf("%w: symbol is required", ErrInvalidRequest)
	}

	call := route[marketdata.StandardStockData]{
		op:     opCurrent,
		symbol: symbol,
		key: cache.Key(opCurrent, struct {
			Symbol     string
			Resolution marketdata.Resolution
		}{symbol, res}),
		ttl: m.currentTTL,
		fetch: func(ctx context.Context, a fetcher.Adapter) (marketdata.StandardStockData, error) {
			return a.FetchCurrentData(ctx, symbol, res)
		},
	}
	return call.run(ctx, m, preferred)
}

// FetchMultipleCurrentData returns the latest point of every symbol the
// serving adapter could resolve. An empty result for a non-empty request
// counts as a failure of that adapter.
func (m *SourceManager) FetchMultipleCurrentData(ctx context.Context, symbols []string, res marketdata.Resolution, preferred marketdata.ProviderName) ([]marketdata.StandardStockData, error) {
	res, err := marketdata.ParseResolution(string(res))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	if len(symbols) == 0 {
		return []marketdata.StandardStockData{}, nil
	}

	call := route[[]marketdata.StandardStockData]{
		op:     opBatch,
		symbol: strings.Join(symbols, ","),
		key: cache.Key(opBatch, struct {
			Symbols    []string
			Resolution marketdata.Resolution
		}{symbols, res}),
		ttl: m.batchTTL,
		fetch: func(ctx context.Context, a fetcher.Adapter) ([]marketdata.StandardStockData, error) {
			out, err := a.FetchMultipleCurrentData(ctx, symbols, res)
			if err == nil && len(out) == 0 {
				err = &marketdata.NoDataError{Provider: a.Name(), Symbol: strings.Join(symbols, ",")}
			}
			return out, err
		},
	}
	out, err := call.run(ctx, m, preferred)
	return slices.Clone(out), err
}

// route is one cacheable fetch routed through the preferred source and the
// fallback chain.
type route[T any] struct {
	op     string
	symbol string
	key    string
	ttl    time.Duration
	fetch  func(context.Context, fetcher.Adapter) (T, error)
}

func (r route[T]) run(ctx context.Context, m *SourceManager, preferred marketdata.ProviderName) (T, error) {
	var zero T
	if cached, ok := m.cache.Get(r.key); ok {
		if v, ok := cached.(T); ok {
			m.logger.Debug().Str("op", r.op).Str("symbol", r.symbol).Msg("cache hit")
			return v, nil
		}
	}

	source := marketdata.ProviderName(strings.ToUpper(strings.TrimSpace(string(preferred))))
	if source == "" {
		source = m.DefaultSource()
	}

	failed := &marketdata.AllSourcesFailedError{
		Op:     r.op,
		Symbol: r.symbol,
		Errors: make(map[marketdata.ProviderName]error),
	}

	try := func(a fetcher.Adapter) (T, bool) {
		v, err := r.fetch(ctx, a)
		if err == nil {
			m.cache.Set(r.key, v, r.ttl)
			return v, true
		}
		failed.Attempted = append(failed.Attempted, a.Name())
		failed.Errors[a.Name()] = err
		m.logger.Warn().Err(err).
			Str("provider", string(a.Name())).
			Str("op", r.op).
			Str("symbol", r.symbol).
			Msg("source failed")
		return zero, false
	}

	if a, ok := m.adapters[source]; ok && a.Enabled() {
		if v, ok := try(a); ok {
			return v, nil
		}
	} else {
		m.logger.Debug().Str("provider", string(source)).Str("op", r.op).Msg("preferred source unavailable, using fallback chain")
	}

	for _, a := range m.fallbackChain(source) {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		if v, ok := try(a); ok {
			m.logger.Info().
				Str("provider", string(a.Name())).
				Str("preferred", string(source)).
				Str("op", r.op).
				Str("symbol", r.symbol).
				Msg("served by fallback source")
			return v, nil
		}
	}

	if err := ctx.Err(); err != nil {
		return zero, err
	}
	return zero, failed
}

// fallbackChain lists every enabled adapter except skip: configured fallback
// order first, the rest by priority then name.
func (m *SourceManager) fallbackChain(skip marketdata.ProviderName) []fetcher.Adapter {
	seen := map[marketdata.ProviderName]bool{skip: true}
	chain := make([]fetcher.Adapter, 0, len(m.adapters))
	add := func(name marketdata.ProviderName) {
		a, ok := m.adapters[name]
		if !ok || seen[name] || !a.Enabled() {
			return
		}
		seen[name] = true
		chain = append(chain, a)
	}
	for _, name := range m.fallbackOrder {
		add(name)
	}
	for _, name := range m.names {
		add(name)
	}
	return chain
}

// HealthCheckAll checks every enabled adapter concurrently. Disabled
// adapters report false without a network call.
func (m *SourceManager) HealthCheckAll(ctx context.Context) map[marketdata.ProviderName]bool {
	out := make(map[marketdata.ProviderName]bool, len(m.names))
	var mu sync.Mutex
	var g errgroup.Group
	for _, name := range m.names {
		a := m.adapters[name]
		if !a.Enabled() {
			out[name] = false
			continue
		}
		g.Go(func() error {
			ok := a.HealthCheck(ctx)
			mu.Lock()
			out[a.Name()] = ok
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// SourceErrors returns the last error recorded by each adapter, nil when
// it never failed.
func (m *SourceManager) SourceErrors() map[marketdata.ProviderName]error {
	out := make(map[marketdata.ProviderName]error, len(m.names))
	for _, name := range m.names {
		out[name] = m.adapters[name].LastError()
	}
	return out
}

// ClearCache drops every cached response.
func (m *SourceManager) ClearCache() {
	m.cache.Clear()
	m.logger.Info().Msg("response cache cleared")
}

// SetDefaultSource switches the source used when callers name none.
func (m *SourceManager) SetDefaultSource(name marketdata.ProviderName) error {
	name = marketdata.ProviderName(strings.ToUpper(strings.TrimSpace(string(name))))
	a, ok := m.adapters[name]
	if !ok {
		return fmt.Errorf("%w: %s is not registered", ErrSourceUnavailable, name)
	}
	if !a.Enabled() {
		return fmt.Errorf("%w: %s is disabled", ErrSourceUnavailable, name)
	}
	m.mu.Lock()
	prev := m.defaultSource
	m.defaultSource = name
	m.mu.Unlock()
	m.logger.Info().Str("from", string(prev)).Str("to", string(name)).Msg("default source changed")
	return nil
}

// DefaultSource returns the current default source.
func (m *SourceManager) DefaultSource() marketdata.ProviderName {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.defaultSource
}

// AvailableSources lists the enabled adapters by priority.
func (m *SourceManager) AvailableSources() []marketdata.SourceInfo {
	out := make([]marketdata.SourceInfo, 0, len(m.names))
	for _, info := range m.Sources() {
		if info.Enabled {
			out = append(out, info)
		}
	}
	return out
}

// Sources lists every registered adapter, disabled ones included.
func (m *SourceManager) Sources() []marketdata.SourceInfo {
	out := make([]marketdata.SourceInfo, 0, len(m.names))
	for _, name := range m.names {
		cfg := m.adapters[name].Config()
		out = append(out, marketdata.SourceInfo{
			Name:        name,
			DisplayName: cfg.DisplayName,
			Enabled:     cfg.Enabled,
			Priority:    cfg.Priority,
		})
	}
	return out
}
