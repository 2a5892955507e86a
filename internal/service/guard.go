package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"stockdata/internal/marketdata"
)

const defaultRefreshTimeout = 60 * time.Second

// Guard collapses overlapping refreshes of the same operation and symbol
// into one manager call. Callers that join an in-flight call share its
// result and its error.
//
// The shared call is detached from the caller that started it and bounded
// by its own timeout; each caller stops waiting when its own context ends.
type Guard struct {
	manager *SourceManager
	group   singleflight.Group
	timeout time.Duration
	logger  zerolog.Logger
}

// GuardOption customises a Guard.
type GuardOption func(*Guard)

// WithRefreshTimeout bounds every shared call. Non-positive values keep the default.
func WithRefreshTimeout(d time.Duration) GuardOption {
	return func(g *Guard) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// NewGuard wraps manager.
func NewGuard(manager *SourceManager, logger zerolog.Logger, opts ...GuardOption) *Guard {
	g := &Guard{
		manager: manager,
		timeout: defaultRefreshTimeout,
		logger:  logger.With().Str("component", "refresh_guard").Logger(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Manager exposes the wrapped manager.
func (g *Guard) Manager() *SourceManager { return g.manager }

func (g *Guard) do(ctx context.Context, key string, fn func(context.Context) (any, error)) (any, error) {
	ch := g.group.DoChan(key, func() (any, error) {
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.timeout)
		defer cancel()
		return fn(callCtx)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Shared {
			g.logger.Debug().Str("key", key).Msg("joined in-flight refresh")
		}
		return res.Val, res.Err
	}
}

// Historical is FetchHistoricalData behind the guard.
func (g *Guard) Historical(ctx context.Context, params marketdata.HistoricalDataParams, preferred marketdata.ProviderName) ([]marketdata.StandardStockData, error) {
	key := fmt.Sprintf("%s:%s:%s:%s:%s:%d:%s", opHistorical, params.Symbol, params.StartDate, params.EndDate, params.Resolution, params.Page, preferred)
	v, err := g.do(ctx, key, func(callCtx context.Context) (any, error) {
		return g.manager.FetchHistoricalData(callCtx, params, preferred)
	})
	series, _ := v.([]marketdata.StandardStockData)
	return series, err
}

// Current is FetchCurrentData behind the guard.
func (g *Guard) Current(ctx context.Context, symbol string, res marketdata.Resolution, preferred marketdata.ProviderName) (marketdata.StandardStockData, error) {
	key := fmt.Sprintf("%s:%s:%s:%s", opCurrent, symbol, res, preferred)
	v, err := g.do(ctx, key, func(callCtx context.Context) (any, error) {
		return g.manager.FetchCurrentData(callCtx, symbol, res, preferred)
	})
	rec, _ := v.(marketdata.StandardStockData)
	return rec, err
}

// Batch is FetchMultipleCurrentData behind the guard.
func (g *Guard) Batch(ctx context.Context, symbols []string, res marketdata.Resolution, preferred marketdata.ProviderName) ([]marketdata.StandardStockData, error) {
	key := fmt.Sprintf("%s:%s:%s:%s", opBatch, strings.Join(symbols, ","), res, preferred)
	v, err := g.do(ctx, key, func(callCtx context.Context) (any, error) {
		return g.manager.FetchMultipleCurrentData(callCtx, symbols, res, preferred)
	})
	out, _ := v.([]marketdata.StandardStockData)
	return out, err
}
