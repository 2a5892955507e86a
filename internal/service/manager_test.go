package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"stockdata/internal/cache"
	"stockdata/internal/fetcher"
	"stockdata/internal/marketdata"
)

type fakeAdapter struct {
	cfg     marketdata.ProviderConfig
	err     error
	healthy bool
	calls   atomic.Int32

	mu      sync.Mutex
	lastErr error
	batch   func(symbols []string) []marketdata.StandardStockData
}

func newFake(name marketdata.ProviderName, priority int, err error) *fakeAdapter {
	return &fakeAdapter{
		cfg:     marketdata.ProviderConfig{Name: name, DisplayName: string(name) + " display", Enabled: true, Priority: priority},
		err:     err,
		healthy: err == nil,
	}
}

func (f *fakeAdapter) Name() marketdata.ProviderName     { return f.cfg.Name }
func (f *fakeAdapter) Enabled() bool                     { return f.cfg.Enabled }
func (f *fakeAdapter) Config() marketdata.ProviderConfig { return f.cfg }

func (f *fakeAdapter) LastError() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastErr
}

func (f *fakeAdapter) result(symbol string) (marketdata.StandardStockData, error) {
	f.calls.Add(1)
	if f.err != nil {
		f.mu.Lock()
		f.lastErr = f.err
		f.mu.Unlock()
		return marketdata.StandardStockData{}, f.err
	}
	return marketdata.StandardStockData{
		Symbol:     symbol,
		Date:       "02/01/2025",
		ClosePrice: decimal.NewFromInt(100),
		Source:     f.cfg.Name,
	}, nil
}

func (f *fakeAdapter) FetchHistoricalData(ctx context.Context, params marketdata.HistoricalDataParams) ([]marketdata.StandardStockData, error) {
	rec, err := f.result(params.Symbol)
	if err != nil {
		return nil, err
	}
	return []marketdata.StandardStockData{rec}, nil
}

func (f *fakeAdapter) FetchCurrentData(ctx context.Context, symbol string, res marketdata.Resolution) (marketdata.StandardStockData, error) {
	return f.result(symbol)
}

func (f *fakeAdapter) FetchMultipleCurrentData(ctx context.Context, symbols []string, res marketdata.Resolution) ([]marketdata.StandardStockData, error) {
	if f.batch != nil {
		f.calls.Add(1)
		return f.batch(symbols), nil
	}
	out := make([]marketdata.StandardStockData, 0, len(symbols))
	for _, s := range symbols {
		rec, err := f.result(s)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (f *fakeAdapter) HealthCheck(ctx context.Context) bool {
	f.calls.Add(1)
	return f.healthy
}

var _ fetcher.Adapter = (*fakeAdapter)(nil)

func params(symbol string) marketdata.HistoricalDataParams {
	return marketdata.HistoricalDataParams{
		Symbol:     symbol,
		StartDate:  "2025-01-01",
		EndDate:    "2025-01-05",
		Resolution: marketdata.ResolutionDaily,
	}
}

func adapters(fakes ...*fakeAdapter) []fetcher.Adapter {
	out := make([]fetcher.Adapter, len(fakes))
	for i, f := range fakes {
		out[i] = f
	}
	return out
}

func TestFallbackStopsAtFirstSuccess(t *testing.T) {
	a := newFake("A", 1, errors.New("boom"))
	b := newFake("B", 2, nil)
	c := newFake("C", 3, nil)
	m := NewSourceManager(adapters(a, b, c), Options{DefaultSource: "A"}, zerolog.Nop())

	series, err := m.FetchHistoricalData(context.Background(), params("VNM"), "")
	require.NoError(t, err)
	require.Len(t, series, 1)
	require.Equal(t, marketdata.ProviderName("B"), series[0].Source)
	require.EqualValues(t, 1, a.calls.Load())
	require.EqualValues(t, 1, b.calls.Load())
	require.Zero(t, c.calls.Load())
}

func TestFallbackOrderOverridesPriority(t *testing.T) {
	a := newFake("A", 1, errors.New("boom"))
	b := newFake("B", 2, nil)
	c := newFake("C", 3, nil)
	m := NewSourceManager(adapters(a, b, c), Options{DefaultSource: "A", FallbackOrder: []marketdata.ProviderName{"C"}}, zerolog.Nop())

	rec, err := m.FetchCurrentData(context.Background(), "FPT", marketdata.ResolutionDaily, "")
	require.NoError(t, err)
	require.Equal(t, marketdata.ProviderName("C"), rec.Source)
	require.Zero(t, b.calls.Load())
}

func TestAllSourcesFailed(t *testing.T) {
	errA := &marketdata.UpstreamError{Provider: "A", Op: "history", StatusCode: 502, Err: errors.New("bad gateway")}
	errB := &marketdata.NoDataError{Provider: "B", Symbol: "VNM"}
	a := newFake("A", 1, errA)
	b := newFake("B", 2, errB)
	m := NewSourceManager(adapters(a, b), Options{}, zerolog.Nop())

	_, err := m.FetchHistoricalData(context.Background(), params("VNM"), "")
	var failed *marketdata.AllSourcesFailedError
	require.ErrorAs(t, err, &failed)
	require.Equal(t, []marketdata.ProviderName{"A", "B"}, failed.Attempted)
	require.ErrorIs(t, err, marketdata.ErrNoData)

	errs := m.SourceErrors()
	require.Same(t, errA, errs["A"])
	require.Same(t, errB, errs["B"])
}

func TestCacheServesWithinTTL(t *testing.T) {
	now := time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	a := newFake("A", 1, nil)
	m := NewSourceManager(adapters(a), Options{
		HistoricalTTL: 10 * time.Second,
		Cache:         cache.New(0).WithClock(clock),
	}, zerolog.Nop())

	ctx := context.Background()
	_, err := m.FetchHistoricalData(ctx, params("VNM"), "")
	require.NoError(t, err)

	now = now.Add(5 * time.Second)
	_, err = m.FetchHistoricalData(ctx, params("VNM"), "A")
	require.NoError(t, err)
	require.EqualValues(t, 1, a.calls.Load(), "preferred source is not part of the cache key")

	now = now.Add(6 * time.Second)
	_, err = m.FetchHistoricalData(ctx, params("VNM"), "")
	require.NoError(t, err)
	require.EqualValues(t, 2, a.calls.Load())
}

func TestResolutionAliasSharesCacheEntry(t *testing.T) {
	a := newFake("A", 1, nil)
	m := NewSourceManager(adapters(a), Options{}, zerolog.Nop())

	p := params("VNM")
	p.Resolution = "D"
	_, err := m.FetchHistoricalData(context.Background(), p, "")
	require.NoError(t, err)
	_, err = m.FetchHistoricalData(context.Background(), params("VNM"), "")
	require.NoError(t, err)
	require.EqualValues(t, 1, a.calls.Load())
}

func TestNegativeTTLDisablesCache(t *testing.T) {
	a := newFake("A", 1, nil)
	m := NewSourceManager(adapters(a), Options{CurrentTTL: -1}, zerolog.Nop())
	for range 3 {
		_, err := m.FetchCurrentData(context.Background(), "VNM", marketdata.ResolutionDaily, "")
		require.NoError(t, err)
	}
	require.EqualValues(t, 3, a.calls.Load())
}

func TestClearCache(t *testing.T) {
	a := newFake("A", 1, nil)
	m := NewSourceManager(adapters(a), Options{}, zerolog.Nop())
	ctx := context.Background()

	_, err := m.FetchCurrentData(ctx, "VNM", marketdata.ResolutionDaily, "")
	require.NoError(t, err)
	m.ClearCache()
	_, err = m.FetchCurrentData(ctx, "VNM", marketdata.ResolutionDaily, "")
	require.NoError(t, err)
	require.EqualValues(t, 2, a.calls.Load())
}

func TestUnavailablePreferredGoesToChain(t *testing.T) {
	a := newFake("A", 1, nil)
	b := newFake("B", 2, nil)
	b.cfg.Enabled = false
	m := NewSourceManager(adapters(a, b), Options{}, zerolog.Nop())

	rec, err := m.FetchCurrentData(context.Background(), "VNM", marketdata.ResolutionDaily, "B")
	require.NoError(t, err)
	require.Equal(t, marketdata.ProviderName("A"), rec.Source)
	require.Zero(t, b.calls.Load())

	m.ClearCache()
	rec, err = m.FetchCurrentData(context.Background(), "VNM", marketdata.ResolutionDaily, "NOPE")
	require.NoError(t, err)
	require.Equal(t, marketdata.ProviderName("A"), rec.Source)
}

func TestEmptyBatchFallsBack(t *testing.T) {
	a := newFake("A", 1, nil)
	a.batch = func([]string) []marketdata.StandardStockData { return nil }
	b := newFake("B", 2, nil)
	m := NewSourceManager(adapters(a, b), Options{}, zerolog.Nop())

	out, err := m.FetchMultipleCurrentData(context.Background(), []string{"AAA", "BBB"}, marketdata.ResolutionDaily, "")
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Equal(t, marketdata.ProviderName("B"), out[0].Source)

	out, err = m.FetchMultipleCurrentData(context.Background(), nil, marketdata.ResolutionDaily, "")
	require.NoError(t, err)
	require.Empty(t, out)
}

func TestInvalidParamsSkipAdapters(t *testing.T) {
	a := newFake("A", 1, nil)
	m := NewSourceManager(adapters(a), Options{}, zerolog.Nop())

	p := params("VNM")
	p.StartDate = "2025-02-01"
	_, err := m.FetchHistoricalData(context.Background(), p, "")
	require.ErrorIs(t, err, ErrInvalidRequest)
	require.Zero(t, a.calls.Load())

	_, err = m.FetchCurrentData(context.Background(), "VNM", "5m", "")
	require.ErrorIs(t, err, ErrInvalidRequest)
}

func TestCancelledContextStopsChain(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	a := newFake("A", 1, nil)
	a.batch = func([]string) []marketdata.StandardStockData {
		cancel()
		return nil
	}
	b := newFake("B", 2, nil)
	m := NewSourceManager(adapters(a, b), Options{}, zerolog.Nop())

	_, err := m.FetchMultipleCurrentData(ctx, []string{"VNM"}, marketdata.ResolutionDaily, "")
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, b.calls.Load())
}

func TestDefaultSourceSelection(t *testing.T) {
	a := newFake("A", 2, nil)
	b := newFake("B", 1, nil)
	c := newFake("C", 0, nil)
	c.cfg.Enabled = false
	m := NewSourceManager(adapters(a, b, c), Options{DefaultSource: "C"}, zerolog.Nop())
	require.Equal(t, marketdata.ProviderName("B"), m.DefaultSource(), "disabled default falls back to highest priority")

	require.NoError(t, m.SetDefaultSource("a"))
	require.Equal(t, marketdata.ProviderName("A"), m.DefaultSource())

	require.ErrorIs(t, m.SetDefaultSource("C"), ErrSourceUnavailable)
	require.ErrorIs(t, m.SetDefaultSource("ZZZ"), ErrSourceUnavailable)
	require.Equal(t, marketdata.ProviderName("A"), m.DefaultSource())
}

func TestAvailableSources(t *testing.T) {
	a := newFake("A", 3, nil)
	b := newFake("B", 1, nil)
	c := newFake("C", 2, nil)
	c.cfg.Enabled = false
	m := NewSourceManager(adapters(a, b, c), Options{}, zerolog.Nop())

	got := m.AvailableSources()
	require.Len(t, got, 2)
	require.Equal(t, marketdata.ProviderName("B"), got[0].Name)
	require.Equal(t, marketdata.ProviderName("A"), got[1].Name)
	require.Equal(t, "B display", got[0].DisplayName)
	require.Len(t, m.Sources(), 3)
}

func TestHealthCheckAll(t *testing.T) {
	a := newFake("A", 1, nil)
	b := newFake("B", 2, fmt.Errorf("down"))
	c := newFake("C", 3, nil)
	c.cfg.Enabled = false
	m := NewSourceManager(adapters(a, b, c), Options{}, zerolog.Nop())

	got := m.HealthCheckAll(context.Background())
	require.Equal(t, map[marketdata.ProviderName]bool{"A": true, "B": false, "C": false}, got)
	require.Zero(t, c.calls.Load(), "disabled adapters are not health-checked")
}
