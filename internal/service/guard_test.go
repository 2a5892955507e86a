package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"stockdata/internal/fetcher"
	"stockdata/internal/marketdata"
)

type blockingAdapter struct {
	*fakeAdapter
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingAdapter) FetchCurrentData(ctx context.Context, symbol string, res marketdata.Resolution) (marketdata.StandardStockData, error) {
	b.once.Do(func() { close(b.entered) })
	select {
	case <-b.release:
	case <-ctx.Done():
		return marketdata.StandardStockData{}, ctx.Err()
	}
	return b.fakeAdapter.FetchCurrentData(ctx, symbol, res)
}

func newBlocking(name marketdata.ProviderName) *blockingAdapter {
	return &blockingAdapter{
		fakeAdapter: newFake(name, 1, nil),
		entered:     make(chan struct{}),
		release:     make(chan struct{}),
	}
}

func TestGuardCollapsesConcurrentRefreshes(t *testing.T) {
	slow := newBlocking("A")
	m := NewSourceManager([]fetcher.Adapter{slow}, Options{CurrentTTL: -1}, zerolog.Nop())
	g := NewGuard(m, zerolog.Nop())

	const callers = 8
	var wg sync.WaitGroup
	results := make([]marketdata.StandardStockData, callers)
	errs := make([]error, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = g.Current(context.Background(), "VNM", marketdata.ResolutionDaily, "")
		}()
	}

	<-slow.entered
	time.Sleep(50 * time.Millisecond)
	close(slow.release)
	wg.Wait()

	for i := range callers {
		require.NoError(t, errs[i])
		require.Equal(t, "VNM", results[i].Symbol)
	}
	require.EqualValues(t, 1, slow.calls.Load())
}

func TestGuardKeysBySymbol(t *testing.T) {
	a := newFake("A", 1, nil)
	m := NewSourceManager(adapters(a), Options{CurrentTTL: -1}, zerolog.Nop())
	g := NewGuard(m, zerolog.Nop())

	_, err := g.Current(context.Background(), "VNM", marketdata.ResolutionDaily, "")
	require.NoError(t, err)
	_, err = g.Current(context.Background(), "FPT", marketdata.ResolutionDaily, "")
	require.NoError(t, err)
	require.EqualValues(t, 2, a.calls.Load())
	require.Same(t, m, g.Manager())
}

func TestGuardPropagatesErrors(t *testing.T) {
	a := newFake("A", 1, errors.New("boom"))
	g := NewGuard(NewSourceManager(adapters(a), Options{}, zerolog.Nop()), zerolog.Nop())

	out, err := g.Batch(context.Background(), []string{"VNM"}, marketdata.ResolutionDaily, "")
	require.Nil(t, out)
	var failed *marketdata.AllSourcesFailedError
	require.ErrorAs(t, err, &failed)

	series, err := g.Historical(context.Background(), params("VNM"), "")
	require.Error(t, err)
	require.Empty(t, series)
}

func TestGuardFirstCallerCancelDoesNotFailOthers(t *testing.T) {
	slow := newBlocking("A")
	m := NewSourceManager([]fetcher.Adapter{slow}, Options{CurrentTTL: -1}, zerolog.Nop())
	g := NewGuard(m, zerolog.Nop())

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := g.Current(firstCtx, "VNM", marketdata.ResolutionDaily, "")
		firstErr <- err
	}()
	<-slow.entered

	type result struct {
		rec marketdata.StandardStockData
		err error
	}
	second := make(chan result, 1)
	go func() {
		rec, err := g.Current(context.Background(), "VNM", marketdata.ResolutionDaily, "")
		second <- result{rec, err}
	}()
	time.Sleep(50 * time.Millisecond)

	cancelFirst()
	select {
	case err := <-firstErr:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		require.FailNow(t, "cancelled caller kept waiting")
	}

	close(slow.release)
	res := <-second
	require.NoError(t, res.err)
	require.Equal(t, "VNM", res.rec.Symbol)
	require.EqualValues(t, 1, slow.calls.Load())
}

func TestGuardTimeoutBoundsSharedCall(t *testing.T) {
	slow := newBlocking("A")
	m := NewSourceManager([]fetcher.Adapter{slow}, Options{CurrentTTL: -1}, zerolog.Nop())
	g := NewGuard(m, zerolog.Nop(), WithRefreshTimeout(30*time.Millisecond))

	_, err := g.Current(context.Background(), "VNM", marketdata.ResolutionDaily, "")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
