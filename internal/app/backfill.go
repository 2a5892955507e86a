package app

import (
	"context"
	"errors"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"stockdata/internal/marketdata"
	"stockdata/internal/storage"
)

// Backfill fetches each symbol's history over the range and archives it.
func (a *App) Backfill(ctx context.Context, opts BackfillOptions) error {
	symbols := normalizeSymbols(opts.Symbols)
	if len(symbols) == 0 {
		symbols = normalizeSymbols(a.Config.Watch.Symbols)
	}
	if len(symbols) == 0 {
		return errors.New("没有需要回填的 symbol")
	}
	if opts.From.After(opts.To) {
		return errors.New("回填范围为空，请检查 --from/--to")
	}

	var bars storage.BarStore
	if opts.DryRun {
		a.Logger.Warn().Msg("回填 dry-run：不会写入数据库")
	} else {
		store, closeStore, err := a.openStore(ctx)
		if err != nil {
			return err
		}
		if store == nil {
			return errors.New("database.dsn 未配置，无法回填")
		}
		defer closeStore()
		bars = store
	}

	m, err := a.Manager()
	if err != nil {
		return err
	}

	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}

	var processed, failed, written atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, symbol := range symbols {
		g.Go(func() error {
			params := marketdata.HistoricalDataParams{
				Symbol:     symbol,
				StartDate:  opts.From.In(marketdata.MarketLocation).Format(marketdata.DateLayout),
				EndDate:    opts.To.In(marketdata.MarketLocation).Format(marketdata.DateLayout),
				Resolution: opts.Resolution,
			}
			series, err := m.FetchHistoricalData(gctx, params, opts.Source)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				failed.Add(1)
				a.Logger.Error().Err(err).Str("symbol", symbol).Msg("回填失败")
				return nil
			}

			if bars != nil {
				rows := make([]storage.PriceBar, 0, len(series))
				for _, rec := range series {
					rows = append(rows, storage.BarFromRecord(rec, params.Resolution))
				}
				n, err := bars.UpsertBars(gctx, rows)
				written.Add(int64(n))
				if err != nil {
					failed.Add(1)
					a.Logger.Error().Err(err).Str("symbol", symbol).Msg("回填写入失败")
					return nil
				}
			}
			processed.Add(1)
			a.Logger.Info().Str("symbol", symbol).Int("points", len(series)).Msg("symbol backfilled")
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	a.Logger.Info().
		Int64("processed", processed.Load()).
		Int64("failed", failed.Load()).
		Int64("written", written.Load()).
		Msg("回填完成")
	if failed.Load() > 0 {
		return errors.New("部分 symbol 回填失败，请检查日志")
	}
	return nil
}
