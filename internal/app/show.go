package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"stockdata/internal/storage"
)

// Show prints the newest archived bars and health events.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show archive")
	}
	if closeStore != nil {
		defer closeStore()
	}
	return a.showArchive(ctx, store, opts)
}

type archiveReader interface {
	CountBars(ctx context.Context) (int64, error)
	ListRecentBars(ctx context.Context, symbol string, limit int) ([]storage.PriceBar, error)
	ListRecentHealthEvents(ctx context.Context, limit int) ([]storage.HealthEvent, error)
}

func (a *App) showArchive(ctx context.Context, store archiveReader, opts ShowOptions) error {
	total, err := store.CountBars(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "archived bars: %d\n\n", total)

	bars, err := store.ListRecentBars(ctx, strings.ToUpper(opts.Symbol), opts.Limit)
	if err != nil {
		return err
	}
	if len(bars) == 0 {
		fmt.Fprintln(a.Out, "no bars found")
	} else {
		writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(writer, "Date\tSymbol\tRes\tClose\tAdjusted\tChange%\tVolume\tSource\tFetched (UTC)")
		for _, bar := range bars {
			rec := bar.Record()
			fmt.Fprintf(
				writer,
				"%s\t%s\t%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
				rec.Date,
				bar.Symbol,
				bar.Resolution,
				formatDecimal(bar.Close, 2),
				formatDecimal(bar.Adjusted, 2),
				formatDecimal(bar.ChangePct, 2),
				bar.Volume,
				bar.Source,
				bar.FetchedAt.UTC().Format(time.RFC3339),
			)
		}
		writer.Flush()
	}

	events, err := store.ListRecentHealthEvents(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return nil
	}

	fmt.Fprintln(a.Out)
	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Observed (UTC)\tSource\tStatus\tError")
	for _, ev := range events {
		status := "down"
		if ev.Healthy {
			status = "up"
		}
		errMsg := ""
		if ev.Error != nil {
			errMsg = sanitizeInline(*ev.Error)
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\n", ev.ObservedAt.UTC().Format(time.RFC3339), ev.Provider, status, errMsg)
	}
	return writer.Flush()
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
