package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	chart "github.com/wcharczuk/go-chart/v2"

	"stockdata/internal/marketdata"
)

// Export renders a price series as CSV and/or PNG, read from the archive or
// fetched live through the source manager.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}
	if opts.From.After(opts.To) {
		return errors.New("from must not be after to")
	}
	opts.Symbol = strings.ToUpper(strings.TrimSpace(opts.Symbol))
	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	series, err := a.exportSeries(ctx, opts)
	if err != nil {
		return err
	}
	if len(series) == 0 {
		a.Logger.Info().Str("symbol", opts.Symbol).Msg("no data found for export window")
		return nil
	}

	downsampled := downsampleSeries(series, opts.MaxPoints)
	a.Logger.Info().Int("total", len(series)).Int("exported", len(downsampled)).Msg("exporting series")

	if opts.CSVPath != "" {
		if err := writeSeriesCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeSeriesPNG(opts.PNGPath, opts.Symbol, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func (a *App) exportSeries(ctx context.Context, opts ExportOptions) ([]marketdata.StandardStockData, error) {
	if opts.Live {
		m, err := a.Manager()
		if err != nil {
			return nil, err
		}
		return m.FetchHistoricalData(ctx, marketdata.HistoricalDataParams{
			Symbol:     opts.Symbol,
			StartDate:  opts.From.In(marketdata.MarketLocation).Format(marketdata.DateLayout),
			EndDate:    opts.To.In(marketdata.MarketLocation).Format(marketdata.DateLayout),
			Resolution: opts.Resolution,
		}, opts.Source)
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	if store == nil {
		return nil, errors.New("database not configured; use --live or set database.dsn")
	}
	defer closeStore()

	bars, err := store.ListBarsBetween(ctx, opts.Symbol, opts.Resolution, opts.From, opts.To)
	if err != nil {
		return nil, err
	}
	series := make([]marketdata.StandardStockData, 0, len(bars))
	for _, bar := range bars {
		series = append(series, bar.Record())
	}
	return series, nil
}

func downsampleSeries(series []marketdata.StandardStockData, limit int) []marketdata.StandardStockData {
	if limit <= 0 || len(series) <= limit {
		return series
	}
	if limit == 1 {
		return series[len(series)-1:]
	}

	result := make([]marketdata.StandardStockData, 0, limit)
	step := float64(len(series)-1) / float64(limit-1)
	for i := 0; i < limit; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(series) {
			idx = len(series) - 1
		}
		result = append(result, series[idx])
	}
	return result
}

func writeSeriesCSV(path string, series []marketdata.StandardStockData) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"date", "symbol", "open", "high", "low", "close", "adjusted", "change", "change_pct", "volume", "negotiated_volume", "negotiated_value", "source"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, rec := range series {
		negVolume, negValue := "", ""
		if rec.NegotiatedVolume != nil {
			negVolume = strconv.FormatInt(*rec.NegotiatedVolume, 10)
		}
		if rec.NegotiatedValue != nil {
			negValue = rec.NegotiatedValue.String()
		}
		record := []string{
			rec.DateTime.In(marketdata.MarketLocation).Format(marketdata.DateLayout),
			rec.Symbol,
			rec.OpenPrice.String(),
			rec.HighestPrice.String(),
			rec.LowestPrice.String(),
			rec.ClosePrice.String(),
			rec.AdjustedPrice.String(),
			rec.PriceChange.Value.String(),
			rec.PriceChange.Percentage.String(),
			strconv.FormatInt(rec.Volume, 10),
			negVolume,
			negValue,
			string(rec.Source),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func writeSeriesPNG(path, symbol string, series []marketdata.StandardStockData) error {
	if len(series) < 2 {
		return fmt.Errorf("chart needs at least two points, got %d", len(series))
	}
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(series))
	closes := make([]float64, len(series))
	adjusted := make([]float64, len(series))
	volume := make([]float64, len(series))

	for i, rec := range series {
		x[i] = rec.DateTime
		closes[i] = rec.ClosePrice.InexactFloat64()
		adjusted[i] = rec.AdjustedPrice.InexactFloat64()
		volume[i] = float64(rec.Volume)
	}

	priceFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.2f")
	}
	graph := chart.Chart{
		Title:  symbol,
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeDateValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Price",
			ValueFormatter: priceFormatter,
		},
		YAxisSecondary: chart.YAxis{
			Name:           "Volume",
			ValueFormatter: func(v interface{}) string { return chart.FloatValueFormatterWithFormat(v, "%.0f") },
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Close",
				XValues: x,
				YValues: closes,
			},
			chart.TimeSeries{
				Name:    "Adjusted",
				XValues: x,
				YValues: adjusted,
			},
			chart.TimeSeries{
				Name:    "Volume",
				XValues: x,
				YValues: volume,
				YAxis:   chart.YAxisSecondary,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}
