package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"stockdata/internal/marketdata"
	"stockdata/internal/normalize"
)

const (
	formatTable = "table"
	formatJSON  = "json"
)

// History prints a historical series.
func (a *App) History(ctx context.Context, opts HistoryOptions) error {
	m, err := a.Manager()
	if err != nil {
		return err
	}
	params := marketdata.HistoricalDataParams{
		Symbol:     strings.ToUpper(strings.TrimSpace(opts.Symbol)),
		StartDate:  opts.From.In(marketdata.MarketLocation).Format(marketdata.DateLayout),
		EndDate:    opts.To.In(marketdata.MarketLocation).Format(marketdata.DateLayout),
		Resolution: opts.Resolution,
		Page:       opts.Page,
	}
	series, err := m.FetchHistoricalData(ctx, params, opts.Source)
	if err != nil {
		return err
	}
	return a.printSeries(series, opts.Format, opts.Legacy)
}

// Current prints the latest quote of each symbol. More than one symbol goes
// through the batch path, which omits symbols that failed.
func (a *App) Current(ctx context.Context, opts CurrentOptions) error {
	m, err := a.Manager()
	if err != nil {
		return err
	}
	symbols := normalizeSymbols(opts.Symbols)
	switch len(symbols) {
	case 0:
		return fmt.Errorf("至少需要一个 symbol")
	case 1:
		rec, err := m.FetchCurrentData(ctx, symbols[0], opts.Resolution, opts.Source)
		if err != nil {
			return err
		}
		return a.printSeries([]marketdata.StandardStockData{rec}, opts.Format, opts.Legacy)
	}

	out, err := m.FetchMultipleCurrentData(ctx, symbols, opts.Resolution, opts.Source)
	if err != nil {
		return err
	}
	if len(out) < len(symbols) {
		a.Logger.Warn().Int("requested", len(symbols)).Int("served", len(out)).Msg("some symbols were omitted")
	}
	return a.printSeries(out, opts.Format, opts.Legacy)
}

// Health checks every source and prints its status with the last error.
func (a *App) Health(ctx context.Context, format string) error {
	m, err := a.Manager()
	if err != nil {
		return err
	}
	status := m.HealthCheckAll(ctx)
	lastErrs := m.SourceErrors()

	type row struct {
		Name      marketdata.ProviderName `json:"name"`
		Enabled   bool                    `json:"enabled"`
		Healthy   bool                    `json:"healthy"`
		LastError string                  `json:"lastError,omitempty"`
	}
	rows := make([]row, 0, len(status))
	for _, info := range m.Sources() {
		r := row{Name: info.Name, Enabled: info.Enabled, Healthy: status[info.Name]}
		if e := lastErrs[info.Name]; e != nil {
			r.LastError = e.Error()
		}
		rows = append(rows, r)
	}

	if format == formatJSON {
		return writeJSON(a.Out, rows)
	}
	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Source\tEnabled\tHealthy\tLast error")
	for _, r := range rows {
		fmt.Fprintf(writer, "%s\t%t\t%t\t%s\n", r.Name, r.Enabled, r.Healthy, sanitizeInline(r.LastError))
	}
	return writer.Flush()
}

// Sources lists the configured sources.
func (a *App) Sources(format string, all bool) error {
	m, err := a.Manager()
	if err != nil {
		return err
	}
	infos := m.AvailableSources()
	if all {
		infos = m.Sources()
	}
	if format == formatJSON {
		return writeJSON(a.Out, infos)
	}

	def := m.DefaultSource()
	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Source\tName\tPriority\tEnabled\tDefault")
	for _, info := range infos {
		mark := ""
		if info.Name == def {
			mark = "*"
		}
		fmt.Fprintf(writer, "%s\t%s\t%d\t%t\t%s\n", info.Name, info.DisplayName, info.Priority, info.Enabled, mark)
	}
	return writer.Flush()
}

func (a *App) printSeries(series []marketdata.StandardStockData, format string, legacy bool) error {
	switch {
	case format == formatJSON && legacy:
		return writeJSON(a.Out, normalize.ToLegacy(series))
	case format == formatJSON:
		return writeJSON(a.Out, series)
	case format != "" && format != formatTable:
		return fmt.Errorf("unknown output format %q", format)
	}

	sorted := append([]marketdata.StandardStockData(nil), series...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Symbol != sorted[j].Symbol {
			return sorted[i].Symbol < sorted[j].Symbol
		}
		return sorted[i].DateTime.Before(sorted[j].DateTime)
	})

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Symbol\tDate\tOpen\tHigh\tLow\tClose\tAdjusted\tChange\tChange%\tVolume\tSource")
	for _, rec := range sorted {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			rec.Symbol,
			rec.Date,
			formatDecimal(rec.OpenPrice, 2),
			formatDecimal(rec.HighestPrice, 2),
			formatDecimal(rec.LowestPrice, 2),
			formatDecimal(rec.ClosePrice, 2),
			formatDecimal(rec.AdjustedPrice, 2),
			formatDecimal(rec.PriceChange.Value, 2),
			formatDecimal(rec.PriceChange.Percentage, 2),
			rec.Volume,
			rec.Source,
		)
	}
	return writer.Flush()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
