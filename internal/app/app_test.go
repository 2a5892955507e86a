package app

import (
	"bytes"
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"stockdata/internal/config"
	"stockdata/internal/marketdata"
	"stockdata/internal/storage"
)

func sampleSeries(n int) []marketdata.StandardStockData {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, marketdata.MarketLocation)
	out := make([]marketdata.StandardStockData, n)
	for i := range out {
		day := start.AddDate(0, 0, i)
		price := decimal.NewFromInt(int64(100 + i))
		out[i] = marketdata.StandardStockData{
			Symbol:        "VNM",
			Date:          day.Format(marketdata.DateLayout),
			DateTime:      day,
			OpenPrice:     price,
			ClosePrice:    price,
			HighestPrice:  price,
			LowestPrice:   price,
			AdjustedPrice: price,
			Volume:        int64(1000 * (i + 1)),
			Source:        marketdata.ProviderVNDirect,
		}
	}
	return out
}

func newTestApp(t *testing.T) (*App, *bytes.Buffer) {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	var out bytes.Buffer
	a := NewApp(cfg, zerolog.Nop())
	a.Out = &out
	return a, &out
}

func TestDownsampleSeriesKeepsEnds(t *testing.T) {
	series := sampleSeries(10)

	require.Len(t, downsampleSeries(series, 0), 10)
	require.Len(t, downsampleSeries(series, 20), 10)

	got := downsampleSeries(series, 4)
	require.Len(t, got, 4)
	require.Equal(t, series[0].Date, got[0].Date)
	require.Equal(t, series[9].Date, got[3].Date)

	last := downsampleSeries(series, 1)
	require.Equal(t, series[9].Date, last[0].Date)
}

func TestWriteSeriesCSV(t *testing.T) {
	series := sampleSeries(2)
	neg := int64(50)
	series[1].NegotiatedVolume = &neg

	path := filepath.Join(t.TempDir(), "out", "vnm.csv")
	require.NoError(t, writeSeriesCSV(path, series))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)

	require.Len(t, rows, 3)
	require.Equal(t, "date", rows[0][0])
	require.Equal(t, []string{"2024-01-02", "VNM", "101", "101", "101", "101", "101", "0", "0", "2000", "50", "", "VNDIRECT"}, rows[2])
}

func TestPrintSeriesFormats(t *testing.T) {
	a, out := newTestApp(t)
	series := sampleSeries(2)

	require.NoError(t, a.printSeries(series, formatTable, false))
	require.Contains(t, out.String(), "Symbol")
	require.Contains(t, out.String(), "101.00")

	out.Reset()
	require.NoError(t, a.printSeries(series, formatJSON, false))
	require.Contains(t, out.String(), `"closePrice"`)

	require.Error(t, a.printSeries(series, "xml", false))
}

func TestSourcesListsEnabledByDefault(t *testing.T) {
	a, out := newTestApp(t)

	require.NoError(t, a.Sources(formatTable, false))
	require.Contains(t, out.String(), "VNDIRECT")
	require.NotContains(t, out.String(), "VIETCAP")

	out.Reset()
	require.NoError(t, a.Sources(formatTable, true))
	require.Contains(t, out.String(), "VIETCAP")
}

func TestNormalizeSymbols(t *testing.T) {
	require.Equal(t, []string{"VNM", "FPT"}, normalizeSymbols([]string{" vnm", "FPT", "", "Vnm"}))
}

func TestSimulateAlertNeedsAlerting(t *testing.T) {
	a, _ := newTestApp(t)
	require.Error(t, a.SimulateAlert(context.Background(), marketdata.ProviderSSI, false, "boom"))

	a.Config.Alerting.Enabled = true
	a.Config.Alerting.Channels = []string{"log"}
	require.NoError(t, a.SimulateAlert(context.Background(), marketdata.ProviderSSI, false, "boom"))
	require.Error(t, a.SimulateAlert(context.Background(), "NOPE", true, ""))
}

func TestMigrateNeedsDatabase(t *testing.T) {
	a, _ := newTestApp(t)
	require.Error(t, a.Migrate(context.Background()))
	require.Error(t, a.Show(context.Background(), ShowOptions{Limit: 5}))
}

type archiveStub struct {
	total  int64
	bars   []storage.PriceBar
	events []storage.HealthEvent
	symbol string
}

func (s *archiveStub) CountBars(context.Context) (int64, error) { return s.total, nil }

func (s *archiveStub) ListRecentBars(_ context.Context, symbol string, limit int) ([]storage.PriceBar, error) {
	s.symbol = symbol
	return s.bars, nil
}

func (s *archiveStub) ListRecentHealthEvents(context.Context, int) ([]storage.HealthEvent, error) {
	return s.events, nil
}

func TestShowArchivePrintsCountBarsAndEvents(t *testing.T) {
	a, out := newTestApp(t)
	errMsg := "timeout\nafter 10s"
	stub := &archiveStub{
		total: 1234,
		bars:  []storage.PriceBar{storage.BarFromRecord(sampleSeries(1)[0], marketdata.ResolutionDaily)},
		events: []storage.HealthEvent{{
			Provider:   marketdata.ProviderSSI,
			Error:      &errMsg,
			ObservedAt: time.Date(2024, 1, 2, 3, 0, 0, 0, time.UTC),
		}},
	}

	require.NoError(t, a.showArchive(context.Background(), stub, ShowOptions{Symbol: "vnm", Limit: 5}))
	require.Equal(t, "VNM", stub.symbol)
	require.Contains(t, out.String(), "archived bars: 1234")
	require.Contains(t, out.String(), "100.00")
	require.Contains(t, out.String(), "timeout after 10s")
	require.Contains(t, out.String(), "down")
}
