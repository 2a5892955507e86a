package fetcher

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockdata/internal/config"
	"stockdata/internal/marketdata"
)

func TestTCBSFiltersToRange(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, tcbsBarsPath, r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "FPT", q.Get("ticker"))
		assert.Equal(t, "stock", q.Get("type"))
		assert.Equal(t, "5", q.Get("countBack"))
		writeJSON(w, map[string]any{"ticker": "FPT", "data": []map[string]any{
			{"tradingDate": "2024-12-31T00:00:00.000Z", "open": 100, "high": 101, "low": 99, "close": 100, "volume": 10},
			{"tradingDate": "2025-01-02T00:00:00.000Z", "open": 100, "high": 103, "low": 99, "close": 102, "volume": 20},
			{"tradingDate": "2025-01-03T00:00:00.000Z", "open": 102, "high": 104, "low": 101, "close": 103.5, "volume": 30},
		}})
	}))
	defer srv.Close()

	a := NewTCBS(testProvider(srv.URL), 0, testOptions(), noopLogger())
	series, err := a.FetchHistoricalData(context.Background(), historyParams("FPT", "2025-01-01", "2025-01-05"))
	require.NoError(t, err)
	require.Len(t, series, 2, "rows outside the range should be dropped")
	require.Equal(t, "02/01/2025", series[0].Date)
	require.EqualValues(t, 20, series[0].Volume)
	require.True(t, series[0].PriceChange.Value.IsZero(), "first point of the filtered series has no previous close")
}

func TestTCBSEmptyIsNoData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"data": []any{}})
	}))
	defer srv.Close()

	a := NewTCBS(testProvider(srv.URL), 0, testOptions(), noopLogger())
	_, err := a.FetchCurrentData(context.Background(), "FPT", marketdata.ResolutionDaily)
	require.ErrorIs(t, err, marketdata.ErrNoData, "空窗口应返回 NoDataError")
}

func TestCountBack(t *testing.T) {
	start := marketDay(2025, 1, 1)
	end := marketDay(2025, 12, 31)
	require.Equal(t, 365, countBack(start, end, marketdata.ResolutionDaily, 2000))
	require.Equal(t, 53, countBack(start, end, marketdata.ResolutionWeekly, 2000))
	require.Equal(t, 100, countBack(start, end, marketdata.ResolutionDaily, 100), "countBack should be capped")
}

func TestVietcapHistorical(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, vietcapChartPath, r.URL.Path)
		var req vietcapRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "ONE_DAY", req.TimeFrame)
		assert.Equal(t, []string{"VNM"}, req.Symbols)
		d1 := marketDay(2025, 1, 2).Unix()
		d2 := marketDay(2025, 1, 3).Unix()
		writeJSON(w, []map[string]any{
			{"symbol": "VNM", "t": []string{strconv.FormatInt(d1, 10), strconv.FormatInt(d2, 10)}, "o": []any{"61.0", 61.5}, "h": []float64{62, 62}, "l": []float64{60, 61}, "c": []float64{61.5, 61.8}, "v": []int{100, 200}},
		})
	}))
	defer srv.Close()

	a := NewVietcap(testProvider(srv.URL), 0, testOptions(), noopLogger())
	series, err := a.FetchHistoricalData(context.Background(), historyParams("VNM", "2025-01-01", "2025-01-05"))
	require.NoError(t, err, "字符串时间戳应被接受")
	require.Len(t, series, 2)
	require.EqualValues(t, 200, series[1].Volume)
}

func TestVietcapCurrentUnsupported(t *testing.T) {
	a := NewVietcap(testProvider("http://127.0.0.1:1"), 0, testOptions(), noopLogger())
	_, err := a.FetchCurrentData(context.Background(), "VNM", marketdata.ResolutionDaily)
	require.ErrorIs(t, err, marketdata.ErrUnsupported)
	_, err = a.FetchMultipleCurrentData(context.Background(), []string{"VNM"}, marketdata.ResolutionDaily)
	require.ErrorIs(t, err, marketdata.ErrUnsupported)

	var upstream *marketdata.UpstreamError
	require.NotErrorAs(t, a.LastError(), &upstream, "unsupported must stay distinct from upstream failures")
}

func TestNewAdaptersFromConfig(t *testing.T) {
	cfg := &config.Config{
		Providers: map[string]config.ProviderSettings{
			"vndirect": {Enabled: true, Priority: 1, Timeout: time.Second},
			"vngold":   {Enabled: true, Priority: 4, MaxSpanDays: 30},
			"vietcap":  {Enabled: false, Priority: 5},
		},
	}
	adapters, err := NewAdapters(cfg, noopLogger())
	require.NoError(t, err)
	require.Len(t, adapters, 3)

	names := []marketdata.ProviderName{adapters[0].Name(), adapters[1].Name(), adapters[2].Name()}
	require.Equal(t, []marketdata.ProviderName{marketdata.ProviderVietcap, marketdata.ProviderVNDirect, marketdata.ProviderVNGold}, names)
	require.False(t, adapters[0].Enabled(), "disabled providers keep their flag")
	require.Equal(t, vndirectDefaultBaseURL, adapters[1].Config().BaseURL)

	cfg.Providers["bogus"] = config.ProviderSettings{}
	_, err = NewAdapters(cfg, noopLogger())
	require.Error(t, err)
}
