package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"stockdata/internal/marketdata"
	"stockdata/internal/normalize"
)

const (
	vietcapDefaultBaseURL = "https://trading.vietcap.com.vn"
	vietcapChartPath      = "/api/chart/OHLCChart/gap"
)

// Vietcap reads OHLC bars from the Vietcap chart API. Only historical
// series are implemented.
type Vietcap struct {
	*base
	maxCountBack int
}

// NewVietcap constructs the VIETCAP adapter.
func NewVietcap(cfg marketdata.ProviderConfig, maxCountBack int, opts Options, logger zerolog.Logger) *Vietcap {
	cfg.Name = marketdata.ProviderVietcap
	if maxCountBack <= 0 {
		maxCountBack = tcbsDefaultCountBack
	}
	return &Vietcap{base: newBase(cfg, vietcapDefaultBaseURL, opts, logger), maxCountBack: maxCountBack}
}

type vietcapRequest struct {
	TimeFrame string   `json:"timeFrame"`
	Symbols   []string `json:"symbols"`
	To        int64    `json:"to"`
	CountBack int      `json:"countBack"`
}

// FetchHistoricalData implements Adapter.
func (v *Vietcap) FetchHistoricalData(ctx context.Context, params marketdata.HistoricalDataParams) ([]marketdata.StandardStockData, error) {
	series, err := v.fetchHistory(ctx, params)
	return series, v.fail(err)
}

func (v *Vietcap) fetchHistory(ctx context.Context, params marketdata.HistoricalDataParams) ([]marketdata.StandardStockData, error) {
	const op = "historical"
	if err := params.Validate(); err != nil {
		return nil, err
	}
	start, end, _ := params.Range()
	res, _ := marketdata.ParseResolution(string(params.Resolution))

	body, err := json.Marshal(vietcapRequest{
		TimeFrame: vietcapTimeFrame(res),
		Symbols:   []string{params.Symbol},
		To:        endOfDay(end).Unix(),
		CountBack: countBack(start, end, res, v.maxCountBack),
	})
	if err != nil {
		return nil, err
	}

	payload, err := v.do(ctx, request{
		op:          op,
		method:      "POST",
		url:         v.cfg.BaseURL + vietcapChartPath,
		body:        string(body),
		contentType: "application/json",
	})
	if err != nil {
		return nil, err
	}
	if !gjson.ValidBytes(payload) {
		return nil, v.upstream(op, 0, errors.New("response is not valid JSON"))
	}

	doc := gjson.ParseBytes(payload)
	if !doc.IsArray() {
		return nil, v.upstream(op, 0, fmt.Errorf("expected an array, got %s", doc.Type))
	}
	var entry gjson.Result
	for _, item := range doc.Array() {
		if strings.EqualFold(item.Get("symbol").String(), params.Symbol) {
			entry = item
			break
		}
	}
	if !entry.Exists() {
		return nil, v.noData(params.Symbol)
	}

	bars, err := vietcapBars(entry)
	if err != nil {
		return nil, v.upstream(op, 0, err)
	}
	series := normalize.FilterRange(normalize.Series(params.Symbol, v.cfg.Name, bars, v.now()), start, end)
	if len(series) == 0 {
		return nil, v.noData(params.Symbol)
	}
	return series, nil
}

func vietcapBars(entry gjson.Result) ([]normalize.Bar, error) {
	rawTimes := entry.Get("t").Array()
	ts := make([]int64, 0, len(rawTimes))
	for _, t := range rawTimes {
		switch t.Type {
		case gjson.Number:
			ts = append(ts, t.Int())
		case gjson.String:
			d, err := decimal.NewFromString(t.Str)
			if err != nil {
				return nil, fmt.Errorf("timestamp %q: %w", t.Str, err)
			}
			ts = append(ts, d.IntPart())
		default:
			return nil, fmt.Errorf("timestamp %s is not a number", t.Raw)
		}
	}

	columns := make(map[string][]decimal.Decimal, 5)
	for _, key := range []string{"o", "h", "l", "c", "v"} {
		values := entry.Get(key).Array()
		col := make([]decimal.Decimal, 0, len(values))
		for _, value := range values {
			d, err := gjsonDecimal(value)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", key, err)
			}
			col = append(col, d)
		}
		columns[key] = col
	}
	volumes := columns["v"]
	if len(volumes) == 0 {
		volumes = nil
	}
	return normalize.FromParallelArrays(ts, columns["o"], columns["h"], columns["l"], columns["c"], volumes)
}

func vietcapTimeFrame(res marketdata.Resolution) string {
	switch res {
	case marketdata.ResolutionWeekly:
		return "ONE_WEEK"
	case marketdata.ResolutionMonthly:
		return "ONE_MONTH"
	default:
		return "ONE_DAY"
	}
}

// FetchCurrentData implements Adapter.
func (v *Vietcap) FetchCurrentData(ctx context.Context, symbol string, res marketdata.Resolution) (marketdata.StandardStockData, error) {
	return marketdata.StandardStockData{}, v.fail(v.unsupported("current", "not implemented for this provider"))
}

// FetchMultipleCurrentData implements Adapter.
func (v *Vietcap) FetchMultipleCurrentData(ctx context.Context, symbols []string, res marketdata.Resolution) ([]marketdata.StandardStockData, error) {
	return nil, v.fail(v.unsupported("batch", "not implemented for this provider"))
}

// HealthCheck implements Adapter.
func (v *Vietcap) HealthCheck(ctx context.Context) bool {
	return v.healthCheck(ctx, v.FetchHistoricalData, "")
}
