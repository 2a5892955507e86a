package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"stockdata/internal/marketdata"
	"stockdata/internal/normalize"
)

const (
	vndirectDefaultBaseURL = "https://dchart-api.vndirect.com.vn"
	vndirectHistoryPath    = "/dchart/api/history"
)

// VNDirect reads the dchart TradingView-style history endpoint.
type VNDirect struct {
	*base
}

// NewVNDirect constructs the VNDIRECT adapter.
func NewVNDirect(cfg marketdata.ProviderConfig, opts Options, logger zerolog.Logger) *VNDirect {
	cfg.Name = marketdata.ProviderVNDirect
	return &VNDirect{base: newBase(cfg, vndirectDefaultBaseURL, opts, logger)}
}

type udfHistory struct {
	Status string            `json:"s"`
	ErrMsg string            `json:"errmsg"`
	Time   []int64           `json:"t"`
	Open   []decimal.Decimal `json:"o"`
	High   []decimal.Decimal `json:"h"`
	Low    []decimal.Decimal `json:"l"`
	Close  []decimal.Decimal `json:"c"`
	Volume []decimal.Decimal `json:"v"`
}

// FetchHistoricalData implements Adapter.
func (v *VNDirect) FetchHistoricalData(ctx context.Context, params marketdata.HistoricalDataParams) ([]marketdata.StandardStockData, error) {
	series, err := v.fetchHistory(ctx, params)
	return series, v.fail(err)
}

func (v *VNDirect) fetchHistory(ctx context.Context, params marketdata.HistoricalDataParams) ([]marketdata.StandardStockData, error) {
	const op = "historical"
	if err := params.Validate(); err != nil {
		return nil, err
	}
	start, end, _ := params.Range()

	q := url.Values{}
	q.Set("resolution", udfResolution(params.Resolution))
	q.Set("symbol", params.Symbol)
	q.Set("from", formatUnix(start))
	q.Set("to", formatUnix(endOfDay(end)))

	payload, err := v.do(ctx, request{op: op, url: v.cfg.BaseURL + vndirectHistoryPath + "?" + q.Encode()})
	if err != nil {
		return nil, err
	}

	var body udfHistory
	if err := v.decodeJSON(op, payload, &body); err != nil {
		return nil, err
	}
	switch body.Status {
	case "ok":
	case "no_data":
		return nil, v.noData(params.Symbol)
	default:
		msg := body.ErrMsg
		if msg == "" {
			msg = fmt.Sprintf("status %q", body.Status)
		}
		return nil, v.upstream(op, 0, errors.New(msg))
	}

	bars, err := normalize.FromParallelArrays(body.Time, body.Open, body.High, body.Low, body.Close, body.Volume)
	if err != nil {
		return nil, v.upstream(op, 0, err)
	}
	if len(bars) == 0 {
		return nil, v.noData(params.Symbol)
	}

	v.logger.Debug().Str("symbol", params.Symbol).Int("points", len(bars)).Msg("history fetched")
	return normalize.Series(params.Symbol, v.cfg.Name, bars, v.now()), nil
}

// FetchCurrentData implements Adapter.
func (v *VNDirect) FetchCurrentData(ctx context.Context, symbol string, res marketdata.Resolution) (marketdata.StandardStockData, error) {
	item, err := v.currentFromHistory(ctx, v.fetchHistory, symbol, res)
	return item, v.fail(err)
}

// FetchMultipleCurrentData implements Adapter.
func (v *VNDirect) FetchMultipleCurrentData(ctx context.Context, symbols []string, res marketdata.Resolution) ([]marketdata.StandardStockData, error) {
	out, err := v.fetchEach(ctx, symbols, res, v.FetchCurrentData)
	return out, v.fail(err)
}

// HealthCheck implements Adapter.
func (v *VNDirect) HealthCheck(ctx context.Context) bool {
	return v.healthCheck(ctx, v.FetchHistoricalData, "")
}

func udfResolution(res marketdata.Resolution) string {
	switch res {
	case marketdata.ResolutionWeekly:
		return "W"
	case marketdata.ResolutionMonthly:
		return "M"
	default:
		return "D"
	}
}
