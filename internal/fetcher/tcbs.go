package fetcher

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"stockdata/internal/marketdata"
	"stockdata/internal/normalize"
)

const (
	tcbsDefaultBaseURL   = "https://apipubaws.tcbs.com.vn"
	tcbsBarsPath         = "/stock-insight/v2/stock/bars-long-term"
	tcbsDefaultCountBack = 2000
)

// TCBS reads long-term bars from the TCBS stock-insight API.
type TCBS struct {
	*base
	maxCountBack int
}

// NewTCBS constructs the TCBS adapter. maxCountBack caps the number of bars
// requested per call.
func NewTCBS(cfg marketdata.ProviderConfig, maxCountBack int, opts Options, logger zerolog.Logger) *TCBS {
	cfg.Name = marketdata.ProviderTCBS
	if maxCountBack <= 0 {
		maxCountBack = tcbsDefaultCountBack
	}
	return &TCBS{base: newBase(cfg, tcbsDefaultBaseURL, opts, logger), maxCountBack: maxCountBack}
}

type tcbsBars struct {
	Ticker string `json:"ticker"`
	Data   []struct {
		TradingDate string          `json:"tradingDate"`
		Open        decimal.Decimal `json:"open"`
		High        decimal.Decimal `json:"high"`
		Low         decimal.Decimal `json:"low"`
		Close       decimal.Decimal `json:"close"`
		Volume      int64           `json:"volume"`
	} `json:"data"`
}

// FetchHistoricalData implements Adapter.
func (t *TCBS) FetchHistoricalData(ctx context.Context, params marketdata.HistoricalDataParams) ([]marketdata.StandardStockData, error) {
	series, err := t.fetchHistory(ctx, params)
	return series, t.fail(err)
}

func (t *TCBS) fetchHistory(ctx context.Context, params marketdata.HistoricalDataParams) ([]marketdata.StandardStockData, error) {
	const op = "historical"
	if err := params.Validate(); err != nil {
		return nil, err
	}
	start, end, _ := params.Range()
	res, _ := marketdata.ParseResolution(string(params.Resolution))

	q := url.Values{}
	q.Set("resolution", udfResolution(res))
	q.Set("ticker", params.Symbol)
	q.Set("type", "stock")
	q.Set("to", formatUnix(endOfDay(end)))
	q.Set("countBack", strconv.Itoa(countBack(start, end, res, t.maxCountBack)))

	payload, err := t.do(ctx, request{op: op, url: t.cfg.BaseURL + tcbsBarsPath + "?" + q.Encode()})
	if err != nil {
		return nil, err
	}

	var body tcbsBars
	if err := t.decodeJSON(op, payload, &body); err != nil {
		return nil, err
	}

	bars := make([]normalize.Bar, 0, len(body.Data))
	for _, item := range body.Data {
		ts, err := time.Parse(time.RFC3339, item.TradingDate)
		if err != nil {
			return nil, t.upstream(op, 0, fmt.Errorf("tradingDate %q: %w", item.TradingDate, err))
		}
		bars = append(bars, normalize.Bar{
			Time:   ts,
			Open:   item.Open,
			High:   item.High,
			Low:    item.Low,
			Close:  item.Close,
			Volume: item.Volume,
		})
	}

	series := normalize.FilterRange(normalize.Series(params.Symbol, t.cfg.Name, bars, t.now()), start, end)
	if len(series) == 0 {
		return nil, t.noData(params.Symbol)
	}
	return series, nil
}

// FetchCurrentData implements Adapter.
func (t *TCBS) FetchCurrentData(ctx context.Context, symbol string, res marketdata.Resolution) (marketdata.StandardStockData, error) {
	item, err := t.currentFromHistory(ctx, t.fetchHistory, symbol, res)
	return item, t.fail(err)
}

// FetchMultipleCurrentData implements Adapter.
func (t *TCBS) FetchMultipleCurrentData(ctx context.Context, symbols []string, res marketdata.Resolution) ([]marketdata.StandardStockData, error) {
	out, err := t.fetchEach(ctx, symbols, res, t.FetchCurrentData)
	return out, t.fail(err)
}

// HealthCheck implements Adapter.
func (t *TCBS) HealthCheck(ctx context.Context) bool {
	return t.healthCheck(ctx, t.FetchHistoricalData, "")
}

// countBack estimates how many bars cover [start, end] at res, capped at limit.
func countBack(start, end time.Time, res marketdata.Resolution, limit int) int {
	days := int(end.Sub(start).Hours()/24) + 1
	n := days
	switch res {
	case marketdata.ResolutionWeekly:
		n = days/7 + 1
	case marketdata.ResolutionMonthly:
		n = days/28 + 1
	}
	if n > limit {
		n = limit
	}
	if n < 1 {
		n = 1
	}
	return n
}
