package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"stockdata/internal/marketdata"
	"stockdata/internal/normalize"
)

const (
	ssiDefaultBaseURL  = "https://iboard-api.ssi.com.vn"
	ssiStockInfoPath   = "/statistics/company/ssmi/stock-info"
	ssiDefaultPageSize = 100
	ssiDefaultMaxPages = 20
)

// SSIPaging bounds how the SSI adapter walks paged results.
type SSIPaging struct {
	PageSize int
	MaxPages int
}

// SSI reads daily bars from the iboard stock-info statistics endpoint.
type SSI struct {
	*base
	paging SSIPaging
}

// NewSSI constructs the SSI adapter.
func NewSSI(cfg marketdata.ProviderConfig, paging SSIPaging, opts Options, logger zerolog.Logger) *SSI {
	cfg.Name = marketdata.ProviderSSI
	if paging.PageSize <= 0 {
		paging.PageSize = ssiDefaultPageSize
	}
	if paging.MaxPages <= 0 {
		paging.MaxPages = ssiDefaultMaxPages
	}
	return &SSI{base: newBase(cfg, ssiDefaultBaseURL, opts, logger), paging: paging}
}

// FetchHistoricalData implements Adapter. A positive params.Page fetches that
// single page; otherwise pages are walked until the reported total is reached.
func (s *SSI) FetchHistoricalData(ctx context.Context, params marketdata.HistoricalDataParams) ([]marketdata.StandardStockData, error) {
	series, err := s.fetchHistory(ctx, params)
	return series, s.fail(err)
}

func (s *SSI) fetchHistory(ctx context.Context, params marketdata.HistoricalDataParams) ([]marketdata.StandardStockData, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if res, _ := marketdata.ParseResolution(string(params.Resolution)); res != marketdata.ResolutionDaily {
		return nil, s.unsupported("historical", "only daily resolution is published")
	}
	start, end, _ := params.Range()

	var bars []normalize.Bar
	if params.Page > 0 {
		page, _, err := s.fetchPage(ctx, params.Symbol, start, end, params.Page)
		if err != nil {
			return nil, err
		}
		bars = page
	} else {
		for page := 1; page <= s.paging.MaxPages; page++ {
			chunk, total, err := s.fetchPage(ctx, params.Symbol, start, end, page)
			if err != nil {
				return nil, err
			}
			bars = append(bars, chunk...)
			if len(chunk) < s.paging.PageSize || len(bars) >= total {
				break
			}
			if page == s.paging.MaxPages {
				s.logger.Warn().
					Str("symbol", params.Symbol).
					Int("max_pages", s.paging.MaxPages).
					Int("total", total).
					Msg("page limit reached, series truncated")
			}
		}
	}
	if len(bars) == 0 {
		return nil, s.noData(params.Symbol)
	}

	series := normalize.Series(params.Symbol, s.cfg.Name, bars, s.now())
	return normalize.FilterRange(series, start, end), nil
}

func (s *SSI) fetchPage(ctx context.Context, symbol string, start, end time.Time, page int) ([]normalize.Bar, int, error) {
	const op = "historical"

	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("page", strconv.Itoa(page))
	q.Set("pageSize", strconv.Itoa(s.paging.PageSize))
	q.Set("fromDate", normalize.FormatQueryDate(start))
	q.Set("toDate", normalize.FormatQueryDate(end))

	payload, err := s.do(ctx, request{op: op, url: s.cfg.BaseURL + ssiStockInfoPath + "?" + q.Encode()})
	if err != nil {
		return nil, 0, err
	}
	if !gjson.ValidBytes(payload) {
		return nil, 0, s.upstream(op, 0, errors.New("response is not valid JSON"))
	}

	doc := gjson.ParseBytes(payload)
	if code := doc.Get("code").String(); !strings.EqualFold(code, "SUCCESS") {
		msg := doc.Get("message").String()
		if msg == "" {
			msg = fmt.Sprintf("code %q", code)
		}
		return nil, 0, s.upstream(op, 0, errors.New(msg))
	}

	rows := doc.Get("data").Array()
	bars := make([]normalize.Bar, 0, len(rows))
	for _, row := range rows {
		bar, err := ssiBar(row)
		if err != nil {
			return nil, 0, s.upstream(op, 0, err)
		}
		bars = append(bars, bar)
	}

	total := len(rows)
	if t := doc.Get("paging.total"); t.Exists() {
		total = int(t.Int())
	}
	return bars, total, nil
}

func ssiBar(row gjson.Result) (normalize.Bar, error) {
	day, err := parseSSIDate(row.Get("tradingDate").String())
	if err != nil {
		return normalize.Bar{}, err
	}

	var bar normalize.Bar
	bar.Time = day
	fields := []struct {
		key string
		dst *decimal.Decimal
	}{
		{"openPrice", &bar.Open},
		{"highestPrice", &bar.High},
		{"lowestPrice", &bar.Low},
		{"closePrice", &bar.Close},
	}
	for _, f := range fields {
		v, err := gjsonDecimal(row.Get(f.key))
		if err != nil {
			return normalize.Bar{}, fmt.Errorf("%s: %w", f.key, err)
		}
		*f.dst = v
	}

	if adj := row.Get("closePriceAdjusted"); adj.Exists() && adj.Type != gjson.Null {
		v, err := gjsonDecimal(adj)
		if err != nil {
			return normalize.Bar{}, fmt.Errorf("closePriceAdjusted: %w", err)
		}
		bar.Adjusted = decimal.NewNullDecimal(v)
	}

	vol, err := gjsonDecimal(row.Get("totalMatchVol"))
	if err != nil {
		return normalize.Bar{}, fmt.Errorf("totalMatchVol: %w", err)
	}
	bar.Volume = vol.IntPart()

	if dv := row.Get("totalDealVol"); dv.Exists() && dv.Type != gjson.Null {
		v, err := gjsonDecimal(dv)
		if err != nil {
			return normalize.Bar{}, fmt.Errorf("totalDealVol: %w", err)
		}
		n := v.IntPart()
		bar.NegotiatedVolume = &n
	}
	if dv := row.Get("totalDealVal"); dv.Exists() && dv.Type != gjson.Null {
		v, err := gjsonDecimal(dv)
		if err != nil {
			return normalize.Bar{}, fmt.Errorf("totalDealVal: %w", err)
		}
		bar.NegotiatedValue = &v
	}
	return bar, nil
}

// gjsonDecimal accepts numbers and numeric strings; missing values are zero.
func gjsonDecimal(v gjson.Result) (decimal.Decimal, error) {
	switch v.Type {
	case gjson.Null:
		return decimal.Zero, nil
	case gjson.Number:
		return decimal.NewFromString(v.Raw)
	case gjson.String:
		text := strings.ReplaceAll(strings.TrimSpace(v.Str), ",", "")
		if text == "" {
			return decimal.Zero, nil
		}
		return decimal.NewFromString(text)
	default:
		return decimal.Zero, fmt.Errorf("unexpected value %s", v.Raw)
	}
}

func parseSSIDate(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, errors.New("tradingDate missing")
	}
	if t, err := normalize.ParseDisplayDate(v); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation(marketdata.DateLayout, v, marketdata.MarketLocation); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.In(marketdata.MarketLocation), nil
	}
	return time.Time{}, fmt.Errorf("unrecognised tradingDate %q", v)
}

// FetchCurrentData implements Adapter.
func (s *SSI) FetchCurrentData(ctx context.Context, symbol string, res marketdata.Resolution) (marketdata.StandardStockData, error) {
	item, err := s.currentFromHistory(ctx, s.fetchHistory, symbol, res)
	return item, s.fail(err)
}

// FetchMultipleCurrentData implements Adapter.
func (s *SSI) FetchMultipleCurrentData(ctx context.Context, symbols []string, res marketdata.Resolution) ([]marketdata.StandardStockData, error) {
	out, err := s.fetchEach(ctx, symbols, res, s.FetchCurrentData)
	return out, s.fail(err)
}

// HealthCheck implements Adapter.
func (s *SSI) HealthCheck(ctx context.Context) bool {
	return s.healthCheck(ctx, s.FetchHistoricalData, "")
}
