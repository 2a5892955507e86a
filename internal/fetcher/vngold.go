package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"stockdata/internal/marketdata"
	"stockdata/internal/normalize"
	"stockdata/internal/ratelimit"
)

const (
	vngoldDefaultBaseURL = "https://sjc.com.vn/GoldPrice/Services/PriceService.ashx"
	vngoldSymbol         = "VNGOLD"
	vngoldDefaultPriceID = "1"
	vngoldDefaultSpan    = 90
)

var thousand = decimal.NewFromInt(1000)

// GoldOptions tune range chunking and the SJC product id.
type GoldOptions struct {
	// MaxSpanDays is the widest inclusive range one request may cover.
	// Zero disables chunking.
	MaxSpanDays int
	ChunkDelay  time.Duration
	PriceID     string
}

// VNGold reads the SJC gold price history service. It only knows the
// VNGOLD symbol at daily resolution.
type VNGold struct {
	*base
	opts GoldOptions
}

// NewVNGold constructs the VNGOLD adapter.
func NewVNGold(cfg marketdata.ProviderConfig, gold GoldOptions, opts Options, logger zerolog.Logger) *VNGold {
	cfg.Name = marketdata.ProviderVNGold
	if cfg.HealthSymbol == "" {
		cfg.HealthSymbol = vngoldSymbol
	}
	if gold.MaxSpanDays < 0 {
		gold.MaxSpanDays = vngoldDefaultSpan
	}
	if gold.PriceID == "" {
		gold.PriceID = vngoldDefaultPriceID
	}
	return &VNGold{base: newBase(cfg, vngoldDefaultBaseURL, opts, logger), opts: gold}
}

type sjcHistory struct {
	Success bool `json:"success"`
	Data    []struct {
		ID         int64           `json:"Id"`
		TypeName   string          `json:"TypeName"`
		BranchName string          `json:"BranchName"`
		BuyValue   decimal.Decimal `json:"BuyValue"`
		SellValue  decimal.Decimal `json:"SellValue"`
		GroupDate  string          `json:"GroupDate"`
	} `json:"data"`
}

// FetchHistoricalData implements Adapter.
func (g *VNGold) FetchHistoricalData(ctx context.Context, params marketdata.HistoricalDataParams) ([]marketdata.StandardStockData, error) {
	series, err := g.fetchHistory(ctx, params)
	return series, g.fail(err)
}

func (g *VNGold) fetchHistory(ctx context.Context, params marketdata.HistoricalDataParams) ([]marketdata.StandardStockData, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if err := g.supports("historical", params.Symbol, params.Resolution); err != nil {
		return nil, err
	}
	start, end, _ := params.Range()

	chunks := splitRange(start, end, g.opts.MaxSpanDays)
	parts := make([][]marketdata.StandardStockData, 0, len(chunks))
	for i, chunk := range chunks {
		if i > 0 && g.opts.ChunkDelay > 0 {
			if err := ratelimit.SleepContext(ctx, g.opts.ChunkDelay); err != nil {
				return nil, err
			}
		}
		part, err := g.fetchChunk(ctx, chunk[0], chunk[1])
		if err != nil {
			return nil, err
		}
		parts = append(parts, part)
	}

	merged := normalize.MergeByDate(parts...)
	if len(merged) == 0 {
		return nil, g.noData(params.Symbol)
	}
	if len(chunks) > 1 {
		g.logger.Debug().Int("chunks", len(chunks)).Int("points", len(merged)).Msg("chunked history merged")
	}
	return merged, nil
}

func (g *VNGold) fetchChunk(ctx context.Context, start, end time.Time) ([]marketdata.StandardStockData, error) {
	const op = "historical"

	form := url.Values{}
	form.Set("method", "GetGoldPriceHistory")
	form.Set("fromDate", normalize.FormatQueryDate(start))
	form.Set("toDate", normalize.FormatQueryDate(end))
	form.Set("goldPriceId", g.opts.PriceID)

	payload, err := g.do(ctx, request{
		op:          op,
		method:      "POST",
		url:         g.cfg.BaseURL,
		body:        form.Encode(),
		contentType: "application/x-www-form-urlencoded",
		headers:     map[string]string{"Accept-Language": "vi"},
	})
	if err != nil {
		return nil, err
	}

	var body sjcHistory
	if err := g.decodeJSON(op, payload, &body); err != nil {
		return nil, err
	}
	if !body.Success {
		return nil, g.upstream(op, 0, errors.New("provider reported an unsuccessful response"))
	}

	bars := make([]normalize.Bar, 0, len(body.Data))
	for _, item := range body.Data {
		day, err := normalize.ParseDotNetDate(item.GroupDate)
		if err != nil {
			g.logger.Warn().Err(err).Str("op", op).Int64("item", item.ID).Str("group_date", item.GroupDate).Msg("skipping gold price with bad date")
			continue
		}
		buy := item.BuyValue.Div(thousand)
		sell := item.SellValue.Div(thousand)
		bars = append(bars, normalize.Bar{
			Time:     day,
			Open:     buy,
			Close:    buy,
			High:     decimal.Max(buy, sell),
			Low:      decimal.Min(buy, sell),
			Adjusted: decimal.NewNullDecimal(buy.Add(sell).Div(decimal.NewFromInt(2))),
		})
	}
	return normalize.Series(vngoldSymbol, g.cfg.Name, bars, g.now()), nil
}

func (g *VNGold) supports(op, symbol string, res marketdata.Resolution) error {
	if symbol != vngoldSymbol {
		return g.unsupported(op, fmt.Sprintf("only the %s symbol is served, got %q", vngoldSymbol, symbol))
	}
	if parsed, _ := marketdata.ParseResolution(string(res)); parsed != marketdata.ResolutionDaily {
		return g.unsupported(op, "only daily resolution is published")
	}
	return nil
}

// FetchCurrentData implements Adapter.
func (g *VNGold) FetchCurrentData(ctx context.Context, symbol string, res marketdata.Resolution) (marketdata.StandardStockData, error) {
	if err := g.supports("current", symbol, res); err != nil {
		return marketdata.StandardStockData{}, g.fail(err)
	}
	item, err := g.currentFromHistory(ctx, g.fetchHistory, symbol, res)
	return item, g.fail(err)
}

// FetchMultipleCurrentData implements Adapter. Every requested VNGOLD entry
// shares one upstream call; other symbols are dropped.
func (g *VNGold) FetchMultipleCurrentData(ctx context.Context, symbols []string, res marketdata.Resolution) ([]marketdata.StandardStockData, error) {
	wanted := 0
	for _, symbol := range symbols {
		if symbol == vngoldSymbol {
			wanted++
		} else {
			g.logger.Warn().Str("op", "batch").Str("symbol", symbol).Msg("symbol dropped from batch: not served")
		}
	}
	if wanted == 0 {
		return []marketdata.StandardStockData{}, nil
	}

	item, err := g.FetchCurrentData(ctx, vngoldSymbol, res)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, g.fail(ctxErr)
		}
		g.logger.Warn().Err(err).Str("op", "batch").Str("symbol", vngoldSymbol).Msg("symbol dropped from batch")
		return []marketdata.StandardStockData{}, nil
	}
	out := make([]marketdata.StandardStockData, wanted)
	for i := range out {
		out[i] = item
	}
	return out, nil
}

// HealthCheck implements Adapter.
func (g *VNGold) HealthCheck(ctx context.Context) bool {
	return g.healthCheck(ctx, g.FetchHistoricalData, vngoldSymbol)
}

// splitRange cuts [start, end] into consecutive inclusive day ranges of at
// most span days. span <= 0 returns the range whole.
func splitRange(start, end time.Time, span int) [][2]time.Time {
	if span <= 0 {
		return [][2]time.Time{{start, end}}
	}
	var out [][2]time.Time
	for cur := start; !cur.After(end); {
		last := cur.AddDate(0, 0, span-1)
		if last.After(end) {
			last = end
		}
		out = append(out, [2]time.Time{cur, last})
		cur = last.AddDate(0, 0, 1)
	}
	return out
}
