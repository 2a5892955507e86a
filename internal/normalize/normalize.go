package normalize

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"stockdata/internal/marketdata"
)

const (
	displayLayout = "02/01/2006"
	percentPlaces = 2
)

var (
	hundred        = decimal.NewFromInt(100)
	dotNetDateExpr = regexp.MustCompile(`^/Date\((-?\d+)([+-]\d{4})?\)/$`)
)

// Bar is a provider-neutral OHLCV row. Adapters decode their native payloads
// into bars and hand them to Series; nothing provider-specific passes further.
type Bar struct {
	Time             time.Time
	Open             decimal.Decimal
	High             decimal.Decimal
	Low              decimal.Decimal
	Close            decimal.Decimal
	Adjusted         decimal.NullDecimal
	Volume           int64
	NegotiatedVolume *int64
	NegotiatedValue  *decimal.Decimal
}

// Series converts bars into a sorted series with display dates and
// recomputed price changes.
func Series(symbol string, source marketdata.ProviderName, bars []Bar, fetchedAt time.Time) []marketdata.StandardStockData {
	out := make([]marketdata.StandardStockData, 0, len(bars))
	for _, bar := range bars {
		day := bar.Time.In(marketdata.MarketLocation)
		adjusted := bar.Close
		if bar.Adjusted.Valid {
			adjusted = bar.Adjusted.Decimal
		}
		out = append(out, marketdata.StandardStockData{
			Symbol:           symbol,
			Date:             FormatDisplayDate(day),
			DateTime:         day,
			OpenPrice:        bar.Open,
			ClosePrice:       bar.Close,
			HighestPrice:     bar.High,
			LowestPrice:      bar.Low,
			AdjustedPrice:    adjusted,
			Volume:           bar.Volume,
			NegotiatedVolume: bar.NegotiatedVolume,
			NegotiatedValue:  bar.NegotiatedValue,
			Source:           source,
			FetchedAt:        fetchedAt,
		})
	}
	sortByTime(out)
	return withPriceChange(out)
}

// FromParallelArrays zips the array-of-parallel-arrays OHLCV layout into bars.
// Timestamps are Unix seconds. Every array must have the same length.
func FromParallelArrays(ts []int64, opens, highs, lows, closes, volumes []decimal.Decimal) ([]Bar, error) {
	n := len(ts)
	if len(opens) != n || len(highs) != n || len(lows) != n || len(closes) != n {
		return nil, fmt.Errorf("ohlc arrays have mismatched lengths: t=%d o=%d h=%d l=%d c=%d", n, len(opens), len(highs), len(lows), len(closes))
	}
	if volumes != nil && len(volumes) != n {
		return nil, fmt.Errorf("volume array has %d entries, want %d", len(volumes), n)
	}
	bars := make([]Bar, 0, n)
	for i := 0; i < n; i++ {
		bar := Bar{
			Time:  time.Unix(ts[i], 0),
			Open:  opens[i],
			High:  highs[i],
			Low:   lows[i],
			Close: closes[i],
		}
		if volumes != nil {
			bar.Volume = volumes[i].IntPart()
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

// RecomputePriceChange returns a copy of series with every price change
// derived from the previous close. The input is left untouched.
func RecomputePriceChange(series []marketdata.StandardStockData) []marketdata.StandardStockData {
	out := make([]marketdata.StandardStockData, len(series))
	copy(out, series)
	return withPriceChange(out)
}

// MergeByDate de-duplicates the given series on calendar date (later series
// and later entries win), sorts the result and recomputes price changes,
// since deltas computed per chunk are wrong at chunk boundaries.
func MergeByDate(series ...[]marketdata.StandardStockData) []marketdata.StandardStockData {
	byDate := make(map[string]marketdata.StandardStockData)
	for _, s := range series {
		for _, item := range s {
			byDate[item.DateTime.In(marketdata.MarketLocation).Format(marketdata.DateLayout)] = item
		}
	}
	out := make([]marketdata.StandardStockData, 0, len(byDate))
	for _, item := range byDate {
		out = append(out, item)
	}
	sortByTime(out)
	return withPriceChange(out)
}

// FilterRange keeps the points whose calendar day lies within [start, end].
func FilterRange(series []marketdata.StandardStockData, start, end time.Time) []marketdata.StandardStockData {
	from := dayStart(start)
	until := dayStart(end).AddDate(0, 0, 1)
	out := make([]marketdata.StandardStockData, 0, len(series))
	for _, item := range series {
		day := item.DateTime.In(marketdata.MarketLocation)
		if day.Before(from) || !day.Before(until) {
			continue
		}
		out = append(out, item)
	}
	return out
}

// Latest returns the most recent point of a sorted series.
func Latest(series []marketdata.StandardStockData) (marketdata.StandardStockData, bool) {
	if len(series) == 0 {
		return marketdata.StandardStockData{}, false
	}
	return series[len(series)-1], true
}

// ParseDotNetDate parses the "/Date(1753981200000)/" timestamp form.
func ParseDotNetDate(v string) (time.Time, error) {
	m := dotNetDateExpr.FindStringSubmatch(v)
	if m == nil {
		return time.Time{}, fmt.Errorf("invalid /Date()/ value %q", v)
	}
	ms, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse /Date()/ millis: %w", err)
	}
	return time.UnixMilli(ms).In(marketdata.MarketLocation), nil
}

// ParseDisplayDate parses DD/MM/YYYY in market time.
func ParseDisplayDate(v string) (time.Time, error) {
	t, err := time.ParseInLocation(displayLayout, v, marketdata.MarketLocation)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", v, err)
	}
	return t, nil
}

// FormatDisplayDate renders DD/MM/YYYY in market time.
func FormatDisplayDate(t time.Time) string {
	return t.In(marketdata.MarketLocation).Format(displayLayout)
}

// FormatQueryDate renders the DD/MM/YYYY form several upstreams expect in queries.
func FormatQueryDate(t time.Time) string {
	return FormatDisplayDate(t)
}

func withPriceChange(series []marketdata.StandardStockData) []marketdata.StandardStockData {
	for i := range series {
		if i == 0 {
			series[i].PriceChange = marketdata.PriceChange{Value: decimal.Zero, Percentage: decimal.Zero}
			continue
		}
		prev := series[i-1].ClosePrice
		value := series[i].ClosePrice.Sub(prev)
		pct := decimal.Zero
		if !prev.IsZero() {
			pct = value.Div(prev).Mul(hundred).Round(percentPlaces)
		}
		series[i].PriceChange = marketdata.PriceChange{Value: value, Percentage: pct}
	}
	return series
}

func sortByTime(series []marketdata.StandardStockData) {
	sort.SliceStable(series, func(i, j int) bool {
		return series[i].DateTime.Before(series[j].DateTime)
	})
}

func dayStart(t time.Time) time.Time {
	local := t.In(marketdata.MarketLocation)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, marketdata.MarketLocation)
}
