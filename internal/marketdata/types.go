package marketdata

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ProviderName identifies one upstream market-data vendor.
type ProviderName string

const (
	ProviderVNDirect ProviderName = "VNDIRECT"
	ProviderSSI      ProviderName = "SSI"
	ProviderVNGold   ProviderName = "VNGOLD"
	ProviderTCBS     ProviderName = "TCBS"
	ProviderVietcap  ProviderName = "VIETCAP"
)

// Resolution is the sampling granularity of a price series.
type Resolution string

const (
	ResolutionDaily   Resolution = "1D"
	ResolutionWeekly  Resolution = "1W"
	ResolutionMonthly Resolution = "1M"
)

// DateLayout is the ISO calendar date used by HistoricalDataParams.
const DateLayout = "2006-01-02"

// MarketLocation is the exchange-local zone every trading day is anchored to.
var MarketLocation = time.FixedZone("ICT", 7*60*60)

// ParseResolution accepts the canonical forms plus single-letter aliases.
func ParseResolution(v string) (Resolution, error) {
	switch strings.ToUpper(strings.TrimSpace(v)) {
	case "", "1D", "D":
		return ResolutionDaily, nil
	case "1W", "W":
		return ResolutionWeekly, nil
	case "1M", "M":
		return ResolutionMonthly, nil
	default:
		return "", fmt.Errorf("unknown resolution %q", v)
	}
}

// PriceChange is the day-over-day delta against the previous close.
type PriceChange struct {
	Value      decimal.Decimal `json:"value"`
	Percentage decimal.Decimal `json:"percentage"`
}

// StandardStockData is the canonical record produced by every provider.
type StandardStockData struct {
	Symbol           string           `json:"symbol"`
	Date             string           `json:"date"`
	DateTime         time.Time        `json:"dateTime"`
	OpenPrice        decimal.Decimal  `json:"openPrice"`
	ClosePrice       decimal.Decimal  `json:"closePrice"`
	HighestPrice     decimal.Decimal  `json:"highestPrice"`
	LowestPrice      decimal.Decimal  `json:"lowestPrice"`
	AdjustedPrice    decimal.Decimal  `json:"adjustedPrice"`
	Volume           int64            `json:"volume"`
	NegotiatedVolume *int64           `json:"negotiatedVolume,omitempty"`
	NegotiatedValue  *decimal.Decimal `json:"negotiatedValue,omitempty"`
	PriceChange      PriceChange      `json:"priceChange"`
	Source           ProviderName     `json:"source"`
	FetchedAt        time.Time        `json:"fetchedAt"`
}

// HistoricalDataParams describes one historical series request.
type HistoricalDataParams struct {
	Symbol     string     `json:"symbol"`
	StartDate  string     `json:"startDate"`
	EndDate    string     `json:"endDate"`
	Resolution Resolution `json:"resolution"`
	Page       int        `json:"page,omitempty"`
}

// Validate checks the symbol, the date range and the resolution.
func (p HistoricalDataParams) Validate() error {
	if strings.TrimSpace(p.Symbol) == "" {
		return fmt.Errorf("symbol is required")
	}
	if _, err := ParseResolution(string(p.Resolution)); err != nil {
		return err
	}
	if p.Page < 0 {
		return fmt.Errorf("page cannot be negative")
	}
	_, _, err := p.Range()
	return err
}

// Range returns the inclusive start and end days at midnight market time.
func (p HistoricalDataParams) Range() (time.Time, time.Time, error) {
	start, err := time.ParseInLocation(DateLayout, p.StartDate, MarketLocation)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid start date %q: %w", p.StartDate, err)
	}
	end, err := time.ParseInLocation(DateLayout, p.EndDate, MarketLocation)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid end date %q: %w", p.EndDate, err)
	}
	if start.After(end) {
		return time.Time{}, time.Time{}, fmt.Errorf("start date %s is after end date %s", p.StartDate, p.EndDate)
	}
	return start, end, nil
}

// RateLimitConfig is the per-provider request budget. Only
// RequestsPerMinute is enforced; BurstLimit is advertised but informational.
type RateLimitConfig struct {
	RequestsPerMinute int `mapstructure:"requests_per_minute" json:"requestsPerMinute"`
	BurstLimit        int `mapstructure:"burst_limit" json:"burstLimit"`
}

// ProviderConfig carries the routing and throttling settings of one adapter.
type ProviderConfig struct {
	Name         ProviderName
	DisplayName  string
	BaseURL      string
	Enabled      bool
	Priority     int
	RateLimit    RateLimitConfig
	HealthSymbol string
	Timeout      time.Duration
}

// SourceInfo is the listing shape returned to UI collaborators.
type SourceInfo struct {
	Name        ProviderName `json:"name"`
	DisplayName string       `json:"displayName"`
	Enabled     bool         `json:"enabled"`
	Priority    int          `json:"priority"`
}

// DayRange returns the historical params covering the given number of days
// that end on the calendar day of now.
func DayRange(symbol string, res Resolution, now time.Time, days int) HistoricalDataParams {
	end := now.In(MarketLocation)
	start := end.AddDate(0, 0, -days)
	return HistoricalDataParams{
		Symbol:     symbol,
		StartDate:  start.Format(DateLayout),
		EndDate:    end.Format(DateLayout),
		Resolution: res,
	}
}
