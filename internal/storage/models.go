package storage

import (
	"time"

	"github.com/shopspring/decimal"

	"stockdata/internal/marketdata"
	"stockdata/internal/normalize"
)

// PriceBar is one archived trading-day point, keyed by symbol, resolution
// and trade date.
type PriceBar struct {
	Symbol           string
	Resolution       marketdata.Resolution
	TradeDate        time.Time
	Source           marketdata.ProviderName
	Open             decimal.Decimal
	High             decimal.Decimal
	Low              decimal.Decimal
	Close            decimal.Decimal
	Adjusted         decimal.Decimal
	Volume           int64
	NegotiatedVolume *int64
	NegotiatedValue  *decimal.Decimal
	ChangeValue      decimal.Decimal
	ChangePct        decimal.Decimal
	FetchedAt        time.Time
	CreatedAt        time.Time
}

// BarFromRecord converts a normalized record into its archive row.
func BarFromRecord(rec marketdata.StandardStockData, res marketdata.Resolution) PriceBar {
	return PriceBar{
		Symbol:           rec.Symbol,
		Resolution:       res,
		TradeDate:        rec.DateTime,
		Source:           rec.Source,
		Open:             rec.OpenPrice,
		High:             rec.HighestPrice,
		Low:              rec.LowestPrice,
		Close:            rec.ClosePrice,
		Adjusted:         rec.AdjustedPrice,
		Volume:           rec.Volume,
		NegotiatedVolume: rec.NegotiatedVolume,
		NegotiatedValue:  rec.NegotiatedValue,
		ChangeValue:      rec.PriceChange.Value,
		ChangePct:        rec.PriceChange.Percentage,
		FetchedAt:        rec.FetchedAt,
	}
}

// Record converts an archive row back into the normalized shape.
func (b PriceBar) Record() marketdata.StandardStockData {
	day := b.TradeDate.In(marketdata.MarketLocation)
	return marketdata.StandardStockData{
		Symbol:           b.Symbol,
		Date:             normalize.FormatDisplayDate(day),
		DateTime:         day,
		OpenPrice:        b.Open,
		ClosePrice:       b.Close,
		HighestPrice:     b.High,
		LowestPrice:      b.Low,
		AdjustedPrice:    b.Adjusted,
		Volume:           b.Volume,
		NegotiatedVolume: b.NegotiatedVolume,
		NegotiatedValue:  b.NegotiatedValue,
		PriceChange:      marketdata.PriceChange{Value: b.ChangeValue, Percentage: b.ChangePct},
		Source:           b.Source,
		FetchedAt:        b.FetchedAt,
	}
}

// HealthEvent captures a provider health transition for auditing.
type HealthEvent struct {
	ID         int64
	Provider   marketdata.ProviderName
	Healthy    bool
	Error      *string
	Channels   []string
	ObservedAt time.Time
	CreatedAt  time.Time
}
