package normalize

import (
	"time"

	"github.com/shopspring/decimal"

	"stockdata/internal/marketdata"
)

// LegacyRecord is the flat row shape chart and table callers consume.
type LegacyRecord struct {
	Date             string                 `json:"date"`
	DateObj          time.Time              `json:"dateObj"`
	AdjustedPrice    decimal.Decimal        `json:"adjustedPrice"`
	ClosePrice       decimal.Decimal        `json:"closePrice"`
	PriceChange      marketdata.PriceChange `json:"priceChange"`
	Volume           int64                  `json:"volume"`
	NegotiatedVolume int64                  `json:"negotiatedVolume"`
	NegotiatedValue  decimal.Decimal        `json:"negotiatedValue"`
	OpenPrice        decimal.Decimal        `json:"openPrice"`
	HighestPrice     decimal.Decimal        `json:"highestPrice"`
	LowestPrice      decimal.Decimal        `json:"lowestPrice"`
}

// ToLegacy converts a series into legacy rows.
func ToLegacy(series []marketdata.StandardStockData) []LegacyRecord {
	out := make([]LegacyRecord, 0, len(series))
	for _, item := range series {
		out = append(out, ToLegacySingle(item))
	}
	return out
}

// ToLegacySingle converts one record; missing negotiated fields become zero.
func ToLegacySingle(item marketdata.StandardStockData) LegacyRecord {
	rec := LegacyRecord{
		Date:            item.Date,
		DateObj:         item.DateTime,
		AdjustedPrice:   item.AdjustedPrice,
		ClosePrice:      item.ClosePrice,
		PriceChange:     item.PriceChange,
		Volume:          item.Volume,
		NegotiatedValue: decimal.Zero,
		OpenPrice:       item.OpenPrice,
		HighestPrice:    item.HighestPrice,
		LowestPrice:     item.LowestPrice,
	}
	if item.NegotiatedVolume != nil {
		rec.NegotiatedVolume = *item.NegotiatedVolume
	}
	if item.NegotiatedValue != nil {
		rec.NegotiatedValue = *item.NegotiatedValue
	}
	return rec
}
