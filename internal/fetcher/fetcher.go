package fetcher

import (
	"context"

	"stockdata/internal/marketdata"
)

// Adapter is the uniform contract every upstream provider implements.
type Adapter interface {
	Name() marketdata.ProviderName
	Enabled() bool
	Config() marketdata.ProviderConfig

	// FetchHistoricalData returns the series for params sorted by date.
	FetchHistoricalData(ctx context.Context, params marketdata.HistoricalDataParams) ([]marketdata.StandardStockData, error)
	// FetchCurrentData returns the most recent point of a short lookback window.
	FetchCurrentData(ctx context.Context, symbol string, res marketdata.Resolution) (marketdata.StandardStockData, error)
	// FetchMultipleCurrentData is best-effort: failed symbols are logged and omitted.
	FetchMultipleCurrentData(ctx context.Context, symbols []string, res marketdata.Resolution) ([]marketdata.StandardStockData, error)

	HealthCheck(ctx context.Context) bool
	// LastError is the most recent failure. Success never clears it.
	LastError() error
}

// lookbackDays is the window a current-data request pulls per resolution.
func lookbackDays(res marketdata.Resolution) int {
	switch res {
	case marketdata.ResolutionWeekly:
		return 35
	case marketdata.ResolutionMonthly:
		return 120
	default:
		return 7
	}
}

const healthWindowDays = 7
