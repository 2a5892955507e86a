package cli

import (
	"fmt"
	"strings"
	"time"

	"stockdata/internal/marketdata"
)

const defaultLookbackDays = 30

// dayRange parses --from/--to as market-local calendar days. A missing --to
// means today and a missing --from means lookback days before --to.
func dayRange(from, to string, lookback int, now time.Time) (time.Time, time.Time, error) {
	end := now.In(marketdata.MarketLocation)
	end = time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, marketdata.MarketLocation)
	if to != "" {
		parsed, err := time.ParseInLocation(marketdata.DateLayout, to, marketdata.MarketLocation)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --to value: %w", err)
		}
		end = parsed
	}

	start := end.AddDate(0, 0, -lookback)
	if from != "" {
		parsed, err := time.ParseInLocation(marketdata.DateLayout, from, marketdata.MarketLocation)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --from value: %w", err)
		}
		start = parsed
	}

	if start.After(end) {
		return time.Time{}, time.Time{}, fmt.Errorf("--from must not be after --to")
	}
	return start, end, nil
}

func parseResolution(v string) (marketdata.Resolution, error) {
	res, err := marketdata.ParseResolution(v)
	if err != nil {
		return "", fmt.Errorf("invalid --resolution: %w", err)
	}
	return res, nil
}

func sourceFlag(v string) marketdata.ProviderName {
	return marketdata.ProviderName(strings.ToUpper(strings.TrimSpace(v)))
}

func splitSymbols(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
