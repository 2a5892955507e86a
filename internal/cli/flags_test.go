package cli

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"stockdata/internal/marketdata"
)

func TestDayRangeDefaults(t *testing.T) {
	// 23:30 UTC is already the next day in Vietnam.
	now := time.Date(2024, 3, 14, 23, 30, 0, 0, time.UTC)

	from, to, err := dayRange("", "", 30, now)
	require.NoError(t, err)
	require.Equal(t, "2024-03-15", to.Format(marketdata.DateLayout))
	require.Equal(t, "2024-02-14", from.Format(marketdata.DateLayout))
	require.Equal(t, marketdata.MarketLocation, to.Location())
}

func TestDayRangeExplicit(t *testing.T) {
	from, to, err := dayRange("2024-01-02", "2024-01-31", 30, time.Now())
	require.NoError(t, err)
	require.Equal(t, "2024-01-02", from.Format(marketdata.DateLayout))
	require.Equal(t, "2024-01-31", to.Format(marketdata.DateLayout))

	_, _, err = dayRange("2024-02-01", "2024-01-31", 30, time.Now())
	require.ErrorContains(t, err, "--from")

	_, _, err = dayRange("01/02/2024", "", 30, time.Now())
	require.ErrorContains(t, err, "invalid --from")
}

func TestSplitSymbols(t *testing.T) {
	require.Equal(t, []string{"VNM", "fpt", "HPG"}, splitSymbols([]string{"VNM, fpt", " ", "HPG,"}))
}

func TestParseResolution(t *testing.T) {
	res, err := parseResolution("w")
	require.NoError(t, err)
	require.Equal(t, marketdata.ResolutionWeekly, res)

	_, err = parseResolution("5m")
	require.Error(t, err)
}
