package normalize

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"stockdata/internal/marketdata"
)

func dec(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, marketdata.MarketLocation)
}

func TestSeriesSortsAndComputesPriceChange(t *testing.T) {
	fetched := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)
	bars := []Bar{
		{Time: day(2025, 1, 3), Open: dec("11"), High: dec("12"), Low: dec("10"), Close: dec("11"), Volume: 300},
		{Time: day(2025, 1, 2), Open: dec("10"), High: dec("10.5"), Low: dec("9.5"), Close: dec("10"), Volume: 200},
		{Time: day(2025, 1, 6), Open: dec("11"), High: dec("11"), Low: dec("9"), Close: dec("9.9"), Volume: 100},
	}

	out := Series("VNM", marketdata.ProviderVNDirect, bars, fetched)
	require.Len(t, out, 3)

	require.Equal(t, "02/01/2025", out[0].Date)
	require.Equal(t, "03/01/2025", out[1].Date)
	require.Equal(t, "06/01/2025", out[2].Date)

	require.True(t, out[0].PriceChange.Value.IsZero())
	require.True(t, out[0].PriceChange.Percentage.IsZero())
	require.True(t, out[1].PriceChange.Value.Equal(dec("1")))
	require.True(t, out[1].PriceChange.Percentage.Equal(dec("10")))
	require.True(t, out[2].PriceChange.Value.Equal(dec("-1.1")))
	require.True(t, out[2].PriceChange.Percentage.Equal(dec("-10")))

	for _, item := range out {
		require.Equal(t, "VNM", item.Symbol)
		require.Equal(t, marketdata.ProviderVNDirect, item.Source)
		require.Equal(t, fetched, item.FetchedAt)
		require.True(t, item.AdjustedPrice.Equal(item.ClosePrice), "adjusted defaults to close")
	}
}

func TestRecomputePriceChangeZeroPreviousClose(t *testing.T) {
	in := Series("X", marketdata.ProviderSSI, []Bar{
		{Time: day(2025, 2, 3), Close: decimal.Zero},
		{Time: day(2025, 2, 4), Close: dec("5")},
	}, time.Now())

	out := RecomputePriceChange(in)
	require.True(t, out[1].PriceChange.Value.Equal(dec("5")))
	require.True(t, out[1].PriceChange.Percentage.IsZero())
}

func TestRecomputePriceChangeDoesNotMutateInput(t *testing.T) {
	in := []marketdata.StandardStockData{
		{DateTime: day(2025, 1, 2), ClosePrice: dec("10")},
		{DateTime: day(2025, 1, 3), ClosePrice: dec("12"), PriceChange: marketdata.PriceChange{Value: dec("99"), Percentage: dec("99")}},
	}

	out := RecomputePriceChange(in)
	require.True(t, out[1].PriceChange.Value.Equal(dec("2")))
	require.True(t, in[1].PriceChange.Value.Equal(dec("99")), "input must stay untouched")
}

func TestMergeByDateLastWriteWinsAndRecomputes(t *testing.T) {
	first := Series("VNGOLD", marketdata.ProviderVNGold, []Bar{
		{Time: day(2025, 3, 1), Close: dec("100")},
		{Time: day(2025, 3, 2), Close: dec("110")},
	}, time.Now())
	second := Series("VNGOLD", marketdata.ProviderVNGold, []Bar{
		{Time: day(2025, 3, 2).Add(3 * time.Hour), Close: dec("120")},
		{Time: day(2025, 3, 3), Close: dec("90")},
	}, time.Now())

	merged := MergeByDate(first, second)
	require.Len(t, merged, 3)
	require.True(t, merged[1].ClosePrice.Equal(dec("120")), "later chunk wins for the shared day")
	require.True(t, merged[1].PriceChange.Value.Equal(dec("20")))
	require.True(t, merged[2].PriceChange.Value.Equal(dec("-30")))
	require.True(t, merged[2].PriceChange.Percentage.Equal(dec("-25")))
}

func TestFromParallelArraysRejectsMismatchedLengths(t *testing.T) {
	_, err := FromParallelArrays([]int64{1, 2}, []decimal.Decimal{dec("1")}, nil, nil, nil, nil)
	require.Error(t, err)

	bars, err := FromParallelArrays(
		[]int64{1735776000},
		[]decimal.Decimal{dec("1")},
		[]decimal.Decimal{dec("2")},
		[]decimal.Decimal{dec("0.5")},
		[]decimal.Decimal{dec("1.5")},
		[]decimal.Decimal{dec("1200")},
	)
	require.NoError(t, err)
	require.Len(t, bars, 1)
	require.Equal(t, int64(1200), bars[0].Volume)
}

func TestParseDotNetDate(t *testing.T) {
	got, err := ParseDotNetDate("/Date(1753981200000)/")
	require.NoError(t, err)
	require.Equal(t, "01/08/2025", FormatDisplayDate(got))

	_, err = ParseDotNetDate("2025-08-01")
	require.Error(t, err)
}

func TestFilterRangeInclusive(t *testing.T) {
	series := Series("A", marketdata.ProviderTCBS, []Bar{
		{Time: day(2025, 1, 1), Close: dec("1")},
		{Time: day(2025, 1, 2).Add(15 * time.Hour), Close: dec("2")},
		{Time: day(2025, 1, 3), Close: dec("3")},
		{Time: day(2025, 1, 4), Close: dec("4")},
	}, time.Now())

	out := FilterRange(series, day(2025, 1, 2), day(2025, 1, 3))
	require.Len(t, out, 2)
	require.Equal(t, "02/01/2025", out[0].Date)
	require.Equal(t, "03/01/2025", out[1].Date)
}

func TestToLegacyDefaultsNegotiatedFields(t *testing.T) {
	vol := int64(42)
	val := dec("1000.5")
	series := []marketdata.StandardStockData{
		{Date: "02/01/2025", ClosePrice: dec("10"), Volume: 5},
		{Date: "03/01/2025", ClosePrice: dec("11"), NegotiatedVolume: &vol, NegotiatedValue: &val},
	}

	legacy := ToLegacy(series)
	require.Len(t, legacy, 2)
	require.Equal(t, int64(0), legacy[0].NegotiatedVolume)
	require.True(t, legacy[0].NegotiatedValue.IsZero())
	require.Equal(t, int64(42), legacy[1].NegotiatedVolume)
	require.True(t, legacy[1].NegotiatedValue.Equal(val))
	require.Equal(t, "03/01/2025", legacy[1].Date)
}
