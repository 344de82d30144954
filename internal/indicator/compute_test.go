package indicator

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/coinwatch/internal/store"
)

func dec(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func findIndicator(rows []store.IndicatorRow, assetID, name string) (store.IndicatorRow, bool) {
	for _, r := range rows {
		if r.AssetID == assetID && r.IndicatorName == name {
			return r, true
		}
	}
	return store.IndicatorRow{}, false
}

// TestCompute_ScenarioFour mirrors the literal end-to-end scenario: btc has
// rows at offsets {0, 3, 6, 1440} minutes before t with prices
// [52000, 51000, 50000, 48000] and volumes [1200, 1000, 900, 800].
func TestCompute_ScenarioFour(t *testing.T) {
	t0 := int64(1_700_000_000_000)
	rows := []store.HistoryRow{
		{AssetID: "btc", AlignedTime: t0, Price: dec("52000"), TotalVolume: dec("1200")},
		{AssetID: "btc", AlignedTime: t0 - 3*60_000, Price: dec("51000"), TotalVolume: dec("1000")},
		{AssetID: "btc", AlignedTime: t0 - 6*60_000, Price: dec("50000"), TotalVolume: dec("900")},
		{AssetID: "btc", AlignedTime: t0 - 1440*60_000, Price: dec("48000"), TotalVolume: dec("800")},
	}

	out := Compute(t0, rows, t0+1000)

	priceChange3m, ok := findIndicator(out, "btc", "PRICE_CHANGE_3M")
	require.True(t, ok)
	assert.True(t, priceChange3m.Value.Sub(decimal.RequireFromString("0.019608")).Abs().LessThan(decimal.RequireFromString("0.0001")))

	priceChange6m, ok := findIndicator(out, "btc", "PRICE_CHANGE_6M")
	require.True(t, ok)
	assert.True(t, priceChange6m.Value.Equal(decimal.RequireFromString("0.04")))

	priceChange24h, ok := findIndicator(out, "btc", "PRICE_CHANGE_24H")
	require.True(t, ok)
	assert.True(t, priceChange24h.Value.Sub(decimal.RequireFromString("0.083333")).Abs().LessThan(decimal.RequireFromString("0.0001")))

	volumeChange3m, ok := findIndicator(out, "btc", "VOLUME_CHANGE_3M")
	require.True(t, ok)
	assert.True(t, volumeChange3m.Value.Equal(decimal.RequireFromString("0.2")))

	inflow, ok := findIndicator(out, "btc", "CAPITAL_INFLOW_INTENSITY_3M")
	require.True(t, ok)
	assert.True(t, inflow.Value.Sub(decimal.RequireFromString("23.5294")).Abs().LessThan(decimal.RequireFromString("0.01")))

	// Indicators needing offsets that weren't present (9, 12, 60, 180, 480)
	// must be omitted entirely, not written as null or zero.
	_, ok = findIndicator(out, "btc", "PRICE_CHANGE_12M")
	assert.False(t, ok)
	_, ok = findIndicator(out, "btc", "VOLUME_CHANGE_1H")
	assert.False(t, ok)
}

func TestCompute_ZeroDenominatorOmitsIndicator(t *testing.T) {
	t0 := int64(1_700_000_000_000)
	rows := []store.HistoryRow{
		{AssetID: "eth", AlignedTime: t0, Price: dec("100"), TotalVolume: dec("10")},
		{AssetID: "eth", AlignedTime: t0 - 3*60_000, Price: dec("0"), TotalVolume: dec("0")},
	}

	out := Compute(t0, rows, t0+1000)

	_, ok := findIndicator(out, "eth", "PRICE_CHANGE_3M")
	assert.False(t, ok)
	_, ok = findIndicator(out, "eth", "VOLUME_CHANGE_3M")
	assert.False(t, ok)
}

func TestCompute_MissingInputOmitsIndicator(t *testing.T) {
	t0 := int64(1_700_000_000_000)
	rows := []store.HistoryRow{
		{AssetID: "eth", AlignedTime: t0, Price: dec("100"), TotalVolume: dec("10")},
	}

	out := Compute(t0, rows, t0+1000)

	_, ok := findIndicator(out, "eth", "PRICE_CHANGE_3M")
	assert.False(t, ok)
}

// TestCompute_SkippedAssetDoesNotAffectOthers is the L3 property: omitting
// one asset from the input must not change any other asset's outputs.
func TestCompute_SkippedAssetDoesNotAffectOthers(t *testing.T) {
	t0 := int64(1_700_000_000_000)
	rowsWithBoth := []store.HistoryRow{
		{AssetID: "btc", AlignedTime: t0, Price: dec("52000"), TotalVolume: dec("1200")},
		{AssetID: "btc", AlignedTime: t0 - 3*60_000, Price: dec("51000"), TotalVolume: dec("1000")},
		{AssetID: "eth", AlignedTime: t0, Price: nil, TotalVolume: dec("1")}, // missing price, will be omitted
	}
	rowsWithoutEth := []store.HistoryRow{rowsWithBoth[0], rowsWithBoth[1]}

	out1 := Compute(t0, rowsWithBoth, t0+1000)
	out2 := Compute(t0, rowsWithoutEth, t0+1000)

	v1, ok1 := findIndicator(out1, "btc", "PRICE_CHANGE_3M")
	v2, ok2 := findIndicator(out2, "btc", "PRICE_CHANGE_3M")
	require.True(t, ok1)
	require.True(t, ok2)
	assert.True(t, v1.Value.Equal(v2.Value))

	_, ok := findIndicator(out1, "eth", "PRICE_CHANGE_3M")
	assert.False(t, ok)
}

// TestCompute_OrderIndependence is the L2 property: permuting history_window's
// row order must not change the result.
func TestCompute_OrderIndependence(t *testing.T) {
	t0 := int64(1_700_000_000_000)
	rows := []store.HistoryRow{
		{AssetID: "btc", AlignedTime: t0, Price: dec("52000"), TotalVolume: dec("1200")},
		{AssetID: "btc", AlignedTime: t0 - 3*60_000, Price: dec("51000"), TotalVolume: dec("1000")},
	}
	reversed := []store.HistoryRow{rows[1], rows[0]}

	out1 := Compute(t0, rows, t0+1000)
	out2 := Compute(t0, reversed, t0+1000)

	v1, ok1 := findIndicator(out1, "btc", "PRICE_CHANGE_3M")
	v2, ok2 := findIndicator(out2, "btc", "PRICE_CHANGE_3M")
	require.True(t, ok1)
	require.True(t, ok2)
	assert.True(t, v1.Value.Equal(v2.Value))
}
