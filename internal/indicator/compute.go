// Package indicator derives the fixed battery of per-asset indicators from
// recent snapshot history, per spec §4.4.
package indicator

import (
	"github.com/shopspring/decimal"

	"github.com/aristath/coinwatch/internal/store"
)

// Offsets is the fixed minute offset set history_window is always called
// with (§4.4.2): one query per bucket, never per asset.
var Offsets = []int{0, 3, 6, 9, 12, 60, 180, 480, 1440}

// outputScale is the fixed write scale for indicator values (§4.4.2).
const outputScale = 12

// assetHistory is the per-offset projected rows for one asset, keyed by
// minute offset (e.g. 0, 3, 6, ...).
type assetHistory map[int]store.HistoryRow

// groupByAsset builds asset_id -> {offset_minutes -> row} from one
// history_window call's flat result, per §4.4.2.
func groupByAsset(rows []store.HistoryRow, alignedTime int64, offsets []int) map[string]assetHistory {
	offsetByTime := make(map[int64]int, len(offsets))
	for _, off := range offsets {
		offsetByTime[alignedTime-int64(off)*60_000] = off
	}

	out := make(map[string]assetHistory)
	for _, r := range rows {
		off, ok := offsetByTime[r.AlignedTime]
		if !ok {
			continue
		}
		hist, ok := out[r.AssetID]
		if !ok {
			hist = make(assetHistory)
			out[r.AssetID] = hist
		}
		hist[off] = r
	}
	return out
}

// indicatorFunc computes one indicator's value for one asset's history. It
// returns ok=false when a required input is null/missing or a denominator
// is zero — per §4.4.2 the indicator is then omitted, never written as null
// or zero.
type indicatorFunc func(h assetHistory) (decimal.Decimal, bool)

// registry is the closed set of indicators computed every bucket.
var registry = map[string]indicatorFunc{
	"PRICE_CHANGE_3M":             priceChange(0, 3),
	"PRICE_CHANGE_6M":             priceChange(0, 6),
	"PRICE_CHANGE_12M":            priceChange(0, 12),
	"PRICE_CHANGE_24H":            priceChange(0, 1440),
	"VOLUME_CHANGE_1H":            volumeChange(0, 60),
	"VOLUME_CHANGE_3H":            volumeChange(0, 180),
	"VOLUME_CHANGE_8H":            volumeChange(0, 480),
	"VOLUME_CHANGE_24H":           volumeChange(0, 1440),
	"VOLUME_CHANGE_3M":            volumeChange(0, 3),
	"VOLUME_CHANGE_6M":            volumeChange(0, 6),
	"VOLUME_CHANGE_9M":            volumeChange(0, 9),
	"VOLUME_CHANGE_RATIO_3M":      volumeChangeRatio3M,
	"AVG_VOLUME_3M_24H":           avgVolume3m24h,
	"CAPITAL_INFLOW_INTENSITY_3M": capitalInflowIntensity3M,
}

func price(h assetHistory, off int) (decimal.Decimal, bool) {
	r, ok := h[off]
	if !ok || r.Price == nil {
		return decimal.Decimal{}, false
	}
	return *r.Price, true
}

func volume(h assetHistory, off int) (decimal.Decimal, bool) {
	r, ok := h[off]
	if !ok || r.TotalVolume == nil {
		return decimal.Decimal{}, false
	}
	return *r.TotalVolume, true
}

// ratioChange returns (a - b) / b, or !ok if b is zero.
func ratioChange(a, b decimal.Decimal) (decimal.Decimal, bool) {
	if b.IsZero() {
		return decimal.Decimal{}, false
	}
	return a.Sub(b).Div(b), true
}

func priceChange(offA, offB int) indicatorFunc {
	return func(h assetHistory) (decimal.Decimal, bool) {
		a, ok := price(h, offA)
		if !ok {
			return decimal.Decimal{}, false
		}
		b, ok := price(h, offB)
		if !ok {
			return decimal.Decimal{}, false
		}
		return ratioChange(a, b)
	}
}

func volumeChange(offA, offB int) indicatorFunc {
	return func(h assetHistory) (decimal.Decimal, bool) {
		a, ok := volume(h, offA)
		if !ok {
			return decimal.Decimal{}, false
		}
		b, ok := volume(h, offB)
		if !ok {
			return decimal.Decimal{}, false
		}
		return ratioChange(a, b)
	}
}

// volumeChangeRatio3M is (v0 - v3) / v1440.
func volumeChangeRatio3M(h assetHistory) (decimal.Decimal, bool) {
	v0, ok := volume(h, 0)
	if !ok {
		return decimal.Decimal{}, false
	}
	v3, ok := volume(h, 3)
	if !ok {
		return decimal.Decimal{}, false
	}
	v1440, ok := volume(h, 1440)
	if !ok || v1440.IsZero() {
		return decimal.Decimal{}, false
	}
	return v0.Sub(v3).Div(v1440), true
}

// avgVolume3m24h is the mean of every present 3-minute-step volume sample
// spanning the last 24 hours (offsets 0, 3, 6, 9, 12 are the only
// 3-minute-aligned offsets in the fixed offset set — the remaining steps
// up to 1440 minutes are not individually queried, so the mean is taken
// over whichever of those are present).
func avgVolume3m24h(h assetHistory) (decimal.Decimal, bool) {
	steps := []int{0, 3, 6, 9, 12}
	var sum decimal.Decimal
	var count int64
	for _, off := range steps {
		v, ok := volume(h, off)
		if !ok {
			continue
		}
		sum = sum.Add(v)
		count++
	}
	if count == 0 {
		return decimal.Decimal{}, false
	}
	return sum.Div(decimal.NewFromInt(count)), true
}

// capitalInflowIntensity3M is ((p0 - p3) / p3) * v0.
func capitalInflowIntensity3M(h assetHistory) (decimal.Decimal, bool) {
	p0, ok := price(h, 0)
	if !ok {
		return decimal.Decimal{}, false
	}
	p3, ok := price(h, 3)
	if !ok || p3.IsZero() {
		return decimal.Decimal{}, false
	}
	v0, ok := volume(h, 0)
	if !ok {
		return decimal.Decimal{}, false
	}
	return p0.Sub(p3).Div(p3).Mul(v0), true
}

// Compute derives every registry indicator for every asset present in rows,
// omitting any indicator whose inputs are missing or whose denominator is
// zero (§4.4.2). Permuting rows' order MUST NOT change the result (L2),
// which holds here because groupByAsset only keys on AssetID/AlignedTime.
func Compute(alignedTime int64, rows []store.HistoryRow, computedAt int64) []store.IndicatorRow {
	byAsset := groupByAsset(rows, alignedTime, Offsets)

	var out []store.IndicatorRow
	for assetID, hist := range byAsset {
		for name, fn := range registry {
			v, ok := fn(hist)
			if !ok {
				continue
			}
			out = append(out, store.IndicatorRow{
				AlignedTime:   alignedTime,
				AssetID:       assetID,
				IndicatorName: name,
				Timeframe:     "3m",
				Value:         v.Round(outputScale),
				ComputedAt:    computedAt,
			})
		}
	}
	return out
}
