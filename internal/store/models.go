package store

import "github.com/shopspring/decimal"

// SnapshotRow is one Asset Snapshot row (spec §3). Numeric fields are
// *decimal.Decimal so a provider-reported null survives round-trip as a
// true SQL NULL instead of a fabricated zero (§4.3.2: "missing numeric
// fields are stored as null").
type SnapshotRow struct {
	AlignedTime int64
	AssetID     string
	Symbol      string
	DisplayName string
	IconURL     string

	Price                 *decimal.Decimal
	MarketCap             *decimal.Decimal
	MarketCapRank         *int64
	FullyDilutedValuation *decimal.Decimal
	TotalVolume           *decimal.Decimal
	CirculatingSupply     *decimal.Decimal
	MaxSupply             *decimal.Decimal
	High24h               *decimal.Decimal
	Low24h                *decimal.Decimal
	PriceChange24h        *decimal.Decimal
	PriceChangePct24h     *decimal.Decimal
	MarketCapChange24h    *decimal.Decimal
	MarketCapChangePct24h *decimal.Decimal
	ATH                   *decimal.Decimal
	ATHChangePercentage   *decimal.Decimal
	ATHDate               string
	ATL                   *decimal.Decimal
	ATLChangePercentage   *decimal.Decimal
	ATLDate               string

	RawTime      int64
	RowCreatedAt int64
}

// IndicatorRow is one Indicator Sample row (spec §3).
type IndicatorRow struct {
	AlignedTime   int64
	AssetID       string
	IndicatorName string
	Timeframe     string
	Value         decimal.Decimal
	ComputedAt    int64
}

// HistoryRow is the projection history_window returns per §4.2: just the
// five columns asset_id, aligned_time, price, total_volume and market_cap,
// to keep the read narrow regardless of how wide coin_data is.
type HistoryRow struct {
	AssetID     string
	AlignedTime int64
	Price       *decimal.Decimal
	TotalVolume *decimal.Decimal
	MarketCap   *decimal.Decimal
}

// SyncLogEntry is the audit row appended once per tick (spec §3).
type SyncLogEntry struct {
	TickID         string
	AlignedTime    int64
	StartedAt      int64
	EndedAt        int64
	PagesAttempted int
	PagesSucceeded int
	RowsWritten    int
	RowsSkipped    int
	Status         string // success|partial|failure
	FirstError     string
}

// maxFirstErrorLen truncates FirstError per §7: "preserves the first
// terminal error message verbatim (truncated to a fixed length)".
const maxFirstErrorLen = 2048

func truncateError(s string) string {
	if len(s) <= maxFirstErrorLen {
		return s
	}
	return s[:maxFirstErrorLen]
}
