package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/aristath/coinwatch/internal/errs"
)

const upsertSnapshotColumns = `
	aligned_time, asset_id, symbol, display_name, icon_url,
	price, market_cap, market_cap_rank, fully_diluted_valuation, total_volume,
	circulating_supply, max_supply, high_24h, low_24h,
	price_change_24h, price_change_percentage_24h,
	market_cap_change_24h, market_cap_change_percentage_24h,
	ath, ath_change_percentage, ath_date, atl, atl_change_percentage, atl_date,
	raw_time, row_created_at
`

const upsertSnapshotSQL = `
INSERT INTO coin_data (` + upsertSnapshotColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(aligned_time, asset_id) DO UPDATE SET
	symbol = excluded.symbol,
	display_name = excluded.display_name,
	icon_url = excluded.icon_url,
	price = excluded.price,
	market_cap = excluded.market_cap,
	market_cap_rank = excluded.market_cap_rank,
	fully_diluted_valuation = excluded.fully_diluted_valuation,
	total_volume = excluded.total_volume,
	circulating_supply = excluded.circulating_supply,
	max_supply = excluded.max_supply,
	high_24h = excluded.high_24h,
	low_24h = excluded.low_24h,
	price_change_24h = excluded.price_change_24h,
	price_change_percentage_24h = excluded.price_change_percentage_24h,
	market_cap_change_24h = excluded.market_cap_change_24h,
	market_cap_change_percentage_24h = excluded.market_cap_change_percentage_24h,
	ath = excluded.ath,
	ath_change_percentage = excluded.ath_change_percentage,
	ath_date = excluded.ath_date,
	atl = excluded.atl,
	atl_change_percentage = excluded.atl_change_percentage,
	atl_date = excluded.atl_date,
	raw_time = excluded.raw_time,
	row_created_at = excluded.row_created_at
`

// UpsertSnapshots replaces rows for a batch of Asset Snapshots, all of which
// must share one aligned_time (§4.2). The batch is split into sub-batches of
// at most g.subBatchSize rows; each sub-batch commits as its own atomic
// transaction, so a failure partway through still leaves every already
// committed sub-batch durable (§4.3.2 — "a sub-batch that still fails marks
// the tick partial").
func (g *Gateway) UpsertSnapshots(ctx context.Context, rows []SnapshotRow) (committed int, err error) {
	if len(rows) == 0 {
		return 0, nil
	}

	aligned := rows[0].AlignedTime
	for _, r := range rows {
		if r.AlignedTime != aligned {
			return 0, errs.Wrap(errs.Permanent, "upsert_snapshots", fmt.Errorf("mixed aligned_time in one batch"))
		}
	}

	for start := 0; start < len(rows); start += g.subBatchSize {
		end := start + g.subBatchSize
		if end > len(rows) {
			end = len(rows)
		}
		n, subErr := g.upsertSnapshotSubBatch(ctx, rows[start:end])
		committed += n
		if subErr != nil {
			return committed, subErr
		}
	}
	return committed, nil
}

func (g *Gateway) upsertSnapshotSubBatch(ctx context.Context, rows []SnapshotRow) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, g.statementTimeout)
	defer cancel()

	tx, err := g.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, classify("upsert_snapshots", err)
	}

	if err := writeSnapshotRows(ctx, tx, rows); err != nil {
		_ = tx.Rollback()
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, classify("upsert_snapshots", err)
	}
	return len(rows), nil
}

func writeSnapshotRows(ctx context.Context, tx *sql.Tx, rows []SnapshotRow) error {
	stmt, err := tx.PrepareContext(ctx, upsertSnapshotSQL)
	if err != nil {
		return classify("upsert_snapshots", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		_, err := stmt.ExecContext(ctx,
			r.AlignedTime, r.AssetID, r.Symbol, r.DisplayName, r.IconURL,
			decStr(r.Price), decStr(r.MarketCap), nullInt(r.MarketCapRank), decStr(r.FullyDilutedValuation), decStr(r.TotalVolume),
			decStr(r.CirculatingSupply), decStr(r.MaxSupply), decStr(r.High24h), decStr(r.Low24h),
			decStr(r.PriceChange24h), decStr(r.PriceChangePct24h),
			decStr(r.MarketCapChange24h), decStr(r.MarketCapChangePct24h),
			decStr(r.ATH), decStr(r.ATHChangePercentage), nullStr(r.ATHDate),
			decStr(r.ATL), decStr(r.ATLChangePercentage), nullStr(r.ATLDate),
			r.RawTime, r.RowCreatedAt,
		)
		if err != nil {
			return classify("upsert_snapshots", err)
		}
	}
	return nil
}
