package store

import (
	"context"
	"database/sql"
)

const upsertIndicatorSQL = `
INSERT INTO indicator_data (aligned_time, asset_id, indicator_name, timeframe, value, computed_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(aligned_time, asset_id, indicator_name, timeframe) DO UPDATE SET
	value = excluded.value,
	computed_at = excluded.computed_at
`

// UpsertIndicators writes Indicator Sample rows in sub-batches of at most
// g.subBatchSize, same atomicity contract as UpsertSnapshots (§4.2).
func (g *Gateway) UpsertIndicators(ctx context.Context, rows []IndicatorRow) (committed int, err error) {
	if len(rows) == 0 {
		return 0, nil
	}

	for start := 0; start < len(rows); start += g.subBatchSize {
		end := start + g.subBatchSize
		if end > len(rows) {
			end = len(rows)
		}
		n, subErr := g.upsertIndicatorSubBatch(ctx, rows[start:end])
		committed += n
		if subErr != nil {
			return committed, subErr
		}
	}
	return committed, nil
}

func (g *Gateway) upsertIndicatorSubBatch(ctx context.Context, rows []IndicatorRow) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, g.statementTimeout)
	defer cancel()

	tx, err := g.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, classify("upsert_indicators", err)
	}

	if err := writeIndicatorRows(ctx, tx, rows); err != nil {
		_ = tx.Rollback()
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, classify("upsert_indicators", err)
	}
	return len(rows), nil
}

func writeIndicatorRows(ctx context.Context, tx *sql.Tx, rows []IndicatorRow) error {
	stmt, err := tx.PrepareContext(ctx, upsertIndicatorSQL)
	if err != nil {
		return classify("upsert_indicators", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		_, err := stmt.ExecContext(ctx, r.AlignedTime, r.AssetID, r.IndicatorName, r.Timeframe, r.Value.String(), r.ComputedAt)
		if err != nil {
			return classify("upsert_indicators", err)
		}
	}
	return nil
}
