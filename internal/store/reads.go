package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// LatestBucket returns the maximum aligned_time present in coin_data, or nil
// if the table is empty (§4.2, the Bucket Watermark of §3).
func (g *Gateway) LatestBucket(ctx context.Context) (*int64, error) {
	ctx, cancel := context.WithTimeout(ctx, g.statementTimeout)
	defer cancel()

	var max sql.NullInt64
	err := g.conn.QueryRowContext(ctx, `SELECT MAX(aligned_time) FROM coin_data`).Scan(&max)
	if err != nil {
		return nil, classify("latest_bucket", err)
	}
	if !max.Valid {
		return nil, nil
	}
	return &max.Int64, nil
}

// LatestIndicatorBucket returns the maximum aligned_time present in
// indicator_data, or nil if empty. Used to seed last_processed_bucket on
// cold start per §4.4.1.
func (g *Gateway) LatestIndicatorBucket(ctx context.Context) (*int64, error) {
	ctx, cancel := context.WithTimeout(ctx, g.statementTimeout)
	defer cancel()

	var max sql.NullInt64
	err := g.conn.QueryRowContext(ctx, `SELECT MAX(aligned_time) FROM indicator_data`).Scan(&max)
	if err != nil {
		return nil, classify("latest_indicator_bucket", err)
	}
	if !max.Valid {
		return nil, nil
	}
	return &max.Int64, nil
}

// HistoryWindow returns every coin_data row whose aligned_time equals
// alignedTime - off*60_000 for off in offsetsMinutes, projected to
// {asset_id, aligned_time, price, total_volume, market_cap} per §4.2. The
// caller always passes the same fixed offset set in one query (§4.4.2).
func (g *Gateway) HistoryWindow(ctx context.Context, alignedTime int64, offsetsMinutes []int) ([]HistoryRow, error) {
	if len(offsetsMinutes) == 0 {
		return nil, nil
	}

	times := make([]int64, len(offsetsMinutes))
	placeholders := make([]string, len(offsetsMinutes))
	args := make([]any, len(offsetsMinutes))
	for i, off := range offsetsMinutes {
		t := alignedTime - int64(off)*60_000
		times[i] = t
		placeholders[i] = "?"
		args[i] = t
	}

	query := fmt.Sprintf(
		`SELECT asset_id, aligned_time, price, total_volume, market_cap
		 FROM coin_data WHERE aligned_time IN (%s)`,
		strings.Join(placeholders, ","),
	)

	ctx, cancel := context.WithTimeout(ctx, g.statementTimeout)
	defer cancel()

	rows, err := g.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify("history_window", err)
	}
	defer rows.Close()

	var out []HistoryRow
	for rows.Next() {
		var hr HistoryRow
		var price, vol, mcap sql.NullString
		if err := rows.Scan(&hr.AssetID, &hr.AlignedTime, &price, &vol, &mcap); err != nil {
			return nil, classify("history_window", err)
		}
		if hr.Price, err = scanDecimal(price); err != nil {
			return nil, classify("history_window", err)
		}
		if hr.TotalVolume, err = scanDecimal(vol); err != nil {
			return nil, classify("history_window", err)
		}
		if hr.MarketCap, err = scanDecimal(mcap); err != nil {
			return nil, classify("history_window", err)
		}
		out = append(out, hr)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("history_window", err)
	}
	return out, nil
}

// AppendSyncLog appends one Sync Log row (spec §3); never updates an
// existing row.
func (g *Gateway) AppendSyncLog(ctx context.Context, e SyncLogEntry) error {
	ctx, cancel := context.WithTimeout(ctx, g.statementTimeout)
	defer cancel()

	_, err := g.conn.ExecContext(ctx, `
		INSERT INTO sync_log (tick_id, aligned_time, started_at, ended_at, pages_attempted, pages_succeeded, rows_written, rows_skipped, status, first_error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.TickID, e.AlignedTime, e.StartedAt, e.EndedAt, e.PagesAttempted, e.PagesSucceeded, e.RowsWritten, e.RowsSkipped, e.Status, nullStr(truncateError(e.FirstError)))
	if err != nil {
		return classify("append_sync_log", err)
	}
	return nil
}
