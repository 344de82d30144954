package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func newTestGateway(t *testing.T) *Gateway {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	g, err := New(Config{Path: path}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = g.Close() })
	return g
}

func decp(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func TestUpsertSnapshots_IdempotentReplace(t *testing.T) {
	g := newTestGateway(t)
	ctx := context.Background()

	rows := []SnapshotRow{
		{AlignedTime: 1_699_999_920_000, AssetID: "btc", Price: decp("50000"), TotalVolume: decp("1000"), RawTime: 1_700_000_030_000, RowCreatedAt: 1},
		{AlignedTime: 1_699_999_920_000, AssetID: "eth", Price: decp("3000"), TotalVolume: decp("500"), RawTime: 1_700_000_030_000, RowCreatedAt: 1},
	}

	n, err := g.UpsertSnapshots(ctx, rows)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	// L1: re-running the same upsert is observationally a no-op.
	n, err = g.UpsertSnapshots(ctx, rows)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	var count int
	require.NoError(t, g.conn.QueryRow(`SELECT COUNT(*) FROM coin_data`).Scan(&count))
	require.Equal(t, 2, count)

	latest, err := g.LatestBucket(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	require.Equal(t, int64(1_699_999_920_000), *latest)
}

func TestUpsertSnapshots_RejectsMixedAlignedTime(t *testing.T) {
	g := newTestGateway(t)
	ctx := context.Background()

	rows := []SnapshotRow{
		{AlignedTime: 1, AssetID: "btc", RawTime: 1, RowCreatedAt: 1},
		{AlignedTime: 2, AssetID: "eth", RawTime: 1, RowCreatedAt: 1},
	}

	_, err := g.UpsertSnapshots(ctx, rows)
	require.Error(t, err)
}

func TestLatestBucket_EmptyTable(t *testing.T) {
	g := newTestGateway(t)
	latest, err := g.LatestBucket(context.Background())
	require.NoError(t, err)
	require.Nil(t, latest)
}

func TestHistoryWindow_ProjectsFixedOffsets(t *testing.T) {
	g := newTestGateway(t)
	ctx := context.Background()

	t0 := int64(1_700_000_000_000)
	offsets := []int{0, 3}
	rows := []SnapshotRow{
		{AlignedTime: t0, AssetID: "btc", Price: decp("52000"), TotalVolume: decp("1200"), RawTime: t0, RowCreatedAt: t0},
		{AlignedTime: t0 - 3*60_000, AssetID: "btc", Price: decp("51000"), TotalVolume: decp("1000"), RawTime: t0, RowCreatedAt: t0},
		{AlignedTime: t0 - 6*60_000, AssetID: "btc", Price: decp("50000"), TotalVolume: decp("900"), RawTime: t0, RowCreatedAt: t0},
	}
	_, err := g.UpsertSnapshots(ctx, rows[:1])
	require.NoError(t, err)
	_, err = g.UpsertSnapshots(ctx, rows[1:2])
	require.NoError(t, err)
	_, err = g.UpsertSnapshots(ctx, rows[2:])
	require.NoError(t, err)

	hist, err := g.HistoryWindow(ctx, t0, offsets)
	require.NoError(t, err)
	require.Len(t, hist, 2)
}

func TestUpsertIndicators_KeyUniqueness(t *testing.T) {
	g := newTestGateway(t)
	ctx := context.Background()

	rows := []IndicatorRow{
		{AlignedTime: 1, AssetID: "btc", IndicatorName: "PRICE_CHANGE_3M", Timeframe: "3m", Value: decimal.NewFromFloat(0.0196), ComputedAt: 1},
	}
	n, err := g.UpsertIndicators(ctx, rows)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	rows[0].Value = decimal.NewFromFloat(0.05)
	n, err = g.UpsertIndicators(ctx, rows)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	var count int
	require.NoError(t, g.conn.QueryRow(`SELECT COUNT(*) FROM indicator_data`).Scan(&count))
	require.Equal(t, 1, count)
}

// TestLatestBucket_MonotonicAcrossWrites is the P3 property: latest_bucket()
// never decreases as buckets are written, regardless of write order.
func TestLatestBucket_MonotonicAcrossWrites(t *testing.T) {
	g := newTestGateway(t)
	ctx := context.Background()

	bucket1 := int64(1_699_999_920_000)
	bucket2 := bucket1 + 180_000

	_, err := g.UpsertSnapshots(ctx, []SnapshotRow{
		{AlignedTime: bucket1, AssetID: "btc", RawTime: bucket1, RowCreatedAt: bucket1},
	})
	require.NoError(t, err)
	first, err := g.LatestBucket(ctx)
	require.NoError(t, err)
	require.Equal(t, bucket1, *first)

	_, err = g.UpsertSnapshots(ctx, []SnapshotRow{
		{AlignedTime: bucket2, AssetID: "btc", RawTime: bucket2, RowCreatedAt: bucket2},
	})
	require.NoError(t, err)
	second, err := g.LatestBucket(ctx)
	require.NoError(t, err)
	require.Equal(t, bucket2, *second)
	require.GreaterOrEqual(t, *second, *first)
}
