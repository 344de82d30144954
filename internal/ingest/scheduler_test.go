package ingest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/aristath/coinwatch/internal/eventsink"
	"github.com/aristath/coinwatch/internal/provider"
	"github.com/aristath/coinwatch/internal/store"
)

type recordingSink struct {
	mu     sync.Mutex
	events []eventsink.Event
}

func (s *recordingSink) Emit(_ context.Context, ev eventsink.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *recordingSink) kinds() []eventsink.Kind {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]eventsink.Kind, len(s.events))
	for i, e := range s.events {
		out[i] = e.Kind
	}
	return out
}

func newTestStore(t *testing.T) *store.Gateway {
	t.Helper()
	g, err := store.New(store.Config{Path: filepath.Join(t.TempDir(), "test.db")}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = g.Close() })
	return g
}

// TestScheduler_ColdStartTwoPages mirrors the literal scenario: page 1 has
// two assets, page 2 is empty, so pagination terminates after page 2.
func TestScheduler_ColdStartTwoPages(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		page := r.URL.Query().Get("page")
		w.Header().Set("Content-Type", "application/json")
		if page == "1" {
			_ = json.NewEncoder(w).Encode([]provider.Asset{
				{ID: "btc", CurrentPrice: "50000", TotalVolume: "1000"},
				{ID: "eth", CurrentPrice: "3000", TotalVolume: "500"},
			})
			return
		}
		_ = json.NewEncoder(w).Encode([]provider.Asset{})
	}))
	defer srv.Close()

	client := provider.New(provider.Config{BaseURL: srv.URL}, srv.Client(), zerolog.Nop())
	fetcher := NewFetcher(client, FetcherConfig{PageSize: 2, PageCap: 2, Concurrency: 1, Retries: 0}, zerolog.Nop())

	g := newTestStore(t)
	sink := &recordingSink{}
	clock := newFakeClock(time.UnixMilli(1_700_000_030_000).UTC())

	sched := NewScheduler(SchedulerConfig{BucketMS: 180_000, TickDeadline: time.Minute}, fetcher, g, sink, clock, zerolog.Nop())
	sched.fireTick(context.Background())

	latest, err := g.LatestBucket(context.Background())
	require.NoError(t, err)
	require.NotNil(t, latest)
	require.Equal(t, int64(1_699_999_920_000), *latest)

	hist, err := g.HistoryWindow(context.Background(), *latest, []int{0})
	require.NoError(t, err)
	require.Len(t, hist, 2)

	foundSuccess := false
	for _, k := range sink.kinds() {
		if k == eventsink.KindSyncSuccess {
			foundSuccess = true
		}
	}
	require.True(t, foundSuccess, "expected a sync_success event")
}

// TestScheduler_SkipsOverlappingTick verifies §4.3.1: a tick still running
// when fireTick is invoked again causes the second call to be skipped.
func TestScheduler_SkipsOverlappingTick(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode([]provider.Asset{})
	}))
	defer srv.Close()

	client := provider.New(provider.Config{BaseURL: srv.URL}, srv.Client(), zerolog.Nop())
	fetcher := NewFetcher(client, FetcherConfig{PageSize: 250, PageCap: 1, Concurrency: 1, Retries: 0}, zerolog.Nop())

	g := newTestStore(t)
	sink := &recordingSink{}
	clock := newFakeClock(time.UnixMilli(1_700_000_030_000).UTC())
	sched := NewScheduler(SchedulerConfig{BucketMS: 180_000, TickDeadline: time.Minute}, fetcher, g, sink, clock, zerolog.Nop())

	sched.running.Lock()
	sched.fireTick(context.Background())
	sched.running.Unlock()

	kinds := sink.kinds()
	require.Len(t, kinds, 1)
	require.Equal(t, eventsink.KindSyncStart, kinds[0])
}
