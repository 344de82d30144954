package ingest

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/coinwatch/internal/errs"
	"github.com/aristath/coinwatch/internal/eventsink"
	"github.com/aristath/coinwatch/internal/store"
)

// SchedulerConfig holds the tunables of spec §4.3.1 and §4.3.4.
type SchedulerConfig struct {
	BucketMS     int64
	TickDeadline time.Duration
}

// Scheduler fires one tick per bucket boundary, plus one immediate
// catch-up tick on startup, and never lets two ticks run concurrently
// (§4.3.1). It mirrors the teacher's ticker+select+stop-channel shape
// (internal/queue/scheduler.go), generalized around a pluggable Clock so
// bucket alignment is testable without real sleeps.
type Scheduler struct {
	cfg     SchedulerConfig
	fetcher *Fetcher
	gateway *store.Gateway
	sink    eventsink.Sink
	clock   Clock
	log     zerolog.Logger

	stop    chan struct{}
	wg      sync.WaitGroup
	running sync.Mutex // held for the duration of one tick; TryLock skips a tick that would overlap
}

// NewScheduler builds a Scheduler. clock defaults to SystemClock if nil.
func NewScheduler(cfg SchedulerConfig, fetcher *Fetcher, gateway *store.Gateway, sink eventsink.Sink, clock Clock, log zerolog.Logger) *Scheduler {
	if clock == nil {
		clock = SystemClock
	}
	return &Scheduler{
		cfg:     cfg,
		fetcher: fetcher,
		gateway: gateway,
		sink:    sink,
		clock:   clock,
		log:     log.With().Str("component", "ingest_scheduler").Logger(),
		stop:    make(chan struct{}),
	}
}

// Run blocks, firing ticks at each bucket boundary until ctx is cancelled.
// It fires immediately on entry for the current bucket's catch-up tick per
// §4.3.1.
func (s *Scheduler) Run(ctx context.Context) {
	s.wg.Add(1)
	defer s.wg.Done()

	s.fireTick(ctx)

	for {
		wait := s.untilNextBoundary()
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-s.clock.After(wait):
			s.fireTick(ctx)
		}
	}
}

// Stop signals Run to return and waits for the in-flight tick to finish.
func (s *Scheduler) Stop() {
	close(s.stop)
	s.wg.Wait()
}

func (s *Scheduler) untilNextBoundary() time.Duration {
	now := s.clock.Now()
	nowMS := now.UnixMilli()
	nextBoundary := (nowMS/s.cfg.BucketMS + 1) * s.cfg.BucketMS
	return time.Duration(nextBoundary-nowMS) * time.Millisecond
}

// fireTick runs one tick if no other tick is currently running; otherwise
// it emits an info event and returns immediately (§4.3.1: "the next tick
// is skipped").
func (s *Scheduler) fireTick(ctx context.Context) {
	if !s.running.TryLock() {
		s.sink.Emit(ctx, eventsink.Event{
			Service: "coinwatch-ingest",
			Kind:    eventsink.KindSyncStart,
			Level:   eventsink.LevelInfo,
			Message: "tick skipped: previous tick still running",
			TimestampMS: s.clock.Now().UnixMilli(),
		})
		return
	}
	defer s.running.Unlock()

	tickCtx, cancel := context.WithTimeout(ctx, s.cfg.TickDeadline)
	defer cancel()

	s.runTick(tickCtx)
}

func (s *Scheduler) runTick(ctx context.Context) {
	start := s.clock.Now()
	rawMS := start.UnixMilli()
	alignedMS := align(start, s.cfg.BucketMS)
	tickID := uuid.NewString()

	// Detached from ctx (the tick's deadline context): channels like the
	// webhook sink dispatch asynchronously and must outlive the tick that
	// emitted the event, same reasoning as AppendSyncLog below.
	s.sink.Emit(context.Background(), eventsink.Event{
		Service: "coinwatch-ingest", Kind: eventsink.KindSyncStart, Level: eventsink.LevelInfo,
		Message: "tick started", TimestampMS: rawMS,
		Details: map[string]any{"tick_id": tickID, "aligned_time_ms": alignedMS},
	})

	result, err := s.fetcher.FetchTick(ctx, alignedMS, rawMS)
	if err != nil {
		s.emitOutcome(ctx, tickID, alignedMS, start, eventsink.KindSyncFailure, "failure", 0, result.PagesOK, result.PagesFailed, result.SkippedRows, err.Error())
		return
	}

	committed, commitErr := s.gateway.UpsertSnapshots(ctx, result.Rows)

	status := "success"
	kind := eventsink.KindSyncSuccess
	firstErr := result.FirstError
	switch {
	case committed == 0 && (commitErr != nil || result.PagesFailed > 0):
		// §4.3.3: "failure — no rows were committed", regardless of whether
		// the cause was a commit error or every page failing terminally.
		status, kind = "failure", eventsink.KindSyncFailure
		if commitErr != nil {
			firstErr = commitErr.Error()
		}
	case commitErr != nil || result.PagesFailed > 0:
		status, kind = "partial", eventsink.KindSyncPartial
		if commitErr != nil && firstErr == "" {
			firstErr = commitErr.Error()
		}
	case committed == 0 && len(result.Rows) == 0 && result.PagesFailed == 0:
		status, kind = "success", eventsink.KindSyncSuccess // empty upstream page, §8 boundary behavior
	}

	s.emitOutcome(ctx, tickID, alignedMS, start, kind, status, committed, result.PagesOK, result.PagesFailed, result.SkippedRows, firstErr)
}

func (s *Scheduler) emitOutcome(ctx context.Context, tickID string, alignedMS int64, start time.Time, kind eventsink.Kind, status string, rowsWritten, pagesOK, pagesFailed, rowsSkipped int, firstErr string) {
	end := s.clock.Now()
	durationMS := end.Sub(start).Milliseconds()

	level := eventsink.LevelInfo
	if status == "partial" {
		level = eventsink.LevelWarn
	} else if status == "failure" {
		level = eventsink.LevelError
	}

	// Detached from ctx for the same reason as the "tick started" emit above.
	s.sink.Emit(context.Background(), eventsink.Event{
		Service: "coinwatch-ingest", Kind: kind, Level: level,
		Message:     "tick " + status,
		TimestampMS: end.UnixMilli(),
		Metrics: map[string]any{
			"pages_ok": pagesOK, "pages_failed": pagesFailed,
			"rows_written": rowsWritten, "rows_skipped": rowsSkipped,
			"duration_ms": durationMS, "aligned_time_ms": alignedMS,
		},
	})

	logCtx := s.log.Info()
	if status == "partial" {
		logCtx = s.log.Warn()
	} else if status == "failure" {
		logCtx = s.log.Error()
	}
	logCtx.Str("tick_id", tickID).Int64("aligned_time_ms", alignedMS).
		Int("rows_written", rowsWritten).Int("rows_skipped", rowsSkipped).
		Int("pages_ok", pagesOK).Int("pages_failed", pagesFailed).
		Msg("ingest tick " + status)

	entry := store.SyncLogEntry{
		TickID: tickID, AlignedTime: alignedMS,
		StartedAt: start.UnixMilli(), EndedAt: end.UnixMilli(),
		PagesAttempted: pagesOK + pagesFailed, PagesSucceeded: pagesOK,
		RowsWritten: rowsWritten, RowsSkipped: rowsSkipped, Status: status, FirstError: firstErr,
	}
	if err := s.gateway.AppendSyncLog(context.Background(), entry); err != nil {
		s.log.Warn().Err(errs.Wrap(errs.Transient, "append_sync_log", err)).Msg("failed to append sync log")
	}
}
