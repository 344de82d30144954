package indicator

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/coinwatch/internal/errs"
	"github.com/aristath/coinwatch/internal/eventsink"
	"github.com/aristath/coinwatch/internal/ingest"
	"github.com/aristath/coinwatch/internal/store"
)

// EngineConfig holds the tunables of spec §4.4.1 and §4.4.4.
type EngineConfig struct {
	BucketMS     int64
	PollInterval time.Duration
	SafetyDelay  time.Duration
	Retries      int // R, for the transient-retry-with-backoff policy
}

// Engine runs the indicator compute loop: poll latest_bucket(), wait a
// safety delay, then catch up every bucket between last_processed_bucket
// and latest_bucket() (§4.4.1). It is single-task by design (§5: "memory-
// bound, not I/O-bound").
type Engine struct {
	cfg     EngineConfig
	gateway *store.Gateway
	sink    eventsink.Sink
	clock   ingest.Clock
	log     zerolog.Logger

	lastProcessedBucket int64
	seeded              bool
}

// NewEngine builds an Engine. clock defaults to ingest.SystemClock if nil.
func NewEngine(cfg EngineConfig, gateway *store.Gateway, sink eventsink.Sink, clock ingest.Clock, log zerolog.Logger) *Engine {
	if clock == nil {
		clock = ingest.SystemClock
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 3 * time.Second
	}
	if cfg.SafetyDelay <= 0 {
		cfg.SafetyDelay = 5 * time.Second
	}
	if cfg.Retries <= 0 {
		cfg.Retries = 3
	}
	return &Engine{
		cfg:     cfg,
		gateway: gateway,
		sink:    sink,
		clock:   clock,
		log:     log.With().Str("component", "indicator_engine").Logger(),
	}
}

// Run blocks, polling latest_bucket() every PollInterval until ctx is
// cancelled.
func (e *Engine) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.clock.After(e.cfg.PollInterval):
		}

		if err := e.pollOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			e.log.Warn().Err(err).Msg("indicator poll failed")
		}
	}
}

func (e *Engine) pollOnce(ctx context.Context) error {
	latest, err := e.gateway.LatestBucket(ctx)
	if err != nil {
		return err
	}
	if latest == nil {
		return nil // nothing ingested yet
	}

	if err := e.ensureSeeded(ctx, *latest); err != nil {
		return err
	}

	if *latest <= e.lastProcessedBucket {
		return nil
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-e.clock.After(e.cfg.SafetyDelay):
	}

	// Catch-up: process every bucket strictly increasing, one safety delay
	// paid once at entry (§4.4.3).
	for e.lastProcessedBucket < *latest {
		next := e.lastProcessedBucket + e.cfg.BucketMS
		if err := e.computeBucket(ctx, next); err != nil {
			return err
		}
		e.lastProcessedBucket = next
	}
	return nil
}

// ensureSeeded sets the initial last_processed_bucket on cold start to the
// max aligned_time in indicator_data, or latest-Δ if that table is empty
// (§4.4.1).
func (e *Engine) ensureSeeded(ctx context.Context, latestSnapshotBucket int64) error {
	if e.seeded {
		return nil
	}
	seed, err := e.gateway.LatestIndicatorBucket(ctx)
	if err != nil {
		return err
	}
	if seed != nil {
		e.lastProcessedBucket = *seed
	} else {
		e.lastProcessedBucket = latestSnapshotBucket - e.cfg.BucketMS
	}
	e.seeded = true
	return nil
}

// computeBucket computes and writes indicators for one bucket, retrying
// transient failures with backoff (base 1s, factor 2, cap 15s, up to
// Retries times after the first attempt) before surfacing
// indicator_failure (§4.4.4).
func (e *Engine) computeBucket(ctx context.Context, target int64) error {
	start := e.clock.Now()

	e.sink.Emit(ctx, eventsink.Event{
		Service: "coinwatch-indicator", Kind: eventsink.KindIndicatorStart, Level: eventsink.LevelInfo,
		Message: "computing bucket", TimestampMS: start.UnixMilli(),
		Details: map[string]any{"aligned_time_ms": target},
	})

	_, indicatorRows, writeErr := e.computeWithRetry(ctx, target)
	end := e.clock.Now()
	durationMS := end.Sub(start).Milliseconds()

	if writeErr != nil {
		e.sink.Emit(ctx, eventsink.Event{
			Service: "coinwatch-indicator", Kind: eventsink.KindIndicatorFailure, Level: eventsink.LevelError,
			Message: "indicator compute failed", TimestampMS: end.UnixMilli(),
			Metrics: map[string]any{"aligned_time_ms": target, "duration_ms": durationMS},
		})
		e.log.Error().Err(writeErr).Int64("aligned_time_ms", target).Msg("indicator bucket failed")
		return writeErr
	}

	assetsWritten := countAssets(indicatorRows)
	e.sink.Emit(ctx, eventsink.Event{
		Service: "coinwatch-indicator", Kind: eventsink.KindIndicatorSuccess, Level: eventsink.LevelInfo,
		Message: "indicator bucket advanced", TimestampMS: end.UnixMilli(),
		Metrics: map[string]any{
			"aligned_time_ms": target, "assets_written": assetsWritten,
			"indicators_written": len(indicatorRows), "duration_ms": durationMS,
		},
	})
	e.log.Info().Int64("aligned_time_ms", target).Int("assets_written", assetsWritten).
		Int("indicators_written", len(indicatorRows)).Msg("indicator bucket advanced")
	return nil
}

func (e *Engine) computeWithRetry(ctx context.Context, target int64) ([]store.HistoryRow, []store.IndicatorRow, error) {
	var lastErr error
	backoff := time.Second

	for attempt := 0; attempt <= e.cfg.Retries; attempt++ {
		hist, err := e.gateway.HistoryWindow(ctx, target, Offsets)
		if err != nil {
			lastErr = err
			if !errs.Is(err, errs.Transient) {
				return nil, nil, err
			}
		} else {
			indicatorRows := Compute(target, hist, e.clock.Now().UnixMilli())
			if _, err := e.gateway.UpsertIndicators(ctx, indicatorRows); err != nil {
				lastErr = err
				if !errs.Is(err, errs.Transient) {
					return nil, nil, err
				}
			} else {
				return hist, indicatorRows, nil
			}
		}

		if attempt == e.cfg.Retries {
			break
		}
		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		case <-e.clock.After(backoff):
		}
		backoff *= 2
		if backoff > 15*time.Second {
			backoff = 15 * time.Second
		}
	}
	return nil, nil, errs.Wrap(errs.Terminal, "compute_bucket", lastErr)
}

func countAssets(rows []store.IndicatorRow) int {
	seen := make(map[string]struct{})
	for _, r := range rows {
		seen[r.AssetID] = struct{}{}
	}
	return len(seen)
}
