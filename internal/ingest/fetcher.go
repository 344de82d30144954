package ingest

import (
	"context"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/aristath/coinwatch/internal/errs"
	"github.com/aristath/coinwatch/internal/provider"
	"github.com/aristath/coinwatch/internal/store"
)

// FetcherConfig holds the tunables of spec §4.3.2.
type FetcherConfig struct {
	PageSize       int
	PageCap        int
	Concurrency    int
	Retries        int
	RateLimitRPS   float64
	MaxFieldWidth  int // declared column width for string fields (§4.3.2 step 3)
}

// Fetcher enumerates every page of the upstream catalog for one tick and
// normalizes each asset into a store.SnapshotRow, per spec §4.3.2. Page
// concurrency is bounded by an errgroup and throttled by a token-bucket
// limiter, mirroring the teacher's pairing of a thin HTTP client with a
// scheduling layer that owns concurrency and backoff.
type Fetcher struct {
	client  *provider.Client
	cfg     FetcherConfig
	limiter *rate.Limiter
	log     zerolog.Logger
}

// NewFetcher builds a Fetcher. rps <= 0 disables the throttle (no limiter).
func NewFetcher(client *provider.Client, cfg FetcherConfig, log zerolog.Logger) *Fetcher {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.Retries <= 0 {
		cfg.Retries = 3
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 250
	}
	if cfg.PageCap <= 0 {
		cfg.PageCap = 20
	}
	if cfg.MaxFieldWidth <= 0 {
		cfg.MaxFieldWidth = 256
	}
	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), 1)
	}
	return &Fetcher{client: client, cfg: cfg, limiter: limiter, log: log.With().Str("component", "ingest_fetcher").Logger()}
}

// FetchResult is the outcome of fetching every page of one tick.
type FetchResult struct {
	Rows        []store.SnapshotRow
	PagesOK     int
	PagesFailed int
	SkippedRows int
	FirstError  string
}

// FetchTick enumerates pages in waves of at most Concurrency in-flight
// requests, stopping after the wave in which a page returns fewer than
// PageSize items, or after PageCap pages, whichever is first (§6.1
// "pagination termination"). alignedMS and rawMS are pre-computed by the
// caller so every row in the tick shares one aligned_time (spec invariant).
func (f *Fetcher) FetchTick(ctx context.Context, alignedMS, rawMS int64) (FetchResult, error) {
	type pageOutcome struct {
		rows    []store.SnapshotRow
		skipped int
		assets  int
		ok      bool
		err     error
	}

	var result FetchResult
	done := false

	for next := 1; next <= f.cfg.PageCap && !done; {
		waveSize := f.cfg.Concurrency
		if next+waveSize-1 > f.cfg.PageCap {
			waveSize = f.cfg.PageCap - next + 1
		}
		outcomes := make([]pageOutcome, waveSize)

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(f.cfg.Concurrency)
		for i := 0; i < waveSize; i++ {
			page := next + i
			idx := i
			g.Go(func() error {
				rows, skipped, assetCount, err := f.fetchPageWithRetry(gctx, page, alignedMS, rawMS)
				outcomes[idx] = pageOutcome{rows: rows, skipped: skipped, assets: assetCount, ok: err == nil, err: err}
				return nil // page failures don't cancel sibling pages (§4.3.2: "record as a page failure and continue")
			})
		}
		_ = g.Wait()

		for _, o := range outcomes {
			if o.ok {
				result.PagesOK++
				result.Rows = append(result.Rows, o.rows...)
				result.SkippedRows += o.skipped
				if o.assets < f.cfg.PageSize {
					done = true
				}
			} else {
				result.PagesFailed++
				if result.FirstError == "" && o.err != nil {
					result.FirstError = o.err.Error()
				}
			}
		}
		next += waveSize
	}
	return result, nil
}

// fetchPageWithRetry fetches one page, retrying on transient failures with
// exponential backoff (base 1s, factor 2, jitter +-20%, cap 30s) up to
// f.cfg.Retries times after the first attempt, honoring Retry-After
// (§4.3.2 step 3). Transport errors with no HTTP response count as
// transient; other non-429 4xx responses are permanent. It returns
// the raw asset count alongside the normalized rows so the caller can
// detect a short page for pagination termination even when some assets in
// it were skipped for a bad asset_id.
func (f *Fetcher) fetchPageWithRetry(ctx context.Context, page int, alignedMS, rawMS int64) ([]store.SnapshotRow, int, int, error) {
	var lastErr error
	backoff := time.Second

	for attempt := 0; attempt <= f.cfg.Retries; attempt++ {
		if f.limiter != nil {
			if err := f.limiter.Wait(ctx); err != nil {
				return nil, 0, 0, err
			}
		}

		result, err := f.client.FetchPage(ctx, page, f.cfg.PageSize)
		if err == nil {
			rows, skipped := normalizePage(result.Assets, alignedMS, rawMS, f.cfg.MaxFieldWidth)
			if skipped > 0 {
				f.log.Warn().Int("page", page).Int("skipped", skipped).Int("page_size", len(result.Assets)).
					Msg("rejected and skipped rows with missing or oversized asset_id")
			}
			return rows, skipped, len(result.Assets), nil
		}

		lastErr = err
		if result.StatusCode != 0 && !retryable(result.StatusCode) {
			return nil, 0, 0, errs.Wrap(errs.Permanent, "fetch_page", err)
		}
		if attempt == f.cfg.Retries {
			break
		}

		wait := result.RetryAfter
		if wait == 0 {
			wait = jittered(backoff)
		}
		select {
		case <-ctx.Done():
			return nil, 0, 0, ctx.Err()
		case <-time.After(wait):
		}
		backoff *= 2
		if backoff > 30*time.Second {
			backoff = 30 * time.Second
		}
	}
	return nil, 0, 0, errs.Wrap(errs.Transient, "fetch_page", lastErr)
}

func retryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

func jittered(base time.Duration) time.Duration {
	if base > 30*time.Second {
		base = 30 * time.Second
	}
	jitter := float64(base) * 0.2 * (rand.Float64()*2 - 1)
	d := time.Duration(float64(base) + jitter)
	if d < 0 {
		d = 0
	}
	return d
}

// normalizePage maps each provider.Asset into a store.SnapshotRow per the
// field rules of §4.3.2 step 3; rows with an absent/oversized asset_id are
// skipped and counted, never causing the page to fail.
func normalizePage(assets []provider.Asset, alignedMS, rawMS int64, maxWidth int) ([]store.SnapshotRow, int) {
	rows := make([]store.SnapshotRow, 0, len(assets))
	skipped := 0
	for _, a := range assets {
		id := strings.TrimSpace(a.ID)
		if id == "" || len(id) > maxWidth {
			skipped++
			continue
		}
		row := store.SnapshotRow{
			AlignedTime:  alignedMS,
			AssetID:      id,
			Symbol:       truncate(a.Symbol, maxWidth),
			DisplayName:  truncate(a.Name, maxWidth),
			IconURL:      truncate(a.Image, maxWidth),
			Price:        parseDecimal(a.CurrentPrice),
			MarketCap:    parseDecimal(a.MarketCap),
			MarketCapRank: parseIntPtr(a.MarketCapRank),
			FullyDilutedValuation: parseDecimal(a.FullyDilutedValuation),
			TotalVolume:           parseDecimal(a.TotalVolume),
			CirculatingSupply:     parseDecimal(a.CirculatingSupply),
			MaxSupply:             parseDecimal(a.MaxSupply),
			High24h:               parseDecimal(a.High24h),
			Low24h:                parseDecimal(a.Low24h),
			PriceChange24h:        parseDecimal(a.PriceChange24h),
			PriceChangePct24h:     parseDecimal(a.PriceChangePercentage24h),
			MarketCapChange24h:    parseDecimal(a.MarketCapChange24h),
			MarketCapChangePct24h: parseDecimal(a.MarketCapChangePercentage24h),
			ATH:                 parseDecimal(a.ATH),
			ATHChangePercentage: parseDecimal(a.ATHChangePercentage),
			ATHDate:             truncate(a.ATHDate, maxWidth),
			ATL:                 parseDecimal(a.ATL),
			ATLChangePercentage: parseDecimal(a.ATLChangePercentage),
			ATLDate:             truncate(a.ATLDate, maxWidth),
			RawTime:             rawMS,
			RowCreatedAt:        rawMS,
		}
		rows = append(rows, row)
	}
	return rows, skipped
}

func truncate(s string, width int) string {
	if len(s) <= width {
		return s
	}
	return s[:width]
}

func parseDecimal(n interface{ String() string }) *decimal.Decimal {
	s := n.String()
	if s == "" {
		return nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil
	}
	return &d
}

func parseIntPtr(n interface{ String() string }) *int64 {
	s := n.String()
	if s == "" {
		return nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil
	}
	v := d.IntPart()
	return &v
}
