// Package provider is a client for the upstream HTTP market-data provider
// of spec §6.1: a single paginated GET endpoint returning a JSON array of
// asset objects per page.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

const defaultBaseURL = "https://api.coingecko.com/api/v3"

// Asset is one element of a page response, keyed by the short field names
// §6.1 documents. Numeric fields arrive as json.Number so the caller can
// parse them into decimal.Decimal without float round-trip loss.
type Asset struct {
	ID                                 string          `json:"id"`
	Symbol                             string          `json:"symbol"`
	Name                               string          `json:"name"`
	Image                              string          `json:"image"`
	CurrentPrice                       json.Number     `json:"current_price"`
	MarketCap                          json.Number     `json:"market_cap"`
	MarketCapRank                      json.Number     `json:"market_cap_rank"`
	FullyDilutedValuation              json.Number     `json:"fully_diluted_valuation"`
	TotalVolume                        json.Number     `json:"total_volume"`
	High24h                            json.Number     `json:"high_24h"`
	Low24h                             json.Number     `json:"low_24h"`
	PriceChange24h                     json.Number     `json:"price_change_24h"`
	PriceChangePercentage24h           json.Number     `json:"price_change_percentage_24h"`
	MarketCapChange24h                 json.Number     `json:"market_cap_change_24h"`
	MarketCapChangePercentage24h       json.Number     `json:"market_cap_change_percentage_24h"`
	CirculatingSupply                  json.Number     `json:"circulating_supply"`
	MaxSupply                          json.Number     `json:"max_supply"`
	ATH                                json.Number     `json:"ath"`
	ATHChangePercentage                json.Number     `json:"ath_change_percentage"`
	ATHDate                            string          `json:"ath_date"`
	ATL                                json.Number     `json:"atl"`
	ATLChangePercentage                json.Number     `json:"atl_change_percentage"`
	ATLDate                            string          `json:"atl_date"`
	LastUpdated                        string          `json:"last_updated"`
}

// Config controls endpoint selection and credentials.
type Config struct {
	BaseURL string
	APIKey  string
	Currency string // quote currency, e.g. "usd"
}

// Client fetches one page at a time; retry, rate limiting, and pagination
// termination live in the ingest package per §4.3, mirroring the teacher's
// separation of a thin HTTP client (internal/clients/openfigi) from a
// scheduling layer above it.
type Client struct {
	cfg        Config
	httpClient *http.Client
	log        zerolog.Logger
}

// New builds a Client; httpClient is shared across all pages and carries the
// bounded connection pool §5 requires.
func New(cfg Config, httpClient *http.Client, log zerolog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Currency == "" {
		cfg.Currency = "usd"
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		cfg:        cfg,
		httpClient: httpClient,
		log:        log.With().Str("component", "provider").Logger(),
	}
}

// PageResult is the outcome of one page fetch, including enough HTTP detail
// for the caller to classify retry-ability (§4.3.2 — 429/5xx retry, 4xx
// terminal-per-page, Retry-After honored).
type PageResult struct {
	Assets     []Asset
	StatusCode int
	RetryAfter time.Duration // zero if header absent
}

// FetchPage issues one GET for the given 1-based page number and page size.
// It does not retry; the caller (ingest.Fetcher) owns backoff per §4.3.2.
func (c *Client) FetchPage(ctx context.Context, page, perPage int) (PageResult, error) {
	u, err := url.Parse(c.cfg.BaseURL + "/coins/markets")
	if err != nil {
		return PageResult{}, fmt.Errorf("parse base url: %w", err)
	}
	q := u.Query()
	q.Set("vs_currency", c.cfg.Currency)
	q.Set("order", "market_cap_desc")
	q.Set("per_page", strconv.Itoa(perPage))
	q.Set("page", strconv.Itoa(page))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return PageResult{}, fmt.Errorf("build request: %w", err)
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("x-cg-api-key", c.cfg.APIKey)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return PageResult{}, err
	}
	defer resp.Body.Close()

	result := PageResult{StatusCode: resp.StatusCode}
	if ra := resp.Header.Get("Retry-After"); ra != "" {
		if secs, err := strconv.Atoi(ra); err == nil {
			result.RetryAfter = time.Duration(secs) * time.Second
		}
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return result, fmt.Errorf("page %d: http %d: %s", page, resp.StatusCode, string(body))
	}

	var assets []Asset
	if err := json.NewDecoder(resp.Body).Decode(&assets); err != nil {
		return result, fmt.Errorf("decode page %d: %w", page, err)
	}
	result.Assets = assets
	return result, nil
}
