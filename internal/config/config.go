// Package config loads coinwatch's runtime configuration from the environment.
//
// Loading order: a .env file (if present, via godotenv), then process
// environment variables with typed defaults. There is no second-stage
// settings database here (unlike the multi-database systems this pattern is
// borrowed from) — §6.5 of the spec treats the process surface as config
// read once at startup.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every tunable named in spec §6.5.
type Config struct {
	BucketMS       int64         // bucket_ms
	PagesPerTick   int           // pages_per_tick (loaded but not read; the fetcher stops on a short page or PageCap)
	PageSize       int           // page_size, capped at 250
	Concurrency    int           // concurrency
	Retries        int           // retries
	RateLimitRPS   float64       // rate_limit_rps
	PollInterval   time.Duration // poll_interval_s
	SafetyDelay    time.Duration // safety_delay_s
	DBPath         string        // sqlite file path
	APIBaseURL     string        // api_base_url
	APIKey         string        // api_key
	WebhookURLs    []string      // webhook_urls[]
	LogLevel       string        // log_level
	Currency       string        // quote currency for the upstream endpoint
	PageCap        int           // page_cap, pagination hard stop
	SubBatchSize   int           // B, max rows per atomic upsert
	RequestTimeout time.Duration // per-HTTP-request timeout
	StatementTimeout time.Duration // per-DB-statement timeout
	TickDeadline   time.Duration // 2*bucket_ms wall clock budget for one tick
}

// Load reads configuration from the environment. It never talks to the
// database — database connectivity failures surface later, from main, as
// exit code 2 per §6.5.
func Load() (*Config, error) {
	_ = godotenv.Load()

	bucketMS := getEnvAsInt64("BUCKET_MS", 180_000)

	cfg := &Config{
		BucketMS:          bucketMS,
		PagesPerTick:       getEnvAsInt("PAGES_PER_TICK", 0),
		PageSize:           getEnvAsInt("PAGE_SIZE", 250),
		Concurrency:        getEnvAsInt("CONCURRENCY", 4),
		Retries:            getEnvAsInt("RETRIES", 3),
		RateLimitRPS:       getEnvAsFloat("RATE_LIMIT_RPS", 2.0),
		PollInterval:       time.Duration(getEnvAsInt("POLL_INTERVAL_S", 3)) * time.Second,
		SafetyDelay:        time.Duration(getEnvAsInt("SAFETY_DELAY_S", 5)) * time.Second,
		DBPath:             getEnv("DB_DSN", "./coinwatch.db"),
		APIBaseURL:         getEnv("API_BASE_URL", "https://api.coingecko.com/api/v3"),
		APIKey:             getEnv("API_KEY", ""),
		WebhookURLs:        getEnvAsList("WEBHOOK_URLS"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		Currency:           getEnv("QUOTE_CURRENCY", "usd"),
		PageCap:            getEnvAsInt("PAGE_CAP", 20),
		SubBatchSize:       getEnvAsInt("SUB_BATCH_SIZE", 1000),
		RequestTimeout:     30 * time.Second,
		StatementTimeout:   60 * time.Second,
	}
	cfg.TickDeadline = 2 * time.Duration(cfg.BucketMS) * time.Millisecond

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the invariants main.go needs before it can wire anything.
// A failure here is a Fatal (exit code 1) per §6.5.
func (c *Config) Validate() error {
	if c.BucketMS <= 0 {
		return fmt.Errorf("bucket_ms must be positive, got %d", c.BucketMS)
	}
	if c.PageSize <= 0 || c.PageSize > 250 {
		return fmt.Errorf("page_size must be in (0, 250], got %d", c.PageSize)
	}
	if c.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be positive, got %d", c.Concurrency)
	}
	if c.APIBaseURL == "" {
		return fmt.Errorf("api_base_url is required")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvAsInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvAsFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvAsList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
