// Package main wires and runs the coinwatch ingest-and-indicator pipeline:
// the Ingest Scheduler & Fetcher (§4.3) and the Indicator Engine (§4.4) run
// as two independent long-running loops over one shared snapshot store.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/coinwatch/internal/config"
	"github.com/aristath/coinwatch/internal/eventsink"
	"github.com/aristath/coinwatch/internal/indicator"
	"github.com/aristath/coinwatch/internal/ingest"
	"github.com/aristath/coinwatch/internal/provider"
	"github.com/aristath/coinwatch/internal/store"
	"github.com/aristath/coinwatch/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallback := logger.New(logger.Config{Level: "info", Pretty: true})
		fallback.Fatal().Err(err).Msg("failed to load configuration")
		os.Exit(1)
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: true})
	log.Info().Msg("starting coinwatch")

	sink := eventsink.NewMultiSink(log,
		eventsink.NewLogChannel(log),
		eventsink.NewWebhookChannel(cfg.WebhookURLs, log),
	)

	gateway, err := store.New(store.Config{
		Path:             cfg.DBPath,
		MaxOpenConns:     maxInt(cfg.Concurrency, 4),
		StatementTimeout: cfg.StatementTimeout,
		SubBatchSize:     cfg.SubBatchSize,
	}, log)
	if err != nil {
		log.Error().Err(err).Msg("database unavailable at startup")
		os.Exit(2)
	}
	defer gateway.Close()

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxConnsPerHost = cfg.Concurrency
	httpClient := &http.Client{Timeout: cfg.RequestTimeout, Transport: transport}
	providerClient := provider.New(provider.Config{
		BaseURL:  cfg.APIBaseURL,
		APIKey:   cfg.APIKey,
		Currency: cfg.Currency,
	}, httpClient, log)

	fetcher := ingest.NewFetcher(providerClient, ingest.FetcherConfig{
		PageSize:     cfg.PageSize,
		PageCap:      cfg.PageCap,
		Concurrency:  cfg.Concurrency,
		Retries:      cfg.Retries,
		RateLimitRPS: cfg.RateLimitRPS,
	}, log)

	scheduler := ingest.NewScheduler(ingest.SchedulerConfig{
		BucketMS:     cfg.BucketMS,
		TickDeadline: cfg.TickDeadline,
	}, fetcher, gateway, sink, nil, log)

	engine := indicator.NewEngine(indicator.EngineConfig{
		BucketMS:     cfg.BucketMS,
		PollInterval: cfg.PollInterval,
		SafetyDelay:  cfg.SafetyDelay,
		Retries:      cfg.Retries,
	}, gateway, sink, nil, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	done := make(chan struct{}, 2)
	go func() {
		scheduler.Run(ctx)
		done <- struct{}{}
	}()
	go func() {
		engine.Run(ctx)
		done <- struct{}{}
	}()

	<-ctx.Done()
	log.Info().Msg("shutdown signal received, draining in-flight work")

	shutdownDeadline := time.After(30 * time.Second)
	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-shutdownDeadline:
			log.Warn().Msg("shutdown deadline exceeded, exiting anyway")
			logFinalExit(log)
			return
		}
	}
	logFinalExit(log)
}

func logFinalExit(log zerolog.Logger) {
	log.Info().Msg("coinwatch stopped cleanly")
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
