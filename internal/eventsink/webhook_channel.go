package eventsink

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// WebhookChannel POSTs each event to a fixed set of outbound URLs, per §6.4.
// One delivery attempt per event per URL; no retries (the spec reserves
// retry policy to the channel, and this channel's policy is at-most-once).
type WebhookChannel struct {
	urls       []string
	httpClient *http.Client
	log        zerolog.Logger
}

// NewWebhookChannel builds a channel that posts to the given URLs.
func NewWebhookChannel(urls []string, log zerolog.Logger) *WebhookChannel {
	return &WebhookChannel{
		urls: urls,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
		log: log.With().Str("component", "eventsink.webhook").Logger(),
	}
}

// Deliver posts ev to every configured URL in its own goroutine so a slow or
// unreachable webhook never blocks the caller or other channels.
func (c *WebhookChannel) Deliver(ctx context.Context, ev Event) {
	if len(c.urls) == 0 {
		return
	}

	body, err := json.Marshal(ev)
	if err != nil {
		c.log.Warn().Err(err).Msg("failed to marshal event for webhook delivery")
		return
	}

	for _, url := range c.urls {
		go c.post(ctx, url, body)
	}
}

func (c *WebhookChannel) post(ctx context.Context, url string, body []byte) {
	reqCtx, cancel := context.WithTimeout(ctx, c.httpClient.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		c.log.Warn().Err(err).Str("url", url).Msg("failed to build webhook request")
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Warn().Err(err).Str("url", url).Msg("webhook delivery failed")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		c.log.Warn().Int("status", resp.StatusCode).Str("url", url).Msg("webhook endpoint rejected event")
	}
}
