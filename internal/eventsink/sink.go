package eventsink

import (
	"context"

	"github.com/rs/zerolog"
)

// Sink accepts structured events and forwards them to its channels. Emit
// must never block the caller long enough to matter and must never return
// an error — delivery failures are the channel's concern (§4.1).
type Sink interface {
	Emit(ctx context.Context, ev Event)
}

// Channel is one outbound delivery mechanism (log line, webhook POST, ...).
// A channel's own errors are logged and swallowed; they are never returned
// to the caller of Sink.Emit.
type Channel interface {
	Deliver(ctx context.Context, ev Event)
}

// MultiSink fans an event out to every configured channel. This is the
// concrete Sink wired in main.go.
type MultiSink struct {
	channels []Channel
	log      zerolog.Logger
}

// NewMultiSink builds a sink over the given channels.
func NewMultiSink(log zerolog.Logger, channels ...Channel) *MultiSink {
	return &MultiSink{
		channels: channels,
		log:      log.With().Str("component", "eventsink").Logger(),
	}
}

// Emit delivers ev to every channel, one after another on the caller's
// goroutine. A channel that does slow work (WebhookChannel) hands it to its
// own goroutines, so it does not hold up the caller or the next channel.
func (s *MultiSink) Emit(ctx context.Context, ev Event) {
	for _, ch := range s.channels {
		ch.Deliver(ctx, ev)
	}
}
