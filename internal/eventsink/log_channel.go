package eventsink

import (
	"context"

	"github.com/rs/zerolog"
)

// LogChannel writes one structured log line per event. It never fails.
type LogChannel struct {
	log zerolog.Logger
}

// NewLogChannel builds a log-backed channel.
func NewLogChannel(log zerolog.Logger) *LogChannel {
	return &LogChannel{log: log.With().Str("component", "eventsink.log").Logger()}
}

// Deliver writes ev as a structured log line at the level it carries.
func (c *LogChannel) Deliver(_ context.Context, ev Event) {
	var logEvent *zerolog.Event
	switch ev.Level {
	case LevelWarn:
		logEvent = c.log.Warn()
	case LevelError, LevelCritical:
		logEvent = c.log.Error()
	default:
		logEvent = c.log.Info()
	}

	logEvent = logEvent.
		Str("kind", string(ev.Kind)).
		Str("service", ev.Service).
		Int64("ts", ev.TimestampMS)

	for k, v := range ev.Details {
		logEvent = logEvent.Interface(k, v)
	}
	for k, v := range ev.Metrics {
		logEvent = logEvent.Interface(k, v)
	}

	logEvent.Msg(ev.Message)
}
