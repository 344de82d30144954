// Package eventsink implements the Event Sink component of spec §4.1: a
// minimal, emit-only fan-out from the core to zero or more outbound
// channels. The sink never observes replies and never fails the caller.
package eventsink

// Kind is the closed set of event kinds a caller may emit, per §4.1.
type Kind string

const (
	KindSyncStart       Kind = "sync_start"
	KindSyncSuccess     Kind = "sync_success"
	KindSyncPartial     Kind = "sync_partial"
	KindSyncFailure     Kind = "sync_failure"
	KindIndicatorStart  Kind = "indicator_start"
	KindIndicatorSuccess Kind = "indicator_success"
	KindIndicatorFailure Kind = "indicator_failure"
	KindHealth          Kind = "health"
)

// Level is the event severity, per §4.1.
type Level string

const (
	LevelInfo     Level = "info"
	LevelWarn     Level = "warn"
	LevelError    Level = "error"
	LevelCritical Level = "critical"
)

// Event is the structured payload described in §4.1 and the outbound wire
// format of §6.4.
type Event struct {
	Service     string         `json:"service"`
	Kind        Kind           `json:"kind"`
	Level       Level          `json:"level"`
	Message     string         `json:"message"`
	Details     map[string]any `json:"details,omitempty"`
	Metrics     map[string]any `json:"metrics,omitempty"`
	TimestampMS int64          `json:"ts"`
}
