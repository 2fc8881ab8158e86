package types

import "time"

// EventKind classifies a diagnostic event emitted by the agent core.
type EventKind string

// Diagnostic event kinds.
const (
	// Tail reader.
	EventTailStarted   EventKind = "tail_started"
	EventFileOpened    EventKind = "file_opened"
	EventFileMissing   EventKind = "file_missing"
	EventFileTruncated EventKind = "file_truncated"
	EventFileRotated   EventKind = "file_rotated"
	EventFileReadError EventKind = "file_read_error"
	EventChunkQueued   EventKind = "chunk_queued"
	EventQueueFull     EventKind = "queue_full"
	EventWatchFallback EventKind = "watch_fallback"
	EventWatchError    EventKind = "watch_error"
	EventTailStopped   EventKind = "tail_stopped"

	// Connection session.
	EventConnecting      EventKind = "connecting"
	EventConnectFailed   EventKind = "connect_failed"
	EventConnected       EventKind = "connected"
	EventHandshakeSent   EventKind = "handshake_sent"
	EventHandshakeFailed EventKind = "handshake_failed"
	EventChunkSent       EventKind = "chunk_sent"
	EventChunkDropped    EventKind = "chunk_dropped"
	EventKeepaliveSent   EventKind = "keepalive_sent"
	EventConnectionLost  EventKind = "connection_lost"
	EventBackoff         EventKind = "backoff"
	EventDraining        EventKind = "draining"
	EventSessionStopped  EventKind = "session_stopped"

	// Supervisor.
	EventAgentStarted EventKind = "agent_started"
	EventAgentStopped EventKind = "agent_stopped"
)

// AllEventKinds lists every kind the agent emits.
var AllEventKinds = []EventKind{
	EventTailStarted, EventFileOpened, EventFileMissing, EventFileTruncated,
	EventFileRotated, EventFileReadError, EventChunkQueued, EventQueueFull,
	EventWatchFallback, EventWatchError, EventTailStopped,
	EventConnecting, EventConnectFailed, EventConnected, EventHandshakeSent,
	EventHandshakeFailed, EventChunkSent, EventChunkDropped, EventKeepaliveSent,
	EventConnectionLost, EventBackoff, EventDraining, EventSessionStopped,
	EventAgentStarted, EventAgentStopped,
}

// Event is a structured diagnostic record. Formatting and verbosity are
// the observer's concern; the core only describes what happened.
type Event struct {
	Kind   EventKind      `json:"kind"`
	Time   time.Time      `json:"time"`
	Fields map[string]any `json:"fields,omitempty"`
}

// NewEvent creates an event stamped with the current time.
func NewEvent(kind EventKind, fields map[string]any) Event {
	return Event{Kind: kind, Time: time.Now(), Fields: fields}
}

// Observer consumes diagnostic events.
// Observe is called synchronously on the emitting goroutine and must not block.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

// Observe implements Observer.
func (f ObserverFunc) Observe(e Event) { f(e) }

// Observers fans an event out to every non-nil observer in order.
type Observers []Observer

// Observe implements Observer.
func (o Observers) Observe(e Event) {
	for _, obs := range o {
		if obs != nil {
			obs.Observe(e)
		}
	}
}

// Emit sends an event to obs if obs is non-nil.
func Emit(obs Observer, kind EventKind, fields map[string]any) {
	if obs == nil {
		return
	}
	obs.Observe(NewEvent(kind, fields))
}
