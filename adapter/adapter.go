// Package adapter publishes agent lifecycle notifications to downstream
// systems.
//
// Notifications are best effort. They never slow down tailing or
// streaming: the Notifier buffers events and drops them when the buffer
// is full or the downstream system is unreachable.
package adapter

import (
	"context"
	"time"

	"github.com/pithecene-io/logline/types"
)

// AgentEvent is the payload published for one lifecycle event.
type AgentEvent struct {
	EventType    string         `json:"event_type"`
	Service      string         `json:"service"`
	DeviceID     string         `json:"device_id"`
	AgentID      string         `json:"agent_id"`
	FilePath     string         `json:"file_path"`
	AgentVersion string         `json:"agent_version"`
	Timestamp    string         `json:"timestamp"` // RFC 3339
	Fields       map[string]any `json:"fields,omitempty"`
}

// Origin identifies the agent in every published event.
type Origin struct {
	Service  string
	DeviceID string
	AgentID  string
	FilePath string
}

// NewAgentEvent builds the payload for e.
func NewAgentEvent(o Origin, e types.Event) *AgentEvent {
	ts := e.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	return &AgentEvent{
		EventType:    string(e.Kind),
		Service:      o.Service,
		DeviceID:     o.DeviceID,
		AgentID:      o.AgentID,
		FilePath:     o.FilePath,
		AgentVersion: types.Version,
		Timestamp:    ts.UTC().Format(time.RFC3339Nano),
		Fields:       e.Fields,
	}
}

// Adapter publishes agent events to a downstream system.
type Adapter interface {
	// Publish sends one event downstream.
	// Must respect context cancellation and deadlines.
	Publish(ctx context.Context, event *AgentEvent) error

	// Close releases adapter resources.
	Close() error
}
