// Package metrics provides agent counters and a Prometheus exporter.
//
// The Collector accumulates counters for the lifetime of one agent process.
// Tail and session counters are fed from diagnostic events via Observe;
// journal and notification counters are incremented directly by those
// components. All methods are nil-receiver safe.
package metrics

import (
	"sync"

	"github.com/pithecene-io/logline/types"
)

// Snapshot is an immutable point-in-time view of all counters.
// Returned by Collector.Snapshot(). Safe to read concurrently after creation.
type Snapshot struct {
	// Tail reader
	BytesRead    int64
	ChunksQueued int64
	Truncations  int64
	Rotations    int64
	FileMissing  int64
	ReadErrors   int64

	// Connection session
	ConnectAttempts   int64
	ConnectFailures   int64
	HandshakeFailures int64
	Handshakes        int64
	ConnectionsLost   int64
	ChunksSent        int64
	BytesSent         int64
	FramesSent        int64
	Keepalives        int64
	Resends           int64
	ChunksDropped     int64

	// Session journal
	JournalWriteSuccess int64
	JournalWriteFailure int64

	// Notifications
	NotifySuccess int64
	NotifyFailure int64
	NotifyDropped int64

	// Dimensions (informational, set at construction)
	Service        string
	DeviceID       string
	AgentID        string
	WatchMode      string
	JournalBackend string
}

// Dimensions labels a Collector.
type Dimensions struct {
	Service        string
	DeviceID       string
	AgentID        string
	WatchMode      string
	JournalBackend string
}

// Collector accumulates metrics for one agent.
// Thread-safe via sync.Mutex. All methods are nil-receiver safe.
type Collector struct {
	mu   sync.Mutex
	snap Snapshot
}

// NewCollector creates a Collector with dimension labels.
func NewCollector(dims Dimensions) *Collector {
	return &Collector{snap: Snapshot{
		Service:        dims.Service,
		DeviceID:       dims.DeviceID,
		AgentID:        dims.AgentID,
		WatchMode:      dims.WatchMode,
		JournalBackend: dims.JournalBackend,
	}}
}

// Observe implements types.Observer, counting tail and session events.
func (c *Collector) Observe(e types.Event) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	s := &c.snap
	switch e.Kind {
	case types.EventChunkQueued:
		s.ChunksQueued++
		s.BytesRead += intField(e.Fields, "bytes")
	case types.EventFileTruncated:
		s.Truncations++
	case types.EventFileRotated:
		s.Rotations++
	case types.EventFileMissing:
		s.FileMissing++
	case types.EventFileReadError:
		s.ReadErrors++
	case types.EventConnecting:
		s.ConnectAttempts++
	case types.EventConnectFailed:
		s.ConnectFailures++
	case types.EventHandshakeFailed:
		s.HandshakeFailures++
	case types.EventHandshakeSent:
		s.Handshakes++
	case types.EventConnectionLost:
		s.ConnectionsLost++
	case types.EventChunkSent:
		s.ChunksSent++
		s.BytesSent += intField(e.Fields, "bytes")
		s.FramesSent += intField(e.Fields, "frames")
		if resent, _ := e.Fields["resent"].(bool); resent {
			s.Resends++
		}
	case types.EventKeepaliveSent:
		s.Keepalives++
		s.FramesSent++
	case types.EventChunkDropped:
		s.ChunksDropped++
	}
}

// --- Session journal ---

// IncJournalWriteSuccess records a successful journal write.
func (c *Collector) IncJournalWriteSuccess() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.snap.JournalWriteSuccess++
	c.mu.Unlock()
}

// IncJournalWriteFailure records a failed journal write.
func (c *Collector) IncJournalWriteFailure() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.snap.JournalWriteFailure++
	c.mu.Unlock()
}

// --- Notifications ---

// IncNotifySuccess records a delivered notification.
func (c *Collector) IncNotifySuccess() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.snap.NotifySuccess++
	c.mu.Unlock()
}

// IncNotifyFailure records a notification that failed after retries.
func (c *Collector) IncNotifyFailure() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.snap.NotifyFailure++
	c.mu.Unlock()
}

// IncNotifyDropped records a notification dropped because the outbox was full.
func (c *Collector) IncNotifyDropped() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.snap.NotifyDropped++
	c.mu.Unlock()
}

// --- Snapshot ---

// Snapshot returns an immutable point-in-time view of all metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap
}

// intField reads a numeric event field regardless of its integer width.
func intField(fields map[string]any, key string) int64 {
	switch v := fields[key].(type) {
	case int:
		return int64(v)
	case int64:
		return v
	case int32:
		return int64(v)
	case uint64:
		return int64(v)
	default:
		return 0
	}
}

var _ types.Observer = (*Collector)(nil)
