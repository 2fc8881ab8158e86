// Package journal persists one record per collector connection to a Lode
// dataset, partitioned by service, day, and agent.
//
// The journal is an operational history: when the agent connected, how long
// each connection lasted, what it delivered, and why it ended. It is written
// off the streaming path and never blocks delivery.
package journal

import (
	"time"

	"github.com/google/uuid"

	"github.com/pithecene-io/logline/session"
	"github.com/pithecene-io/logline/types"
)

// RecordKindSession is the record_kind discriminator for session records.
const RecordKindSession = "session"

// DefaultDataset is the Lode dataset ID used for the journal.
const DefaultDataset = "logline"

// partitionKeys is the Hive layout shared by the write and read paths.
var partitionKeys = []string{"service", "day", "agent_id"}

// Identity is the agent context stamped on every record.
type Identity struct {
	Service    string
	DeviceID   string
	AgentID    string
	FilePath   string
	ServerAddr string
}

// SessionRecord is the storage format for one connection.
type SessionRecord struct {
	RecordKind   string `json:"record_kind" yaml:"record_kind" table:"-"`
	SessionID    string `json:"session_id" yaml:"session_id"`
	AgentVersion string `json:"agent_version" yaml:"agent_version" table:"-"`

	Service    string `json:"service" yaml:"service"`
	DeviceID   string `json:"device_id" yaml:"device_id" table:"-"`
	AgentID    string `json:"agent_id" yaml:"agent_id"`
	FilePath   string `json:"file_path" yaml:"file_path" table:"-"`
	ServerAddr string `json:"server_addr" yaml:"server_addr" table:"-"`
	RemoteAddr string `json:"remote_addr" yaml:"remote_addr" table:"-"`

	ConnectedAt string `json:"connected_at" yaml:"connected_at"`
	ClosedAt    string `json:"closed_at" yaml:"closed_at" table:"-"`
	DurationMs  int64  `json:"duration_ms" yaml:"duration_ms"`

	Streamed   bool   `json:"streamed" yaml:"streamed"`
	Chunks     int64  `json:"chunks" yaml:"chunks"`
	Frames     int64  `json:"frames" yaml:"frames" table:"-"`
	Bytes      int64  `json:"bytes" yaml:"bytes"`
	Keepalives int64  `json:"keepalives" yaml:"keepalives" table:"-"`
	EndState   string `json:"end_state" yaml:"end_state"`
	Error      string `json:"error,omitempty" yaml:"error,omitempty" table:"-"`

	// Partition key
	Day string `json:"day" yaml:"day" table:"-"`
}

// NewSessionRecord builds a record from a finished connection summary.
// Each record gets a fresh random session ID.
func NewSessionRecord(id Identity, s session.Summary) SessionRecord {
	closed := s.ClosedAt
	if closed.IsZero() {
		closed = time.Now()
	}
	r := SessionRecord{
		RecordKind:   RecordKindSession,
		SessionID:    uuid.NewString(),
		AgentVersion: types.Version,
		Service:      id.Service,
		DeviceID:     id.DeviceID,
		AgentID:      id.AgentID,
		FilePath:     id.FilePath,
		ServerAddr:   id.ServerAddr,
		RemoteAddr:   s.RemoteAddr,
		ConnectedAt:  s.ConnectedAt.UTC().Format(time.RFC3339Nano),
		ClosedAt:     closed.UTC().Format(time.RFC3339Nano),
		DurationMs:   closed.Sub(s.ConnectedAt).Milliseconds(),
		Streamed:     s.Streamed,
		Chunks:       s.Chunks,
		Frames:       s.Frames,
		Bytes:        s.Bytes,
		Keepalives:   s.Keepalives,
		EndState:     s.EndState.String(),
		Day:          s.ConnectedAt.UTC().Format(time.DateOnly),
	}
	if s.Err != nil {
		r.Error = s.Err.Error()
	}
	return r
}

// toRecordMap converts a record to the map form Lode's Hive layout reads
// partition keys from.
func toRecordMap(r SessionRecord) map[string]any {
	m := map[string]any{
		"record_kind":   r.RecordKind,
		"session_id":    r.SessionID,
		"agent_version": r.AgentVersion,
		"service":       r.Service,
		"device_id":     r.DeviceID,
		"agent_id":      r.AgentID,
		"file_path":     r.FilePath,
		"server_addr":   r.ServerAddr,
		"remote_addr":   r.RemoteAddr,
		"connected_at":  r.ConnectedAt,
		"closed_at":     r.ClosedAt,
		"duration_ms":   r.DurationMs,
		"streamed":      r.Streamed,
		"chunks":        r.Chunks,
		"frames":        r.Frames,
		"bytes":         r.Bytes,
		"keepalives":    r.Keepalives,
		"end_state":     r.EndState,
		"day":           r.Day,
	}
	if r.Error != "" {
		m["error"] = r.Error
	}
	return m
}

// fromRecordMap is the inverse of toRecordMap for decoded JSONL rows.
// Numbers decode as float64 or json.Number depending on the codec.
func fromRecordMap(m map[string]any) SessionRecord {
	return SessionRecord{
		RecordKind:   toString(m["record_kind"]),
		SessionID:    toString(m["session_id"]),
		AgentVersion: toString(m["agent_version"]),
		Service:      toString(m["service"]),
		DeviceID:     toString(m["device_id"]),
		AgentID:      toString(m["agent_id"]),
		FilePath:     toString(m["file_path"]),
		ServerAddr:   toString(m["server_addr"]),
		RemoteAddr:   toString(m["remote_addr"]),
		ConnectedAt:  toString(m["connected_at"]),
		ClosedAt:     toString(m["closed_at"]),
		DurationMs:   toInt64(m["duration_ms"]),
		Streamed:     m["streamed"] == true,
		Chunks:       toInt64(m["chunks"]),
		Frames:       toInt64(m["frames"]),
		Bytes:        toInt64(m["bytes"]),
		Keepalives:   toInt64(m["keepalives"]),
		EndState:     toString(m["end_state"]),
		Error:        toString(m["error"]),
		Day:          toString(m["day"]),
	}
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	case interface{ Int64() (int64, error) }:
		i, _ := n.Int64()
		return i
	default:
		return 0
	}
}
