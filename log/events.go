package log

import (
	"strings"

	"github.com/pithecene-io/logline/types"
)

// EventObserver writes diagnostic events to a Logger.
// Data-loss and connectivity events are warnings, lifecycle events are
// info, and per-chunk events are debug.
type EventObserver struct {
	logger *Logger
}

// NewEventObserver creates an observer logging to l.
func NewEventObserver(l *Logger) *EventObserver {
	return &EventObserver{logger: l}
}

// Observe implements types.Observer.
func (o *EventObserver) Observe(e types.Event) {
	msg := strings.ReplaceAll(string(e.Kind), "_", " ")
	switch LevelFor(e.Kind) {
	case LevelDebug:
		o.logger.Debug(msg, e.Fields)
	case LevelWarn:
		o.logger.Warn(msg, e.Fields)
	case LevelError:
		o.logger.Error(msg, e.Fields)
	default:
		o.logger.Info(msg, e.Fields)
	}
}

// Level is the log level an event kind is written at.
type Level int

// Levels.
const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// LevelFor maps an event kind to its log level.
func LevelFor(kind types.EventKind) Level {
	switch kind {
	case types.EventChunkQueued, types.EventChunkSent, types.EventKeepaliveSent,
		types.EventConnecting, types.EventHandshakeSent:
		return LevelDebug
	case types.EventFileTruncated, types.EventFileRotated, types.EventFileMissing,
		types.EventConnectFailed, types.EventConnectionLost, types.EventHandshakeFailed,
		types.EventQueueFull, types.EventWatchFallback, types.EventWatchError, types.EventBackoff:
		return LevelWarn
	case types.EventFileReadError, types.EventChunkDropped:
		return LevelError
	default:
		return LevelInfo
	}
}

var _ types.Observer = (*EventObserver)(nil)
