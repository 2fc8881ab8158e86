package tail

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultPollInterval bounds detection latency when no notification arrives.
const DefaultPollInterval = 200 * time.Millisecond

// Change is the outcome of waiting for a file change.
type Change int

const (
	// Changed means a notification for the monitored path arrived.
	Changed Change = iota
	// Timeout means the poll interval elapsed without a notification.
	Timeout
)

func (c Change) String() string {
	switch c {
	case Changed:
		return "changed"
	case Timeout:
		return "timeout"
	default:
		return fmt.Sprintf("Change(%d)", int(c))
	}
}

// ChangeSource signals when the monitored file may have changed.
// The reader re-checks the file after every return, so a source may
// report spurious changes but must never block longer than its interval.
type ChangeSource interface {
	// WaitForChange blocks until a change, a timeout, or cancellation.
	WaitForChange(ctx context.Context) (Change, error)
	// Close releases the source's resources.
	Close() error
}

// WatchMode selects the change detection backend.
type WatchMode string

const (
	// WatchNotify uses filesystem notifications with a poll fallback.
	WatchNotify WatchMode = "notify"
	// WatchPoll polls at a fixed interval.
	WatchPoll WatchMode = "poll"
)

// ParseWatchMode validates a watch mode string. Empty means WatchNotify.
func ParseWatchMode(s string) (WatchMode, error) {
	switch WatchMode(s) {
	case "", WatchNotify:
		return WatchNotify, nil
	case WatchPoll:
		return WatchPoll, nil
	default:
		return "", fmt.Errorf("unknown watch mode %q (want notify or poll)", s)
	}
}

// PollSource reports Timeout once per interval.
type PollSource struct {
	interval time.Duration
}

// NewPollSource creates a poll-based source.
func NewPollSource(interval time.Duration) *PollSource {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &PollSource{interval: interval}
}

// WaitForChange implements ChangeSource.
func (p *PollSource) WaitForChange(ctx context.Context) (Change, error) {
	timer := time.NewTimer(p.interval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return Timeout, ctx.Err()
	case <-timer.C:
		return Timeout, nil
	}
}

// Close implements ChangeSource.
func (p *PollSource) Close() error { return nil }

// NotifySource watches the parent directory of the monitored file.
// Watching the directory rather than the file keeps notifications flowing
// across rotation, where the path is re-pointed at a new inode.
// The poll interval still applies so missed or coalesced events are
// picked up within a bounded delay.
type NotifySource struct {
	watcher  *fsnotify.Watcher
	name     string
	interval time.Duration
}

// WatchError reports a transient notification failure, such as an event
// queue overflow. The source stays usable; the caller re-checks the file.
type WatchError struct {
	Err error
}

func (e *WatchError) Error() string { return "watch: " + e.Err.Error() }

func (e *WatchError) Unwrap() error { return e.Err }

// NewNotifySource starts watching the directory containing path.
func NewNotifySource(path string, interval time.Duration) (*NotifySource, error) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}
	return &NotifySource{
		watcher:  w,
		name:     filepath.Base(abs),
		interval: interval,
	}, nil
}

// WaitForChange implements ChangeSource.
// Events for other files in the directory are ignored. Watcher errors
// are returned as a *WatchError alongside Timeout.
func (n *NotifySource) WaitForChange(ctx context.Context) (Change, error) {
	timer := time.NewTimer(n.interval)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return Timeout, ctx.Err()
		case <-timer.C:
			return Timeout, nil
		case ev, ok := <-n.watcher.Events:
			if !ok {
				return Timeout, errors.New("watcher closed")
			}
			if filepath.Base(ev.Name) == n.name {
				return Changed, nil
			}
		case err, ok := <-n.watcher.Errors:
			if !ok {
				return Timeout, errors.New("watcher closed")
			}
			return Timeout, &WatchError{Err: err}
		}
	}
}

// Close implements ChangeSource.
func (n *NotifySource) Close() error {
	return n.watcher.Close()
}

// NewChangeSource builds the source for mode. When notifications cannot be
// set up it falls back to polling and returns the setup error alongside the
// working source so the caller can report the fallback.
func NewChangeSource(mode WatchMode, path string, interval time.Duration) (ChangeSource, error) {
	if mode == WatchPoll {
		return NewPollSource(interval), nil
	}
	src, err := NewNotifySource(path, interval)
	if err != nil {
		return NewPollSource(interval), err
	}
	return src, nil
}
