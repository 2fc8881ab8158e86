package tail

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParseWatchMode(t *testing.T) {
	tests := []struct {
		in      string
		want    WatchMode
		wantErr bool
	}{
		{"", WatchNotify, false},
		{"notify", WatchNotify, false},
		{"poll", WatchPoll, false},
		{"inotify", "", true},
	}
	for _, tt := range tests {
		got, err := ParseWatchMode(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseWatchMode(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseWatchMode(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestPollSource_Timeout(t *testing.T) {
	src := NewPollSource(10 * time.Millisecond)
	start := time.Now()
	c, err := src.WaitForChange(t.Context())
	if err != nil {
		t.Fatalf("WaitForChange() error = %v", err)
	}
	if c != Timeout {
		t.Errorf("change = %v, want timeout", c)
	}
	if elapsed := time.Since(start); elapsed < 10*time.Millisecond {
		t.Errorf("returned after %v, before the interval", elapsed)
	}
}

func TestPollSource_Cancel(t *testing.T) {
	src := NewPollSource(time.Hour)
	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	if _, err := src.WaitForChange(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

func TestNotifySource_DetectsWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")
	writeFile(t, path, "")

	src, err := NewNotifySource(path, 5*time.Second)
	if err != nil {
		t.Skipf("notifications unavailable: %v", err)
	}
	defer func() { _ = src.Close() }()

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = os.WriteFile(path, []byte("line\n"), 0o644)
	}()

	ctx, cancel := context.WithTimeout(t.Context(), 2*time.Second)
	defer cancel()
	c, err := src.WaitForChange(ctx)
	if err != nil {
		t.Fatalf("WaitForChange() error = %v", err)
	}
	if c != Changed {
		t.Errorf("change = %v, want changed", c)
	}
}

func TestNotifySource_IgnoresSiblings(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")
	writeFile(t, path, "")

	src, err := NewNotifySource(path, 100*time.Millisecond)
	if err != nil {
		t.Skipf("notifications unavailable: %v", err)
	}
	defer func() { _ = src.Close() }()

	if err := os.WriteFile(filepath.Join(dir, "other.log"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write sibling: %v", err)
	}
	c, err := src.WaitForChange(t.Context())
	if err != nil {
		t.Fatalf("WaitForChange() error = %v", err)
	}
	if c != Timeout {
		t.Errorf("change = %v, want timeout for sibling write", c)
	}
}

func TestNotifySource_ReportsWatcherError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	writeFile(t, path, "")

	src, err := NewNotifySource(path, 5*time.Second)
	if err != nil {
		t.Skipf("notifications unavailable: %v", err)
	}
	defer func() { _ = src.Close() }()

	overflow := errors.New("event queue overflow")
	go func() { src.watcher.Errors <- overflow }()

	ctx, cancel := context.WithTimeout(t.Context(), 2*time.Second)
	defer cancel()
	c, err := src.WaitForChange(ctx)
	var we *WatchError
	if !errors.As(err, &we) || !errors.Is(err, overflow) {
		t.Fatalf("WaitForChange() error = %v, want *WatchError wrapping overflow", err)
	}
	if c != Timeout {
		t.Errorf("change = %v, want timeout", c)
	}
}

func TestNewChangeSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")

	src, err := NewChangeSource(WatchPoll, path, time.Millisecond)
	if err != nil {
		t.Fatalf("NewChangeSource(poll) error = %v", err)
	}
	if _, ok := src.(*PollSource); !ok {
		t.Errorf("poll mode built %T", src)
	}

	src, err = NewChangeSource(WatchNotify, filepath.Join(t.TempDir(), "gone", "app.log"), time.Millisecond)
	if err == nil {
		t.Error("expected setup error for missing directory")
	}
	if _, ok := src.(*PollSource); !ok {
		t.Errorf("fallback built %T, want *PollSource", src)
	}
}
