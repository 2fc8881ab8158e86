package runtime

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/pithecene-io/logline/identity"
	"github.com/pithecene-io/logline/llp"
	"github.com/pithecene-io/logline/session"
	"github.com/pithecene-io/logline/tail"
	"github.com/pithecene-io/logline/types"
)

// collector is a minimal LLP server that records every frame it receives.
type collector struct {
	ln net.Listener

	mu         sync.Mutex
	handshakes []llp.Handshake
	data       bytes.Buffer
}

func newCollector(t *testing.T) *collector {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	c := &collector{ln: ln}
	go c.serve()
	t.Cleanup(func() { _ = ln.Close() })
	return c
}

func (c *collector) serve() {
	for {
		conn, err := c.ln.Accept()
		if err != nil {
			return
		}
		go c.handle(conn)
	}
}

func (c *collector) handle(conn net.Conn) {
	defer func() { _ = conn.Close() }()
	dec := llp.NewFrameDecoder(conn)
	for {
		f, err := dec.ReadFrame()
		if err != nil {
			return
		}
		c.mu.Lock()
		switch f.Type {
		case llp.TypeHandshake:
			if h, err := llp.UnmarshalHandshake(f.Payload); err == nil {
				c.handshakes = append(c.handshakes, h)
			}
		case llp.TypeLogData:
			c.data.Write(f.Payload)
		}
		c.mu.Unlock()
	}
}

func (c *collector) addr() string { return c.ln.Addr().String() }

func (c *collector) received() (string, []llp.Handshake) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.data.String(), append([]llp.Handshake(nil), c.handshakes...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func testConfig(path, server string) Config {
	return Config{
		Agent: types.AgentConfig{
			ServiceName: "api",
			ServerAddr:  server,
			FilePath:    path,
			DeviceID:    "host-1",
			TailBytes:   types.DefaultTailBytes,
		},
		Watch:        tail.WatchPoll,
		PollInterval: 10 * time.Millisecond,
		Backoff: session.BackoffConfig{
			Initial:    10 * time.Millisecond,
			Max:        50 * time.Millisecond,
			Multiplier: 2,
		},
		DrainTimeout: time.Second,
	}
}

type runOutcome struct {
	res *Result
	err error
}

func start(t *testing.T, s *Supervisor) (context.CancelFunc, <-chan runOutcome) {
	t.Helper()
	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan runOutcome, 1)
	go func() {
		res, err := s.Run(ctx)
		done <- runOutcome{res, err}
	}()
	t.Cleanup(cancel)
	return cancel, done
}

func stop(t *testing.T, cancel context.CancelFunc, done <-chan runOutcome) runOutcome {
	t.Helper()
	cancel()
	select {
	case out := <-done:
		return out
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
		return runOutcome{}
	}
}

func TestNewSupervisor_ConfigErrors(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "app.log")

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"path is directory", func(c *Config) { c.Agent.FilePath = dir }},
		{"missing parent", func(c *Config) { c.Agent.FilePath = filepath.Join(dir, "nope", "app.log") }},
		{"bad server address", func(c *Config) { c.Agent.ServerAddr = "no-port" }},
		{"non-numeric port", func(c *Config) { c.Agent.ServerAddr = "localhost:http" }},
		{"missing service", func(c *Config) { c.Agent.ServiceName = "" }},
		{"missing device", func(c *Config) { c.Agent.DeviceID = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(file, "127.0.0.1:12500")
			tt.mutate(&cfg)
			_, err := NewSupervisor(cfg)
			if err == nil {
				t.Fatal("NewSupervisor() error = nil, want config error")
			}
			if !types.IsConfigError(err) {
				t.Errorf("IsConfigError(%v) = false", err)
			}
		})
	}
}

func TestNewSupervisor_MissingFileAllowed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "later.log")
	s, err := NewSupervisor(testConfig(path, "127.0.0.1:12500"))
	if err != nil {
		t.Fatalf("NewSupervisor() error = %v", err)
	}
	if want := identity.AgentID("host-1", path); s.AgentID() != want {
		t.Errorf("AgentID() = %q, want %q", s.AgentID(), want)
	}
}

// A 100-byte file with tail_bytes=10 sends exactly the last 10 bytes
// after the handshake, then whatever is appended.
func TestSupervisor_EndToEnd_TailBytes(t *testing.T) {
	srv := newCollector(t)
	path := filepath.Join(t.TempDir(), "app.log")
	content := bytes.Repeat([]byte("0123456789"), 10)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := testConfig(path, srv.addr())
	cfg.Agent.TailBytes = 10
	s, err := NewSupervisor(cfg)
	if err != nil {
		t.Fatalf("NewSupervisor() error = %v", err)
	}
	cancel, done := start(t, s)

	waitFor(t, "tail bytes", func() bool {
		data, _ := srv.received()
		return len(data) >= 10
	})
	data, hs := srv.received()
	if data != "0123456789" {
		t.Fatalf("first LogData bytes = %q, want last 10 bytes", data)
	}
	if len(hs) != 1 {
		t.Fatalf("handshakes = %d, want 1", len(hs))
	}
	if hs[0].ServiceName != "api" || hs[0].AgentID != s.AgentID() || hs[0].FilePath != path {
		t.Errorf("handshake = %+v", hs[0])
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = f.WriteString("appended\n")
	_ = f.Close()

	waitFor(t, "appended bytes", func() bool {
		data, _ := srv.received()
		return data == "0123456789appended\n"
	})

	out := stop(t, cancel, done)
	if out.err != nil {
		t.Fatalf("Run() error = %v", out.err)
	}
	if out.res.Tail.Offset != 109 {
		t.Errorf("final offset = %d, want 109", out.res.Tail.Offset)
	}
	if out.res.Session.BytesSent != 19 {
		t.Errorf("BytesSent = %d, want 19", out.res.Session.BytesSent)
	}
	if out.res.Queue.Chunks != 0 {
		t.Errorf("unsent chunks = %d, want 0", out.res.Queue.Chunks)
	}
}

func TestSupervisor_TailsWhileDisconnected(t *testing.T) {
	// Reserve a port with nothing listening on it.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	path := filepath.Join(t.TempDir(), "app.log")
	if err := os.WriteFile(path, []byte("queued while offline\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := testConfig(path, addr)
	cfg.Agent.FromStart = true
	cfg.DrainTimeout = 0

	var mu sync.Mutex
	var kinds []types.EventKind
	cfg.Observer = types.ObserverFunc(func(e types.Event) {
		mu.Lock()
		kinds = append(kinds, e.Kind)
		mu.Unlock()
	})

	s, err := NewSupervisor(cfg)
	if err != nil {
		t.Fatalf("NewSupervisor() error = %v", err)
	}
	cancel, done := start(t, s)

	waitFor(t, "chunk queued", func() bool { return s.QueueStats().Bytes == 21 })
	waitFor(t, "backoff", func() bool { return s.SessionState() == session.Backoff })

	out := stop(t, cancel, done)
	if out.err != nil {
		t.Fatalf("Run() error = %v", out.err)
	}
	if out.res.Queue.Bytes != 21 {
		t.Errorf("unsent bytes = %d, want 21", out.res.Queue.Bytes)
	}
	if out.res.Session.ConnectFailures == 0 {
		t.Error("ConnectFailures = 0, want > 0")
	}

	mu.Lock()
	defer mu.Unlock()
	started := false
	for _, k := range kinds {
		if k == types.EventAgentStarted {
			started = true
			break
		}
		if k != types.EventFileOpened {
			t.Errorf("event %s before agent_started", k)
		}
	}
	if !started {
		t.Error("agent_started not emitted")
	}
	if kinds[len(kinds)-1] != types.EventAgentStopped {
		t.Errorf("last event = %s, want agent_stopped", kinds[len(kinds)-1])
	}
}

func TestSupervisor_DrainsQueueOnShutdown(t *testing.T) {
	srv := newCollector(t)
	path := filepath.Join(t.TempDir(), "app.log")
	if err := os.WriteFile(path, []byte("first\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := testConfig(path, srv.addr())
	cfg.Agent.FromStart = true

	var mu sync.Mutex
	var summaries []session.Summary
	cfg.OnSessionClose = func(sum session.Summary) {
		mu.Lock()
		summaries = append(summaries, sum)
		mu.Unlock()
	}

	s, err := NewSupervisor(cfg)
	if err != nil {
		t.Fatalf("NewSupervisor() error = %v", err)
	}
	cancel, done := start(t, s)
	waitFor(t, "first line", func() bool {
		data, _ := srv.received()
		return data == "first\n"
	})

	out := stop(t, cancel, done)
	if out.err != nil {
		t.Fatalf("Run() error = %v", out.err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(summaries) != 1 {
		t.Fatalf("summaries = %d, want 1", len(summaries))
	}
	if summaries[0].Bytes != 6 || !summaries[0].Streamed {
		t.Errorf("summary = %+v", summaries[0])
	}
}

func TestSupervisor_FileCreatedAfterStart(t *testing.T) {
	srv := newCollector(t)
	path := filepath.Join(t.TempDir(), "later.log")

	s, err := NewSupervisor(testConfig(path, srv.addr()))
	if err != nil {
		t.Fatalf("NewSupervisor() error = %v", err)
	}
	cancel, done := start(t, s)

	waitFor(t, "handshake", func() bool {
		_, hs := srv.received()
		return len(hs) == 1
	})
	if err := os.WriteFile(path, []byte("hello\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "new file content", func() bool {
		data, _ := srv.received()
		return data == "hello\n"
	})

	if out := stop(t, cancel, done); out.err != nil {
		t.Fatalf("Run() error = %v", out.err)
	}
}

func TestSupervisor_SessionSurvivesDroppedConnections(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			_ = conn.Close()
		}
	}()

	path := filepath.Join(t.TempDir(), "app.log")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	s, err := NewSupervisor(testConfig(path, ln.Addr().String()))
	if err != nil {
		t.Fatalf("NewSupervisor() error = %v", err)
	}
	cancel, done := start(t, s)
	waitFor(t, "three connections", func() bool { return s.sess.Stats().ConnectAttempts >= 3 })

	out := stop(t, cancel, done)
	if out.err != nil {
		t.Fatalf("Run() error = %v", out.err)
	}
	if out.res.Session.State != session.Stopped {
		t.Errorf("session state = %s, want stopped", out.res.Session.State)
	}
	if out.res.Session.ConnectAttempts < 3 {
		t.Errorf("ConnectAttempts = %d, want >= 3 on one session", out.res.Session.ConnectAttempts)
	}
}
