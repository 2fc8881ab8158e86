// Package runtime wires the tail reader, the pending queue, and the
// connection session into one agent and owns their lifecycle.
package runtime

import (
	"context"
	"fmt"
	"time"

	"github.com/pithecene-io/logline/identity"
	"github.com/pithecene-io/logline/iox"
	"github.com/pithecene-io/logline/llp"
	"github.com/pithecene-io/logline/queue"
	"github.com/pithecene-io/logline/session"
	"github.com/pithecene-io/logline/tail"
	"github.com/pithecene-io/logline/types"
)

// Config configures a Supervisor. Zero durations and sizes use the
// defaults of the package that owns them, except DrainTimeout where zero
// disables draining.
type Config struct {
	// Agent is the resolved core configuration.
	Agent types.AgentConfig

	// AlignLines snaps the initial tail offset to a line start.
	AlignLines bool
	// QueueBytes is the pending queue capacity.
	QueueBytes int64
	// ChunkBytes bounds each read from the file.
	ChunkBytes int
	// Watch selects push-based or poll-based change detection.
	Watch tail.WatchMode
	// PollInterval is the poll period, and the notify fallback timeout.
	PollInterval time.Duration

	// MaxPayload bounds LogData frame payloads.
	MaxPayload        int
	ConnectTimeout    time.Duration
	WriteTimeout      time.Duration
	KeepaliveInterval time.Duration
	HandshakeAck      bool
	HandshakeTimeout  time.Duration
	DrainTimeout      time.Duration
	Backoff           session.BackoffConfig

	// Dialer overrides the network dialer (for testing).
	Dialer session.Dialer
	// ChangeSource overrides change detection (for testing).
	ChangeSource tail.ChangeSource
	// Observer receives every diagnostic event. May be nil.
	Observer types.Observer
	// OnSessionClose receives a summary after each connection ends. May be nil.
	OnSessionClose func(session.Summary)
}

// Result summarizes a finished agent run.
type Result struct {
	// AgentID is the identity sent in every handshake.
	AgentID string
	// Duration is the wall time of Run.
	Duration time.Duration
	// Tail is the final reader position.
	Tail tail.State
	// Queue is the final queue state. Chunks > 0 means data was left unsent.
	Queue queue.Stats
	// Session is the final session counters.
	Session session.Stats
}

// Supervisor runs one tail reader and one connection session over a
// shared pending queue. The session never fails terminally: every
// connection fault goes through its Backoff state and reconnects, so
// the supervisor only starts both sides and stops them in order.
type Supervisor struct {
	cfg     Config
	agentID string
	q       *queue.Queue
	reader  *tail.Reader
	sess    *session.Session
}

// NewSupervisor validates cfg and builds the agent. Every error returned
// here is fatal and classified as a configuration error where the input
// is at fault.
func NewSupervisor(cfg Config) (*Supervisor, error) {
	if err := cfg.Agent.Validate(); err != nil {
		return nil, err
	}
	if err := tail.CheckPath(cfg.Agent.FilePath); err != nil {
		return nil, err
	}
	if cfg.QueueBytes <= 0 {
		cfg.QueueBytes = queue.DefaultCapacity
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = tail.DefaultPollInterval
	}
	if cfg.Watch == "" {
		cfg.Watch = tail.WatchNotify
	}

	q, err := queue.New(cfg.QueueBytes)
	if err != nil {
		return nil, types.NewConfigError("queue_bytes", err)
	}

	s := &Supervisor{
		cfg:     cfg,
		agentID: identity.AgentID(cfg.Agent.DeviceID, cfg.Agent.FilePath),
		q:       q,
	}

	// Validate the session config before touching the file.
	sess, err := s.newSession()
	if err != nil {
		return nil, err
	}
	s.sess = sess

	reader, err := tail.NewReader(tail.Config{
		Path:       cfg.Agent.FilePath,
		FromStart:  cfg.Agent.FromStart,
		TailBytes:  cfg.Agent.TailBytes,
		AlignLines: cfg.AlignLines,
		ChunkSize:  cfg.ChunkBytes,
	}, q, cfg.Observer)
	if err != nil {
		return nil, err
	}
	s.reader = reader
	return s, nil
}

// AgentID returns the agent identity derived from device and file path.
func (s *Supervisor) AgentID() string {
	return s.agentID
}

// Handshake returns the handshake record sent on every connection.
func (s *Supervisor) Handshake() llp.Handshake {
	a := s.cfg.Agent
	return llp.NewHandshake(a.ServiceName, a.DeviceID, s.agentID, a.FilePath)
}

func (s *Supervisor) newSession() (*session.Session, error) {
	return session.New(session.Config{
		ServerAddr:        s.cfg.Agent.ServerAddr,
		Handshake:         s.Handshake(),
		Dialer:            s.cfg.Dialer,
		ConnectTimeout:    s.cfg.ConnectTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
		KeepaliveInterval: s.cfg.KeepaliveInterval,
		MaxPayload:        s.cfg.MaxPayload,
		HandshakeAck:      s.cfg.HandshakeAck,
		HandshakeTimeout:  s.cfg.HandshakeTimeout,
		DrainTimeout:      s.cfg.DrainTimeout,
		Backoff:           s.cfg.Backoff,
		OnClose:           s.cfg.OnSessionClose,
	}, s.q, s.cfg.Observer)
}

// Run tails and streams until ctx is cancelled, then shuts both sides
// down and waits for them. Cancellation is a clean stop and returns a nil
// error. A non-nil error means the reader failed in a way it could not
// recover from.
//
// Shutdown order:
//  1. The reader stops at its next suspension point.
//  2. The queue is closed so the session cannot wait for more data.
//  3. The session drains what is queued, within its drain timeout.
func (s *Supervisor) Run(ctx context.Context) (*Result, error) {
	start := time.Now()
	types.Emit(s.cfg.Observer, types.EventAgentStarted, map[string]any{
		"agent_id": s.agentID,
		"server":   s.cfg.Agent.ServerAddr,
		"file":     s.cfg.Agent.FilePath,
		"version":  types.Version,
	})

	src, err := s.changeSource()
	defer iox.DiscardClose(src)
	if err != nil {
		types.Emit(s.cfg.Observer, types.EventWatchFallback, map[string]any{
			"error": err.Error(),
		})
	}

	// The reader gets its own context so a reader failure also stops
	// the session.
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	readerDone := make(chan error, 1)
	go func() {
		readerDone <- s.reader.Run(runCtx, src)
	}()

	sessionDone := make(chan struct{})
	go func() {
		defer close(sessionDone)
		_ = s.sess.Run(runCtx)
	}()

	readErr := <-readerDone
	if readErr != nil {
		readErr = fmt.Errorf("tail reader: %w", readErr)
		cancel()
	}
	s.q.Close()
	<-sessionDone
	_ = s.reader.Close()

	res := &Result{
		AgentID:  s.agentID,
		Duration: time.Since(start),
		Tail:     s.reader.State(),
		Queue:    s.q.Stats(),
		Session:  s.sess.Stats(),
	}
	fields := map[string]any{
		"duration_ms": res.Duration.Milliseconds(),
		"offset":      res.Tail.Offset,
		"bytes_sent":  res.Session.BytesSent,
		"unsent":      res.Queue.Bytes,
	}
	if readErr != nil {
		fields["error"] = readErr.Error()
	}
	types.Emit(s.cfg.Observer, types.EventAgentStopped, fields)
	return res, readErr
}

func (s *Supervisor) changeSource() (tail.ChangeSource, error) {
	if s.cfg.ChangeSource != nil {
		return s.cfg.ChangeSource, nil
	}
	return tail.NewChangeSource(s.cfg.Watch, s.cfg.Agent.FilePath, s.cfg.PollInterval)
}

// TailState returns the live reader position.
func (s *Supervisor) TailState() tail.State {
	return s.reader.State()
}

// SessionState returns the live session state.
func (s *Supervisor) SessionState() session.State {
	return s.sess.State()
}

// QueueStats returns the live queue state.
func (s *Supervisor) QueueStats() queue.Stats {
	return s.q.Stats()
}
