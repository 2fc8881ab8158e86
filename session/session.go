// Package session implements the connection state machine that streams
// queued chunks to the collector over LLP.
//
// A Session owns at most one TCP connection at a time. It sends a
// handshake, then writes each queued chunk as one or more LogData frames
// and sends a Keepalive frame whenever the queue stays empty for the
// keepalive interval. Any connection failure closes the socket and moves
// through Disconnected to Backoff; the unacknowledged head chunk is resent on the next
// connection, so delivery is at-least-once.
package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/pithecene-io/logline/llp"
	"github.com/pithecene-io/logline/queue"
	"github.com/pithecene-io/logline/types"
)

// Defaults for Config.
const (
	DefaultConnectTimeout    = 10 * time.Second
	DefaultWriteTimeout      = 30 * time.Second
	DefaultKeepaliveInterval = 30 * time.Second
	DefaultHandshakeTimeout  = 5 * time.Second
	DefaultDrainTimeout      = 2 * time.Second
)

// ErrConnectionLost is the cause recorded when the peer closes the
// connection or sends a malformed frame.
var ErrConnectionLost = errors.New("connection lost")

// ErrHandshakeTimeout is returned when a required handshake
// acknowledgment does not arrive in time.
var ErrHandshakeTimeout = errors.New("handshake acknowledgment timed out")

// Dialer opens connections. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Source is the consumer side of the pending queue.
type Source interface {
	// Peek blocks until a chunk is available and returns it without removing it.
	Peek(ctx context.Context) (queue.Chunk, error)
	// Ack removes the chunk returned by the last Peek.
	Ack()
	// Len returns the number of queued chunks.
	Len() int
}

// Config configures a Session.
type Config struct {
	// ServerAddr is the collector address in host:port form.
	ServerAddr string
	// Handshake is sent once per connection.
	Handshake llp.Handshake
	// Dialer opens connections. Nil uses a *net.Dialer.
	Dialer Dialer
	// ConnectTimeout bounds each dial.
	ConnectTimeout time.Duration
	// WriteTimeout bounds each frame write.
	WriteTimeout time.Duration
	// KeepaliveInterval is the idle time before a Keepalive frame is sent.
	KeepaliveInterval time.Duration
	// MaxPayload bounds LogData payloads; larger chunks are split.
	// Zero or anything above llp.MaxPayloadSize means llp.MaxPayloadSize.
	MaxPayload int
	// HandshakeAck requires the server to answer the handshake with a
	// Handshake frame within HandshakeTimeout.
	HandshakeAck bool
	// HandshakeTimeout bounds the wait for the acknowledgment.
	HandshakeTimeout time.Duration
	// DrainTimeout bounds how long queued chunks are still written after
	// shutdown is requested. Zero stops immediately.
	DrainTimeout time.Duration
	// Backoff configures reconnect delays.
	Backoff BackoffConfig
	// OnClose is called with a summary after every connection ends.
	OnClose func(Summary)
}

// Summary describes one finished connection.
type Summary struct {
	RemoteAddr  string
	ConnectedAt time.Time
	ClosedAt    time.Time
	Streamed    bool
	Chunks      int64
	Frames      int64
	Bytes       int64
	Keepalives  int64
	// EndState is Backoff when the connection failed and Stopped on shutdown.
	EndState State
	Err      error
}

// Stats is a snapshot of session counters across all connections.
type Stats struct {
	State           State
	ConnectAttempts int64
	ConnectFailures int64
	Sessions        int64
	ChunksSent      int64
	FramesSent      int64
	BytesSent       int64
	Keepalives      int64
	Resends         int64
	Drops           int64
	LastDelay       time.Duration
}

// Session drives one logical stream across reconnects.
type Session struct {
	cfg       Config
	src       Source
	obs       types.Observer
	backoff   *Schedule
	handshake []byte

	mu    sync.Mutex // guards state and stats
	state State
	stats Stats

	conn    *connection
	buf     []byte
	failed  *queue.Chunk // head chunk in flight when the last connection failed
	lastErr error
	retry   bool // the last connection attempt failed
}

// connection is one dialed socket plus its reader goroutine.
type connection struct {
	net.Conn
	ctx     context.Context // cancelled with the cause when the peer goes away
	cancel  context.CancelCauseFunc
	acks    chan struct{}
	done    chan struct{}
	summary Summary
}

// New creates a session reading from src. The handshake is validated and
// encoded up front; an invalid handshake is a configuration error.
func New(cfg Config, src Source, obs types.Observer) (*Session, error) {
	if src == nil {
		return nil, errors.New("session: nil source")
	}
	if err := types.ValidateServerAddr(cfg.ServerAddr); err != nil {
		return nil, types.NewConfigError("server_addr", err)
	}
	hs, err := llp.EncodeHandshake(cfg.Handshake)
	if err != nil {
		return nil, types.NewConfigError("handshake", err)
	}

	if cfg.Dialer == nil {
		cfg.Dialer = &net.Dialer{}
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.KeepaliveInterval <= 0 {
		cfg.KeepaliveInterval = DefaultKeepaliveInterval
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if cfg.MaxPayload <= 0 || cfg.MaxPayload > llp.MaxPayloadSize {
		cfg.MaxPayload = llp.MaxPayloadSize
	}
	if cfg.DrainTimeout < 0 {
		cfg.DrainTimeout = 0
	}

	return &Session{
		cfg:       cfg,
		src:       src,
		obs:       obs,
		backoff:   NewSchedule(cfg.Backoff),
		handshake: hs,
		state:     Disconnected,
	}, nil
}

// Run drives the state machine until ctx is cancelled.
// Connection failures are retried internally; Run returns nil once stopped.
func (s *Session) Run(ctx context.Context) error {
	for {
		from := s.State()
		if from == Stopped {
			st := s.Stats()
			types.Emit(s.obs, types.EventSessionStopped, map[string]any{
				"sessions":    st.Sessions,
				"chunks_sent": st.ChunksSent,
				"bytes_sent":  st.BytesSent,
			})
			return nil
		}
		s.transition(from, s.step(ctx, from))
	}
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Stats returns a snapshot of the session counters.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats
	st.State = s.state
	return st
}

func (s *Session) step(ctx context.Context, from State) State {
	switch from {
	case Disconnected:
		if ctx.Err() != nil {
			return Stopped
		}
		if s.retry {
			s.retry = false
			return Backoff
		}
		return Connecting
	case Connecting:
		return s.connect(ctx)
	case Handshaking:
		return s.shake(ctx)
	case Streaming:
		return s.stream(ctx)
	case Draining:
		return s.drain()
	case Backoff:
		return s.wait(ctx)
	default:
		return Stopped
	}
}

func (s *Session) transition(from, to State) {
	if !CanTransition(from, to) {
		panic(fmt.Sprintf("session: illegal transition %s -> %s", from, to))
	}
	s.mu.Lock()
	s.state = to
	s.mu.Unlock()
}

func (s *Session) connect(ctx context.Context) State {
	if ctx.Err() != nil {
		return Stopped
	}
	s.count(func(st *Stats) { st.ConnectAttempts++ })
	types.Emit(s.obs, types.EventConnecting, map[string]any{
		"addr":    s.cfg.ServerAddr,
		"attempt": s.backoff.Attempt() + 1,
	})

	dialCtx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	nc, err := s.cfg.Dialer.DialContext(dialCtx, "tcp", s.cfg.ServerAddr)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return Stopped
		}
		s.lastErr = err
		s.count(func(st *Stats) { st.ConnectFailures++ })
		types.Emit(s.obs, types.EventConnectFailed, map[string]any{
			"addr":  s.cfg.ServerAddr,
			"error": err.Error(),
		})
		return s.lost()
	}

	if tcp, ok := nc.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
	}
	s.conn = newConnection(nc)
	go s.conn.readLoop()

	types.Emit(s.obs, types.EventConnected, map[string]any{
		"addr":  s.cfg.ServerAddr,
		"local": nc.LocalAddr().String(),
	})
	return Handshaking
}

func (s *Session) shake(ctx context.Context) State {
	if ctx.Err() != nil {
		s.closeConn(Stopped, nil)
		return Stopped
	}
	if err := s.write(s.handshake); err != nil {
		types.Emit(s.obs, types.EventHandshakeFailed, map[string]any{"error": err.Error()})
		s.closeConn(Backoff, err)
		return s.lost()
	}
	types.Emit(s.obs, types.EventHandshakeSent, map[string]any{
		"service":  s.cfg.Handshake.ServiceName,
		"agent_id": s.cfg.Handshake.AgentID,
	})

	if s.cfg.HandshakeAck {
		timer := time.NewTimer(s.cfg.HandshakeTimeout)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			s.closeConn(Stopped, nil)
			return Stopped
		case <-s.conn.ctx.Done():
			err := context.Cause(s.conn.ctx)
			types.Emit(s.obs, types.EventHandshakeFailed, map[string]any{"error": err.Error()})
			s.closeConn(Backoff, err)
			return s.lost()
		case <-timer.C:
			types.Emit(s.obs, types.EventHandshakeFailed, map[string]any{"error": ErrHandshakeTimeout.Error()})
			s.closeConn(Backoff, ErrHandshakeTimeout)
			return s.lost()
		case <-s.conn.acks:
		}
	}

	s.backoff.Reset()
	s.conn.summary.Streamed = true
	s.count(func(st *Stats) { st.Sessions++ })
	return Streaming
}

func (s *Session) stream(ctx context.Context) State {
	c := s.conn
	for {
		if ctx.Err() != nil {
			if s.cfg.DrainTimeout > 0 {
				return Draining
			}
			s.closeConn(Stopped, nil)
			return Stopped
		}
		if c.ctx.Err() != nil {
			s.closeConn(Backoff, context.Cause(c.ctx))
			return s.lost()
		}

		peekCtx, cancel := context.WithTimeout(ctx, s.cfg.KeepaliveInterval)
		stop := context.AfterFunc(c.ctx, cancel)
		chunk, err := s.src.Peek(peekCtx)
		stop()
		cancel()

		switch {
		case err == nil:
			if err := s.send(chunk); err != nil {
				s.closeConn(Backoff, err)
				return s.lost()
			}
		case errors.Is(err, queue.ErrClosed):
			s.closeConn(Stopped, nil)
			return Stopped
		case ctx.Err() != nil, c.ctx.Err() != nil:
			// Handled at the top of the loop.
		case errors.Is(err, context.DeadlineExceeded):
			if err := s.keepalive(); err != nil {
				s.closeConn(Backoff, err)
				return s.lost()
			}
		default:
			s.closeConn(Backoff, err)
			return s.lost()
		}
	}
}

// drain writes what is already queued, bounded by DrainTimeout.
func (s *Session) drain() State {
	types.Emit(s.obs, types.EventDraining, map[string]any{
		"queued":  s.src.Len(),
		"timeout": s.cfg.DrainTimeout.String(),
	})
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.DrainTimeout)
	defer cancel()

	var err error
	for s.src.Len() > 0 && ctx.Err() == nil && s.conn.ctx.Err() == nil {
		var chunk queue.Chunk
		chunk, err = s.src.Peek(ctx)
		if err != nil {
			break
		}
		if err = s.send(chunk); err != nil {
			break
		}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, queue.ErrClosed) {
		err = nil
	}
	s.closeConn(Stopped, err)
	return Stopped
}

// lost records a failed attempt. The session passes through
// Disconnected, which sends it to Backoff.
func (s *Session) lost() State {
	s.retry = true
	return Disconnected
}

func (s *Session) wait(ctx context.Context) State {
	d := s.backoff.Next()
	s.count(func(st *Stats) { st.LastDelay = d })
	fields := map[string]any{
		"delay":   d.String(),
		"attempt": s.backoff.Attempt(),
	}
	if s.lastErr != nil {
		fields["error"] = s.lastErr.Error()
	}
	types.Emit(s.obs, types.EventBackoff, fields)

	if err := sleep(ctx, d); err != nil {
		return Stopped
	}
	return Connecting
}

// send writes chunk as one or more LogData frames, then acks it.
// If any frame fails the chunk stays queued and is resent whole.
func (s *Session) send(chunk queue.Chunk) error {
	pieces := llp.Split(chunk.Data, s.cfg.MaxPayload)
	for _, p := range pieces {
		frame, err := llp.AppendFrame(s.buf[:0], llp.TypeLogData, p)
		if err != nil {
			// Unreachable while MaxPayload is clamped; never block on it.
			s.src.Ack()
			s.count(func(st *Stats) { st.Drops++ })
			types.Emit(s.obs, types.EventChunkDropped, map[string]any{
				"offset": chunk.Offset,
				"bytes":  len(chunk.Data),
				"error":  err.Error(),
			})
			return nil
		}
		s.buf = frame
		if err := s.write(frame); err != nil {
			s.failed = &chunk
			return err
		}
		s.conn.summary.Frames++
	}
	s.src.Ack()

	resent := s.failed != nil && s.failed.Epoch == chunk.Epoch && s.failed.Offset == chunk.Offset
	s.failed = nil
	s.conn.summary.Chunks++
	s.conn.summary.Bytes += int64(len(chunk.Data))
	s.count(func(st *Stats) {
		st.ChunksSent++
		st.FramesSent += int64(len(pieces))
		st.BytesSent += int64(len(chunk.Data))
		if resent {
			st.Resends++
		}
	})
	types.Emit(s.obs, types.EventChunkSent, map[string]any{
		"offset": chunk.Offset,
		"bytes":  len(chunk.Data),
		"frames": len(pieces),
		"resent": resent,
	})
	return nil
}

func (s *Session) keepalive() error {
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout)); err != nil {
		return err
	}
	if _, err := llp.WriteFrame(s.conn, llp.TypeKeepalive, nil); err != nil {
		return fmt.Errorf("write keepalive: %w", err)
	}
	s.conn.summary.Keepalives++
	s.count(func(st *Stats) { st.Keepalives++ })
	types.Emit(s.obs, types.EventKeepaliveSent, nil)
	return nil
}

// write sends one complete frame. It is bounded by WriteTimeout and is
// deliberately not interrupted by cancellation, so a started frame is
// never cut short by shutdown.
func (s *Session) write(frame []byte) error {
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout)); err != nil {
		return err
	}
	if _, err := s.conn.Write(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// closeConn tears down the current connection and reports its summary.
func (s *Session) closeConn(end State, err error) {
	c := s.conn
	if c == nil {
		return
	}
	s.conn = nil
	_ = c.Close()
	c.cancel(ErrConnectionLost)
	<-c.done

	if err != nil {
		s.lastErr = err
	}
	if end == Backoff {
		fields := map[string]any{"addr": s.cfg.ServerAddr}
		if err != nil {
			fields["error"] = err.Error()
		}
		types.Emit(s.obs, types.EventConnectionLost, fields)
	}

	c.summary.ClosedAt = time.Now()
	c.summary.EndState = end
	c.summary.Err = err
	if s.cfg.OnClose != nil {
		s.cfg.OnClose(c.summary)
	}
}

func (s *Session) count(f func(*Stats)) {
	s.mu.Lock()
	f(&s.stats)
	s.mu.Unlock()
}

func newConnection(nc net.Conn) *connection {
	ctx, cancel := context.WithCancelCause(context.Background())
	return &connection{
		Conn:   nc,
		ctx:    ctx,
		cancel: cancel,
		acks:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		summary: Summary{
			RemoteAddr:  nc.RemoteAddr().String(),
			ConnectedAt: time.Now(),
		},
	}
}

// readLoop decodes frames sent by the server. A Handshake frame counts as
// the handshake acknowledgment; anything else is ignored. EOF or a
// malformed frame cancels the connection context.
func (c *connection) readLoop() {
	defer close(c.done)
	dec := llp.NewFrameDecoder(c.Conn)
	for {
		f, err := dec.ReadFrame()
		if err != nil {
			c.cancel(fmt.Errorf("%w: %w", ErrConnectionLost, err))
			return
		}
		if f.Type == llp.TypeHandshake {
			select {
			case c.acks <- struct{}{}:
			default:
			}
		}
	}
}
