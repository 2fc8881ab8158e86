package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "logline"

// counterDesc pairs a Prometheus descriptor with its Snapshot field.
type counterDesc struct {
	desc  *prometheus.Desc
	value func(Snapshot) int64
}

// Exporter exposes a Collector's counters as Prometheus metrics.
// Counters are read from a Snapshot at scrape time so the hot path
// never touches Prometheus types.
type Exporter struct {
	collector *Collector
	counters  []counterDesc
	gauges    map[*prometheus.Desc]func() float64
}

// GaugeFunc is a live value sampled at scrape time, such as queue depth.
type GaugeFunc struct {
	Name  string
	Help  string
	Value func() float64
}

// NewExporter creates an exporter for c. Agent dimensions become constant labels.
func NewExporter(c *Collector, gauges ...GaugeFunc) *Exporter {
	snap := c.Snapshot()
	labels := prometheus.Labels{
		"service":   snap.Service,
		"device_id": snap.DeviceID,
		"agent_id":  snap.AgentID,
	}
	counter := func(name, help string, value func(Snapshot) int64) counterDesc {
		return counterDesc{
			desc:  prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, nil, labels),
			value: value,
		}
	}

	e := &Exporter{
		collector: c,
		counters: []counterDesc{
			counter("tail_bytes_read_total", "Bytes read from the monitored file.", func(s Snapshot) int64 { return s.BytesRead }),
			counter("tail_chunks_queued_total", "Chunks pushed to the pending queue.", func(s Snapshot) int64 { return s.ChunksQueued }),
			counter("tail_truncations_total", "Truncations detected.", func(s Snapshot) int64 { return s.Truncations }),
			counter("tail_rotations_total", "Rotations detected.", func(s Snapshot) int64 { return s.Rotations }),
			counter("tail_file_missing_total", "Times the monitored file was found missing.", func(s Snapshot) int64 { return s.FileMissing }),
			counter("tail_read_errors_total", "File read errors.", func(s Snapshot) int64 { return s.ReadErrors }),
			counter("connect_attempts_total", "Connection attempts.", func(s Snapshot) int64 { return s.ConnectAttempts }),
			counter("connect_failures_total", "Failed connection attempts.", func(s Snapshot) int64 { return s.ConnectFailures }),
			counter("handshake_failures_total", "Failed or unacknowledged handshakes.", func(s Snapshot) int64 { return s.HandshakeFailures }),
			counter("handshakes_total", "Handshakes sent.", func(s Snapshot) int64 { return s.Handshakes }),
			counter("connections_lost_total", "Connections closed by failure.", func(s Snapshot) int64 { return s.ConnectionsLost }),
			counter("chunks_sent_total", "Chunks fully written to the socket.", func(s Snapshot) int64 { return s.ChunksSent }),
			counter("bytes_sent_total", "LogData payload bytes written.", func(s Snapshot) int64 { return s.BytesSent }),
			counter("frames_sent_total", "LogData and Keepalive frames written.", func(s Snapshot) int64 { return s.FramesSent }),
			counter("keepalives_sent_total", "Keepalive frames written.", func(s Snapshot) int64 { return s.Keepalives }),
			counter("chunks_resent_total", "Chunks resent after a failed write.", func(s Snapshot) int64 { return s.Resends }),
			counter("chunks_dropped_total", "Chunks dropped as unframeable.", func(s Snapshot) int64 { return s.ChunksDropped }),
			counter("journal_writes_total", "Successful session journal writes.", func(s Snapshot) int64 { return s.JournalWriteSuccess }),
			counter("journal_write_failures_total", "Failed session journal writes.", func(s Snapshot) int64 { return s.JournalWriteFailure }),
			counter("notifications_total", "Delivered lifecycle notifications.", func(s Snapshot) int64 { return s.NotifySuccess }),
			counter("notification_failures_total", "Lifecycle notifications that failed after retries.", func(s Snapshot) int64 { return s.NotifyFailure }),
			counter("notifications_dropped_total", "Lifecycle notifications dropped on a full outbox.", func(s Snapshot) int64 { return s.NotifyDropped }),
		},
		gauges: make(map[*prometheus.Desc]func() float64, len(gauges)),
	}
	for _, g := range gauges {
		d := prometheus.NewDesc(prometheus.BuildFQName(namespace, "", g.Name), g.Help, nil, labels)
		e.gauges[d] = g.Value
	}
	return e
}

// Describe implements prometheus.Collector.
func (e *Exporter) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range e.counters {
		ch <- c.desc
	}
	for d := range e.gauges {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (e *Exporter) Collect(ch chan<- prometheus.Metric) {
	snap := e.collector.Snapshot()
	for _, c := range e.counters {
		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.CounterValue, float64(c.value(snap)))
	}
	for d, f := range e.gauges {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, f())
	}
}

// NewRegistry returns a registry holding e plus the Go runtime and
// process collectors.
func NewRegistry(e *Exporter) (*prometheus.Registry, error) {
	reg := prometheus.NewRegistry()
	for _, c := range []prometheus.Collector{
		e,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// Server serves /metrics until its context is cancelled.
type Server struct {
	ln  net.Listener
	srv *http.Server
}

// Listen binds addr and prepares a /metrics handler for reg.
func Listen(addr string, reg *prometheus.Registry) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &Server{
		ln:  ln,
		srv: &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second},
	}, nil
}

// Addr returns the bound address.
func (s *Server) Addr() string { return s.ln.Addr().String() }

// Serve blocks until ctx is cancelled, then shuts the server down.
func (s *Server) Serve(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() { errc <- s.srv.Serve(s.ln) }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		err := s.srv.Shutdown(shutdownCtx)
		if serveErr := <-errc; serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			return serveErr
		}
		return err
	}
}
