package journal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/justapithecus/lode/lode"

	"github.com/pithecene-io/logline/log"
	"github.com/pithecene-io/logline/metrics"
	"github.com/pithecene-io/logline/session"
)

const (
	// DefaultBuffer is the number of summaries the recorder holds before dropping.
	DefaultBuffer = 64
	// DefaultWriteTimeout bounds a single journal write.
	DefaultWriteTimeout = 10 * time.Second
)

// Writer persists session records to a dataset.
type Writer struct {
	ds        lode.Dataset
	id        Identity
	collector *metrics.Collector
}

// NewWriter creates a writer stamping records with id.
// collector may be nil.
func NewWriter(ds lode.Dataset, id Identity, collector *metrics.Collector) *Writer {
	return &Writer{ds: ds, id: id, collector: collector}
}

// Write persists one record for s and returns it.
func (w *Writer) Write(ctx context.Context, s session.Summary) (SessionRecord, error) {
	rec := NewSessionRecord(w.id, s)
	if _, err := w.ds.Write(ctx, []any{toRecordMap(rec)}, lode.Metadata{}); err != nil {
		w.collector.IncJournalWriteFailure()
		return rec, WrapWriteError(err, recordPath(rec))
	}
	w.collector.IncJournalWriteSuccess()
	return rec, nil
}

func recordPath(r SessionRecord) string {
	return fmt.Sprintf("service=%s/day=%s/agent_id=%s", r.Service, r.Day, r.AgentID)
}

// Recorder writes session summaries asynchronously so the streaming
// goroutine never waits on storage. Summaries beyond the buffer are dropped.
type Recorder struct {
	w       *Writer
	logger  *log.Logger
	timeout time.Duration

	mu      sync.Mutex
	closed  bool
	pending chan session.Summary
	done    chan struct{}
	dropped int64
}

// NewRecorder starts a recorder. buffer <= 0 uses DefaultBuffer.
// logger may be nil.
func NewRecorder(w *Writer, logger *log.Logger, buffer int) *Recorder {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if logger == nil {
		logger = log.NewNop()
	}
	r := &Recorder{
		w:       w,
		logger:  logger,
		timeout: DefaultWriteTimeout,
		pending: make(chan session.Summary, buffer),
		done:    make(chan struct{}),
	}
	go r.loop()
	return r
}

// Record enqueues s without blocking. Suitable as session.Config.OnClose.
func (r *Recorder) Record(s session.Summary) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	select {
	case r.pending <- s:
	default:
		r.dropped++
		r.logger.Warn("journal record dropped", map[string]any{
			"dropped": r.dropped,
		})
	}
}

// Dropped returns the number of summaries discarded because the buffer was full.
func (r *Recorder) Dropped() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// Close stops accepting records and waits for buffered ones to be written,
// or for ctx to end.
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.pending)
	}
	r.mu.Unlock()

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Recorder) loop() {
	defer close(r.done)
	for s := range r.pending {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		rec, err := r.w.Write(ctx, s)
		cancel()
		if err != nil {
			r.logger.Error("journal write failed", map[string]any{
				"session_id": rec.SessionID,
				"error":      err.Error(),
			})
			continue
		}
		r.logger.Debug("journal record written", map[string]any{
			"session_id": rec.SessionID,
			"end_state":  rec.EndState,
		})
	}
}
