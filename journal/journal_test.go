package journal

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/justapithecus/lode/lode"

	"github.com/pithecene-io/logline/metrics"
	"github.com/pithecene-io/logline/session"
)

// sharedFactory returns a StoreFactory that always returns the given store.
// This allows write and read datasets to share the same in-memory state.
func sharedFactory(store lode.Store) lode.StoreFactory {
	return func() (lode.Store, error) { return store, nil }
}

func testIdentity() Identity {
	return Identity{
		Service:    "api",
		DeviceID:   "host-1",
		AgentID:    "0123456789abcdef0123456789abcdef",
		FilePath:   "/var/log/api.log",
		ServerAddr: "127.0.0.1:12500",
	}
}

func testSummary(connected time.Time) session.Summary {
	return session.Summary{
		RemoteAddr:  "127.0.0.1:12500",
		ConnectedAt: connected,
		ClosedAt:    connected.Add(1500 * time.Millisecond),
		Streamed:    true,
		Chunks:      3,
		Frames:      5,
		Bytes:       4096,
		Keepalives:  2,
		EndState:    session.Backoff,
		Err:         errors.New("connection reset by peer"),
	}
}

func TestNewSessionRecord(t *testing.T) {
	connected := time.Date(2026, 10, 19, 8, 30, 0, 0, time.UTC)
	rec := NewSessionRecord(testIdentity(), testSummary(connected))

	if rec.RecordKind != RecordKindSession {
		t.Errorf("RecordKind = %q", rec.RecordKind)
	}
	if rec.SessionID == "" {
		t.Error("SessionID is empty")
	}
	if rec.Day != "2026-10-19" {
		t.Errorf("Day = %q, want 2026-10-19", rec.Day)
	}
	if rec.DurationMs != 1500 {
		t.Errorf("DurationMs = %d, want 1500", rec.DurationMs)
	}
	if rec.EndState != session.Backoff.String() {
		t.Errorf("EndState = %q", rec.EndState)
	}
	if rec.Error != "connection reset by peer" {
		t.Errorf("Error = %q", rec.Error)
	}

	other := NewSessionRecord(testIdentity(), testSummary(connected))
	if other.SessionID == rec.SessionID {
		t.Error("session IDs should be unique per record")
	}
}

func TestWriter_WriteAndQuery(t *testing.T) {
	store := lode.NewMemory()
	ds, err := NewDataset("", sharedFactory(store))
	if err != nil {
		t.Fatalf("NewDataset failed: %v", err)
	}

	collector := metrics.NewCollector(metrics.Dimensions{})
	w := NewWriter(ds, testIdentity(), collector)

	base := time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)
	for i := range 3 {
		if _, err := w.Write(t.Context(), testSummary(base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("Write %d failed: %v", i, err)
		}
	}

	if got := collector.Snapshot().JournalWriteSuccess; got != 3 {
		t.Errorf("JournalWriteSuccess = %d, want 3", got)
	}

	readDS, err := NewDataset(DefaultDataset, sharedFactory(store))
	if err != nil {
		t.Fatalf("NewDataset (read) failed: %v", err)
	}
	recs, err := QuerySessions(t.Context(), readDS, Filter{})
	if err != nil {
		t.Fatalf("QuerySessions failed: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("got %d records, want 3", len(recs))
	}
	// Newest first.
	if recs[0].ConnectedAt <= recs[2].ConnectedAt {
		t.Errorf("records not newest first: %s then %s", recs[0].ConnectedAt, recs[2].ConnectedAt)
	}
	if recs[0].Bytes != 4096 || recs[0].Frames != 5 || !recs[0].Streamed {
		t.Errorf("round-tripped record mismatch: %+v", recs[0])
	}
}

func TestQuerySessions_Filters(t *testing.T) {
	store := lode.NewMemory()
	ds, err := NewDataset("", sharedFactory(store))
	if err != nil {
		t.Fatalf("NewDataset failed: %v", err)
	}

	day1 := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	day2 := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

	api := NewWriter(ds, testIdentity(), nil)
	worker := testIdentity()
	worker.Service = "worker"
	worker.AgentID = "0123456789abcdef0123456789abcdee"
	wk := NewWriter(ds, worker, nil)

	for _, write := range []struct {
		w  *Writer
		at time.Time
	}{
		{api, day1}, {api, day2}, {wk, day2},
	} {
		if _, err := write.w.Write(t.Context(), testSummary(write.at)); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
	}

	tests := []struct {
		name   string
		filter Filter
		want   int
	}{
		{"all", Filter{}, 3},
		{"service", Filter{Service: "api"}, 2},
		{"day", Filter{Day: "2026-10-19"}, 2},
		{"agent", Filter{AgentID: worker.AgentID}, 1},
		{"agent prefix does not match", Filter{AgentID: worker.AgentID[:30]}, 0},
		{"service and day", Filter{Service: "api", Day: "2026-10-18"}, 1},
		{"limit", Filter{Limit: 1}, 1},
		{"no match", Filter{Service: "nope"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recs, err := QuerySessions(t.Context(), ds, tt.filter)
			if err != nil {
				t.Fatalf("QuerySessions failed: %v", err)
			}
			if len(recs) != tt.want {
				t.Errorf("got %d records, want %d", len(recs), tt.want)
			}
		})
	}
}

func TestQuerySessions_SkipsUnparseableTime(t *testing.T) {
	store := lode.NewMemory()
	ds, err := NewDataset("", sharedFactory(store))
	if err != nil {
		t.Fatalf("NewDataset failed: %v", err)
	}
	w := NewWriter(ds, testIdentity(), nil)
	good, err := w.Write(t.Context(), testSummary(time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)))
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	bad := toRecordMap(NewSessionRecord(testIdentity(), testSummary(time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC))))
	bad["connected_at"] = "yesterday-ish"
	if _, err := ds.Write(t.Context(), []any{bad}, lode.Metadata{}); err != nil {
		t.Fatalf("raw Write failed: %v", err)
	}

	recs, err := QuerySessions(t.Context(), ds, Filter{})
	if err != nil {
		t.Fatalf("QuerySessions failed: %v", err)
	}
	if len(recs) != 1 || recs[0].SessionID != good.SessionID {
		t.Errorf("got %+v, want only the record with a valid connected_at", recs)
	}
}

func TestRecorder_FlushesOnClose(t *testing.T) {
	store := lode.NewMemory()
	ds, err := NewDataset("", sharedFactory(store))
	if err != nil {
		t.Fatalf("NewDataset failed: %v", err)
	}

	r := NewRecorder(NewWriter(ds, testIdentity(), nil), nil, 16)
	base := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	for i := range 5 {
		r.Record(testSummary(base.Add(time.Duration(i) * time.Second)))
	}

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()
	if err := r.Close(ctx); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// Record after Close is ignored.
	r.Record(testSummary(base))

	recs, err := QuerySessions(t.Context(), ds, Filter{})
	if err != nil {
		t.Fatalf("QuerySessions failed: %v", err)
	}
	if len(recs) != 5 {
		t.Errorf("got %d records, want 5", len(recs))
	}
	if r.Dropped() != 0 {
		t.Errorf("Dropped = %d, want 0", r.Dropped())
	}
}

func TestRecorder_CloseIdempotent(t *testing.T) {
	ds, err := NewDataset("", lode.NewMemoryFactory())
	if err != nil {
		t.Fatalf("NewDataset failed: %v", err)
	}
	r := NewRecorder(NewWriter(ds, testIdentity(), nil), nil, 0)
	if err := r.Close(t.Context()); err != nil {
		t.Fatalf("first Close failed: %v", err)
	}
	if err := r.Close(t.Context()); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"fs", Config{Backend: BackendFS, Path: "/tmp/j"}, false},
		{"s3", Config{Backend: BackendS3, Path: "bucket/prefix"}, false},
		{"unknown backend", Config{Backend: "gcs", Path: "x"}, true},
		{"missing path", Config{Backend: BackendFS}, true},
		{"s3 missing bucket", Config{Backend: BackendS3, Path: "/prefix"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseS3Path(t *testing.T) {
	bucket, prefix := ParseS3Path("logs/agents/prod")
	if bucket != "logs" || prefix != "agents/prod" {
		t.Errorf("ParseS3Path = (%q, %q)", bucket, prefix)
	}
	bucket, prefix = ParseS3Path("logs")
	if bucket != "logs" || prefix != "" {
		t.Errorf("ParseS3Path = (%q, %q)", bucket, prefix)
	}
}

func TestOpen_FS(t *testing.T) {
	dir := t.TempDir()
	ds, err := Open(t.Context(), Config{Backend: BackendFS, Path: dir})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	w := NewWriter(ds, testIdentity(), nil)
	if _, err := w.Write(t.Context(), testSummary(time.Now())); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	recs, err := QuerySessions(t.Context(), ds, Filter{Service: "api"})
	if err != nil {
		t.Fatalf("QuerySessions failed: %v", err)
	}
	if len(recs) != 1 {
		t.Errorf("got %d records, want 1", len(recs))
	}
}
