package journal

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/justapithecus/lode/lode"
)

// Filter narrows a session query. Empty fields match everything.
type Filter struct {
	Service string
	AgentID string
	Day     string
	// Limit caps the result count. Zero means no limit.
	Limit int
}

// QuerySessions returns session records matching f, newest first.
// Partition paths are a coarse pre-filter; record fields are authoritative.
// Records whose connected_at does not parse cannot be ordered and are
// skipped.
func QuerySessions(ctx context.Context, ds lode.Dataset, f Filter) ([]SessionRecord, error) {
	snapshots, err := ds.Snapshots(ctx)
	if err != nil {
		return nil, WrapReadError(err, "logline/snapshots")
	}

	var found []timedRecord
	for i := len(snapshots) - 1; i >= 0; i-- {
		snap := snapshots[i]
		if !snapshotMatchesFilter(snap, "service", f.Service) ||
			!snapshotMatchesFilter(snap, "agent_id", f.AgentID) ||
			!snapshotMatchesFilter(snap, "day", f.Day) {
			continue
		}

		data, err := ds.Read(ctx, snap.ID)
		if err != nil {
			return nil, WrapReadError(err, fmt.Sprintf("logline/snapshot/%s", snap.ID))
		}
		for _, item := range data {
			m, ok := item.(map[string]any)
			if !ok || m["record_kind"] != RecordKindSession {
				continue
			}
			rec := fromRecordMap(m)
			if !f.matches(rec) {
				continue
			}
			at, err := time.Parse(time.RFC3339Nano, rec.ConnectedAt)
			if err != nil {
				continue
			}
			found = append(found, timedRecord{rec: rec, at: at})
		}
	}

	// Snapshot order approximates creation order; connection time is exact.
	sort.SliceStable(found, func(i, j int) bool {
		return found[i].at.After(found[j].at)
	})
	if f.Limit > 0 && len(found) > f.Limit {
		found = found[:f.Limit]
	}
	out := make([]SessionRecord, len(found))
	for i, tr := range found {
		out[i] = tr.rec
	}
	return out, nil
}

type timedRecord struct {
	rec SessionRecord
	at  time.Time
}

func (f Filter) matches(r SessionRecord) bool {
	if f.Service != "" && r.Service != f.Service {
		return false
	}
	if f.AgentID != "" && r.AgentID != f.AgentID {
		return false
	}
	if f.Day != "" && r.Day != f.Day {
		return false
	}
	return true
}

// snapshotMatchesFilter checks if a snapshot's file paths match
// the given partition key=value filter.
func snapshotMatchesFilter(snap *lode.DatasetSnapshot, key, value string) bool {
	if value == "" {
		return true
	}
	for _, f := range snap.Manifest.Files {
		if matchesPartitionValue(f.Path, key, value) {
			return true
		}
	}
	return false
}

// matchesPartitionValue checks if a Hive-partitioned path contains an exact
// key=value segment, so agent_id=ab does not match agent_id=abc.
func matchesPartitionValue(path, key, value string) bool {
	segment := key + "=" + value
	for _, part := range strings.Split(path, "/") {
		if part == segment {
			return true
		}
	}
	return false
}
