package progress

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/pwannenmacher/MetaRate/internal/actionlog"
	"github.com/pwannenmacher/MetaRate/internal/assignment"
	"github.com/pwannenmacher/MetaRate/internal/models"
	"github.com/pwannenmacher/MetaRate/internal/reportstore"
)

const pools = `
cardiology: [carol]
empty: [erin]
missing: [mallory]
`

func setupTracker(t *testing.T, index func(actionlog.Log) RatedIndex) (*Tracker, actionlog.Log) {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"rating_reports.jsonl": `{"rating_id":"r1","report_to_rate":"A"}
{"rating_id":"r2","report_to_rate":"B"}
{"rating_id":"r3","report_to_rate":"C"}
`,
		"cardiology.jsonl": `{"rating_id":"c1","report_to_rate":"Heart"}`,
		"empty.jsonl":      "",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	mapping, err := assignment.ParseMapping([]byte(pools))
	if err != nil {
		t.Fatalf("ParseMapping() error = %v", err)
	}
	log := actionlog.NewMemoryLog()
	tracker := NewTracker(
		assignment.NewStaticResolver(mapping, "rating_reports"),
		reportstore.NewStore(reportstore.NewFileSource(dir)),
		index(log),
	)
	return tracker, log
}

func scanIndex(log actionlog.Log) RatedIndex { return NewScanIndex(log) }

func submit(t *testing.T, tracker *Tracker, log actionlog.Log, username, reportID string) {
	t.Helper()
	ctx := context.Background()
	err := log.Append(ctx, models.ActionEntry{
		Username: username,
		Action:   models.ActionSubmitRating,
		ReportID: reportID,
		Rating:   models.RatingNoError,
	})
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if err := tracker.RecordSubmission(ctx, username, reportID); err != nil {
		t.Fatalf("RecordSubmission() error = %v", err)
	}
}

func assertProgress(t *testing.T, tracker *Tracker, username string, rated, total int, next string) {
	t.Helper()
	ctx := context.Background()
	p, err := tracker.Progress(ctx, username)
	if err != nil {
		t.Fatalf("Progress() error = %v", err)
	}
	if p.Rated != rated || p.Total != total {
		t.Errorf("Progress() = %d/%d, want %d/%d", p.Rated, p.Total, rated, total)
	}

	report, err := tracker.NextUnrated(ctx, username)
	if err != nil {
		t.Fatalf("NextUnrated() error = %v", err)
	}
	switch {
	case next == "" && report != nil:
		t.Errorf("NextUnrated() = %s, want none", report.RatingID)
	case next != "" && report == nil:
		t.Errorf("NextUnrated() = none, want %s", next)
	case next != "" && report.RatingID != next:
		t.Errorf("NextUnrated() = %s, want %s", report.RatingID, next)
	}
}

func TestTracker_PoolOrder(t *testing.T) {
	tracker, log := setupTracker(t, scanIndex)

	assertProgress(t, tracker, "alice", 0, 3, "r1")

	submit(t, tracker, log, "alice", "r1")
	assertProgress(t, tracker, "alice", 1, 3, "r2")

	// Rating the same report twice counts once
	submit(t, tracker, log, "alice", "r1")
	assertProgress(t, tracker, "alice", 1, 3, "r2")

	// Skipping ahead leaves the earlier gap as the next report
	submit(t, tracker, log, "alice", "r3")
	assertProgress(t, tracker, "alice", 2, 3, "r2")

	submit(t, tracker, log, "alice", "r2")
	assertProgress(t, tracker, "alice", 3, 3, "")

	// Other users are unaffected
	assertProgress(t, tracker, "bob", 0, 3, "r1")
}

func TestTracker_RatingsOutsidePoolIgnored(t *testing.T) {
	tracker, log := setupTracker(t, scanIndex)

	submit(t, tracker, log, "carol", "r1")
	assertProgress(t, tracker, "carol", 0, 1, "c1")

	p, err := tracker.Progress(context.Background(), "carol")
	if err != nil {
		t.Fatal(err)
	}
	if p.Pool != "cardiology" {
		t.Errorf("Pool = %q, want cardiology", p.Pool)
	}
}

func TestTracker_EmptyAndMissingPools(t *testing.T) {
	tracker, _ := setupTracker(t, scanIndex)
	ctx := context.Background()

	p, err := tracker.Progress(ctx, "erin")
	if err != nil {
		t.Fatalf("Progress() error = %v", err)
	}
	if p.Total != 0 || p.Rated != 0 || p.Fraction != 0 || !p.Complete() {
		t.Errorf("Unexpected progress for empty pool: %+v", p)
	}
	report, err := tracker.NextUnrated(ctx, "erin")
	if err != nil || report != nil {
		t.Errorf("NextUnrated() = %v, %v; want nil, nil", report, err)
	}

	if _, err := tracker.Progress(ctx, "mallory"); !errors.Is(err, reportstore.ErrPoolNotFound) {
		t.Errorf("Expected ErrPoolNotFound, got %v", err)
	}
}

func TestTracker_Report(t *testing.T) {
	tracker, _ := setupTracker(t, scanIndex)
	ctx := context.Background()

	report, err := tracker.Report(ctx, "alice", "r2")
	if err != nil || report == nil || report.ReportToRate != "B" {
		t.Fatalf("Report() = %v, %v", report, err)
	}
	report, err = tracker.Report(ctx, "carol", "r2")
	if err != nil || report != nil {
		t.Errorf("Report outside pool = %v, %v; want nil, nil", report, err)
	}
}

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestRedisIndex_MatchesScan(t *testing.T) {
	_, client := setupRedis(t)
	tracker, log := setupTracker(t, func(log actionlog.Log) RatedIndex {
		return NewRedisIndex(client, "metarate:", time.Hour, log)
	})

	assertProgress(t, tracker, "alice", 0, 3, "r1")
	submit(t, tracker, log, "alice", "r1")
	assertProgress(t, tracker, "alice", 1, 3, "r2")
	submit(t, tracker, log, "alice", "r2")
	assertProgress(t, tracker, "alice", 2, 3, "r3")
}

func TestRedisIndex_RebuildsFromLog(t *testing.T) {
	mr, client := setupRedis(t)
	ctx := context.Background()
	log := actionlog.NewMemoryLog()
	for _, id := range []string{"r1", "r2"} {
		err := log.Append(ctx, models.ActionEntry{Username: "alice", Action: models.ActionSubmitRating, ReportID: id, Rating: models.RatingOtherError})
		if err != nil {
			t.Fatal(err)
		}
	}

	index := NewRedisIndex(client, "metarate:", time.Hour, log)
	rated, err := index.Rated(ctx, "alice")
	if err != nil {
		t.Fatalf("Rated() error = %v", err)
	}
	if len(rated) != 2 {
		t.Fatalf("Expected 2 rated, got %d", len(rated))
	}
	if !mr.Exists("metarate:rated-built:alice") {
		t.Error("Expected marker key after rebuild")
	}
	members, err := mr.SMembers("metarate:rated:alice")
	if err != nil || len(members) != 2 {
		t.Errorf("Cached members = %v, %v", members, err)
	}

	// A dropped marker forces a rebuild that sees later log entries
	mr.Del("metarate:rated-built:alice")
	if err := log.Append(ctx, models.ActionEntry{Username: "alice", Action: models.ActionSubmitRating, ReportID: "r3", Rating: models.RatingNoError}); err != nil {
		t.Fatal(err)
	}
	rated, err = index.Rated(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(rated) != 3 {
		t.Errorf("Expected 3 rated after rebuild, got %d", len(rated))
	}
}

func TestRedisIndex_RecordWithoutBuiltSet(t *testing.T) {
	mr, client := setupRedis(t)
	index := NewRedisIndex(client, "metarate:", time.Hour, actionlog.NewMemoryLog())

	if err := index.Record(context.Background(), "alice", "r1"); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if mr.Exists("metarate:rated:alice") {
		t.Error("Record must not create a partial set")
	}
}

func TestRedisIndex_FallsBackToScan(t *testing.T) {
	mr, client := setupRedis(t)
	ctx := context.Background()
	log := actionlog.NewMemoryLog()
	if err := log.Append(ctx, models.ActionEntry{Username: "alice", Action: models.ActionSubmitRating, ReportID: "r1", Rating: models.RatingNoError}); err != nil {
		t.Fatal(err)
	}

	index := NewRedisIndex(client, "metarate:", time.Hour, log)
	mr.Close()

	rated, err := index.Rated(ctx, "alice")
	if err != nil {
		t.Fatalf("Rated() error = %v", err)
	}
	if _, ok := rated["r1"]; !ok {
		t.Error("Expected r1 from scan fallback")
	}
}

func TestRedisIndex_ZeroTTLKeepsKeys(t *testing.T) {
	mr, client := setupRedis(t)
	ctx := context.Background()
	index := NewRedisIndex(client, "metarate:", 0, actionlog.NewMemoryLog())

	if _, err := index.Rated(ctx, "alice"); err != nil {
		t.Fatalf("Rated() error = %v", err)
	}
	if err := index.Record(ctx, "alice", "r1"); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	for _, key := range []string{"metarate:rated:alice", "metarate:rated-built:alice"} {
		if !mr.Exists(key) {
			t.Fatalf("Expected %s to exist", key)
		}
		if ttl := mr.TTL(key); ttl != 0 {
			t.Errorf("Expected no expiry on %s, got %v", key, ttl)
		}
	}

	rated, err := index.Rated(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := rated["r1"]; !ok {
		t.Error("Expected r1 to be served from the cached set")
	}
}
