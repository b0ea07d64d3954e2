package eventstore

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/loqalabs/loqa-narrate/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func openStore(t *testing.T, cfg config.EventStoreConfig) *Store {
	t.Helper()
	cfg.Enabled = true
	cfg.Path = filepath.Join(t.TempDir(), "history.db")
	es, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })
	return es
}

func TestOpenDisabled(t *testing.T) {
	es, err := Open(context.Background(), config.EventStoreConfig{}, newLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if es.Enabled() {
		t.Fatal("expected disabled store")
	}
	if err := es.AppendEvent(context.Background(), Event{JobID: "x", Type: "noop"}); err != nil {
		t.Fatalf("expected disabled append to succeed: %v", err)
	}
	if events, err := es.ListJobEvents(context.Background(), "x", 10); err != nil || events != nil {
		t.Fatalf("expected empty read, got %v err=%v", events, err)
	}
}

func TestAppendAndQuery(t *testing.T) {
	es := openStore(t, config.EventStoreConfig{})
	ctx := context.Background()

	if err := es.AppendJob(ctx, Job{ID: "job-123", Language: "en", Voice: "en-GB-SoniaNeural", OutputPath: "data.mp3", Words: 350, Chunks: 7}); err != nil {
		t.Fatalf("append job: %v", err)
	}
	if err := es.AppendEvent(ctx, Event{JobID: "job-123", ChunkIndex: 2, Type: "chunk.ready", Payload: []byte(`{"bytes":10}`)}); err != nil {
		t.Fatalf("append event: %v", err)
	}
	if err := es.FinishJob(ctx, "job-123", StatusSucceeded, ""); err != nil {
		t.Fatalf("finish job: %v", err)
	}

	events, err := es.ListJobEvents(ctx, "job-123", 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 1 || events[0].ChunkIndex != 2 || string(events[0].Payload) != `{"bytes":10}` {
		t.Fatalf("unexpected events %+v", events)
	}
	if events[0].CreatedAt.IsZero() {
		t.Fatal("expected event timestamp")
	}

	jobs, err := es.ListJobs(ctx, 5)
	if err != nil {
		t.Fatalf("list jobs: %v", err)
	}
	if len(jobs) != 1 || jobs[0].Status != StatusSucceeded || jobs[0].Chunks != 7 || jobs[0].FinishedAt.IsZero() {
		t.Fatalf("unexpected jobs %+v", jobs)
	}
}

func TestPruneByDaysAndJobs(t *testing.T) {
	es := openStore(t, config.EventStoreConfig{RetentionDays: 1, MaxJobs: 1})
	ctx := context.Background()

	es.clock = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	if err := es.AppendJob(ctx, Job{ID: "old-job"}); err != nil {
		t.Fatalf("append job: %v", err)
	}
	if err := es.AppendEvent(ctx, Event{JobID: "old-job", Type: "job.started"}); err != nil {
		t.Fatalf("append event: %v", err)
	}

	es.clock = func() time.Time { return time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC) }
	if err := es.AppendJob(ctx, Job{ID: "new-job"}); err != nil {
		t.Fatalf("append job: %v", err)
	}
	if err := es.Prune(ctx); err != nil {
		t.Fatalf("prune: %v", err)
	}

	events, err := es.ListJobEvents(ctx, "old-job", 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected old job pruned")
	}
	jobs, _ := es.ListJobs(ctx, 10)
	if len(jobs) != 1 || jobs[0].ID != "new-job" {
		t.Fatalf("expected only new job retained, got %+v", jobs)
	}
}
