package progress

import (
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func newTracker(publish Publisher) (*Tracker, *fakeClock) {
	clock := &fakeClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	tr := NewTracker(slog.New(slog.NewTextHandler(io.Discard, nil)), publish)
	tr.now = clock.now
	return tr, clock
}

func TestTrackerRatesAndETA(t *testing.T) {
	var published []Snapshot
	tr, clock := newTracker(func(s Snapshot) { published = append(published, s) })
	tr.Begin("job-1", 4, 200)

	clock.t = clock.t.Add(2 * time.Second)
	tr.Observe(Completion{Index: 1, Words: 50, Elapsed: time.Second})
	clock.t = clock.t.Add(2 * time.Second)
	tr.Observe(Completion{Index: 0, Words: 50, Elapsed: time.Second})

	snap := tr.Snapshot()
	if snap.Completed != 2 || snap.WordsDone != 100 {
		t.Fatalf("unexpected counts %+v", snap)
	}
	if snap.ChunksPerSec != 0.5 {
		t.Fatalf("expected 0.5 chunks/s, got %v", snap.ChunksPerSec)
	}
	if snap.WordsPerSec != 25 {
		t.Fatalf("expected 25 words/s, got %v", snap.WordsPerSec)
	}
	if snap.ETA != 4*time.Second {
		t.Fatalf("expected 4s eta, got %v", snap.ETA)
	}
	if len(published) != 2 || published[1].Completed != 2 {
		t.Fatalf("expected a published snapshot per completion, got %d", len(published))
	}
}

func TestTrackerFailuresAndFinish(t *testing.T) {
	tr, clock := newTracker(nil)
	tr.Begin("job-2", 2, 40)
	clock.t = clock.t.Add(time.Second)
	tr.Observe(Completion{Index: 0, Words: 20})
	tr.Observe(Completion{Index: 1, Words: 20, Err: errors.New("backend down")})

	snap := tr.Finish(false)
	if snap.Failed != 1 || snap.Completed != 1 {
		t.Fatalf("unexpected counts %+v", snap)
	}
	if !snap.Done || snap.Success {
		t.Fatalf("expected done and unsuccessful, got %+v", snap)
	}
	if snap.ETA != 0 {
		t.Fatalf("expected no eta once all chunks reported, got %v", snap.ETA)
	}
}

func TestTrackerBeginResets(t *testing.T) {
	tr, _ := newTracker(nil)
	tr.Begin("a", 1, 10)
	tr.Observe(Completion{Index: 0, Words: 10})
	tr.Begin("b", 3, 30)
	if snap := tr.Snapshot(); snap.Completed != 0 || snap.JobID != "b" {
		t.Fatalf("expected reset snapshot, got %+v", snap)
	}
}
