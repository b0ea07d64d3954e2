package artifacts

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newCleaner() *Cleaner {
	c := NewCleaner(slog.New(slog.NewTextHandler(io.Discard, nil)))
	c.RetryDelay = time.Millisecond
	return c
}

func touch(t *testing.T, paths ...string) {
	t.Helper()
	for _, p := range paths {
		if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
			t.Fatalf("write %s: %v", p, err)
		}
	}
}

func TestPartPath(t *testing.T) {
	got := PartPath("/tmp/job", ".part", 3, ".mp3")
	if got != "/tmp/job/.part_3.mp3" {
		t.Fatalf("unexpected part path %q", got)
	}
}

func TestCleanupKeepsOutputAndIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	var paths []string
	for i := 0; i < 3; i++ {
		paths = append(paths, PartPath(dir, ".part", i, ".mp3"))
	}
	touch(t, paths...)
	c := newCleaner()

	if n := c.Cleanup(paths, paths[0]); n != 2 {
		t.Fatalf("expected 2 removals, got %d", n)
	}
	if _, err := os.Stat(paths[0]); err != nil {
		t.Fatalf("expected kept file to survive: %v", err)
	}
	if n := c.Cleanup(paths, paths[0]); n != 0 {
		t.Fatalf("expected second cleanup to be a no-op, got %d", n)
	}
}

func TestCleanupParallel(t *testing.T) {
	dir := t.TempDir()
	var paths []string
	for i := 0; i < 40; i++ {
		paths = append(paths, PartPath(dir, ".part", i, ".wav"))
	}
	touch(t, paths...)

	c := newCleaner()
	var inFlight, peak atomic.Int32
	c.remove = func(p string) error {
		n := inFlight.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		inFlight.Add(-1)
		return os.Remove(p)
	}
	if n := c.Cleanup(paths, ""); n != 40 {
		t.Fatalf("expected 40 removals, got %d", n)
	}
	if peak.Load() > maxCleanupWorkers {
		t.Fatalf("expected at most %d concurrent removals, saw %d", maxCleanupWorkers, peak.Load())
	}
}

func TestCleanupRetriesOnce(t *testing.T) {
	c := newCleaner()
	var mu sync.Mutex
	calls := map[string]int{}
	c.remove = func(p string) error {
		mu.Lock()
		defer mu.Unlock()
		calls[p]++
		if p == "busy" {
			return errors.New("resource busy")
		}
		if p == "flaky" && calls[p] == 1 {
			return errors.New("resource busy")
		}
		return nil
	}
	n := c.Cleanup([]string{"busy", "flaky"}, "")
	if n != 1 {
		t.Fatalf("expected only flaky file removed, got %d", n)
	}
	if calls["busy"] != 2 || calls["flaky"] != 2 {
		t.Fatalf("expected exactly one retry each, got %v", calls)
	}
}

func TestSweep(t *testing.T) {
	dir := t.TempDir()
	stale := []string{
		filepath.Join(dir, ".part_0.mp3"),
		filepath.Join(dir, ".part_17.mp3"),
		filepath.Join(dir, ".part_3f2a91c0_4.mp3"),
	}
	other := []string{
		filepath.Join(dir, "data.mp3"),
		filepath.Join(dir, ".partial.txt"),
		filepath.Join(dir, ".part_notes.txt"),
		filepath.Join(dir, ".part_notes.mp3"),
		filepath.Join(dir, ".part_3.wav"),
	}
	touch(t, append(stale, other...)...)

	if n := newCleaner().Sweep(dir, ".part", ".mp3", time.Time{}); n != 3 {
		t.Fatalf("expected 3 leftovers removed, got %d", n)
	}
	for _, p := range other {
		if _, err := os.Stat(p); err != nil {
			t.Fatalf("expected %s untouched: %v", p, err)
		}
	}
	if n := newCleaner().Sweep(filepath.Join(dir, "missing"), ".part", ".mp3", time.Time{}); n != 0 {
		t.Fatalf("expected missing dir to sweep nothing, got %d", n)
	}
}

func TestSweepSkipsRecentParts(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, ".part_old_0.mp3")
	fresh := filepath.Join(dir, ".part_new_0.mp3")
	touch(t, old, fresh)
	cutoff := time.Now().Add(-time.Minute)
	if err := os.Chtimes(old, cutoff.Add(-time.Hour), cutoff.Add(-time.Hour)); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	if n := newCleaner().Sweep(dir, ".part", ".mp3", cutoff); n != 1 {
		t.Fatalf("expected 1 leftover removed, got %d", n)
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Fatalf("expected recent part kept: %v", err)
	}
	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Fatalf("expected stale part removed, stat err=%v", err)
	}
}
