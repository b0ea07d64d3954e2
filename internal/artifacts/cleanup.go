// Package artifacts names per-chunk part files and removes them once a job
// no longer needs them.
package artifacts

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	DefaultRetryDelay = 100 * time.Millisecond
	parallelThreshold = 5
	maxCleanupWorkers = 8
)

// PartPath names the part file for a chunk: <dir>/<prefix>_<index><ext>.
func PartPath(dir, prefix string, index int, ext string) string {
	return filepath.Join(dir, fmt.Sprintf("%s_%d%s", prefix, index, ext))
}

type Cleaner struct {
	RetryDelay time.Duration

	remove func(string) error
	logger *slog.Logger
}

func NewCleaner(logger *slog.Logger) *Cleaner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cleaner{
		RetryDelay: DefaultRetryDelay,
		remove:     os.Remove,
		logger:     logger.With(slog.String("component", "cleanup")),
	}
}

// Cleanup removes every path except keep. Failures are retried once and
// then logged; they never propagate. Returns the number of files removed.
func (c *Cleaner) Cleanup(paths []string, keep string) int {
	var targets []string
	seen := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		if p == "" {
			continue
		}
		clean := filepath.Clean(p)
		if keep != "" && clean == filepath.Clean(keep) {
			continue
		}
		if _, dup := seen[clean]; dup {
			continue
		}
		seen[clean] = struct{}{}
		targets = append(targets, clean)
	}
	if len(targets) == 0 {
		return 0
	}

	removed := make([]bool, len(targets))
	if len(targets) <= parallelThreshold {
		for i, p := range targets {
			removed[i] = c.removeOne(p)
		}
	} else {
		var g errgroup.Group
		g.SetLimit(min(maxCleanupWorkers, len(targets)))
		for i, p := range targets {
			g.Go(func() error {
				removed[i] = c.removeOne(p)
				return nil
			})
		}
		g.Wait()
	}

	n := 0
	for _, ok := range removed {
		if ok {
			n++
		}
	}
	return n
}

func (c *Cleaner) removeOne(path string) bool {
	err := c.remove(path)
	if err == nil {
		return true
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false
	}
	time.Sleep(c.RetryDelay)
	err = c.remove(path)
	if err == nil {
		return true
	}
	if !errors.Is(err, fs.ErrNotExist) {
		c.logger.Debug("cleanup skipped file", slog.String("path", path), slog.String("error", err.Error()))
	}
	return false
}

// Sweep removes leftover part files (<prefix>_<n><ext> or
// <prefix>_<id>_<n><ext>) in dir from an earlier run that did not clean up
// after itself. Files modified at or after before are left alone so parts
// of jobs still running in this process survive; a zero before matches
// every file.
func (c *Cleaner) Sweep(dir, prefix, ext string, before time.Time) int {
	if dir == "" {
		dir = "."
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			c.logger.Debug("sweep failed", slog.String("dir", dir), slog.String("error", err.Error()))
		}
		return 0
	}
	var stale []string
	for _, entry := range entries {
		if entry.IsDir() || !isPartName(entry.Name(), prefix, ext) {
			continue
		}
		if !before.IsZero() {
			info, err := entry.Info()
			if err != nil || !info.ModTime().Before(before) {
				continue
			}
		}
		stale = append(stale, filepath.Join(dir, entry.Name()))
	}
	n := c.Cleanup(stale, "")
	if n > 0 {
		c.logger.Info("removed leftover parts", slog.String("dir", dir), slog.Int("count", n))
	}
	return n
}

func isPartName(name, prefix, ext string) bool {
	rest, ok := strings.CutPrefix(name, prefix+"_")
	if !ok {
		return false
	}
	rest, ok = strings.CutSuffix(rest, ext)
	if !ok {
		return false
	}
	if i := strings.LastIndexByte(rest, '_'); i >= 0 {
		if i == 0 {
			return false
		}
		rest = rest[i+1:]
	}
	if rest == "" {
		return false
	}
	for _, r := range rest {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
