package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/loqalabs/loqa-narrate/internal/audio"
	"github.com/loqalabs/loqa-narrate/internal/player"
)

type Phase int

const (
	PhaseIdle Phase = iota
	PhaseArmed
	PhasePlaying
	PhaseDraining
	PhaseFinalizing
	PhaseDone
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseArmed:
		return "armed"
	case PhasePlaying:
		return "playing"
	case PhaseDraining:
		return "draining"
	case PhaseFinalizing:
		return "finalizing"
	case PhaseDone:
		return "done"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Merger reassembles ordered part files into out.
type Merger interface {
	Merge(ctx context.Context, parts []string, out string) error
}

// Coordinator plays the first chunk from the output path while later chunks
// are still being synthesized, then folds the remaining chunks into the
// output once playback has ended. The output file is never rewritten while
// the player holds it.
type Coordinator struct {
	mu           sync.Mutex
	phase        Phase
	output       string
	gui          bool
	player       player.Player
	merger       Merger
	releaseDelay time.Duration
	playCtx      context.Context
	logger       *slog.Logger

	handle     player.Handle
	firstReady bool
	buffered   map[int]Artifact
	warnings   []error
}

// NewCoordinator binds playback to ctx: cancelling it stops the player.
func NewCoordinator(ctx context.Context, output string, gui bool, pl player.Player, m Merger, releaseDelay time.Duration, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		output:       output,
		gui:          gui,
		player:       pl,
		merger:       m,
		releaseDelay: releaseDelay,
		playCtx:      ctx,
		logger:       logger.With(slog.String("component", "stream")),
		buffered:     make(map[int]Artifact),
	}
}

func (c *Coordinator) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Warnings returns non-fatal playback problems seen so far.
func (c *Coordinator) Warnings() []error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]error(nil), c.warnings...)
}

// Target redirects the first chunk into the output path.
func (c *Coordinator) Target(index int, part string) string {
	if index != 0 {
		return part
	}
	c.mu.Lock()
	if c.phase == PhaseIdle {
		c.phase = PhaseArmed
	}
	c.mu.Unlock()
	return c.output
}

// Accept is called as each chunk completes, in any order.
func (c *Coordinator) Accept(a Artifact) {
	if a.Status != StatusReady {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase >= PhaseFinalizing {
		return
	}

	if a.ChunkIndex != 0 {
		c.buffered[a.ChunkIndex] = a
		if c.phase == PhasePlaying {
			c.phase = PhaseDraining
		}
		return
	}

	c.firstReady = true
	h, err := c.player.Start(c.playCtx, c.output, c.gui)
	if err != nil {
		perr := &PlaybackError{Err: err}
		c.warnings = append(c.warnings, perr)
		c.logger.Warn("streaming playback unavailable", slog.String("error", err.Error()))
	} else {
		c.handle = h
		c.logger.Info("playback started", slog.String("path", c.output))
	}
	c.phase = PhasePlaying
	if len(c.buffered) > 0 {
		c.phase = PhaseDraining
	}
}

// Finalize must only be called once every chunk has completed. It waits for
// playback to end, then merges the buffered chunks behind the first one.
func (c *Coordinator) Finalize(ctx context.Context) error {
	c.mu.Lock()
	h := c.handle
	firstReady := c.firstReady
	rest := make([]Artifact, 0, len(c.buffered))
	for _, a := range c.buffered {
		rest = append(rest, a)
	}
	c.mu.Unlock()
	sort.Slice(rest, func(i, j int) bool { return rest[i].ChunkIndex < rest[j].ChunkIndex })

	if h != nil {
		select {
		case <-h.Done():
			if err := h.Err(); err != nil {
				c.addWarning(&PlaybackError{Err: err})
			}
		case <-ctx.Done():
			h.Stop()
			return ctx.Err()
		}
	}
	c.setPhase(PhaseFinalizing)
	defer c.setPhase(PhaseDone)

	paths := make([]string, 0, len(rest)+1)
	for _, a := range rest {
		paths = append(paths, a.Path)
	}
	if !firstReady {
		if len(paths) == 0 {
			return &MergeError{Err: errors.New("no audio to merge")}
		}
		if err := c.merger.Merge(ctx, paths, c.output); err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("merge interrupted: %w", ctx.Err())
			}
			return &MergeError{Err: err}
		}
		return nil
	}
	if len(paths) == 0 {
		return nil
	}

	if c.releaseDelay > 0 {
		select {
		case <-time.After(c.releaseDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	backup := c.output + ".backup"
	if err := audio.CopyFile(c.output, backup); err != nil {
		os.Remove(backup)
		return &MergeError{Err: fmt.Errorf("back up first chunk: %w", err)}
	}
	if err := c.merger.Merge(ctx, append([]string{backup}, paths...), c.output); err != nil {
		if ctx.Err() != nil {
			// A cancelled job keeps nothing at the output path; Abort removes it.
			os.Remove(backup)
			return fmt.Errorf("merge interrupted: %w", ctx.Err())
		}
		if rerr := os.Rename(backup, c.output); rerr != nil {
			c.logger.Error("failed to restore first chunk", slog.String("error", rerr.Error()))
		}
		return &MergeError{Err: err}
	}
	if err := os.Remove(backup); err != nil && !errors.Is(err, fs.ErrNotExist) {
		c.logger.Debug("failed to remove backup", slog.String("error", err.Error()))
	}
	return nil
}

// Abort stops playback and removes the output so a failed or cancelled job
// leaves nothing behind.
func (c *Coordinator) Abort() {
	c.mu.Lock()
	h := c.handle
	c.phase = PhaseDone
	c.mu.Unlock()

	if h != nil {
		if err := h.Stop(); err != nil {
			c.logger.Debug("failed to stop player", slog.String("error", err.Error()))
		}
	}
	for _, p := range []string{c.output, c.output + ".backup"} {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			c.logger.Warn("failed to remove partial output", slog.String("path", p), slog.String("error", err.Error()))
		}
	}
}

func (c *Coordinator) setPhase(p Phase) {
	c.mu.Lock()
	c.phase = p
	c.mu.Unlock()
}

func (c *Coordinator) addWarning(err error) {
	c.mu.Lock()
	c.warnings = append(c.warnings, err)
	c.mu.Unlock()
}
