// Package player launches external audio players for progressive and
// post-synthesis playback.
package player

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"

	"github.com/mattn/go-shellwords"
)

var ErrNoPlayer = errors.New("no audio player available")

// Handle tracks a running playback.
type Handle interface {
	// Done is closed when playback ends for any reason.
	Done() <-chan struct{}
	Err() error
	Stop() error
}

type Player interface {
	Start(ctx context.Context, path string, gui bool) (Handle, error)
}

// Exec plays files through external commands. The GUI command is preferred
// when requested; the headless command is the fallback.
type Exec struct {
	gui      []string
	headless []string
	lookPath func(string) (string, error)
	logger   *slog.Logger
}

func NewExec(guiCommand, headlessCommand string, logger *slog.Logger) (*Exec, error) {
	if logger == nil {
		logger = slog.Default()
	}
	gui, err := parseCommand(guiCommand)
	if err != nil {
		return nil, fmt.Errorf("parse gui player command: %w", err)
	}
	headless, err := parseCommand(headlessCommand)
	if err != nil {
		return nil, fmt.Errorf("parse headless player command: %w", err)
	}
	if len(gui) == 0 && len(headless) == 0 {
		return nil, ErrNoPlayer
	}
	return &Exec{
		gui:      gui,
		headless: headless,
		lookPath: exec.LookPath,
		logger:   logger.With(slog.String("component", "player")),
	}, nil
}

func parseCommand(command string) ([]string, error) {
	if command == "" {
		return nil, nil
	}
	return shellwords.NewParser().Parse(command)
}

func (e *Exec) candidates(gui bool) [][]string {
	var out [][]string
	if gui && len(e.gui) > 0 {
		out = append(out, e.gui)
	}
	if len(e.headless) > 0 {
		out = append(out, e.headless)
	}
	if !gui && len(out) == 0 && len(e.gui) > 0 {
		out = append(out, e.gui)
	}
	return out
}

func (e *Exec) Start(ctx context.Context, path string, gui bool) (Handle, error) {
	for i, argv := range e.candidates(gui) {
		bin, err := e.lookPath(argv[0])
		if err != nil {
			e.logger.Debug("player unavailable", slog.String("player", argv[0]), slog.String("error", err.Error()))
			continue
		}
		args := append(append([]string{}, argv[1:]...), path)
		cmd := exec.CommandContext(ctx, bin, args...)
		if err := cmd.Start(); err != nil {
			e.logger.Warn("player failed to start", slog.String("player", argv[0]), slog.String("error", err.Error()))
			continue
		}
		if gui && i > 0 {
			e.logger.Info("gui player unavailable, using headless playback", slog.String("player", argv[0]))
		}
		h := &procHandle{cmd: cmd, done: make(chan struct{})}
		go h.wait()
		return h, nil
	}
	return nil, ErrNoPlayer
}

type procHandle struct {
	cmd  *exec.Cmd
	done chan struct{}
	mu   sync.Mutex
	err  error
}

func (h *procHandle) wait() {
	err := h.cmd.Wait()
	h.mu.Lock()
	h.err = err
	h.mu.Unlock()
	close(h.done)
}

func (h *procHandle) Done() <-chan struct{} { return h.done }

func (h *procHandle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

func (h *procHandle) Stop() error {
	select {
	case <-h.done:
		return nil
	default:
	}
	if err := h.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("stop player: %w", err)
	}
	<-h.done
	return nil
}
