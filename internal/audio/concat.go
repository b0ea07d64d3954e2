package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/mattn/go-shellwords"
)

var ErrUnsupportedFormat = errors.New("unsupported audio container")

// Concatenator joins audio files into dst in the given order.
type Concatenator interface {
	Name() string
	Concat(ctx context.Context, parts []string, dst string) error
}

type format int

const (
	formatUnknown format = iota
	formatWAV
	formatMP3
)

func sniff(path string) (format, error) {
	f, err := os.Open(path)
	if err != nil {
		return formatUnknown, err
	}
	defer f.Close()
	head := make([]byte, 12)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return formatUnknown, fmt.Errorf("read header: %w", err)
	}
	head = head[:n]
	switch {
	case len(head) >= 12 && bytes.Equal(head[:4], []byte("RIFF")) && bytes.Equal(head[8:12], []byte("WAVE")):
		return formatWAV, nil
	case bytes.HasPrefix(head, []byte("ID3")):
		return formatMP3, nil
	case len(head) >= 2 && head[0] == 0xFF && head[1]&0xE0 == 0xE0:
		return formatMP3, nil
	}
	return formatUnknown, nil
}

// Native concatenates WAV and MP3 files in process.
type Native struct{}

func (Native) Name() string { return "native" }

func (Native) Concat(ctx context.Context, parts []string, dst string) error {
	if len(parts) == 0 {
		return errors.New("no parts to concatenate")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	kind, err := sniff(parts[0])
	if err != nil {
		return err
	}
	switch kind {
	case formatWAV:
		return concatWAV(parts, dst)
	case formatMP3:
		return concatMP3(parts, dst)
	default:
		return fmt.Errorf("%s: %w", parts[0], ErrUnsupportedFormat)
	}
}

// Runner executes an external command and returns its combined output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Transcoder concatenates through an external ffmpeg-compatible tool using
// the concat demuxer with stream copy.
type Transcoder struct {
	command []string
	run     Runner
}

func NewTranscoder(command string, run Runner) (*Transcoder, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse transcoder command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("transcoder command empty")
	}
	if run == nil {
		run = execRunner
	}
	return &Transcoder{command: args, run: run}, nil
}

func (t *Transcoder) Name() string { return filepath.Base(t.command[0]) }

func (t *Transcoder) Concat(ctx context.Context, parts []string, dst string) error {
	if len(parts) == 0 {
		return errors.New("no parts to concatenate")
	}
	list, err := os.CreateTemp(filepath.Dir(dst), ".concat-*.txt")
	if err != nil {
		return fmt.Errorf("create concat list: %w", err)
	}
	defer os.Remove(list.Name())

	for _, part := range parts {
		abs, err := filepath.Abs(part)
		if err != nil {
			list.Close()
			return err
		}
		fmt.Fprintf(list, "file '%s'\n", strings.ReplaceAll(abs, "'", `'\''`))
	}
	if err := list.Close(); err != nil {
		return fmt.Errorf("write concat list: %w", err)
	}

	args := append([]string{}, t.command[1:]...)
	args = append(args, "-f", "concat", "-safe", "0", "-i", list.Name(), "-c", "copy", dst)
	if out, err := t.run(ctx, t.command[0], args...); err != nil {
		if msg := strings.TrimSpace(string(out)); msg != "" {
			return fmt.Errorf("%s failed: %w: %s", t.Name(), err, msg)
		}
		return fmt.Errorf("%s failed: %w", t.Name(), err)
	}
	return nil
}
