package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/loqalabs/loqa-narrate/internal/fallback"
)

type mergeInput struct {
	parts []string
	dst   string
}

// Merger reassembles ordered parts into a single output file. The output
// path is replaced atomically and is left untouched when merging fails.
type Merger struct {
	chain  *fallback.Chain[mergeInput, struct{}]
	logger *slog.Logger
}

func NewMerger(logger *slog.Logger, concatenators ...Concatenator) *Merger {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "merge"))
	strategies := make([]fallback.Strategy[mergeInput, struct{}], 0, len(concatenators))
	for _, c := range concatenators {
		c := c
		strategies = append(strategies, fallback.Strategy[mergeInput, struct{}]{
			Name: c.Name(),
			Attempt: func(ctx context.Context, in mergeInput) (struct{}, error) {
				err := c.Concat(ctx, in.parts, in.dst)
				if err != nil {
					os.Remove(in.dst)
				}
				return struct{}{}, err
			},
		})
	}
	return &Merger{chain: fallback.NewChain(logger, strategies...), logger: logger}
}

func (m *Merger) Merge(ctx context.Context, parts []string, out string) error {
	switch len(parts) {
	case 0:
		return errors.New("merge: no parts")
	case 1:
		return m.promote(parts[0], out)
	}

	scratch := ScratchPath(out)
	if _, err := m.chain.Run(ctx, mergeInput{parts: parts, dst: scratch}); err != nil {
		os.Remove(scratch)
		return fmt.Errorf("concatenate %d parts: %w", len(parts), err)
	}
	if err := os.Rename(scratch, out); err != nil {
		os.Remove(scratch)
		return fmt.Errorf("replace output: %w", err)
	}
	m.logger.Debug("merged parts", slog.Int("parts", len(parts)), slog.String("output", out))
	return nil
}

func (m *Merger) promote(part, out string) error {
	if filepath.Clean(part) == filepath.Clean(out) {
		return nil
	}
	if err := os.Rename(part, out); err == nil {
		return nil
	}
	scratch := ScratchPath(out)
	if err := CopyFile(part, scratch); err != nil {
		os.Remove(scratch)
		return err
	}
	if err := os.Rename(scratch, out); err != nil {
		os.Remove(scratch)
		return fmt.Errorf("replace output: %w", err)
	}
	return nil
}

// ScratchPath returns a hidden sibling of out that keeps its extension so
// external tools can infer the container.
func ScratchPath(out string) string {
	dir, base := filepath.Split(out)
	ext := filepath.Ext(base)
	return filepath.Join(dir, "."+strings.TrimSuffix(base, ext)+".merging"+ext)
}

func CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy %s: %w", src, err)
	}
	return out.Close()
}
