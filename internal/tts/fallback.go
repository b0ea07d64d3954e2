package tts

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/loqalabs/loqa-narrate/internal/fallback"
)

// Fallback renders a request with the first synthesizer that succeeds.
type Fallback struct {
	chain  *fallback.Chain[SynthRequest, []byte]
	synths []Synthesizer
}

func NewFallback(logger *slog.Logger, synths ...Synthesizer) *Fallback {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "synthesis"))
	strategies := make([]fallback.Strategy[SynthRequest, []byte], 0, len(synths))
	for _, s := range synths {
		s := s
		strategies = append(strategies, fallback.Strategy[SynthRequest, []byte]{
			Name: s.Name(),
			Attempt: func(ctx context.Context, req SynthRequest) ([]byte, error) {
				return Collect(ctx, s, req)
			},
		})
	}
	return &Fallback{chain: fallback.NewChain(logger, strategies...), synths: synths}
}

func (f *Fallback) Render(ctx context.Context, req SynthRequest) ([]byte, error) {
	return f.chain.Run(ctx, req)
}

func (f *Fallback) Names() []string { return f.chain.Names() }

// Close releases resources held by backends that own any.
func (f *Fallback) Close() error {
	var errs []error
	for _, s := range f.synths {
		if c, ok := s.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
