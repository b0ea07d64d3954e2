package tts

import (
	"bytes"
	"context"
	"errors"
)

var ErrEmptyAudio = errors.New("synthesizer returned no audio")

// SynthRequest contains parameters to synthesize one piece of text.
type SynthRequest struct {
	JobID      string
	ChunkIndex int
	Text       string
	Voice      string
}

// SynthChunk carries encoded audio bytes as they arrive from a backend.
type SynthChunk struct {
	JobID      string
	ChunkIndex int
	Sequence   int
	Audio      []byte
	Final      bool
}

// Synthesizer is the contract for producing audio.
type Synthesizer interface {
	Name() string
	Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error)
}

// Collect drains a synthesizer stream into a single buffer.
func Collect(ctx context.Context, s Synthesizer, req SynthRequest) ([]byte, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	chunks, errs := s.Synthesize(ctx, req)
	var buf bytes.Buffer
	for chunks != nil || errs != nil {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				chunks = nil
				continue
			}
			buf.Write(chunk.Audio)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err != nil {
				return nil, err
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if buf.Len() == 0 {
		return nil, ErrEmptyAudio
	}
	return buf.Bytes(), nil
}

// emit delivers a chunk unless the consumer has gone away.
func emit(ctx context.Context, ch chan<- SynthChunk, chunk SynthChunk) bool {
	select {
	case ch <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}
