package pipeline

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/loqalabs/loqa-narrate/internal/progress"
	"github.com/loqalabs/loqa-narrate/internal/segment"
	"github.com/loqalabs/loqa-narrate/internal/tts"
)

type Status int

const (
	StatusQueued Status = iota
	StatusPending
	StatusReady
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusQueued:
		return "queued"
	case StatusPending:
		return "pending"
	case StatusReady:
		return "ready"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Artifact is the on-disk result of synthesizing one chunk.
type Artifact struct {
	ChunkIndex int
	Path       string
	SizeBytes  int64
	Status     Status
	Err        error
}

// Renderer turns a request into encoded audio, falling back between
// backends as needed.
type Renderer interface {
	Render(ctx context.Context, req tts.SynthRequest) ([]byte, error)
}

// Pool synthesizes chunks with at most Limit calls in flight. Chunks are
// admitted in ordinal order; completion order is arbitrary.
type Pool struct {
	Renderer     Renderer
	Limit        int
	AllowPartial bool
	JobID        string
	Voice        string

	observe func(progress.Completion)
	record  func(ctx context.Context, a Artifact, elapsed time.Duration)
	tracer  trace.Tracer
}

// SynthesizeAll returns one artifact per chunk, indexed by ordinal, once
// every admitted worker has returned. target chooses the file each chunk is
// written to; done is called from the worker as each chunk completes.
func (p *Pool) SynthesizeAll(ctx context.Context, chunks []segment.Chunk, target func(segment.Chunk) string, done func(Artifact)) ([]Artifact, error) {
	arts := make([]Artifact, len(chunks))
	for i, c := range chunks {
		arts[i] = Artifact{ChunkIndex: c.Index, Status: StatusQueued}
	}
	limit := p.Limit
	if limit < 1 {
		limit = 1
	}
	if p.tracer == nil {
		p.tracer = otel.Tracer(tracerName)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, c := range chunks {
		if gctx.Err() != nil {
			break
		}
		path := target(c)
		g.Go(func() error {
			if gctx.Err() != nil {
				arts[i] = Artifact{ChunkIndex: c.Index, Path: path, Status: StatusFailed, Err: gctx.Err()}
				return nil
			}
			arts[i] = Artifact{ChunkIndex: c.Index, Path: path, Status: StatusPending}
			a := p.synthesize(gctx, c, path)
			arts[i] = a
			if done != nil {
				done(a)
			}
			if a.Status == StatusFailed && !p.AllowPartial {
				return &SynthesisError{Index: c.Index, Err: a.Err}
			}
			return nil
		})
	}
	err := g.Wait()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return arts, fmt.Errorf("synthesis interrupted: %w", ctxErr)
	}
	return arts, err
}

func (p *Pool) synthesize(ctx context.Context, c segment.Chunk, path string) Artifact {
	start := time.Now()
	ctx, span := p.tracer.Start(ctx, "narrate.chunk", trace.WithAttributes(
		attribute.String("job.id", p.JobID),
		attribute.Int("chunk.index", c.Index),
		attribute.Int("chunk.words", c.WordCount),
	))
	defer span.End()

	a := Artifact{ChunkIndex: c.Index, Path: path}
	audio, err := p.Renderer.Render(ctx, tts.SynthRequest{
		JobID:      p.JobID,
		ChunkIndex: c.Index,
		Text:       tts.Sanitize(c.Text),
		Voice:      p.Voice,
	})
	if err == nil {
		err = writeArtifact(path, audio)
	}
	elapsed := time.Since(start)
	if err != nil {
		a.Status = StatusFailed
		a.Err = err
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		a.Status = StatusReady
		a.SizeBytes = int64(len(audio))
		span.SetAttributes(attribute.Int("chunk.bytes", len(audio)))
	}

	if p.observe != nil {
		p.observe(progress.Completion{Index: c.Index, Words: c.WordCount, Err: a.Err, Elapsed: elapsed})
	}
	if p.record != nil {
		p.record(ctx, a, elapsed)
	}
	return a
}

func writeArtifact(path string, audio []byte) error {
	if err := os.WriteFile(path, audio, 0o644); err != nil {
		os.Remove(path)
		return fmt.Errorf("write artifact: %w", err)
	}
	return nil
}
