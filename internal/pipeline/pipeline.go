// Package pipeline turns text into a single audio file: it segments the
// text, synthesizes chunks concurrently, optionally starts playback from
// the first chunk, merges the parts in order and cleans up after itself.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/loqalabs/loqa-narrate/internal/artifacts"
	"github.com/loqalabs/loqa-narrate/internal/eventstore"
	"github.com/loqalabs/loqa-narrate/internal/player"
	"github.com/loqalabs/loqa-narrate/internal/progress"
	"github.com/loqalabs/loqa-narrate/internal/segment"
	"github.com/loqalabs/loqa-narrate/internal/strategy"
	"github.com/loqalabs/loqa-narrate/internal/tts"
	"github.com/loqalabs/loqa-narrate/internal/voice"
)

const tracerName = "github.com/loqalabs/loqa-narrate/pipeline"

const defaultExt = ".mp3"

// Job is one synthesis request. Zero Concurrency or ChunkSeconds defer to
// the strategy heuristic.
type Job struct {
	ID           string
	Text         string
	Language     string
	Voice        string
	OutputPath   string
	Concurrency  int
	ChunkSeconds int
	Streaming    bool
	GUI          bool
	Play         bool
	KeepParts    bool
	AllowPartial bool
}

type Options struct {
	Logger   *slog.Logger
	Renderer Renderer
	Merger   Merger
	// Player is optional; without one streaming and Play are ignored.
	Player  player.Player
	Cleaner *artifacts.Cleaner
	History *eventstore.Store
	Publish progress.Publisher

	WordsPerMinute int
	MaxWorkers     int
	PartPrefix     string
	WorkDir        string
	ReleaseDelay   time.Duration
}

type Result struct {
	JobID       string
	OutputPath  string
	Mode        strategy.Mode
	Chunks      int
	Failed      int
	Words       int
	Concurrency int
	Elapsed     time.Duration
	Progress    progress.Snapshot
	Warnings    []error
}

// Runner executes jobs. It is safe for concurrent use; every job gets its
// own progress tracker and part files.
type Runner struct {
	opts    Options
	logger  *slog.Logger
	tracer  trace.Tracer
	started time.Time
}

func NewRunner(opts Options) (*Runner, error) {
	if opts.Renderer == nil {
		return nil, errors.New("pipeline: renderer is required")
	}
	if opts.Merger == nil {
		return nil, errors.New("pipeline: merger is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Cleaner == nil {
		opts.Cleaner = artifacts.NewCleaner(opts.Logger)
	}
	if opts.PartPrefix == "" {
		opts.PartPrefix = ".part"
	}
	if opts.WordsPerMinute <= 0 {
		opts.WordsPerMinute = segment.DefaultWordsPerMinute
	}
	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = strategy.DefaultMaxWorkers()
	}
	return &Runner{
		opts:    opts,
		logger:  opts.Logger.With(slog.String("component", "pipeline")),
		tracer:  otel.Tracer(tracerName),
		started: time.Now(),
	}, nil
}

// Close releases the renderer's connections.
func (r *Runner) Close() error {
	if c, ok := r.opts.Renderer.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Run executes job to completion. On success the output path holds the
// complete audio; on failure it holds nothing, except after a streaming
// merge failure where the first chunk is restored there.
func (r *Runner) Run(ctx context.Context, job Job) (res Result, err error) {
	start := time.Now()
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	res.JobID = job.ID
	logger := r.logger.With(slog.String("job_id", job.ID))

	text := tts.Sanitize(job.Text)
	if text == "" {
		return res, &SegmentationError{Reason: "text is empty"}
	}
	voiceName, err := voice.Resolve(job.Language, job.Voice)
	if err != nil {
		return res, &SegmentationError{Reason: "no voice", Err: err}
	}
	output := job.OutputPath
	if output == "" {
		output = "data" + defaultExt
	}
	res.OutputPath = output

	ctx, span := r.tracer.Start(ctx, "narrate.job", trace.WithAttributes(
		attribute.String("job.id", job.ID),
		attribute.String("job.voice", voiceName),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	workDir := r.opts.WorkDir
	if workDir == "" {
		workDir = filepath.Dir(output)
	}
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return res, fmt.Errorf("create work dir: %w", err)
	}
	if dir := filepath.Dir(output); dir != workDir {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return res, fmt.Errorf("create output dir: %w", err)
		}
	}
	ext := filepath.Ext(output)
	if ext == "" {
		ext = defaultExt
	}
	prefix := r.opts.PartPrefix + "_" + shortID(job.ID)
	r.opts.Cleaner.Sweep(workDir, r.opts.PartPrefix, ext, r.started)

	streaming := job.Streaming && r.opts.Player != nil
	decision := strategy.Select(text, strategy.Options{
		ChunkSeconds: job.ChunkSeconds,
		Concurrency:  job.Concurrency,
		MaxWorkers:   r.opts.MaxWorkers,
		Streaming:    streaming,
	})
	var chunks []segment.Chunk
	if decision.Mode == strategy.Direct {
		chunks = []segment.Chunk{{Index: 0, Text: text, WordCount: decision.Words}}
	} else {
		chunks = segment.Segment(text, segment.WordsPerChunk(decision.ChunkSeconds, r.opts.WordsPerMinute))
	}
	if len(chunks) == 0 {
		return res, &SegmentationError{Reason: "no chunks produced"}
	}
	res.Mode = decision.Mode
	res.Chunks = len(chunks)
	res.Words = decision.Words
	res.Concurrency = decision.Concurrency
	span.SetAttributes(
		attribute.String("job.mode", decision.Mode.String()),
		attribute.Int("job.chunks", len(chunks)),
		attribute.Int("job.concurrency", decision.Concurrency),
	)
	logger.Info("synthesis started",
		slog.String("mode", decision.Mode.String()),
		slog.Int("words", decision.Words),
		slog.Int("chunks", len(chunks)),
		slog.Int("workers", decision.Concurrency),
		slog.String("voice", voiceName),
		slog.Bool("streaming", streaming),
	)

	tracker := progress.NewTracker(r.opts.Logger, r.opts.Publish)
	tracker.Begin(job.ID, len(chunks), decision.Words)
	history := r.opts.History
	if herr := history.AppendJob(ctx, eventstore.Job{
		ID:         job.ID,
		Language:   job.Language,
		Voice:      voiceName,
		OutputPath: output,
		Words:      decision.Words,
		Chunks:     len(chunks),
	}); herr != nil {
		logger.Warn("failed to record job", slogError(herr))
	}

	var coord *Coordinator
	if streaming {
		coord = NewCoordinator(ctx, output, job.GUI, r.opts.Player, r.opts.Merger, r.opts.ReleaseDelay, r.opts.Logger)
	}
	parts := make([]string, len(chunks))
	target := func(c segment.Chunk) string {
		part := artifacts.PartPath(workDir, prefix, c.Index, ext)
		if coord != nil {
			part = coord.Target(c.Index, part)
		}
		parts[c.Index] = part
		return part
	}
	var done func(Artifact)
	if coord != nil {
		done = coord.Accept
	}

	pool := &Pool{
		Renderer:     r.opts.Renderer,
		Limit:        decision.Concurrency,
		AllowPartial: job.AllowPartial,
		JobID:        job.ID,
		Voice:        voiceName,
		observe:      tracker.Observe,
		record:       r.recordChunk(history, job.ID, logger),
		tracer:       r.tracer,
	}
	arts, err := pool.SynthesizeAll(ctx, chunks, target, done)

	fail := func(err error) (Result, error) {
		if coord != nil {
			coord.Abort()
		}
		if !job.KeepParts {
			r.opts.Cleaner.Cleanup(parts, "")
		}
		res.Progress = tracker.Finish(false)
		res.Failed = res.Progress.Failed
		res.Elapsed = time.Since(start)
		r.finishHistory(history, job.ID, err, logger)
		return res, err
	}
	if err != nil {
		return fail(err)
	}

	var ready []string
	for _, a := range arts {
		if a.Status == StatusReady {
			ready = append(ready, a.Path)
		} else {
			res.Failed++
		}
	}
	if len(ready) == 0 {
		return fail(&SynthesisError{Index: 0, Err: errors.New("no chunk was synthesized")})
	}

	if coord != nil {
		if err := coord.Finalize(ctx); err != nil {
			var merr *MergeError
			if errors.As(err, &merr) {
				// The first chunk is back at the output path; keep it.
				r.opts.Cleaner.Cleanup(parts, output)
				res.Warnings = append(res.Warnings, coord.Warnings()...)
				res.Progress = tracker.Finish(false)
				res.Elapsed = time.Since(start)
				r.finishHistory(history, job.ID, err, logger)
				return res, err
			}
			return fail(err)
		}
		res.Warnings = append(res.Warnings, coord.Warnings()...)
	} else if err := r.opts.Merger.Merge(ctx, ready, output); err != nil {
		if ctx.Err() != nil {
			return fail(fmt.Errorf("merge interrupted: %w", ctx.Err()))
		}
		return fail(&MergeError{Err: err})
	}

	if !job.KeepParts {
		r.opts.Cleaner.Cleanup(parts, output)
	}

	if job.Play && !streaming && r.opts.Player != nil {
		if perr := r.play(ctx, output, job.GUI); perr != nil {
			logger.Warn("playback failed", slogError(perr))
			res.Warnings = append(res.Warnings, perr)
		}
	}

	res.Progress = tracker.Finish(true)
	res.Elapsed = time.Since(start)
	r.finishHistory(history, job.ID, nil, logger)
	return res, nil
}

// play blocks until playback of path ends or ctx is cancelled.
func (r *Runner) play(ctx context.Context, path string, gui bool) error {
	h, err := r.opts.Player.Start(ctx, path, gui)
	if err != nil {
		return &PlaybackError{Err: err}
	}
	select {
	case <-h.Done():
		if err := h.Err(); err != nil {
			return &PlaybackError{Err: err}
		}
		return nil
	case <-ctx.Done():
		h.Stop()
		return &PlaybackError{Err: ctx.Err()}
	}
}

type chunkEvent struct {
	Status    string `json:"status"`
	Path      string `json:"path,omitempty"`
	Bytes     int64  `json:"bytes,omitempty"`
	ElapsedMS int64  `json:"elapsed_ms"`
	Error     string `json:"error,omitempty"`
}

func (r *Runner) recordChunk(history *eventstore.Store, jobID string, logger *slog.Logger) func(context.Context, Artifact, time.Duration) {
	if !history.Enabled() {
		return nil
	}
	return func(ctx context.Context, a Artifact, elapsed time.Duration) {
		evt := chunkEvent{Status: a.Status.String(), Path: a.Path, Bytes: a.SizeBytes, ElapsedMS: elapsed.Milliseconds()}
		if a.Err != nil {
			evt.Error = a.Err.Error()
		}
		payload, err := json.Marshal(evt)
		if err != nil {
			return
		}
		// The worker context is cancelled when a sibling fails; the event
		// must still land.
		if err := history.AppendEvent(context.WithoutCancel(ctx), eventstore.Event{
			JobID:      jobID,
			ChunkIndex: a.ChunkIndex,
			Type:       "chunk." + a.Status.String(),
			Payload:    payload,
		}); err != nil {
			logger.Debug("failed to record chunk event", slogError(err))
		}
	}
}

func (r *Runner) finishHistory(history *eventstore.Store, jobID string, jobErr error, logger *slog.Logger) {
	status, detail := eventstore.StatusSucceeded, ""
	switch {
	case jobErr == nil:
	case errors.Is(jobErr, context.Canceled), errors.Is(jobErr, context.DeadlineExceeded):
		status, detail = eventstore.StatusCancelled, jobErr.Error()
	default:
		status, detail = eventstore.StatusFailed, jobErr.Error()
	}
	if err := history.FinishJob(context.Background(), jobID, status, detail); err != nil {
		logger.Warn("failed to record job status", slogError(err))
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func slogError(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String("error", err.Error())
}
