// Package progress aggregates per-chunk completions into throughput and ETA
// estimates and reports them to logs, metrics and an optional publisher.
package progress

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type Completion struct {
	Index   int
	Words   int
	Err     error
	Elapsed time.Duration
}

type Snapshot struct {
	JobID        string        `json:"job_id"`
	Total        int           `json:"total"`
	Completed    int           `json:"completed"`
	Failed       int           `json:"failed"`
	Words        int           `json:"words"`
	WordsDone    int           `json:"words_done"`
	Elapsed      time.Duration `json:"elapsed"`
	ChunksPerSec float64       `json:"chunks_per_sec"`
	WordsPerSec  float64       `json:"words_per_sec"`
	ETA          time.Duration `json:"eta"`
	Done         bool          `json:"done"`
	Success      bool          `json:"success"`
}

// Publisher receives a snapshot after every completion. It must not block.
type Publisher func(Snapshot)

type Tracker struct {
	mu      sync.Mutex
	logger  *slog.Logger
	publish Publisher
	now     func() time.Time

	jobID     string
	start     time.Time
	total     int
	words     int
	completed int
	failed    int
	wordsDone int
	done      bool
	success   bool

	chunksDone   metric.Int64Counter
	chunksFailed metric.Int64Counter
	wordsCounter metric.Int64Counter
	chunkLatency metric.Float64Histogram
}

func NewTracker(logger *slog.Logger, publish Publisher) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	t := &Tracker{
		logger:  logger.With(slog.String("component", "progress")),
		publish: publish,
		now:     time.Now,
	}
	if err := t.initMetrics(); err != nil {
		t.logger.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}
	return t
}

func (t *Tracker) initMetrics() error {
	meter := otel.Meter("github.com/loqalabs/loqa-narrate/progress")
	var err error
	if t.chunksDone, err = meter.Int64Counter("narrate.chunks.completed", metric.WithDescription("Chunks synthesized successfully")); err != nil {
		return err
	}
	if t.chunksFailed, err = meter.Int64Counter("narrate.chunks.failed", metric.WithDescription("Chunks that failed every backend")); err != nil {
		return err
	}
	if t.wordsCounter, err = meter.Int64Counter("narrate.words.synthesized", metric.WithDescription("Words synthesized")); err != nil {
		return err
	}
	t.chunkLatency, err = meter.Float64Histogram("narrate.chunk.duration", metric.WithDescription("Per-chunk synthesis latency"), metric.WithUnit("s"))
	return err
}

func (t *Tracker) Begin(jobID string, total, words int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.jobID = jobID
	t.start = t.now()
	t.total = total
	t.words = words
	t.completed, t.failed, t.wordsDone = 0, 0, 0
	t.done, t.success = false, false
}

func (t *Tracker) Observe(c Completion) {
	t.mu.Lock()
	if c.Err != nil {
		t.failed++
	} else {
		t.completed++
		t.wordsDone += c.Words
	}
	snap := t.snapshotLocked()
	t.mu.Unlock()

	attrs := metric.WithAttributes(attribute.String("job_id", snap.JobID))
	ctx := context.Background()
	if c.Err != nil {
		if t.chunksFailed != nil {
			t.chunksFailed.Add(ctx, 1, attrs)
		}
		t.logger.Warn("chunk failed",
			slog.String("job_id", snap.JobID),
			slog.Int("chunk", c.Index),
			slog.String("error", c.Err.Error()),
		)
	} else {
		if t.chunksDone != nil {
			t.chunksDone.Add(ctx, 1, attrs)
		}
		if t.wordsCounter != nil {
			t.wordsCounter.Add(ctx, int64(c.Words), attrs)
		}
		t.logger.Info("chunk ready",
			slog.String("job_id", snap.JobID),
			slog.Int("chunk", c.Index),
			slog.Int("completed", snap.Completed),
			slog.Int("total", snap.Total),
			slog.Float64("words_per_sec", round2(snap.WordsPerSec)),
			slog.Duration("eta", snap.ETA.Round(100*time.Millisecond)),
		)
	}
	if t.chunkLatency != nil && c.Elapsed > 0 {
		t.chunkLatency.Record(ctx, c.Elapsed.Seconds(), attrs)
	}
	if t.publish != nil {
		t.publish(snap)
	}
}

// Finish marks the job done and logs the final statistics.
func (t *Tracker) Finish(success bool) Snapshot {
	t.mu.Lock()
	t.done = true
	t.success = success
	snap := t.snapshotLocked()
	t.mu.Unlock()

	t.logger.Info("synthesis finished",
		slog.String("job_id", snap.JobID),
		slog.Bool("success", success),
		slog.Int("chunks", snap.Total),
		slog.Int("failed", snap.Failed),
		slog.Duration("elapsed", snap.Elapsed.Round(time.Millisecond)),
		slog.Float64("words_per_sec", round2(snap.WordsPerSec)),
	)
	if t.publish != nil {
		t.publish(snap)
	}
	return snap
}

func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

func (t *Tracker) snapshotLocked() Snapshot {
	elapsed := t.now().Sub(t.start)
	s := Snapshot{
		JobID:     t.jobID,
		Total:     t.total,
		Completed: t.completed,
		Failed:    t.failed,
		Words:     t.words,
		WordsDone: t.wordsDone,
		Elapsed:   elapsed,
		Done:      t.done,
		Success:   t.success,
	}
	if secs := elapsed.Seconds(); secs > 0 {
		s.ChunksPerSec = float64(t.completed) / secs
		s.WordsPerSec = float64(t.wordsDone) / secs
	}
	remaining := t.total - t.completed - t.failed
	if remaining > 0 && s.ChunksPerSec > 0 {
		s.ETA = time.Duration(float64(remaining) / s.ChunksPerSec * float64(time.Second))
	}
	return s
}

func round2(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}
