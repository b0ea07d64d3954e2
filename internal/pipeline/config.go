package pipeline

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/loqalabs/loqa-narrate/internal/artifacts"
	"github.com/loqalabs/loqa-narrate/internal/audio"
	"github.com/loqalabs/loqa-narrate/internal/config"
	"github.com/loqalabs/loqa-narrate/internal/eventstore"
	"github.com/loqalabs/loqa-narrate/internal/player"
	"github.com/loqalabs/loqa-narrate/internal/progress"
	"github.com/loqalabs/loqa-narrate/internal/tts"
)

// NewRunnerFromConfig wires backends, merger and player from cfg. history
// and publish may be nil.
func NewRunnerFromConfig(cfg config.Config, logger *slog.Logger, history *eventstore.Store, publish progress.Publisher) (*Runner, error) {
	if logger == nil {
		logger = slog.Default()
	}
	renderer, err := tts.NewFromConfig(cfg.Synthesis, logger)
	if err != nil {
		return nil, err
	}

	concatenators := []audio.Concatenator{audio.Native{}}
	if cfg.Merge.TranscoderCommand != "" {
		tc, err := audio.NewTranscoder(cfg.Merge.TranscoderCommand, nil)
		if err != nil {
			renderer.Close()
			return nil, fmt.Errorf("merge transcoder: %w", err)
		}
		concatenators = append(concatenators, tc)
	}

	var pl player.Player
	if cfg.Playback.Enabled {
		p, err := player.NewExec(cfg.Playback.GUICommand, cfg.Playback.HeadlessCommand, logger)
		if err != nil {
			logger.Warn("playback disabled", slog.String("error", err.Error()))
		} else {
			pl = p
		}
	}

	return NewRunner(Options{
		Logger:         logger,
		Renderer:       renderer,
		Merger:         audio.NewMerger(logger, concatenators...),
		Player:         pl,
		Cleaner:        artifacts.NewCleaner(logger),
		History:        history,
		Publish:        publish,
		WordsPerMinute: cfg.Chunking.WordsPerMinute,
		MaxWorkers:     cfg.Synthesis.MaxWorkers,
		PartPrefix:     cfg.Output.PartPrefix,
		WorkDir:        cfg.Output.WorkDir,
		ReleaseDelay:   time.Duration(cfg.Playback.ReleaseDelayMS) * time.Millisecond,
	})
}

// JobDefaults returns a job prefilled from cfg; callers set Text and any
// per-request overrides.
func JobDefaults(cfg config.Config) Job {
	return Job{
		Language:     cfg.Synthesis.Language,
		Voice:        cfg.Synthesis.Voice,
		OutputPath:   cfg.Output.Path,
		Concurrency:  cfg.Chunking.Parallel,
		ChunkSeconds: cfg.Chunking.ChunkSeconds,
		Streaming:    cfg.Playback.Enabled && cfg.Playback.Stream,
		GUI:          cfg.Playback.GUI,
		Play:         cfg.Playback.Enabled,
		KeepParts:    cfg.Output.KeepParts,
		AllowPartial: cfg.Output.AllowPartial,
	}
}
