package tts

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/loqalabs/loqa-narrate/internal/config"
)

// New builds a single backend from its configuration block.
func New(cfg config.BackendConfig, timeout time.Duration) (Synthesizer, error) {
	switch cfg.Mode {
	case "http":
		return NewHTTPSynth(cfg.Endpoint, cfg.APIKey, cfg.OutputFormat, timeout)
	case "websocket":
		return NewWebsocketSynth(cfg.Endpoint, cfg.APIKey, cfg.OutputFormat, timeout)
	case "polly":
		return NewPollySynth(cfg.Region, cfg.AccessKeyID, cfg.SecretAccessKey, cfg.Voice)
	case "exec":
		return NewExecSynth(cfg.Command, cfg.OutputFormat)
	case "mock":
		return NewMockSynth(0, 0), nil
	default:
		return nil, fmt.Errorf("unknown synthesis mode %q", cfg.Mode)
	}
}

// NewFromConfig builds the primary backend followed by the optional
// secondary one.
func NewFromConfig(cfg config.SynthesisConfig, logger *slog.Logger) (*Fallback, error) {
	timeout := time.Duration(cfg.TimeoutMS) * time.Millisecond
	primary, err := New(cfg.Primary, timeout)
	if err != nil {
		return nil, fmt.Errorf("primary synthesizer: %w", err)
	}
	synths := []Synthesizer{primary}
	if cfg.Secondary.Mode != "" {
		secondary, err := New(cfg.Secondary, timeout)
		if err != nil {
			return nil, fmt.Errorf("secondary synthesizer: %w", err)
		}
		synths = append(synths, secondary)
	}
	return NewFallback(logger, synths...), nil
}
