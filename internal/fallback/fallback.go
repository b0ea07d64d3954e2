// Package fallback runs an ordered list of interchangeable strategies and
// returns the first success.
package fallback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

var ErrNoStrategies = errors.New("fallback: no strategies configured")

type Strategy[In, Out any] struct {
	Name    string
	Attempt func(ctx context.Context, in In) (Out, error)
}

type Chain[In, Out any] struct {
	logger     *slog.Logger
	strategies []Strategy[In, Out]
}

func NewChain[In, Out any](logger *slog.Logger, strategies ...Strategy[In, Out]) *Chain[In, Out] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain[In, Out]{logger: logger, strategies: strategies}
}

func (c *Chain[In, Out]) Names() []string {
	names := make([]string, len(c.strategies))
	for i, s := range c.strategies {
		names[i] = s.Name
	}
	return names
}

// Run tries each strategy in order. Cancellation stops the chain without
// trying the remaining strategies. When every strategy fails the returned
// error joins all attempt errors.
func (c *Chain[In, Out]) Run(ctx context.Context, in In) (Out, error) {
	var zero Out
	if len(c.strategies) == 0 {
		return zero, ErrNoStrategies
	}
	var errs []error
	for i, s := range c.strategies {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		out, err := s.Attempt(ctx, in)
		if err == nil {
			if i > 0 {
				c.logger.Debug("fallback strategy succeeded", slog.String("strategy", s.Name), slog.Int("attempt", i+1))
			}
			return out, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, ctxErr
		}
		errs = append(errs, fmt.Errorf("%s: %w", s.Name, err))
		if i+1 < len(c.strategies) {
			c.logger.Warn("strategy failed, falling back",
				slog.String("strategy", s.Name),
				slog.String("next", c.strategies[i+1].Name),
				slog.String("error", err.Error()),
			)
		}
	}
	return zero, errors.Join(errs...)
}
