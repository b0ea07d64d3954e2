package fallback

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestChainFirstSuccessWins(t *testing.T) {
	var calls []string
	chain := NewChain(newLogger(),
		Strategy[string, string]{Name: "primary", Attempt: func(ctx context.Context, in string) (string, error) {
			calls = append(calls, "primary")
			return "p:" + in, nil
		}},
		Strategy[string, string]{Name: "secondary", Attempt: func(ctx context.Context, in string) (string, error) {
			calls = append(calls, "secondary")
			return "s:" + in, nil
		}},
	)
	out, err := chain.Run(context.Background(), "x")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "p:x" || len(calls) != 1 {
		t.Fatalf("expected primary only, got %q calls=%v", out, calls)
	}
}

func TestChainFallsBack(t *testing.T) {
	chain := NewChain(newLogger(),
		Strategy[int, int]{Name: "primary", Attempt: func(ctx context.Context, in int) (int, error) {
			return 0, errors.New("boom")
		}},
		Strategy[int, int]{Name: "secondary", Attempt: func(ctx context.Context, in int) (int, error) {
			return in * 2, nil
		}},
	)
	out, err := chain.Run(context.Background(), 21)
	if err != nil || out != 42 {
		t.Fatalf("expected fallback result 42, got %d err=%v", out, err)
	}
}

func TestChainAllFail(t *testing.T) {
	errA := errors.New("a failed")
	errB := errors.New("b failed")
	chain := NewChain(newLogger(),
		Strategy[int, int]{Name: "a", Attempt: func(ctx context.Context, in int) (int, error) { return 0, errA }},
		Strategy[int, int]{Name: "b", Attempt: func(ctx context.Context, in int) (int, error) { return 0, errB }},
	)
	_, err := chain.Run(context.Background(), 1)
	if !errors.Is(err, errA) || !errors.Is(err, errB) {
		t.Fatalf("expected joined errors, got %v", err)
	}
	if !strings.Contains(err.Error(), "a: a failed") {
		t.Fatalf("expected strategy name in error, got %v", err)
	}
}

func TestChainStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	secondCalled := false
	chain := NewChain(newLogger(),
		Strategy[int, int]{Name: "a", Attempt: func(ctx context.Context, in int) (int, error) {
			cancel()
			return 0, ctx.Err()
		}},
		Strategy[int, int]{Name: "b", Attempt: func(ctx context.Context, in int) (int, error) {
			secondCalled = true
			return 1, nil
		}},
	)
	_, err := chain.Run(ctx, 1)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if secondCalled {
		t.Fatal("expected chain to stop after cancellation")
	}
}

func TestChainEmpty(t *testing.T) {
	chain := NewChain[int, int](nil)
	if _, err := chain.Run(context.Background(), 1); !errors.Is(err, ErrNoStrategies) {
		t.Fatalf("expected ErrNoStrategies, got %v", err)
	}
}
