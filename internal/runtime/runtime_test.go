package runtime

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/loqalabs/loqa-narrate/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestReadyRequiresBus(t *testing.T) {
	rt := New(config.Default(), newLogger())
	rt.ready.Store(true)

	rec := httptest.NewRecorder()
	rt.handleReady(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without a bus, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	rt.handleHealth(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from health, got %d", rec.Code)
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func TestRuntimeStartsAndStops(t *testing.T) {
	cfg := config.Default()
	cfg.HTTP.Bind = "127.0.0.1"
	cfg.HTTP.Port = freePort(t)
	cfg.Telemetry.PrometheusBind = fmt.Sprintf("127.0.0.1:%d", freePort(t))
	cfg.Bus.Host = "127.0.0.1"
	cfg.Bus.Port = -1
	cfg.EventStore.Path = filepath.Join(t.TempDir(), "history.db")
	cfg.Service.OutputDir = t.TempDir()
	cfg.Synthesis.Primary = config.BackendConfig{Mode: "mock"}
	cfg.Synthesis.Secondary = config.BackendConfig{}
	cfg.Playback.Enabled = false

	rt := New(cfg, newLogger())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rt.Start(ctx) }()

	url := fmt.Sprintf("http://127.0.0.1:%d/readyz", cfg.HTTP.Port)
	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				break
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("runtime never became ready (last err %v)", err)
		}
		time.Sleep(20 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("start returned error: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("runtime did not stop")
	}
}
