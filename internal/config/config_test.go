package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Bus.Servers[0] != "nats://localhost:4222" {
		t.Fatalf("expected default server, got %v", cfg.Bus.Servers)
	}
	if cfg.Output.Path != "data.mp3" || cfg.Output.PartPrefix != ".part" {
		t.Fatalf("unexpected output defaults: %+v", cfg.Output)
	}
	if cfg.Synthesis.Primary.Mode != "http" || cfg.Synthesis.Secondary.Mode != "websocket" {
		t.Fatalf("unexpected backend defaults: %+v", cfg.Synthesis)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LOQA_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("LOQA_BUS_USERNAME", "alice")
	t.Setenv("LOQA_BUS_PASSWORD", "secret")
	t.Setenv("LOQA_BUS_TLS_INSECURE", "true")
	t.Setenv("LOQA_BUS_CONNECT_TIMEOUT_MS", "5000")
	t.Setenv("LOQA_EVENT_STORE_PATH", "./tmp.db")
	t.Setenv("LOQA_EVENT_STORE_RETENTION_DAYS", "7")
	t.Setenv("LOQA_EVENT_STORE_MAX_JOBS", "123")
	t.Setenv("LOQA_SYNTHESIS_PRIMARY_MODE", "exec")
	t.Setenv("LOQA_SYNTHESIS_PRIMARY_COMMAND", "say --json")
	t.Setenv("LOQA_SYNTHESIS_SECONDARY_MODE", "mock")
	t.Setenv("LOQA_CHUNKING_CHUNK_SECONDS", "25")
	t.Setenv("LOQA_CHUNKING_PARALLEL", "6")
	t.Setenv("LOQA_PLAYBACK_STREAM", "true")
	t.Setenv("LOQA_OUTPUT_ALLOW_PARTIAL", "true")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if cfg.Bus.Username != "alice" || cfg.Bus.Password != "secret" {
		t.Fatalf("expected credentials override")
	}
	if !cfg.Bus.TLSInsecure {
		t.Fatal("expected tls insecure override true")
	}
	if cfg.Bus.ConnectTimeout != 5000 {
		t.Fatalf("expected timeout 5000, got %d", cfg.Bus.ConnectTimeout)
	}
	if cfg.EventStore.Path != "./tmp.db" || cfg.EventStore.RetentionDays != 7 || cfg.EventStore.MaxJobs != 123 {
		t.Fatalf("expected event store overrides, got %+v", cfg.EventStore)
	}
	if cfg.Synthesis.Primary.Mode != "exec" || cfg.Synthesis.Primary.Command != "say --json" {
		t.Fatalf("expected primary backend override, got %+v", cfg.Synthesis.Primary)
	}
	if cfg.Synthesis.Secondary.Mode != "mock" {
		t.Fatalf("expected secondary backend override")
	}
	if cfg.Chunking.ChunkSeconds != 25 || cfg.Chunking.Parallel != 6 {
		t.Fatalf("expected chunking overrides, got %+v", cfg.Chunking)
	}
	if !cfg.Playback.Stream || !cfg.Output.AllowPartial {
		t.Fatalf("expected playback/output toggles")
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "narrate.yaml")
	data := []byte(`
synthesis:
  language: ka
  primary:
    mode: mock
  secondary:
    mode: ""
output:
  path: out.wav
  keep_parts: true
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Synthesis.Language != "ka" || cfg.Synthesis.Primary.Mode != "mock" {
		t.Fatalf("unexpected synthesis config: %+v", cfg.Synthesis)
	}
	if cfg.Output.Path != "out.wav" || !cfg.Output.KeepParts {
		t.Fatalf("unexpected output config: %+v", cfg.Output)
	}
	if cfg.Output.PartPrefix != ".part" {
		t.Fatalf("expected default part prefix to survive partial file")
	}
}

func TestValidateRejectsBadBackend(t *testing.T) {
	t.Setenv("LOQA_SYNTHESIS_PRIMARY_MODE", "carrier-pigeon")
	if _, err := Load(""); err == nil {
		t.Fatal("expected validation error for unknown backend mode")
	}
}

func TestValidateRejectsGlobPrefix(t *testing.T) {
	t.Setenv("LOQA_OUTPUT_PART_PREFIX", "part*")
	if _, err := Load(""); err == nil {
		t.Fatal("expected validation error for glob prefix")
	}
}

func TestTelemetryLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"":        slog.LevelInfo,
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"error":   slog.LevelError,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := (TelemetryConfig{LogLevel: in}).Level(); got != want {
			t.Fatalf("level %q: expected %v, got %v", in, want, got)
		}
	}
}
