package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/loqalabs/loqa-narrate/internal/bus"
	"github.com/loqalabs/loqa-narrate/internal/config"
	"github.com/loqalabs/loqa-narrate/internal/natsserver"
	"github.com/loqalabs/loqa-narrate/internal/pipeline"
	"github.com/loqalabs/loqa-narrate/internal/progress"
	"github.com/loqalabs/loqa-narrate/internal/protocol"
	"github.com/loqalabs/loqa-narrate/internal/strategy"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startBus(t *testing.T) *bus.Client {
	t.Helper()
	srv, err := natsserver.Start(config.BusConfig{Embedded: true, Host: "127.0.0.1", Port: -1}, newLogger())
	if err != nil {
		t.Fatalf("start nats: %v", err)
	}
	t.Cleanup(srv.Shutdown)
	client, err := bus.Connect(context.Background(), config.BusConfig{
		Servers:        []string{srv.ClientURL()},
		ConnectTimeout: 2000,
	}, newLogger())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(client.Close)
	return client
}

type fakeRunner struct {
	mu   sync.Mutex
	jobs []pipeline.Job
	err  error
}

func (r *fakeRunner) Run(ctx context.Context, job pipeline.Job) (pipeline.Result, error) {
	r.mu.Lock()
	r.jobs = append(r.jobs, job)
	r.mu.Unlock()
	if r.err != nil {
		return pipeline.Result{JobID: job.ID}, r.err
	}
	return pipeline.Result{
		JobID:      job.ID,
		OutputPath: job.OutputPath,
		Mode:       strategy.Chunked,
		Chunks:     3,
		Words:      240,
		Elapsed:    150 * time.Millisecond,
	}, nil
}

func serviceConfig(dir string) config.ServiceConfig {
	return config.ServiceConfig{
		Enabled:         true,
		RequestSubject:  protocol.SubjectJobRequest,
		ProgressSubject: protocol.SubjectJobProgress,
		StatusSubject:   protocol.SubjectJobStatus,
		MaxJobs:         2,
		OutputDir:       dir,
	}
}

func startService(t *testing.T, client *bus.Client, runner JobRunner, dir string) *Service {
	t.Helper()
	defaults := pipeline.Job{Language: "en", OutputPath: "data.mp3", Play: true, Streaming: true}
	svc := NewService(context.Background(), serviceConfig(dir), defaults, client, runner, newLogger())
	if err := svc.Start(); err != nil {
		t.Fatalf("start service: %v", err)
	}
	t.Cleanup(svc.Close)
	if !svc.Healthy() {
		t.Fatal("expected healthy service")
	}
	return svc
}

func request(t *testing.T, client *bus.Client, req any) protocol.JobStatus {
	t.Helper()
	data, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	msg, err := client.Conn().Request(protocol.SubjectJobRequest, data, 5*time.Second)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	var st protocol.JobStatus
	if err := json.Unmarshal(msg.Data, &st); err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	return st
}

func TestServiceRunsJob(t *testing.T) {
	client := startBus(t)
	dir := t.TempDir()
	runner := &fakeRunner{}
	startService(t, client, runner, dir)

	statuses, err := client.Conn().SubscribeSync(protocol.SubjectJobStatus)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := client.Conn().Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	st := request(t, client, protocol.JobRequest{JobID: "job-1", Text: "Hello there.", Voice: "en-GB-RyanNeural"})
	if st.State != protocol.StateSucceeded || st.JobID != "job-1" || st.Chunks != 3 || st.Mode != "chunked" {
		t.Fatalf("unexpected reply %+v", st)
	}
	if want := filepath.Join(dir, "job-1.mp3"); st.OutputPath != want {
		t.Fatalf("expected output %s, got %s", want, st.OutputPath)
	}

	runner.mu.Lock()
	job := runner.jobs[0]
	runner.mu.Unlock()
	if job.Language != "en" || job.Voice != "en-GB-RyanNeural" || job.Text != "Hello there." {
		t.Fatalf("unexpected job %+v", job)
	}
	if job.Play || job.Streaming {
		t.Fatal("expected playback disabled for service jobs")
	}

	var states []string
	for len(states) < 2 {
		msg, err := statuses.NextMsg(2 * time.Second)
		if err != nil {
			t.Fatalf("status: %v", err)
		}
		var s protocol.JobStatus
		if err := json.Unmarshal(msg.Data, &s); err != nil {
			t.Fatalf("decode status: %v", err)
		}
		states = append(states, s.State)
	}
	if states[0] != protocol.StateAccepted || states[1] != protocol.StateSucceeded {
		t.Fatalf("unexpected status sequence %v", states)
	}
}

func TestServiceRejectsEmptyText(t *testing.T) {
	client := startBus(t)
	runner := &fakeRunner{}
	startService(t, client, runner, t.TempDir())

	st := request(t, client, protocol.JobRequest{JobID: "empty", Text: "   "})
	if st.State != protocol.StateFailed || st.Error == "" {
		t.Fatalf("expected failed status, got %+v", st)
	}
	runner.mu.Lock()
	defer runner.mu.Unlock()
	if len(runner.jobs) != 0 {
		t.Fatalf("expected no job to run, got %d", len(runner.jobs))
	}
}

func TestServiceReportsFailure(t *testing.T) {
	client := startBus(t)
	runner := &fakeRunner{err: &pipeline.SynthesisError{Index: 1, Err: errors.New("backend down")}}
	startService(t, client, runner, t.TempDir())

	st := request(t, client, protocol.JobRequest{Text: "Hello there."})
	if st.State != protocol.StateFailed || st.JobID == "" {
		t.Fatalf("expected failed status with generated id, got %+v", st)
	}
	if st.Error != "synthesize chunk 1: backend down" {
		t.Fatalf("unexpected error %q", st.Error)
	}
}

func TestServiceConfinesOutputName(t *testing.T) {
	client := startBus(t)
	dir := t.TempDir()
	runner := &fakeRunner{}
	startService(t, client, runner, dir)

	st := request(t, client, protocol.JobRequest{Text: "Hello there.", OutputName: "../../escape.mp3"})
	if want := filepath.Join(dir, "escape.mp3"); st.OutputPath != want {
		t.Fatalf("expected output confined to %s, got %s", want, st.OutputPath)
	}

	for _, name := range []string{"..", ".", "/", "nested/.."} {
		st := request(t, client, protocol.JobRequest{Text: "Hello there.", OutputName: name})
		if st.State != protocol.StateFailed || st.OutputPath != "" {
			t.Fatalf("expected %q to be rejected, got %+v", name, st)
		}
	}
	runner.mu.Lock()
	defer runner.mu.Unlock()
	if len(runner.jobs) != 1 {
		t.Fatalf("expected only the valid request to run, got %d jobs", len(runner.jobs))
	}
}

func TestProgressPublisher(t *testing.T) {
	client := startBus(t)
	sub, err := client.Conn().SubscribeSync(protocol.SubjectJobProgress)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := client.Conn().Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	publish := ProgressPublisher(client, "", newLogger())
	publish(progress.Snapshot{JobID: "job-9", Total: 4, Completed: 2, ETA: 1500 * time.Millisecond})

	msg, err := sub.NextMsg(2 * time.Second)
	if err != nil {
		t.Fatalf("progress: %v", err)
	}
	var p protocol.JobProgress
	if err := json.Unmarshal(msg.Data, &p); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.JobID != "job-9" || p.Completed != 2 || p.Total != 4 || p.ETAMillis != 1500 {
		t.Fatalf("unexpected progress %+v", p)
	}
}
