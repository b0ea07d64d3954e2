// Package service exposes the narration pipeline on the message bus: jobs
// arrive as requests, progress and outcomes are published back.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/loqalabs/loqa-narrate/internal/bus"
	"github.com/loqalabs/loqa-narrate/internal/config"
	"github.com/loqalabs/loqa-narrate/internal/pipeline"
	"github.com/loqalabs/loqa-narrate/internal/progress"
	"github.com/loqalabs/loqa-narrate/internal/protocol"
)

// JobRunner executes a single narration job.
type JobRunner interface {
	Run(ctx context.Context, job pipeline.Job) (pipeline.Result, error)
}

type Service struct {
	cfg      config.ServiceConfig
	defaults pipeline.Job
	bus      *bus.Client
	runner   JobRunner
	sub      *nats.Subscription
	slots    chan struct{}
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	logger   *slog.Logger
}

// NewService prepares the service. defaults supplies language, voice and
// chunking settings for fields a request leaves empty; playback is never
// used by the service.
func NewService(parent context.Context, cfg config.ServiceConfig, defaults pipeline.Job, busClient *bus.Client, runner JobRunner, log *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	maxJobs := cfg.MaxJobs
	if maxJobs < 1 {
		maxJobs = 1
	}
	defaults.Play, defaults.Streaming, defaults.GUI = false, false, false
	return &Service{
		cfg:      cfg,
		defaults: defaults,
		bus:      busClient,
		runner:   runner,
		slots:    make(chan struct{}, maxJobs),
		ctx:      ctx,
		cancel:   cancel,
		logger:   log.With(slog.String("component", "narrate-service")),
	}
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	subject := s.cfg.RequestSubject
	if subject == "" {
		subject = protocol.SubjectJobRequest
	}
	sub, err := s.bus.Conn().Subscribe(subject, s.handleRequest)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	s.sub = sub
	s.logger.Info("listening for jobs", slog.String("subject", subject), slog.Int("max_jobs", cap(s.slots)))
	return nil
}

// Close stops accepting requests, cancels running jobs and waits for them.
func (s *Service) Close() {
	if s.sub != nil {
		_ = s.sub.Drain()
	}
	s.cancel()
	s.wg.Wait()
}

func (s *Service) Healthy() bool { return !s.cfg.Enabled || s.sub != nil }

func (s *Service) handleRequest(msg *nats.Msg) {
	var req protocol.JobRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode job request", slogError(err))
		s.reply(msg, protocol.JobStatus{State: protocol.StateFailed, Error: "invalid request: " + err.Error()})
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		s.reply(msg, protocol.JobStatus{JobID: req.JobID, State: protocol.StateFailed, Error: "text is empty"})
		return
	}
	if req.JobID == "" {
		req.JobID = uuid.NewString()
	}
	job, err := s.jobFor(req)
	if err != nil {
		s.reply(msg, protocol.JobStatus{JobID: req.JobID, State: protocol.StateFailed, Error: err.Error()})
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		select {
		case s.slots <- struct{}{}:
		case <-s.ctx.Done():
			s.reply(msg, protocol.JobStatus{JobID: req.JobID, State: protocol.StateCancelled, Error: s.ctx.Err().Error()})
			return
		}
		defer func() { <-s.slots }()

		s.publishStatus(protocol.JobStatus{JobID: req.JobID, State: protocol.StateAccepted})
		res, err := s.runner.Run(s.ctx, job)
		s.reply(msg, statusFor(req.JobID, res, err))
	}()
}

func (s *Service) jobFor(req protocol.JobRequest) (pipeline.Job, error) {
	job := s.defaults
	job.ID = req.JobID
	job.Text = req.Text
	if req.Language != "" {
		job.Language = req.Language
	}
	if req.Voice != "" {
		job.Voice = req.Voice
	}
	if req.Concurrency > 0 {
		job.Concurrency = req.Concurrency
	}
	if req.ChunkSeconds > 0 {
		job.ChunkSeconds = req.ChunkSeconds
	}
	job.AllowPartial = job.AllowPartial || req.AllowPartial

	ext := filepath.Ext(s.defaults.OutputPath)
	if ext == "" {
		ext = ".mp3"
	}
	name := req.JobID + ext
	if req.OutputName != "" {
		name = req.OutputName
	}
	name, err := outputName(name)
	if err != nil {
		return pipeline.Job{}, err
	}
	job.OutputPath = filepath.Join(s.cfg.OutputDir, name)
	return job, nil
}

// outputName reduces a requested name to a plain file name inside the
// output directory.
func outputName(name string) (string, error) {
	base := filepath.Base(name)
	switch base {
	case ".", "..", string(filepath.Separator):
		return "", fmt.Errorf("invalid output name %q", name)
	}
	return base, nil
}

func statusFor(jobID string, res pipeline.Result, err error) protocol.JobStatus {
	st := protocol.JobStatus{
		JobID:     jobID,
		Mode:      res.Mode.String(),
		Chunks:    res.Chunks,
		Failed:    res.Failed,
		Words:     res.Words,
		ElapsedMS: res.Elapsed.Milliseconds(),
	}
	for _, w := range res.Warnings {
		st.Warnings = append(st.Warnings, w.Error())
	}
	switch {
	case err == nil:
		st.State = protocol.StateSucceeded
		st.OutputPath = res.OutputPath
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		st.State = protocol.StateCancelled
		st.Error = err.Error()
	default:
		st.State = protocol.StateFailed
		st.Error = err.Error()
	}
	return st
}

// reply publishes the status and answers the requester when it asked for
// a reply.
func (s *Service) reply(msg *nats.Msg, st protocol.JobStatus) {
	s.publishStatus(st)
	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(st)
	if err != nil {
		s.logger.Warn("failed to marshal job status", slogError(err))
		return
	}
	if err := msg.Respond(data); err != nil {
		s.logger.Warn("failed to reply to job request", slogError(err))
	}
}

func (s *Service) publishStatus(st protocol.JobStatus) {
	if st.Timestamp.IsZero() {
		st.Timestamp = time.Now().UTC()
	}
	subject := s.cfg.StatusSubject
	if subject == "" {
		subject = protocol.SubjectJobStatus
	}
	if err := s.bus.PublishJSON(subject, st); err != nil {
		s.logger.Warn("failed to publish job status", slogError(err))
	}
}

// ProgressPublisher forwards tracker snapshots to subject.
func ProgressPublisher(busClient *bus.Client, subject string, log *slog.Logger) progress.Publisher {
	if subject == "" {
		subject = protocol.SubjectJobProgress
	}
	return func(snap progress.Snapshot) {
		msg := protocol.JobProgress{
			JobID:        snap.JobID,
			Total:        snap.Total,
			Completed:    snap.Completed,
			Failed:       snap.Failed,
			WordsPerSec:  snap.WordsPerSec,
			ChunksPerSec: snap.ChunksPerSec,
			ETAMillis:    snap.ETA.Milliseconds(),
			Done:         snap.Done,
			Timestamp:    time.Now().UTC(),
		}
		if err := busClient.PublishJSON(subject, msg); err != nil {
			log.Debug("failed to publish progress", slogError(err))
		}
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
