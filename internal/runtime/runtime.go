package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-narrate/internal/bus"
	"github.com/loqalabs/loqa-narrate/internal/config"
	"github.com/loqalabs/loqa-narrate/internal/eventstore"
	"github.com/loqalabs/loqa-narrate/internal/natsserver"
	"github.com/loqalabs/loqa-narrate/internal/pipeline"
	"github.com/loqalabs/loqa-narrate/internal/service"
)

const pruneInterval = 6 * time.Hour

// Runtime hosts the narration service: embedded bus, job history, the
// pipeline and the HTTP probes.
type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	metrics     *http.Server
	tracerClose func(context.Context) error
	ready       atomic.Bool
	wg          sync.WaitGroup

	nats    *natsserver.EmbeddedServer
	bus     *bus.Client
	history *eventstore.Store
	runner  *pipeline.Runner
	service *service.Service
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)

	shutdownTelemetry, metricsHandler, err := SetupTelemetry(r.cfg, r.logger)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry
	defer func() {
		cancel()
		r.shutdown()
	}()

	if err := r.startServices(ctx); err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	r.serve(r.httpServer, "http")

	if metricsHandler != nil {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", metricsHandler)
		r.metrics = &http.Server{
			Addr:              r.cfg.Telemetry.PrometheusBind,
			Handler:           metricsMux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		r.serve(r.metrics, "metrics")
	}

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr))

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	r.ready.Store(false)
	return nil
}

func (r *Runtime) startServices(ctx context.Context) error {
	ns, err := natsserver.Start(r.cfg.Bus, r.logger)
	if err != nil {
		return err
	}
	r.nats = ns

	busCfg := r.cfg.Bus
	if ns != nil {
		busCfg.Servers = []string{ns.ClientURL()}
	}
	r.bus, err = bus.Connect(ctx, busCfg, r.logger)
	if err != nil {
		return err
	}

	r.history, err = eventstore.Open(ctx, r.cfg.EventStore, r.logger.With(slog.String("component", "history")))
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	if r.history.Enabled() {
		r.wg.Add(1)
		go r.pruneLoop(ctx)
	}

	publish := service.ProgressPublisher(r.bus, r.cfg.Service.ProgressSubject, r.logger)
	r.runner, err = pipeline.NewRunnerFromConfig(r.cfg, r.logger, r.history, publish)
	if err != nil {
		return fmt.Errorf("build pipeline: %w", err)
	}

	r.service = service.NewService(ctx, r.cfg.Service, pipeline.JobDefaults(r.cfg), r.bus, r.runner, r.logger)
	if err := r.service.Start(); err != nil {
		return fmt.Errorf("start narrate service: %w", err)
	}
	return nil
}

func (r *Runtime) serve(srv *http.Server, name string) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error(name+" server failed", slog.String("error", err.Error()))
		}
	}()
}

func (r *Runtime) pruneLoop(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.history.Prune(ctx); err != nil && ctx.Err() == nil {
				r.logger.Warn("history prune failed", slog.String("error", err.Error()))
			}
		}
	}
}

// shutdown releases everything Start acquired, in reverse order.
func (r *Runtime) shutdown() {
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	for _, srv := range []*http.Server{r.httpServer, r.metrics} {
		if srv == nil {
			continue
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("http shutdown error", slog.String("error", err.Error()))
		}
	}
	if r.service != nil {
		r.service.Close()
	}
	if r.runner != nil {
		if err := r.runner.Close(); err != nil {
			r.logger.Warn("failed to close synthesizers", slog.String("error", err.Error()))
		}
	}
	r.bus.Close()
	r.nats.Shutdown()
	r.wg.Wait()
	if r.history != nil {
		if err := r.history.Close(); err != nil {
			r.logger.Warn("failed to close history", slog.String("error", err.Error()))
		}
	}

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() && r.bus.Healthy() && (r.service == nil || r.service.Healthy()) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}
