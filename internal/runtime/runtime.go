// Package runtime assembles the quiz daemon: telemetry, storage, backends,
// the quiz engine and its HTTP and NATS surfaces.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-quiz/internal/bus"
	"github.com/loqalabs/loqa-quiz/internal/config"
	"github.com/loqalabs/loqa-quiz/internal/engine"
	"github.com/loqalabs/loqa-quiz/internal/eventstore"
	"github.com/loqalabs/loqa-quiz/internal/generation"
	"github.com/loqalabs/loqa-quiz/internal/narration"
	"github.com/loqalabs/loqa-quiz/internal/natsserver"
	"github.com/loqalabs/loqa-quiz/internal/quiz"
)

type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	version     string
	telemetry   *telemetry
	natsServer  *natsserver.EmbeddedServer
	busClient   *bus.Client
	store       *eventstore.Store
	generator   generation.Generator
	engine      *engine.Engine
	service     *engine.Service
	ready       atomic.Bool
	wg          sync.WaitGroup
}

// New prepares a runtime; version is reported in telemetry and logs.
func New(cfg config.Config, logger *slog.Logger, version string) *Runtime {
	return &Runtime{
		cfg:     cfg,
		logger:  logger,
		version: version,
	}
}

// Start runs the daemon until ctx is cancelled.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	tel, err := setupTelemetry(ctx, r.cfg, r.version, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.telemetry = tel
	defer r.shutdown()

	store, err := eventstore.Open(ctx, r.cfg.EventStore, r.logger)
	if err != nil {
		return fmt.Errorf("failed to open event store: %w", err)
	}
	r.store = store

	opts, err := r.engineOptions()
	if err != nil {
		return err
	}
	gen, err := generation.New(r.cfg.Generation)
	if err != nil {
		return fmt.Errorf("failed to create generator: %w", err)
	}
	r.generator = gen

	if err := r.startBus(ctx); err != nil {
		return err
	}
	if r.busClient != nil {
		opts.Publisher = r.busClient
	}

	r.engine = engine.New(ctx, gen, r.logger, opts)
	if err := r.engine.Start(); err != nil {
		return fmt.Errorf("failed to start quiz engine: %w", err)
	}
	if r.busClient != nil {
		r.service = engine.NewService(ctx, r.engine, r.busClient, r.logger)
		if err := r.service.Start(); err != nil {
			return fmt.Errorf("failed to start quiz service: %w", err)
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if tel.metrics != nil {
		mux.Handle("/metrics", tel.metrics)
	}
	NewAPI(r.engine, r.logger).Register(mux)

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
			cancel()
		}
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started",
		slog.String("addr", addr),
		slog.String("version", r.version),
		slog.String("generation", r.cfg.Generation.Mode),
		slog.Bool("narration", opts.Synth != nil),
		slog.String("retention", r.cfg.EventStore.RetentionMode),
		slog.Bool("timeline", r.store.Enabled()),
	)

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	r.ready.Store(false)
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.wg.Wait()
	return nil
}

func (r *Runtime) engineOptions() (engine.Options, error) {
	opts := engine.Options{
		Settings: quiz.Settings{
			TotalSeconds: r.cfg.Quiz.TotalSeconds,
			PassRatio:    r.cfg.Quiz.PassRatio,
			MaxQuestions: r.cfg.Quiz.MaxQuestions,
		},
		NoticeTTL:         time.Duration(r.cfg.Quiz.NoticeTTLMS) * time.Millisecond,
		GenerationTimeout: 2 * time.Duration(r.cfg.Generation.Remote.TimeoutMS) * time.Millisecond,
		Store:             r.store,
	}
	if !r.cfg.Narration.Enabled {
		return opts, nil
	}
	synth, err := narration.NewSynthesizer(r.cfg.Narration)
	if err != nil {
		return opts, fmt.Errorf("failed to create synthesizer: %w", err)
	}
	player, err := narration.NewPlayer(r.cfg.Player)
	if err != nil {
		return opts, fmt.Errorf("failed to create player: %w", err)
	}
	opts.Synth = synth
	opts.Player = player
	return opts, nil
}

func (r *Runtime) startBus(ctx context.Context) error {
	if !r.cfg.Bus.Enabled {
		return nil
	}
	busCfg := r.cfg.Bus
	ns, err := natsserver.Start(busCfg, r.logger.With(slog.String("component", "nats-server")))
	if err != nil {
		return fmt.Errorf("failed to start embedded NATS server: %w", err)
	}
	r.natsServer = ns
	if ns != nil {
		busCfg.Servers = []string{ns.ClientURL()}
	}
	client, err := bus.Connect(ctx, busCfg, r.cfg.RuntimeName, r.logger)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	r.busClient = client
	return nil
}

// shutdown releases components in reverse start order.
func (r *Runtime) shutdown() {
	if r.service != nil {
		r.service.Close()
	}
	if r.engine != nil {
		r.engine.Close()
	}
	if closer, ok := r.generator.(interface{ Close(context.Context) error }); ok {
		if err := closer.Close(context.Background()); err != nil {
			r.logger.Error("generator close error", slog.String("error", err.Error()))
		}
	}
	if r.busClient != nil {
		r.busClient.Close()
	}
	r.natsServer.Shutdown()
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			r.logger.Error("event store close error", slog.String("error", err.Error()))
		}
	}
	if r.telemetry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.telemetry.Shutdown(ctx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}
}

func (r *Runtime) healthy() bool {
	if r.engine == nil || !r.engine.Healthy() {
		return false
	}
	if r.service != nil && !r.service.Healthy() {
		return false
	}
	return true
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() && r.healthy() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}
