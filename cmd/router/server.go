package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/modelgateway/llmrouter/catalog"
	"github.com/modelgateway/llmrouter/endpoint"
	"github.com/modelgateway/llmrouter/endpoint/builtin"
	"github.com/modelgateway/llmrouter/hooks"
	"github.com/modelgateway/llmrouter/internal/metrics"
	"github.com/modelgateway/llmrouter/internal/server"
	"github.com/modelgateway/llmrouter/internal/store"
	"github.com/modelgateway/llmrouter/keepalive"
	"github.com/modelgateway/llmrouter/prompt"
	"github.com/modelgateway/llmrouter/strategy"
	"github.com/modelgateway/llmrouter/upstream"
)

// Server is the gateway's process: one HTTP listener serving every
// registered endpoint, plus the keep-alive loop running in the background.
type Server struct {
	cfg    Config
	logger *zap.Logger

	catalog *catalog.ModelCatalog
	store   *store.Store
	engine  *endpoint.Engine
	loop    *keepalive.Loop

	metricsCollector *metrics.Collector

	httpManager *server.Manager

	cancelBackground context.CancelFunc
}

// NewServer wires every collaborator the gateway needs from cfg, without
// starting anything yet. The metrics collector is built here (not in
// Start) so every collaborator below can be instrumented before the first
// request arrives; Start reuses it rather than constructing a second one,
// which would panic on duplicate Prometheus registration.
func NewServer(cfg Config, logger *zap.Logger) (*Server, error) {
	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}

	st, err := store.New(store.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("connect to coordination store: %w", err)
	}

	var collector *metrics.Collector
	if cfg.MetricsEnabled {
		collector = metrics.NewCollector(cfg.MetricsNamespace, logger)
		st.SetMetrics(collector)
	}

	chooser, err := buildStrategy(cfg.DefaultStrategy, st, logger, collector)
	if err != nil {
		return nil, err
	}

	upstreamClient := upstream.NewClient(cfg.RequestTimeout, logger)
	if collector != nil {
		upstreamClient.SetMetrics(collector)
	}
	loop := keepalive.NewLoop(st, cat, upstreamClient, logger, cfg.KeepAliveInterval)

	engine := &endpoint.Engine{
		Catalog:                cat,
		Chooser:                chooser,
		Upstream:               upstreamClient,
		PromptRepo:             prompt.NewMemoryRepository(builtin.Prompts()),
		Masker:                 hooks.NewMaskPipeline(),
		Guardrail:              hooks.NewGuardrailPipeline(),
		Auditor:                hooks.NewLoggingAuditor(logger),
		Logger:                 logger,
		DefaultLang:            cfg.DefaultLanguage,
		DefaultRequestDeadline: cfg.RequestDeadline,
		KeepAliveRecorder:      loop,
	}
	if recorder, ok := chooser.(strategy.OutcomeRecorder); ok {
		engine.OnOutcome = recorder.RecordOutcome
	}

	return &Server{
		cfg:              cfg,
		logger:           logger,
		catalog:          cat,
		store:            st,
		engine:           engine,
		loop:             loop,
		metricsCollector: collector,
	}, nil
}

// buildStrategy constructs the configured default provider-selection
// strategy, per spec.md §4.3's five named strategies. collector may be nil
// when metrics are disabled.
func buildStrategy(name string, st *store.Store, logger *zap.Logger, collector *metrics.Collector) (strategy.Strategy, error) {
	switch name {
	case "balanced":
		s := strategy.NewBalanced(logger)
		if collector != nil {
			s.SetMetrics(collector)
		}
		return s, nil
	case "weighted":
		s := strategy.NewWeighted(logger)
		if collector != nil {
			s.SetMetrics(collector)
		}
		return s, nil
	case "dynamic_weighted":
		s := strategy.NewDynamicWeighted(logger)
		if collector != nil {
			s.SetMetrics(collector)
		}
		return s, nil
	case "first_available":
		s := strategy.NewFirstAvailable(st, 30*time.Second, logger)
		if collector != nil {
			s.SetMetrics(collector)
		}
		return s, nil
	case "first_available_optim":
		// The fallback instance deliberately does NOT get SetMetrics: step 4
		// of FirstAvailableOptim.Choose delegates to it, and recording there
		// too would double-count that selection.
		fallback := strategy.NewFirstAvailable(st, 30*time.Second, logger)
		s := strategy.NewFirstAvailableOptim(fallback, st, logger)
		if collector != nil {
			s.SetMetrics(collector)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown strategy %q", name)
	}
}

// Start brings the gateway fully online: clears and seeds the keep-alive
// schedule, starts its background loop, builds the HTTP mux, and begins
// listening.
func (s *Server) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancelBackground = cancel

	if err := s.loop.ClearBuffers(ctx); err != nil {
		s.logger.Warn("failed to clear keep-alive schedule at startup", zap.Error(err))
	}
	s.loop.Seed(ctx)
	go s.loop.Run(ctx)

	mux := http.NewServeMux()
	builtin.Register(mux, s.engine, s.catalog, s.cfg.APIPrefix())

	if s.metricsCollector != nil {
		mux.Handle("/metrics", promhttp.Handler())
	}

	middlewares := []Middleware{
		Recovery(s.logger),
		RequestID(),
		RequestLogger(s.logger),
		CORS(nil),
		RateLimiter(ctx, s.cfg.RateLimitRPS, s.cfg.RateLimitBurst),
	}
	if s.metricsCollector != nil {
		middlewares = append(middlewares, MetricsMiddleware(s.metricsCollector))
	}

	handler := Chain(mux, middlewares...)

	serverCfg := server.DefaultConfig()
	serverCfg.Addr = s.cfg.ListenAddr
	s.httpManager = server.NewManager(handler, serverCfg, s.logger)

	if err := s.httpManager.Start(); err != nil {
		return fmt.Errorf("start HTTP server: %w", err)
	}

	s.logger.Info("router started", zap.String("addr", s.cfg.ListenAddr), zap.String("strategy", s.cfg.DefaultStrategy))
	return nil
}

// WaitForShutdown blocks until a shutdown signal or server error arrives,
// then shuts down every collaborator.
func (s *Server) WaitForShutdown() {
	s.httpManager.WaitForShutdown()
	s.Shutdown()
}

// Shutdown releases background resources not already stopped by the HTTP
// manager's own shutdown handling.
func (s *Server) Shutdown() {
	if s.cancelBackground != nil {
		s.cancelBackground()
	}
	if err := s.store.Close(); err != nil {
		s.logger.Warn("failed to close coordination store", zap.Error(err))
	}
}
