package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/jllopis/ecomentor/pkg/config"
	"github.com/jllopis/ecomentor/pkg/core"
	"github.com/jllopis/ecomentor/pkg/draft"
	"github.com/jllopis/ecomentor/pkg/evidence"
	"github.com/jllopis/ecomentor/pkg/history"
	"github.com/jllopis/ecomentor/pkg/llm"
	"github.com/jllopis/ecomentor/pkg/orchestrator"
	"github.com/jllopis/ecomentor/pkg/resilience"
	"github.com/jllopis/ecomentor/pkg/router"
	"github.com/jllopis/ecomentor/pkg/telemetry"
	"github.com/jllopis/ecomentor/pkg/vector/ollama"
	"github.com/jllopis/ecomentor/pkg/vector/qdrant"
)

// app holds the wired engine and the collaborators the commands expose.
type app struct {
	engine   *orchestrator.Engine
	health   *core.HealthRegistry
	history  history.Store
	logger   *slog.Logger
	closers  []io.Closer
	shutdown telemetry.ShutdownFunc
}

// pinger is implemented by collaborators with a cheap liveness probe.
type pinger interface {
	Ping(ctx context.Context) error
}

func newApp(cfg *config.Config, logOutput io.Writer) (*app, error) {
	logger := telemetry.ConfigureSlog(logOutput, cfg.Log.Level, cfg.Log.Format)

	shutdown, err := telemetry.InitWithConfig("ecomentor", version, telemetry.Config{
		Exporter:     cfg.Telemetry.Exporter,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure: cfg.Telemetry.OTLPInsecure,
		OTLPTimeout:  cfg.Telemetry.OTLPTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	a := &app{logger: logger, shutdown: shutdown, health: core.NewHealthRegistry(0)}

	metrics, err := telemetry.NewAskMetrics()
	if err != nil {
		logger.Warn("metrics disabled", "error", err)
		metrics = nil
	}

	provider := newProvider(cfg.Generation, metrics, logger)
	a.health.Register("generation", core.HealthCheckFunc(func(ctx context.Context) error {
		return llm.Probe(ctx, provider)
	}))

	svc, err := a.newEvidenceService(cfg.Evidence)
	if err != nil {
		a.Close()
		return nil, err
	}
	if p, ok := svc.(pinger); ok {
		a.health.Register("evidence", core.HealthCheckFunc(p.Ping))
	} else {
		a.health.Register("evidence", core.StaticHealthChecker{Status: core.HealthDegraded, Message: "evidence disabled"})
	}

	if err := a.openHistory(cfg.History); err != nil {
		a.Close()
		return nil, err
	}

	broker := evidence.NewBroker(svc, evidence.WithLogger(logger), evidence.WithMetrics(metrics))
	generator := draft.NewGenerator(provider, draft.Config{
		Temperatures:       cfg.Draft.Temperatures,
		ForcedTemperature:  cfg.Draft.ForcedTemperature,
		MinLength:          cfg.Draft.MinLength,
		FingerprintLen:     cfg.Draft.FingerprintLen,
		MaxTokens:          cfg.Draft.MaxTokens,
		Confidence:         cfg.Draft.Confidence,
		DegradedConfidence: cfg.Draft.DegradedConfidence,
	}, draft.WithLogger(logger))
	rt := router.New(provider, router.Config{
		Classifier:    cfg.Router.Classifier,
		Timeout:       cfg.Router.Timeout,
		MinConfidence: cfg.Router.MinConfidence,
		MaxTokens:     cfg.Router.MaxTokens,
	}, router.WithLogger(logger))
	synth := orchestrator.NewSynthesizer(provider, orchestrator.SynthesisConfig{
		MaxTokens:   cfg.Synthesis.MaxTokens,
		Temperature: cfg.Synthesis.Temperature,
	}, logger, metrics)

	a.engine = orchestrator.NewEngine(rt,
		orchestrator.NewScheduler(broker, generator, logger, metrics),
		synth,
		orchestrator.WithHistory(a.history),
		orchestrator.WithLogger(logger),
		orchestrator.WithMetrics(metrics),
	)
	return a, nil
}

// newProvider builds the generation stack: backend, one breaker per
// endpoint, then per-request token metering.
func newProvider(cfg config.GenerationConfig, metrics *telemetry.AskMetrics, logger *slog.Logger) llm.Provider {
	resolver := llm.NewResolver(cfg.BaseURL, cfg.Endpoints)

	var backend llm.Provider
	key := func(p llm.Purpose) string { return resolver.Endpoint(p) }
	switch cfg.Provider {
	case "ollama":
		o := llm.NewOllama(cfg.BaseURL, cfg.Model, cfg.Timeout)
		for _, role := range core.FullPath() {
			if model := cfg.RoleModels[string(role)]; model != "" {
				o.WithAdapterModel(string(core.AdapterFor(role)), model)
			}
		}
		backend = o
		key = nil
	default:
		backend = llm.NewLocal(resolver, cfg.Timeout)
		logger.Info("generation endpoints", "endpoints", resolver.Endpoints())
	}

	breaker := llm.NewBreakerProvider(backend, key, resilience.CircuitBreakerConfig{
		FailureThreshold: cfg.BreakerFailures,
		SuccessThreshold: 1,
		Timeout:          cfg.BreakerCooldown,
		Name:             "generation",
	}).OnStateChange(func(endpoint string, state resilience.CircuitBreakerState) {
		metrics.RecordCircuitBreakerState(context.Background(), endpoint, breakerGaugeValue(state))
		if state == resilience.StateOpen {
			logger.Warn("generation circuit open", "endpoint", endpoint)
		}
	})
	return llm.NewMeteredProvider(breaker)
}

func breakerGaugeValue(state resilience.CircuitBreakerState) int64 {
	switch state {
	case resilience.StateOpen:
		return 0
	case resilience.StateHalfOpen:
		return 1
	default:
		return 2
	}
}

func (a *app) newEvidenceService(cfg config.EvidenceConfig) (evidence.Service, error) {
	switch cfg.Backend {
	case "http":
		retry := resilience.DefaultRetryConfig().WithMaxAttempts(max(cfg.RetryAttempts, 1))
		return evidence.NewHTTPService(cfg.BaseURL, cfg.Timeout, retry), nil
	case "qdrant":
		store, err := qdrant.New(cfg.QdrantAddr)
		if err != nil {
			return nil, fmt.Errorf("connect qdrant %s: %w", cfg.QdrantAddr, err)
		}
		a.closers = append(a.closers, store)
		embedder := ollama.NewEmbedder(cfg.EmbedderBaseURL, cfg.EmbedderModel, cfg.Timeout)
		return evidence.NewVectorService(store, embedder, cfg.CollectionPrefix), nil
	default:
		return evidence.None{}, nil
	}
}

func (a *app) openHistory(cfg config.HistoryConfig) error {
	switch cfg.Backend {
	case "sqlite":
		store, err := history.OpenSQLite(cfg.Path)
		if err != nil {
			return err
		}
		a.history = store
		a.closers = append(a.closers, store)
		a.health.Register("history", core.HealthCheckFunc(store.Ping))
	case "memory":
		a.history = history.NewMemoryStore(cfg.Limit)
		a.health.Register("history", core.StaticHealthChecker{Status: core.HealthOK, Message: "memory"})
	default:
		a.history = history.Discard{}
		a.health.Register("history", core.StaticHealthChecker{Status: core.HealthOK, Message: "disabled"})
	}
	return nil
}

// Close releases stores and flushes telemetry.
func (a *app) Close() {
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			a.logger.Warn("close failed", "error", err)
		}
	}
	if a.shutdown != nil {
		if err := a.shutdown(context.Background()); err != nil {
			a.logger.Warn("telemetry shutdown failed", "error", err)
		}
	}
}
