package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ferg-cod3s/conductor/internal/config"
	"github.com/ferg-cod3s/conductor/internal/delegation"
	"github.com/ferg-cod3s/conductor/internal/identity"
	"github.com/ferg-cod3s/conductor/internal/observability"
	"github.com/ferg-cod3s/conductor/internal/orchestrator"
	"github.com/ferg-cod3s/conductor/internal/persistence"
	"github.com/ferg-cod3s/conductor/internal/provider"
	"github.com/ferg-cod3s/conductor/internal/quality"
	"github.com/ferg-cod3s/conductor/internal/ratelimit"
	"github.com/ferg-cod3s/conductor/internal/resource"
	"github.com/ferg-cod3s/conductor/internal/session"
	"github.com/ferg-cod3s/conductor/internal/workspace"
)

const Version = "0.1.0"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "conductor: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	if cfg.Observability.Sentry.Enabled {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.Observability.Sentry.DSN,
			Environment:      cfg.Observability.Sentry.Environment,
			TracesSampleRate: cfg.Observability.Sentry.SampleRate,
			Release:          "conductor@" + Version,
		}); err != nil {
			return fmt.Errorf("init sentry: %w", err)
		}
		defer sentry.Flush(2 * time.Second)
	}

	logger := observability.NewLogger(observability.LoggerConfig{
		Level:         cfg.Logging.Level,
		Format:        cfg.Logging.Format,
		AddSource:     true,
		SentryEnabled: cfg.Observability.Sentry.Enabled,
	})

	logger.Info("conductor starting",
		"version", Version,
		"isolation_mode", cfg.Workspace.Mode,
		"delegation_strategy", cfg.Delegation.Strategy,
		"provider", cfg.Provider.Kind,
		"metrics_enabled", cfg.Observability.Metrics.Enabled,
		"tracing_enabled", cfg.Observability.Tracing.Enabled,
	)

	var metrics *observability.MetricsCollector
	if cfg.Observability.Metrics.Enabled {
		metrics = observability.NewMetricsCollector("conductor")
		metrics.SystemStartTime.Set(float64(time.Now().Unix()))
		go startMetricsServer(ctx, cfg.Observability.Metrics, logger)
	}

	tracing, err := observability.SetupTracing(ctx, observability.TracingOptions{
		Enabled:        cfg.Observability.Tracing.Enabled,
		Endpoint:       cfg.Observability.Tracing.Endpoint,
		SampleRate:     cfg.Observability.Tracing.SampleRate,
		ServiceVersion: Version,
		Environment:    cfg.Observability.Sentry.Environment,
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tracing.Shutdown(shutdownCtx)
	}()

	sink, closeSink, err := buildSink(cfg.Persistence)
	if err != nil {
		return fmt.Errorf("init persistence: %w", err)
	}
	defer closeSink()

	backend, err := workspace.New(workspace.Mode(cfg.Workspace.Mode), workspace.GitConfig{
		RepoPath:       cfg.Workspace.RepoPath,
		Root:           cfg.Workspace.Root,
		ContainerImage: cfg.Workspace.ContainerImage,
	}, logger)
	if err != nil {
		return fmt.Errorf("init workspace backend: %w", err)
	}

	executor, err := buildProvider(cfg.Provider)
	if err != nil {
		return fmt.Errorf("init provider: %w", err)
	}
	registry := provider.NewRegistry()
	registry.Register(cfg.Provider.Kind, executor)

	limiter, err := ratelimit.NewRateLimiter(cfg.RateLimit)
	if err != nil {
		return fmt.Errorf("init rate limiter: %w", err)
	}
	defer limiter.Close()

	factory := orchestrator.NewSessionFactory(backend, executor, logger, cfg.Pool.CompressionEnabled)
	pool := session.NewPool(cfg.Pool, factory, logger, session.WithPoolMetrics(metrics))

	monitor := resource.NewMonitor(resource.NewProcessSampler(), cfg.Resources, logger,
		resource.WithMetrics(metrics))

	engine, err := delegation.NewEngine(
		delegation.Strategy(cfg.Delegation.Strategy),
		identity.RoleKind(cfg.Delegation.DefaultRole),
		logger,
		delegation.WithEngineMetrics(metrics),
	)
	if err != nil {
		return fmt.Errorf("init delegation engine: %w", err)
	}

	orch := orchestrator.New(orchestrator.Config{
		MaxIterations:   cfg.Orchestrator.MaxIterations,
		ProviderTimeout: cfg.Provider.Timeout,
		HistoryLimit:    cfg.Orchestrator.HistoryLimit,
	}, orchestrator.Deps{
		Engine:   engine,
		Pool:     pool,
		Monitor:  monitor,
		Executor: executor,
		Judge:    quality.NewProviderJudge(executor, logger),
		Limiter:  limiter,
		Sink:     sink,
		Logger:   logger,
		Metrics:  metrics,
		Tracer:   tracing,
	})
	go monitor.Run(ctx)
	go pool.RunCleanup(ctx)
	go logResourceEvents(ctx, monitor, logger)
	go remediationLoop(ctx, orch, logger)

	logger.Info("conductor ready")
	<-ctx.Done()

	logger.Info("conductor shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	pool.Shutdown(shutdownCtx)
	return nil
}

// buildSink constructs the configured persistence sink.
func buildSink(cfg config.PersistenceConfig) (persistence.Sink, func(), error) {
	switch cfg.Backend {
	case "file":
		sink, err := persistence.NewFileSink(cfg.Dir)
		if err != nil {
			return nil, nil, err
		}
		return sink, func() {}, nil
	case "sqlite":
		store, err := persistence.NewSQLiteStore(cfg.DBPath)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	default:
		return persistence.Discard{}, func() {}, nil
	}
}

// buildProvider constructs the configured provider driver.
func buildProvider(cfg config.ProviderConfig) (provider.Executor, error) {
	switch cfg.Kind {
	case "http":
		return provider.NewHTTPProvider(provider.HTTPConfig{
			Endpoint: cfg.Endpoint,
			APIKey:   cfg.APIKey,
			Model:    cfg.Model,
		})
	default:
		cliCfg := provider.DefaultClaudeCLIConfig()
		if cfg.Binary != "" {
			cliCfg.Binary = cfg.Binary
		}
		return provider.NewClaudeCLI(cliCfg), nil
	}
}

// startMetricsServer serves /metrics until the context ends.
func startMetricsServer(ctx context.Context, cfg config.MetricsConfig, logger *observability.Logger) {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.Handler())

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics server listening", "addr", server.Addr, "path", cfg.Path)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("metrics server failed", "error", err)
	}
}

// remediationLoop re-executes remediation tasks synthesized by failed
// quality reviews.
func remediationLoop(ctx context.Context, orch *orchestrator.Orchestrator, logger *observability.Logger) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, task := range orch.PendingRemediations() {
				logger.Info("executing remediation task", "task_id", task.ID, "parent", task.ParentTaskID)
				if _, err := orch.Execute(ctx, task); err != nil {
					logger.Error("remediation execution failed", "task_id", task.ID, "error", err)
				}
			}
		}
	}
}

// logResourceEvents surfaces monitor events in the log.
func logResourceEvents(ctx context.Context, monitor *resource.Monitor, logger *observability.Logger) {
	events := monitor.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-events:
			logger.Info("resource event",
				"kind", string(event.Kind),
				"agent_id", event.AgentID,
				"resource", event.Resource,
				"reason", event.Reason,
			)
		}
	}
}
