package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/miradorstack/mirador-phiguard/internal/api"
	"github.com/miradorstack/mirador-phiguard/internal/audit"
	"github.com/miradorstack/mirador-phiguard/internal/config"
	"github.com/miradorstack/mirador-phiguard/internal/guard"
	"github.com/miradorstack/mirador-phiguard/internal/metrics"
	"github.com/miradorstack/mirador-phiguard/internal/phi"
	"github.com/miradorstack/mirador-phiguard/internal/repo"
	"github.com/miradorstack/mirador-phiguard/internal/resilience"
	"github.com/miradorstack/mirador-phiguard/internal/services"
	"github.com/miradorstack/mirador-phiguard/internal/tracing"
	"github.com/miradorstack/mirador-phiguard/internal/utils"
)

func newServeCommand() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gRPC analyzer and the admin HTTP listener",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), configPath)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "Path to configuration file (defaults to $PHIGUARD_CONFIG)")
	return cmd
}

func serve(parent context.Context, configPath string) error {
	if parent == nil {
		parent = context.Background()
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	slog.SetDefault(logger)
	logger.Info("starting mirador-phiguard",
		slog.String("address", cfg.Server.Address),
		slog.String("admin_address", cfg.Server.AdminAddress),
		slog.String("dependency", cfg.Facade.Dependency))

	shutdownTracing, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		Exporter:    cfg.Tracing.Exporter,
		ServiceName: cfg.Tracing.ServiceName,
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}
	recorder := metrics.NewRecorder(cfg.Metrics.TimerWindow)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	detector, err := phi.LoadDetector(cfg.Sensitivity(), cfg.PHI.RulesPath)
	if err != nil {
		return fmt.Errorf("load rule pack: %w", err)
	}
	deid := phi.NewDeidentifier(detector)

	store, err := newAuditStore(ctx, cfg.Audit)
	if err != nil {
		return fmt.Errorf("open audit store: %w", err)
	}
	defer store.Close()

	downstream, err := newDownstream(cfg.Downstream, logger)
	if err != nil {
		return fmt.Errorf("configure downstream: %w", err)
	}

	breakers := resilience.NewRegistry(cfg.BreakerSettings())
	facade := guard.New(deid, breakers, resilience.NewRetryPolicy(cfg.RetrySettings()), cfg.FacadeSettings(),
		guard.WithLogger(logger),
		guard.WithRecorder(recorder),
		guard.WithAuditStore(store),
	)

	downstreams := map[string]guard.Downstream{facade.Dependency(): downstream}
	analyzer := services.NewAnalyzerService(logger, facade, downstreams, store, recorder)
	server, err := api.NewServer(cfg.Server, analyzer)
	if err != nil {
		return fmt.Errorf("create gRPC server: %w", err)
	}

	admin := &http.Server{
		Addr: cfg.Server.AdminAddress,
		Handler: api.NewAdminRouter(api.AdminDeps{
			Breakers: breakers,
			Recorder: recorder,
			Audit:    store,
			Gatherer: prometheus.DefaultGatherer,
			Logger:   logger,
		}),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("gRPC server listening", slog.String("address", server.Address()))
		if err := server.Start(); err != nil {
			return fmt.Errorf("gRPC server exited: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		logger.Info("admin server listening", slog.String("address", cfg.Server.AdminAddress))
		if err := admin.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("admin server exited: %w", err)
		}
		return nil
	})
	if cfg.PHI.WatchRules && cfg.PHI.RulesPath != "" {
		watcher, err := phi.NewRuleWatcher(cfg.PHI.RulesPath, cfg.Sensitivity(), deid, logger)
		if err != nil {
			logger.Warn("rule pack hot reload disabled", slog.Any("error", err))
		} else {
			g.Go(func() error { return watcher.Run(gctx) })
		}
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), server.GracefulTimeout())
		defer cancel()
		server.Shutdown(shutdownCtx)
		if err := admin.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("admin server shutdown", slog.Any("error", err))
		}
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn("tracer shutdown", slog.Any("error", err))
		}
		return nil
	})

	err = g.Wait()
	logger.Info("mirador-phiguard stopped")
	return err
}

func newAuditStore(ctx context.Context, cfg config.AuditConfig) (audit.Store, error) {
	switch cfg.Backend {
	case "redis":
		return audit.NewRedisStore(ctx, audit.RedisConfig{
			URL:         cfg.RedisURL,
			TTL:         cfg.TTL,
			DialTimeout: 5 * time.Second,
		})
	default:
		return audit.NewMemoryStore(cfg.MaxCorrelations), nil
	}
}

func newDownstream(cfg config.DownstreamConfig, logger *slog.Logger) (guard.Downstream, error) {
	switch cfg.Provider {
	case "http":
		return repo.NewHTTPAnalyzer(cfg.BaseURL, cfg.Path, cfg.Model, cfg.APIKey, cfg.Timeout).Analyze, nil
	default:
		analyzer, err := repo.NewOpenAIAnalyzer(repo.OpenAIConfig{
			APIKey:       cfg.APIKey,
			BaseURL:      cfg.BaseURL,
			Model:        cfg.Model,
			SystemPrompt: cfg.SystemPrompt,
			Timeout:      cfg.Timeout,
		}, logger)
		if err != nil {
			return nil, err
		}
		return analyzer.Analyze, nil
	}
}
