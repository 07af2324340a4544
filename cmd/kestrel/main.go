// Kestrel - Recruitment scam detection that deploys in 60 seconds.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opensource-finance/kestrel/internal/ai"
	"github.com/opensource-finance/kestrel/internal/analyzer"
	"github.com/opensource-finance/kestrel/internal/api"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/config"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/links"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/usage"
	"github.com/opensource-finance/kestrel/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "Path to a config file (default: ./kestrel.yaml if present)")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("kestrel %s (%s, %s)\n", Version, Commit, BuildDate)
		return
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	if os.Getenv("KESTREL_DEBUG") == "true" {
		cfg.Logging.Level = "debug"
	}
	slog.SetDefault(config.NewLogger(cfg.Logging, os.Stdout))

	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	// Create context with cancellation
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg); err != nil {
		slog.Error("kestrel stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *domain.Config) error {
	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return fmt.Errorf("failed to initialize repository: %w", err)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		return fmt.Errorf("failed to initialize event bus: %w", err)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.NewCollector()
	}

	// Pattern engine
	engine, err := rules.NewEngine(cfg.Analysis.RulesetVersion)
	if err != nil {
		return fmt.Errorf("failed to initialize pattern engine: %w", err)
	}
	slog.Info("pattern engine initialized",
		"rules_count", len(engine.Rules()),
		"combos_count", len(engine.Combos()),
		"ruleset_version", engine.Version(),
	)

	// Link analysis; community reports feed domain reputation
	linkSvc := links.NewService(
		cfg.Links,
		links.NewHTTPExpander(cfg.Links.ExpandTimeout),
		links.NewReputationChecker(cfg.Links, cacheImpl),
		repo,
	)

	assessor, err := ai.New(cfg.AI)
	if err != nil {
		return fmt.Errorf("failed to initialize AI assessor: %w", err)
	}

	opts := []analyzer.Option{
		analyzer.WithLinks(linkSvc),
		analyzer.WithAssessor(assessor),
		analyzer.WithCache(cacheImpl),
	}
	if collector != nil {
		opts = append(opts, analyzer.WithMetrics(collector))
	}
	a := analyzer.New(cfg.Analysis, engine, opts...)
	slog.Info("analyzer initialized",
		"engine_version", cfg.Analysis.EngineVersion,
		"ai_enabled", a.AIEnabled(),
		"links_enabled", a.LinksEnabled(),
		"fail_open", cfg.Analysis.FailOpen,
	)

	// Initialize async Worker
	var asyncWorker *worker.Worker
	if cfg.Worker.Enabled {
		asyncWorker = worker.NewWorker(busImpl, repo, a)
		workerCfg := worker.Config{
			TenantIDs:   cfg.Worker.Tenants,
			Concurrency: cfg.Worker.Concurrency,
		}
		if err := asyncWorker.Start(workerCfg); err != nil {
			slog.Error("failed to start async worker", "error", err)
			asyncWorker = nil
		}
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, cfg.Metrics, api.Dependencies{
		Analyzer: a,
		Rules:    engine,
		Repo:     repo,
		Cache:    cacheImpl,
		Bus:      busImpl,
		Links:    linkSvc,
		Usage:    usage.NewService(cacheImpl, cfg.Usage.DailyLimit),
		Metrics:  collector,
		Version:  Version,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	slog.Info("kestrel is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	var runErr error
	select {
	case <-ctx.Done():
		slog.Info("shutting down...")
	case err := <-errCh:
		runErr = fmt.Errorf("server failed: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	// Stop accepting requests before draining the worker.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	slog.Info("kestrel shutdown complete")
	return runErr
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║               KESTREL                     ║")
	fmt.Println("  ║     Recruitment Scam Detection Engine     ║")
	fmt.Println("  ║      Read the offer before you pay.       ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /analyze            - Analyze a recruitment message (?async=true)")
	fmt.Println("    GET  /analyses/{id}      - Get analysis by ID")
	fmt.Println("    POST /feedback           - Rate a past analysis")
	fmt.Println("    POST /report-scam        - Report a scam message")
	fmt.Println("    GET  /domains/{domain}   - Domain reputation")
	fmt.Println("    GET  /stats              - Analysis statistics")
	fmt.Println("    GET  /rules              - Pattern catalog")
	fmt.Println("    GET  /health             - Health check")
	fmt.Println("    GET  /ready              - Readiness check")
	if cfg.Metrics.Enabled {
		fmt.Printf("    GET  %-19s - Prometheus metrics\n", cfg.Metrics.Path)
	}
	fmt.Println()
}
