// Kestrel - Alternative credit scoring and fraud checks for thin-file borrowers.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/opensource-finance/kestrel/internal/api"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/kyc"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/riskscore"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/scoring"
	"github.com/opensource-finance/kestrel/internal/summary"
	"github.com/opensource-finance/kestrel/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Load configuration
	cfg := domain.DefaultConfig()
	if os.Getenv("KESTREL_EDITION") == "pro" {
		cfg = domain.ProConfig()
	}
	cfg.ApplyEnv(os.Getenv)

	slog.SetDefault(newLogger(cfg.Logging))

	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"edition", cfg.Edition,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"ml_disabled", cfg.Scoring.DisableML,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Scoring: external model with the local scorer behind it
	local := scoring.NewLocalPredictor()
	var predictor scoring.Predictor = local
	if !cfg.Scoring.DisableML {
		remote := scoring.NewRemotePredictor(scoring.RemoteConfig{
			BaseURL:     cfg.Scoring.MLServiceURL,
			Timeout:     cfg.Scoring.MLTimeout,
			Temperature: cfg.Scoring.Temperature,
			Cache:       cacheImpl,
			CacheTTL:    cfg.Scoring.CacheTTL,
		})
		predictor = scoring.WithFallback(remote, local)
	}
	slog.Info("predictor initialized",
		"ml_service", cfg.Scoring.MLServiceURL,
		"temperature", cfg.Scoring.Temperature,
	)

	analyzer := riskscore.NewAnalyzer(cfg.Risk.CryptoKeywords, cfg.Risk.LargeTxnFloor)
	verifier := kyc.NewVerifier(cfg.KYC.NameThreshold)

	// Initialize Rule Engine
	engine, err := rules.NewEngine(100)
	if err != nil {
		slog.Error("failed to initialize rule engine", "error", err)
		os.Exit(1)
	}
	if err := loadRulesFromDatabase(ctx, repo, engine); err != nil {
		slog.Error("failed to load rules", "error", err)
		os.Exit(1)
	}
	slog.Info("rule engine initialized", "rules_count", engine.RulesCount())

	aggregator := summary.NewAggregator()
	if cfg.Risk.AlertThreshold > 0 {
		aggregator.AlertThreshold = cfg.Risk.AlertThreshold
	}
	summarySvc := summary.NewService(repo, engine, aggregator)

	// Initialize async Worker (Pro edition)
	var asyncWorker *worker.Worker
	if cfg.AsyncWorker {
		asyncWorker = worker.NewWorker(busImpl, repo, local, analyzer)

		workerCfg := worker.Config{
			TenantIDs:      cfg.Tenants,
			AlertThreshold: cfg.Risk.AlertThreshold,
		}
		if err := asyncWorker.Start(workerCfg); err != nil {
			slog.Error("failed to start async worker", "error", err)
			asyncWorker = nil
		} else {
			slog.Info("async worker started", "tenant_count", len(cfg.Tenants))
		}
	}

	srv := api.NewServer(cfg.Server, api.Deps{
		Repo:           repo,
		Cache:          cacheImpl,
		Bus:            busImpl,
		Predictor:      predictor,
		Fallback:       local,
		Analyzer:       analyzer,
		Verifier:       verifier,
		Engine:         engine,
		Summary:        summarySvc,
		Temperature:    cfg.Scoring.Temperature,
		DisableML:      cfg.Scoring.DisableML,
		NameThreshold:  cfg.KYC.NameThreshold,
		AlertThreshold: cfg.Risk.AlertThreshold,
	}, Version)

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("kestrel is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop async worker first
	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("kestrel shutdown complete")
}

func newLogger(cfg domain.LoggingConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

// loadRulesFromDatabase loads the stored global rules into the engine.
// Rules are configured via POST /rules; there are no built-in defaults.
func loadRulesFromDatabase(ctx context.Context, repo domain.Repository, engine *rules.Engine) error {
	dbRules, err := repo.ListRuleConfigs(ctx, rules.GlobalTenant)
	if err != nil {
		slog.Warn("failed to list rules from database", "error", err)
		return nil
	}

	if len(dbRules) == 0 {
		slog.Info("no rules in database - configure via POST /rules API")
		return nil
	}

	slog.Info("loading rules from database", "count", len(dbRules))
	return engine.ReloadRules(dbRules)
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  KESTREL  alternative credit scoring")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Edition:  %s\n", cfg.Edition)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /predict                 - Score a user's transactions")
	fmt.Println("    POST /calibrate               - Calibrate a model probability")
	fmt.Println("    GET  /scores/{userId}         - Score history")
	fmt.Println("    POST /transactions/ingest     - Queue transactions for async scoring")
	fmt.Println("    POST /statements/parse        - Parse OCR'd statement text")
	fmt.Println("    POST /risk/transactions       - Transaction risk check")
	fmt.Println("    POST /kyc/verify              - Verify an identity document")
	fmt.Println("    GET  /risk/summary/{userId}   - Combined risk decision")
	fmt.Println("    POST /mentor/chat             - Finance mentor")
	fmt.Println("    POST /rules                   - Create an alert rule")
	fmt.Println("    POST /rules/reload            - Hot-reload rules from database")
	fmt.Println("    GET  /health                  - Health check")
	fmt.Println()
}
