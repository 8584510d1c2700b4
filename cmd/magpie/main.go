// Magpie - Duplicate detection for CRM records.
// Copyright (c) 2026 hirewise.io
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

	"github.com/hirewise/magpie/internal/api"
	"github.com/hirewise/magpie/internal/bus"
	"github.com/hirewise/magpie/internal/cache"
	"github.com/hirewise/magpie/internal/domain"
	"github.com/hirewise/magpie/internal/repository"
	"github.com/hirewise/magpie/internal/scan"
	"github.com/hirewise/magpie/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Initialize structured logger
	logLevel := slog.LevelInfo
	if os.Getenv("MAGPIE_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Log startup
	slog.Info("starting magpie",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	// Load configuration
	cfg := domain.DefaultConfig()

	// Check for Pro tier via environment
	if os.Getenv("MAGPIE_TIER") == "pro" {
		cfg = domain.ProConfig()
		slog.Info("running in Pro tier mode")
	}

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

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

	// Initialize Detector
	detector := scan.NewDetector(repo, cacheImpl, cfg.Detector)
	slog.Info("detector initialized",
		"max_records", cfg.Detector.MaxRecords,
		"rule_cache_ttl", cfg.Detector.RuleCacheTTL,
	)

	// Initialize async Worker (Pro tier)
	var asyncWorker *worker.Worker
	if cfg.Tier == domain.TierPro || os.Getenv("MAGPIE_ASYNC_WORKER") == "true" {
		asyncWorker = worker.NewWorker(busImpl, detector)

		// Get organization IDs to process (from environment or default)
		orgIDs := []string{}
		if envOrgs := os.Getenv("MAGPIE_ORGS"); envOrgs != "" {
			for _, o := range strings.Split(envOrgs, ",") {
				if o = strings.TrimSpace(o); o != "" {
					orgIDs = append(orgIDs, o)
				}
			}
		}

		workerCfg := worker.Config{
			OrganizationIDs: orgIDs,
		}

		if err := asyncWorker.Start(workerCfg); err != nil {
			slog.Error("failed to start async worker", "error", err)
		} else {
			slog.Info("async worker started", "organization_count", len(orgIDs))
		}
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, repo, cacheImpl, busImpl, detector, Version)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("magpie is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
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

	slog.Info("magpie shutdown complete")
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║               🐦 MAGPIE                   ║")
	fmt.Println("  ║       Duplicate Detection Engine          ║")
	fmt.Println("  ║       One record for every person.        ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /scan                          - Run a detection scan")
	fmt.Println("    POST /scan/async                    - Queue a detection scan")
	fmt.Println("    GET  /duplicates                    - List duplicate candidates")
	fmt.Println("    PATCH /duplicates/{id}              - Update review status")
	fmt.Println("    GET  /rules                         - List match rules")
	fmt.Println("    POST /rules                         - Create a match rule")
	fmt.Println("    PUT  /rules/{id}                    - Update a match rule")
	fmt.Println("    DELETE /rules/{id}                  - Disable a match rule")
	fmt.Println("    PUT  /records/{entityType}/{id}     - Upsert a record")
	fmt.Println("    DELETE /records/{entityType}/{id}   - Soft-delete a record")
	fmt.Println("    GET  /health                        - Health check")
	fmt.Println()
}
