package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/kamal2602/thinkhub-sub001/internal/catalog"
	"github.com/kamal2602/thinkhub-sub001/internal/config"
	"github.com/kamal2602/thinkhub-sub001/internal/core"
	"github.com/kamal2602/thinkhub-sub001/internal/logging"
	"github.com/kamal2602/thinkhub-sub001/internal/store"
	"github.com/kamal2602/thinkhub-sub001/internal/store/memstore"
	"github.com/kamal2602/thinkhub-sub001/internal/store/postgres"
	"github.com/kamal2602/thinkhub-sub001/internal/store/rulecache"
	"github.com/kamal2602/thinkhub-sub001/internal/store/sqlite"
	"github.com/kamal2602/thinkhub-sub001/internal/web"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	// Load and validate configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"store", cfg.Database.Driver(),
		"rule_cache", cfg.Cache.Enabled,
		"max_concurrent_commits", cfg.Import.MaxConcurrentCommits,
		"rate_limit_enabled", cfg.Rate.Enabled,
		"require_api_key", cfg.Security.RequireAPIKey,
	)

	ctx := context.Background()
	st, err := openStore(ctx, cfg)
	if err != nil {
		slog.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	if cfg.Cache.Enabled {
		st = rulecache.New(st, cfg.Cache.Size, cfg.Cache.TTL)
	}

	service := core.NewService(catalog.Default(), st, core.Options{
		MappingThreshold:     cfg.Import.MappingThreshold,
		SimilarityThreshold:  cfg.Import.SimilarityThreshold,
		MaxMatches:           cfg.Import.MaxMatches,
		Concurrency:          cfg.Import.Concurrency,
		SampleValues:         cfg.Import.SampleValues,
		SessionTTL:           cfg.Import.SessionTTL,
		MaxConcurrentCommits: cfg.Import.MaxConcurrentCommits,
		CommitWait:           cfg.Import.CommitWait,
	})

	server := web.NewServer(service, st, cfg)

	// Create cancellable context for background jobs
	jobCtx, cancelJobs := context.WithCancel(context.Background())
	go service.StartSweeper(jobCtx, cfg.Import.SweepInterval)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")
		cancelJobs()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Let running commits finish before the store goes away
		status := service.Limiter().Status()
		if status.Active > 0 {
			slog.Info("waiting for commits to complete", "active", status.Active)
			if err := service.Limiter().WaitForDrain(shutdownCtx); err != nil {
				slog.Warn("commits did not complete in time", "error", err)
			} else {
				slog.Info("all commits completed")
			}
		}

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	if err := server.Start(); err != nil {
		slog.Info("server stopped", "error", err)
	}
}

// openStore picks the store implementation from the database URL.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.Database.Driver() {
	case config.DriverPostgres:
		st, err := postgres.Open(ctx, cfg.Database.URL, postgres.PoolConfig{
			MaxConns:        cfg.Database.MaxConns,
			MinConns:        cfg.Database.MinConns,
			MaxConnLifetime: cfg.Database.MaxConnLifetime,
			MaxConnIdleTime: cfg.Database.MaxConnIdleTime,
		})
		if err != nil {
			return nil, err
		}
		slog.Info("connected to postgres")
		return st, nil

	case config.DriverSQLite:
		st, err := sqlite.Open(ctx, cfg.Database.SQLitePath())
		if err != nil {
			return nil, err
		}
		slog.Info("opened sqlite store", "path", cfg.Database.SQLitePath())
		return st, nil

	case config.DriverMemory:
		slog.Warn("using in-memory store, nothing survives a restart")
		return memstore.New(), nil
	}
	return nil, fmt.Errorf("unsupported database url scheme")
}
