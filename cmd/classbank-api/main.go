package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"classbank/internal/api"
	"classbank/internal/auth"
	"classbank/internal/batch"
	"classbank/internal/cache"
	"classbank/internal/config"
	"classbank/internal/db"
	"classbank/internal/ledger"
	"classbank/internal/settings"
	"classbank/internal/vote"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadAPIFromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	st, closeStore, err := db.OpenStore(ctx, cfg)
	if err != nil {
		logger.Error("store init failed", "err", err)
		os.Exit(1)
	}
	defer closeStore()

	if cfg.StartupSeedSettings {
		if err := settings.Seed(ctx, st, cfg.Settings); err != nil {
			logger.Error("seed settings failed", "err", err)
			os.Exit(1)
		}
	}

	readCache := cache.New(cache.DefaultTTLs())
	authClient := auth.NewClient(cfg.IdentityURL, cfg.IdentityAnonKey)
	ledgerSvc := ledger.NewService(st, readCache, logger)
	voteSvc := vote.NewService(st, readCache, logger)
	coalescer := batch.New(st, logger, cfg.MaxBatchSize, cfg.BatchDelay)
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := coalescer.Close(flushCtx); err != nil {
			logger.Error("final flush failed", "err", err)
		}
	}()

	server := api.New(cfg, logger, authClient, ledgerSvc, voteSvc, coalescer, st)
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("classbank api listening", "addr", cfg.Addr, "backend", cfg.StoreBackend)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server failed", "err", err)
		os.Exit(1)
	}
}
