package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"classbank/internal/cache"
	"classbank/internal/config"
	"classbank/internal/db"
	"classbank/internal/ledger"
	"classbank/internal/settings"
	"classbank/internal/store"
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
	ledgerSvc := ledger.NewService(st, readCache, logger)
	voteSvc := vote.NewService(st, readCache, logger)

	runOnce := strings.EqualFold(strings.TrimSpace(os.Getenv("CLASSBANK_WORKER_RUN_ONCE")), "true")
	if runOnce {
		if err := runPayday(ctx, st, ledgerSvc, logger, cfg.PaydayEvery); err != nil {
			logger.Error("payday failed", "err", err)
			os.Exit(1)
		}
		if swept, err := voteSvc.Sweep(ctx); err != nil {
			logger.Error("sweep failed", "err", err)
			os.Exit(1)
		} else if swept > 0 {
			logger.Info("proposals auto-rejected", "count", swept)
		}
		logger.Info("worker run-once completed")
		return
	}

	payday := time.NewTicker(cfg.PaydayEvery)
	defer payday.Stop()
	sweep := time.NewTicker(cfg.SweepEvery)
	defer sweep.Stop()

	logger.Info("worker started", "payday_every", cfg.PaydayEvery.String(), "sweep_every", cfg.SweepEvery.String())
	for {
		select {
		case <-ctx.Done():
			logger.Info("worker shutdown")
			return
		case <-payday.C:
			if err := runPayday(ctx, st, ledgerSvc, logger, cfg.PaydayEvery); err != nil {
				logger.Error("payday failed", "err", err)
				continue
			}
			logger.Info("payday complete")
		case <-sweep.C:
			swept, err := voteSvc.Sweep(ctx)
			if err != nil {
				logger.Error("sweep failed", "err", err)
				continue
			}
			if swept > 0 {
				logger.Info("proposals auto-rejected", "count", swept)
			}
		}
	}
}

// runPayday credits the stipend net of tax to every actor on the roster.
// The idempotency key encodes the pay period, so a restarted worker cannot
// pay the same period twice.
func runPayday(ctx context.Context, st store.Store, lsvc *ledger.Service, logger *slog.Logger, every time.Duration) error {
	set, _, err := settings.Load(ctx, st)
	if err != nil {
		return err
	}
	amount := set.NetOfTax(set.StipendAmount)
	if amount <= 0 {
		return nil
	}
	ids, err := lsvc.ActorIDs(ctx)
	if err != nil {
		return err
	}
	key := fmt.Sprintf("payday-%s", time.Now().UTC().Truncate(every).Format("20060102T150405"))
	for _, id := range ids {
		_, err := lsvc.Credit(ctx, ledger.CreditInput{
			ActorID:        id,
			Account:        ledger.AccountCash,
			Amount:         amount,
			Reason:         "payday",
			IdempotencyKey: key,
		})
		if errors.Is(err, ledger.ErrActorDisabled) {
			continue
		}
		if err != nil {
			logger.Error("stipend credit failed", "actor", id, "err", err)
		}
	}
	return nil
}
