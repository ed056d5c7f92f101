package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"stripcall/internal/adapters/repo"
	"stripcall/internal/infra/config"
	"stripcall/internal/infra/db"
	"stripcall/internal/infra/log"
	"stripcall/internal/infra/metrics"
	"stripcall/internal/usecase/lifecycle"
)

func main() {
	cfg := config.Load()
	logger := log.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("sweeper: database connect failed")
	}
	defer pool.Close()
	store := repo.NewPostgres(pool)

	sweeper := lifecycle.NewService(store, store, store, store,
		cfg.Sweeper.SystemUserID, cfg.Sweeper.ResolutionCode,
		logger.With().Str("component", "lifecycle").Logger())

	metrics.StartServer(ctx, logger.With().Str("component", "metrics").Logger(), cfg.MetricsAddr)

	logger.Info().Dur("interval", cfg.Sweeper.Interval).Msg("sweeper: start")
	ticker := time.NewTicker(cfg.Sweeper.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("sweeper: shutdown")
			return
		case now := <-ticker.C:
			if err := sweeper.Sweep(ctx, now.UTC()); err != nil {
				logger.Error().Err(err).Msg("sweeper: pass failed")
			}
		}
	}
}
