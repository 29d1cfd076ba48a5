package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/noah-isme/backend-promo/internal/app"
	"github.com/noah-isme/backend-promo/internal/config"
	"github.com/noah-isme/backend-promo/internal/hierarchy"
	"github.com/noah-isme/backend-promo/internal/items"
	"github.com/noah-isme/backend-promo/internal/obs"
	"github.com/noah-isme/backend-promo/internal/queue"
	"github.com/noah-isme/backend-promo/internal/rules"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logFormat := envOrDefault("OBS_LOG_FORMAT", "json")
	logLevel := envOrDefault("OBS_LOG_LEVEL", "info")
	logger := obs.NewLogger(logFormat, logLevel).With().Str("component", "worker").Logger()

	obs.MustRegisterDomainMetrics(envOrDefault("OBS_METRICS_NAMESPACE", "promo"), nil)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	initCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := app.NewPgxPool(initCtx, cfg.DatabaseURL, "promo-worker")
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	defer pool.Close()

	redisClient, err := app.NewRedis(initCtx, cfg.RedisURL, false, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect redis")
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()

	auditWorker := rules.AuditWorker{
		Repo:  &rules.Store{Pool: pool},
		Items: &items.Catalog{DB: pool, R: redisClient, TTL: cfg.ItemCacheTTL},
		Chains: &hierarchy.CachedStore{
			Next: &hierarchy.Store{DB: pool},
			R:    redisClient,
			TTL:  cfg.HierarchyCacheTTL,
		},
		Logger: logger,
	}

	worker := queue.Worker{
		R:      redisClient,
		Prefix: cfg.QueueRedisPrefix,
		Kind:   queue.RuleAuditKind,
		Logger: logger,
		Handler: func(jobCtx context.Context, task queue.Task) error {
			return auditWorker.Handle(jobCtx, task.Payload)
		},
	}

	logger.Info().Msg("worker starting")
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("worker stopped with error")
	} else {
		logger.Info().Msg("worker shutdown complete")
	}
}

func envOrDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(val)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}
