package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bloomdesk/shipsync/config"
	"github.com/bloomdesk/shipsync/internal/broker/kafka"
	"github.com/bloomdesk/shipsync/internal/cache/rediscache"
	"github.com/bloomdesk/shipsync/internal/services/reconcile"
	"github.com/bloomdesk/shipsync/internal/services/registrar"
	"github.com/bloomdesk/shipsync/internal/services/runner"
	"github.com/bloomdesk/shipsync/internal/services/shops"
	"github.com/bloomdesk/shipsync/internal/shopify"
	"github.com/bloomdesk/shipsync/internal/storage/pgjobs"
)

func main() {
	cfg, err := config.LoadConfig(os.Getenv("configPath"))
	if err != nil {
		panic(fmt.Sprintf("failed to parse config, %v", err))
	}

	sweepInterval := time.Duration(cfg.ShipSync.WorkerSweepIntervalSeconds) * time.Second
	if sweepInterval <= 0 {
		sweepInterval = 5 * time.Second
	}
	staleAfter := time.Duration(cfg.ShipSync.WorkerStaleLockSeconds) * time.Second
	resyncLimit := cfg.ShipSync.WorkerResyncLimit
	if resyncLimit <= 0 {
		resyncLimit = 50
	}
	rlPerMin := int64(cfg.ShipSync.ShopifyRateLimitPerMinute)
	if rlPerMin <= 0 {
		rlPerMin = 120
	}
	tokenTTL := time.Duration(cfg.ShipSync.TokenCacheTTLSeconds) * time.Second
	if tokenTTL <= 0 {
		tokenTTL = 10 * time.Minute
	}

	progressTopic := cfg.Kafka.JobProgressedTopicName
	if progressTopic == "" {
		progressTopic = "jobs.progressed"
	}
	syncedTopic := cfg.Kafka.ShipmentSyncedTopicName
	if syncedTopic == "" {
		syncedTopic = "shipments.synced"
	}

	st, err := pgjobs.New(pgConnString(cfg))
	if err != nil {
		panic(err)
	}
	defer st.Close()

	brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
	producer := kafka.NewProducer(brokers)

	redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
	rl := rediscache.NewRateLimiter(redisAddr)

	shopsSvc := shops.New(st, rediscache.New(redisAddr), tokenTTL)
	client := shopify.NewHTTPClient(cfg.ShipSync.ShopifyAPIVersion)
	rec := reconcile.New(st, shopsSvc, client)

	regSvc := registrar.New(st, shopsSvc, client, rec, rl, producer, registrar.Config{
		RateLimitPerMinute: rlPerMin,
		SyncedTopic:        syncedTopic,
	}, nil)

	run := runner.New(st, regSvc, producer, runner.Options{
		JobLimit:      cfg.ShipSync.WorkerJobLimit,
		ItemLimit:     cfg.ShipSync.WorkerItemLimit,
		StaleAfter:    staleAfter,
		ProgressTopic: progressTopic,
	}, nil)

	sweeper := runner.NewSweeper(run, regSvc, sweepInterval, resyncLimit, nil)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go func() {
		err := runWorkerHTTPServer(ctx, workerHTTPOpts{
			httpAddr: cfg.ShipSync.WorkerHTTPAddr,
			sweeper:  sweeper,
			cfg:      cfg,
		})
		if err != nil && ctx.Err() == nil {
			slog.Error("worker http server failed", slog.Any("error", err))
		}
	}()

	sweeper.Run(ctx)
}

func pgConnString(cfg *config.Config) string {
	sslMode := cfg.Database.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, sslMode)
}
