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
	jobsapi "github.com/bloomdesk/shipsync/internal/api/jobs_api"
	"github.com/bloomdesk/shipsync/internal/broker/kafka"
	"github.com/bloomdesk/shipsync/internal/cache/rediscache"
	"github.com/bloomdesk/shipsync/internal/services/jobs"
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

	tokenTTL := time.Duration(cfg.ShipSync.TokenCacheTTLSeconds) * time.Second
	if tokenTTL <= 0 {
		tokenTTL = 10 * time.Minute
	}
	rlPerMin := int64(cfg.ShipSync.ShopifyRateLimitPerMinute)
	if rlPerMin <= 0 {
		rlPerMin = 120
	}
	staleAfter := time.Duration(cfg.ShipSync.WorkerStaleLockSeconds) * time.Second

	progressTopic := cfg.Kafka.JobProgressedTopicName
	if progressTopic == "" {
		progressTopic = "jobs.progressed"
	}
	syncedTopic := cfg.Kafka.ShipmentSyncedTopicName
	if syncedTopic == "" {
		syncedTopic = "shipments.synced"
	}
	foReadyTopic := cfg.Kafka.FulfillmentOrderReadyTopic
	if foReadyTopic == "" {
		foReadyTopic = "fulfillment-orders.ready"
	}
	consumerGroup := cfg.ShipSync.KafkaConsumerGroup
	if consumerGroup == "" {
		consumerGroup = "sync-api"
	}

	st, err := pgjobs.New(pgConnString(cfg))
	if err != nil {
		panic(err)
	}
	defer st.Close()

	brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
	producer := kafka.NewProducer(brokers)
	consumer := kafka.NewConsumer(brokers, foReadyTopic, consumerGroup)
	defer consumer.Close()

	redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
	rl := rediscache.NewRateLimiter(redisAddr)

	shopsSvc := shops.New(st, rediscache.New(redisAddr), tokenTTL)
	client := shopify.NewHTTPClient(cfg.ShipSync.ShopifyAPIVersion)
	rec := reconcile.New(st, shopsSvc, client)

	regSvc := registrar.New(st, shopsSvc, client, rec, rl, producer, registrar.Config{
		RateLimitPerMinute: rlPerMin,
		SyncedTopic:        syncedTopic,
	}, nil)

	// The poll path (?advance=1) drives jobs without a worker, so the API
	// carries its own runner.
	run := runner.New(st, regSvc, producer, runner.Options{
		ItemLimit:     cfg.ShipSync.WorkerItemLimit,
		StaleAfter:    staleAfter,
		ProgressTopic: progressTopic,
	}, nil)

	jobsSvc := jobs.New(st, run)
	api := jobsapi.New(jobsSvc, rec, regSvc, nil)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	err = runSyncAPI(ctx, syncAPIOpts{
		httpAddr:      cfg.ShipSync.HTTPAddr,
		topic:         foReadyTopic,
		consumerGroup: consumerGroup,
	}, api, consumer, rec)
	if err != nil && ctx.Err() == nil {
		slog.Error("sync-api failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func pgConnString(cfg *config.Config) string {
	sslMode := cfg.Database.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, sslMode)
}
