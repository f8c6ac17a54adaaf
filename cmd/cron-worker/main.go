package main

import (
	"context"
	"errors"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/openfield/eventlog-pipeline/internal/cron"
	"github.com/openfield/eventlog-pipeline/pkg/clickhouse"
	"github.com/openfield/eventlog-pipeline/pkg/config"
	"github.com/openfield/eventlog-pipeline/pkg/db"
	"github.com/openfield/eventlog-pipeline/pkg/logger"
	"github.com/openfield/eventlog-pipeline/pkg/metrics"
	"github.com/openfield/eventlog-pipeline/pkg/migrate"
	"github.com/openfield/eventlog-pipeline/pkg/outbox"
	"github.com/openfield/eventlog-pipeline/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	sinkClient, err := clickhouse.NewClient(context.Background(), cfg.ClickHouse, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap clickhouse", err)
		os.Exit(1)
	}
	defer func() {
		if err := sinkClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing clickhouse", err)
		}
	}()

	outboxRepo := outbox.NewRepository(dbClient.DB())
	exporterMetrics := metrics.NewExporterMetrics(prometheus.DefaultRegisterer)
	exporter, err := outbox.NewExporter(outbox.ExporterParams{
		DB:         dbClient,
		Repo:       outboxRepo,
		Sink:       sinkClient,
		BatchSize:  cfg.Outbox.BatchSize,
		MaxRetries: cfg.Outbox.MaxRetries,
		Logger:     logg,
		Metrics:    exporterMetrics,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create exporter", err)
		os.Exit(1)
	}

	registry := cron.NewRegistry()

	retentionJob, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:     logg,
		Repository: outboxRepo,
		Retention:  cfg.Outbox.Retention,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create retention job", err)
		os.Exit(1)
	}
	registry.Register(retentionJob)

	retryJob, err := cron.NewOutboxRetryJob(cron.OutboxRetryJobParams{
		Logger:   logg,
		Exporter: exporter,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create retry job", err)
		os.Exit(1)
	}
	registry.Register(retryJob)

	if cfg.Buffer.Enabled {
		buffer, err := outbox.NewBuffer(outbox.BufferParams{
			Redis:           redisClient,
			Sink:            sinkClient,
			QueueKey:        redisClient.QueueKey(cfg.Buffer.QueueKey),
			FailedKey:       redisClient.QueueKey(cfg.Buffer.FailedKey),
			BatchSize:       cfg.Buffer.BatchSize,
			BatchTimeout:    cfg.Buffer.BatchTimeout,
			Environment:     cfg.App.Env,
			MetadataVersion: cfg.Outbox.MetadataVersion,
			Logger:          logg,
			Metrics:         exporterMetrics,
		})
		if err != nil {
			logg.Error(context.Background(), "failed to create buffer", err)
			os.Exit(1)
		}
		reprocessJob, err := cron.NewBufferReprocessJob(cron.BufferReprocessJobParams{
			Logger: logg,
			Buffer: buffer,
		})
		if err != nil {
			logg.Error(context.Background(), "failed to create buffer reprocess job", err)
			os.Exit(1)
		}
		registry.Register(reprocessJob)
	}

	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey("cron-worker:"+cfg.App.Env), cfg.Cron.LockTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval: cfg.Cron.Interval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})

	go func() {
		if err := metrics.Serve(ctx, cfg.Metrics.Addr, logg); err != nil {
			logg.Error(ctx, "metrics endpoint stopped", err)
		}
	}()

	logg.Info(ctx, "starting cron worker")
	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "cron worker shutting down gracefully")
}
