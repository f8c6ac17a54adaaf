package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/openfield/eventlog-pipeline/api"
	"github.com/openfield/eventlog-pipeline/api/controllers"
	"github.com/openfield/eventlog-pipeline/api/routes"
	"github.com/openfield/eventlog-pipeline/api/validators"
	"github.com/openfield/eventlog-pipeline/internal/users"
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
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	cfg.Service.Kind = "api"

	logg = logger.New(logger.Options{
		ServiceName: "api",
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

	outboxRepo := outbox.NewRepository(dbClient.DB())
	producer, err := outbox.NewProducer(outbox.ProducerParams{
		Repo:            outboxRepo,
		Environment:     cfg.App.Env,
		MetadataVersion: cfg.Outbox.MetadataVersion,
		Logger:          logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create producer", err)
		os.Exit(1)
	}

	pingers := map[string]controllers.Pinger{"database": dbClient}

	// The buffered fast path is opt-in; without it the API only needs
	// Postgres.
	var buffer *outbox.Buffer
	if cfg.Buffer.Enabled {
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

		buffer, err = outbox.NewBuffer(outbox.BufferParams{
			Redis:           redisClient,
			Sink:            sinkClient,
			QueueKey:        redisClient.QueueKey(cfg.Buffer.QueueKey),
			FailedKey:       redisClient.QueueKey(cfg.Buffer.FailedKey),
			BatchSize:       cfg.Buffer.BatchSize,
			BatchTimeout:    cfg.Buffer.BatchTimeout,
			Environment:     cfg.App.Env,
			MetadataVersion: cfg.Outbox.MetadataVersion,
			Logger:          logg,
			Metrics:         metrics.NewExporterMetrics(prometheus.DefaultRegisterer),
		})
		if err != nil {
			logg.Error(context.Background(), "failed to create buffer", err)
			os.Exit(1)
		}
		pingers["redis"] = redisClient
		pingers["clickhouse"] = sinkClient
	}

	userParams := users.ServiceParams{
		DB:       dbClient,
		Repo:     users.NewRepository(dbClient.DB()),
		Producer: producer,
		Validate: validators.Validate(),
		Logger:   logg,
	}
	if buffer != nil {
		userParams.Buffer = buffer
	}
	userService, err := users.NewService(userParams)
	if err != nil {
		logg.Error(context.Background(), "failed to create user service", err)
		os.Exit(1)
	}

	router := routes.NewRouter(routes.RouterParams{
		Config:      cfg,
		Logger:      logg,
		Users:       userService,
		OutboxAdmin: outboxRepo,
		Pingers:     pingers,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})

	logg.Info(ctx, "starting api server")
	if err := api.NewServer(cfg, router, logg).Run(ctx); err != nil {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "api server shutting down gracefully")
}
