package main

import (
	"context"
	"errors"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/openfield/eventlog-pipeline/pkg/clickhouse"
	"github.com/openfield/eventlog-pipeline/pkg/config"
	"github.com/openfield/eventlog-pipeline/pkg/db"
	"github.com/openfield/eventlog-pipeline/pkg/logger"
	"github.com/openfield/eventlog-pipeline/pkg/metrics"
	"github.com/openfield/eventlog-pipeline/pkg/migrate"
	"github.com/openfield/eventlog-pipeline/pkg/outbox"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "outbox-exporter"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	cfg.Service.Kind = "outbox-exporter"

	logg = logger.New(logger.Options{
		ServiceName: "outbox-exporter",
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

	exporterMetrics := metrics.NewExporterMetrics(prometheus.DefaultRegisterer)
	exporter, err := outbox.NewExporter(outbox.ExporterParams{
		DB:         dbClient,
		Repo:       outbox.NewRepository(dbClient.DB()),
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

	service, err := NewService(ServiceParams{
		Config:   cfg,
		Logger:   logg,
		Exporter: exporter,
		DB:       dbClient,
		Sink:     sinkClient,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create exporter service", err)
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

	logg.Info(ctx, "starting outbox exporter")
	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "outbox exporter stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "outbox exporter shutting down gracefully")
}
