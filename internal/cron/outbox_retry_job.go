package cron

import (
	"context"
	"fmt"

	"github.com/openfield/eventlog-pipeline/pkg/logger"
	"github.com/openfield/eventlog-pipeline/pkg/outbox"
)

const defaultMaxRetryBatches = 100

type retryExporter interface {
	RetryFailed(ctx context.Context) (outbox.ExportResult, error)
}

type OutboxRetryJobParams struct {
	Logger     *logger.Logger
	Exporter   retryExporter
	MaxBatches int
}

// NewOutboxRetryJob builds the job that re-drives failed outbox rows still
// inside their retry budget. It drains batch by batch until the claim comes
// back empty, bounded so a poisoned backlog cannot hold a cron cycle forever.
func NewOutboxRetryJob(params OutboxRetryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Exporter == nil {
		return nil, fmt.Errorf("exporter required")
	}
	maxBatches := params.MaxBatches
	if maxBatches <= 0 {
		maxBatches = defaultMaxRetryBatches
	}
	return &outboxRetryJob{
		logg:       params.Logger,
		exporter:   params.Exporter,
		maxBatches: maxBatches,
	}, nil
}

type outboxRetryJob struct {
	logg       *logger.Logger
	exporter   retryExporter
	maxBatches int
}

func (j *outboxRetryJob) Name() string { return "outbox-retry" }

func (j *outboxRetryJob) Run(ctx context.Context) error {
	var total outbox.ExportResult
	for i := 0; i < j.maxBatches; i++ {
		result, err := j.exporter.RetryFailed(ctx)
		if err != nil {
			return fmt.Errorf("outbox retry: %w", err)
		}
		total.Delivered += result.Delivered
		total.Failed += result.Failed
		if result.Delivered == 0 && result.Failed == 0 {
			break
		}
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"delivered": total.Delivered,
		"failed":    total.Failed,
	})
	j.logg.Info(logCtx, "outbox retry pass complete")
	return nil
}
