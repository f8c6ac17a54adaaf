package outbox

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/openfield/eventlog-pipeline/pkg/clickhouse"
	"github.com/openfield/eventlog-pipeline/pkg/db/models"
	"github.com/openfield/eventlog-pipeline/pkg/logger"
	"github.com/openfield/eventlog-pipeline/pkg/metrics"
)

const (
	pathPending = "pending"
	pathRetry   = "retry"
)

// ExportResult summarizes one export batch.
type ExportResult struct {
	Delivered int
	Failed    int
}

// store is the slice of Repository the exporter needs; narrowed so tests can
// substitute a fake.
type store interface {
	ClaimPendingTx(tx *gorm.DB, limit int) ([]models.OutboxRecord, error)
	ClaimFailedTx(tx *gorm.DB, limit int, maxRetries int) ([]models.OutboxRecord, error)
	MarkProcessedTx(tx *gorm.DB, ids []int64) error
	MarkFailedTx(tx *gorm.DB, ids []int64, cause error) error
	ParkTx(tx *gorm.DB, ids []int64, cause error, retryBound int) error
	CountParked(ctx context.Context, maxRetries int) (int64, error)
}

type sink interface {
	Insert(ctx context.Context, rows []clickhouse.EventRow) error
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Exporter drains the outbox into the analytical sink. Each batch runs inside
// one transaction: claimed rows stay locked until their status transition
// commits, and a crash mid-batch releases them untouched.
type Exporter struct {
	db         txRunner
	repo       store
	sink       sink
	batchSize  int
	maxRetries int
	logg       *logger.Logger
	metrics    *metrics.ExporterMetrics
}

type ExporterParams struct {
	DB         txRunner
	Repo       store
	Sink       sink
	BatchSize  int
	MaxRetries int
	Logger     *logger.Logger
	Metrics    *metrics.ExporterMetrics
}

func NewExporter(p ExporterParams) (*Exporter, error) {
	if p.DB == nil {
		return nil, errors.New("db is required")
	}
	if p.Repo == nil {
		return nil, errors.New("repo is required")
	}
	if p.Sink == nil {
		return nil, errors.New("sink is required")
	}
	if p.BatchSize <= 0 {
		p.BatchSize = 100
	}
	if p.MaxRetries <= 0 {
		p.MaxRetries = 5
	}
	return &Exporter{
		db:         p.DB,
		repo:       p.Repo,
		sink:       p.Sink,
		batchSize:  p.BatchSize,
		maxRetries: p.MaxRetries,
		logg:       p.Logger,
		metrics:    p.Metrics,
	}, nil
}

// RunOnce exports one batch of pending rows. Sink failures are absorbed: the
// rows are marked failed inside the same transaction and the error shows up
// only in the result counts. Persistence failures roll the batch back and
// propagate, leaving every claimed row pending for the next poll.
func (e *Exporter) RunOnce(ctx context.Context) (ExportResult, error) {
	return e.export(ctx, pathPending, func(tx *gorm.DB) ([]models.OutboxRecord, error) {
		return e.repo.ClaimPendingTx(tx, e.batchSize)
	})
}

// RetryFailed exports one batch of failed rows that still have retry budget.
// A row that fails again gets another increment on its counter; once it hits
// the bound it is left for an operator.
func (e *Exporter) RetryFailed(ctx context.Context) (ExportResult, error) {
	return e.export(ctx, pathRetry, func(tx *gorm.DB) ([]models.OutboxRecord, error) {
		return e.repo.ClaimFailedTx(tx, e.batchSize, e.maxRetries)
	})
}

func (e *Exporter) export(ctx context.Context, path string, claim func(tx *gorm.DB) ([]models.OutboxRecord, error)) (ExportResult, error) {
	var result ExportResult
	start := time.Now()

	err := e.db.WithTx(ctx, func(tx *gorm.DB) error {
		rows, err := claim(tx)
		if err != nil {
			return &PersistenceError{Op: "claim " + path, Err: err}
		}
		if len(rows) == 0 {
			return nil
		}

		eventRows := make([]clickhouse.EventRow, 0, len(rows))
		deliverIDs := make([]int64, 0, len(rows))
		var parkIDs []int64
		var parkCause error
		for _, row := range rows {
			eventRow, convErr := ToEventRow(row)
			if convErr != nil {
				if e.logg != nil {
					e.logg.Error(ctx, "unconvertible outbox record parked", convErr)
				}
				parkIDs = append(parkIDs, row.ID)
				parkCause = convErr
				continue
			}
			eventRows = append(eventRows, eventRow)
			deliverIDs = append(deliverIDs, row.ID)
		}

		if len(parkIDs) > 0 {
			if err := e.repo.ParkTx(tx, parkIDs, parkCause, e.maxRetries); err != nil {
				return &PersistenceError{Op: "park records", Err: err}
			}
			result.Failed += len(parkIDs)
		}
		if len(eventRows) == 0 {
			return nil
		}

		if sinkErr := e.sink.Insert(ctx, eventRows); sinkErr != nil {
			wrapped := &SinkError{Err: sinkErr}
			if err := e.repo.MarkFailedTx(tx, deliverIDs, wrapped); err != nil {
				return &PersistenceError{Op: "mark failed", Err: err}
			}
			result.Failed += len(deliverIDs)
			if e.logg != nil {
				e.logg.Error(ctx, "sink delivery failed, batch marked for retry", wrapped)
			}
			return nil
		}

		if err := e.repo.MarkProcessedTx(tx, deliverIDs); err != nil {
			return &PersistenceError{Op: "mark processed", Err: err}
		}
		result.Delivered = len(deliverIDs)
		return nil
	})
	if err != nil {
		return ExportResult{}, err
	}

	e.observe(ctx, path, result, time.Since(start))
	return result, nil
}

func (e *Exporter) observe(ctx context.Context, path string, result ExportResult, elapsed time.Duration) {
	if e.metrics == nil {
		return
	}
	if result.Delivered > 0 || result.Failed > 0 {
		e.metrics.ObserveBatch(path, result.Delivered, result.Failed, elapsed)
	}
	// Best effort: the gauge is advisory and must not fail a batch.
	if parked, err := e.repo.CountParked(ctx, e.maxRetries); err == nil {
		e.metrics.SetParked(parked)
	}
}
