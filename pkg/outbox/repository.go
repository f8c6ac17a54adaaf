package outbox

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/openfield/eventlog-pipeline/pkg/db/models"
	"github.com/openfield/eventlog-pipeline/pkg/enums"
)

var errTxRequired = errors.New("transaction required")

// Repository owns all access to the outbox_records table. Claiming methods
// take a transaction so the row locks live exactly as long as one export
// batch.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// InsertTx appends a record inside the caller's transaction so the event
// commits or rolls back together with the business mutation.
func (r *Repository) InsertTx(tx *gorm.DB, record *models.OutboxRecord) error {
	if tx == nil {
		return errTxRequired
	}
	return tx.Create(record).Error
}

// ClaimPendingTx locks up to limit pending rows in enqueue order. Rows locked
// by a concurrent exporter are skipped rather than waited on, so exporters
// never hand each other the same batch.
func (r *Repository) ClaimPendingTx(tx *gorm.DB, limit int) ([]models.OutboxRecord, error) {
	if tx == nil {
		return nil, errTxRequired
	}
	var rows []models.OutboxRecord
	err := tx.
		Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
		Where("status = ?", enums.OutboxStatusPending).
		Order("created_at ASC").
		Order("id ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// ClaimFailedTx locks up to limit failed rows that still have retry budget.
// Rows at or past maxRetries stay put until an operator intervenes.
func (r *Repository) ClaimFailedTx(tx *gorm.DB, limit int, maxRetries int) ([]models.OutboxRecord, error) {
	if tx == nil {
		return nil, errTxRequired
	}
	var rows []models.OutboxRecord
	err := tx.
		Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
		Where("status = ? AND retry_count < ?", enums.OutboxStatusFailed, maxRetries).
		Order("created_at ASC").
		Order("id ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// MarkProcessedTx transitions the rows to processed, stamping processed_at
// and clearing any error left over from earlier attempts.
func (r *Repository) MarkProcessedTx(tx *gorm.DB, ids []int64) error {
	if tx == nil {
		return errTxRequired
	}
	if len(ids) == 0 {
		return nil
	}
	return tx.Model(&models.OutboxRecord{}).
		Where("id IN ?", ids).
		Updates(map[string]any{
			"status":        enums.OutboxStatusProcessed,
			"processed_at":  time.Now().UTC(),
			"error_message": nil,
		}).Error
}

// MarkFailedTx transitions the rows to failed with one more attempt on the
// counter and the cause recorded for operators.
func (r *Repository) MarkFailedTx(tx *gorm.DB, ids []int64, cause error) error {
	if tx == nil {
		return errTxRequired
	}
	if len(ids) == 0 {
		return nil
	}
	return tx.Model(&models.OutboxRecord{}).
		Where("id IN ?", ids).
		Updates(map[string]any{
			"status":        enums.OutboxStatusFailed,
			"retry_count":   gorm.Expr("retry_count + 1"),
			"error_message": causeMessage(cause),
		}).Error
}

// ParkTx fails the rows with retry_count pinned to the retry bound so the
// automatic retry path never picks them up again. Used for payloads that can
// never convert.
func (r *Repository) ParkTx(tx *gorm.DB, ids []int64, cause error, retryBound int) error {
	if tx == nil {
		return errTxRequired
	}
	if len(ids) == 0 {
		return nil
	}
	return tx.Model(&models.OutboxRecord{}).
		Where("id IN ?", ids).
		Updates(map[string]any{
			"status":        enums.OutboxStatusFailed,
			"retry_count":   retryBound,
			"error_message": causeMessage(cause),
		}).Error
}

// ResetFailed returns failed rows to pending and zeroes their retry budget.
// Operator-facing escape hatch for parked rows once the underlying cause is
// fixed.
func (r *Repository) ResetFailed(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).Model(&models.OutboxRecord{}).
		Where("id IN ? AND status = ?", ids, enums.OutboxStatusFailed).
		Updates(map[string]any{
			"status":        enums.OutboxStatusPending,
			"retry_count":   0,
			"error_message": nil,
		})
	return res.RowsAffected, res.Error
}

// DeleteProcessedBefore purges processed rows older than the cutoff. Pending
// and failed rows are never touched by retention.
func (r *Repository) DeleteProcessedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("status = ? AND processed_at < ?", enums.OutboxStatusProcessed, cutoff).
		Delete(&models.OutboxRecord{})
	return res.RowsAffected, res.Error
}

// CountParked reports how many failed rows have exhausted their retry budget.
func (r *Repository) CountParked(ctx context.Context, maxRetries int) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.OutboxRecord{}).
		Where("status = ? AND retry_count >= ?", enums.OutboxStatusFailed, maxRetries).
		Count(&count).Error
	return count, err
}

func causeMessage(cause error) *string {
	if cause == nil {
		return nil
	}
	msg := cause.Error()
	if len(msg) > 2048 {
		msg = msg[:2048]
	}
	return &msg
}
