package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/openfield/eventlog-pipeline/pkg/clickhouse"
	"github.com/openfield/eventlog-pipeline/pkg/db/models"
	"github.com/openfield/eventlog-pipeline/pkg/enums"
)

type fakeTxRunner struct {
	rolledBack bool
}

func (f *fakeTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if err := fn(nil); err != nil {
		f.rolledBack = true
		return err
	}
	return nil
}

type fakeStore struct {
	pending []models.OutboxRecord
	failed  []models.OutboxRecord

	claimErr error
	markErr  error

	processedIDs []int64
	failedIDs    []int64
	failedCause  error
	parkedIDs    []int64
	parkedBound  int
	parkedCount  int64
}

func (f *fakeStore) ClaimPendingTx(tx *gorm.DB, limit int) ([]models.OutboxRecord, error) {
	if f.claimErr != nil {
		return nil, f.claimErr
	}
	if limit > len(f.pending) {
		limit = len(f.pending)
	}
	return f.pending[:limit], nil
}

func (f *fakeStore) ClaimFailedTx(tx *gorm.DB, limit int, maxRetries int) ([]models.OutboxRecord, error) {
	if f.claimErr != nil {
		return nil, f.claimErr
	}
	var eligible []models.OutboxRecord
	for _, row := range f.failed {
		if row.RetryCount < maxRetries {
			eligible = append(eligible, row)
		}
	}
	if limit > len(eligible) {
		limit = len(eligible)
	}
	return eligible[:limit], nil
}

func (f *fakeStore) MarkProcessedTx(tx *gorm.DB, ids []int64) error {
	if f.markErr != nil {
		return f.markErr
	}
	f.processedIDs = append(f.processedIDs, ids...)
	return nil
}

func (f *fakeStore) MarkFailedTx(tx *gorm.DB, ids []int64, cause error) error {
	if f.markErr != nil {
		return f.markErr
	}
	f.failedIDs = append(f.failedIDs, ids...)
	f.failedCause = cause
	return nil
}

func (f *fakeStore) ParkTx(tx *gorm.DB, ids []int64, cause error, retryBound int) error {
	f.parkedIDs = append(f.parkedIDs, ids...)
	f.parkedBound = retryBound
	return nil
}

func (f *fakeStore) CountParked(ctx context.Context, maxRetries int) (int64, error) {
	return f.parkedCount, nil
}

type fakeSink struct {
	err     error
	batches [][]clickhouse.EventRow
}

func (f *fakeSink) Insert(ctx context.Context, rows []clickhouse.EventRow) error {
	if f.err != nil {
		return f.err
	}
	f.batches = append(f.batches, rows)
	return nil
}

func record(id int64, payload string) models.OutboxRecord {
	return models.OutboxRecord{
		ID:              id,
		EventType:       "user_created",
		Environment:     "prod",
		EventContext:    json.RawMessage(payload),
		MetadataVersion: 1,
		Status:          enums.OutboxStatusPending,
		CreatedAt:       time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC),
	}
}

func newTestExporter(t *testing.T, store *fakeStore, sink *fakeSink) (*Exporter, *fakeTxRunner) {
	t.Helper()
	runner := &fakeTxRunner{}
	exp, err := NewExporter(ExporterParams{
		DB:         runner,
		Repo:       store,
		Sink:       sink,
		BatchSize:  10,
		MaxRetries: 3,
	})
	if err != nil {
		t.Fatalf("NewExporter: %v", err)
	}
	return exp, runner
}

func TestRunOnceDeliversBatch(t *testing.T) {
	store := &fakeStore{pending: []models.OutboxRecord{
		record(1, `{"email":"a@example.com"}`),
		record(2, `{"email":"b@example.com"}`),
	}}
	sink := &fakeSink{}
	exp, _ := newTestExporter(t, store, sink)

	result, err := exp.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if result.Delivered != 2 || result.Failed != 0 {
		t.Fatalf("result = %+v, want 2 delivered", result)
	}
	if len(sink.batches) != 1 || len(sink.batches[0]) != 2 {
		t.Fatalf("expected one sink batch of 2 rows, got %v", sink.batches)
	}
	if got := sink.batches[0][0]; got.EventType != "user_created" || got.EventContext != `{"email":"a@example.com"}` {
		t.Fatalf("unexpected sink row: %+v", got)
	}
	if len(store.processedIDs) != 2 {
		t.Fatalf("processed ids = %v, want [1 2]", store.processedIDs)
	}
}

func TestRunOnceEmptyBatchIsNoop(t *testing.T) {
	store := &fakeStore{}
	sink := &fakeSink{}
	exp, _ := newTestExporter(t, store, sink)

	result, err := exp.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if result.Delivered != 0 || result.Failed != 0 {
		t.Fatalf("result = %+v, want zero", result)
	}
	if len(sink.batches) != 0 {
		t.Fatal("sink should not be called for an empty batch")
	}
}

func TestRunOnceSinkFailureMarksRowsFailed(t *testing.T) {
	store := &fakeStore{pending: []models.OutboxRecord{
		record(1, `{}`),
		record(2, `{}`),
	}}
	sink := &fakeSink{err: errors.New("connection refused")}
	exp, runner := newTestExporter(t, store, sink)

	result, err := exp.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("sink failures must be absorbed, got %v", err)
	}
	if result.Delivered != 0 || result.Failed != 2 {
		t.Fatalf("result = %+v, want 2 failed", result)
	}
	if len(store.failedIDs) != 2 {
		t.Fatalf("failed ids = %v, want [1 2]", store.failedIDs)
	}
	var sinkErr *SinkError
	if !errors.As(store.failedCause, &sinkErr) {
		t.Fatalf("recorded cause %v is not a SinkError", store.failedCause)
	}
	if runner.rolledBack {
		t.Fatal("failed marks must commit, not roll back")
	}
	if len(store.processedIDs) != 0 {
		t.Fatalf("no row may be processed, got %v", store.processedIDs)
	}
}

func TestRunOncePersistenceFailureRollsBack(t *testing.T) {
	store := &fakeStore{
		pending: []models.OutboxRecord{record(1, `{}`)},
		markErr: errors.New("deadlock detected"),
	}
	sink := &fakeSink{}
	exp, runner := newTestExporter(t, store, sink)

	_, err := exp.RunOnce(context.Background())
	var perr *PersistenceError
	if !errors.As(err, &perr) {
		t.Fatalf("expected PersistenceError, got %v", err)
	}
	if !runner.rolledBack {
		t.Fatal("persistence failure must roll the batch back")
	}
}

func TestRunOnceParksUnconvertibleRows(t *testing.T) {
	bad := record(7, `{not json`)
	good := record(8, `{"ok":true}`)
	store := &fakeStore{pending: []models.OutboxRecord{bad, good}}
	sink := &fakeSink{}
	exp, _ := newTestExporter(t, store, sink)

	result, err := exp.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if result.Delivered != 1 || result.Failed != 1 {
		t.Fatalf("result = %+v, want 1 delivered / 1 failed", result)
	}
	if len(store.parkedIDs) != 1 || store.parkedIDs[0] != 7 {
		t.Fatalf("parked ids = %v, want [7]", store.parkedIDs)
	}
	if store.parkedBound != 3 {
		t.Fatalf("parked bound = %d, want the retry bound 3", store.parkedBound)
	}
	if len(store.processedIDs) != 1 || store.processedIDs[0] != 8 {
		t.Fatalf("processed ids = %v, want [8]", store.processedIDs)
	}
}

func TestRetryFailedSkipsExhaustedRows(t *testing.T) {
	exhausted := record(1, `{}`)
	exhausted.Status = enums.OutboxStatusFailed
	exhausted.RetryCount = 3
	retryable := record(2, `{}`)
	retryable.Status = enums.OutboxStatusFailed
	retryable.RetryCount = 1

	store := &fakeStore{failed: []models.OutboxRecord{exhausted, retryable}}
	sink := &fakeSink{}
	exp, _ := newTestExporter(t, store, sink)

	result, err := exp.RetryFailed(context.Background())
	if err != nil {
		t.Fatalf("RetryFailed: %v", err)
	}
	if result.Delivered != 1 {
		t.Fatalf("result = %+v, want 1 delivered", result)
	}
	if len(store.processedIDs) != 1 || store.processedIDs[0] != 2 {
		t.Fatalf("processed ids = %v, want [2]", store.processedIDs)
	}
}
