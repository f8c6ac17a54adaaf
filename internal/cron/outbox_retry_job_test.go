package cron

import (
	"context"
	"errors"
	"testing"

	"github.com/openfield/eventlog-pipeline/pkg/logger"
	"github.com/openfield/eventlog-pipeline/pkg/outbox"
)

type fakeRetryExporter struct {
	results []outbox.ExportResult
	calls   int
	err     error
}

func (f *fakeRetryExporter) RetryFailed(ctx context.Context) (outbox.ExportResult, error) {
	f.calls++
	if f.err != nil {
		return outbox.ExportResult{}, f.err
	}
	if len(f.results) == 0 {
		return outbox.ExportResult{}, nil
	}
	result := f.results[0]
	f.results = f.results[1:]
	return result, nil
}

func newRetryJob(t *testing.T, exporter *fakeRetryExporter, maxBatches int) Job {
	t.Helper()
	job, err := NewOutboxRetryJob(OutboxRetryJobParams{
		Logger:     logger.New(logger.Options{ServiceName: "test"}),
		Exporter:   exporter,
		MaxBatches: maxBatches,
	})
	if err != nil {
		t.Fatalf("NewOutboxRetryJob: %v", err)
	}
	return job
}

func TestOutboxRetryJobDrainsUntilEmpty(t *testing.T) {
	exporter := &fakeRetryExporter{results: []outbox.ExportResult{
		{Delivered: 10},
		{Delivered: 3, Failed: 1},
	}}
	job := newRetryJob(t, exporter, 10)

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	// Two productive batches plus the empty one that stops the loop.
	if exporter.calls != 3 {
		t.Fatalf("exporter called %d times, want 3", exporter.calls)
	}
}

func TestOutboxRetryJobHonorsBatchCap(t *testing.T) {
	exporter := &fakeRetryExporter{results: []outbox.ExportResult{
		{Failed: 1}, {Failed: 1}, {Failed: 1}, {Failed: 1},
	}}
	job := newRetryJob(t, exporter, 2)

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if exporter.calls != 2 {
		t.Fatalf("exporter called %d times, want cap of 2", exporter.calls)
	}
}

func TestOutboxRetryJobPropagatesError(t *testing.T) {
	exporter := &fakeRetryExporter{err: errors.New("claim failed")}
	job := newRetryJob(t, exporter, 10)

	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}
