package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/openfield/eventlog-pipeline/pkg/logger"
)

type fakeRetentionRepo struct {
	lastCutoff time.Time
	called     int
	deleted    int64
	err        error
}

func (f *fakeRetentionRepo) DeleteProcessedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	f.called++
	f.lastCutoff = cutoff
	if f.err != nil {
		return 0, f.err
	}
	return f.deleted, nil
}

func newRetentionJob(t *testing.T, repo *fakeRetentionRepo, retention time.Duration) *outboxRetentionJob {
	t.Helper()
	jobIface, err := NewOutboxRetentionJob(OutboxRetentionJobParams{
		Logger:     logger.New(logger.Options{ServiceName: "test"}),
		Repository: repo,
		Retention:  retention,
	})
	if err != nil {
		t.Fatalf("NewOutboxRetentionJob: %v", err)
	}
	job, ok := jobIface.(*outboxRetentionJob)
	if !ok {
		t.Fatalf("expected outboxRetentionJob, got %T", jobIface)
	}
	return job
}

func TestOutboxRetentionJobUsesRetentionCutoff(t *testing.T) {
	now := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
	repo := &fakeRetentionRepo{deleted: 42}
	job := newRetentionJob(t, repo, 720*time.Hour)
	job.now = func() time.Time { return now }

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := now.Add(-720 * time.Hour)
	if !repo.lastCutoff.Equal(want) {
		t.Fatalf("cutoff = %s, want %s", repo.lastCutoff, want)
	}
	if repo.called != 1 {
		t.Fatalf("repo called %d times, want 1", repo.called)
	}
}

func TestOutboxRetentionJobDefaultsRetention(t *testing.T) {
	now := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
	repo := &fakeRetentionRepo{}
	job := newRetentionJob(t, repo, 0)
	job.now = func() time.Time { return now }

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := now.Add(-defaultRetention)
	if !repo.lastCutoff.Equal(want) {
		t.Fatalf("cutoff = %s, want default retention cutoff %s", repo.lastCutoff, want)
	}
}

func TestOutboxRetentionJobPropagatesError(t *testing.T) {
	repo := &fakeRetentionRepo{err: errors.New("relation does not exist")}
	job := newRetentionJob(t, repo, time.Hour)

	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}
