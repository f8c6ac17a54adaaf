package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/openfield/eventlog-pipeline/pkg/config"
	"github.com/openfield/eventlog-pipeline/pkg/logger"
	"github.com/openfield/eventlog-pipeline/pkg/outbox"
)

type scriptedExporter struct {
	results []outbox.ExportResult
	errs    []error
	calls   int
	onCall  func(calls int)
}

func (s *scriptedExporter) RunOnce(ctx context.Context) (outbox.ExportResult, error) {
	s.calls++
	if s.onCall != nil {
		s.onCall(s.calls)
	}
	idx := s.calls - 1
	var err error
	if idx < len(s.errs) {
		err = s.errs[idx]
	}
	var result outbox.ExportResult
	if idx < len(s.results) {
		result = s.results[idx]
	}
	return result, err
}

func newTestService(t *testing.T, exporter *scriptedExporter, interval time.Duration) *Service {
	t.Helper()
	cfg := &config.Config{}
	cfg.Outbox.PollInterval = interval
	svc, err := NewService(ServiceParams{
		Config:   cfg,
		Logger:   logger.New(logger.Options{ServiceName: "exporter-test"}),
		Exporter: exporter,
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func TestRunDrainsFullBatchesWithoutSleeping(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	exporter := &scriptedExporter{
		results: []outbox.ExportResult{
			{Delivered: 100},
			{Delivered: 100},
			{Delivered: 7},
		},
	}
	// Cancel once the drain reaches the empty batch; a 1h interval would
	// otherwise hang the test, which proves no sleep happened mid-drain.
	exporter.onCall = func(calls int) {
		if calls == 4 {
			cancel()
		}
	}
	svc := newTestService(t, exporter, time.Hour)

	err := svc.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run returned %v, want context.Canceled", err)
	}
	if exporter.calls != 4 {
		t.Fatalf("exporter called %d times, want 4", exporter.calls)
	}
}

func TestRunSleepsWhenOutboxEmpty(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	exporter := &scriptedExporter{}
	exporter.onCall = func(calls int) {
		if calls == 2 {
			cancel()
		}
	}
	svc := newTestService(t, exporter, time.Millisecond)

	err := svc.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run returned %v, want context.Canceled", err)
	}
}

func TestRunBacksOffOnError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	exporter := &scriptedExporter{
		errs: []error{errors.New("deadlock"), nil},
	}
	exporter.onCall = func(calls int) {
		if calls == 2 {
			cancel()
		}
	}
	svc := newTestService(t, exporter, time.Millisecond)

	err := svc.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run returned %v, want context.Canceled", err)
	}
	if exporter.calls < 2 {
		t.Fatalf("exporter called %d times, want the loop to survive the error", exporter.calls)
	}
}

func TestNextBackoffDoublesAndCaps(t *testing.T) {
	base := time.Second
	b := nextBackoff(base, base, maxBackoff)
	if b != 2*time.Second {
		t.Fatalf("first backoff = %v, want 2s", b)
	}
	for i := 0; i < 10; i++ {
		b = nextBackoff(b, base, maxBackoff)
	}
	if b != maxBackoff {
		t.Fatalf("backoff = %v, want cap %v", b, maxBackoff)
	}
}

func TestWithJitterBounds(t *testing.T) {
	base := time.Second
	for i := 0; i < 100; i++ {
		d := withJitter(base)
		if d < base || d >= base+jitterWindow {
			t.Fatalf("jittered duration %v outside [%v, %v)", d, base, base+jitterWindow)
		}
	}
	if withJitter(0) != 0 {
		t.Fatal("zero duration must stay zero")
	}
}
