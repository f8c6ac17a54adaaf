package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/openfield/eventlog-pipeline/pkg/clickhouse"
	"github.com/openfield/eventlog-pipeline/pkg/logger"
	"github.com/openfield/eventlog-pipeline/pkg/metrics"
)

const pathBuffer = "buffer"

// queue is the slice of the redis client the buffer needs.
type queue interface {
	LPush(ctx context.Context, key string, values ...any) error
	RPush(ctx context.Context, key string, values ...any) error
	RPopCount(ctx context.Context, key string, count int) ([]string, error)
	LLen(ctx context.Context, key string) (int64, error)
}

// bufferedEvent is the JSON envelope stored on the redis list. It carries the
// full sink tuple so a flush needs no Postgres round trip.
type bufferedEvent struct {
	EventType       string          `json:"event_type"`
	EventDateTime   time.Time       `json:"event_date_time"`
	Environment     string          `json:"environment"`
	EventContext    json.RawMessage `json:"event_context"`
	MetadataVersion int64           `json:"metadata_version"`
}

// Buffer is the low-latency alternative to the durable outbox: events are
// staged on a redis list and flushed to the sink in batches. Delivery is
// best-effort relative to the outbox path; a failed flush moves the raw
// envelopes to a failed list instead of losing them.
type Buffer struct {
	redis           queue
	sink            sink
	queueKey        string
	failedKey       string
	batchSize       int
	batchTimeout    time.Duration
	environment     string
	metadataVersion int
	logg            *logger.Logger
	metrics         *metrics.ExporterMetrics

	mu        sync.Mutex
	lastFlush time.Time
	now       func() time.Time
}

type BufferParams struct {
	Redis           queue
	Sink            sink
	QueueKey        string
	FailedKey       string
	BatchSize       int
	BatchTimeout    time.Duration
	Environment     string
	MetadataVersion int
	Logger          *logger.Logger
	Metrics         *metrics.ExporterMetrics
}

func NewBuffer(p BufferParams) (*Buffer, error) {
	if p.Redis == nil {
		return nil, errors.New("redis is required")
	}
	if p.Sink == nil {
		return nil, errors.New("sink is required")
	}
	if p.QueueKey == "" || p.FailedKey == "" {
		return nil, errors.New("queue and failed keys are required")
	}
	if p.Environment == "" {
		return nil, errors.New("environment is required")
	}
	if p.BatchSize <= 0 {
		p.BatchSize = 100
	}
	if p.BatchTimeout <= 0 {
		p.BatchTimeout = 5 * time.Second
	}
	if p.MetadataVersion <= 0 {
		p.MetadataVersion = 1
	}
	return &Buffer{
		redis:           p.Redis,
		sink:            p.Sink,
		queueKey:        p.QueueKey,
		failedKey:       p.FailedKey,
		batchSize:       p.BatchSize,
		batchTimeout:    p.BatchTimeout,
		environment:     p.Environment,
		metadataVersion: p.MetadataVersion,
		logg:            p.Logger,
		metrics:         p.Metrics,
		now:             time.Now,
	}, nil
}

// Publish stages one event and flushes if either trigger fires: the queue
// reached the batch size, or the batch timeout elapsed since the last flush.
func (b *Buffer) Publish(ctx context.Context, event any) error {
	if event == nil {
		return errors.New("event is required")
	}
	eventType, err := deriveEventType(event)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	envelope, err := json.Marshal(bufferedEvent{
		EventType:       eventType,
		EventDateTime:   b.now().UTC(),
		Environment:     b.environment,
		EventContext:    payload,
		MetadataVersion: int64(b.metadataVersion),
	})
	if err != nil {
		return fmt.Errorf("marshal %s envelope: %w", eventType, err)
	}
	if err := b.redis.LPush(ctx, b.queueKey, string(envelope)); err != nil {
		return fmt.Errorf("stage %s: %w", eventType, err)
	}

	_, err = b.MaybeFlush(ctx)
	return err
}

// MaybeFlush flushes one batch when a trigger condition holds, otherwise does
// nothing. Safe to call from a ticker as well as from Publish.
func (b *Buffer) MaybeFlush(ctx context.Context) (ExportResult, error) {
	length, err := b.redis.LLen(ctx, b.queueKey)
	if err != nil {
		return ExportResult{}, fmt.Errorf("queue length: %w", err)
	}
	if length == 0 {
		return ExportResult{}, nil
	}

	b.mu.Lock()
	due := length >= int64(b.batchSize) || b.now().Sub(b.lastFlush) > b.batchTimeout
	b.mu.Unlock()
	if !due {
		return ExportResult{}, nil
	}
	return b.Flush(ctx)
}

// Flush drains up to one batch from the queue into the sink. On sink failure
// the raw envelopes move to the failed list and the error is absorbed into
// the result, mirroring how the durable exporter treats sink failures.
func (b *Buffer) Flush(ctx context.Context) (ExportResult, error) {
	start := time.Now()
	b.mu.Lock()
	b.lastFlush = b.now()
	b.mu.Unlock()

	raw, err := b.redis.RPopCount(ctx, b.queueKey, b.batchSize)
	if err != nil {
		return ExportResult{}, fmt.Errorf("pop batch: %w", err)
	}
	if len(raw) == 0 {
		return ExportResult{}, nil
	}

	var result ExportResult
	rows := make([]clickhouse.EventRow, 0, len(raw))
	deliverable := make([]string, 0, len(raw))
	for _, entry := range raw {
		var event bufferedEvent
		if err := json.Unmarshal([]byte(entry), &event); err != nil || event.EventType == "" {
			// Malformed entries park on the failed list; retrying cannot
			// decode them either.
			if pushErr := b.redis.RPush(ctx, b.failedKey, entry); pushErr != nil {
				return result, fmt.Errorf("park malformed entry: %w", pushErr)
			}
			result.Failed++
			continue
		}
		rows = append(rows, clickhouse.EventRow{
			EventType:       event.EventType,
			EventDateTime:   event.EventDateTime,
			Environment:     event.Environment,
			EventContext:    string(event.EventContext),
			MetadataVersion: event.MetadataVersion,
		})
		deliverable = append(deliverable, entry)
	}
	if len(rows) == 0 {
		b.observe(result, time.Since(start))
		return result, nil
	}

	if sinkErr := b.sink.Insert(ctx, rows); sinkErr != nil {
		values := make([]any, len(deliverable))
		for i, entry := range deliverable {
			values[i] = entry
		}
		if pushErr := b.redis.RPush(ctx, b.failedKey, values...); pushErr != nil {
			return result, fmt.Errorf("move batch to failed list: %w", pushErr)
		}
		result.Failed += len(deliverable)
		if b.logg != nil {
			b.logg.Error(ctx, "buffered flush failed, batch moved to failed list", &SinkError{Err: sinkErr})
		}
		b.observe(result, time.Since(start))
		return result, nil
	}

	result.Delivered = len(rows)
	b.observe(result, time.Since(start))
	return result, nil
}

// ReprocessFailed replays one batch from the failed list back through the
// main queue so the next flush retries it.
func (b *Buffer) ReprocessFailed(ctx context.Context) (int, error) {
	raw, err := b.redis.RPopCount(ctx, b.failedKey, b.batchSize)
	if err != nil {
		return 0, fmt.Errorf("pop failed batch: %w", err)
	}
	if len(raw) == 0 {
		return 0, nil
	}
	values := make([]any, len(raw))
	for i, entry := range raw {
		values[i] = entry
	}
	if err := b.redis.LPush(ctx, b.queueKey, values...); err != nil {
		return 0, fmt.Errorf("requeue failed batch: %w", err)
	}
	return len(raw), nil
}

func (b *Buffer) observe(result ExportResult, elapsed time.Duration) {
	if b.metrics == nil {
		return
	}
	if result.Delivered > 0 || result.Failed > 0 {
		b.metrics.ObserveBatch(pathBuffer, result.Delivered, result.Failed, elapsed)
	}
}
