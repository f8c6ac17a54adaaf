package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"gorm.io/gorm"

	"github.com/openfield/eventlog-pipeline/pkg/db/models"
	"github.com/openfield/eventlog-pipeline/pkg/enums"
	"github.com/openfield/eventlog-pipeline/pkg/logger"
)

// TypedEvent lets an event override the type name derived from its Go type.
type TypedEvent interface {
	EventType() string
}

// inserter is the slice of Repository the producer needs.
type inserter interface {
	InsertTx(tx *gorm.DB, record *models.OutboxRecord) error
}

// Producer enqueues domain events inside the caller's transaction. The
// payload is serialized exactly once here; everything downstream treats it as
// opaque bytes.
type Producer struct {
	repo            inserter
	environment     string
	metadataVersion int
	logg            *logger.Logger
}

type ProducerParams struct {
	Repo            inserter
	Environment     string
	MetadataVersion int
	Logger          *logger.Logger
}

func NewProducer(p ProducerParams) (*Producer, error) {
	if p.Repo == nil {
		return nil, errors.New("repo is required")
	}
	if p.Environment == "" {
		return nil, errors.New("environment is required")
	}
	if p.MetadataVersion <= 0 {
		p.MetadataVersion = 1
	}
	return &Producer{
		repo:            p.Repo,
		environment:     p.Environment,
		metadataVersion: p.MetadataVersion,
		logg:            p.Logger,
	}, nil
}

// Enqueue writes one outbox record in tx. A nil tx is refused: the whole
// point is that the event and the business mutation share a commit.
func (p *Producer) Enqueue(ctx context.Context, tx *gorm.DB, event any) error {
	if tx == nil {
		return errTxRequired
	}
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

	record := models.OutboxRecord{
		EventType:       eventType,
		Environment:     p.environment,
		EventContext:    json.RawMessage(payload),
		MetadataVersion: p.metadataVersion,
		Status:          enums.OutboxStatusPending,
	}
	if err := p.repo.InsertTx(tx, &record); err != nil {
		return &PersistenceError{Op: "insert " + eventType, Err: err}
	}

	if p.logg != nil {
		logCtx := p.logg.WithFields(ctx, map[string]any{
			"event_type": eventType,
			"outbox_id":  record.ID,
		})
		p.logg.Debug(logCtx, "outbox event queued")
	}
	return nil
}

// EnqueueAll writes the events in order; the first failure aborts and the
// caller's rollback discards any records already written.
func (p *Producer) EnqueueAll(ctx context.Context, tx *gorm.DB, events ...any) error {
	for _, event := range events {
		if err := p.Enqueue(ctx, tx, event); err != nil {
			return err
		}
	}
	return nil
}

func deriveEventType(event any) (string, error) {
	if typed, ok := event.(TypedEvent); ok {
		if name := typed.EventType(); name != "" {
			return name, nil
		}
	}
	t := reflect.TypeOf(event)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Name() == "" {
		return "", fmt.Errorf("cannot derive event type from anonymous %s", t.Kind())
	}
	return ToSnakeCase(t.Name()), nil
}
