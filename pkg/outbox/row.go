package outbox

import (
	"encoding/json"
	"errors"

	"github.com/openfield/eventlog-pipeline/pkg/clickhouse"
	"github.com/openfield/eventlog-pipeline/pkg/db/models"
)

var (
	errEmptyEventType = errors.New("empty event type")
	errInvalidContext = errors.New("event context is not valid JSON")
)

// ToEventRow converts a claimed record into the sink tuple. The stored
// payload is treated as opaque: it is validated as JSON but never re-encoded,
// so the bytes written at enqueue time are the bytes the sink receives.
func ToEventRow(record models.OutboxRecord) (clickhouse.EventRow, error) {
	if record.EventType == "" {
		return clickhouse.EventRow{}, &ConversionError{RecordID: record.ID, Err: errEmptyEventType}
	}
	if len(record.EventContext) == 0 || !json.Valid(record.EventContext) {
		return clickhouse.EventRow{}, &ConversionError{RecordID: record.ID, Err: errInvalidContext}
	}
	return clickhouse.EventRow{
		EventType:       record.EventType,
		EventDateTime:   record.CreatedAt.UTC(),
		Environment:     record.Environment,
		EventContext:    string(record.EventContext),
		MetadataVersion: int64(record.MetadataVersion),
	}, nil
}
