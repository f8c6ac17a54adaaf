package outbox

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/openfield/eventlog-pipeline/pkg/db/models"
)

func TestToEventRowPreservesPayloadBytes(t *testing.T) {
	// Key order and whitespace must survive: the payload is opaque after
	// enqueue.
	payload := `{"b": 1, "a": 2}`
	rec := models.OutboxRecord{
		ID:              1,
		EventType:       "order_shipped",
		Environment:     "prod",
		EventContext:    json.RawMessage(payload),
		MetadataVersion: 3,
		CreatedAt:       time.Date(2026, 1, 15, 12, 30, 0, 0, time.FixedZone("CET", 3600)),
	}

	row, err := ToEventRow(rec)
	if err != nil {
		t.Fatalf("ToEventRow: %v", err)
	}
	if row.EventContext != payload {
		t.Errorf("payload altered: %q", row.EventContext)
	}
	if row.EventDateTime != rec.CreatedAt.UTC() {
		t.Errorf("event time = %v, want UTC of created_at", row.EventDateTime)
	}
	if row.MetadataVersion != 3 {
		t.Errorf("metadata version = %d, want 3", row.MetadataVersion)
	}
}

func TestToEventRowRejectsBadRecords(t *testing.T) {
	cases := []struct {
		name string
		rec  models.OutboxRecord
	}{
		{"missing event type", models.OutboxRecord{ID: 1, EventContext: json.RawMessage(`{}`)}},
		{"empty payload", models.OutboxRecord{ID: 2, EventType: "user_created"}},
		{"invalid json", models.OutboxRecord{ID: 3, EventType: "user_created", EventContext: json.RawMessage(`{oops`)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ToEventRow(tc.rec)
			var convErr *ConversionError
			if !errors.As(err, &convErr) {
				t.Fatalf("expected ConversionError, got %v", err)
			}
			if convErr.RecordID != tc.rec.ID {
				t.Errorf("record id = %d, want %d", convErr.RecordID, tc.rec.ID)
			}
		})
	}
}
