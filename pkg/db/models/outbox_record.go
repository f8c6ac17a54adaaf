package models

import (
	"encoding/json"
	"time"

	"github.com/openfield/eventlog-pipeline/pkg/enums"
)

// OutboxRecord is the unit of durable intent: one row per domain event,
// written in the same transaction as the business mutation that produced it.
type OutboxRecord struct {
	ID              int64              `gorm:"column:id;primaryKey;autoIncrement"`
	EventType       string             `gorm:"column:event_type;not null"`
	Environment     string             `gorm:"column:environment;not null"`
	EventContext    json.RawMessage    `gorm:"column:event_context;type:jsonb;not null"`
	MetadataVersion int                `gorm:"column:metadata_version;not null;default:1"`
	Status          enums.OutboxStatus `gorm:"column:status;type:outbox_status_enum;not null;default:pending"`
	RetryCount      int                `gorm:"column:retry_count;not null;default:0"`
	ErrorMessage    *string            `gorm:"column:error_message"`
	CreatedAt       time.Time          `gorm:"column:created_at;autoCreateTime"`
	ProcessedAt     *time.Time         `gorm:"column:processed_at"`
}

// TableName overrides the default gorm pluralization.
func (OutboxRecord) TableName() string { return "outbox_records" }
