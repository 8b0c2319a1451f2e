package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type OutboxStatus string

const (
	OutboxStatusPending   OutboxStatus = "pending"
	OutboxStatusRetry     OutboxStatus = "retry"
	OutboxStatusProcessed OutboxStatus = "processed"
	OutboxStatusFailed    OutboxStatus = "failed"
)

// Event types written to the outbox.
const (
	EventDataChanged        = "DATA_CHANGED"
	EventDocumentProcessed  = "DOCUMENT_PROCESSED"
	EventDocumentFailed     = "DOCUMENT_FAILED"
	EventSurveillanceAlerts = "SURVEILLANCE_ALERTS"
)

type OutboxEvent struct {
	ID           uuid.UUID       `db:"id" json:"id"`
	EventType    string          `db:"event_type" json:"event_type"`
	Payload      json.RawMessage `db:"payload" json:"payload"`
	Status       OutboxStatus    `db:"status" json:"status"`
	ErrorMessage *string         `db:"error_message" json:"error_message,omitempty"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
	ProcessedAt  *time.Time      `db:"processed_at" json:"processed_at,omitempty"`
	UpdatedAt    time.Time       `db:"updated_at" json:"updated_at"`
	RetryCount   int             `db:"retry_count" json:"retry_count"`
	RetryAt      *time.Time      `db:"retry_at" json:"retry_at,omitempty"`
}

// DataChangedPayload tells subscribers which views are stale.
type DataChangedPayload struct {
	Reason     string      `json:"reason"`
	DocumentID *uuid.UUID  `json:"document_id,omitempty"`
	PatientIDs []uuid.UUID `json:"patient_ids,omitempty"`
	OccurredAt time.Time   `json:"occurred_at"`
}
