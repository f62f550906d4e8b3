package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType is a normalized provider delivery event.
type EventType string

const (
	EventTypeSent      EventType = "sent"
	EventTypeDelivered EventType = "delivered"
	EventTypeFailed    EventType = "failed"
	EventTypeQueued    EventType = "queued"
	EventTypeOpened    EventType = "opened"
	EventTypeClicked   EventType = "clicked"
	EventTypeOther     EventType = "other"
)

// Reconcilable reports whether the event drives a message state change.
func (e EventType) Reconcilable() bool {
	return e == EventTypeSent || e == EventTypeDelivered || e == EventTypeFailed
}

// InteractionLog is the append-only record of provider events. Rows are
// unique per (provider_message_id, event_type).
type InteractionLog struct {
	ID                uuid.UUID       `db:"id" json:"id"`
	ProviderMessageID *string         `db:"provider_message_id" json:"provider_message_id,omitempty"`
	EventType         EventType       `db:"event_type" json:"event_type"`
	Provider          string          `db:"provider" json:"provider"`
	MessageID         *uuid.UUID      `db:"message_id" json:"message_id,omitempty"`
	CustomerID        *uuid.UUID      `db:"customer_id" json:"customer_id,omitempty"`
	Channel           *Channel        `db:"channel" json:"channel,omitempty"`
	OccurredAt        time.Time       `db:"occurred_at" json:"occurred_at"`
	Payload           json.RawMessage `db:"payload" json:"payload,omitempty"`
	CreatedAt         time.Time       `db:"created_at" json:"created_at"`
}

// TableName returns the database table name
func (InteractionLog) TableName() string {
	return "interaction_logs"
}
