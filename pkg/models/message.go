package models

import (
	"time"

	"github.com/google/uuid"
)

// MessageStatus represents the dispatch state of a scheduled message
type MessageStatus string

const (
	MessageStatusPlanned    MessageStatus = "planned"
	MessageStatusProcessing MessageStatus = "processing"
	MessageStatusSent       MessageStatus = "sent"
	MessageStatusDelivered  MessageStatus = "delivered"
	MessageStatusFailed     MessageStatus = "failed"
	MessageStatusSkipped    MessageStatus = "skipped"
)

func (s MessageStatus) Valid() bool {
	switch s {
	case MessageStatusPlanned, MessageStatusProcessing, MessageStatusSent,
		MessageStatusDelivered, MessageStatusFailed, MessageStatusSkipped:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition may leave s.
func (s MessageStatus) IsTerminal() bool {
	return s == MessageStatusDelivered || s == MessageStatusFailed || s == MessageStatusSkipped
}

// CountsTowardCap reports whether a message in status s uses up a slot of the
// weekly contact cap.
func (s MessageStatus) CountsTowardCap() bool {
	switch s {
	case MessageStatusPlanned, MessageStatusProcessing, MessageStatusSent, MessageStatusDelivered:
		return true
	}
	return false
}

// IsOpen reports whether a message still blocks a duplicate from the same rule.
func (s MessageStatus) IsOpen() bool {
	return s == MessageStatusPlanned || s == MessageStatusProcessing || s == MessageStatusSent
}

var allowedTransitions = map[MessageStatus][]MessageStatus{
	MessageStatusPlanned:    {MessageStatusProcessing, MessageStatusSkipped},
	MessageStatusProcessing: {MessageStatusSent, MessageStatusFailed},
	MessageStatusSent:       {MessageStatusDelivered, MessageStatusFailed},
}

// CanTransition reports whether the state machine allows from -> to.
func CanTransition(from, to MessageStatus) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

type ScheduledMessage struct {
	ID                 uuid.UUID     `db:"id" json:"id"`
	RestaurantID       uuid.UUID     `db:"restaurant_id" json:"restaurant_id"`
	CustomerID         uuid.UUID     `db:"customer_id" json:"customer_id"`
	RuleID             *uuid.UUID    `db:"rule_id" json:"rule_id,omitempty"`
	TemplateID         uuid.UUID     `db:"template_id" json:"template_id"`
	FallbackTemplateID *uuid.UUID    `db:"fallback_template_id" json:"fallback_template_id,omitempty"`
	ReservationID      *uuid.UUID    `db:"reservation_id" json:"reservation_id,omitempty"`
	ChannelPlanned     Channel       `db:"channel_planned" json:"channel_planned"`
	ChannelFinal       *Channel      `db:"channel_final" json:"channel_final,omitempty"`
	Subject            *string       `db:"subject" json:"subject,omitempty"`
	ContentRendered    string        `db:"content_rendered" json:"content_rendered"`
	Status             MessageStatus `db:"status" json:"status"`
	ScheduledFor       time.Time     `db:"scheduled_for" json:"scheduled_for"`
	SentAt             *time.Time    `db:"sent_at" json:"sent_at,omitempty"`
	DeliveredAt        *time.Time    `db:"delivered_at" json:"delivered_at,omitempty"`
	ProviderMessageID  *string       `db:"provider_message_id" json:"provider_message_id,omitempty"`
	LastError          *string       `db:"last_error" json:"last_error,omitempty"`
	SkipReason         *string       `db:"skip_reason" json:"skip_reason,omitempty"`
	ClaimedBy          *string       `db:"claimed_by" json:"claimed_by,omitempty"`
	ClaimedAt          *time.Time    `db:"claimed_at" json:"claimed_at,omitempty"`
	CreatedAt          time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time     `db:"updated_at" json:"updated_at"`
}

// TableName returns the database table name
func (ScheduledMessage) TableName() string {
	return "scheduled_messages"
}

// Transition is a compare-and-set status change. It only applies when the
// stored status still equals From; the optional fields are written with it.
type Transition struct {
	From              MessageStatus
	To                MessageStatus
	At                time.Time
	ProviderMessageID *string
	ChannelFinal      *Channel
	LastError         *string
	SkipReason        *string
	ClaimedBy         *string
}

// MessageFilter narrows a message listing.
type MessageFilter struct {
	RestaurantID uuid.UUID
	Status       *MessageStatus
	CustomerID   *uuid.UUID
	Limit        int
	Offset       int
}

// Apply writes t onto m without checking From. Stores call it after their own
// compare-and-set check.
func (m *ScheduledMessage) Apply(t Transition) {
	at := t.At
	m.Status = t.To
	m.UpdatedAt = at
	if t.ProviderMessageID != nil {
		m.ProviderMessageID = t.ProviderMessageID
	}
	if t.ChannelFinal != nil {
		m.ChannelFinal = t.ChannelFinal
	}
	if t.LastError != nil {
		m.LastError = t.LastError
	}
	if t.SkipReason != nil {
		m.SkipReason = t.SkipReason
	}

	switch t.To {
	case MessageStatusProcessing:
		m.ClaimedBy = t.ClaimedBy
		m.ClaimedAt = &at
	case MessageStatusSent:
		m.SentAt = &at
	case MessageStatusDelivered:
		m.DeliveredAt = &at
	}
}
