package models

import (
	"time"

	"github.com/google/uuid"
)

// Channel is an outbound messaging channel.
type Channel string

const (
	ChannelEmail    Channel = "email"
	ChannelWhatsApp Channel = "whatsapp"
)

func (c Channel) Valid() bool {
	return c == ChannelEmail || c == ChannelWhatsApp
}

// RuleTargetType says whether a rule selects customers by segment or by the
// risk tier of an upcoming reservation.
type RuleTargetType string

const (
	RuleTargetSegment RuleTargetType = "segment"
	RuleTargetRisk    RuleTargetType = "risk"
)

type AutomationRule struct {
	ID                 uuid.UUID      `db:"id" json:"id"`
	RestaurantID       uuid.UUID      `db:"restaurant_id" json:"restaurant_id"`
	Name               string         `db:"name" json:"name"`
	TargetType         RuleTargetType `db:"target_type" json:"target_type"`
	TargetSegment      *Segment       `db:"target_segment" json:"target_segment,omitempty"`
	TargetRiskLevel    *RiskLevel     `db:"target_risk_level" json:"target_risk_level,omitempty"`
	Priority           int            `db:"priority" json:"priority"`
	Active             bool           `db:"active" json:"active"`
	TemplateID         uuid.UUID      `db:"template_id" json:"template_id"`
	FallbackTemplateID *uuid.UUID     `db:"fallback_template_id" json:"fallback_template_id,omitempty"`
	Channel            Channel        `db:"channel" json:"channel"`
	DelayMinutes       int            `db:"delay_minutes" json:"delay_minutes"`
	CreatedAt          time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time      `db:"updated_at" json:"updated_at"`
}

// TableName returns the database table name
func (AutomationRule) TableName() string {
	return "automation_rules"
}

// MessageTemplate is a channel-specific body with {{ placeholder }} expressions.
type MessageTemplate struct {
	ID           uuid.UUID `db:"id" json:"id"`
	RestaurantID uuid.UUID `db:"restaurant_id" json:"restaurant_id"`
	Name         string    `db:"name" json:"name"`
	Channel      Channel   `db:"channel" json:"channel"`
	Subject      *string   `db:"subject" json:"subject,omitempty"`
	Body         string    `db:"body" json:"body"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// TableName returns the database table name
func (MessageTemplate) TableName() string {
	return "message_templates"
}
