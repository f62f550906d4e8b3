package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Credentials are the provider secrets of one channel of one restaurant.
// Exactly one concrete type exists per channel.
type Credentials interface {
	Channel() Channel
	isCredentials()
}

// WhatsAppCredentials authenticate against the messaging API account.
type WhatsAppCredentials struct {
	AccountSID        string `json:"account_sid" yaml:"account_sid" validate:"required"`
	AuthToken         string `json:"auth_token" yaml:"auth_token" validate:"required"`
	FromNumber        string `json:"from_number" yaml:"from_number" validate:"required"`
	BaseURL           string `json:"base_url,omitempty" yaml:"base_url,omitempty" validate:"omitempty,url"`
	StatusCallbackURL string `json:"status_callback_url,omitempty" yaml:"status_callback_url,omitempty" validate:"omitempty,url"`
}

func (WhatsAppCredentials) Channel() Channel { return ChannelWhatsApp }
func (WhatsAppCredentials) isCredentials()   {}

// EmailCredentials authenticate against the email API.
type EmailCredentials struct {
	APIKey      string `json:"api_key" yaml:"api_key" validate:"required"`
	FromAddress string `json:"from_address" yaml:"from_address" validate:"required,email"`
	FromName    string `json:"from_name,omitempty" yaml:"from_name,omitempty"`
	ReplyTo     string `json:"reply_to,omitempty" yaml:"reply_to,omitempty" validate:"omitempty,email"`
	BaseURL     string `json:"base_url,omitempty" yaml:"base_url,omitempty" validate:"omitempty,url"`
}

func (EmailCredentials) Channel() Channel { return ChannelEmail }
func (EmailCredentials) isCredentials()   {}

// ChannelCredentials is the stored form of Credentials, keyed by
// (restaurant_id, channel) with the secrets kept as a JSON document.
type ChannelCredentials struct {
	RestaurantID uuid.UUID       `db:"restaurant_id" json:"restaurant_id"`
	Channel      Channel         `db:"channel" json:"channel"`
	Config       json.RawMessage `db:"config" json:"-"`
	UpdatedAt    time.Time       `db:"updated_at" json:"updated_at"`
}

// TableName returns the database table name
func (ChannelCredentials) TableName() string {
	return "channel_credentials"
}

// Decode returns the typed credentials for the stored channel.
func (c ChannelCredentials) Decode() (Credentials, error) {
	switch c.Channel {
	case ChannelWhatsApp:
		var creds WhatsAppCredentials
		if err := json.Unmarshal(c.Config, &creds); err != nil {
			return nil, fmt.Errorf("failed to decode whatsapp credentials: %w", err)
		}
		return creds, nil
	case ChannelEmail:
		var creds EmailCredentials
		if err := json.Unmarshal(c.Config, &creds); err != nil {
			return nil, fmt.Errorf("failed to decode email credentials: %w", err)
		}
		return creds, nil
	default:
		return nil, fmt.Errorf("unknown channel %q", c.Channel)
	}
}

// EncodeCredentials builds the stored form of creds.
func EncodeCredentials(restaurantID uuid.UUID, creds Credentials) (ChannelCredentials, error) {
	raw, err := json.Marshal(creds)
	if err != nil {
		return ChannelCredentials{}, fmt.Errorf("failed to encode credentials: %w", err)
	}
	return ChannelCredentials{
		RestaurantID: restaurantID,
		Channel:      creds.Channel(),
		Config:       raw,
	}, nil
}
