// Package webhooks reconciles provider delivery callbacks with scheduled
// message state and forwards reconciled events to outbound endpoints.
package webhooks

import (
	"encoding/json"
	"net/url"
	"strings"
	"time"

	"github.com/gustausantin/La-ia-app-sub001/pkg/apperrors"
	"github.com/gustausantin/La-ia-app-sub001/pkg/models"
	"github.com/gustausantin/La-ia-app-sub001/pkg/providers"
)

// Event is a provider callback in normalized form.
type Event struct {
	Provider          string           `json:"provider"`
	ProviderMessageID string           `json:"provider_message_id"`
	EventType         models.EventType `json:"event_type"`
	ProviderStatus    string           `json:"provider_status"`
	Error             string           `json:"error,omitempty"`
	Timestamp         time.Time        `json:"timestamp"`
	Raw               json.RawMessage  `json:"raw,omitempty"`
}

var twilioStatuses = map[string]models.EventType{
	"accepted":    models.EventTypeQueued,
	"queued":      models.EventTypeQueued,
	"sending":     models.EventTypeQueued,
	"sent":        models.EventTypeSent,
	"delivered":   models.EventTypeDelivered,
	"read":        models.EventTypeOpened,
	"undelivered": models.EventTypeFailed,
	"failed":      models.EventTypeFailed,
}

// NormalizeTwilio converts a Twilio status callback form. Twilio callbacks carry
// no event time, so receivedAt is used.
func NormalizeTwilio(form url.Values, receivedAt time.Time) (Event, error) {
	sid := strings.TrimSpace(form.Get("MessageSid"))
	if sid == "" {
		sid = strings.TrimSpace(form.Get("SmsSid"))
	}
	if sid == "" {
		return Event{}, apperrors.NewValidationError("MessageSid", "is required")
	}

	status := strings.ToLower(strings.TrimSpace(form.Get("MessageStatus")))
	if status == "" {
		status = strings.ToLower(strings.TrimSpace(form.Get("SmsStatus")))
	}
	if status == "" {
		return Event{}, apperrors.NewValidationError("MessageStatus", "is required")
	}

	eventType, ok := twilioStatuses[status]
	if !ok {
		eventType = models.EventTypeOther
	}

	raw := make(map[string]string, len(form))
	for key := range form {
		raw[key] = form.Get(key)
	}
	payload, err := json.Marshal(raw)
	if err != nil {
		return Event{}, err
	}

	ev := Event{
		Provider:          providers.WhatsAppProviderName,
		ProviderMessageID: sid,
		EventType:         eventType,
		ProviderStatus:    status,
		Timestamp:         receivedAt.UTC(),
		Raw:               payload,
	}
	if eventType == models.EventTypeFailed {
		ev.Error = twilioError(form)
	}
	return ev, nil
}

func twilioError(form url.Values) string {
	code := form.Get("ErrorCode")
	message := form.Get("ErrorMessage")
	switch {
	case code != "" && message != "":
		return message + " (" + code + ")"
	case code != "":
		return "error code " + code
	case message != "":
		return message
	}
	return "undelivered"
}

var resendTypes = map[string]models.EventType{
	"email.sent":             models.EventTypeSent,
	"email.delivered":        models.EventTypeDelivered,
	"email.delivery_delayed": models.EventTypeQueued,
	"email.bounced":          models.EventTypeFailed,
	"email.failed":           models.EventTypeFailed,
	"email.opened":           models.EventTypeOpened,
	"email.clicked":          models.EventTypeClicked,
	"email.complained":       models.EventTypeOther,
}

type resendEvent struct {
	Type      string    `json:"type"`
	CreatedAt time.Time `json:"created_at"`
	Data      struct {
		EmailID string `json:"email_id"`
		Bounce  *struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"bounce,omitempty"`
		Failed *struct {
			Reason string `json:"reason"`
		} `json:"failed,omitempty"`
	} `json:"data"`
}

// NormalizeResend converts a Resend event body.
func NormalizeResend(body []byte, receivedAt time.Time) (Event, error) {
	var payload resendEvent
	if err := json.Unmarshal(body, &payload); err != nil {
		return Event{}, apperrors.NewValidationError("body", "invalid JSON: %v", err)
	}
	if payload.Data.EmailID == "" {
		return Event{}, apperrors.NewValidationError("data.email_id", "is required")
	}
	if payload.Type == "" {
		return Event{}, apperrors.NewValidationError("type", "is required")
	}

	eventType, ok := resendTypes[payload.Type]
	if !ok {
		eventType = models.EventTypeOther
	}

	ts := payload.CreatedAt
	if ts.IsZero() {
		ts = receivedAt
	}

	ev := Event{
		Provider:          providers.EmailProviderName,
		ProviderMessageID: payload.Data.EmailID,
		EventType:         eventType,
		ProviderStatus:    payload.Type,
		Timestamp:         ts.UTC(),
		Raw:               json.RawMessage(body),
	}
	if eventType == models.EventTypeFailed {
		switch {
		case payload.Data.Bounce != nil && payload.Data.Bounce.Message != "":
			ev.Error = payload.Data.Bounce.Message
		case payload.Data.Failed != nil && payload.Data.Failed.Reason != "":
			ev.Error = payload.Data.Failed.Reason
		default:
			ev.Error = strings.TrimPrefix(payload.Type, "email.")
		}
	}
	return ev, nil
}
