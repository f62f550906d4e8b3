package webhooks

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gustausantin/La-ia-app-sub001/pkg/apperrors"
	"github.com/gustausantin/La-ia-app-sub001/pkg/models"
)

var receivedAt = time.Date(2026, 10, 15, 10, 0, 0, 0, time.UTC)

func TestNormalizeTwilio(t *testing.T) {
	tests := []struct {
		name      string
		form      url.Values
		eventType models.EventType
		errText   string
	}{
		{
			name:      "delivered",
			form:      url.Values{"MessageSid": {"SM1"}, "MessageStatus": {"delivered"}},
			eventType: models.EventTypeDelivered,
		},
		{
			name:      "undelivered with error",
			form:      url.Values{"MessageSid": {"SM1"}, "MessageStatus": {"undelivered"}, "ErrorCode": {"63016"}, "ErrorMessage": {"Outside window"}},
			eventType: models.EventTypeFailed,
			errText:   "Outside window (63016)",
		},
		{
			name:      "failed without detail",
			form:      url.Values{"MessageSid": {"SM1"}, "MessageStatus": {"failed"}},
			eventType: models.EventTypeFailed,
			errText:   "undelivered",
		},
		{
			name:      "read is acknowledged",
			form:      url.Values{"MessageSid": {"SM1"}, "MessageStatus": {"read"}},
			eventType: models.EventTypeOpened,
		},
		{
			name:      "sms fields",
			form:      url.Values{"SmsSid": {"SM1"}, "SmsStatus": {"sent"}},
			eventType: models.EventTypeSent,
		},
		{
			name:      "unknown status",
			form:      url.Values{"MessageSid": {"SM1"}, "MessageStatus": {"scheduled"}},
			eventType: models.EventTypeOther,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := NormalizeTwilio(tt.form, receivedAt)
			require.NoError(t, err)
			assert.Equal(t, "twilio", ev.Provider)
			assert.Equal(t, "SM1", ev.ProviderMessageID)
			assert.Equal(t, tt.eventType, ev.EventType)
			assert.Equal(t, tt.errText, ev.Error)
			assert.Equal(t, receivedAt, ev.Timestamp)
			assert.NotEmpty(t, ev.Raw)
		})
	}
}

func TestNormalizeTwilio_RequiresSidAndStatus(t *testing.T) {
	_, err := NormalizeTwilio(url.Values{"MessageStatus": {"sent"}}, receivedAt)
	assert.True(t, apperrors.IsValidationError(err))

	_, err = NormalizeTwilio(url.Values{"MessageSid": {"SM1"}}, receivedAt)
	assert.True(t, apperrors.IsValidationError(err))
}

func TestNormalizeResend(t *testing.T) {
	ev, err := NormalizeResend([]byte(`{
		"type": "email.delivered",
		"created_at": "2026-10-15T09:58:00Z",
		"data": {"email_id": "re_123", "to": ["ana@example.com"]}
	}`), receivedAt)
	require.NoError(t, err)
	assert.Equal(t, "resend", ev.Provider)
	assert.Equal(t, "re_123", ev.ProviderMessageID)
	assert.Equal(t, models.EventTypeDelivered, ev.EventType)
	assert.Equal(t, time.Date(2026, 10, 15, 9, 58, 0, 0, time.UTC), ev.Timestamp)

	ev, err = NormalizeResend([]byte(`{"type":"email.bounced","data":{"email_id":"re_123","bounce":{"message":"Mailbox full","type":"Permanent"}}}`), receivedAt)
	require.NoError(t, err)
	assert.Equal(t, models.EventTypeFailed, ev.EventType)
	assert.Equal(t, "Mailbox full", ev.Error)
	assert.Equal(t, receivedAt, ev.Timestamp)

	ev, err = NormalizeResend([]byte(`{"type":"email.opened","data":{"email_id":"re_123"}}`), receivedAt)
	require.NoError(t, err)
	assert.Equal(t, models.EventTypeOpened, ev.EventType)
	assert.False(t, ev.EventType.Reconcilable())

	ev, err = NormalizeResend([]byte(`{"type":"contact.created","data":{"email_id":"re_123"}}`), receivedAt)
	require.NoError(t, err)
	assert.Equal(t, models.EventTypeOther, ev.EventType)
}

func TestNormalizeResend_Invalid(t *testing.T) {
	for _, body := range []string{`not json`, `{"type":"email.sent","data":{}}`, `{"data":{"email_id":"re_1"}}`} {
		_, err := NormalizeResend([]byte(body), receivedAt)
		assert.True(t, apperrors.IsValidationError(err), body)
	}
}
