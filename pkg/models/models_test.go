package models

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to MessageStatus
		allowed  bool
	}{
		{MessageStatusPlanned, MessageStatusProcessing, true},
		{MessageStatusPlanned, MessageStatusSkipped, true},
		{MessageStatusProcessing, MessageStatusSent, true},
		{MessageStatusProcessing, MessageStatusFailed, true},
		{MessageStatusSent, MessageStatusDelivered, true},
		{MessageStatusSent, MessageStatusFailed, true},
		{MessageStatusPlanned, MessageStatusSent, false},
		{MessageStatusSent, MessageStatusSkipped, false},
		{MessageStatusDelivered, MessageStatusFailed, false},
		{MessageStatusFailed, MessageStatusDelivered, false},
		{MessageStatusSkipped, MessageStatusPlanned, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.allowed, CanTransition(tt.from, tt.to))
		})
	}
}

func TestTerminalStatusesHaveNoExits(t *testing.T) {
	for _, s := range []MessageStatus{MessageStatusDelivered, MessageStatusFailed, MessageStatusSkipped} {
		assert.True(t, s.IsTerminal())
		assert.False(t, s.IsOpen())
		assert.Empty(t, allowedTransitions[s])
	}
	assert.False(t, MessageStatusSent.IsTerminal())
	assert.False(t, MessageStatusSkipped.CountsTowardCap())
	assert.False(t, MessageStatusFailed.CountsTowardCap())
	assert.True(t, MessageStatusDelivered.CountsTowardCap())
}

func TestCustomerDestination(t *testing.T) {
	email := "ana@example.com"
	phone := "+34600111222"
	c := Customer{Email: &email, Phone: &phone, ConsentEmail: true}

	dest, ok := c.Destination(ChannelEmail)
	assert.True(t, ok)
	assert.Equal(t, email, dest)

	_, ok = c.Destination(ChannelWhatsApp)
	assert.False(t, ok, "no whatsapp consent")

	c.Email = nil
	_, ok = c.Destination(ChannelEmail)
	assert.False(t, ok)
}

func TestCredentialsRoundTrip(t *testing.T) {
	restaurantID := uuid.New()
	stored, err := EncodeCredentials(restaurantID, EmailCredentials{APIKey: "re_123", FromAddress: "hola@bistro.es"})
	require.NoError(t, err)
	assert.Equal(t, ChannelEmail, stored.Channel)

	creds, err := stored.Decode()
	require.NoError(t, err)
	email, ok := creds.(EmailCredentials)
	require.True(t, ok)
	assert.Equal(t, "re_123", email.APIKey)

	_, err = ChannelCredentials{Channel: "sms", Config: []byte(`{}`)}.Decode()
	assert.Error(t, err)
}

func TestNoShowStatsRate(t *testing.T) {
	assert.Zero(t, NoShowStats{}.Rate())
	assert.InDelta(t, 0.25, NoShowStats{Reservations: 8, NoShows: 2}.Rate(), 1e-9)
}

func TestRestaurantSettingsLocation(t *testing.T) {
	s := DefaultRestaurantSettings(uuid.New())
	assert.Equal(t, time.UTC, s.Location())

	s.Timezone = "Europe/Madrid"
	assert.Equal(t, "Europe/Madrid", s.Location().String())

	s.Timezone = "Not/AZone"
	assert.Equal(t, time.UTC, s.Location())
}
