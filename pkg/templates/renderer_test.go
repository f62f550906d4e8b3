package templates

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gustausantin/La-ia-app-sub001/pkg/apperrors"
	"github.com/gustausantin/La-ia-app-sub001/pkg/models"
)

func strPtr(s string) *string { return &s }

func testSettings() models.RestaurantSettings {
	s := models.DefaultRestaurantSettings(uuid.New())
	s.Name = "Casa Pepe"
	s.Timezone = "Europe/Madrid"
	return s
}

func TestRender_WhatsApp(t *testing.T) {
	r := NewRenderer(nil)
	tmpl := models.MessageTemplate{
		Channel: models.ChannelWhatsApp,
		Body:    "Hola {{ customer.first_name }}, te echamos de menos en {{restaurant.name}}!",
	}
	data := NewData(models.Customer{FirstName: "Ana"}, testSettings(), nil)

	out, err := r.Render(tmpl, data)
	require.NoError(t, err)
	assert.Equal(t, "Hola Ana, te echamos de menos en Casa Pepe!", out.Body)
	assert.Nil(t, out.Subject)
	assert.Equal(t, models.ChannelWhatsApp, out.Channel)
}

func TestRender_EmailEscapesValuesAndRendersSubject(t *testing.T) {
	r := NewRenderer(nil)
	tmpl := models.MessageTemplate{
		Channel: models.ChannelEmail,
		Subject: strPtr("{{ customer.first_name }}, tu mesa"),
		Body:    "<p>Hola {{ customer.first_name }}</p>",
	}
	data := NewData(models.Customer{FirstName: "<Tom & Jerry>"}, testSettings(), nil)

	out, err := r.Render(tmpl, data)
	require.NoError(t, err)
	assert.Equal(t, "<p>Hola &lt;Tom &amp; Jerry&gt;</p>", out.Body)
	require.NotNil(t, out.Subject)
	assert.Equal(t, "<Tom & Jerry>, tu mesa", *out.Subject)
}

func TestRender_ReservationInLocalTime(t *testing.T) {
	r := NewRenderer(nil)
	tmpl := models.MessageTemplate{
		Channel: models.ChannelWhatsApp,
		Body:    "Mesa para {{ reservation.party_size }} el {{ reservation.date }} a las {{ reservation.time }}",
	}
	reservation := &models.Reservation{
		ReservedFor: time.Date(2026, 7, 4, 19, 30, 0, 0, time.UTC),
		PartySize:   4,
	}
	data := NewData(models.Customer{FirstName: "Ana"}, testSettings(), reservation)

	out, err := r.Render(tmpl, data)
	require.NoError(t, err)
	assert.Equal(t, "Mesa para 4 el 2026-07-04 a las 21:30", out.Body)
}

func TestRender_MissingValueIsValidationError(t *testing.T) {
	r := NewRenderer(nil)
	tmpl := models.MessageTemplate{
		Channel: models.ChannelWhatsApp,
		Body:    "Hola {{ customer.last_name }}",
	}

	_, err := r.Render(tmpl, NewData(models.Customer{FirstName: "Ana"}, testSettings(), nil))
	require.Error(t, err)
	assert.True(t, apperrors.IsValidationError(err))
	assert.Contains(t, err.Error(), "customer.last_name")
}

func TestRender_ReservationPlaceholderWithoutReservation(t *testing.T) {
	r := NewRenderer(nil)
	tmpl := models.MessageTemplate{Channel: models.ChannelWhatsApp, Body: "{{ reservation.time }}"}

	_, err := r.Render(tmpl, NewData(models.Customer{FirstName: "Ana"}, testSettings(), nil))
	assert.True(t, apperrors.IsValidationError(err))
}

func TestValidate(t *testing.T) {
	r := NewRenderer(nil)
	assert.NoError(t, r.Validate(models.MessageTemplate{Body: "{{ customer.first_name }}"}))
	assert.Error(t, r.Validate(models.MessageTemplate{Body: "{{ customer.[ }}"}))
}

func TestExtractExpressions(t *testing.T) {
	assert.Equal(t, []string{"customer.first_name", "restaurant.name"},
		ExtractExpressions("{{customer.first_name}} @ {{ restaurant.name }}"))
	assert.False(t, HasTemplates("plain text"))
}
