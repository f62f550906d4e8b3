package playbook

import (
	"context"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gustausantin/La-ia-app-sub001/pkg/apperrors"
	"github.com/gustausantin/La-ia-app-sub001/pkg/models"
	"github.com/gustausantin/La-ia-app-sub001/pkg/store/memory"
)

const restaurantID = "6c1f4e8a-2b7d-4c55-9a3e-1f0d2c3b4a59"

const sample = `
restaurant:
  id: 6c1f4e8a-2b7d-4c55-9a3e-1f0d2c3b4a59
  name: Casa Lola
  timezone: Europe/Madrid
  weekly_contact_cap: 3
  segmentation:
    dias_inactivo_min: 120
  risk:
    short_lead_time: 3h
credentials:
  whatsapp:
    account_sid: AC123
    auth_token: secret
    from_number: "+34600000000"
  email:
    api_key: re_123
    from_address: hola@casalola.es
templates:
  - key: winback_whatsapp
    channel: whatsapp
    body: "Hola {{ customer.first_name }}, te echamos de menos en {{ restaurant.name }}"
  - key: winback_email
    channel: email
    subject: "Te echamos de menos"
    body: "Hola {{ customer.first_name }}"
  - key: confirm_whatsapp
    channel: whatsapp
    body: "Confirma tu reserva de {{ reservation.party_size }}"
rules:
  - key: winback
    name: Win back at-risk guests
    segment: riesgo
    template: winback_whatsapp
    fallback_template: winback_email
    channel: whatsapp
    priority: 1
  - key: confirm-high-risk
    name: Confirm high risk reservations
    risk_level: high
    template: confirm_whatsapp
    channel: whatsapp
    active: false
customers:
  - id: 0b6e2a52-7f1e-4f43-8d4a-8c1e3a2d9f10
    first_name: Ana
    phone: "+34611111111"
    consent_whatsapp: true
    created_at: 2025-01-10T12:00:00Z
    visits:
      - visited_at: 2025-02-01T21:00:00Z
        amount: "54.20"
      - visited_at: 2025-03-03T21:00:00Z
        amount: 61
    reservations:
      - id: 4d3c2b1a-0f9e-4d8c-8b7a-6a5f4e3d2c1b
        reserved_for: 2025-04-05T22:00:00Z
        party_size: 8
`

func noopLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func TestParse_AppliesDefaultsAndOverrides(t *testing.T) {
	pb, err := Parse([]byte(sample))
	require.NoError(t, err)

	assert.Equal(t, uuid.MustParse(restaurantID), pb.Restaurant.RestaurantID)
	assert.Equal(t, 3, pb.Restaurant.WeeklyContactCap)
	assert.Equal(t, 120, pb.Restaurant.Segmentation.DiasInactivoMin)
	assert.Equal(t, 1.2, pb.Restaurant.Segmentation.FactorActivo)
	assert.Equal(t, 3*time.Hour, pb.Restaurant.Risk.ShortLeadTime)
	assert.Equal(t, 85, pb.Restaurant.Risk.HighThreshold)
	assert.Len(t, pb.Credentials.List(), 2)

	rules := pb.RuleModels()
	require.Len(t, rules, 2)
	assert.Equal(t, models.RuleTargetSegment, rules[0].TargetType)
	assert.True(t, rules[0].Active)
	require.NotNil(t, rules[0].FallbackTemplateID)
	assert.Equal(t, pb.TemplateModels()["winback_email"].ID, *rules[0].FallbackTemplateID)
	assert.Equal(t, models.RuleTargetRisk, rules[1].TargetType)
	assert.False(t, rules[1].Active)
}

func TestParse_DerivedIDsAreStable(t *testing.T) {
	a, err := Parse([]byte(sample))
	require.NoError(t, err)
	b, err := Parse([]byte(sample))
	require.NoError(t, err)

	assert.Equal(t, a.TemplateModels()["winback_whatsapp"].ID, b.TemplateModels()["winback_whatsapp"].ID)
	assert.Equal(t, a.RuleModels()[0].ID, b.RuleModels()[0].ID)
}

func TestParse_Rejects(t *testing.T) {
	base := "restaurant:\n  id: " + restaurantID + "\n  name: X\n  timezone: UTC\n"
	tmpl := "templates:\n  - key: t\n    channel: whatsapp\n    body: hi\n"

	tests := []struct {
		name string
		doc  string
	}{
		{"missing restaurant id", "restaurant:\n  name: X\n  timezone: UTC\n"},
		{"bad timezone", "restaurant:\n  id: " + restaurantID + "\n  name: X\n  timezone: Mars/Olympus\n"},
		{"bad template expression", base + "templates:\n  - key: t\n    channel: email\n    body: \"{{ customer.[ }}\"\n"},
		{"unknown template", base + tmpl + "rules:\n  - key: r\n    name: R\n    segment: riesgo\n    template: nope\n    channel: whatsapp\n"},
		{"channel mismatch", base + tmpl + "rules:\n  - key: r\n    name: R\n    segment: riesgo\n    template: t\n    channel: email\n"},
		{"no target", base + tmpl + "rules:\n  - key: r\n    name: R\n    template: t\n    channel: whatsapp\n"},
		{"low risk target", base + tmpl + "rules:\n  - key: r\n    name: R\n    risk_level: low\n    template: t\n    channel: whatsapp\n"},
		{"unknown segment", base + tmpl + "rules:\n  - key: r\n    name: R\n    segment: vip\n    template: t\n    channel: whatsapp\n"},
		{"invalid yaml", "restaurant: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			require.Error(t, err)
			assert.True(t, apperrors.IsValidationError(err), "got %v", err)
		})
	}
}

func TestApply_SeedsStore(t *testing.T) {
	ctx := context.Background()
	pb, err := Parse([]byte(sample))
	require.NoError(t, err)

	store := memory.NewStore()
	sum, err := pb.Apply(ctx, store, noopLogger())
	require.NoError(t, err)
	assert.Equal(t, Summary{Credentials: 2, Templates: 3, Rules: 2, Customers: 1, Visits: 2, Reservations: 1}, sum)

	rid := uuid.MustParse(restaurantID)
	settings, err := store.GetRestaurantSettings(ctx, rid)
	require.NoError(t, err)
	assert.Equal(t, "Casa Lola", settings.Name)

	creds, err := store.GetCredentials(ctx, rid, models.ChannelWhatsApp)
	require.NoError(t, err)
	assert.Equal(t, "AC123", creds.(models.WhatsAppCredentials).AccountSID)

	active, err := store.ListActiveRules(ctx, rid)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "Win back at-risk guests", active[0].Name)

	histories, err := store.ListCustomerHistories(ctx, rid)
	require.NoError(t, err)
	require.Len(t, histories, 1)
	assert.Len(t, histories[0].Visits, 2)
	assert.Equal(t, "54.2", histories[0].Visits[0].Amount.String())

	res, err := store.GetReservation(ctx, uuid.MustParse("4d3c2b1a-0f9e-4d8c-8b7a-6a5f4e3d2c1b"))
	require.NoError(t, err)
	assert.Equal(t, models.ReservationStatusConfirmed, res.Status)
	assert.Equal(t, 8, res.PartySize)
}
