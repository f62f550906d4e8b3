package repositories_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/gustausantin/La-ia-app-sub001/pkg/apperrors"
	"github.com/gustausantin/La-ia-app-sub001/pkg/database"
	"github.com/gustausantin/La-ia-app-sub001/pkg/models"
	"github.com/gustausantin/La-ia-app-sub001/pkg/repositories"
)

func getTestLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

// getTestStore starts a throwaway Postgres, applies the migrations and returns
// a store on it. The test is skipped when no container runtime is available.
func getTestStore(t *testing.T) *repositories.Store {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "lifecycle",
				"POSTGRES_PASSWORD": "lifecycle",
				"POSTGRES_DB":       "lifecycle",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("postgres container unavailable: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	logger := getTestLogger()
	db, err := database.Open(ctx, database.Config{
		Host:     host,
		Port:     port.Port(),
		User:     "lifecycle",
		Password: "lifecycle",
		Name:     "lifecycle",
		SSLMode:  "disable",
	}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	migrations := database.NewMigrationService(logger, &database.MigrationConfig{MigrationFolderPath: "../../db/pg"})
	require.NoError(t, migrations.MigratePostgres(db.SqlDB(), "lifecycle"))

	return repositories.NewStore(db, logger)
}

type seeded struct {
	restaurantID uuid.UUID
	customer     models.Customer
	template     models.MessageTemplate
	rule         models.AutomationRule
}

func seed(t *testing.T, store *repositories.Store) seeded {
	t.Helper()
	ctx := context.Background()
	restaurantID := uuid.New()

	phone := "+34600111222"
	customer := models.Customer{
		ID:              uuid.New(),
		RestaurantID:    restaurantID,
		FirstName:       "Ana",
		Phone:           &phone,
		ConsentWhatsApp: true,
	}
	require.NoError(t, store.UpsertCustomer(ctx, customer))

	tmpl := models.MessageTemplate{
		ID:           uuid.New(),
		RestaurantID: restaurantID,
		Name:         "reactivacion",
		Channel:      models.ChannelWhatsApp,
		Body:         "Hola {{ first_name }}",
	}
	require.NoError(t, store.UpsertTemplate(ctx, tmpl))

	segment := models.SegmentRiesgo
	rule := models.AutomationRule{
		ID:            uuid.New(),
		RestaurantID:  restaurantID,
		Name:          "riesgo",
		TargetType:    models.RuleTargetSegment,
		TargetSegment: &segment,
		Priority:      10,
		Active:        true,
		TemplateID:    tmpl.ID,
		Channel:       models.ChannelWhatsApp,
	}
	require.NoError(t, store.UpsertRule(ctx, rule))

	return seeded{restaurantID: restaurantID, customer: customer, template: tmpl, rule: rule}
}

func TestStore_SettingsDefaultAndRoundTrip(t *testing.T) {
	store := getTestStore(t)
	ctx := context.Background()
	restaurantID := uuid.New()

	settings, err := store.GetRestaurantSettings(ctx, restaurantID)
	require.NoError(t, err)
	assert.Equal(t, 2, settings.WeeklyContactCap)

	settings.Name = "Casa Pepe"
	settings.Timezone = "Europe/Madrid"
	settings.WeeklyContactCap = 3
	settings.Segmentation.DiasNuevo = 45
	require.NoError(t, store.UpsertRestaurantSettings(ctx, settings))

	stored, err := store.GetRestaurantSettings(ctx, restaurantID)
	require.NoError(t, err)
	assert.Equal(t, "Europe/Madrid", stored.Timezone)
	assert.Equal(t, 3, stored.WeeklyContactCap)
	assert.Equal(t, 45, stored.Segmentation.DiasNuevo)
	assert.Equal(t, 2*time.Hour, stored.Risk.ShortLeadTime)
}

func TestStore_Credentials(t *testing.T) {
	store := getTestStore(t)
	ctx := context.Background()
	restaurantID := uuid.New()

	_, err := store.GetCredentials(ctx, restaurantID, models.ChannelEmail)
	assert.True(t, apperrors.IsNotFound(err))

	require.NoError(t, store.UpsertCredentials(ctx, restaurantID, models.EmailCredentials{
		APIKey:      "re_key",
		FromAddress: "hola@casapepe.es",
	}))

	creds, err := store.GetCredentials(ctx, restaurantID, models.ChannelEmail)
	require.NoError(t, err)
	email, ok := creds.(models.EmailCredentials)
	require.True(t, ok)
	assert.Equal(t, "re_key", email.APIKey)
}

func TestStore_FeaturesAndSegments(t *testing.T) {
	store := getTestStore(t)
	ctx := context.Background()
	s := seed(t, store)

	visitedAt := time.Date(2026, 9, 1, 20, 0, 0, 0, time.UTC)
	require.NoError(t, store.InsertVisit(ctx, models.Visit{CustomerID: s.customer.ID, VisitedAt: visitedAt, Amount: decimal.NewFromInt(42)}))

	histories, err := store.ListCustomerHistories(ctx, s.restaurantID)
	require.NoError(t, err)
	require.Len(t, histories, 1)
	require.Len(t, histories[0].Visits, 1)
	assert.True(t, histories[0].Visits[0].Amount.Equal(decimal.NewFromInt(42)))

	recency := 44
	require.NoError(t, store.UpsertCustomerFeatures(ctx, s.customer.ID, models.CustomerFeatures{
		RecencyDays:   &recency,
		VisitsTotal:   1,
		Visits12m:     1,
		TotalSpent12m: decimal.NewFromInt(42),
		Segment:       models.SegmentRiesgo,
		ComputedAt:    visitedAt,
	}))

	customers, err := store.ListCustomersBySegment(ctx, s.restaurantID, models.SegmentRiesgo)
	require.NoError(t, err)
	require.Len(t, customers, 1)
	assert.Equal(t, 44, *customers[0].RecencyDays)

	err = store.UpsertCustomerFeatures(ctx, uuid.New(), models.CustomerFeatures{Segment: models.SegmentNuevo})
	assert.True(t, apperrors.IsNotFound(err))
}

func TestStore_ReservationsAndRisk(t *testing.T) {
	store := getTestStore(t)
	ctx := context.Background()
	s := seed(t, store)
	now := time.Date(2026, 10, 15, 10, 0, 0, 0, time.UTC)

	past := models.Reservation{ID: uuid.New(), RestaurantID: s.restaurantID, CustomerID: s.customer.ID,
		ReservedFor: now.Add(-72 * time.Hour), PartySize: 2, Status: models.ReservationStatusNoShow}
	upcoming := models.Reservation{ID: uuid.New(), RestaurantID: s.restaurantID, CustomerID: s.customer.ID,
		ReservedFor: now.Add(24 * time.Hour), PartySize: 1, Status: models.ReservationStatusConfirmed}
	require.NoError(t, store.UpsertReservation(ctx, past))
	require.NoError(t, store.UpsertReservation(ctx, upcoming))

	stats, err := store.GetNoShowStats(ctx, s.customer.ID, now)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Reservations)
	assert.Equal(t, 1, stats.NoShows)

	list, err := store.ListUpcomingReservations(ctx, s.restaurantID, now, now.Add(72*time.Hour))
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, upcoming.ID, list[0].ID)

	require.NoError(t, store.UpdateReservationRisk(ctx, upcoming.ID, models.RiskAssessment{
		Score:   85,
		Level:   models.RiskLevelHigh,
		Factors: []models.RiskFactor{{Name: "history", Points: 40}},
	}, now))

	atRisk, err := store.ListReservationsByRisk(ctx, s.restaurantID, models.RiskLevelHigh, now, now.Add(72*time.Hour))
	require.NoError(t, err)
	require.Len(t, atRisk, 1)
	assert.Equal(t, s.customer.ID, atRisk[0].Customer.ID)
	assert.Equal(t, 85, *atRisk[0].Reservation.RiskScore)
	assert.Equal(t, "history", atRisk[0].Reservation.RiskFactors.GetValue()[0].Name)
}

func TestStore_MessageLifecycle(t *testing.T) {
	store := getTestStore(t)
	ctx := context.Background()
	s := seed(t, store)
	now := time.Now().UTC().Truncate(time.Second)

	rules, err := store.ListActiveRules(ctx, s.restaurantID)
	require.NoError(t, err)
	require.Len(t, rules, 1)

	msg := &models.ScheduledMessage{
		RestaurantID:    s.restaurantID,
		CustomerID:      s.customer.ID,
		RuleID:          &s.rule.ID,
		TemplateID:      s.template.ID,
		ChannelPlanned:  models.ChannelWhatsApp,
		ContentRendered: "Hola Ana",
		Status:          models.MessageStatusPlanned,
		ScheduledFor:    now.Add(-time.Minute),
	}
	require.NoError(t, store.InsertScheduledMessage(ctx, msg))

	count, err := store.CountActiveMessages(ctx, s.customer.ID, models.ChannelWhatsApp, now.Add(-7*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	open, err := store.HasOpenMessage(ctx, s.customer.ID, s.rule.ID)
	require.NoError(t, err)
	assert.True(t, open)

	due, err := store.ListDueMessages(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)

	require.NoError(t, store.EditMessageContent(ctx, msg.ID, "Hola Ana!"))

	worker := "worker-1"
	claimed, err := store.UpdateMessageStatus(ctx, msg.ID, models.Transition{
		From: models.MessageStatusPlanned, To: models.MessageStatusProcessing, At: now, ClaimedBy: &worker,
	})
	require.NoError(t, err)
	assert.Equal(t, models.MessageStatusProcessing, claimed.Status)
	assert.Equal(t, "Hola Ana!", claimed.ContentRendered)
	assert.Equal(t, worker, *claimed.ClaimedBy)

	_, err = store.UpdateMessageStatus(ctx, msg.ID, models.Transition{
		From: models.MessageStatusPlanned, To: models.MessageStatusProcessing, At: now, ClaimedBy: &worker,
	})
	assert.True(t, apperrors.IsRaceLost(err), "a second claim loses")

	assert.True(t, apperrors.IsRaceLost(store.EditMessageContent(ctx, msg.ID, "late edit")))

	pmid := "SM" + uuid.NewString()
	channel := models.ChannelWhatsApp
	sent, err := store.UpdateMessageStatus(ctx, msg.ID, models.Transition{
		From: models.MessageStatusProcessing, To: models.MessageStatusSent, At: now,
		ProviderMessageID: &pmid, ChannelFinal: &channel,
	})
	require.NoError(t, err)
	require.NotNil(t, sent.SentAt)

	byProvider, err := store.GetMessageByProviderID(ctx, pmid)
	require.NoError(t, err)
	assert.Equal(t, msg.ID, byProvider.ID)

	entry := &models.InteractionLog{
		ProviderMessageID: &pmid,
		EventType:         models.EventTypeDelivered,
		Provider:          "twilio",
		MessageID:         &msg.ID,
		OccurredAt:        now,
		Payload:           []byte(`{"MessageStatus":"delivered"}`),
	}
	inserted, err := store.AppendInteractionLog(ctx, entry)
	require.NoError(t, err)
	assert.True(t, inserted)

	dup := *entry
	dup.ID = uuid.Nil
	inserted, err = store.AppendInteractionLog(ctx, &dup)
	require.NoError(t, err)
	assert.False(t, inserted)

	status := models.MessageStatusSent
	listed, err := store.ListMessages(ctx, models.MessageFilter{RestaurantID: s.restaurantID, Status: &status, Limit: 10})
	require.NoError(t, err)
	assert.Len(t, listed, 1)

	_, err = store.UpdateMessageStatus(ctx, uuid.New(), models.Transition{From: models.MessageStatusSent, To: models.MessageStatusDelivered})
	assert.True(t, apperrors.IsNotFound(err))
}

func TestStore_WithinTxRollsBackInteractionLog(t *testing.T) {
	store := getTestStore(t)
	ctx := context.Background()

	pmid := "SM" + uuid.NewString()
	entry := func() *models.InteractionLog {
		return &models.InteractionLog{
			ProviderMessageID: &pmid,
			EventType:         models.EventTypeDelivered,
			Provider:          "twilio",
			OccurredAt:        time.Now(),
		}
	}

	err := store.WithinTx(ctx, func(ctx context.Context) error {
		inserted, err := store.AppendInteractionLog(ctx, entry())
		require.NoError(t, err)
		require.True(t, inserted)
		return errors.New("connection reset")
	})
	require.Error(t, err)

	var inserted bool
	err = store.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		inserted, err = store.AppendInteractionLog(ctx, entry())
		return err
	})
	require.NoError(t, err)
	assert.True(t, inserted, "the rolled back entry does not block a retry")

	inserted, err = store.AppendInteractionLog(ctx, entry())
	require.NoError(t, err)
	assert.False(t, inserted)
}
