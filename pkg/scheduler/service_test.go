package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gustausantin/La-ia-app-sub001/pkg/apperrors"
	"github.com/gustausantin/La-ia-app-sub001/pkg/models"
	"github.com/gustausantin/La-ia-app-sub001/pkg/providers"
	"github.com/gustausantin/La-ia-app-sub001/pkg/store/memory"
	"github.com/gustausantin/La-ia-app-sub001/pkg/templates"
)

var testNow = time.Date(2026, 10, 15, 10, 0, 0, 0, time.UTC)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func strPtr(s string) *string { return &s }

type sendCall struct {
	channel     models.Channel
	destination string
	content     providers.Content
}

type fakeSender struct {
	mu     sync.Mutex
	calls  []sendCall
	result providers.SendResult
	err    error
}

func (f *fakeSender) NormalizeDestination(channel models.Channel, destination string) (string, error) {
	if channel == models.ChannelWhatsApp {
		return providers.NormalizePhone(destination, "ES")
	}
	return destination, nil
}

func (f *fakeSender) Send(_ context.Context, channel models.Channel, destination string, content providers.Content, _ models.Credentials) (providers.SendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, sendCall{channel, destination, content})
	if f.err != nil {
		return providers.SendResult{}, f.err
	}
	result := f.result
	if result.Success && result.ProviderMessageID == "" {
		result.ProviderMessageID = uuid.NewString()
	}
	result.Provider = "fake"
	return result, nil
}

func (f *fakeSender) Calls() []sendCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sendCall(nil), f.calls...)
}

type backoffCall struct {
	channel models.Channel
	d       time.Duration
}

type fakeThrottle struct {
	mu       sync.Mutex
	allow    bool
	calls    int
	backoffs []backoffCall
}

func (f *fakeThrottle) Allow(context.Context, uuid.UUID, models.Channel) (bool, time.Duration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.allow, time.Minute, nil
}

func (f *fakeThrottle) Backoff(_ context.Context, _ uuid.UUID, channel models.Channel, d time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.backoffs = append(f.backoffs, backoffCall{channel, d})
	return nil
}

type fakeHealth struct {
	healthy   bool
	successes int
	failures  int
}

func (f *fakeHealth) Healthy(uuid.UUID, models.Channel) bool { return f.healthy }
func (f *fakeHealth) RecordSuccess(context.Context, uuid.UUID, models.Channel) {
	f.successes++
}
func (f *fakeHealth) RecordFailure(context.Context, uuid.UUID, models.Channel, string) bool {
	f.failures++
	return false
}

type fixture struct {
	store      *memory.Store
	sender     *fakeSender
	service    *Service
	settings   models.RestaurantSettings
	customer   models.Customer
	whatsapp   models.MessageTemplate
	email      models.MessageTemplate
	restaurant uuid.UUID
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	ctx := context.Background()
	store := memory.NewStore()
	store.SetClock(func() time.Time { return testNow })

	restaurantID := uuid.New()
	settings := models.DefaultRestaurantSettings(restaurantID)
	settings.Name = "Casa Pepe"
	require.NoError(t, store.UpsertRestaurantSettings(ctx, settings))

	customer := models.Customer{
		ID:              uuid.New(),
		RestaurantID:    restaurantID,
		FirstName:       "Ana",
		Email:           strPtr("ana@example.com"),
		Phone:           strPtr("600 111 222"),
		ConsentEmail:    true,
		ConsentWhatsApp: true,
	}
	require.NoError(t, store.UpsertCustomer(ctx, customer))

	whatsapp := models.MessageTemplate{ID: uuid.New(), RestaurantID: restaurantID, Name: "wa", Channel: models.ChannelWhatsApp,
		Body: "Hola {{ customer.first_name }}, te esperamos en {{ restaurant.name }}"}
	email := models.MessageTemplate{ID: uuid.New(), RestaurantID: restaurantID, Name: "mail", Channel: models.ChannelEmail,
		Subject: strPtr("Te echamos de menos"), Body: "<p>Hola {{ customer.first_name }}</p>"}
	require.NoError(t, store.UpsertTemplate(ctx, whatsapp))
	require.NoError(t, store.UpsertTemplate(ctx, email))

	require.NoError(t, store.UpsertCredentials(ctx, restaurantID, models.WhatsAppCredentials{AccountSID: "AC1", AuthToken: "t", FromNumber: "+14155238886"}))
	require.NoError(t, store.UpsertCredentials(ctx, restaurantID, models.EmailCredentials{APIKey: "k", FromAddress: "hola@casapepe.es"}))

	sender := &fakeSender{result: providers.SendResult{Success: true, Status: "queued"}}
	opts = append([]Option{WithClock(func() time.Time { return testNow })}, opts...)
	service := NewService(store, templates.NewRenderer(nil), sender,
		providers.NewCredentialResolver(store, 0, 0),
		Config{WorkerID: "test-worker"}, testLogger(), opts...)

	return &fixture{
		store:      store,
		sender:     sender,
		service:    service,
		settings:   settings,
		customer:   customer,
		whatsapp:   whatsapp,
		email:      email,
		restaurant: restaurantID,
	}
}

func (f *fixture) enqueue(t *testing.T, tmpl models.MessageTemplate, delay time.Duration) *models.ScheduledMessage {
	t.Helper()
	msg, err := f.service.Enqueue(context.Background(), EnqueueRequest{
		Settings: f.settings,
		Customer: f.customer,
		Template: tmpl,
		Delay:    delay,
	})
	require.NoError(t, err)
	return msg
}

func (f *fixture) get(t *testing.T, id uuid.UUID) *models.ScheduledMessage {
	t.Helper()
	msg, err := f.store.GetMessage(context.Background(), id)
	require.NoError(t, err)
	return msg
}

func TestEnqueue_RendersAndPlans(t *testing.T) {
	f := newFixture(t)

	msg := f.enqueue(t, f.whatsapp, 30*time.Minute)

	assert.Equal(t, models.MessageStatusPlanned, msg.Status)
	assert.Equal(t, models.ChannelWhatsApp, msg.ChannelPlanned)
	assert.Equal(t, "Hola Ana, te esperamos en Casa Pepe", msg.ContentRendered)
	assert.Equal(t, testNow.Add(30*time.Minute), msg.ScheduledFor)
	assert.Nil(t, msg.RuleID)
}

func TestEnqueue_ValidationErrors(t *testing.T) {
	f := newFixture(t)
	broken := f.whatsapp
	broken.Body = "Hola {{ customer.nickname }}"

	_, err := f.service.Enqueue(context.Background(), EnqueueRequest{Settings: f.settings, Customer: f.customer, Template: broken})
	assert.True(t, apperrors.IsValidationError(err))

	_, err = f.service.Enqueue(context.Background(), EnqueueRequest{Settings: f.settings, Customer: f.customer, Template: f.whatsapp, Delay: -time.Minute})
	assert.True(t, apperrors.IsValidationError(err))
}

func TestClaimDueMessages_OnlyDue(t *testing.T) {
	f := newFixture(t)
	due := f.enqueue(t, f.whatsapp, 0)
	later := f.enqueue(t, f.whatsapp, time.Hour)

	claimed, stats, err := f.service.ClaimDueMessages(context.Background())
	require.NoError(t, err)

	require.Len(t, claimed, 1)
	assert.Equal(t, due.ID, claimed[0].ID)
	assert.Equal(t, models.MessageStatusProcessing, claimed[0].Status)
	assert.Equal(t, "test-worker", *claimed[0].ClaimedBy)
	assert.Equal(t, 1, stats.Claimed)
	assert.Equal(t, models.MessageStatusPlanned, f.get(t, later.ID).Status)
}

func TestClaimDueMessages_ConcurrentInstancesClaimOnce(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 25; i++ {
		f.enqueue(t, f.whatsapp, 0)
	}

	other := NewService(f.store, templates.NewRenderer(nil), f.sender, providers.NewCredentialResolver(f.store, 0, 0),
		Config{WorkerID: "other-worker"}, testLogger(), WithClock(func() time.Time { return testNow }))

	var wg sync.WaitGroup
	results := make([][]models.ScheduledMessage, 2)
	for i, svc := range []*Service{f.service, other} {
		wg.Add(1)
		go func(i int, svc *Service) {
			defer wg.Done()
			claimed, _, err := svc.ClaimDueMessages(context.Background())
			assert.NoError(t, err)
			results[i] = claimed
		}(i, svc)
	}
	wg.Wait()

	seen := map[uuid.UUID]bool{}
	for _, claimed := range results {
		for _, msg := range claimed {
			assert.False(t, seen[msg.ID], "message %s claimed twice", msg.ID)
			seen[msg.ID] = true
		}
	}
	assert.Len(t, seen, 25)
}

func TestClaimDueMessages_ThrottledAndUnhealthyStayPlanned(t *testing.T) {
	t.Run("throttled", func(t *testing.T) {
		f := newFixture(t, WithThrottle(&fakeThrottle{allow: false}))
		msg := f.enqueue(t, f.whatsapp, 0)

		claimed, stats, err := f.service.ClaimDueMessages(context.Background())
		require.NoError(t, err)
		assert.Empty(t, claimed)
		assert.Equal(t, 1, stats.Throttled)
		assert.Equal(t, models.MessageStatusPlanned, f.get(t, msg.ID).Status)
	})

	t.Run("throttled row is released", func(t *testing.T) {
		f := newFixture(t, WithThrottle(&fakeThrottle{allow: false}))
		msg := f.enqueue(t, f.whatsapp, 0)

		_, _, err := f.service.ClaimDueMessages(context.Background())
		require.NoError(t, err)

		f.service.throttle = &fakeThrottle{allow: true}
		claimed := claimOne(t, f)
		assert.Equal(t, msg.ID, claimed.ID)
	})

	t.Run("error burst", func(t *testing.T) {
		f := newFixture(t, WithHealthTracker(&fakeHealth{healthy: false}))
		msg := f.enqueue(t, f.whatsapp, 0)

		claimed, stats, err := f.service.ClaimDueMessages(context.Background())
		require.NoError(t, err)
		assert.Empty(t, claimed)
		assert.Equal(t, 1, stats.Deferred)
		assert.Equal(t, models.MessageStatusPlanned, f.get(t, msg.ID).Status)
	})
}

func TestClaimDueMessages_OnlyWonClaimsSpendSendSlots(t *testing.T) {
	throttle := &fakeThrottle{allow: true}
	f := newFixture(t, WithThrottle(throttle))
	for i := 0; i < 25; i++ {
		f.enqueue(t, f.whatsapp, 0)
	}

	other := NewService(f.store, templates.NewRenderer(nil), f.sender, providers.NewCredentialResolver(f.store, 0, 0),
		Config{WorkerID: "other-worker"}, testLogger(), WithClock(func() time.Time { return testNow }), WithThrottle(throttle))

	var wg sync.WaitGroup
	var raceLost int
	var mu sync.Mutex
	for _, svc := range []*Service{f.service, other} {
		wg.Add(1)
		go func(svc *Service) {
			defer wg.Done()
			_, stats, err := svc.ClaimDueMessages(context.Background())
			assert.NoError(t, err)
			mu.Lock()
			raceLost += stats.RaceLost
			mu.Unlock()
		}(svc)
	}
	wg.Wait()

	assert.Equal(t, 25, throttle.calls, "lost races (%d) spend no slot", raceLost)
}

func claimOne(t *testing.T, f *fixture) models.ScheduledMessage {
	t.Helper()
	claimed, _, err := f.service.ClaimDueMessages(context.Background())
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	return claimed[0]
}

func TestDispatch_Success(t *testing.T) {
	health := &fakeHealth{healthy: true}
	f := newFixture(t, WithHealthTracker(health))
	f.enqueue(t, f.whatsapp, 0)

	sent, err := f.service.Dispatch(context.Background(), claimOne(t, f))
	require.NoError(t, err)

	assert.Equal(t, models.MessageStatusSent, sent.Status)
	require.NotNil(t, sent.ProviderMessageID)
	assert.Equal(t, models.ChannelWhatsApp, *sent.ChannelFinal)
	assert.Equal(t, testNow, *sent.SentAt)
	assert.Equal(t, 1, health.successes)

	calls := f.sender.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "+34600111222", calls[0].destination)

	logs := f.store.InteractionLogs()
	require.Len(t, logs, 1)
	assert.Equal(t, models.EventTypeSent, logs[0].EventType)
	assert.Equal(t, sent.ProviderMessageID, logs[0].ProviderMessageID)
}

func TestDispatch_ProviderRejection(t *testing.T) {
	health := &fakeHealth{healthy: true}
	f := newFixture(t, WithHealthTracker(health))
	f.sender.result = providers.SendResult{Success: false, Status: "failed", Error: "Invalid 'To' Phone Number", ErrorCode: "21211"}
	f.enqueue(t, f.whatsapp, 0)

	failed, err := f.service.Dispatch(context.Background(), claimOne(t, f))
	require.NoError(t, err)

	assert.Equal(t, models.MessageStatusFailed, failed.Status)
	assert.Equal(t, "Invalid 'To' Phone Number (21211)", *failed.LastError)
	assert.Nil(t, failed.SentAt)
	assert.Equal(t, 1, health.failures)
}

func TestDispatch_RateLimitedBacksOffChannel(t *testing.T) {
	throttle := &fakeThrottle{allow: true}
	f := newFixture(t, WithThrottle(throttle))
	f.sender.result = providers.SendResult{Success: false, Status: "failed", Error: "Too Many Requests", ErrorCode: "20429", RetryAfter: 30 * time.Second}
	f.enqueue(t, f.whatsapp, 0)

	failed, err := f.service.Dispatch(context.Background(), claimOne(t, f))
	require.NoError(t, err)

	assert.Equal(t, models.MessageStatusFailed, failed.Status)
	require.Len(t, throttle.backoffs, 1)
	assert.Equal(t, backoffCall{models.ChannelWhatsApp, 30 * time.Second}, throttle.backoffs[0])
}

func TestDispatch_RejectionWithoutRetryAfterDoesNotBackOff(t *testing.T) {
	throttle := &fakeThrottle{allow: true}
	f := newFixture(t, WithThrottle(throttle))
	f.sender.result = providers.SendResult{Success: false, Status: "failed", Error: "Invalid 'To' Phone Number", ErrorCode: "21211"}
	f.enqueue(t, f.whatsapp, 0)

	_, err := f.service.Dispatch(context.Background(), claimOne(t, f))
	require.NoError(t, err)
	assert.Empty(t, throttle.backoffs)
}

func TestDispatch_TransportErrorIsGenericFailure(t *testing.T) {
	f := newFixture(t)
	f.sender.err = apperrors.NewProviderError("fake", errors.New("context deadline exceeded"))
	f.enqueue(t, f.email, 0)

	failed, err := f.service.Dispatch(context.Background(), claimOne(t, f))
	require.NoError(t, err)

	assert.Equal(t, models.MessageStatusFailed, failed.Status)
	assert.Contains(t, *failed.LastError, "provider unavailable")
}

func TestDispatch_MissingCredentialsNeverCallsProvider(t *testing.T) {
	f := newFixture(t)
	other := uuid.New()
	customer := f.customer
	customer.ID = uuid.New()
	customer.RestaurantID = other
	require.NoError(t, f.store.UpsertCustomer(context.Background(), customer))

	settings := models.DefaultRestaurantSettings(other)
	_, err := f.service.Enqueue(context.Background(), EnqueueRequest{Settings: settings, Customer: customer, Template: f.email})
	require.NoError(t, err)

	failed, err := f.service.Dispatch(context.Background(), claimOne(t, f))
	require.NoError(t, err)

	assert.Equal(t, models.MessageStatusFailed, failed.Status)
	assert.Contains(t, *failed.LastError, "configuration error")
	assert.Empty(t, f.sender.Calls())
}

func TestDispatch_FallbackChannel(t *testing.T) {
	f := newFixture(t)
	f.customer.ConsentWhatsApp = false
	require.NoError(t, f.store.UpsertCustomer(context.Background(), f.customer))

	_, err := f.service.Enqueue(context.Background(), EnqueueRequest{
		Settings:           f.settings,
		Customer:           f.customer,
		Template:           f.whatsapp,
		FallbackTemplateID: &f.email.ID,
	})
	require.NoError(t, err)

	sent, err := f.service.Dispatch(context.Background(), claimOne(t, f))
	require.NoError(t, err)

	assert.Equal(t, models.MessageStatusSent, sent.Status)
	assert.Equal(t, models.ChannelWhatsApp, sent.ChannelPlanned)
	assert.Equal(t, models.ChannelEmail, *sent.ChannelFinal)

	calls := f.sender.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, models.ChannelEmail, calls[0].channel)
	assert.Equal(t, "ana@example.com", calls[0].destination)
	assert.Equal(t, "<p>Hola Ana</p>", calls[0].content.Body)
	assert.Equal(t, "Te echamos de menos", *calls[0].content.Subject)
}

func TestDispatch_NoDestinationWithoutFallbackFails(t *testing.T) {
	f := newFixture(t)
	f.customer.Phone = nil
	require.NoError(t, f.store.UpsertCustomer(context.Background(), f.customer))
	f.enqueue(t, f.whatsapp, 0)

	failed, err := f.service.Dispatch(context.Background(), claimOne(t, f))
	require.NoError(t, err)
	assert.Equal(t, models.MessageStatusFailed, failed.Status)
	assert.Contains(t, *failed.LastError, "no contactable whatsapp destination")
	assert.Empty(t, f.sender.Calls())
}

func TestDispatch_FailuresBeforeSendAreLogged(t *testing.T) {
	f := newFixture(t)
	f.customer.Phone = nil
	require.NoError(t, f.store.UpsertCustomer(context.Background(), f.customer))
	first := f.enqueue(t, f.whatsapp, 0)
	second := f.enqueue(t, f.whatsapp, 0)

	claimed, _, err := f.service.ClaimDueMessages(context.Background())
	require.NoError(t, err)
	require.Len(t, claimed, 2)
	for _, msg := range claimed {
		_, err := f.service.Dispatch(context.Background(), msg)
		require.NoError(t, err)
	}

	logs := f.store.InteractionLogs()
	require.Len(t, logs, 2, "entries without a provider id are never deduplicated")
	ids := []uuid.UUID{*logs[0].MessageID, *logs[1].MessageID}
	assert.ElementsMatch(t, []uuid.UUID{first.ID, second.ID}, ids)
	for _, entry := range logs {
		assert.Equal(t, models.EventTypeFailed, entry.EventType)
		assert.Nil(t, entry.ProviderMessageID)
		assert.Equal(t, LocalProvider, entry.Provider)
		assert.Equal(t, f.customer.ID, *entry.CustomerID)
		assert.Equal(t, models.ChannelWhatsApp, *entry.Channel)
		assert.Contains(t, string(entry.Payload), "no contactable whatsapp destination")
	}
}

func TestDispatch_ProviderRejectionIsLoggedWithProvider(t *testing.T) {
	f := newFixture(t)
	f.sender.result = providers.SendResult{Success: false, Status: "undelivered", ProviderMessageID: "SM7", Error: "Unknown destination", ErrorCode: "63003"}
	f.enqueue(t, f.whatsapp, 0)

	_, err := f.service.Dispatch(context.Background(), claimOne(t, f))
	require.NoError(t, err)

	logs := f.store.InteractionLogs()
	require.Len(t, logs, 1)
	assert.Equal(t, models.EventTypeFailed, logs[0].EventType)
	assert.Equal(t, "SM7", *logs[0].ProviderMessageID)
	assert.Equal(t, "fake", logs[0].Provider)
}

func TestDispatch_RequiresProcessing(t *testing.T) {
	f := newFixture(t)
	msg := f.enqueue(t, f.whatsapp, 0)

	_, err := f.service.Dispatch(context.Background(), *msg)
	assert.True(t, apperrors.IsInvalidTransition(err))
}

func TestRecoverStale(t *testing.T) {
	f := newFixture(t)
	f.enqueue(t, f.whatsapp, 0)
	claimed := claimOne(t, f)

	recovered, err := f.service.RecoverStale(context.Background())
	require.NoError(t, err)
	assert.Zero(t, recovered, "fresh claims are left alone")

	later := NewService(f.store, templates.NewRenderer(nil), f.sender, providers.NewCredentialResolver(f.store, 0, 0),
		Config{ClaimTimeout: time.Minute}, testLogger(), WithClock(func() time.Time { return testNow.Add(2 * time.Minute) }))
	recovered, err = later.RecoverStale(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, recovered)

	msg := f.get(t, claimed.ID)
	assert.Equal(t, models.MessageStatusFailed, msg.Status)
	assert.Equal(t, InterruptedError, *msg.LastError)

	assert.Empty(t, f.sender.Calls(), "recovery never re-sends")

	claimedAgain, _, err := later.ClaimDueMessages(context.Background())
	require.NoError(t, err)
	assert.Empty(t, claimedAgain)
}

func TestSendNow(t *testing.T) {
	f := newFixture(t)
	msg := f.enqueue(t, f.whatsapp, 2*time.Hour)

	updated, err := f.service.SendNow(context.Background(), msg.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MessageStatusPlanned, updated.Status)
	assert.Equal(t, testNow, updated.ScheduledFor)

	claimOne(t, f)
	_, err = f.service.SendNow(context.Background(), msg.ID)
	assert.True(t, apperrors.IsInvalidTransition(err))
}

func TestSkip(t *testing.T) {
	f := newFixture(t)
	msg := f.enqueue(t, f.whatsapp, time.Hour)

	skipped, err := f.service.Skip(context.Background(), msg.ID, "  cliente llamó  ")
	require.NoError(t, err)
	assert.Equal(t, models.MessageStatusSkipped, skipped.Status)
	assert.Equal(t, "cliente llamó", *skipped.SkipReason)

	_, err = f.service.Skip(context.Background(), msg.ID, "again")
	assert.True(t, apperrors.IsInvalidTransition(err))

	other := f.enqueue(t, f.whatsapp, time.Hour)
	skipped, err = f.service.Skip(context.Background(), other.ID, "")
	require.NoError(t, err)
	assert.Equal(t, DefaultSkipReason, *skipped.SkipReason)

	_, err = f.service.Skip(context.Background(), uuid.New(), "x")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestEdit(t *testing.T) {
	f := newFixture(t)
	msg := f.enqueue(t, f.whatsapp, 0)

	edited, err := f.service.Edit(context.Background(), msg.ID, "Hola Ana, mesa lista")
	require.NoError(t, err)
	assert.Equal(t, "Hola Ana, mesa lista", edited.ContentRendered)

	_, err = f.service.Edit(context.Background(), msg.ID, "   ")
	assert.True(t, apperrors.IsValidationError(err))

	claimed := claimOne(t, f)
	_, err = f.service.Dispatch(context.Background(), claimed)
	require.NoError(t, err)

	_, err = f.service.Edit(context.Background(), msg.ID, "too late")
	assert.True(t, apperrors.IsInvalidTransition(err))
	assert.Equal(t, "Hola Ana, mesa lista", f.sender.Calls()[0].content.Body)
}

func TestPreview(t *testing.T) {
	f := newFixture(t)
	msg := f.enqueue(t, f.email, time.Hour)

	preview, err := f.service.Preview(context.Background(), msg.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ChannelEmail, preview.Channel)
	assert.Equal(t, "Te echamos de menos", *preview.Subject)
	assert.Equal(t, "<p>Hola Ana</p>", preview.Body)
}

func TestTerminalStatesNeverChange(t *testing.T) {
	f := newFixture(t)
	msg := f.enqueue(t, f.whatsapp, 0)
	_, err := f.service.Dispatch(context.Background(), claimOne(t, f))
	require.NoError(t, err)

	delivered, err := f.store.UpdateMessageStatus(context.Background(), msg.ID, models.Transition{
		From: models.MessageStatusSent, To: models.MessageStatusDelivered,
	})
	require.NoError(t, err)
	require.Equal(t, models.MessageStatusDelivered, delivered.Status)

	_, err = f.service.Skip(context.Background(), msg.ID, "x")
	assert.Error(t, err)
	_, err = f.service.SendNow(context.Background(), msg.ID)
	assert.Error(t, err)
	_, err = f.service.Edit(context.Background(), msg.ID, "x")
	assert.Error(t, err)
	assert.Equal(t, models.MessageStatusDelivered, f.get(t, msg.ID).Status)
}
