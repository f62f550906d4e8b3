package memory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gustausantin/La-ia-app-sub001/pkg/apperrors"
	"github.com/gustausantin/La-ia-app-sub001/pkg/models"
)

func insertPlanned(t *testing.T, s *Store, customerID uuid.UUID, scheduledFor time.Time) *models.ScheduledMessage {
	t.Helper()
	msg := &models.ScheduledMessage{
		RestaurantID:   uuid.New(),
		CustomerID:     customerID,
		ChannelPlanned: models.ChannelWhatsApp,
		Status:         models.MessageStatusPlanned,
		ScheduledFor:   scheduledFor,
	}
	require.NoError(t, s.InsertScheduledMessage(context.Background(), msg))
	return msg
}

func TestUpdateMessageStatus_OnlyOneClaimWins(t *testing.T) {
	s := NewStore()
	msg := insertPlanned(t, s, uuid.New(), time.Now())

	var wins, races int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.UpdateMessageStatus(context.Background(), msg.ID, models.Transition{
				From: models.MessageStatusPlanned,
				To:   models.MessageStatusProcessing,
			})
			if err == nil {
				atomic.AddInt32(&wins, 1)
			} else if apperrors.IsRaceLost(err) {
				atomic.AddInt32(&races, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins)
	assert.Equal(t, int32(19), races)
}

func TestUpdateMessageStatus_RecordsFields(t *testing.T) {
	s := NewStore()
	msg := insertPlanned(t, s, uuid.New(), time.Now())
	at := time.Date(2026, 10, 1, 10, 0, 0, 0, time.UTC)
	worker := "worker-1"

	claimed, err := s.UpdateMessageStatus(context.Background(), msg.ID, models.Transition{
		From: models.MessageStatusPlanned, To: models.MessageStatusProcessing, At: at, ClaimedBy: &worker,
	})
	require.NoError(t, err)
	assert.Equal(t, &worker, claimed.ClaimedBy)
	assert.Equal(t, at, *claimed.ClaimedAt)

	pmid := "SM123"
	final := models.ChannelEmail
	sent, err := s.UpdateMessageStatus(context.Background(), msg.ID, models.Transition{
		From: models.MessageStatusProcessing, To: models.MessageStatusSent, At: at,
		ProviderMessageID: &pmid, ChannelFinal: &final,
	})
	require.NoError(t, err)
	assert.Equal(t, models.MessageStatusSent, sent.Status)
	assert.Equal(t, at, *sent.SentAt)

	found, err := s.GetMessageByProviderID(context.Background(), pmid)
	require.NoError(t, err)
	assert.Equal(t, msg.ID, found.ID)
}

func TestEditAndRescheduleRequirePlanned(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	msg := insertPlanned(t, s, uuid.New(), time.Now().Add(time.Hour))

	require.NoError(t, s.EditMessageContent(ctx, msg.ID, "nuevo texto"))
	got, err := s.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, "nuevo texto", got.ContentRendered)

	_, err = s.UpdateMessageStatus(ctx, msg.ID, models.Transition{From: models.MessageStatusPlanned, To: models.MessageStatusSkipped})
	require.NoError(t, err)

	assert.True(t, apperrors.IsRaceLost(s.EditMessageContent(ctx, msg.ID, "x")))
	assert.True(t, apperrors.IsRaceLost(s.RescheduleMessage(ctx, msg.ID, time.Now())))
	assert.True(t, apperrors.IsNotFound(s.EditMessageContent(ctx, uuid.New(), "x")))
}

func TestCountActiveMessages_ExcludesFailedAndSkipped(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	customerID := uuid.New()

	insertPlanned(t, s, customerID, time.Now())
	skipped := insertPlanned(t, s, customerID, time.Now())
	_, err := s.UpdateMessageStatus(ctx, skipped.ID, models.Transition{From: models.MessageStatusPlanned, To: models.MessageStatusSkipped})
	require.NoError(t, err)

	count, err := s.CountActiveMessages(ctx, customerID, models.ChannelWhatsApp, time.Now().Add(-7*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	count, err = s.CountActiveMessages(ctx, customerID, models.ChannelEmail, time.Now().Add(-7*24*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestCountActiveMessages_CountsTheChannelUsed(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	customerID := uuid.New()
	since := time.Now().Add(-7 * 24 * time.Hour)

	msg := insertPlanned(t, s, customerID, time.Now())
	worker := "worker-1"
	_, err := s.UpdateMessageStatus(ctx, msg.ID, models.Transition{
		From: models.MessageStatusPlanned, To: models.MessageStatusProcessing, ClaimedBy: &worker,
	})
	require.NoError(t, err)
	pmid := "re_1"
	email := models.ChannelEmail
	_, err = s.UpdateMessageStatus(ctx, msg.ID, models.Transition{
		From: models.MessageStatusProcessing, To: models.MessageStatusSent, ProviderMessageID: &pmid, ChannelFinal: &email,
	})
	require.NoError(t, err)

	count, err := s.CountActiveMessages(ctx, customerID, models.ChannelEmail, since)
	require.NoError(t, err)
	assert.Equal(t, 1, count, "a fallback send uses a slot of the channel it went out on")

	count, err = s.CountActiveMessages(ctx, customerID, models.ChannelWhatsApp, since)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestListDueMessages_OrderedAndFiltered(t *testing.T) {
	s := NewStore()
	now := time.Now()
	later := insertPlanned(t, s, uuid.New(), now.Add(-time.Minute))
	earlier := insertPlanned(t, s, uuid.New(), now.Add(-time.Hour))
	insertPlanned(t, s, uuid.New(), now.Add(time.Hour))

	due, err := s.ListDueMessages(context.Background(), now, 10)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, earlier.ID, due[0].ID)
	assert.Equal(t, later.ID, due[1].ID)
}

func TestAppendInteractionLog_Dedup(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	pmid := "SM1"

	inserted, err := s.AppendInteractionLog(ctx, &models.InteractionLog{ProviderMessageID: &pmid, EventType: models.EventTypeDelivered})
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = s.AppendInteractionLog(ctx, &models.InteractionLog{ProviderMessageID: &pmid, EventType: models.EventTypeDelivered})
	require.NoError(t, err)
	assert.False(t, inserted)

	inserted, err = s.AppendInteractionLog(ctx, &models.InteractionLog{ProviderMessageID: &pmid, EventType: models.EventTypeFailed})
	require.NoError(t, err)
	assert.True(t, inserted)

	assert.Len(t, s.InteractionLogs(), 2)
}

func TestAppendInteractionLog_EntriesWithoutProviderIDAreKept(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	messageID := uuid.New()

	for i := 0; i < 2; i++ {
		inserted, err := s.AppendInteractionLog(ctx, &models.InteractionLog{MessageID: &messageID, EventType: models.EventTypeFailed})
		require.NoError(t, err)
		assert.True(t, inserted)
	}
	assert.Len(t, s.InteractionLogs(), 2)
}

func TestWithinTx_RevertsWritesWhenFnFails(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	msg := insertPlanned(t, s, uuid.New(), time.Now())
	pmid := "SM1"

	err := s.WithinTx(ctx, func(ctx context.Context) error {
		inserted, err := s.AppendInteractionLog(ctx, &models.InteractionLog{ProviderMessageID: &pmid, EventType: models.EventTypeDelivered})
		require.NoError(t, err)
		require.True(t, inserted)
		_, err = s.UpdateMessageStatus(ctx, msg.ID, models.Transition{From: models.MessageStatusPlanned, To: models.MessageStatusProcessing})
		require.NoError(t, err)
		return errors.New("connection reset")
	})
	require.EqualError(t, err, "connection reset")

	assert.Empty(t, s.InteractionLogs())
	stored, err := s.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MessageStatusPlanned, stored.Status)
	assert.Nil(t, stored.ClaimedAt)

	inserted, err := s.AppendInteractionLog(ctx, &models.InteractionLog{ProviderMessageID: &pmid, EventType: models.EventTypeDelivered})
	require.NoError(t, err)
	assert.True(t, inserted, "a reverted entry does not count as seen")
}

func TestWithinTx_KeepsWritesWhenFnSucceeds(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	pmid := "SM1"

	err := s.WithinTx(ctx, func(ctx context.Context) error {
		_, err := s.AppendInteractionLog(ctx, &models.InteractionLog{ProviderMessageID: &pmid, EventType: models.EventTypeSent})
		return err
	})
	require.NoError(t, err)
	assert.Len(t, s.InteractionLogs(), 1)
}

func TestGetRestaurantSettings_DefaultsWhenMissing(t *testing.T) {
	s := NewStore()
	id := uuid.New()

	settings, err := s.GetRestaurantSettings(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, id, settings.RestaurantID)
	assert.Equal(t, 85, settings.Risk.HighThreshold)
}
