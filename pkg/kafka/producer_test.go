package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gustausantin/La-ia-app-sub001/pkg/models"
)

type fakeWriter struct {
	messages []kafka.Message
	err      error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func newTestProducer(w *fakeWriter) *Producer {
	return &Producer{
		writer: w,
		logger: ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {}),
		topic:  "lifecycle.events",
	}
}

func TestParseConfig(t *testing.T) {
	cfg := ParseConfig(" broker-1:9092, broker-2:9092 ,", "lifecycle.events")
	assert.Equal(t, []string{"broker-1:9092", "broker-2:9092"}, cfg.Brokers)
	assert.True(t, cfg.Enabled())

	assert.False(t, ParseConfig("", "lifecycle.events").Enabled())
	assert.False(t, ParseConfig("broker:9092", "").Enabled())
}

func TestNewLifecycleEvent(t *testing.T) {
	final := models.ChannelEmail
	reason := "customer opted out"
	msg := &models.ScheduledMessage{
		ID:             uuid.New(),
		RestaurantID:   uuid.New(),
		CustomerID:     uuid.New(),
		ChannelPlanned: models.ChannelWhatsApp,
		ChannelFinal:   &final,
		Status:         models.MessageStatusSkipped,
		SkipReason:     &reason,
		UpdatedAt:      time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC),
	}

	evt := NewLifecycleEvent(msg)
	assert.Equal(t, EventMessageSkipped, evt.Type)
	assert.Equal(t, models.ChannelEmail, evt.Channel)
	assert.Equal(t, &reason, evt.Reason)
	assert.Equal(t, msg.UpdatedAt, evt.Timestamp)

	assert.Empty(t, EventTypeFor(models.MessageStatusProcessing))
}

func TestPublishLifecycleEvent(t *testing.T) {
	w := &fakeWriter{}
	p := newTestProducer(w)
	msgID := uuid.New()

	err := p.PublishLifecycleEvent(context.Background(), &LifecycleEvent{
		Type:         EventMessageSent,
		RestaurantID: uuid.New(),
		MessageID:    msgID,
		Status:       models.MessageStatusSent,
	})
	require.NoError(t, err)
	require.Len(t, w.messages, 1)

	written := w.messages[0]
	assert.Equal(t, msgID.String(), string(written.Key))

	var decoded LifecycleEvent
	require.NoError(t, json.Unmarshal(written.Value, &decoded))
	assert.Equal(t, EventMessageSent, decoded.Type)
	assert.False(t, decoded.Timestamp.IsZero())

	headers := map[string]string{}
	for _, h := range written.Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, msgID.String(), headers["message_id"])
	assert.Equal(t, EventMessageSent, headers["type"])
}

func TestPublishLifecycleEvent_Errors(t *testing.T) {
	p := newTestProducer(&fakeWriter{err: errors.New("broker down")})

	assert.Error(t, p.PublishLifecycleEvent(context.Background(), nil))
	assert.EqualError(t, p.PublishLifecycleEvent(context.Background(), &LifecycleEvent{Type: EventMessageQueued}), "broker down")
	assert.NoError(t, NoopPublisher{}.PublishLifecycleEvent(context.Background(), nil))
}
