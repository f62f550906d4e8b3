package webhooks

import (
	"context"
	"fmt"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/gustausantin/La-ia-app-sub001/pkg/apperrors"
	"github.com/gustausantin/La-ia-app-sub001/pkg/kafka"
	"github.com/gustausantin/La-ia-app-sub001/pkg/metrics"
	"github.com/gustausantin/La-ia-app-sub001/pkg/models"
	"github.com/gustausantin/La-ia-app-sub001/pkg/tracing"
)

// Results recorded on the webhook events metric.
const (
	ResultApplied   = "applied"
	ResultDuplicate = "duplicate"
	ResultUnknown   = "unknown_message"
	ResultIgnored   = "ignored"
	ResultIllegal   = "illegal_transition"
	ResultError     = "error"
)

// Store is the persistence the reconciler needs. WithinTx makes the
// interaction log entry and the transition it records commit together.
type Store interface {
	GetMessageByProviderID(ctx context.Context, providerMessageID string) (*models.ScheduledMessage, error)
	UpdateMessageStatus(ctx context.Context, id uuid.UUID, t models.Transition) (*models.ScheduledMessage, error)
	AppendInteractionLog(ctx context.Context, entry *models.InteractionLog) (bool, error)
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Fanout receives every event the reconciler processed.
type Fanout interface {
	Forward(ctx context.Context, ev Event, msg *models.ScheduledMessage)
}

// Outcome reports what Handle did. Success is false only when the event
// could not be recorded at all.
type Outcome struct {
	Success   bool                  `json:"success"`
	Detail    string                `json:"detail"`
	MessageID *uuid.UUID            `json:"message_id,omitempty"`
	Status    *models.MessageStatus `json:"status,omitempty"`
}

type Reconciler struct {
	store  Store
	events kafka.Publisher
	fanout Fanout
	logger ectologger.Logger
}

type Option func(*Reconciler)

func WithEvents(p kafka.Publisher) Option {
	return func(r *Reconciler) { r.events = p }
}

func WithFanout(f Fanout) Option {
	return func(r *Reconciler) { r.fanout = f }
}

func NewReconciler(store Store, logger ectologger.Logger, opts ...Option) *Reconciler {
	r := &Reconciler{
		store:  store,
		events: kafka.NoopPublisher{},
		logger: logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Handle applies one provider event. Redelivery of an event already recorded
// is a successful no-op. An event for a message this system does not know is
// answered as a success without being recorded, so a redelivery that arrives
// once the message is known still applies. Transitions out of a terminal state
// are ignored.
func (r *Reconciler) Handle(ctx context.Context, ev Event) (Outcome, error) {
	ctx, span := tracing.StartSpan(ctx, "Reconciler.Handle")
	defer span.End()

	logger := r.logger.WithContext(ctx).WithFields(map[string]any{
		"provider":            ev.Provider,
		"provider_message_id": ev.ProviderMessageID,
		"event_type":          string(ev.EventType),
	})

	if ev.ProviderMessageID == "" {
		return Outcome{}, apperrors.NewValidationError("provider_message_id", "is required")
	}

	msg, err := r.store.GetMessageByProviderID(ctx, ev.ProviderMessageID)
	if apperrors.IsNotFound(err) {
		metrics.RecordWebhookEvent(ev.Provider, string(ev.EventType), ResultUnknown)
		logger.WithError(err).Info("Webhook for unknown message")
		r.forward(ctx, ev, nil)
		return Outcome{Success: true, Detail: "message not found"}, nil
	}
	if err != nil {
		metrics.RecordWebhookEvent(ev.Provider, string(ev.EventType), ResultError)
		return Outcome{}, fmt.Errorf("failed to look up message: %w", err)
	}

	channel := msg.ChannelPlanned
	if msg.ChannelFinal != nil {
		channel = *msg.ChannelFinal
	}
	entry := &models.InteractionLog{
		ProviderMessageID: &ev.ProviderMessageID,
		EventType:         ev.EventType,
		Provider:          ev.Provider,
		MessageID:         &msg.ID,
		CustomerID:        &msg.CustomerID,
		Channel:           &channel,
		OccurredAt:        ev.Timestamp,
		Payload:           ev.Raw,
	}

	outcome := Outcome{Success: true, MessageID: &msg.ID, Status: &msg.Status}
	transition, result := plan(msg, ev, &outcome)

	var (
		inserted bool
		raced    bool
		updated  *models.ScheduledMessage
	)
	err = r.store.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		if inserted, err = r.store.AppendInteractionLog(ctx, entry); err != nil {
			return fmt.Errorf("failed to record interaction: %w", err)
		}
		if !inserted || transition == nil {
			return nil
		}
		updated, err = r.store.UpdateMessageStatus(ctx, msg.ID, *transition)
		if apperrors.IsRaceLost(err) {
			raced = true
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to apply %s: %w", transition.To, err)
		}
		return nil
	})
	if err != nil {
		metrics.RecordWebhookEvent(ev.Provider, string(ev.EventType), ResultError)
		return Outcome{}, err
	}

	if !inserted {
		metrics.RecordWebhookEvent(ev.Provider, string(ev.EventType), ResultDuplicate)
		logger.Debug("Duplicate webhook event")
		return Outcome{Success: true, Detail: "duplicate event"}, nil
	}

	if raced {
		metrics.RecordWebhookEvent(ev.Provider, string(ev.EventType), ResultIllegal)
		outcome.Detail = fmt.Sprintf("message left %s concurrently", msg.Status)
		return outcome, nil
	}

	if transition == nil {
		metrics.RecordWebhookEvent(ev.Provider, string(ev.EventType), result)
		if result == ResultIllegal {
			logger.Warnf("Message %s: %s", msg.ID, outcome.Detail)
		}
		r.forward(ctx, ev, msg)
		return outcome, nil
	}

	metrics.RecordWebhookEvent(ev.Provider, string(ev.EventType), ResultApplied)
	logger.Infof("Message %s moved %s -> %s", msg.ID, msg.Status, updated.Status)

	if err := r.events.PublishLifecycleEvent(ctx, kafka.NewLifecycleEvent(updated)); err != nil {
		logger.WithError(err).Warnf("failed to publish lifecycle event for message %s", updated.ID)
	}
	r.forward(ctx, ev, updated)

	outcome.Status = &updated.Status
	outcome.Detail = fmt.Sprintf("%s -> %s", msg.Status, updated.Status)
	return outcome, nil
}

// plan decides what ev does to msg. It returns the transition to apply, or nil
// with the metric result and outcome detail of an event that changes nothing.
func plan(msg *models.ScheduledMessage, ev Event, outcome *Outcome) (*models.Transition, string) {
	target, ok := targetStatus(ev.EventType)
	if !ok {
		outcome.Detail = fmt.Sprintf("event %s acknowledged", ev.ProviderStatus)
		return nil, ResultIgnored
	}
	if msg.Status == target {
		outcome.Detail = fmt.Sprintf("message already %s", target)
		return nil, ResultIgnored
	}
	if !models.CanTransition(msg.Status, target) {
		outcome.Detail = fmt.Sprintf("ignored illegal transition %s -> %s", msg.Status, target)
		return nil, ResultIllegal
	}

	transition := &models.Transition{From: msg.Status, To: target, At: ev.Timestamp}
	if target == models.MessageStatusFailed {
		reason := ev.Error
		if reason == "" {
			reason = ev.ProviderStatus
		}
		transition.LastError = &reason
	}
	return transition, ResultApplied
}

func (r *Reconciler) forward(ctx context.Context, ev Event, msg *models.ScheduledMessage) {
	if r.fanout != nil {
		r.fanout.Forward(ctx, ev, msg)
	}
}

func targetStatus(eventType models.EventType) (models.MessageStatus, bool) {
	switch eventType {
	case models.EventTypeSent:
		return models.MessageStatusSent, true
	case models.EventTypeDelivered:
		return models.MessageStatusDelivered, true
	case models.EventTypeFailed:
		return models.MessageStatusFailed, true
	}
	return "", false
}
