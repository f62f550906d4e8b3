package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/gustausantin/La-ia-app-sub001/pkg/apperrors"
	"github.com/gustausantin/La-ia-app-sub001/pkg/database"
	"github.com/gustausantin/La-ia-app-sub001/pkg/models"
	"github.com/gustausantin/La-ia-app-sub001/pkg/tracing"
)

const (
	messagesTable     = "scheduled_messages"
	interactionsTable = "interaction_logs"
)

var messageStruct = database.NewStruct(new(models.ScheduledMessage))

var capStatuses = []any{
	models.MessageStatusPlanned, models.MessageStatusProcessing,
	models.MessageStatusSent, models.MessageStatusDelivered,
}

var openStatuses = []any{
	models.MessageStatusPlanned, models.MessageStatusProcessing, models.MessageStatusSent,
}

// MessageRepository handles scheduled messages and the interaction log
type MessageRepository struct {
	*Repository
}

func NewMessageRepository(db database.DB, logger ectologger.Logger) *MessageRepository {
	return &MessageRepository{Repository: NewRepository(db, logger)}
}

// CountActiveMessages counts the messages of a customer on channel created
// since the given instant that still use a slot of the contact cap. A message
// counts on the channel it went out on, or on its planned channel before that.
func (r *MessageRepository) CountActiveMessages(ctx context.Context, customerID uuid.UUID, channel models.Channel, since time.Time) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "MessageRepository.CountActiveMessages")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select("COUNT(*)").From(messagesTable).Where(
		sb.Equal("customer_id", customerID),
		sb.Equal("COALESCE(channel_final, channel_planned)", channel),
		sb.GreaterEqualThan("created_at", since),
		sb.In("status", capStatuses...),
	)

	query, args := sb.Build()
	var count int
	if err := r.Conn(ctx).GetContext(ctx, &count, query, args...); err != nil {
		return 0, r.internalError(ctx, err, "failed to count active messages", map[string]any{
			"customer_id": customerID,
			"channel":     channel,
		})
	}
	return count, nil
}

func (r *MessageRepository) HasOpenMessage(ctx context.Context, customerID, ruleID uuid.UUID) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "MessageRepository.HasOpenMessage")
	defer span.End()

	inner := database.NewSelectBuilder()
	inner.Select("1").From(messagesTable).Where(
		inner.Equal("customer_id", customerID),
		inner.Equal("rule_id", ruleID),
		inner.In("status", openStatuses...),
	)

	sb := database.NewSelectBuilder()
	sb.Select(sb.Exists(inner))

	query, args := sb.Build()
	var exists bool
	if err := r.Conn(ctx).GetContext(ctx, &exists, query, args...); err != nil {
		return false, r.internalError(ctx, err, "failed to check open messages", map[string]any{
			"customer_id": customerID,
			"rule_id":     ruleID,
		})
	}
	return exists, nil
}

func (r *MessageRepository) InsertScheduledMessage(ctx context.Context, msg *models.ScheduledMessage) error {
	ctx, span := tracing.StartSpan(ctx, "MessageRepository.InsertScheduledMessage")
	defer span.End()

	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}

	ib := database.NewInsertBuilder()
	ib.InsertInto(messagesTable).
		Cols("id", "restaurant_id", "customer_id", "rule_id", "template_id", "fallback_template_id",
			"reservation_id", "channel_planned", "subject", "content_rendered", "status", "scheduled_for",
			"created_at", "updated_at").
		Values(msg.ID, msg.RestaurantID, msg.CustomerID, msg.RuleID, msg.TemplateID, msg.FallbackTemplateID,
			msg.ReservationID, msg.ChannelPlanned, msg.Subject, msg.ContentRendered, msg.Status, msg.ScheduledFor,
			database.Now(), database.Now()).
		Returning("created_at", "updated_at")

	query, args := ib.Build()
	if err := r.Conn(ctx).QueryRowContext(ctx, query, args...).Scan(&msg.CreatedAt, &msg.UpdatedAt); err != nil {
		return r.internalError(ctx, err, "failed to insert scheduled message", map[string]any{
			"message_id":  msg.ID,
			"customer_id": msg.CustomerID,
		})
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"message_id": msg.ID,
	}).Debugf("Created %s", messagesTable)
	return nil
}

func (r *MessageRepository) GetMessage(ctx context.Context, id uuid.UUID) (*models.ScheduledMessage, error) {
	ctx, span := tracing.StartSpan(ctx, "MessageRepository.GetMessage")
	defer span.End()

	return r.getBy(ctx, "id", id, id.String())
}

func (r *MessageRepository) GetMessageByProviderID(ctx context.Context, providerMessageID string) (*models.ScheduledMessage, error) {
	ctx, span := tracing.StartSpan(ctx, "MessageRepository.GetMessageByProviderID")
	defer span.End()

	return r.getBy(ctx, "provider_message_id", providerMessageID, providerMessageID)
}

func (r *MessageRepository) getBy(ctx context.Context, column string, value any, display string) (*models.ScheduledMessage, error) {
	sb := messageStruct.SelectFrom(messagesTable)
	sb.Where(sb.Equal(column, value)).Limit(1)

	query, args := sb.Build()
	var msg models.ScheduledMessage
	err := r.Conn(ctx).GetContext(ctx, &msg, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError("message", display)
	}
	if err != nil {
		return nil, r.internalError(ctx, err, "failed to get message", map[string]any{
			column: display,
		})
	}
	return &msg, nil
}

// ListMessages returns the messages of a restaurant, latest scheduled first.
func (r *MessageRepository) ListMessages(ctx context.Context, filter models.MessageFilter) ([]models.ScheduledMessage, error) {
	ctx, span := tracing.StartSpan(ctx, "MessageRepository.ListMessages")
	defer span.End()

	sb := messageStruct.SelectFrom(messagesTable)
	sb.Where(sb.Equal("restaurant_id", filter.RestaurantID))
	if filter.Status != nil {
		sb.Where(sb.Equal("status", *filter.Status))
	}
	if filter.CustomerID != nil {
		sb.Where(sb.Equal("customer_id", *filter.CustomerID))
	}
	sb.OrderBy("scheduled_for").Desc()
	if filter.Limit > 0 {
		sb.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		sb.Offset(filter.Offset)
	}

	query, args := sb.Build()
	var messages []models.ScheduledMessage
	if err := r.Conn(ctx).SelectContext(ctx, &messages, query, args...); err != nil {
		return nil, r.internalError(ctx, err, "failed to list messages", map[string]any{
			"restaurant_id": filter.RestaurantID,
		})
	}
	return messages, nil
}

// ListDueMessages returns planned messages whose scheduled_for has passed,
// oldest first. Claiming happens separately through UpdateMessageStatus.
func (r *MessageRepository) ListDueMessages(ctx context.Context, now time.Time, limit int) ([]models.ScheduledMessage, error) {
	ctx, span := tracing.StartSpan(ctx, "MessageRepository.ListDueMessages")
	defer span.End()

	sb := messageStruct.SelectFrom(messagesTable)
	sb.Where(
		sb.Equal("status", models.MessageStatusPlanned),
		sb.LessEqualThan("scheduled_for", now),
	).OrderBy("scheduled_for")
	if limit > 0 {
		sb.Limit(limit)
	}

	query, args := sb.Build()
	var messages []models.ScheduledMessage
	if err := r.Conn(ctx).SelectContext(ctx, &messages, query, args...); err != nil {
		return nil, r.internalError(ctx, err, "failed to list due messages", nil)
	}
	return messages, nil
}

func (r *MessageRepository) ListStaleProcessing(ctx context.Context, claimedBefore time.Time, limit int) ([]models.ScheduledMessage, error) {
	ctx, span := tracing.StartSpan(ctx, "MessageRepository.ListStaleProcessing")
	defer span.End()

	sb := messageStruct.SelectFrom(messagesTable)
	sb.Where(
		sb.Equal("status", models.MessageStatusProcessing),
		sb.LessThan("claimed_at", claimedBefore),
	).OrderBy("claimed_at")
	if limit > 0 {
		sb.Limit(limit)
	}

	query, args := sb.Build()
	var messages []models.ScheduledMessage
	if err := r.Conn(ctx).SelectContext(ctx, &messages, query, args...); err != nil {
		return nil, r.internalError(ctx, err, "failed to list stale processing messages", nil)
	}
	return messages, nil
}

// UpdateMessageStatus applies t with a single conditional UPDATE. When no row
// matches, the message either does not exist or left t.From concurrently.
func (r *MessageRepository) UpdateMessageStatus(ctx context.Context, id uuid.UUID, t models.Transition) (*models.ScheduledMessage, error) {
	ctx, span := tracing.StartSpan(ctx, "MessageRepository.UpdateMessageStatus")
	defer span.End()

	var at any = database.Now()
	if !t.At.IsZero() {
		at = t.At
	}

	ub := database.NewUpdateBuilder()
	ub.Update(messagesTable).Set(
		ub.Assign("status", t.To),
		ub.Assign("updated_at", database.Now()),
	)
	if t.ProviderMessageID != nil {
		ub.SetMore(ub.Assign("provider_message_id", *t.ProviderMessageID))
	}
	if t.ChannelFinal != nil {
		ub.SetMore(ub.Assign("channel_final", *t.ChannelFinal))
	}
	if t.LastError != nil {
		ub.SetMore(ub.Assign("last_error", *t.LastError))
	}
	if t.SkipReason != nil {
		ub.SetMore(ub.Assign("skip_reason", *t.SkipReason))
	}
	switch t.To {
	case models.MessageStatusProcessing:
		ub.SetMore(ub.Assign("claimed_by", t.ClaimedBy), ub.Assign("claimed_at", at))
	case models.MessageStatusSent:
		ub.SetMore(ub.Assign("sent_at", at))
	case models.MessageStatusDelivered:
		ub.SetMore(ub.Assign("delivered_at", at))
	}
	ub.Where(ub.Equal("id", id), ub.Equal("status", t.From))
	ub.SQL("RETURNING " + messageStruct.Columns(""))

	query, args := ub.Build()
	var msg models.ScheduledMessage
	err := r.Conn(ctx).GetContext(ctx, &msg, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		if _, getErr := r.GetMessage(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, apperrors.NewRaceLostError(id.String(), string(t.From))
	}
	if err != nil {
		return nil, r.internalError(ctx, err, "failed to update message status", map[string]any{
			"message_id": id,
			"from":       t.From,
			"to":         t.To,
		})
	}
	return &msg, nil
}

func (r *MessageRepository) RescheduleMessage(ctx context.Context, id uuid.UUID, scheduledFor time.Time) error {
	ctx, span := tracing.StartSpan(ctx, "MessageRepository.RescheduleMessage")
	defer span.End()

	return r.updatePlanned(ctx, id, "scheduled_for", scheduledFor)
}

func (r *MessageRepository) EditMessageContent(ctx context.Context, id uuid.UUID, content string) error {
	ctx, span := tracing.StartSpan(ctx, "MessageRepository.EditMessageContent")
	defer span.End()

	return r.updatePlanned(ctx, id, "content_rendered", content)
}

// updatePlanned writes one column of a message that is still planned.
func (r *MessageRepository) updatePlanned(ctx context.Context, id uuid.UUID, column string, value any) error {
	ub := database.NewUpdateBuilder()
	ub.Update(messagesTable).Set(
		ub.Assign(column, value),
		ub.Assign("updated_at", database.Now()),
	).Where(ub.Equal("id", id), ub.Equal("status", models.MessageStatusPlanned))

	query, args := ub.Build()
	res, err := r.Conn(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		return r.internalError(ctx, err, "failed to update planned message", map[string]any{
			"message_id": id,
			"column":     column,
		})
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	if _, err := r.GetMessage(ctx, id); err != nil {
		return err
	}
	return apperrors.NewRaceLostError(id.String(), string(models.MessageStatusPlanned))
}

// AppendInteractionLog inserts entry and reports false when the same
// (provider_message_id, event_type) pair was already recorded.
func (r *MessageRepository) AppendInteractionLog(ctx context.Context, entry *models.InteractionLog) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "MessageRepository.AppendInteractionLog")
	defer span.End()

	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	var payload any
	if len(entry.Payload) > 0 {
		payload = []byte(entry.Payload)
	}

	ib := database.NewInsertBuilder()
	ib.InsertInto(interactionsTable).
		Cols("id", "provider_message_id", "event_type", "provider", "message_id", "customer_id",
			"channel", "occurred_at", "payload", "created_at").
		Values(entry.ID, entry.ProviderMessageID, entry.EventType, entry.Provider, entry.MessageID, entry.CustomerID,
			entry.Channel, entry.OccurredAt, payload, database.Now())
	ib.OnConflictDoNothing("provider_message_id", "event_type")
	ib.SQL("RETURNING created_at")

	query, args := ib.Build()
	err := r.Conn(ctx).QueryRowContext(ctx, query, args...).Scan(&entry.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, r.internalError(ctx, err, "failed to append interaction log", map[string]any{
			"provider_message_id": entry.ProviderMessageID,
			"event_type":          entry.EventType,
		})
	}
	return true, nil
}
