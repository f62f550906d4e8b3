package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/gustausantin/La-ia-app-sub001/pkg/apperrors"
	"github.com/gustausantin/La-ia-app-sub001/pkg/metrics"
	"github.com/gustausantin/La-ia-app-sub001/pkg/models"
	"github.com/gustausantin/La-ia-app-sub001/pkg/providers"
	"github.com/gustausantin/La-ia-app-sub001/pkg/templates"
	"github.com/gustausantin/La-ia-app-sub001/pkg/tracing"
)

// ClaimStats counts what a claim pass did with the due messages it saw.
type ClaimStats struct {
	Due       int
	Claimed   int
	RaceLost  int
	Throttled int
	Deferred  int
}

// ClaimDueMessages moves due planned messages to processing, one conditional
// update per row. Rows another instance claimed first are skipped silently.
// Rows whose channel is in an error burst are left planned; rows claimed while
// their channel is throttled are put back to planned.
func (s *Service) ClaimDueMessages(ctx context.Context) ([]models.ScheduledMessage, ClaimStats, error) {
	ctx, span := tracing.StartSpan(ctx, "Scheduler.ClaimDueMessages")
	defer span.End()

	var stats ClaimStats
	now := s.now()

	due, err := s.store.ListDueMessages(ctx, now, s.config.ClaimBatchSize)
	if err != nil {
		span.RecordError(err)
		return nil, stats, fmt.Errorf("failed to list due messages: %w", err)
	}
	stats.Due = len(due)

	workerID := s.config.WorkerID
	claimed := make([]models.ScheduledMessage, 0, len(due))
	for _, msg := range due {
		if s.health != nil && !s.health.Healthy(msg.RestaurantID, msg.ChannelPlanned) {
			stats.Deferred++
			continue
		}

		updated, err := s.store.UpdateMessageStatus(ctx, msg.ID, models.Transition{
			From:      models.MessageStatusPlanned,
			To:        models.MessageStatusProcessing,
			At:        now,
			ClaimedBy: &workerID,
		})
		if err != nil {
			if apperrors.IsRaceLost(err) {
				stats.RaceLost++
				metrics.SchedulerRaceLost.Inc()
				continue
			}
			s.logger.WithContext(ctx).WithError(err).Errorf("failed to claim message %s", msg.ID)
			continue
		}

		// a send slot is only spent on rows this instance won
		if !s.allow(ctx, *updated) {
			stats.Throttled++
			metrics.RateLimitHits.WithLabelValues(string(msg.ChannelPlanned)).Inc()
			s.unclaim(ctx, *updated, now)
			continue
		}
		claimed = append(claimed, *updated)
	}
	stats.Claimed = len(claimed)

	span.SetAttributes(
		attribute.Int("due", stats.Due),
		attribute.Int("claimed", stats.Claimed),
		attribute.Int("race_lost", stats.RaceLost),
	)
	return claimed, stats, nil
}

func (s *Service) allow(ctx context.Context, msg models.ScheduledMessage) bool {
	if s.throttle == nil {
		return true
	}
	ok, _, err := s.throttle.Allow(ctx, msg.RestaurantID, msg.ChannelPlanned)
	if err != nil {
		// without the limiter we fall back to unthrottled sends
		s.logger.WithContext(ctx).WithError(err).Warn("send throttle unavailable")
		return true
	}
	return ok
}

// unclaim returns a claimed message to planned so a later pass picks it up.
func (s *Service) unclaim(ctx context.Context, msg models.ScheduledMessage, now time.Time) {
	_, err := s.store.UpdateMessageStatus(ctx, msg.ID, models.Transition{
		From: models.MessageStatusProcessing,
		To:   models.MessageStatusPlanned,
		At:   now,
	})
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).Errorf("failed to release throttled message %s", msg.ID)
	}
}

// RecoverStale fails messages left in processing past the claim timeout, e.g.
// by a crashed instance. They are never re-sent automatically.
func (s *Service) RecoverStale(ctx context.Context) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "Scheduler.RecoverStale")
	defer span.End()

	now := s.now()
	stale, err := s.store.ListStaleProcessing(ctx, now.Add(-s.config.ClaimTimeout), s.config.ClaimBatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list stale messages: %w", err)
	}

	reason := InterruptedError
	recovered := 0
	for _, msg := range stale {
		updated, err := s.store.UpdateMessageStatus(ctx, msg.ID, models.Transition{
			From:      models.MessageStatusProcessing,
			To:        models.MessageStatusFailed,
			At:        now,
			LastError: &reason,
		})
		if err != nil {
			if !apperrors.IsRaceLost(err) {
				s.logger.WithContext(ctx).WithError(err).Errorf("failed to recover stale message %s", msg.ID)
			}
			continue
		}
		recovered++
		metrics.SchedulerStaleRecovered.Inc()
		metrics.RecordDispatch(string(updated.ChannelPlanned), string(updated.Status))
		s.publish(ctx, updated)
		s.logFailed(ctx, updated, updated.ChannelPlanned, reason, providers.SendResult{}, now)
		s.logger.WithContext(ctx).WithFields(map[string]any{
			"message_id": msg.ID,
			"claimed_by": deref(msg.ClaimedBy),
		}).Warn("stale processing message marked failed")
	}
	return recovered, nil
}

// delivery is the resolved send of one message.
type delivery struct {
	channel     models.Channel
	destination string
	content     providers.Content
}

// Dispatch sends a claimed message and records the outcome. Every failure ends
// the message in failed with last_error set; the returned error is only for
// store failures while recording that outcome.
func (s *Service) Dispatch(ctx context.Context, msg models.ScheduledMessage) (*models.ScheduledMessage, error) {
	ctx, span := tracing.StartSpan(ctx, "Scheduler.Dispatch")
	defer span.End()
	span.SetAttributes(
		attribute.String("message_id", msg.ID.String()),
		attribute.String("restaurant_id", msg.RestaurantID.String()),
	)

	if msg.Status != models.MessageStatusProcessing {
		return nil, apperrors.NewInvalidTransitionError(msg.ID.String(), string(msg.Status), string(models.MessageStatusSent))
	}

	d, err := s.resolveDelivery(ctx, msg)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return s.fail(ctx, msg, msg.ChannelPlanned, err.Error(), providers.SendResult{})
	}

	creds, err := s.creds.Resolve(ctx, msg.RestaurantID, d.channel)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return s.fail(ctx, msg, d.channel, err.Error(), providers.SendResult{})
	}

	result, err := s.sender.Send(ctx, d.channel, d.destination, d.content, creds)
	if err != nil {
		span.RecordError(err)
		s.recordHealth(ctx, msg.RestaurantID, d.channel, false, err.Error())
		var cfgErr *apperrors.ConfigurationError
		if errors.As(err, &cfgErr) {
			return s.fail(ctx, msg, d.channel, err.Error(), result)
		}
		return s.fail(ctx, msg, d.channel, "provider unavailable: "+err.Error(), result)
	}
	if !result.Success {
		s.recordHealth(ctx, msg.RestaurantID, d.channel, false, result.Error)
		if result.RetryAfter > 0 {
			s.backoff(ctx, msg.RestaurantID, d.channel, result.RetryAfter)
		}
		reason := result.Error
		if result.ErrorCode != "" {
			reason = fmt.Sprintf("%s (%s)", result.Error, result.ErrorCode)
		}
		return s.fail(ctx, msg, d.channel, reason, result)
	}
	s.recordHealth(ctx, msg.RestaurantID, d.channel, true, "")

	pmid := result.ProviderMessageID
	updated, err := s.store.UpdateMessageStatus(ctx, msg.ID, models.Transition{
		From:              models.MessageStatusProcessing,
		To:                models.MessageStatusSent,
		At:                s.now(),
		ProviderMessageID: &pmid,
		ChannelFinal:      &d.channel,
	})
	if err != nil {
		// the provider has the message; the row was moved by stale recovery
		s.logger.WithContext(ctx).WithError(err).Errorf("message %s sent as %s but could not be marked sent", msg.ID, pmid)
		return nil, err
	}

	metrics.RecordDispatch(string(d.channel), string(updated.Status))
	s.logSent(ctx, updated, result)
	s.publish(ctx, updated)
	span.SetStatus(codes.Ok, "")
	return updated, nil
}

// resolveDelivery picks the channel, destination and content. When the planned
// channel cannot reach the customer and the message has a fallback template,
// the fallback is rendered for its own channel.
func (s *Service) resolveDelivery(ctx context.Context, msg models.ScheduledMessage) (delivery, error) {
	customer, err := s.store.GetCustomer(ctx, msg.RestaurantID, msg.CustomerID)
	if err != nil {
		return delivery{}, err
	}

	dest, primaryErr := s.destination(*customer, msg.ChannelPlanned)
	if primaryErr == nil {
		return delivery{
			channel:     msg.ChannelPlanned,
			destination: dest,
			content:     providers.Content{Subject: msg.Subject, Body: msg.ContentRendered},
		}, nil
	}
	if msg.FallbackTemplateID == nil {
		return delivery{}, primaryErr
	}

	tmpl, err := s.store.GetTemplate(ctx, *msg.FallbackTemplateID)
	if err != nil {
		return delivery{}, fmt.Errorf("%v; fallback template: %w", primaryErr, err)
	}
	if tmpl.Channel == msg.ChannelPlanned {
		return delivery{}, primaryErr
	}
	dest, err = s.destination(*customer, tmpl.Channel)
	if err != nil {
		return delivery{}, fmt.Errorf("%v; fallback: %w", primaryErr, err)
	}

	settings, err := s.store.GetRestaurantSettings(ctx, msg.RestaurantID)
	if err != nil {
		return delivery{}, err
	}
	var reservation *models.Reservation
	if msg.ReservationID != nil {
		if reservation, err = s.store.GetReservation(ctx, *msg.ReservationID); err != nil {
			return delivery{}, err
		}
	}
	rendered, err := s.renderer.Render(*tmpl, templates.NewData(*customer, settings, reservation))
	if err != nil {
		return delivery{}, err
	}

	s.logger.WithContext(ctx).WithFields(map[string]any{
		"message_id": msg.ID,
		"planned":    msg.ChannelPlanned,
		"fallback":   tmpl.Channel,
	}).Infof("using fallback channel: %v", primaryErr)

	return delivery{
		channel:     tmpl.Channel,
		destination: dest,
		content:     providers.Content{Subject: rendered.Subject, Body: rendered.Body},
	}, nil
}

func (s *Service) destination(customer models.Customer, channel models.Channel) (string, error) {
	raw, ok := customer.Destination(channel)
	if !ok {
		return "", apperrors.NewValidationError("customer", "no contactable %s destination", channel)
	}
	return s.sender.NormalizeDestination(channel, raw)
}

// fail ends msg in failed and records the failure in the interaction log. The
// entry carries the provider message id only when the provider assigned one.
func (s *Service) fail(ctx context.Context, msg models.ScheduledMessage, channel models.Channel, reason string, result providers.SendResult) (*models.ScheduledMessage, error) {
	at := s.now()
	updated, err := s.store.UpdateMessageStatus(ctx, msg.ID, models.Transition{
		From:         models.MessageStatusProcessing,
		To:           models.MessageStatusFailed,
		At:           at,
		LastError:    &reason,
		ChannelFinal: &channel,
	})
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).Errorf("failed to mark message %s failed", msg.ID)
		return nil, err
	}

	metrics.RecordDispatch(string(channel), string(updated.Status))
	s.publish(ctx, updated)
	s.logFailed(ctx, updated, channel, reason, result, at)
	s.logger.WithContext(ctx).WithFields(map[string]any{
		"message_id":  msg.ID,
		"customer_id": msg.CustomerID,
		"channel":     channel,
	}).Warnf("message failed: %s", reason)
	return updated, nil
}

func (s *Service) logFailed(ctx context.Context, msg *models.ScheduledMessage, channel models.Channel, reason string, result providers.SendResult, at time.Time) {
	provider := result.Provider
	if provider == "" {
		provider = LocalProvider
	}
	var pmid *string
	if result.ProviderMessageID != "" {
		pmid = &result.ProviderMessageID
	}
	payload, _ := json.Marshal(map[string]any{
		"error":      reason,
		"error_code": result.ErrorCode,
		"status":     result.Status,
	})
	entry := &models.InteractionLog{
		ProviderMessageID: pmid,
		EventType:         models.EventTypeFailed,
		Provider:          provider,
		MessageID:         &msg.ID,
		CustomerID:        &msg.CustomerID,
		Channel:           &channel,
		OccurredAt:        at,
		Payload:           payload,
	}
	if _, err := s.store.AppendInteractionLog(ctx, entry); err != nil {
		s.logger.WithContext(ctx).WithError(err).Warnf("failed to log failed interaction for message %s", msg.ID)
	}
}

// backoff pauses a channel the provider rate limited. Messages already claimed
// in this pass still go out; the pause applies from the next claim.
func (s *Service) backoff(ctx context.Context, restaurantID uuid.UUID, channel models.Channel, d time.Duration) {
	if s.throttle == nil {
		return
	}
	if err := s.throttle.Backoff(ctx, restaurantID, channel, d); err != nil {
		s.logger.WithContext(ctx).WithError(err).Warnf("failed to back off %s for %s", channel, d)
		return
	}
	s.logger.WithContext(ctx).WithFields(map[string]any{
		"restaurant_id": restaurantID,
		"channel":       channel,
	}).Warnf("provider rate limited, pausing sends for %s", d)
}

func (s *Service) recordHealth(ctx context.Context, restaurantID uuid.UUID, channel models.Channel, ok bool, reason string) {
	if s.health == nil {
		return
	}
	if ok {
		s.health.RecordSuccess(ctx, restaurantID, channel)
		return
	}
	s.health.RecordFailure(ctx, restaurantID, channel, reason)
}

// logSent appends the sent interaction so a later provider "sent" callback is
// recognized as a duplicate.
func (s *Service) logSent(ctx context.Context, msg *models.ScheduledMessage, result providers.SendResult) {
	payload, _ := json.Marshal(result)
	channel := *msg.ChannelFinal
	entry := &models.InteractionLog{
		ProviderMessageID: msg.ProviderMessageID,
		EventType:         models.EventTypeSent,
		Provider:          result.Provider,
		MessageID:         &msg.ID,
		CustomerID:        &msg.CustomerID,
		Channel:           &channel,
		OccurredAt:        *msg.SentAt,
		Payload:           payload,
	}
	if _, err := s.store.AppendInteractionLog(ctx, entry); err != nil {
		s.logger.WithContext(ctx).WithError(err).Warnf("failed to log sent interaction for message %s", msg.ID)
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
