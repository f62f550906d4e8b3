package scheduler

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/gustausantin/La-ia-app-sub001/pkg/apperrors"
	"github.com/gustausantin/La-ia-app-sub001/pkg/kafka"
	"github.com/gustausantin/La-ia-app-sub001/pkg/metrics"
	"github.com/gustausantin/La-ia-app-sub001/pkg/models"
	"github.com/gustausantin/La-ia-app-sub001/pkg/providers"
	"github.com/gustausantin/La-ia-app-sub001/pkg/templates"
	"github.com/gustausantin/La-ia-app-sub001/pkg/tracing"
)

const (
	// DefaultClaimBatchSize is the number of due messages claimed per cycle
	DefaultClaimBatchSize = 100

	// DefaultClaimTimeout is how long a message may stay in processing before
	// it is considered abandoned
	DefaultClaimTimeout = 10 * time.Minute

	// InterruptedError is recorded on messages recovered from processing
	InterruptedError = "dispatch interrupted"

	DefaultSkipReason = "skipped by operator"

	// LocalProvider is the interaction log provider of failures that happened
	// before any provider was called
	LocalProvider = "lifecycle"
)

// Message sources, used as a metrics label.
const (
	SourceRule   = "rule"
	SourceManual = "manual"
)

// Store is the persistence the scheduler needs.
type Store interface {
	GetRestaurantSettings(ctx context.Context, restaurantID uuid.UUID) (models.RestaurantSettings, error)
	GetCustomer(ctx context.Context, restaurantID, customerID uuid.UUID) (*models.Customer, error)
	GetReservation(ctx context.Context, reservationID uuid.UUID) (*models.Reservation, error)
	GetTemplate(ctx context.Context, templateID uuid.UUID) (*models.MessageTemplate, error)
	InsertScheduledMessage(ctx context.Context, msg *models.ScheduledMessage) error
	GetMessage(ctx context.Context, id uuid.UUID) (*models.ScheduledMessage, error)
	ListDueMessages(ctx context.Context, now time.Time, limit int) ([]models.ScheduledMessage, error)
	ListStaleProcessing(ctx context.Context, claimedBefore time.Time, limit int) ([]models.ScheduledMessage, error)
	UpdateMessageStatus(ctx context.Context, id uuid.UUID, t models.Transition) (*models.ScheduledMessage, error)
	RescheduleMessage(ctx context.Context, id uuid.UUID, scheduledFor time.Time) error
	EditMessageContent(ctx context.Context, id uuid.UUID, content string) error
	AppendInteractionLog(ctx context.Context, entry *models.InteractionLog) (bool, error)
}

// Sender delivers rendered content. Implemented by providers.Adapter.
type Sender interface {
	NormalizeDestination(channel models.Channel, destination string) (string, error)
	Send(ctx context.Context, channel models.Channel, destination string, content providers.Content, creds models.Credentials) (providers.SendResult, error)
}

// CredentialSource resolves channel credentials of a restaurant.
type CredentialSource interface {
	Resolve(ctx context.Context, restaurantID uuid.UUID, channel models.Channel) (models.Credentials, error)
}

// Throttle limits sends per (restaurant, channel). Backoff pauses a channel
// the provider itself rate limited.
type Throttle interface {
	Allow(ctx context.Context, restaurantID uuid.UUID, channel models.Channel) (bool, time.Duration, error)
	Backoff(ctx context.Context, restaurantID uuid.UUID, channel models.Channel, d time.Duration) error
}

// HealthTracker records provider outcomes and reports error bursts.
type HealthTracker interface {
	Healthy(restaurantID uuid.UUID, channel models.Channel) bool
	RecordSuccess(ctx context.Context, restaurantID uuid.UUID, channel models.Channel)
	RecordFailure(ctx context.Context, restaurantID uuid.UUID, channel models.Channel, reason string) bool
}

// Config holds dispatch settings
type Config struct {
	ClaimBatchSize int
	ClaimTimeout   time.Duration
	// WorkerID is recorded as claimed_by on every message this instance claims
	WorkerID string
}

func DefaultConfig() Config {
	return Config{
		ClaimBatchSize: DefaultClaimBatchSize,
		ClaimTimeout:   DefaultClaimTimeout,
		WorkerID:       defaultWorkerID(),
	}
}

func defaultWorkerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "scheduler"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}

// Service owns the scheduled message state machine.
type Service struct {
	store    Store
	renderer *templates.Renderer
	sender   Sender
	creds    CredentialSource
	throttle Throttle
	health   HealthTracker
	events   kafka.Publisher
	config   Config
	logger   ectologger.Logger
	now      func() time.Time
}

type Option func(*Service)

func WithThrottle(t Throttle) Option {
	return func(s *Service) { s.throttle = t }
}

func WithHealthTracker(h HealthTracker) Option {
	return func(s *Service) { s.health = h }
}

func WithEvents(p kafka.Publisher) Option {
	return func(s *Service) { s.events = p }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(
	store Store,
	renderer *templates.Renderer,
	sender Sender,
	creds CredentialSource,
	config Config,
	logger ectologger.Logger,
	opts ...Option,
) *Service {
	if config.ClaimBatchSize <= 0 {
		config.ClaimBatchSize = DefaultClaimBatchSize
	}
	if config.ClaimTimeout <= 0 {
		config.ClaimTimeout = DefaultClaimTimeout
	}
	if config.WorkerID == "" {
		config.WorkerID = defaultWorkerID()
	}

	s := &Service{
		store:    store,
		renderer: renderer,
		sender:   sender,
		creds:    creds,
		events:   kafka.NoopPublisher{},
		config:   config,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EnqueueRequest describes a message to plan. The caller has already resolved
// the customer, settings and template.
type EnqueueRequest struct {
	Settings           models.RestaurantSettings
	Customer           models.Customer
	Template           models.MessageTemplate
	RuleID             *uuid.UUID
	FallbackTemplateID *uuid.UUID
	Reservation        *models.Reservation
	Delay              time.Duration
	Source             string
}

// Enqueue renders the template for the customer and stores the result as a
// planned message due after Delay. A render failure is a ValidationError.
func (s *Service) Enqueue(ctx context.Context, req EnqueueRequest) (*models.ScheduledMessage, error) {
	ctx, span := tracing.StartSpan(ctx, "Scheduler.Enqueue")
	defer span.End()

	if req.Delay < 0 {
		return nil, apperrors.NewValidationError("delay_minutes", "must not be negative")
	}

	rendered, err := s.renderer.Render(req.Template, templates.NewData(req.Customer, req.Settings, req.Reservation))
	if err != nil {
		return nil, err
	}

	msg := &models.ScheduledMessage{
		RestaurantID:       req.Settings.RestaurantID,
		CustomerID:         req.Customer.ID,
		RuleID:             req.RuleID,
		TemplateID:         req.Template.ID,
		FallbackTemplateID: req.FallbackTemplateID,
		ChannelPlanned:     req.Template.Channel,
		Subject:            rendered.Subject,
		ContentRendered:    rendered.Body,
		Status:             models.MessageStatusPlanned,
		ScheduledFor:       s.now().Add(req.Delay),
	}
	if req.Reservation != nil {
		msg.ReservationID = &req.Reservation.ID
	}

	if err := s.store.InsertScheduledMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to insert scheduled message: %w", err)
	}

	source := req.Source
	if source == "" {
		source = SourceRule
	}
	metrics.MessagesQueuedTotal.WithLabelValues(string(msg.ChannelPlanned), source).Inc()
	s.publish(ctx, msg)

	s.logger.WithContext(ctx).WithFields(map[string]any{
		"message_id":    msg.ID,
		"customer_id":   msg.CustomerID,
		"channel":       msg.ChannelPlanned,
		"scheduled_for": msg.ScheduledFor,
	}).Debug("message planned")

	return msg, nil
}

// SendNow makes a planned message due immediately. It stays planned and goes
// out on the next claim cycle.
func (s *Service) SendNow(ctx context.Context, id uuid.UUID) (*models.ScheduledMessage, error) {
	ctx, span := tracing.StartSpan(ctx, "Scheduler.SendNow")
	defer span.End()

	if _, err := s.requirePlanned(ctx, id, models.MessageStatusProcessing); err != nil {
		return nil, err
	}
	if err := s.store.RescheduleMessage(ctx, id, s.now()); err != nil {
		return nil, s.plannedOnly(ctx, id, models.MessageStatusProcessing, err)
	}
	return s.store.GetMessage(ctx, id)
}

// Skip cancels a planned message with a human-readable reason.
func (s *Service) Skip(ctx context.Context, id uuid.UUID, reason string) (*models.ScheduledMessage, error) {
	ctx, span := tracing.StartSpan(ctx, "Scheduler.Skip")
	defer span.End()

	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = DefaultSkipReason
	}

	if _, err := s.requirePlanned(ctx, id, models.MessageStatusSkipped); err != nil {
		return nil, err
	}

	msg, err := s.store.UpdateMessageStatus(ctx, id, models.Transition{
		From:       models.MessageStatusPlanned,
		To:         models.MessageStatusSkipped,
		At:         s.now(),
		SkipReason: &reason,
	})
	if err != nil {
		return nil, s.plannedOnly(ctx, id, models.MessageStatusSkipped, err)
	}

	metrics.MessagesDispatchedTotal.WithLabelValues(string(msg.ChannelPlanned), string(msg.Status)).Inc()
	s.publish(ctx, msg)
	s.logger.WithContext(ctx).WithFields(map[string]any{"message_id": id}).Infof("message skipped: %s", reason)
	return msg, nil
}

// Edit replaces the rendered content of a planned message.
func (s *Service) Edit(ctx context.Context, id uuid.UUID, content string) (*models.ScheduledMessage, error) {
	ctx, span := tracing.StartSpan(ctx, "Scheduler.Edit")
	defer span.End()

	if strings.TrimSpace(content) == "" {
		return nil, apperrors.NewValidationError("content", "must not be empty")
	}
	if _, err := s.requirePlanned(ctx, id, models.MessageStatusPlanned); err != nil {
		return nil, err
	}
	if err := s.store.EditMessageContent(ctx, id, content); err != nil {
		return nil, s.plannedOnly(ctx, id, models.MessageStatusPlanned, err)
	}
	return s.store.GetMessage(ctx, id)
}

// Preview returns what would be sent for a message.
func (s *Service) Preview(ctx context.Context, id uuid.UUID) (templates.Rendered, error) {
	ctx, span := tracing.StartSpan(ctx, "Scheduler.Preview")
	defer span.End()

	msg, err := s.store.GetMessage(ctx, id)
	if err != nil {
		return templates.Rendered{}, err
	}

	channel := msg.ChannelPlanned
	if msg.ChannelFinal != nil {
		channel = *msg.ChannelFinal
	}
	return templates.Rendered{
		Channel: channel,
		Subject: msg.Subject,
		Body:    msg.ContentRendered,
	}, nil
}

func (s *Service) requirePlanned(ctx context.Context, id uuid.UUID, to models.MessageStatus) (*models.ScheduledMessage, error) {
	msg, err := s.store.GetMessage(ctx, id)
	if err != nil {
		return nil, err
	}
	if msg.Status != models.MessageStatusPlanned {
		return nil, apperrors.NewInvalidTransitionError(id.String(), string(msg.Status), string(to))
	}
	return msg, nil
}

// plannedOnly turns a lost race on a manual operation into an
// InvalidTransitionError carrying the status that won.
func (s *Service) plannedOnly(ctx context.Context, id uuid.UUID, to models.MessageStatus, err error) error {
	if !apperrors.IsRaceLost(err) {
		return err
	}
	current, getErr := s.store.GetMessage(ctx, id)
	if getErr != nil {
		return err
	}
	return apperrors.NewInvalidTransitionError(id.String(), string(current.Status), string(to))
}

func (s *Service) publish(ctx context.Context, msg *models.ScheduledMessage) {
	if err := s.events.PublishLifecycleEvent(ctx, kafka.NewLifecycleEvent(msg)); err != nil {
		s.logger.WithContext(ctx).WithError(err).Warnf("failed to publish lifecycle event for message %s", msg.ID)
	}
}
