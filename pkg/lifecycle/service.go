// Package lifecycle is the operator-facing entry point of the engine. It
// wires analytics refresh, rule execution and the manual message operations
// behind one service scoped by restaurant.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/gustausantin/La-ia-app-sub001/pkg/apperrors"
	"github.com/gustausantin/La-ia-app-sub001/pkg/metrics"
	"github.com/gustausantin/La-ia-app-sub001/pkg/models"
	"github.com/gustausantin/La-ia-app-sub001/pkg/redis"
	"github.com/gustausantin/La-ia-app-sub001/pkg/risk"
	"github.com/gustausantin/La-ia-app-sub001/pkg/rules"
	"github.com/gustausantin/La-ia-app-sub001/pkg/scheduler"
	"github.com/gustausantin/La-ia-app-sub001/pkg/segmentation"
	"github.com/gustausantin/La-ia-app-sub001/pkg/templates"
	"github.com/gustausantin/La-ia-app-sub001/pkg/tracing"
)

const (
	// DefaultRiskHorizon is how far ahead reservations are scored
	DefaultRiskHorizon = 72 * time.Hour

	// DefaultRefreshLockTTL bounds a crashed refresh's hold on the lock
	DefaultRefreshLockTTL = 10 * time.Minute

	DefaultListLimit = 100
)

// Store is the persistence the facade reads and writes directly.
type Store interface {
	GetRestaurantSettings(ctx context.Context, restaurantID uuid.UUID) (models.RestaurantSettings, error)
	ListCustomerHistories(ctx context.Context, restaurantID uuid.UUID) ([]models.CustomerHistory, error)
	UpsertCustomerFeatures(ctx context.Context, customerID uuid.UUID, f models.CustomerFeatures) error
	ListUpcomingReservations(ctx context.Context, restaurantID uuid.UUID, from, to time.Time) ([]models.Reservation, error)
	GetNoShowStats(ctx context.Context, customerID uuid.UUID, before time.Time) (models.NoShowStats, error)
	UpdateReservationRisk(ctx context.Context, reservationID uuid.UUID, a models.RiskAssessment, at time.Time) error
	GetCustomer(ctx context.Context, restaurantID, customerID uuid.UUID) (*models.Customer, error)
	GetReservation(ctx context.Context, reservationID uuid.UUID) (*models.Reservation, error)
	GetTemplate(ctx context.Context, templateID uuid.UUID) (*models.MessageTemplate, error)
	GetMessage(ctx context.Context, id uuid.UUID) (*models.ScheduledMessage, error)
	ListMessages(ctx context.Context, filter models.MessageFilter) ([]models.ScheduledMessage, error)
}

// Locker serializes refreshes of one restaurant. Implemented by redis.Locker.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(ctx context.Context) error) error
}

// RuleEvaluator is implemented by rules.Engine.
type RuleEvaluator interface {
	Evaluate(ctx context.Context, restaurantID uuid.UUID, segment *models.Segment) (rules.Result, error)
}

// Messages is the part of scheduler.Service the facade drives.
type Messages interface {
	Enqueue(ctx context.Context, req scheduler.EnqueueRequest) (*models.ScheduledMessage, error)
	SendNow(ctx context.Context, id uuid.UUID) (*models.ScheduledMessage, error)
	Skip(ctx context.Context, id uuid.UUID, reason string) (*models.ScheduledMessage, error)
	Edit(ctx context.Context, id uuid.UUID, content string) (*models.ScheduledMessage, error)
	Preview(ctx context.Context, id uuid.UUID) (templates.Rendered, error)
}

type Config struct {
	RiskHorizon    time.Duration
	RefreshLockTTL time.Duration
}

func DefaultConfig() Config {
	return Config{
		RiskHorizon:    DefaultRiskHorizon,
		RefreshLockTTL: DefaultRefreshLockTTL,
	}
}

type Service struct {
	store    Store
	rules    RuleEvaluator
	messages Messages
	locker   Locker
	config   Config
	logger   ectologger.Logger
	now      func() time.Time
}

type Option func(*Service)

// WithLocker replaces the in-process refresh lock, typically with a
// redis.Locker shared by every instance.
func WithLocker(l Locker) Option {
	return func(s *Service) { s.locker = l }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(store Store, evaluator RuleEvaluator, messages Messages, config Config, logger ectologger.Logger, opts ...Option) *Service {
	if config.RiskHorizon <= 0 {
		config.RiskHorizon = DefaultRiskHorizon
	}
	if config.RefreshLockTTL <= 0 {
		config.RefreshLockTTL = DefaultRefreshLockTTL
	}

	s := &Service{
		store:    store,
		rules:    evaluator,
		messages: messages,
		locker:   newLocalLocker(),
		config:   config,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RefreshResult summarizes one analytics refresh.
type RefreshResult struct {
	CustomersProcessed int                    `json:"customers_processed"`
	CustomersFailed    int                    `json:"customers_failed"`
	ReservationsScored int                    `json:"reservations_scored"`
	ReservationsFailed int                    `json:"reservations_failed"`
	Segments           map[models.Segment]int `json:"segments"`
}

// RefreshAnalytics recomputes every customer's feature snapshot and scores the
// restaurant's upcoming reservations. A refresh already running for the same
// restaurant makes the call fail with 409.
func (s *Service) RefreshAnalytics(ctx context.Context, restaurantID uuid.UUID) (RefreshResult, error) {
	ctx, span := tracing.StartSpan(ctx, "Lifecycle.RefreshAnalytics")
	defer span.End()

	var result RefreshResult
	err := s.locker.WithLock(ctx, redis.RefreshLockKey(restaurantID), s.config.RefreshLockTTL, func(ctx context.Context) error {
		var err error
		result, err = s.refresh(ctx, restaurantID)
		return err
	})
	if errors.Is(err, redis.ErrLockNotAcquired) {
		return result, httperror.NewHTTPError(http.StatusConflict,
			fmt.Sprintf("analytics refresh already running for restaurant %s", restaurantID))
	}
	return result, err
}

func (s *Service) refresh(ctx context.Context, restaurantID uuid.UUID) (RefreshResult, error) {
	start := time.Now()
	defer func() { metrics.AnalyticsRefreshDuration.Observe(time.Since(start).Seconds()) }()

	logger := s.logger.WithContext(ctx).WithFields(map[string]any{"restaurant_id": restaurantID.String()})
	result := RefreshResult{Segments: make(map[models.Segment]int, len(models.Segments))}

	settings, err := s.store.GetRestaurantSettings(ctx, restaurantID)
	if err != nil {
		return result, err
	}

	histories, err := s.store.ListCustomerHistories(ctx, restaurantID)
	if err != nil {
		return result, fmt.Errorf("failed to load customer histories: %w", err)
	}

	now := s.now()
	thresholds := segmentation.ComputeVIPThresholds(histories, now, settings.Segmentation)

	for _, h := range histories {
		features := segmentation.Compute(h, now, settings.Segmentation, thresholds)
		if err := s.store.UpsertCustomerFeatures(ctx, h.Customer.ID, features); err != nil {
			logger.WithError(err).Warnf("Failed to store features for customer %s", h.Customer.ID)
			result.CustomersFailed++
			continue
		}
		result.CustomersProcessed++
		result.Segments[features.Segment]++
	}

	for _, segment := range models.Segments {
		metrics.CustomersBySegment.WithLabelValues(restaurantID.String(), string(segment)).Set(float64(result.Segments[segment]))
	}

	reservations, err := s.store.ListUpcomingReservations(ctx, restaurantID, now, now.Add(s.config.RiskHorizon))
	if err != nil {
		return result, fmt.Errorf("failed to load upcoming reservations: %w", err)
	}

	loc := settings.Location()
	for _, r := range reservations {
		stats, err := s.store.GetNoShowStats(ctx, r.CustomerID, now)
		if err != nil {
			logger.WithError(err).Warnf("Failed to load no-show history for customer %s", r.CustomerID)
			result.ReservationsFailed++
			continue
		}

		assessment := risk.Score(risk.InputFor(r, stats), settings.Risk, loc)
		if err := s.store.UpdateReservationRisk(ctx, r.ID, assessment, now); err != nil {
			logger.WithError(err).Warnf("Failed to store risk for reservation %s", r.ID)
			result.ReservationsFailed++
			continue
		}
		result.ReservationsScored++
	}

	logger.Infof("Analytics refreshed: customers=%d reservations=%d failures=%d duration=%s",
		result.CustomersProcessed, result.ReservationsScored,
		result.CustomersFailed+result.ReservationsFailed, time.Since(start))

	return result, nil
}

// ExecuteRules evaluates the restaurant's active rules, optionally only
// those targeting segment.
func (s *Service) ExecuteRules(ctx context.Context, restaurantID uuid.UUID, segment *models.Segment) (rules.Result, error) {
	ctx, span := tracing.StartSpan(ctx, "Lifecycle.ExecuteRules")
	defer span.End()

	return s.rules.Evaluate(ctx, restaurantID, segment)
}

// ManualSendRequest plans a one-off message outside any rule.
type ManualSendRequest struct {
	CustomerID    uuid.UUID  `json:"customer_id" validate:"required"`
	TemplateID    uuid.UUID  `json:"template_id" validate:"required"`
	ReservationID *uuid.UUID `json:"reservation_id,omitempty"`
	DelayMinutes  int        `json:"delay_minutes" validate:"gte=0"`
}

// ManualSend renders a template for one customer and plans it. The weekly
// cap applies to rule-driven messages only.
func (s *Service) ManualSend(ctx context.Context, restaurantID uuid.UUID, req ManualSendRequest) (*models.ScheduledMessage, error) {
	ctx, span := tracing.StartSpan(ctx, "Lifecycle.ManualSend")
	defer span.End()

	settings, err := s.store.GetRestaurantSettings(ctx, restaurantID)
	if err != nil {
		return nil, err
	}

	customer, err := s.store.GetCustomer(ctx, restaurantID, req.CustomerID)
	if err != nil {
		return nil, err
	}

	tmpl, err := s.store.GetTemplate(ctx, req.TemplateID)
	if err != nil {
		return nil, err
	}
	if tmpl.RestaurantID != restaurantID {
		return nil, apperrors.NewNotFoundError("template", req.TemplateID.String())
	}

	var reservation *models.Reservation
	if req.ReservationID != nil {
		r, err := s.reservation(ctx, restaurantID, *req.ReservationID)
		if err != nil {
			return nil, err
		}
		reservation = r
	}

	return s.messages.Enqueue(ctx, scheduler.EnqueueRequest{
		Settings:    settings,
		Customer:    *customer,
		Template:    *tmpl,
		Reservation: reservation,
		Delay:       time.Duration(req.DelayMinutes) * time.Minute,
		Source:      scheduler.SourceManual,
	})
}

func (s *Service) reservation(ctx context.Context, restaurantID, reservationID uuid.UUID) (*models.Reservation, error) {
	r, err := s.store.GetReservation(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	if r.RestaurantID != restaurantID {
		return nil, apperrors.NewNotFoundError("reservation", reservationID.String())
	}
	return r, nil
}

// ListMessages returns the restaurant's messages, newest schedule first.
func (s *Service) ListMessages(ctx context.Context, filter models.MessageFilter) ([]models.ScheduledMessage, error) {
	ctx, span := tracing.StartSpan(ctx, "Lifecycle.ListMessages")
	defer span.End()

	if filter.Status != nil && !filter.Status.Valid() {
		return nil, apperrors.NewValidationError("status", "unknown status %q", *filter.Status)
	}
	if filter.Limit <= 0 || filter.Limit > DefaultListLimit {
		filter.Limit = DefaultListLimit
	}
	return s.store.ListMessages(ctx, filter)
}

// GetMessage returns a message of the restaurant. Messages of other
// restaurants are reported as not found.
func (s *Service) GetMessage(ctx context.Context, restaurantID, id uuid.UUID) (*models.ScheduledMessage, error) {
	msg, err := s.store.GetMessage(ctx, id)
	if err != nil {
		return nil, err
	}
	if msg.RestaurantID != restaurantID {
		return nil, apperrors.NewNotFoundError("message", id.String())
	}
	return msg, nil
}

func (s *Service) SendNow(ctx context.Context, restaurantID, id uuid.UUID) (*models.ScheduledMessage, error) {
	if _, err := s.GetMessage(ctx, restaurantID, id); err != nil {
		return nil, err
	}
	return s.messages.SendNow(ctx, id)
}

func (s *Service) Skip(ctx context.Context, restaurantID, id uuid.UUID, reason string) (*models.ScheduledMessage, error) {
	if _, err := s.GetMessage(ctx, restaurantID, id); err != nil {
		return nil, err
	}
	return s.messages.Skip(ctx, id, reason)
}

func (s *Service) Edit(ctx context.Context, restaurantID, id uuid.UUID, content string) (*models.ScheduledMessage, error) {
	if _, err := s.GetMessage(ctx, restaurantID, id); err != nil {
		return nil, err
	}
	return s.messages.Edit(ctx, id, content)
}

func (s *Service) Preview(ctx context.Context, restaurantID, id uuid.UUID) (templates.Rendered, error) {
	if _, err := s.GetMessage(ctx, restaurantID, id); err != nil {
		return templates.Rendered{}, err
	}
	return s.messages.Preview(ctx, id)
}

// localLocker is the single-instance refresh lock used when Redis is not
// configured.
type localLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func newLocalLocker() *localLocker {
	return &localLocker{held: make(map[string]struct{})}
}

func (l *localLocker) WithLock(ctx context.Context, key string, _ time.Duration, fn func(ctx context.Context) error) error {
	l.mu.Lock()
	if _, ok := l.held[key]; ok {
		l.mu.Unlock()
		return redis.ErrLockNotAcquired
	}
	l.held[key] = struct{}{}
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		delete(l.held, key)
		l.mu.Unlock()
	}()

	return fn(ctx)
}
