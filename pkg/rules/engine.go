// Package rules evaluates a restaurant's automation rules against customer
// segments and reservation risk tiers and plans the resulting messages.
package rules

import (
	"context"
	"sort"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/gustausantin/La-ia-app-sub001/pkg/apperrors"
	"github.com/gustausantin/La-ia-app-sub001/pkg/metrics"
	"github.com/gustausantin/La-ia-app-sub001/pkg/models"
	"github.com/gustausantin/La-ia-app-sub001/pkg/scheduler"
	"github.com/gustausantin/La-ia-app-sub001/pkg/tracing"
)

const (
	// DefaultCapWindow is the lookback of the weekly contact cap
	DefaultCapWindow = 7 * 24 * time.Hour

	// DefaultRiskHorizon bounds how far ahead risk rules look for reservations
	DefaultRiskHorizon = 72 * time.Hour
)

// Skip reasons reported in Result.Skipped and the rule skip metric.
const (
	SkipCapReached       = "cap_reached"
	SkipDuplicate        = "duplicate"
	SkipNoContact        = "no_contact"
	SkipTemplateNotFound = "template_not_found"
	SkipTemplateChannel  = "template_channel_mismatch"
	SkipRenderFailed     = "render_failed"
	SkipError            = "error"
)

// Store is the persistence the engine reads.
type Store interface {
	GetRestaurantSettings(ctx context.Context, restaurantID uuid.UUID) (models.RestaurantSettings, error)
	ListActiveRules(ctx context.Context, restaurantID uuid.UUID) ([]models.AutomationRule, error)
	GetTemplate(ctx context.Context, templateID uuid.UUID) (*models.MessageTemplate, error)
	ListCustomersBySegment(ctx context.Context, restaurantID uuid.UUID, segment models.Segment) ([]models.Customer, error)
	ListReservationsByRisk(ctx context.Context, restaurantID uuid.UUID, level models.RiskLevel, from, to time.Time) ([]models.AtRiskReservation, error)
	CountActiveMessages(ctx context.Context, customerID uuid.UUID, channel models.Channel, since time.Time) (int, error)
	HasOpenMessage(ctx context.Context, customerID, ruleID uuid.UUID) (bool, error)
}

// Enqueuer plans messages. Implemented by scheduler.Service.
type Enqueuer interface {
	Enqueue(ctx context.Context, req scheduler.EnqueueRequest) (*models.ScheduledMessage, error)
}

type Config struct {
	CapWindow   time.Duration
	RiskHorizon time.Duration
}

func DefaultConfig() Config {
	return Config{
		CapWindow:   DefaultCapWindow,
		RiskHorizon: DefaultRiskHorizon,
	}
}

// Result summarizes one evaluation pass.
type Result struct {
	RulesEvaluated int            `json:"rules_evaluated"`
	MessagesQueued int            `json:"messages_queued"`
	Skipped        map[string]int `json:"skipped"`
}

func (r *Result) skip(reason string) {
	r.Skipped[reason]++
	metrics.RuleSkipsTotal.WithLabelValues(reason).Inc()
}

// Engine applies automation rules.
type Engine struct {
	store    Store
	enqueuer Enqueuer
	config   Config
	logger   ectologger.Logger
	now      func() time.Time
}

type Option func(*Engine)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func NewEngine(store Store, enqueuer Enqueuer, config Config, logger ectologger.Logger, opts ...Option) *Engine {
	if config.CapWindow <= 0 {
		config.CapWindow = DefaultCapWindow
	}
	if config.RiskHorizon <= 0 {
		config.RiskHorizon = DefaultRiskHorizon
	}

	e := &Engine{
		store:    store,
		enqueuer: enqueuer,
		config:   config,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// target is one customer a rule applies to, with the reservation that made a
// risk rule match.
type target struct {
	customer    models.Customer
	reservation *models.Reservation
}

// Evaluate runs every active rule of the restaurant in ascending priority.
// When segment is set only segment rules targeting it are evaluated.
// Failures for a single customer are counted in Result.Skipped and never
// abort the pass; only failing to load settings or rules returns an error.
func (e *Engine) Evaluate(ctx context.Context, restaurantID uuid.UUID, segment *models.Segment) (Result, error) {
	ctx, span := tracing.StartSpan(ctx, "Engine.Evaluate")
	defer span.End()

	result := Result{Skipped: make(map[string]int)}

	if segment != nil && !segment.Valid() {
		return result, apperrors.NewValidationError("segment", "unknown segment %q", *segment)
	}

	settings, err := e.store.GetRestaurantSettings(ctx, restaurantID)
	if err != nil {
		return result, err
	}

	rules, err := e.store.ListActiveRules(ctx, restaurantID)
	if err != nil {
		return result, err
	}
	sort.SliceStable(rules, func(i, j int) bool { return rules[i].Priority < rules[j].Priority })

	for _, rule := range rules {
		if !rule.Active || !matchesFilter(rule, segment) {
			continue
		}
		result.RulesEvaluated++
		e.evaluateRule(ctx, settings, rule, &result)
	}

	e.logger.WithContext(ctx).WithFields(map[string]any{
		"restaurant_id":   restaurantID.String(),
		"rules_evaluated": result.RulesEvaluated,
		"messages_queued": result.MessagesQueued,
		"skipped":         result.Skipped,
	}).Info("Rule evaluation completed")

	return result, nil
}

func matchesFilter(rule models.AutomationRule, segment *models.Segment) bool {
	if segment == nil {
		return true
	}
	return rule.TargetType == models.RuleTargetSegment &&
		rule.TargetSegment != nil && *rule.TargetSegment == *segment
}

func (e *Engine) evaluateRule(ctx context.Context, settings models.RestaurantSettings, rule models.AutomationRule, result *Result) {
	logger := e.logger.WithContext(ctx).WithFields(map[string]any{
		"rule_id":   rule.ID.String(),
		"rule_name": rule.Name,
	})

	targets, err := e.targets(ctx, rule)
	if err != nil {
		logger.WithError(err).Error("Failed to load rule targets")
		result.skip(SkipError)
		return
	}

	var (
		tmpl       *models.MessageTemplate
		tmplSkip   string
		tmplLoaded bool
		capSince   = e.now().Add(-e.config.CapWindow)
	)

	for _, t := range targets {
		customerLogger := logger.WithFields(map[string]any{"customer_id": t.customer.ID.String()})

		count, err := e.store.CountActiveMessages(ctx, t.customer.ID, rule.Channel, capSince)
		if err != nil {
			customerLogger.WithError(err).Warn("Failed to count active messages")
			result.skip(SkipError)
			continue
		}
		if count >= settings.WeeklyContactCap {
			result.skip(SkipCapReached)
			continue
		}

		open, err := e.store.HasOpenMessage(ctx, t.customer.ID, rule.ID)
		if err != nil {
			customerLogger.WithError(err).Warn("Failed to check open messages")
			result.skip(SkipError)
			continue
		}
		if open {
			result.skip(SkipDuplicate)
			continue
		}

		if _, ok := t.customer.Destination(rule.Channel); !ok && rule.FallbackTemplateID == nil {
			customerLogger.Debugf("Customer has no usable %s contact", rule.Channel)
			result.skip(SkipNoContact)
			continue
		}

		if !tmplLoaded {
			tmpl, tmplSkip = e.resolveTemplate(ctx, rule)
			tmplLoaded = true
			if tmplSkip != "" {
				logger.Warnf("Rule template unusable: %s", tmplSkip)
			}
		}
		if tmplSkip != "" {
			result.skip(tmplSkip)
			continue
		}

		_, err = e.enqueuer.Enqueue(ctx, scheduler.EnqueueRequest{
			Settings:           settings,
			Customer:           t.customer,
			Template:           *tmpl,
			RuleID:             &rule.ID,
			FallbackTemplateID: rule.FallbackTemplateID,
			Reservation:        t.reservation,
			Delay:              time.Duration(rule.DelayMinutes) * time.Minute,
			Source:             scheduler.SourceRule,
		})
		if err != nil {
			customerLogger.WithError(err).Warn("Failed to enqueue message")
			if apperrors.IsValidationError(err) {
				result.skip(SkipRenderFailed)
			} else {
				result.skip(SkipError)
			}
			continue
		}
		result.MessagesQueued++
	}
}

func (e *Engine) targets(ctx context.Context, rule models.AutomationRule) ([]target, error) {
	switch rule.TargetType {
	case models.RuleTargetSegment:
		if rule.TargetSegment == nil {
			return nil, apperrors.NewValidationError("target_segment", "segment rule %s has no segment", rule.ID)
		}
		customers, err := e.store.ListCustomersBySegment(ctx, rule.RestaurantID, *rule.TargetSegment)
		if err != nil {
			return nil, err
		}
		out := make([]target, 0, len(customers))
		for _, c := range customers {
			out = append(out, target{customer: c})
		}
		return out, nil

	case models.RuleTargetRisk:
		if rule.TargetRiskLevel == nil || !rule.TargetRiskLevel.Actionable() {
			return nil, apperrors.NewValidationError("target_risk_level", "risk rule %s must target high or medium", rule.ID)
		}
		now := e.now()
		reservations, err := e.store.ListReservationsByRisk(ctx, rule.RestaurantID, *rule.TargetRiskLevel, now, now.Add(e.config.RiskHorizon))
		if err != nil {
			return nil, err
		}
		out := make([]target, 0, len(reservations))
		for _, r := range reservations {
			reservation := r.Reservation
			out = append(out, target{customer: r.Customer, reservation: &reservation})
		}
		return out, nil
	}
	return nil, apperrors.NewValidationError("target_type", "unknown target type %q", rule.TargetType)
}

func (e *Engine) resolveTemplate(ctx context.Context, rule models.AutomationRule) (*models.MessageTemplate, string) {
	tmpl, err := e.store.GetTemplate(ctx, rule.TemplateID)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return nil, SkipTemplateNotFound
		}
		e.logger.WithContext(ctx).WithError(err).Error("Failed to load template")
		return nil, SkipError
	}
	if tmpl.Channel != rule.Channel {
		return nil, SkipTemplateChannel
	}
	return tmpl, ""
}
