// Package playbook loads a restaurant's automation setup from YAML: settings,
// channel credentials, templates, rules and optionally a customer book. A
// playbook is applied with the store's upserts, so seeding twice converges.
package playbook

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/gustausantin/La-ia-app-sub001/pkg/apperrors"
	"github.com/gustausantin/La-ia-app-sub001/pkg/models"
	"github.com/gustausantin/La-ia-app-sub001/pkg/templates"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

type Playbook struct {
	Restaurant  models.RestaurantSettings `yaml:"restaurant"`
	Credentials Credentials               `yaml:"credentials"`
	Templates   []Template                `yaml:"templates" validate:"dive"`
	Rules       []Rule                    `yaml:"rules" validate:"dive"`
	Customers   []Customer                `yaml:"customers" validate:"dive"`
}

// Credentials holds at most one credential set per channel.
type Credentials struct {
	WhatsApp *models.WhatsAppCredentials `yaml:"whatsapp"`
	Email    *models.EmailCredentials    `yaml:"email"`
}

// List returns the configured credentials in a fixed channel order.
func (c Credentials) List() []models.Credentials {
	var out []models.Credentials
	if c.WhatsApp != nil {
		out = append(out, *c.WhatsApp)
	}
	if c.Email != nil {
		out = append(out, *c.Email)
	}
	return out
}

// Template is referenced from rules by Key. ID is derived from the key when
// omitted.
type Template struct {
	Key     string         `yaml:"key" validate:"required"`
	ID      uuid.UUID      `yaml:"id"`
	Name    string         `yaml:"name"`
	Channel models.Channel `yaml:"channel" validate:"required,oneof=email whatsapp"`
	Subject *string        `yaml:"subject"`
	Body    string         `yaml:"body" validate:"required"`
}

// Rule targets either a segment or a reservation risk level.
type Rule struct {
	Key              string            `yaml:"key" validate:"required"`
	ID               uuid.UUID         `yaml:"id"`
	Name             string            `yaml:"name" validate:"required"`
	Segment          *models.Segment   `yaml:"segment"`
	RiskLevel        *models.RiskLevel `yaml:"risk_level"`
	Priority         int               `yaml:"priority"`
	Active           *bool             `yaml:"active"`
	Template         string            `yaml:"template" validate:"required"`
	FallbackTemplate string            `yaml:"fallback_template"`
	Channel          models.Channel    `yaml:"channel" validate:"required,oneof=email whatsapp"`
	DelayMinutes     int               `yaml:"delay_minutes" validate:"gte=0"`
}

type Customer struct {
	ID              uuid.UUID     `yaml:"id" validate:"required"`
	FirstName       string        `yaml:"first_name" validate:"required"`
	LastName        *string       `yaml:"last_name"`
	Email           *string       `yaml:"email" validate:"omitempty,email"`
	Phone           *string       `yaml:"phone"`
	ConsentEmail    bool          `yaml:"consent_email"`
	ConsentWhatsApp bool          `yaml:"consent_whatsapp"`
	CreatedAt       time.Time     `yaml:"created_at"`
	Visits          []Visit       `yaml:"visits" validate:"dive"`
	Reservations    []Reservation `yaml:"reservations" validate:"dive"`
}

type Visit struct {
	VisitedAt time.Time       `yaml:"visited_at" validate:"required"`
	Amount    decimal.Decimal `yaml:"amount"`
}

type Reservation struct {
	ID             uuid.UUID                `yaml:"id" validate:"required"`
	ReservedFor    time.Time                `yaml:"reserved_for" validate:"required"`
	PartySize      int                      `yaml:"party_size" validate:"gte=1"`
	Status         models.ReservationStatus `yaml:"status"`
	BookedAt       time.Time                `yaml:"booked_at"`
	AdverseWeather bool                     `yaml:"adverse_weather"`
}

// Load reads and validates a playbook file.
func Load(path string) (*Playbook, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read playbook %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes a playbook. Settings left out of the document keep their
// defaults.
func Parse(data []byte) (*Playbook, error) {
	pb := &Playbook{Restaurant: models.DefaultRestaurantSettings(uuid.Nil)}
	if err := yaml.Unmarshal(data, pb); err != nil {
		return nil, apperrors.NewValidationError("playbook", "invalid yaml: %v", err)
	}
	if err := pb.Validate(); err != nil {
		return nil, err
	}
	return pb, nil
}

// Validate checks field constraints, template expressions and that every
// rule references a template of its own channel.
func (pb *Playbook) Validate() error {
	if err := validate.Struct(pb); err != nil {
		return validationError(err)
	}

	renderer := templates.NewRenderer(templates.NewEvaluator())
	byKey := make(map[string]Template, len(pb.Templates))
	for _, t := range pb.Templates {
		if _, dup := byKey[t.Key]; dup {
			return apperrors.NewValidationError("templates", "duplicate template key %q", t.Key)
		}
		if err := renderer.Validate(t.model(pb.Restaurant.RestaurantID)); err != nil {
			return apperrors.NewValidationError("templates", "template %q: %v", t.Key, err)
		}
		byKey[t.Key] = t
	}

	seen := make(map[string]bool, len(pb.Rules))
	for _, r := range pb.Rules {
		if seen[r.Key] {
			return apperrors.NewValidationError("rules", "duplicate rule key %q", r.Key)
		}
		seen[r.Key] = true

		switch {
		case r.Segment != nil && r.RiskLevel != nil:
			return apperrors.NewValidationError("rules", "rule %q sets both segment and risk_level", r.Key)
		case r.Segment != nil && !r.Segment.Valid():
			return apperrors.NewValidationError("rules", "rule %q has unknown segment %q", r.Key, *r.Segment)
		case r.RiskLevel != nil && !r.RiskLevel.Actionable():
			return apperrors.NewValidationError("rules", "rule %q must target a medium or high risk level", r.Key)
		case r.Segment == nil && r.RiskLevel == nil:
			return apperrors.NewValidationError("rules", "rule %q needs a segment or a risk_level", r.Key)
		}

		tmpl, ok := byKey[r.Template]
		if !ok {
			return apperrors.NewValidationError("rules", "rule %q references unknown template %q", r.Key, r.Template)
		}
		if tmpl.Channel != r.Channel {
			return apperrors.NewValidationError("rules", "rule %q sends on %s but template %q is %s", r.Key, r.Channel, tmpl.Key, tmpl.Channel)
		}
		if r.FallbackTemplate != "" {
			if _, ok := byKey[r.FallbackTemplate]; !ok {
				return apperrors.NewValidationError("rules", "rule %q references unknown fallback template %q", r.Key, r.FallbackTemplate)
			}
		}
	}

	for _, c := range pb.Customers {
		for _, res := range c.Reservations {
			if res.Status != "" && !validReservationStatus(res.Status) {
				return apperrors.NewValidationError("customers", "reservation %s has unknown status %q", res.ID, res.Status)
			}
		}
	}
	return nil
}

func validReservationStatus(s models.ReservationStatus) bool {
	switch s {
	case models.ReservationStatusPending, models.ReservationStatusConfirmed, models.ReservationStatusSeated,
		models.ReservationStatusCompleted, models.ReservationStatusNoShow, models.ReservationStatusCancelled:
		return true
	}
	return false
}

func validationError(err error) error {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok || len(verrs) == 0 {
		return apperrors.NewValidationError("playbook", "%v", err)
	}
	fe := verrs[0]
	return apperrors.NewValidationError(fe.Namespace(), "failed %s validation", fe.Tag())
}

func (t Template) id(restaurantID uuid.UUID) uuid.UUID {
	if t.ID != uuid.Nil {
		return t.ID
	}
	return uuid.NewSHA1(restaurantID, []byte("template:"+t.Key))
}

func (t Template) model(restaurantID uuid.UUID) models.MessageTemplate {
	name := t.Name
	if name == "" {
		name = t.Key
	}
	return models.MessageTemplate{
		ID:           t.id(restaurantID),
		RestaurantID: restaurantID,
		Name:         name,
		Channel:      t.Channel,
		Subject:      t.Subject,
		Body:         t.Body,
	}
}

func (r Rule) id(restaurantID uuid.UUID) uuid.UUID {
	if r.ID != uuid.Nil {
		return r.ID
	}
	return uuid.NewSHA1(restaurantID, []byte("rule:"+r.Key))
}

// TemplateModels returns the templates keyed by playbook key.
func (pb *Playbook) TemplateModels() map[string]models.MessageTemplate {
	out := make(map[string]models.MessageTemplate, len(pb.Templates))
	for _, t := range pb.Templates {
		out[t.Key] = t.model(pb.Restaurant.RestaurantID)
	}
	return out
}

// RuleModels resolves template keys into IDs.
func (pb *Playbook) RuleModels() []models.AutomationRule {
	rid := pb.Restaurant.RestaurantID
	tmpls := pb.TemplateModels()

	out := make([]models.AutomationRule, 0, len(pb.Rules))
	for _, r := range pb.Rules {
		rule := models.AutomationRule{
			ID:           r.id(rid),
			RestaurantID: rid,
			Name:         r.Name,
			Priority:     r.Priority,
			Active:       r.Active == nil || *r.Active,
			TemplateID:   tmpls[r.Template].ID,
			Channel:      r.Channel,
			DelayMinutes: r.DelayMinutes,
		}
		if r.Segment != nil {
			rule.TargetType = models.RuleTargetSegment
			rule.TargetSegment = r.Segment
		} else {
			rule.TargetType = models.RuleTargetRisk
			rule.TargetRiskLevel = r.RiskLevel
		}
		if r.FallbackTemplate != "" {
			fallback := tmpls[r.FallbackTemplate].ID
			rule.FallbackTemplateID = &fallback
		}
		out = append(out, rule)
	}
	return out
}

// Store is what Apply writes through.
type Store interface {
	UpsertRestaurantSettings(ctx context.Context, settings models.RestaurantSettings) error
	UpsertCredentials(ctx context.Context, restaurantID uuid.UUID, creds models.Credentials) error
	UpsertTemplate(ctx context.Context, tmpl models.MessageTemplate) error
	UpsertRule(ctx context.Context, rule models.AutomationRule) error
	UpsertCustomer(ctx context.Context, customer models.Customer) error
	InsertVisit(ctx context.Context, visit models.Visit) error
	UpsertReservation(ctx context.Context, reservation models.Reservation) error
}

// Summary counts what Apply wrote.
type Summary struct {
	Credentials  int `json:"credentials"`
	Templates    int `json:"templates"`
	Rules        int `json:"rules"`
	Customers    int `json:"customers"`
	Visits       int `json:"visits"`
	Reservations int `json:"reservations"`
}

// Apply upserts the playbook. Visits have no natural key and are appended
// on every run.
func (pb *Playbook) Apply(ctx context.Context, store Store, logger ectologger.Logger) (Summary, error) {
	var sum Summary
	rid := pb.Restaurant.RestaurantID
	logger = logger.WithContext(ctx).WithFields(map[string]any{"restaurant_id": rid.String()})

	if err := store.UpsertRestaurantSettings(ctx, pb.Restaurant); err != nil {
		return sum, fmt.Errorf("failed to store settings: %w", err)
	}

	for _, creds := range pb.Credentials.List() {
		if err := store.UpsertCredentials(ctx, rid, creds); err != nil {
			return sum, fmt.Errorf("failed to store %s credentials: %w", creds.Channel(), err)
		}
		sum.Credentials++
	}

	for _, t := range pb.Templates {
		if err := store.UpsertTemplate(ctx, t.model(rid)); err != nil {
			return sum, fmt.Errorf("failed to store template %q: %w", t.Key, err)
		}
		sum.Templates++
	}

	for _, rule := range pb.RuleModels() {
		if err := store.UpsertRule(ctx, rule); err != nil {
			return sum, fmt.Errorf("failed to store rule %q: %w", rule.Name, err)
		}
		sum.Rules++
	}

	for _, c := range pb.Customers {
		if err := pb.applyCustomer(ctx, store, c, &sum); err != nil {
			return sum, err
		}
	}

	logger.Infof("Playbook applied: credentials=%d templates=%d rules=%d customers=%d visits=%d reservations=%d",
		sum.Credentials, sum.Templates, sum.Rules, sum.Customers, sum.Visits, sum.Reservations)
	return sum, nil
}

func (pb *Playbook) applyCustomer(ctx context.Context, store Store, c Customer, sum *Summary) error {
	rid := pb.Restaurant.RestaurantID
	err := store.UpsertCustomer(ctx, models.Customer{
		ID:              c.ID,
		RestaurantID:    rid,
		FirstName:       c.FirstName,
		LastName:        c.LastName,
		Email:           c.Email,
		Phone:           c.Phone,
		ConsentEmail:    c.ConsentEmail,
		ConsentWhatsApp: c.ConsentWhatsApp,
		Segment:         models.SegmentNuevo,
		CreatedAt:       c.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to store customer %s: %w", c.ID, err)
	}
	sum.Customers++

	for _, v := range c.Visits {
		if err := store.InsertVisit(ctx, models.Visit{CustomerID: c.ID, VisitedAt: v.VisitedAt, Amount: v.Amount}); err != nil {
			return fmt.Errorf("failed to store visit of customer %s: %w", c.ID, err)
		}
		sum.Visits++
	}

	for _, r := range c.Reservations {
		status := r.Status
		if status == "" {
			status = models.ReservationStatusConfirmed
		}
		bookedAt := r.BookedAt
		if bookedAt.IsZero() {
			bookedAt = r.ReservedFor.Add(-24 * time.Hour)
		}
		err := store.UpsertReservation(ctx, models.Reservation{
			ID:             r.ID,
			RestaurantID:   rid,
			CustomerID:     c.ID,
			ReservedFor:    r.ReservedFor,
			PartySize:      r.PartySize,
			Status:         status,
			BookedAt:       bookedAt,
			AdverseWeather: r.AdverseWeather,
		})
		if err != nil {
			return fmt.Errorf("failed to store reservation %s: %w", r.ID, err)
		}
		sum.Reservations++
	}
	return nil
}
