package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/gustausantin/La-ia-app-sub001/pkg/apperrors"
	"github.com/gustausantin/La-ia-app-sub001/pkg/database"
	"github.com/gustausantin/La-ia-app-sub001/pkg/models"
	"github.com/gustausantin/La-ia-app-sub001/pkg/tracing"
)

const (
	rulesTable     = "automation_rules"
	templatesTable = "message_templates"
)

var (
	ruleStruct     = database.NewStruct(new(models.AutomationRule))
	templateStruct = database.NewStruct(new(models.MessageTemplate))
)

// RuleRepository handles automation rules and message templates
type RuleRepository struct {
	*Repository
}

func NewRuleRepository(db database.DB, logger ectologger.Logger) *RuleRepository {
	return &RuleRepository{Repository: NewRepository(db, logger)}
}

func (r *RuleRepository) UpsertRule(ctx context.Context, rule models.AutomationRule) error {
	ctx, span := tracing.StartSpan(ctx, "RuleRepository.UpsertRule")
	defer span.End()

	if rule.ID == uuid.Nil {
		rule.ID = uuid.New()
	}

	ib := database.NewInsertBuilder()
	ib.InsertInto(rulesTable).
		Cols("id", "restaurant_id", "name", "target_type", "target_segment", "target_risk_level",
			"priority", "active", "template_id", "fallback_template_id", "channel", "delay_minutes",
			"created_at", "updated_at").
		Values(rule.ID, rule.RestaurantID, rule.Name, rule.TargetType, rule.TargetSegment, rule.TargetRiskLevel,
			rule.Priority, rule.Active, rule.TemplateID, rule.FallbackTemplateID, rule.Channel, rule.DelayMinutes,
			database.Now(), database.Now())
	ib.OnConflictUpdate([]string{"id"},
		"name", "target_type", "target_segment", "target_risk_level", "priority", "active",
		"template_id", "fallback_template_id", "channel", "delay_minutes", "updated_at")

	query, args := ib.Build()
	if _, err := r.Conn(ctx).ExecContext(ctx, query, args...); err != nil {
		return r.internalError(ctx, err, "failed to upsert rule", map[string]any{
			"rule_id": rule.ID,
		})
	}
	return nil
}

// ListActiveRules returns the active rules of a restaurant by ascending priority.
func (r *RuleRepository) ListActiveRules(ctx context.Context, restaurantID uuid.UUID) ([]models.AutomationRule, error) {
	ctx, span := tracing.StartSpan(ctx, "RuleRepository.ListActiveRules")
	defer span.End()

	sb := ruleStruct.SelectFrom(rulesTable)
	sb.Where(sb.Equal("restaurant_id", restaurantID), sb.Equal("active", true)).OrderBy("priority", "id")

	query, args := sb.Build()
	var rules []models.AutomationRule
	if err := r.Conn(ctx).SelectContext(ctx, &rules, query, args...); err != nil {
		return nil, r.internalError(ctx, err, "failed to list active rules", map[string]any{
			"restaurant_id": restaurantID,
		})
	}
	return rules, nil
}

func (r *RuleRepository) UpsertTemplate(ctx context.Context, tmpl models.MessageTemplate) error {
	ctx, span := tracing.StartSpan(ctx, "RuleRepository.UpsertTemplate")
	defer span.End()

	if tmpl.ID == uuid.Nil {
		tmpl.ID = uuid.New()
	}

	ib := database.NewInsertBuilder()
	ib.InsertInto(templatesTable).
		Cols("id", "restaurant_id", "name", "channel", "subject", "body", "created_at", "updated_at").
		Values(tmpl.ID, tmpl.RestaurantID, tmpl.Name, tmpl.Channel, tmpl.Subject, tmpl.Body, database.Now(), database.Now())
	ib.OnConflictUpdate([]string{"id"}, "name", "channel", "subject", "body", "updated_at")

	query, args := ib.Build()
	if _, err := r.Conn(ctx).ExecContext(ctx, query, args...); err != nil {
		return r.internalError(ctx, err, "failed to upsert template", map[string]any{
			"template_id": tmpl.ID,
		})
	}
	return nil
}

func (r *RuleRepository) GetTemplate(ctx context.Context, templateID uuid.UUID) (*models.MessageTemplate, error) {
	ctx, span := tracing.StartSpan(ctx, "RuleRepository.GetTemplate")
	defer span.End()

	sb := templateStruct.SelectFrom(templatesTable)
	sb.Where(sb.Equal("id", templateID))

	query, args := sb.Build()
	var tmpl models.MessageTemplate
	err := r.Conn(ctx).GetContext(ctx, &tmpl, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError("template", templateID.String())
	}
	if err != nil {
		return nil, r.internalError(ctx, err, "failed to get template", map[string]any{
			"template_id": templateID,
		})
	}
	return &tmpl, nil
}
