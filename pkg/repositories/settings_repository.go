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
	settingsTable    = "restaurant_settings"
	credentialsTable = "channel_credentials"
)

// settingsRow is the stored form of RestaurantSettings; the nested settings
// live in jsonb columns.
type settingsRow struct {
	RestaurantID     uuid.UUID                                   `db:"restaurant_id"`
	Name             string                                      `db:"name"`
	Timezone         string                                      `db:"timezone"`
	WeeklyContactCap int                                         `db:"weekly_contact_cap"`
	Segmentation     database.JSONB[models.SegmentationSettings] `db:"segmentation"`
	Risk             database.JSONB[models.RiskWeights]          `db:"risk_weights"`
	UpdatedAt        time.Time                                   `db:"updated_at"`
}

func (row settingsRow) toModel() models.RestaurantSettings {
	return models.RestaurantSettings{
		RestaurantID:     row.RestaurantID,
		Name:             row.Name,
		Timezone:         row.Timezone,
		WeeklyContactCap: row.WeeklyContactCap,
		Segmentation:     row.Segmentation.GetValue(),
		Risk:             row.Risk.GetValue(),
		UpdatedAt:        row.UpdatedAt,
	}
}

var (
	settingsStruct    = database.NewStruct(new(settingsRow))
	credentialsStruct = database.NewStruct(new(models.ChannelCredentials))
)

// SettingsRepository handles restaurant settings and channel credentials
type SettingsRepository struct {
	*Repository
}

func NewSettingsRepository(db database.DB, logger ectologger.Logger) *SettingsRepository {
	return &SettingsRepository{Repository: NewRepository(db, logger)}
}

// GetRestaurantSettings returns the stored settings, or the defaults when the
// restaurant never configured any.
func (r *SettingsRepository) GetRestaurantSettings(ctx context.Context, restaurantID uuid.UUID) (models.RestaurantSettings, error) {
	ctx, span := tracing.StartSpan(ctx, "SettingsRepository.GetRestaurantSettings")
	defer span.End()

	sb := settingsStruct.SelectFrom(settingsTable)
	sb.Where(sb.Equal("restaurant_id", restaurantID))

	query, args := sb.Build()
	var row settingsRow
	err := r.Conn(ctx).GetContext(ctx, &row, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return models.DefaultRestaurantSettings(restaurantID), nil
	}
	if err != nil {
		return models.RestaurantSettings{}, r.internalError(ctx, err, "failed to get restaurant settings", map[string]any{
			"restaurant_id": restaurantID,
		})
	}
	return row.toModel(), nil
}

func (r *SettingsRepository) UpsertRestaurantSettings(ctx context.Context, settings models.RestaurantSettings) error {
	ctx, span := tracing.StartSpan(ctx, "SettingsRepository.UpsertRestaurantSettings")
	defer span.End()

	ib := database.NewInsertBuilder()
	ib.InsertInto(settingsTable).
		Cols("restaurant_id", "name", "timezone", "weekly_contact_cap", "segmentation", "risk_weights", "updated_at").
		Values(settings.RestaurantID, settings.Name, settings.Timezone, settings.WeeklyContactCap,
			database.NewJSONB(settings.Segmentation), database.NewJSONB(settings.Risk), database.Now())
	ib.OnConflictUpdate([]string{"restaurant_id"},
		"name", "timezone", "weekly_contact_cap", "segmentation", "risk_weights", "updated_at")

	query, args := ib.Build()
	if _, err := r.Conn(ctx).ExecContext(ctx, query, args...); err != nil {
		return r.internalError(ctx, err, "failed to upsert restaurant settings", map[string]any{
			"restaurant_id": settings.RestaurantID,
		})
	}
	return nil
}

func (r *SettingsRepository) GetCredentials(ctx context.Context, restaurantID uuid.UUID, channel models.Channel) (models.Credentials, error) {
	ctx, span := tracing.StartSpan(ctx, "SettingsRepository.GetCredentials")
	defer span.End()

	sb := credentialsStruct.SelectFrom(credentialsTable)
	sb.Where(sb.Equal("restaurant_id", restaurantID), sb.Equal("channel", channel))

	query, args := sb.Build()
	var stored models.ChannelCredentials
	err := r.Conn(ctx).GetContext(ctx, &stored, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError("credentials", restaurantID.String()+"/"+string(channel))
	}
	if err != nil {
		return nil, r.internalError(ctx, err, "failed to get credentials", map[string]any{
			"restaurant_id": restaurantID,
			"channel":       channel,
		})
	}

	creds, err := stored.Decode()
	if err != nil {
		return nil, apperrors.NewConfigurationError(restaurantID.String(), string(channel), "%v", err)
	}
	return creds, nil
}

func (r *SettingsRepository) UpsertCredentials(ctx context.Context, restaurantID uuid.UUID, creds models.Credentials) error {
	ctx, span := tracing.StartSpan(ctx, "SettingsRepository.UpsertCredentials")
	defer span.End()

	stored, err := models.EncodeCredentials(restaurantID, creds)
	if err != nil {
		return err
	}

	ib := database.NewInsertBuilder()
	ib.InsertInto(credentialsTable).
		Cols("restaurant_id", "channel", "config", "updated_at").
		Values(stored.RestaurantID, stored.Channel, []byte(stored.Config), database.Now())
	ib.OnConflictUpdate([]string{"restaurant_id", "channel"}, "config", "updated_at")

	query, args := ib.Build()
	if _, err := r.Conn(ctx).ExecContext(ctx, query, args...); err != nil {
		return r.internalError(ctx, err, "failed to upsert credentials", map[string]any{
			"restaurant_id": restaurantID,
			"channel":       stored.Channel,
		})
	}
	return nil
}
