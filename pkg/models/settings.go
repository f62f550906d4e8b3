package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SegmentationSettings holds the per-restaurant segmentation thresholds.
type SegmentationSettings struct {
	FactorActivo    float64 `json:"factor_activo" yaml:"factor_activo" validate:"gt=0"`
	FactorRiesgo    float64 `json:"factor_riesgo" yaml:"factor_riesgo" validate:"gtefield=FactorActivo"`
	DiasInactivoMin int     `json:"dias_inactivo_min" yaml:"dias_inactivo_min" validate:"gt=0"`
	DiasNuevo       int     `json:"dias_nuevo" yaml:"dias_nuevo" validate:"gte=0"`
	VIPPercentile   float64 `json:"vip_percentil" yaml:"vip_percentil" validate:"gt=0,lte=100"`

	// Used when fewer than VIPMinPopulation customers visited in the last 12 months.
	VIPMinPopulation  int             `json:"vip_min_population" yaml:"vip_min_population" validate:"gte=1"`
	VIPFallbackSpend  decimal.Decimal `json:"vip_fallback_spend" yaml:"vip_fallback_spend"`
	VIPFallbackVisits int             `json:"vip_fallback_visits" yaml:"vip_fallback_visits" validate:"gte=1"`
}

func DefaultSegmentationSettings() SegmentationSettings {
	return SegmentationSettings{
		FactorActivo:      1.2,
		FactorRiesgo:      1.5,
		DiasInactivoMin:   90,
		DiasNuevo:         30,
		VIPPercentile:     90,
		VIPMinPopulation:  20,
		VIPFallbackSpend:  decimal.NewFromInt(500),
		VIPFallbackVisits: 10,
	}
}

// RiskWeights holds the points of each no-show factor and the level cut-offs.
type RiskWeights struct {
	HistoryHighRate   float64       `json:"history_high_rate" yaml:"history_high_rate" validate:"gte=0,lte=1"`
	HistoryHighPoints int           `json:"history_high_points" yaml:"history_high_points" validate:"gte=0"`
	HistoryMedRate    float64       `json:"history_med_rate" yaml:"history_med_rate" validate:"gte=0,lte=1"`
	HistoryMedPoints  int           `json:"history_med_points" yaml:"history_med_points" validate:"gte=0"`
	LateHourFrom      int           `json:"late_hour_from" yaml:"late_hour_from" validate:"gte=0,lte=23"`
	EarlyHourUntil    int           `json:"early_hour_until" yaml:"early_hour_until" validate:"gte=0,lte=23"`
	EdgeHourPoints    int           `json:"edge_hour_points" yaml:"edge_hour_points" validate:"gte=0"`
	LargePartyMin     int           `json:"large_party_min" yaml:"large_party_min" validate:"gte=1"`
	LargePartyPoints  int           `json:"large_party_points" yaml:"large_party_points" validate:"gte=0"`
	SoloPartyPoints   int           `json:"solo_party_points" yaml:"solo_party_points" validate:"gte=0"`
	SundayPoints      int           `json:"sunday_points" yaml:"sunday_points" validate:"gte=0"`
	SaturdayPoints    int           `json:"saturday_points" yaml:"saturday_points" validate:"gte=0"`
	WeatherPoints     int           `json:"weather_points" yaml:"weather_points" validate:"gte=0"`
	ShortLeadTime     time.Duration `json:"short_lead_time" yaml:"short_lead_time" validate:"gte=0"`
	ShortLeadPoints   int           `json:"short_lead_points" yaml:"short_lead_points" validate:"gte=0"`
	HighThreshold     int           `json:"high_threshold" yaml:"high_threshold" validate:"gtfield=MediumThreshold,lte=100"`
	MediumThreshold   int           `json:"medium_threshold" yaml:"medium_threshold" validate:"gte=0"`
}

// DefaultRiskWeights returns the stock weights. A high score needs the history
// factor plus at least two others.
func DefaultRiskWeights() RiskWeights {
	return RiskWeights{
		HistoryHighRate:   0.30,
		HistoryHighPoints: 40,
		HistoryMedRate:    0.15,
		HistoryMedPoints:  25,
		LateHourFrom:      20,
		EarlyHourUntil:    13,
		EdgeHourPoints:    25,
		LargePartyMin:     7,
		LargePartyPoints:  15,
		SoloPartyPoints:   10,
		SundayPoints:      10,
		SaturdayPoints:    5,
		WeatherPoints:     5,
		ShortLeadTime:     2 * time.Hour,
		ShortLeadPoints:   5,
		HighThreshold:     85,
		MediumThreshold:   65,
	}
}

type RestaurantSettings struct {
	RestaurantID     uuid.UUID            `db:"restaurant_id" json:"restaurant_id" yaml:"id" validate:"required"`
	Name             string               `db:"name" json:"name" yaml:"name" validate:"required"`
	Timezone         string               `db:"timezone" json:"timezone" yaml:"timezone" validate:"required,timezone"`
	WeeklyContactCap int                  `db:"weekly_contact_cap" json:"weekly_contact_cap" yaml:"weekly_contact_cap" validate:"gte=1"`
	Segmentation     SegmentationSettings `db:"-" json:"segmentation" yaml:"segmentation"`
	Risk             RiskWeights          `db:"-" json:"risk" yaml:"risk"`
	UpdatedAt        time.Time            `db:"updated_at" json:"updated_at" yaml:"-"`
}

// TableName returns the database table name
func (RestaurantSettings) TableName() string {
	return "restaurant_settings"
}

// DefaultRestaurantSettings returns settings for a restaurant with nothing configured.
func DefaultRestaurantSettings(restaurantID uuid.UUID) RestaurantSettings {
	return RestaurantSettings{
		RestaurantID:     restaurantID,
		Timezone:         "UTC",
		WeeklyContactCap: 2,
		Segmentation:     DefaultSegmentationSettings(),
		Risk:             DefaultRiskWeights(),
	}
}

// Location resolves the restaurant timezone, falling back to UTC.
func (s RestaurantSettings) Location() *time.Location {
	if s.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
