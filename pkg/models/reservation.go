package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/gustausantin/La-ia-app-sub001/pkg/database"
)

// ReservationStatus represents the status of a reservation
type ReservationStatus string

const (
	ReservationStatusPending   ReservationStatus = "pending"
	ReservationStatusConfirmed ReservationStatus = "confirmed"
	ReservationStatusSeated    ReservationStatus = "seated"
	ReservationStatusCompleted ReservationStatus = "completed"
	ReservationStatusNoShow    ReservationStatus = "no_show"
	ReservationStatusCancelled ReservationStatus = "cancelled"
)

// RiskLevel is the no-show tier of a reservation.
type RiskLevel string

const (
	RiskLevelLow    RiskLevel = "low"
	RiskLevelMedium RiskLevel = "medium"
	RiskLevelHigh   RiskLevel = "high"
)

func (l RiskLevel) Valid() bool {
	switch l {
	case RiskLevelLow, RiskLevelMedium, RiskLevelHigh:
		return true
	}
	return false
}

// Actionable reports whether the tier is eligible for no-show prevention messages.
func (l RiskLevel) Actionable() bool {
	return l == RiskLevelHigh || l == RiskLevelMedium
}

// RiskFactor is one weighted contribution to a risk score.
type RiskFactor struct {
	Name   string `json:"name"`
	Points int    `json:"points"`
	Detail string `json:"detail,omitempty"`
}

type Reservation struct {
	ID             uuid.UUID         `db:"id" json:"id"`
	RestaurantID   uuid.UUID         `db:"restaurant_id" json:"restaurant_id"`
	CustomerID     uuid.UUID         `db:"customer_id" json:"customer_id"`
	ReservedFor    time.Time         `db:"reserved_for" json:"reserved_for"`
	PartySize      int               `db:"party_size" json:"party_size"`
	Status         ReservationStatus `db:"status" json:"status"`
	BookedAt       time.Time         `db:"booked_at" json:"booked_at"`
	AdverseWeather bool              `db:"adverse_weather" json:"adverse_weather"`

	RiskScore       *int                         `db:"risk_score" json:"risk_score,omitempty"`
	RiskLevel       *RiskLevel                   `db:"risk_level" json:"risk_level,omitempty"`
	RiskFactors     database.JSONB[[]RiskFactor] `db:"risk_factors" json:"risk_factors"`
	RiskEvaluatedAt *time.Time                   `db:"risk_evaluated_at" json:"risk_evaluated_at,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// TableName returns the database table name
func (Reservation) TableName() string {
	return "reservations"
}

// NoShowStats is a customer's past reservation outcome counts.
type NoShowStats struct {
	CustomerID   uuid.UUID `db:"customer_id" json:"customer_id"`
	Reservations int       `db:"reservations" json:"reservations"`
	NoShows      int       `db:"no_shows" json:"no_shows"`
}

// Rate returns the historical no-show ratio, zero without history.
func (s NoShowStats) Rate() float64 {
	if s.Reservations <= 0 {
		return 0
	}
	return float64(s.NoShows) / float64(s.Reservations)
}

// RiskAssessment is the latest score written back onto a reservation.
type RiskAssessment struct {
	Score   int          `json:"score"`
	Level   RiskLevel    `json:"level"`
	Factors []RiskFactor `json:"factors"`
}

// AtRiskReservation pairs an upcoming scored reservation with its customer.
type AtRiskReservation struct {
	Reservation Reservation
	Customer    Customer
}
