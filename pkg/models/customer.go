package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Segment is the lifecycle classification of a customer.
type Segment string

const (
	SegmentNuevo    Segment = "nuevo"
	SegmentActivo   Segment = "activo"
	SegmentRiesgo   Segment = "riesgo"
	SegmentInactivo Segment = "inactivo"
)

// Segments lists every segment in classification order.
var Segments = []Segment{SegmentNuevo, SegmentActivo, SegmentRiesgo, SegmentInactivo}

func (s Segment) Valid() bool {
	switch s {
	case SegmentNuevo, SegmentActivo, SegmentRiesgo, SegmentInactivo:
		return true
	}
	return false
}

// Customer is a restaurant guest together with the latest feature snapshot
// written by segmentation.
type Customer struct {
	ID              uuid.UUID `db:"id" json:"id"`
	RestaurantID    uuid.UUID `db:"restaurant_id" json:"restaurant_id"`
	FirstName       string    `db:"first_name" json:"first_name"`
	LastName        *string   `db:"last_name" json:"last_name,omitempty"`
	Email           *string   `db:"email" json:"email,omitempty"`
	Phone           *string   `db:"phone" json:"phone,omitempty"`
	ConsentEmail    bool      `db:"consent_email" json:"consent_email"`
	ConsentWhatsApp bool      `db:"consent_whatsapp" json:"consent_whatsapp"`

	RecencyDays       *int            `db:"recency_days" json:"recency_days,omitempty"`
	AIVIDays          *float64        `db:"aivi_days" json:"aivi_days,omitempty"`
	VisitsTotal       int             `db:"visits_total" json:"visits_total"`
	Visits12m         int             `db:"visits_12m" json:"visits_12m"`
	TotalSpent12m     decimal.Decimal `db:"total_spent_12m" json:"total_spent_12m"`
	Segment           Segment         `db:"segment" json:"segment"`
	IsVIP             bool            `db:"is_vip" json:"is_vip"`
	FeaturesUpdatedAt *time.Time      `db:"features_updated_at" json:"features_updated_at,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// TableName returns the database table name
func (Customer) TableName() string {
	return "customers"
}

// Destination returns the address for channel, and whether the customer can be
// contacted there at all (address present and consent given).
func (c Customer) Destination(channel Channel) (string, bool) {
	switch channel {
	case ChannelEmail:
		if c.Email == nil || *c.Email == "" || !c.ConsentEmail {
			return "", false
		}
		return *c.Email, true
	case ChannelWhatsApp:
		if c.Phone == nil || *c.Phone == "" || !c.ConsentWhatsApp {
			return "", false
		}
		return *c.Phone, true
	}
	return "", false
}

// Visit is one completed visit of a customer, the raw input of segmentation.
type Visit struct {
	CustomerID uuid.UUID       `db:"customer_id" json:"customer_id"`
	VisitedAt  time.Time       `db:"visited_at" json:"visited_at"`
	Amount     decimal.Decimal `db:"amount" json:"amount"`
}

// CustomerHistory groups a customer with their visits.
type CustomerHistory struct {
	Customer Customer
	Visits   []Visit
}

// CustomerFeatures is the snapshot segmentation writes for one customer. It
// replaces the previous snapshot entirely.
type CustomerFeatures struct {
	RecencyDays    *int            `json:"recency_days,omitempty"`
	AIVIDays       *float64        `json:"aivi_days,omitempty"`
	VisitsTotal    int             `json:"visits_total"`
	Visits12m      int             `json:"visits_12m"`
	TotalSpent12m  decimal.Decimal `json:"total_spent_12m"`
	AccountAgeDays int             `json:"account_age_days"`
	Segment        Segment         `json:"segment"`
	IsVIP          bool            `json:"is_vip"`
	ComputedAt     time.Time       `json:"computed_at"`
}
