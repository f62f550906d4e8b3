package templates

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/gustausantin/La-ia-app-sub001/pkg/models"
)

// Data is everything a message template may reference.
type Data struct {
	Customer    CustomerData     `json:"customer"`
	Restaurant  RestaurantData   `json:"restaurant"`
	Reservation *ReservationData `json:"reservation,omitempty"`
}

type CustomerData struct {
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name,omitempty"`
	FullName    string `json:"full_name"`
	Email       string `json:"email,omitempty"`
	Phone       string `json:"phone,omitempty"`
	Segment     string `json:"segment,omitempty"`
	VisitsTotal int    `json:"visits_total"`
	IsVIP       bool   `json:"is_vip"`
}

type RestaurantData struct {
	Name string `json:"name,omitempty"`
}

// ReservationData carries reservation values already formatted in the
// restaurant's local time.
type ReservationData struct {
	Date      string `json:"date"`
	Time      string `json:"time"`
	PartySize int    `json:"party_size"`
}

// NewData builds the template data for a customer, optionally about a reservation.
func NewData(customer models.Customer, settings models.RestaurantSettings, reservation *models.Reservation) Data {
	d := Data{
		Customer: CustomerData{
			FirstName:   customer.FirstName,
			LastName:    deref(customer.LastName),
			Email:       deref(customer.Email),
			Phone:       deref(customer.Phone),
			Segment:     string(customer.Segment),
			VisitsTotal: customer.VisitsTotal,
			IsVIP:       customer.IsVIP,
		},
		Restaurant: RestaurantData{Name: settings.Name},
	}
	d.Customer.FullName = strings.TrimSpace(d.Customer.FirstName + " " + d.Customer.LastName)

	if reservation != nil {
		local := reservation.ReservedFor.In(settings.Location())
		d.Reservation = &ReservationData{
			Date:      local.Format(time.DateOnly),
			Time:      local.Format("15:04"),
			PartySize: reservation.PartySize,
		}
	}

	return d
}

// ToMap converts the data to the generic shape JMESPath searches.
func (d Data) ToMap() map[string]any {
	raw, err := json.Marshal(d)
	if err != nil {
		return map[string]any{}
	}
	result := make(map[string]any)
	if err := json.Unmarshal(raw, &result); err != nil {
		return map[string]any{}
	}
	return result
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
