// Package memory is an in-process implementation of every store the engine
// consumes. It backs the tests and the single-node mode without a database.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Gobusters/ectolinq"
	"github.com/google/uuid"

	"github.com/gustausantin/La-ia-app-sub001/pkg/apperrors"
	"github.com/gustausantin/La-ia-app-sub001/pkg/models"
)

type credentialKey struct {
	restaurantID uuid.UUID
	channel      models.Channel
}

type interactionKey struct {
	providerMessageID string
	eventType         models.EventType
}

type Store struct {
	mu sync.RWMutex

	settings     map[uuid.UUID]models.RestaurantSettings
	credentials  map[credentialKey]models.Credentials
	customers    map[uuid.UUID]*models.Customer
	visits       map[uuid.UUID][]models.Visit
	reservations map[uuid.UUID]*models.Reservation
	rules        map[uuid.UUID]models.AutomationRule
	templates    map[uuid.UUID]models.MessageTemplate
	messages     map[uuid.UUID]*models.ScheduledMessage
	interactions []models.InteractionLog
	seen         map[interactionKey]struct{}

	now func() time.Time
}

func NewStore() *Store {
	return &Store{
		settings:     make(map[uuid.UUID]models.RestaurantSettings),
		credentials:  make(map[credentialKey]models.Credentials),
		customers:    make(map[uuid.UUID]*models.Customer),
		visits:       make(map[uuid.UUID][]models.Visit),
		reservations: make(map[uuid.UUID]*models.Reservation),
		rules:        make(map[uuid.UUID]models.AutomationRule),
		templates:    make(map[uuid.UUID]models.MessageTemplate),
		messages:     make(map[uuid.UUID]*models.ScheduledMessage),
		seen:         make(map[interactionKey]struct{}),
		now:          time.Now,
	}
}

// SetClock replaces the time source used for created_at/updated_at.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Restaurant settings and credentials

func (s *Store) GetRestaurantSettings(_ context.Context, restaurantID uuid.UUID) (models.RestaurantSettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if settings, ok := s.settings[restaurantID]; ok {
		return settings, nil
	}
	return models.DefaultRestaurantSettings(restaurantID), nil
}

func (s *Store) UpsertRestaurantSettings(_ context.Context, settings models.RestaurantSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	settings.UpdatedAt = s.now()
	s.settings[settings.RestaurantID] = settings
	return nil
}

func (s *Store) GetCredentials(_ context.Context, restaurantID uuid.UUID, channel models.Channel) (models.Credentials, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	creds, ok := s.credentials[credentialKey{restaurantID, channel}]
	if !ok {
		return nil, apperrors.NewNotFoundError("credentials", restaurantID.String()+"/"+string(channel))
	}
	return creds, nil
}

func (s *Store) UpsertCredentials(_ context.Context, restaurantID uuid.UUID, creds models.Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.credentials[credentialKey{restaurantID, creds.Channel()}] = creds
	return nil
}

// Customers

func (s *Store) UpsertCustomer(_ context.Context, customer models.Customer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if existing, ok := s.customers[customer.ID]; ok {
		customer.CreatedAt = existing.CreatedAt
	} else if customer.CreatedAt.IsZero() {
		customer.CreatedAt = now
	}
	customer.UpdatedAt = now
	s.customers[customer.ID] = &customer
	return nil
}

func (s *Store) InsertVisit(_ context.Context, visit models.Visit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.customers[visit.CustomerID]; !ok {
		return apperrors.NewNotFoundError("customer", visit.CustomerID.String())
	}
	s.visits[visit.CustomerID] = append(s.visits[visit.CustomerID], visit)
	return nil
}

func (s *Store) GetCustomer(_ context.Context, restaurantID, customerID uuid.UUID) (*models.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.customers[customerID]
	if !ok || c.RestaurantID != restaurantID {
		return nil, apperrors.NewNotFoundError("customer", customerID.String())
	}
	out := *c
	return &out, nil
}

func (s *Store) ListCustomerHistories(_ context.Context, restaurantID uuid.UUID) ([]models.CustomerHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.CustomerHistory
	for _, c := range s.customers {
		if c.RestaurantID != restaurantID {
			continue
		}
		visits := append([]models.Visit(nil), s.visits[c.ID]...)
		out = append(out, models.CustomerHistory{Customer: *c, Visits: visits})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Customer.ID.String() < out[j].Customer.ID.String()
	})
	return out, nil
}

func (s *Store) UpsertCustomerFeatures(_ context.Context, customerID uuid.UUID, f models.CustomerFeatures) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.customers[customerID]
	if !ok {
		return apperrors.NewNotFoundError("customer", customerID.String())
	}
	computedAt := f.ComputedAt
	c.RecencyDays = f.RecencyDays
	c.AIVIDays = f.AIVIDays
	c.VisitsTotal = f.VisitsTotal
	c.Visits12m = f.Visits12m
	c.TotalSpent12m = f.TotalSpent12m
	c.Segment = f.Segment
	c.IsVIP = f.IsVIP
	c.FeaturesUpdatedAt = &computedAt
	c.UpdatedAt = s.now()
	return nil
}

func (s *Store) ListCustomersBySegment(_ context.Context, restaurantID uuid.UUID, segment models.Segment) ([]models.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Customer
	for _, c := range s.customers {
		if c.RestaurantID == restaurantID && c.Segment == segment {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}

// Reservations

func (s *Store) UpsertReservation(_ context.Context, reservation models.Reservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if reservation.CreatedAt.IsZero() {
		reservation.CreatedAt = now
	}
	if reservation.BookedAt.IsZero() {
		reservation.BookedAt = reservation.CreatedAt
	}
	reservation.UpdatedAt = now
	s.reservations[reservation.ID] = &reservation
	return nil
}

func (s *Store) GetReservation(_ context.Context, reservationID uuid.UUID) (*models.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.reservations[reservationID]
	if !ok {
		return nil, apperrors.NewNotFoundError("reservation", reservationID.String())
	}
	out := *r
	return &out, nil
}

func (s *Store) ListUpcomingReservations(_ context.Context, restaurantID uuid.UUID, from, to time.Time) ([]models.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Reservation
	for _, r := range s.reservations {
		if r.RestaurantID != restaurantID || !isUpcoming(*r, from, to) {
			continue
		}
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReservedFor.Before(out[j].ReservedFor) })
	return out, nil
}

func (s *Store) ListReservationsByRisk(_ context.Context, restaurantID uuid.UUID, level models.RiskLevel, from, to time.Time) ([]models.AtRiskReservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.AtRiskReservation
	for _, r := range s.reservations {
		if r.RestaurantID != restaurantID || !isUpcoming(*r, from, to) {
			continue
		}
		if r.RiskLevel == nil || *r.RiskLevel != level {
			continue
		}
		c, ok := s.customers[r.CustomerID]
		if !ok {
			continue
		}
		out = append(out, models.AtRiskReservation{Reservation: *r, Customer: *c})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Reservation.ReservedFor.Before(out[j].Reservation.ReservedFor)
	})
	return out, nil
}

func isUpcoming(r models.Reservation, from, to time.Time) bool {
	if r.Status != models.ReservationStatusPending && r.Status != models.ReservationStatusConfirmed {
		return false
	}
	return !r.ReservedFor.Before(from) && !r.ReservedFor.After(to)
}

func (s *Store) GetNoShowStats(_ context.Context, customerID uuid.UUID, before time.Time) (models.NoShowStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := models.NoShowStats{CustomerID: customerID}
	for _, r := range s.reservations {
		if r.CustomerID != customerID || !r.ReservedFor.Before(before) {
			continue
		}
		switch r.Status {
		case models.ReservationStatusNoShow:
			stats.NoShows++
			stats.Reservations++
		case models.ReservationStatusCompleted, models.ReservationStatusSeated:
			stats.Reservations++
		}
	}
	return stats, nil
}

func (s *Store) UpdateReservationRisk(_ context.Context, reservationID uuid.UUID, a models.RiskAssessment, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.reservations[reservationID]
	if !ok {
		return apperrors.NewNotFoundError("reservation", reservationID.String())
	}
	score, level := a.Score, a.Level
	r.RiskScore = &score
	r.RiskLevel = &level
	r.RiskFactors.Data = append([]models.RiskFactor(nil), a.Factors...)
	r.RiskEvaluatedAt = &at
	r.UpdatedAt = s.now()
	return nil
}

// Rules and templates

func (s *Store) UpsertRule(_ context.Context, rule models.AutomationRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now
	s.rules[rule.ID] = rule
	return nil
}

func (s *Store) ListActiveRules(_ context.Context, restaurantID uuid.UUID) ([]models.AutomationRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rules := ectolinq.Filter(ectolinq.Values(s.rules), func(r models.AutomationRule) bool {
		return r.RestaurantID == restaurantID && r.Active
	})
	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority < rules[j].Priority
		}
		return rules[i].ID.String() < rules[j].ID.String()
	})
	return rules, nil
}

func (s *Store) UpsertTemplate(_ context.Context, tmpl models.MessageTemplate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if tmpl.CreatedAt.IsZero() {
		tmpl.CreatedAt = now
	}
	tmpl.UpdatedAt = now
	s.templates[tmpl.ID] = tmpl
	return nil
}

func (s *Store) GetTemplate(_ context.Context, templateID uuid.UUID) (*models.MessageTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tmpl, ok := s.templates[templateID]
	if !ok {
		return nil, apperrors.NewNotFoundError("template", templateID.String())
	}
	return &tmpl, nil
}
