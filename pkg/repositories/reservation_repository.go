package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/gustausantin/La-ia-app-sub001/pkg/apperrors"
	"github.com/gustausantin/La-ia-app-sub001/pkg/database"
	"github.com/gustausantin/La-ia-app-sub001/pkg/models"
	"github.com/gustausantin/La-ia-app-sub001/pkg/tracing"
)

const reservationsTable = "reservations"

var reservationStruct = database.NewStruct(new(models.Reservation))

var upcomingStatuses = []any{models.ReservationStatusPending, models.ReservationStatusConfirmed}

// ReservationRepository handles reservations and their no-show risk
type ReservationRepository struct {
	*Repository
}

func NewReservationRepository(db database.DB, logger ectologger.Logger) *ReservationRepository {
	return &ReservationRepository{Repository: NewRepository(db, logger)}
}

func (r *ReservationRepository) UpsertReservation(ctx context.Context, reservation models.Reservation) error {
	ctx, span := tracing.StartSpan(ctx, "ReservationRepository.UpsertReservation")
	defer span.End()

	if reservation.ID == uuid.Nil {
		reservation.ID = uuid.New()
	}
	var bookedAt any = database.Now()
	if !reservation.BookedAt.IsZero() {
		bookedAt = reservation.BookedAt
	}

	ib := database.NewInsertBuilder()
	ib.InsertInto(reservationsTable).
		Cols("id", "restaurant_id", "customer_id", "reserved_for", "party_size", "status",
			"booked_at", "adverse_weather", "risk_factors", "created_at", "updated_at").
		Values(reservation.ID, reservation.RestaurantID, reservation.CustomerID, reservation.ReservedFor,
			reservation.PartySize, reservation.Status, bookedAt, reservation.AdverseWeather,
			database.NewJSONB(reservation.RiskFactors.GetValue()), database.Now(), database.Now())
	ib.OnConflictUpdate([]string{"id"}, "reserved_for", "party_size", "status", "adverse_weather", "updated_at")

	query, args := ib.Build()
	if _, err := r.Conn(ctx).ExecContext(ctx, query, args...); err != nil {
		return r.internalError(ctx, err, "failed to upsert reservation", map[string]any{
			"reservation_id": reservation.ID,
		})
	}
	return nil
}

func (r *ReservationRepository) GetReservation(ctx context.Context, reservationID uuid.UUID) (*models.Reservation, error) {
	ctx, span := tracing.StartSpan(ctx, "ReservationRepository.GetReservation")
	defer span.End()

	sb := reservationStruct.SelectFrom(reservationsTable)
	sb.Where(sb.Equal("id", reservationID))

	query, args := sb.Build()
	var reservation models.Reservation
	err := r.Conn(ctx).GetContext(ctx, &reservation, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError("reservation", reservationID.String())
	}
	if err != nil {
		return nil, r.internalError(ctx, err, "failed to get reservation", map[string]any{
			"reservation_id": reservationID,
		})
	}
	return &reservation, nil
}

// ListUpcomingReservations returns pending and confirmed reservations with
// reserved_for in [from, to].
func (r *ReservationRepository) ListUpcomingReservations(ctx context.Context, restaurantID uuid.UUID, from, to time.Time) ([]models.Reservation, error) {
	ctx, span := tracing.StartSpan(ctx, "ReservationRepository.ListUpcomingReservations")
	defer span.End()

	sb := reservationStruct.SelectFrom(reservationsTable)
	sb.Where(
		sb.Equal("restaurant_id", restaurantID),
		sb.In("status", upcomingStatuses...),
		sb.Between("reserved_for", from, to),
	).OrderBy("reserved_for")

	query, args := sb.Build()
	var reservations []models.Reservation
	if err := r.Conn(ctx).SelectContext(ctx, &reservations, query, args...); err != nil {
		return nil, r.internalError(ctx, err, "failed to list upcoming reservations", map[string]any{
			"restaurant_id": restaurantID,
		})
	}
	return reservations, nil
}

// ListReservationsByRisk returns upcoming reservations at level together with
// their customers.
func (r *ReservationRepository) ListReservationsByRisk(ctx context.Context, restaurantID uuid.UUID, level models.RiskLevel, from, to time.Time) ([]models.AtRiskReservation, error) {
	ctx, span := tracing.StartSpan(ctx, "ReservationRepository.ListReservationsByRisk")
	defer span.End()

	sb := reservationStruct.SelectFrom(reservationsTable)
	sb.Where(
		sb.Equal("restaurant_id", restaurantID),
		sb.Equal("risk_level", level),
		sb.In("status", upcomingStatuses...),
		sb.Between("reserved_for", from, to),
	).OrderBy("reserved_for")

	query, args := sb.Build()
	var reservations []models.Reservation
	if err := r.Conn(ctx).SelectContext(ctx, &reservations, query, args...); err != nil {
		return nil, r.internalError(ctx, err, "failed to list reservations by risk", map[string]any{
			"restaurant_id": restaurantID,
			"risk_level":    level,
		})
	}
	if len(reservations) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(reservations))
	for _, res := range reservations {
		ids = append(ids, res.CustomerID.String())
	}

	cb := customerStruct.SelectFrom(customersTable)
	cb.Where(cb.Equal("restaurant_id", restaurantID), "id = ANY("+cb.Var(pq.StringArray(ids))+"::uuid[])")

	query, args = cb.Build()
	var customers []models.Customer
	if err := r.Conn(ctx).SelectContext(ctx, &customers, query, args...); err != nil {
		return nil, r.internalError(ctx, err, "failed to load customers of reservations", map[string]any{
			"restaurant_id": restaurantID,
		})
	}

	byID := make(map[uuid.UUID]models.Customer, len(customers))
	for _, c := range customers {
		byID[c.ID] = c
	}

	out := make([]models.AtRiskReservation, 0, len(reservations))
	for _, res := range reservations {
		c, ok := byID[res.CustomerID]
		if !ok {
			continue
		}
		out = append(out, models.AtRiskReservation{Reservation: res, Customer: c})
	}
	return out, nil
}

// GetNoShowStats counts the finished reservations of a customer before the
// given instant. Cancelled and still-open reservations are not history.
func (r *ReservationRepository) GetNoShowStats(ctx context.Context, customerID uuid.UUID, before time.Time) (models.NoShowStats, error) {
	ctx, span := tracing.StartSpan(ctx, "ReservationRepository.GetNoShowStats")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select(
		sb.As("COUNT(*)", "reservations"),
		sb.As("COUNT(*) FILTER (WHERE status = "+sb.Var(models.ReservationStatusNoShow)+")", "no_shows"),
	).From(reservationsTable).Where(
		sb.Equal("customer_id", customerID),
		sb.LessThan("reserved_for", before),
		sb.In("status", models.ReservationStatusNoShow, models.ReservationStatusCompleted, models.ReservationStatusSeated),
	)

	query, args := sb.Build()
	stats := models.NoShowStats{CustomerID: customerID}
	if err := r.Conn(ctx).QueryRowContext(ctx, query, args...).Scan(&stats.Reservations, &stats.NoShows); err != nil {
		return models.NoShowStats{}, r.internalError(ctx, err, "failed to count no-shows", map[string]any{
			"customer_id": customerID,
		})
	}
	return stats, nil
}

func (r *ReservationRepository) UpdateReservationRisk(ctx context.Context, reservationID uuid.UUID, a models.RiskAssessment, at time.Time) error {
	ctx, span := tracing.StartSpan(ctx, "ReservationRepository.UpdateReservationRisk")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update(reservationsTable).Set(
		ub.Assign("risk_score", a.Score),
		ub.Assign("risk_level", a.Level),
		ub.Assign("risk_factors", database.NewJSONB(a.Factors)),
		ub.Assign("risk_evaluated_at", at),
		ub.Assign("updated_at", database.Now()),
	).Where(ub.Equal("id", reservationID))

	query, args := ub.Build()
	res, err := r.Conn(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		return r.internalError(ctx, err, "failed to update reservation risk", map[string]any{
			"reservation_id": reservationID,
		})
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.NewNotFoundError("reservation", reservationID.String())
	}
	return nil
}
