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
	customersTable = "customers"
	visitsTable    = "visits"
)

var (
	customerStruct = database.NewStruct(new(models.Customer))
	visitStruct    = database.NewStruct(new(models.Visit))
)

// CustomerRepository handles customers, their visits and segmentation features
type CustomerRepository struct {
	*Repository
}

func NewCustomerRepository(db database.DB, logger ectologger.Logger) *CustomerRepository {
	return &CustomerRepository{Repository: NewRepository(db, logger)}
}

// UpsertCustomer writes the contact fields of a customer. Feature columns are
// owned by UpsertCustomerFeatures and are left untouched on conflict.
func (r *CustomerRepository) UpsertCustomer(ctx context.Context, customer models.Customer) error {
	ctx, span := tracing.StartSpan(ctx, "CustomerRepository.UpsertCustomer")
	defer span.End()

	if customer.ID == uuid.Nil {
		customer.ID = uuid.New()
	}
	segment := customer.Segment
	if segment == "" {
		segment = models.SegmentNuevo
	}

	ib := database.NewInsertBuilder()
	ib.InsertInto(customersTable).
		Cols("id", "restaurant_id", "first_name", "last_name", "email", "phone",
			"consent_email", "consent_whatsapp", "segment", "created_at", "updated_at")
	created := database.Now()
	if !customer.CreatedAt.IsZero() {
		created = customer.CreatedAt
	}
	ib.Values(customer.ID, customer.RestaurantID, customer.FirstName, customer.LastName, customer.Email, customer.Phone,
		customer.ConsentEmail, customer.ConsentWhatsApp, segment, created, database.Now())
	ib.OnConflictUpdate([]string{"id"},
		"first_name", "last_name", "email", "phone", "consent_email", "consent_whatsapp", "updated_at")

	query, args := ib.Build()
	if _, err := r.Conn(ctx).ExecContext(ctx, query, args...); err != nil {
		return r.internalError(ctx, err, "failed to upsert customer", map[string]any{
			"customer_id": customer.ID,
		})
	}
	return nil
}

func (r *CustomerRepository) InsertVisit(ctx context.Context, visit models.Visit) error {
	ctx, span := tracing.StartSpan(ctx, "CustomerRepository.InsertVisit")
	defer span.End()

	ib := visitStruct.InsertInto(visitsTable, &visit)
	query, args := ib.Build()
	if _, err := r.Conn(ctx).ExecContext(ctx, query, args...); err != nil {
		return r.internalError(ctx, err, "failed to insert visit", map[string]any{
			"customer_id": visit.CustomerID,
		})
	}
	return nil
}

func (r *CustomerRepository) GetCustomer(ctx context.Context, restaurantID, customerID uuid.UUID) (*models.Customer, error) {
	ctx, span := tracing.StartSpan(ctx, "CustomerRepository.GetCustomer")
	defer span.End()

	sb := customerStruct.SelectFrom(customersTable)
	sb.Where(sb.Equal("restaurant_id", restaurantID), sb.Equal("id", customerID))

	query, args := sb.Build()
	var customer models.Customer
	err := r.Conn(ctx).GetContext(ctx, &customer, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError("customer", customerID.String())
	}
	if err != nil {
		return nil, r.internalError(ctx, err, "failed to get customer", map[string]any{
			"customer_id": customerID,
		})
	}
	return &customer, nil
}

// ListCustomerHistories loads every customer of a restaurant with all visits.
func (r *CustomerRepository) ListCustomerHistories(ctx context.Context, restaurantID uuid.UUID) ([]models.CustomerHistory, error) {
	ctx, span := tracing.StartSpan(ctx, "CustomerRepository.ListCustomerHistories")
	defer span.End()

	sb := customerStruct.SelectFrom(customersTable)
	sb.Where(sb.Equal("restaurant_id", restaurantID)).OrderBy("id")

	query, args := sb.Build()
	var customers []models.Customer
	if err := r.Conn(ctx).SelectContext(ctx, &customers, query, args...); err != nil {
		return nil, r.internalError(ctx, err, "failed to list customers", map[string]any{
			"restaurant_id": restaurantID,
		})
	}

	vb := database.NewSelectBuilder()
	vb.Select("v.customer_id", "v.visited_at", "v.amount").
		From(visitsTable+" v").
		Join(customersTable+" c", "c.id = v.customer_id").
		Where(vb.Equal("c.restaurant_id", restaurantID)).
		OrderBy("v.visited_at")

	query, args = vb.Build()
	var visits []models.Visit
	if err := r.Conn(ctx).SelectContext(ctx, &visits, query, args...); err != nil {
		return nil, r.internalError(ctx, err, "failed to list visits", map[string]any{
			"restaurant_id": restaurantID,
		})
	}

	byCustomer := make(map[uuid.UUID][]models.Visit, len(customers))
	for _, v := range visits {
		byCustomer[v.CustomerID] = append(byCustomer[v.CustomerID], v)
	}

	histories := make([]models.CustomerHistory, 0, len(customers))
	for _, c := range customers {
		histories = append(histories, models.CustomerHistory{Customer: c, Visits: byCustomer[c.ID]})
	}
	return histories, nil
}

// UpsertCustomerFeatures replaces the feature snapshot of one customer.
func (r *CustomerRepository) UpsertCustomerFeatures(ctx context.Context, customerID uuid.UUID, f models.CustomerFeatures) error {
	ctx, span := tracing.StartSpan(ctx, "CustomerRepository.UpsertCustomerFeatures")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update(customersTable).Set(
		ub.Assign("recency_days", f.RecencyDays),
		ub.Assign("aivi_days", f.AIVIDays),
		ub.Assign("visits_total", f.VisitsTotal),
		ub.Assign("visits_12m", f.Visits12m),
		ub.Assign("total_spent_12m", f.TotalSpent12m),
		ub.Assign("segment", f.Segment),
		ub.Assign("is_vip", f.IsVIP),
		ub.Assign("features_updated_at", f.ComputedAt),
		ub.Assign("updated_at", database.Now()),
	).Where(ub.Equal("id", customerID))

	query, args := ub.Build()
	res, err := r.Conn(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		return r.internalError(ctx, err, "failed to update customer features", map[string]any{
			"customer_id": customerID,
		})
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.NewNotFoundError("customer", customerID.String())
	}
	return nil
}

func (r *CustomerRepository) ListCustomersBySegment(ctx context.Context, restaurantID uuid.UUID, segment models.Segment) ([]models.Customer, error) {
	ctx, span := tracing.StartSpan(ctx, "CustomerRepository.ListCustomersBySegment")
	defer span.End()

	sb := customerStruct.SelectFrom(customersTable)
	sb.Where(sb.Equal("restaurant_id", restaurantID), sb.Equal("segment", segment)).OrderBy("id")

	query, args := sb.Build()
	var customers []models.Customer
	if err := r.Conn(ctx).SelectContext(ctx, &customers, query, args...); err != nil {
		return nil, r.internalError(ctx, err, "failed to list customers by segment", map[string]any{
			"restaurant_id": restaurantID,
			"segment":       segment,
		})
	}
	return customers, nil
}
