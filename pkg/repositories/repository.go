// Package repositories is the Postgres implementation of the lifecycle data store.
package repositories

import (
	"context"
	"errors"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"

	"github.com/gustausantin/La-ia-app-sub001/pkg/database"
)

// Repository provides the shared connection and logger of every table repository.
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new base repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

// DB returns the database instance
func (r *Repository) DB() database.DB {
	return r.db
}

// Conn returns the transaction bound to ctx, or the pool.
func (r *Repository) Conn(ctx context.Context) database.Querier {
	return r.db.Conn(ctx)
}

// internalError logs err and hides it behind a generic 500.
func (r *Repository) internalError(ctx context.Context, err error, message string, fields map[string]any) error {
	r.logger.WithContext(ctx).WithError(err).WithFields(fields).Error(message)
	return httperror.NewHTTPError(http.StatusInternalServerError, message)
}

// Store bundles every table repository into the single data store the engine consumes.
type Store struct {
	*SettingsRepository
	*CustomerRepository
	*ReservationRepository
	*RuleRepository
	*MessageRepository
}

func NewStore(db database.DB, logger ectologger.Logger) *Store {
	return &Store{
		SettingsRepository:    NewSettingsRepository(db, logger),
		CustomerRepository:    NewCustomerRepository(db, logger),
		ReservationRepository: NewReservationRepository(db, logger),
		RuleRepository:        NewRuleRepository(db, logger),
		MessageRepository:     NewMessageRepository(db, logger),
	}
}

// Ping reports whether the database answers.
func (s *Store) Ping(ctx context.Context) error {
	return s.SettingsRepository.DB().PingContext(ctx)
}

// WithinTx runs fn in one transaction bound to the context it receives. The
// transaction rolls back when fn returns an error. Inside an existing
// transaction fn joins it.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	repo := s.MessageRepository.Repository
	ctx, tx, err := database.GetTx(ctx, repo.logger, repo.db, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				err = errors.Join(err, rbErr)
			}
		}
	}()

	if err = fn(ctx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
