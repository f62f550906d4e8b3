package providers

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/gustausantin/La-ia-app-sub001/pkg/apperrors"
	"github.com/gustausantin/La-ia-app-sub001/pkg/models"
	"github.com/gustausantin/La-ia-app-sub001/pkg/tracing"
)

// CredentialStore loads stored channel credentials.
type CredentialStore interface {
	GetCredentials(ctx context.Context, restaurantID uuid.UUID, channel models.Channel) (models.Credentials, error)
}

type credentialKey struct {
	restaurantID uuid.UUID
	channel      models.Channel
}

// CredentialResolver resolves credentials by (restaurant, channel) with a
// short-lived cache in front of the store.
type CredentialResolver struct {
	store CredentialStore
	cache *expirable.LRU[credentialKey, models.Credentials]
}

// NewCredentialResolver creates a resolver. A ttl of zero disables caching.
func NewCredentialResolver(store CredentialStore, size int, ttl time.Duration) *CredentialResolver {
	r := &CredentialResolver{store: store}
	if ttl > 0 {
		if size <= 0 {
			size = 256
		}
		r.cache = expirable.NewLRU[credentialKey, models.Credentials](size, nil, ttl)
	}
	return r
}

// Resolve returns the credentials for channel, or a ConfigurationError when
// none are stored.
func (r *CredentialResolver) Resolve(ctx context.Context, restaurantID uuid.UUID, channel models.Channel) (models.Credentials, error) {
	ctx, span := tracing.StartSpan(ctx, "CredentialResolver.Resolve")
	defer span.End()

	key := credentialKey{restaurantID, channel}
	if r.cache != nil {
		if creds, ok := r.cache.Get(key); ok {
			return creds, nil
		}
	}

	creds, err := r.store.GetCredentials(ctx, restaurantID, channel)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return nil, apperrors.NewConfigurationError(restaurantID.String(), string(channel), "no credentials configured")
		}
		return nil, err
	}
	if creds == nil {
		return nil, apperrors.NewConfigurationError(restaurantID.String(), string(channel), "no credentials configured")
	}
	if creds.Channel() != channel {
		return nil, apperrors.NewConfigurationError(restaurantID.String(), string(channel), "stored credentials are for %s", creds.Channel())
	}

	if r.cache != nil {
		r.cache.Add(key, creds)
	}
	return creds, nil
}

// Invalidate drops the cached credentials of a channel after they change.
func (r *CredentialResolver) Invalidate(restaurantID uuid.UUID, channel models.Channel) {
	if r.cache != nil {
		r.cache.Remove(credentialKey{restaurantID, channel})
	}
}
