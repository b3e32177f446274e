package storage

import (
	"context"
	"time"

	"github.com/vietddude/cloudlink/internal/core/domain"
)

// CredentialRepository persists what users stored when connecting a provider.
type CredentialRepository interface {
	// LoadCredential returns domain.ErrNotFound when the user never connected provider.
	LoadCredential(ctx context.Context, userID string, provider domain.Provider) (*domain.Credential, error)

	// SaveCredential inserts or replaces the credential.
	SaveCredential(ctx context.Context, cred *domain.Credential) error

	// ListCredentials returns every stored credential.
	ListCredentials(ctx context.Context) ([]*domain.Credential, error)

	// ListExpiring returns refreshable credentials whose access token expires before t.
	ListExpiring(ctx context.Context, before time.Time) ([]*domain.Credential, error)
}

// HealthRepository persists one ConnectionHealthRecord per (user, provider).
// Records are updated in place and never deleted.
type HealthRepository interface {
	// LoadHealth returns domain.ErrNotFound when no record exists yet.
	LoadHealth(ctx context.Context, userID string, provider domain.Provider) (*domain.ConnectionHealthRecord, error)

	// SaveHealth writes every field of the record.
	SaveHealth(ctx context.Context, rec *domain.ConnectionHealthRecord) error

	// SaveHealthStatus writes only the derived status fields
	// (status, color, token status, token expiry, last checked).
	SaveHealthStatus(ctx context.Context, rec *domain.ConnectionHealthRecord) error
}

// Store is the full persistence surface used by the engine.
type Store interface {
	CredentialRepository
	HealthRepository

	// SaveRefreshOutcome atomically writes the result of one refresh invocation:
	// the new credential (nil on failure) and the refresh fields of rec
	// (failure counter, last error, refresh timestamps, token expiry, reconnection flag).
	SaveRefreshOutcome(ctx context.Context, cred *domain.Credential, rec *domain.ConnectionHealthRecord) error
}
