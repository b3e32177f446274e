package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vietddude/cloudlink/internal/core/domain"
	"github.com/vietddude/cloudlink/internal/infra/storage"
)

const credentialColumns = `user_id, provider, access_token, refresh_token, token_type, expires_at,
	access_key_id, secret_key, settings, updated_at`

const healthColumns = `user_id, provider, status, color, token_status, consecutive_failures,
	last_error_type, last_error_message, last_error_context, last_refresh_attempt_at,
	last_refresh_success_at, token_expires_at, requires_reconnection, last_checked_at, updated_at`

const upsertCredentialQuery = `
INSERT INTO credentials (` + credentialColumns + `)
VALUES (:user_id, :provider, :access_token, :refresh_token, :token_type, :expires_at,
	:access_key_id, :secret_key, :settings, :updated_at)
ON CONFLICT (user_id, provider) DO UPDATE SET
	access_token = EXCLUDED.access_token,
	refresh_token = EXCLUDED.refresh_token,
	token_type = EXCLUDED.token_type,
	expires_at = EXCLUDED.expires_at,
	access_key_id = EXCLUDED.access_key_id,
	secret_key = EXCLUDED.secret_key,
	settings = EXCLUDED.settings,
	updated_at = EXCLUDED.updated_at`

const upsertHealthQuery = `
INSERT INTO connection_health (` + healthColumns + `)
VALUES (:user_id, :provider, :status, :color, :token_status, :consecutive_failures,
	:last_error_type, :last_error_message, :last_error_context, :last_refresh_attempt_at,
	:last_refresh_success_at, :token_expires_at, :requires_reconnection, :last_checked_at, :updated_at)
ON CONFLICT (user_id, provider) DO UPDATE SET
	status = EXCLUDED.status,
	color = EXCLUDED.color,
	token_status = EXCLUDED.token_status,
	consecutive_failures = EXCLUDED.consecutive_failures,
	last_error_type = EXCLUDED.last_error_type,
	last_error_message = EXCLUDED.last_error_message,
	last_error_context = EXCLUDED.last_error_context,
	last_refresh_attempt_at = EXCLUDED.last_refresh_attempt_at,
	last_refresh_success_at = EXCLUDED.last_refresh_success_at,
	token_expires_at = EXCLUDED.token_expires_at,
	requires_reconnection = EXCLUDED.requires_reconnection,
	last_checked_at = EXCLUDED.last_checked_at,
	updated_at = EXCLUDED.updated_at`

const upsertHealthStatusQuery = `
INSERT INTO connection_health (user_id, provider, status, color, token_status, token_expires_at, last_checked_at, updated_at)
VALUES (:user_id, :provider, :status, :color, :token_status, :token_expires_at, :last_checked_at, :updated_at)
ON CONFLICT (user_id, provider) DO UPDATE SET
	status = EXCLUDED.status,
	color = EXCLUDED.color,
	token_status = EXCLUDED.token_status,
	token_expires_at = EXCLUDED.token_expires_at,
	last_checked_at = EXCLUDED.last_checked_at,
	updated_at = EXCLUDED.updated_at`

// Store implements storage.Store using PostgreSQL.
type Store struct {
	db *DB
}

var _ storage.Store = (*Store)(nil)

// NewStore creates a new PostgreSQL store.
func NewStore(db *DB) *Store {
	return &Store{db: db}
}

// LoadCredential retrieves a credential by user and provider.
func (s *Store) LoadCredential(ctx context.Context, userID string, provider domain.Provider) (*domain.Credential, error) {
	var row credentialRow
	err := s.db.GetContext(ctx, &row,
		`SELECT `+credentialColumns+` FROM credentials WHERE user_id = $1 AND provider = $2`,
		userID, string(provider),
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get credential: %w", err)
	}
	return row.toDomain()
}

// SaveCredential inserts or replaces a credential.
func (s *Store) SaveCredential(ctx context.Context, cred *domain.Credential) error {
	row, err := toCredentialRow(cred)
	if err != nil {
		return err
	}
	if _, err := s.db.NamedExecContext(ctx, upsertCredentialQuery, row); err != nil {
		return fmt.Errorf("failed to save credential: %w", err)
	}
	return nil
}

// ListCredentials returns all credentials ordered by user and provider.
func (s *Store) ListCredentials(ctx context.Context) ([]*domain.Credential, error) {
	var rows []credentialRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT `+credentialColumns+` FROM credentials ORDER BY user_id, provider`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list credentials: %w", err)
	}
	return credentialsFromRows(rows)
}

// ListExpiring returns refreshable credentials expiring before t, soonest first.
func (s *Store) ListExpiring(ctx context.Context, before time.Time) ([]*domain.Credential, error) {
	var rows []credentialRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT `+credentialColumns+` FROM credentials
		WHERE refresh_token <> '' AND expires_at IS NOT NULL AND expires_at < $1
		ORDER BY expires_at`,
		before,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list expiring credentials: %w", err)
	}
	return credentialsFromRows(rows)
}

// LoadHealth retrieves the health record for a connection.
func (s *Store) LoadHealth(ctx context.Context, userID string, provider domain.Provider) (*domain.ConnectionHealthRecord, error) {
	var row healthRow
	err := s.db.GetContext(ctx, &row,
		`SELECT `+healthColumns+` FROM connection_health WHERE user_id = $1 AND provider = $2`,
		userID, string(provider),
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get health record: %w", err)
	}
	return row.toDomain()
}

// SaveHealth writes the whole health record.
func (s *Store) SaveHealth(ctx context.Context, rec *domain.ConnectionHealthRecord) error {
	row, err := toHealthRow(rec)
	if err != nil {
		return err
	}
	if _, err := s.db.NamedExecContext(ctx, upsertHealthQuery, row); err != nil {
		return fmt.Errorf("failed to save health record: %w", err)
	}
	return nil
}

// SaveHealthStatus writes only the derived status columns.
func (s *Store) SaveHealthStatus(ctx context.Context, rec *domain.ConnectionHealthRecord) error {
	row, err := toHealthRow(rec)
	if err != nil {
		return err
	}
	if _, err := s.db.NamedExecContext(ctx, upsertHealthStatusQuery, row); err != nil {
		return fmt.Errorf("failed to save health status: %w", err)
	}
	return nil
}

// SaveRefreshOutcome writes the credential and refresh columns in one transaction.
func (s *Store) SaveRefreshOutcome(ctx context.Context, cred *domain.Credential, rec *domain.ConnectionHealthRecord) error {
	uow, err := s.db.NewUnitOfWork(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = uow.Rollback() }()

	if cred != nil {
		if err := uow.SaveCredential(ctx, cred); err != nil {
			return err
		}
	}
	if err := uow.SaveRefreshFields(ctx, rec); err != nil {
		return err
	}
	if err := uow.Commit(); err != nil {
		return fmt.Errorf("failed to commit refresh outcome: %w", err)
	}
	return nil
}

func credentialsFromRows(rows []credentialRow) ([]*domain.Credential, error) {
	out := make([]*domain.Credential, 0, len(rows))
	for _, r := range rows {
		c, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}
