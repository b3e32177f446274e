package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/vietddude/cloudlink/internal/core/domain"
)

const upsertRefreshFieldsQuery = `
INSERT INTO connection_health (user_id, provider, consecutive_failures, last_error_type,
	last_error_message, last_error_context, last_refresh_attempt_at, last_refresh_success_at,
	token_expires_at, requires_reconnection, updated_at)
VALUES (:user_id, :provider, :consecutive_failures, :last_error_type,
	:last_error_message, :last_error_context, :last_refresh_attempt_at, :last_refresh_success_at,
	:token_expires_at, :requires_reconnection, :updated_at)
ON CONFLICT (user_id, provider) DO UPDATE SET
	consecutive_failures = EXCLUDED.consecutive_failures,
	last_error_type = EXCLUDED.last_error_type,
	last_error_message = EXCLUDED.last_error_message,
	last_error_context = EXCLUDED.last_error_context,
	last_refresh_attempt_at = EXCLUDED.last_refresh_attempt_at,
	last_refresh_success_at = EXCLUDED.last_refresh_success_at,
	token_expires_at = EXCLUDED.token_expires_at,
	requires_reconnection = EXCLUDED.requires_reconnection,
	updated_at = EXCLUDED.updated_at`

// UnitOfWork bundles the writes of one refresh outcome into a single database transaction,
// ensuring atomicity (all succeed or all fail).
type UnitOfWork struct {
	tx *sqlx.Tx
}

// NewUnitOfWork creates a new unit of work with an active transaction.
func (db *DB) NewUnitOfWork(ctx context.Context) (*UnitOfWork, error) {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &UnitOfWork{tx: tx}, nil
}

// Commit commits the transaction.
func (u *UnitOfWork) Commit() error {
	if u.tx == nil {
		return fmt.Errorf("transaction already completed")
	}
	err := u.tx.Commit()
	u.tx = nil
	return err
}

// Rollback rolls back the transaction. Safe to call multiple times.
func (u *UnitOfWork) Rollback() error {
	if u.tx == nil {
		return nil // Already committed or rolled back
	}
	err := u.tx.Rollback()
	u.tx = nil
	return err
}

// SaveCredential upserts the refreshed credential in the transaction.
func (u *UnitOfWork) SaveCredential(ctx context.Context, cred *domain.Credential) error {
	row, err := toCredentialRow(cred)
	if err != nil {
		return err
	}
	if _, err := u.tx.NamedExecContext(ctx, upsertCredentialQuery, row); err != nil {
		return fmt.Errorf("failed to save credential: %w", err)
	}
	return nil
}

// SaveRefreshFields upserts the refresh-owned columns of the health record.
func (u *UnitOfWork) SaveRefreshFields(ctx context.Context, rec *domain.ConnectionHealthRecord) error {
	row, err := toHealthRow(rec)
	if err != nil {
		return err
	}
	if _, err := u.tx.NamedExecContext(ctx, upsertRefreshFieldsQuery, row); err != nil {
		return fmt.Errorf("failed to save refresh outcome: %w", err)
	}
	return nil
}
