package postgres

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx/types"

	"github.com/vietddude/cloudlink/internal/core/domain"
)

type credentialRow struct {
	UserID       string         `db:"user_id"`
	Provider     string         `db:"provider"`
	AccessToken  string         `db:"access_token"`
	RefreshToken string         `db:"refresh_token"`
	TokenType    string         `db:"token_type"`
	ExpiresAt    sql.NullTime   `db:"expires_at"`
	AccessKeyID  string         `db:"access_key_id"`
	SecretKey    string         `db:"secret_key"`
	Settings     types.JSONText `db:"settings"`
	UpdatedAt    time.Time      `db:"updated_at"`
}

func toCredentialRow(c *domain.Credential) (credentialRow, error) {
	settings, err := marshalObject(c.Settings)
	if err != nil {
		return credentialRow{}, fmt.Errorf("failed to encode settings: %w", err)
	}
	updated := c.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	return credentialRow{
		UserID:       c.UserID,
		Provider:     string(c.Provider),
		AccessToken:  c.AccessToken,
		RefreshToken: c.RefreshToken,
		TokenType:    c.TokenType,
		ExpiresAt:    nullTime(c.ExpiresAt),
		AccessKeyID:  c.AccessKeyID,
		SecretKey:    c.SecretKey,
		Settings:     settings,
		UpdatedAt:    updated,
	}, nil
}

func (r credentialRow) toDomain() (*domain.Credential, error) {
	c := &domain.Credential{
		UserID:       r.UserID,
		Provider:     domain.Provider(r.Provider),
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		TokenType:    r.TokenType,
		ExpiresAt:    fromNull(r.ExpiresAt),
		AccessKeyID:  r.AccessKeyID,
		SecretKey:    r.SecretKey,
		UpdatedAt:    r.UpdatedAt,
	}
	if len(r.Settings) > 0 {
		if err := r.Settings.Unmarshal(&c.Settings); err != nil {
			return nil, fmt.Errorf("failed to decode settings: %w", err)
		}
		if len(c.Settings) == 0 {
			c.Settings = nil
		}
	}
	return c, nil
}

type healthRow struct {
	UserID               string         `db:"user_id"`
	Provider             string         `db:"provider"`
	Status               string         `db:"status"`
	Color                string         `db:"color"`
	TokenStatus          string         `db:"token_status"`
	ConsecutiveFailures  int            `db:"consecutive_failures"`
	LastErrorType        string         `db:"last_error_type"`
	LastErrorMessage     string         `db:"last_error_message"`
	LastErrorContext     types.JSONText `db:"last_error_context"`
	LastRefreshAttemptAt sql.NullTime   `db:"last_refresh_attempt_at"`
	LastRefreshSuccessAt sql.NullTime   `db:"last_refresh_success_at"`
	TokenExpiresAt       sql.NullTime   `db:"token_expires_at"`
	RequiresReconnection bool           `db:"requires_reconnection"`
	LastCheckedAt        sql.NullTime   `db:"last_checked_at"`
	UpdatedAt            time.Time      `db:"updated_at"`
}

func toHealthRow(r *domain.ConnectionHealthRecord) (healthRow, error) {
	errCtx, err := marshalObject(r.LastErrorContext)
	if err != nil {
		return healthRow{}, fmt.Errorf("failed to encode error context: %w", err)
	}
	updated := r.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	return healthRow{
		UserID:               r.UserID,
		Provider:             string(r.Provider),
		Status:               string(r.Status),
		Color:                string(r.Color),
		TokenStatus:          string(r.TokenStatus),
		ConsecutiveFailures:  r.ConsecutiveFailures,
		LastErrorType:        string(r.LastErrorType),
		LastErrorMessage:     r.LastErrorMessage,
		LastErrorContext:     errCtx,
		LastRefreshAttemptAt: nullTime(r.LastRefreshAttemptAt),
		LastRefreshSuccessAt: nullTime(r.LastRefreshSuccessAt),
		TokenExpiresAt:       nullTime(r.TokenExpiresAt),
		RequiresReconnection: r.RequiresReconnection,
		LastCheckedAt:        nullTime(r.LastCheckedAt),
		UpdatedAt:            updated,
	}, nil
}

func (r healthRow) toDomain() (*domain.ConnectionHealthRecord, error) {
	rec := &domain.ConnectionHealthRecord{
		UserID:               r.UserID,
		Provider:             domain.Provider(r.Provider),
		Status:               domain.HealthStatus(r.Status),
		Color:                domain.Color(r.Color),
		TokenStatus:          domain.TokenStatus(r.TokenStatus),
		ConsecutiveFailures:  r.ConsecutiveFailures,
		LastErrorType:        domain.ErrorType(r.LastErrorType),
		LastErrorMessage:     r.LastErrorMessage,
		LastRefreshAttemptAt: fromNull(r.LastRefreshAttemptAt),
		LastRefreshSuccessAt: fromNull(r.LastRefreshSuccessAt),
		TokenExpiresAt:       fromNull(r.TokenExpiresAt),
		RequiresReconnection: r.RequiresReconnection,
		LastCheckedAt:        fromNull(r.LastCheckedAt),
		UpdatedAt:            r.UpdatedAt,
	}
	if len(r.LastErrorContext) > 0 {
		if err := r.LastErrorContext.Unmarshal(&rec.LastErrorContext); err != nil {
			return nil, fmt.Errorf("failed to decode error context: %w", err)
		}
		if len(rec.LastErrorContext) == 0 {
			rec.LastErrorContext = nil
		}
	}
	return rec, nil
}

// marshalObject encodes a map as a JSON object, never as null.
func marshalObject[M ~map[string]V, V any](m M) (types.JSONText, error) {
	if len(m) == 0 {
		return types.JSONText("{}"), nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return types.JSONText(b), nil
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}

func fromNull(t sql.NullTime) time.Time {
	if !t.Valid {
		return time.Time{}
	}
	return t.Time
}
