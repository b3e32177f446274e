package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/cloudlink/internal/core/domain"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewStore(Wrap(sqlx.NewDb(db, "postgres"))), mock
}

var credentialCols = []string{
	"user_id", "provider", "access_token", "refresh_token", "token_type", "expires_at",
	"access_key_id", "secret_key", "settings", "updated_at",
}

func TestStore_LoadCredential(t *testing.T) {
	s, mock := newMockStore(t)
	expires := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("FROM credentials WHERE user_id = $1 AND provider = $2")).
		WithArgs("u1", "google-drive").
		WillReturnRows(sqlmock.NewRows(credentialCols).AddRow(
			"u1", "google-drive", "at", "rt", "Bearer", expires,
			"", "", []byte(`{"folder":"backups"}`), expires,
		))

	cred, err := s.LoadCredential(context.Background(), "u1", domain.ProviderGoogleDrive)
	require.NoError(t, err)
	assert.Equal(t, "rt", cred.RefreshToken)
	assert.Equal(t, expires, cred.ExpiresAt)
	assert.Equal(t, "backups", cred.Setting("folder", ""))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_LoadCredentialNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("FROM credentials").
		WillReturnRows(sqlmock.NewRows(credentialCols))

	_, err := s.LoadCredential(context.Background(), "u1", domain.ProviderAmazonS3)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_LoadHealthDecodesContext(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("FROM connection_health WHERE user_id = $1")).
		WillReturnRows(sqlmock.NewRows([]string{
			"user_id", "provider", "status", "color", "token_status", "consecutive_failures",
			"last_error_type", "last_error_message", "last_error_context", "last_refresh_attempt_at",
			"last_refresh_success_at", "token_expires_at", "requires_reconnection", "last_checked_at", "updated_at",
		}).AddRow(
			"u1", "google-drive", "connection_issues", "yellow", "valid", 2,
			"network_error", "dial failed", []byte(`{"attempts_made":3}`), now,
			nil, nil, false, now, now,
		))

	rec, err := s.LoadHealth(context.Background(), "u1", domain.ProviderGoogleDrive)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusConnectionIssues, rec.Status)
	assert.Equal(t, 2, rec.ConsecutiveFailures)
	assert.Equal(t, float64(3), rec.LastErrorContext["attempts_made"])
	assert.True(t, rec.LastRefreshSuccessAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_SaveRefreshOutcomeCommits(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO credentials").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO connection_health").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	cred := &domain.Credential{UserID: "u1", Provider: domain.ProviderGoogleDrive, AccessToken: "new"}
	rec := domain.NewHealthRecord("u1", domain.ProviderGoogleDrive)
	require.NoError(t, s.SaveRefreshOutcome(context.Background(), cred, rec))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_SaveRefreshOutcomeFailureOnly(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO connection_health").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	rec := domain.NewHealthRecord("u1", domain.ProviderGoogleDrive)
	rec.ConsecutiveFailures = 1
	rec.LastErrorContext = map[string]any{"is_recoverable": true}
	require.NoError(t, s.SaveRefreshOutcome(context.Background(), nil, rec))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_SaveRefreshOutcomeRollsBack(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO credentials").WillReturnError(errors.New("boom"))
	mock.ExpectRollback()

	cred := &domain.Credential{UserID: "u1", Provider: domain.ProviderGoogleDrive}
	err := s.SaveRefreshOutcome(context.Background(), cred, domain.NewHealthRecord("u1", domain.ProviderGoogleDrive))
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_ListExpiring(t *testing.T) {
	s, mock := newMockStore(t)
	before := time.Date(2025, 3, 1, 10, 5, 0, 0, time.UTC)

	mock.ExpectQuery("FROM credentials\\s+WHERE refresh_token <> ''").
		WithArgs(before).
		WillReturnRows(sqlmock.NewRows(credentialCols).
			AddRow("u1", "google-drive", "at", "rt", "Bearer", before.Add(-time.Minute), "", "", []byte(`{}`), before).
			AddRow("u2", "google-drive", "at", "rt", "Bearer", before.Add(-time.Second), "", "", []byte(`{}`), before))

	creds, err := s.ListExpiring(context.Background(), before)
	require.NoError(t, err)
	require.Len(t, creds, 2)
	assert.Nil(t, creds[0].Settings)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDriverName(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"", "pgx", false},
		{"pgx", "pgx", false},
		{"postgres", "postgres", false},
		{"pq", "postgres", false},
		{"mysql", "", true},
	}
	for _, tt := range tests {
		got, err := driverName(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("driverName(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("driverName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
