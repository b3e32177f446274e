package domain

import "time"

// HealthStatus is the consolidated, externally reported state of a connection.
type HealthStatus string

const (
	StatusHealthy                HealthStatus = "healthy"
	StatusHealthyWithWarnings    HealthStatus = "healthy_with_warnings"
	StatusAuthenticationRequired HealthStatus = "authentication_required"
	StatusConnectionIssues       HealthStatus = "connection_issues"
	StatusExpiredRefreshable     HealthStatus = "expired_refreshable"
	StatusExpiredManual          HealthStatus = "expired_manual"
	StatusRequiresIntervention   HealthStatus = "requires_intervention"
	StatusNotConnected           HealthStatus = "not_connected"
)

// TokenStatus describes the access token on its own, apart from connectivity.
type TokenStatus string

const (
	TokenValid              TokenStatus = "valid"
	TokenExpiringSoon       TokenStatus = "expiring_soon"
	TokenExpiredRefreshable TokenStatus = "expired_refreshable"
	TokenExpiredManual      TokenStatus = "expired_manual"
	TokenNone               TokenStatus = "none"
)

// Color is the traffic-light indicator shown next to a status.
type Color string

const (
	ColorGreen  Color = "green"
	ColorYellow Color = "yellow"
	ColorRed    Color = "red"
	ColorGray   Color = "gray"
)

// Color returns the indicator for s.
func (s HealthStatus) Color() Color {
	switch s {
	case StatusHealthy:
		return ColorGreen
	case StatusHealthyWithWarnings, StatusExpiredRefreshable, StatusConnectionIssues:
		return ColorYellow
	case StatusExpiredManual, StatusRequiresIntervention, StatusAuthenticationRequired:
		return ColorRed
	default:
		return ColorGray
	}
}

// IsHealthy reports whether the connection is usable.
func (s HealthStatus) IsHealthy() bool {
	return s == StatusHealthy || s == StatusHealthyWithWarnings
}

// Color returns the indicator for t.
func (t TokenStatus) Color() Color {
	switch t {
	case TokenValid:
		return ColorGreen
	case TokenExpiringSoon, TokenExpiredRefreshable:
		return ColorYellow
	case TokenExpiredManual:
		return ColorRed
	default:
		return ColorGray
	}
}

// ConnectionHealthRecord is the persisted health of one user's connection to one provider.
// It is updated in place and never deleted.
type ConnectionHealthRecord struct {
	UserID               string         `json:"user_id"`
	Provider             Provider       `json:"provider"`
	Status               HealthStatus   `json:"status"`
	Color                Color          `json:"color"`
	TokenStatus          TokenStatus    `json:"token_status"`
	ConsecutiveFailures  int            `json:"consecutive_failures"`
	LastErrorType        ErrorType      `json:"last_error_type,omitempty"`
	LastErrorMessage     string         `json:"last_error_message,omitempty"`
	LastErrorContext     map[string]any `json:"last_error_context,omitempty"`
	LastRefreshAttemptAt time.Time      `json:"last_token_refresh_attempt_at"`
	LastRefreshSuccessAt time.Time      `json:"last_successful_refresh_at"`
	TokenExpiresAt       time.Time      `json:"token_expires_at"`
	RequiresReconnection bool           `json:"requires_reconnection"`
	LastCheckedAt        time.Time      `json:"last_checked_at"`
	UpdatedAt            time.Time      `json:"updated_at"`
}

// NewHealthRecord returns the initial record for a connection that was never checked.
func NewHealthRecord(userID string, provider Provider) *ConnectionHealthRecord {
	return &ConnectionHealthRecord{
		UserID:      userID,
		Provider:    provider,
		Status:      StatusNotConnected,
		Color:       StatusNotConnected.Color(),
		TokenStatus: TokenNone,
	}
}

// SetStatus updates the status and its color together.
func (r *ConnectionHealthRecord) SetStatus(s HealthStatus) {
	r.Status = s
	r.Color = s.Color()
}

// ClearError drops the last_error_* fields.
func (r *ConnectionHealthRecord) ClearError() {
	r.LastErrorType = ""
	r.LastErrorMessage = ""
	r.LastErrorContext = nil
}
