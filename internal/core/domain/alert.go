package domain

import "time"

// AlertType names an alert rule.
type AlertType string

const (
	AlertHighErrorRate       AlertType = "high_error_rate"
	AlertConsecutiveFailures AlertType = "consecutive_failures"
	AlertCriticalErrors      AlertType = "critical_errors"
)

// Severity of an alert.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Alert is a triggered alert rule for one (provider, user).
type Alert struct {
	ID           string         `json:"id"`
	Type         AlertType      `json:"type"`
	Severity     Severity       `json:"severity"`
	Provider     Provider       `json:"provider"`
	UserID       string         `json:"user_id"`
	Message      string         `json:"message"`
	CurrentValue int64          `json:"current_value"`
	Threshold    int64          `json:"threshold"`
	Details      map[string]any `json:"details,omitempty"`
	TriggeredAt  time.Time      `json:"triggered_at"`
}

// ErrorDetail is one entry in the recent-errors ring buffer.
type ErrorDetail struct {
	ID         string    `json:"id"`
	ErrorType  ErrorType `json:"error_type"`
	Operation  Operation `json:"operation"`
	Message    string    `json:"message"`
	Exception  string    `json:"exception,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}
