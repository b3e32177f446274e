package refresh

import (
	"time"

	"github.com/vietddude/cloudlink/internal/core/domain"
)

// Condition says how a refresh invocation ended.
type Condition string

const (
	// ConditionRefreshed means the provider issued a new token.
	ConditionRefreshed Condition = "refreshed"
	// ConditionAlreadyValid means another worker refreshed first; no call was made.
	ConditionAlreadyValid Condition = "already_valid"
	// ConditionFailed means the provider call (or its preconditions) failed.
	ConditionFailed Condition = "failed"
	// ConditionRateLimited means the hourly refresh ceiling was reached.
	ConditionRateLimited Condition = "rate_limited"
	// ConditionBackoff means the last attempt was too recent.
	ConditionBackoff Condition = "backoff"
	// ConditionInProgress means another worker holds the refresh lock.
	ConditionInProgress Condition = "in_progress"
	// ConditionMaxAttemptsExceeded means automatic recovery gave up.
	ConditionMaxAttemptsExceeded Condition = "max_attempts_exceeded"
	// ConditionNotConnected means there is no credential to refresh.
	ConditionNotConnected Condition = "not_connected"
)

// Result is the structured outcome of one Refresh call.
type Result struct {
	Success                  bool                    `json:"success"`
	Condition                Condition               `json:"condition"`
	ErrorType                domain.ErrorType        `json:"error_type,omitempty"`
	RefreshErrorType         domain.RefreshErrorType `json:"refresh_error_type,omitempty"`
	Message                  string                  `json:"message,omitempty"`
	RecommendedActions       []string                `json:"recommended_actions,omitempty"`
	RequiresUserIntervention bool                    `json:"requires_user_intervention"`
	Recoverable              bool                    `json:"is_recoverable"`
	AttemptsMade             int                     `json:"attempts_made"`
	ExpiresAt                time.Time               `json:"expires_at,omitempty"`
	Context                  map[string]any          `json:"context,omitempty"`
}

// Deferred reports whether the refresh was postponed rather than attempted.
func (r Result) Deferred() bool {
	switch r.Condition {
	case ConditionRateLimited, ConditionBackoff, ConditionInProgress:
		return true
	}
	return false
}
