package classify

import (
	"errors"
	"strings"

	"golang.org/x/oauth2"

	"github.com/vietddude/cloudlink/internal/core/domain"
)

// RefreshOutcome is the classification of a failed token refresh.
type RefreshOutcome struct {
	RefreshType domain.RefreshErrorType
	ErrorType   domain.ErrorType
	Code        string // provider error code when one was returned
}

// Transport reports whether the refresh failed before the provider answered,
// which is the only case retried inside a single refresh.
func (o RefreshOutcome) Transport() bool {
	return o.RefreshType == domain.RefreshNetworkTimeout
}

// Refresh classifies an error returned by a provider's token refresh call.
func Refresh(err error) RefreshOutcome {
	if err == nil {
		return RefreshOutcome{RefreshType: domain.RefreshUnknown, ErrorType: domain.ErrorUnknown}
	}
	if errors.Is(err, domain.ErrMissingRefreshToken) {
		return RefreshOutcome{RefreshType: domain.RefreshInvalidToken, ErrorType: domain.ErrorInvalidCredentials}
	}

	code, status, desc := refreshDetails(err)
	if o, ok := refreshCode(code); ok {
		o.Code = code
		return o
	}

	msg := strings.ToLower(err.Error() + " " + desc)
	switch {
	case strings.Contains(msg, "expired"):
		return RefreshOutcome{RefreshType: domain.RefreshExpiredToken, ErrorType: domain.ErrorTokenExpired, Code: code}
	case status == 429 || containsAny(msg, []string{"quota", "rate limit", "ratelimit", "too many requests"}):
		return RefreshOutcome{RefreshType: domain.RefreshAPIQuotaExceeded, ErrorType: domain.ErrorAPIQuotaExceeded, Code: code}
	case status >= 500 && status <= 599, errors.Is(err, domain.ErrCircuitOpen),
		strings.Contains(msg, "service unavailable"):
		return RefreshOutcome{RefreshType: domain.RefreshServiceUnavailable, ErrorType: domain.ErrorServiceUnavailable, Code: code}
	}

	switch Base(err) {
	case domain.ErrorNetwork:
		return RefreshOutcome{RefreshType: domain.RefreshNetworkTimeout, ErrorType: domain.ErrorNetwork}
	case domain.ErrorTimeout:
		return RefreshOutcome{RefreshType: domain.RefreshNetworkTimeout, ErrorType: domain.ErrorTimeout}
	case domain.ErrorProviderNotConfigured:
		return RefreshOutcome{RefreshType: domain.RefreshUnknown, ErrorType: domain.ErrorProviderNotConfigured}
	case domain.ErrorFeatureNotSupported:
		return RefreshOutcome{RefreshType: domain.RefreshUnknown, ErrorType: domain.ErrorFeatureNotSupported}
	}
	return RefreshOutcome{RefreshType: domain.RefreshUnknown, ErrorType: domain.ErrorUnknown, Code: code}
}

func refreshDetails(err error) (code string, status int, desc string) {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		if re.Response != nil {
			status = re.Response.StatusCode
		}
		return re.ErrorCode, status, re.ErrorDescription
	}
	var pe *domain.ProviderError
	if errors.As(err, &pe) {
		return pe.Code, pe.StatusCode, pe.Message
	}
	return "", 0, ""
}

func refreshCode(code string) (RefreshOutcome, bool) {
	switch strings.ToLower(code) {
	case "invalid_grant":
		return RefreshOutcome{RefreshType: domain.RefreshInvalidToken, ErrorType: domain.ErrorTokenExpired}, true
	case "invalid_request", "invalid_client", "unauthorized_client":
		return RefreshOutcome{RefreshType: domain.RefreshInvalidToken, ErrorType: domain.ErrorInvalidCredentials}, true
	case "rate_limit_exceeded", "slow_down":
		return RefreshOutcome{RefreshType: domain.RefreshAPIQuotaExceeded, ErrorType: domain.ErrorAPIQuotaExceeded}, true
	case "temporarily_unavailable", "server_error":
		return RefreshOutcome{RefreshType: domain.RefreshServiceUnavailable, ErrorType: domain.ErrorServiceUnavailable}, true
	}
	return RefreshOutcome{}, false
}

// RefreshNeedsUser reports whether a refresh failure can only be fixed by reconnecting.
func RefreshNeedsUser(t domain.RefreshErrorType) bool {
	return t == domain.RefreshInvalidToken
}

// RefreshRecoverable reports whether a later automatic refresh may succeed.
func RefreshRecoverable(t domain.RefreshErrorType) bool {
	return t != domain.RefreshInvalidToken
}
