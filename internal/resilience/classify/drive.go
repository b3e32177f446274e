package classify

import (
	"errors"
	"strings"

	"golang.org/x/oauth2"

	"github.com/vietddude/cloudlink/internal/core/domain"
)

// Drive classifies Google Drive API and OAuth token endpoint errors.
type Drive struct{}

var driveMessageRules = []messageRule{
	{[]string{"invalid_grant"}, domain.ErrorTokenExpired},
	{[]string{"token has been expired or revoked"}, domain.ErrorTokenExpired},
	{[]string{"invalid_client"}, domain.ErrorInvalidCredentials},
	{[]string{"unauthorized_client"}, domain.ErrorInvalidCredentials},
	{[]string{"invalid credentials"}, domain.ErrorInvalidCredentials},
	{[]string{"storage quota"}, domain.ErrorStorageQuotaExceeded},
	{[]string{"quota", "storage"}, domain.ErrorStorageQuotaExceeded},
	{[]string{"rate limit"}, domain.ErrorAPIQuotaExceeded},
	{[]string{"quota exceeded"}, domain.ErrorAPIQuotaExceeded},
	{[]string{"insufficient permission"}, domain.ErrorInsufficientPermissions},
	{[]string{"access denied"}, domain.ErrorInsufficientPermissions},
	{[]string{"file not found"}, domain.ErrorFileNotFound},
	{[]string{"too large"}, domain.ErrorFileTooLarge},
	{[]string{"invalid mime"}, domain.ErrorInvalidFileContent},
	{[]string{"unsupported", "feature"}, domain.ErrorFeatureNotSupported},
}

// ClassifyProviderSpecific implements ProviderClassifier.
func (Drive) ClassifyProviderSpecific(err error) (domain.ErrorType, bool) {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		if t, ok := oauthCode(re.ErrorCode); ok {
			return t, true
		}
		if re.Response != nil {
			if t, ok := statusType(re.Response.StatusCode); ok {
				return t, true
			}
		}
	}

	var pe *domain.ProviderError
	if errors.As(err, &pe) {
		if t, ok := oauthCode(pe.Code); ok {
			return t, true
		}
		if t, ok := driveStatus(pe.StatusCode, pe.Reason); ok {
			return t, true
		}
	}

	return matchMessage(err, driveMessageRules)
}

func oauthCode(code string) (domain.ErrorType, bool) {
	switch strings.ToLower(code) {
	case "invalid_grant":
		return domain.ErrorTokenExpired, true
	case "invalid_client", "unauthorized_client":
		return domain.ErrorInvalidCredentials, true
	case "temporarily_unavailable", "server_error":
		return domain.ErrorServiceUnavailable, true
	case "slow_down":
		return domain.ErrorAPIQuotaExceeded, true
	}
	return "", false
}

func driveStatus(code int, reason string) (domain.ErrorType, bool) {
	reason = strings.ToLower(reason)
	if code == 403 {
		switch reason {
		case "quotaexceeded", "storagequotaexceeded":
			return domain.ErrorStorageQuotaExceeded, true
		case "ratelimitexceeded", "userratelimitexceeded", "dailylimitexceeded", "sharingratelimitexceeded":
			return domain.ErrorAPIQuotaExceeded, true
		default:
			return domain.ErrorInsufficientPermissions, true
		}
	}
	if code == 400 && reason == "invalidcontent" {
		return domain.ErrorInvalidFileContent, true
	}
	return statusType(code)
}
