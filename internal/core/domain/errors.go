package domain

import (
	"errors"
	"fmt"
)

// ErrorType is the closed taxonomy every provider failure is mapped to.
type ErrorType string

const (
	ErrorNetwork                      ErrorType = "network_error"
	ErrorTimeout                      ErrorType = "timeout"
	ErrorTokenExpired                 ErrorType = "token_expired"
	ErrorInvalidCredentials           ErrorType = "invalid_credentials"
	ErrorInsufficientPermissions      ErrorType = "insufficient_permissions"
	ErrorAPIQuotaExceeded             ErrorType = "api_quota_exceeded"
	ErrorStorageQuotaExceeded         ErrorType = "storage_quota_exceeded"
	ErrorServiceUnavailable           ErrorType = "service_unavailable"
	ErrorFileNotFound                 ErrorType = "file_not_found"
	ErrorFileTooLarge                 ErrorType = "file_too_large"
	ErrorInvalidFileContent           ErrorType = "invalid_file_content"
	ErrorBucketNotFound               ErrorType = "bucket_not_found"
	ErrorInvalidBucketName            ErrorType = "invalid_bucket_name"
	ErrorBucketAccessDenied           ErrorType = "bucket_access_denied"
	ErrorInvalidRegion                ErrorType = "invalid_region"
	ErrorProviderNotConfigured        ErrorType = "provider_not_configured"
	ErrorProviderInitializationFailed ErrorType = "provider_initialization_failed"
	ErrorFeatureNotSupported          ErrorType = "feature_not_supported"
	ErrorUnknown                      ErrorType = "unknown_error"
)

// ErrorTypes lists every ErrorType value.
var ErrorTypes = []ErrorType{
	ErrorNetwork,
	ErrorTimeout,
	ErrorTokenExpired,
	ErrorInvalidCredentials,
	ErrorInsufficientPermissions,
	ErrorAPIQuotaExceeded,
	ErrorStorageQuotaExceeded,
	ErrorServiceUnavailable,
	ErrorFileNotFound,
	ErrorFileTooLarge,
	ErrorInvalidFileContent,
	ErrorBucketNotFound,
	ErrorInvalidBucketName,
	ErrorBucketAccessDenied,
	ErrorInvalidRegion,
	ErrorProviderNotConfigured,
	ErrorProviderInitializationFailed,
	ErrorFeatureNotSupported,
	ErrorUnknown,
}

// Valid reports whether t is a member of the taxonomy.
func (t ErrorType) Valid() bool {
	for _, v := range ErrorTypes {
		if v == t {
			return true
		}
	}
	return false
}

// RefreshErrorType is the taxonomy used only on the token refresh path.
type RefreshErrorType string

const (
	RefreshInvalidToken       RefreshErrorType = "invalid_refresh_token"
	RefreshExpiredToken       RefreshErrorType = "expired_refresh_token"
	RefreshAPIQuotaExceeded   RefreshErrorType = "api_quota_exceeded"
	RefreshServiceUnavailable RefreshErrorType = "service_unavailable"
	RefreshNetworkTimeout     RefreshErrorType = "network_timeout"
	RefreshUnknown            RefreshErrorType = "unknown_error"
)

// RefreshErrorTypes lists every RefreshErrorType value.
var RefreshErrorTypes = []RefreshErrorType{
	RefreshInvalidToken,
	RefreshExpiredToken,
	RefreshAPIQuotaExceeded,
	RefreshServiceUnavailable,
	RefreshNetworkTimeout,
	RefreshUnknown,
}

var (
	// ErrNotFound is returned by stores when a credential or record doesn't exist.
	ErrNotFound = errors.New("not found")

	ErrProviderNotConfigured  = errors.New("provider not configured")
	ErrProviderInitialization = errors.New("provider initialization failed")
	ErrFeatureNotSupported    = errors.New("feature not supported by provider")
	ErrMissingRefreshToken    = errors.New("no refresh token available")
	ErrCircuitOpen            = errors.New("provider circuit open")
)

// ProviderError is the normalized form of a failed provider call.
type ProviderError struct {
	Provider   Provider
	StatusCode int    // HTTP status, 0 when the call never got a response
	Reason     string // provider reason code, e.g. "authError", "NoSuchBucket"
	Code       string // OAuth error code, e.g. "invalid_grant"
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	switch {
	case e.StatusCode != 0 && e.Reason != "":
		return fmt.Sprintf("%s: HTTP %d (%s): %s", e.Provider, e.StatusCode, e.Reason, msg)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s: HTTP %d: %s", e.Provider, e.StatusCode, msg)
	case e.Code != "":
		return fmt.Sprintf("%s: %s: %s", e.Provider, e.Code, msg)
	default:
		return fmt.Sprintf("%s: %s", e.Provider, msg)
	}
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}
