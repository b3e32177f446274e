package classify

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"
	"testing"

	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"golang.org/x/oauth2"

	"github.com/vietddude/cloudlink/internal/core/domain"
)

func driveErr(status int, reason string) error {
	return &domain.ProviderError{Provider: domain.ProviderGoogleDrive, StatusCode: status, Reason: reason, Message: "request failed"}
}

func TestBase(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want domain.ErrorType
	}{
		{"nil", nil, domain.ErrorUnknown},
		{"refused", &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}, domain.ErrorNetwork},
		{"reset", fmt.Errorf("read: %w", syscall.ECONNRESET), domain.ErrorNetwork},
		{"dns", &net.DNSError{Err: "no such host", Name: "drive.example"}, domain.ErrorNetwork},
		{"refused message", errors.New("dial tcp 10.0.0.1:443: Connection Refused"), domain.ErrorNetwork},
		{"deadline", context.DeadlineExceeded, domain.ErrorTimeout},
		{"wrapped deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), domain.ErrorTimeout},
		{"timed out message", errors.New("request Timed Out"), domain.ErrorTimeout},
		{"timeout message", errors.New("i/o timeout"), domain.ErrorTimeout},
		{"not configured", fmt.Errorf("drive: %w", domain.ErrProviderNotConfigured), domain.ErrorProviderNotConfigured},
		{"init", domain.ErrProviderInitialization, domain.ErrorProviderInitializationFailed},
		{"feature", domain.ErrFeatureNotSupported, domain.ErrorFeatureNotSupported},
		{"circuit", domain.ErrCircuitOpen, domain.ErrorServiceUnavailable},
		{"other", errors.New("boom"), domain.ErrorUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Base(tt.err))
		})
	}
}

func TestDrive(t *testing.T) {
	c := Default()

	tests := []struct {
		name string
		err  error
		want domain.ErrorType
	}{
		{"401 authError", driveErr(401, "authError"), domain.ErrorTokenExpired},
		{"403 quotaExceeded", driveErr(403, "quotaExceeded"), domain.ErrorStorageQuotaExceeded},
		{"403 storageQuotaExceeded", driveErr(403, "storageQuotaExceeded"), domain.ErrorStorageQuotaExceeded},
		{"403 rateLimitExceeded", driveErr(403, "rateLimitExceeded"), domain.ErrorAPIQuotaExceeded},
		{"403 userRateLimitExceeded", driveErr(403, "userRateLimitExceeded"), domain.ErrorAPIQuotaExceeded},
		{"403 forbidden", driveErr(403, "forbidden"), domain.ErrorInsufficientPermissions},
		{"404", driveErr(404, "notFound"), domain.ErrorFileNotFound},
		{"413", driveErr(413, ""), domain.ErrorFileTooLarge},
		{"429", driveErr(429, ""), domain.ErrorAPIQuotaExceeded},
		{"500", driveErr(500, "backendError"), domain.ErrorServiceUnavailable},
		{"503", driveErr(503, ""), domain.ErrorServiceUnavailable},
		{
			"oauth invalid_grant",
			&oauth2.RetrieveError{Response: &http.Response{StatusCode: 400, Status: "400 Bad Request"}, ErrorCode: "invalid_grant"},
			domain.ErrorTokenExpired,
		},
		{
			"oauth invalid_client",
			&oauth2.RetrieveError{Response: &http.Response{StatusCode: 401, Status: "401 Unauthorized"}, ErrorCode: "invalid_client"},
			domain.ErrorInvalidCredentials,
		},
		{"message rate limit", errors.New("User Rate Limit Exceeded"), domain.ErrorAPIQuotaExceeded},
		{"message storage quota", errors.New("The user's Drive storage quota has been exceeded"), domain.ErrorStorageQuotaExceeded},
		{"falls back to network", &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}, domain.ErrorNetwork},
		{"falls back to timeout", context.DeadlineExceeded, domain.ErrorTimeout},
		{"unknown", errors.New("something odd"), domain.ErrorUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Classify(domain.ProviderGoogleDrive, tt.err))
		})
	}
}

func TestS3(t *testing.T) {
	c := Default()

	tests := []struct {
		name string
		err  error
		want domain.ErrorType
	}{
		{"NoSuchBucket", &smithy.GenericAPIError{Code: "NoSuchBucket", Message: "bucket missing"}, domain.ErrorBucketNotFound},
		{"InvalidBucketName", &smithy.GenericAPIError{Code: "InvalidBucketName"}, domain.ErrorInvalidBucketName},
		{"AccessDenied", &smithy.GenericAPIError{Code: "AccessDenied"}, domain.ErrorBucketAccessDenied},
		{"InvalidAccessKeyId", &smithy.GenericAPIError{Code: "InvalidAccessKeyId"}, domain.ErrorInvalidCredentials},
		{"SlowDown", &smithy.GenericAPIError{Code: "SlowDown"}, domain.ErrorAPIQuotaExceeded},
		{"Redirect", &smithy.GenericAPIError{Code: "PermanentRedirect"}, domain.ErrorInvalidRegion},
		{"wrapped", fmt.Errorf("head bucket: %w", &smithy.GenericAPIError{Code: "NoSuchKey"}), domain.ErrorFileNotFound},
		{"access denied bucket message", errors.New("Access Denied for bucket 'backups'"), domain.ErrorBucketAccessDenied},
		{"access denied message", errors.New("Access Denied"), domain.ErrorInsufficientPermissions},
		{"status 503", &domain.ProviderError{Provider: domain.ProviderAmazonS3, StatusCode: 503}, domain.ErrorServiceUnavailable},
		{"timeout", errors.New("operation timed out"), domain.ErrorTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Classify(domain.ProviderAmazonS3, tt.err))
		})
	}
}

func TestClassify_UnknownProviderUsesBase(t *testing.T) {
	c := Default()
	assert.Equal(t, domain.ErrorNetwork, c.Classify("dropbox", errors.New("connection reset by peer")))
	assert.Equal(t, domain.ErrorUnknown, c.Classify("dropbox", driveErr(401, "authError")))
}

func TestClassify_Total(t *testing.T) {
	c := Default()
	errs := []error{
		nil,
		errors.New(""),
		errors.New("ACCESS DENIED"),
		driveErr(0, ""),
		driveErr(418, "teapot"),
		&smithy.GenericAPIError{},
		&oauth2.RetrieveError{Response: &http.Response{StatusCode: 302, Status: "302 Found"}},
		context.Canceled,
		&net.OpError{Op: "read", Net: "tcp", Err: errors.New("weird")},
	}
	providers := []domain.Provider{domain.ProviderGoogleDrive, domain.ProviderAmazonS3, "other"}

	for _, p := range providers {
		for _, err := range errs {
			got := c.Classify(p, err)
			assert.True(t, got.Valid(), "provider %s err %v produced %q", p, err, got)
		}
	}
}

func TestRefresh(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantRefresh domain.RefreshErrorType
		wantType    domain.ErrorType
	}{
		{
			"invalid_grant",
			&oauth2.RetrieveError{Response: &http.Response{StatusCode: 400, Status: "400"}, ErrorCode: "invalid_grant", ErrorDescription: "Token has been expired or revoked."},
			domain.RefreshInvalidToken, domain.ErrorTokenExpired,
		},
		{
			"invalid_request",
			&domain.ProviderError{Code: "invalid_request", StatusCode: 400},
			domain.RefreshInvalidToken, domain.ErrorInvalidCredentials,
		},
		{
			"invalid_client",
			&domain.ProviderError{Code: "invalid_client", StatusCode: 401},
			domain.RefreshInvalidToken, domain.ErrorInvalidCredentials,
		},
		{"expired message", errors.New("refresh token expired"), domain.RefreshExpiredToken, domain.ErrorTokenExpired},
		{"quota", &domain.ProviderError{StatusCode: 429, Message: "slow down"}, domain.RefreshAPIQuotaExceeded, domain.ErrorAPIQuotaExceeded},
		{"5xx", &domain.ProviderError{StatusCode: 502, Message: "bad gateway"}, domain.RefreshServiceUnavailable, domain.ErrorServiceUnavailable},
		{"network", &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}, domain.RefreshNetworkTimeout, domain.ErrorNetwork},
		{"timeout", context.DeadlineExceeded, domain.RefreshNetworkTimeout, domain.ErrorTimeout},
		{"missing token", domain.ErrMissingRefreshToken, domain.RefreshInvalidToken, domain.ErrorInvalidCredentials},
		{"other", errors.New("boom"), domain.RefreshUnknown, domain.ErrorUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Refresh(tt.err)
			assert.Equal(t, tt.wantRefresh, got.RefreshType)
			assert.Equal(t, tt.wantType, got.ErrorType)
		})
	}

	assert.True(t, Refresh(context.DeadlineExceeded).Transport())
	assert.False(t, Refresh(errors.New("boom")).Transport())
	assert.True(t, RefreshNeedsUser(domain.RefreshInvalidToken))
	assert.False(t, RefreshNeedsUser(domain.RefreshExpiredToken))
}
