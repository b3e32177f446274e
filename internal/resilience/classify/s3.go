package classify

import (
	"errors"

	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/vietddude/cloudlink/internal/core/domain"
)

// S3 classifies S3-compatible object store errors.
type S3 struct{}

var s3Codes = map[string]domain.ErrorType{
	"NoSuchBucket":                       domain.ErrorBucketNotFound,
	"InvalidBucketName":                  domain.ErrorInvalidBucketName,
	"AccessDenied":                       domain.ErrorBucketAccessDenied,
	"AllAccessDisabled":                  domain.ErrorBucketAccessDenied,
	"InvalidAccessKeyId":                 domain.ErrorInvalidCredentials,
	"SignatureDoesNotMatch":              domain.ErrorInvalidCredentials,
	"InvalidToken":                       domain.ErrorInvalidCredentials,
	"ExpiredToken":                       domain.ErrorTokenExpired,
	"TokenRefreshRequired":               domain.ErrorTokenExpired,
	"NoSuchKey":                          domain.ErrorFileNotFound,
	"NotFound":                           domain.ErrorFileNotFound,
	"EntityTooLarge":                     domain.ErrorFileTooLarge,
	"BadDigest":                          domain.ErrorInvalidFileContent,
	"InvalidDigest":                      domain.ErrorInvalidFileContent,
	"SlowDown":                           domain.ErrorAPIQuotaExceeded,
	"Throttling":                         domain.ErrorAPIQuotaExceeded,
	"ThrottlingException":                domain.ErrorAPIQuotaExceeded,
	"RequestLimitExceeded":               domain.ErrorAPIQuotaExceeded,
	"TooManyBuckets":                     domain.ErrorStorageQuotaExceeded,
	"QuotaExceeded":                      domain.ErrorStorageQuotaExceeded,
	"ServiceUnavailable":                 domain.ErrorServiceUnavailable,
	"InternalError":                      domain.ErrorServiceUnavailable,
	"RequestTimeout":                     domain.ErrorTimeout,
	"AuthorizationHeaderMalformed":       domain.ErrorInvalidRegion,
	"PermanentRedirect":                  domain.ErrorInvalidRegion,
	"IllegalLocationConstraintException": domain.ErrorInvalidRegion,
	"InvalidRegion":                      domain.ErrorInvalidRegion,
	"NotImplemented":                     domain.ErrorFeatureNotSupported,
}

var s3MessageRules = []messageRule{
	{[]string{"access denied", "bucket"}, domain.ErrorBucketAccessDenied},
	{[]string{"access denied"}, domain.ErrorInsufficientPermissions},
	{[]string{"nosuchbucket"}, domain.ErrorBucketNotFound},
	{[]string{"bucket does not exist"}, domain.ErrorBucketNotFound},
	{[]string{"invalid bucket name"}, domain.ErrorInvalidBucketName},
	{[]string{"invalidbucketname"}, domain.ErrorInvalidBucketName},
	{[]string{"invalidaccesskeyid"}, domain.ErrorInvalidCredentials},
	{[]string{"signaturedoesnotmatch"}, domain.ErrorInvalidCredentials},
	{[]string{"invalid access key"}, domain.ErrorInvalidCredentials},
	{[]string{"region", "wrong"}, domain.ErrorInvalidRegion},
	{[]string{"region", "invalid"}, domain.ErrorInvalidRegion},
	{[]string{"nosuchkey"}, domain.ErrorFileNotFound},
	{[]string{"entitytoolarge"}, domain.ErrorFileTooLarge},
	{[]string{"slowdown"}, domain.ErrorAPIQuotaExceeded},
	{[]string{"quota"}, domain.ErrorStorageQuotaExceeded},
}

// ClassifyProviderSpecific implements ProviderClassifier.
func (S3) ClassifyProviderSpecific(err error) (domain.ErrorType, bool) {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if t, ok := s3Codes[apiErr.ErrorCode()]; ok {
			return t, true
		}
	}

	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		if t, ok := s3Status(respErr.HTTPStatusCode()); ok {
			return t, true
		}
	}

	var pe *domain.ProviderError
	if errors.As(err, &pe) {
		if t, ok := s3Codes[pe.Reason]; ok {
			return t, true
		}
		if t, ok := s3Status(pe.StatusCode); ok {
			return t, true
		}
	}

	return matchMessage(err, s3MessageRules)
}

func s3Status(code int) (domain.ErrorType, bool) {
	switch code {
	case 401:
		return domain.ErrorInvalidCredentials, true
	case 403:
		return domain.ErrorInsufficientPermissions, true
	case 503:
		return domain.ErrorServiceUnavailable, true
	}
	return statusType(code)
}
