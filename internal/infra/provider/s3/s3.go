// Package s3 is the API-key object store provider client.
package s3

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/vietddude/cloudlink/internal/core/domain"
)

// Config holds defaults used when a credential carries no region or endpoint setting.
type Config struct {
	Region       string `yaml:"region"`
	Endpoint     string `yaml:"endpoint"`
	UsePathStyle bool   `yaml:"use_path_style"`
}

// HeadBucketAPI is the slice of the S3 client used for probing.
type HeadBucketAPI interface {
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// Client checks S3-compatible buckets with the user's access keys.
type Client struct {
	cfg        Config
	httpClient *http.Client
	newAPI     func(ctx context.Context, cred *domain.Credential) (HeadBucketAPI, error)
}

// New creates an S3 client. httpClient may be nil.
func New(cfg Config, httpClient *http.Client) *Client {
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	c := &Client{cfg: cfg, httpClient: httpClient}
	c.newAPI = c.sdkClient
	return c
}

func (c *Client) Name() domain.Provider {
	return domain.ProviderAmazonS3
}

// RefreshToken is not supported: access keys never expire.
func (c *Client) RefreshToken(ctx context.Context, cred *domain.Credential) (*domain.Token, error) {
	return nil, fmt.Errorf("s3 token refresh: %w", domain.ErrFeatureNotSupported)
}

// TestConnectivity issues HeadBucket against the configured bucket.
func (c *Client) TestConnectivity(ctx context.Context, cred *domain.Credential) error {
	bucket := cred.Setting("bucket", "")
	if bucket == "" {
		return &domain.ProviderError{
			Provider: domain.ProviderAmazonS3,
			Reason:   "InvalidBucketName",
			Message:  "no bucket configured",
		}
	}
	if cred.AccessKeyID == "" || cred.SecretKey == "" {
		return &domain.ProviderError{
			Provider: domain.ProviderAmazonS3,
			Reason:   "InvalidAccessKeyId",
			Message:  "access key missing",
		}
	}

	api, err := c.newAPI(ctx, cred)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrProviderInitialization, err)
	}
	_, err = api.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)})
	if err != nil {
		return normalizeHeadError(bucket, err)
	}
	return nil
}

func (c *Client) sdkClient(ctx context.Context, cred *domain.Credential) (HeadBucketAPI, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cred.Setting("region", c.cfg.Region)),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cred.AccessKeyID, cred.SecretKey, ""),
		),
		// Retries are owned by the engine.
		awsconfig.WithRetryMaxAttempts(1),
	}
	if c.httpClient != nil {
		opts = append(opts, awsconfig.WithHTTPClient(c.httpClient))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}

	endpoint := cred.Setting("endpoint", c.cfg.Endpoint)
	pathStyle := c.cfg.UsePathStyle || cred.Setting("path_style", "") == "true"
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		o.UsePathStyle = pathStyle
	}), nil
}

// normalizeHeadError names bucket-level failures. HeadBucket responses carry
// no body, so the status code is all there is.
func normalizeHeadError(bucket string, err error) error {
	var re *smithyhttp.ResponseError
	if !errors.As(err, &re) {
		return err
	}
	pe := &domain.ProviderError{
		Provider:   domain.ProviderAmazonS3,
		StatusCode: re.HTTPStatusCode(),
		Message:    fmt.Sprintf("head bucket %q: %v", bucket, err),
	}
	switch re.HTTPStatusCode() {
	case http.StatusNotFound:
		pe.Reason = "NoSuchBucket"
	case http.StatusForbidden:
		pe.Reason = "AccessDenied"
	case http.StatusMovedPermanently:
		pe.Reason = "PermanentRedirect"
	case http.StatusBadRequest:
		pe.Reason = "AuthorizationHeaderMalformed"
	default:
		return err
	}
	return pe
}
