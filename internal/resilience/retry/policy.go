// Package retry holds the retry policy: whether a classified failure is
// retried, how long to wait, how many attempts are allowed and whether a
// person has to act. Everything here is pure; nothing sleeps or does I/O.
package retry

import (
	"time"

	"github.com/vietddude/cloudlink/internal/core/domain"
)

// Policy holds the delays used by RetryDelay. QuotaDelay differs per provider.
type Policy struct {
	BaseNetworkDelay time.Duration
	TimeoutStep      time.Duration
	ServiceDelay     time.Duration
	QuotaDelay       time.Duration
	UnknownDelay     time.Duration
	MaxDelay         time.Duration
}

// DefaultPolicy returns the policy used when a provider has no override.
func DefaultPolicy() Policy {
	return Policy{
		BaseNetworkDelay: 30 * time.Second,
		TimeoutStep:      60 * time.Second,
		ServiceDelay:     60 * time.Second,
		QuotaDelay:       time.Hour,
		UnknownDelay:     60 * time.Second,
		MaxDelay:         300 * time.Second,
	}
}

// MaxRetryAttempts returns how many attempts an operation failing with t gets in total.
func MaxRetryAttempts(t domain.ErrorType) int {
	switch t {
	case domain.ErrorNetwork, domain.ErrorTimeout, domain.ErrorServiceUnavailable:
		return 3
	case domain.ErrorAPIQuotaExceeded:
		return 2
	case domain.ErrorUnknown:
		return 1
	default:
		return 0
	}
}

// ShouldRetry reports whether attempt (1-based, the one that just failed)
// may be followed by another.
func (p Policy) ShouldRetry(t domain.ErrorType, attempt int) bool {
	return attempt < MaxRetryAttempts(t)
}

// RetryDelay returns the wait before the attempt after attempt.
func (p Policy) RetryDelay(t domain.ErrorType, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	switch t {
	case domain.ErrorNetwork:
		return p.exponential(p.BaseNetworkDelay, attempt)
	case domain.ErrorTimeout:
		return p.TimeoutStep * time.Duration(attempt)
	case domain.ErrorServiceUnavailable:
		return p.exponential(p.ServiceDelay, attempt)
	case domain.ErrorAPIQuotaExceeded:
		return p.QuotaDelay
	case domain.ErrorUnknown:
		return p.UnknownDelay
	default:
		return 0
	}
}

func (p Policy) exponential(base time.Duration, attempt int) time.Duration {
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// RequiresUserIntervention reports whether only a person can fix a failure of type t.
func RequiresUserIntervention(t domain.ErrorType) bool {
	switch t {
	case domain.ErrorTokenExpired,
		domain.ErrorInvalidCredentials,
		domain.ErrorInsufficientPermissions,
		domain.ErrorStorageQuotaExceeded,
		domain.ErrorProviderNotConfigured,
		domain.ErrorProviderInitializationFailed,
		domain.ErrorBucketNotFound,
		domain.ErrorInvalidBucketName,
		domain.ErrorBucketAccessDenied,
		domain.ErrorInvalidRegion:
		return true
	}
	return false
}

// Policies resolves the policy for a provider, falling back to a default.
type Policies struct {
	def       Policy
	providers map[domain.Provider]Policy
}

// NewPolicies creates a lookup with def and per-provider overrides.
func NewPolicies(def Policy, providers map[domain.Provider]Policy) *Policies {
	if providers == nil {
		providers = make(map[domain.Provider]Policy)
	}
	return &Policies{def: def, providers: providers}
}

// DefaultPolicies returns the built-in per-provider quota windows.
func DefaultPolicies() *Policies {
	s3 := DefaultPolicy()
	s3.QuotaDelay = 15 * time.Minute
	return NewPolicies(DefaultPolicy(), map[domain.Provider]Policy{
		domain.ProviderGoogleDrive: DefaultPolicy(),
		domain.ProviderAmazonS3:    s3,
	})
}

// For returns the policy for provider.
func (ps *Policies) For(provider domain.Provider) Policy {
	if p, ok := ps.providers[provider]; ok {
		return p
	}
	return ps.def
}

// Set replaces the policy for provider.
func (ps *Policies) Set(provider domain.Provider, p Policy) {
	ps.providers[provider] = p
}
