// Package classify maps provider failures onto the closed domain.ErrorType taxonomy.
//
// A Classifier tries the provider's own strategy first, then the shared base
// rules, and finally falls back to unknown_error, so every error maps to
// exactly one type.
package classify

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"

	"github.com/vietddude/cloudlink/internal/core/domain"
)

// ProviderClassifier recognizes errors specific to one provider.
type ProviderClassifier interface {
	// ClassifyProviderSpecific returns the type and true when it recognizes err.
	ClassifyProviderSpecific(err error) (domain.ErrorType, bool)
}

// ProviderClassifierFunc adapts a function to ProviderClassifier.
type ProviderClassifierFunc func(err error) (domain.ErrorType, bool)

func (f ProviderClassifierFunc) ClassifyProviderSpecific(err error) (domain.ErrorType, bool) {
	return f(err)
}

// Classifier composes per-provider strategies with the base rules.
type Classifier struct {
	providers map[domain.Provider]ProviderClassifier
}

// New creates a Classifier with the given provider strategies.
func New(providers map[domain.Provider]ProviderClassifier) *Classifier {
	if providers == nil {
		providers = make(map[domain.Provider]ProviderClassifier)
	}
	return &Classifier{providers: providers}
}

// Default returns a Classifier wired with the built-in provider strategies.
func Default() *Classifier {
	return New(map[domain.Provider]ProviderClassifier{
		domain.ProviderGoogleDrive: Drive{},
		domain.ProviderAmazonS3:    S3{},
	})
}

// Classify returns the ErrorType for err raised by provider.
func (c *Classifier) Classify(provider domain.Provider, err error) domain.ErrorType {
	if err == nil {
		return domain.ErrorUnknown
	}
	if pc, ok := c.providers[provider]; ok {
		if t, ok := pc.ClassifyProviderSpecific(err); ok {
			return t
		}
	}
	return Base(err)
}

// Base applies the provider-agnostic rules. First match wins.
func Base(err error) domain.ErrorType {
	if err == nil {
		return domain.ErrorUnknown
	}
	if t, ok := sentinel(err); ok {
		return t
	}
	if IsNetwork(err) {
		return domain.ErrorNetwork
	}
	if IsTimeout(err) {
		return domain.ErrorTimeout
	}
	return domain.ErrorUnknown
}

func sentinel(err error) (domain.ErrorType, bool) {
	switch {
	case errors.Is(err, domain.ErrProviderNotConfigured):
		return domain.ErrorProviderNotConfigured, true
	case errors.Is(err, domain.ErrProviderInitialization):
		return domain.ErrorProviderInitializationFailed, true
	case errors.Is(err, domain.ErrFeatureNotSupported):
		return domain.ErrorFeatureNotSupported, true
	case errors.Is(err, domain.ErrMissingRefreshToken):
		return domain.ErrorInvalidCredentials, true
	case errors.Is(err, domain.ErrCircuitOpen):
		return domain.ErrorServiceUnavailable, true
	}
	return "", false
}

var networkSubstrings = []string{
	"connection refused",
	"connection reset",
	"no such host",
	"network is unreachable",
	"host is unreachable",
	"broken pipe",
	"dns lookup",
	"name resolution",
}

var timeoutSubstrings = []string{
	"timeout",
	"timed out",
	"deadline exceeded",
}

// IsNetwork reports whether err is a transport failure that never timed out.
func IsNetwork(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ENETUNREACH) || errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && !dnsErr.IsTimeout {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && !opErr.Timeout() {
		return true
	}
	if IsTimeout(err) {
		return false
	}
	return containsAny(strings.ToLower(err.Error()), networkSubstrings)
}

// IsTimeout reports whether err is a deadline or timeout failure.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return containsAny(strings.ToLower(err.Error()), timeoutSubstrings)
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func containsAll(s string, subs ...string) bool {
	for _, sub := range subs {
		if !strings.Contains(s, sub) {
			return false
		}
	}
	return true
}

// messageRule maps message substrings to a type. All substrings must be present.
type messageRule struct {
	all []string
	typ domain.ErrorType
}

func matchMessage(err error, rules []messageRule) (domain.ErrorType, bool) {
	msg := strings.ToLower(err.Error())
	for _, r := range rules {
		if containsAll(msg, r.all...) {
			return r.typ, true
		}
	}
	return "", false
}

// statusType maps an HTTP status that every provider agrees on.
func statusType(code int) (domain.ErrorType, bool) {
	switch {
	case code == 401:
		return domain.ErrorTokenExpired, true
	case code == 404:
		return domain.ErrorFileNotFound, true
	case code == 408:
		return domain.ErrorTimeout, true
	case code == 413:
		return domain.ErrorFileTooLarge, true
	case code == 429:
		return domain.ErrorAPIQuotaExceeded, true
	case code >= 500 && code <= 599:
		return domain.ErrorServiceUnavailable, true
	}
	return "", false
}
