package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/sony/gobreaker"

	"github.com/vietddude/cloudlink/internal/core/domain"
	"github.com/vietddude/cloudlink/internal/metrics"
	"github.com/vietddude/cloudlink/internal/resilience/classify"
)

// BreakerConfig configures the per-provider circuit breaker.
type BreakerConfig struct {
	MaxRequests      uint32        `yaml:"max_requests"`      // trial requests allowed while half-open
	Interval         time.Duration `yaml:"interval"`          // closed-state counter reset period
	Timeout          time.Duration `yaml:"timeout"`           // open-state duration
	FailureThreshold uint32        `yaml:"failure_threshold"` // consecutive failures that open the circuit
}

// DefaultBreakerConfig returns the breaker defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:      1,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
	}
}

// Breaker wraps a Client with a circuit breaker and latency metrics.
// Only provider-side failures (transport, timeout, 5xx) count against the circuit.
type Breaker struct {
	next Client
	cb   *gobreaker.CircuitBreaker
}

var _ Client = (*Breaker)(nil)

// NewBreaker decorates next.
func NewBreaker(next Client, cfg BreakerConfig, logger *slog.Logger) *Breaker {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultBreakerConfig()
	if cfg.MaxRequests == 0 {
		cfg.MaxRequests = def.MaxRequests
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = def.Timeout
	}

	name := string(next.Name())
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed", "provider", name, "from", from.String(), "to", to.String())
			metrics.BreakerState.WithLabelValues(name).Set(float64(to))
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !providerSide(err)
		},
	}
	return &Breaker{next: next, cb: gobreaker.NewCircuitBreaker(settings)}
}

func (b *Breaker) Name() domain.Provider {
	return b.next.Name()
}

// State returns the current circuit state.
func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}

func (b *Breaker) RefreshToken(ctx context.Context, cred *domain.Credential) (*domain.Token, error) {
	start := time.Now()
	res, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.RefreshToken(ctx, cred)
	})
	metrics.ProviderLatency.WithLabelValues(string(b.Name()), "refresh_token").Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, b.wrap(err)
	}
	return res.(*domain.Token), nil
}

func (b *Breaker) TestConnectivity(ctx context.Context, cred *domain.Credential) error {
	start := time.Now()
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, b.next.TestConnectivity(ctx, cred)
	})
	metrics.ProviderLatency.WithLabelValues(string(b.Name()), "test_connectivity").Observe(time.Since(start).Seconds())
	if err != nil {
		return b.wrap(err)
	}
	return nil
}

func (b *Breaker) wrap(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%s: %w", b.Name(), domain.ErrCircuitOpen)
	}
	return err
}

// providerSide reports whether err says the provider (or the path to it) is failing.
func providerSide(err error) bool {
	if classify.IsNetwork(err) || classify.IsTimeout(err) {
		return true
	}
	var pe *domain.ProviderError
	if errors.As(err, &pe) && pe.StatusCode >= 500 {
		return true
	}
	var re *smithyhttp.ResponseError
	if errors.As(err, &re) && re.HTTPStatusCode() >= 500 {
		return true
	}
	return false
}
