// Package ratelimit enforces fixed-window ceilings on token refreshes and
// connectivity checks per (operation, provider, user).
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vietddude/cloudlink/internal/core/clock"
	"github.com/vietddude/cloudlink/internal/core/domain"
	"github.com/vietddude/cloudlink/internal/infra/kv"
	"github.com/vietddude/cloudlink/internal/metrics"
)

// Rule is the ceiling for one operation family.
type Rule struct {
	Max    int64
	Window time.Duration
}

// DefaultRules returns the built-in ceilings.
func DefaultRules() map[domain.Operation]Rule {
	return map[domain.Operation]Rule{
		domain.OpTokenRefresh:      {Max: 10, Window: time.Hour},
		domain.OpConnectivityCheck: {Max: 20, Window: time.Hour},
	}
}

// Limiter counts attempts in kv with one atomic increment per Record.
type Limiter struct {
	store  kv.Store
	rules  map[domain.Operation]Rule
	clock  clock.Clock
	logger *slog.Logger
}

// New creates a Limiter. Operations without a rule are never limited.
func New(store kv.Store, rules map[domain.Operation]Rule, c clock.Clock, logger *slog.Logger) *Limiter {
	if rules == nil {
		rules = DefaultRules()
	}
	if c == nil {
		c = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Limiter{store: store, rules: rules, clock: c, logger: logger}
}

// Rule returns the rule for op.
func (l *Limiter) Rule(op domain.Operation) (Rule, bool) {
	r, ok := l.rules[op]
	return r, ok
}

// Check reports whether another attempt fits in the current window.
func (l *Limiter) Check(ctx context.Context, op domain.Operation, p domain.Provider, userID string) (bool, error) {
	rule, ok := l.rules[op]
	if !ok {
		return true, nil
	}
	n, err := l.store.Counter(ctx, kv.RateLimitKey(op, p, userID))
	if err != nil {
		return false, fmt.Errorf("read rate limit counter: %w", err)
	}
	if n >= rule.Max {
		metrics.RateLimitRejections.WithLabelValues(string(p), string(op)).Inc()
		l.logger.Debug("Rate limit exhausted",
			"operation", op, "provider", p, "user", userID, "count", n, "max", rule.Max,
		)
		return false, nil
	}
	return true, nil
}

// Record counts one attempt. The first attempt in a window starts the window.
func (l *Limiter) Record(ctx context.Context, op domain.Operation, p domain.Provider, userID string) (int64, error) {
	rule, ok := l.rules[op]
	if !ok {
		return 0, nil
	}
	n, err := l.store.IncrWithExpiry(ctx, kv.RateLimitKey(op, p, userID), rule.Window)
	if err != nil {
		return 0, fmt.Errorf("record rate limit attempt: %w", err)
	}
	return n, nil
}

// Allow counts one attempt and reports whether it fits in the current window.
// The increment comes first, so concurrent callers never admit more than Max.
// Rejected attempts stay counted; the window is exhausted either way.
func (l *Limiter) Allow(ctx context.Context, op domain.Operation, p domain.Provider, userID string) (bool, error) {
	rule, ok := l.rules[op]
	if !ok {
		return true, nil
	}
	n, err := l.store.IncrWithExpiry(ctx, kv.RateLimitKey(op, p, userID), rule.Window)
	if err != nil {
		return false, fmt.Errorf("record rate limit attempt: %w", err)
	}
	if n > rule.Max {
		metrics.RateLimitRejections.WithLabelValues(string(p), string(op)).Inc()
		l.logger.Debug("Rate limit exhausted",
			"operation", op, "provider", p, "user", userID, "count", n, "max", rule.Max,
		)
		return false, nil
	}
	return true, nil
}

// Remaining returns how many attempts are left in the current window.
func (l *Limiter) Remaining(ctx context.Context, op domain.Operation, p domain.Provider, userID string) (int64, error) {
	rule, ok := l.rules[op]
	if !ok {
		return -1, nil
	}
	n, err := l.store.Counter(ctx, kv.RateLimitKey(op, p, userID))
	if err != nil {
		return 0, fmt.Errorf("read rate limit counter: %w", err)
	}
	if n >= rule.Max {
		return 0, nil
	}
	return rule.Max - n, nil
}

// ResetTime returns when the current window ends. With no open window it is now.
func (l *Limiter) ResetTime(ctx context.Context, op domain.Operation, p domain.Provider, userID string) (time.Time, error) {
	ttl, err := l.store.TTL(ctx, kv.RateLimitKey(op, p, userID))
	if err != nil {
		return time.Time{}, fmt.Errorf("read rate limit ttl: %w", err)
	}
	return l.clock.Now().Add(ttl), nil
}
