// Package health derives the consolidated status of a (user, provider)
// connection from a token check and a live connectivity check.
//
// Both checks and the derived status are cached in the kv store with
// asymmetric TTLs: healthy results live longer than degraded ones so that
// recovery is noticed quickly.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vietddude/cloudlink/internal/core/clock"
	"github.com/vietddude/cloudlink/internal/core/domain"
	"github.com/vietddude/cloudlink/internal/infra/events"
	"github.com/vietddude/cloudlink/internal/infra/kv"
	"github.com/vietddude/cloudlink/internal/infra/provider"
	"github.com/vietddude/cloudlink/internal/infra/storage"
	"github.com/vietddude/cloudlink/internal/metrics"
	"github.com/vietddude/cloudlink/internal/resilience/classify"
	"github.com/vietddude/cloudlink/internal/resilience/ratelimit"
	"github.com/vietddude/cloudlink/internal/resilience/refresh"
	"github.com/vietddude/cloudlink/internal/resilience/tracker"
)

// TokenValidator makes sure a connection holds a usable access token.
type TokenValidator interface {
	EnsureValid(ctx context.Context, userID string, p domain.Provider) (bool, *refresh.Result)
}

// ErrorRecorder receives connectivity check failures and successes.
type ErrorRecorder interface {
	RecordError(ctx context.Context, ev tracker.Event) error
	RecordSuccess(ctx context.Context, p domain.Provider, userID string, op domain.Operation) error
}

// Config tunes cache lifetimes and check limits.
type Config struct {
	HealthyTTL   time.Duration `yaml:"healthy_ttl"`
	DegradedTTL  time.Duration `yaml:"degraded_ttl"`
	ExpiringSoon time.Duration `yaml:"expiring_soon"`
	CheckTimeout time.Duration `yaml:"check_timeout"`
}

// DefaultConfig returns the built-in settings.
func DefaultConfig() Config {
	return Config{
		HealthyTTL:   30 * time.Second,
		DegradedTTL:  10 * time.Second,
		ExpiringSoon: 5 * time.Minute,
		CheckTimeout: 15 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.HealthyTTL <= 0 {
		c.HealthyTTL = def.HealthyTTL
	}
	if c.DegradedTTL <= 0 {
		c.DegradedTTL = def.DegradedTTL
	}
	if c.ExpiringSoon <= 0 {
		c.ExpiringSoon = def.ExpiringSoon
	}
	if c.CheckTimeout <= 0 {
		c.CheckTimeout = def.CheckTimeout
	}
	return c
}

// Deps are the collaborators of a Machine. Classifier, Tracker, Events, Clock
// and Logger are optional.
type Deps struct {
	Store      storage.Store
	KV         kv.Store
	Tokens     TokenValidator
	Providers  *provider.Registry
	Limiter    *ratelimit.Limiter
	Classifier *classify.Classifier
	Tracker    ErrorRecorder
	Events     events.Sink
	Clock      clock.Clock
	Logger     *slog.Logger
}

// Machine computes and caches connection health.
type Machine struct {
	store      storage.Store
	kv         kv.Store
	tokens     TokenValidator
	providers  *provider.Registry
	limiter    *ratelimit.Limiter
	classifier *classify.Classifier
	tracker    ErrorRecorder
	sink       events.Sink
	clock      clock.Clock
	logger     *slog.Logger
	cfg        Config
}

// New creates a Machine.
func New(d Deps, cfg Config) *Machine {
	m := &Machine{
		store:      d.Store,
		kv:         d.KV,
		tokens:     d.Tokens,
		providers:  d.Providers,
		limiter:    d.Limiter,
		classifier: d.Classifier,
		tracker:    d.Tracker,
		sink:       d.Events,
		clock:      d.Clock,
		logger:     d.Logger,
		cfg:        cfg.withDefaults(),
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	if m.clock == nil {
		m.clock = clock.Real()
	}
	if m.classifier == nil {
		m.classifier = classify.Default()
	}
	if m.sink == nil {
		m.sink = events.NewLogSink(m.logger)
	}
	if m.limiter == nil {
		m.limiter = ratelimit.New(m.kv, nil, m.clock, m.logger)
	}
	return m
}

// Status returns the consolidated health of (userID, p), from cache when fresh.
func (m *Machine) Status(ctx context.Context, userID string, p domain.Provider) (*domain.ConnectionHealthRecord, error) {
	key := kv.StatusKey(p, userID)
	if raw, err := m.kv.Get(ctx, key); err == nil {
		var rec domain.ConnectionHealthRecord
		if err := json.Unmarshal([]byte(raw), &rec); err == nil {
			return &rec, nil
		}
		m.logger.Warn("Dropping unreadable cached health status", "provider", p, "user", userID)
	} else if !errors.Is(err, kv.ErrMissing) {
		return nil, fmt.Errorf("failed to read cached health status: %w", err)
	}

	rec, err := m.compute(ctx, userID, p)
	if err != nil {
		return nil, err
	}

	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to encode health status: %w", err)
	}
	if err := m.kv.Set(ctx, key, string(raw), m.ttl(rec.Status.IsHealthy())); err != nil {
		m.logger.Warn("Failed to cache health status", "provider", p, "user", userID, "error", err)
	}
	return rec, nil
}

// Invalidate drops the cached status and check results of (userID, p).
func (m *Machine) Invalidate(ctx context.Context, userID string, p domain.Provider) error {
	return m.kv.Delete(ctx,
		kv.StatusKey(p, userID),
		kv.TokenCheckKey(p, userID),
		kv.ConnectivityCheckKey(p, userID),
	)
}

// Reset starts the connection from a clean record after the user reconnected.
// It keeps the last successful refresh and the current token expiry, and drops
// every cached check and status.
func (m *Machine) Reset(ctx context.Context, userID string, p domain.Provider) error {
	rec := domain.NewHealthRecord(userID, p)
	old, err := m.store.LoadHealth(ctx, userID, p)
	switch {
	case err == nil:
		rec.LastRefreshSuccessAt = old.LastRefreshSuccessAt
	case !errors.Is(err, domain.ErrNotFound):
		return fmt.Errorf("failed to load health record: %w", err)
	}
	if cred, err := m.store.LoadCredential(ctx, userID, p); err == nil {
		rec.TokenExpiresAt = cred.ExpiresAt
	}
	rec.UpdatedAt = m.clock.Now()

	if err := m.store.SaveHealth(ctx, rec); err != nil {
		return fmt.Errorf("failed to reset health record: %w", err)
	}
	if err := m.Invalidate(ctx, userID, p); err != nil {
		return fmt.Errorf("failed to invalidate health cache: %w", err)
	}
	return nil
}

// compute runs the derivation. Each step short-circuits the ones after it.
func (m *Machine) compute(ctx context.Context, userID string, p domain.Provider) (*domain.ConnectionHealthRecord, error) {
	now := m.clock.Now()

	cred, err := m.store.LoadCredential(ctx, userID, p)
	if errors.Is(err, domain.ErrNotFound) {
		rec := domain.NewHealthRecord(userID, p)
		rec.LastCheckedAt = now
		return m.finish(ctx, rec, nil, domain.StatusNotConnected)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load credential: %w", err)
	}

	rec, err := m.loadRecord(ctx, userID, p)
	if err != nil {
		return nil, err
	}
	if rec.RequiresReconnection {
		return m.finish(ctx, rec, cred, domain.StatusRequiresIntervention)
	}
	if cred.ExpiredAt(now) && !cred.HasRefreshToken() {
		return m.finish(ctx, rec, cred, domain.StatusExpiredManual)
	}

	tokenState, ran, err := m.tokenCheck(ctx, userID, p)
	if err != nil {
		return nil, err
	}
	if ran {
		// the check may have refreshed the token and rewritten the record
		if cred, err = m.store.LoadCredential(ctx, userID, p); err != nil {
			return nil, fmt.Errorf("failed to reload credential: %w", err)
		}
		if rec, err = m.loadRecord(ctx, userID, p); err != nil {
			return nil, err
		}
	}

	switch {
	case rec.RequiresReconnection:
		return m.finish(ctx, rec, cred, domain.StatusRequiresIntervention)
	case tokenState == checkDeferred:
		return m.finish(ctx, rec, cred, domain.StatusExpiredRefreshable)
	case tokenState != checkOK:
		return m.finish(ctx, rec, cred, domain.StatusAuthenticationRequired)
	}

	connected, err := m.connectivity(ctx, cred, rec)
	if err != nil {
		return nil, err
	}
	if !connected {
		return m.finish(ctx, rec, cred, domain.StatusConnectionIssues)
	}

	if rec.ConsecutiveFailures > 0 {
		return m.finish(ctx, rec, cred, domain.StatusHealthyWithWarnings)
	}
	return m.finish(ctx, rec, cred, domain.StatusHealthy)
}

// finish stamps the derived fields on rec and persists them.
func (m *Machine) finish(
	ctx context.Context,
	rec *domain.ConnectionHealthRecord,
	cred *domain.Credential,
	status domain.HealthStatus,
) (*domain.ConnectionHealthRecord, error) {
	now := m.clock.Now()
	rec.SetStatus(status)
	rec.TokenStatus = TokenStatusOf(cred, now, m.cfg.ExpiringSoon)
	if cred != nil {
		rec.TokenExpiresAt = cred.ExpiresAt
	}
	rec.LastCheckedAt = now
	rec.UpdatedAt = now

	if err := m.store.SaveHealthStatus(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to save health status: %w", err)
	}

	metrics.HealthChecks.WithLabelValues(string(rec.Provider), string(status)).Inc()
	level := slog.LevelInfo
	if !status.IsHealthy() {
		level = slog.LevelWarn
	}
	m.sink.Emit(ctx, events.ChannelHealth, level,
		slog.String("provider", string(rec.Provider)),
		slog.String("user", rec.UserID),
		slog.String("status", string(status)),
		slog.String("token_status", string(rec.TokenStatus)),
		slog.Int("consecutive_failures", rec.ConsecutiveFailures),
	)
	return rec, nil
}

func (m *Machine) loadRecord(ctx context.Context, userID string, p domain.Provider) (*domain.ConnectionHealthRecord, error) {
	rec, err := m.store.LoadHealth(ctx, userID, p)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.NewHealthRecord(userID, p), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load health record: %w", err)
	}
	return rec, nil
}

func (m *Machine) ttl(healthy bool) time.Duration {
	if healthy {
		return m.cfg.HealthyTTL
	}
	return m.cfg.DegradedTTL
}

// TokenStatusOf describes the access token of cred at now. A nil credential has none.
func TokenStatusOf(cred *domain.Credential, now time.Time, expiringSoon time.Duration) domain.TokenStatus {
	switch {
	case cred == nil:
		return domain.TokenNone
	case !cred.Expires():
		return domain.TokenValid
	case cred.ExpiredAt(now) && cred.HasRefreshToken():
		return domain.TokenExpiredRefreshable
	case cred.ExpiredAt(now):
		return domain.TokenExpiredManual
	case cred.ExpiresAt.Before(now.Add(expiringSoon)):
		return domain.TokenExpiringSoon
	default:
		return domain.TokenValid
	}
}
