// Package refresh orchestrates OAuth token refreshes: rate limiting, backoff
// from persisted failure counts, a distributed lock per (user, provider),
// transport retries and a single persisted outcome per invocation.
package refresh

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/vietddude/cloudlink/internal/core/clock"
	"github.com/vietddude/cloudlink/internal/core/domain"
	"github.com/vietddude/cloudlink/internal/infra/events"
	"github.com/vietddude/cloudlink/internal/infra/kv"
	"github.com/vietddude/cloudlink/internal/infra/provider"
	"github.com/vietddude/cloudlink/internal/infra/storage"
	"github.com/vietddude/cloudlink/internal/metrics"
	"github.com/vietddude/cloudlink/internal/resilience/classify"
	"github.com/vietddude/cloudlink/internal/resilience/ratelimit"
	"github.com/vietddude/cloudlink/internal/resilience/retry"
	"github.com/vietddude/cloudlink/internal/resilience/tracker"
)

// ErrorRecorder receives refresh failures and successes.
type ErrorRecorder interface {
	RecordError(ctx context.Context, ev tracker.Event) error
	RecordSuccess(ctx context.Context, p domain.Provider, userID string, op domain.Operation) error
}

// Config tunes the orchestrator.
type Config struct {
	MaxNetworkAttempts     int           `yaml:"max_network_attempts"`
	CallTimeout            time.Duration `yaml:"call_timeout"`
	LockTTL                time.Duration `yaml:"lock_ttl"`
	MaxConsecutiveFailures int           `yaml:"max_consecutive_failures"`
	ExpiryBuffer           time.Duration `yaml:"expiry_buffer"`
}

// DefaultConfig returns the built-in settings.
func DefaultConfig() Config {
	return Config{
		MaxNetworkAttempts:     3,
		CallTimeout:            30 * time.Second,
		LockTTL:                60 * time.Second,
		MaxConsecutiveFailures: 10,
		ExpiryBuffer:           5 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MaxNetworkAttempts <= 0 {
		c.MaxNetworkAttempts = def.MaxNetworkAttempts
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = def.CallTimeout
	}
	if c.LockTTL <= 0 {
		c.LockTTL = def.LockTTL
	}
	if c.MaxConsecutiveFailures <= 0 {
		c.MaxConsecutiveFailures = def.MaxConsecutiveFailures
	}
	if c.ExpiryBuffer <= 0 {
		c.ExpiryBuffer = def.ExpiryBuffer
	}
	return c
}

// Deps are the collaborators of an Orchestrator. Tracker, Events, Clock,
// Sleep and Logger are optional.
type Deps struct {
	Store     storage.Store
	KV        kv.Store
	Limiter   *ratelimit.Limiter
	Providers *provider.Registry
	Policies  *retry.Policies
	Tracker   ErrorRecorder
	Events    events.Sink
	Clock     clock.Clock
	Sleep     clock.SleepFunc
	Logger    *slog.Logger
}

// Orchestrator performs token refreshes. It is safe for concurrent use.
type Orchestrator struct {
	store     storage.Store
	kv        kv.Store
	limiter   *ratelimit.Limiter
	providers *provider.Registry
	policies  *retry.Policies
	tracker   ErrorRecorder
	sink      events.Sink
	clock     clock.Clock
	sleep     clock.SleepFunc
	logger    *slog.Logger
	cfg       Config
	group     singleflight.Group
}

// New creates an Orchestrator.
func New(d Deps, cfg Config) *Orchestrator {
	o := &Orchestrator{
		store:     d.Store,
		kv:        d.KV,
		limiter:   d.Limiter,
		providers: d.Providers,
		policies:  d.Policies,
		tracker:   d.Tracker,
		sink:      d.Events,
		clock:     d.Clock,
		sleep:     d.Sleep,
		logger:    d.Logger,
		cfg:       cfg.withDefaults(),
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.clock == nil {
		o.clock = clock.Real()
	}
	if o.sleep == nil {
		o.sleep = clock.Sleeper(o.clock)
	}
	if o.sink == nil {
		o.sink = events.NewLogSink(o.logger)
	}
	if o.policies == nil {
		o.policies = retry.DefaultPolicies()
	}
	if o.limiter == nil {
		o.limiter = ratelimit.New(o.kv, nil, o.clock, o.logger)
	}
	return o
}

// Config returns the effective configuration.
func (o *Orchestrator) Config() Config {
	return o.cfg
}

// Refresh refreshes the access token of (userID, p). Concurrent calls for the
// same pair in this process share one invocation.
func (o *Orchestrator) Refresh(ctx context.Context, userID string, p domain.Provider) Result {
	v, _, _ := o.group.Do(string(p)+"/"+userID, func() (interface{}, error) {
		return o.refresh(ctx, userID, p), nil
	})
	return v.(Result)
}

// EnsureValid makes sure (userID, p) holds a usable access token, refreshing
// when it expires within the expiry buffer. The Result is nil when no refresh
// was needed. A token that has not expired yet stays usable even when its
// refresh fails.
func (o *Orchestrator) EnsureValid(ctx context.Context, userID string, p domain.Provider) (bool, *Result) {
	cred, err := o.store.LoadCredential(ctx, userID, p)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			o.logger.Error("Failed to load credential", "provider", p, "user", userID, "error", err)
		}
		return false, nil
	}

	now := o.clock.Now()
	if o.fresh(cred, now) {
		return true, nil
	}

	res := o.Refresh(ctx, userID, p)
	if res.Success {
		return true, &res
	}
	return !cred.ExpiredAt(now), &res
}

// EnsureValidToken reports whether (userID, p) holds a usable access token.
func (o *Orchestrator) EnsureValidToken(ctx context.Context, userID string, p domain.Provider) bool {
	ok, _ := o.EnsureValid(ctx, userID, p)
	return ok
}

// fresh reports whether cred needs no refresh at now.
func (o *Orchestrator) fresh(cred *domain.Credential, now time.Time) bool {
	return !cred.Expires() || cred.ExpiresAt.After(now.Add(o.cfg.ExpiryBuffer))
}

func (o *Orchestrator) refresh(ctx context.Context, userID string, p domain.Provider) Result {
	log := o.logger.With("provider", p, "user", userID)

	allowed, err := o.limiter.Check(ctx, domain.OpTokenRefresh, p, userID)
	if err != nil {
		return o.internalFailure(ctx, log, p, userID, err)
	}
	if !allowed {
		return o.rateLimited(ctx, p, userID)
	}

	rec, err := o.loadRecord(ctx, userID, p)
	if err != nil {
		return o.internalFailure(ctx, log, p, userID, err)
	}
	if res, stop := o.gate(ctx, p, userID, rec); stop {
		return res
	}

	lockKey := kv.RefreshLockKey(p, userID)
	token := uuid.NewString()
	acquired, err := o.kv.SetNX(ctx, lockKey, token, o.lockTTL(p))
	if err != nil {
		return o.internalFailure(ctx, log, p, userID, err)
	}
	if !acquired {
		return o.deferred(ctx, p, userID, ConditionInProgress, nil)
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if _, err := o.kv.CompareAndDelete(releaseCtx, lockKey, token); err != nil {
			log.Warn("Failed to release refresh lock", "error", err)
		}
	}()

	cred, err := o.store.LoadCredential(ctx, userID, p)
	if errors.Is(err, domain.ErrNotFound) {
		return o.notConnected(p)
	}
	if err != nil {
		return o.internalFailure(ctx, log, p, userID, err)
	}
	if o.fresh(cred, o.clock.Now()) {
		metrics.RefreshAttempts.WithLabelValues(string(p), string(ConditionAlreadyValid)).Inc()
		return Result{
			Success:     true,
			Condition:   ConditionAlreadyValid,
			Recoverable: true,
			ExpiresAt:   cred.ExpiresAt,
		}
	}

	// Another instance may have failed while this one waited for the lock.
	if rec, err = o.loadRecord(ctx, userID, p); err != nil {
		return o.internalFailure(ctx, log, p, userID, err)
	}
	if res, stop := o.gate(ctx, p, userID, rec); stop {
		return res
	}

	if !cred.HasRefreshToken() {
		return o.fail(ctx, log, cred, rec, domain.ErrMissingRefreshToken, 0)
	}
	client, err := o.providers.Get(p)
	if err != nil {
		return o.fail(ctx, log, cred, rec, err, 0)
	}

	allowed, err = o.limiter.Allow(ctx, domain.OpTokenRefresh, p, userID)
	if err != nil {
		return o.internalFailure(ctx, log, p, userID, err)
	}
	if !allowed {
		return o.rateLimited(ctx, p, userID)
	}

	tok, attempts, err := o.call(ctx, log, client, cred)
	if err != nil {
		return o.fail(ctx, log, cred, rec, err, attempts)
	}
	return o.succeed(ctx, log, cred, rec, tok, attempts)
}

// gate applies the failure cut-off and the backoff spacing to rec.
func (o *Orchestrator) gate(ctx context.Context, p domain.Provider, userID string, rec *domain.ConnectionHealthRecord) (Result, bool) {
	if rec.ConsecutiveFailures >= o.cfg.MaxConsecutiveFailures {
		return o.gaveUp(ctx, p, userID, rec), true
	}
	if rec.LastRefreshAttemptAt.IsZero() {
		return Result{}, false
	}
	delay := BackoffDelay(rec.ConsecutiveFailures)
	elapsed := o.clock.Now().Sub(rec.LastRefreshAttemptAt)
	if elapsed >= delay {
		return Result{}, false
	}
	return o.deferred(ctx, p, userID, ConditionBackoff, map[string]any{
		"backoff_seconds":      int(delay / time.Second),
		"retry_after_seconds":  int((delay - elapsed + time.Second - 1) / time.Second),
		"consecutive_failures": rec.ConsecutiveFailures,
	}), true
}

func (o *Orchestrator) rateLimited(ctx context.Context, p domain.Provider, userID string) Result {
	extra := map[string]any{}
	if reset, err := o.limiter.ResetTime(ctx, domain.OpTokenRefresh, p, userID); err == nil {
		extra["reset_at"] = reset.UTC().Format(time.RFC3339)
	}
	return o.deferred(ctx, p, userID, ConditionRateLimited, extra)
}

// call invokes the provider, retrying transport failures with the policy delay.
func (o *Orchestrator) call(
	ctx context.Context,
	log *slog.Logger,
	client provider.Client,
	cred *domain.Credential,
) (*domain.Token, int, error) {
	policy := o.policies.For(client.Name())
	var lastErr error

	for attempt := 1; attempt <= o.cfg.MaxNetworkAttempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
		tok, err := client.RefreshToken(callCtx, cred)
		cancel()
		if err == nil {
			return tok, attempt, nil
		}
		lastErr = err

		outcome := classify.Refresh(err)
		if !outcome.Transport() || attempt == o.cfg.MaxNetworkAttempts {
			return nil, attempt, err
		}

		delay := policy.RetryDelay(outcome.ErrorType, attempt)
		log.Warn("Token refresh transport failure, retrying",
			"attempt", attempt,
			"error_type", outcome.ErrorType,
			"delay", delay,
			"error", err,
		)
		if err := o.sleep(ctx, delay); err != nil {
			return nil, attempt, lastErr
		}
	}
	return nil, o.cfg.MaxNetworkAttempts, lastErr
}

func (o *Orchestrator) succeed(
	ctx context.Context,
	log *slog.Logger,
	cred *domain.Credential,
	rec *domain.ConnectionHealthRecord,
	tok *domain.Token,
	attempts int,
) Result {
	now := o.clock.Now()

	cred.AccessToken = tok.AccessToken
	if tok.RefreshToken != "" {
		cred.RefreshToken = tok.RefreshToken
	}
	if tok.TokenType != "" {
		cred.TokenType = tok.TokenType
	}
	cred.ExpiresAt = tok.ExpiresAt
	cred.UpdatedAt = now

	rec.ConsecutiveFailures = 0
	rec.ClearError()
	rec.LastRefreshAttemptAt = now
	rec.LastRefreshSuccessAt = now
	rec.TokenExpiresAt = tok.ExpiresAt
	rec.RequiresReconnection = false
	rec.UpdatedAt = now

	persistCtx := context.WithoutCancel(ctx)
	if err := o.store.SaveRefreshOutcome(persistCtx, cred, rec); err != nil {
		log.Error("Failed to persist refreshed token", "error", err)
		return o.internalFailure(ctx, log, cred.Provider, cred.UserID, err)
	}
	if o.tracker != nil {
		if err := o.tracker.RecordSuccess(persistCtx, cred.Provider, cred.UserID, domain.OpTokenRefresh); err != nil {
			log.Warn("Failed to record refresh success", "error", err)
		}
	}

	metrics.RefreshAttempts.WithLabelValues(string(cred.Provider), string(ConditionRefreshed)).Inc()
	o.sink.Emit(ctx, events.ChannelTokenRefresh, slog.LevelInfo,
		slog.String("provider", string(cred.Provider)),
		slog.String("user", cred.UserID),
		slog.String("condition", string(ConditionRefreshed)),
		slog.Int("attempts_made", attempts),
		slog.Time("expires_at", tok.ExpiresAt),
	)

	return Result{
		Success:      true,
		Condition:    ConditionRefreshed,
		Recoverable:  true,
		AttemptsMade: attempts,
		ExpiresAt:    tok.ExpiresAt,
	}
}

func (o *Orchestrator) fail(
	ctx context.Context,
	log *slog.Logger,
	cred *domain.Credential,
	rec *domain.ConnectionHealthRecord,
	cause error,
	attempts int,
) Result {
	now := o.clock.Now()
	outcome := classify.Refresh(cause)
	needsUser := classify.RefreshNeedsUser(outcome.RefreshType) ||
		(outcome.RefreshType == domain.RefreshUnknown && retry.RequiresUserIntervention(outcome.ErrorType))
	msg, actions := retry.Guidance(outcome.ErrorType)

	errCtx := map[string]any{
		"requires_user_intervention": needsUser,
		"is_recoverable":             !needsUser,
		"timestamp":                  now.UTC().Format(time.RFC3339),
		"attempts_made":              attempts,
		"refresh_error_type":         string(outcome.RefreshType),
	}
	if outcome.Code != "" {
		errCtx["error_code"] = outcome.Code
	}

	rec.ConsecutiveFailures++
	rec.LastErrorType = outcome.ErrorType
	rec.LastErrorMessage = cause.Error()
	rec.LastErrorContext = errCtx
	rec.LastRefreshAttemptAt = now
	rec.TokenExpiresAt = cred.ExpiresAt
	rec.RequiresReconnection = needsUser
	rec.UpdatedAt = now

	persistCtx := context.WithoutCancel(ctx)
	if err := o.store.SaveRefreshOutcome(persistCtx, nil, rec); err != nil {
		log.Error("Failed to persist refresh failure", "error", err)
	}
	if o.tracker != nil {
		err := o.tracker.RecordError(persistCtx, tracker.Event{
			Provider:  cred.Provider,
			UserID:    cred.UserID,
			Operation: domain.OpTokenRefresh,
			ErrorType: outcome.ErrorType,
			Err:       cause,
		})
		if err != nil {
			log.Warn("Failed to record refresh error", "error", err)
		}
	}

	metrics.RefreshAttempts.WithLabelValues(string(cred.Provider), string(ConditionFailed)).Inc()
	o.sink.Emit(ctx, events.ChannelTokenRefresh, slog.LevelWarn,
		slog.String("provider", string(cred.Provider)),
		slog.String("user", cred.UserID),
		slog.String("condition", string(ConditionFailed)),
		slog.String("error_type", string(outcome.ErrorType)),
		slog.String("refresh_error_type", string(outcome.RefreshType)),
		slog.Int("attempts_made", attempts),
		slog.Int("consecutive_failures", rec.ConsecutiveFailures),
		slog.Bool("requires_user_intervention", needsUser),
	)

	return Result{
		Condition:                ConditionFailed,
		ErrorType:                outcome.ErrorType,
		RefreshErrorType:         outcome.RefreshType,
		Message:                  msg,
		RecommendedActions:       actions,
		RequiresUserIntervention: needsUser,
		Recoverable:              !needsUser,
		AttemptsMade:             attempts,
		ExpiresAt:                cred.ExpiresAt,
		Context:                  errCtx,
	}
}

// deferred builds a short-circuit result. Nothing is persisted.
func (o *Orchestrator) deferred(ctx context.Context, p domain.Provider, userID string, cond Condition, extra map[string]any) Result {
	msg, actions := retry.Guidance(domain.ErrorServiceUnavailable)
	errCtx := o.baseContext(false)
	for k, v := range extra {
		errCtx[k] = v
	}

	metrics.RefreshAttempts.WithLabelValues(string(p), string(cond)).Inc()
	o.sink.Emit(ctx, events.ChannelTokenRefresh, slog.LevelDebug,
		slog.String("provider", string(p)),
		slog.String("user", userID),
		slog.String("condition", string(cond)),
	)

	return Result{
		Condition:          cond,
		ErrorType:          domain.ErrorServiceUnavailable,
		RefreshErrorType:   domain.RefreshServiceUnavailable,
		Message:            msg,
		RecommendedActions: actions,
		Recoverable:        true,
		Context:            errCtx,
	}
}

func (o *Orchestrator) gaveUp(ctx context.Context, p domain.Provider, userID string, rec *domain.ConnectionHealthRecord) Result {
	errType := rec.LastErrorType
	if errType == "" {
		errType = domain.ErrorUnknown
	}
	errCtx := o.baseContext(true)
	errCtx["consecutive_failures"] = rec.ConsecutiveFailures
	errCtx["max_consecutive_failures"] = o.cfg.MaxConsecutiveFailures

	metrics.RefreshAttempts.WithLabelValues(string(p), string(ConditionMaxAttemptsExceeded)).Inc()
	o.sink.Emit(ctx, events.ChannelTokenRefresh, slog.LevelWarn,
		slog.String("provider", string(p)),
		slog.String("user", userID),
		slog.String("condition", string(ConditionMaxAttemptsExceeded)),
		slog.Int("consecutive_failures", rec.ConsecutiveFailures),
	)

	return Result{
		Condition:                ConditionMaxAttemptsExceeded,
		ErrorType:                errType,
		Message:                  "Automatic reconnection stopped after repeated failures.",
		RecommendedActions:       []string{"Reconnect your account", "Contact support if the problem continues"},
		RequiresUserIntervention: true,
		Context:                  errCtx,
	}
}

func (o *Orchestrator) notConnected(p domain.Provider) Result {
	metrics.RefreshAttempts.WithLabelValues(string(p), string(ConditionNotConnected)).Inc()
	return Result{
		Condition:                ConditionNotConnected,
		ErrorType:                domain.ErrorInvalidCredentials,
		Message:                  "This storage provider isn't connected.",
		RecommendedActions:       []string{"Connect your account"},
		RequiresUserIntervention: true,
		Context:                  o.baseContext(true),
	}
}

// internalFailure reports a failure of the engine's own stores. Nothing is persisted.
func (o *Orchestrator) internalFailure(ctx context.Context, log *slog.Logger, p domain.Provider, userID string, err error) Result {
	log.Error("Token refresh aborted", "error", err)
	msg, actions := retry.Guidance(domain.ErrorUnknown)
	metrics.RefreshAttempts.WithLabelValues(string(p), "error").Inc()
	return Result{
		Condition:          ConditionFailed,
		ErrorType:          domain.ErrorUnknown,
		RefreshErrorType:   domain.RefreshUnknown,
		Message:            msg,
		RecommendedActions: actions,
		Recoverable:        true,
		Context:            o.baseContext(false),
	}
}

func (o *Orchestrator) baseContext(needsUser bool) map[string]any {
	return map[string]any{
		"requires_user_intervention": needsUser,
		"is_recoverable":             !needsUser,
		"timestamp":                  o.clock.Now().UTC().Format(time.RFC3339),
	}
}

func (o *Orchestrator) loadRecord(ctx context.Context, userID string, p domain.Provider) (*domain.ConnectionHealthRecord, error) {
	rec, err := o.store.LoadHealth(ctx, userID, p)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.NewHealthRecord(userID, p), nil
	}
	return rec, err
}

// lockTTL covers the worst-case duration of one invocation.
func (o *Orchestrator) lockTTL(p domain.Provider) time.Duration {
	policy := o.policies.For(p)
	budget := time.Duration(o.cfg.MaxNetworkAttempts) * o.cfg.CallTimeout
	for a := 1; a < o.cfg.MaxNetworkAttempts; a++ {
		budget += max(policy.RetryDelay(domain.ErrorNetwork, a), policy.RetryDelay(domain.ErrorTimeout, a))
	}
	return max(o.cfg.LockTTL, budget)
}
