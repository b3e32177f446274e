package control

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vietddude/cloudlink/internal/core/clock"
	"github.com/vietddude/cloudlink/internal/core/domain"
	"github.com/vietddude/cloudlink/internal/infra/provider"
	"github.com/vietddude/cloudlink/internal/infra/storage"
	"github.com/vietddude/cloudlink/internal/resilience/classify"
	"github.com/vietddude/cloudlink/internal/resilience/health"
	"github.com/vietddude/cloudlink/internal/resilience/refresh"
	"github.com/vietddude/cloudlink/internal/resilience/retry"
	"github.com/vietddude/cloudlink/internal/resilience/tracker"
)

// ErrorContext says where a classified error came from.
type ErrorContext struct {
	Provider  domain.Provider
	UserID    string
	Operation domain.Operation
	Attempt   int // 1-based attempt that failed
}

// Engine is the surface exposed to controllers and schedulers. Every failure
// leaves it normalized into the error taxonomy.
type Engine struct {
	store      storage.Store
	providers  *provider.Registry
	classifier *classify.Classifier
	policies   *retry.Policies
	refresher  *refresh.Orchestrator
	health     *health.Machine
	tracker    *tracker.Tracker
	clock      clock.Clock
	log        *slog.Logger
}

// EngineDeps are the components an Engine fronts.
type EngineDeps struct {
	Store      storage.Store
	Providers  *provider.Registry
	Classifier *classify.Classifier
	Policies   *retry.Policies
	Refresh    *refresh.Orchestrator
	Health     *health.Machine
	Tracker    *tracker.Tracker
	Clock      clock.Clock
	Logger     *slog.Logger
}

// NewEngine creates an Engine.
func NewEngine(d EngineDeps) *Engine {
	e := &Engine{
		store:      d.Store,
		providers:  d.Providers,
		classifier: d.Classifier,
		policies:   d.Policies,
		refresher:  d.Refresh,
		health:     d.Health,
		tracker:    d.Tracker,
		clock:      d.Clock,
		log:        d.Logger,
	}
	if e.log == nil {
		e.log = slog.Default()
	}
	if e.clock == nil {
		e.clock = clock.Real()
	}
	if e.classifier == nil {
		e.classifier = classify.Default()
	}
	if e.policies == nil {
		e.policies = retry.DefaultPolicies()
	}
	return e
}

// GetHealthStatus returns the cached consolidated health of a connection.
func (e *Engine) GetHealthStatus(ctx context.Context, userID string, p domain.Provider) (*domain.ConnectionHealthRecord, error) {
	return e.health.Status(ctx, userID, p)
}

// EnsureValidToken reports whether the connection holds a usable access token,
// refreshing it when it is about to expire.
func (e *Engine) EnsureValidToken(ctx context.Context, userID string, p domain.Provider) bool {
	return e.refresher.EnsureValidToken(ctx, userID, p)
}

// TestApiConnectivity reports whether an authenticated provider call succeeds.
func (e *Engine) TestApiConnectivity(ctx context.Context, userID string, p domain.Provider) bool {
	ok, err := e.health.TestConnectivity(ctx, userID, p)
	if err != nil {
		e.log.Error("Connectivity test failed", "provider", p, "user", userID, "error", err)
		return false
	}
	return ok
}

// ClassifyAndHandle classifies err, records it when it belongs to a user's
// connection and returns how the caller should react.
func (e *Engine) ClassifyAndHandle(ctx context.Context, err error, ec ErrorContext) retry.Handling {
	t := e.classifier.Classify(ec.Provider, err)
	attempt := max(ec.Attempt, 1)

	if ec.UserID != "" && ec.Provider != "" {
		op := ec.Operation
		if op == "" {
			op = domain.OpHealthCheck
		}
		recErr := e.tracker.RecordError(ctx, tracker.Event{
			Provider:  ec.Provider,
			UserID:    ec.UserID,
			Operation: op,
			ErrorType: t,
			Err:       err,
		})
		if recErr != nil {
			e.log.Warn("Failed to record error", "provider", ec.Provider, "user", ec.UserID, "error", recErr)
		}
	}
	return e.policies.For(ec.Provider).Handle(t, attempt)
}

// GetErrorStatistics aggregates the error counters of the last hours.
func (e *Engine) GetErrorStatistics(ctx context.Context, p domain.Provider, userID string, hours int) (*tracker.Statistics, error) {
	return e.tracker.Statistics(ctx, p, userID, hours)
}

// GetActiveAlerts evaluates the alert rules for a connection.
func (e *Engine) GetActiveAlerts(ctx context.Context, p domain.Provider, userID string) ([]domain.Alert, error) {
	return e.tracker.ActiveAlerts(ctx, p, userID)
}

// RefreshToken forces a refresh attempt and returns its detailed outcome.
func (e *Engine) RefreshToken(ctx context.Context, userID string, p domain.Provider) refresh.Result {
	res := e.refresher.Refresh(ctx, userID, p)
	if !res.Deferred() {
		if err := e.health.Invalidate(ctx, userID, p); err != nil {
			e.log.Warn("Failed to invalidate health cache", "provider", p, "user", userID, "error", err)
		}
	}
	return res
}

// Connect stores a new credential and starts the connection from a clean record.
func (e *Engine) Connect(ctx context.Context, cred *domain.Credential) error {
	if cred.UserID == "" || cred.Provider == "" {
		return fmt.Errorf("connect: user and provider are required")
	}
	if _, err := e.providers.Get(cred.Provider); err != nil {
		return err
	}
	cred.UpdatedAt = e.clock.Now()
	if err := e.store.SaveCredential(ctx, cred); err != nil {
		return fmt.Errorf("failed to save credential: %w", err)
	}
	return e.ResetConnection(ctx, cred.UserID, cred.Provider)
}

// ResetConnection clears failure counters, the reconnection flag, error
// aggregates and caches of a connection.
func (e *Engine) ResetConnection(ctx context.Context, userID string, p domain.Provider) error {
	if err := e.tracker.Reset(ctx, p, userID); err != nil {
		return fmt.Errorf("failed to reset error counters: %w", err)
	}
	if err := e.health.Reset(ctx, userID, p); err != nil {
		return err
	}
	e.log.Info("Connection reset", "provider", p, "user", userID)
	return nil
}

// Providers lists the configured providers.
func (e *Engine) Providers() []domain.Provider {
	return e.providers.Providers()
}
