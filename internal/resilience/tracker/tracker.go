// Package tracker accumulates classified errors into hourly counters and a
// recent-errors ring buffer, evaluates alert rules and dispatches alerts with
// per-type suppression.
package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/cloudlink/internal/core/clock"
	"github.com/vietddude/cloudlink/internal/core/domain"
	"github.com/vietddude/cloudlink/internal/infra/events"
	"github.com/vietddude/cloudlink/internal/infra/kv"
	"github.com/vietddude/cloudlink/internal/infra/notify"
	"github.com/vietddude/cloudlink/internal/metrics"
)

// Config holds alert thresholds and retention.
type Config struct {
	HighErrorRate       int64         `yaml:"high_error_rate"`
	ConsecutiveFailures int64         `yaml:"consecutive_failures"`
	SuppressFor         time.Duration `yaml:"suppress_for"`
	RecentCapacity      int           `yaml:"recent_capacity"`
	Retention           time.Duration `yaml:"retention"`
}

// DefaultConfig returns the built-in thresholds.
func DefaultConfig() Config {
	return Config{
		HighErrorRate:       10,
		ConsecutiveFailures: 5,
		SuppressFor:         time.Hour,
		RecentCapacity:      100,
		Retention:           25 * time.Hour,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.HighErrorRate <= 0 {
		c.HighErrorRate = def.HighErrorRate
	}
	if c.ConsecutiveFailures <= 0 {
		c.ConsecutiveFailures = def.ConsecutiveFailures
	}
	if c.SuppressFor <= 0 {
		c.SuppressFor = def.SuppressFor
	}
	if c.RecentCapacity <= 0 {
		c.RecentCapacity = def.RecentCapacity
	}
	if c.Retention <= 0 {
		c.Retention = def.Retention
	}
	return c
}

// Event is one classified failure.
type Event struct {
	Provider  domain.Provider
	UserID    string
	Operation domain.Operation
	ErrorType domain.ErrorType
	Message   string
	Err       error
}

// Tracker owns the error aggregates. Nothing else writes them.
type Tracker struct {
	store    kv.Store
	notifier notify.Dispatcher
	sink     events.Sink
	clock    clock.Clock
	cfg      Config
	logger   *slog.Logger
}

// New creates a Tracker.
func New(store kv.Store, notifier notify.Dispatcher, sink events.Sink, c clock.Clock, cfg Config, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	if notifier == nil {
		notifier = notify.NewLog(logger)
	}
	if sink == nil {
		sink = events.NewLogSink(logger)
	}
	if c == nil {
		c = clock.Real()
	}
	return &Tracker{
		store:    store,
		notifier: notifier,
		sink:     sink,
		clock:    c,
		cfg:      cfg.withDefaults(),
		logger:   logger,
	}
}

// RecordError counts ev, appends it to the recent buffer and dispatches any
// alert it triggers.
func (t *Tracker) RecordError(ctx context.Context, ev Event) error {
	if !ev.ErrorType.Valid() {
		ev.ErrorType = domain.ErrorUnknown
	}
	now := t.clock.Now()
	hour := clock.HourBucket(now)
	ttl := t.cfg.Retention

	keys := []string{
		kv.ErrorTotalKey(ev.Provider, ev.UserID, hour),
		kv.ErrorTypeKey(ev.Provider, ev.UserID, ev.ErrorType, hour),
		kv.ErrorOperationKey(ev.Provider, ev.UserID, ev.Operation, hour),
	}
	for _, k := range keys {
		if _, err := t.store.IncrWithExpiry(ctx, k, ttl); err != nil {
			return fmt.Errorf("failed to increment error counter: %w", err)
		}
	}
	// A streak lives until retention after its latest failure.
	if _, err := t.store.IncrExtend(ctx, kv.ConsecutiveFailuresKey(ev.Provider, ev.UserID, ev.Operation), ttl); err != nil {
		return fmt.Errorf("failed to increment consecutive failures: %w", err)
	}

	detail := domain.ErrorDetail{
		ID:         uuid.NewString(),
		ErrorType:  ev.ErrorType,
		Operation:  ev.Operation,
		Message:    ev.Message,
		OccurredAt: now,
	}
	if ev.Err != nil {
		detail.Exception = ev.Err.Error()
		if detail.Message == "" {
			detail.Message = detail.Exception
		}
	}
	raw, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("failed to encode error detail: %w", err)
	}
	if err := t.store.PushCapped(ctx, kv.RecentErrorsKey(ev.Provider, ev.UserID), string(raw), t.cfg.RecentCapacity, ttl); err != nil {
		return fmt.Errorf("failed to store error detail: %w", err)
	}

	metrics.ErrorsClassified.WithLabelValues(string(ev.Provider), string(ev.Operation), string(ev.ErrorType)).Inc()
	t.sink.Emit(ctx, events.ChannelErrors, slog.LevelWarn,
		slog.String("provider", string(ev.Provider)),
		slog.String("user", ev.UserID),
		slog.String("operation", string(ev.Operation)),
		slog.String("error_type", string(ev.ErrorType)),
		slog.String("detail_id", detail.ID),
	)

	alerts, err := t.ActiveAlerts(ctx, ev.Provider, ev.UserID)
	if err != nil {
		return err
	}
	for _, a := range alerts {
		if _, err := t.Dispatch(ctx, a); err != nil {
			t.logger.Error("Failed to dispatch alert", "provider", a.Provider, "user", a.UserID, "alert_type", a.Type, "error", err)
		}
	}
	return nil
}

// RecordSuccess resets the consecutive-failure counter for op.
func (t *Tracker) RecordSuccess(ctx context.Context, p domain.Provider, userID string, op domain.Operation) error {
	if err := t.store.Delete(ctx, kv.ConsecutiveFailuresKey(p, userID, op)); err != nil {
		return fmt.Errorf("failed to reset consecutive failures: %w", err)
	}
	return nil
}

// Reset clears the consecutive-failure counters of every operation.
func (t *Tracker) Reset(ctx context.Context, p domain.Provider, userID string) error {
	keys := make([]string, 0, len(domain.Operations))
	for _, op := range domain.Operations {
		keys = append(keys, kv.ConsecutiveFailuresKey(p, userID, op))
	}
	return t.store.Delete(ctx, keys...)
}

// Dispatch sends a unless an alert of the same type was sent to the same
// (provider, user) within the suppression window. It reports whether a was sent.
func (t *Tracker) Dispatch(ctx context.Context, a domain.Alert) (bool, error) {
	key := kv.AlertSuppressKey(a.Provider, a.UserID, a.Type)
	first, err := t.store.SetNX(ctx, key, a.ID, t.cfg.SuppressFor)
	if err != nil {
		return false, fmt.Errorf("failed to set alert suppression: %w", err)
	}
	if !first {
		metrics.AlertsSuppressed.WithLabelValues(string(a.Provider), string(a.Type)).Inc()
		t.sink.Emit(ctx, events.ChannelAlerts, slog.LevelDebug,
			slog.String("provider", string(a.Provider)),
			slog.String("user", a.UserID),
			slog.String("alert_type", string(a.Type)),
			slog.Bool("suppressed", true),
		)
		return false, nil
	}

	if err := t.notifier.Send(ctx, a.UserID, a.Type, a); err != nil {
		// Let the next trigger try again.
		if delErr := t.store.Delete(ctx, key); delErr != nil {
			t.logger.Error("Failed to clear alert suppression",
				"provider", a.Provider, "user", a.UserID, "alert_type", a.Type, "error", delErr)
		}
		return false, fmt.Errorf("failed to send alert: %w", err)
	}

	metrics.AlertsDispatched.WithLabelValues(string(a.Provider), string(a.Type)).Inc()
	t.sink.Emit(ctx, events.ChannelAlerts, slog.LevelWarn,
		slog.String("provider", string(a.Provider)),
		slog.String("user", a.UserID),
		slog.String("alert_type", string(a.Type)),
		slog.String("severity", string(a.Severity)),
		slog.Int64("current_value", a.CurrentValue),
		slog.Int64("threshold", a.Threshold),
		slog.Bool("suppressed", false),
	)
	return true, nil
}
