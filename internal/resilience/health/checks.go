package health

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/vietddude/cloudlink/internal/core/domain"
	"github.com/vietddude/cloudlink/internal/infra/events"
	"github.com/vietddude/cloudlink/internal/infra/kv"
	"github.com/vietddude/cloudlink/internal/resilience/tracker"
)

// Cached check outcomes.
const (
	checkOK       = "ok"
	checkFailed   = "failed"
	checkDeferred = "deferred"
)

// tokenCheck reports whether (userID, p) holds a usable token. ran is false
// when the answer came from cache.
func (m *Machine) tokenCheck(ctx context.Context, userID string, p domain.Provider) (result string, ran bool, err error) {
	key := kv.TokenCheckKey(p, userID)
	if v, err := m.kv.Get(ctx, key); err == nil {
		return v, false, nil
	} else if !errors.Is(err, kv.ErrMissing) {
		return "", false, fmt.Errorf("failed to read token check: %w", err)
	}

	ok, res := m.tokens.EnsureValid(ctx, userID, p)
	switch {
	case ok:
		result = checkOK
	case res != nil && res.Deferred():
		result = checkDeferred
	default:
		result = checkFailed
	}

	if err := m.kv.Set(ctx, key, result, m.ttl(result == checkOK)); err != nil {
		m.logger.Warn("Failed to cache token check", "provider", p, "user", userID, "error", err)
	}
	return result, true, nil
}

// TestConnectivity reports whether an authenticated call to the provider
// succeeds for (userID, p). Results are cached.
func (m *Machine) TestConnectivity(ctx context.Context, userID string, p domain.Provider) (bool, error) {
	cred, err := m.store.LoadCredential(ctx, userID, p)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to load credential: %w", err)
	}
	rec, err := m.loadRecord(ctx, userID, p)
	if err != nil {
		return false, err
	}
	return m.connectivity(ctx, cred, rec)
}

// connectivity runs the cached, rate limited connectivity check. When the
// hourly check budget is spent the last persisted status stands in for it.
func (m *Machine) connectivity(ctx context.Context, cred *domain.Credential, rec *domain.ConnectionHealthRecord) (bool, error) {
	p, userID := cred.Provider, cred.UserID
	key := kv.ConnectivityCheckKey(p, userID)
	if v, err := m.kv.Get(ctx, key); err == nil {
		return v == checkOK, nil
	} else if !errors.Is(err, kv.ErrMissing) {
		return false, fmt.Errorf("failed to read connectivity check: %w", err)
	}

	allowed, err := m.limiter.Allow(ctx, domain.OpConnectivityCheck, p, userID)
	if err != nil {
		return false, fmt.Errorf("failed to check connectivity rate limit: %w", err)
	}
	if !allowed {
		m.logger.Debug("Connectivity check rate limited", "provider", p, "user", userID)
		return rec.Status != domain.StatusConnectionIssues, nil
	}

	pingErr := m.ping(ctx, cred)
	ok := pingErr == nil
	result := checkFailed
	if ok {
		result = checkOK
	}
	if err := m.kv.Set(ctx, key, result, m.ttl(ok)); err != nil {
		m.logger.Warn("Failed to cache connectivity check", "provider", p, "user", userID, "error", err)
	}

	if ok {
		if m.tracker != nil {
			if err := m.tracker.RecordSuccess(ctx, p, userID, domain.OpConnectivityCheck); err != nil {
				m.logger.Warn("Failed to record connectivity success", "provider", p, "user", userID, "error", err)
			}
		}
		return true, nil
	}

	errType := m.classifier.Classify(p, pingErr)
	m.sink.Emit(ctx, events.ChannelHealth, slog.LevelWarn,
		slog.String("provider", string(p)),
		slog.String("user", userID),
		slog.String("operation", string(domain.OpConnectivityCheck)),
		slog.String("error_type", string(errType)),
	)
	if m.tracker != nil {
		err := m.tracker.RecordError(ctx, tracker.Event{
			Provider:  p,
			UserID:    userID,
			Operation: domain.OpConnectivityCheck,
			ErrorType: errType,
			Err:       pingErr,
		})
		if err != nil {
			m.logger.Warn("Failed to record connectivity error", "provider", p, "user", userID, "error", err)
		}
	}
	return false, nil
}

func (m *Machine) ping(ctx context.Context, cred *domain.Credential) error {
	client, err := m.providers.Get(cred.Provider)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, m.cfg.CheckTimeout)
	defer cancel()
	return client.TestConnectivity(ctx, cred)
}
