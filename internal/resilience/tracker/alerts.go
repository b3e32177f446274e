package tracker

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/vietddude/cloudlink/internal/core/clock"
	"github.com/vietddude/cloudlink/internal/core/domain"
	"github.com/vietddude/cloudlink/internal/infra/kv"
	"github.com/vietddude/cloudlink/internal/resilience/retry"
)

// ActiveAlerts evaluates the alert rules for the current hour.
func (t *Tracker) ActiveAlerts(ctx context.Context, p domain.Provider, userID string) ([]domain.Alert, error) {
	now := t.clock.Now()
	hour := clock.HourBucket(now)
	var alerts []domain.Alert

	total, err := t.store.Counter(ctx, kv.ErrorTotalKey(p, userID, hour))
	if err != nil {
		return nil, fmt.Errorf("failed to read error total: %w", err)
	}
	if total > t.cfg.HighErrorRate {
		alerts = append(alerts, domain.Alert{
			ID:           uuid.NewString(),
			Type:         domain.AlertHighErrorRate,
			Severity:     domain.SeverityMedium,
			Provider:     p,
			UserID:       userID,
			Message:      fmt.Sprintf("%d errors in the current hour", total),
			CurrentValue: total,
			Threshold:    t.cfg.HighErrorRate,
			TriggeredAt:  now,
		})
	}

	var worstOp domain.Operation
	var worst int64
	for _, op := range domain.Operations {
		n, err := t.store.Counter(ctx, kv.ConsecutiveFailuresKey(p, userID, op))
		if err != nil {
			return nil, fmt.Errorf("failed to read consecutive failures: %w", err)
		}
		if n > worst {
			worst, worstOp = n, op
		}
	}
	if worst > t.cfg.ConsecutiveFailures {
		alerts = append(alerts, domain.Alert{
			ID:           uuid.NewString(),
			Type:         domain.AlertConsecutiveFailures,
			Severity:     domain.SeverityHigh,
			Provider:     p,
			UserID:       userID,
			Message:      fmt.Sprintf("%d consecutive %s failures", worst, worstOp),
			CurrentValue: worst,
			Threshold:    t.cfg.ConsecutiveFailures,
			Details:      map[string]any{"operation": string(worstOp)},
			TriggeredAt:  now,
		})
	}

	critical := make(map[string]any)
	var criticalTotal int64
	for _, et := range domain.ErrorTypes {
		if !retry.RequiresUserIntervention(et) {
			continue
		}
		n, err := t.store.Counter(ctx, kv.ErrorTypeKey(p, userID, et, hour))
		if err != nil {
			return nil, fmt.Errorf("failed to read error type counter: %w", err)
		}
		if n > 0 {
			critical[string(et)] = n
			criticalTotal += n
		}
	}
	if criticalTotal > 0 {
		alerts = append(alerts, domain.Alert{
			ID:           uuid.NewString(),
			Type:         domain.AlertCriticalErrors,
			Severity:     domain.SeverityCritical,
			Provider:     p,
			UserID:       userID,
			Message:      "errors requiring user intervention in the current hour",
			CurrentValue: criticalTotal,
			Threshold:    0,
			Details:      critical,
			TriggeredAt:  now,
		})
	}

	return alerts, nil
}
