package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vietddude/cloudlink/internal/core/clock"
	"github.com/vietddude/cloudlink/internal/core/domain"
	"github.com/vietddude/cloudlink/internal/infra/kv"
)

// HourlyCount is the error total of one hour bucket.
type HourlyCount struct {
	Hour  string `json:"hour"`
	Count int64  `json:"count"`
}

// Statistics aggregates the error counters of one (provider, user).
type Statistics struct {
	Provider            domain.Provider            `json:"provider"`
	UserID              string                     `json:"user_id"`
	Hours               int                        `json:"hours"`
	TotalErrors         int64                      `json:"total_errors"`
	ByType              map[domain.ErrorType]int64 `json:"by_type"`
	ByOperation         map[domain.Operation]int64 `json:"by_operation"`
	Hourly              []HourlyCount              `json:"hourly"`
	ConsecutiveFailures map[domain.Operation]int64 `json:"consecutive_failures"`
	Recent              []domain.ErrorDetail       `json:"recent_errors"`
}

// MaxHours is the longest window Statistics can cover, bounded by counter retention.
const MaxHours = 24

// Statistics sums the last hours buckets, newest first.
func (t *Tracker) Statistics(ctx context.Context, p domain.Provider, userID string, hours int) (*Statistics, error) {
	if hours < 1 {
		hours = 1
	}
	if hours > MaxHours {
		hours = MaxHours
	}

	stats := &Statistics{
		Provider:            p,
		UserID:              userID,
		Hours:               hours,
		ByType:              make(map[domain.ErrorType]int64),
		ByOperation:         make(map[domain.Operation]int64),
		ConsecutiveFailures: make(map[domain.Operation]int64),
	}

	now := t.clock.Now()
	for h := 0; h < hours; h++ {
		hour := clock.HourBucket(now.Add(-time.Duration(h) * time.Hour))

		total, err := t.store.Counter(ctx, kv.ErrorTotalKey(p, userID, hour))
		if err != nil {
			return nil, fmt.Errorf("failed to read error total: %w", err)
		}
		stats.TotalErrors += total
		stats.Hourly = append(stats.Hourly, HourlyCount{Hour: hour, Count: total})
		if total == 0 {
			continue
		}

		for _, et := range domain.ErrorTypes {
			n, err := t.store.Counter(ctx, kv.ErrorTypeKey(p, userID, et, hour))
			if err != nil {
				return nil, fmt.Errorf("failed to read error type counter: %w", err)
			}
			if n > 0 {
				stats.ByType[et] += n
			}
		}
		for _, op := range domain.Operations {
			n, err := t.store.Counter(ctx, kv.ErrorOperationKey(p, userID, op, hour))
			if err != nil {
				return nil, fmt.Errorf("failed to read operation counter: %w", err)
			}
			if n > 0 {
				stats.ByOperation[op] += n
			}
		}
	}

	for _, op := range domain.Operations {
		n, err := t.store.Counter(ctx, kv.ConsecutiveFailuresKey(p, userID, op))
		if err != nil {
			return nil, fmt.Errorf("failed to read consecutive failures: %w", err)
		}
		if n > 0 {
			stats.ConsecutiveFailures[op] = n
		}
	}

	recent, err := t.Recent(ctx, p, userID, 0)
	if err != nil {
		return nil, err
	}
	stats.Recent = recent
	return stats, nil
}

// Recent returns up to limit recent error details, newest first. limit <= 0 returns all.
func (t *Tracker) Recent(ctx context.Context, p domain.Provider, userID string, limit int) ([]domain.ErrorDetail, error) {
	raw, err := t.store.Recent(ctx, kv.RecentErrorsKey(p, userID), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read recent errors: %w", err)
	}
	out := make([]domain.ErrorDetail, 0, len(raw))
	for _, r := range raw {
		var d domain.ErrorDetail
		if err := json.Unmarshal([]byte(r), &d); err != nil {
			t.logger.Warn("Skipping malformed error detail", "provider", p, "user", userID, "error", err)
			continue
		}
		out = append(out, d)
	}
	return out, nil
}
