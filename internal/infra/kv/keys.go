package kv

import (
	"strings"

	"github.com/vietddude/cloudlink/internal/core/domain"
)

// Prefix namespaces every key the engine writes.
const Prefix = "cloudlink"

// Key joins parts into a namespaced key. All key helpers below go through it.
func Key(parts ...string) string {
	return Prefix + ":" + strings.Join(parts, ":")
}

// Rate limiting

func RateLimitKey(op domain.Operation, p domain.Provider, userID string) string {
	return Key("ratelimit", string(op), string(p), userID)
}

// Refresh coordination

func RefreshLockKey(p domain.Provider, userID string) string {
	return Key("lock", "refresh", string(p), userID)
}

// Health caches

func TokenCheckKey(p domain.Provider, userID string) string {
	return Key("health", "token", string(p), userID)
}

func ConnectivityCheckKey(p domain.Provider, userID string) string {
	return Key("health", "connectivity", string(p), userID)
}

func StatusKey(p domain.Provider, userID string) string {
	return Key("health", "status", string(p), userID)
}

// Error aggregates

func ErrorTotalKey(p domain.Provider, userID, hour string) string {
	return Key("errors", "total", string(p), userID, hour)
}

func ErrorTypeKey(p domain.Provider, userID string, t domain.ErrorType, hour string) string {
	return Key("errors", "type", string(p), userID, string(t), hour)
}

func ErrorOperationKey(p domain.Provider, userID string, op domain.Operation, hour string) string {
	return Key("errors", "op", string(p), userID, string(op), hour)
}

func ConsecutiveFailuresKey(p domain.Provider, userID string, op domain.Operation) string {
	return Key("errors", "consecutive", string(p), userID, string(op))
}

func RecentErrorsKey(p domain.Provider, userID string) string {
	return Key("errors", "recent", string(p), userID)
}

// Alerting

func AlertSuppressKey(p domain.Provider, userID string, t domain.AlertType) string {
	return Key("alerts", "sent", string(p), userID, string(t))
}
