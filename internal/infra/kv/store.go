// Package kv defines the key-value store the resilience engine keeps its
// counters, caches, locks and ring buffers in.
//
// This package contains:
//   - Store: the interface implemented by the redis and in-memory backends
//   - key helpers: the single place cache keys are built
//   - MemoryStore: a process-local Store for tests and single-node setups
package kv

import (
	"context"
	"errors"
	"time"
)

// ErrMissing is returned by Get when the key doesn't exist or has expired.
var ErrMissing = errors.New("kv: key not found")

// Store is the backing store for rate-limit counters, health caches and error aggregates.
// Every counter mutation is a single atomic call; callers never read-modify-write.
type Store interface {
	// Get returns the string value stored at key.
	Get(ctx context.Context, key string) (string, error)

	// Set stores value with a ttl (0 = no expiry).
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// SetNX stores value only if key is absent. Reports whether it was stored.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// Delete removes keys. Missing keys are ignored.
	Delete(ctx context.Context, keys ...string) error

	// CompareAndDelete removes key only if it still holds value.
	CompareAndDelete(ctx context.Context, key, value string) (bool, error)

	// IncrWithExpiry increments the counter at key and, when this call created it,
	// sets its expiry to ttl. The counter and its expiry are set together.
	IncrWithExpiry(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// IncrExtend increments the counter at key and pushes its expiry out to ttl
	// on every call, so a run of increments lives until ttl after the last one.
	IncrExtend(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// Counter reads an integer counter; missing keys read as 0.
	Counter(ctx context.Context, key string) (int64, error)

	// TTL returns the remaining lifetime of key, 0 when missing or persistent.
	TTL(ctx context.Context, key string) (time.Duration, error)

	// PushCapped prepends value to the list at key and trims it to capacity.
	PushCapped(ctx context.Context, key, value string, capacity int, ttl time.Duration) error

	// Recent returns up to limit list entries, newest first.
	Recent(ctx context.Context, key string, limit int) ([]string, error)
}
