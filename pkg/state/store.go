// Package state holds the shared key/value state used for deduplication
// markers, jump baselines, scan eligibility and the scheduler lease.
package state

import (
	"context"
	"time"
)

// Store is a TTL-aware key/value store with the atomic primitives needed to
// serialize concurrent evaluations of the same key.
type Store interface {
	// Get returns the value at key. ok is false when the key is absent or expired.
	Get(ctx context.Context, key string) (value string, ok bool, err error)

	// Set stores value unconditionally. A zero ttl means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Exists reports whether key is present and unexpired.
	Exists(ctx context.Context, key string) (bool, error)

	// SetIfAbsent stores value only when key is absent or expired and
	// reports whether this call stored it.
	SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// CompareAndSwap replaces the value at key with newValue only when the
	// current value equals oldValue. The ttl is reset on success.
	CompareAndSwap(ctx context.Context, key, oldValue, newValue string, ttl time.Duration) (bool, error)

	// Delete removes keys. Missing keys are ignored.
	Delete(ctx context.Context, keys ...string) error

	// DeletePrefix removes every key starting with prefix and returns how
	// many were removed.
	DeletePrefix(ctx context.Context, prefix string) (int, error)

	// Close releases resources.
	Close() error
}
