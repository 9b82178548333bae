package ports

import (
	"context"
	"time"
)

// Store is a keyed value store with the atomic primitives the auth core
// depends on. Every mutation is a single atomic operation against the
// backing store; the challenge-consumed-at-most-once property rests on
// CompareAndSwap being atomic.
type Store interface {
	// Get retrieves a value by key. Returns core.ErrNotFound on a miss.
	Get(ctx context.Context, key string) (string, error)

	// Set stores a key with a value and expiration time.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Delete removes a key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// CompareAndSwap replaces the value at key with next only if the
	// current value equals prev, preserving the remaining TTL. Returns
	// false if the value differs or the key is missing.
	CompareAndSwap(ctx context.Context, key, prev, next string) (bool, error)

	// CompareAndDelete removes key only if its current value equals prev.
	CompareAndDelete(ctx context.Context, key, prev string) (bool, error)

	// Incr atomically increments the counter at key, starting a new
	// window with the given TTL when the counter does not exist.
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)

	// Allow checks and counts one event against a fixed window of the
	// given limit. A denied call does not increment the counter; the
	// returned duration is the time until the window resets.
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, time.Duration, error)

	// Scan returns all keys with the given prefix.
	Scan(ctx context.Context, prefix string) ([]string, error)
}
