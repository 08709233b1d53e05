// Package idempotency caches the results of completed jobs under their idempotency key so a
// redelivered job can return the recorded outcome instead of repeating its side effects.
package idempotency

import (
	"context"
	"time"
)

// DefaultTTL bounds how long a completed job's result is remembered.
const DefaultTTL = 24 * time.Hour

// Store is a shared key-value cache. Writes are last-writer-wins per key.
type Store interface {
	// Get returns the cached value; found is false when the key is absent or expired.
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	// Set stores value under key for ttl, replacing any earlier value.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Close() error
}
