// Package store provides the durable key-value backends the client runtime
// persists its session state in.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrClosed is returned by backends used after Close.
var ErrClosed = errors.New("store: closed")

// KV is a minimal string key-value store with optional per-key expiry.
type KV interface {
	// Get returns the value for key. ok is false when the key is absent or
	// has expired.
	Get(ctx context.Context, key string) (value string, ok bool, err error)

	// Set stores value under key. A ttl <= 0 means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases the backend's resources.
	Close() error
}
