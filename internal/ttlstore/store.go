// Package ttlstore provides a keyed record store with per-record expiry.
//
// Two implementations share one contract: a Redis-backed store for
// production, and an in-process store used as an embedded fallback and as
// the unit-test backend. Expiry is always checked on read — a Get after the
// TTL has elapsed returns ErrNotFound even if no sweep has run.
package ttlstore

import (
	"context"
	"time"
)

// Store is the tier-facing contract. Values are opaque bytes; the store
// never interprets them.
type Store interface {
	// Put stores value under key with the given TTL, replacing any
	// existing value and its deadline.
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Get returns the value for key, or fault.ErrNotFound if the key is
	// absent or its deadline has passed.
	Get(ctx context.Context, key string) ([]byte, error)

	// GetSlide is Get plus a deadline reset to ttl from now on hit. Used
	// by the working tier so active sessions never lose context mid-use.
	GetSlide(ctx context.Context, key string, ttl time.Duration) ([]byte, error)

	// GetDelete atomically returns and removes the value. When several
	// callers race on the same key, exactly one receives the value; the
	// rest get fault.ErrNotFound.
	GetDelete(ctx context.Context, key string) ([]byte, error)

	// Touch resets the deadline without reading or mutating the value.
	Touch(ctx context.Context, key string, ttl time.Duration) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// DeletePrefix removes every key with the given prefix.
	DeletePrefix(ctx context.Context, prefix string) error

	// Keys lists live keys with the given prefix, in no particular order.
	Keys(ctx context.Context, prefix string) ([]string, error)
}
