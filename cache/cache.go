// Package cache provides the key/value stores behind the client's response
// cache: a bounded in-process LRU with per-entry expiry and a Redis-backed
// store with native TTLs.
package cache

import (
	"context"
	"errors"
	"time"
)

// Backend stores values of type V under string keys with an optional
// lifetime. A ttl of zero or less stores the value without expiry.
//
// Get reports a miss with ok=false and a nil error. Implementations must
// be safe for concurrent use.
type Backend[V any] interface {
	Get(ctx context.Context, key string) (v V, ok bool, err error)
	Set(ctx context.Context, key string, value V, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
}

// PatternDeleter is implemented by backends that can delete every key
// matching a glob pattern (as understood by path.Match and Redis MATCH).
type PatternDeleter interface {
	DeletePattern(ctx context.Context, pattern string) (int, error)
}

// ErrNilClient is returned when a Redis backend is built without a client.
var ErrNilClient = errors.New("cache: redis client is nil")
