package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

const scanBatch = 500

// Redis stores values in Redis with native TTLs.
//
// Strings and byte slices are stored verbatim. Every other value is
// JSON-encoded on Set and decoded back into V on Get. The backend holds
// no locks of its own; each operation is a single Redis command (or a
// SCAN loop for bulk deletes), so there is no atomicity across keys.
type Redis[V any] struct {
	client redis.UniversalClient
	prefix string
}

var (
	_ Backend[any]   = (*Redis[any])(nil)
	_ PatternDeleter = (*Redis[any])(nil)
)

// RedisOption configures a Redis backend.
type RedisOption func(*redisOptions)

type redisOptions struct {
	prefix string
}

// WithKeyPrefix namespaces every key as "<prefix>:<key>". With a prefix
// set, Clear only removes the backend's own keys instead of flushing the
// database.
func WithKeyPrefix(prefix string) RedisOption {
	return func(o *redisOptions) { o.prefix = prefix }
}

// NewRedis returns a backend using client.
func NewRedis[V any](client redis.UniversalClient, opts ...RedisOption) (*Redis[V], error) {
	if client == nil {
		return nil, ErrNilClient
	}
	var o redisOptions
	for _, opt := range opts {
		opt(&o)
	}
	return &Redis[V]{client: client, prefix: o.prefix}, nil
}

func (r *Redis[V]) fullKey(key string) string {
	if r.prefix == "" {
		return key
	}
	return r.prefix + ":" + key
}

func (r *Redis[V]) Get(ctx context.Context, key string) (V, bool, error) {
	var zero V

	raw, err := r.client.Get(ctx, r.fullKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, fmt.Errorf("redis cache get %q: %w", key, err)
	}

	v, err := decodeValue[V](raw)
	if err != nil {
		return zero, false, fmt.Errorf("redis cache decode %q: %w", key, err)
	}
	return v, true, nil
}

// Set stores value using SET with EX when ttl is positive.
func (r *Redis[V]) Set(ctx context.Context, key string, value V, ttl time.Duration) error {
	raw, err := encodeValue(value)
	if err != nil {
		return fmt.Errorf("redis cache encode %q: %w", key, err)
	}
	if ttl < 0 {
		ttl = 0
	}
	if err := r.client.Set(ctx, r.fullKey(key), raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis cache set %q: %w", key, err)
	}
	return nil
}

func (r *Redis[V]) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.fullKey(key)).Err(); err != nil {
		return fmt.Errorf("redis cache delete %q: %w", key, err)
	}
	return nil
}

// Clear removes the backend's keys. Without a prefix this flushes the
// selected database.
func (r *Redis[V]) Clear(ctx context.Context) error {
	if r.prefix == "" {
		if err := r.client.FlushDB(ctx).Err(); err != nil {
			return fmt.Errorf("redis cache flush: %w", err)
		}
		return nil
	}
	_, err := r.DeletePattern(ctx, "*")
	return err
}

// DeletePattern deletes every key matching pattern using SCAN, so large
// keyspaces are not blocked the way KEYS would block them.
func (r *Redis[V]) DeletePattern(ctx context.Context, pattern string) (int, error) {
	var (
		cursor  uint64
		deleted int
	)
	match := r.fullKey(pattern)
	for {
		keys, next, err := r.client.Scan(ctx, cursor, match, scanBatch).Result()
		if err != nil {
			return deleted, fmt.Errorf("redis cache scan %q: %w", pattern, err)
		}
		if len(keys) > 0 {
			n, err := r.client.Del(ctx, keys...).Result()
			if err != nil {
				return deleted, fmt.Errorf("redis cache delete pattern %q: %w", pattern, err)
			}
			deleted += int(n)
		}
		if next == 0 {
			return deleted, nil
		}
		cursor = next
	}
}

// Close closes the underlying client.
func (r *Redis[V]) Close() error {
	return r.client.Close()
}

func encodeValue(v any) ([]byte, error) {
	switch tv := v.(type) {
	case []byte:
		return tv, nil
	case string:
		return []byte(tv), nil
	default:
		return json.Marshal(v)
	}
}

func decodeValue[V any](raw []byte) (V, error) {
	var v V
	switch p := any(&v).(type) {
	case *[]byte:
		*p = append([]byte(nil), raw...)
		return v, nil
	case *string:
		*p = string(raw)
		return v, nil
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, err
	}
	return v, nil
}
