package apiclient

import (
	"context"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/kroma-labs/apiclient-go/cache"
)

// EnableCache turns the response cache on. A client built without a cache
// configuration uses the in-memory backend.
func (c *Client) EnableCache() { c.cacheEnabled.Store(true) }

// DisableCache turns the response cache off. Entries are kept and become
// visible again after EnableCache.
func (c *Client) DisableCache() { c.cacheEnabled.Store(false) }

// CacheEnabled reports whether the response cache is on.
func (c *Client) CacheEnabled() bool { return c.cacheEnabled.Load() }

// ClearCache removes cached entries. An empty pattern removes everything;
// otherwise only keys matching the glob are removed, which requires a
// backend implementing cache.PatternDeleter.
func (c *Client) ClearCache(ctx context.Context, pattern string) error {
	if c.cache == nil {
		return nil
	}
	if pattern == "" {
		return c.cache.Clear(ctx)
	}
	deleter, ok := c.cache.(cache.PatternDeleter)
	if !ok {
		return fmt.Errorf("cache backend %T does not support pattern deletes", c.cache)
	}
	n, err := deleter.DeletePattern(ctx, pattern)
	if err != nil {
		return err
	}
	c.logger.Debug().Str("pattern", pattern).Int("deleted", n).Msg("cache entries cleared")
	return nil
}

// cacheKey returns the cache key for spec, or false when this call must
// not touch the cache.
func (c *Client) cacheKey(spec RequestSpec) (string, bool) {
	if c.mode == cacheBypass || c.cache == nil || !c.cacheEnabled.Load() {
		return "", false
	}
	if spec.cacheDisabled() {
		return "", false
	}
	if retainer, ok := c.parser.(bodyRetainer); ok && retainer.retainsBody() {
		return "", false
	}
	if _, ok := spec.Data.(io.Reader); ok {
		return "", false
	}

	t := c.resolve(spec)
	if !slices.ContainsFunc(c.cfg.cache.Methods, func(m string) bool {
		return strings.EqualFold(m, t.method)
	}) {
		return "", false
	}

	in := cache.KeyInput{
		URL:    t.url,
		Method: t.method,
		Params: t.params,
		Data:   spec.Data,
		JSON:   spec.JSON,
	}
	if c.cfg.cache.UserSpecific {
		in.User = c.cfg.userID
	}
	key, err := cache.Key(in)
	if err != nil {
		c.logger.Warn().Err(err).Msg("cannot derive cache key, skipping cache")
		return "", false
	}
	return key, true
}

// lookup reads key from the backend. Backend errors count as a miss.
func (c *Client) lookup(ctx context.Context, key string) (Envelope, bool) {
	env, ok, err := c.cache.Get(ctx, key)
	if err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("cache read failed")
		ok = false
	}
	c.cfg.metrics.recordCacheLookup(ctx, ok, c.cfg.baseAttributes())
	return env, ok
}

// store writes a successful envelope under key. Failures are never cached.
func (c *Client) store(ctx context.Context, key string, spec RequestSpec, env Envelope) {
	if !env.Success {
		return
	}
	ttl := c.cfg.cache.DefaultExpire
	if spec.CacheExpire != nil {
		ttl = time.Duration(*spec.CacheExpire) * time.Second
	}
	if err := c.cache.Set(ctx, key, env, ttl); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("cache write failed")
	}
}

// cachedRequest executes spec through the cache. Concurrent misses on the
// same key share one transport call.
func (c *Client) cachedRequest(ctx context.Context, requestID string, spec RequestSpec) Envelope {
	key, ok := c.cacheKey(spec)
	if !ok {
		return c.execute(ctx, requestID, spec)
	}

	if c.mode == cacheRefresh {
		env := c.execute(ctx, requestID, spec)
		c.store(ctx, key, spec, env)
		return env
	}

	if env, hit := c.lookup(ctx, key); hit {
		c.logger.Debug().Str("request_id", requestID).Msg("served from cache")
		return env
	}

	// The shared call is detached from the first caller's context and
	// bounded per attempt by the transport timeout. Each caller stops
	// waiting when its own context ends.
	shared := context.WithoutCancel(ctx)
	ch := c.flight.DoChan(key, func() (any, error) {
		env := c.execute(shared, requestID, spec)
		c.store(shared, key, spec, env)
		return env, nil
	})
	select {
	case res := <-ch:
		return res.Val.(Envelope)
	case <-ctx.Done():
		return errorEnvelope(classifyTransportError(ctx.Err()))
	}
}

// cachedBatch serves cache hits directly and hands only the misses to the
// executor, then merges both back into input order.
func (c *Client) cachedBatch(ctx context.Context, specs []RequestSpec, async bool) []Envelope {
	ctx, span := c.cfg.tracer.Start(ctx, "apiclient.batch", trace.WithAttributes(
		attribute.Int("apiclient.batch.size", len(specs)),
		attribute.Bool("apiclient.batch.async", async),
	))
	defer span.End()
	c.cfg.metrics.recordBatch(ctx, len(specs), c.cfg.baseAttributes())

	results := make([]Envelope, len(specs))
	keys := make([]string, len(specs))
	misses := make([]int, 0, len(specs))

	for i, spec := range specs {
		key, ok := c.cacheKey(spec)
		if ok {
			keys[i] = key
			if c.mode == cacheDefault {
				if env, hit := c.lookup(ctx, key); hit {
					results[i] = env
					continue
				}
			}
		}
		misses = append(misses, i)
	}
	span.SetAttributes(attribute.Int("apiclient.batch.cache_hits", len(specs)-len(misses)))
	if len(misses) == 0 {
		return results
	}

	pending := make([]RequestSpec, len(misses))
	for j, i := range misses {
		pending[j] = specs[i]
	}

	exec := c.sequential
	if async {
		exec = c.executor
	}
	out := exec.Execute(ctx, c, pending)

	for j, i := range misses {
		if j >= len(out) {
			results[i] = errorEnvelope(newUnexpectedError(
				fmt.Errorf("executor returned %d results for %d requests", len(out), len(pending)),
			))
			continue
		}
		results[i] = out[j]
		if keys[i] != "" {
			c.store(ctx, keys[i], specs[i], out[j])
		}
	}
	return results
}
