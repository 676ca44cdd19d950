package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/taskauth/cache"
)

var (
	// ErrRateLimited is returned by [Counter.Check] when the ceiling is exceeded.
	ErrRateLimited = errors.New("rate limited")
	// ErrCacheUnavailable wraps a cache fault. Callers fail open on it.
	ErrCacheUnavailable = errors.New("rate counter unavailable")
)

// Window is one ceiling: at most Limit hits per Window.
type Window struct {
	Limit  int
	Window time.Duration
}

// Decision describes a counter after one hit.
type Decision struct {
	Count     int64
	Limit     int
	Remaining int
	ResetIn   time.Duration
	Allowed   bool
}

// Counter counts hits per key in fixed windows over a [cache.Cache].
type Counter struct {
	cache  cache.Cache
	prefix string
}

// New creates a [Counter] whose keys are namespaced by prefix.
func New(c cache.Cache, prefix string) *Counter {
	return &Counter{cache: c, prefix: prefix}
}

func (c *Counter) key(parts ...string) string {
	k := c.prefix
	for _, p := range parts {
		k += ":" + p
	}
	return k
}

// Hit records one hit against the key built from parts and reports the
// resulting decision. A zero Limit always allows.
func (c *Counter) Hit(ctx context.Context, w Window, parts ...string) (Decision, error) {
	count, ttl, err := c.cache.Incr(ctx, c.key(parts...), w.Window)
	if err != nil {
		return Decision{Allowed: true, Limit: w.Limit}, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	if ttl <= 0 {
		ttl = w.Window
	}

	d := Decision{Count: count, Limit: w.Limit, ResetIn: ttl, Allowed: true}
	if w.Limit > 0 {
		d.Remaining = w.Limit - int(count)
		if d.Remaining < 0 {
			d.Remaining = 0
		}
		d.Allowed = count <= int64(w.Limit)
	}
	return d, nil
}

// Check is Hit reduced to an error: [ErrRateLimited] when the ceiling is
// exceeded and [ErrCacheUnavailable] when the cache failed.
func (c *Counter) Check(ctx context.Context, w Window, parts ...string) error {
	d, err := c.Hit(ctx, w, parts...)
	if err != nil {
		return err
	}
	if !d.Allowed {
		return ErrRateLimited
	}
	return nil
}

// Reset clears the counter for the key built from parts.
func (c *Counter) Reset(ctx context.Context, parts ...string) error {
	if err := c.cache.Delete(ctx, c.key(parts...)); err != nil {
		return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return nil
}
