package cache

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrMiss is returned when a key does not exist.
	ErrMiss = errors.New("cache: key not found")
	// ErrUnavailable is returned when the backing store cannot be reached or times out.
	ErrUnavailable = errors.New("cache: unavailable")
)

// Cache is the contract shared by every cache-backed component.
//
// Implementations must be safe for concurrent use by multiple goroutines and,
// for shared backends, by multiple processes.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// SetIfExists overwrites key only when it already holds a value. It
	// reports whether the write applied.
	SetIfExists(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, key string) (bool, error)

	// Incr adds one to a fixed-window counter. The window starts on the first
	// hit and the returned duration is the time left in it.
	Incr(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	TTL(ctx context.Context, key string) (time.Duration, error)

	SAdd(ctx context.Context, key string, members ...string) error
	SRem(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)

	// PushCapped prepends value to a list, keeps at most max entries and
	// resets the list TTL.
	PushCapped(ctx context.Context, key, value string, max int64, ttl time.Duration) error
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)

	// CompareAndSwap replaces the value at key with next only when the current
	// value equals old. It reports whether the swap happened.
	CompareAndSwap(ctx context.Context, key, old, next string, ttl time.Duration) (bool, error)

	Ping(ctx context.Context) error
}
