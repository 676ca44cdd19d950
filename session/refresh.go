package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/taskauth/cache"
	"github.com/MrEthical07/taskauth/internal"
)

var (
	// ErrRefreshNotFound is returned when a principal has no active refresh pointer.
	ErrRefreshNotFound = errors.New("refresh pointer not found")
	// ErrRefreshMismatch is returned when a presented token is not the active one.
	ErrRefreshMismatch = errors.New("refresh pointer mismatch")
)

// RefreshStore keeps one active refresh token hash per principal.
type RefreshStore struct {
	cache  cache.Cache
	prefix string
	ttl    time.Duration
}

// NewRefreshStore creates a [RefreshStore]. ttl should match the refresh token lifetime.
func NewRefreshStore(c cache.Cache, prefix string, ttl time.Duration) *RefreshStore {
	if prefix == "" {
		prefix = "refresh_token"
	}
	return &RefreshStore{cache: c, prefix: prefix, ttl: ttl}
}

func (r *RefreshStore) key(userID string) string {
	return r.prefix + ":" + userID
}

// Set makes token the only valid refresh token of userID.
func (r *RefreshStore) Set(ctx context.Context, userID, token string) error {
	if err := r.cache.Set(ctx, r.key(userID), internal.HashToken(token), r.ttl); err != nil {
		return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return nil
}

// Rotate atomically replaces presented with next. Exactly one of any number of
// concurrent rotations of the same presented token succeeds; the others get
// [ErrRefreshMismatch].
func (r *RefreshStore) Rotate(ctx context.Context, userID, presented, next string) error {
	ok, err := r.cache.CompareAndSwap(ctx, r.key(userID), internal.HashToken(presented), internal.HashToken(next), r.ttl)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	if ok {
		return nil
	}

	_, err = r.cache.Get(ctx, r.key(userID))
	switch {
	case errors.Is(err, cache.ErrMiss):
		return ErrRefreshNotFound
	case err != nil:
		return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return ErrRefreshMismatch
}

// Matches reports whether token is the active refresh token of userID.
func (r *RefreshStore) Matches(ctx context.Context, userID, token string) (bool, error) {
	stored, err := r.cache.Get(ctx, r.key(userID))
	if err != nil {
		if errors.Is(err, cache.ErrMiss) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return stored == internal.HashToken(token), nil
}

// Clear removes the refresh pointer of userID.
func (r *RefreshStore) Clear(ctx context.Context, userID string) error {
	if err := r.cache.Delete(ctx, r.key(userID)); err != nil {
		return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return nil
}
