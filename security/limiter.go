package security

import (
	"context"
	"fmt"

	"github.com/MrEthical07/taskauth/cache"
	"github.com/MrEthical07/taskauth/internal/rate"
)

// Tier selects one of the request ceilings.
type Tier int

const (
	// TierPublic is the generous ceiling for unauthenticated routes.
	TierPublic Tier = iota
	// TierAPI is the moderate ceiling for authenticated routes.
	TierAPI
	// TierStrict is the low ceiling for credential endpoints.
	TierStrict
)

func (t Tier) String() string {
	switch t {
	case TierStrict:
		return "strict"
	case TierAPI:
		return "api"
	default:
		return "public"
	}
}

// Limiter applies the tiered ceilings. Strict counters are keyed by address
// and path, the others by address.
type Limiter struct {
	counter *rate.Counter
	tiers   Tiers
}

// NewLimiter returns a Limiter whose counters live under prefix.
func NewLimiter(c cache.Cache, prefix string, tiers Tiers) *Limiter {
	return &Limiter{counter: rate.New(c, prefix), tiers: tiers}
}

func (l *Limiter) window(t Tier) Window {
	switch t {
	case TierStrict:
		return l.tiers.Strict
	case TierAPI:
		return l.tiers.API
	default:
		return l.tiers.Public
	}
}

// Hit counts one request and returns the decision. On a cache fault the
// decision allows and the error wraps [ErrCacheUnavailable].
func (l *Limiter) Hit(ctx context.Context, t Tier, ip, path string) (rate.Decision, error) {
	parts := []string{t.String(), ip}
	if t == TierStrict {
		parts = append(parts, path)
	}
	d, err := l.counter.Hit(ctx, l.window(t).toRate(), parts...)
	if err != nil {
		return d, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return d, nil
}
