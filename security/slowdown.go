package security

import (
	"context"
	"fmt"
	"time"

	"github.com/MrEthical07/taskauth/cache"
	"github.com/MrEthical07/taskauth/internal/rate"
)

// SlowDown computes progressive delays from a per-address window count.
type SlowDown struct {
	counter *rate.Counter
	cfg     SlowDownConfig
}

// NewSlowDown returns a SlowDown whose counters live under prefix.
func NewSlowDown(c cache.Cache, prefix string, cfg SlowDownConfig) *SlowDown {
	return &SlowDown{counter: rate.New(c, prefix), cfg: cfg}
}

// Delay is the pause owed after count requests in the window: nothing within
// the free allowance, then one step per extra request, capped.
func (s *SlowDown) Delay(count int64) time.Duration {
	over := count - int64(s.cfg.FreeRequests)
	if over <= 0 {
		return 0
	}
	if over > int64(s.cfg.MaxDelay/s.cfg.Step) {
		return s.cfg.MaxDelay
	}
	return time.Duration(over) * s.cfg.Step
}

// Hit counts one request from ip and returns the delay owed.
func (s *SlowDown) Hit(ctx context.Context, ip string) (time.Duration, error) {
	if !s.cfg.Enabled {
		return 0, nil
	}
	d, err := s.counter.Hit(ctx, rate.Window{Window: s.cfg.Window}, ip)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return s.Delay(d.Count), nil
}

// Wait blocks for d or until ctx is done.
func Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
