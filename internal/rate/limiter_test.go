package rate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrEthical07/taskauth/cache"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newCounterTest(t *testing.T) (*Counter, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() {
		rdb.Close()
		mr.Close()
	})
	return New(cache.NewRedis(rdb, time.Second), "rl"), mr
}

func TestCounterRejectsPastLimit(t *testing.T) {
	c, _ := newCounterTest(t)
	ctx := context.Background()
	w := Window{Limit: 3, Window: time.Minute}

	for i := 0; i < 3; i++ {
		if err := c.Check(ctx, w, "1.2.3.4"); err != nil {
			t.Fatalf("hit %d: %v", i+1, err)
		}
	}
	if err := c.Check(ctx, w, "1.2.3.4"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if err := c.Check(ctx, w, "5.6.7.8"); err != nil {
		t.Fatalf("other key must be independent: %v", err)
	}
}

func TestCounterWindowResets(t *testing.T) {
	c, mr := newCounterTest(t)
	ctx := context.Background()
	w := Window{Limit: 1, Window: time.Minute}

	if err := c.Check(ctx, w, "ip"); err != nil {
		t.Fatalf("first: %v", err)
	}
	if err := c.Check(ctx, w, "ip"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("second: expected ErrRateLimited, got %v", err)
	}
	mr.FastForward(time.Minute + time.Second)
	if err := c.Check(ctx, w, "ip"); err != nil {
		t.Fatalf("after window: %v", err)
	}
}

func TestCounterDecisionFields(t *testing.T) {
	c, _ := newCounterTest(t)
	d, err := c.Hit(context.Background(), Window{Limit: 5, Window: 15 * time.Minute}, "a", "b")
	if err != nil {
		t.Fatalf("hit: %v", err)
	}
	if d.Count != 1 || d.Remaining != 4 || !d.Allowed {
		t.Fatalf("unexpected decision %+v", d)
	}
	if d.ResetIn <= 0 || d.ResetIn > 15*time.Minute {
		t.Fatalf("unexpected reset %v", d.ResetIn)
	}
}

func TestCounterFailsOpenWithError(t *testing.T) {
	c, mr := newCounterTest(t)
	mr.SetError("connection reset")

	d, err := c.Hit(context.Background(), Window{Limit: 1, Window: time.Minute}, "ip")
	if !errors.Is(err, ErrCacheUnavailable) {
		t.Fatalf("expected ErrCacheUnavailable, got %v", err)
	}
	if !d.Allowed {
		t.Fatal("cache faults must leave the decision allowed")
	}
}

func TestCounterReset(t *testing.T) {
	c, _ := newCounterTest(t)
	ctx := context.Background()
	w := Window{Limit: 1, Window: time.Minute}

	_ = c.Check(ctx, w, "ip")
	if err := c.Reset(ctx, "ip"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if err := c.Check(ctx, w, "ip"); err != nil {
		t.Fatalf("after reset: %v", err)
	}
}
