package apikey

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/taskauth/internal/audit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestService(t *testing.T) (*Service, *MemoryStore, *clock, *audit.ChannelSink) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.BcryptCost = bcrypt.MinCost
	store := NewMemoryStore()
	clk := &clock{now: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
	sink := audit.NewChannelSink(64)
	svc, err := NewService(store, cfg, WithClock(clk.Now), WithAuditSink(sink))
	require.NoError(t, err)
	return svc, store, clk, sink
}

func TestGenerateFormatAndSecrecy(t *testing.T) {
	svc, store, _, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.Generate(ctx, GenerateRequest{Name: "reporting", Permissions: []string{"tasks:*"}, CreatedBy: "u1"})
	require.NoError(t, err)

	prefix, secret, ok := Split(created.Raw)
	require.True(t, ok, "raw key %q has the wrong shape", created.Raw)
	assert.Equal(t, created.Prefix, prefix)
	assert.Len(t, secret, 64)
	assert.Equal(t, 1000, created.RateLimit)
	assert.Empty(t, created.Hash)

	stored, err := store.KeyByID(ctx, created.ID)
	require.NoError(t, err)
	assert.NotContains(t, stored.Hash, secret)

	listed, err := svc.List(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Empty(t, listed[0].Hash)

	got, err := svc.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Hash)
}

func TestValidateExactSecretOnly(t *testing.T) {
	svc, store, _, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.Generate(ctx, GenerateRequest{Name: "svc", Permissions: []string{"tasks:read"}})
	require.NoError(t, err)

	id, err := svc.Validate(ctx, created.Raw, "10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, created.ID, id.KeyID)
	assert.Equal(t, []string{"tasks:read"}, id.Permissions)

	last := created.Raw[len(created.Raw)-1]
	flip := byte('0')
	if last == '0' {
		flip = '1'
	}
	mutated := created.Raw[:len(created.Raw)-1] + string(flip)
	_, err = svc.Validate(ctx, mutated, "10.0.0.1")
	assert.ErrorIs(t, err, ErrInvalidKey)

	for _, bad := range []string{"", "nounderscore", created.Prefix, created.Prefix + "_", "api_zzzz_" + strings.Repeat("a", 64)} {
		_, err := svc.Validate(ctx, bad, "")
		assert.ErrorIs(t, err, ErrInvalidKey, "key %q", bad)
	}

	stored, err := store.KeyByID(ctx, created.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stored.UsageCount, "only the successful validation counts")
	require.NotNil(t, stored.LastUsed)
}

func TestValidateRejectsRevokedAndExpired(t *testing.T) {
	svc, store, clk, _ := newTestService(t)
	ctx := context.Background()

	revoked, err := svc.Generate(ctx, GenerateRequest{Name: "old"})
	require.NoError(t, err)
	require.NoError(t, svc.Revoke(ctx, revoked.ID, "admin-1"))
	_, err = svc.Validate(ctx, revoked.Raw, "")
	assert.ErrorIs(t, err, ErrInvalidKey)

	k, err := store.KeyByID(ctx, revoked.ID)
	require.NoError(t, err)
	assert.False(t, k.Active)
	assert.Equal(t, "admin-1", k.Metadata["revokedBy"])
	assert.NotEmpty(t, k.Metadata["revokedAt"])

	exp := clk.Now().Add(time.Hour)
	expiring, err := svc.Generate(ctx, GenerateRequest{Name: "temp", ExpiresAt: &exp})
	require.NoError(t, err)
	_, err = svc.Validate(ctx, expiring.Raw, "")
	require.NoError(t, err)

	clk.Advance(2 * time.Hour)
	_, err = svc.Validate(ctx, expiring.Raw, "")
	assert.ErrorIs(t, err, ErrInvalidKey)
	k, err = store.KeyByID(ctx, expiring.ID)
	require.NoError(t, err)
	assert.False(t, k.Active, "expired keys are marked inactive on use")
}

func TestValidateAllowedIPs(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.Generate(ctx, GenerateRequest{Name: "pinned", AllowedIPs: []string{"192.0.2.10"}})
	require.NoError(t, err)

	_, err = svc.Validate(ctx, created.Raw, "192.0.2.10")
	require.NoError(t, err)
	_, err = svc.Validate(ctx, created.Raw, "192.0.2.11")
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestHasPermissionWildcards(t *testing.T) {
	id := &Identity{Permissions: []string{"tasks:*"}}
	assert.True(t, HasPermission(id, "tasks:read"))
	assert.True(t, HasPermission(id, "tasks:write"))
	assert.False(t, HasPermission(id, "users:read"))
	assert.True(t, HasPermission(&Identity{Permissions: []string{"*"}}, "users:read"))
	assert.False(t, HasPermission(nil, "tasks:read"))
}

func TestSweepExpiredAndStats(t *testing.T) {
	svc, _, clk, _ := newTestService(t)
	ctx := context.Background()

	exp := clk.Now().Add(24 * time.Hour)
	short, err := svc.Generate(ctx, GenerateRequest{Name: "short", ExpiresAt: &exp})
	require.NoError(t, err)
	long, err := svc.Generate(ctx, GenerateRequest{Name: "long"})
	require.NoError(t, err)

	for i := 0; i < 9; i++ {
		_, err := svc.Validate(ctx, long.Raw, "")
		require.NoError(t, err)
	}

	stats, err := svc.Stats(ctx, long.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.DaysSinceCreation)
	assert.EqualValues(t, 9, stats.AvgDailyUsage)

	clk.Advance(4 * 24 * time.Hour)
	n, err := svc.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	k, err := svc.Get(ctx, short.ID)
	require.NoError(t, err)
	assert.False(t, k.Active)

	stats, err = svc.Stats(ctx, long.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, stats.DaysSinceCreation)
	assert.EqualValues(t, 2, stats.AvgDailyUsage)
	assert.EqualValues(t, 9, stats.TotalUsage)
}

func TestGenerateRejectsBadRequests(t *testing.T) {
	svc, _, clk, _ := newTestService(t)
	ctx := context.Background()

	past := clk.Now().Add(-time.Minute)
	cases := []GenerateRequest{
		{Name: ""},
		{Name: "x", Permissions: []string{"bad grant"}},
		{Name: "x", AllowedIPs: []string{"not-an-ip"}},
		{Name: "x", ExpiresAt: &past},
		{Name: "x", RateLimit: -1},
	}
	for _, req := range cases {
		_, err := svc.Generate(ctx, req)
		assert.ErrorIs(t, err, ErrInvalidRequest, "request %+v", req)
	}
}

type collidingStore struct {
	*MemoryStore
	failures int
}

func (c *collidingStore) CreateKey(ctx context.Context, k *Key) error {
	if c.failures > 0 {
		c.failures--
		return ErrPrefixTaken
	}
	return c.MemoryStore.CreateKey(ctx, k)
}

func TestGenerateRetriesPrefixCollisions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BcryptCost = bcrypt.MinCost
	store := &collidingStore{MemoryStore: NewMemoryStore(), failures: 2}
	svc, err := NewService(store, cfg)
	require.NoError(t, err)

	_, err = svc.Generate(context.Background(), GenerateRequest{Name: "retry"})
	require.NoError(t, err)

	store.failures = cfg.MaxAttempts
	_, err = svc.Generate(context.Background(), GenerateRequest{Name: "exhausted"})
	assert.ErrorIs(t, err, ErrPrefixTaken)
}

func TestValidateEmitsRejectionEvents(t *testing.T) {
	svc, _, _, sink := newTestService(t)
	_, err := svc.Validate(context.Background(), "garbage", "198.51.100.7")
	require.ErrorIs(t, err, ErrInvalidKey)

	select {
	case ev := <-sink.Events():
		assert.Equal(t, audit.EventAPIKeyRejected, ev.EventType)
		assert.Equal(t, "198.51.100.7", ev.IP)
		assert.Equal(t, "malformed", ev.Error)
	case <-time.After(time.Second):
		t.Fatal("no rejection event emitted")
	}
}
