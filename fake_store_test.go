package taskauth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/taskauth/cache"
	"github.com/MrEthical07/taskauth/lockout"
	"github.com/MrEthical07/taskauth/password"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

const testPassword = "Correct-horse9"

type fakeStore struct {
	mu         sync.Mutex
	byID       map[string]*Principal
	resetHash  map[string]string
	resetUntil map[string]time.Time
	pingErr    error
	failLookup error
	// resetLookupHook runs after a reset token lookup, outside the lock.
	resetLookupHook func()

	loginCalls   int
	byIDCalls    int
	createCalls  int
	failureCalls int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		byID:       map[string]*Principal{},
		resetHash:  map[string]string{},
		resetUntil: map[string]time.Time{},
	}
}

func (s *fakeStore) resetCounts() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loginCalls, s.byIDCalls, s.createCalls, s.failureCalls = 0, 0, 0, 0
}

func (s *fakeStore) storeCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loginCalls + s.byIDCalls + s.createCalls + s.failureCalls
}

func clonePrincipal(p *Principal) *Principal {
	cp := *p
	if p.LockedUntil != nil {
		t := *p.LockedUntil
		cp.LockedUntil = &t
	}
	if p.LastLogin != nil {
		t := *p.LastLogin
		cp.LastLogin = &t
	}
	return &cp
}

func (s *fakeStore) CreatePrincipal(_ context.Context, p *Principal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.createCalls++
	for _, existing := range s.byID {
		if strings.EqualFold(existing.Email, p.Email) || strings.EqualFold(existing.Username, p.Username) {
			return ErrAccountExists
		}
	}
	s.byID[p.ID] = clonePrincipal(p)
	return nil
}

func (s *fakeStore) PrincipalByLogin(_ context.Context, handle string) (*Principal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loginCalls++
	if s.failLookup != nil {
		return nil, s.failLookup
	}
	for _, p := range s.byID {
		if strings.EqualFold(p.Email, handle) || strings.EqualFold(p.Username, handle) {
			return clonePrincipal(p), nil
		}
	}
	return nil, ErrPrincipalNotFound
}

func (s *fakeStore) PrincipalByID(_ context.Context, id string) (*Principal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byIDCalls++
	p, ok := s.byID[id]
	if !ok {
		return nil, ErrPrincipalNotFound
	}
	return clonePrincipal(p), nil
}

func (s *fakeStore) PrincipalByEmail(_ context.Context, email string) (*Principal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.byID {
		if strings.EqualFold(p.Email, email) {
			return clonePrincipal(p), nil
		}
	}
	return nil, ErrPrincipalNotFound
}

func (s *fakeStore) UpdateProfile(_ context.Context, id string, upd ProfileUpdate, now time.Time) (*Principal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byID[id]
	if !ok {
		return nil, ErrPrincipalNotFound
	}
	if upd.FirstName != nil {
		p.FirstName = *upd.FirstName
	}
	if upd.LastName != nil {
		p.LastName = *upd.LastName
	}
	if upd.Department != nil {
		p.Department = *upd.Department
	}
	if upd.Phone != nil {
		p.Phone = *upd.Phone
	}
	p.UpdatedAt = now
	return clonePrincipal(p), nil
}

func (s *fakeStore) RecordLoginFailure(_ context.Context, id string, policy lockout.Policy, now time.Time) (lockout.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failureCalls++
	p, ok := s.byID[id]
	if !ok {
		return lockout.State{}, ErrPrincipalNotFound
	}
	p.FailedLoginAttempts, p.LockedUntil = policy.AfterFailure(p.FailedLoginAttempts, p.LockedUntil, now)
	return p.Lockout(now), nil
}

func (s *fakeStore) RecordLoginSuccess(_ context.Context, id string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byID[id]
	if !ok {
		return ErrPrincipalNotFound
	}
	p.FailedLoginAttempts = 0
	p.LockedUntil = nil
	p.LastLogin = &now
	return nil
}

func (s *fakeStore) UpdatePasswordHash(_ context.Context, id, hash string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byID[id]
	if !ok {
		return ErrPrincipalNotFound
	}
	p.PasswordHash = hash
	p.UpdatedAt = now
	return nil
}

func (s *fakeStore) SetPassword(_ context.Context, id, hash string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byID[id]
	if !ok {
		return ErrPrincipalNotFound
	}
	p.PasswordHash = hash
	p.FailedLoginAttempts = 0
	p.LockedUntil = nil
	p.UpdatedAt = now
	delete(s.resetHash, id)
	delete(s.resetUntil, id)
	return nil
}

func (s *fakeStore) SetResetToken(_ context.Context, id, tokenHash string, expires time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[id]; !ok {
		return ErrPrincipalNotFound
	}
	s.resetHash[id] = tokenHash
	s.resetUntil[id] = expires
	return nil
}

func (s *fakeStore) PrincipalByResetToken(_ context.Context, tokenHash string, now time.Time) (*Principal, error) {
	p, hook := s.lookupReset(tokenHash, now)
	if hook != nil {
		hook()
	}
	if p == nil {
		return nil, ErrPrincipalNotFound
	}
	return p, nil
}

func (s *fakeStore) lookupReset(tokenHash string, now time.Time) (*Principal, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, h := range s.resetHash {
		if h == tokenHash && now.Before(s.resetUntil[id]) {
			return clonePrincipal(s.byID[id]), s.resetLookupHook
		}
	}
	return nil, s.resetLookupHook
}

func (s *fakeStore) ConsumeResetToken(_ context.Context, id, tokenHash, hash string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byID[id]
	if !ok || s.resetHash[id] != tokenHash || !now.Before(s.resetUntil[id]) {
		return ErrPrincipalNotFound
	}
	p.PasswordHash = hash
	p.FailedLoginAttempts = 0
	p.LockedUntil = nil
	p.UpdatedAt = now
	delete(s.resetHash, id)
	delete(s.resetUntil, id)
	return nil
}

func (s *fakeStore) Ping(context.Context) error { return s.pingErr }

func (s *fakeStore) principal(id string) *Principal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return clonePrincipal(s.byID[id])
}

func (s *fakeStore) setActive(id string, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[id].Active = active
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type captureNotifier struct {
	mu   sync.Mutex
	sent []ResetMessage
}

func (n *captureNotifier) SendPasswordReset(_ context.Context, msg ResetMessage) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	return nil
}

func (n *captureNotifier) last() (ResetMessage, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.sent) == 0 {
		return ResetMessage{}, false
	}
	return n.sent[len(n.sent)-1], true
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Token.AccessSecret = []byte("access-secret-for-tests-0123456789abcdef")
	cfg.Token.RefreshSecret = []byte("refresh-secret-for-tests-0123456789abcdef")
	cfg.Password.Argon2 = password.Config{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 16}
	cfg.Audit.Enabled = false
	return cfg
}

type testEnv struct {
	engine   *Engine
	store    *fakeStore
	clock    *testClock
	notifier *captureNotifier
	redis    *miniredis.Miniredis
}

type envOption func(*Builder)

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	env := &testEnv{
		store:    newFakeStore(),
		clock:    newTestClock(),
		notifier: &captureNotifier{},
		redis:    mr,
	}
	b := New().
		WithConfig(testConfig()).
		WithCredentialStore(env.store).
		WithRedis(client).
		WithNotifier(env.notifier).
		WithClock(env.clock.Now)
	for _, opt := range opts {
		opt(b)
	}
	engine, err := b.Build()
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	t.Cleanup(engine.Close)
	env.engine = engine
	return env
}

func withMemoryCache(c cache.Cache) envOption {
	return func(b *Builder) { b.WithCache(c) }
}

func (env *testEnv) register(t *testing.T, email, username string) *Profile {
	t.Helper()
	p, err := env.engine.Register(context.Background(), RegisterRequest{
		Email:     email,
		Username:  username,
		Password:  testPassword,
		FirstName: "Ada",
		LastName:  "Lovelace",
	})
	if err != nil {
		t.Fatalf("register %s: %v", username, err)
	}
	return p
}

func (env *testEnv) login(t *testing.T, handle string) *LoginResult {
	t.Helper()
	res, err := env.engine.Login(context.Background(), handle, testPassword)
	if err != nil {
		t.Fatalf("login %s: %v", handle, err)
	}
	return res
}

// failingCache fails every operation with cache.ErrUnavailable once broken.
type failingCache struct {
	cache.Cache
	mu     sync.Mutex
	broken bool
}

func (f *failingCache) setBroken(v bool) {
	f.mu.Lock()
	f.broken = v
	f.mu.Unlock()
}

func (f *failingCache) fault() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.broken {
		return cache.ErrUnavailable
	}
	return nil
}

func (f *failingCache) Get(ctx context.Context, key string) (string, error) {
	if err := f.fault(); err != nil {
		return "", err
	}
	return f.Cache.Get(ctx, key)
}

func (f *failingCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := f.fault(); err != nil {
		return err
	}
	return f.Cache.Set(ctx, key, value, ttl)
}

func (f *failingCache) SetIfExists(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if err := f.fault(); err != nil {
		return false, err
	}
	return f.Cache.SetIfExists(ctx, key, value, ttl)
}

func (f *failingCache) CompareAndSwap(ctx context.Context, key, expected, next string, ttl time.Duration) (bool, error) {
	if err := f.fault(); err != nil {
		return false, err
	}
	return f.Cache.CompareAndSwap(ctx, key, expected, next, ttl)
}

func (f *failingCache) Ping(ctx context.Context) error {
	if err := f.fault(); err != nil {
		return err
	}
	return f.Cache.Ping(ctx)
}

// revokingCache deletes a key just before a conditional write to it, as a
// logout landing between a request's read and its touch would.
type revokingCache struct {
	cache.Cache
}

func (c revokingCache) SetIfExists(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if err := c.Cache.Delete(ctx, key); err != nil {
		return false, err
	}
	return c.Cache.SetIfExists(ctx, key, value, ttl)
}

var errBoom = errors.New("boom")
