package taskauth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/taskauth/cache"
)

func TestRegisterValidatesAndRejectsDuplicates(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	p := env.register(t, "Ada@Example.com", "ada")
	if p.Email != "ada@example.com" {
		t.Fatalf("email not normalised: %q", p.Email)
	}
	if p.Role != testConfig().DefaultRole {
		t.Fatalf("expected default role, got %q", p.Role)
	}
	if !p.IsActive {
		t.Fatal("new principals must be active")
	}
	if stored := env.store.principal(p.ID); !strings.HasPrefix(stored.PasswordHash, "$argon2id$") {
		t.Fatalf("password not hashed with argon2id: %q", stored.PasswordHash)
	}

	_, err := env.engine.Register(ctx, RegisterRequest{
		Email: "other@example.com", Username: "ADA", Password: testPassword, FirstName: "Ada", LastName: "Byron",
	})
	if !errors.Is(err, ErrAccountExists) {
		t.Fatalf("expected duplicate username, got %v", err)
	}

	_, err = env.engine.Register(ctx, RegisterRequest{Email: "nope", Username: "x!", Password: "short"})
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(ve.Details) < 4 {
		t.Fatalf("expected every violation reported, got %v", ve.Details)
	}
	if KindOf(err) != KindValidation {
		t.Fatalf("unexpected kind %v", KindOf(err))
	}
}

func TestLoginByEmailOrUsername(t *testing.T) {
	env := newTestEnv(t)
	p := env.register(t, "grace@example.com", "grace")

	for _, handle := range []string{"grace", "GRACE@example.com", "  grace@example.com "} {
		res := env.login(t, handle)
		if res.User.ID != p.ID {
			t.Fatalf("login %q returned wrong principal", handle)
		}
		if res.Tokens.TokenType != "Bearer" || res.Tokens.ExpiresIn != 3600 {
			t.Fatalf("unexpected token pair %+v", res.Tokens)
		}
		if res.User.LastLogin == nil {
			t.Fatal("last login not reported")
		}
	}
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alan@example.com", "alan")
	ctx := context.Background()

	cases := []struct{ handle, pass string }{
		{"alan", "Wrong-pass1"},
		{"nobody", testPassword},
		{"", ""},
	}
	for _, tc := range cases {
		_, err := env.engine.Login(ctx, tc.handle, tc.pass)
		if !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("login(%q) expected invalid credentials, got %v", tc.handle, err)
		}
		if PublicMessage(err) != "Invalid email or password" {
			t.Fatalf("unexpected public message %q", PublicMessage(err))
		}
	}
}

func TestLoginLocksAfterThresholdAndRecovers(t *testing.T) {
	env := newTestEnv(t)
	p := env.register(t, "linus@example.com", "linus")
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		_, err := env.engine.Login(ctx, "linus", "Wrong-pass1")
		if !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: expected invalid credentials, got %v", i, err)
		}
	}
	stored := env.store.principal(p.ID)
	if stored.LockedUntil == nil || stored.FailedLoginAttempts != 5 {
		t.Fatalf("expected a lock after 5 failures, got %+v", stored)
	}

	_, err := env.engine.Login(ctx, "linus", testPassword)
	var le *LockedError
	if !errors.As(err, &le) {
		t.Fatalf("expected locked error even with the right password, got %v", err)
	}
	if KindOf(err) != KindAccountLocked {
		t.Fatalf("unexpected kind %v", KindOf(err))
	}
	if !le.Until.Equal(env.clock.Now().Add(30 * time.Minute)) {
		t.Fatalf("unexpected lock expiry %v", le.Until)
	}

	env.clock.Advance(31 * time.Minute)
	env.login(t, "linus")
	stored = env.store.principal(p.ID)
	if stored.FailedLoginAttempts != 0 || stored.LockedUntil != nil {
		t.Fatalf("successful login must clear lockout, got %+v", stored)
	}
}

func TestLoginSuccessResetsFailureCount(t *testing.T) {
	env := newTestEnv(t)
	p := env.register(t, "barbara@example.com", "barbara")
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, _ = env.engine.Login(ctx, "barbara", "Wrong-pass1")
	}
	env.login(t, "barbara")
	if got := env.store.principal(p.ID).FailedLoginAttempts; got != 0 {
		t.Fatalf("expected counter reset, got %d", got)
	}
	_, err := env.engine.Login(ctx, "barbara", "Wrong-pass1")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected a fresh count after success, got %v", err)
	}
}

func TestLoginDisabledAccount(t *testing.T) {
	env := newTestEnv(t)
	p := env.register(t, "ken@example.com", "ken")
	env.store.setActive(p.ID, false)

	_, err := env.engine.Login(context.Background(), "ken", testPassword)
	if !errors.Is(err, ErrAccountDisabled) {
		t.Fatalf("expected disabled, got %v", err)
	}
}

func TestLoginStoreFaultFailsClosed(t *testing.T) {
	env := newTestEnv(t)
	env.store.failLookup = errBoom

	_, err := env.engine.Login(context.Background(), "anyone", testPassword)
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected store unavailable, got %v", err)
	}
	if PublicMessage(err) != "Internal server error" {
		t.Fatalf("store fault leaked: %q", PublicMessage(err))
	}
}

func TestVerifyAndAuthenticate(t *testing.T) {
	env := newTestEnv(t)
	p := env.register(t, "donald@example.com", "donald")
	res := env.login(t, "donald")
	ctx := context.Background()

	claims, err := env.engine.Verify(ctx, res.Tokens.AccessToken)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.UserID != p.ID || claims.SessionID != res.Session.SessionID || claims.Role != p.Role {
		t.Fatalf("unexpected claims %+v", claims)
	}

	principal, _, err := env.engine.Authenticate(ctx, res.Tokens.AccessToken)
	if err != nil || principal.ID != p.ID {
		t.Fatalf("authenticate: %v", err)
	}

	if _, err := env.engine.Verify(ctx, ""); !errors.Is(err, ErrTokenMissing) {
		t.Fatalf("expected missing token, got %v", err)
	}
	if _, err := env.engine.Verify(ctx, res.Tokens.AccessToken+"x"); !errors.Is(err, ErrTokenMalformed) {
		t.Fatalf("expected malformed token, got %v", err)
	}
	if _, err := env.engine.Verify(ctx, res.Tokens.RefreshToken); !errors.Is(err, ErrTokenMalformed) {
		t.Fatalf("refresh token must not verify as access, got %v", err)
	}

	env.store.setActive(p.ID, false)
	if _, _, err := env.engine.Authenticate(ctx, res.Tokens.AccessToken); !errors.Is(err, ErrAccountDisabled) {
		t.Fatalf("expected disabled, got %v", err)
	}
}

func TestVerifyRejectsSessionRevokedBeforeTouch(t *testing.T) {
	env := newTestEnv(t, withMemoryCache(revokingCache{Cache: cache.NewMemory()}))
	env.register(t, "grace@example.com", "grace")
	res := env.login(t, "grace")

	env.clock.Advance(2 * time.Minute)
	if _, err := env.engine.Verify(context.Background(), res.Tokens.AccessToken); !errors.Is(err, ErrSessionRevoked) {
		t.Fatalf("expected ErrSessionRevoked, got %v", err)
	}
	if _, err := env.engine.Verify(context.Background(), res.Tokens.AccessToken); !errors.Is(err, ErrSessionRevoked) {
		t.Fatalf("session must stay revoked, got %v", err)
	}
}

func TestVerifyExpiredAccessToken(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "edsger@example.com", "edsger")
	res := env.login(t, "edsger")

	env.clock.Advance(2 * time.Hour)
	if _, err := env.engine.Verify(context.Background(), res.Tokens.AccessToken); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected expired, got %v", err)
	}
}

func TestVerifyDoesNotTouchCredentialStore(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "john@example.com", "john")
	res := env.login(t, "john")
	env.store.resetCounts()

	if _, err := env.engine.Verify(context.Background(), res.Tokens.AccessToken); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if n := env.store.storeCalls(); n != 0 {
		t.Fatalf("verify made %d store calls", n)
	}
}

func TestVerifyFailsOpenOnCacheFault(t *testing.T) {
	fc := &failingCache{Cache: cache.NewMemory()}
	env := newTestEnv(t, withMemoryCache(fc))
	env.register(t, "margaret@example.com", "margaret")
	res := env.login(t, "margaret")

	fc.setBroken(true)
	if _, err := env.engine.Verify(context.Background(), res.Tokens.AccessToken); err != nil {
		t.Fatalf("verify should tolerate cache faults, got %v", err)
	}
	if env.engine.MetricsSnapshot().Counters[MetricCacheFailOpen] == 0 {
		t.Fatal("fail-open not counted")
	}

	_, err := env.engine.Refresh(context.Background(), res.Tokens.RefreshToken)
	if !errors.Is(err, ErrCacheUnavailable) {
		t.Fatalf("refresh must fail closed, got %v", err)
	}
	if PublicMessage(err) != "Service temporarily unavailable" {
		t.Fatalf("unexpected public message %q", PublicMessage(err))
	}
}

func TestLoginSucceedsWithBrokenCache(t *testing.T) {
	fc := &failingCache{Cache: cache.NewMemory()}
	env := newTestEnv(t, withMemoryCache(fc))
	env.register(t, "frances@example.com", "frances")
	fc.setBroken(true)

	res := env.login(t, "frances")
	if res.Tokens.AccessToken == "" || res.Session.SessionID == "" {
		t.Fatalf("expected tokens despite cache fault, got %+v", res)
	}
}

func TestRefreshRotatesAndDetectsReuse(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "tim@example.com", "tim")
	res := env.login(t, "tim")
	ctx := context.Background()

	pair, err := env.engine.Refresh(ctx, res.Tokens.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if pair.RefreshToken == res.Tokens.RefreshToken {
		t.Fatal("refresh token was not rotated")
	}
	claims, err := env.engine.Verify(ctx, pair.AccessToken)
	if err != nil {
		t.Fatalf("rotated access token rejected: %v", err)
	}
	if claims.SessionID != res.Session.SessionID {
		t.Fatal("a live session must be kept across rotation")
	}

	if _, err := env.engine.Refresh(ctx, res.Tokens.RefreshToken); !errors.Is(err, ErrRefreshReused) {
		t.Fatalf("expected reuse, got %v", err)
	}
	if _, err := env.engine.Refresh(ctx, pair.RefreshToken); err != nil {
		t.Fatalf("the winning token must stay valid after a reuse attempt: %v", err)
	}
	if _, err := env.engine.Refresh(ctx, "garbage"); !errors.Is(err, ErrRefreshInvalid) {
		t.Fatalf("expected invalid, got %v", err)
	}
}

func TestConcurrentRefreshHasOneWinner(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "vint@example.com", "vint")
	res := env.login(t, "vint")

	const workers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		wins    int
		reused  int
		unknown []error
	)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := env.engine.Refresh(context.Background(), res.Tokens.RefreshToken)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, ErrRefreshReused):
				reused++
			default:
				unknown = append(unknown, err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if wins != 1 || reused != workers-1 || len(unknown) != 0 {
		t.Fatalf("wins=%d reused=%d other=%v", wins, reused, unknown)
	}
}

func TestRefreshAfterSessionExpiryOpensNewSession(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "radia@example.com", "radia")
	res := env.login(t, "radia")

	env.redis.FastForward(61 * time.Minute)
	env.clock.Advance(61 * time.Minute)

	pair, err := env.engine.Refresh(context.Background(), res.Tokens.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	claims, err := env.engine.Verify(context.Background(), pair.AccessToken)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.SessionID == res.Session.SessionID {
		t.Fatal("expected a new session after expiry")
	}
}

func TestLogoutRevokesSessionAndRefreshChain(t *testing.T) {
	env := newTestEnv(t)
	p := env.register(t, "dennis@example.com", "dennis")
	res := env.login(t, "dennis")
	ctx := context.Background()

	if err := env.engine.Logout(ctx, p.ID, res.Session.SessionID); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := env.engine.Verify(ctx, res.Tokens.AccessToken); !errors.Is(err, ErrSessionRevoked) {
		t.Fatalf("expected revoked session, got %v", err)
	}
	if _, err := env.engine.Refresh(ctx, res.Tokens.RefreshToken); !errors.Is(err, ErrRefreshInvalid) {
		t.Fatalf("expected cleared chain, got %v", err)
	}
}

func TestForgotAndResetPassword(t *testing.T) {
	env := newTestEnv(t)
	p := env.register(t, "hedy@example.com", "hedy")
	res := env.login(t, "hedy")
	ctx := context.Background()

	if err := env.engine.ForgotPassword(ctx, "unknown@example.com"); err != nil {
		t.Fatalf("unknown email must not error: %v", err)
	}
	if _, ok := env.notifier.last(); ok {
		t.Fatal("no message expected for an unknown email")
	}

	if err := env.engine.ForgotPassword(ctx, "HEDY@example.com"); err != nil {
		t.Fatalf("forgot: %v", err)
	}
	msg, ok := env.notifier.last()
	if !ok || msg.To != p.Email || len(msg.Token) != 64 {
		t.Fatalf("unexpected reset message %+v", msg)
	}

	if err := env.engine.ResetPassword(ctx, msg.Token, "weak"); KindOf(err) != KindValidation {
		t.Fatalf("expected validation failure, got %v", err)
	}
	if err := env.engine.ResetPassword(ctx, msg.Token, "New-password7"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if err := env.engine.ResetPassword(ctx, msg.Token, "Other-password7"); !errors.Is(err, ErrResetInvalid) {
		t.Fatalf("reset token must be single use, got %v", err)
	}

	if _, err := env.engine.Verify(ctx, res.Tokens.AccessToken); !errors.Is(err, ErrSessionRevoked) {
		t.Fatalf("reset must revoke sessions, got %v", err)
	}
	if _, err := env.engine.Login(ctx, "hedy", "New-password7"); err != nil {
		t.Fatalf("login with new password: %v", err)
	}
}

func TestConcurrentResetsConsumeTokenOnce(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "joan@example.com", "joan")
	ctx := context.Background()

	if err := env.engine.ForgotPassword(ctx, "joan@example.com"); err != nil {
		t.Fatalf("forgot: %v", err)
	}
	msg, _ := env.notifier.last()

	// Both callers pass the lookup before either writes.
	var arrived sync.WaitGroup
	arrived.Add(2)
	env.store.mu.Lock()
	env.store.resetLookupHook = func() {
		arrived.Done()
		arrived.Wait()
	}
	env.store.mu.Unlock()

	passwords := []string{"First-password7", "Second-password7"}
	errs := make([]error, len(passwords))
	var wg sync.WaitGroup
	for i, pw := range passwords {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = env.engine.ResetPassword(ctx, msg.Token, pw)
		}()
	}
	wg.Wait()

	var won int
	for i, err := range errs {
		switch {
		case err == nil:
			won = i
		case !errors.Is(err, ErrResetInvalid):
			t.Fatalf("reset %d: unexpected error %v", i, err)
		}
	}
	if (errs[0] == nil) == (errs[1] == nil) {
		t.Fatalf("exactly one reset must apply, got %v", errs)
	}
	if _, err := env.engine.Login(ctx, "joan", passwords[won]); err != nil {
		t.Fatalf("winning password must log in: %v", err)
	}
	if _, err := env.engine.Login(ctx, "joan", passwords[1-won]); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("losing password must be rejected, got %v", err)
	}
}

func TestResetTokenExpires(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "katherine@example.com", "katherine")
	ctx := context.Background()

	if err := env.engine.ForgotPassword(ctx, "katherine@example.com"); err != nil {
		t.Fatalf("forgot: %v", err)
	}
	msg, _ := env.notifier.last()
	env.clock.Advance(16 * time.Minute)
	if err := env.engine.ResetPassword(ctx, msg.Token, "New-password7"); !errors.Is(err, ErrResetInvalid) {
		t.Fatalf("expected expired reset token, got %v", err)
	}
}

func TestChangePasswordKeepsCurrentSession(t *testing.T) {
	env := newTestEnv(t)
	p := env.register(t, "niklaus@example.com", "niklaus")
	first := env.login(t, "niklaus")
	second := env.login(t, "niklaus")
	ctx := context.Background()

	err := env.engine.ChangePassword(ctx, p.ID, second.Session.SessionID, "Wrong-pass1", "New-password7")
	if !errors.Is(err, ErrCurrentPasswordInvalid) {
		t.Fatalf("expected current password mismatch, got %v", err)
	}

	if err := env.engine.ChangePassword(ctx, p.ID, second.Session.SessionID, testPassword, "New-password7"); err != nil {
		t.Fatalf("change: %v", err)
	}
	if _, err := env.engine.Verify(ctx, second.Tokens.AccessToken); err != nil {
		t.Fatalf("current session must survive: %v", err)
	}
	if _, err := env.engine.Verify(ctx, first.Tokens.AccessToken); !errors.Is(err, ErrSessionRevoked) {
		t.Fatalf("other sessions must be revoked, got %v", err)
	}
	if _, err := env.engine.Refresh(ctx, second.Tokens.RefreshToken); !errors.Is(err, ErrRefreshInvalid) {
		t.Fatalf("refresh chain must be cleared, got %v", err)
	}
}

func TestUpdateProfile(t *testing.T) {
	env := newTestEnv(t)
	p := env.register(t, "barbara.l@example.com", "barbaral")
	ctx := context.Background()

	dept := "  Civil  "
	got, err := env.engine.UpdateProfile(ctx, p.ID, ProfileUpdate{Department: &dept})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got.Department != "Civil" || got.FirstName != "Ada" {
		t.Fatalf("unexpected profile %+v", got)
	}

	bad := "12"
	if _, err := env.engine.UpdateProfile(ctx, p.ID, ProfileUpdate{FirstName: &bad}); KindOf(err) != KindValidation {
		t.Fatalf("expected validation failure, got %v", err)
	}
}

func TestHealthReportsDegradedCache(t *testing.T) {
	fc := &failingCache{Cache: cache.NewMemory()}
	env := newTestEnv(t, withMemoryCache(fc))

	h := env.engine.Health(context.Background())
	if !h.Ready() || h.Degraded() {
		t.Fatalf("unexpected health %+v", h)
	}
	fc.setBroken(true)
	h = env.engine.Health(context.Background())
	if !h.Ready() || !h.Degraded() {
		t.Fatalf("expected degraded, got %+v", h)
	}
	env.store.pingErr = errBoom
	if env.engine.Health(context.Background()).Ready() {
		t.Fatal("store fault must make the engine not ready")
	}
}

func TestSecurityEventsAreCounted(t *testing.T) {
	env := newTestEnv(t)
	env.engine.RecordSecurityEvent(context.Background(), AuditEvent{EventType: EventIPBlocked, IP: "10.0.0.1"})
	env.engine.RecordSecurityEvent(context.Background(), AuditEvent{EventType: EventRateLimitExceeded})

	snap := env.engine.MetricsSnapshot()
	if snap.Counters[MetricIPBlocked] != 1 || snap.Counters[MetricRateLimitExceeded] != 1 {
		t.Fatalf("unexpected counters %+v", snap.Counters)
	}
}

func TestSecurityReport(t *testing.T) {
	env := newTestEnv(t)
	r := env.engine.SecurityReport()
	if r.SigningAlgorithm != "HS256" || r.LockoutThreshold != 5 || r.AccessTTL != time.Hour {
		t.Fatalf("unexpected report %+v", r)
	}
	if r.Roles != 4 {
		t.Fatalf("expected 4 built-in roles, got %d", r.Roles)
	}
}

func TestBuilderRejectsMissingStore(t *testing.T) {
	_, err := New().WithConfig(testConfig()).Build()
	if err == nil {
		t.Fatal("expected an error without a credential store")
	}
	b := New().WithConfig(testConfig()).WithCredentialStore(newFakeStore())
	if _, err := b.Build(); err != nil {
		t.Fatalf("build: %v", err)
	}
	if _, err := b.Build(); err == nil {
		t.Fatal("a builder must be single use")
	}
}
