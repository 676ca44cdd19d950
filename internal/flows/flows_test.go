package flows

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrEthical07/taskauth/lockout"
)

var (
	errNotReady = errors.New("not ready")
	errInvalid  = errors.New("invalid")
	errDisabled = errors.New("disabled")
	errNotFound = errors.New("not found")
	errLocked   = errors.New("locked")
	errExpired  = errors.New("expired")
	errMismatch = errors.New("mismatch")
	errGone     = errors.New("gone")
)

type loginHarness struct {
	user        LoginUserRecord
	lookupErr   error
	verifies    int
	dummies     int
	failures    int
	successes   int
	upgrades    int
	issued      int
	failState   lockout.State
	events      []string
	needUpgrade bool
}

func (h *loginHarness) deps() LoginDeps {
	return LoginDeps{
		PasswordUpgradeOnLogin: true,
		Now:                    func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) },
		GetUserByLogin: func(_ context.Context, handle string) (LoginUserRecord, error) {
			if h.lookupErr != nil {
				return LoginUserRecord{}, h.lookupErr
			}
			return h.user, nil
		},
		RecordLoginFailure: func(context.Context, string) (lockout.State, error) {
			h.failures++
			return h.failState, nil
		},
		RecordLoginSuccess: func(context.Context, string) error {
			h.successes++
			return nil
		},
		UpdatePasswordHash: func(context.Context, string, string) error {
			h.upgrades++
			return nil
		},
		VerifyPassword: func(plain, hash string) (bool, error) {
			h.verifies++
			return plain == "right", nil
		},
		DummyVerify:          func(string) { h.dummies++ },
		PasswordNeedsUpgrade: func(string) (bool, error) { return h.needUpgrade, nil },
		HashPassword:         func(string) (string, error) { return "new-hash", nil },
		IssueLoginSession: func(_ context.Context, u LoginUserRecord, _, _ string) (*LoginResult, error) {
			h.issued++
			return &LoginResult{UserID: u.UserID, SessionID: "s1", AccessToken: "a", RefreshToken: "r"}, nil
		},
		EmitAudit: func(_ context.Context, event string, _ bool, _, _ string, _ error, _ func() map[string]string) {
			h.events = append(h.events, event)
		},
		Events: LoginEvents{
			LoginSuccess:  "login_success",
			LoginFailure:  "login_failure",
			LoginLocked:   "login_locked",
			AccountLocked: "account_locked",
		},
		Errors: LoginErrors{
			EngineNotReady:     errNotReady,
			InvalidCredentials: errInvalid,
			AccountDisabled:    errDisabled,
			UserNotFound:       errNotFound,
			Locked:             func(time.Time) error { return errLocked },
		},
	}
}

func TestRunLoginSuccess(t *testing.T) {
	h := &loginHarness{user: LoginUserRecord{UserID: "u1", Active: true, PasswordHash: "h"}, needUpgrade: true}
	res, err := RunLogin(context.Background(), "ada", "right", h.deps())
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if res.UserID != "u1" || h.successes != 1 || h.issued != 1 {
		t.Fatalf("unexpected result %+v harness %+v", res, h)
	}
	if h.upgrades != 1 {
		t.Fatal("expected a rehash on login")
	}
}

func TestRunLoginUnknownUserSpendsAHash(t *testing.T) {
	h := &loginHarness{lookupErr: errNotFound}
	_, err := RunLogin(context.Background(), "nobody", "right", h.deps())
	if !errors.Is(err, errInvalid) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
	if h.dummies != 1 || h.verifies != 0 {
		t.Fatalf("expected one dummy verify, got dummies=%d verifies=%d", h.dummies, h.verifies)
	}
}

func TestRunLoginEmptyCredentials(t *testing.T) {
	h := &loginHarness{}
	_, err := RunLogin(context.Background(), "", "", h.deps())
	if !errors.Is(err, errInvalid) || h.dummies != 1 {
		t.Fatalf("expected invalid credentials with a dummy verify, got %v", err)
	}
}

func TestRunLoginLockedSkipsHashCompare(t *testing.T) {
	until := time.Date(2026, 1, 1, 0, 30, 0, 0, time.UTC)
	h := &loginHarness{user: LoginUserRecord{UserID: "u1", Active: true, Failures: 5, LockedUntil: &until}}
	_, err := RunLogin(context.Background(), "ada", "right", h.deps())
	if !errors.Is(err, errLocked) {
		t.Fatalf("expected locked, got %v", err)
	}
	if h.verifies != 0 || h.failures != 0 {
		t.Fatal("a locked principal must not reach the password check")
	}
}

func TestRunLoginFailureThatLocksEmitsAccountLocked(t *testing.T) {
	h := &loginHarness{
		user:      LoginUserRecord{UserID: "u1", Active: true, Failures: 4},
		failState: lockout.State{Kind: lockout.Locked, Until: time.Date(2026, 1, 1, 0, 30, 0, 0, time.UTC), Failures: 5},
	}
	_, err := RunLogin(context.Background(), "ada", "wrong", h.deps())
	if !errors.Is(err, errInvalid) {
		t.Fatalf("the locking attempt still reports invalid credentials, got %v", err)
	}
	if h.failures != 1 {
		t.Fatalf("expected one recorded failure, got %d", h.failures)
	}
	if len(h.events) != 2 || h.events[1] != "account_locked" {
		t.Fatalf("unexpected events %v", h.events)
	}
}

func TestRunLoginDisabled(t *testing.T) {
	h := &loginHarness{user: LoginUserRecord{UserID: "u1"}}
	if _, err := RunLogin(context.Background(), "ada", "right", h.deps()); !errors.Is(err, errDisabled) {
		t.Fatalf("expected disabled, got %v", err)
	}
}

func TestRunLoginStoreFaultPassesThrough(t *testing.T) {
	fault := errors.New("db down")
	h := &loginHarness{lookupErr: fault}
	if _, err := RunLogin(context.Background(), "ada", "right", h.deps()); !errors.Is(err, fault) {
		t.Fatalf("expected store fault, got %v", err)
	}
}

func TestRunLoginRequiresDeps(t *testing.T) {
	_, err := RunLogin(context.Background(), "ada", "right", LoginDeps{Errors: LoginErrors{EngineNotReady: errNotReady}})
	if !errors.Is(err, errNotReady) {
		t.Fatalf("expected not ready, got %v", err)
	}
}

type fakeSessions struct {
	ensureErr error
	created   bool
	rotateErr error
	discarded int
}

func (f *fakeSessions) EnsureSession(_ context.Context, _, sessionID, _, _ string) (RefreshSessionRecord, error) {
	if f.ensureErr != nil {
		return RefreshSessionRecord{}, f.ensureErr
	}
	if f.created {
		return RefreshSessionRecord{SessionID: "fresh", Created: true}, nil
	}
	return RefreshSessionRecord{SessionID: sessionID}, nil
}

func (f *fakeSessions) DiscardSession(context.Context, string, string) error {
	f.discarded++
	return nil
}

func (f *fakeSessions) Rotate(context.Context, string, string, string) error { return f.rotateErr }

func refreshDeps(store RefreshSessionStore, user RefreshUserRecord) RefreshDeps {
	return RefreshDeps{
		Now: func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) },
		ParseRefreshToken: func(token string) (RefreshClaims, error) {
			switch token {
			case "expired":
				return RefreshClaims{}, errExpired
			case "bad":
				return RefreshClaims{}, errors.New("signature")
			}
			return RefreshClaims{UserID: user.UserID, SessionID: "s1"}, nil
		},
		GetUserByID: func(context.Context, string) (RefreshUserRecord, error) { return user, nil },
		IssuePair: func(_ RefreshUserRecord, sid string) (string, string, time.Time, error) {
			return "access-" + sid, "refresh-" + sid, time.Time{}, nil
		},
		SessionStore: store,
		ExpiredToken: errExpired,
		NotFound:     errGone,
		Reused:       errMismatch,
	}
}

func TestRunRefresh(t *testing.T) {
	active := RefreshUserRecord{UserID: "u1", Active: true}
	locked := time.Date(2026, 1, 1, 1, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		token     string
		user      RefreshUserRecord
		sessions  *fakeSessions
		want      RefreshFailureKind
		sessionID string
		discarded int
	}{
		{name: "rotates", token: "ok", user: active, sessions: &fakeSessions{}, want: RefreshFailureNone, sessionID: "s1"},
		{name: "new session", token: "ok", user: active, sessions: &fakeSessions{created: true}, want: RefreshFailureNone, sessionID: "fresh"},
		{name: "decode", token: "bad", user: active, sessions: &fakeSessions{}, want: RefreshFailureDecode},
		{name: "expired", token: "expired", user: active, sessions: &fakeSessions{}, want: RefreshFailureExpired},
		{name: "inactive", token: "ok", user: RefreshUserRecord{UserID: "u1"}, sessions: &fakeSessions{}, want: RefreshFailureAccountStatus},
		{name: "locked", token: "ok", user: RefreshUserRecord{UserID: "u1", Active: true, Failures: 5, LockedUntil: &locked}, sessions: &fakeSessions{}, want: RefreshFailureLocked},
		{name: "session fault", token: "ok", user: active, sessions: &fakeSessions{ensureErr: errors.New("cache")}, want: RefreshFailureSession},
		{name: "reuse", token: "ok", user: active, sessions: &fakeSessions{rotateErr: errMismatch}, want: RefreshFailureReuse},
		{name: "reuse discards new session", token: "ok", user: active, sessions: &fakeSessions{created: true, rotateErr: errMismatch}, want: RefreshFailureReuse, discarded: 1},
		{name: "chain cleared", token: "ok", user: active, sessions: &fakeSessions{rotateErr: errGone}, want: RefreshFailureNotFound},
		{name: "rotate fault", token: "ok", user: active, sessions: &fakeSessions{rotateErr: errors.New("cache")}, want: RefreshFailureUnavailable},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res := RunRefresh(context.Background(), tc.token, refreshDeps(tc.sessions, tc.user))
			if res.Failure != tc.want {
				t.Fatalf("failure = %v, want %v (err %v)", res.Failure, tc.want, res.Err)
			}
			if tc.want == RefreshFailureNone && res.SessionID != tc.sessionID {
				t.Fatalf("session = %q, want %q", res.SessionID, tc.sessionID)
			}
			if tc.sessions.discarded != tc.discarded {
				t.Fatalf("discarded = %d, want %d", tc.sessions.discarded, tc.discarded)
			}
		})
	}
}
