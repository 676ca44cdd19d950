package flows

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/taskauth/lockout"
)

// LoginUserRecord is the flow-local view of a principal.
type LoginUserRecord struct {
	UserID       string
	Email        string
	Role         string
	PasswordHash string
	Active       bool
	Failures     int
	LockedUntil  *time.Time
}

// LoginResult is the flow-local login response shape.
type LoginResult struct {
	UserID          string
	SessionID       string
	LastActivity    time.Time
	AccessToken     string
	RefreshToken    string
	AccessExpiresAt time.Time
}

// LoginMetrics carries metric IDs needed by the login flow.
type LoginMetrics struct {
	LoginSuccess   int
	LoginFailure   int
	LoginLocked    int
	AccountLocked  int
	SessionCreated int
}

// LoginEvents carries audit event names used by the login flow.
type LoginEvents struct {
	LoginSuccess  string
	LoginFailure  string
	LoginLocked   string
	AccountLocked string
}

// LoginErrors carries host-level errors used by the login flow.
type LoginErrors struct {
	EngineNotReady     error
	InvalidCredentials error
	AccountDisabled    error
	UserNotFound       error
	Locked             func(until time.Time) error
}

// LoginDeps captures login dependencies.
type LoginDeps struct {
	PasswordUpgradeOnLogin bool

	ClientIPFromContext  func(context.Context) string
	UserAgentFromContext func(context.Context) string
	Now                  func() time.Time

	GetUserByLogin     func(context.Context, string) (LoginUserRecord, error)
	RecordLoginFailure func(context.Context, string) (lockout.State, error)
	RecordLoginSuccess func(context.Context, string) error
	UpdatePasswordHash func(context.Context, string, string) error

	VerifyPassword       func(string, string) (bool, error)
	DummyVerify          func(string)
	PasswordNeedsUpgrade func(string) (bool, error)
	HashPassword         func(string) (string, error)

	IssueLoginSession func(context.Context, LoginUserRecord, string, string) (*LoginResult, error)

	MetricInc func(int)
	EmitAudit func(context.Context, string, bool, string, string, error, func() map[string]string)
	Warn      func(string, ...any)

	Metrics LoginMetrics
	Events  LoginEvents
	Errors  LoginErrors
}

// RunLogin verifies a handle and password and, on success, opens a session.
//
// Lookup misses still spend one hash comparison. A locked principal is
// rejected before any comparison. Store faults are returned as-is and fail
// the login closed.
func RunLogin(ctx context.Context, handle, password string, deps LoginDeps) (*LoginResult, error) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.MetricInc == nil {
		deps.MetricInc = func(int) {}
	}
	if deps.EmitAudit == nil {
		deps.EmitAudit = func(context.Context, string, bool, string, string, error, func() map[string]string) {}
	}
	if deps.Warn == nil {
		deps.Warn = func(string, ...any) {}
	}
	if deps.DummyVerify == nil {
		deps.DummyVerify = func(string) {}
	}
	if deps.ClientIPFromContext == nil {
		deps.ClientIPFromContext = func(context.Context) string { return "" }
	}
	if deps.UserAgentFromContext == nil {
		deps.UserAgentFromContext = func(context.Context) string { return "" }
	}
	if deps.GetUserByLogin == nil ||
		deps.RecordLoginFailure == nil ||
		deps.RecordLoginSuccess == nil ||
		deps.VerifyPassword == nil ||
		deps.IssueLoginSession == nil ||
		deps.Errors.Locked == nil {
		return nil, deps.Errors.EngineNotReady
	}

	fail := func(userID, reason string, err error) {
		deps.MetricInc(deps.Metrics.LoginFailure)
		deps.EmitAudit(ctx, deps.Events.LoginFailure, false, userID, "", err, func() map[string]string {
			return map[string]string{
				"identifier": handle,
				"reason":     reason,
			}
		})
	}

	if handle == "" || password == "" {
		deps.DummyVerify(password)
		fail("", "empty_credentials", deps.Errors.InvalidCredentials)
		return nil, deps.Errors.InvalidCredentials
	}

	user, err := deps.GetUserByLogin(ctx, handle)
	if err != nil {
		if errors.Is(err, deps.Errors.UserNotFound) {
			deps.DummyVerify(password)
			fail("", "user_not_found", deps.Errors.InvalidCredentials)
			return nil, deps.Errors.InvalidCredentials
		}
		return nil, err
	}

	now := deps.Now()
	if state := lockout.Evaluate(user.Failures, user.LockedUntil, now); state.Locked() {
		lockedErr := deps.Errors.Locked(state.Until)
		deps.MetricInc(deps.Metrics.LoginLocked)
		deps.EmitAudit(ctx, deps.Events.LoginLocked, false, user.UserID, "", lockedErr, func() map[string]string {
			return map[string]string{
				"identifier":  handle,
				"lockedUntil": state.Until.UTC().Format(time.RFC3339),
			}
		})
		return nil, lockedErr
	}

	if !user.Active {
		fail(user.UserID, "account_disabled", deps.Errors.AccountDisabled)
		return nil, deps.Errors.AccountDisabled
	}

	ok, err := deps.VerifyPassword(password, user.PasswordHash)
	if err != nil {
		deps.Warn("taskauth: stored password hash unreadable", "user_id", user.UserID, "error", err)
	}
	if err != nil || !ok {
		state, recErr := deps.RecordLoginFailure(ctx, user.UserID)
		if recErr != nil {
			return nil, recErr
		}
		fail(user.UserID, "password_mismatch", deps.Errors.InvalidCredentials)
		if state.Locked() {
			deps.MetricInc(deps.Metrics.AccountLocked)
			deps.EmitAudit(ctx, deps.Events.AccountLocked, false, user.UserID, "", deps.Errors.Locked(state.Until), func() map[string]string {
				return map[string]string{
					"failures":    itoa(state.Failures),
					"lockedUntil": state.Until.UTC().Format(time.RFC3339),
				}
			})
		}
		return nil, deps.Errors.InvalidCredentials
	}

	if err := deps.RecordLoginSuccess(ctx, user.UserID); err != nil {
		return nil, err
	}

	if deps.PasswordUpgradeOnLogin && deps.PasswordNeedsUpgrade != nil && deps.HashPassword != nil && deps.UpdatePasswordHash != nil {
		if needsUpgrade, err := deps.PasswordNeedsUpgrade(user.PasswordHash); err == nil && needsUpgrade {
			if upgradedHash, err := deps.HashPassword(password); err == nil {
				if err := deps.UpdatePasswordHash(ctx, user.UserID, upgradedHash); err != nil {
					deps.Warn("taskauth: password hash upgrade update failed", "user_id", user.UserID, "error", err)
				}
			} else {
				deps.Warn("taskauth: password hash upgrade generation failed", "user_id", user.UserID, "error", err)
			}
		}
	}
	password = ""

	result, err := deps.IssueLoginSession(ctx, user, deps.ClientIPFromContext(ctx), deps.UserAgentFromContext(ctx))
	if err != nil {
		return nil, err
	}

	deps.MetricInc(deps.Metrics.SessionCreated)
	deps.MetricInc(deps.Metrics.LoginSuccess)
	deps.EmitAudit(ctx, deps.Events.LoginSuccess, true, user.UserID, result.SessionID, nil, func() map[string]string {
		return map[string]string{
			"identifier": handle,
		}
	})
	return result, nil
}
