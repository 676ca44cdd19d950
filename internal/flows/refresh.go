package flows

import (
	"context"
	"time"

	"github.com/MrEthical07/taskauth/lockout"
)

// RefreshFailureKind classifies refresh flow failures for root-level mapping.
type RefreshFailureKind int

const (
	RefreshFailureNone RefreshFailureKind = iota
	RefreshFailureDecode
	RefreshFailureExpired
	RefreshFailureUser
	RefreshFailureAccountStatus
	RefreshFailureLocked
	RefreshFailureSession
	RefreshFailureIssue
	RefreshFailureNotFound
	RefreshFailureReuse
	RefreshFailureUnavailable
)

// RefreshClaims is the flow-local view of a verified refresh token.
type RefreshClaims struct {
	UserID    string
	SessionID string
}

// RefreshUserRecord is the flow-local view of the principal being refreshed.
type RefreshUserRecord struct {
	UserID      string
	Email       string
	Role        string
	Active      bool
	Failures    int
	LockedUntil *time.Time
}

// RefreshSessionRecord is the session a rotated pair is bound to.
type RefreshSessionRecord struct {
	SessionID string
	// Created is set when the previous session had expired and a new one was opened.
	Created bool
}

// RefreshResult carries either the issued token pair or failure metadata.
type RefreshResult struct {
	Failure         RefreshFailureKind
	Err             error
	UserID          string
	SessionID       string
	LockedUntil     time.Time
	AccessToken     string
	RefreshToken    string
	AccessExpiresAt time.Time
}

// RefreshSessionStore is the cache-backed state a rotation touches.
type RefreshSessionStore interface {
	// EnsureSession returns a live session for the principal, opening a new
	// one when sessionID is gone.
	EnsureSession(ctx context.Context, userID, sessionID, ip, userAgent string) (RefreshSessionRecord, error)
	DiscardSession(ctx context.Context, userID, sessionID string) error
	// Rotate swaps the active refresh token of userID from presented to next.
	// It returns NotFound when the chain is cleared and Reused when presented is
	// not the active token.
	Rotate(ctx context.Context, userID, presented, next string) error
}

// RefreshDeps captures refresh flow dependencies.
type RefreshDeps struct {
	ClientIPFromContext  func(context.Context) string
	UserAgentFromContext func(context.Context) string
	Now                  func() time.Time

	ParseRefreshToken func(string) (RefreshClaims, error)
	GetUserByID       func(context.Context, string) (RefreshUserRecord, error)
	IssuePair         func(RefreshUserRecord, string) (access, refresh string, accessExpiresAt time.Time, err error)
	SessionStore      RefreshSessionStore
	Warn              func(string, ...any)

	ExpiredToken error
	NotFound     error
	Reused       error
}

// RunRefresh verifies a refresh token, reloads its principal and rotates the
// single active refresh chain to a freshly minted pair.
func RunRefresh(ctx context.Context, refreshToken string, deps RefreshDeps) RefreshResult {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Warn == nil {
		deps.Warn = func(string, ...any) {}
	}
	if deps.ClientIPFromContext == nil {
		deps.ClientIPFromContext = func(context.Context) string { return "" }
	}
	if deps.UserAgentFromContext == nil {
		deps.UserAgentFromContext = func(context.Context) string { return "" }
	}

	claims, err := deps.ParseRefreshToken(refreshToken)
	if err != nil {
		kind := RefreshFailureDecode
		if isErr(err, deps.ExpiredToken) {
			kind = RefreshFailureExpired
		}
		return RefreshResult{Failure: kind, Err: err}
	}

	user, err := deps.GetUserByID(ctx, claims.UserID)
	if err != nil {
		return RefreshResult{Failure: RefreshFailureUser, Err: err, UserID: claims.UserID, SessionID: claims.SessionID}
	}
	if !user.Active {
		return RefreshResult{Failure: RefreshFailureAccountStatus, UserID: user.UserID, SessionID: claims.SessionID}
	}
	if state := lockout.Evaluate(user.Failures, user.LockedUntil, deps.Now()); state.Locked() {
		return RefreshResult{Failure: RefreshFailureLocked, UserID: user.UserID, SessionID: claims.SessionID, LockedUntil: state.Until}
	}

	sess, err := deps.SessionStore.EnsureSession(ctx, user.UserID, claims.SessionID, deps.ClientIPFromContext(ctx), deps.UserAgentFromContext(ctx))
	if err != nil {
		return RefreshResult{Failure: RefreshFailureSession, Err: err, UserID: user.UserID, SessionID: claims.SessionID}
	}
	discard := func() {
		if !sess.Created {
			return
		}
		if err := deps.SessionStore.DiscardSession(ctx, user.UserID, sess.SessionID); err != nil {
			deps.Warn("taskauth: discarding unused refresh session failed", "session_id", sess.SessionID, "error", err)
		}
	}

	access, refresh, accessExp, err := deps.IssuePair(user, sess.SessionID)
	if err != nil {
		discard()
		return RefreshResult{Failure: RefreshFailureIssue, Err: err, UserID: user.UserID, SessionID: sess.SessionID}
	}

	if err := deps.SessionStore.Rotate(ctx, user.UserID, refreshToken, refresh); err != nil {
		discard()
		kind := RefreshFailureUnavailable
		switch {
		case isErr(err, deps.Reused):
			kind = RefreshFailureReuse
		case isErr(err, deps.NotFound):
			kind = RefreshFailureNotFound
		}
		return RefreshResult{Failure: kind, Err: err, UserID: user.UserID, SessionID: claims.SessionID}
	}

	return RefreshResult{
		UserID:          user.UserID,
		SessionID:       sess.SessionID,
		AccessToken:     access,
		RefreshToken:    refresh,
		AccessExpiresAt: accessExp,
	}
}
