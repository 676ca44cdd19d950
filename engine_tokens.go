package taskauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/taskauth/internal/flows"
	"github.com/MrEthical07/taskauth/jwt"
	"github.com/MrEthical07/taskauth/session"
	"go.uber.org/zap"
)

// Refresh exchanges a refresh token for a new pair and rotates the
// principal's single refresh chain. Of concurrent rotations of the same token
// exactly one succeeds; the rest get [ErrRefreshReused].
//
// Rotation needs the cache. When it is unreachable Refresh fails with
// [ErrCacheUnavailable] instead of accepting an unverifiable token.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	if e == nil || e.tokens == nil || e.flows.Refresh.SessionStore == nil {
		return nil, ErrEngineNotReady
	}

	result := flows.RunRefresh(ctx, refreshToken, e.flows.Refresh)
	if result.Failure == flows.RefreshFailureNone {
		e.metricInc(MetricRefreshSuccess)
		e.emitAudit(ctx, auditEventRefreshSuccess, true, result.UserID, result.SessionID, nil, nil)
		pair := e.tokenPair(result.AccessToken, result.RefreshToken)
		return &pair, nil
	}

	err := e.refreshError(result)
	switch result.Failure {
	case flows.RefreshFailureReuse:
		e.metricInc(MetricRefreshReused)
		e.emitAudit(ctx, auditEventRefreshReuseDetected, false, result.UserID, result.SessionID, err, nil)
	default:
		e.metricInc(MetricRefreshInvalid)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, result.UserID, result.SessionID, err, func() map[string]string {
			return map[string]string{"failure": refreshFailureName(result.Failure)}
		})
	}
	return nil, err
}

func (e *Engine) refreshError(result flows.RefreshResult) error {
	switch result.Failure {
	case flows.RefreshFailureDecode, flows.RefreshFailureNotFound:
		return ErrRefreshInvalid
	case flows.RefreshFailureExpired:
		return ErrRefreshExpired
	case flows.RefreshFailureUser:
		if errors.Is(result.Err, ErrPrincipalNotFound) {
			return ErrRefreshInvalid
		}
		return storeErr(result.Err)
	case flows.RefreshFailureAccountStatus:
		return ErrAccountDisabled
	case flows.RefreshFailureLocked:
		return &LockedError{Until: result.LockedUntil}
	case flows.RefreshFailureReuse:
		return ErrRefreshReused
	case flows.RefreshFailureSession, flows.RefreshFailureUnavailable:
		e.logger.Warn("refresh rotation needs the cache", zap.Error(result.Err))
		return fmt.Errorf("%w: %v", ErrCacheUnavailable, result.Err)
	default:
		return result.Err
	}
}

func refreshFailureName(kind flows.RefreshFailureKind) string {
	switch kind {
	case flows.RefreshFailureDecode:
		return "decode"
	case flows.RefreshFailureExpired:
		return "expired"
	case flows.RefreshFailureUser:
		return "user"
	case flows.RefreshFailureAccountStatus:
		return "account_status"
	case flows.RefreshFailureLocked:
		return "locked"
	case flows.RefreshFailureSession:
		return "session"
	case flows.RefreshFailureIssue:
		return "issue"
	case flows.RefreshFailureNotFound:
		return "chain_cleared"
	case flows.RefreshFailureUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

func (e *Engine) refreshDeps() flows.RefreshDeps {
	return flows.RefreshDeps{
		ClientIPFromContext:  ClientIPFromContext,
		UserAgentFromContext: userAgentFromContext,
		Now:                  e.now,
		ParseRefreshToken: func(token string) (flows.RefreshClaims, error) {
			claims, err := e.tokens.ParseRefresh(token)
			if err != nil {
				return flows.RefreshClaims{}, err
			}
			if claims.UserID == "" || claims.SessionID == "" {
				return flows.RefreshClaims{}, jwt.ErrMalformed
			}
			return flows.RefreshClaims{UserID: claims.UserID, SessionID: claims.SessionID}, nil
		},
		GetUserByID: func(ctx context.Context, id string) (flows.RefreshUserRecord, error) {
			sctx, cancel := e.storeCtx(ctx)
			defer cancel()
			p, err := e.store.PrincipalByID(sctx, id)
			if err != nil {
				return flows.RefreshUserRecord{}, err
			}
			return flows.RefreshUserRecord{
				UserID:      p.ID,
				Email:       p.Email,
				Role:        p.Role,
				Active:      p.Active,
				Failures:    p.FailedLoginAttempts,
				LockedUntil: p.LockedUntil,
			}, nil
		},
		IssuePair: func(user flows.RefreshUserRecord, sessionID string) (string, string, time.Time, error) {
			access, exp, err := e.tokens.CreateAccess(jwt.Subject{
				UserID:    user.UserID,
				Email:     user.Email,
				Role:      user.Role,
				SessionID: sessionID,
			})
			if err != nil {
				return "", "", time.Time{}, err
			}
			refresh, _, err := e.tokens.CreateRefresh(user.UserID, sessionID)
			if err != nil {
				return "", "", time.Time{}, err
			}
			return access, refresh, exp, nil
		},
		SessionStore: refreshSessionStore{e: e},
		Warn:         e.warn,
		ExpiredToken: jwt.ErrExpired,
		NotFound:     session.ErrRefreshNotFound,
		Reused:       session.ErrRefreshMismatch,
	}
}

// refreshSessionStore adapts the session and refresh stores to the refresh flow.
type refreshSessionStore struct {
	e *Engine
}

func (s refreshSessionStore) EnsureSession(ctx context.Context, userID, sessionID, ip, userAgent string) (flows.RefreshSessionRecord, error) {
	cctx, cancel := s.e.cacheCtx(ctx)
	defer cancel()

	sess, err := s.e.sessions.Get(cctx, sessionID)
	switch {
	case err == nil && sess.UserID == userID:
		err := s.e.sessions.Touch(cctx, sess)
		if err == nil {
			return flows.RefreshSessionRecord{SessionID: sess.SessionID}, nil
		}
		if !errors.Is(err, session.ErrNotFound) {
			return flows.RefreshSessionRecord{}, err
		}
	case err != nil && isCacheFault(err):
		return flows.RefreshSessionRecord{}, err
	}

	created, err := s.e.sessions.Create(cctx, userID, ip, userAgent)
	if err != nil {
		return flows.RefreshSessionRecord{}, err
	}
	s.e.metricInc(MetricSessionCreated)
	return flows.RefreshSessionRecord{SessionID: created.SessionID, Created: true}, nil
}

func (s refreshSessionStore) DiscardSession(ctx context.Context, userID, sessionID string) error {
	cctx, cancel := s.e.cacheCtx(ctx)
	defer cancel()
	return s.e.sessions.Delete(cctx, userID, sessionID)
}

func (s refreshSessionStore) Rotate(ctx context.Context, userID, presented, next string) error {
	cctx, cancel := s.e.cacheCtx(ctx)
	defer cancel()
	return s.e.refresh.Rotate(cctx, userID, presented, next)
}
