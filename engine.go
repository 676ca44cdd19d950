package taskauth

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/MrEthical07/taskauth/cache"
	internalaudit "github.com/MrEthical07/taskauth/internal/audit"
	"github.com/MrEthical07/taskauth/internal/flows"
	"github.com/MrEthical07/taskauth/jwt"
	"github.com/MrEthical07/taskauth/password"
	"github.com/MrEthical07/taskauth/permission"
	"github.com/MrEthical07/taskauth/session"
	"go.uber.org/zap"
)

// Engine is the authentication facade. It is safe for concurrent use once
// returned by [Builder.Build].
type Engine struct {
	config   Config
	logger   *zap.Logger
	store    CredentialStore
	cache    cache.Cache
	sessions *session.Store
	refresh  *session.RefreshStore
	tokens   *jwt.Manager
	hasher   password.Hasher
	roles    *permission.RoleManager
	notifier ResetNotifier
	audit    *internalaudit.Dispatcher
	metrics  *Metrics
	flows    flows.Deps
	now      func() time.Time

	dummyHash string
}

// Close drains the audit dispatcher.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped returns how many audit events were dropped under backpressure.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns a copy of the engine counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// Roles returns the role manager permission checks are answered from.
func (e *Engine) Roles() *permission.RoleManager {
	if e == nil {
		return nil
	}
	return e.roles
}

// HasPermission reports whether role grants perm.
func (e *Engine) HasPermission(role, perm string) bool {
	if e == nil || e.roles == nil {
		return false
	}
	return e.roles.Has(role, perm)
}

// Logger returns the engine logger.
func (e *Engine) Logger() *zap.Logger {
	if e == nil || e.logger == nil {
		return zap.NewNop()
	}
	return e.logger
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.config.Timeouts.Store)
}

func (e *Engine) cacheCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.config.Timeouts.Cache)
}

// failOpen records a tolerated cache fault.
func (e *Engine) failOpen(op string, err error) {
	e.metricInc(MetricCacheFailOpen)
	e.logger.Warn("cache unavailable, continuing", zap.String("op", op), zap.Error(err))
}

func (e *Engine) warn(msg string, kv ...any) {
	fields := make([]zap.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key, _ := kv[i].(string)
		if err, ok := kv[i+1].(error); ok {
			fields = append(fields, zap.NamedError(key, err))
			continue
		}
		fields = append(fields, zap.Any(key, kv[i+1]))
	}
	e.logger.Warn(msg, fields...)
}

// Login verifies handle (email or username) and password and opens a session.
//
// Failures return [ErrInvalidCredentials], [ErrAccountDisabled], a
// [*LockedError], or a wrapped [ErrStoreUnavailable].
func (e *Engine) Login(ctx context.Context, handle, pass string) (*LoginResult, error) {
	if e == nil || e.store == nil {
		return nil, ErrEngineNotReady
	}

	var found *Principal
	deps := e.flows.Login
	deps.GetUserByLogin = func(ctx context.Context, h string) (flows.LoginUserRecord, error) {
		sctx, cancel := e.storeCtx(ctx)
		defer cancel()
		p, err := e.store.PrincipalByLogin(sctx, h)
		if err != nil {
			return flows.LoginUserRecord{}, storeErr(err)
		}
		found = p
		return loginRecord(p), nil
	}

	res, err := flows.RunLogin(ctx, strings.ToLower(strings.TrimSpace(handle)), pass, deps)
	if err != nil {
		return nil, err
	}

	profile := found.Profile()
	last := e.now().UTC()
	profile.LastLogin = &last
	return &LoginResult{
		User:    profile,
		Tokens:  e.tokenPair(res.AccessToken, res.RefreshToken),
		Session: SessionInfo{SessionID: res.SessionID, LastActivity: res.LastActivity},
	}, nil
}

func loginRecord(p *Principal) flows.LoginUserRecord {
	return flows.LoginUserRecord{
		UserID:       p.ID,
		Email:        p.Email,
		Role:         p.Role,
		PasswordHash: p.PasswordHash,
		Active:       p.Active,
		Failures:     p.FailedLoginAttempts,
		LockedUntil:  p.LockedUntil,
	}
}

func (e *Engine) tokenPair(access, refresh string) TokenPair {
	return TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    int(e.tokens.AccessTTL() / time.Second),
	}
}

func (e *Engine) issueLoginSession(ctx context.Context, user flows.LoginUserRecord, ip, userAgent string) (*flows.LoginResult, error) {
	cctx, cancel := e.cacheCtx(ctx)
	defer cancel()

	sess, err := e.sessions.Create(cctx, user.UserID, ip, userAgent)
	if sess == nil {
		return nil, err
	}
	if err != nil {
		e.failOpen("session_create", err)
	}

	access, exp, err := e.tokens.CreateAccess(jwt.Subject{
		UserID:    user.UserID,
		Email:     user.Email,
		Role:      user.Role,
		SessionID: sess.SessionID,
	})
	if err != nil {
		return nil, err
	}
	refresh, _, err := e.tokens.CreateRefresh(user.UserID, sess.SessionID)
	if err != nil {
		return nil, err
	}
	if err := e.refresh.Set(cctx, user.UserID, refresh); err != nil {
		e.failOpen("refresh_set", err)
	}

	return &flows.LoginResult{
		UserID:          user.UserID,
		SessionID:       sess.SessionID,
		LastActivity:    sess.LastActivity,
		AccessToken:     access,
		RefreshToken:    refresh,
		AccessExpiresAt: exp,
	}, nil
}

// Verify checks an access token and, when the cache is reachable, that its
// session is still live and owned by the token's principal. Live sessions are
// touched, which slides their expiry when sliding sessions are enabled.
func (e *Engine) Verify(ctx context.Context, token string) (*Claims, error) {
	if e == nil || e.tokens == nil {
		return nil, ErrEngineNotReady
	}
	if e.metrics.LatencyEnabled() {
		start := time.Now()
		defer func() { e.metrics.Observe(MetricValidateLatency, time.Since(start)) }()
	}
	if token == "" {
		e.metricInc(MetricVerifyFailure)
		return nil, ErrTokenMissing
	}

	claims, err := e.tokens.ParseAccess(token)
	if err != nil {
		e.metricInc(MetricVerifyFailure)
		if errors.Is(err, jwt.ErrExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenMalformed
	}
	if claims.UserID == "" || claims.SessionID == "" {
		e.metricInc(MetricVerifyFailure)
		return nil, ErrTokenMalformed
	}

	cctx, cancel := e.cacheCtx(ctx)
	defer cancel()
	sess, err := e.sessions.Get(cctx, claims.SessionID)
	switch {
	case err == nil:
		if sess.UserID != claims.UserID {
			e.metricInc(MetricVerifyFailure)
			return nil, ErrSessionRevoked
		}
		if e.now().Sub(sess.LastActivity) >= e.config.Session.TouchInterval {
			switch err := e.sessions.Touch(cctx, sess); {
			case errors.Is(err, session.ErrNotFound):
				e.metricInc(MetricVerifyFailure)
				return nil, ErrSessionRevoked
			case err != nil && isCacheFault(err):
				e.failOpen("session_touch", err)
			}
		}
	case isCacheFault(err):
		e.failOpen("session_get", err)
	default:
		e.metricInc(MetricVerifyFailure)
		return nil, ErrSessionRevoked
	}

	out := &Claims{
		UserID:    claims.UserID,
		Email:     claims.Email,
		Role:      claims.Role,
		SessionID: claims.SessionID,
	}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time
	}
	return out, nil
}

// Authenticate verifies token and loads its principal from the credential
// store. Inactive principals get [ErrAccountDisabled] and locked ones a
// [*LockedError]. Store faults fail closed.
func (e *Engine) Authenticate(ctx context.Context, token string) (*Principal, *Claims, error) {
	claims, err := e.Verify(ctx, token)
	if err != nil {
		return nil, nil, err
	}
	sctx, cancel := e.storeCtx(ctx)
	defer cancel()
	p, err := e.store.PrincipalByID(sctx, claims.UserID)
	if err != nil {
		if errors.Is(err, ErrPrincipalNotFound) {
			return nil, nil, ErrSessionRevoked
		}
		return nil, nil, storeErr(err)
	}
	if !p.Active {
		return nil, nil, ErrAccountDisabled
	}
	if state := p.Lockout(e.now()); state.Locked() {
		return nil, nil, &LockedError{Until: state.Until}
	}
	return p, claims, nil
}

// Logout revokes sessionID, every other session of userID, and the refresh
// chain. Cache faults are logged and never returned.
func (e *Engine) Logout(ctx context.Context, userID, sessionID string) error {
	if e == nil || e.sessions == nil {
		return ErrEngineNotReady
	}
	cctx, cancel := e.cacheCtx(ctx)
	defer cancel()

	if sessionID != "" {
		if err := e.sessions.Delete(cctx, userID, sessionID); err != nil {
			e.failOpen("session_delete", err)
		}
	}
	revoked, err := e.sessions.DeleteAllForUser(cctx, userID)
	if err != nil {
		e.failOpen("session_delete_all", err)
	}
	if err := e.refresh.Clear(cctx, userID); err != nil {
		e.failOpen("refresh_clear", err)
	}

	e.metricInc(MetricLogout)
	e.emitAudit(ctx, auditEventLogout, true, userID, sessionID, nil, func() map[string]string {
		return map[string]string{"sessions_revoked": strconv.Itoa(revoked)}
	})
	return nil
}

// revokeAll clears every session and the refresh chain of userID except keep.
func (e *Engine) revokeAll(ctx context.Context, userID, keep string) {
	cctx, cancel := e.cacheCtx(ctx)
	defer cancel()

	if keep == "" {
		if n, err := e.sessions.DeleteAllForUser(cctx, userID); err != nil {
			e.failOpen("session_delete_all", err)
		} else if n > 0 {
			e.metricInc(MetricSessionRevoked)
		}
	} else {
		ids, err := e.sessions.ActiveSessionIDs(cctx, userID)
		if err != nil {
			e.failOpen("session_list", err)
		}
		for _, id := range ids {
			if id == keep {
				continue
			}
			if err := e.sessions.Delete(cctx, userID, id); err != nil {
				e.failOpen("session_delete", err)
				break
			}
			e.metricInc(MetricSessionRevoked)
		}
	}
	if err := e.refresh.Clear(cctx, userID); err != nil {
		e.failOpen("refresh_clear", err)
	}
}

// Health pings the credential store and the cache.
func (e *Engine) Health(ctx context.Context) Health {
	var h Health
	sctx, cancel := e.storeCtx(ctx)
	h.Store = e.store.Ping(sctx)
	cancel()
	cctx, cancel := e.cacheCtx(ctx)
	h.Cache = e.cache.Ping(cctx)
	cancel()
	return h
}
