package taskauth

import (
	"context"
	"errors"

	"github.com/MrEthical07/taskauth/internal"
	"go.uber.org/zap"
)

// ForgotPasswordMessage is the response to every forgot-password request.
const ForgotPasswordMessage = "If an account with that email exists, a password reset link has been sent."

// ForgotPassword issues a reset token for an active account with this email
// and hands it to the notifier. Unknown or inactive accounts are
// indistinguishable from known ones; only store faults are returned.
func (e *Engine) ForgotPassword(ctx context.Context, email string) error {
	if e == nil || e.store == nil {
		return ErrEngineNotReady
	}
	email = normalizeEmail(email)
	e.metricInc(MetricPasswordResetRequest)
	if !validEmail(email) {
		return nil
	}

	sctx, cancel := e.storeCtx(ctx)
	defer cancel()
	p, err := e.store.PrincipalByEmail(sctx, email)
	if err != nil {
		if errors.Is(err, ErrPrincipalNotFound) {
			e.emitAudit(ctx, auditEventPasswordResetRequest, false, "", "", err, func() map[string]string {
				return map[string]string{"reason": "unknown_email"}
			})
			return nil
		}
		return storeErr(err)
	}
	if !p.Active {
		e.emitAudit(ctx, auditEventPasswordResetRequest, false, p.ID, "", ErrAccountDisabled, nil)
		return nil
	}

	token, err := internal.NewResetToken()
	if err != nil {
		return err
	}
	expires := e.now().UTC().Add(e.config.Reset.TokenTTL)
	if err := e.store.SetResetToken(sctx, p.ID, internal.HashToken(token), expires); err != nil {
		return storeErr(err)
	}

	msg := ResetMessage{
		To:        p.Email,
		Name:      p.FirstName,
		Token:     token,
		ExpiresAt: expires,
	}
	if err := e.notifier.SendPasswordReset(ctx, msg); err != nil {
		e.logger.Error("password reset delivery failed", zap.String("user_id", p.ID), zap.Error(err))
	}
	e.emitAudit(ctx, auditEventPasswordResetRequest, true, p.ID, "", nil, func() map[string]string {
		return map[string]string{"expires_at": formatTime(expires)}
	})
	return nil
}

// ResetPassword sets a new password for the holder of an unexpired reset
// token. The token is single use. Lockout state is cleared and every session
// and the refresh chain are revoked.
func (e *Engine) ResetPassword(ctx context.Context, token, newPassword string) error {
	if e == nil || e.store == nil {
		return ErrEngineNotReady
	}
	if token == "" {
		e.metricInc(MetricPasswordResetFailure)
		return ErrResetInvalid
	}
	if details := e.checkPassword(newPassword); len(details) > 0 {
		e.metricInc(MetricPasswordResetFailure)
		return newValidationError(details...)
	}

	sctx, cancel := e.storeCtx(ctx)
	defer cancel()
	now := e.now().UTC()
	tokenHash := internal.HashToken(token)
	invalid := func(userID string) error {
		e.metricInc(MetricPasswordResetFailure)
		e.emitAudit(ctx, auditEventPasswordResetConfirm, false, userID, "", ErrResetInvalid, nil)
		return ErrResetInvalid
	}
	p, err := e.store.PrincipalByResetToken(sctx, tokenHash, now)
	if err != nil {
		if errors.Is(err, ErrPrincipalNotFound) {
			return invalid("")
		}
		return storeErr(err)
	}

	hash, err := e.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	// Concurrent resets with one token race here; only one write applies.
	if err := e.store.ConsumeResetToken(sctx, p.ID, tokenHash, hash, now); err != nil {
		if errors.Is(err, ErrPrincipalNotFound) {
			return invalid(p.ID)
		}
		return storeErr(err)
	}

	e.revokeAll(ctx, p.ID, "")
	e.metricInc(MetricPasswordResetSuccess)
	e.emitAudit(ctx, auditEventPasswordResetConfirm, true, p.ID, "", nil, nil)
	return nil
}

// ChangePassword replaces the password of userID after checking current.
// Lockout state is cleared. Sessions other than keepSessionID and the refresh
// chain are revoked.
func (e *Engine) ChangePassword(ctx context.Context, userID, keepSessionID, current, next string) error {
	if e == nil || e.store == nil {
		return ErrEngineNotReady
	}

	sctx, cancel := e.storeCtx(ctx)
	defer cancel()
	p, err := e.store.PrincipalByID(sctx, userID)
	if err != nil {
		return storeErr(err)
	}

	ok, err := e.hasher.Verify(current, p.PasswordHash)
	if err != nil || !ok {
		e.metricInc(MetricPasswordChangeFailure)
		e.emitAudit(ctx, auditEventPasswordChangeFailure, false, userID, keepSessionID, ErrCurrentPasswordInvalid, nil)
		return ErrCurrentPasswordInvalid
	}
	if details := e.checkPassword(next); len(details) > 0 {
		e.metricInc(MetricPasswordChangeFailure)
		return newValidationError(details...)
	}

	hash, err := e.hasher.Hash(next)
	if err != nil {
		return err
	}
	if err := e.store.SetPassword(sctx, userID, hash, e.now().UTC()); err != nil {
		return storeErr(err)
	}

	e.revokeAll(ctx, userID, keepSessionID)
	e.metricInc(MetricPasswordChangeSuccess)
	e.emitAudit(ctx, auditEventPasswordChangeSuccess, true, userID, keepSessionID, nil, nil)
	return nil
}
