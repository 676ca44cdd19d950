package taskauth

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
)

// Register validates req, hashes the password and creates an active
// principal. It returns a [*ValidationError] listing every violated rule, or
// [ErrAccountExists] for a duplicate email or username.
func (e *Engine) Register(ctx context.Context, req RegisterRequest) (*Profile, error) {
	if e == nil || e.store == nil {
		return nil, ErrEngineNotReady
	}

	req.Email = normalizeEmail(req.Email)
	req.Username = strings.TrimSpace(req.Username)
	req.FirstName = strings.TrimSpace(req.FirstName)
	req.LastName = strings.TrimSpace(req.LastName)
	req.Department = strings.TrimSpace(req.Department)
	req.Phone = strings.TrimSpace(req.Phone)
	if req.Role == "" {
		req.Role = e.config.DefaultRole
	}

	if details := e.validateRegister(&req); len(details) > 0 {
		return nil, newValidationError(details...)
	}

	hash, err := e.hasher.Hash(req.Password)
	if err != nil {
		return nil, err
	}
	req.Password = ""

	now := e.now().UTC()
	p := &Principal{
		ID:           uuid.NewString(),
		Email:        req.Email,
		Username:     req.Username,
		PasswordHash: hash,
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		Role:         req.Role,
		Department:   req.Department,
		Phone:        req.Phone,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	sctx, cancel := e.storeCtx(ctx)
	defer cancel()
	if err := e.store.CreatePrincipal(sctx, p); err != nil {
		if errors.Is(err, ErrAccountExists) {
			e.metricInc(MetricRegisterDuplicate)
			e.emitAudit(ctx, auditEventRegisterDuplicate, false, "", "", err, func() map[string]string {
				return map[string]string{"email": req.Email, "username": req.Username}
			})
			return nil, ErrAccountExists
		}
		return nil, storeErr(err)
	}

	e.metricInc(MetricRegisterSuccess)
	e.emitAudit(ctx, auditEventRegisterSuccess, true, p.ID, "", nil, func() map[string]string {
		return map[string]string{"role": p.Role}
	})
	profile := p.Profile()
	return &profile, nil
}

// Profile returns the public profile of userID.
func (e *Engine) Profile(ctx context.Context, userID string) (*Profile, error) {
	if e == nil || e.store == nil {
		return nil, ErrEngineNotReady
	}
	sctx, cancel := e.storeCtx(ctx)
	defer cancel()
	p, err := e.store.PrincipalByID(sctx, userID)
	if err != nil {
		return nil, storeErr(err)
	}
	profile := p.Profile()
	return &profile, nil
}

// UpdateProfile applies the non-nil fields of upd.
func (e *Engine) UpdateProfile(ctx context.Context, userID string, upd ProfileUpdate) (*Profile, error) {
	if e == nil || e.store == nil {
		return nil, ErrEngineNotReady
	}
	trim := func(s *string) *string {
		if s == nil {
			return nil
		}
		v := strings.TrimSpace(*s)
		return &v
	}
	upd = ProfileUpdate{
		FirstName:  trim(upd.FirstName),
		LastName:   trim(upd.LastName),
		Department: trim(upd.Department),
		Phone:      trim(upd.Phone),
	}
	if details := validateProfileUpdate(upd); len(details) > 0 {
		return nil, newValidationError(details...)
	}

	sctx, cancel := e.storeCtx(ctx)
	defer cancel()
	p, err := e.store.UpdateProfile(sctx, userID, upd, e.now().UTC())
	if err != nil {
		return nil, storeErr(err)
	}
	e.emitAudit(ctx, auditEventProfileUpdate, true, userID, "", nil, nil)
	profile := p.Profile()
	return &profile, nil
}
