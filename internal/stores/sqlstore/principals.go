package sqlstore

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/MrEthical07/taskauth"
	"github.com/MrEthical07/taskauth/lockout"
)

type principalRow struct {
	ID                  string         `db:"id"`
	Email               string         `db:"email"`
	Username            string         `db:"username"`
	PasswordHash        string         `db:"password_hash"`
	FirstName           string         `db:"first_name"`
	LastName            string         `db:"last_name"`
	Role                string         `db:"role"`
	Department          string         `db:"department"`
	Phone               string         `db:"phone"`
	IsActive            bool           `db:"is_active"`
	FailedLoginAttempts int            `db:"failed_login_attempts"`
	LockedUntil         sql.NullInt64  `db:"locked_until"`
	LastLogin           sql.NullInt64  `db:"last_login"`
	ResetToken          sql.NullString `db:"password_reset_token"`
	ResetExpires        sql.NullInt64  `db:"password_reset_expires"`
	CreatedAt           int64          `db:"created_at"`
	UpdatedAt           int64          `db:"updated_at"`
}

func (r principalRow) toPrincipal() *taskauth.Principal {
	return &taskauth.Principal{
		ID:                  r.ID,
		Email:               r.Email,
		Username:            r.Username,
		PasswordHash:        r.PasswordHash,
		FirstName:           r.FirstName,
		LastName:            r.LastName,
		Role:                r.Role,
		Department:          r.Department,
		Phone:               r.Phone,
		Active:              r.IsActive,
		FailedLoginAttempts: r.FailedLoginAttempts,
		LockedUntil:         ptrMillis(r.LockedUntil),
		LastLogin:           ptrMillis(r.LastLogin),
		CreatedAt:           fromMillis(r.CreatedAt),
		UpdatedAt:           fromMillis(r.UpdatedAt),
	}
}

const principalColumns = `id, email, username, password_hash, first_name, last_name, role,
	department, phone, is_active, failed_login_attempts, locked_until, last_login,
	password_reset_token, password_reset_expires, created_at, updated_at`

// CreatePrincipal inserts p. Duplicate emails or usernames, compared without
// case, return taskauth.ErrAccountExists.
func (s *Store) CreatePrincipal(ctx context.Context, p *taskauth.Principal) error {
	const q = `INSERT INTO users (id, email, username, password_hash, first_name, last_name, role,
		department, phone, is_active, failed_login_attempts, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`
	_, err := s.db.ExecContext(ctx, q,
		p.ID, strings.ToLower(p.Email), p.Username, p.PasswordHash, p.FirstName, p.LastName, p.Role,
		p.Department, p.Phone, p.Active, toMillis(p.CreatedAt), toMillis(p.UpdatedAt))
	if isUniqueViolation(err) {
		return taskauth.ErrAccountExists
	}
	return err
}

func (s *Store) getPrincipal(ctx context.Context, where string, args ...any) (*taskauth.Principal, error) {
	var row principalRow
	err := s.db.GetContext(ctx, &row, `SELECT `+principalColumns+` FROM users WHERE `+where+` LIMIT 1`, args...)
	if noRows(err) {
		return nil, taskauth.ErrPrincipalNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.toPrincipal(), nil
}

// PrincipalByLogin matches handle against email or username without case.
func (s *Store) PrincipalByLogin(ctx context.Context, handle string) (*taskauth.Principal, error) {
	return s.getPrincipal(ctx, `email = ? OR username = ?`, handle, handle)
}

// PrincipalByID returns the principal with id.
func (s *Store) PrincipalByID(ctx context.Context, id string) (*taskauth.Principal, error) {
	return s.getPrincipal(ctx, `id = ?`, id)
}

// PrincipalByEmail returns the principal with email.
func (s *Store) PrincipalByEmail(ctx context.Context, email string) (*taskauth.Principal, error) {
	return s.getPrincipal(ctx, `email = ?`, email)
}

// UpdateProfile applies the non-nil fields of upd.
func (s *Store) UpdateProfile(ctx context.Context, id string, upd taskauth.ProfileUpdate, now time.Time) (*taskauth.Principal, error) {
	const q = `UPDATE users SET
		first_name = COALESCE(?, first_name),
		last_name  = COALESCE(?, last_name),
		department = COALESCE(?, department),
		phone      = COALESCE(?, phone),
		updated_at = ?
		WHERE id = ?`
	res, err := s.db.ExecContext(ctx, q, upd.FirstName, upd.LastName, upd.Department, upd.Phone, toMillis(now), id)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, taskauth.ErrPrincipalNotFound
	}
	return s.PrincipalByID(ctx, id)
}

// RecordLoginFailure counts one failure and applies policy in a single
// statement: a lapsed lock restarts counting, and reaching the threshold
// locks until now plus the cooldown.
func (s *Store) RecordLoginFailure(ctx context.Context, id string, policy lockout.Policy, now time.Time) (lockout.State, error) {
	const q = `UPDATE users SET
		failed_login_attempts = CASE
			WHEN locked_until IS NOT NULL AND locked_until <= ? THEN 1
			ELSE failed_login_attempts + 1 END,
		locked_until = CASE
			WHEN (CASE WHEN locked_until IS NOT NULL AND locked_until <= ? THEN 1
				ELSE failed_login_attempts + 1 END) >= ? THEN ?
			WHEN locked_until IS NOT NULL AND locked_until <= ? THEN NULL
			ELSE locked_until END,
		updated_at = ?
		WHERE id = ?
		RETURNING failed_login_attempts, locked_until`
	ms := toMillis(now)
	var (
		failures int
		until    sql.NullInt64
	)
	err := s.db.QueryRowxContext(ctx, q,
		ms, ms, policy.Threshold, toMillis(now.Add(policy.Cooldown)), ms, ms, id,
	).Scan(&failures, &until)
	if noRows(err) {
		return lockout.State{}, taskauth.ErrPrincipalNotFound
	}
	if err != nil {
		return lockout.State{}, err
	}
	return lockout.Evaluate(failures, ptrMillis(until), now), nil
}

// RecordLoginSuccess zeroes the counter, clears the lock and sets last_login.
func (s *Store) RecordLoginSuccess(ctx context.Context, id string, now time.Time) error {
	const q = `UPDATE users SET failed_login_attempts = 0, locked_until = NULL, last_login = ?, updated_at = ? WHERE id = ?`
	return s.execOne(ctx, q, toMillis(now), toMillis(now), id)
}

// UpdatePasswordHash replaces the hash only.
func (s *Store) UpdatePasswordHash(ctx context.Context, id, hash string, now time.Time) error {
	const q = `UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?`
	return s.execOne(ctx, q, hash, toMillis(now), id)
}

// SetPassword replaces the hash and clears lockout and reset state.
func (s *Store) SetPassword(ctx context.Context, id, hash string, now time.Time) error {
	const q = `UPDATE users SET password_hash = ?, failed_login_attempts = 0, locked_until = NULL,
		password_reset_token = NULL, password_reset_expires = NULL, updated_at = ? WHERE id = ?`
	return s.execOne(ctx, q, hash, toMillis(now), id)
}

// SetResetToken stores a reset token hash and its expiry.
func (s *Store) SetResetToken(ctx context.Context, id, tokenHash string, expires time.Time) error {
	const q = `UPDATE users SET password_reset_token = ?, password_reset_expires = ? WHERE id = ?`
	return s.execOne(ctx, q, tokenHash, toMillis(expires), id)
}

// PrincipalByResetToken finds the holder of an unexpired reset token hash.
func (s *Store) PrincipalByResetToken(ctx context.Context, tokenHash string, now time.Time) (*taskauth.Principal, error) {
	return s.getPrincipal(ctx, `password_reset_token = ? AND password_reset_expires > ?`, tokenHash, toMillis(now))
}

// ConsumeResetToken sets the password only while tokenHash is still the
// unexpired reset token of id.
func (s *Store) ConsumeResetToken(ctx context.Context, id, tokenHash, hash string, now time.Time) error {
	const q = `UPDATE users SET password_hash = ?, failed_login_attempts = 0, locked_until = NULL,
		password_reset_token = NULL, password_reset_expires = NULL, updated_at = ?
		WHERE id = ? AND password_reset_token = ? AND password_reset_expires > ?`
	ms := toMillis(now)
	return s.execOne(ctx, q, hash, ms, id, tokenHash, ms)
}

func (s *Store) execOne(ctx context.Context, q string, args ...any) error {
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return taskauth.ErrPrincipalNotFound
	}
	return nil
}
