package pgstore

import (
	"context"
	"strings"
	"time"

	"github.com/MrEthical07/taskauth"
	"github.com/MrEthical07/taskauth/lockout"
	"github.com/jackc/pgx/v5"
)

const principalColumns = `id::text, email, username, password_hash, first_name, last_name, role,
department, phone, is_active, failed_login_attempts, locked_until, last_login, created_at, updated_at`

func scanPrincipal(row pgx.Row) (*taskauth.Principal, error) {
	var p taskauth.Principal
	err := row.Scan(&p.ID, &p.Email, &p.Username, &p.PasswordHash, &p.FirstName, &p.LastName, &p.Role,
		&p.Department, &p.Phone, &p.Active, &p.FailedLoginAttempts, &p.LockedUntil, &p.LastLogin,
		&p.CreatedAt, &p.UpdatedAt)
	if noRows(err) {
		return nil, taskauth.ErrPrincipalNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// CreatePrincipal inserts p. Duplicate emails or usernames return
// taskauth.ErrAccountExists.
func (s *Store) CreatePrincipal(ctx context.Context, p *taskauth.Principal) error {
	const q = `
INSERT INTO users (id, email, username, password_hash, first_name, last_name, role,
department, phone, is_active, failed_login_attempts, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 0, $11, $12)`
	_, err := s.pool.Exec(ctx, q,
		p.ID, strings.ToLower(p.Email), p.Username, p.PasswordHash, p.FirstName, p.LastName, p.Role,
		p.Department, p.Phone, p.Active, p.CreatedAt, p.UpdatedAt)
	if isUniqueViolation(err) {
		return taskauth.ErrAccountExists
	}
	return err
}

// PrincipalByLogin matches handle against email or username without case.
func (s *Store) PrincipalByLogin(ctx context.Context, handle string) (*taskauth.Principal, error) {
	q := `SELECT ` + principalColumns + ` FROM users WHERE lower(email) = lower($1) OR lower(username) = lower($1) LIMIT 1`
	return scanPrincipal(s.pool.QueryRow(ctx, q, handle))
}

// PrincipalByID returns the principal with id.
func (s *Store) PrincipalByID(ctx context.Context, id string) (*taskauth.Principal, error) {
	q := `SELECT ` + principalColumns + ` FROM users WHERE id::text = $1`
	return scanPrincipal(s.pool.QueryRow(ctx, q, id))
}

// PrincipalByEmail returns the principal with email.
func (s *Store) PrincipalByEmail(ctx context.Context, email string) (*taskauth.Principal, error) {
	q := `SELECT ` + principalColumns + ` FROM users WHERE lower(email) = lower($1)`
	return scanPrincipal(s.pool.QueryRow(ctx, q, email))
}

// UpdateProfile applies the non-nil fields of upd and returns the result.
func (s *Store) UpdateProfile(ctx context.Context, id string, upd taskauth.ProfileUpdate, now time.Time) (*taskauth.Principal, error) {
	q := `
UPDATE users SET
first_name = COALESCE($2, first_name),
last_name = COALESCE($3, last_name),
department = COALESCE($4, department),
phone = COALESCE($5, phone),
updated_at = $6
WHERE id::text = $1
RETURNING ` + principalColumns
	return scanPrincipal(s.pool.QueryRow(ctx, q, id, upd.FirstName, upd.LastName, upd.Department, upd.Phone, now))
}

// RecordLoginFailure counts one failure and applies policy in one statement.
// Row locking serialises concurrent failures on the same principal.
func (s *Store) RecordLoginFailure(ctx context.Context, id string, policy lockout.Policy, now time.Time) (lockout.State, error) {
	const q = `
UPDATE users SET
failed_login_attempts = CASE
	WHEN locked_until IS NOT NULL AND locked_until <= $1 THEN 1
	ELSE failed_login_attempts + 1 END,
locked_until = CASE
	WHEN (CASE WHEN locked_until IS NOT NULL AND locked_until <= $1 THEN 1
		ELSE failed_login_attempts + 1 END) >= $2 THEN $3
	WHEN locked_until IS NOT NULL AND locked_until <= $1 THEN NULL
	ELSE locked_until END,
updated_at = $1
WHERE id::text = $4
RETURNING failed_login_attempts, locked_until`
	var (
		failures int
		until    *time.Time
	)
	err := s.pool.QueryRow(ctx, q, now, policy.Threshold, now.Add(policy.Cooldown), id).Scan(&failures, &until)
	if noRows(err) {
		return lockout.State{}, taskauth.ErrPrincipalNotFound
	}
	if err != nil {
		return lockout.State{}, err
	}
	return lockout.Evaluate(failures, until, now), nil
}

// RecordLoginSuccess zeroes the counter, clears the lock and sets last_login.
func (s *Store) RecordLoginSuccess(ctx context.Context, id string, now time.Time) error {
	const q = `UPDATE users SET failed_login_attempts = 0, locked_until = NULL, last_login = $2, updated_at = $2 WHERE id::text = $1`
	return s.execOne(ctx, q, id, now)
}

// UpdatePasswordHash replaces the hash only.
func (s *Store) UpdatePasswordHash(ctx context.Context, id, hash string, now time.Time) error {
	const q = `UPDATE users SET password_hash = $2, updated_at = $3 WHERE id::text = $1`
	return s.execOne(ctx, q, id, hash, now)
}

// SetPassword replaces the hash and clears lockout and reset state.
func (s *Store) SetPassword(ctx context.Context, id, hash string, now time.Time) error {
	const q = `
UPDATE users SET password_hash = $2, failed_login_attempts = 0, locked_until = NULL,
password_reset_token = NULL, password_reset_expires = NULL, updated_at = $3
WHERE id::text = $1`
	return s.execOne(ctx, q, id, hash, now)
}

// SetResetToken stores a reset token hash and its expiry.
func (s *Store) SetResetToken(ctx context.Context, id, tokenHash string, expires time.Time) error {
	const q = `UPDATE users SET password_reset_token = $2, password_reset_expires = $3 WHERE id::text = $1`
	return s.execOne(ctx, q, id, tokenHash, expires)
}

// PrincipalByResetToken finds the holder of an unexpired reset token hash.
func (s *Store) PrincipalByResetToken(ctx context.Context, tokenHash string, now time.Time) (*taskauth.Principal, error) {
	q := `SELECT ` + principalColumns + ` FROM users WHERE password_reset_token = $1 AND password_reset_expires > $2`
	return scanPrincipal(s.pool.QueryRow(ctx, q, tokenHash, now))
}

// ConsumeResetToken sets the password only while tokenHash is still the
// unexpired reset token of id.
func (s *Store) ConsumeResetToken(ctx context.Context, id, tokenHash, hash string, now time.Time) error {
	const q = `
UPDATE users SET password_hash = $2, failed_login_attempts = 0, locked_until = NULL,
password_reset_token = NULL, password_reset_expires = NULL, updated_at = $3
WHERE id::text = $1 AND password_reset_token = $4 AND password_reset_expires > $3`
	return s.execOne(ctx, q, id, hash, now, tokenHash)
}

func (s *Store) execOne(ctx context.Context, q string, args ...any) error {
	tag, err := s.pool.Exec(ctx, q, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return taskauth.ErrPrincipalNotFound
	}
	return nil
}
