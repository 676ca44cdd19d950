package taskauth

import (
	"context"
	"time"

	"github.com/MrEthical07/taskauth/lockout"
)

// CredentialStore is the durable authority for principals and lockout state.
//
// Implementations return [ErrPrincipalNotFound] for missing principals and
// [ErrAccountExists] for duplicate handles. Any other error is treated as a
// store fault and fails the operation closed.
type CredentialStore interface {
	// CreatePrincipal inserts p. ID, CreatedAt and UpdatedAt are set by the caller.
	CreatePrincipal(ctx context.Context, p *Principal) error
	// PrincipalByLogin finds a principal whose email or username equals handle,
	// compared case-insensitively.
	PrincipalByLogin(ctx context.Context, handle string) (*Principal, error)
	PrincipalByID(ctx context.Context, id string) (*Principal, error)
	PrincipalByEmail(ctx context.Context, email string) (*Principal, error)
	UpdateProfile(ctx context.Context, id string, upd ProfileUpdate, now time.Time) (*Principal, error)

	// RecordLoginFailure increments the failure counter of id and applies
	// policy in one atomic step, returning the resulting state. Concurrent
	// calls must each be counted.
	RecordLoginFailure(ctx context.Context, id string, policy lockout.Policy, now time.Time) (lockout.State, error)
	// RecordLoginSuccess zeroes the counter, clears the lock and sets last_login.
	RecordLoginSuccess(ctx context.Context, id string, now time.Time) error

	// UpdatePasswordHash replaces the stored hash without touching lockout state.
	UpdatePasswordHash(ctx context.Context, id, hash string, now time.Time) error
	// SetPassword replaces the hash, zeroes the counter, clears the lock and
	// clears any pending reset token atomically.
	SetPassword(ctx context.Context, id, hash string, now time.Time) error
	// SetResetToken stores the hash of a reset token and its expiry.
	SetResetToken(ctx context.Context, id, tokenHash string, expires time.Time) error
	// PrincipalByResetToken finds the principal holding an unexpired reset token hash.
	PrincipalByResetToken(ctx context.Context, tokenHash string, now time.Time) (*Principal, error)
	// ConsumeResetToken does what SetPassword does, but only while tokenHash
	// is still the unexpired reset token of id, in one conditional write. It
	// returns [ErrPrincipalNotFound] when the token was already used, replaced
	// or expired.
	ConsumeResetToken(ctx context.Context, id, tokenHash, hash string, now time.Time) error

	Ping(ctx context.Context) error
}
