package taskauth

import (
	"context"
	"time"

	"github.com/MrEthical07/taskauth/lockout"
)

// Principal is the stored user record as read from a [CredentialStore].
type Principal struct {
	ID           string
	Email        string
	Username     string
	PasswordHash string
	FirstName    string
	LastName     string
	Role         string
	Department   string
	Phone        string
	Active       bool

	FailedLoginAttempts int
	LockedUntil         *time.Time
	LastLogin           *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Lockout derives the lockout state of p at now.
func (p *Principal) Lockout(now time.Time) lockout.State {
	return lockout.Evaluate(p.FailedLoginAttempts, p.LockedUntil, now)
}

// Profile returns the public view of p.
func (p *Principal) Profile() Profile {
	return Profile{
		ID:         p.ID,
		Email:      p.Email,
		Username:   p.Username,
		FirstName:  p.FirstName,
		LastName:   p.LastName,
		Role:       p.Role,
		Department: p.Department,
		Phone:      p.Phone,
		IsActive:   p.Active,
		LastLogin:  p.LastLogin,
		CreatedAt:  p.CreatedAt,
		UpdatedAt:  p.UpdatedAt,
	}
}

// Profile is the public view of a principal. It never carries the password
// hash or reset fields.
type Profile struct {
	ID         string     `json:"id"`
	Email      string     `json:"email"`
	Username   string     `json:"username"`
	FirstName  string     `json:"first_name"`
	LastName   string     `json:"last_name"`
	Role       string     `json:"role"`
	Department string     `json:"department,omitempty"`
	Phone      string     `json:"phone,omitempty"`
	IsActive   bool       `json:"is_active"`
	LastLogin  *time.Time `json:"last_login,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// RegisterRequest is the input of [Engine.Register].
type RegisterRequest struct {
	Email      string `json:"email"`
	Username   string `json:"username"`
	Password   string `json:"password"`
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	Role       string `json:"role,omitempty"`
	Department string `json:"department,omitempty"`
	Phone      string `json:"phone,omitempty"`
}

// ProfileUpdate carries the editable profile fields. Nil fields are left unchanged.
type ProfileUpdate struct {
	FirstName  *string `json:"first_name,omitempty"`
	LastName   *string `json:"last_name,omitempty"`
	Department *string `json:"department,omitempty"`
	Phone      *string `json:"phone,omitempty"`
}

// TokenPair is an access/refresh token pair.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	TokenType    string `json:"tokenType"`
	ExpiresIn    int    `json:"expiresIn"`
}

// SessionInfo describes the session a login created.
type SessionInfo struct {
	SessionID    string    `json:"sessionId"`
	LastActivity time.Time `json:"lastActivity"`
}

// LoginResult is returned by [Engine.Login].
type LoginResult struct {
	User    Profile     `json:"user"`
	Tokens  TokenPair   `json:"tokens"`
	Session SessionInfo `json:"session"`
}

// Claims is the verified content of an access token.
type Claims struct {
	UserID    string
	Email     string
	Role      string
	SessionID string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// ResetMessage is handed to a [ResetNotifier] for delivery.
type ResetMessage struct {
	To        string
	Name      string
	Token     string
	ExpiresAt time.Time
}

// ResetNotifier delivers password reset tokens out of band.
type ResetNotifier interface {
	SendPasswordReset(ctx context.Context, msg ResetMessage) error
}

// Health is the result of [Engine.Health].
type Health struct {
	Store error
	Cache error
}

// Ready reports whether the engine can serve requests. A cache fault alone
// only degrades service.
func (h Health) Ready() bool { return h.Store == nil }

// Degraded reports a reachable store with an unreachable cache.
func (h Health) Degraded() bool { return h.Store == nil && h.Cache != nil }
