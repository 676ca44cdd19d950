package session

import "time"

// State is the derived status of a stored session.
type State int

const (
	// StateLive means the session exists and has not passed its expiry.
	StateLive State = iota
	// StateExpired means the record is present but past ExpiresAt.
	StateExpired
)

// Session is one login session.
type Session struct {
	Version      int       `json:"v"`
	SessionID    string    `json:"sessionId"`
	UserID       string    `json:"userId"`
	IPAddress    string    `json:"ipAddress"`
	UserAgent    string    `json:"userAgent"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActivity time.Time `json:"lastActivity"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// State computes the session status at now from its stored fields.
func (s *Session) State(now time.Time) State {
	if !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt) {
		return StateExpired
	}
	return StateLive
}
