package session

import (
	"encoding/json"
	"errors"
	"fmt"
)

const sessionSchemaVersion = 1

// ErrCorrupt is returned when a stored record cannot be decoded.
var ErrCorrupt = errors.New("session record corrupt")

// Encode serializes s at the current schema version.
func Encode(s *Session) ([]byte, error) {
	if s.SessionID == "" || s.UserID == "" {
		return nil, errors.New("session id and user id are required")
	}
	out := *s
	out.Version = sessionSchemaVersion
	return json.Marshal(&out)
}

// Decode parses a stored record. Records written by a newer schema are rejected.
func Decode(data []byte) (*Session, error) {
	if len(data) == 0 {
		return nil, ErrCorrupt
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if s.Version < 1 || s.Version > sessionSchemaVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, s.Version)
	}
	if s.SessionID == "" || s.UserID == "" {
		return nil, ErrCorrupt
	}
	return &s, nil
}
