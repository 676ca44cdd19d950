package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/taskauth/cache"
	"github.com/MrEthical07/taskauth/internal"
)

var (
	// ErrNotFound is returned when a session does not exist or has expired.
	ErrNotFound = errors.New("session not found")
	// ErrCacheUnavailable wraps cache faults so callers can fail open.
	ErrCacheUnavailable = errors.New("session cache unavailable")
)

// Store persists sessions in a [cache.Cache].
type Store struct {
	cache   cache.Cache
	prefix  string
	ttl     time.Duration
	sliding bool
	now     func() time.Time
}

// NewStore creates a session [Store]. prefix sets the key namespace and ttl
// the lifetime of a new or touched session; sliding extends ExpiresAt on Touch.
func NewStore(c cache.Cache, prefix string, ttl time.Duration, sliding bool) *Store {
	if prefix == "" {
		prefix = "session"
	}
	return &Store{cache: c, prefix: prefix, ttl: ttl, sliding: sliding, now: time.Now}
}

// SetClock replaces the time source. Intended for tests.
func (s *Store) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// TTL returns the configured session lifetime.
func (s *Store) TTL() time.Duration {
	return s.ttl
}

func (s *Store) key(sessionID string) string {
	return s.prefix + ":" + sessionID
}

func (s *Store) userKey(userID string) string {
	return s.prefix + ":user:" + userID
}

func wrap(err error) error {
	if errors.Is(err, cache.ErrMiss) {
		return ErrNotFound
	}
	return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
}

// Create starts a new session for userID and persists it.
func (s *Store) Create(ctx context.Context, userID, ip, userAgent string) (*Session, error) {
	sid, err := internal.NewSessionID()
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	sess := &Session{
		SessionID:    sid.String(),
		UserID:       userID,
		IPAddress:    ip,
		UserAgent:    userAgent,
		CreatedAt:    now,
		LastActivity: now,
		ExpiresAt:    now.Add(s.ttl),
	}
	if err := s.Save(ctx, sess); err != nil {
		return sess, err
	}
	return sess, nil
}

// Save writes sess with a TTL matching its remaining lifetime and indexes it
// under its owner.
//
//	Performance: 3 cache commands (SET + SADD + EXPIRE).
func (s *Store) Save(ctx context.Context, sess *Session) error {
	data, ttl, err := s.encode(sess)
	if err != nil {
		return err
	}
	if err := s.cache.Set(ctx, s.key(sess.SessionID), string(data), ttl); err != nil {
		return wrap(err)
	}
	return s.index(ctx, sess.UserID, sess.SessionID, ttl)
}

func (s *Store) encode(sess *Session) ([]byte, time.Duration, error) {
	data, err := Encode(sess)
	if err != nil {
		return nil, 0, err
	}
	ttl := sess.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return nil, 0, ErrNotFound
	}
	return data, ttl, nil
}

func (s *Store) index(ctx context.Context, userID, sessionID string, ttl time.Duration) error {
	if err := s.cache.SAdd(ctx, s.userKey(userID), sessionID); err != nil {
		return wrap(err)
	}
	// The index outlives any single session it lists.
	if err := s.cache.Expire(ctx, s.userKey(userID), ttl+time.Minute); err != nil {
		return wrap(err)
	}
	return nil
}

// Get returns a live session. Expired or missing records yield [ErrNotFound].
func (s *Store) Get(ctx context.Context, sessionID string) (*Session, error) {
	data, err := s.cache.Get(ctx, s.key(sessionID))
	if err != nil {
		return nil, wrap(err)
	}
	sess, err := Decode([]byte(data))
	if err != nil {
		return nil, err
	}
	if sess.State(s.now()) == StateExpired {
		_ = s.Delete(ctx, sess.UserID, sessionID)
		return nil, ErrNotFound
	}
	return sess, nil
}

// Touch records activity on sess, extending its expiry when sliding is on.
// A session deleted since it was read is not written back; Touch returns
// [ErrNotFound] instead.
func (s *Store) Touch(ctx context.Context, sess *Session) error {
	now := s.now().UTC()
	sess.LastActivity = now
	if s.sliding {
		sess.ExpiresAt = now.Add(s.ttl)
	}
	data, ttl, err := s.encode(sess)
	if err != nil {
		return err
	}
	ok, err := s.cache.SetIfExists(ctx, s.key(sess.SessionID), string(data), ttl)
	if err != nil {
		return wrap(err)
	}
	if !ok {
		return ErrNotFound
	}
	return s.index(ctx, sess.UserID, sess.SessionID, ttl)
}

// Delete removes one session and its index entry. Missing sessions are not an error.
func (s *Store) Delete(ctx context.Context, userID, sessionID string) error {
	if err := s.cache.Delete(ctx, s.key(sessionID)); err != nil {
		return wrap(err)
	}
	if userID == "" {
		return nil
	}
	if err := s.cache.SRem(ctx, s.userKey(userID), sessionID); err != nil {
		return wrap(err)
	}
	return nil
}

// DeleteAllForUser revokes every indexed session of userID and returns how
// many ids were indexed.
func (s *Store) DeleteAllForUser(ctx context.Context, userID string) (int, error) {
	ids, err := s.cache.SMembers(ctx, s.userKey(userID))
	if err != nil {
		return 0, wrap(err)
	}
	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, s.key(id))
	}
	keys = append(keys, s.userKey(userID))
	if err := s.cache.Delete(ctx, keys...); err != nil {
		return 0, wrap(err)
	}
	return len(ids), nil
}

// ActiveSessionIDs lists indexed session ids for userID whose records still exist.
func (s *Store) ActiveSessionIDs(ctx context.Context, userID string) ([]string, error) {
	ids, err := s.cache.SMembers(ctx, s.userKey(userID))
	if err != nil {
		return nil, wrap(err)
	}
	live := make([]string, 0, len(ids))
	var stale []string
	for _, id := range ids {
		ok, err := s.cache.Exists(ctx, s.key(id))
		if err != nil {
			return nil, wrap(err)
		}
		if ok {
			live = append(live, id)
		} else {
			stale = append(stale, id)
		}
	}
	if len(stale) > 0 {
		_ = s.cache.SRem(ctx, s.userKey(userID), stale...)
	}
	return live, nil
}
