package apikey

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"strings"
	"time"

	"github.com/MrEthical07/taskauth/internal/audit"
	"github.com/MrEthical07/taskauth/permission"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// GenerateRequest describes a key to create.
type GenerateRequest struct {
	Name        string            `json:"name"`
	Permissions []string          `json:"permissions"`
	RateLimit   int               `json:"rateLimit,omitempty"`
	ExpiresAt   *time.Time        `json:"expiresAt,omitempty"`
	AllowedIPs  []string          `json:"allowedIps,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedBy   string            `json:"-"`
}

// Created is returned once by [Service.Generate]. Raw is not recoverable later.
type Created struct {
	Key
	Raw string `json:"key"`
}

// Service generates and validates API keys.
type Service struct {
	store  Store
	config Config
	logger *zap.Logger
	events audit.Sink
	now    func() time.Time
}

// Option configures a [Service].
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithAuditSink sets where key lifecycle and rejection events go.
func WithAuditSink(sink audit.Sink) Option {
	return func(s *Service) {
		if sink != nil {
			s.events = sink
		}
	}
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService validates cfg and returns a Service over store.
func NewService(store Store, cfg Config, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("apikey: store required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Service{
		store:  store,
		config: cfg,
		logger: zap.NewNop(),
		events: audit.NoOpSink{},
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Service) emit(ctx context.Context, eventType string, success bool, keyID, ip, reason string) {
	ev := audit.Event{
		Timestamp: s.now().UTC(),
		EventType: eventType,
		IP:        ip,
		Success:   success,
		Metadata:  map[string]string{},
	}
	if keyID != "" {
		ev.Metadata["key_id"] = keyID
	}
	if reason != "" {
		ev.Error = reason
	}
	s.events.Emit(ctx, ev)
}

func storeErr(err error) error {
	if err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, ErrPrefixTaken) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

// Generate creates a key and returns its raw material. Prefix collisions are
// retried up to Config.MaxAttempts times.
func (s *Service) Generate(ctx context.Context, req GenerateRequest) (*Created, error) {
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || len(req.Name) > 100 {
		return nil, fmt.Errorf("%w: name must be 1-100 characters", ErrInvalidRequest)
	}
	for _, p := range req.Permissions {
		if !permission.ValidGrant(p) {
			return nil, fmt.Errorf("%w: invalid permission %q", ErrInvalidRequest, p)
		}
	}
	for _, ip := range req.AllowedIPs {
		if net.ParseIP(ip) == nil {
			return nil, fmt.Errorf("%w: invalid allowed ip %q", ErrInvalidRequest, ip)
		}
	}
	if req.RateLimit < 0 {
		return nil, fmt.Errorf("%w: rate limit must be >= 0", ErrInvalidRequest)
	}
	if req.RateLimit == 0 {
		req.RateLimit = s.config.DefaultRateLimit
	}
	now := s.now().UTC()
	if req.ExpiresAt != nil && !req.ExpiresAt.After(now) {
		return nil, fmt.Errorf("%w: expiry must be in the future", ErrInvalidRequest)
	}

	secret, err := randomHex(secretBytes)
	if err != nil {
		return nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), s.config.BcryptCost)
	if err != nil {
		return nil, err
	}

	key := &Key{
		ID:          uuid.NewString(),
		Name:        req.Name,
		Hash:        string(hash),
		Permissions: append([]string(nil), req.Permissions...),
		RateLimit:   req.RateLimit,
		Active:      true,
		ExpiresAt:   req.ExpiresAt,
		CreatedBy:   req.CreatedBy,
		AllowedIPs:  append([]string(nil), req.AllowedIPs...),
		Metadata:    req.Metadata,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	for attempt := 0; attempt < s.config.MaxAttempts; attempt++ {
		key.Prefix, err = newPrefix(s.config.Words)
		if err != nil {
			return nil, err
		}
		err = s.store.CreateKey(ctx, key)
		if err == nil {
			break
		}
		if !errors.Is(err, ErrPrefixTaken) {
			return nil, storeErr(err)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("apikey: no free prefix after %d attempts: %w", s.config.MaxAttempts, err)
	}

	s.logger.Info("api key created",
		zap.String("key_id", key.ID),
		zap.String("prefix", key.Prefix),
		zap.String("created_by", key.CreatedBy),
	)
	s.emit(ctx, audit.EventAPIKeyCreated, true, key.ID, "", "")
	return &Created{Key: key.public(), Raw: key.Prefix + "_" + secret}, nil
}

// Validate resolves raw key material presented from ip. Every rejection is
// [ErrInvalidKey]; store faults are wrapped in [ErrStoreUnavailable]. Usage is
// recorded only after the secret matches.
func (s *Service) Validate(ctx context.Context, raw, ip string) (*Identity, error) {
	prefix, secret, ok := Split(raw)
	if !ok {
		s.emit(ctx, audit.EventAPIKeyRejected, false, "", ip, "malformed")
		return nil, ErrInvalidKey
	}

	key, err := s.store.KeyByPrefix(ctx, prefix)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.emit(ctx, audit.EventAPIKeyRejected, false, "", ip, "unknown_prefix")
			return nil, ErrInvalidKey
		}
		return nil, storeErr(err)
	}

	now := s.now().UTC()
	switch {
	case !key.Active:
		s.emit(ctx, audit.EventAPIKeyRejected, false, key.ID, ip, "inactive")
		return nil, ErrInvalidKey
	case key.Expired(now):
		if err := s.store.DeactivateKey(ctx, key.ID, map[string]string{"autoExpiredAt": now.Format(time.RFC3339)}, now); err != nil {
			s.logger.Warn("marking expired api key inactive failed", zap.String("key_id", key.ID), zap.Error(err))
		}
		s.emit(ctx, audit.EventAPIKeyRejected, false, key.ID, ip, "expired")
		return nil, ErrInvalidKey
	case len(key.AllowedIPs) > 0 && !ipAllowed(key.AllowedIPs, ip):
		s.emit(ctx, audit.EventAPIKeyRejected, false, key.ID, ip, "ip_not_allowed")
		return nil, ErrInvalidKey
	}

	if bcrypt.CompareHashAndPassword([]byte(key.Hash), []byte(secret)) != nil {
		s.emit(ctx, audit.EventAPIKeyRejected, false, key.ID, ip, "secret_mismatch")
		return nil, ErrInvalidKey
	}

	if err := s.store.RecordUse(ctx, key.ID, now); err != nil {
		s.logger.Warn("recording api key use failed", zap.String("key_id", key.ID), zap.Error(err))
	}
	s.emit(ctx, audit.EventAPIKeyValidated, true, key.ID, ip, "")
	return &Identity{
		KeyID:       key.ID,
		Name:        key.Name,
		Permissions: append([]string(nil), key.Permissions...),
		RateLimit:   key.RateLimit,
		CreatedBy:   key.CreatedBy,
	}, nil
}

func ipAllowed(allowed []string, ip string) bool {
	addr := net.ParseIP(ip)
	if addr == nil {
		return false
	}
	for _, a := range allowed {
		if other := net.ParseIP(a); other != nil && other.Equal(addr) {
			return true
		}
	}
	return false
}

// HasPermission reports whether id grants perm.
func HasPermission(id *Identity, perm string) bool {
	if id == nil {
		return false
	}
	return permission.Match(id.Permissions, perm)
}

// Revoke deactivates a key and records who revoked it. History is kept.
func (s *Service) Revoke(ctx context.Context, id, revokedBy string) error {
	now := s.now().UTC()
	meta := map[string]string{"revokedAt": now.Format(time.RFC3339)}
	if revokedBy != "" {
		meta["revokedBy"] = revokedBy
	}
	if err := s.store.DeactivateKey(ctx, id, meta, now); err != nil {
		return storeErr(err)
	}
	s.logger.Info("api key revoked", zap.String("key_id", id), zap.String("revoked_by", revokedBy))
	s.emit(ctx, audit.EventAPIKeyRevoked, true, id, "", "")
	return nil
}

// List returns the keys created by owner, or every key for an empty owner.
func (s *Service) List(ctx context.Context, owner string) ([]Key, error) {
	keys, err := s.store.ListKeys(ctx, owner)
	if err != nil {
		return nil, storeErr(err)
	}
	out := make([]Key, 0, len(keys))
	for i := range keys {
		out = append(out, keys[i].public())
	}
	return out, nil
}

// Get returns one key without its hash.
func (s *Service) Get(ctx context.Context, id string) (*Key, error) {
	key, err := s.store.KeyByID(ctx, id)
	if err != nil {
		return nil, storeErr(err)
	}
	out := key.public()
	return &out, nil
}

// Stats returns usage statistics for a key.
func (s *Service) Stats(ctx context.Context, id string) (*Stats, error) {
	key, err := s.store.KeyByID(ctx, id)
	if err != nil {
		return nil, storeErr(err)
	}
	days := int(s.now().Sub(key.CreatedAt) / (24 * time.Hour))
	if days < 0 {
		days = 0
	}
	avg := key.UsageCount
	if days > 0 {
		avg = int64(math.Round(float64(key.UsageCount) / float64(days)))
	}
	return &Stats{
		ID:                key.ID,
		Name:              key.Name,
		TotalUsage:        key.UsageCount,
		DaysSinceCreation: days,
		AvgDailyUsage:     avg,
		LastUsed:          key.LastUsed,
		Active:            key.Active,
		ExpiresAt:         key.ExpiresAt,
		RateLimit:         key.RateLimit,
	}, nil
}

// SweepExpired marks every expired active key inactive.
func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	n, err := s.store.DeactivateExpired(ctx, s.now().UTC())
	if err != nil {
		return 0, storeErr(err)
	}
	if n > 0 {
		s.logger.Info("expired api keys deactivated", zap.Int("count", n))
		s.emit(ctx, audit.EventAPIKeyExpired, true, "", "", "")
	}
	return n, nil
}
