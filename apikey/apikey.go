package apikey

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrInvalidKey is returned by [Service.Validate] for any rejected key. The
	// caller cannot tell a bad prefix from a bad secret.
	ErrInvalidKey = errors.New("Invalid API key")
	// ErrNotFound is returned by stores and by Revoke and Stats for an unknown id.
	ErrNotFound = errors.New("api key not found")
	// ErrPrefixTaken is returned by [Store.Create] when the prefix already exists.
	ErrPrefixTaken = errors.New("api key prefix already exists")
	// ErrStoreUnavailable wraps store faults.
	ErrStoreUnavailable = errors.New("api key store unavailable")
	// ErrInvalidRequest is returned by Generate for an unusable request.
	ErrInvalidRequest = errors.New("invalid api key request")
)

// Key is a stored API key. Hash is never returned by [Service] methods.
type Key struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Prefix      string            `json:"prefix"`
	Hash        string            `json:"-"`
	Permissions []string          `json:"permissions"`
	RateLimit   int               `json:"rateLimit"`
	Active      bool              `json:"isActive"`
	ExpiresAt   *time.Time        `json:"expiresAt,omitempty"`
	LastUsed    *time.Time        `json:"lastUsedAt,omitempty"`
	UsageCount  int64             `json:"usageCount"`
	CreatedBy   string            `json:"createdBy,omitempty"`
	AllowedIPs  []string          `json:"allowedIps,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
	UpdatedAt   time.Time         `json:"updatedAt"`
}

// Expired reports whether k has an expiry at or before now.
func (k *Key) Expired(now time.Time) bool {
	return k.ExpiresAt != nil && !now.Before(*k.ExpiresAt)
}

func (k *Key) public() Key {
	out := *k
	out.Hash = ""
	out.Permissions = append([]string(nil), k.Permissions...)
	out.AllowedIPs = append([]string(nil), k.AllowedIPs...)
	if k.Metadata != nil {
		out.Metadata = make(map[string]string, len(k.Metadata))
		for name, v := range k.Metadata {
			out.Metadata[name] = v
		}
	}
	return out
}

// Identity is the scoped caller a valid key resolves to.
type Identity struct {
	KeyID       string   `json:"id"`
	Name        string   `json:"name"`
	Permissions []string `json:"permissions"`
	RateLimit   int      `json:"rateLimit"`
	CreatedBy   string   `json:"createdBy,omitempty"`
}

// Stats summarises the usage of a key.
type Stats struct {
	ID                string     `json:"id"`
	Name              string     `json:"name"`
	TotalUsage        int64      `json:"totalUsage"`
	DaysSinceCreation int        `json:"daysSinceCreation"`
	AvgDailyUsage     int64      `json:"avgDailyUsage"`
	LastUsed          *time.Time `json:"lastUsedAt,omitempty"`
	Active            bool       `json:"isActive"`
	ExpiresAt         *time.Time `json:"expiresAt,omitempty"`
	RateLimit         int        `json:"rateLimit"`
}

// Store persists API keys. Implementations must make RecordUse a single
// atomic increment.
type Store interface {
	CreateKey(ctx context.Context, k *Key) error
	KeyByPrefix(ctx context.Context, prefix string) (*Key, error)
	KeyByID(ctx context.Context, id string) (*Key, error)
	// RecordUse increments the usage count and sets last_used to now.
	RecordUse(ctx context.Context, id string, now time.Time) error
	// DeactivateKey clears the active flag and merges meta into the metadata.
	DeactivateKey(ctx context.Context, id string, meta map[string]string, now time.Time) error
	// ListKeys returns every key, newest first. A non-empty owner filters by creator.
	ListKeys(ctx context.Context, owner string) ([]Key, error)
	// DeactivateExpired marks active keys expired at now inactive and returns how many.
	DeactivateExpired(ctx context.Context, now time.Time) (int, error)
}

// Config tunes key generation.
type Config struct {
	// Words are the leading segments a prefix is drawn from.
	Words            []string
	BcryptCost       int
	DefaultRateLimit int
	// MaxAttempts bounds retries on prefix collisions.
	MaxAttempts int
}

// DefaultConfig mirrors the key format used by the task service.
func DefaultConfig() Config {
	return Config{
		Words:            []string{"hmcts", "api", "svc", "app", "dev", "prod"},
		BcryptCost:       12,
		DefaultRateLimit: 1000,
		MaxAttempts:      5,
	}
}

// Validate rejects unusable configurations.
func (c Config) Validate() error {
	if len(c.Words) == 0 {
		return errors.New("apikey: at least one prefix word is required")
	}
	for _, w := range c.Words {
		if w == "" || !isWord(w) {
			return fmt.Errorf("apikey: prefix word %q must be lowercase alphanumeric", w)
		}
	}
	if c.BcryptCost < bcrypt.MinCost || c.BcryptCost > bcrypt.MaxCost {
		return fmt.Errorf("apikey: bcrypt cost must be in [%d, %d]", bcrypt.MinCost, bcrypt.MaxCost)
	}
	if c.DefaultRateLimit < 0 {
		return errors.New("apikey: default rate limit must be >= 0")
	}
	if c.MaxAttempts < 1 {
		return errors.New("apikey: max attempts must be >= 1")
	}
	return nil
}

func isWord(s string) bool {
	for _, r := range s {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}
