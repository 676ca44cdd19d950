package taskauth

import (
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/taskauth/jwt"
	"github.com/MrEthical07/taskauth/lockout"
	"github.com/MrEthical07/taskauth/password"
	"github.com/MrEthical07/taskauth/permission"
)

// Config is the engine configuration. Start from [DefaultConfig] and set the
// token secrets.
type Config struct {
	Token    TokenConfig
	Session  SessionConfig
	Lockout  lockout.Policy
	Password PasswordConfig
	Reset    ResetConfig
	Audit    AuditConfig
	Metrics  MetricsConfig
	Timeouts TimeoutConfig

	// DefaultRole is assigned by Register when the request names none.
	DefaultRole string
}

type TokenConfig struct {
	SigningMethod jwt.SigningMethod
	AccessSecret  []byte
	RefreshSecret []byte
	PrivateKey    []byte
	PublicKey     []byte

	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Issuer     string
	Audience   string
	Leeway     time.Duration
}

type SessionConfig struct {
	TTL time.Duration
	// Sliding extends a session's expiry on each verified request.
	Sliding bool
	// TouchInterval bounds how often verification rewrites a session record.
	TouchInterval time.Duration
	Prefix        string
	RefreshPrefix string
}

type PasswordConfig struct {
	Argon2 password.Config
	Policy password.Policy
	// UpgradeOnLogin rehashes stored hashes whose parameters differ from Argon2.
	UpgradeOnLogin bool
}

type ResetConfig struct {
	TokenTTL time.Duration
}

type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// TimeoutConfig bounds every call into the external stores.
type TimeoutConfig struct {
	Store time.Duration
	Cache time.Duration
}

// DefaultConfig returns the production defaults. Token secrets are left empty
// and must be supplied.
func DefaultConfig() Config {
	return Config{
		Token: TokenConfig{
			SigningMethod: jwt.MethodHS256,
			AccessTTL:     time.Hour,
			RefreshTTL:    7 * 24 * time.Hour,
			Issuer:        "hmcts-task-api",
			Audience:      "hmcts-task-frontend",
		},
		Session: SessionConfig{
			TTL:           time.Hour,
			Sliding:       true,
			TouchInterval: time.Minute,
			Prefix:        "session",
			RefreshPrefix: "refresh_token",
		},
		Lockout: lockout.DefaultPolicy(),
		Password: PasswordConfig{
			Argon2:         password.DefaultConfig(),
			Policy:         password.DefaultPolicy(),
			UpgradeOnLogin: true,
		},
		Reset: ResetConfig{
			TokenTTL: 15 * time.Minute,
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: true,
		},
		Timeouts: TimeoutConfig{
			Store: 2 * time.Second,
			Cache: 250 * time.Millisecond,
		},
		DefaultRole: permission.RoleCaseworker,
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Token.AccessSecret = cloneBytes(cfg.Token.AccessSecret)
	out.Token.RefreshSecret = cloneBytes(cfg.Token.RefreshSecret)
	out.Token.PrivateKey = cloneBytes(cfg.Token.PrivateKey)
	out.Token.PublicKey = cloneBytes(cfg.Token.PublicKey)
	out.Password.Policy.Blocklist = append([]string(nil), cfg.Password.Policy.Blocklist...)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func (c *Config) jwtConfig() jwt.Config {
	return jwt.Config{
		SigningMethod: c.Token.SigningMethod,
		AccessSecret:  c.Token.AccessSecret,
		RefreshSecret: c.Token.RefreshSecret,
		PrivateKey:    c.Token.PrivateKey,
		PublicKey:     c.Token.PublicKey,
		AccessTTL:     c.Token.AccessTTL,
		RefreshTTL:    c.Token.RefreshTTL,
		Issuer:        c.Token.Issuer,
		Audience:      c.Token.Audience,
		Leeway:        c.Token.Leeway,
	}
}

// Validate reports the first invalid setting, wrapped in [ErrInvalidConfig].
func (c *Config) Validate() error {
	if _, err := jwt.NewManager(c.jwtConfig()); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	if c.Session.TTL <= 0 {
		return fmt.Errorf("%w: session ttl must be > 0", ErrInvalidConfig)
	}
	if c.Session.TouchInterval < 0 || c.Session.TouchInterval >= c.Session.TTL {
		return fmt.Errorf("%w: session touch interval must be in [0, ttl)", ErrInvalidConfig)
	}
	if c.Session.Prefix == "" || c.Session.RefreshPrefix == "" {
		return fmt.Errorf("%w: session key prefixes must be set", ErrInvalidConfig)
	}
	if c.Session.Prefix == c.Session.RefreshPrefix {
		return fmt.Errorf("%w: session and refresh prefixes must differ", ErrInvalidConfig)
	}

	if err := c.Lockout.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := c.Password.Argon2.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.Password.Policy.MinLength > c.Password.Policy.MaxLength && c.Password.Policy.MaxLength > 0 {
		return fmt.Errorf("%w: password policy min length exceeds max length", ErrInvalidConfig)
	}

	if c.Reset.TokenTTL <= 0 || c.Reset.TokenTTL > 24*time.Hour {
		return fmt.Errorf("%w: reset token ttl must be in (0, 24h]", ErrInvalidConfig)
	}

	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return fmt.Errorf("%w: audit buffer size must be > 0", ErrInvalidConfig)
	}

	if c.Timeouts.Store <= 0 || c.Timeouts.Cache <= 0 {
		return fmt.Errorf("%w: store and cache timeouts must be > 0", ErrInvalidConfig)
	}
	if c.Timeouts.Store > 30*time.Second || c.Timeouts.Cache > 5*time.Second {
		return errors.Join(ErrInvalidConfig, errors.New("store timeout must be <= 30s and cache timeout <= 5s"))
	}

	if c.DefaultRole == "" {
		return fmt.Errorf("%w: default role must be set", ErrInvalidConfig)
	}
	return nil
}
