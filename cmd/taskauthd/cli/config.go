package cli

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/MrEthical07/taskauth"
	"github.com/MrEthical07/taskauth/internal/notify"
	"github.com/MrEthical07/taskauth/internal/server"
	"github.com/MrEthical07/taskauth/lockout"
	"github.com/MrEthical07/taskauth/security"
)

// fileConfig mirrors taskauth.yaml.
type fileConfig struct {
	Server   server.Config     `mapstructure:"server"`
	Auth     authConfig        `mapstructure:"auth"`
	Database databaseConfig    `mapstructure:"database"`
	Redis    redisConfig       `mapstructure:"redis"`
	Security securityConfig    `mapstructure:"security"`
	SMTP     notify.SMTPConfig `mapstructure:"smtp"`
	Log      logConfig         `mapstructure:"log"`
}

type authConfig struct {
	JWTSecret        string        `mapstructure:"jwt_secret"`
	JWTRefreshSecret string        `mapstructure:"jwt_refresh_secret"`
	AccessTTL        time.Duration `mapstructure:"access_ttl"`
	RefreshTTL       time.Duration `mapstructure:"refresh_ttl"`
	SessionTTL       time.Duration `mapstructure:"session_ttl"`
	LockoutThreshold int           `mapstructure:"lockout_threshold"`
	LockoutCooldown  time.Duration `mapstructure:"lockout_cooldown"`
	ResetTTL         time.Duration `mapstructure:"reset_ttl"`
	Audit            bool          `mapstructure:"audit"`
}

type databaseConfig struct {
	// Driver is sqlite or postgres.
	Driver string `mapstructure:"driver"`
	Path   string `mapstructure:"path"`
	DSN    string `mapstructure:"dsn"`
}

type redisConfig struct {
	Addr      string        `mapstructure:"addr"`
	Password  string        `mapstructure:"password"`
	DB        int           `mapstructure:"db"`
	OpTimeout time.Duration `mapstructure:"op_timeout"`
}

type securityConfig struct {
	Window             time.Duration `mapstructure:"window"`
	StrictLimit        int           `mapstructure:"strict_limit"`
	APILimit           int           `mapstructure:"api_limit"`
	PublicLimit        int           `mapstructure:"public_limit"`
	ViolationThreshold int           `mapstructure:"violation_threshold"`
	BlockDuration      time.Duration `mapstructure:"block_duration"`
	SlowDown           bool          `mapstructure:"slow_down"`
	SuspicionCeiling   int           `mapstructure:"suspicion_ceiling"`
	SuspectTTL         time.Duration `mapstructure:"suspect_ttl"`
	SuspectHits        int           `mapstructure:"suspect_hits_per_violation"`
	MaxBodyBytes       int64         `mapstructure:"max_body_bytes"`
	CSRF               bool          `mapstructure:"csrf"`
	SecureCookies      bool          `mapstructure:"secure_cookies"`
	SweepInterval      time.Duration `mapstructure:"sweep_interval"`
}

type logConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// setDefaults registers every key so environment overrides reach Unmarshal.
func setDefaults(v *viper.Viper) {
	srv := server.DefaultConfig()
	v.SetDefault("server.host", srv.Host)
	v.SetDefault("server.port", srv.Port)
	v.SetDefault("server.shutdown_timeout", srv.ShutdownTimeout)
	v.SetDefault("server.read_timeout", srv.ReadTimeout)
	v.SetDefault("server.write_timeout", srv.WriteTimeout)
	v.SetDefault("server.idle_timeout", srv.IdleTimeout)
	v.SetDefault("server.cors_origins", srv.CORSOrigins)
	v.SetDefault("server.flood_limit", srv.FloodLimit)
	v.SetDefault("server.trust_proxy", srv.TrustProxy)
	v.SetDefault("server.enable_metrics", srv.EnableMetrics)
	v.SetDefault("server.enable_services", srv.EnableServices)

	eng := taskauth.DefaultConfig()
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.jwt_refresh_secret", "")
	v.SetDefault("auth.access_ttl", eng.Token.AccessTTL)
	v.SetDefault("auth.refresh_ttl", eng.Token.RefreshTTL)
	v.SetDefault("auth.session_ttl", eng.Session.TTL)
	v.SetDefault("auth.lockout_threshold", eng.Lockout.Threshold)
	v.SetDefault("auth.lockout_cooldown", eng.Lockout.Cooldown)
	v.SetDefault("auth.reset_ttl", eng.Reset.TokenTTL)
	v.SetDefault("auth.audit", eng.Audit.Enabled)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "data/taskauth.db")
	v.SetDefault("database.dsn", "")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.op_timeout", eng.Timeouts.Cache)

	sec := security.DefaultConfig()
	v.SetDefault("security.window", sec.Tiers.Strict.Window)
	v.SetDefault("security.strict_limit", sec.Tiers.Strict.Limit)
	v.SetDefault("security.api_limit", sec.Tiers.API.Limit)
	v.SetDefault("security.public_limit", sec.Tiers.Public.Limit)
	v.SetDefault("security.violation_threshold", sec.ViolationThreshold)
	v.SetDefault("security.block_duration", sec.BlockDuration)
	v.SetDefault("security.slow_down", sec.SlowDown.Enabled)
	v.SetDefault("security.suspicion_ceiling", sec.SuspicionCeiling)
	v.SetDefault("security.suspect_ttl", sec.SuspectTTL)
	v.SetDefault("security.suspect_hits_per_violation", sec.SuspectHitsPerViolation)
	v.SetDefault("security.max_body_bytes", sec.MaxBodyBytes)
	v.SetDefault("security.csrf", sec.CSRF.Enabled)
	v.SetDefault("security.secure_cookies", sec.CSRF.Secure)
	v.SetDefault("security.sweep_interval", sec.SweepInterval)

	v.SetDefault("smtp.host", "")
	v.SetDefault("smtp.port", 587)
	v.SetDefault("smtp.username", "")
	v.SetDefault("smtp.password", "")
	v.SetDefault("smtp.from", "")
	v.SetDefault("smtp.tls", true)
	v.SetDefault("smtp.reset_url", "")
	v.SetDefault("smtp.timeout", 30*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// loadConfig decodes the merged configuration. When secrets are needed and
// missing, dev mode generates them per process and any other mode fails.
func loadConfig(needSecrets bool) (*fileConfig, error) {
	var cfg fileConfig
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if needSecrets {
		for _, secret := range []*string{&cfg.Auth.JWTSecret, &cfg.Auth.JWTRefreshSecret} {
			if *secret != "" {
				continue
			}
			if !devMode {
				return nil, errors.New("auth.jwt_secret and auth.jwt_refresh_secret are required (or run with --dev)")
			}
			generated, err := randomSecret()
			if err != nil {
				return nil, err
			}
			*secret = generated
		}
		if cfg.Auth.JWTSecret == cfg.Auth.JWTRefreshSecret {
			return nil, errors.New("auth.jwt_secret and auth.jwt_refresh_secret must differ")
		}
	}

	switch cfg.Database.Driver {
	case "sqlite":
	case "postgres":
		if cfg.Database.DSN == "" {
			return nil, errors.New("database.dsn is required for the postgres driver")
		}
	default:
		return nil, fmt.Errorf("unknown database.driver %q (want sqlite or postgres)", cfg.Database.Driver)
	}

	if devMode {
		cfg.Security.SecureCookies = false
	}
	return &cfg, nil
}

func randomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func (c *fileConfig) engineConfig() taskauth.Config {
	cfg := taskauth.DefaultConfig()
	cfg.Token.AccessSecret = []byte(c.Auth.JWTSecret)
	cfg.Token.RefreshSecret = []byte(c.Auth.JWTRefreshSecret)
	cfg.Token.AccessTTL = c.Auth.AccessTTL
	cfg.Token.RefreshTTL = c.Auth.RefreshTTL
	cfg.Session.TTL = c.Auth.SessionTTL
	cfg.Lockout = lockout.Policy{Threshold: c.Auth.LockoutThreshold, Cooldown: c.Auth.LockoutCooldown}
	cfg.Reset.TokenTTL = c.Auth.ResetTTL
	cfg.Audit.Enabled = c.Auth.Audit
	if c.Redis.OpTimeout > 0 {
		cfg.Timeouts.Cache = c.Redis.OpTimeout
	}
	return cfg
}

func (c *fileConfig) securityConfig() security.Config {
	cfg := security.DefaultConfig()
	cfg.Tiers = security.Tiers{
		Strict: security.Window{Limit: c.Security.StrictLimit, Window: c.Security.Window},
		API:    security.Window{Limit: c.Security.APILimit, Window: c.Security.Window},
		Public: security.Window{Limit: c.Security.PublicLimit, Window: c.Security.Window},
	}
	cfg.ViolationThreshold = c.Security.ViolationThreshold
	cfg.BlockDuration = c.Security.BlockDuration
	cfg.SlowDown.Enabled = c.Security.SlowDown
	cfg.SuspicionCeiling = c.Security.SuspicionCeiling
	cfg.SuspectTTL = c.Security.SuspectTTL
	cfg.SuspectHitsPerViolation = c.Security.SuspectHits
	cfg.MaxBodyBytes = c.Security.MaxBodyBytes
	cfg.CSRF.Enabled = c.Security.CSRF
	cfg.CSRF.Secure = c.Security.SecureCookies
	cfg.SweepInterval = c.Security.SweepInterval
	return cfg
}

func buildLogger(c logConfig) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if devMode || c.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	level := c.Level
	if devMode && level == "info" {
		level = "debug"
	}
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log.level: %w", err)
	}
	zc.Level = zap.NewAtomicLevelAt(lvl)
	return zc.Build()
}
