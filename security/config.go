package security

import (
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/taskauth/internal/rate"
)

// Window is one ceiling: at most Limit requests per Window. A zero Limit
// disables the ceiling.
type Window struct {
	Limit  int
	Window time.Duration
}

func (w Window) toRate() rate.Window { return rate.Window{Limit: w.Limit, Window: w.Window} }

// Tiers holds the three independent request ceilings.
type Tiers struct {
	// Strict guards credential endpoints and is keyed by address and path.
	Strict Window
	// API guards authenticated routes and is keyed by address.
	API Window
	// Public guards everything else and is keyed by address.
	Public Window
}

// SlowDownConfig configures the progressive delay stage.
type SlowDownConfig struct {
	Enabled      bool
	Window       time.Duration
	FreeRequests int
	Step         time.Duration
	MaxDelay     time.Duration
}

// CSRFConfig configures the double-submit CSRF guard.
type CSRFConfig struct {
	Enabled    bool
	CookieName string
	HeaderName string
	TokenTTL   time.Duration
	Secure     bool
}

// Config configures the enforcement pipeline.
type Config struct {
	Tiers Tiers

	// ViolationThreshold rate-limit violations within ViolationWindow block
	// the address for BlockDuration.
	ViolationThreshold int
	ViolationWindow    time.Duration
	BlockDuration      time.Duration

	SlowDown SlowDownConfig

	// SuspicionCeiling is the score at which a request is rejected.
	SuspicionCeiling int
	MaxHeaders       int
	MaxUserAgent     int
	SuspiciousLogCap int64
	SuspiciousLogTTL time.Duration
	// SuspectTTL is how long an address stays flagged after its last
	// suspicious request.
	SuspectTTL time.Duration
	// SuspectHitsPerViolation sub-ceiling hits within ViolationWindow count
	// as one rate-limit violation.
	SuspectHitsPerViolation int

	MaxBodyBytes int64

	CSRF CSRFConfig

	// KeyPrefix namespaces block and abuse keys; RateLimitPrefix namespaces tier counters.
	KeyPrefix       string
	RateLimitPrefix string
	SweepInterval   time.Duration
}

// DefaultConfig returns the task service defaults.
func DefaultConfig() Config {
	return Config{
		Tiers: Tiers{
			Strict: Window{Limit: 5, Window: 15 * time.Minute},
			API:    Window{Limit: 100, Window: 15 * time.Minute},
			Public: Window{Limit: 1000, Window: 15 * time.Minute},
		},
		ViolationThreshold: 5,
		ViolationWindow:    time.Hour,
		BlockDuration:      time.Hour,
		SlowDown: SlowDownConfig{
			Enabled:      true,
			Window:       15 * time.Minute,
			FreeRequests: 10,
			Step:         100 * time.Millisecond,
			MaxDelay:     5 * time.Second,
		},
		SuspicionCeiling: 3,
		MaxHeaders:       50,
		MaxUserAgent:     500,
		SuspiciousLogCap: 100,
		SuspiciousLogTTL: 24 * time.Hour,
		SuspectTTL:       24 * time.Hour,

		SuspectHitsPerViolation: 10,

		MaxBodyBytes:     10 << 20,
		CSRF: CSRFConfig{
			CookieName: "csrf_token",
			HeaderName: "X-CSRF-Token",
			TokenTTL:   time.Hour,
			Secure:     true,
		},
		KeyPrefix:       "security",
		RateLimitPrefix: "rl",
		SweepInterval:   time.Minute,
	}
}

// Validate rejects unusable configurations.
func (c Config) Validate() error {
	for name, w := range map[string]Window{"strict": c.Tiers.Strict, "api": c.Tiers.API, "public": c.Tiers.Public} {
		if w.Limit < 0 || w.Window <= 0 {
			return fmt.Errorf("security: %s tier needs a non-negative limit and a positive window", name)
		}
	}
	if c.ViolationThreshold < 1 || c.ViolationWindow <= 0 || c.BlockDuration <= 0 {
		return errors.New("security: violation threshold, window and block duration must be positive")
	}
	if c.SlowDown.Enabled {
		if c.SlowDown.Window <= 0 || c.SlowDown.FreeRequests < 0 || c.SlowDown.Step <= 0 || c.SlowDown.MaxDelay < c.SlowDown.Step {
			return errors.New("security: slow-down needs a positive window and step and a cap >= step")
		}
	}
	if c.SuspicionCeiling < 1 {
		return errors.New("security: suspicion ceiling must be >= 1")
	}
	if c.MaxHeaders < 1 || c.MaxUserAgent < 1 {
		return errors.New("security: header and user agent limits must be positive")
	}
	if c.SuspiciousLogCap < 1 || c.SuspiciousLogTTL <= 0 {
		return errors.New("security: suspicious log cap and ttl must be positive")
	}
	if c.SuspectTTL <= 0 || c.SuspectHitsPerViolation < 1 {
		return errors.New("security: suspect ttl and hits per violation must be positive")
	}
	if c.MaxBodyBytes <= 0 {
		return errors.New("security: max body bytes must be positive")
	}
	if c.CSRF.Enabled && (c.CSRF.CookieName == "" || c.CSRF.HeaderName == "" || c.CSRF.TokenTTL <= 0) {
		return errors.New("security: csrf needs a cookie name, a header name and a token ttl")
	}
	if c.KeyPrefix == "" || c.RateLimitPrefix == "" || c.KeyPrefix == c.RateLimitPrefix {
		return errors.New("security: key prefixes must be set and distinct")
	}
	if c.SweepInterval < 0 {
		return errors.New("security: sweep interval must be >= 0")
	}
	return nil
}
