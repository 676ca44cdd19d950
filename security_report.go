package taskauth

import "time"

// SecurityReport summarises the effective security settings of an engine.
type SecurityReport struct {
	SigningAlgorithm string
	AccessTTL        time.Duration
	RefreshTTL       time.Duration
	Issuer           string
	Audience         string
	SessionTTL       time.Duration
	SlidingSessions  bool
	LockoutThreshold int
	LockoutCooldown  time.Duration
	ResetTokenTTL    time.Duration
	Argon2           PasswordConfigReport
	PasswordUpgrade  bool
	MinPasswordLen   int
	AuditEnabled     bool
	MetricsEnabled   bool
	Roles            int
}

type PasswordConfigReport struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

func (e *Engine) SecurityReport() SecurityReport {
	if e == nil {
		return SecurityReport{}
	}

	report := SecurityReport{
		AccessTTL:        e.config.Token.AccessTTL,
		RefreshTTL:       e.config.Token.RefreshTTL,
		Issuer:           e.config.Token.Issuer,
		Audience:         e.config.Token.Audience,
		SessionTTL:       e.config.Session.TTL,
		SlidingSessions:  e.config.Session.Sliding,
		LockoutThreshold: e.config.Lockout.Threshold,
		LockoutCooldown:  e.config.Lockout.Cooldown,
		ResetTokenTTL:    e.config.Reset.TokenTTL,
		Argon2: PasswordConfigReport{
			Memory:      e.config.Password.Argon2.Memory,
			Time:        e.config.Password.Argon2.Time,
			Parallelism: e.config.Password.Argon2.Parallelism,
			SaltLength:  e.config.Password.Argon2.SaltLength,
			KeyLength:   e.config.Password.Argon2.KeyLength,
		},
		PasswordUpgrade: e.config.Password.UpgradeOnLogin,
		MinPasswordLen:  e.config.Password.Policy.MinLength,
		AuditEnabled:    e.audit != nil,
		MetricsEnabled:  e.metrics.Enabled(),
	}
	if e.tokens != nil {
		report.SigningAlgorithm = e.tokens.Algorithm()
	}
	if e.roles != nil {
		report.Roles = e.roles.Count()
	}
	return report
}
