package password

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// SpecialCharacters is the set counted as special by [DefaultPolicy].
const SpecialCharacters = `!@#$%^&*()_+-=[]{};':"\|,.<>/?`

var commonPasswords = []string{
	"password", "123456", "123456789", "qwerty", "abc123",
	"password123", "admin", "letmein", "welcome", "monkey",
}

// Policy describes an acceptable password.
type Policy struct {
	MinLength      int
	MaxLength      int
	RequireLower   bool
	RequireUpper   bool
	RequireDigit   bool
	RequireSpecial bool
	Special        string
	Blocklist      []string
}

// DefaultPolicy returns the policy applied to registration, reset and change.
func DefaultPolicy() Policy {
	return Policy{
		MinLength:      8,
		MaxLength:      128,
		RequireLower:   true,
		RequireUpper:   true,
		RequireDigit:   true,
		RequireSpecial: true,
		Special:        SpecialCharacters,
		Blocklist:      commonPasswords,
	}
}

// Check returns every rule plain violates, in a stable order. An empty result
// means the password is acceptable.
func (p Policy) Check(plain string) []string {
	var violations []string
	n := utf8.RuneCountInString(plain)
	if p.MinLength > 0 && n < p.MinLength {
		violations = append(violations, "Password must be at least 8 characters long")
	}
	if p.MaxLength > 0 && n > p.MaxLength {
		violations = append(violations, "Password must not exceed 128 characters")
	}

	var lower, upper, digit, special bool
	for _, r := range plain {
		switch {
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		case strings.ContainsRune(p.Special, r):
			special = true
		}
	}
	if p.RequireLower && !lower {
		violations = append(violations, "Password must contain at least one lowercase letter")
	}
	if p.RequireUpper && !upper {
		violations = append(violations, "Password must contain at least one uppercase letter")
	}
	if p.RequireDigit && !digit {
		violations = append(violations, "Password must contain at least one number")
	}
	if p.RequireSpecial && !special {
		violations = append(violations, "Password must contain at least one special character")
	}

	folded := strings.ToLower(plain)
	for _, common := range p.Blocklist {
		if folded == common {
			violations = append(violations, "Password is too common")
			break
		}
	}
	return violations
}
