package jwt

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"strings"
	"testing"
	"time"

	gjwt "github.com/golang-jwt/jwt/v5"
)

var (
	testAccessSecret  = []byte("access-secret-access-secret-0123456789")
	testRefreshSecret = []byte("refresh-secret-refresh-secret-0123456789")
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(Config{
		AccessSecret:  testAccessSecret,
		RefreshSecret: testRefreshSecret,
		AccessTTL:     time.Hour,
		RefreshTTL:    7 * 24 * time.Hour,
		Issuer:        "hmcts-task-api",
		Audience:      "hmcts-task-frontend",
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return m
}

func TestAccessRoundTrip(t *testing.T) {
	m := newTestManager(t)
	token, exp, err := m.CreateAccess(Subject{UserID: "u1", Email: "a@b.c", Role: "admin", SessionID: "s1"})
	if err != nil {
		t.Fatalf("create access: %v", err)
	}
	if time.Until(exp) > time.Hour || time.Until(exp) < 59*time.Minute {
		t.Fatalf("unexpected expiry %v", exp)
	}
	claims, err := m.ParseAccess(token)
	if err != nil {
		t.Fatalf("parse access: %v", err)
	}
	if claims.UserID != "u1" || claims.Email != "a@b.c" || claims.Role != "admin" || claims.SessionID != "s1" {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if claims.Issuer != "hmcts-task-api" || claims.IssuedAt == nil {
		t.Fatalf("missing registered claims %+v", claims.RegisteredClaims)
	}
}

func TestAccessExpiredIsClassified(t *testing.T) {
	m := newTestManager(t)
	past := time.Now().Add(-2 * time.Hour)
	m.SetClock(func() time.Time { return past })
	token, _, err := m.CreateAccess(Subject{UserID: "u1", SessionID: "s1"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	m.SetClock(time.Now)
	if _, err := m.ParseAccess(token); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}

func TestAccessRejectsTampering(t *testing.T) {
	m := newTestManager(t)
	token, _, _ := m.CreateAccess(Subject{UserID: "u1", SessionID: "s1"})

	cases := map[string]string{
		"garbage":    "not-a-token",
		"truncated":  token[:len(token)-3],
		"bad header": "x" + token,
	}
	for name, tok := range cases {
		if _, err := m.ParseAccess(tok); !errors.Is(err, ErrMalformed) {
			t.Fatalf("%s: expected ErrMalformed, got %v", name, err)
		}
	}
}

func TestAccessRejectsWrongAudienceAndIssuer(t *testing.T) {
	m := newTestManager(t)
	other, err := NewManager(Config{
		AccessSecret:  testAccessSecret,
		RefreshSecret: testRefreshSecret,
		AccessTTL:     time.Hour,
		RefreshTTL:    48 * time.Hour,
		Issuer:        "someone-else",
		Audience:      "elsewhere",
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	token, _, _ := other.CreateAccess(Subject{UserID: "u1", SessionID: "s1"})
	if _, err := m.ParseAccess(token); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestAccessRejectsWrongAlgorithm(t *testing.T) {
	m := newTestManager(t)
	claims := AccessClaims{UserID: "u1", SessionID: "s1", RegisteredClaims: gjwt.RegisteredClaims{
		ExpiresAt: gjwt.NewNumericDate(time.Now().Add(time.Minute)),
		IssuedAt:  gjwt.NewNumericDate(time.Now()),
		Issuer:    "hmcts-task-api",
		Audience:  gjwt.ClaimStrings{"hmcts-task-frontend"},
	}}
	token, err := gjwt.NewWithClaims(gjwt.SigningMethodHS512, claims).SignedString(testAccessSecret)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := m.ParseAccess(token); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestRefreshUsesDistinctSecret(t *testing.T) {
	m := newTestManager(t)
	refresh, claims, err := m.CreateRefresh("u1", "s1")
	if err != nil {
		t.Fatalf("create refresh: %v", err)
	}
	if claims.ID == "" {
		t.Fatal("expected jti")
	}
	parsed, err := m.ParseRefresh(refresh)
	if err != nil {
		t.Fatalf("parse refresh: %v", err)
	}
	if parsed.UserID != "u1" || parsed.ID != claims.ID {
		t.Fatalf("unexpected refresh claims %+v", parsed)
	}

	if _, err := m.ParseAccess(refresh); err == nil {
		t.Fatal("refresh token must not verify as access token")
	}
	access, _, _ := m.CreateAccess(Subject{UserID: "u1", SessionID: "s1"})
	if _, err := m.ParseRefresh(access); err == nil {
		t.Fatal("access token must not verify as refresh token")
	}
}

func TestRefreshTokensAreUnique(t *testing.T) {
	m := newTestManager(t)
	a, _, _ := m.CreateRefresh("u1", "s1")
	b, _, _ := m.CreateRefresh("u1", "s1")
	if a == b {
		t.Fatal("refresh tokens issued in the same second must differ")
	}
}

func TestNewManagerValidation(t *testing.T) {
	base := Config{
		AccessSecret:  testAccessSecret,
		RefreshSecret: testRefreshSecret,
		AccessTTL:     time.Hour,
		RefreshTTL:    24 * time.Hour,
	}
	bad := []func(c *Config){
		func(c *Config) { c.AccessTTL = 0 },
		func(c *Config) { c.RefreshTTL = time.Minute },
		func(c *Config) { c.AccessSecret = []byte("short") },
		func(c *Config) { c.RefreshSecret = c.AccessSecret },
		func(c *Config) { c.Leeway = time.Hour },
		func(c *Config) { c.SigningMethod = "rs256" },
	}
	for i, mutate := range bad {
		cfg := base
		mutate(&cfg)
		if _, err := NewManager(cfg); !errors.Is(err, ErrInvalidConfig) {
			t.Fatalf("case %d: expected ErrInvalidConfig, got %v", i, err)
		}
	}
}

func TestEd25519AccessTokens(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	m, err := NewManager(Config{
		SigningMethod: MethodEd25519,
		PrivateKey:    priv,
		PublicKey:     pub,
		RefreshSecret: testRefreshSecret,
		AccessTTL:     time.Hour,
		RefreshTTL:    24 * time.Hour,
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	token, _, err := m.CreateAccess(Subject{UserID: "u1", SessionID: "s1"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !strings.HasPrefix(m.Algorithm(), "EdDSA") {
		t.Fatalf("unexpected algorithm %s", m.Algorithm())
	}
	if _, err := m.ParseAccess(token); err != nil {
		t.Fatalf("parse: %v", err)
	}
}
