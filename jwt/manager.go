package jwt

import (
	"bytes"
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// SigningMethod selects how access tokens are signed. Refresh tokens are
// always HMAC signed with the refresh secret.
type SigningMethod string

const (
	MethodHS256   SigningMethod = "hs256"
	MethodEd25519 SigningMethod = "ed25519"
)

// MinSecretLength is the shortest accepted HMAC secret.
const MinSecretLength = 32

var (
	// ErrExpired is returned for tokens past their expiry.
	ErrExpired = errors.New("token expired")
	// ErrMalformed is returned for every other verification failure.
	ErrMalformed = errors.New("token malformed")
	// ErrInvalidConfig is returned by NewManager.
	ErrInvalidConfig = errors.New("invalid token configuration")
)

// Config configures a [Manager].
type Config struct {
	SigningMethod SigningMethod
	AccessSecret  []byte
	PrivateKey    []byte
	PublicKey     []byte
	RefreshSecret []byte

	AccessTTL    time.Duration
	RefreshTTL   time.Duration
	Issuer       string
	Audience     string
	Leeway       time.Duration
	MaxFutureIAT time.Duration
	KeyID        string
}

// AccessClaims are the claims of an access token.
type AccessClaims struct {
	UserID    string `json:"userId"`
	Email     string `json:"email"`
	Role      string `json:"role"`
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// RefreshClaims are the claims of a refresh token. RegisteredClaims.ID is the jti.
type RefreshClaims struct {
	UserID    string `json:"userId"`
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// Subject is what an access token is issued for.
type Subject struct {
	UserID    string
	Email     string
	Role      string
	SessionID string
}

// Manager signs and verifies tokens. It is safe for concurrent use.
type Manager struct {
	config Config
	now    func() time.Time
}

// NewManager validates cfg and returns a [Manager].
func NewManager(cfg Config) (*Manager, error) {
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, fmt.Errorf("%w: ttl must be positive", ErrInvalidConfig)
	}
	if cfg.RefreshTTL <= cfg.AccessTTL {
		return nil, fmt.Errorf("%w: refresh ttl must exceed access ttl", ErrInvalidConfig)
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, fmt.Errorf("%w: leeway out of range", ErrInvalidConfig)
	}
	if cfg.MaxFutureIAT == 0 {
		cfg.MaxFutureIAT = 10 * time.Minute
	}
	if cfg.MaxFutureIAT < 0 || cfg.MaxFutureIAT > 24*time.Hour {
		return nil, fmt.Errorf("%w: MaxFutureIAT out of range", ErrInvalidConfig)
	}
	if len(cfg.RefreshSecret) < MinSecretLength {
		return nil, fmt.Errorf("%w: refresh secret shorter than %d bytes", ErrInvalidConfig, MinSecretLength)
	}
	cfg.KeyID = strings.TrimSpace(cfg.KeyID)
	if cfg.SigningMethod == "" {
		cfg.SigningMethod = MethodHS256
	}

	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.AccessSecret) < MinSecretLength {
			return nil, fmt.Errorf("%w: access secret shorter than %d bytes", ErrInvalidConfig, MinSecretLength)
		}
		if bytes.Equal(cfg.AccessSecret, cfg.RefreshSecret) {
			return nil, fmt.Errorf("%w: access and refresh secrets must differ", ErrInvalidConfig)
		}
	case MethodEd25519:
		if len(cfg.PrivateKey) > 0 {
			if _, err := parseEdPrivateKey(cfg.PrivateKey); err != nil {
				return nil, err
			}
		}
		if _, err := parseEdPublicKey(cfg.PublicKey); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: unsupported signing method %q", ErrInvalidConfig, cfg.SigningMethod)
	}

	return &Manager{config: cfg, now: time.Now}, nil
}

// SetClock replaces the time source used for issuing and verifying. Intended for tests.
func (j *Manager) SetClock(now func() time.Time) {
	if now != nil {
		j.now = now
	}
}

// AccessTTL returns the configured access token lifetime.
func (j *Manager) AccessTTL() time.Duration { return j.config.AccessTTL }

// RefreshTTL returns the configured refresh token lifetime.
func (j *Manager) RefreshTTL() time.Duration { return j.config.RefreshTTL }

// Algorithm returns the JWS algorithm of access tokens.
func (j *Manager) Algorithm() string { return j.accessMethod().Alg() }

func (j *Manager) registered(ttl time.Duration) jwt.RegisteredClaims {
	now := j.now()
	rc := jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		IssuedAt:  jwt.NewNumericDate(now),
		Issuer:    j.config.Issuer,
	}
	if j.config.Audience != "" {
		rc.Audience = jwt.ClaimStrings{j.config.Audience}
	}
	return rc
}

// CreateAccess signs an access token for sub and returns it with its expiry.
func (j *Manager) CreateAccess(sub Subject) (string, time.Time, error) {
	if sub.UserID == "" || sub.SessionID == "" {
		return "", time.Time{}, errors.New("access token requires user and session")
	}
	claims := AccessClaims{
		UserID:           sub.UserID,
		Email:            sub.Email,
		Role:             sub.Role,
		SessionID:        sub.SessionID,
		RegisteredClaims: j.registered(j.config.AccessTTL),
	}
	claims.Subject = sub.UserID

	token := jwt.NewWithClaims(j.accessMethod(), claims)
	if j.config.KeyID != "" {
		token.Header["kid"] = j.config.KeyID
	}
	key, err := j.accessSignKey()
	if err != nil {
		return "", time.Time{}, err
	}
	signed, err := token.SignedString(key)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, claims.ExpiresAt.Time, nil
}

// CreateRefresh signs a refresh token for userID bound to sessionID. The
// returned claims carry the generated jti and expiry.
func (j *Manager) CreateRefresh(userID, sessionID string) (string, *RefreshClaims, error) {
	if userID == "" {
		return "", nil, errors.New("refresh token requires user")
	}
	claims := &RefreshClaims{
		UserID:           userID,
		SessionID:        sessionID,
		RegisteredClaims: j.registered(j.config.RefreshTTL),
	}
	claims.Subject = userID
	claims.ID = uuid.NewString()

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.config.RefreshSecret)
	if err != nil {
		return "", nil, err
	}
	return signed, claims, nil
}

func (j *Manager) parserOptions(alg string) []jwt.ParserOption {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{alg}),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(j.now),
	}
	if j.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(j.config.Leeway))
	}
	if j.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(j.config.Issuer))
	}
	if j.config.Audience != "" {
		options = append(options, jwt.WithAudience(j.config.Audience))
	}
	return options
}

// ParseAccess verifies an access token.
func (j *Manager) ParseAccess(tokenStr string) (*AccessClaims, error) {
	alg := j.accessMethod().Alg()
	claims := &AccessClaims{}
	token, err := jwt.NewParser(j.parserOptions(alg)...).ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != alg {
			return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
		}
		if j.config.KeyID != "" {
			if kid, _ := t.Header["kid"].(string); kid != j.config.KeyID {
				return nil, errors.New("unknown kid")
			}
		}
		return j.accessVerifyKey()
	})
	if err != nil {
		return nil, classify(err)
	}
	if !token.Valid || claims.UserID == "" || claims.SessionID == "" {
		return nil, ErrMalformed
	}
	if err := j.checkIssuedAt(claims.IssuedAt); err != nil {
		return nil, err
	}
	return claims, nil
}

// ParseRefresh verifies a refresh token against the refresh secret.
func (j *Manager) ParseRefresh(tokenStr string) (*RefreshClaims, error) {
	alg := jwt.SigningMethodHS256.Alg()
	claims := &RefreshClaims{}
	token, err := jwt.NewParser(j.parserOptions(alg)...).ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != alg {
			return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
		}
		return j.config.RefreshSecret, nil
	})
	if err != nil {
		return nil, classify(err)
	}
	if !token.Valid || claims.UserID == "" || claims.ID == "" {
		return nil, ErrMalformed
	}
	if err := j.checkIssuedAt(claims.IssuedAt); err != nil {
		return nil, err
	}
	return claims, nil
}

func (j *Manager) checkIssuedAt(iat *jwt.NumericDate) error {
	if iat == nil || j.config.MaxFutureIAT <= 0 {
		return nil
	}
	if iat.Time.After(j.now().Add(j.config.MaxFutureIAT)) {
		return fmt.Errorf("%w: iat too far in the future", ErrMalformed)
	}
	return nil
}

func classify(err error) error {
	if errors.Is(err, jwt.ErrTokenExpired) {
		return ErrExpired
	}
	return fmt.Errorf("%w: %v", ErrMalformed, err)
}

func (j *Manager) accessMethod() jwt.SigningMethod {
	if j.config.SigningMethod == MethodEd25519 {
		return jwt.SigningMethodEdDSA
	}
	return jwt.SigningMethodHS256
}

func (j *Manager) accessSignKey() (interface{}, error) {
	if j.config.SigningMethod == MethodEd25519 {
		if len(j.config.PrivateKey) == 0 {
			return nil, errors.New("ed25519 signing requires a private key")
		}
		return parseEdPrivateKey(j.config.PrivateKey)
	}
	return j.config.AccessSecret, nil
}

func (j *Manager) accessVerifyKey() (interface{}, error) {
	if j.config.SigningMethod == MethodEd25519 {
		return parseEdPublicKey(j.config.PublicKey)
	}
	return j.config.AccessSecret, nil
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid ed25519 private key", ErrInvalidConfig)
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: invalid ed25519 private key type", ErrInvalidConfig)
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid ed25519 public key", ErrInvalidConfig)
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: invalid ed25519 public key type", ErrInvalidConfig)
	}
	return edKey, nil
}
