package password

import (
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// DefaultBcryptCost matches the cost used by earlier deployments.
const DefaultBcryptCost = 12

// Bcrypt is a bcrypt [Hasher]. It is used for API key secrets and for
// verifying password hashes imported from older deployments.
type Bcrypt struct {
	cost int
}

// NewBcrypt returns a [Bcrypt] hasher. Out-of-range costs fall back to
// [DefaultBcryptCost].
func NewBcrypt(cost int) *Bcrypt {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultBcryptCost
	}
	return &Bcrypt{cost: cost}
}

func (b *Bcrypt) Hash(plain string) (string, error) {
	if plain == "" {
		return "", ErrEmptyPassword
	}
	out, err := bcrypt.GenerateFromPassword([]byte(plain), b.cost)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func (b *Bcrypt) Verify(plain, encoded string) (bool, error) {
	if !isBcrypt(encoded) {
		return false, ErrInvalidHash
	}
	err := bcrypt.CompareHashAndPassword([]byte(encoded), []byte(plain))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, err
	}
}

func (b *Bcrypt) NeedsUpgrade(encoded string) (bool, error) {
	cost, err := bcrypt.Cost([]byte(encoded))
	if err != nil {
		return false, ErrInvalidHash
	}
	return cost < b.cost, nil
}

func isBcrypt(encoded string) bool {
	return strings.HasPrefix(encoded, "$2a$") || strings.HasPrefix(encoded, "$2b$") || strings.HasPrefix(encoded, "$2y$")
}

// Chain hashes with Argon2id and verifies both Argon2id and bcrypt hashes.
// Any bcrypt hash needs an upgrade.
type Chain struct {
	primary *Argon2
	legacy  *Bcrypt
}

// NewChain returns a [Chain] over primary, verifying legacy bcrypt hashes.
func NewChain(primary *Argon2) *Chain {
	return &Chain{primary: primary, legacy: NewBcrypt(DefaultBcryptCost)}
}

func (c *Chain) Hash(plain string) (string, error) {
	return c.primary.Hash(plain)
}

func (c *Chain) Verify(plain, encoded string) (bool, error) {
	if isBcrypt(encoded) {
		return c.legacy.Verify(plain, encoded)
	}
	return c.primary.Verify(plain, encoded)
}

func (c *Chain) NeedsUpgrade(encoded string) (bool, error) {
	if isBcrypt(encoded) {
		return true, nil
	}
	return c.primary.NeedsUpgrade(encoded)
}
