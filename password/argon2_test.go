package password

import (
	"errors"
	"strings"
	"testing"
)

func testConfig() Config {
	return Config{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}
}

func TestHashAndVerify(t *testing.T) {
	hasher, err := NewArgon2(testConfig())
	if err != nil {
		t.Fatalf("NewArgon2 error: %v", err)
	}

	hash, err := hasher.Hash("P@ssw0rd-Ascii")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	if !strings.HasPrefix(hash, "$argon2id$v=19$m=8192,t=1,p=1$") {
		t.Fatalf("unexpected PHC prefix: %s", hash)
	}

	ok, err := hasher.Verify("P@ssw0rd-Ascii", hash)
	if err != nil || !ok {
		t.Fatalf("expected verify to succeed: %v %v", ok, err)
	}
	ok, err = hasher.Verify("P@ssw0rd-Ascij", hash)
	if err != nil || ok {
		t.Fatalf("expected mismatch: %v %v", ok, err)
	}
}

func TestSaltMakesHashesUnique(t *testing.T) {
	hasher, _ := NewArgon2(testConfig())
	a, _ := hasher.Hash("same-password")
	b, _ := hasher.Hash("same-password")
	if a == b {
		t.Fatal("expected distinct hashes for the same input")
	}
}

func TestVerifyRejectsMalformedHashes(t *testing.T) {
	hasher, _ := NewArgon2(testConfig())
	for _, in := range []string{
		"",
		"plain",
		"$argon2i$v=19$m=8192,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$a2V5",
		"$argon2id$v=18$m=8192,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$a2V5",
		"$argon2id$v=19$m=10,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$a2V5",
		"$argon2id$v=19$m=8192,t=1,p=1$!!$a2V5",
	} {
		if _, err := hasher.Verify("x", in); !errors.Is(err, ErrInvalidHash) {
			t.Fatalf("%q: expected ErrInvalidHash, got %v", in, err)
		}
	}
}

func TestNeedsUpgrade(t *testing.T) {
	weak, _ := NewArgon2(testConfig())
	hash, _ := weak.Hash("P@ssw0rd-Ascii")

	stronger := testConfig()
	stronger.Time = 2
	strong, _ := NewArgon2(stronger)

	if up, err := weak.NeedsUpgrade(hash); err != nil || up {
		t.Fatalf("same params must not need upgrade: %v %v", up, err)
	}
	if up, err := strong.NeedsUpgrade(hash); err != nil || !up {
		t.Fatalf("weaker params must need upgrade: %v %v", up, err)
	}
}

func TestConfigValidation(t *testing.T) {
	cfg := testConfig()
	cfg.Memory = 1024
	if _, err := NewArgon2(cfg); err == nil {
		t.Fatal("expected low memory to be rejected")
	}
	cfg = testConfig()
	cfg.SaltLength = 8
	if _, err := NewArgon2(cfg); err == nil {
		t.Fatal("expected short salt to be rejected")
	}
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config must validate: %v", err)
	}
}

func TestChainVerifiesLegacyBcrypt(t *testing.T) {
	primary, _ := NewArgon2(testConfig())
	chain := NewChain(primary)

	legacy, err := NewBcrypt(4).Hash("Legacy#Pass1")
	if err != nil {
		t.Fatalf("bcrypt hash: %v", err)
	}
	ok, err := chain.Verify("Legacy#Pass1", legacy)
	if err != nil || !ok {
		t.Fatalf("expected legacy verify: %v %v", ok, err)
	}
	if up, _ := chain.NeedsUpgrade(legacy); !up {
		t.Fatal("bcrypt hashes must be upgraded")
	}

	fresh, _ := chain.Hash("Legacy#Pass1")
	if !strings.HasPrefix(fresh, argon2Prefix) {
		t.Fatalf("chain must hash with argon2id, got %s", fresh)
	}
	if up, _ := chain.NeedsUpgrade(fresh); up {
		t.Fatal("fresh argon2 hash must not need upgrade")
	}
}

func TestBcryptMismatch(t *testing.T) {
	b := NewBcrypt(4)
	h, _ := b.Hash("secret-value")
	if ok, err := b.Verify("secret-valuf", h); err != nil || ok {
		t.Fatalf("expected mismatch: %v %v", ok, err)
	}
	if _, err := b.Verify("x", "not-bcrypt"); !errors.Is(err, ErrInvalidHash) {
		t.Fatalf("expected ErrInvalidHash, got %v", err)
	}
}
