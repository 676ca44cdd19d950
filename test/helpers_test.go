//go:build integration
// +build integration

package test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/taskauth"
	"github.com/MrEthical07/taskauth/internal/stores/sqlstore"
	"github.com/MrEthical07/taskauth/password"
)

const integrationPassword = "Integr4tion!Pass"

type stack struct {
	mr    *miniredis.Miniredis
	rdb   *redis.Client
	store *sqlstore.Store
}

func newStack(t *testing.T) *stack {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})

	store, err := sqlstore.Open(context.Background(), "")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}

	t.Cleanup(func() {
		_ = store.Close()
		_ = rdb.Close()
		mr.Close()
	})
	return &stack{mr: mr, rdb: rdb, store: store}
}

func integrationConfig() taskauth.Config {
	cfg := taskauth.DefaultConfig()
	cfg.Token.AccessSecret = []byte("integration-access-secret-0123456789abcdef")
	cfg.Token.RefreshSecret = []byte("integration-refresh-secret-0123456789abcdef")
	cfg.Password.Argon2 = password.Config{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 16}
	cfg.Audit.Enabled = false
	cfg.Lockout.Threshold = 5
	cfg.Lockout.Cooldown = 15 * time.Minute
	return cfg
}

// engine builds an engine over the shared stack. Several engines over one
// stack behave like several server instances.
func (s *stack) engine(t *testing.T) *taskauth.Engine {
	t.Helper()

	e, err := taskauth.New().
		WithConfig(integrationConfig()).
		WithCredentialStore(s.store).
		WithRedis(s.rdb).
		Build()
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	t.Cleanup(e.Close)
	return e
}

func register(t *testing.T, e *taskauth.Engine, email, username string) *taskauth.Profile {
	t.Helper()

	p, err := e.Register(context.Background(), taskauth.RegisterRequest{
		Email:     email,
		Username:  username,
		Password:  integrationPassword,
		FirstName: "Int",
		LastName:  "Egration",
	})
	if err != nil {
		t.Fatalf("register %s: %v", email, err)
	}
	return p
}

func login(t *testing.T, e *taskauth.Engine, handle string) *taskauth.LoginResult {
	t.Helper()

	res, err := e.Login(context.Background(), handle, integrationPassword)
	if err != nil {
		t.Fatalf("login %s: %v", handle, err)
	}
	return res
}
