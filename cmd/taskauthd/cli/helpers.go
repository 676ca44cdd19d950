package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/MrEthical07/taskauth"
	"github.com/MrEthical07/taskauth/apikey"
	"github.com/MrEthical07/taskauth/cache"
	"github.com/MrEthical07/taskauth/internal/notify"
	"github.com/MrEthical07/taskauth/internal/stores/pgstore"
	"github.com/MrEthical07/taskauth/internal/stores/sqlstore"
	"github.com/MrEthical07/taskauth/security"
)

// store is what both SQL backends provide.
type store interface {
	taskauth.CredentialStore
	apikey.Store
}

// cliRuntime holds the collaborators a command opens and must close.
type cliRuntime struct {
	cfg     *fileConfig
	logger  *zap.Logger
	store   store
	cache   cache.Cache
	closers []func()
}

// openRuntime loads configuration and opens the logger, store and cache.
// Only commands that build an engine need the token secrets.
func openRuntime(ctx context.Context, needSecrets bool) (*cliRuntime, error) {
	cfg, err := loadConfig(needSecrets)
	if err != nil {
		return nil, err
	}
	logger, err := buildLogger(cfg.Log)
	if err != nil {
		return nil, err
	}
	rt := &cliRuntime{cfg: cfg, logger: logger}
	rt.closers = append(rt.closers, func() { _ = logger.Sync() })

	if err := rt.openStore(ctx); err != nil {
		rt.Close()
		return nil, err
	}
	if err := rt.openCache(ctx); err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

func (rt *cliRuntime) openStore(ctx context.Context) error {
	switch rt.cfg.Database.Driver {
	case "postgres":
		s, err := pgstore.New(ctx, rt.cfg.Database.DSN)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		rt.store = s
		rt.closers = append(rt.closers, s.Close)
		rt.logger.Info("credential store opened", zap.String("driver", "postgres"))
	default:
		s, err := sqlstore.Open(ctx, rt.cfg.Database.Path)
		if err != nil {
			return err
		}
		rt.store = s
		rt.closers = append(rt.closers, func() { _ = s.Close() })
		rt.logger.Info("credential store opened", zap.String("driver", "sqlite"), zap.String("path", rt.cfg.Database.Path))
	}
	return nil
}

// openCache connects to Redis. In dev mode an unreachable Redis falls back to
// the in-process cache.
func (rt *cliRuntime) openCache(ctx context.Context) error {
	client := redis.NewClient(&redis.Options{
		Addr:     rt.cfg.Redis.Addr,
		Password: rt.cfg.Redis.Password,
		DB:       rt.cfg.Redis.DB,
	})
	c := cache.NewRedis(client, rt.cfg.Redis.OpTimeout)

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := c.Ping(pingCtx); err != nil {
		if devMode {
			_ = client.Close()
			rt.logger.Warn("redis unreachable, using in-memory cache", zap.String("addr", rt.cfg.Redis.Addr), zap.Error(err))
			rt.cache = cache.NewMemory()
			return nil
		}
		rt.logger.Warn("redis unreachable at startup, continuing fail-open", zap.String("addr", rt.cfg.Redis.Addr), zap.Error(err))
	}
	rt.cache = c
	rt.closers = append(rt.closers, func() { _ = client.Close() })
	return nil
}

// notifier picks SMTP delivery when a mail host is configured.
func (rt *cliRuntime) notifier() (taskauth.ResetNotifier, error) {
	if rt.cfg.SMTP.Host == "" {
		return notify.NewLog(rt.logger), nil
	}
	return notify.NewSMTP(rt.cfg.SMTP, rt.logger)
}

func (rt *cliRuntime) engine() (*taskauth.Engine, error) {
	n, err := rt.notifier()
	if err != nil {
		return nil, err
	}
	b := taskauth.New().
		WithConfig(rt.cfg.engineConfig()).
		WithCredentialStore(rt.store).
		WithCache(rt.cache).
		WithNotifier(n).
		WithLogger(rt.logger)
	if rt.cfg.Auth.Audit {
		b = b.WithAuditSink(taskauth.NewZapSink(rt.logger.Named("audit")))
	}
	e, err := b.Build()
	if err != nil {
		return nil, err
	}
	rt.closers = append(rt.closers, e.Close)
	return e, nil
}

func (rt *cliRuntime) shield(sink taskauth.AuditSink) (*security.Shield, error) {
	return security.New(rt.cache, rt.cfg.securityConfig(),
		security.WithLogger(rt.logger.Named("security")),
		security.WithAuditSink(sink),
	)
}

func (rt *cliRuntime) keys(sink taskauth.AuditSink) (*apikey.Service, error) {
	return apikey.NewService(rt.store, apikey.DefaultConfig(),
		apikey.WithLogger(rt.logger.Named("apikey")),
		apikey.WithAuditSink(sink),
	)
}

// Close releases everything in reverse order of opening.
func (rt *cliRuntime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	rt.closers = nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
