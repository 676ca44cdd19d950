package taskauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/taskauth/cache"
	internalaudit "github.com/MrEthical07/taskauth/internal/audit"
	"github.com/MrEthical07/taskauth/internal/flows"
	"github.com/MrEthical07/taskauth/jwt"
	"github.com/MrEthical07/taskauth/lockout"
	"github.com/MrEthical07/taskauth/password"
	"github.com/MrEthical07/taskauth/permission"
	"github.com/MrEthical07/taskauth/session"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Builder assembles an [Engine]. A Builder is single use.
type Builder struct {
	config Config
	store  CredentialStore
	cache  cache.Cache
	redis  redis.UniversalClient

	roles     *permission.RoleManager
	auditSink AuditSink
	notifier  ResetNotifier
	logger    *zap.Logger
	now       func() time.Time

	built bool
}

// New returns a Builder seeded with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig replaces the configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithCredentialStore sets the durable principal store. Required.
func (b *Builder) WithCredentialStore(store CredentialStore) *Builder {
	b.store = store
	return b
}

// WithCache sets the shared cache directly.
func (b *Builder) WithCache(c cache.Cache) *Builder {
	b.cache = c
	return b
}

// WithRedis uses client as the shared cache, bounded by Timeouts.Cache per command.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithRoles replaces the built-in role table.
func (b *Builder) WithRoles(roles *permission.RoleManager) *Builder {
	b.roles = roles
	return b
}

// WithAuditSink sets where audit events are delivered. The default logs them.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithNotifier sets how password reset tokens are delivered.
func (b *Builder) WithNotifier(n ResetNotifier) *Builder {
	b.notifier = n
	return b
}

// WithLogger sets the engine logger. The default discards everything.
func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

// WithClock replaces the time source. Intended for tests.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires the engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.store == nil {
		return nil, errors.New("credential store required")
	}

	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := b.now
	if now == nil {
		now = time.Now
	}

	c := b.cache
	if c == nil && b.redis != nil {
		c = cache.NewRedis(b.redis, cfg.Timeouts.Cache)
	}
	if c == nil {
		logger.Warn("no shared cache configured, sessions and refresh chains are process-local")
		c = cache.NewMemoryWithClock(now)
	}

	roles := b.roles
	if roles == nil {
		roles = permission.Default()
	}
	if !roles.Exists(cfg.DefaultRole) {
		return nil, fmt.Errorf("%w: default role %q is not registered", ErrInvalidConfig, cfg.DefaultRole)
	}

	argon, err := password.NewArgon2(cfg.Password.Argon2)
	if err != nil {
		return nil, err
	}
	dummyHash, err := argon.Hash("taskauth-timing-parity")
	if err != nil {
		return nil, err
	}

	tokens, err := jwt.NewManager(cfg.jwtConfig())
	if err != nil {
		return nil, err
	}
	tokens.SetClock(now)

	sessions := session.NewStore(c, cfg.Session.Prefix, cfg.Session.TTL, cfg.Session.Sliding)
	sessions.SetClock(now)

	sink := b.auditSink
	if sink == nil {
		sink = internalaudit.NewZapSink(logger)
	}

	notifier := b.notifier
	if notifier == nil {
		notifier = discardNotifier{logger: logger}
	}

	engine := &Engine{
		config:    cfg,
		logger:    logger,
		store:     b.store,
		cache:     c,
		sessions:  sessions,
		refresh:   session.NewRefreshStore(c, cfg.Session.RefreshPrefix, cfg.Token.RefreshTTL),
		tokens:    tokens,
		hasher:    password.NewChain(argon),
		roles:     roles,
		notifier:  notifier,
		metrics:   NewMetrics(cfg.Metrics),
		now:       now,
		dummyHash: dummyHash,
	}
	engine.audit = internalaudit.NewDispatcher(internalaudit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, sink)
	engine.flows = flows.Deps{
		Login:   engine.loginDeps(),
		Refresh: engine.refreshDeps(),
	}

	b.built = true
	return engine, nil
}

func (e *Engine) loginDeps() flows.LoginDeps {
	return flows.LoginDeps{
		PasswordUpgradeOnLogin: e.config.Password.UpgradeOnLogin,
		ClientIPFromContext:    ClientIPFromContext,
		UserAgentFromContext:   userAgentFromContext,
		Now:                    e.now,
		RecordLoginFailure: func(ctx context.Context, id string) (lockout.State, error) {
			sctx, cancel := e.storeCtx(ctx)
			defer cancel()
			state, err := e.store.RecordLoginFailure(sctx, id, e.config.Lockout, e.now().UTC())
			return state, storeErr(err)
		},
		RecordLoginSuccess: func(ctx context.Context, id string) error {
			sctx, cancel := e.storeCtx(ctx)
			defer cancel()
			return storeErr(e.store.RecordLoginSuccess(sctx, id, e.now().UTC()))
		},
		UpdatePasswordHash: func(ctx context.Context, id, hash string) error {
			sctx, cancel := e.storeCtx(ctx)
			defer cancel()
			return e.store.UpdatePasswordHash(sctx, id, hash, e.now().UTC())
		},
		VerifyPassword: e.hasher.Verify,
		DummyVerify: func(plain string) {
			_, _ = e.hasher.Verify(plain, e.dummyHash)
		},
		PasswordNeedsUpgrade: e.hasher.NeedsUpgrade,
		HashPassword:         e.hasher.Hash,
		IssueLoginSession:    e.issueLoginSession,
		MetricInc:            func(id int) { e.metricInc(MetricID(id)) },
		EmitAudit:            e.emitAudit,
		Warn:                 e.warn,
		Metrics: flows.LoginMetrics{
			LoginSuccess:   int(MetricLoginSuccess),
			LoginFailure:   int(MetricLoginFailure),
			LoginLocked:    int(MetricLoginLocked),
			AccountLocked:  int(MetricAccountLocked),
			SessionCreated: int(MetricSessionCreated),
		},
		Events: flows.LoginEvents{
			LoginSuccess:  auditEventLoginSuccess,
			LoginFailure:  auditEventLoginFailure,
			LoginLocked:   auditEventLoginLocked,
			AccountLocked: auditEventAccountLocked,
		},
		Errors: flows.LoginErrors{
			EngineNotReady:     ErrEngineNotReady,
			InvalidCredentials: ErrInvalidCredentials,
			AccountDisabled:    ErrAccountDisabled,
			UserNotFound:       ErrPrincipalNotFound,
			Locked: func(until time.Time) error {
				return &LockedError{Until: until}
			},
		},
	}
}

type discardNotifier struct {
	logger *zap.Logger
}

func (n discardNotifier) SendPasswordReset(_ context.Context, msg ResetMessage) error {
	n.logger.Warn("no reset notifier configured, reset token not delivered", zap.Time("expires_at", msg.ExpiresAt))
	return nil
}
