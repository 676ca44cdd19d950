// Package server is the HTTP surface of taskauth: auth routes, API key
// management, security administration, and the health endpoints.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"go.uber.org/zap"

	"github.com/MrEthical07/taskauth"
	"github.com/MrEthical07/taskauth/apikey"
	"github.com/MrEthical07/taskauth/cache"
	"github.com/MrEthical07/taskauth/metrics/export/prometheus"
	"github.com/MrEthical07/taskauth/middleware"
	"github.com/MrEthical07/taskauth/security"
)

// Config holds the HTTP server configuration.
type Config struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
	// FloodLimit caps requests per address per minute in this process,
	// ahead of the shared tiers. Zero disables it.
	FloodLimit int `mapstructure:"flood_limit"`
	// TrustProxy takes the client address from X-Forwarded-For / X-Real-IP.
	TrustProxy     bool `mapstructure:"trust_proxy"`
	EnableMetrics  bool `mapstructure:"enable_metrics"`
	EnableServices bool `mapstructure:"enable_services"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Host:            "0.0.0.0",
		Port:            3001,
		ShutdownTimeout: 30 * time.Second,
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    60 * time.Second,
		IdleTimeout:     120 * time.Second,
		CORSOrigins:     []string{"http://localhost:3000"},
		FloodLimit:      600,
		EnableMetrics:   true,
		EnableServices:  true,
	}
}

// Deps are the collaborators the server routes to.
type Deps struct {
	Engine  *taskauth.Engine
	Shield  *security.Shield
	APIKeys *apikey.Service
	// Cache backs the per-key API ceiling.
	Cache  cache.Cache
	Logger *zap.Logger
}

// Server owns the router and the HTTP listener.
type Server struct {
	cfg        Config
	engine     *taskauth.Engine
	shield     *security.Shield
	csrf       *security.CSRF
	keys       *apikey.Service
	cache      cache.Cache
	logger     *zap.Logger
	router     chi.Router
	httpServer *http.Server
}

// New wires every route. Engine, Shield and APIKeys are required.
func New(cfg Config, deps Deps) (*Server, error) {
	if deps.Engine == nil || deps.Shield == nil || deps.APIKeys == nil {
		return nil, errors.New("server: engine, shield and api key service are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		cfg:    cfg,
		engine: deps.Engine,
		shield: deps.Shield,
		csrf:   security.NewCSRF(deps.Shield.Config().CSRF, deps.Engine.SecuritySink()),
		keys:   deps.APIKeys,
		cache:  deps.Cache,
		logger: logger,
	}
	s.setupRouter()
	return s, nil
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	if s.cfg.TrustProxy {
		r.Use(chimw.RealIP)
	}
	r.Use(middleware.ClientContext)
	r.Use(middleware.Logger(s.logger))
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-CSRF-Token", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID", "RateLimit-Limit", "RateLimit-Remaining", "RateLimit-Reset", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	if s.cfg.FloodLimit > 0 {
		r.Use(httprate.Limit(s.cfg.FloodLimit, time.Minute,
			httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
				return security.ClientIP(r), nil
			}),
			httprate.WithLimitHandler(s.handleFlood),
		))
	}
	r.Use(security.SizeLimit(s.shield.Config().MaxBodyBytes))

	r.Get("/health", s.handleHealth)
	r.Get("/readyz", s.handleReadyz)
	if s.cfg.EnableMetrics {
		r.Method(http.MethodGet, "/metrics", prometheus.New(s.engine).Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(s.shield.Middleware(security.TierStrict))
			r.Use(s.csrf.Middleware)
			r.Post("/auth/register", s.handleRegister)
			r.Post("/auth/login", s.handleLogin)
			r.Post("/auth/refresh", s.handleRefresh)
			r.Post("/auth/forgot-password", s.handleForgotPassword)
			r.Post("/auth/reset-password", s.handleResetPassword)
		})

		r.Group(func(r chi.Router) {
			r.Use(s.shield.Middleware(security.TierPublic))
			r.Get("/auth/csrf-token", s.handleCSRFToken)
		})

		r.Group(func(r chi.Router) {
			r.Use(s.shield.Middleware(security.TierAPI))
			r.Use(s.csrf.Middleware)
			r.Use(middleware.RequireToken(s.engine))
			r.Post("/auth/logout", s.handleLogout)
		})

		r.Group(func(r chi.Router) {
			r.Use(s.shield.Middleware(security.TierAPI))
			r.Use(s.csrf.Middleware)
			r.Use(middleware.Guard(s.engine))

			r.Get("/auth/profile", s.handleProfile)
			r.Put("/auth/profile", s.handleUpdateProfile)
			r.Post("/auth/change-password", s.handleChangePassword)

			r.Route("/api-keys", func(r chi.Router) {
				r.Use(middleware.RequirePermission(s.engine, "manage_users"))
				r.Post("/", s.handleCreateKey)
				r.Get("/", s.handleListKeys)
				r.Get("/{keyID}", s.handleKeyStats)
				r.Delete("/{keyID}", s.handleRevokeKey)
			})

			r.Route("/security", func(r chi.Router) {
				r.Use(middleware.RequireRole(s.engine, "admin"))
				r.Get("/status", s.handleSecurityStatus)
				r.Post("/blocks", s.handleBlock)
				r.Delete("/blocks/{ip}", s.handleUnblock)
			})
		})

		if s.cfg.EnableServices {
			r.Route("/service", func(r chi.Router) {
				r.Use(s.shield.Middleware(security.TierAPI))
				r.Use(middleware.APIKey(s.keys, middleware.APIKeyOptions{Cache: s.cache, Logger: s.logger}))
				r.With(middleware.RequireScope(s.engine.SecuritySink(), "tasks:read")).Get("/identity", s.handleServiceIdentity)
			})
		}
	})

	s.router = r
}

// Router returns the chi router.
func (s *Server) Router() chi.Router { return s.router }

// ServeHTTP delegates to the router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves until ctx is cancelled, then shuts down within the
// configured timeout. The block list is swept on the shield's interval while
// serving.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go s.sweepLoop(sweepCtx, s.shield.Config().SweepInterval)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", zap.String("addr", addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server listen: %w", err)
	case <-ctx.Done():
		s.logger.Info("shutdown signal received, draining connections")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	s.logger.Info("server stopped")
	return nil
}

func (s *Server) sweepLoop(ctx context.Context, every time.Duration) {
	if every <= 0 {
		return
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.sweep(ctx)
		}
	}
}

func (s *Server) sweep(ctx context.Context) {
	if _, err := s.shield.Sweep(ctx); err != nil {
		s.logger.Warn("block list sweep failed", zap.Error(err))
	}
	if _, err := s.keys.SweepExpired(ctx); err != nil {
		s.logger.Warn("api key sweep failed", zap.Error(err))
	}
}
