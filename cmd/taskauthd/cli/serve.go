package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/MrEthical07/taskauth/internal/server"
	"github.com/MrEthical07/taskauth/security"
)

func newServeCmd() *cobra.Command {
	var (
		port int
		host string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the authentication API server",
		Long:  "Start the HTTP server for the auth, API key and security administration endpoints.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", server.DefaultConfig().Port, "HTTP listen port")
	cmd.Flags().StringVar(&host, "host", server.DefaultConfig().Host, "HTTP listen host")

	viper.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	viper.BindPFlag("server.host", cmd.Flags().Lookup("host"))

	return cmd
}

func runServe(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := openRuntime(ctx, true)
	if err != nil {
		return err
	}
	defer rt.Close()
	logger := rt.logger

	engine, err := rt.engine()
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	shield, err := rt.shield(engine.SecuritySink())
	if err != nil {
		return fmt.Errorf("build security pipeline: %w", err)
	}
	keys, err := rt.keys(engine.SecuritySink())
	if err != nil {
		return fmt.Errorf("build api key service: %w", err)
	}

	report := engine.SecurityReport()
	logger.Info("security settings",
		zap.String("signing", report.SigningAlgorithm),
		zap.Duration("access_ttl", report.AccessTTL),
		zap.Duration("refresh_ttl", report.RefreshTTL),
		zap.Duration("session_ttl", report.SessionTTL),
		zap.Bool("sliding_sessions", report.SlidingSessions),
		zap.Int("lockout_threshold", report.LockoutThreshold),
		zap.Duration("lockout_cooldown", report.LockoutCooldown),
		zap.Duration("reset_ttl", report.ResetTokenTTL),
		zap.Uint32("argon2_memory_kib", report.Argon2.Memory),
		zap.Bool("audit", report.AuditEnabled),
		zap.Bool("metrics", report.MetricsEnabled),
		zap.Int("roles", report.Roles),
		zap.String("rules_version", security.RulesVersion),
	)
	if devMode {
		logger.Warn("development mode: secrets may be generated and sessions will not survive a restart")
	}

	srv, err := server.New(rt.cfg.Server, server.Deps{
		Engine:  engine,
		Shield:  shield,
		APIKeys: keys,
		Cache:   rt.cache,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	if h := engine.Health(ctx); h.Degraded() {
		logger.Warn("cache unavailable at startup", zap.Error(h.Cache))
	}

	return srv.ListenAndServe(ctx)
}
