package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/redfoxsec/audit-core/internal/auth"
	"github.com/redfoxsec/audit-core/internal/config"
	"github.com/redfoxsec/audit-core/internal/data/db"
	"github.com/redfoxsec/audit-core/internal/dispatch"
	"github.com/redfoxsec/audit-core/internal/engine"
	"github.com/redfoxsec/audit-core/internal/log"
	"github.com/redfoxsec/audit-core/internal/metrics"
	"github.com/redfoxsec/audit-core/internal/notify"
	"github.com/redfoxsec/audit-core/internal/pprof"
	"github.com/redfoxsec/audit-core/internal/server"
	"github.com/redfoxsec/audit-core/internal/sql"
	"github.com/redfoxsec/audit-core/internal/usage"
)

// metricsNamespace scopes this service's prometheus metrics.
const metricsNamespace = "audit_core"

// newServeCmd creates the serve command.
func newServeCmd() *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the audit orchestration API server",
		Long: "Serve the HTTP API: target registry, entitlement-gated scan dispatch, " +
			"audit reports, and websocket live-log streaming.",
		RunE: runServe,
	}
	serveCmd.PersistentFlags().StringP("config", "c", "", "Path to the YAML config file")
	return serveCmd
}

// runServe wires the components and runs the server until interrupted.
func runServe(cmd *cobra.Command, _ []string) error {
	// A missing .env is fine; explicit config still wins.
	_ = godotenv.Load() //nolint:errcheck

	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return fmt.Errorf("%w: config: %w", errFlagRetrieval, err)
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = metrics.WithMetrics(ctx, metricsNamespace)
	logger := log.NewLogger(ctx)

	connector := sql.CreateDBConnector(
		cfg.Database.Driver, cfg.Database.Path, cfg.Database.InstanceConnectionName,
		cfg.Database.User, cfg.Database.Password, cfg.Database.Name,
	)
	dbConn, err := connector.Connect(ctx)
	if err != nil {
		return fmt.Errorf("error setting up database connection: %w", err)
	}
	if err := sql.Migrate(dbConn); err != nil {
		return fmt.Errorf("error migrating database: %w", err)
	}

	targets, err := db.NewGormTargetManager(dbConn)
	if err != nil {
		return fmt.Errorf("error initializing target manager: %w", err)
	}
	audits, err := db.NewGormAuditManager(dbConn)
	if err != nil {
		return fmt.Errorf("error initializing audit manager: %w", err)
	}
	usageCounts, err := db.NewGormUsageManager(dbConn)
	if err != nil {
		return fmt.Errorf("error initializing usage manager: %w", err)
	}
	entitlements, err := db.NewGormEntitlementManager(dbConn)
	if err != nil {
		return fmt.Errorf("error initializing entitlement manager: %w", err)
	}

	usageCache, err := usage.NewCache(usageCounts)
	if err != nil {
		return fmt.Errorf("error initializing usage cache: %w", err)
	}

	var broker notify.Broker
	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		broker, err = notify.NewRedisBroker(ctx, client)
		if err != nil {
			return fmt.Errorf("error connecting notification broker: %w", err)
		}
		logger.Info("using redis notification broker", zap.String("addr", cfg.Redis.Addr))
	} else {
		broker = notify.NewMemoryBroker()
	}

	invoker, err := engine.NewWebhookInvoker(cfg.Engine.WebhookURL, cfg.Engine.Token, nil)
	if err != nil {
		return fmt.Errorf("error initializing engine invoker: %w", err)
	}
	dispatcher, err := dispatch.NewDispatcher(targets, audits, invoker, usageCache, entitlements)
	if err != nil {
		return fmt.Errorf("error initializing dispatcher: %w", err)
	}

	verifier, err := auth.NewVerifier(cfg.Auth.JWTSecret)
	if err != nil {
		return fmt.Errorf("error initializing token verifier: %w", err)
	}

	srv, err := server.New(server.Options{
		Targets:      targets,
		Audits:       audits,
		Usage:        usageCache,
		Entitlements: entitlements,
		Dispatcher:   dispatcher,
		Broker:       broker,
		Verifier:     verifier,
		IngestToken:  cfg.Engine.IngestToken,
		CORSOrigins:  cfg.Server.CORSOrigins,
		BaseContext:  ctx,
	})
	if err != nil {
		return fmt.Errorf("error initializing server: %w", err)
	}

	if cfg.Server.PprofAddr != "" {
		go func() {
			if err := pprof.StartPprofServer(ctx, cfg.Server.PprofAddr); err != nil {
				logger.Error("pprof server failed", zap.Error(err))
			}
		}()
	}

	if cfg.Audit.StaleAfter > 0 {
		go runReaper(ctx, dispatcher, cfg.Audit.StaleAfter, cfg.Audit.ReapInterval)
	}

	logger.Info("serving audit orchestration API", zap.String("addr", cfg.Server.Addr))
	return srv.Run(ctx, cfg.Server.Addr)
}

// runReaper periodically fails targets stuck in Auditing past the TTL.
func runReaper(ctx context.Context, dispatcher *dispatch.Dispatcher, ttl, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	logger := log.NewLogger(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reaped, err := dispatcher.ReapStale(ctx, ttl)
			if err != nil {
				logger.Error("stale audit reap failed", zap.Error(err))
				continue
			}
			if reaped > 0 {
				logger.Info("reaped stale audits", zap.Int("count", reaped))
			}
		}
	}
}
