// Package server exposes the orchestration core over HTTP: target CRUD,
// scan dispatch, usage and profile reads, audit reports, the engine's
// ingest callback, and a websocket live-log stream.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/redfoxsec/audit-core/internal/auth"
	"github.com/redfoxsec/audit-core/internal/data/db"
	"github.com/redfoxsec/audit-core/internal/dispatch"
	"github.com/redfoxsec/audit-core/internal/metrics"
	"github.com/redfoxsec/audit-core/internal/notify"
	"github.com/redfoxsec/audit-core/internal/usage"
	"github.com/redfoxsec/audit-core/pkg/types"
)

// metricsNamespace scopes this service's prometheus metrics.
const metricsNamespace = "audit_core"

// Server wires the core components behind the HTTP API.
type Server struct {
	router       *gin.Engine
	targets      db.TargetManager
	audits       db.AuditManager
	usage        *usage.Cache
	entitlements types.EntitlementSource
	dispatcher   *dispatch.Dispatcher
	broker       notify.Broker
	verifier     *auth.Verifier
	ingestToken  string
	baseCtx      context.Context
}

// Options carries the Server dependencies.
type Options struct {
	Targets      db.TargetManager
	Audits       db.AuditManager
	Usage        *usage.Cache
	Entitlements types.EntitlementSource
	Dispatcher   *dispatch.Dispatcher
	Broker       notify.Broker
	Verifier     *auth.Verifier
	IngestToken  string
	CORSOrigins  []string
	BaseContext  context.Context
}

// New creates a Server and registers its routes.
func New(opts Options) (*Server, error) {
	if opts.Targets == nil {
		return nil, fmt.Errorf("targets cannot be nil")
	}
	if opts.Audits == nil {
		return nil, fmt.Errorf("audits cannot be nil")
	}
	if opts.Usage == nil {
		return nil, fmt.Errorf("usage cannot be nil")
	}
	if opts.Entitlements == nil {
		return nil, fmt.Errorf("entitlements cannot be nil")
	}
	if opts.Dispatcher == nil {
		return nil, fmt.Errorf("dispatcher cannot be nil")
	}
	if opts.Broker == nil {
		return nil, fmt.Errorf("broker cannot be nil")
	}
	if opts.Verifier == nil {
		return nil, fmt.Errorf("verifier cannot be nil")
	}
	baseCtx := opts.BaseContext
	if baseCtx == nil {
		baseCtx = context.Background()
	}

	s := &Server{
		targets:      opts.Targets,
		audits:       opts.Audits,
		usage:        opts.Usage,
		entitlements: opts.Entitlements,
		dispatcher:   opts.Dispatcher,
		broker:       opts.Broker,
		verifier:     opts.Verifier,
		ingestToken:  opts.IngestToken,
		baseCtx:      baseCtx,
	}

	router := gin.New()
	router.Use(gin.Recovery())

	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	// Request contexts come from net/http, not from baseCtx; carry the
	// collector explicitly so per-request increments land in the same
	// registry /metrics serves.
	collector := metrics.FromContext(baseCtx, metricsNamespace)
	router.Use(func(c *gin.Context) {
		c.Request = c.Request.WithContext(metrics.WithCollector(c.Request.Context(), collector))
		c.Next()
	})

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(collector.MetricsHandler()))

	v1 := router.Group("/v1", auth.Middleware(s.verifier))
	{
		v1.GET("/targets", s.handleListTargets)
		v1.POST("/targets", s.handleCreateTarget)
		v1.PUT("/targets/:id", s.handleUpdateTarget)
		v1.DELETE("/targets/:id", s.handleDeleteTarget)
		v1.POST("/targets/:id/audits", s.handleRunAudit)
		v1.GET("/targets/:id/report", s.handleAuditReport)
		v1.GET("/targets/:id/logs", s.handleLiveLogs)
		v1.GET("/usage", s.handleUsage)
		v1.GET("/profile", s.handleProfile)
	}

	router.POST("/internal/audits", s.requireIngestToken, s.handleIngestAudit)

	s.router = router
	return s, nil
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves the API on the given address until the context is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	}
}

// requireIngestToken authenticates the engine's callbacks with a shared
// token header.
func (s *Server) requireIngestToken(c *gin.Context) {
	if s.ingestToken == "" || c.GetHeader("X-Engine-Token") != s.ingestToken {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid engine token"})
		return
	}
	c.Next()
}
