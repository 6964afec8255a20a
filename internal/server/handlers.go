package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/redfoxsec/audit-core/internal/auth"
	"github.com/redfoxsec/audit-core/internal/data/db"
	"github.com/redfoxsec/audit-core/internal/data/model"
	"github.com/redfoxsec/audit-core/internal/dispatch"
	"github.com/redfoxsec/audit-core/internal/entitlement"
	"github.com/redfoxsec/audit-core/internal/log"
	"github.com/redfoxsec/audit-core/internal/notify"
	"github.com/redfoxsec/audit-core/pkg/types"
)

// writeError maps the core error taxonomy onto HTTP statuses. Access
// denials and missing records both answer 404 so record existence never
// leaks across owners.
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, db.ErrNameRequired):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, entitlement.ErrQuotaExceeded):
		c.JSON(http.StatusPaymentRequired, gin.H{"error": err.Error(), "upgrade": "/pricing"})
	case errors.Is(err, entitlement.ErrPremiumRequired):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error(), "upgrade": "/pricing"})
	case errors.Is(err, dispatch.ErrAlreadyInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, db.ErrNotFound), errors.Is(err, db.ErrAccessDenied):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, dispatch.ErrDispatchFailed):
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func (s *Server) identity(c *gin.Context) (types.Identity, bool) {
	ident, ok := auth.IdentityFrom(c)
	if !ok || ident.UserID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "no session"})
		return types.Identity{}, false
	}
	return ident, true
}

func (s *Server) handleListTargets(c *gin.Context) {
	ident, ok := s.identity(c)
	if !ok {
		return
	}
	targets, err := s.targets.ListTargets(c.Request.Context(), ident.UserID, c.Query("q"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"targets": targets})
}

func (s *Server) handleCreateTarget(c *gin.Context) {
	ident, ok := s.identity(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	var spec db.TargetSpec
	if err := c.ShouldBindJSON(&spec); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	// The quota gate runs before any mutation, against the capped-safe
	// snapshot.
	ent, err := s.entitlements.Entitlement(ctx, ident.UserID)
	if err != nil {
		log.NewLogger(ctx).Warn("entitlement lookup failed, assuming free tier", zap.Error(err))
		ent = types.Entitlement{}
	}
	if err := entitlement.CanAddTarget(ent, s.usage.Snapshot(ctx, ident.UserID)); err != nil {
		writeError(c, err)
		return
	}

	target, err := s.targets.CreateTarget(ctx, ident.UserID, &spec)
	if err != nil {
		writeError(c, err)
		return
	}
	s.afterTargetMutation(c, notify.ActionInsert, target)
	c.JSON(http.StatusCreated, target)
}

func (s *Server) handleUpdateTarget(c *gin.Context) {
	ident, ok := s.identity(c)
	if !ok {
		return
	}
	var spec db.TargetSpec
	if err := c.ShouldBindJSON(&spec); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	target, err := s.targets.UpdateTarget(c.Request.Context(), ident.UserID, c.Param("id"), &spec)
	if err != nil {
		writeError(c, err)
		return
	}
	s.afterTargetMutation(c, notify.ActionUpdate, target)
	c.JSON(http.StatusOK, target)
}

func (s *Server) handleDeleteTarget(c *gin.Context) {
	ident, ok := s.identity(c)
	if !ok {
		return
	}
	id := c.Param("id")
	if err := s.targets.DeleteTarget(c.Request.Context(), ident.UserID, id); err != nil {
		writeError(c, err)
		return
	}
	s.afterTargetMutation(c, notify.ActionDelete, &model.Target{ID: id, OwnerID: ident.UserID})
	c.Status(http.StatusNoContent)
}

func (s *Server) handleRunAudit(c *gin.Context) {
	ident, ok := s.identity(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	attempt, err := s.dispatcher.Run(ctx, ident, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}

	if target, getErr := s.targets.GetTarget(ctx, ident.UserID, attempt.TargetID); getErr == nil {
		s.afterTargetMutation(c, notify.ActionUpdate, target)
	}
	c.JSON(http.StatusAccepted, attempt)
}

func (s *Server) handleAuditReport(c *gin.Context) {
	ident, ok := s.identity(c)
	if !ok {
		return
	}
	audit, err := s.audits.LatestAuditForTarget(c.Request.Context(), ident.UserID, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, audit)
}

func (s *Server) handleUsage(c *gin.Context) {
	ident, ok := s.identity(c)
	if !ok {
		return
	}
	snapshot, err := s.usage.Refresh(c.Request.Context(), ident.UserID)
	if err != nil {
		// Refresh failures degrade to the last known (or capped) value.
		c.JSON(http.StatusOK, gin.H{"usage": snapshot, "stale": true})
		return
	}
	c.JSON(http.StatusOK, gin.H{"usage": snapshot})
}

func (s *Server) handleProfile(c *gin.Context) {
	ident, ok := s.identity(c)
	if !ok {
		return
	}
	ent, err := s.entitlements.Entitlement(c.Request.Context(), ident.UserID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"user_id":     ident.UserID,
		"email":       ident.Email,
		"entitlement": ent,
	})
}

// handleIngestAudit receives an audit snapshot from the execution engine,
// stores it, resolves the target's terminal status on completion, and
// fans the snapshot out on the notification feed.
func (s *Server) handleIngestAudit(c *gin.Context) {
	ctx := c.Request.Context()

	var snapshot model.Audit
	if err := c.ShouldBindJSON(&snapshot); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid audit snapshot"})
		return
	}

	audit, err := s.audits.UpsertAudit(ctx, &snapshot)
	if err != nil {
		writeError(c, err)
		return
	}

	ownerID, err := s.targets.OwnerOf(ctx, audit.TargetID)
	if err != nil {
		// Orphaned audits (target deleted) are still stored and streamed.
		ownerID = ""
	}

	if audit.Completed() {
		// The engine reports its own execution failures through
		// https_status on the final snapshot.
		terminal := model.TargetStatusCompleted
		if audit.Summary.HTTPSStatus == "error" {
			terminal = model.TargetStatusFailed
		}
		if err := s.targets.TransitionStatus(ctx, audit.TargetID, terminal, model.TargetStatusAuditing); err != nil {
			// The target may be gone or already resolved; the audit record
			// stands either way.
			log.NewLogger(ctx).Warn("could not resolve target status on completion",
				zap.String("target", audit.TargetID), zap.Error(err))
		}
		if terminal == model.TargetStatusCompleted {
			if err := s.targets.MarkAudited(ctx, audit.TargetID, time.Now()); err != nil {
				log.NewLogger(ctx).Warn("could not stamp last audit time",
					zap.String("target", audit.TargetID), zap.Error(err))
			}
		}
	}

	ev := notify.Event{
		Collection: notify.CollectionAudits,
		Action:     notify.ActionUpdate,
		OwnerID:    ownerID,
		TargetID:   audit.TargetID,
		Audit:      audit,
	}
	if err := s.broker.Publish(ctx, ev); err != nil {
		log.NewLogger(ctx).Warn("could not publish audit notification", zap.Error(err))
	}
	if audit.Completed() && ownerID != "" {
		s.usage.Invalidate(ctx, ownerID)
	}

	c.JSON(http.StatusOK, gin.H{"id": audit.ID})
}

// afterTargetMutation publishes the change event and refreshes the
// owner's usage counters. The notification feed, not the handler's
// response, is the source of truth for viewers.
func (s *Server) afterTargetMutation(c *gin.Context, action string, target *model.Target) {
	ctx := c.Request.Context()
	ev := notify.Event{
		Collection: notify.CollectionTargets,
		Action:     action,
		OwnerID:    target.OwnerID,
		TargetID:   target.ID,
		Target:     target,
	}
	if err := s.broker.Publish(ctx, ev); err != nil {
		log.NewLogger(ctx).Warn("could not publish target notification", zap.Error(err))
	}
	s.usage.Invalidate(ctx, target.OwnerID)
}
