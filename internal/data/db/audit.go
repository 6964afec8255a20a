package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/redfoxsec/audit-core/internal/data/model"
	"github.com/redfoxsec/audit-core/internal/log"
)

// AuditManager defines the interface for scan attempts and audit records.
type AuditManager interface {
	// InsertScanAttempt inserts a new dispatch record.
	InsertScanAttempt(ctx context.Context, attempt *model.ScanAttempt) error
	// UpsertAudit stores an audit snapshot from the engine, replacing the
	// previous Summary/Details wholesale.
	UpsertAudit(ctx context.Context, audit *model.Audit) (*model.Audit, error)
	// LatestAuditForTarget returns the newest audit for a target the
	// caller owns. Reads of other users' audits fail closed with
	// ErrAccessDenied.
	LatestAuditForTarget(ctx context.Context, callerID, targetID string) (*model.Audit, error)
}

// GormAuditManager implements the AuditManager interface using a GORM DB connection.
type GormAuditManager struct {
	db *gorm.DB
}

// NewGormAuditManager creates a new GormAuditManager.
func NewGormAuditManager(db *gorm.DB) (*GormAuditManager, error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	return &GormAuditManager{db: db}, nil
}

// InsertScanAttempt inserts a new ScanAttempt. Attempts are insert-only;
// there is no update path.
func (manager *GormAuditManager) InsertScanAttempt(ctx context.Context, attempt *model.ScanAttempt) error {
	if ctx == nil {
		return fmt.Errorf("ctx cannot be nil")
	}
	if attempt == nil {
		return fmt.Errorf("attempt cannot be nil")
	}
	if attempt.ID == "" {
		attempt.ID = uuid.NewString()
	}
	if attempt.Status == "" {
		attempt.Status = model.ScanAttemptInitiated
	}

	logger := log.NewLogger(ctx)
	logger.Debug("InsertScanAttempt",
		zap.String("target", attempt.TargetID), zap.String("owner", attempt.OwnerID))

	if err := manager.db.WithContext(ctx).Create(attempt).Error; err != nil {
		return fmt.Errorf("error creating scan attempt: %w", err)
	}
	return nil
}

// UpsertAudit stores an audit snapshot. Each snapshot from the engine
// replaces the previous Summary and Details in full, until the stored
// record completes; after that, writes are ignored and the stored record
// is returned.
func (manager *GormAuditManager) UpsertAudit(ctx context.Context, audit *model.Audit) (*model.Audit, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx cannot be nil")
	}
	if audit == nil {
		return nil, fmt.Errorf("audit cannot be nil")
	}
	if audit.TargetID == "" {
		return nil, fmt.Errorf("audit target id cannot be empty")
	}
	if audit.ID == "" {
		audit.ID = uuid.NewString()
	}

	err := manager.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing model.Audit
		err := tx.First(&existing, "id = ?", audit.ID).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			if err := tx.Create(audit).Error; err != nil {
				return fmt.Errorf("error creating audit: %w", err)
			}
		case err != nil:
			return fmt.Errorf("error finding audit: %w", err)
		default:
			if existing.Completed() {
				// Completed reports are immutable; a late or replayed
				// engine callback must not rewrite a finished report.
				*audit = existing
				return nil
			}
			existing.Score = audit.Score
			existing.Summary = audit.Summary
			existing.Details = audit.Details
			if err := tx.Save(&existing).Error; err != nil {
				return fmt.Errorf("error updating audit: %w", err)
			}
			*audit = existing
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("transaction failed: %w", err)
	}
	return audit, nil
}

// LatestAuditForTarget returns the newest audit record for the target.
// The parent target's owner is checked first; a mismatch returns
// ErrAccessDenied and no audit data.
func (manager *GormAuditManager) LatestAuditForTarget(ctx context.Context, callerID, targetID string) (*model.Audit, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx cannot be nil")
	}

	var target model.Target
	err := manager.db.WithContext(ctx).First(&target, "id = ?", targetID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("target %s: %w", targetID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("error retrieving target: %w", err)
	}
	if target.OwnerID != callerID {
		return nil, fmt.Errorf("audit for target %s: %w", targetID, ErrAccessDenied)
	}

	var audit model.Audit
	err = manager.db.WithContext(ctx).
		Where("target_id = ?", targetID).
		Order("created_at DESC").
		First(&audit).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("audit for target %s: %w", targetID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("error retrieving audit: %w", err)
	}
	return &audit, nil
}
