package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/redfoxsec/audit-core/internal/data/model"
	"github.com/redfoxsec/audit-core/internal/log"
)

// TargetSpec carries the editable fields of a target. Update applies it
// with full-replace semantics; Status is never part of the spec because
// only the dispatcher and the engine may move it.
type TargetSpec struct {
	Name      string          `json:"name"`
	Schedule  model.Schedule  `json:"schedule"`
	ScanTypes model.ScanTypes `json:"scan_types"`
}

// TargetManager defines the interface for the target registry.
type TargetManager interface {
	// CreateTarget persists a new target with status Pending.
	CreateTarget(ctx context.Context, ownerID string, spec *TargetSpec) (*model.Target, error)
	// UpdateTarget replaces the editable fields of an owned target.
	UpdateTarget(ctx context.Context, ownerID, id string, spec *TargetSpec) (*model.Target, error)
	// DeleteTarget removes an owned target. Scan attempts and audits that
	// reference it are retained for the audit trail.
	DeleteTarget(ctx context.Context, ownerID, id string) error
	// GetTarget retrieves an owned target.
	GetTarget(ctx context.Context, ownerID, id string) (*model.Target, error)
	// ListTargets returns the owner's targets, newest-created first,
	// optionally filtered by a case-insensitive name substring.
	ListTargets(ctx context.Context, ownerID, query string) ([]model.Target, error)
	// TransitionStatus moves a target to the given status only when its
	// current status is one of allowedFrom. Returns ErrStatusConflict
	// otherwise.
	TransitionStatus(ctx context.Context, id string, to model.TargetStatus, allowedFrom ...model.TargetStatus) error
	// ForceStatus moves a target to the given status unconditionally.
	ForceStatus(ctx context.Context, id string, to model.TargetStatus) error
	// MarkAudited stamps the last completed audit time on a target.
	MarkAudited(ctx context.Context, id string, at time.Time) error
	// StaleAuditing returns targets that have been Auditing since before
	// the cutoff.
	StaleAuditing(ctx context.Context, cutoff time.Time) ([]model.Target, error)
	// OwnerOf returns the owner of a target regardless of caller scope.
	// For internal use only; never expose it behind a caller-supplied id
	// without an ownership check.
	OwnerOf(ctx context.Context, id string) (string, error)
}

// GormTargetManager implements the TargetManager interface using a GORM DB connection.
type GormTargetManager struct {
	db *gorm.DB
}

// NewGormTargetManager creates a new GormTargetManager.
func NewGormTargetManager(db *gorm.DB) (*GormTargetManager, error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	return &GormTargetManager{db: db}, nil
}

// CreateTarget persists a new target with status Pending and returns the
// stored record.
func (manager *GormTargetManager) CreateTarget(ctx context.Context, ownerID string, spec *TargetSpec) (*model.Target, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx cannot be nil")
	}
	if spec == nil {
		return nil, fmt.Errorf("spec cannot be nil")
	}
	if strings.TrimSpace(spec.Name) == "" {
		return nil, fmt.Errorf("invalid target: %w", ErrNameRequired)
	}

	logger := log.NewLogger(ctx)
	logger.Debug("CreateTarget", zap.String("owner", ownerID), zap.String("name", spec.Name))

	schedule := spec.Schedule
	if schedule == "" {
		schedule = model.ScheduleManual
	}

	target := model.Target{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Name:      strings.TrimSpace(spec.Name),
		Schedule:  schedule,
		ScanTypes: spec.ScanTypes,
		Status:    model.TargetStatusPending,
	}
	if err := manager.db.WithContext(ctx).Create(&target).Error; err != nil {
		return nil, fmt.Errorf("error creating target: %w", err)
	}
	return &target, nil
}

// UpdateTarget replaces the editable fields of an owned target. It never
// touches Status.
func (manager *GormTargetManager) UpdateTarget(ctx context.Context, ownerID, id string, spec *TargetSpec) (*model.Target, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx cannot be nil")
	}
	if spec == nil {
		return nil, fmt.Errorf("spec cannot be nil")
	}
	if strings.TrimSpace(spec.Name) == "" {
		return nil, fmt.Errorf("invalid target: %w", ErrNameRequired)
	}

	target, err := manager.GetTarget(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{
		"name":       strings.TrimSpace(spec.Name),
		"schedule":   spec.Schedule,
		"scan_types": spec.ScanTypes,
	}
	if err := manager.db.WithContext(ctx).Model(target).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("error updating target: %w", err)
	}
	return manager.GetTarget(ctx, ownerID, id)
}

// DeleteTarget removes an owned target record. Dependent scan attempts and
// audits are intentionally left in place.
func (manager *GormTargetManager) DeleteTarget(ctx context.Context, ownerID, id string) error {
	if ctx == nil {
		return fmt.Errorf("ctx cannot be nil")
	}
	res := manager.db.WithContext(ctx).
		Where("id = ? AND owner_id = ?", id, ownerID).
		Delete(&model.Target{})
	if res.Error != nil {
		return fmt.Errorf("error deleting target: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("target %s: %w", id, ErrNotFound)
	}
	return nil
}

// GetTarget retrieves a target scoped to its owner.
func (manager *GormTargetManager) GetTarget(ctx context.Context, ownerID, id string) (*model.Target, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx cannot be nil")
	}
	var target model.Target
	err := manager.db.WithContext(ctx).
		Where("id = ? AND owner_id = ?", id, ownerID).
		First(&target).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("target %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("error retrieving target: %w", err)
	}
	return &target, nil
}

// ListTargets returns all targets owned by the caller, newest-created first.
func (manager *GormTargetManager) ListTargets(ctx context.Context, ownerID, query string) ([]model.Target, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx cannot be nil")
	}
	tx := manager.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at DESC")
	if query != "" {
		tx = tx.Where("LOWER(name) LIKE ?", "%"+strings.ToLower(query)+"%")
	}
	var targets []model.Target
	if err := tx.Find(&targets).Error; err != nil {
		return nil, fmt.Errorf("error listing targets: %w", err)
	}
	return targets, nil
}

// TransitionStatus performs a guarded status transition. The WHERE clause
// carries the guard so that concurrent dispatches for the same target race
// at the database rather than in process memory: exactly one conditional
// UPDATE wins.
func (manager *GormTargetManager) TransitionStatus(ctx context.Context, id string, to model.TargetStatus, allowedFrom ...model.TargetStatus) error {
	if ctx == nil {
		return fmt.Errorf("ctx cannot be nil")
	}
	if len(allowedFrom) == 0 {
		return fmt.Errorf("allowedFrom cannot be empty")
	}

	res := manager.db.WithContext(ctx).
		Model(&model.Target{}).
		Where("id = ? AND status IN ?", id, allowedFrom).
		Update("status", to)
	if res.Error != nil {
		return fmt.Errorf("error transitioning target status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		var target model.Target
		if err := manager.db.WithContext(ctx).First(&target, "id = ?", id).Error; err != nil {
			return fmt.Errorf("target %s: %w", id, ErrNotFound)
		}
		return fmt.Errorf("target %s is %s: %w", id, target.Status, ErrStatusConflict)
	}
	return nil
}

// ForceStatus sets a target's status unconditionally. Used to roll a
// target back to Failed after a dispatch error.
func (manager *GormTargetManager) ForceStatus(ctx context.Context, id string, to model.TargetStatus) error {
	if ctx == nil {
		return fmt.Errorf("ctx cannot be nil")
	}
	res := manager.db.WithContext(ctx).
		Model(&model.Target{}).
		Where("id = ?", id).
		Update("status", to)
	if res.Error != nil {
		return fmt.Errorf("error forcing target status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("target %s: %w", id, ErrNotFound)
	}
	return nil
}

// MarkAudited stamps the last completed audit time on a target.
func (manager *GormTargetManager) MarkAudited(ctx context.Context, id string, at time.Time) error {
	if ctx == nil {
		return fmt.Errorf("ctx cannot be nil")
	}
	err := manager.db.WithContext(ctx).
		Model(&model.Target{}).
		Where("id = ?", id).
		Update("last_audit_at", at).Error
	if err != nil {
		return fmt.Errorf("error marking target audited: %w", err)
	}
	return nil
}

// OwnerOf returns the owner of a target regardless of caller scope.
func (manager *GormTargetManager) OwnerOf(ctx context.Context, id string) (string, error) {
	if ctx == nil {
		return "", fmt.Errorf("ctx cannot be nil")
	}
	var target model.Target
	err := manager.db.WithContext(ctx).Select("owner_id").First(&target, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", fmt.Errorf("target %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("error retrieving target owner: %w", err)
	}
	return target.OwnerID, nil
}

// StaleAuditing returns targets stuck in Auditing since before the cutoff.
func (manager *GormTargetManager) StaleAuditing(ctx context.Context, cutoff time.Time) ([]model.Target, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx cannot be nil")
	}
	var targets []model.Target
	err := manager.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", model.TargetStatusAuditing, cutoff).
		Find(&targets).Error
	if err != nil {
		return nil, fmt.Errorf("error listing stale targets: %w", err)
	}
	return targets, nil
}
