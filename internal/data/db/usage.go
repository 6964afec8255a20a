package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/redfoxsec/audit-core/internal/data/model"
	"github.com/redfoxsec/audit-core/pkg/types"
)

// UsageManager recomputes per-user consumption counters from the
// authoritative records. Counters are never incremented here; every call
// derives them wholesale.
type UsageManager interface {
	// UsageCounts returns the owner's active-target count, the number of
	// scan attempts since the given instant, and remaining scan credits.
	UsageCounts(ctx context.Context, ownerID string, since time.Time) (types.UsageSnapshot, error)
}

// GormUsageManager implements the UsageManager interface using a GORM DB connection.
type GormUsageManager struct {
	db *gorm.DB
}

// NewGormUsageManager creates a new GormUsageManager.
func NewGormUsageManager(db *gorm.DB) (*GormUsageManager, error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	return &GormUsageManager{db: db}, nil
}

// UsageCounts recomputes the usage snapshot from authoritative counts.
func (manager *GormUsageManager) UsageCounts(ctx context.Context, ownerID string, since time.Time) (types.UsageSnapshot, error) {
	if ctx == nil {
		return types.UsageSnapshot{}, fmt.Errorf("ctx cannot be nil")
	}

	var snapshot types.UsageSnapshot

	var targetCount int64
	err := manager.db.WithContext(ctx).
		Model(&model.Target{}).
		Where("owner_id = ?", ownerID).
		Count(&targetCount).Error
	if err != nil {
		return types.UsageSnapshot{}, fmt.Errorf("error counting targets: %w", err)
	}
	snapshot.DomainCount = int(targetCount)

	var scanCount int64
	err = manager.db.WithContext(ctx).
		Model(&model.ScanAttempt{}).
		Where("owner_id = ? AND created_at >= ?", ownerID, since).
		Count(&scanCount).Error
	if err != nil {
		return types.UsageSnapshot{}, fmt.Errorf("error counting scan attempts: %w", err)
	}
	snapshot.ScanCount = int(scanCount)

	var credits sql.NullInt64
	err = manager.db.WithContext(ctx).
		Model(&model.ScanCredit{}).
		Select("SUM(delta)").
		Where("owner_id = ?", ownerID).
		Scan(&credits).Error
	if err != nil {
		return types.UsageSnapshot{}, fmt.Errorf("error summing scan credits: %w", err)
	}
	if credits.Valid {
		snapshot.ScanCredits = int(credits.Int64)
	}

	return snapshot, nil
}
