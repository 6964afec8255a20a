package db

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/redfoxsec/audit-core/internal/data/model"
	"github.com/redfoxsec/audit-core/pkg/types"
)

// GormEntitlementManager derives entitlements from subscription rows. It
// implements types.EntitlementSource.
type GormEntitlementManager struct {
	db *gorm.DB
}

// NewGormEntitlementManager creates a new GormEntitlementManager.
func NewGormEntitlementManager(db *gorm.DB) (*GormEntitlementManager, error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	return &GormEntitlementManager{db: db}, nil
}

// Entitlement returns the derived entitlement for the owner: premium while
// at least one subscription is active.
func (manager *GormEntitlementManager) Entitlement(ctx context.Context, ownerID string) (types.Entitlement, error) {
	if ctx == nil {
		return types.Entitlement{}, fmt.Errorf("ctx cannot be nil")
	}

	var subs []model.Subscription
	err := manager.db.WithContext(ctx).
		Where("owner_id = ? AND status = ?", ownerID, model.SubscriptionActive).
		Order("created_at DESC").
		Find(&subs).Error
	if err != nil {
		return types.Entitlement{}, fmt.Errorf("error retrieving subscriptions: %w", err)
	}
	if len(subs) == 0 {
		return types.Entitlement{}, nil
	}
	return types.Entitlement{Premium: true, Plan: subs[0].PlanID}, nil
}
