// Package entitlement contains the pure decision logic that gates
// quota-limited and premium-only actions. It never mutates counters;
// consumption is observed later through a usage snapshot refresh.
package entitlement

import (
	"errors"
	"fmt"

	"github.com/redfoxsec/audit-core/internal/data/model"
	"github.com/redfoxsec/audit-core/pkg/types"
)

// ErrQuotaExceeded is returned when a free-tier cap blocks the action.
var ErrQuotaExceeded = errors.New("quota exceeded")

// ErrPremiumRequired is returned when the action needs an active premium
// subscription.
var ErrPremiumRequired = errors.New("premium subscription required")

// Free-tier caps. Premium removes both.
const (
	// FreeTargetLimit is the number of targets a free plan may register.
	FreeTargetLimit = 2
	// FreeMonthlyScans is the number of scans a free plan may run per
	// billing period before credits are required.
	FreeMonthlyScans = 3
)

// CanAddTarget decides whether the caller may register another target.
func CanAddTarget(ent types.Entitlement, usage types.UsageSnapshot) error {
	if ent.Premium {
		return nil
	}
	if usage.DomainCount >= FreeTargetLimit {
		return fmt.Errorf("free plan is limited to %d targets: %w", FreeTargetLimit, ErrQuotaExceeded)
	}
	return nil
}

// CanRunScan decides whether the caller may dispatch a scan. The monthly
// allotment is consumed first; positive scan credits override the monthly
// cap rather than adding to it.
func CanRunScan(ent types.Entitlement, usage types.UsageSnapshot) error {
	if ent.Premium {
		return nil
	}
	if usage.ScanCount < FreeMonthlyScans {
		return nil
	}
	if usage.ScanCredits > 0 {
		return nil
	}
	return fmt.Errorf("monthly scan allotment of %d used and no credits remain: %w", FreeMonthlyScans, ErrQuotaExceeded)
}

// CanUseAdvancedModules decides whether the target's scan configuration is
// permitted for the caller. Advanced modules need premium.
func CanUseAdvancedModules(ent types.Entitlement, target *model.Target) error {
	if target == nil || !target.ScanTypes.HasAdvanced() {
		return nil
	}
	if !ent.Premium {
		return fmt.Errorf("advanced scan modules on %s: %w", target.Name, ErrPremiumRequired)
	}
	return nil
}
