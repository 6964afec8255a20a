// Package usage holds the process-wide, lazily refreshed view of per-user
// consumption counters. The cache is the only writer of snapshots; every
// reader goes through it.
package usage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/redfoxsec/audit-core/internal/entitlement"
	"github.com/redfoxsec/audit-core/internal/log"
	"github.com/redfoxsec/audit-core/pkg/types"
)

// Counter recomputes a user's usage snapshot from authoritative records.
type Counter interface {
	UsageCounts(ctx context.Context, ownerID string, since time.Time) (types.UsageSnapshot, error)
}

// Capped is the snapshot assumed for a user whose real usage is unknown.
// Unknown usage must never grant more than a known snapshot would, so all
// counters sit at their free-tier caps with zero credits.
func Capped() types.UsageSnapshot {
	return types.UsageSnapshot{
		DomainCount: entitlement.FreeTargetLimit,
		ScanCount:   entitlement.FreeMonthlyScans,
		ScanCredits: 0,
	}
}

// Cache caches usage snapshots per user. Snapshots are replaced atomically
// under the lock; readers never observe a partially updated value.
type Cache struct {
	mu        sync.RWMutex
	snapshots map[string]types.UsageSnapshot
	counter   Counter
	now       func() time.Time
}

// NewCache creates a new Cache backed by the given counter.
func NewCache(counter Counter) (*Cache, error) {
	if counter == nil {
		return nil, fmt.Errorf("counter cannot be nil")
	}
	return &Cache{
		snapshots: make(map[string]types.UsageSnapshot),
		counter:   counter,
		now:       time.Now,
	}, nil
}

// Snapshot returns the cached snapshot for the owner, refreshing lazily on
// a miss. If no snapshot can be obtained the capped default is returned so
// optimistic actions are denied rather than silently allowed.
func (c *Cache) Snapshot(ctx context.Context, ownerID string) types.UsageSnapshot {
	c.mu.RLock()
	snapshot, ok := c.snapshots[ownerID]
	c.mu.RUnlock()
	if ok {
		return snapshot
	}

	snapshot, err := c.Refresh(ctx, ownerID)
	if err != nil {
		return Capped()
	}
	return snapshot
}

// Refresh recomputes the owner's snapshot and replaces the cached value.
// On failure the previous value is retained and returned alongside the
// error; the caller decides whether the staleness matters.
func (c *Cache) Refresh(ctx context.Context, ownerID string) (types.UsageSnapshot, error) {
	logger := log.NewLogger(ctx)

	snapshot, err := c.counter.UsageCounts(ctx, ownerID, periodStart(c.now()))
	if err != nil {
		logger.Warn("usage refresh failed, keeping last known snapshot",
			zap.String("owner", ownerID), zap.Error(err))
		c.mu.RLock()
		previous, ok := c.snapshots[ownerID]
		c.mu.RUnlock()
		if !ok {
			previous = Capped()
		}
		return previous, fmt.Errorf("error refreshing usage: %w", err)
	}

	c.mu.Lock()
	c.snapshots[ownerID] = snapshot
	c.mu.Unlock()
	return snapshot, nil
}

// Invalidate refreshes the owner's snapshot after a relevant mutation
// (target CRUD, audit reaching a terminal state). Refresh failures are
// non-fatal; the last known value stays in place.
func (c *Cache) Invalidate(ctx context.Context, ownerID string) {
	if _, err := c.Refresh(ctx, ownerID); err != nil {
		log.NewLogger(ctx).Warn("usage invalidation refresh failed",
			zap.String("owner", ownerID), zap.Error(err))
	}
}

// periodStart returns the start of the billing period containing t. The
// free monthly scan allotment resets on calendar-month boundaries.
func periodStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}
