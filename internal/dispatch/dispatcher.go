// Package dispatch orchestrates a single scan request: entitlement
// re-validation, the target status transition, the attempt record, and the
// engine invocation. Completion of the actual scan is observed later
// through the audit feed, never through the dispatch call itself.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/redfoxsec/audit-core/internal/data/db"
	"github.com/redfoxsec/audit-core/internal/data/model"
	"github.com/redfoxsec/audit-core/internal/engine"
	"github.com/redfoxsec/audit-core/internal/entitlement"
	"github.com/redfoxsec/audit-core/internal/log"
	"github.com/redfoxsec/audit-core/internal/metrics"
	"github.com/redfoxsec/audit-core/pkg/types"
)

// ErrAlreadyInProgress is returned when a scan is already in flight for
// the target.
var ErrAlreadyInProgress = errors.New("audit already in progress for target")

// ErrDispatchFailed is returned when the engine invocation or the attempt
// record fails; the target has been rolled back to Failed.
var ErrDispatchFailed = errors.New("scan dispatch failed")

// ErrNoSession is returned when the caller has no established session.
var ErrNoSession = errors.New("no session established")

// metricsNamespace scopes this service's prometheus metrics.
const metricsNamespace = "audit_core"

// TargetStore is the slice of the target registry the dispatcher needs.
type TargetStore interface {
	GetTarget(ctx context.Context, ownerID, id string) (*model.Target, error)
	TransitionStatus(ctx context.Context, id string, to model.TargetStatus, allowedFrom ...model.TargetStatus) error
	ForceStatus(ctx context.Context, id string, to model.TargetStatus) error
	StaleAuditing(ctx context.Context, cutoff time.Time) ([]model.Target, error)
}

// AttemptStore records dispatch attempts.
type AttemptStore interface {
	InsertScanAttempt(ctx context.Context, attempt *model.ScanAttempt) error
}

// UsageSource supplies the caller's usage snapshot for entitlement checks.
type UsageSource interface {
	Snapshot(ctx context.Context, ownerID string) types.UsageSnapshot
}

// Dispatcher runs the scan dispatch state machine.
type Dispatcher struct {
	targets      TargetStore
	attempts     AttemptStore
	engine       engine.Invoker
	usage        UsageSource
	entitlements types.EntitlementSource
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(
	targets TargetStore,
	attempts AttemptStore,
	invoker engine.Invoker,
	usage UsageSource,
	entitlements types.EntitlementSource,
) (*Dispatcher, error) {
	if targets == nil {
		return nil, fmt.Errorf("targets cannot be nil")
	}
	if attempts == nil {
		return nil, fmt.Errorf("attempts cannot be nil")
	}
	if invoker == nil {
		return nil, fmt.Errorf("invoker cannot be nil")
	}
	if usage == nil {
		return nil, fmt.Errorf("usage cannot be nil")
	}
	if entitlements == nil {
		return nil, fmt.Errorf("entitlements cannot be nil")
	}
	return &Dispatcher{
		targets:      targets,
		attempts:     attempts,
		engine:       invoker,
		usage:        usage,
		entitlements: entitlements,
	}, nil
}

// Run dispatches an audit for the identified caller's target.
//
// The entitlement gate runs before any state change even when the caller's
// UI already pre-filtered the action; stale client state must not bypass
// it. The status write to Auditing is committed durably before the engine
// is invoked so a concurrent request observes the guard. Any failure after
// that write rolls the target to Failed; a target left in Auditing after a
// known dispatch failure is a defect.
func (d *Dispatcher) Run(ctx context.Context, ident types.Identity, targetID string) (*model.ScanAttempt, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx cannot be nil")
	}
	if ident.UserID == "" {
		return nil, ErrNoSession
	}
	logger := log.NewLogger(ctx)
	collector := metrics.FromContext(ctx, metricsNamespace)

	target, err := d.targets.GetTarget(ctx, ident.UserID, targetID)
	if err != nil {
		return nil, err
	}

	ent, err := d.entitlements.Entitlement(ctx, ident.UserID)
	if err != nil {
		// An unknown entitlement is treated as free tier, never premium.
		logger.Warn("entitlement lookup failed, assuming free tier", zap.Error(err))
		ent = types.Entitlement{}
	}
	snapshot := d.usage.Snapshot(ctx, ident.UserID)

	if err := entitlement.CanRunScan(ent, snapshot); err != nil {
		_ = collector.AddCounter(ctx, "denials_total", 1, "quota") //nolint:errcheck
		return nil, err
	}
	if err := entitlement.CanUseAdvancedModules(ent, target); err != nil {
		_ = collector.AddCounter(ctx, "denials_total", 1, "premium") //nolint:errcheck
		return nil, err
	}

	// The guard and the visible "in progress" state commit together.
	err = d.targets.TransitionStatus(ctx, target.ID, model.TargetStatusAuditing,
		model.TargetStatusPending, model.TargetStatusCompleted, model.TargetStatusFailed)
	if errors.Is(err, db.ErrStatusConflict) {
		_ = collector.AddCounter(ctx, "denials_total", 1, "in_progress") //nolint:errcheck
		return nil, fmt.Errorf("target %s: %w", target.ID, ErrAlreadyInProgress)
	}
	if err != nil {
		return nil, err
	}

	attempt := &model.ScanAttempt{
		OwnerID:   ident.UserID,
		TargetID:  target.ID,
		TargetURL: target.Name,
		Status:    model.ScanAttemptInitiated,
	}
	if err := d.attempts.InsertScanAttempt(ctx, attempt); err != nil {
		d.failTarget(ctx, target.ID)
		_ = collector.AddCounter(ctx, "dispatches_total", 1, "failed") //nolint:errcheck
		return nil, fmt.Errorf("%w: recording attempt: %v", ErrDispatchFailed, err)
	}

	invokeErr := d.engine.Invoke(ctx, engine.InvokeRequest{
		URL:           NormalizeTargetURL(target.Name),
		Email:         ident.Email,
		TargetID:      target.ID,
		ScanAttemptID: attempt.ID,
	})
	if invokeErr != nil {
		d.failTarget(ctx, target.ID)
		_ = collector.AddCounter(ctx, "dispatches_total", 1, "failed") //nolint:errcheck
		return nil, fmt.Errorf("%w: %v", ErrDispatchFailed, invokeErr)
	}

	logger.Info("scan dispatched",
		zap.String("target", target.ID), zap.String("attempt", attempt.ID))
	_ = collector.AddCounter(ctx, "dispatches_total", 1, "dispatched") //nolint:errcheck
	return attempt, nil
}

// failTarget rolls the target to the terminal Failed status after a
// dispatch error. The rollback itself must not mask the original error.
func (d *Dispatcher) failTarget(ctx context.Context, targetID string) {
	if err := d.targets.ForceStatus(ctx, targetID, model.TargetStatusFailed); err != nil {
		log.NewLogger(ctx).Error("failed to roll target back to Failed",
			zap.String("target", targetID), zap.Error(err))
	}
}

// ReapStale fails targets whose status has been Auditing for longer than
// ttl. The engine owns terminal writes in normal operation; the reaper
// only covers an engine that died without writing one. A ttl of zero
// disables reaping.
func (d *Dispatcher) ReapStale(ctx context.Context, ttl time.Duration) (int, error) {
	if ttl <= 0 {
		return 0, nil
	}
	stale, err := d.targets.StaleAuditing(ctx, time.Now().Add(-ttl))
	if err != nil {
		return 0, fmt.Errorf("error finding stale targets: %w", err)
	}
	logger := log.NewLogger(ctx)
	reaped := 0
	for i := range stale {
		if err := d.targets.ForceStatus(ctx, stale[i].ID, model.TargetStatusFailed); err != nil {
			logger.Error("failed to reap stale target",
				zap.String("target", stale[i].ID), zap.Error(err))
			continue
		}
		logger.Warn("reaped target stuck in Auditing",
			zap.String("target", stale[i].ID), zap.String("name", stale[i].Name))
		reaped++
	}
	return reaped, nil
}

// NormalizeTargetURL turns a registered name into a fully-qualified URL,
// defaulting to https when no scheme is present.
func NormalizeTargetURL(name string) string {
	if strings.HasPrefix(name, "http://") || strings.HasPrefix(name, "https://") {
		return name
	}
	return "https://" + name
}
