package db

import (
	"context"
	"testing"
	"time"

	"github.com/redfoxsec/audit-core/internal/data/model"
	"github.com/redfoxsec/audit-core/pkg/types"
)

func TestUsageCounts(t *testing.T) {
	conn := setupSQLiteDB(t)
	targets, err := NewGormTargetManager(conn)
	if err != nil {
		t.Fatalf("failed to create target manager: %v", err)
	}
	audits, err := NewGormAuditManager(conn)
	if err != nil {
		t.Fatalf("failed to create audit manager: %v", err)
	}
	manager, err := NewGormUsageManager(conn)
	if err != nil {
		t.Fatalf("failed to create usage manager: %v", err)
	}
	ctx := context.Background()

	seedTarget(t, targets, "u1", "one.example.com")
	seedTarget(t, targets, "u1", "two.example.com")
	seedTarget(t, targets, "u2", "other.example.com")

	for i := 0; i < 3; i++ {
		err := audits.InsertScanAttempt(ctx, &model.ScanAttempt{OwnerID: "u1", TargetID: "t1"})
		if err != nil {
			t.Fatalf("InsertScanAttempt() error = %v", err)
		}
	}
	if err := audits.InsertScanAttempt(ctx, &model.ScanAttempt{OwnerID: "u2", TargetID: "t2"}); err != nil {
		t.Fatalf("InsertScanAttempt() error = %v", err)
	}

	// Purchased five credits, consumed two.
	credits := []model.ScanCredit{
		{OwnerID: "u1", Delta: 5, Reason: "purchase"},
		{OwnerID: "u1", Delta: -2, Reason: "scan"},
		{OwnerID: "u2", Delta: 10, Reason: "purchase"},
	}
	for i := range credits {
		if err := conn.Create(&credits[i]).Error; err != nil {
			t.Fatalf("failed to seed scan credit: %v", err)
		}
	}

	since := time.Now().Add(-time.Hour)
	got, err := manager.UsageCounts(ctx, "u1", since)
	if err != nil {
		t.Fatalf("UsageCounts() error = %v", err)
	}
	want := types.UsageSnapshot{DomainCount: 2, ScanCount: 3, ScanCredits: 3}
	if got != want {
		t.Errorf("UsageCounts() = %+v, want %+v", got, want)
	}

	// Attempts before the period start are not counted.
	got, err = manager.UsageCounts(ctx, "u1", time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("UsageCounts() error = %v", err)
	}
	if got.ScanCount != 0 {
		t.Errorf("UsageCounts() scan count = %d, want 0 outside the period", got.ScanCount)
	}
}

func TestUsageCountsEmptyLedger(t *testing.T) {
	manager, err := NewGormUsageManager(setupSQLiteDB(t))
	if err != nil {
		t.Fatalf("failed to create usage manager: %v", err)
	}

	got, err := manager.UsageCounts(context.Background(), "u1", time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("UsageCounts() error = %v", err)
	}
	if got != (types.UsageSnapshot{}) {
		t.Errorf("UsageCounts() = %+v, want zero snapshot", got)
	}
}

func TestEntitlement(t *testing.T) {
	conn := setupSQLiteDB(t)
	manager, err := NewGormEntitlementManager(conn)
	if err != nil {
		t.Fatalf("failed to create entitlement manager: %v", err)
	}
	ctx := context.Background()

	subs := []model.Subscription{
		{ID: "s1", OwnerID: "u1", PlanID: "pro-monthly", Status: model.SubscriptionActive},
		{ID: "s2", OwnerID: "u2", PlanID: "pro-monthly", Status: "canceled"},
	}
	for i := range subs {
		if err := conn.Create(&subs[i]).Error; err != nil {
			t.Fatalf("failed to seed subscription: %v", err)
		}
	}

	tests := []struct {
		name    string
		ownerID string
		want    types.Entitlement
	}{
		{name: "active subscription grants premium", ownerID: "u1", want: types.Entitlement{Premium: true, Plan: "pro-monthly"}},
		{name: "canceled subscription does not", ownerID: "u2", want: types.Entitlement{}},
		{name: "unknown user is free tier", ownerID: "u3", want: types.Entitlement{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := manager.Entitlement(ctx, tt.ownerID)
			if err != nil {
				t.Fatalf("Entitlement() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Entitlement() = %+v, want %+v", got, tt.want)
			}
		})
	}
}
