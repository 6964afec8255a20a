package entitlement

import (
	"errors"
	"testing"

	"github.com/redfoxsec/audit-core/internal/data/model"
	"github.com/redfoxsec/audit-core/pkg/types"
)

func TestCanAddTarget(t *testing.T) {
	tests := []struct {
		name    string
		ent     types.Entitlement
		usage   types.UsageSnapshot
		wantErr error
	}{
		{
			name:    "free under cap is permitted",
			ent:     types.Entitlement{},
			usage:   types.UsageSnapshot{DomainCount: 1},
			wantErr: nil,
		},
		{
			name:    "free at cap is denied",
			ent:     types.Entitlement{},
			usage:   types.UsageSnapshot{DomainCount: 2},
			wantErr: ErrQuotaExceeded,
		},
		{
			name:    "free over cap is denied",
			ent:     types.Entitlement{},
			usage:   types.UsageSnapshot{DomainCount: 5},
			wantErr: ErrQuotaExceeded,
		},
		{
			name:    "premium ignores the cap",
			ent:     types.Entitlement{Premium: true},
			usage:   types.UsageSnapshot{DomainCount: 40},
			wantErr: nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CanAddTarget(tt.ent, tt.usage)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("CanAddTarget() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestCanRunScan(t *testing.T) {
	tests := []struct {
		name    string
		ent     types.Entitlement
		usage   types.UsageSnapshot
		wantErr error
	}{
		{
			name:    "free under monthly cap is permitted",
			ent:     types.Entitlement{},
			usage:   types.UsageSnapshot{ScanCount: 2},
			wantErr: nil,
		},
		{
			name:    "free at monthly cap without credits is denied",
			ent:     types.Entitlement{},
			usage:   types.UsageSnapshot{ScanCount: 3, ScanCredits: 0},
			wantErr: ErrQuotaExceeded,
		},
		{
			name:    "credits override the monthly cap",
			ent:     types.Entitlement{},
			usage:   types.UsageSnapshot{ScanCount: 3, ScanCredits: 1},
			wantErr: nil,
		},
		{
			name:    "credits are not consulted under the cap",
			ent:     types.Entitlement{},
			usage:   types.UsageSnapshot{ScanCount: 0, ScanCredits: 0},
			wantErr: nil,
		},
		{
			name:    "premium ignores both counters",
			ent:     types.Entitlement{Premium: true},
			usage:   types.UsageSnapshot{ScanCount: 99, ScanCredits: 0},
			wantErr: nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CanRunScan(tt.ent, tt.usage)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("CanRunScan() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestCanUseAdvancedModules(t *testing.T) {
	advanced := &model.Target{
		Name:      "example.com",
		ScanTypes: model.ScanTypes{Advanced: map[string]bool{"portScan": true}},
	}
	basicOnly := &model.Target{
		Name:      "example.com",
		ScanTypes: model.ScanTypes{Basic: map[string]bool{"headers": true}, Advanced: map[string]bool{"portScan": false}},
	}

	tests := []struct {
		name    string
		ent     types.Entitlement
		target  *model.Target
		wantErr error
	}{
		{
			name:    "advanced modules need premium",
			ent:     types.Entitlement{},
			target:  advanced,
			wantErr: ErrPremiumRequired,
		},
		{
			name:    "premium unlocks advanced modules",
			ent:     types.Entitlement{Premium: true},
			target:  advanced,
			wantErr: nil,
		},
		{
			name:    "basic-only configuration never needs premium",
			ent:     types.Entitlement{},
			target:  basicOnly,
			wantErr: nil,
		},
		{
			name:    "nil target is permitted",
			ent:     types.Entitlement{},
			target:  nil,
			wantErr: nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CanUseAdvancedModules(tt.ent, tt.target)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("CanUseAdvancedModules() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}
