package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// TargetStatus is the lifecycle status of a monitored target.
type TargetStatus string

const (
	// TargetStatusPending is the initial status of a newly registered target.
	TargetStatusPending TargetStatus = "Pending"
	// TargetStatusAuditing means a scan is in flight for the target.
	TargetStatusAuditing TargetStatus = "Auditing"
	// TargetStatusCompleted means the last scan finished and produced an audit.
	TargetStatusCompleted TargetStatus = "Completed"
	// TargetStatusFailed means the last scan attempt failed.
	TargetStatusFailed TargetStatus = "Failed"
)

// Schedule is the recurrence setting for a target's audits.
type Schedule string

const (
	ScheduleManual  Schedule = "manual"
	ScheduleDaily   Schedule = "daily"
	ScheduleWeekly  Schedule = "weekly"
	ScheduleMonthly Schedule = "monthly"
)

// Target represents a monitored asset (domain or IP) registered by a user.
type Target struct {
	ID          string       `json:"id" gorm:"primaryKey;size:36"`
	OwnerID     string       `json:"user_id" gorm:"index;size:36"`
	Name        string       `json:"name"`
	Schedule    Schedule     `json:"schedule"`
	ScanTypes   ScanTypes    `json:"scan_types" gorm:"type:text"`
	Status      TargetStatus `json:"status" gorm:"index"`
	LastAuditAt *time.Time   `json:"last_audit_at"`
	CreatedAt   time.Time    `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt   time.Time    `json:"updated_at" gorm:"autoUpdateTime"`
}

// ScanTypes holds the two independent module sets a target can enable.
// Advanced modules are gated behind a premium entitlement.
type ScanTypes struct {
	Basic    map[string]bool `json:"basic,omitempty"`
	Advanced map[string]bool `json:"advanced,omitempty"`
}

// HasAdvanced reports whether at least one advanced module is enabled.
func (s ScanTypes) HasAdvanced() bool {
	for _, enabled := range s.Advanced {
		if enabled {
			return true
		}
	}
	return false
}

// Value implements the driver.Valuer interface for database serialization.
func (s ScanTypes) Value() (driver.Value, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface for database deserialization.
func (s *ScanTypes) Scan(value interface{}) error {
	if value == nil {
		*s = ScanTypes{}
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, s)
	case string:
		return json.Unmarshal([]byte(v), s)
	default:
		return fmt.Errorf("ScanTypes Scan error: expected []byte or string, got %T", value)
	}
}
