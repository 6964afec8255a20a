package model

import "time"

// ScanAttemptStatus is the dispatch-level status of a scan attempt.
type ScanAttemptStatus string

const (
	// ScanAttemptInitiated means the attempt record was created and the
	// engine invocation was (or is about to be) issued.
	ScanAttemptInitiated ScanAttemptStatus = "initiated"
	// ScanAttemptFailed means dispatch failed before the engine accepted
	// the request.
	ScanAttemptFailed ScanAttemptStatus = "failed"
)

// ScanAttempt is one dispatch record. It is created once per run request
// and never mutated afterwards; the audit record the engine produces
// supersedes it.
type ScanAttempt struct {
	ID        string            `json:"id" gorm:"primaryKey;size:36"`
	OwnerID   string            `json:"user_id" gorm:"index;size:36"`
	TargetID  string            `json:"domain_id" gorm:"index;size:36"`
	TargetURL string            `json:"target_url"`
	Status    ScanAttemptStatus `json:"status"`
	CreatedAt time.Time         `json:"created_at" gorm:"autoCreateTime"`
}

// Subscription is a billing subscription row, read-only to this service.
// A user is premium while at least one subscription is active.
type Subscription struct {
	ID        string    `json:"id" gorm:"primaryKey;size:36"`
	OwnerID   string    `json:"user_id" gorm:"index;size:36"`
	PlanID    string    `json:"plan_id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
}

// SubscriptionActive is the subscription status that grants premium.
const SubscriptionActive = "active"

// ScanCredit is one ledger entry of purchased (positive) or consumed
// (negative) scan credits. Remaining credits are the sum of deltas.
type ScanCredit struct {
	ID        uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	OwnerID   string    `json:"user_id" gorm:"index;size:36"`
	Delta     int       `json:"delta"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
}
