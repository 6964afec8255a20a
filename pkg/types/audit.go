package types

import "context"

// Identity represents the authenticated caller as supplied by the session
// provider. An empty UserID means no session is established and no
// operations are permitted.
type Identity struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
}

// Entitlement is the derived premium/free status governing quota and
// feature access. It is never stored; it is recomputed from the caller's
// subscription records.
type Entitlement struct {
	Premium bool   `json:"premium"`
	Plan    string `json:"plan,omitempty"`
}

// UsageSnapshot holds the per-user consumption counters used to enforce
// free-tier quotas. Counters are only ever re-derived wholesale from the
// record store, never incremented in place.
type UsageSnapshot struct {
	DomainCount int `json:"domain_count"`
	ScanCount   int `json:"monthly_scan_count"`
	ScanCredits int `json:"scan_credits"`
}

// EntitlementSource supplies subscription-derived entitlements per user.
type EntitlementSource interface {
	// Entitlement returns the derived entitlement for the given owner.
	Entitlement(ctx context.Context, ownerID string) (Entitlement, error)
}
