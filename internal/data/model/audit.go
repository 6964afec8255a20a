package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Audit represents the output artifact of a completed or in-progress scan.
// The external execution engine creates the row once it begins producing
// output and replaces the Summary/Details snapshots on every update.
type Audit struct {
	ID        string       `json:"id" gorm:"primaryKey;size:36"`
	TargetID  string       `json:"domain_id" gorm:"index;size:36"`
	Score     int          `json:"score"`
	Summary   AuditSummary `json:"summary" gorm:"type:text"`
	Details   AuditDetails `json:"details" gorm:"type:text"`
	CreatedAt time.Time    `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time    `json:"updated_at" gorm:"autoUpdateTime"`
}

// Completed reports whether the audit run has finished. A non-empty
// executive summary is the completion signal; log entries alone say
// nothing about completion.
func (a *Audit) Completed() bool {
	return a.Summary.ExecutiveSummary != ""
}

// AuditSummary is the structured executive view of an audit.
type AuditSummary struct {
	ExecutiveSummary        string `json:"executive_summary"`
	CriticalVulnerabilities int    `json:"critical_vulnerabilities"`
	TotalVulnerabilities    int    `json:"total_vulnerabilities"`
	HTTPSStatus             string `json:"https_status"`
}

// Value implements the driver.Valuer interface for database serialization.
func (s AuditSummary) Value() (driver.Value, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface for database deserialization.
func (s *AuditSummary) Scan(value interface{}) error {
	if value == nil {
		*s = AuditSummary{}
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, s)
	case string:
		return json.Unmarshal([]byte(v), s)
	default:
		return fmt.Errorf("AuditSummary Scan error: expected []byte or string, got %T", value)
	}
}

// AuditDetails is the full technical payload of an audit, including the
// append-only log stream the telemetry viewer follows.
type AuditDetails struct {
	Vulnerabilities []Finding         `json:"vulnerabilities,omitempty"`
	ServerInfo      map[string]string `json:"server_info,omitempty"`
	SecurityHeaders map[string]string `json:"security_headers,omitempty"`
	Recommendations []string          `json:"recommendations,omitempty"`
	LogStream       JSONStringArray   `json:"log_stream,omitempty"`
}

// Value implements the driver.Valuer interface for database serialization.
func (d AuditDetails) Value() (driver.Value, error) {
	b, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface for database deserialization.
func (d *AuditDetails) Scan(value interface{}) error {
	if value == nil {
		*d = AuditDetails{}
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, d)
	case string:
		return json.Unmarshal([]byte(v), d)
	default:
		return fmt.Errorf("AuditDetails Scan error: expected []byte or string, got %T", value)
	}
}

// Finding is a single vulnerability reported by the engine.
type Finding struct {
	Name        string `json:"name"`
	Severity    string `json:"severity"`
	Description string `json:"description"`
}

// JSONStringArray custom type for handling JSON serialization of string arrays.
type JSONStringArray []string

// Value implements the driver.Valuer interface for database serialization.
func (j JSONStringArray) Value() (driver.Value, error) {
	if len(j) == 0 {
		return nil, nil // Return nil if the array is empty
	}
	return json.Marshal(j)
}

// Scan implements the sql.Scanner interface for database deserialization.
func (j *JSONStringArray) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, j)
	case string:
		return json.Unmarshal([]byte(v), j)
	default:
		return fmt.Errorf("JSONStringArray Scan error: expected []byte or string, got %T", value)
	}
}
