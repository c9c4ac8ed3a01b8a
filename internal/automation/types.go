// Package automation defines core types shared across subsystems.
package automation

import (
	"encoding/json"
	"time"
)

// RunStatus represents the lifecycle state of an automation run.
type RunStatus string

// Run status values persisted in the run store. The strings round-trip
// exactly as stored in browser_automation_runs.status.
const (
	RunStatusScheduled RunStatus = "SCHEDULED"
	RunStatusRunning   RunStatus = "RUNNING"
	RunStatusRetrying  RunStatus = "RETRYING"
	RunStatusCompleted RunStatus = "COMPLETED"
	RunStatusProcessed RunStatus = "PROCESSED"
	RunStatusFailed    RunStatus = "FAILED"
	RunStatusCancelled RunStatus = "CANCELLED"
)

// RunType identifies which browser automation a run performs.
type RunType string

// Known automation types.
const (
	RunTypeFindConnections       RunType = "FIND_CONNECTIONS"
	RunTypeFindCompanyPeople     RunType = "FIND_COMPANY_PEOPLE"
	RunTypeSendConnectionRequest RunType = "SEND_CONNECTION_REQUEST"
	RunTypeSendMessage           RunType = "SEND_MESSAGE"
	RunTypeDownloadConnections   RunType = "DOWNLOAD_CONNECTIONS"
)

// KnownRunType reports whether t is a supported automation type.
func KnownRunType(t RunType) bool {
	switch t {
	case RunTypeFindConnections,
		RunTypeFindCompanyPeople,
		RunTypeSendConnectionRequest,
		RunTypeSendMessage,
		RunTypeDownloadConnections:
		return true
	default:
		return false
	}
}

// TriggeredBy records who requested a run.
type TriggeredBy string

// Trigger sources.
const (
	TriggeredByManual    TriggeredBy = "MANUAL"
	TriggeredByScheduler TriggeredBy = "SCHEDULER"
)

// KnownTriggeredBy reports whether tb is a supported trigger source.
func KnownTriggeredBy(tb TriggeredBy) bool {
	switch tb {
	case TriggeredByManual, TriggeredByScheduler:
		return true
	default:
		return false
	}
}

// Run represents one requested execution of a browser automation for a user.
// Runs are append-only from the API's perspective; only the scheduler mutates
// them, and terminal runs never transition again.
type Run struct {
	ID              string          `json:"id"`
	Tenant          string          `json:"tenant"`
	UserID          string          `json:"user_id"`
	Type            RunType         `json:"type"`
	Payload         json.RawMessage `json:"payload,omitempty"`
	Status          RunStatus       `json:"status"`
	Priority        int             `json:"priority"`
	TriggeredBy     TriggeredBy     `json:"triggered_by"`
	ScheduledAt     time.Time       `json:"scheduled_at"`
	StartedAt       *time.Time      `json:"started_at,omitempty"`
	FinishedAt      *time.Time      `json:"finished_at,omitempty"`
	RunDurationMs   int64           `json:"run_duration_ms,omitempty"`
	RetryCount      int             `json:"retry_count"`
	BrowserConfigID string          `json:"browser_config_id,omitempty"`
	LogLocation     string          `json:"log_location,omitempty"`
}

// RunResult is a structured success record produced by a run. Immutable once
// written; is_processed is flipped by an external consumer, never by the
// scheduler.
type RunResult struct {
	ID          string          `json:"id"`
	RunID       string          `json:"run_id"`
	Type        string          `json:"type"`
	ResultData  json.RawMessage `json:"result_data"`
	CreatedAt   time.Time       `json:"created_at"`
	IsProcessed bool            `json:"is_processed"`
}

// ErrorType classifies a run failure for the retry policy.
type ErrorType string

// Error classifications reported by executors and the scheduler.
const (
	ErrorTypeTransient      ErrorType = "TRANSIENT"
	ErrorTypePermanent      ErrorType = "PERMANENT"
	ErrorTypeSessionInvalid ErrorType = "SESSION_INVALID"
	ErrorTypeProxyFailure   ErrorType = "PROXY_FAILURE"
	ErrorTypeTimeout        ErrorType = "TIMEOUT"
	ErrorTypeUnknown        ErrorType = "UNKNOWN"
)

// RunError is a structured failure record for one attempt. A run accumulates
// one per failed attempt across retries; rows are never mutated after insert.
type RunError struct {
	ID           string    `json:"id"`
	RunID        string    `json:"run_id"`
	OccurredAt   time.Time `json:"occurred_at"`
	ErrorType    ErrorType `json:"error_type"`
	ErrorCode    string    `json:"error_code,omitempty"`
	ErrorMessage string    `json:"error_message"`
	ErrorDetails string    `json:"error_details,omitempty"`
}

// SessionStatus is the validity state of a persisted browser session.
type SessionStatus string

// Session status values persisted in browser_configs.session_status.
const (
	SessionStatusValid   SessionStatus = "VALID"
	SessionStatusInvalid SessionStatus = "INVALID"
	SessionStatusExpired SessionStatus = "EXPIRED"
)

// BrowserSession holds the persisted browsing identity for one user: cookies
// and user-agent. Exactly one exists per (tenant, user). Re-provisioning is an
// external concern; the scheduler only reads validity and writes INVALID.
type BrowserSession struct {
	ID        string        `json:"id"`
	Tenant    string        `json:"tenant"`
	UserID    string        `json:"user_id"`
	Cookies   []Cookie      `json:"cookies"`
	UserAgent string        `json:"user_agent"`
	Status    SessionStatus `json:"session_status"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Cookie is one browser cookie carried by a session.
type Cookie struct {
	Name     string    `json:"name"`
	Value    string    `json:"value"`
	Domain   string    `json:"domain"`
	Path     string    `json:"path,omitempty"`
	Expires  time.Time `json:"expires,omitempty"`
	Secure   bool      `json:"secure,omitempty"`
	HTTPOnly bool      `json:"http_only,omitempty"`
}

// Proxy is one egress endpoint in the pool. The enabled flag is toggled by
// operators; the scheduler reads it only.
type Proxy struct {
	ID             string     `json:"id"`
	URL            string     `json:"url"`
	Username       string     `json:"username,omitempty"`
	Password       string     `json:"-"`
	Enabled        bool       `json:"enabled"`
	LastAssignedAt *time.Time `json:"last_assigned_at,omitempty"`
}

// ProxyAssignment binds one proxy to one (tenant, user). At most one active
// assignment exists per user; rebinding replaces it. ExcludedProxyIDs tracks
// proxies that failed for this user and must not be selected again.
type ProxyAssignment struct {
	Tenant           string    `json:"tenant"`
	UserID           string    `json:"user_id"`
	ProxyID          string    `json:"proxy_id"`
	AssignedAt       time.Time `json:"assigned_at"`
	ExcludedProxyIDs []string  `json:"excluded_proxy_ids,omitempty"`
}
