package models

import "time"

// Audit action types written by the pipeline.
const (
	AuditActionAuthFailure     = "auth_failure"
	AuditActionAccountLinked   = "account_linked"
	AuditActionLinkFailure     = "link_failure"
	AuditActionCommand         = "command"
	AuditActionClassification  = "classification"
	AuditActionPermissionCheck = "permission_check"
	AuditActionWorkflow        = "n8n_workflow"
)

// Sentinel account id used when no account could be resolved.
const UnknownAccount = "unknown"

// AuditRecord is one append-only log entry. Records are written once and
// never updated or deleted by this service.
type AuditRecord struct {
	ID         string         `json:"id"`
	UserID     string         `json:"user_id"`
	ChatID     int64          `json:"chat_id"`
	ActionType string         `json:"action_type"`
	Detail     string         `json:"detail"`
	Context    map[string]any `json:"context,omitempty"`
	Success    bool           `json:"success"`
	Duration   time.Duration  `json:"duration"`
	CreatedAt  time.Time      `json:"created_at"`
}
