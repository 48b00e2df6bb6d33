package model

import "time"

// APIResponse is the standard envelope for successful responses.
type APIResponse struct {
	Data any          `json:"data,omitempty"`
	Meta ResponseMeta `json:"meta"`
}

// APIError is the standard error response envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ResponseMeta contains request metadata included in every response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorDetail describes an API error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// Error codes surfaced by the lifecycle manager and the HTTP API.
const (
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeAlreadyExists     = "ALREADY_EXISTS"
	ErrCodeBackupFailed      = "BACKUP_FAILED"
	ErrCodeNoBackup          = "NO_BACKUP_AVAILABLE"
	ErrCodeBackupNotFound    = "BACKUP_NOT_FOUND"
	ErrCodeInvalidInput      = "INVALID_INPUT"
	ErrCodeCollaboratorError = "COLLABORATOR_ERROR"
	ErrCodeValidationFailed  = "VALIDATION_FAILED"
	ErrCodeNotStarted        = "NOT_STARTED"
	ErrCodeRateLimited       = "RATE_LIMITED"
	ErrCodeUnauthorized      = "UNAUTHORIZED"
	ErrCodeForbidden         = "FORBIDDEN"
	ErrCodeInternalError     = "INTERNAL_ERROR"
)

// AuthTokenRequest is the body for POST /auth/token.
type AuthTokenRequest struct {
	AgentID string `json:"agent_id"`
	APIKey  string `json:"api_key"`
}

// AuthTokenResponse is the body for a successful token issuance.
type AuthTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CreateAgentRequest is the body for POST /v1/agents.
type CreateAgentRequest struct {
	Name      string         `json:"name"`
	Content   string         `json:"content"`
	Tier      string         `json:"tier"`
	AgentType string         `json:"agent_type,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// UpdateAgentRequest is the body for PUT /v1/agents/{name}.
type UpdateAgentRequest struct {
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// DeleteAgentRequest is the optional body for DELETE /v1/agents/{name}.
type DeleteAgentRequest struct {
	Reason string `json:"reason,omitempty"`
}

// RestoreAgentRequest is the body for POST /v1/agents/{name}/restore.
// BackupPath is optional; the most recent backup is used when omitted.
type RestoreAgentRequest struct {
	BackupPath string `json:"backup_path,omitempty"`
}

// AgentContentResponse is the body for GET /v1/agents/{name}/content.
type AgentContentResponse struct {
	AgentName string `json:"agent_name"`
	Content   string `json:"content"`
}

// MigrateAgentRequest is the body for POST /v1/agents/{name}/migrate.
type MigrateAgentRequest struct {
	TargetTier string `json:"target_tier"`
}

// ReplicateAgentRequest is the body for POST /v1/agents/{name}/replicate.
type ReplicateAgentRequest struct {
	TargetTier string `json:"target_tier"`
}
