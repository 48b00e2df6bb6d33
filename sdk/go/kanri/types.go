package kanri

import "time"

// Storage tiers. Reads shadow by precedence: project > user > system.
const (
	TierSystem  = "system"
	TierUser    = "user"
	TierProject = "project"
)

// Lifecycle states.
const (
	StateActive     = "active"
	StateModified   = "modified"
	StateDeleted    = "deleted"
	StateConflicted = "conflicted"
	StateMigrating  = "migrating"
	StateValidating = "validating"
)

// CreateAgentRequest is the body for creating an agent definition.
type CreateAgentRequest struct {
	Name      string         `json:"name"`
	Content   string         `json:"content"`
	Tier      string         `json:"tier"`
	AgentType string         `json:"agent_type,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// UpdateAgentRequest is the body for replacing an agent's content.
type UpdateAgentRequest struct {
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// OperationResult describes the outcome of a lifecycle operation.
type OperationResult struct {
	Operation        string         `json:"operation"`
	AgentName        string         `json:"agent_name"`
	Success          bool           `json:"success"`
	DurationMS       float64        `json:"duration_ms"`
	ErrorCode        string         `json:"error_code,omitempty"`
	ErrorMessage     string         `json:"error_message,omitempty"`
	ModificationID   string         `json:"modification_id,omitempty"`
	PersistenceID    string         `json:"persistence_id,omitempty"`
	CacheInvalidated bool           `json:"cache_invalidated"`
	RegistryUpdated  bool           `json:"registry_updated"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	Timestamp        time.Time      `json:"timestamp"`
}

// AgentRecord is an agent's lifecycle record.
type AgentRecord struct {
	AgentName             string         `json:"agent_name"`
	CurrentState          string         `json:"current_state"`
	Tier                  string         `json:"tier"`
	FilePath              string         `json:"file_path"`
	CreatedAt             time.Time      `json:"created_at"`
	LastModified          time.Time      `json:"last_modified"`
	Version               string         `json:"version"`
	Modifications         []string       `json:"modifications"`
	PersistenceOperations []string       `json:"persistence_operations"`
	BackupPaths           []string       `json:"backup_paths"`
	ValidationStatus      string         `json:"validation_status"`
	ValidationErrors      []string       `json:"validation_errors,omitempty"`
	Metadata              map[string]any `json:"metadata,omitempty"`
}

// AgentContentResponse is an agent's current definition content.
type AgentContentResponse struct {
	AgentName string `json:"agent_name"`
	Content   string `json:"content"`
}

// ModificationRecord is one entry in an agent's modification history.
type ModificationRecord struct {
	ID        string    `json:"id"`
	AgentName string    `json:"agent_name"`
	Operation string    `json:"operation"`
	Details   string    `json:"details,omitempty"`
	Author    string    `json:"author,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// OperationStats aggregates performance metrics over the operation history.
type OperationStats struct {
	TotalOperations      int     `json:"total_operations"`
	SuccessfulOperations int     `json:"successful_operations"`
	AverageDurationMS    float64 `json:"average_duration_ms"`
	OperationsLastHour   int     `json:"operations_last_hour"`
}

// StatsReport is the aggregate view returned by Stats.
type StatsReport struct {
	TotalAgents   int            `json:"total_agents"`
	AgentsByState map[string]int `json:"agents_by_state"`
	AgentsByTier  map[string]int `json:"agents_by_tier"`
	Performance   OperationStats `json:"performance_metrics"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}
