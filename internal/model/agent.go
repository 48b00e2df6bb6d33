// Package model defines the data shapes shared across Kanri: lifecycle
// records, operation results, modification records, and the enumerated
// state/tier/operation values.
package model

import (
	"fmt"
	"time"
)

// LifecycleState is the state of an agent in its lifecycle.
type LifecycleState string

const (
	StateActive     LifecycleState = "active"
	StateModified   LifecycleState = "modified"
	StateDeleted    LifecycleState = "deleted"
	StateConflicted LifecycleState = "conflicted"
	StateMigrating  LifecycleState = "migrating"
	StateValidating LifecycleState = "validating"
)

// ParseLifecycleState validates a wire-format state string.
func ParseLifecycleState(s string) (LifecycleState, error) {
	switch LifecycleState(s) {
	case StateActive, StateModified, StateDeleted, StateConflicted, StateMigrating, StateValidating:
		return LifecycleState(s), nil
	default:
		return "", fmt.Errorf("model: unknown lifecycle state %q", s)
	}
}

// AgentTier is the precedence level at which an agent definition is stored.
// Higher-specificity tiers shadow lower ones when both define the same name:
// PROJECT > USER > SYSTEM.
type AgentTier string

const (
	TierSystem  AgentTier = "system"
	TierUser    AgentTier = "user"
	TierProject AgentTier = "project"
)

// Tiers lists all tiers in ascending precedence order.
func Tiers() []AgentTier {
	return []AgentTier{TierSystem, TierUser, TierProject}
}

// ParseAgentTier validates a wire-format tier string.
func ParseAgentTier(s string) (AgentTier, error) {
	switch AgentTier(s) {
	case TierSystem, TierUser, TierProject:
		return AgentTier(s), nil
	default:
		return "", fmt.Errorf("model: unknown tier %q", s)
	}
}

// OperationType identifies a lifecycle operation.
type OperationType string

const (
	OpCreate    OperationType = "create"
	OpUpdate    OperationType = "update"
	OpDelete    OperationType = "delete"
	OpRestore   OperationType = "restore"
	OpMigrate   OperationType = "migrate"
	OpReplicate OperationType = "replicate"
	OpValidate  OperationType = "validate"
)

// ValidationStatus is the last-known validation outcome for an agent.
type ValidationStatus string

const (
	ValidationUnknown ValidationStatus = "unknown"
	ValidationPassed  ValidationStatus = "passed"
	ValidationFailed  ValidationStatus = "failed"
)

// AgentLifecycleRecord is the durable in-memory state for one agent across
// its lifecycle. The lifecycle manager exclusively owns mutation; everything
// handed out to callers is a copy.
type AgentLifecycleRecord struct {
	AgentName    string         `json:"agent_name"`
	CurrentState LifecycleState `json:"current_state"`
	Tier         AgentTier      `json:"tier"`
	FilePath     string         `json:"file_path"`
	CreatedAt    time.Time      `json:"created_at"`
	LastModified time.Time      `json:"last_modified"`

	// Version strictly increases with each successful update.
	Version string `json:"version"`

	// Append-only identifier lists. Never reordered or truncated.
	Modifications         []string `json:"modifications"`
	PersistenceOperations []string `json:"persistence_operations"`
	BackupPaths           []string `json:"backup_paths"` // oldest first

	ValidationStatus ValidationStatus `json:"validation_status"`
	ValidationErrors []string         `json:"validation_errors,omitempty"`

	Metadata map[string]any `json:"metadata,omitempty"`
}

// AgeDays returns the age of the record in fractional days.
func (r *AgentLifecycleRecord) AgeDays() float64 {
	return time.Since(r.CreatedAt).Hours() / 24
}

// Clone returns a deep copy safe to hand to callers while the manager keeps
// mutating the original.
func (r *AgentLifecycleRecord) Clone() *AgentLifecycleRecord {
	cp := *r
	cp.Modifications = append([]string(nil), r.Modifications...)
	cp.PersistenceOperations = append([]string(nil), r.PersistenceOperations...)
	cp.BackupPaths = append([]string(nil), r.BackupPaths...)
	cp.ValidationErrors = append([]string(nil), r.ValidationErrors...)
	if r.Metadata != nil {
		cp.Metadata = make(map[string]any, len(r.Metadata))
		for k, v := range r.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

// ModificationRecord is an immutable log entry capturing one state-changing
// event for an agent.
type ModificationRecord struct {
	ID        string        `json:"id"`
	AgentName string        `json:"agent_name"`
	Operation OperationType `json:"operation"`
	Details   string        `json:"details,omitempty"`
	Author    string        `json:"author,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
}

// LifecycleOperationResult is the return contract for every mutating or
// query-triggering lifecycle call. Success and ErrorMessage are mutually
// exclusive: exactly one of the two states holds.
type LifecycleOperationResult struct {
	Operation    OperationType `json:"operation"`
	AgentName    string        `json:"agent_name"`
	Success      bool          `json:"success"`
	DurationMS   float64       `json:"duration_ms"`
	ErrorCode    string        `json:"error_code,omitempty"`
	ErrorMessage string        `json:"error_message,omitempty"`

	// Side-effect observability.
	ModificationID   string `json:"modification_id,omitempty"`
	PersistenceID    string `json:"persistence_id,omitempty"`
	CacheInvalidated bool   `json:"cache_invalidated"`
	RegistryUpdated  bool   `json:"registry_updated"`

	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// OperationStats aggregates performance metrics over the operation history.
type OperationStats struct {
	TotalOperations      int     `json:"total_operations"`
	SuccessfulOperations int     `json:"successful_operations"`
	AverageDurationMS    float64 `json:"average_duration_ms"`
	OperationsLastHour   int     `json:"operations_last_hour"`
}

// MaxContentBytes caps agent definition size. Definitions are prompt text;
// anything beyond this is almost certainly a caller bug.
const MaxContentBytes = 1 << 20 // 1 MB

// ValidateAgentName checks that an agent name conforms to the allowed
// format. Names must be 1-255 ASCII characters: alphanumeric, dots,
// hyphens, and underscores.
func ValidateAgentName(name string) error {
	if len(name) == 0 {
		return fmt.Errorf("agent name is required")
	}
	if len(name) > 255 {
		return fmt.Errorf("agent name must be at most 255 characters")
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		if (c < 'a' || c > 'z') && (c < 'A' || c > 'Z') && (c < '0' || c > '9') &&
			c != '.' && c != '-' && c != '_' {
			return fmt.Errorf("agent name contains invalid character at position %d: %q", i, c)
		}
	}
	return nil
}

// ValidateContent checks agent definition content limits. The content itself
// (Markdown, frontmatter) is opaque to the lifecycle layer.
func ValidateContent(content string) error {
	if len(content) == 0 {
		return fmt.Errorf("content is required")
	}
	if len(content) > MaxContentBytes {
		return fmt.Errorf("content exceeds maximum size of %d bytes", MaxContentBytes)
	}
	return nil
}
