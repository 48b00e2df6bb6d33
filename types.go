package kanri

import "time"

// Tier is a storage tier. Reads shadow by precedence: project > user > system.
type Tier string

const (
	TierSystem  Tier = "system"
	TierUser    Tier = "user"
	TierProject Tier = "project"
)

// State is an agent's lifecycle state.
type State string

const (
	StateActive     State = "active"
	StateModified   State = "modified"
	StateDeleted    State = "deleted"
	StateConflicted State = "conflicted"
	StateMigrating  State = "migrating"
	StateValidating State = "validating"
)

// AgentRecord is the public view of an agent's lifecycle record.
// It is a curated copy of the internal record with no internal imports —
// safe to use from outside the module.
type AgentRecord struct {
	Name         string
	State        State
	Tier         Tier
	FilePath     string
	CreatedAt    time.Time
	LastModified time.Time

	// Version strictly increases with each successful update.
	Version string

	// Append-only identifier lists, oldest first.
	Modifications         []string
	PersistenceOperations []string
	BackupPaths           []string

	ValidationStatus string
	ValidationErrors []string

	Metadata map[string]any
}
