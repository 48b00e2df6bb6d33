package kanri

import "context"

// ContentStore persists agent definition content across the three tiers.
// When provided via WithContentStore, replaces the built-in filesystem store.
// All methods take primitive types so external consumers never import
// internal packages.
type ContentStore interface {
	// Read resolves name across tiers (project > user > system) and returns
	// the content, whether it was found, and any I/O error.
	Read(name string) (string, bool, error)
	// Write stores content for name in the given tier and returns the
	// location it was written to (a path for filesystem stores).
	Write(name, content, tier string) (string, error)
	// Delete removes name from every tier. Returns whether anything was removed.
	Delete(name string) (bool, error)
	// Remove removes name from one tier only. Absent entries are a no-op.
	Remove(name, tier string) error
	// Exists reports whether name is present in the given tier.
	Exists(name, tier string) (bool, error)
}

// BackupStore writes timestamped copies of agent content before destructive
// operations and reads them back during restore.
// When provided via WithBackupStore, replaces the built-in filesystem store.
type BackupStore interface {
	// CreateBackup stores a copy of content for name and returns an opaque
	// path that ReadBackup accepts later.
	CreateBackup(name, content string) (string, error)
	ReadBackup(path string) (string, error)
	// ListBackups returns backup paths for name, oldest first.
	ListBackups(name string) ([]string, error)
}

// CacheInvalidator drops cached agent-profile entries after a mutation.
// Failures are logged, never fatal — cache incoherence is a lesser failure
// than a lost write.
type CacheInvalidator interface {
	Invalidate(name string) error
}

// RegistrySynchronizer refreshes agent discovery after a mutation so the
// rest of the system sees newly created, updated, or deleted agents.
// An empty name means a full resync. Same non-fatal posture as the cache.
type RegistrySynchronizer interface {
	Refresh(ctx context.Context, name string) error
}
