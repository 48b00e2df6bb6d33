// Package content implements the tiered filesystem store for agent
// definition files.
//
// Each tier (system/user/project) is a flat directory of <name>.md files.
// Reads resolve across tiers by precedence: a project-tier definition
// shadows a user-tier one, which shadows a system-tier one. The store
// treats file contents as opaque text — frontmatter and Markdown semantics
// belong to whoever wrote the definition.
package content

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Summary describes one stored agent definition within a tier.
type Summary struct {
	Path    string    `json:"path"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

// Tier mirrors model.AgentTier as a plain string so this package stays
// importable without the model dependency graph.
const (
	TierSystem  = "system"
	TierUser    = "user"
	TierProject = "project"
)

// tiersByPrecedence lists tiers highest-precedence first for read resolution.
var tiersByPrecedence = []string{TierProject, TierUser, TierSystem}

// FSStore is a filesystem-backed content store rooted at a base directory.
type FSStore struct {
	dirs map[string]string // tier -> directory
}

// NewFSStore creates a store with one subdirectory per tier under baseDir,
// creating the directories if needed.
func NewFSStore(baseDir string) (*FSStore, error) {
	dirs := make(map[string]string, 3)
	for _, tier := range tiersByPrecedence {
		dir := filepath.Join(baseDir, tier)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("content: create tier dir %s: %w", tier, err)
		}
		dirs[tier] = dir
	}
	return &FSStore{dirs: dirs}, nil
}

// Path returns the file path a definition would occupy in the given tier.
func (s *FSStore) Path(name, tier string) string {
	return filepath.Join(s.dirs[tier], name+".md")
}

// Read resolves name across tiers by precedence and returns the content.
// The second return value reports whether any tier holds the definition.
func (s *FSStore) Read(name string) (string, bool, error) {
	for _, tier := range tiersByPrecedence {
		data, err := os.ReadFile(s.Path(name, tier))
		if err == nil {
			return string(data), true, nil
		}
		if !os.IsNotExist(err) {
			return "", false, fmt.Errorf("content: read %s from %s tier: %w", name, tier, err)
		}
	}
	return "", false, nil
}

// Write stores content for name in the given tier and returns the file path.
// The write is atomic: content lands in a temp file that is renamed into
// place, so a crash mid-write never leaves a truncated definition.
func (s *FSStore) Write(name, content, tier string) (string, error) {
	dir, ok := s.dirs[tier]
	if !ok {
		return "", fmt.Errorf("content: unknown tier %q", tier)
	}
	path := s.Path(name, tier)

	tmp, err := os.CreateTemp(dir, "."+name+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("content: create temp for %s: %w", name, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("content: write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("content: close temp for %s: %w", name, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("content: rename into place for %s: %w", name, err)
	}
	return path, nil
}

// Delete removes the definition from every tier that holds it. Returns true
// if at least one file was removed.
func (s *FSStore) Delete(name string) (bool, error) {
	removed := false
	for _, tier := range tiersByPrecedence {
		err := os.Remove(s.Path(name, tier))
		if err == nil {
			removed = true
			continue
		}
		if !os.IsNotExist(err) {
			return removed, fmt.Errorf("content: delete %s from %s tier: %w", name, tier, err)
		}
	}
	return removed, nil
}

// Remove deletes the definition from one tier only, leaving other tiers
// untouched. Removing a name the tier does not hold is a no-op.
func (s *FSStore) Remove(name, tier string) error {
	dir, ok := s.dirs[tier]
	if !ok {
		return fmt.Errorf("content: unknown tier %q", tier)
	}
	err := os.Remove(filepath.Join(dir, name+".md"))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("content: remove %s from %s tier: %w", name, tier, err)
	}
	return nil
}

// Exists reports whether the given tier holds a definition for name.
func (s *FSStore) Exists(name, tier string) (bool, error) {
	dir, ok := s.dirs[tier]
	if !ok {
		return false, fmt.Errorf("content: unknown tier %q", tier)
	}
	_, err := os.Stat(filepath.Join(dir, name+".md"))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("content: stat %s in %s tier: %w", name, tier, err)
}

// List returns a name -> summary mapping for all definitions in a tier.
func (s *FSStore) List(tier string) (map[string]Summary, error) {
	dir, ok := s.dirs[tier]
	if !ok {
		return nil, fmt.Errorf("content: unknown tier %q", tier)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("content: list %s tier: %w", tier, err)
	}

	out := make(map[string]Summary, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, fmt.Errorf("content: stat %s in %s tier: %w", e.Name(), tier, err)
		}
		name := strings.TrimSuffix(e.Name(), ".md")
		out[name] = Summary{
			Path:    filepath.Join(dir, e.Name()),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		}
	}
	return out, nil
}
