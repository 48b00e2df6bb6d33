// Package backup implements the timestamped backup store used for
// backup-before-delete and restore.
//
// Backups live in a directory per agent name. Filenames embed a sortable
// UTC timestamp, so backup ordering is reconstructable from the filename
// alone — no index file to corrupt.
package backup

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// timestampLayout sorts lexicographically in creation order down to
// nanosecond resolution.
const timestampLayout = "20060102T150405.000000000"

// FSStore is a filesystem-backed backup store rooted at a base directory.
type FSStore struct {
	baseDir string
}

// NewFSStore creates a backup store rooted at baseDir, creating it if needed.
func NewFSStore(baseDir string) (*FSStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("backup: create base dir: %w", err)
	}
	return &FSStore{baseDir: baseDir}, nil
}

// CreateBackup writes a timestamped snapshot of content for name and
// returns the backup path.
func (s *FSStore) CreateBackup(name, content string) (string, error) {
	dir := filepath.Join(s.baseDir, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("backup: create dir for %s: %w", name, err)
	}

	ts := time.Now().UTC().Format(timestampLayout)
	path := filepath.Join(dir, ts+"_"+name+".md")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("backup: write %s: %w", name, err)
	}
	return path, nil
}

// ReadBackup returns the content stored at a backup path.
func (s *FSStore) ReadBackup(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("backup: read %s: %w", path, err)
	}
	return string(data), nil
}

// ListBackups returns all backup paths for name, oldest first. The order
// comes from the timestamp prefix in the filenames.
func (s *FSStore) ListBackups(name string) ([]string, error) {
	dir := filepath.Join(s.baseDir, name)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("backup: list %s: %w", name, err)
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}
