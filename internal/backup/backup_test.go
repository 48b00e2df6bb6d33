package backup_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kanri/internal/backup"
)

func TestCreateReadRoundTrip(t *testing.T) {
	s, err := backup.NewFSStore(t.TempDir())
	require.NoError(t, err)

	path, err := s.CreateBackup("demo", "snapshot v1")
	require.NoError(t, err)
	assert.FileExists(t, path)

	got, err := s.ReadBackup(path)
	require.NoError(t, err)
	assert.Equal(t, "snapshot v1", got)
}

func TestReadBackupMissing(t *testing.T) {
	s, err := backup.NewFSStore(t.TempDir())
	require.NoError(t, err)

	_, err = s.ReadBackup("/nonexistent/backup.md")
	assert.Error(t, err)
}

func TestListBackupsOrdering(t *testing.T) {
	s, err := backup.NewFSStore(t.TempDir())
	require.NoError(t, err)

	p1, err := s.CreateBackup("demo", "v1")
	require.NoError(t, err)
	p2, err := s.CreateBackup("demo", "v2")
	require.NoError(t, err)
	p3, err := s.CreateBackup("demo", "v3")
	require.NoError(t, err)

	paths, err := s.ListBackups("demo")
	require.NoError(t, err)
	assert.Equal(t, []string{p1, p2, p3}, paths, "oldest first, ordered by filename")
}

func TestListBackupsUnknownAgent(t *testing.T) {
	s, err := backup.NewFSStore(t.TempDir())
	require.NoError(t, err)

	paths, err := s.ListBackups("ghost")
	require.NoError(t, err)
	assert.Empty(t, paths)
}

func TestBackupsIsolatedPerAgent(t *testing.T) {
	s, err := backup.NewFSStore(t.TempDir())
	require.NoError(t, err)

	_, err = s.CreateBackup("alpha", "a")
	require.NoError(t, err)
	_, err = s.CreateBackup("beta", "b")
	require.NoError(t, err)

	paths, err := s.ListBackups("alpha")
	require.NoError(t, err)
	assert.Len(t, paths, 1)
}
