// Package testutil provides shared test fixtures: a quiet logger and a
// fully wired lifecycle manager backed by temporary directories.
package testutil

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kanri/internal/backup"
	"github.com/ashita-ai/kanri/internal/cache"
	"github.com/ashita-ai/kanri/internal/content"
	"github.com/ashita-ai/kanri/internal/history"
	"github.com/ashita-ai/kanri/internal/lifecycle"
	"github.com/ashita-ai/kanri/internal/registry"
)

// TestLogger returns a logger configured for test output (errors only).
func TestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// NewManager builds a started lifecycle manager on top of t.TempDir():
// filesystem content and backup stores, a SQLite history log, an in-memory
// profile cache, and a content-backed registry. Everything is cleaned up
// when the test finishes.
func NewManager(t *testing.T) *lifecycle.Manager {
	t.Helper()

	dir := t.TempDir()
	logger := TestLogger()

	contents, err := content.NewFSStore(dir + "/agents")
	require.NoError(t, err)
	backups, err := backup.NewFSStore(dir + "/backups")
	require.NoError(t, err)
	log, err := history.Open(dir+"/kanri.db", logger)
	require.NoError(t, err)
	t.Cleanup(func() { log.Close() })
	profileCache := cache.New(time.Minute)
	t.Cleanup(profileCache.Close)

	mgr := lifecycle.New(lifecycle.DefaultConfig(), contents, backups, log, profileCache, registry.New(contents), logger)
	require.NoError(t, mgr.Start(context.Background()))
	t.Cleanup(func() { mgr.Stop(context.Background()) })

	return mgr
}
