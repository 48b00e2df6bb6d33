package registry_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kanri/internal/content"
	"github.com/ashita-ai/kanri/internal/registry"
)

func seededStore(t *testing.T) *content.FSStore {
	t.Helper()
	s, err := content.NewFSStore(t.TempDir())
	require.NoError(t, err)
	_, err = s.Write("engineer", "# Engineer", content.TierSystem)
	require.NoError(t, err)
	_, err = s.Write("qa", "# QA", content.TierUser)
	require.NoError(t, err)
	_, err = s.Write("qa", "# QA project override", content.TierProject)
	require.NoError(t, err)
	return s
}

func TestFullRefresh(t *testing.T) {
	r := registry.New(seededStore(t))

	require.NoError(t, r.Refresh(context.Background(), ""))

	snap := r.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, content.TierSystem, snap["engineer"].Tier)
	assert.Equal(t, content.TierProject, snap["qa"].Tier, "project tier shadows user tier")
	assert.NotEmpty(t, snap["qa"].Path)
}

func TestSingleNameRefresh(t *testing.T) {
	s := seededStore(t)
	r := registry.New(s)
	ctx := context.Background()

	require.NoError(t, r.Refresh(ctx, ""))

	// Remove qa from disk; a single-name refresh drops it without touching
	// other entries.
	_, err := s.Delete("qa")
	require.NoError(t, err)
	require.NoError(t, r.Refresh(ctx, "qa"))

	_, ok := r.Lookup("qa")
	assert.False(t, ok)
	_, ok = r.Lookup("engineer")
	assert.True(t, ok)
}

type failingLister struct{}

func (failingLister) List(tier string) (map[string]content.Summary, error) {
	return nil, errors.New("disk on fire")
}

func TestRefreshPropagatesScanError(t *testing.T) {
	r := registry.New(failingLister{})

	err := r.Refresh(context.Background(), "")
	assert.Error(t, err)
}
