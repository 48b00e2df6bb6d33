package model_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kanri/internal/model"
)

func TestParseLifecycleState(t *testing.T) {
	for _, s := range []string{"active", "modified", "deleted", "conflicted", "migrating", "validating"} {
		got, err := model.ParseLifecycleState(s)
		require.NoError(t, err)
		assert.Equal(t, model.LifecycleState(s), got)
	}

	_, err := model.ParseLifecycleState("archived")
	assert.Error(t, err)
	_, err = model.ParseLifecycleState("")
	assert.Error(t, err)
}

func TestParseAgentTier(t *testing.T) {
	for _, s := range []string{"system", "user", "project"} {
		got, err := model.ParseAgentTier(s)
		require.NoError(t, err)
		assert.Equal(t, model.AgentTier(s), got)
	}

	_, err := model.ParseAgentTier("global")
	assert.Error(t, err)
}

func TestTiersPrecedenceOrder(t *testing.T) {
	assert.Equal(t, []model.AgentTier{model.TierSystem, model.TierUser, model.TierProject}, model.Tiers())
}

func TestValidateAgentName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"simple", "engineer", false},
		{"with separators", "qa.agent-v2_beta", false},
		{"empty", "", true},
		{"space", "my agent", true},
		{"slash", "a/b", true},
		{"too long", string(make([]byte, 256)), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := model.ValidateAgentName(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateContent(t *testing.T) {
	assert.Error(t, model.ValidateContent(""))
	assert.NoError(t, model.ValidateContent("# Agent\nbody"))

	big := make([]byte, model.MaxContentBytes+1)
	assert.Error(t, model.ValidateContent(string(big)))
}

func TestRecordClone(t *testing.T) {
	rec := &model.AgentLifecycleRecord{
		AgentName:     "demo",
		CurrentState:  model.StateActive,
		Tier:          model.TierProject,
		Version:       "1.0.0",
		Modifications: []string{"m1"},
		BackupPaths:   []string{"b1"},
		Metadata:      map[string]any{"author": "qa"},
		CreatedAt:     time.Now().Add(-48 * time.Hour),
	}

	cp := rec.Clone()
	cp.Modifications = append(cp.Modifications, "m2")
	cp.BackupPaths[0] = "changed"
	cp.Metadata["author"] = "other"

	assert.Equal(t, []string{"m1"}, rec.Modifications)
	assert.Equal(t, []string{"b1"}, rec.BackupPaths)
	assert.Equal(t, "qa", rec.Metadata["author"])
	assert.InDelta(t, 2.0, rec.AgeDays(), 0.1)
}
