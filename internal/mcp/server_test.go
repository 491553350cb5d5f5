package mcp

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/specgate/internal/artifact"
	"github.com/fyrsmithlabs/specgate/internal/gate"
	"github.com/fyrsmithlabs/specgate/internal/intent"
	"github.com/fyrsmithlabs/specgate/internal/state"
	"github.com/fyrsmithlabs/specgate/internal/workflow"
)

func newTestDeps(t *testing.T) (workflow.Service, *gate.Gate) {
	t.Helper()
	dir := t.TempDir()

	store, err := state.NewStore(filepath.Join(dir, "workflow_state.json"), nil)
	require.NoError(t, err)

	vcfg := artifact.DefaultConfig()
	vcfg.SecretsScan = false
	vcfg.ProjectRoot = dir
	validator, err := artifact.NewValidator(vcfg, nil)
	require.NoError(t, err)

	classifier := intent.NewClassifier(nil)

	svc, err := workflow.NewService(nil, store, validator, classifier, nil, nil)
	require.NoError(t, err)

	g, err := gate.NewGate(&gate.Config{
		ProjectRoot: dir,
		JournalPath: filepath.Join(dir, "decisions.jsonl"),
	}, store, nil)
	require.NoError(t, err)

	return svc, g
}

func TestNewServerValidatesDependencies(t *testing.T) {
	svc, g := newTestDeps(t)

	_, err := NewServer(nil, nil, g)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "workflow service")

	_, err = NewServer(nil, svc, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gate")

	s, err := NewServer(nil, svc, g)
	require.NoError(t, err)
	assert.NotNil(t, s.mcp)
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "specgate", cfg.Name)
	assert.NotEmpty(t, cfg.Version)
	assert.NotNil(t, cfg.Logger)
}

func TestSummarize(t *testing.T) {
	w := &state.Workflow{
		ID:            "login",
		Phase:         state.PhaseApproved,
		SpecPath:      "specs/login.md",
		SpecType:      "ui",
		Approved:      true,
		BacklogStatus: state.BacklogSpecReady,
		IssueNumber:   7,
		Artifacts:     []state.Artifact{{ID: "a"}, {ID: "b"}},
	}

	got := summarize(w)
	assert.Equal(t, "login", got.ID)
	assert.Equal(t, "approved", got.Phase)
	assert.Equal(t, "ui", got.SpecType)
	assert.True(t, got.Approved)
	assert.Equal(t, "spec_ready", got.BacklogStatus)
	assert.Equal(t, 7, got.IssueNumber)
	assert.Equal(t, 2, got.Artifacts)
}
