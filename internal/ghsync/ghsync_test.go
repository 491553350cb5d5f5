package ghsync

import (
	"context"
	"testing"

	"github.com/google/go-github/v57/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/specgate/internal/config"
	"github.com/fyrsmithlabs/specgate/internal/state"
)

type fakeIssues struct {
	labels  []string
	added   []string
	removed []string
	listErr error
}

func (f *fakeIssues) ListLabelsByIssue(_ context.Context, _, _ string, _ int, _ *github.ListOptions) ([]*github.Label, *github.Response, error) {
	if f.listErr != nil {
		return nil, nil, f.listErr
	}
	out := make([]*github.Label, len(f.labels))
	for i, name := range f.labels {
		out[i] = &github.Label{Name: github.String(name)}
	}
	return out, nil, nil
}

func (f *fakeIssues) RemoveLabelForIssue(_ context.Context, _, _ string, _ int, label string) (*github.Response, error) {
	f.removed = append(f.removed, label)
	return nil, nil
}

func (f *fakeIssues) AddLabelsToIssue(_ context.Context, _, _ string, _ int, labels []string) ([]*github.Label, *github.Response, error) {
	f.added = append(f.added, labels...)
	return nil, nil, nil
}

func newTestSyncer(issues issuesAPI) *Syncer {
	return &Syncer{
		issues:  issues,
		owner:   "acme",
		repo:    "mobile-app",
		limiter: rate.NewLimiter(rate.Inf, 1),
		logger:  zap.NewNop(),
	}
}

func TestSyncStatusAddsLabel(t *testing.T) {
	fake := &fakeIssues{labels: []string{"bug", "priority:high"}}
	s := newTestSyncer(fake)

	require.NoError(t, s.SyncStatus(context.Background(), 42, state.BacklogInProgress))

	assert.Equal(t, []string{"status:in_progress"}, fake.added)
	assert.Empty(t, fake.removed)
}

func TestSyncStatusReplacesStaleLabels(t *testing.T) {
	fake := &fakeIssues{labels: []string{"status:open", "status:spec_ready", "bug"}}
	s := newTestSyncer(fake)

	require.NoError(t, s.SyncStatus(context.Background(), 42, state.BacklogDone))

	assert.ElementsMatch(t, []string{"status:open", "status:spec_ready"}, fake.removed)
	assert.Equal(t, []string{"status:done"}, fake.added)
}

func TestSyncStatusIdempotent(t *testing.T) {
	fake := &fakeIssues{labels: []string{"status:done"}}
	s := newTestSyncer(fake)

	require.NoError(t, s.SyncStatus(context.Background(), 42, state.BacklogDone))

	assert.Empty(t, fake.added)
	assert.Empty(t, fake.removed)
}

func TestSyncStatusPropagatesListError(t *testing.T) {
	fake := &fakeIssues{listErr: assert.AnError}
	s := newTestSyncer(fake)

	err := s.SyncStatus(context.Background(), 42, state.BacklogOpen)
	require.Error(t, err)
	assert.ErrorIs(t, err, assert.AnError)
}

func TestSyncWorkflowSkipsUnlinked(t *testing.T) {
	fake := &fakeIssues{}
	s := newTestSyncer(fake)

	require.NoError(t, s.SyncWorkflow(context.Background(), &state.Workflow{ID: "login"}))
	require.NoError(t, s.SyncWorkflow(context.Background(), nil))
	assert.Empty(t, fake.added)
}

func TestNewRequiresConfig(t *testing.T) {
	_, err := New(context.Background(), config.GitHubConfig{}, nil)
	require.Error(t, err)

	_, err = New(context.Background(), config.GitHubConfig{Owner: "acme", Repo: "app"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "token")

	s, err := New(context.Background(), config.GitHubConfig{Owner: "acme", Repo: "app", Token: "ghp_x"}, nil)
	require.NoError(t, err)
	assert.NotNil(t, s)
}
