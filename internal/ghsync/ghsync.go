// Package ghsync mirrors backlog status to GitHub issue labels.
//
// A workflow linked to an issue gets a single status:<backlogStatus>
// label; stale status labels are removed first. Sync is best-effort by
// design: failures never block local state transitions.
package ghsync

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/go-github/v57/github"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/specgate/internal/config"
	"github.com/fyrsmithlabs/specgate/internal/state"
)

// LabelPrefix namespaces the labels this package manages.
const LabelPrefix = "status:"

// Client-side throttle on top of GitHub's own limits. Backlog changes
// are rare; a small burst absorbs a list-then-mutate sequence.
const (
	requestsPerSecond = 1
	requestBurst      = 5
)

// issuesAPI is the slice of the GitHub Issues API the syncer needs.
type issuesAPI interface {
	ListLabelsByIssue(ctx context.Context, owner, repo string, number int, opts *github.ListOptions) ([]*github.Label, *github.Response, error)
	RemoveLabelForIssue(ctx context.Context, owner, repo string, number int, label string) (*github.Response, error)
	AddLabelsToIssue(ctx context.Context, owner, repo string, number int, labels []string) ([]*github.Label, *github.Response, error)
}

// Syncer applies backlog status labels to linked issues.
type Syncer struct {
	issues  issuesAPI
	owner   string
	repo    string
	limiter *rate.Limiter
	logger  *zap.Logger
}

// New builds a syncer from the github configuration section.
func New(ctx context.Context, cfg config.GitHubConfig, logger *zap.Logger) (*Syncer, error) {
	if cfg.Owner == "" || cfg.Repo == "" {
		return nil, fmt.Errorf("github owner and repo are required")
	}
	if !cfg.Token.IsSet() {
		return nil, fmt.Errorf("github token not set")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token.Value()})
	client := github.NewClient(oauth2.NewClient(ctx, ts))

	return &Syncer{
		issues:  client.Issues,
		owner:   cfg.Owner,
		repo:    cfg.Repo,
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), requestBurst),
		logger:  logger,
	}, nil
}

// SyncStatus reconciles the issue's status label with the given
// backlog status. Stale status labels are removed before the current
// one is added, so an issue never carries two.
func (s *Syncer) SyncStatus(ctx context.Context, issueNumber int, status state.BacklogStatus) error {
	if issueNumber <= 0 {
		return fmt.Errorf("invalid issue number: %d", issueNumber)
	}

	want := LabelPrefix + string(status)

	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	labels, _, err := s.issues.ListLabelsByIssue(ctx, s.owner, s.repo, issueNumber, nil)
	if err != nil {
		return fmt.Errorf("listing labels on issue %d: %w", issueNumber, err)
	}

	present := false
	for _, label := range labels {
		name := label.GetName()
		if !strings.HasPrefix(name, LabelPrefix) {
			continue
		}
		if name == want {
			present = true
			continue
		}
		if err := s.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}
		if _, err := s.issues.RemoveLabelForIssue(ctx, s.owner, s.repo, issueNumber, name); err != nil {
			return fmt.Errorf("removing label %q from issue %d: %w", name, issueNumber, err)
		}
		s.logger.Debug("removed stale status label",
			zap.Int("issue", issueNumber),
			zap.String("label", name),
		)
	}

	if present {
		return nil
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if _, _, err := s.issues.AddLabelsToIssue(ctx, s.owner, s.repo, issueNumber, []string{want}); err != nil {
		return fmt.Errorf("adding label %q to issue %d: %w", want, issueNumber, err)
	}

	s.logger.Info("synced backlog status to issue",
		zap.Int("issue", issueNumber),
		zap.String("label", want),
	)
	return nil
}

// SyncWorkflow syncs a workflow's derived status when it carries an
// issue link. Workflows without one are a no-op.
func (s *Syncer) SyncWorkflow(ctx context.Context, w *state.Workflow) error {
	if w == nil || w.IssueNumber == 0 {
		return nil
	}
	return s.SyncStatus(ctx, w.IssueNumber, w.BacklogStatus)
}
