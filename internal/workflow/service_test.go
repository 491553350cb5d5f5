package workflow

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/specgate/internal/artifact"
	"github.com/fyrsmithlabs/specgate/internal/intent"
	"github.com/fyrsmithlabs/specgate/internal/state"
)

func newTestService(t *testing.T) (Service, *state.Store) {
	t.Helper()

	store, err := state.NewStore(filepath.Join(t.TempDir(), "workflow_state.json"), nil)
	require.NoError(t, err)

	vcfg := artifact.DefaultConfig()
	vcfg.SecretsScan = false
	vcfg.ProjectRoot = t.TempDir()
	validator, err := artifact.NewValidator(vcfg, nil)
	require.NoError(t, err)

	svc, err := NewService(nil, store, validator, intent.NewClassifier(nil), nil, nil)
	require.NoError(t, err)
	return svc, store
}

func redEvidence(result state.TestResult) *artifact.Candidate {
	return &artifact.Candidate{
		Type:        state.ArtifactDocument,
		Path:        "artifacts/test-run.md",
		Description: "go test output for the new behavior",
		TestResult:  result,
	}
}

// advanceTo walks a fresh workflow to the target phase, satisfying each
// evidence gate along the way.
func advanceTo(t *testing.T, svc Service, id string, target state.Phase) {
	t.Helper()
	ctx := context.Background()

	steps := []state.Phase{
		state.PhaseContext, state.PhaseAnalyse, state.PhaseSpec,
		state.PhaseApproved, state.PhaseTDDRed, state.PhaseImplement,
		state.PhaseValidate, state.PhaseComplete,
	}
	for _, step := range steps {
		switch step {
		case state.PhaseApproved:
			require.NoError(t, svc.SetSpec(ctx, id, "specs/"+id+".md", "code"))
			require.NoError(t, svc.Approve(ctx, id))
		case state.PhaseImplement:
			_, err := svc.AttachArtifact(ctx, id, redEvidence(state.TestFailing))
			require.NoError(t, err)
		case state.PhaseValidate:
			_, err := svc.AttachArtifact(ctx, id, redEvidence(state.TestPassing))
			require.NoError(t, err)
		}
		_, err := svc.Advance(ctx, id, step)
		require.NoError(t, err, "advance to %s", step)
		if step == target {
			return
		}
	}
	t.Fatalf("target phase %q not reached", target)
}

func TestStartCreatesAndActivates(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	w, err := svc.Start(ctx, "login")
	require.NoError(t, err)
	assert.Equal(t, state.PhaseIdle, w.Phase)
	assert.Equal(t, state.BacklogOpen, w.BacklogStatus)

	active, err := svc.Active(ctx)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, "login", active.ID)
}

func TestStartIdempotentOnDormantWorkflow(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Start(ctx, "login")
	require.NoError(t, err)
	_, err = svc.Start(ctx, "other")
	require.NoError(t, err)

	// Restarting the untouched workflow reactivates it without error.
	_, err = svc.Start(ctx, "login")
	require.NoError(t, err)

	active, _ := svc.Active(ctx)
	assert.Equal(t, "login", active.ID)
}

func TestStartDuplicateWithHistory(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Start(ctx, "login")
	require.NoError(t, err)
	_, err = svc.Advance(ctx, "login", state.PhaseContext)
	require.NoError(t, err)

	_, err = svc.Start(ctx, "login")
	var dup *DuplicateError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "login", dup.ID)
}

func TestStartInvalidID(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Start(context.Background(), "../escape")
	assert.ErrorIs(t, err, state.ErrInvalidID)
}

func TestSwitchUnknownWorkflow(t *testing.T) {
	svc, _ := newTestService(t)

	err := svc.Switch(context.Background(), "ghost")
	var unknown *UnknownWorkflowError
	assert.ErrorAs(t, err, &unknown)
}

func TestSwitchChangesActivePointer(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Start(ctx, "a")
	require.NoError(t, err)
	_, err = svc.Start(ctx, "b")
	require.NoError(t, err)

	require.NoError(t, svc.Switch(ctx, "a"))
	active, _ := svc.Active(ctx)
	assert.Equal(t, "a", active.ID)
}

func TestAdvanceOnlyToImmediateSuccessor(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Start(ctx, "login")
	require.NoError(t, err)

	_, err = svc.Advance(ctx, "login", state.PhaseSpec)
	var illegal *IllegalTransitionError
	require.ErrorAs(t, err, &illegal)
	assert.Equal(t, state.PhaseIdle, illegal.From)
	assert.Equal(t, state.PhaseSpec, illegal.To)

	w, err := svc.Advance(ctx, "login", state.PhaseContext)
	require.NoError(t, err)
	assert.Equal(t, state.PhaseContext, w.Phase)
}

func TestAdvanceNeverMovesBackward(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Start(ctx, "login")
	require.NoError(t, err)
	advanceTo(t, svc, "login", state.PhaseSpec)

	_, err = svc.Advance(ctx, "login", state.PhaseContext)
	var illegal *IllegalTransitionError
	assert.ErrorAs(t, err, &illegal)
}

func TestAdvanceIntoTDDRedRequiresApproval(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Start(ctx, "login")
	require.NoError(t, err)
	// Walk to the approved phase without ever setting the approval flag;
	// the flag guards entry into tdd_red, not into approved.
	for _, p := range []state.Phase{state.PhaseContext, state.PhaseAnalyse, state.PhaseSpec, state.PhaseApproved} {
		if p == state.PhaseApproved {
			require.NoError(t, svc.SetSpec(ctx, "login", "specs/login.md", "code"))
		}
		_, err = svc.Advance(ctx, "login", p)
		require.NoError(t, err)
	}

	_, err = svc.Advance(ctx, "login", state.PhaseTDDRed)
	var illegal *IllegalTransitionError
	require.ErrorAs(t, err, &illegal)
	assert.Contains(t, illegal.Error(), "approve")
}

func TestAdvanceToImplementRequiresFailingRedTest(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Start(ctx, "w1")
	require.NoError(t, err)
	advanceTo(t, svc, "w1", state.PhaseTDDRed)

	// No evidence at all.
	_, err = svc.Advance(ctx, "w1", state.PhaseImplement)
	var illegal *IllegalTransitionError
	require.ErrorAs(t, err, &illegal)

	// A red test that already passes is rejected too.
	_, err = svc.AttachArtifact(ctx, "w1", redEvidence(state.TestPassing))
	require.NoError(t, err)
	_, err = svc.Advance(ctx, "w1", state.PhaseImplement)
	require.ErrorAs(t, err, &illegal)
	assert.Contains(t, illegal.Reason, "passing")

	// Failing red test unlocks implementation.
	_, err = svc.AttachArtifact(ctx, "w1", redEvidence(state.TestFailing))
	require.NoError(t, err)
	w, err := svc.Advance(ctx, "w1", state.PhaseImplement)
	require.NoError(t, err)
	assert.Equal(t, state.PhaseImplement, w.Phase)
}

func TestAdvanceToValidateRequiresPassingGreenTest(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Start(ctx, "w1")
	require.NoError(t, err)
	advanceTo(t, svc, "w1", state.PhaseImplement)

	_, err = svc.Advance(ctx, "w1", state.PhaseValidate)
	var illegal *IllegalTransitionError
	require.ErrorAs(t, err, &illegal)

	_, err = svc.AttachArtifact(ctx, "w1", redEvidence(state.TestFailing))
	require.NoError(t, err)
	_, err = svc.Advance(ctx, "w1", state.PhaseValidate)
	require.ErrorAs(t, err, &illegal)

	_, err = svc.AttachArtifact(ctx, "w1", redEvidence(state.TestPassing))
	require.NoError(t, err)
	_, err = svc.Advance(ctx, "w1", state.PhaseValidate)
	require.NoError(t, err)
}

func TestAdvanceUIWorkflowNeedsValidationScreenshot(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Start(ctx, "dashboard")
	require.NoError(t, err)

	for _, p := range []state.Phase{state.PhaseContext, state.PhaseAnalyse, state.PhaseSpec} {
		_, err = svc.Advance(ctx, "dashboard", p)
		require.NoError(t, err)
	}
	require.NoError(t, svc.SetSpec(ctx, "dashboard", "specs/dashboard.md", SpecTypeUI))
	require.NoError(t, svc.Approve(ctx, "dashboard"))
	_, err = svc.Advance(ctx, "dashboard", state.PhaseApproved)
	require.NoError(t, err)
	_, err = svc.Advance(ctx, "dashboard", state.PhaseTDDRed)
	require.NoError(t, err)
	_, err = svc.AttachArtifact(ctx, "dashboard", redEvidence(state.TestFailing))
	require.NoError(t, err)
	_, err = svc.Advance(ctx, "dashboard", state.PhaseImplement)
	require.NoError(t, err)
	_, err = svc.AttachArtifact(ctx, "dashboard", redEvidence(state.TestPassing))
	require.NoError(t, err)
	_, err = svc.Advance(ctx, "dashboard", state.PhaseValidate)
	require.NoError(t, err)

	// Completion blocked without a screenshot from validate.
	_, err = svc.Advance(ctx, "dashboard", state.PhaseComplete)
	var illegal *IllegalTransitionError
	require.ErrorAs(t, err, &illegal)
	assert.Contains(t, illegal.Reason, "screenshot")

	_, err = svc.AttachArtifact(ctx, "dashboard", &artifact.Candidate{
		Type:        state.ArtifactScreenshot,
		Path:        "artifacts/dashboard.png",
		Description: "rendered dashboard after the fix",
		SizeBytes:   200_000,
	})
	require.NoError(t, err)
	_, err = svc.Advance(ctx, "dashboard", state.PhaseComplete)
	require.NoError(t, err)
}

func TestAdvanceResetClearsEvidence(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Start(ctx, "login")
	require.NoError(t, err)
	advanceTo(t, svc, "login", state.PhaseImplement)

	before, err := svc.Get(ctx, "login")
	require.NoError(t, err)
	created := before.CreatedAt

	w, err := svc.Advance(ctx, "login", state.PhaseIdle)
	require.NoError(t, err)
	assert.Equal(t, state.PhaseIdle, w.Phase)
	assert.False(t, w.Approved)
	assert.False(t, w.RedTestDone)
	assert.Empty(t, w.SpecPath)
	assert.Empty(t, w.Artifacts)
	assert.Equal(t, created, w.CreatedAt)
	assert.Equal(t, state.BacklogOpen, w.BacklogStatus)
}

func TestApproveOnlyAtSpecPhase(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Start(ctx, "login")
	require.NoError(t, err)

	err = svc.Approve(ctx, "login")
	var illegal *IllegalTransitionError
	require.ErrorAs(t, err, &illegal)

	advanceTo(t, svc, "login", state.PhaseSpec)
	require.NoError(t, svc.Approve(ctx, "login"))

	w, _ := svc.Get(ctx, "login")
	assert.True(t, w.Approved)
	// Approval never advances the phase by itself.
	assert.Equal(t, state.PhaseSpec, w.Phase)
	assert.Equal(t, state.BacklogSpecReady, w.BacklogStatus)
}

func TestSetSpecFrozenAfterApprovedPhase(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Start(ctx, "login")
	require.NoError(t, err)
	advanceTo(t, svc, "login", state.PhaseApproved)

	err = svc.SetSpec(ctx, "login", "specs/other.md", "code")
	var illegal *IllegalTransitionError
	assert.ErrorAs(t, err, &illegal)
}

func TestAttachArtifactOutsideTDDPhasesKeepsFlagsUntouched(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Start(ctx, "login")
	require.NoError(t, err)
	advanceTo(t, svc, "login", state.PhaseSpec)

	_, err = svc.AttachArtifact(ctx, "login", &artifact.Candidate{
		Type:        state.ArtifactDocument,
		Path:        "docs/analysis.md",
		Description: "analysis notes backing the spec",
	})
	require.NoError(t, err)

	w, _ := svc.Get(ctx, "login")
	assert.Len(t, w.Artifacts, 1)
	assert.False(t, w.RedTestDone)
	assert.False(t, w.GreenTestDone)
}

func TestAttachArtifactValidationFailureLeavesStateUntouched(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Start(ctx, "login")
	require.NoError(t, err)
	advanceTo(t, svc, "login", state.PhaseTDDRed)

	_, err = svc.AttachArtifact(ctx, "login", &artifact.Candidate{
		Type:        state.ArtifactDocument,
		Description: "pending",
	})
	var verr *artifact.ValidationError
	require.ErrorAs(t, err, &verr)

	w, _ := svc.Get(ctx, "login")
	assert.Empty(t, w.Artifacts)
	assert.False(t, w.RedTestDone)
}

func TestSetBacklogStatusOverridesDerivation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Start(ctx, "login")
	require.NoError(t, err)

	require.NoError(t, svc.SetBacklogStatus(ctx, "login", state.BacklogBlocked))

	// Advancing derives nothing while the override holds.
	_, err = svc.Advance(ctx, "login", state.PhaseContext)
	require.NoError(t, err)
	w, _ := svc.Get(ctx, "login")
	assert.Equal(t, state.BacklogBlocked, w.BacklogStatus)
	assert.True(t, w.BacklogOverride)

	status, err := svc.DeriveBacklog(ctx, "login")
	require.NoError(t, err)
	assert.Equal(t, state.BacklogBlocked, status)
}

func TestCompletionForcesDoneAndClearsOverride(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Start(ctx, "login")
	require.NoError(t, err)
	require.NoError(t, svc.SetBacklogStatus(ctx, "login", state.BacklogBlocked))
	advanceTo(t, svc, "login", state.PhaseComplete)

	w, _ := svc.Get(ctx, "login")
	assert.Equal(t, state.BacklogDone, w.BacklogStatus)
	assert.False(t, w.BacklogOverride)
}

func TestDeriveBacklogIdempotent(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Start(ctx, "login")
	require.NoError(t, err)
	advanceTo(t, svc, "login", state.PhaseTDDRed)

	first, err := svc.DeriveBacklog(ctx, "login")
	require.NoError(t, err)
	second, err := svc.DeriveBacklog(ctx, "login")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, state.BacklogInProgress, first)
}

func TestPauseDerivesStatusByPhase(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T, svc Service, id string)
		want  state.BacklogStatus
	}{
		{
			name:  "idle pauses to open",
			setup: func(t *testing.T, svc Service, id string) {},
			want:  state.BacklogOpen,
		},
		{
			name: "unapproved spec pauses to open",
			setup: func(t *testing.T, svc Service, id string) {
				advanceTo(t, svc, id, state.PhaseSpec)
			},
			want: state.BacklogOpen,
		},
		{
			name: "approved spec pauses to spec_ready",
			setup: func(t *testing.T, svc Service, id string) {
				advanceTo(t, svc, id, state.PhaseSpec)
				require.NoError(t, svc.Approve(context.Background(), id))
			},
			want: state.BacklogSpecReady,
		},
		{
			name: "approved phase pauses to spec_ready",
			setup: func(t *testing.T, svc Service, id string) {
				advanceTo(t, svc, id, state.PhaseApproved)
			},
			want: state.BacklogSpecReady,
		},
		{
			name: "tdd_red pauses to in_progress",
			setup: func(t *testing.T, svc Service, id string) {
				advanceTo(t, svc, id, state.PhaseTDDRed)
			},
			want: state.BacklogInProgress,
		},
		{
			name: "complete pauses to done",
			setup: func(t *testing.T, svc Service, id string) {
				advanceTo(t, svc, id, state.PhaseComplete)
			},
			want: state.BacklogDone,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := newTestService(t)
			ctx := context.Background()

			_, err := svc.Start(ctx, "w")
			require.NoError(t, err)
			tt.setup(t, svc, "w")

			status, err := svc.Pause(ctx, "w", "let's pause this")
			require.NoError(t, err)
			assert.Equal(t, tt.want, status)

			w, _ := svc.Get(ctx, "w")
			assert.Equal(t, tt.want, w.BacklogStatus)
		})
	}
}

func TestApplyUtterance(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Start(ctx, "login")
	require.NoError(t, err)
	advanceTo(t, svc, "login", state.PhaseSpec)

	// Negated approval does nothing.
	got, err := svc.ApplyUtterance(ctx, "login", "this is not approved yet")
	require.NoError(t, err)
	assert.Equal(t, intent.IntentNone, got)
	w, _ := svc.Get(ctx, "login")
	assert.False(t, w.Approved)

	// German approval applies.
	got, err = svc.ApplyUtterance(ctx, "login", "freigegeben")
	require.NoError(t, err)
	assert.Equal(t, intent.IntentApprove, got)
	w, _ = svc.Get(ctx, "login")
	assert.True(t, w.Approved)

	// Pause applies the derived status.
	got, err = svc.ApplyUtterance(ctx, "login", "put it on hold")
	require.NoError(t, err)
	assert.Equal(t, intent.IntentPause, got)
	w, _ = svc.Get(ctx, "login")
	assert.Equal(t, state.BacklogSpecReady, w.BacklogStatus)
}

func TestLinkIssue(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Start(ctx, "login")
	require.NoError(t, err)

	require.NoError(t, svc.LinkIssue(ctx, "login", 42))
	w, _ := svc.Get(ctx, "login")
	assert.Equal(t, 42, w.IssueNumber)

	assert.Error(t, svc.LinkIssue(ctx, "login", 0))
}

func TestConcurrentSessionChangeIsNeverLost(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	_, err := svc.Start(ctx, "login")
	require.NoError(t, err)

	// A second session writes behind the manager's back; the next manager
	// operation loads the advanced version and both changes land.
	other, err := store.Load()
	require.NoError(t, err)
	other.Workflows["intruder"] = &state.Workflow{
		ID: "intruder", Phase: state.PhaseIdle, CreatedAt: time.Now(), BacklogStatus: state.BacklogOpen,
	}
	require.NoError(t, store.Save(other, other.Version))

	_, err = svc.Advance(ctx, "login", state.PhaseContext)
	require.NoError(t, err)

	final, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, state.PhaseContext, final.Workflows["login"].Phase)
	assert.Contains(t, final.Workflows, "intruder")
}

func TestPhaseSequenceNonDecreasing(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Start(ctx, "login")
	require.NoError(t, err)

	var observed []int
	record := func() {
		w, err := svc.Get(ctx, "login")
		require.NoError(t, err)
		observed = append(observed, w.Phase.Index())
	}

	record()
	advanceTo(t, svc, "login", state.PhaseComplete)
	record()

	for i := 1; i < len(observed); i++ {
		assert.GreaterOrEqual(t, observed[i], observed[i-1])
	}
}
