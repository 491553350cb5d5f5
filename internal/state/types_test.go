package state

import (
	"testing"
	"time"
)

func TestPhaseOrder(t *testing.T) {
	phases := AllPhases()
	if len(phases) != 9 {
		t.Fatalf("AllPhases() returned %d phases, want 9", len(phases))
	}
	if phases[0] != PhaseIdle {
		t.Errorf("first phase = %q, want %q", phases[0], PhaseIdle)
	}
	if phases[len(phases)-1] != PhaseComplete {
		t.Errorf("last phase = %q, want %q", phases[len(phases)-1], PhaseComplete)
	}

	// Indices strictly increase along the declared order.
	for i := 1; i < len(phases); i++ {
		if phases[i].Index() != phases[i-1].Index()+1 {
			t.Errorf("phase %q index %d does not follow %q index %d",
				phases[i], phases[i].Index(), phases[i-1], phases[i-1].Index())
		}
	}
}

func TestPhaseNext(t *testing.T) {
	tests := []struct {
		phase  Phase
		next   Phase
		wantOK bool
	}{
		{PhaseIdle, PhaseContext, true},
		{PhaseContext, PhaseAnalyse, true},
		{PhaseAnalyse, PhaseSpec, true},
		{PhaseSpec, PhaseApproved, true},
		{PhaseApproved, PhaseTDDRed, true},
		{PhaseTDDRed, PhaseImplement, true},
		{PhaseImplement, PhaseValidate, true},
		{PhaseValidate, PhaseComplete, true},
		{PhaseComplete, "", false},
		{Phase("bogus"), "", false},
	}

	for _, tt := range tests {
		next, ok := tt.phase.Next()
		if ok != tt.wantOK || next != tt.next {
			t.Errorf("%q.Next() = (%q, %v), want (%q, %v)", tt.phase, next, ok, tt.next, tt.wantOK)
		}
	}
}

func TestPhaseAtLeast(t *testing.T) {
	if !PhaseImplement.AtLeast(PhaseTDDRed) {
		t.Error("implement should be at least tdd_red")
	}
	if !PhaseTDDRed.AtLeast(PhaseTDDRed) {
		t.Error("tdd_red should be at least itself")
	}
	if PhaseApproved.AtLeast(PhaseTDDRed) {
		t.Error("approved should not be at least tdd_red")
	}
	if Phase("bogus").AtLeast(PhaseIdle) {
		t.Error("unknown phase should never be at least anything")
	}
}

func TestParsePhase(t *testing.T) {
	p, err := ParsePhase("tdd_red")
	if err != nil {
		t.Fatalf("ParsePhase(tdd_red) failed: %v", err)
	}
	if p != PhaseTDDRed {
		t.Errorf("ParsePhase(tdd_red) = %q", p)
	}

	if _, err := ParsePhase("TDD_RED"); err == nil {
		t.Error("expected error for wrong-case phase name")
	}
	if _, err := ParsePhase("done"); err == nil {
		t.Error("expected error for unknown phase name")
	}
}

func TestDerivedBacklogStatus(t *testing.T) {
	tests := []struct {
		name string
		wf   Workflow
		want BacklogStatus
	}{
		{"idle", Workflow{Phase: PhaseIdle}, BacklogOpen},
		{"context", Workflow{Phase: PhaseContext}, BacklogOpen},
		{"analyse", Workflow{Phase: PhaseAnalyse}, BacklogOpen},
		{"spec unapproved", Workflow{Phase: PhaseSpec}, BacklogOpen},
		{"spec approved", Workflow{Phase: PhaseSpec, Approved: true}, BacklogSpecReady},
		{"approved phase", Workflow{Phase: PhaseApproved, Approved: true}, BacklogSpecReady},
		{"tdd_red", Workflow{Phase: PhaseTDDRed, Approved: true}, BacklogInProgress},
		{"implement", Workflow{Phase: PhaseImplement, Approved: true, RedTestDone: true}, BacklogInProgress},
		{"validate", Workflow{Phase: PhaseValidate, Approved: true, RedTestDone: true, GreenTestDone: true}, BacklogInProgress},
		{"complete", Workflow{Phase: PhaseComplete, Approved: true, RedTestDone: true, GreenTestDone: true}, BacklogDone},
		{"implement without red evidence", Workflow{Phase: PhaseImplement, Approved: true}, BacklogBlocked},
		{"validate without green evidence", Workflow{Phase: PhaseValidate, Approved: true, RedTestDone: true}, BacklogBlocked},
		{"complete overrides inconsistency", Workflow{Phase: PhaseComplete}, BacklogDone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.wf.DerivedBacklogStatus(); got != tt.want {
				t.Errorf("DerivedBacklogStatus() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDerivedBacklogStatusIdempotent(t *testing.T) {
	wf := Workflow{Phase: PhaseTDDRed, Approved: true, RedTestDone: true}
	first := wf.DerivedBacklogStatus()
	second := wf.DerivedBacklogStatus()
	if first != second {
		t.Errorf("derivation not idempotent: %q then %q", first, second)
	}
}

func TestWorkflowReset(t *testing.T) {
	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	wf := Workflow{
		ID:              "login",
		Phase:           PhaseImplement,
		CreatedAt:       created,
		SpecPath:        "docs/specs/login.md",
		SpecType:        "ui",
		Approved:        true,
		RedTestDone:     true,
		RedTestResult:   TestFailing,
		GreenTestDone:   true,
		GreenTestResult: TestPassing,
		Artifacts:       []Artifact{{ID: "a1", Type: ArtifactLog}},
		BacklogStatus:   BacklogInProgress,
		BacklogOverride: true,
	}

	wf.Reset(now)

	if wf.Phase != PhaseIdle {
		t.Errorf("phase after reset = %q, want idle", wf.Phase)
	}
	if wf.ID != "login" || !wf.CreatedAt.Equal(created) {
		t.Error("reset must preserve id and creation time")
	}
	if wf.Approved || wf.RedTestDone || wf.GreenTestDone || wf.SpecPath != "" || len(wf.Artifacts) != 0 {
		t.Error("reset must clear spec, TDD, and artifact state")
	}
	if !wf.BacklogOverride {
		t.Error("reset must preserve the backlog override")
	}
	if !wf.UpdatedAt.Equal(now) {
		t.Errorf("UpdatedAt = %v, want %v", wf.UpdatedAt, now)
	}
}

func TestWorkflowHasHistory(t *testing.T) {
	fresh := Workflow{ID: "w", Phase: PhaseIdle}
	if fresh.HasHistory() {
		t.Error("fresh idle workflow should have no history")
	}

	tests := []struct {
		name string
		wf   Workflow
	}{
		{"advanced phase", Workflow{Phase: PhaseContext}},
		{"approved", Workflow{Phase: PhaseIdle, Approved: true}},
		{"spec path", Workflow{Phase: PhaseIdle, SpecPath: "docs/s.md"}},
		{"artifact", Workflow{Phase: PhaseIdle, Artifacts: []Artifact{{}}}},
		{"override", Workflow{Phase: PhaseIdle, BacklogOverride: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !tt.wf.HasHistory() {
				t.Error("expected history")
			}
		})
	}
}

func TestValidateID(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"valid slug", "login-flow", false},
		{"valid with underscore", "login_flow", false},
		{"valid with dots", "login.v2", false},
		{"valid numbers", "issue1234", false},
		{"empty", "", true},
		{"uppercase", "Login-Flow", true},
		{"mixed case", "loginFlow", true},
		{"leading hyphen", "-login", true},
		{"dot", ".", true},
		{"dotdot", "..", true},
		{"slash", "a/b", true},
		{"backslash", "a\\b", true},
		{"space", "login flow", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateID(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateID(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestGlobalStateActive(t *testing.T) {
	gs := freshState()
	if gs.Active() != nil {
		t.Error("fresh state should have no active workflow")
	}

	gs.Workflows["login"] = &Workflow{ID: "login", Phase: PhaseIdle}
	gs.ActiveWorkflowID = "login"
	if got := gs.Active(); got == nil || got.ID != "login" {
		t.Errorf("Active() = %v, want login workflow", got)
	}

	gs.ActiveWorkflowID = "missing"
	if gs.Active() != nil {
		t.Error("dangling active pointer should resolve to nil")
	}
}
