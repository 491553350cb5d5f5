// Package state defines the persisted workflow document and its durable
// store.
//
// The entire tracked state of a project lives in one JSON document
// (GlobalState): every workflow, its phase and evidence, and the active
// pointer. The store provides optimistic concurrency: each load carries the
// document's version counter, and a save against a stale version fails with
// ConflictError so the caller can reload and reapply.
package state

import (
	"fmt"
	"path/filepath"
	"regexp"
	"time"
)

// Phase is one stage of the delivery workflow. Phases form a strict total
// order and advance only to the immediate successor, except for an explicit
// reset back to PhaseIdle.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseContext   Phase = "context"
	PhaseAnalyse   Phase = "analyse"
	PhaseSpec      Phase = "spec"
	PhaseApproved  Phase = "approved"
	PhaseTDDRed    Phase = "tdd_red"
	PhaseImplement Phase = "implement"
	PhaseValidate  Phase = "validate"
	PhaseComplete  Phase = "complete"
)

// phaseOrder fixes the total order. Index positions are the only valid
// comparison between phases; never compare phase strings lexically.
var phaseOrder = []Phase{
	PhaseIdle,
	PhaseContext,
	PhaseAnalyse,
	PhaseSpec,
	PhaseApproved,
	PhaseTDDRed,
	PhaseImplement,
	PhaseValidate,
	PhaseComplete,
}

// AllPhases returns the phases in workflow order.
func AllPhases() []Phase {
	out := make([]Phase, len(phaseOrder))
	copy(out, phaseOrder)
	return out
}

// ParsePhase converts a user-supplied string to a Phase.
func ParsePhase(s string) (Phase, error) {
	p := Phase(s)
	if !p.Valid() {
		return "", fmt.Errorf("unknown phase %q (valid: %v)", s, phaseOrder)
	}
	return p, nil
}

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool {
	return p.Index() >= 0
}

// Index returns the position of p in the phase order, or -1 if unknown.
func (p Phase) Index() int {
	for i, candidate := range phaseOrder {
		if candidate == p {
			return i
		}
	}
	return -1
}

// Next returns the immediate successor of p. ok is false at the terminal
// phase or for an unknown phase.
func (p Phase) Next() (next Phase, ok bool) {
	i := p.Index()
	if i < 0 || i >= len(phaseOrder)-1 {
		return "", false
	}
	return phaseOrder[i+1], true
}

// AtLeast reports whether p is at or past other in the phase order.
// Unknown phases are never at or past anything.
func (p Phase) AtLeast(other Phase) bool {
	pi, oi := p.Index(), other.Index()
	return pi >= 0 && oi >= 0 && pi >= oi
}

// TestResult records what a piece of test evidence demonstrated.
type TestResult string

const (
	TestFailing TestResult = "failing"
	TestPassing TestResult = "passing"
)

// ParseTestResult converts a user-supplied string to a TestResult.
// The empty string is valid and means "no result recorded".
func ParseTestResult(s string) (TestResult, error) {
	switch r := TestResult(s); r {
	case "", TestFailing, TestPassing:
		return r, nil
	default:
		return "", fmt.Errorf("unknown test result %q (valid: failing, passing)", s)
	}
}

// ArtifactType classifies a piece of submitted evidence.
type ArtifactType string

const (
	ArtifactScreenshot  ArtifactType = "screenshot"
	ArtifactLog         ArtifactType = "log"
	ArtifactAPIResponse ArtifactType = "api-response"
	ArtifactDocument    ArtifactType = "document"
)

// Valid reports whether t is a recognized artifact type.
func (t ArtifactType) Valid() bool {
	switch t {
	case ArtifactScreenshot, ArtifactLog, ArtifactAPIResponse, ArtifactDocument:
		return true
	}
	return false
}

// Binary reports whether t is file-backed binary evidence subject to the
// minimum size rule.
func (t ArtifactType) Binary() bool {
	return t == ArtifactScreenshot || t == ArtifactLog
}

// Artifact is evidence attached to a workflow. Artifacts are immutable once
// attached and are never removed except by a workflow reset.
type Artifact struct {
	ID          string       `json:"id"`
	Type        ArtifactType `json:"type"`
	Path        string       `json:"path"`
	Description string       `json:"description"`
	Phase       Phase        `json:"phase"`
	CreatedAt   time.Time    `json:"createdAt"`
	SizeBytes   int64        `json:"sizeBytes"`
	TestResult  TestResult   `json:"testResult,omitempty"`
	CommitID    string       `json:"commitId,omitempty"`
}

// BacklogStatus is the coarse progress label derived from (or overriding)
// a workflow's phase.
type BacklogStatus string

const (
	BacklogOpen       BacklogStatus = "open"
	BacklogSpecReady  BacklogStatus = "spec_ready"
	BacklogInProgress BacklogStatus = "in_progress"
	BacklogDone       BacklogStatus = "done"
	BacklogBlocked    BacklogStatus = "blocked"
)

// ParseBacklogStatus converts a user-supplied string to a BacklogStatus.
func ParseBacklogStatus(s string) (BacklogStatus, error) {
	switch b := BacklogStatus(s); b {
	case BacklogOpen, BacklogSpecReady, BacklogInProgress, BacklogDone, BacklogBlocked:
		return b, nil
	default:
		return "", fmt.Errorf("unknown backlog status %q (valid: open, spec_ready, in_progress, done, blocked)", s)
	}
}

// Workflow is one tracked unit of work. Workflows are created once, mutated
// only through manager operations, and never deleted (switched away from at
// most).
type Workflow struct {
	ID              string        `json:"id"`
	Phase           Phase         `json:"phase"`
	CreatedAt       time.Time     `json:"createdAt"`
	UpdatedAt       time.Time     `json:"updatedAt"`
	SpecPath        string        `json:"specPath,omitempty"`
	SpecType        string        `json:"specType,omitempty"`
	Approved        bool          `json:"approved"`
	RedTestDone     bool          `json:"redTestDone"`
	RedTestResult   TestResult    `json:"redTestResult,omitempty"`
	GreenTestDone   bool          `json:"greenTestDone"`
	GreenTestResult TestResult    `json:"greenTestResult,omitempty"`
	Artifacts       []Artifact    `json:"artifacts,omitempty"`
	BacklogStatus   BacklogStatus `json:"backlogStatus"`
	BacklogOverride bool          `json:"backlogOverride"`
	IssueNumber     int           `json:"issueNumber,omitempty"`
}

// Reset reinitializes the workflow to the initial phase, clearing spec,
// TDD, and artifact state. The id, creation time, and backlog override
// survive the reset.
func (w *Workflow) Reset(now time.Time) {
	w.Phase = PhaseIdle
	w.SpecPath = ""
	w.SpecType = ""
	w.Approved = false
	w.RedTestDone = false
	w.RedTestResult = ""
	w.GreenTestDone = false
	w.GreenTestResult = ""
	w.Artifacts = nil
	w.UpdatedAt = now
}

// HasHistory reports whether the workflow has progressed beyond a freshly
// started state. A dormant workflow without history may be restarted
// idempotently.
func (w *Workflow) HasHistory() bool {
	return w.Phase != PhaseIdle ||
		w.Approved ||
		w.SpecPath != "" ||
		w.RedTestDone ||
		w.GreenTestDone ||
		len(w.Artifacts) > 0 ||
		w.BacklogOverride
}

// DerivedBacklogStatus computes the backlog label from the workflow's
// phase and evidence. Completion always derives done. Evidence states that
// the phase guards could never have produced (red or green missing past
// their gates) derive blocked; they are only reachable through document
// corruption or migration gaps.
func (w *Workflow) DerivedBacklogStatus() BacklogStatus {
	switch {
	case w.Phase == PhaseComplete:
		return BacklogDone
	case w.Phase.AtLeast(PhaseValidate) && !w.GreenTestDone:
		return BacklogBlocked
	case w.Phase.AtLeast(PhaseImplement) && !w.RedTestDone:
		return BacklogBlocked
	case w.Phase == PhaseTDDRed || w.Phase == PhaseImplement || w.Phase == PhaseValidate:
		return BacklogInProgress
	case w.Phase == PhaseApproved:
		return BacklogSpecReady
	case w.Phase == PhaseSpec && w.Approved:
		return BacklogSpecReady
	default:
		return BacklogOpen
	}
}

// ArtifactsAt returns the artifacts attached while the workflow was at the
// given phase.
func (w *Workflow) ArtifactsAt(phase Phase) []Artifact {
	var out []Artifact
	for _, a := range w.Artifacts {
		if a.Phase == phase {
			out = append(out, a)
		}
	}
	return out
}

// PathRule maps a protected path pattern to the kind of spec that must
// back an edit under it.
type PathRule struct {
	Pattern  string `json:"pattern"`
	SpecType string `json:"specType"`
}

// GlobalState is the root persisted document.
type GlobalState struct {
	SchemaVersion         int                  `json:"schemaVersion"`
	Version               int64                `json:"version"`
	Workflows             map[string]*Workflow `json:"workflows"`
	ActiveWorkflowID      string               `json:"activeWorkflowId,omitempty"`
	ProtectedPathRules    []PathRule           `json:"protectedPathRules,omitempty"`
	AlwaysAllowedPatterns []string             `json:"alwaysAllowedPatterns,omitempty"`
}

// Active returns the active workflow, or nil when no workflow is active.
// A dangling active pointer is treated as no active workflow.
func (g *GlobalState) Active() *Workflow {
	if g.ActiveWorkflowID == "" {
		return nil
	}
	return g.Workflows[g.ActiveWorkflowID]
}

// idPattern validates workflow ids. Ids become map keys and appear in file
// paths and event subjects, so they are lowercase slugs: case-folded ids
// would otherwise collide as subjects while staying distinct as keys.
var idPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]*$`)

// ErrInvalidID is returned for workflow ids that are empty, too long, or
// unsafe for paths.
var ErrInvalidID = fmt.Errorf("invalid workflow id: must be lowercase alphanumeric with hyphens/underscores/dots")

// ValidateID checks that a workflow id is a safe stable slug.
func ValidateID(id string) error {
	if id == "" {
		return ErrInvalidID
	}
	if len(id) > 128 {
		return fmt.Errorf("%w: id too long (max 128)", ErrInvalidID)
	}
	if !idPattern.MatchString(id) {
		return ErrInvalidID
	}
	if id == "." || id == ".." {
		return ErrInvalidID
	}
	for _, c := range id {
		if c == '/' || c == '\\' || c == '\x00' {
			return ErrInvalidID
		}
	}
	if filepath.Clean(id) != id {
		return ErrInvalidID
	}
	return nil
}
