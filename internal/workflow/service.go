package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/specgate/internal/artifact"
	"github.com/fyrsmithlabs/specgate/internal/events"
	"github.com/fyrsmithlabs/specgate/internal/intent"
	"github.com/fyrsmithlabs/specgate/internal/state"
)

const instrumentationName = "github.com/fyrsmithlabs/specgate/internal/workflow"

// SpecTypeUI marks workflows whose validation evidence must include a
// screenshot before completion.
const SpecTypeUI = "ui"

// Service provides workflow lifecycle operations.
type Service interface {
	// Start creates a workflow at idle and activates it. Idempotent when
	// an identical dormant workflow exists without history.
	Start(ctx context.Context, id string) (*state.Workflow, error)

	// Switch moves the active pointer to id.
	Switch(ctx context.Context, id string) error

	// Advance moves the workflow to its immediate successor phase, or
	// back to idle (explicit reset).
	Advance(ctx context.Context, id string, target state.Phase) (*state.Workflow, error)

	// Approve records spec approval. Legal only at phase spec; never
	// advances the phase itself.
	Approve(ctx context.Context, id string) error

	// SetSpec records the spec path and type. Legal at phase spec and
	// earlier.
	SetSpec(ctx context.Context, id, specPath, specType string) error

	// AttachArtifact validates and appends evidence, updating TDD
	// readiness flags when the artifact's phase matches the current one.
	AttachArtifact(ctx context.Context, id string, candidate *artifact.Candidate) (*state.Artifact, error)

	// SetBacklogStatus sets an explicit status and marks the override.
	SetBacklogStatus(ctx context.Context, id string, status state.BacklogStatus) error

	// Pause derives a paused status from the current phase and applies it
	// as an explicit override.
	Pause(ctx context.Context, id, utterance string) (state.BacklogStatus, error)

	// DeriveBacklog recomputes the backlog status unless overridden.
	// Completion always derives done and clears the override.
	DeriveBacklog(ctx context.Context, id string) (state.BacklogStatus, error)

	// ApplyUtterance classifies free text and dispatches the intent
	// (approve, pause, or nothing). Returns the classified intent.
	ApplyUtterance(ctx context.Context, id, text string) (intent.Intent, error)

	// LinkIssue records the GitHub issue mirroring this workflow's
	// backlog status.
	LinkIssue(ctx context.Context, id string, issue int) error

	// Get returns one workflow by id.
	Get(ctx context.Context, id string) (*state.Workflow, error)

	// List returns every tracked workflow.
	List(ctx context.Context) ([]*state.Workflow, error)

	// Active returns the active workflow, or nil when none is active.
	Active(ctx context.Context) (*state.Workflow, error)
}

// Config configures the workflow manager.
type Config struct {
	// ConflictRetries bounds automatic reload-reapply attempts after a
	// version conflict (default 1).
	ConflictRetries int
}

// DefaultConfig returns manager defaults.
func DefaultConfig() *Config {
	return &Config{ConflictRetries: 1}
}

// service implements the Service interface.
type service struct {
	config     *Config
	store      *state.Store
	validator  *artifact.Validator
	classifier *intent.Classifier
	publisher  *events.Publisher
	logger     *zap.Logger

	// Telemetry
	tracer             trace.Tracer
	meter              metric.Meter
	opsCounter         metric.Int64Counter
	transitionsCounter metric.Int64Counter
	retriesCounter     metric.Int64Counter

	now func() time.Time
}

// NewService creates the workflow manager. The publisher may be nil
// (events disabled); everything else is required.
func NewService(cfg *Config, store *state.Store, validator *artifact.Validator, classifier *intent.Classifier, publisher *events.Publisher, logger *zap.Logger) (Service, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if store == nil {
		return nil, errors.New("state store is required")
	}
	if validator == nil {
		return nil, errors.New("artifact validator is required")
	}
	if classifier == nil {
		return nil, errors.New("intent classifier is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &service{
		config:     cfg,
		store:      store,
		validator:  validator,
		classifier: classifier,
		publisher:  publisher,
		logger:     logger,
		tracer:     otel.Tracer(instrumentationName),
		meter:      otel.Meter(instrumentationName),
		now:        time.Now,
	}

	s.initMetrics()

	return s, nil
}

// initMetrics initializes OpenTelemetry metrics.
func (s *service) initMetrics() {
	var err error

	s.opsCounter, err = s.meter.Int64Counter(
		"specgate.workflow.operations_total",
		metric.WithDescription("Total workflow manager operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		s.logger.Warn("failed to create operations counter", zap.Error(err))
	}

	s.transitionsCounter, err = s.meter.Int64Counter(
		"specgate.workflow.transitions_total",
		metric.WithDescription("Total successful phase transitions"),
		metric.WithUnit("{transition}"),
	)
	if err != nil {
		s.logger.Warn("failed to create transitions counter", zap.Error(err))
	}

	s.retriesCounter, err = s.meter.Int64Counter(
		"specgate.workflow.conflict_retries_total",
		metric.WithDescription("Total save retries after version conflicts"),
		metric.WithUnit("{retry}"),
	)
	if err != nil {
		s.logger.Warn("failed to create retries counter", zap.Error(err))
	}
}

// mutate runs one load-mutate-save round trip. On ConflictError it
// reloads and reapplies fn, bounded by the configured retry budget, so fn
// must be safe to run against a fresh document. Returns the saved
// document.
func (s *service) mutate(ctx context.Context, fn func(gs *state.GlobalState) error) (*state.GlobalState, error) {
	attempts := s.config.ConflictRetries + 1
	var lastErr error

	for attempt := 0; attempt < attempts; attempt++ {
		gs, err := s.store.Load()
		if err != nil {
			return nil, err
		}

		if err := fn(gs); err != nil {
			return nil, err
		}

		if err := s.store.Save(gs, gs.Version); err != nil {
			var conflict *state.ConflictError
			if errors.As(err, &conflict) {
				lastErr = err
				if s.retriesCounter != nil {
					s.retriesCounter.Add(ctx, 1)
				}
				s.logger.Debug("save conflict, retrying",
					zap.Int64("expected", conflict.Expected),
					zap.Int64("actual", conflict.Actual),
				)
				continue
			}
			return nil, err
		}
		return gs, nil
	}
	return nil, lastErr
}

func (s *service) recordOp(ctx context.Context, op string, err error) {
	if s.opsCounter != nil {
		s.opsCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("operation", op),
			attribute.Bool("success", err == nil),
		))
	}
}

// Start creates a workflow at idle and activates it.
func (s *service) Start(ctx context.Context, id string) (w *state.Workflow, err error) {
	ctx, span := s.tracer.Start(ctx, "workflow.start")
	defer span.End()
	defer func() { s.recordOp(ctx, "start", err) }()

	span.SetAttributes(attribute.String("workflow_id", id))

	if err = state.ValidateID(id); err != nil {
		return nil, err
	}

	gs, err := s.mutate(ctx, func(gs *state.GlobalState) error {
		if existing, ok := gs.Workflows[id]; ok {
			if existing.HasHistory() {
				return &DuplicateError{ID: id}
			}
			gs.ActiveWorkflowID = id
			return nil
		}

		now := s.now()
		gs.Workflows[id] = &state.Workflow{
			ID:            id,
			Phase:         state.PhaseIdle,
			CreatedAt:     now,
			UpdatedAt:     now,
			BacklogStatus: state.BacklogOpen,
		}
		gs.ActiveWorkflowID = id
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	s.logger.Info("started workflow", zap.String("id", id))
	return gs.Workflows[id], nil
}

// Switch moves the active pointer.
func (s *service) Switch(ctx context.Context, id string) (err error) {
	ctx, span := s.tracer.Start(ctx, "workflow.switch")
	defer span.End()
	defer func() { s.recordOp(ctx, "switch", err) }()

	span.SetAttributes(attribute.String("workflow_id", id))

	_, err = s.mutate(ctx, func(gs *state.GlobalState) error {
		if _, ok := gs.Workflows[id]; !ok {
			return &UnknownWorkflowError{ID: id}
		}
		gs.ActiveWorkflowID = id
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return err
	}

	s.logger.Info("switched active workflow", zap.String("id", id))
	return nil
}

// Advance moves a workflow to the immediate successor phase, or resets it
// to idle.
func (s *service) Advance(ctx context.Context, id string, target state.Phase) (w *state.Workflow, err error) {
	ctx, span := s.tracer.Start(ctx, "workflow.advance")
	defer span.End()
	defer func() { s.recordOp(ctx, "advance", err) }()

	span.SetAttributes(
		attribute.String("workflow_id", id),
		attribute.String("target_phase", string(target)),
	)

	var from state.Phase
	gs, err := s.mutate(ctx, func(gs *state.GlobalState) error {
		wf, ok := gs.Workflows[id]
		if !ok {
			return &UnknownWorkflowError{ID: id}
		}
		from = wf.Phase

		if target == state.PhaseIdle {
			wf.Reset(s.now())
			s.deriveUnlessOverridden(wf)
			return nil
		}

		if verr := checkTransition(wf, target); verr != nil {
			return verr
		}

		wf.Phase = target
		wf.UpdatedAt = s.now()
		if target == state.PhaseComplete {
			// Completion is authoritative: done, override cleared.
			wf.BacklogStatus = state.BacklogDone
			wf.BacklogOverride = false
		} else {
			s.deriveUnlessOverridden(wf)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if s.transitionsCounter != nil {
		s.transitionsCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("from", string(from)),
			attribute.String("to", string(target)),
		))
	}

	wf := gs.Workflows[id]
	s.logger.Info("advanced workflow",
		zap.String("id", id),
		zap.String("from", string(from)),
		zap.String("to", string(target)),
	)
	s.publisher.PublishPhase(events.PhaseEvent{
		WorkflowID: id,
		From:       from,
		To:         target,
		Version:    gs.Version,
		Timestamp:  wf.UpdatedAt,
	})

	return wf, nil
}

// checkTransition enforces the fixed order and its evidence
// preconditions. target is never idle here (resets are handled earlier).
func checkTransition(w *state.Workflow, target state.Phase) error {
	if !target.Valid() {
		return &IllegalTransitionError{
			ID: w.ID, From: w.Phase, To: target,
			Reason: "unknown phase",
		}
	}

	next, ok := w.Phase.Next()
	if !ok || target != next {
		return &IllegalTransitionError{
			ID: w.ID, From: w.Phase, To: target,
			Reason:      fmt.Sprintf("phases advance one step at a time; next is %q", next),
			NextCommand: fmt.Sprintf("specgate advance %s %s", w.ID, next),
		}
	}

	switch target {
	case state.PhaseTDDRed:
		if !w.Approved {
			return &IllegalTransitionError{
				ID: w.ID, From: w.Phase, To: target,
				Reason:      "spec is not approved",
				NextCommand: fmt.Sprintf("specgate approve %s", w.ID),
			}
		}
	case state.PhaseImplement:
		if !w.RedTestDone {
			return &IllegalTransitionError{
				ID: w.ID, From: w.Phase, To: target,
				Reason:      "no red-test evidence attached",
				NextCommand: fmt.Sprintf("specgate add-artifact %s log <path> <description> --result failing", w.ID),
			}
		}
		if w.RedTestResult != state.TestFailing {
			// A red test that already passes is not exercising new
			// behavior.
			return &IllegalTransitionError{
				ID: w.ID, From: w.Phase, To: target,
				Reason:      fmt.Sprintf("red test recorded as %q, must be failing before implementation", w.RedTestResult),
				NextCommand: fmt.Sprintf("specgate add-artifact %s log <path> <description> --result failing", w.ID),
			}
		}
	case state.PhaseValidate:
		if !w.GreenTestDone || w.GreenTestResult != state.TestPassing {
			return &IllegalTransitionError{
				ID: w.ID, From: w.Phase, To: target,
				Reason:      "no passing green-test evidence attached",
				NextCommand: fmt.Sprintf("specgate add-artifact %s log <path> <description> --result passing", w.ID),
			}
		}
	case state.PhaseComplete:
		if w.SpecType == SpecTypeUI && !hasScreenshotAt(w, state.PhaseValidate) {
			return &IllegalTransitionError{
				ID: w.ID, From: w.Phase, To: target,
				Reason:      "ui workflows need a validation screenshot before completion",
				NextCommand: fmt.Sprintf("specgate add-artifact %s screenshot <path> <description>", w.ID),
			}
		}
	}
	return nil
}

func hasScreenshotAt(w *state.Workflow, phase state.Phase) bool {
	for _, a := range w.ArtifactsAt(phase) {
		if a.Type == state.ArtifactScreenshot {
			return true
		}
	}
	return false
}

func (s *service) deriveUnlessOverridden(w *state.Workflow) {
	if !w.BacklogOverride {
		w.BacklogStatus = w.DerivedBacklogStatus()
	}
}

// Approve records spec approval.
func (s *service) Approve(ctx context.Context, id string) (err error) {
	ctx, span := s.tracer.Start(ctx, "workflow.approve")
	defer span.End()
	defer func() { s.recordOp(ctx, "approve", err) }()

	span.SetAttributes(attribute.String("workflow_id", id))

	_, err = s.mutate(ctx, func(gs *state.GlobalState) error {
		w, ok := gs.Workflows[id]
		if !ok {
			return &UnknownWorkflowError{ID: id}
		}
		if w.Phase != state.PhaseSpec {
			return &IllegalTransitionError{
				ID: id, From: w.Phase, To: w.Phase,
				Reason:      fmt.Sprintf("approval is only legal at phase %q", state.PhaseSpec),
				NextCommand: fmt.Sprintf("specgate advance %s <phase> until the workflow reaches spec", id),
			}
		}
		w.Approved = true
		w.UpdatedAt = s.now()
		s.deriveUnlessOverridden(w)
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return err
	}

	s.logger.Info("approved spec", zap.String("id", id))
	return nil
}

// SetSpec records the spec path and type.
func (s *service) SetSpec(ctx context.Context, id, specPath, specType string) (err error) {
	ctx, span := s.tracer.Start(ctx, "workflow.set_spec")
	defer span.End()
	defer func() { s.recordOp(ctx, "set_spec", err) }()

	span.SetAttributes(
		attribute.String("workflow_id", id),
		attribute.String("spec_path", specPath),
	)

	if specPath == "" {
		return errors.New("spec path is required")
	}
	if specType == "" {
		specType = "code"
	}

	_, err = s.mutate(ctx, func(gs *state.GlobalState) error {
		w, ok := gs.Workflows[id]
		if !ok {
			return &UnknownWorkflowError{ID: id}
		}
		if w.Phase.AtLeast(state.PhaseApproved) {
			return &IllegalTransitionError{
				ID: id, From: w.Phase, To: w.Phase,
				Reason: "the spec is fixed once approval is reached; reset to idle to change it",
			}
		}
		w.SpecPath = specPath
		w.SpecType = specType
		w.UpdatedAt = s.now()
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return err
	}

	s.logger.Info("recorded spec",
		zap.String("id", id),
		zap.String("path", specPath),
		zap.String("type", specType),
	)
	return nil
}

// AttachArtifact validates and appends evidence.
func (s *service) AttachArtifact(ctx context.Context, id string, candidate *artifact.Candidate) (a *state.Artifact, err error) {
	ctx, span := s.tracer.Start(ctx, "workflow.attach_artifact")
	defer span.End()
	defer func() { s.recordOp(ctx, "attach_artifact", err) }()

	span.SetAttributes(attribute.String("workflow_id", id))

	if candidate == nil {
		return nil, errors.New("nil candidate")
	}

	var minted *state.Artifact
	_, err = s.mutate(ctx, func(gs *state.GlobalState) error {
		w, ok := gs.Workflows[id]
		if !ok {
			return &UnknownWorkflowError{ID: id}
		}

		c := *candidate
		if c.Phase == "" {
			c.Phase = w.Phase
		}
		if c.CreatedAt.IsZero() {
			c.CreatedAt = s.now()
		}

		validated, verr := s.validator.Validate(&c, s.now())
		if verr != nil {
			return verr
		}

		w.Artifacts = append(w.Artifacts, *validated)
		// Readiness flags move only when the evidence belongs to the
		// phase the workflow is actually in.
		if validated.Phase == w.Phase {
			switch w.Phase {
			case state.PhaseTDDRed:
				w.RedTestDone = true
				w.RedTestResult = validated.TestResult
			case state.PhaseImplement:
				w.GreenTestDone = true
				w.GreenTestResult = validated.TestResult
			}
		}
		w.UpdatedAt = s.now()
		minted = validated
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	s.logger.Info("attached artifact",
		zap.String("id", id),
		zap.String("artifact_id", minted.ID),
		zap.String("type", string(minted.Type)),
		zap.String("phase", string(minted.Phase)),
	)
	return minted, nil
}

// SetBacklogStatus sets an explicit status override.
func (s *service) SetBacklogStatus(ctx context.Context, id string, status state.BacklogStatus) (err error) {
	ctx, span := s.tracer.Start(ctx, "workflow.set_backlog_status")
	defer span.End()
	defer func() { s.recordOp(ctx, "set_backlog_status", err) }()

	span.SetAttributes(
		attribute.String("workflow_id", id),
		attribute.String("status", string(status)),
	)

	if _, perr := state.ParseBacklogStatus(string(status)); perr != nil {
		return perr
	}

	gs, err := s.mutate(ctx, func(gs *state.GlobalState) error {
		w, ok := gs.Workflows[id]
		if !ok {
			return &UnknownWorkflowError{ID: id}
		}
		w.BacklogStatus = status
		w.BacklogOverride = true
		w.UpdatedAt = s.now()
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return err
	}

	s.logger.Info("set backlog status",
		zap.String("id", id),
		zap.String("status", string(status)),
	)
	s.publisher.PublishBacklog(events.BacklogEvent{
		WorkflowID:    id,
		BacklogStatus: status,
		Override:      true,
		Version:       gs.Version,
		Timestamp:     s.now(),
	})
	return nil
}

// Pause derives a paused status from the current phase and applies it as
// an explicit override.
func (s *service) Pause(ctx context.Context, id, utterance string) (status state.BacklogStatus, err error) {
	ctx, span := s.tracer.Start(ctx, "workflow.pause")
	defer span.End()
	defer func() { s.recordOp(ctx, "pause", err) }()

	span.SetAttributes(attribute.String("workflow_id", id))

	w, err := s.Get(ctx, id)
	if err != nil {
		span.RecordError(err)
		return "", err
	}

	status = pausedStatus(w)
	s.logger.Info("pausing workflow",
		zap.String("id", id),
		zap.String("status", string(status)),
		zap.String("utterance", utterance),
	)

	if err = s.SetBacklogStatus(ctx, id, status); err != nil {
		span.RecordError(err)
		return "", err
	}
	return status, nil
}

// pausedStatus maps the phase a workflow is parked in to its backlog
// label.
func pausedStatus(w *state.Workflow) state.BacklogStatus {
	switch {
	case w.Phase == state.PhaseComplete:
		return state.BacklogDone
	case w.DerivedBacklogStatus() == state.BacklogBlocked:
		return state.BacklogBlocked
	case w.Phase.AtLeast(state.PhaseTDDRed):
		return state.BacklogInProgress
	case w.Phase == state.PhaseApproved, w.Phase == state.PhaseSpec && w.Approved:
		return state.BacklogSpecReady
	default:
		return state.BacklogOpen
	}
}

// DeriveBacklog recomputes the backlog status unless overridden.
func (s *service) DeriveBacklog(ctx context.Context, id string) (status state.BacklogStatus, err error) {
	ctx, span := s.tracer.Start(ctx, "workflow.derive_backlog")
	defer span.End()
	defer func() { s.recordOp(ctx, "derive_backlog", err) }()

	span.SetAttributes(attribute.String("workflow_id", id))

	_, err = s.mutate(ctx, func(gs *state.GlobalState) error {
		w, ok := gs.Workflows[id]
		if !ok {
			return &UnknownWorkflowError{ID: id}
		}
		if w.Phase == state.PhaseComplete {
			w.BacklogStatus = state.BacklogDone
			w.BacklogOverride = false
		} else if !w.BacklogOverride {
			w.BacklogStatus = w.DerivedBacklogStatus()
		}
		status = w.BacklogStatus
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return "", err
	}
	return status, nil
}

// ApplyUtterance classifies free text and dispatches the resulting
// intent.
func (s *service) ApplyUtterance(ctx context.Context, id, text string) (result intent.Intent, err error) {
	ctx, span := s.tracer.Start(ctx, "workflow.apply_utterance")
	defer span.End()
	defer func() { s.recordOp(ctx, "apply_utterance", err) }()

	span.SetAttributes(attribute.String("workflow_id", id))

	result = s.classifier.Classify(text)
	span.SetAttributes(attribute.String("intent", string(result)))

	switch result {
	case intent.IntentApprove:
		err = s.Approve(ctx, id)
	case intent.IntentPause:
		_, err = s.Pause(ctx, id, text)
	}
	if err != nil {
		span.RecordError(err)
		return result, err
	}
	return result, nil
}

// LinkIssue records the GitHub issue mirroring this workflow.
func (s *service) LinkIssue(ctx context.Context, id string, issue int) (err error) {
	ctx, span := s.tracer.Start(ctx, "workflow.link_issue")
	defer span.End()
	defer func() { s.recordOp(ctx, "link_issue", err) }()

	span.SetAttributes(
		attribute.String("workflow_id", id),
		attribute.Int("issue", issue),
	)

	if issue <= 0 {
		return fmt.Errorf("issue number must be positive, got %d", issue)
	}

	_, err = s.mutate(ctx, func(gs *state.GlobalState) error {
		w, ok := gs.Workflows[id]
		if !ok {
			return &UnknownWorkflowError{ID: id}
		}
		w.IssueNumber = issue
		w.UpdatedAt = s.now()
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return err
	}

	s.logger.Info("linked issue", zap.String("id", id), zap.Int("issue", issue))
	return nil
}

// Get returns one workflow.
func (s *service) Get(ctx context.Context, id string) (*state.Workflow, error) {
	_, span := s.tracer.Start(ctx, "workflow.get")
	defer span.End()

	gs, err := s.store.Load()
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	w, ok := gs.Workflows[id]
	if !ok {
		return nil, &UnknownWorkflowError{ID: id}
	}
	return w, nil
}

// List returns every tracked workflow.
func (s *service) List(ctx context.Context) ([]*state.Workflow, error) {
	_, span := s.tracer.Start(ctx, "workflow.list")
	defer span.End()

	gs, err := s.store.Load()
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	out := make([]*state.Workflow, 0, len(gs.Workflows))
	for _, w := range gs.Workflows {
		out = append(out, w)
	}
	return out, nil
}

// Active returns the active workflow, or nil when none is active.
func (s *service) Active(ctx context.Context) (*state.Workflow, error) {
	_, span := s.tracer.Start(ctx, "workflow.active")
	defer span.End()

	gs, err := s.store.Load()
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return gs.Active(), nil
}
