package gate

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/specgate/internal/state"
)

// StagingEnvVar relaxes secrets-only protections when set to "1".
// Approval and TDD gating are never relaxed.
const StagingEnvVar = "SPECGATE_STAGING"

// StagingMarkerFile enables staging mode when present in the project
// root.
const StagingMarkerFile = ".specgate-staging"

// SpecTypeSecrets marks rules that staging mode may skip.
const SpecTypeSecrets = "secrets"

// Reason is the machine-readable ground for a decision.
type Reason string

const (
	ReasonAlwaysAllowed    Reason = "always-allowed"
	ReasonUnprotected      Reason = "unprotected"
	ReasonWorkflowReady    Reason = "workflow-ready"
	ReasonStagingBypass    Reason = "staging-bypass"
	ReasonNoActiveWorkflow Reason = "no-active-workflow"
	ReasonSpecMissing      Reason = "spec-missing"
	ReasonSpecNotApproved  Reason = "spec-not-approved"
	ReasonTDDRedMissing    Reason = "tdd-red-missing"
	ReasonInternalError    Reason = "internal-error"
)

// Decision is the tagged result of one gate check.
type Decision struct {
	Allowed  bool
	Reason   Reason
	Message  string
	SpecType string // from the matched protected rule, empty otherwise
}

// Allow builds an allowing decision.
func Allow(reason Reason, message string) Decision {
	return Decision{Allowed: true, Reason: reason, Message: message}
}

// Block builds a blocking decision.
func Block(reason Reason, message string) Decision {
	return Decision{Allowed: false, Reason: reason, Message: message}
}

// Config carries the path classification tables and staging switches.
type Config struct {
	ProtectedPathRules    []state.PathRule
	AlwaysAllowedPatterns []string

	// ProjectRoot hosts the staging marker file lookup. Empty means the
	// current directory.
	ProjectRoot string

	// JournalPath overrides the decision journal location; empty uses
	// the default, "off" disables journaling.
	JournalPath string
}

// Gate evaluates file actions against the active workflow's state.
type Gate struct {
	config  *Config
	store   *state.Store
	journal *Journal
	logger  *zap.Logger
	checks  *prometheus.CounterVec
}

// NewGate builds a gate over the given store. Rules from the persisted
// document are consulted after the configured ones, so a project can pin
// policy in config while tooling appends rules to the document.
func NewGate(cfg *Config, store *state.Store, logger *zap.Logger) (*Gate, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	if store == nil {
		return nil, fmt.Errorf("state store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	g := &Gate{
		config: cfg,
		store:  store,
		logger: logger,
		checks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "specgate_gate_checks_total",
			Help: "Gate checks by decision and reason.",
		}, []string{"decision", "reason"}),
	}

	if cfg.JournalPath != "off" {
		g.journal = NewJournal(cfg.JournalPath, logger)
	}

	return g, nil
}

// Collector exposes the check counter for registration with a metrics
// registry.
func (g *Gate) Collector() prometheus.Collector { return g.checks }

// Journal returns the decision journal (nil when disabled).
func (g *Gate) Journal() *Journal { return g.journal }

// Check decides whether an action on path may proceed. Internal errors
// block; the gate never fails open.
func (g *Gate) Check(ctx context.Context, target string) Decision {
	decision := g.decide(target)

	g.checks.With(prometheus.Labels{
		"decision": decisionLabel(decision),
		"reason":   string(decision.Reason),
	}).Inc()

	g.logger.Debug("gate check",
		zap.String("path", target),
		zap.Bool("allowed", decision.Allowed),
		zap.String("reason", string(decision.Reason)),
	)

	g.journal.Append(Record{
		Timestamp: time.Now(),
		Path:      target,
		Decision:  decisionLabel(decision),
		Reason:    decision.Reason,
	})

	return decision
}

func (g *Gate) decide(target string) Decision {
	normalized := normalizePath(target)

	for _, pattern := range g.config.AlwaysAllowedPatterns {
		if matchPattern(pattern, normalized) {
			return Allow(ReasonAlwaysAllowed, fmt.Sprintf("%s matches always-allowed pattern %q", target, pattern))
		}
	}

	// One load serves both rule matching and the workflow check. Fail
	// closed: an unreadable document must never unlock an edit.
	gs, err := g.store.Load()
	if err != nil {
		g.logger.Error("gate state load failed, blocking", zap.Error(err))
		return Block(ReasonInternalError, "workflow state is unreadable; edits to protected paths are blocked until it is repaired")
	}

	// Document always-allowed patterns rank with the configured ones,
	// gated behind a successful load so corrupt state cannot widen them.
	for _, pattern := range gs.AlwaysAllowedPatterns {
		if matchPattern(pattern, normalized) {
			return Allow(ReasonAlwaysAllowed, fmt.Sprintf("%s matches always-allowed pattern %q", target, pattern))
		}
	}

	rule, matched := matchProtected(normalized, g.config.ProtectedPathRules, gs.ProtectedPathRules)
	if !matched {
		return Allow(ReasonUnprotected, fmt.Sprintf("%s is not under any protected path rule", target))
	}

	if rule.SpecType == SpecTypeSecrets && g.stagingEnabled() {
		return Decision{
			Allowed:  true,
			Reason:   ReasonStagingBypass,
			Message:  fmt.Sprintf("staging mode: secrets rule %q skipped for %s", rule.Pattern, target),
			SpecType: rule.SpecType,
		}
	}

	d := checkWorkflow(gs.Active(), target)
	d.SpecType = rule.SpecType
	return d
}

// checkWorkflow applies the approval and TDD preconditions to a matched
// protected path. The two pre-tdd_red block reasons stay distinct so the
// caller can show the correct next command.
func checkWorkflow(w *state.Workflow, target string) Decision {
	if w == nil {
		return Block(ReasonNoActiveWorkflow,
			fmt.Sprintf("%s is protected and no workflow is active: run 'specgate start <id>'", target))
	}
	if w.SpecPath == "" {
		return Block(ReasonSpecMissing,
			fmt.Sprintf("%s is protected and workflow %q has no spec recorded: run 'specgate set-spec %s <path>'", target, w.ID, w.ID))
	}
	if !w.Approved {
		return Block(ReasonSpecNotApproved,
			fmt.Sprintf("%s is protected and the spec for %q is not approved: run 'specgate approve %s'", target, w.ID, w.ID))
	}
	if !w.Phase.AtLeast(state.PhaseTDDRed) {
		return Block(ReasonTDDRedMissing,
			fmt.Sprintf("%s is protected and workflow %q has no failing red test yet: run 'specgate add-artifact %s log <path> <description> --result failing' then 'specgate advance %s tdd_red'", target, w.ID, w.ID, w.ID))
	}
	return Allow(ReasonWorkflowReady,
		fmt.Sprintf("workflow %q is at %s with an approved spec and red-test evidence", w.ID, w.Phase))
}

// matchProtected finds the first protected rule covering the path,
// config rules before document rules.
func matchProtected(normalized string, ruleSets ...[]state.PathRule) (state.PathRule, bool) {
	for _, rules := range ruleSets {
		for _, rule := range rules {
			if matchPattern(rule.Pattern, normalized) {
				return rule, true
			}
		}
	}
	return state.PathRule{}, false
}

func (g *Gate) stagingEnabled() bool {
	if os.Getenv(StagingEnvVar) == "1" {
		return true
	}
	root := g.config.ProjectRoot
	if root == "" {
		root = "."
	}
	_, err := os.Stat(filepath.Join(root, StagingMarkerFile))
	return err == nil
}

func decisionLabel(d Decision) string {
	if d.Allowed {
		return "allow"
	}
	return "block"
}
