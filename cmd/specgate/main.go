// Specgate gates file edits behind an approved, test-first workflow.
//
// The binary drives the workflow lifecycle (start, advance, approve,
// evidence attachment), answers gate checks for protected paths, and
// hosts the integration surfaces: the Claude Code PreToolUse hook, an
// MCP stdio server, an HTTP API, and an interactive board.
//
// Configuration is loaded from .specgate.yaml at the project root with
// SPECGATE_ environment overrides. See internal/config for details.
//
// Usage:
//
//	# Start and activate a workflow
//	specgate start login-screen
//
//	# Gate a path (exit 2 on block)
//	specgate check src/Login.swift
//
//	# Serve the HTTP API
//	specgate serve --port 8632
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/specgate/internal/artifact"
	"github.com/fyrsmithlabs/specgate/internal/config"
	"github.com/fyrsmithlabs/specgate/internal/events"
	"github.com/fyrsmithlabs/specgate/internal/gate"
	"github.com/fyrsmithlabs/specgate/internal/intent"
	"github.com/fyrsmithlabs/specgate/internal/logging"
	"github.com/fyrsmithlabs/specgate/internal/state"
	"github.com/fyrsmithlabs/specgate/internal/telemetry"
	"github.com/fyrsmithlabs/specgate/internal/version"
	"github.com/fyrsmithlabs/specgate/internal/workflow"
)

// defaultStatePath is the project-relative workflow state document.
const defaultStatePath = ".specgate/workflow_state.json"

// errBlocked marks a gate block so main can map it to exit code 2.
// Every other error exits 1.
var errBlocked = errors.New("blocked by phase gate")

var projectRoot string

var rootCmd = &cobra.Command{
	Use:   "specgate",
	Short: "Workflow state machine and edit gate for spec-driven development",
	Long: `Specgate tracks feature workflows through a fixed phase sequence
(idle, context, analyse, spec, approved, tdd_red, implement, validate,
complete) and blocks edits to protected paths until the workflow has an
approved spec and a failing red test on record.`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if errors.Is(err, errBlocked) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&projectRoot, "project", ".", "project root directory")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(switchCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(advanceCmd)
	rootCmd.AddCommand(approveCmd)
	rootCmd.AddCommand(setSpecCmd)
	rootCmd.AddCommand(addArtifactCmd)
	rootCmd.AddCommand(backlogCmd)
	rootCmd.AddCommand(pauseCmd)
	rootCmd.AddCommand(interpretCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(hookCmd)
	rootCmd.AddCommand(installHooksCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(mcpCmd)
	rootCmd.AddCommand(boardCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(versionCmd)
}

// app bundles the initialized service stack for one command invocation.
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	telemetry *telemetry.Telemetry
	store     *state.Store
	publisher *events.Publisher
	workflows workflow.Service
	gate      *gate.Gate
}

// newApp loads configuration and builds the full service stack. Every
// command goes through here so config, logging, and telemetry behave
// identically across entry points.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(projectRoot)
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(cfg.Logging, nil)
	if err != nil {
		return nil, fmt.Errorf("initialize logging: %w", err)
	}

	tel := telemetry.New(ctx, cfg.Telemetry, logger)

	store, err := state.NewStore(resolvePath(cfg.State.Path, defaultStatePath), logger)
	if err != nil {
		return nil, err
	}
	if cfg.State.SaveTimeout > 0 {
		store.SetSaveTimeout(time.Duration(cfg.State.SaveTimeout))
	}

	validator, err := artifact.NewValidator(&artifact.Config{
		MinSizeBytes:      cfg.Artifact.MinSizeBytes,
		MaxAge:            time.Duration(cfg.Artifact.MaxAge),
		SecretsScan:       !cfg.Artifact.DisableSecretsScan,
		ProjectRoot:       projectRoot,
		UserAllowlistPath: cfg.Artifact.UserAllowlistPath,
	}, logger)
	if err != nil {
		return nil, err
	}

	classifier := intent.NewClassifier(phraseEntries(cfg.Intent))

	// Events are optional; a broker outage never blocks local state.
	var publisher *events.Publisher
	if cfg.Events.URL != "" {
		publisher, err = events.Connect(cfg.Events.URL, cfg.Events.SubjectPrefix, logger)
		if err != nil {
			logger.Warn("event publishing disabled", zap.Error(err))
			publisher = nil
		}
	}

	workflows, err := workflow.NewService(nil, store, validator, classifier, publisher, logger)
	if err != nil {
		return nil, err
	}

	journalPath := cfg.Gate.JournalPath
	if journalPath == "" {
		journalPath = filepath.Join(projectRoot, gate.DefaultJournalPath)
	}
	g, err := gate.NewGate(&gate.Config{
		ProtectedPathRules:    pathRules(cfg.Gate.ProtectedPathRules),
		AlwaysAllowedPatterns: cfg.Gate.AlwaysAllowedPatterns,
		ProjectRoot:           projectRoot,
		JournalPath:           journalPath,
	}, store, logger)
	if err != nil {
		return nil, err
	}

	return &app{
		cfg:       cfg,
		logger:    logger,
		telemetry: tel,
		store:     store,
		publisher: publisher,
		workflows: workflows,
		gate:      g,
	}, nil
}

// Close flushes telemetry and releases connections. Shutdown gets its
// own deadline so a canceled command context still flushes.
func (a *app) Close(ctx context.Context) {
	a.publisher.Close()

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := a.telemetry.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("telemetry shutdown", zap.Error(err))
	}
	_ = a.logger.Sync()
}

// resolvePath resolves a configured path against the project root,
// falling back to def when unset.
func resolvePath(configured, def string) string {
	if configured == "" {
		configured = def
	}
	if filepath.IsAbs(configured) {
		return configured
	}
	return filepath.Join(projectRoot, configured)
}

func pathRules(rules []config.PathRuleConfig) []state.PathRule {
	out := make([]state.PathRule, 0, len(rules))
	for _, r := range rules {
		out = append(out, state.PathRule{Pattern: r.Pattern, SpecType: r.SpecType})
	}
	return out
}

func phraseEntries(cfg config.IntentConfig) []intent.PhraseEntry {
	out := make([]intent.PhraseEntry, 0, len(cfg.Phrases))
	for _, p := range cfg.Phrases {
		out = append(out, intent.PhraseEntry{
			Locale: p.Locale,
			Phrase: p.Phrase,
			Intent: intent.Intent(p.Intent),
		})
	}
	return out
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("specgate %s\n", version.Version)
		fmt.Printf("  commit: %s\n", version.Commit)
	},
}
