package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/specgate/internal/artifact"
	"github.com/fyrsmithlabs/specgate/internal/ghsync"
	"github.com/fyrsmithlabs/specgate/internal/state"
)

var (
	startIssue      int
	statusJSON      bool
	advanceSpecPath string
	advanceSpecType string
	setSpecType     string
	artifactResult  string
	backlogSync     bool
)

func init() {
	startCmd.Flags().IntVar(&startIssue, "issue", 0, "GitHub issue number to link")
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print the workflow as JSON")
	advanceCmd.Flags().StringVar(&advanceSpecPath, "spec-path", "", "record the spec path before advancing")
	advanceCmd.Flags().StringVar(&advanceSpecType, "spec-type", "", "record the spec type before advancing")
	setSpecCmd.Flags().StringVar(&setSpecType, "type", "", "spec type (e.g. code, ui)")
	addArtifactCmd.Flags().StringVar(&artifactResult, "result", "", "test result carried by the evidence (failing or passing)")
	backlogCmd.Flags().BoolVar(&backlogSync, "sync", false, "mirror the status to the linked GitHub issue")
}

var startCmd = &cobra.Command{
	Use:   "start <id>",
	Short: "Create a workflow and make it active",
	Long: `Create a workflow at phase idle and move the active pointer to it.

Starting an existing dormant workflow without history is idempotent;
starting one that has progressed is an error.

Examples:
  # Start a workflow
  specgate start login-screen

  # Start and link the mirroring GitHub issue
  specgate start login-screen --issue 42`,
	Args: cobra.ExactArgs(1),
	RunE: runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	w, err := a.workflows.Start(ctx, args[0])
	if err != nil {
		return err
	}
	if startIssue > 0 {
		if err := a.workflows.LinkIssue(ctx, w.ID, startIssue); err != nil {
			return err
		}
	}

	fmt.Printf("Started workflow %s (phase: %s)\n", w.ID, w.Phase)
	return nil
}

var switchCmd = &cobra.Command{
	Use:   "switch <id>",
	Short: "Make another workflow the active one",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close(ctx)

		if err := a.workflows.Switch(ctx, args[0]); err != nil {
			return err
		}
		fmt.Printf("Active workflow: %s\n", args[0])
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all workflows",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

func runList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	workflows, err := a.workflows.List(ctx)
	if err != nil {
		return err
	}
	if len(workflows) == 0 {
		fmt.Println("No workflows. Start one with: specgate start <id>")
		return nil
	}

	active, err := a.workflows.Active(ctx)
	if err != nil {
		return err
	}
	activeID := ""
	if active != nil {
		activeID = active.ID
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, " \tID\tPHASE\tBACKLOG\tAPPROVED\tARTIFACTS")
	for _, w := range workflows {
		marker := " "
		if w.ID == activeID {
			marker = "*"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\t%d\n",
			marker, w.ID, w.Phase, w.BacklogStatus, w.Approved, len(w.Artifacts))
	}
	return tw.Flush()
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the active workflow",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	w, err := a.workflows.Active(ctx)
	if err != nil {
		return err
	}
	if w == nil {
		return fmt.Errorf("no active workflow (run: specgate start <id>)")
	}

	if statusJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(w)
	}

	fmt.Printf("Workflow:  %s\n", w.ID)
	fmt.Printf("Phase:     %s\n", w.Phase)
	fmt.Printf("Backlog:   %s", w.BacklogStatus)
	if w.BacklogOverride {
		fmt.Printf(" (explicit)")
	}
	fmt.Println()
	if w.SpecPath != "" {
		fmt.Printf("Spec:      %s (%s)\n", w.SpecPath, w.SpecType)
	}
	fmt.Printf("Approved:  %t\n", w.Approved)
	fmt.Printf("Red test:  %s\n", testState(w.RedTestDone, w.RedTestResult))
	fmt.Printf("Green test: %s\n", testState(w.GreenTestDone, w.GreenTestResult))
	if w.IssueNumber > 0 {
		fmt.Printf("Issue:     #%d\n", w.IssueNumber)
	}
	fmt.Printf("Artifacts: %d\n", len(w.Artifacts))
	return nil
}

func testState(done bool, result state.TestResult) string {
	if !done {
		return "missing"
	}
	return string(result)
}

var advanceCmd = &cobra.Command{
	Use:   "advance <id> <phase>",
	Short: "Advance a workflow to its next phase",
	Long: `Advance a workflow to the named phase. Only the immediate successor
phase is legal, plus an explicit reset back to idle.

Examples:
  # Step forward
  specgate advance login-screen context

  # Record the spec while entering the spec phase
  specgate advance login-screen spec --spec-path specs/login.md --spec-type ui`,
	Args: cobra.ExactArgs(2),
	RunE: runAdvance,
}

func runAdvance(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	target, err := state.ParsePhase(args[1])
	if err != nil {
		return err
	}

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	if advanceSpecPath != "" {
		if err := a.workflows.SetSpec(ctx, args[0], advanceSpecPath, advanceSpecType); err != nil {
			return err
		}
	}

	w, err := a.workflows.Advance(ctx, args[0], target)
	if err != nil {
		return err
	}
	fmt.Printf("Workflow %s is now at phase %s\n", w.ID, w.Phase)
	return nil
}

var approveCmd = &cobra.Command{
	Use:   "approve <id>",
	Short: "Record spec approval",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close(ctx)

		if err := a.workflows.Approve(ctx, args[0]); err != nil {
			return err
		}
		fmt.Printf("Spec approved for %s (next: specgate advance %s approved)\n", args[0], args[0])
		return nil
	},
}

var setSpecCmd = &cobra.Command{
	Use:   "set-spec <id> <path>",
	Short: "Record the spec path and type",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close(ctx)

		if err := a.workflows.SetSpec(ctx, args[0], args[1], setSpecType); err != nil {
			return err
		}
		fmt.Printf("Spec recorded for %s: %s\n", args[0], args[1])
		return nil
	},
}

var addArtifactCmd = &cobra.Command{
	Use:   "add-artifact <id> <type> <path> <description>",
	Short: "Validate and attach evidence to a workflow",
	Long: `Attach evidence (screenshot, log, api-response, document) after
running it through the authenticity rules. A failing candidate reports
every violation at once.

Examples:
  # Attach a failing red-test log during tdd_red
  specgate add-artifact login-screen log test-output.log "login test, red" --result failing

  # Attach a validation screenshot
  specgate add-artifact login-screen screenshot shots/login.png "login form rendered"`,
	Args: cobra.ExactArgs(4),
	RunE: runAddArtifact,
}

func runAddArtifact(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	candidate := &artifact.Candidate{
		Type:        state.ArtifactType(args[1]),
		Path:        args[2],
		Description: args[3],
	}
	if artifactResult != "" {
		tr, err := state.ParseTestResult(artifactResult)
		if err != nil {
			return err
		}
		candidate.TestResult = tr
	}

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	attached, err := a.workflows.AttachArtifact(ctx, args[0], candidate)
	if err != nil {
		return err
	}
	fmt.Printf("Attached %s %s (id: %s", attached.Type, attached.Path, attached.ID)
	if attached.CommitID != "" {
		fmt.Printf(", commit: %s", attached.CommitID)
	}
	fmt.Println(")")
	return nil
}

var backlogCmd = &cobra.Command{
	Use:   "backlog <id> <status>",
	Short: "Set an explicit backlog status",
	Long: `Override the derived backlog status (open, spec_ready, in_progress,
done, blocked). The override sticks until the workflow completes.

With --sync the status is also mirrored to the linked GitHub issue as a
status:<value> label; github.owner, github.repo, and github.token must be
configured.`,
	Args: cobra.ExactArgs(2),
	RunE: runBacklog,
}

func runBacklog(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	status, err := state.ParseBacklogStatus(args[1])
	if err != nil {
		return err
	}

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	if err := a.workflows.SetBacklogStatus(ctx, args[0], status); err != nil {
		return err
	}
	fmt.Printf("Backlog status for %s: %s\n", args[0], status)

	if !backlogSync {
		return nil
	}
	syncer, err := ghsync.New(ctx, a.cfg.GitHub, a.logger)
	if err != nil {
		return err
	}
	w, err := a.workflows.Get(ctx, args[0])
	if err != nil {
		return err
	}
	if err := syncer.SyncWorkflow(ctx, w); err != nil {
		return fmt.Errorf("sync issue labels: %w", err)
	}
	if w.IssueNumber > 0 {
		fmt.Printf("Synced status:%s to issue #%d\n", status, w.IssueNumber)
	} else {
		fmt.Println("No linked issue; nothing to sync (link one with: specgate start --issue)")
	}
	return nil
}

var pauseCmd = &cobra.Command{
	Use:   "pause <id> <utterance>",
	Short: "Pause a workflow with a status derived from its phase",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close(ctx)

		status, err := a.workflows.Pause(ctx, args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Printf("Paused %s (backlog: %s)\n", args[0], status)
		return nil
	},
}

var interpretCmd = &cobra.Command{
	Use:   "interpret <id> <utterance>",
	Short: "Classify free text and apply the resulting intent",
	Long: `Classify an utterance against the phrase table (approve, pause, or
nothing) and dispatch the matched intent on the workflow. Negated phrases
such as "not approved" match nothing.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close(ctx)

		result, err := a.workflows.ApplyUtterance(ctx, args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Printf("Intent: %s\n", result)
		return nil
	},
}
