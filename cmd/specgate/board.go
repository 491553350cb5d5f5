package main

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/specgate/internal/board"
	"github.com/fyrsmithlabs/specgate/internal/state"
	"github.com/fyrsmithlabs/specgate/internal/watch"
)

var boardInterval time.Duration

func init() {
	boardCmd.Flags().DurationVar(&boardInterval, "interval", 2*time.Second, "refresh interval")
}

var boardCmd = &cobra.Command{
	Use:   "board",
	Short: "Show the interactive workflow board",
	Long: `Render workflows as backlog columns with the active workflow's phase
progress and recent gate activity. Refreshes automatically; q quits,
r forces a refresh.`,
	Args: cobra.NoArgs,
	RunE: runBoard,
}

func runBoard(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	source := board.NewJournalSource(func() ([]*state.Workflow, string, error) {
		workflows, err := a.workflows.List(ctx)
		if err != nil {
			return nil, "", err
		}
		active, err := a.workflows.Active(ctx)
		if err != nil {
			return nil, "", err
		}
		activeID := ""
		if active != nil {
			activeID = active.ID
		}
		return workflows, activeID, nil
	}, a.gate.Journal(), time.Minute)

	program := tea.NewProgram(board.NewModel(source, boardInterval), tea.WithAltScreen())
	_, err = program.Run()
	return err
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow workflow state changes",
	Long: `Print a line for every observed change to the workflow state
document, including changes made by other processes. Runs until
interrupted.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	watcher, err := watch.NewWatcher(a.store, a.logger)
	if err != nil {
		return err
	}
	defer watcher.Stop()

	if err := watcher.Start(ctx); err != nil {
		return err
	}
	fmt.Printf("Watching %s (Ctrl-C to stop)\n", a.store.Path())

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-watcher.Events():
			active := ev.ActiveID
			if active == "" {
				active = "-"
			}
			phase := string(ev.Phase)
			if phase == "" {
				phase = "-"
			}
			fmt.Printf("%s  version=%d active=%s phase=%s workflows=%d\n",
				ev.At.Format("15:04:05"), ev.Version, active, phase, ev.Workflows)
		}
	}
}
