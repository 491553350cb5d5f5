package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/specgate/internal/hook"
)

var settingsPath string

func init() {
	installHooksCmd.Flags().StringVar(&settingsPath, "settings", "", "Claude Code settings file (default: ~/.claude/settings.json)")
}

var checkCmd = &cobra.Command{
	Use:   "check <path>",
	Short: "Ask the phase gate whether a path may be edited",
	Long: `Evaluate a file path against the gate. Allowed paths exit 0; blocked
paths print the remediation message on stderr and exit 2. Exit 2 is
reserved for gate blocks so callers can distinguish policy from failure.

Examples:
  # Gate a protected source file
  specgate check src/Login.swift`,
	Args: cobra.ExactArgs(1),
	RunE: runCheck,
}

func runCheck(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	decision := a.gate.Check(ctx, args[0])
	if decision.Allowed {
		fmt.Printf("allow (%s)\n", decision.Reason)
		return nil
	}

	fmt.Fprintln(os.Stderr, decision.Message)
	cmd.SilenceErrors = true
	return errBlocked
}

var hookCmd = &cobra.Command{
	Use:   "hook",
	Short: "Run as a Claude Code PreToolUse hook",
	Long: `Read one PreToolUse event from stdin and gate the file path it
carries. Events without a file path are allowed. Blocks exit 2 with the
remediation message on stderr, which Claude Code feeds back to the model.

Install with: specgate install-hooks`,
	Args: cobra.NoArgs,
	RunE: runHook,
}

func runHook(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	runner, err := hook.NewRunner(a.gate, a.logger)
	if err != nil {
		return err
	}

	decision := runner.Run(ctx, os.Stdin)
	if decision.Allowed {
		return nil
	}

	fmt.Fprintln(os.Stderr, decision.Message)
	cmd.SilenceErrors = true
	return errBlocked
}

var installHooksCmd = &cobra.Command{
	Use:   "install-hooks",
	Short: "Register the PreToolUse hook in Claude Code settings",
	Long: `Add a PreToolUse hook entry for Edit, Write, and MultiEdit tools to
the Claude Code settings file. Existing settings are preserved and the
install is idempotent.`,
	Args: cobra.NoArgs,
	RunE: runInstallHooks,
}

func runInstallHooks(cmd *cobra.Command, args []string) error {
	path := settingsPath
	if path == "" {
		var err error
		path, err = hook.DefaultSettingsPath()
		if err != nil {
			return err
		}
	}

	if err := hook.Install(path, ""); err != nil {
		return err
	}
	fmt.Printf("PreToolUse hook installed in %s\n", path)
	return nil
}
