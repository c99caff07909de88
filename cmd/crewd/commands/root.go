// Package commands implements the crewd CLI using cobra.
package commands

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/dmarchetti/crewd/pkg/crewd/bus"
	"github.com/dmarchetti/crewd/pkg/crewd/config"
)

// NewRootCmd creates the root command with all subcommands registered.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "crewd",
		Short: "crewd - control plane for a crew of coding agents",
		Long: `crewd coordinates a small crew of coding agents working one repository:
a durable message bus with per-agent mailboxes, approval-style control
requests, git-worktree workspaces, and a tmux/process/hub backend.

Examples:
  crewd init
  crewd teamcreate sprint-42 --workers auto --desc "login flow"
  crewd up sprint-42 "build the login flow end to end"
  crewd tail sprint-42 --follow
  crewd sendmessage sprint-42 --type shutdown --from lead --to worker-2`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Both feature gates must be on for anything beyond init/help.
			if gateExempt(cmd) {
				return nil
			}
			return config.CheckGates()
		},
	}

	rootCmd.AddCommand(
		newInitCmd(),
		newTeamCreateCmd(),
		newUpCmd(),
		newStatusCmd(),
		newSendMessageCmd(),
		newInboxCmd(),
		newTailCmd(),
		newConsoleCmd(),
		newTeamDeleteCmd(),
		newAgentCmd(),
		newHubCmd(),
	)

	rootCmd.PersistentFlags().StringP("config", "c", "crewd.yaml", "path to the config file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logs")

	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return &UsageError{Err: err}
	})

	return rootCmd
}

// UsageError marks a validation failure so main exits 2 instead of 1.
// Environment and precondition failures stay plain errors (exit 1).
type UsageError struct{ Err error }

func (e *UsageError) Error() string { return e.Err.Error() }
func (e *UsageError) Unwrap() error { return e.Err }

func usageErrf(format string, a ...any) error {
	return &UsageError{Err: fmt.Errorf(format, a...)}
}

// ExitCode maps an Execute error to the process exit code.
func ExitCode(err error) int {
	var uerr *UsageError
	if errors.As(err, &uerr) {
		return 2
	}
	return 1
}

// gateExempt reports whether a command runs without the feature gates.
func gateExempt(cmd *cobra.Command) bool {
	switch cmd.Name() {
	case "init", "help", "completion", "version", cobra.ShellCompRequestCmd, cobra.ShellCompNoDescRequestCmd:
		return true
	}
	return false
}

// resolveConfig loads crewd.yaml honoring the --config flag.
func resolveConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, &UsageError{Err: err}
	}
	return cfg, nil
}

// newLogger builds the slog logger for one command invocation.
func newLogger(cmd *cobra.Command, cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose || cfg.Logging.Level == "debug" {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

// openSession opens the bus store of an existing session. Missing sessions
// are an environment error carrying the command that creates them.
func openSession(cfg *config.Config, session string, logger *slog.Logger) (*bus.Store, config.SessionPaths, error) {
	if err := config.ValidateSessionName(session); err != nil {
		return nil, config.SessionPaths{}, &UsageError{Err: err}
	}
	paths := config.NewSessionPaths(cfg.StateDir, session)
	if !paths.Exists() {
		return nil, paths, fmt.Errorf("session %q does not exist; run: crewd teamcreate %s", session, session)
	}
	store, err := bus.Open(paths.Database(), logger)
	if err != nil {
		return nil, paths, fmt.Errorf("open session %q: %w", session, err)
	}
	store.SetMirrorDir(paths.InboxDir())
	return store, paths, nil
}
