package commands

import (
	"context"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dmarchetti/crewd/pkg/crewd/agent"
	"github.com/dmarchetti/crewd/pkg/crewd/control"
)

// newAgentCmd creates the internal `crewd agent` runner launched by the
// supervisor inside each pane or process.
func newAgentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:    "agent",
		Short:  "Run one agent's poll loop (internal)",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			session, _ := cmd.Flags().GetString("session")
			name, _ := cmd.Flags().GetString("name")
			if session == "" || name == "" {
				return usageErrf("agent runner needs --session and --name")
			}
			role := os.Getenv("CREWD_ROLE")
			if role == "" {
				role = "worker"
			}

			cfg, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			logger := newLogger(cmd, cfg)

			store, paths, err := openSession(cfg, session, logger)
			if err != nil {
				return err
			}
			defer store.Close()
			proto := control.New(store, paths.ControlMirror(), logger)

			a := agent.New(name, role, session, store, proto, agent.Options{
				Interval: cfg.PollInterval.Std(),
				Schedule: cfg.HeartbeatSchedule,
				Runner:   shellRunner(),
			}, logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return a.Run(ctx)
		},
	}
	cmd.Flags().String("session", "", "session this agent belongs to")
	cmd.Flags().String("name", "", "agent name")
	return cmd
}

// shellRunner builds a Runner around the executable named by
// AGENT_EXECUTABLE, feeding the prompt over stdin. Unset means tasks are
// acknowledged and left to the pane operator.
func shellRunner() agent.Runner {
	exe := os.Getenv("AGENT_EXECUTABLE")
	if exe == "" {
		return nil
	}
	return agent.RunnerFunc(func(ctx context.Context, prompt string) error {
		run := exec.CommandContext(ctx, exe)
		run.Stdin = strings.NewReader(prompt)
		run.Stdout = os.Stdout
		run.Stderr = os.Stderr
		return run.Run()
	})
}
