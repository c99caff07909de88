package commands

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dmarchetti/crewd/pkg/crewd/agent"
	"github.com/dmarchetti/crewd/pkg/crewd/control"
	"github.com/dmarchetti/crewd/pkg/crewd/team"
)

// newHubCmd creates the internal `crewd hub` runner: one process hosting
// every non-lead member's loop for the shared-hub backend.
func newHubCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:    "hub",
		Short:  "Run all agent loops in one process (internal)",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			session, _ := cmd.Flags().GetString("session")
			if session == "" {
				return usageErrf("hub runner needs --session")
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

			tc, err := team.Load(paths.TeamConfig())
			if err != nil {
				return err
			}
			proto := control.New(store, paths.ControlMirror(), logger)

			hub := agent.NewHub(session, store, proto, agent.Options{
				Interval: cfg.PollInterval.Std(),
				Schedule: cfg.HeartbeatSchedule,
				Runner:   shellRunner(),
			}, logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return hub.Run(ctx, tc.Members)
		},
	}
	cmd.Flags().String("session", "", "session this hub hosts")
	return cmd
}
