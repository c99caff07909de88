package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dmarchetti/crewd/pkg/crewd/config"
	"github.com/dmarchetti/crewd/pkg/crewd/team"
)

// newTeamCreateCmd creates the `crewd teamcreate` command: session layout
// on disk, team shape in config.yaml, members registered in the bus.
func newTeamCreateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "teamcreate <session>",
		Short: "Create a session with a lead, workers, and a utility agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			session := args[0]
			if err := config.ValidateSessionName(session); err != nil {
				return &UsageError{Err: err}
			}
			cfg, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			logger := newLogger(cmd, cfg)

			desc, _ := cmd.Flags().GetString("desc")
			workers, err := workerCount(cmd, desc)
			if err != nil {
				return err
			}

			paths := config.NewSessionPaths(cfg.StateDir, session)
			if paths.Exists() {
				return usageErrf("session %q already exists; delete it with: crewd teamdelete %s", session, session)
			}
			if err := paths.Ensure(); err != nil {
				return fmt.Errorf("create session layout: %w", err)
			}

			tc, err := team.Build(session, workers, desc)
			if err != nil {
				return &UsageError{Err: err}
			}
			if err := team.Save(paths.TeamConfig(), tc); err != nil {
				return err
			}

			store, _, err := openSession(cfg, session, logger)
			if err != nil {
				return err
			}
			defer store.Close()
			if err := syncRoomMembers(store, session, nil, tc.Members); err != nil {
				return err
			}

			fmt.Printf("session %s created: %d workers + lead + utility\n", session, workers)
			fmt.Printf("next: crewd up %s \"<task>\"\n", session)
			return nil
		},
	}
	cmd.Flags().String("workers", "auto", "worker count (2-4) or auto to size from --desc")
	cmd.Flags().String("desc", "", "what this crew is for; also feeds auto sizing")
	return cmd
}

// workerCount resolves the --workers flag, sizing from the description
// when set to auto.
func workerCount(cmd *cobra.Command, desc string) (int, error) {
	raw, _ := cmd.Flags().GetString("workers")
	return workerCountFrom(raw, desc)
}
