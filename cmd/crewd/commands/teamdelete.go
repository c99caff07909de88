package commands

import (
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/dmarchetti/crewd/pkg/crewd/backend"
	"github.com/dmarchetti/crewd/pkg/crewd/team"
	"github.com/dmarchetti/crewd/pkg/crewd/workspace"
)

// newTeamDeleteCmd creates the `crewd teamdelete` command: release every
// workspace, stop whatever still runs, and remove the session root.
func newTeamDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "teamdelete <session>",
		Short: "Tear a session down and remove its state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			session := args[0]
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

			if force, _ := cmd.Flags().GetBool("force"); !force {
				var confirmed bool
				prompt := huh.NewConfirm().
					Title(fmt.Sprintf("Delete session %q?", session)).
					Description("Workspaces, branches, and the whole message history go away.").
					Value(&confirmed)
				if err := prompt.Run(); err != nil {
					return err
				}
				if !confirmed {
					fmt.Println("aborted")
					return nil
				}
			}

			// Stop anything still running, best effort.
			if runtime, err := backend.OpenRuntime(paths.Runtime()); err == nil {
				sup := backend.NewSupervisor(session, session, store, runtime, cfg, logger)
				for _, rec := range runtime.List() {
					if rec.Status == backend.StatusTerminated {
						continue
					}
					if err := sup.ApplyShutdown(rec.AgentName); err != nil {
						logger.Warn("shutdown during delete failed", "agent", rec.AgentName, "error", err)
					}
				}
			}

			// Release the worktrees and crew/ branches.
			if tc, err := team.Load(paths.TeamConfig()); err == nil {
				alloc := workspace.New(cfg.Repo, paths.WorkspaceDir(), cfg.DirtyBase, logger)
				for _, m := range tc.Members {
					if m.WorkspacePath == "" {
						continue
					}
					if err := alloc.Release(m.Name); err != nil {
						logger.Warn("workspace release failed", "agent", m.Name, "error", err)
					}
				}
			}

			store.Close()
			if err := os.RemoveAll(paths.Root); err != nil {
				return fmt.Errorf("remove session state: %w", err)
			}
			fmt.Printf("session %s deleted\n", session)
			return nil
		},
	}
	cmd.Flags().Bool("force", false, "skip the confirmation prompt")
	return cmd
}
