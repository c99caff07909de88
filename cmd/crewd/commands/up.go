package commands

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/dmarchetti/crewd/pkg/crewd/backend"
	"github.com/dmarchetti/crewd/pkg/crewd/bus"
	"github.com/dmarchetti/crewd/pkg/crewd/control"
	"github.com/dmarchetti/crewd/pkg/crewd/orchestrator"
	"github.com/dmarchetti/crewd/pkg/crewd/team"
	"github.com/dmarchetti/crewd/pkg/crewd/workspace"
)

// newUpCmd creates the `crewd up` command (alias: run): allocate one
// workspace per agent, spawn the backend, and delegate the task.
func newUpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "up <session> [task]",
		Aliases: []string{"run"},
		Short:   "Launch the crew and delegate a task",
		Args:    cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			session := args[0]
			var task string
			if len(args) == 2 {
				task = args[1]
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
			// Resizing the team must also resize the room: new members
			// get registered, dropped ones deactivated, so delegation
			// reaches exactly the current roster.
			resize := func(n int) error {
				before := tc.Members
				if err := tc.Refresh(n); err != nil {
					return &UsageError{Err: err}
				}
				return syncRoomMembers(store, session, before, tc.Members)
			}
			if workersFlag, _ := cmd.Flags().GetString("workers"); workersFlag != "" {
				n, err := workerCountFrom(workersFlag, task)
				if err != nil {
					return err
				}
				if err := resize(n); err != nil {
					return err
				}
			} else if task != "" && len(tc.Workers()) == 0 {
				if err := resize(orchestrator.SizePool(task)); err != nil {
					return err
				}
			}

			// Resolve the execution strategy before touching the repo.
			requested := cfg.Backend
			if flag, _ := cmd.Flags().GetString("backend"); flag != "" {
				requested = flag
			}
			be, err := backend.Resolve(backend.Backend(requested), backend.Interactive(), backend.TmuxPresent())
			if err != nil {
				if errors.Is(err, backend.ErrUnknownBackend) {
					return &UsageError{Err: err}
				}
				return err
			}
			tc.SetBackend(string(be))

			// One branch-scoped worktree per non-lead agent.
			alloc := workspace.New(cfg.Repo, paths.WorkspaceDir(), cfg.DirtyBase, logger)
			base, err := alloc.PrepareBase("")
			if err != nil {
				return err
			}
			logger.Info("base prepared", "revision", base)

			var names []string
			for _, m := range tc.Members {
				if m.Role != team.RoleLead {
					names = append(names, m.Name)
				}
			}
			// Collisions abort here, before any worktree exists.
			if err := alloc.Preflight(names); err != nil {
				return err
			}
			for _, m := range tc.Members {
				if m.Role == team.RoleLead {
					continue
				}
				path, err := alloc.Allocate(m.Name)
				if err != nil {
					return fmt.Errorf("allocate workspace for %s: %w", m.Name, err)
				}
				tc.SetWorkspace(m.Name, path)
			}
			if err := team.Save(paths.TeamConfig(), tc); err != nil {
				return err
			}

			runtime, err := backend.OpenRuntime(paths.Runtime())
			if err != nil {
				return err
			}
			sup := backend.NewSupervisor(session, session, store, runtime, cfg, logger)

			proto := control.New(store, paths.ControlMirror(), logger)
			proto.SetShutdownFunc(sup.ApplyShutdown)

			if err := sup.SpawnAll(tc.Members, be); err != nil {
				return err
			}
			fmt.Printf("crew %s up on the %s backend\n", session, be)

			if task != "" {
				orch := orchestrator.New(session, "lead", proto, logger)
				orch.SetInjector(sup)
				if err := orch.Delegate(task, tc.Members); err != nil {
					return err
				}
				fmt.Printf("task delegated to %d workers\n", len(tc.Workers()))
			}
			fmt.Printf("watch: crewd tail %s --follow\n", session)
			return nil
		},
	}
	cmd.Flags().String("backend", "", "execution strategy: auto, tmux, procs or hub (default from config)")
	cmd.Flags().String("workers", "", "resize the worker pool: 2-4 or auto")
	return cmd
}

// syncRoomMembers reconciles the bus room with a refreshed roster:
// everyone in after is registered (Register is an upsert), anyone from
// before who no longer appears is deactivated.
func syncRoomMembers(store *bus.Store, room string, before, after []team.Member) error {
	current := make(map[string]bool, len(after))
	for _, m := range after {
		if err := store.Register(room, m.Name, string(m.Role)); err != nil {
			return fmt.Errorf("register %s: %w", m.Name, err)
		}
		current[m.Name] = true
	}
	for _, m := range before {
		if current[m.Name] {
			continue
		}
		if err := store.Deactivate(room, m.Name); err != nil {
			return fmt.Errorf("deactivate %s: %w", m.Name, err)
		}
	}
	return nil
}

func workerCountFrom(raw, task string) (int, error) {
	if raw == "auto" {
		return orchestrator.SizePool(task), nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, usageErrf("invalid --workers %q: want a number or auto", raw)
	}
	if n < team.MinWorkers || n > team.MaxWorkers {
		return 0, usageErrf("--workers %d out of range [%d, %d]", n, team.MinWorkers, team.MaxWorkers)
	}
	return n, nil
}
