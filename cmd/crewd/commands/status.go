package commands

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/dmarchetti/crewd/pkg/crewd/backend"
	"github.com/dmarchetti/crewd/pkg/crewd/bus"
	"github.com/dmarchetti/crewd/pkg/crewd/control"
)

// newStatusCmd creates the `crewd status` command.
func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <session>",
		Short: "Show members, runtime state, traffic, and pending requests",
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

			st, err := store.Status(session)
			if err != nil {
				return err
			}

			fmt.Printf("session %s: %d messages\n", session, st.Total)
			fmt.Println("members:")
			for _, m := range st.Members {
				state := "inactive"
				if m.Active {
					state = "active"
				}
				fmt.Printf("  %-12s %-8s %-8s unread=%d\n", m.Agent, m.Role, state, st.Unread[m.Agent])
			}

			if runtime, err := backend.OpenRuntime(paths.Runtime()); err == nil {
				if records := runtime.List(); len(records) > 0 {
					fmt.Println("runtime:")
					for _, r := range records {
						line := fmt.Sprintf("  %-12s %-10s backend=%s", r.AgentName, r.Status, r.Backend)
						if r.PaneID != "" {
							line += " pane=" + r.PaneID
						}
						if r.ProcessID != 0 {
							line += fmt.Sprintf(" pid=%d", r.ProcessID)
						}
						fmt.Println(line)
					}
				}
			}

			proto := control.New(store, paths.ControlMirror(), logger)
			pending, err := proto.Pending("")
			if err != nil {
				return err
			}
			if len(pending) > 0 {
				fmt.Println("pending requests:")
				for _, req := range pending {
					fmt.Printf("  %s %s %s -> %s: %s\n", req.ID, req.Type, req.Sender, req.Recipient, req.Summary)
				}
			}

			if len(st.ByKind) > 0 {
				kinds := make([]string, 0, len(st.ByKind))
				for k := range st.ByKind {
					kinds = append(kinds, string(k))
				}
				sort.Strings(kinds)
				fmt.Println("traffic:")
				for _, k := range kinds {
					fmt.Printf("  %-24s %d\n", k, st.ByKind[bus.Kind(k)])
				}
			}
			return nil
		},
	}
}
