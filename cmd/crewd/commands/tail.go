package commands

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dmarchetti/crewd/pkg/crewd/bus"
	"github.com/dmarchetti/crewd/pkg/crewd/poll"
)

// newTailCmd creates the `crewd tail` command.
func newTailCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tail <session>",
		Short: "Print the room log, optionally following new messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			session := args[0]
			cfg, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			logger := newLogger(cmd, cfg)

			store, _, err := openSession(cfg, session, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			since, _ := cmd.Flags().GetInt64("since")
			follow, _ := cmd.Flags().GetBool("follow")
			agent, _ := cmd.Flags().GetString("agent")
			filter := bus.TailFilter{Agent: agent}

			if !follow {
				msgs, err := store.Tail(session, since, filter)
				if err != nil {
					return err
				}
				for _, m := range msgs {
					printMessage(m)
				}
				return nil
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			err = store.Follow(ctx, poll.RealClock{}, cfg.PollInterval.Std(), session, since, filter,
				func(m bus.Message) bool {
					printMessage(m)
					return true
				})
			if ctx.Err() != nil {
				return nil // interrupted follow is a clean exit
			}
			return err
		},
	}
	cmd.Flags().Int64("since", 0, "start from this message id")
	cmd.Flags().BoolP("follow", "f", false, "keep polling for new messages")
	cmd.Flags().String("agent", "", "only traffic sent by or addressed to this agent")
	return cmd
}

func printMessage(m bus.Message) {
	line := fmt.Sprintf("[%4d] %s %-18s %s -> %s: %s",
		m.ID, m.CreatedAt.Format(time.TimeOnly), m.Kind, m.Sender, m.Recipient, m.Body)
	if id := m.Meta["request_id"]; id != "" {
		line += " (request " + id + ")"
	}
	fmt.Println(line)
}
