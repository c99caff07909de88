package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// newInboxCmd creates the `crewd inbox` command.
func newInboxCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inbox <session> <agent>",
		Short: "Show an agent's mailbox",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			session, agent := args[0], args[1]
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

			unreadOnly, _ := cmd.Flags().GetBool("unread")
			markRead, _ := cmd.Flags().GetBool("mark-read")

			entries, err := store.Inbox(agent, unreadOnly, markRead)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Println("empty")
				return nil
			}
			for _, e := range entries {
				marker := " "
				if e.State == "unread" {
					marker = "*"
				}
				fmt.Printf("%s [%4d] %s %-10s %-10s %s\n",
					marker, e.MessageID,
					e.Message.CreatedAt.Format(time.TimeOnly),
					e.Message.Kind, e.Message.Sender, e.Message.Body)
			}
			return nil
		},
	}
	cmd.Flags().Bool("unread", false, "only unread entries")
	cmd.Flags().Bool("mark-read", false, "mark listed entries read")
	return cmd
}
