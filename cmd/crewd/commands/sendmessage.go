package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dmarchetti/crewd/pkg/crewd/backend"
	"github.com/dmarchetti/crewd/pkg/crewd/bus"
	"github.com/dmarchetti/crewd/pkg/crewd/control"
)

// newSendMessageCmd creates the `crewd sendmessage` command. Plain kinds
// go straight to the bus; control kinds (plan_approval, shutdown,
// permission, mode_set) create a request, and --approve/--reject with
// --request-id resolve one.
func newSendMessageCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sendmessage <session>",
		Short: "Send a message or drive a control request",
		Long: `Send a message into a session room.

Examples:
  crewd sendmessage sprint-42 --type message --from lead --to all --content "standup in 5"
  crewd sendmessage sprint-42 --type plan_approval --from worker-1 --to lead --content "plan: ..."
  crewd sendmessage sprint-42 --type plan_approval --from lead --request-id req-ab12cd34 --approve`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			session := args[0]
			cfg, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			logger := newLogger(cmd, cfg)

			typ, _ := cmd.Flags().GetString("type")
			from, _ := cmd.Flags().GetString("from")
			to, _ := cmd.Flags().GetString("to")
			content, _ := cmd.Flags().GetString("content")
			requestID, _ := cmd.Flags().GetString("request-id")
			summary, _ := cmd.Flags().GetString("summary")
			approve, _ := cmd.Flags().GetBool("approve")
			reject, _ := cmd.Flags().GetBool("reject")

			if from == "" {
				return usageErrf("--from is required")
			}
			if approve && reject {
				return usageErrf("--approve and --reject are mutually exclusive")
			}

			store, paths, err := openSession(cfg, session, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			// Resolution of an existing request.
			if approve || reject {
				if requestID == "" {
					return usageErrf("--approve/--reject need --request-id")
				}
				proto := control.New(store, paths.ControlMirror(), logger)
				if runtime, err := backend.OpenRuntime(paths.Runtime()); err == nil {
					sup := backend.NewSupervisor(session, session, store, runtime, cfg, logger)
					proto.SetShutdownFunc(sup.ApplyShutdown)
				}
				decision := control.DecisionApprove
				if reject {
					decision = control.DecisionReject
				}
				if err := proto.Respond(requestID, from, decision, content); err != nil {
					if errors.Is(err, control.ErrNotFound) || errors.Is(err, control.ErrNotPending) {
						return &UsageError{Err: err}
					}
					return err
				}
				outcome := "approved"
				if reject {
					outcome = "rejected"
				}
				fmt.Printf("request %s %s\n", requestID, outcome)
				return nil
			}

			if to == "" {
				return usageErrf("--to is required (use all for broadcast)")
			}

			// Control request kinds open a pending request.
			if control.ValidType(control.Type(typ)) {
				proto := control.New(store, paths.ControlMirror(), logger)
				id, err := proto.Request(session, control.Type(typ), from, to, content, summary, requestID)
				if err != nil {
					if errors.Is(err, control.ErrDuplicate) {
						return &UsageError{Err: err}
					}
					return err
				}
				fmt.Printf("request_id=%s\n", id)
				return nil
			}

			if _, err := store.Send(bus.SendRequest{
				Room:      session,
				Sender:    from,
				Recipient: to,
				Kind:      bus.Kind(typ),
				Body:      content,
			}); err != nil {
				if errors.Is(err, bus.ErrUnknownRoom) || errors.Is(err, bus.ErrNotMember) {
					return &UsageError{Err: err}
				}
				return err
			}
			fmt.Println("sent")
			return nil
		},
	}
	cmd.Flags().String("type", "message", "message kind or control request type")
	cmd.Flags().String("from", "", "sender agent name")
	cmd.Flags().String("to", "", "recipient agent name, or all")
	cmd.Flags().String("content", "", "message body")
	cmd.Flags().String("summary", "", "one-line summary for control requests")
	cmd.Flags().String("request-id", "", "control request id (supply or resolve)")
	cmd.Flags().Bool("approve", false, "approve the request named by --request-id")
	cmd.Flags().Bool("reject", false, "reject the request named by --request-id")
	return cmd
}
