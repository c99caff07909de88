package commands

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/dmarchetti/crewd/pkg/crewd/bus"
	"github.com/dmarchetti/crewd/pkg/crewd/control"
)

// newConsoleCmd creates the `crewd console` command: an interactive shell
// the human lead drives a running session from.
func newConsoleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "console <session>",
		Short: "Interactive shell for the session lead",
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
			proto := control.New(store, paths.ControlMirror(), logger)

			rl, err := readline.NewEx(&readline.Config{
				Prompt:          session + "> ",
				HistoryFile:     paths.Root + "/.console_history",
				InterruptPrompt: "^C",
			})
			if err != nil {
				return fmt.Errorf("start console: %w", err)
			}
			defer rl.Close()

			fmt.Println("commands: say <agent|all> <text> | pending | approve <id> | reject <id> | tail [n] | quit")
			for {
				line, err := rl.Readline()
				if errors.Is(err, readline.ErrInterrupt) {
					continue
				}
				if errors.Is(err, io.EOF) {
					return nil
				}
				if err != nil {
					return err
				}
				if done := consoleEval(store, proto, session, strings.TrimSpace(line)); done {
					return nil
				}
			}
		},
	}
}

// consoleEval runs one console line. Returns true on quit.
func consoleEval(store *bus.Store, proto *control.Protocol, session, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}

	switch fields[0] {
	case "quit", "exit":
		return true

	case "say":
		if len(fields) < 3 {
			fmt.Println("usage: say <agent|all> <text>")
			return false
		}
		if _, err := store.Send(bus.SendRequest{
			Room:      session,
			Sender:    "lead",
			Recipient: fields[1],
			Kind:      bus.KindMessage,
			Body:      strings.Join(fields[2:], " "),
		}); err != nil {
			fmt.Println("send failed:", err)
		}

	case "pending":
		reqs, err := proto.Pending("")
		if err != nil {
			fmt.Println("pending failed:", err)
			return false
		}
		if len(reqs) == 0 {
			fmt.Println("no pending requests")
		}
		for _, req := range reqs {
			fmt.Printf("%s %s %s -> %s: %s\n", req.ID, req.Type, req.Sender, req.Recipient, req.Summary)
		}

	case "approve", "reject":
		if len(fields) != 2 {
			fmt.Printf("usage: %s <request-id>\n", fields[0])
			return false
		}
		decision := control.DecisionApprove
		if fields[0] == "reject" {
			decision = control.DecisionReject
		}
		if err := proto.Respond(fields[1], "lead", decision, ""); err != nil {
			fmt.Println("respond failed:", err)
		}

	case "tail":
		n := int64(10)
		if len(fields) == 2 {
			fmt.Sscanf(fields[1], "%d", &n)
		}
		msgs, err := store.Tail(session, 0, bus.TailFilter{})
		if err != nil {
			fmt.Println("tail failed:", err)
			return false
		}
		if int64(len(msgs)) > n {
			msgs = msgs[int64(len(msgs))-n:]
		}
		for _, m := range msgs {
			printMessage(m)
		}

	default:
		fmt.Println("unknown command:", fields[0])
	}
	return false
}
