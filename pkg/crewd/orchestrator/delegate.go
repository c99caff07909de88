package orchestrator

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/dmarchetti/crewd/pkg/crewd/control"
	"github.com/dmarchetti/crewd/pkg/crewd/team"
)

// PromptInjector delivers a prompt straight into an agent's terminal.
// Only the tmux backend implements a useful version; for everything else
// the mailbox delivery is the whole story.
type PromptInjector interface {
	InjectPrompt(agent, text string) error
}

// Orchestrator fans tasks out from the lead to the workers of one room.
type Orchestrator struct {
	Room string
	Lead string

	proto    *control.Protocol
	injector PromptInjector
	logger   *slog.Logger
}

func New(room, lead string, proto *control.Protocol, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		Room:   room,
		Lead:   lead,
		proto:  proto,
		logger: logger.With("component", "orchestrator"),
	}
}

// SetInjector registers the backend's pane injector. Optional.
func (o *Orchestrator) SetInjector(inj PromptInjector) { o.injector = inj }

// Delegate builds one role-specific prompt per non-lead member and hands
// it out through the control dispatch path, which lands it in the
// worker's mailbox as a kind=task message. With an injector registered
// the prompt is additionally typed into the worker's pane when the pane
// is still blank. A member whose dispatch fails is skipped with a
// warning; Delegate errors only when no member could be reached.
func (o *Orchestrator) Delegate(taskText string, members []team.Member) error {
	if strings.TrimSpace(taskText) == "" {
		return fmt.Errorf("delegate: empty task text")
	}

	var dispatched int
	var lastErr error
	for _, m := range members {
		if m.Role == team.RoleLead {
			continue
		}

		prompt := o.rolePrompt(m, taskText)
		taskID, err := o.proto.Dispatch(o.Room, o.Lead, m.Name, prompt, summarize(taskText))
		if err != nil {
			o.logger.Warn("dispatch failed, skipping member", "member", m.Name, "error", err)
			lastErr = err
			continue
		}
		dispatched++

		if o.injector != nil {
			if err := o.injector.InjectPrompt(m.Name, prompt); err != nil {
				o.logger.Warn("pane prompt injection failed", "member", m.Name, "error", err)
			}
		}
		o.logger.Info("task delegated", "member", m.Name, "role", m.Role, "task", taskID)
	}

	if dispatched == 0 {
		if lastErr != nil {
			return fmt.Errorf("delegate: no member reachable: %w", lastErr)
		}
		return fmt.Errorf("delegate: no non-lead members to task")
	}
	return nil
}

// rolePrompt wraps the task text in the execution contract for one member.
func (o *Orchestrator) rolePrompt(m team.Member, taskText string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, a %s agent in room %q.\n\n", m.Name, m.Role, o.Room)

	switch m.Role {
	case team.RoleUtility:
		b.WriteString("Task (support role — docs, cleanup, and review backup for the workers):\n")
	default:
		b.WriteString("Task:\n")
	}
	b.WriteString(taskText)
	b.WriteString("\n\nExecution contract:\n")
	fmt.Fprintf(&b, "- Scope: work only inside your workspace (%s); never touch another agent's branch.\n", m.WorkspacePath)
	fmt.Fprintf(&b, "- Escalation: questions go to %s as kind=question; plan approvals and permissions go through a control request, then wait for the resolution.\n", o.Lead)
	b.WriteString("- Status cadence: post a kind=status message after each completed milestone, and a kind=blocker the moment you are stuck.\n")
	b.WriteString("- Done means evidence: report completion with what you changed and how you verified it.\n")
	return b.String()
}

// summarize shortens the task text to a one-line ledger summary.
func summarize(text string) string {
	fields := strings.Fields(text)
	if len(fields) > 8 {
		return strings.Join(fields[:8], " ") + " …"
	}
	return strings.Join(fields, " ")
}
