// Package agent implements the poll/execute loop run inside each worker
// process. The loop owns exactly one mailbox: it drains unread entries,
// reacts to the message kind, and reports its own lifecycle back onto the
// bus. All coordination is message passing; an agent never shares memory
// with its peers even under the hub backend.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/dmarchetti/crewd/pkg/crewd/bus"
	"github.com/dmarchetti/crewd/pkg/crewd/control"
	"github.com/dmarchetti/crewd/pkg/crewd/poll"
)

// Runner executes a task prompt on behalf of the agent. The control plane
// only moves prompts around; the runner is whatever actually does the
// work (typically the underlying agent executable).
type Runner interface {
	Run(ctx context.Context, prompt string) error
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, prompt string) error

func (f RunnerFunc) Run(ctx context.Context, prompt string) error { return f(ctx, prompt) }

// Agent is one member's poll loop over its mailbox.
type Agent struct {
	Name string
	Role string
	Room string

	store    *bus.Store
	proto    *control.Protocol
	runner   Runner
	clock    poll.Clock
	interval time.Duration
	schedule string
	logger   *slog.Logger
}

// Options tunes an Agent beyond its identity.
type Options struct {
	// Runner handles kind=task prompts. Nil means tasks are acknowledged
	// but not executed (the pane or hub host drives the work instead).
	Runner Runner
	// Clock drives the poll cadence. Nil means real time.
	Clock poll.Clock
	// Interval between mailbox polls. Zero means 2s.
	Interval time.Duration
	// Schedule is a cron spec for the heartbeat pulse. Empty disables it.
	Schedule string
}

func New(name, role, room string, store *bus.Store, proto *control.Protocol, opts Options, logger *slog.Logger) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = poll.RealClock{}
	}
	if opts.Interval <= 0 {
		opts.Interval = 2 * time.Second
	}
	return &Agent{
		Name:     name,
		Role:     role,
		Room:     room,
		store:    store,
		proto:    proto,
		runner:   opts.Runner,
		clock:    opts.Clock,
		interval: opts.Interval,
		schedule: opts.Schedule,
		logger:   logger.With("component", "agent", "agent", name),
	}
}

// Run registers the agent in its room and polls the mailbox until ctx is
// cancelled or a stop/shutdown message arrives. Shutdown is cooperative:
// the loop finishes the entry it is handling, reports offline, and
// returns nil.
func (a *Agent) Run(ctx context.Context) error {
	if err := a.store.Register(a.Room, a.Name, a.Role); err != nil {
		return fmt.Errorf("register agent %s: %w", a.Name, err)
	}

	if a.schedule != "" {
		c := cron.New()
		if _, err := c.AddFunc(a.schedule, a.pulse); err != nil {
			a.logger.Warn("invalid heartbeat schedule, pulse disabled",
				"schedule", a.schedule, "error", err)
		} else {
			c.Start()
			defer c.Stop()
		}
	}

	a.status("online")
	a.logger.Info("agent loop started", "room", a.Room, "interval", a.interval)

	err := poll.Loop(ctx, a.clock, a.interval, a.step)
	a.status("offline")
	if err != nil && ctx.Err() != nil {
		// Cancellation is a normal exit for a cooperative loop.
		return nil
	}
	return err
}

// step drains the mailbox once. Returning false ends the loop.
func (a *Agent) step(ctx context.Context) bool {
	entries, err := a.store.Inbox(a.Name, true, true)
	if err != nil {
		a.logger.Warn("mailbox poll failed", "error", err)
		return true
	}
	for _, e := range entries {
		if !a.handle(ctx, e.Message) {
			return false
		}
	}
	return true
}

func (a *Agent) handle(ctx context.Context, msg bus.Message) bool {
	switch msg.Kind {
	case bus.KindSystem:
		if msg.Meta["command"] == "stop" {
			a.logger.Info("stop command received", "from", msg.Sender)
			return false
		}

	case bus.KindShutdownResponse, bus.KindShutdownApproved:
		if msg.Meta["decision"] == string(control.DecisionReject) {
			a.logger.Info("shutdown rejected, continuing", "request", msg.Meta["request_id"])
			return true
		}
		a.logger.Info("shutdown approved", "request", msg.Meta["request_id"])
		return false

	case bus.KindTask:
		a.runTask(ctx, msg)

	case bus.KindQuestion, bus.KindAnswer, bus.KindMessage, bus.KindBlocker:
		// Peer traffic. Marked read above; the runner sees it on its next
		// task turn, the loop itself has nothing to do.

	default:
		// status, broadcast, control history: informational.
	}
	return true
}

// runTask acknowledges a task prompt and hands it to the runner.
func (a *Agent) runTask(ctx context.Context, msg bus.Message) {
	taskID := msg.Meta["task_id"]
	a.status(fmt.Sprintf("task %s accepted", taskID))

	if a.runner == nil {
		return
	}
	if err := a.runner.Run(ctx, msg.Body); err != nil {
		a.send(bus.KindBlocker, msg.Sender, fmt.Sprintf("task %s failed: %v", taskID, err),
			map[string]string{"task_id": taskID})
		return
	}
	a.status(fmt.Sprintf("task %s done", taskID))
}

// pulse emits the scheduled heartbeat.
func (a *Agent) pulse() {
	a.status("heartbeat")
}

// status best-effort broadcasts a lifecycle note.
func (a *Agent) status(body string) {
	a.send(bus.KindStatus, bus.RecipientAll, fmt.Sprintf("%s %s", a.Name, body), nil)
}

func (a *Agent) send(kind bus.Kind, recipient, body string, meta map[string]string) {
	if _, err := a.store.Send(bus.SendRequest{
		Room:      a.Room,
		Sender:    a.Name,
		Recipient: recipient,
		Kind:      kind,
		Body:      body,
		Meta:      meta,
	}); err != nil {
		a.logger.Warn("bus send failed", "kind", kind, "error", err)
	}
}
