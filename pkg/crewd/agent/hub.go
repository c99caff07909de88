package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dmarchetti/crewd/pkg/crewd/bus"
	"github.com/dmarchetti/crewd/pkg/crewd/control"
	"github.com/dmarchetti/crewd/pkg/crewd/poll"
	"github.com/dmarchetti/crewd/pkg/crewd/team"
)

// Hub interleaves every non-lead member's poll loop inside one process.
// Each member still owns its own mailbox and cursor; the only thing the
// hub shares is the process. A per-member stop message ends just that
// member's loop, cancelling ctx ends them all.
type Hub struct {
	Room string

	store  *bus.Store
	proto  *control.Protocol
	opts   Options
	logger *slog.Logger
}

func NewHub(room string, store *bus.Store, proto *control.Protocol, opts Options, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		Room:   room,
		store:  store,
		proto:  proto,
		opts:   opts,
		logger: logger.With("component", "hub"),
	}
}

// Run hosts one Agent goroutine per non-lead member and blocks until all
// of them stop. Returns the first loop error, if any.
func (h *Hub) Run(ctx context.Context, members []team.Member) error {
	var loops []*Agent
	for _, m := range members {
		if m.Role == team.RoleLead {
			continue
		}
		opts := h.opts
		if opts.Clock == nil {
			opts.Clock = poll.RealClock{}
		}
		loops = append(loops, New(m.Name, string(m.Role), h.Room, h.store, h.proto, opts, h.logger))
	}
	if len(loops) == 0 {
		return fmt.Errorf("hub: no non-lead members to host")
	}

	h.logger.Info("hub started", "room", h.Room, "agents", len(loops))
	if _, err := h.store.Send(bus.SendRequest{
		Room: h.Room, Sender: "system", Recipient: bus.RecipientAll,
		Kind: bus.KindStatus, Body: fmt.Sprintf("hub hosting %d agents", len(loops)),
	}); err != nil {
		h.logger.Warn("hub status message failed", "error", err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, len(loops))
	for _, a := range loops {
		wg.Add(1)
		go func(a *Agent) {
			defer wg.Done()
			if err := a.Run(ctx); err != nil {
				h.logger.Warn("agent loop failed", "agent", a.Name, "error", err)
				errs <- fmt.Errorf("agent %s: %w", a.Name, err)
			}
		}(a)
	}
	wg.Wait()
	close(errs)

	h.logger.Info("hub stopped", "room", h.Room)
	return <-errs
}
