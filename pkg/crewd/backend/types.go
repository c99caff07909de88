// Package backend resolves and enforces the execution strategy for agent
// processes: one tmux pane per agent, one OS process per agent, or a single
// shared hub process interleaving every agent's loop. It spawns, tracks and
// terminates agents and records their runtime identity for audit.
package backend

import (
	"errors"
	"time"

	"github.com/dmarchetti/crewd/pkg/crewd/team"
)

// Backend is the concrete execution strategy.
type Backend string

const (
	// ModeAuto is a requested mode only; Resolve turns it into a
	// concrete backend.
	ModeAuto Backend = "auto"

	// BackendTmux runs each agent in its own pane of a shared tmux
	// session (multiplexed-pane).
	BackendTmux Backend = "tmux"

	// BackendProcs runs one independent OS process per agent
	// (isolated-process).
	BackendProcs Backend = "procs"

	// BackendHub runs a single supervising process that interleaves all
	// agents' poll loops (shared-hub). Resource-lean, least isolated.
	BackendHub Backend = "hub"
)

// Concrete reports whether b is a runnable backend (not auto).
func (b Backend) Concrete() bool {
	return b == BackendTmux || b == BackendProcs || b == BackendHub
}

// AgentStatus is the lifecycle state of a runtime record.
type AgentStatus string

const (
	StatusSpawning   AgentStatus = "spawning"
	StatusRunning    AgentStatus = "running"
	StatusTerminated AgentStatus = "terminated"
)

// RuntimeRecord is one agent's runtime identity for the session. Created at
// spawn, updated on status changes, retained after termination for audit.
// Process and pane identity are meaningful only while Status is running.
type RuntimeRecord struct {
	AgentName string      `json:"agent_name"`
	Role      team.Role   `json:"role"`
	Backend   Backend     `json:"backend"`
	Status    AgentStatus `json:"status"`
	ProcessID int         `json:"process_id,omitempty"`
	PaneID    string      `json:"pane_id,omitempty"`
	Window    string      `json:"window,omitempty"`
	StartedAt time.Time   `json:"started_at"`
	StoppedAt *time.Time  `json:"stopped_at,omitempty"`
	ExitCode  *int        `json:"exit_code,omitempty"`
}

// Sentinel errors.
var (
	ErrUnknownBackend = errors.New("unknown backend mode")
	ErrAgentNotFound  = errors.New("agent has no runtime record")
	ErrNoTmux         = errors.New("tmux backend requested but no tmux session is active")
)
