// Package backend – supervisor.go spawns, observes and tears down agents
// under the resolved backend, recording runtime identity for every agent.
package backend

import (
	"fmt"
	"log/slog"
	"os"
	"syscall"
	"time"

	"github.com/zalando/go-keyring"

	"github.com/dmarchetti/crewd/pkg/crewd/bus"
	"github.com/dmarchetti/crewd/pkg/crewd/config"
	"github.com/dmarchetti/crewd/pkg/crewd/team"
)

// Supervisor launches and tracks the agents of one session.
type Supervisor struct {
	Session string
	Room    string

	store   *bus.Store
	runtime *RuntimeStore
	cfg     *config.Config
	logger  *slog.Logger
	tmux    tmuxRunner
}

// NewSupervisor creates a supervisor for the session.
func NewSupervisor(session, room string, store *bus.Store, runtime *RuntimeStore, cfg *config.Config, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		Session: session,
		Room:    room,
		store:   store,
		runtime: runtime,
		cfg:     cfg,
		logger:  logger.With("component", "supervisor"),
		tmux:    execTmux{},
	}
}

// SpawnAll launches every non-lead member under the backend. A member with
// no allocated workspace is skipped with a warning; the rest still launch.
// The lead is the orchestrating process itself and is never spawned.
func (s *Supervisor) SpawnAll(members []team.Member, be Backend) error {
	if !be.Concrete() {
		return fmt.Errorf("%w: %q", ErrUnknownBackend, be)
	}

	var toSpawn []team.Member
	for _, m := range members {
		if m.Role == team.RoleLead {
			continue
		}
		if m.WorkspacePath == "" {
			s.logger.Warn("agent has no workspace, skipping spawn", "agent", m.Name)
			continue
		}
		if _, err := os.Stat(m.WorkspacePath); err != nil {
			s.logger.Warn("agent workspace missing, skipping spawn",
				"agent", m.Name, "path", m.WorkspacePath)
			continue
		}
		toSpawn = append(toSpawn, m)
	}
	if len(toSpawn) == 0 {
		return fmt.Errorf("no spawnable agents (all workspaces missing?)")
	}

	if be == BackendHub {
		return s.spawnHub(toSpawn)
	}
	for _, m := range toSpawn {
		if err := s.spawnOne(m, be); err != nil {
			// One agent failing to launch doesn't abort the fleet.
			s.logger.Warn("agent spawn failed", "agent", m.Name, "error", err)
		}
	}
	return nil
}

// spawnOne launches a single agent under tmux or procs.
func (s *Supervisor) spawnOne(m team.Member, be Backend) error {
	rec := &RuntimeRecord{
		AgentName: m.Name,
		Role:      m.Role,
		Backend:   be,
		Status:    StatusSpawning,
		StartedAt: time.Now().UTC(),
	}
	if err := s.runtime.Put(rec); err != nil {
		return err
	}

	desc := s.agentDesc(m)

	switch be {
	case BackendTmux:
		session, err := ensureTmuxSession(s.tmux, s.Session, m.WorkspacePath)
		if err != nil {
			return err
		}
		paneID, err := spawnPane(s.tmux, session, desc)
		if err != nil {
			return err
		}
		setPaneTitle(s.tmux, paneID, m.Name)
		rec.PaneID = paneID
		rec.Window = session + ":0"

	case BackendProcs:
		pid, wait, err := desc.Start()
		if err != nil {
			return err
		}
		rec.ProcessID = pid
		go s.watchExit(m.Name, wait)
	}

	rec.Status = StatusRunning
	if err := s.runtime.Put(rec); err != nil {
		return err
	}

	s.emitStatus(m.Name, fmt.Sprintf("agent %s running (%s backend)", m.Name, be))
	s.logger.Info("agent spawned", "agent", m.Name, "backend", be,
		"pid", rec.ProcessID, "pane", rec.PaneID)
	return nil
}

// spawnHub launches the single shared hub process and records every agent
// against its pid.
func (s *Supervisor) spawnHub(members []team.Member) error {
	desc := ProcDesc{
		Path: s.cfg.AgentCommand,
		Args: []string{"hub", "--session", s.Session},
		Env:  s.agentEnv("", ""),
		Dir:  s.cfg.Repo,
	}
	pid, wait, err := desc.Start()
	if err != nil {
		return fmt.Errorf("spawn hub: %w", err)
	}

	for _, m := range members {
		rec := &RuntimeRecord{
			AgentName: m.Name,
			Role:      m.Role,
			Backend:   BackendHub,
			Status:    StatusRunning,
			ProcessID: pid,
			StartedAt: time.Now().UTC(),
		}
		if err := s.runtime.Put(rec); err != nil {
			return err
		}
		s.emitStatus(m.Name, fmt.Sprintf("agent %s running (hub backend, pid %d)", m.Name, pid))
	}

	go func() {
		code := wait()
		// Hub exit takes every hosted agent down with it.
		for _, m := range members {
			s.markTerminated(m.Name, &code)
		}
	}()

	s.logger.Info("hub spawned", "pid", pid, "agents", len(members))
	return nil
}

// agentDesc builds the typed launch descriptor for one agent.
func (s *Supervisor) agentDesc(m team.Member) ProcDesc {
	return ProcDesc{
		Path: s.cfg.AgentCommand,
		Args: []string{"agent", "--session", s.Session, "--name", m.Name},
		Env:  s.agentEnv(m.Name, string(m.Role)),
		Dir:  m.WorkspacePath,
	}
}

// agentEnv builds the child environment: session identity plus an optional
// API key pulled from the system keyring, so secrets never land in config
// files or process argv.
func (s *Supervisor) agentEnv(agent, role string) map[string]string {
	env := map[string]string{
		"CREWD_SESSION":   s.Session,
		config.EnvEnabled: "1",
		config.EnvFleetOK: "1",
	}
	if agent != "" {
		env["CREWD_AGENT"] = agent
		env["CREWD_ROLE"] = role
	}
	if s.cfg.KeyringService != "" {
		secret, err := keyring.Get(s.cfg.KeyringService, s.cfg.KeyringUser)
		if err != nil {
			s.logger.Warn("keyring lookup failed, agent runs without API key",
				"service", s.cfg.KeyringService, "error", err)
		} else {
			env["AGENT_API_KEY"] = secret
		}
	}
	return env
}

// watchExit observes a process-backend agent until exit and marks it
// terminated. No restart happens here: crash handling is explicit and
// manual.
func (s *Supervisor) watchExit(agent string, wait func() int) {
	code := wait()
	s.logger.Info("agent process exited", "agent", agent, "exit_code", code)
	s.markTerminated(agent, &code)
}

// ApplyShutdown tears one agent down: the pane is killed for tmux, the
// process group is signalled for procs, and hub agents get a cooperative
// stop message their loop acts on. The runtime record transitions to
// terminated and a status message lands on the bus in every case.
func (s *Supervisor) ApplyShutdown(agent string) error {
	rec, ok := s.runtime.Get(agent)
	if !ok {
		return fmt.Errorf("%w: %q", ErrAgentNotFound, agent)
	}
	if rec.Status == StatusTerminated {
		return nil // already down; applying shutdown twice is a no-op
	}

	switch rec.Backend {
	case BackendTmux:
		if rec.PaneID != "" && paneRunning(s.tmux, tmuxSessionName(s.Session), rec.PaneID) {
			if err := killPane(s.tmux, rec.PaneID); err != nil {
				return err
			}
		}
	case BackendProcs:
		if rec.ProcessID > 0 {
			if err := Signal(rec.ProcessID, syscall.SIGTERM); err != nil {
				s.logger.Warn("signal failed, process may already be gone",
					"agent", agent, "pid", rec.ProcessID, "error", err)
			}
		}
	case BackendHub:
		// The hub watches for this and stops the agent's loop.
		if _, err := s.store.Send(bus.SendRequest{
			Room: s.Room, Sender: "system", Recipient: agent,
			Kind: bus.KindSystem, Body: "shutdown",
			Meta: map[string]string{"command": "stop"},
		}); err != nil {
			s.logger.Warn("hub stop message failed", "agent", agent, "error", err)
		}
	}

	return s.markTerminated(agent, nil)
}

// InjectPrompt types text into a tmux agent's pane, but only when the
// pane is still blank (no pre-composed boot prompt on screen). Non-tmux
// backends receive their prompts through the mailbox alone.
func (s *Supervisor) InjectPrompt(agent, text string) error {
	rec, ok := s.runtime.Get(agent)
	if !ok {
		return fmt.Errorf("agent %q: %w", agent, ErrAgentNotFound)
	}
	if rec.Backend != BackendTmux || rec.Status != StatusRunning {
		return nil
	}
	if paneHasContent(s.tmux, rec.PaneID) {
		return nil
	}
	return sendPaneKeys(s.tmux, rec.PaneID, text)
}

// MarkTerminated transitions an agent's record without touching any
// process, for exits observed out of band.
func (s *Supervisor) MarkTerminated(agent string) error {
	return s.markTerminated(agent, nil)
}

func (s *Supervisor) markTerminated(agent string, exitCode *int) error {
	if err := s.runtime.SetStatus(agent, StatusTerminated, exitCode); err != nil {
		return err
	}
	body := fmt.Sprintf("agent %s terminated", agent)
	if exitCode != nil {
		body = fmt.Sprintf("agent %s terminated (exit code %d)", agent, *exitCode)
	}
	s.emitStatus(agent, body)
	return nil
}

// emitStatus best-effort broadcasts a lifecycle status message.
func (s *Supervisor) emitStatus(agent, body string) {
	if _, err := s.store.Send(bus.SendRequest{
		Room: s.Room, Sender: "system", Recipient: bus.RecipientAll,
		Kind: bus.KindStatus, Body: body,
		Meta: map[string]string{"agent": agent},
	}); err != nil {
		s.logger.Warn("status message failed", "agent", agent, "error", err)
	}
}
