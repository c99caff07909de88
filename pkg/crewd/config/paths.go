package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
)

// sessionNamePattern restricts session names to filesystem- and
// branch-name-safe characters.
var sessionNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]{0,63}$`)

// ValidateSessionName rejects names that would produce unsafe paths or
// git branch names.
func ValidateSessionName(name string) error {
	if !sessionNamePattern.MatchString(name) {
		return fmt.Errorf("invalid session name %q: use lowercase letters, digits, '.', '_' or '-' (max 64 chars)", name)
	}
	return nil
}

// SessionPaths resolves the on-disk layout of one session. Everything a
// session owns lives under a single root so teamdelete can remove it whole.
type SessionPaths struct {
	Root string
}

// NewSessionPaths builds the path set for a session under the state dir.
func NewSessionPaths(stateDir, session string) SessionPaths {
	return SessionPaths{Root: filepath.Join(stateDir, "sessions", session)}
}

// Database is the sqlite store holding messages, mailbox and control requests.
func (p SessionPaths) Database() string { return filepath.Join(p.Root, "crew.db") }

// TeamConfig is the yaml document describing team shape and members.
func (p SessionPaths) TeamConfig() string { return filepath.Join(p.Root, "config.yaml") }

// Runtime is the json document describing live agent process/pane bindings.
func (p SessionPaths) Runtime() string { return filepath.Join(p.Root, "runtime.json") }

// ControlMirror is the json mirror of pending/resolved control requests.
func (p SessionPaths) ControlMirror() string { return filepath.Join(p.Root, "control.json") }

// InboxDir holds per-agent mailbox mirror documents.
func (p SessionPaths) InboxDir() string { return filepath.Join(p.Root, "inboxes") }

// Inbox is the mailbox mirror document for one agent.
func (p SessionPaths) Inbox(agent string) string {
	return filepath.Join(p.InboxDir(), agent+".json")
}

// WorkspaceDir is where agent worktrees are created.
func (p SessionPaths) WorkspaceDir() string { return filepath.Join(p.Root, "workspaces") }

// Ensure creates the session directory tree.
func (p SessionPaths) Ensure() error {
	for _, dir := range []string{p.Root, p.InboxDir(), p.WorkspaceDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create session directory %q: %w", dir, err)
		}
	}
	return nil
}

// Exists reports whether the session root is present on disk.
func (p SessionPaths) Exists() bool {
	_, err := os.Stat(p.Root)
	return err == nil
}
