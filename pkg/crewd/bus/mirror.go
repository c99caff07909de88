package bus

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// inboxDocument is the filesystem mirror of one agent's mailbox. It exists
// for humans and external tooling; the sqlite mailbox rows stay
// authoritative and the document is rebuilt wholesale after every mutation.
type inboxDocument struct {
	Agent     string         `json:"agent"`
	UpdatedAt time.Time      `json:"updated_at"`
	Unread    int            `json:"unread"`
	Entries   []MailboxEntry `json:"entries"`
}

// mirrorInbox rewrites the agent's inbox document. Best effort: a mirror
// write failure is logged and swallowed, never propagated to the send path.
func (s *Store) mirrorInbox(agent string) {
	if s.mirrorDir == "" {
		return
	}
	entries, err := s.Inbox(agent, false, false)
	if err != nil {
		s.logger.Warn("inbox mirror read failed", "agent", agent, "error", err)
		return
	}
	unread := 0
	for _, e := range entries {
		if e.State == StateUnread {
			unread++
		}
	}
	doc := inboxDocument{
		Agent:     agent,
		UpdatedAt: time.Now().UTC(),
		Unread:    unread,
		Entries:   entries,
	}
	if err := writeJSONAtomic(filepath.Join(s.mirrorDir, agent+".json"), doc); err != nil {
		s.logger.Warn("inbox mirror write failed", "agent", agent, "error", err)
	}
}

// writeJSONAtomic writes JSON via temp-file-then-rename so concurrent
// readers never observe a partially written document.
func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %q: %w", path, err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

// WriteJSONAtomic is the shared atomic-replace primitive for filesystem
// state documents (runtime bindings, control mirror, inbox mirrors).
func WriteJSONAtomic(path string, v any) error { return writeJSONAtomic(path, v) }
