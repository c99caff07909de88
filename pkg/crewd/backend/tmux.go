// Package backend – tmux.go drives the terminal multiplexer through typed
// argument slices. Commands run inside panes are passed as argv to tmux,
// never concatenated into a shell line.
package backend

import (
	"fmt"
	"os/exec"
	"strings"
)

// tmuxRunner abstracts tmux invocation so the supervisor is testable
// without a live server.
type tmuxRunner interface {
	run(args ...string) (string, error)
}

type execTmux struct{}

func (execTmux) run(args ...string) (string, error) {
	out, err := exec.Command("tmux", args...).CombinedOutput()
	result := strings.TrimSpace(string(out))
	if err != nil {
		if result != "" {
			return "", fmt.Errorf("tmux %s: %s", args[0], result)
		}
		return "", fmt.Errorf("tmux %s: %w", args[0], err)
	}
	return result, nil
}

// tmuxSessionName derives the shared multiplexer session for a crewd
// session.
func tmuxSessionName(session string) string { return "crewd-" + session }

// ensureTmuxSession creates the shared session if missing, returning its
// name. The first window is reserved for the lead.
func ensureTmuxSession(t tmuxRunner, session, dir string) (string, error) {
	name := tmuxSessionName(session)
	if _, err := t.run("has-session", "-t", name); err == nil {
		return name, nil
	}
	if _, err := t.run("new-session", "-d", "-s", name, "-c", dir); err != nil {
		return "", fmt.Errorf("create tmux session %q: %w", name, err)
	}
	return name, nil
}

// spawnPane splits a new pane in the session, starts the descriptor's
// command bound to it, and returns the pane id.
func spawnPane(t tmuxRunner, session string, d ProcDesc) (paneID string, err error) {
	args := []string{"split-window", "-d", "-P", "-F", "#{pane_id}", "-t", session + ":0", "-c", d.Dir}
	for k, v := range d.Env {
		args = append(args, "-e", k+"="+v)
	}
	args = append(args, "--", d.Path)
	args = append(args, d.Args...)

	paneID, err = t.run(args...)
	if err != nil {
		return "", fmt.Errorf("spawn pane: %w", err)
	}
	// Even out the layout as panes accumulate.
	t.run("select-layout", "-t", session+":0", "tiled")
	return paneID, nil
}

// setPaneTitle labels a pane with the agent name.
func setPaneTitle(t tmuxRunner, paneID, title string) {
	t.run("select-pane", "-t", paneID, "-T", title)
}

// paneRunning reports whether the pane still exists.
func paneRunning(t tmuxRunner, session, paneID string) bool {
	out, err := t.run("list-panes", "-t", session+":0", "-F", "#{pane_id}")
	if err != nil {
		return false
	}
	for _, id := range strings.Split(out, "\n") {
		if strings.TrimSpace(id) == paneID {
			return true
		}
	}
	return false
}

// killPane terminates one agent's pane. When the pane is the last of its
// window, tmux removes the window with it, which is exactly the wanted
// behavior for whole-window agents.
func killPane(t tmuxRunner, paneID string) error {
	if _, err := t.run("kill-pane", "-t", paneID); err != nil {
		return fmt.Errorf("kill pane %s: %w", paneID, err)
	}
	return nil
}

// sendPaneKeys injects literal keystrokes into a pane, followed by Enter.
func sendPaneKeys(t tmuxRunner, paneID, text string) error {
	if _, err := t.run("send-keys", "-t", paneID, "-l", text); err != nil {
		return fmt.Errorf("send keys to %s: %w", paneID, err)
	}
	if _, err := t.run("send-keys", "-t", paneID, "Enter"); err != nil {
		return fmt.Errorf("send enter to %s: %w", paneID, err)
	}
	return nil
}

// paneHasContent reports whether the pane already shows a boot prompt,
// detected by any non-empty captured line.
func paneHasContent(t tmuxRunner, paneID string) bool {
	out, err := t.run("capture-pane", "-p", "-t", paneID)
	if err != nil {
		return false
	}
	return strings.TrimSpace(out) != ""
}
