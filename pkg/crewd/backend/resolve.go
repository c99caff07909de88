package backend

import (
	"fmt"
	"os"

	"golang.org/x/term"
)

// Resolve turns a requested mode into a concrete backend. Auto picks the
// tmux backend only when the caller is interactive and a tmux session is
// already active; otherwise it falls back to isolated processes. Explicit
// modes pass through unchanged, except tmux without a live session, which
// fails rather than spawning panes nobody can see.
func Resolve(requested Backend, interactive, tmuxPresent bool) (Backend, error) {
	switch requested {
	case ModeAuto:
		if interactive && tmuxPresent {
			return BackendTmux, nil
		}
		return BackendProcs, nil
	case BackendTmux:
		if !tmuxPresent {
			return "", ErrNoTmux
		}
		return BackendTmux, nil
	case BackendProcs, BackendHub:
		return requested, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownBackend, requested)
	}
}

// Interactive reports whether stdout is attached to a terminal.
func Interactive() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// TmuxPresent reports whether the caller runs inside a live tmux session.
func TmuxPresent() bool {
	return os.Getenv("TMUX") != ""
}
