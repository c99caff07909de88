// Package workspace – git.go wraps git invocation. Arguments are always
// passed as a typed slice to os/exec, never assembled into a shell string.
package workspace

import (
	"fmt"
	"os/exec"
	"strings"
)

// runGit executes git in dir and returns trimmed combined output.
func runGit(dir string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	result := strings.TrimSpace(string(out))
	if err != nil {
		if result != "" {
			return "", fmt.Errorf("git %s: %s", args[0], result)
		}
		return "", fmt.Errorf("git %s: %w", args[0], err)
	}
	return result, nil
}
