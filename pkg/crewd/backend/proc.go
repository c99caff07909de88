// Package backend – proc.go launches agent processes from a typed
// descriptor. There is no shell in the path: executable and arguments go
// straight to os/exec, and the environment is an explicit map.
package backend

import (
	"fmt"
	"os"
	"os/exec"
	"sort"
	"syscall"
)

// ProcDesc fully describes one process launch.
type ProcDesc struct {
	Path string
	Args []string
	Env  map[string]string
	Dir  string
}

// Command builds the exec.Cmd for the descriptor. The child gets its own
// process group so the whole tree can be signalled on shutdown.
func (d ProcDesc) Command() *exec.Cmd {
	cmd := exec.Command(d.Path, d.Args...)
	cmd.Dir = d.Dir
	cmd.Env = d.environ()
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	return cmd
}

// environ merges the descriptor env over the parent environment,
// deterministically ordered for reproducible spawn records.
func (d ProcDesc) environ() []string {
	merged := map[string]string{}
	for _, kv := range os.Environ() {
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				merged[kv[:i]] = kv[i+1:]
				break
			}
		}
	}
	for k, v := range d.Env {
		merged[k] = v
	}
	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	env := make([]string, 0, len(keys))
	for _, k := range keys {
		env = append(env, k+"="+merged[k])
	}
	return env
}

// Start launches the process and returns its pid. The returned wait
// function blocks until exit and reports the exit code.
func (d ProcDesc) Start() (pid int, wait func() int, err error) {
	cmd := d.Command()
	if err := cmd.Start(); err != nil {
		return 0, nil, fmt.Errorf("start %s: %w", d.Path, err)
	}
	return cmd.Process.Pid, func() int {
		err := cmd.Wait()
		if err == nil {
			return 0
		}
		if exitErr, ok := err.(*exec.ExitError); ok {
			return exitErr.ExitCode()
		}
		return -1
	}, nil
}

// Signal sends sig to the process group of pid.
func Signal(pid int, sig syscall.Signal) error {
	// Negative pid targets the group set via Setpgid.
	if err := syscall.Kill(-pid, sig); err != nil {
		return fmt.Errorf("signal pid %d: %w", pid, err)
	}
	return nil
}
