package commands

import (
	"errors"
	"fmt"
	"testing"
)

func TestExitCode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"usage error", usageErrf("bad flag"), 2},
		{"wrapped usage error", fmt.Errorf("context: %w", usageErrf("bad flag")), 2},
		{"environment error", errors.New("tmux not running"), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExitCode(tt.err); got != tt.want {
				t.Errorf("ExitCode() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestWorkerCountFrom(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw     string
		task    string
		want    int
		wantErr bool
	}{
		{"3", "", 3, false},
		{"2", "", 2, false},
		{"4", "", 4, false},
		{"auto", "quick fix", 2, false},
		{"1", "", 0, true},
		{"5", "", 0, true},
		{"many", "", 0, true},
	}
	for _, tt := range tests {
		got, err := workerCountFrom(tt.raw, tt.task)
		if (err != nil) != tt.wantErr {
			t.Errorf("workerCountFrom(%q) error = %v, wantErr %v", tt.raw, err, tt.wantErr)
			continue
		}
		if err != nil {
			if ExitCode(err) != 2 {
				t.Errorf("workerCountFrom(%q) error is not a usage error", tt.raw)
			}
			continue
		}
		if got != tt.want {
			t.Errorf("workerCountFrom(%q) = %d, want %d", tt.raw, got, tt.want)
		}
	}
}
