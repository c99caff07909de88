package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "crewd.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Backend != "auto" {
		t.Errorf("Backend = %q, want auto", cfg.Backend)
	}
	if cfg.DirtyBase != DirtyForbid {
		t.Errorf("DirtyBase = %q, want forbid", cfg.DirtyBase)
	}
	if cfg.PollInterval.Std() != 2*time.Second {
		t.Errorf("PollInterval = %s, want 2s", cfg.PollInterval.Std())
	}
}

func TestLoadOverlaysFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crewd.yaml")
	data := "backend: hub\ndirty_base: snapshot\npoll_interval: 500ms\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Backend != "hub" {
		t.Errorf("Backend = %q, want hub", cfg.Backend)
	}
	if cfg.DirtyBase != DirtySnapshot {
		t.Errorf("DirtyBase = %q, want snapshot", cfg.DirtyBase)
	}
	if cfg.PollInterval.Std() != 500*time.Millisecond {
		t.Errorf("PollInterval = %s, want 500ms", cfg.PollInterval.Std())
	}
}

func TestPollIntervalAcceptsDurationStrings(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{"poll_interval: 2s\n", 2 * time.Second, false},
		{"poll_interval: 1m30s\n", 90 * time.Second, false},
		{"poll_interval: 250000000\n", 250 * time.Millisecond, false}, // raw nanoseconds
		{"poll_interval: soon\n", 0, true},
		{"poll_interval: -5s\n", 0, true}, // rejected by Validate
	}
	for _, tt := range tests {
		path := filepath.Join(t.TempDir(), "crewd.yaml")
		if err := os.WriteFile(path, []byte(tt.raw), 0o644); err != nil {
			t.Fatal(err)
		}
		cfg, err := Load(path)
		if tt.wantErr {
			if err == nil {
				t.Errorf("Load(%q) accepted invalid poll_interval", tt.raw)
			}
			continue
		}
		if err != nil {
			t.Errorf("Load(%q) error = %v", tt.raw, err)
			continue
		}
		if cfg.PollInterval.Std() != tt.want {
			t.Errorf("Load(%q) PollInterval = %s, want %s", tt.raw, cfg.PollInterval.Std(), tt.want)
		}
	}
}

func TestLoadRejectsBadPolicy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crewd.yaml")
	if err := os.WriteFile(path, []byte("dirty_base: yolo\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Load() accepted invalid dirty_base policy")
	}
}

func TestValidateSessionName(t *testing.T) {
	t.Parallel()

	valid := []string{"main", "feature-x", "v1.2", "team_a", "a"}
	for _, name := range valid {
		if err := ValidateSessionName(name); err != nil {
			t.Errorf("ValidateSessionName(%q) = %v, want nil", name, err)
		}
	}

	invalid := []string{"", "UPPER", "has space", "-leading", "../escape", "a/b"}
	for _, name := range invalid {
		if err := ValidateSessionName(name); err == nil {
			t.Errorf("ValidateSessionName(%q) = nil, want error", name)
		}
	}
}

func TestCheckGates(t *testing.T) {
	t.Setenv(EnvEnabled, "") // register restore, then clear
	os.Unsetenv(EnvEnabled)
	t.Setenv(EnvFleetOK, "1")

	if err := CheckGates(); err == nil {
		t.Error("CheckGates() = nil with CREWD_ENABLED unset")
	}

	t.Setenv(EnvEnabled, "1")
	if err := CheckGates(); err != nil {
		t.Errorf("CheckGates() = %v with both gates set", err)
	}

	t.Setenv(EnvFleetOK, "false")
	err := CheckGates()
	if err == nil {
		t.Fatal("CheckGates() = nil with CREWD_FLEET_OK=false")
	}
	ge, ok := err.(*GateError)
	if !ok {
		t.Fatalf("error type = %T, want *GateError", err)
	}
	if ge.Variable != EnvFleetOK {
		t.Errorf("GateError.Variable = %q, want %q", ge.Variable, EnvFleetOK)
	}
}

func TestSessionPathsLayout(t *testing.T) {
	t.Parallel()

	p := NewSessionPaths("/state", "main")
	if got, want := p.Database(), filepath.Join("/state", "sessions", "main", "crew.db"); got != want {
		t.Errorf("Database() = %q, want %q", got, want)
	}
	if got, want := p.Inbox("worker-1"), filepath.Join("/state", "sessions", "main", "inboxes", "worker-1.json"); got != want {
		t.Errorf("Inbox() = %q, want %q", got, want)
	}
}
