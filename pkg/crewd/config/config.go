// Package config defines crewd's configuration structures and the on-disk
// session layout. Config values come from crewd.yaml with defaults overlaid;
// secrets are never kept in the file itself.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DirtyBasePolicy governs how uncommitted tracked changes in the base
// repository are handled when workspaces are allocated. Chosen once per
// session, never per agent.
type DirtyBasePolicy string

const (
	// DirtyForbid aborts allocation when the base working tree is dirty.
	DirtyForbid DirtyBasePolicy = "forbid"

	// DirtySnapshot snapshots uncommitted changes into an ephemeral base
	// commit that every agent workspace branches from.
	DirtySnapshot DirtyBasePolicy = "snapshot"

	// DirtyIgnore allocates from HEAD and leaves local changes alone.
	DirtyIgnore DirtyBasePolicy = "ignore"
)

// Duration is a time.Duration that yaml-decodes from strings like "2s"
// or "500ms". Plain integers are accepted as nanoseconds.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("invalid duration %q", value.Value)
	}
	if v, err := time.ParseDuration(s); err == nil {
		*d = Duration(v)
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid duration %q: want a value like 2s or 500ms", s)
	}
	*d = Duration(n)
	return nil
}

// Config holds all crewd configuration.
type Config struct {
	// StateDir is where session state lives. Defaults to ~/.crewd.
	StateDir string `yaml:"state_dir"`

	// Repo is the base repository workspaces are derived from.
	// Defaults to the current working directory.
	Repo string `yaml:"repo"`

	// AgentCommand is the executable launched for each agent pane/process.
	// Arguments are always passed as a typed descriptor, never a shell string.
	AgentCommand string `yaml:"agent_command"`

	// Backend is the requested execution strategy: auto, tmux, procs, hub.
	Backend string `yaml:"backend"`

	// DirtyBase selects the dirty-base policy for workspace allocation.
	DirtyBase DirtyBasePolicy `yaml:"dirty_base"`

	// PollInterval is the mailbox poll cadence for agent loops.
	PollInterval Duration `yaml:"poll_interval"`

	// HeartbeatSchedule is the cron expression for agent pulse messages.
	HeartbeatSchedule string `yaml:"heartbeat_schedule"`

	// KeyringService, when set, names a system-keyring service whose
	// secret is injected into spawned agent environments as AGENT_API_KEY.
	KeyringService string `yaml:"keyring_service"`
	KeyringUser    string `yaml:"keyring_user"`

	// Logging configures log output.
	Logging LoggingConfig `yaml:"logging"`
}

// LoggingConfig configures the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// Default returns the baseline configuration.
func Default() *Config {
	home, _ := os.UserHomeDir()
	cwd, _ := os.Getwd()
	return &Config{
		StateDir:          filepath.Join(home, ".crewd"),
		Repo:              cwd,
		AgentCommand:      "crewd",
		Backend:           "auto",
		DirtyBase:         DirtyForbid,
		PollInterval:      Duration(2 * time.Second),
		HeartbeatSchedule: "*/5 * * * *",
		Logging:           LoggingConfig{Level: "info", Format: "text"},
	}
}

// Load reads crewd.yaml from the given path, overlaying defaults. A missing
// file is not an error: defaults apply. .env files are loaded first so gate
// variables and keyring overrides can live next to the config.
func Load(path string) (*Config, error) {
	godotenv.Load() // ignore absence

	cfg := Default()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %q: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks enum-valued fields.
func (c *Config) Validate() error {
	switch c.DirtyBase {
	case DirtyForbid, DirtySnapshot, DirtyIgnore:
	default:
		return fmt.Errorf("invalid dirty_base policy %q (want forbid, snapshot or ignore)", c.DirtyBase)
	}
	switch c.Backend {
	case "auto", "tmux", "procs", "hub":
	default:
		return fmt.Errorf("invalid backend %q (want auto, tmux, procs or hub)", c.Backend)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive, got %s", c.PollInterval.Std())
	}
	return nil
}

// Save writes the config as YAML, creating parent directories.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config %q: %w", path, err)
	}
	return nil
}
