// Package team defines the team shape for one session: exactly one lead,
// N workers, and one utility agent. The member set is always recomputed
// wholesale from the role shape; there is no incremental mutation, so a
// refresh can never leave a half-updated roster behind.
package team

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Role is the explicit, persisted role of a member. It is carried on every
// runtime record and config entry and never re-derived from name patterns.
type Role string

const (
	RoleLead    Role = "lead"
	RoleWorker  Role = "worker"
	RoleUtility Role = "utility"
)

// ValidRole reports whether r is a known role.
func ValidRole(r Role) bool {
	switch r {
	case RoleLead, RoleWorker, RoleUtility:
		return true
	}
	return false
}

// Worker pool bounds. The floor is enforced everywhere a count is accepted.
const (
	MinWorkers = 2
	MaxWorkers = 4
)

// Member is one configured agent.
type Member struct {
	Name          string `yaml:"name"`
	Role          Role   `yaml:"role"`
	Model         string `yaml:"model,omitempty"`
	Profile       string `yaml:"profile,omitempty"`
	WorkspacePath string `yaml:"workspace_path,omitempty"`
	Backend       string `yaml:"backend,omitempty"`
}

// Config is the persisted team document (config.yaml in the session root).
type Config struct {
	SessionID   string    `yaml:"session_id"`
	Description string    `yaml:"description,omitempty"`
	CreatedAt   time.Time `yaml:"created_at"`
	Members     []Member  `yaml:"members"`
}

// Build computes the full member set for a session: lead ×1, workers ×N,
// utility ×1. workerCount below the floor or above the cap is an error.
func Build(sessionID string, workerCount int, description string) (*Config, error) {
	if workerCount < MinWorkers || workerCount > MaxWorkers {
		return nil, fmt.Errorf("worker count %d out of range [%d, %d]", workerCount, MinWorkers, MaxWorkers)
	}

	members := []Member{{Name: "lead", Role: RoleLead}}
	for i := 1; i <= workerCount; i++ {
		members = append(members, Member{Name: fmt.Sprintf("worker-%d", i), Role: RoleWorker})
	}
	members = append(members, Member{Name: "utility", Role: RoleUtility})

	return &Config{
		SessionID:   sessionID,
		Description: description,
		CreatedAt:   time.Now().UTC(),
		Members:     members,
	}, nil
}

// Refresh recomputes the member set for a new worker count, preserving
// session identity and description. Per-member fields (model, workspace,
// backend) are rebuilt from scratch: the config is replaceable, not
// incrementally mutable.
func (c *Config) Refresh(workerCount int) error {
	next, err := Build(c.SessionID, workerCount, c.Description)
	if err != nil {
		return err
	}
	next.CreatedAt = c.CreatedAt
	*c = *next
	return nil
}

// Workers returns the worker members.
func (c *Config) Workers() []Member {
	var out []Member
	for _, m := range c.Members {
		if m.Role == RoleWorker {
			out = append(out, m)
		}
	}
	return out
}

// Lead returns the lead member.
func (c *Config) Lead() (Member, bool) {
	for _, m := range c.Members {
		if m.Role == RoleLead {
			return m, true
		}
	}
	return Member{}, false
}

// Find returns the member with the given name.
func (c *Config) Find(name string) (Member, bool) {
	for _, m := range c.Members {
		if m.Name == name {
			return m, true
		}
	}
	return Member{}, false
}

// SetWorkspace records the allocated workspace path for a member.
func (c *Config) SetWorkspace(name, path string) {
	for i := range c.Members {
		if c.Members[i].Name == name {
			c.Members[i].WorkspacePath = path
			return
		}
	}
}

// SetBackend records the resolved backend on every member.
func (c *Config) SetBackend(backend string) {
	for i := range c.Members {
		c.Members[i].Backend = backend
	}
}

// Save writes the team config as YAML.
func Save(path string, c *Config) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal team config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write team config %q: %w", path, err)
	}
	return nil
}

// Load reads the team config from YAML.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read team config %q: %w", path, err)
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse team config %q: %w", path, err)
	}
	for _, m := range c.Members {
		if !ValidRole(m.Role) {
			return nil, fmt.Errorf("member %q has invalid role %q", m.Name, m.Role)
		}
	}
	return &c, nil
}
