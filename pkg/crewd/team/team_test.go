package team

import (
	"path/filepath"
	"testing"
)

func TestBuildShape(t *testing.T) {
	t.Parallel()

	cfg, err := Build("main", 3, "refactor the store")
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if len(cfg.Members) != 5 {
		t.Fatalf("member count = %d, want 5 (lead + 3 workers + utility)", len(cfg.Members))
	}
	if lead, ok := cfg.Lead(); !ok || lead.Name != "lead" {
		t.Errorf("Lead() = %+v, %v", lead, ok)
	}
	if got := len(cfg.Workers()); got != 3 {
		t.Errorf("Workers() = %d, want 3", got)
	}
	last := cfg.Members[len(cfg.Members)-1]
	if last.Role != RoleUtility {
		t.Errorf("last member role = %q, want utility", last.Role)
	}
}

func TestBuildEnforcesWorkerBounds(t *testing.T) {
	t.Parallel()

	for _, n := range []int{-1, 0, 1, 5, 100} {
		if _, err := Build("main", n, ""); err == nil {
			t.Errorf("Build(workers=%d) = nil error, want out-of-range error", n)
		}
	}
	for _, n := range []int{2, 3, 4} {
		if _, err := Build("main", n, ""); err != nil {
			t.Errorf("Build(workers=%d) error = %v, want nil", n, err)
		}
	}
}

func TestRefreshRecomputesWholeRoster(t *testing.T) {
	t.Parallel()

	cfg, _ := Build("main", 2, "desc")
	cfg.SetWorkspace("worker-1", "/tmp/ws/worker-1")
	created := cfg.CreatedAt

	if err := cfg.Refresh(4); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if got := len(cfg.Workers()); got != 4 {
		t.Errorf("workers after refresh = %d, want 4", got)
	}
	if cfg.CreatedAt != created {
		t.Error("Refresh changed CreatedAt")
	}
	// Full recompute: stale per-member state does not survive.
	if m, _ := cfg.Find("worker-1"); m.WorkspacePath != "" {
		t.Errorf("worker-1 workspace survived refresh: %q", m.WorkspacePath)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg, _ := Build("main", 2, "round trip")
	cfg.SetBackend("procs")

	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.SessionID != "main" || len(loaded.Members) != 4 {
		t.Errorf("loaded = %+v", loaded)
	}
	if loaded.Members[0].Backend != "procs" {
		t.Errorf("backend not persisted: %q", loaded.Members[0].Backend)
	}
}
