// Package backend – runtime.go persists agent runtime records to the
// session's runtime.json via atomic replace, so concurrent readers (status
// command, dashboards) never see a torn document.
package backend

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/dmarchetti/crewd/pkg/crewd/bus"
)

// runtimeDocument is the runtime.json schema.
type runtimeDocument struct {
	UpdatedAt time.Time                 `json:"updated_at"`
	Agents    map[string]*RuntimeRecord `json:"agents"`
}

// RuntimeStore tracks runtime records in memory and mirrors every change
// to disk. Records survive process restarts and are never deleted, only
// marked terminated.
type RuntimeStore struct {
	path string

	mu      sync.RWMutex
	records map[string]*RuntimeRecord
}

// OpenRuntime loads (or initializes) the runtime store at path.
func OpenRuntime(path string) (*RuntimeStore, error) {
	rs := &RuntimeStore{path: path, records: make(map[string]*RuntimeRecord)}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return rs, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read runtime state %q: %w", path, err)
	}
	var doc runtimeDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse runtime state %q: %w", path, err)
	}
	if doc.Agents != nil {
		rs.records = doc.Agents
	}
	return rs, nil
}

// Put inserts or replaces a record and flushes to disk.
func (rs *RuntimeStore) Put(rec *RuntimeRecord) error {
	rs.mu.Lock()
	rs.records[rec.AgentName] = rec
	err := rs.flushLocked()
	rs.mu.Unlock()
	return err
}

// Get returns a copy of one agent's record.
func (rs *RuntimeStore) Get(agent string) (*RuntimeRecord, bool) {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	rec, ok := rs.records[agent]
	if !ok {
		return nil, false
	}
	c := *rec
	return &c, true
}

// List returns all records sorted by agent name.
func (rs *RuntimeStore) List() []*RuntimeRecord {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	out := make([]*RuntimeRecord, 0, len(rs.records))
	for _, rec := range rs.records {
		c := *rec
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentName < out[j].AgentName })
	return out
}

// SetStatus transitions a record and flushes. Terminating records the stop
// time and, when provided, the exit code.
func (rs *RuntimeStore) SetStatus(agent string, status AgentStatus, exitCode *int) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rec, ok := rs.records[agent]
	if !ok {
		return fmt.Errorf("%w: %q", ErrAgentNotFound, agent)
	}
	rec.Status = status
	if status == StatusTerminated {
		now := time.Now().UTC()
		rec.StoppedAt = &now
		rec.ExitCode = exitCode
	}
	return rs.flushLocked()
}

func (rs *RuntimeStore) flushLocked() error {
	doc := runtimeDocument{UpdatedAt: time.Now().UTC(), Agents: rs.records}
	if err := bus.WriteJSONAtomic(rs.path, doc); err != nil {
		return fmt.Errorf("flush runtime state: %w", err)
	}
	return nil
}
