// Package wip implements the WIP-limited work scheduler: epic and agent
// records with FIFO queueing, bounded per-agent capacity, and manual
// parking. Records are per-project, not per-feature, since agents work
// across features.
package wip

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	swerr "github.com/shipway-dev/shipway/internal/errors"
	"github.com/shipway-dev/shipway/internal/store"
	"github.com/shipway-dev/shipway/internal/types"
)

// Tracker persists epic and agent records under the WIP directory:
// epics/<id>.yaml, epics/archive/<id>.yaml, agents/<id>.yaml.
type Tracker struct {
	dir string // .shipway/wip
}

// NewTracker creates a tracker, recovering interrupted writes.
func NewTracker(dir string) (*Tracker, error) {
	for _, sub := range []string{"epics", filepath.Join("epics", "archive"), "agents"} {
		p := filepath.Join(dir, sub)
		if err := os.MkdirAll(p, 0755); err != nil {
			return nil, fmt.Errorf("creating wip dir: %w", err)
		}
		if err := store.RecoverInterruptedWrites(p); err != nil {
			return nil, fmt.Errorf("recovering interrupted writes: %w", err)
		}
	}
	return &Tracker{dir: dir}, nil
}

func (t *Tracker) epicPath(id string) string {
	return filepath.Join(t.dir, "epics", id+".yaml")
}

func (t *Tracker) archivePath(id string) string {
	return filepath.Join(t.dir, "epics", "archive", id+".yaml")
}

func (t *Tracker) agentPath(id string) string {
	return filepath.Join(t.dir, "agents", id+".yaml")
}

// --- Epics ---

// CreateEpic persists a new epic record. Creating an epic that already
// exists is a no-op, so re-registering a decomposed feature is idempotent.
func (t *Tracker) CreateEpic(ctx context.Context, e *types.Epic) error {
	path := t.epicPath(e.ID)

	lock, err := store.AcquireLock(path)
	if err != nil {
		return err
	}
	defer lock.Release()

	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if _, err := os.Stat(t.archivePath(e.ID)); err == nil {
		return nil
	}
	return t.writeEpic(e)
}

// GetEpic retrieves an epic by ID, checking the archive as well.
func (t *Tracker) GetEpic(ctx context.Context, id string) (*types.Epic, error) {
	e, err := t.readEpic(t.epicPath(id))
	if err == nil {
		return e, nil
	}
	if !os.IsNotExist(err) {
		return nil, err
	}
	e, err = t.readEpic(t.archivePath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, swerr.EpicNotFound(id)
		}
		return nil, err
	}
	return e, nil
}

// UpdateEpic applies mutate under the epic's lock and persists atomically.
func (t *Tracker) UpdateEpic(ctx context.Context, id string, mutate func(*types.Epic) error) (*types.Epic, error) {
	path := t.epicPath(id)

	lock, err := store.AcquireLock(path)
	if err != nil {
		return nil, err
	}
	defer lock.Release()

	e, err := t.readEpic(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, swerr.EpicNotFound(id)
		}
		return nil, err
	}

	if err := mutate(e); err != nil {
		return nil, err
	}

	// Done epics are archived: moved out of the active set.
	if e.State == types.EpicStateDone {
		data, merr := yaml.Marshal(e)
		if merr != nil {
			return nil, fmt.Errorf("marshaling epic %s: %w", id, merr)
		}
		if err := store.WriteAtomic(t.archivePath(id), data); err != nil {
			return nil, err
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return nil, err
		}
		return e, nil
	}

	if err := t.writeEpic(e); err != nil {
		return nil, err
	}
	return e, nil
}

// ListEpics returns active (non-archived) epics sorted by ID.
func (t *Tracker) ListEpics(ctx context.Context) ([]*types.Epic, error) {
	return t.listEpicsIn(filepath.Join(t.dir, "epics"))
}

// ListArchivedEpics returns archived (done) epics sorted by ID.
func (t *Tracker) ListArchivedEpics(ctx context.Context) ([]*types.Epic, error) {
	return t.listEpicsIn(filepath.Join(t.dir, "epics", "archive"))
}

func (t *Tracker) listEpicsIn(dir string) ([]*types.Epic, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var epics []*types.Epic
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".yaml") {
			continue
		}
		e, err := t.readEpic(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		epics = append(epics, e)
	}
	return epics, nil
}

func (t *Tracker) readEpic(path string) (*types.Epic, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var e types.Epic
	if err := yaml.Unmarshal(data, &e); err != nil {
		return nil, swerr.StateCorrupted(path, err)
	}
	return &e, nil
}

func (t *Tracker) writeEpic(e *types.Epic) error {
	data, err := yaml.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshaling epic %s: %w", e.ID, err)
	}
	return store.WriteAtomic(t.epicPath(e.ID), data)
}

// --- Agents ---

// EnsureAgent returns the agent record, creating it with the given WIP
// limit when missing.
func (t *Tracker) EnsureAgent(ctx context.Context, id string, maxEpics int) (*types.Agent, error) {
	path := t.agentPath(id)

	lock, err := store.AcquireLock(path)
	if err != nil {
		return nil, err
	}
	defer lock.Release()

	a, err := t.readAgent(path)
	if err == nil {
		return a, nil
	}
	if !os.IsNotExist(err) {
		return nil, err
	}

	a = types.NewAgent(id, maxEpics)
	if err := t.writeAgent(a); err != nil {
		return nil, err
	}
	return a, nil
}

// GetAgent retrieves an agent by ID.
func (t *Tracker) GetAgent(ctx context.Context, id string) (*types.Agent, error) {
	a, err := t.readAgent(t.agentPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, swerr.AgentNotFound(id)
		}
		return nil, err
	}
	return a, nil
}

// LockAgent acquires the agent's record lock. Assign and park on the same
// agent serialize on this lock (single-writer semantics); operations on
// different agents proceed independently.
func (t *Tracker) LockAgent(id string) (*store.RecordLock, error) {
	return store.AcquireLock(t.agentPath(id))
}

// ReadAgentLocked reads the agent record; the caller must hold its lock.
func (t *Tracker) ReadAgentLocked(id string) (*types.Agent, error) {
	a, err := t.readAgent(t.agentPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, swerr.AgentNotFound(id)
		}
		return nil, err
	}
	return a, nil
}

// WriteAgentLocked persists the agent record; the caller must hold its lock.
func (t *Tracker) WriteAgentLocked(a *types.Agent) error {
	return t.writeAgent(a)
}

// ListAgents returns all agents sorted by ID.
func (t *Tracker) ListAgents(ctx context.Context) ([]*types.Agent, error) {
	dir := filepath.Join(t.dir, "agents")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var agents []*types.Agent
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".yaml") {
			continue
		}
		a, err := t.readAgent(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		agents = append(agents, a)
	}
	return agents, nil
}

func (t *Tracker) readAgent(path string) (*types.Agent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var a types.Agent
	if err := yaml.Unmarshal(data, &a); err != nil {
		return nil, swerr.StateCorrupted(path, err)
	}
	return &a, nil
}

func (t *Tracker) writeAgent(a *types.Agent) error {
	data, err := yaml.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshaling agent %s: %w", a.ID, err)
	}
	return store.WriteAtomic(t.agentPath(a.ID), data)
}
