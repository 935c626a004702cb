package wip

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	swerr "github.com/shipway-dev/shipway/internal/errors"
	"github.com/shipway-dev/shipway/internal/logging"
	"github.com/shipway-dev/shipway/internal/types"
)

// Outcome is the result kind of an assign call.
type Outcome string

const (
	OutcomeAssigned Outcome = "assigned"
	OutcomeQueued   Outcome = "queued"
)

// AssignResult describes what happened to an assign call.
type AssignResult struct {
	Outcome Outcome
	EpicID  string
	AgentID string

	// QueuePosition is the 1-based position when queued.
	QueuePosition int
}

// Scheduler is the admission controller for epic-to-agent assignment.
// Each public operation is a single short-lived invocation; mutual
// exclusion per agent comes from the tracker's record locks.
type Scheduler struct {
	tracker  *Tracker
	maxEpics int
	logger   *slog.Logger
}

// NewScheduler creates a scheduler with the configured per-agent WIP limit.
func NewScheduler(tracker *Tracker, maxEpics int, logger *slog.Logger) *Scheduler {
	if maxEpics <= 0 {
		maxEpics = 1
	}
	if logger == nil {
		logger = logging.NewDefault()
	}
	return &Scheduler{tracker: tracker, maxEpics: maxEpics, logger: logger}
}

// Assign assigns an epic to an agent, or queues it FIFO when the agent is
// at its WIP limit. An empty agentID picks the free agent with the
// lexicographically smallest ID (deterministic cross-agent rule); with no
// free agent the epic queues on the least-loaded, smallest-ID agent.
// The epic must be contracts_locked, or parked (re-assignment after park).
func (s *Scheduler) Assign(ctx context.Context, epicID, agentID string) (*AssignResult, error) {
	epic, err := s.tracker.GetEpic(ctx, epicID)
	if err != nil {
		return nil, err
	}
	if epic.State != types.EpicStateContractsLocked && epic.State != types.EpicStateParked {
		return nil, swerr.EpicInvalidState(epicID, string(epic.State), "assign")
	}

	if agentID == "" {
		agentID, err = s.pickAgent(ctx)
		if err != nil {
			return nil, err
		}
	} else {
		if _, err := s.tracker.EnsureAgent(ctx, agentID, s.maxEpics); err != nil {
			return nil, err
		}
	}

	// A re-assign moves the epic: any queue entry it holds on another
	// agent is dropped first.
	if err := s.dropQueued(ctx, epicID, agentID); err != nil {
		return nil, err
	}

	lock, err := s.tracker.LockAgent(agentID)
	if err != nil {
		return nil, err
	}
	defer lock.Release()

	return s.assignLocked(ctx, epicID, agentID)
}

// assignLocked performs the assignment; the caller holds the agent lock.
func (s *Scheduler) assignLocked(ctx context.Context, epicID, agentID string) (*AssignResult, error) {
	agent, err := s.tracker.ReadAgentLocked(agentID)
	if err != nil {
		return nil, err
	}

	log := logging.WithAgent(logging.WithEpic(s.logger, epicID), agentID)

	if !agent.HasCapacity() {
		// Re-assigning an already-queued epic to the same agent keeps
		// its position instead of duplicating the entry.
		for i, entry := range agent.Queue {
			if entry.EpicID == epicID {
				return &AssignResult{
					Outcome:       OutcomeQueued,
					EpicID:        epicID,
					AgentID:       agentID,
					QueuePosition: i + 1,
				}, nil
			}
		}
		agent.Enqueue(epicID, time.Now().UTC())
		if err := s.tracker.WriteAgentLocked(agent); err != nil {
			return nil, err
		}
		log.Info("epic queued", "position", len(agent.Queue))
		return &AssignResult{
			Outcome:       OutcomeQueued,
			EpicID:        epicID,
			AgentID:       agentID,
			QueuePosition: len(agent.Queue),
		}, nil
	}

	if err := agent.TakeEpic(epicID); err != nil {
		return nil, err
	}
	if _, err := s.tracker.UpdateEpic(ctx, epicID, func(e *types.Epic) error {
		if err := e.Transition(types.EpicStateImplementing); err != nil {
			return swerr.EpicInvalidState(epicID, string(e.State), "assign").WithCause(err)
		}
		e.AssignedAgent = agentID
		return nil
	}); err != nil {
		return nil, err
	}
	if err := s.tracker.WriteAgentLocked(agent); err != nil {
		return nil, err
	}

	log.Info("epic assigned")
	return &AssignResult{Outcome: OutcomeAssigned, EpicID: epicID, AgentID: agentID}, nil
}

// dropQueued removes the epic from any other agent's queue so at most one
// agent ever holds it. Each agent is locked on its own, never two at once.
func (s *Scheduler) dropQueued(ctx context.Context, epicID, targetAgent string) error {
	agents, err := s.tracker.ListAgents(ctx)
	if err != nil {
		return err
	}
	for _, a := range agents {
		if a.ID == targetAgent {
			continue
		}
		queued := false
		for _, entry := range a.Queue {
			if entry.EpicID == epicID {
				queued = true
				break
			}
		}
		if !queued {
			continue
		}

		lock, err := s.tracker.LockAgent(a.ID)
		if err != nil {
			return err
		}
		cur, err := s.tracker.ReadAgentLocked(a.ID)
		if err != nil {
			lock.Release()
			return err
		}
		if cur.RemoveFromQueue(epicID) {
			if err := s.tracker.WriteAgentLocked(cur); err != nil {
				lock.Release()
				return err
			}
			logging.WithEpic(s.logger, epicID).Info("queue entry moved", "from_agent", a.ID)
		}
		lock.Release()
	}
	return nil
}

// Park parks an implementing epic, freeing its agent slot, and drains the
// earliest queue entry waiting for that agent.
func (s *Scheduler) Park(ctx context.Context, epicID, reason string) (*AssignResult, error) {
	epic, err := s.tracker.GetEpic(ctx, epicID)
	if err != nil {
		return nil, err
	}
	if epic.AssignedAgent == "" || epic.State != types.EpicStateImplementing {
		return nil, swerr.EpicInvalidState(epicID, string(epic.State), "park")
	}
	agentID := epic.AssignedAgent

	lock, err := s.tracker.LockAgent(agentID)
	if err != nil {
		return nil, err
	}
	defer lock.Release()

	if _, err := s.tracker.UpdateEpic(ctx, epicID, func(e *types.Epic) error {
		return e.Park(reason, time.Now().UTC())
	}); err != nil {
		return nil, err
	}

	agent, err := s.tracker.ReadAgentLocked(agentID)
	if err != nil {
		return nil, err
	}
	agent.ReleaseEpic(epicID)
	if err := s.tracker.WriteAgentLocked(agent); err != nil {
		return nil, err
	}

	s.logger.Info("epic parked", "epic_id", epicID, "agent", agentID, "reason", reason)

	return s.drainLocked(ctx, agent)
}

// Complete marks an implementing epic done, archives it, frees its agent
// slot, and drains the agent's queue.
func (s *Scheduler) Complete(ctx context.Context, epicID string) (*AssignResult, error) {
	epic, err := s.tracker.GetEpic(ctx, epicID)
	if err != nil {
		return nil, err
	}
	if epic.State != types.EpicStateImplementing {
		return nil, swerr.EpicInvalidState(epicID, string(epic.State), "complete")
	}
	agentID := epic.AssignedAgent

	lock, err := s.tracker.LockAgent(agentID)
	if err != nil {
		return nil, err
	}
	defer lock.Release()

	if _, err := s.tracker.UpdateEpic(ctx, epicID, func(e *types.Epic) error {
		return e.Transition(types.EpicStateDone)
	}); err != nil {
		return nil, err
	}

	agent, err := s.tracker.ReadAgentLocked(agentID)
	if err != nil {
		return nil, err
	}
	agent.ReleaseEpic(epicID)
	if err := s.tracker.WriteAgentLocked(agent); err != nil {
		return nil, err
	}

	s.logger.Info("epic done", "epic_id", epicID, "agent", agentID)

	return s.drainLocked(ctx, agent)
}

// drainLocked assigns the earliest queued epic to the agent if a slot is
// free; the caller holds the agent lock. Queue entries for other agents
// are unaffected. Stale entries (epic no longer assignable) are dropped.
func (s *Scheduler) drainLocked(ctx context.Context, agent *types.Agent) (*AssignResult, error) {
	for agent.HasCapacity() {
		entry, ok := agent.DequeueEarliest()
		if !ok {
			return nil, nil
		}
		if err := s.tracker.WriteAgentLocked(agent); err != nil {
			return nil, err
		}

		epic, err := s.tracker.GetEpic(ctx, entry.EpicID)
		if err != nil {
			if swerr.HasCode(err, swerr.CodeEpicNotFound) {
				continue
			}
			return nil, err
		}
		if epic.State != types.EpicStateContractsLocked && epic.State != types.EpicStateParked {
			s.logger.Warn("dropping stale queue entry", "epic_id", entry.EpicID, "state", string(epic.State))
			continue
		}

		return s.assignLocked(ctx, entry.EpicID, agent.ID)
	}
	return nil, nil
}

// pickAgent chooses the target for an agent-less assign: the free agent
// with the smallest ID, else the least-loaded (active + queued) agent with
// the smallest ID.
func (s *Scheduler) pickAgent(ctx context.Context) (string, error) {
	agents, err := s.tracker.ListAgents(ctx)
	if err != nil {
		return "", err
	}
	if len(agents) == 0 {
		return "", swerr.AgentNotFound("(none registered)")
	}

	sort.Slice(agents, func(i, j int) bool { return agents[i].ID < agents[j].ID })

	for _, a := range agents {
		if a.HasCapacity() {
			return a.ID, nil
		}
	}

	best := agents[0]
	bestLoad := len(best.CurrentEpics) + len(best.Queue)
	for _, a := range agents[1:] {
		load := len(a.CurrentEpics) + len(a.Queue)
		if load < bestLoad {
			best, bestLoad = a, load
		}
	}
	return best.ID, nil
}

// Snapshot is a read-only projection of the tracker for list/dashboard.
type Snapshot struct {
	Epics    []*types.Epic
	Archived []*types.Epic
	Agents   []*types.Agent
}

// Snapshot returns the current tracker contents. Never mutates state.
func (s *Scheduler) Snapshot(ctx context.Context) (*Snapshot, error) {
	epics, err := s.tracker.ListEpics(ctx)
	if err != nil {
		return nil, err
	}
	archived, err := s.tracker.ListArchivedEpics(ctx)
	if err != nil {
		return nil, err
	}
	agents, err := s.tracker.ListAgents(ctx)
	if err != nil {
		return nil, err
	}
	return &Snapshot{Epics: epics, Archived: archived, Agents: agents}, nil
}

// PendingForFeature reports epics of a feature that are not done yet.
func (s *Scheduler) PendingForFeature(ctx context.Context, featureID string) ([]string, error) {
	epics, err := s.tracker.ListEpics(ctx)
	if err != nil {
		return nil, err
	}
	var pending []string
	for _, e := range epics {
		if e.FeatureID == featureID && e.State != types.EpicStateDone {
			pending = append(pending, e.ID)
		}
	}
	sort.Strings(pending)
	return pending, nil
}

// String renders an assign result for CLI output.
func (r *AssignResult) String() string {
	if r == nil {
		return ""
	}
	switch r.Outcome {
	case OutcomeAssigned:
		return fmt.Sprintf("epic %s assigned to agent %s", r.EpicID, r.AgentID)
	case OutcomeQueued:
		return fmt.Sprintf("epic %s queued for agent %s (position %d)", r.EpicID, r.AgentID, r.QueuePosition)
	default:
		return fmt.Sprintf("epic %s: %s", r.EpicID, r.Outcome)
	}
}
