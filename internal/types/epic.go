package types

import (
	"fmt"
	"time"
)

// EpicState represents the lifecycle state of an epic.
type EpicState string

const (
	EpicStateDrafted         EpicState = "drafted"
	EpicStateContractsLocked EpicState = "contracts_locked"
	EpicStateImplementing    EpicState = "implementing"
	EpicStateParked          EpicState = "parked"
	EpicStateDone            EpicState = "done"
)

// Valid returns true if this is a recognized epic state.
func (s EpicState) Valid() bool {
	switch s {
	case EpicStateDrafted, EpicStateContractsLocked, EpicStateImplementing,
		EpicStateParked, EpicStateDone:
		return true
	}
	return false
}

// epicTransitions is the allowed epic state machine:
// drafted -> contracts_locked -> implementing -> done,
// implementing -> parked, parked -> implementing (via a new assign only).
var epicTransitions = map[EpicState][]EpicState{
	EpicStateDrafted:         {EpicStateContractsLocked},
	EpicStateContractsLocked: {EpicStateImplementing},
	EpicStateImplementing:    {EpicStateParked, EpicStateDone},
	EpicStateParked:          {EpicStateImplementing},
	EpicStateDone:            {},
}

// CanTransition reports whether s -> to is a legal transition.
func (s EpicState) CanTransition(to EpicState) bool {
	for _, next := range epicTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// ParkRecord logs one parking of an epic.
type ParkRecord struct {
	Reason string    `yaml:"reason"`
	At     time.Time `yaml:"at"`
}

// Epic is a unit of implementation work assignable to exactly one agent
// at a time.
type Epic struct {
	ID            string    `yaml:"id"`
	FeatureID     string    `yaml:"feature_id"`
	Title         string    `yaml:"title,omitempty"`
	State         EpicState `yaml:"state"`
	AssignedAgent string    `yaml:"assigned_agent,omitempty"`
	ContractsRef  string    `yaml:"contracts_ref,omitempty"`

	Parks []ParkRecord `yaml:"parks,omitempty"`

	CreatedAt time.Time  `yaml:"created_at"`
	UpdatedAt time.Time  `yaml:"updated_at"`
	DoneAt    *time.Time `yaml:"done_at,omitempty"`
}

// NewEpic creates a drafted epic.
func NewEpic(id, featureID, title string) *Epic {
	now := time.Now().UTC()
	return &Epic{
		ID:        id,
		FeatureID: featureID,
		Title:     title,
		State:     EpicStateDrafted,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Transition moves the epic to a new state, enforcing the state machine.
func (e *Epic) Transition(to EpicState) error {
	if !e.State.CanTransition(to) {
		return fmt.Errorf("invalid epic transition: %s -> %s", e.State, to)
	}
	e.State = to
	e.UpdatedAt = time.Now().UTC()
	if to == EpicStateDone {
		now := time.Now().UTC()
		e.DoneAt = &now
	}
	return nil
}

// LockContracts transitions drafted -> contracts_locked with the given ref.
func (e *Epic) LockContracts(ref string) error {
	if err := e.Transition(EpicStateContractsLocked); err != nil {
		return err
	}
	e.ContractsRef = ref
	return nil
}

// Park records a park with reason and clears the agent assignment.
func (e *Epic) Park(reason string, at time.Time) error {
	if err := e.Transition(EpicStateParked); err != nil {
		return err
	}
	e.AssignedAgent = ""
	e.Parks = append(e.Parks, ParkRecord{Reason: reason, At: at})
	return nil
}

// QueueEntry is one epic waiting for a specific agent, FIFO per agent.
type QueueEntry struct {
	EpicID     string    `yaml:"epic_id"`
	EnqueuedAt time.Time `yaml:"enqueued_at"`
}

// Agent is an execution identity with a bounded work-in-progress capacity.
type Agent struct {
	ID       string `yaml:"id"`
	MaxEpics int    `yaml:"max_epics"`

	// CurrentEpics are epics in implementing state assigned to this agent.
	// len(CurrentEpics) <= MaxEpics at all times.
	CurrentEpics []string `yaml:"current_epics,omitempty"`

	// Queue holds epics waiting for this agent in FIFO order.
	Queue []QueueEntry `yaml:"queue,omitempty"`

	CreatedAt time.Time `yaml:"created_at"`
	UpdatedAt time.Time `yaml:"updated_at"`
}

// NewAgent creates an agent with the given WIP limit.
func NewAgent(id string, maxEpics int) *Agent {
	now := time.Now().UTC()
	if maxEpics <= 0 {
		maxEpics = 1
	}
	return &Agent{
		ID:        id,
		MaxEpics:  maxEpics,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// HasCapacity reports whether the agent can take another epic.
func (a *Agent) HasCapacity() bool {
	return len(a.CurrentEpics) < a.MaxEpics
}

// TakeEpic records an epic as actively assigned to this agent.
func (a *Agent) TakeEpic(epicID string) error {
	if !a.HasCapacity() {
		return fmt.Errorf("agent %s is at WIP limit (%d)", a.ID, a.MaxEpics)
	}
	for _, id := range a.CurrentEpics {
		if id == epicID {
			return fmt.Errorf("epic %s already assigned to agent %s", epicID, a.ID)
		}
	}
	a.CurrentEpics = append(a.CurrentEpics, epicID)
	a.UpdatedAt = time.Now().UTC()
	return nil
}

// ReleaseEpic clears an epic from the agent's active slots.
func (a *Agent) ReleaseEpic(epicID string) {
	kept := a.CurrentEpics[:0]
	for _, id := range a.CurrentEpics {
		if id != epicID {
			kept = append(kept, id)
		}
	}
	a.CurrentEpics = kept
	a.UpdatedAt = time.Now().UTC()
}

// Enqueue appends an epic to the agent's FIFO queue.
func (a *Agent) Enqueue(epicID string, at time.Time) {
	a.Queue = append(a.Queue, QueueEntry{EpicID: epicID, EnqueuedAt: at})
	a.UpdatedAt = time.Now().UTC()
}

// DequeueEarliest pops the earliest queue entry, if any.
func (a *Agent) DequeueEarliest() (QueueEntry, bool) {
	if len(a.Queue) == 0 {
		return QueueEntry{}, false
	}
	entry := a.Queue[0]
	a.Queue = a.Queue[1:]
	a.UpdatedAt = time.Now().UTC()
	return entry, true
}

// RemoveFromQueue drops a specific epic from the queue (e.g., cancelled).
func (a *Agent) RemoveFromQueue(epicID string) bool {
	for i, entry := range a.Queue {
		if entry.EpicID == epicID {
			a.Queue = append(a.Queue[:i], a.Queue[i+1:]...)
			a.UpdatedAt = time.Now().UTC()
			return true
		}
	}
	return false
}
