package types

import (
	"fmt"
	"time"
)

// WorkflowStatus represents the lifecycle state of a feature workflow.
type WorkflowStatus string

const (
	WorkflowStatusPending      WorkflowStatus = "pending"       // Created but no phase executed yet
	WorkflowStatusInProgress   WorkflowStatus = "in_progress"   // A phase is eligible to run
	WorkflowStatusAwaitingGate WorkflowStatus = "awaiting_gate" // Next phase is gate-guarded
	WorkflowStatusBlocked      WorkflowStatus = "blocked"       // Findings exceed severity policy
	WorkflowStatusFailed       WorkflowStatus = "failed"        // Handler failed or criteria unmet
	WorkflowStatusCompleted    WorkflowStatus = "completed"     // All phases done
)

// Valid returns true if this is a recognized workflow status.
func (s WorkflowStatus) Valid() bool {
	switch s {
	case WorkflowStatusPending, WorkflowStatusInProgress, WorkflowStatusAwaitingGate,
		WorkflowStatusBlocked, WorkflowStatusFailed, WorkflowStatusCompleted:
		return true
	}
	return false
}

// IsTerminal returns true if this status is final.
// Blocked and failed are halting but resumable, not terminal.
func (s WorkflowStatus) IsTerminal() bool {
	return s == WorkflowStatusCompleted
}

// GateStatus represents the approval state of a manual gate.
type GateStatus string

const (
	GateStatusPending          GateStatus = "pending"
	GateStatusAwaitingApproval GateStatus = "awaiting_approval"
	GateStatusApproved         GateStatus = "approved"
	GateStatusRejected         GateStatus = "rejected"
)

// GateRecord tracks one manual approval checkpoint.
type GateRecord struct {
	Name       string     `yaml:"name"`
	Status     GateStatus `yaml:"status"`
	Approver   string     `yaml:"approver,omitempty"`
	ResolvedAt *time.Time `yaml:"resolved_at,omitempty"`
}

// PhaseTiming records when a phase started and ended.
type PhaseTiming struct {
	Start time.Time  `yaml:"start"`
	End   *time.Time `yaml:"end,omitempty"`
}

// Deployment records one environment deployment reported by a phase handler.
type Deployment struct {
	Environment string    `yaml:"environment"`
	Commit      string    `yaml:"commit"`
	RunID       string    `yaml:"run_id,omitempty"`
	ArtifactIDs []string  `yaml:"artifact_ids,omitempty"`
	DeployedAt  time.Time `yaml:"deployed_at"`
}

// OverrideRecord is the audit entry written when an operator downgrades a
// soft block to a logged exception.
type OverrideRecord struct {
	ID       string    `yaml:"id"` // uuid
	Phase    string    `yaml:"phase"`
	Operator string    `yaml:"operator,omitempty"`
	Findings []string  `yaml:"findings"` // rendered blocking findings
	At       time.Time `yaml:"at"`
}

// WorkflowState is the persisted record for one feature's pipeline.
type WorkflowState struct {
	// Identity
	FeatureID string `yaml:"feature_id"`
	Dir       string `yaml:"dir"` // Feature directory (artifacts live here)

	// Version is bumped on every persisted update (optimistic locking).
	Version int64 `yaml:"version"`

	// Progress
	CurrentPhase    int   `yaml:"current_phase"`
	PhasesCompleted []int `yaml:"phases_completed,omitempty"`

	// Lifecycle
	Status           WorkflowStatus `yaml:"status"`
	AwaitingGateName string         `yaml:"awaiting_gate,omitempty"`
	CreatedAt        time.Time      `yaml:"created_at"`
	UpdatedAt        time.Time      `yaml:"updated_at"`

	// Sub-records
	Gates       map[string]*GateRecord `yaml:"gates,omitempty"`
	Timings     map[string]PhaseTiming `yaml:"timings,omitempty"`
	Deployments map[string]Deployment  `yaml:"deployments,omitempty"`
	Overrides   []OverrideRecord       `yaml:"overrides,omitempty"`

	// Epics registered for the implement phase of this feature.
	Epics []string `yaml:"epics,omitempty"`

	// LastHalt explains the most recent halt (blocker list, rejected
	// gate, timeout) and the follow-up command to resume.
	LastHalt string `yaml:"last_halt,omitempty"`
}

// NewWorkflowState creates a fresh feature record at phase 0.
func NewWorkflowState(featureID, dir string) *WorkflowState {
	now := time.Now().UTC()
	return &WorkflowState{
		FeatureID:    featureID,
		Dir:          dir,
		Version:      0,
		CurrentPhase: 0,
		Status:       WorkflowStatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
		Gates:        make(map[string]*GateRecord),
		Timings:      make(map[string]PhaseTiming),
		Deployments:  make(map[string]Deployment),
	}
}

// PhaseCompleted reports whether the given phase ordinal is recorded done.
func (w *WorkflowState) PhaseCompleted(ordinal int) bool {
	for _, p := range w.PhasesCompleted {
		if p == ordinal {
			return true
		}
	}
	return false
}

// CompletePhase appends the current phase to phases_completed and advances
// current_phase. The completed list stays strictly increasing with no
// duplicates; completing out of order is rejected.
func (w *WorkflowState) CompletePhase(ordinal int) error {
	if ordinal != w.CurrentPhase {
		return fmt.Errorf("cannot complete phase %d while current phase is %d", ordinal, w.CurrentPhase)
	}
	if w.PhaseCompleted(ordinal) {
		return fmt.Errorf("phase %d already completed", ordinal)
	}
	if n := len(w.PhasesCompleted); n > 0 && w.PhasesCompleted[n-1] >= ordinal {
		return fmt.Errorf("phase completion out of order: %d after %d", ordinal, w.PhasesCompleted[n-1])
	}
	w.PhasesCompleted = append(w.PhasesCompleted, ordinal)
	w.CurrentPhase = ordinal + 1
	return nil
}

// StartPhaseTiming records the start of a phase run. The start time is
// kept from the first attempt so retries do not erase it, even after a
// failed or blocked attempt already recorded an end.
func (w *WorkflowState) StartPhaseTiming(phaseName string, at time.Time) {
	if w.Timings == nil {
		w.Timings = make(map[string]PhaseTiming)
	}
	if t, ok := w.Timings[phaseName]; ok {
		t.End = nil
		w.Timings[phaseName] = t
		return
	}
	w.Timings[phaseName] = PhaseTiming{Start: at}
}

// EndPhaseTiming records the end of a phase run.
func (w *WorkflowState) EndPhaseTiming(phaseName string, at time.Time) {
	t, ok := w.Timings[phaseName]
	if !ok {
		t = PhaseTiming{Start: at}
	}
	t.End = &at
	w.Timings[phaseName] = t
}

// Gate returns the named gate record, creating it pending if absent.
func (w *WorkflowState) Gate(name string) *GateRecord {
	if w.Gates == nil {
		w.Gates = make(map[string]*GateRecord)
	}
	g, ok := w.Gates[name]
	if !ok {
		g = &GateRecord{Name: name, Status: GateStatusPending}
		w.Gates[name] = g
	}
	return g
}

// AwaitGate puts the workflow into awaiting_gate for the named gate.
func (w *WorkflowState) AwaitGate(name string) {
	w.Status = WorkflowStatusAwaitingGate
	w.AwaitingGateName = name
}

// ClearGateWait clears the gate-wait and resumes in_progress.
func (w *WorkflowState) ClearGateWait() {
	w.Status = WorkflowStatusInProgress
	w.AwaitingGateName = ""
}

// Block marks the workflow blocked with a halt explanation.
func (w *WorkflowState) Block(reason string) {
	w.Status = WorkflowStatusBlocked
	w.LastHalt = reason
}

// Fail marks the workflow failed with a halt explanation.
func (w *WorkflowState) Fail(reason string) {
	w.Status = WorkflowStatusFailed
	w.LastHalt = reason
}

// Complete marks the workflow completed.
func (w *WorkflowState) Complete() {
	w.Status = WorkflowStatusCompleted
	w.LastHalt = ""
}

// RecordDeployment merges a deployment record by environment.
func (w *WorkflowState) RecordDeployment(d Deployment) {
	if w.Deployments == nil {
		w.Deployments = make(map[string]Deployment)
	}
	w.Deployments[d.Environment] = d
}

// RecordOverride appends a soft-block override audit entry.
func (w *WorkflowState) RecordOverride(rec OverrideRecord) {
	w.Overrides = append(w.Overrides, rec)
}

// RegisterEpic records an epic id against this feature, once.
func (w *WorkflowState) RegisterEpic(epicID string) {
	for _, id := range w.Epics {
		if id == epicID {
			return
		}
	}
	w.Epics = append(w.Epics, epicID)
}
