// Package status builds read-only projections of workflow and WIP state
// for CLI display. Projections never mutate persisted records.
package status

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/shipway-dev/shipway/internal/types"
	"github.com/shipway-dev/shipway/internal/wip"
)

// GateView is one gate's display record.
type GateView struct {
	Name       string     `json:"name"`
	Status     string     `json:"status"`
	Approver   string     `json:"approver,omitempty"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// EpicView is one epic's display record.
type EpicView struct {
	ID            string `json:"id"`
	Title         string `json:"title,omitempty"`
	State         string `json:"state"`
	AssignedAgent string `json:"assigned_agent,omitempty"`
}

// DeploymentView is one environment's latest deployment.
type DeploymentView struct {
	Environment string    `json:"environment"`
	Commit      string    `json:"commit"`
	RunID       string    `json:"run_id,omitempty"`
	DeployedAt  time.Time `json:"deployed_at"`
}

// Summary is the full status projection for one feature.
type Summary struct {
	FeatureID       string           `json:"feature_id"`
	Status          string           `json:"status"`
	CurrentPhase    string           `json:"current_phase"`
	PhaseOrdinal    int              `json:"phase_ordinal"`
	TotalPhases     int              `json:"total_phases"`
	PhasesCompleted []string         `json:"phases_completed"`
	AwaitingGate    string           `json:"awaiting_gate,omitempty"`
	Gates           []GateView       `json:"gates,omitempty"`
	Epics           []EpicView       `json:"epics,omitempty"`
	Deployments     []DeploymentView `json:"deployments,omitempty"`
	OverrideCount   int              `json:"override_count,omitempty"`
	LastHalt        string           `json:"last_halt,omitempty"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// Build assembles the projection from the workflow record, the phase
// table, and the WIP tracker (for epic detail). tracker may be nil when
// epic detail is not wanted.
func Build(ctx context.Context, w *types.WorkflowState, table types.PhaseTable, tracker *wip.Tracker) (*Summary, error) {
	s := &Summary{
		FeatureID:     w.FeatureID,
		Status:        string(w.Status),
		CurrentPhase:  table.NameOf(w.CurrentPhase),
		PhaseOrdinal:  w.CurrentPhase,
		TotalPhases:   table.Len(),
		AwaitingGate:  w.AwaitingGateName,
		OverrideCount: len(w.Overrides),
		LastHalt:      w.LastHalt,
		UpdatedAt:     w.UpdatedAt,
	}

	for _, p := range w.PhasesCompleted {
		s.PhasesCompleted = append(s.PhasesCompleted, table.NameOf(p))
	}

	names := make([]string, 0, len(w.Gates))
	for name := range w.Gates {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		g := w.Gates[name]
		s.Gates = append(s.Gates, GateView{
			Name:       g.Name,
			Status:     string(g.Status),
			Approver:   g.Approver,
			ResolvedAt: g.ResolvedAt,
		})
	}

	if tracker != nil {
		for _, id := range w.Epics {
			e, err := tracker.GetEpic(ctx, id)
			if err != nil {
				return nil, err
			}
			s.Epics = append(s.Epics, EpicView{
				ID:            e.ID,
				Title:         e.Title,
				State:         string(e.State),
				AssignedAgent: e.AssignedAgent,
			})
		}
	}

	envs := make([]string, 0, len(w.Deployments))
	for env := range w.Deployments {
		envs = append(envs, env)
	}
	sort.Strings(envs)
	for _, env := range envs {
		d := w.Deployments[env]
		s.Deployments = append(s.Deployments, DeploymentView{
			Environment: d.Environment,
			Commit:      d.Commit,
			RunID:       d.RunID,
			DeployedAt:  d.DeployedAt,
		})
	}

	return s, nil
}

// JSON renders the summary as indented JSON.
func (s *Summary) JSON() (string, error) {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data) + "\n", nil
}
