package status

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/shipway-dev/shipway/internal/types"
	"github.com/shipway-dev/shipway/internal/wip"
)

func TestBuild(t *testing.T) {
	ctx := context.Background()
	table := types.DefaultTable()

	w := types.NewWorkflowState("feat-1", "/tmp/feat-1")
	if err := w.CompletePhase(0); err != nil {
		t.Fatal(err)
	}
	if err := w.CompletePhase(1); err != nil {
		t.Fatal(err)
	}
	w.AwaitGate("plan-review")
	w.Gate("plan-review").Status = types.GateStatusAwaitingApproval
	w.RecordDeployment(types.Deployment{Environment: "staging", Commit: "abc123", DeployedAt: time.Now().UTC()})

	s, err := Build(ctx, w, table, nil)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if s.CurrentPhase != "contracts" || s.PhaseOrdinal != 2 || s.TotalPhases != 7 {
		t.Errorf("phase projection = %s %d/%d", s.CurrentPhase, s.PhaseOrdinal, s.TotalPhases)
	}
	if len(s.PhasesCompleted) != 2 || s.PhasesCompleted[0] != "specify" || s.PhasesCompleted[1] != "plan" {
		t.Errorf("PhasesCompleted = %v", s.PhasesCompleted)
	}
	if s.AwaitingGate != "plan-review" {
		t.Errorf("AwaitingGate = %q", s.AwaitingGate)
	}
	if len(s.Gates) != 1 || s.Gates[0].Status != "awaiting_approval" {
		t.Errorf("Gates = %+v", s.Gates)
	}
	if len(s.Deployments) != 1 || s.Deployments[0].Commit != "abc123" {
		t.Errorf("Deployments = %+v", s.Deployments)
	}
}

func TestBuild_EpicDetail(t *testing.T) {
	ctx := context.Background()
	tracker, err := wip.NewTracker(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	e := types.NewEpic("epic-auth", "feat-1", "auth flow")
	if err := tracker.CreateEpic(ctx, e); err != nil {
		t.Fatal(err)
	}

	w := types.NewWorkflowState("feat-1", "")
	w.RegisterEpic("epic-auth")

	s, err := Build(ctx, w, types.DefaultTable(), tracker)
	if err != nil {
		t.Fatal(err)
	}
	if len(s.Epics) != 1 || s.Epics[0].ID != "epic-auth" || s.Epics[0].State != "drafted" {
		t.Errorf("Epics = %+v", s.Epics)
	}
}

func TestJSONRoundTrip(t *testing.T) {
	w := types.NewWorkflowState("feat-1", "")
	s, err := Build(context.Background(), w, types.DefaultTable(), nil)
	if err != nil {
		t.Fatal(err)
	}

	out, err := s.JSON()
	if err != nil {
		t.Fatal(err)
	}
	var back Summary
	if err := json.Unmarshal([]byte(out), &back); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if back.FeatureID != "feat-1" || back.Status != "pending" {
		t.Errorf("round trip = %+v", back)
	}
}

func TestRenderContainsKeyFacts(t *testing.T) {
	w := types.NewWorkflowState("feat-1", "")
	w.Block("phase validate blocked")
	s, err := Build(context.Background(), w, types.DefaultTable(), nil)
	if err != nil {
		t.Fatal(err)
	}

	out := Render(s)
	for _, want := range []string{"feat-1", "blocked", "specify", "phase validate blocked"} {
		if !strings.Contains(out, want) {
			t.Errorf("render output missing %q:\n%s", want, out)
		}
	}
}

func TestRenderWIP(t *testing.T) {
	snap := &wip.Snapshot{
		Agents: []*types.Agent{
			{ID: "agent-1", MaxEpics: 1, CurrentEpics: []string{"epic-a"},
				Queue: []types.QueueEntry{{EpicID: "epic-b", EnqueuedAt: time.Now()}}},
		},
		Epics: []*types.Epic{
			{ID: "epic-a", State: types.EpicStateImplementing, AssignedAgent: "agent-1"},
			{ID: "epic-b", State: types.EpicStateContractsLocked},
		},
	}

	out := RenderWIP(snap)
	for _, want := range []string{"agent-1", "1/1", "epic-a", "queued: epic-b", "implementing"} {
		if !strings.Contains(out, want) {
			t.Errorf("wip render missing %q:\n%s", want, out)
		}
	}
}
