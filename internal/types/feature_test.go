package types

import (
	"testing"
	"time"
)

func TestWorkflowStatus_Valid(t *testing.T) {
	valid := []WorkflowStatus{
		WorkflowStatusPending, WorkflowStatusInProgress, WorkflowStatusAwaitingGate,
		WorkflowStatusBlocked, WorkflowStatusFailed, WorkflowStatusCompleted,
	}
	for _, s := range valid {
		if !s.Valid() {
			t.Errorf("%s should be valid", s)
		}
	}
	if WorkflowStatus("bogus").Valid() {
		t.Error("bogus should not be valid")
	}
}

func TestWorkflowStatus_IsTerminal(t *testing.T) {
	if !WorkflowStatusCompleted.IsTerminal() {
		t.Error("completed should be terminal")
	}
	// Blocked and failed halt the pipeline but are resumable
	for _, s := range []WorkflowStatus{WorkflowStatusBlocked, WorkflowStatusFailed, WorkflowStatusInProgress} {
		if s.IsTerminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestNewWorkflowState(t *testing.T) {
	w := NewWorkflowState("feat-1", "/proj/features/feat-1")

	if w.FeatureID != "feat-1" {
		t.Errorf("FeatureID = %s", w.FeatureID)
	}
	if w.CurrentPhase != 0 {
		t.Errorf("CurrentPhase = %d, want 0", w.CurrentPhase)
	}
	if w.Status != WorkflowStatusPending {
		t.Errorf("Status = %s, want pending", w.Status)
	}
	if w.Version != 0 {
		t.Errorf("Version = %d, want 0", w.Version)
	}
}

func TestCompletePhase(t *testing.T) {
	t.Run("sequential completion", func(t *testing.T) {
		w := NewWorkflowState("feat-1", "")
		for i := 0; i < 3; i++ {
			if err := w.CompletePhase(i); err != nil {
				t.Fatalf("CompletePhase(%d) failed: %v", i, err)
			}
		}
		if w.CurrentPhase != 3 {
			t.Errorf("CurrentPhase = %d, want 3", w.CurrentPhase)
		}
		want := []int{0, 1, 2}
		if len(w.PhasesCompleted) != len(want) {
			t.Fatalf("PhasesCompleted = %v, want %v", w.PhasesCompleted, want)
		}
		for i, p := range want {
			if w.PhasesCompleted[i] != p {
				t.Errorf("PhasesCompleted[%d] = %d, want %d", i, w.PhasesCompleted[i], p)
			}
		}
	})

	t.Run("no duplicates", func(t *testing.T) {
		w := NewWorkflowState("feat-1", "")
		if err := w.CompletePhase(0); err != nil {
			t.Fatal(err)
		}
		// current_phase is now 1; re-completing 0 must be rejected
		if err := w.CompletePhase(0); err == nil {
			t.Error("re-completing phase 0 should fail")
		}
	})

	t.Run("out of order rejected", func(t *testing.T) {
		w := NewWorkflowState("feat-1", "")
		if err := w.CompletePhase(2); err == nil {
			t.Error("completing phase 2 before 0 should fail")
		}
	})
}

func TestPhaseTiming(t *testing.T) {
	w := NewWorkflowState("feat-1", "")
	start := time.Now().UTC()

	w.StartPhaseTiming("plan", start)
	if w.Timings["plan"].Start != start {
		t.Error("start not recorded")
	}

	// Retry before end keeps the original start
	w.StartPhaseTiming("plan", start.Add(time.Minute))
	if w.Timings["plan"].Start != start {
		t.Error("retry should not erase the original start")
	}

	end := start.Add(2 * time.Minute)
	w.EndPhaseTiming("plan", end)
	if w.Timings["plan"].End == nil || !w.Timings["plan"].End.Equal(end) {
		t.Error("end not recorded")
	}

	// Retry after a recorded end (failed attempt) keeps the original
	// start and reopens the timing.
	w.StartPhaseTiming("plan", start.Add(10*time.Minute))
	if w.Timings["plan"].Start != start {
		t.Error("retry after a failed attempt should not erase the original start")
	}
	if w.Timings["plan"].End != nil {
		t.Error("retry should clear the previous end")
	}
}

func TestGateHelpers(t *testing.T) {
	w := NewWorkflowState("feat-1", "")

	g := w.Gate("plan-review")
	if g.Status != GateStatusPending {
		t.Errorf("new gate status = %s, want pending", g.Status)
	}

	// Same record on repeat access
	g.Status = GateStatusAwaitingApproval
	if w.Gate("plan-review").Status != GateStatusAwaitingApproval {
		t.Error("Gate should return the same record")
	}

	w.AwaitGate("plan-review")
	if w.Status != WorkflowStatusAwaitingGate || w.AwaitingGateName != "plan-review" {
		t.Errorf("AwaitGate: status=%s gate=%s", w.Status, w.AwaitingGateName)
	}

	w.ClearGateWait()
	if w.Status != WorkflowStatusInProgress || w.AwaitingGateName != "" {
		t.Errorf("ClearGateWait: status=%s gate=%q", w.Status, w.AwaitingGateName)
	}
}

func TestRecordDeployment(t *testing.T) {
	w := NewWorkflowState("feat-1", "")
	d := Deployment{
		Environment: "staging",
		Commit:      "abc123",
		RunID:       "run-9",
		DeployedAt:  time.Now().UTC(),
	}
	w.RecordDeployment(d)

	got, ok := w.Deployments["staging"]
	if !ok {
		t.Fatal("deployment not recorded")
	}
	if got.Commit != "abc123" {
		t.Errorf("Commit = %s", got.Commit)
	}
}

func TestRegisterEpic(t *testing.T) {
	w := NewWorkflowState("feat-1", "")
	w.RegisterEpic("epic-a")
	w.RegisterEpic("epic-b")
	w.RegisterEpic("epic-a") // idempotent

	if len(w.Epics) != 2 {
		t.Errorf("Epics = %v, want 2 entries", w.Epics)
	}
}
