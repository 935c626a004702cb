package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shipway-dev/shipway/internal/blocker"
	swerr "github.com/shipway-dev/shipway/internal/errors"
	"github.com/shipway-dev/shipway/internal/handler"
	"github.com/shipway-dev/shipway/internal/logging"
	"github.com/shipway-dev/shipway/internal/store"
	"github.com/shipway-dev/shipway/internal/types"
	"github.com/shipway-dev/shipway/internal/wip"
)

// fakeRunner simulates phase handlers without subprocesses. Each phase
// maps to a script function that may write artifacts into the feature dir.
type fakeRunner struct {
	scripts map[string]func(featureDir string) *handler.Result
	calls   []string
}

func (f *fakeRunner) Run(ctx context.Context, phase, featureID, featureDir string) (*handler.Result, error) {
	f.calls = append(f.calls, phase)
	if script, ok := f.scripts[phase]; ok {
		return script(featureDir), nil
	}
	return &handler.Result{ExitCode: 0}, nil
}

func (f *fakeRunner) set(phase string, script func(featureDir string) *handler.Result) {
	if f.scripts == nil {
		f.scripts = make(map[string]func(string) *handler.Result)
	}
	f.scripts[phase] = script
}

func ok() *handler.Result   { return &handler.Result{ExitCode: 0} }
func fail() *handler.Result { return &handler.Result{ExitCode: 1, Stderr: "boom"} }

// gateFreeTable is seven phases with no gates, artifacts, or decomposition.
func gateFreeTable() types.PhaseTable {
	t := make(types.PhaseTable, 0, 7)
	for _, name := range []string{"specify", "plan", "contracts", "implement", "validate", "stage", "release"} {
		t = append(t, types.Phase{Name: name})
	}
	return t
}

type env struct {
	orch    *Orchestrator
	runner  *fakeRunner
	tracker *wip.Tracker
	sched   *wip.Scheduler
	dir     string
}

func newEnv(t *testing.T, table types.PhaseTable) *env {
	t.Helper()
	base := t.TempDir()

	st, err := store.NewFeatureStore(filepath.Join(base, "features"))
	if err != nil {
		t.Fatal(err)
	}
	tracker, err := wip.NewTracker(filepath.Join(base, "wip"))
	if err != nil {
		t.Fatal(err)
	}
	runner := &fakeRunner{}
	logger := logging.NewForTest()

	orch, err := New(st, tracker, table, runner, blocker.New(blocker.DefaultPolicy()), logger)
	if err != nil {
		t.Fatal(err)
	}
	return &env{
		orch:    orch,
		runner:  runner,
		tracker: tracker,
		sched:   wip.NewScheduler(tracker, 1, logger),
		dir:     filepath.Join(base, "feature-dir"),
	}
}

func (e *env) initFeature(t *testing.T, featureID string) {
	t.Helper()
	if _, err := e.orch.Init(context.Background(), featureID, e.dir); err != nil {
		t.Fatal(err)
	}
}

func writeReport(t *testing.T, featureDir, phase, content string) {
	t.Helper()
	reports := filepath.Join(featureDir, "reports")
	if err := os.MkdirAll(reports, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(reports, phase+".yaml"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func writeApproval(t *testing.T, featureDir, gateName, content string) {
	t.Helper()
	approvals := filepath.Join(featureDir, "approvals")
	if err := os.MkdirAll(approvals, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(approvals, gateName+".txt"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

// Seven clean phases, gate-free: seven advances reach completed with
// phases_completed = [0..6].
func TestAdvance_CleanRun(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, gateFreeTable())
	e.initFeature(t, "feat-1")

	var last *Result
	for i := 0; i < 7; i++ {
		res, err := e.orch.Advance(ctx, "feat-1", Options{})
		if err != nil {
			t.Fatalf("advance %d failed: %v", i, err)
		}
		last = res
	}

	if last.Outcome != OutcomeCompleted {
		t.Fatalf("Outcome = %s, want completed", last.Outcome)
	}
	if last.State.Status != types.WorkflowStatusCompleted {
		t.Errorf("Status = %s", last.State.Status)
	}
	want := []int{0, 1, 2, 3, 4, 5, 6}
	if len(last.State.PhasesCompleted) != len(want) {
		t.Fatalf("PhasesCompleted = %v, want %v", last.State.PhasesCompleted, want)
	}
	for i, p := range want {
		if last.State.PhasesCompleted[i] != p {
			t.Fatalf("PhasesCompleted = %v, want %v", last.State.PhasesCompleted, want)
		}
	}

	// Advancing a completed feature is a no-op.
	res, err := e.orch.Advance(ctx, "feat-1", Options{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != OutcomeNoOp {
		t.Errorf("Outcome = %s, want no_op", res.Outcome)
	}
}

func TestAdvance_UnknownFeature(t *testing.T) {
	e := newEnv(t, gateFreeTable())
	_, err := e.orch.Advance(context.Background(), "nope", Options{})
	if !swerr.HasCode(err, swerr.CodeStateNotFound) {
		t.Errorf("error = %v, want STATE_001", err)
	}
}

// Critical findings hard-block the phase; after remediation the same phase
// completes and the next begins.
func TestAdvance_HardBlockThenRemediate(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, gateFreeTable())
	e.initFeature(t, "feat-1")

	e.runner.set("implement", func(dir string) *handler.Result {
		writeReport(t, dir, "implement", `
phase: implement
findings:
  - severity: critical
    code: SEC-001
    message: hardcoded credentials
  - severity: critical
    code: SEC-002
    message: sql injection
`)
		return ok()
	})

	for i := 0; i < 3; i++ {
		if _, err := e.orch.Advance(ctx, "feat-1", Options{}); err != nil {
			t.Fatal(err)
		}
	}

	res, err := e.orch.Advance(ctx, "feat-1", Options{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != OutcomeBlocked {
		t.Fatalf("Outcome = %s, want blocked", res.Outcome)
	}
	if res.State.Status != types.WorkflowStatusBlocked {
		t.Errorf("Status = %s", res.State.Status)
	}
	if res.Decision.Verdict != blocker.VerdictHardBlock {
		t.Errorf("Verdict = %s", res.Decision.Verdict)
	}
	if res.State.CurrentPhase != 3 {
		t.Errorf("CurrentPhase = %d, a blocked phase must not complete", res.State.CurrentPhase)
	}
	if res.State.LastHalt == "" {
		t.Error("LastHalt must explain the block")
	}

	// Hard blocks are never overridable.
	res, err = e.orch.Advance(ctx, "feat-1", Options{OverrideSoftBlockers: true})
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != OutcomeBlocked {
		t.Fatalf("Outcome = %s, override must not clear a hard block", res.Outcome)
	}

	// Remediated: handler now reports clean.
	e.runner.set("implement", func(dir string) *handler.Result {
		writeReport(t, dir, "implement", "phase: implement\nfindings: []\n")
		return ok()
	})

	res, err = e.orch.Advance(ctx, "feat-1", Options{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != OutcomeAdvanced {
		t.Fatalf("Outcome = %s, want advanced", res.Outcome)
	}
	if res.State.CurrentPhase != 4 {
		t.Errorf("CurrentPhase = %d, want 4", res.State.CurrentPhase)
	}
}

func TestAdvance_SoftBlockAndOverride(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, gateFreeTable())
	e.initFeature(t, "feat-1")

	e.runner.set("specify", func(dir string) *handler.Result {
		writeReport(t, dir, "specify", `
phase: specify
findings:
  - severity: high
    code: LINT-102
    message: unchecked error
`)
		return ok()
	})

	res, err := e.orch.Advance(ctx, "feat-1", Options{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != OutcomeBlocked || res.Decision.Verdict != blocker.VerdictSoftBlock {
		t.Fatalf("result = %s/%v, want soft block", res.Outcome, res.Decision)
	}

	res, err = e.orch.Advance(ctx, "feat-1", Options{OverrideSoftBlockers: true, Operator: "sam"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != OutcomeAdvanced {
		t.Fatalf("Outcome = %s, want advanced after override", res.Outcome)
	}

	overrides := res.State.Overrides
	if len(overrides) != 1 {
		t.Fatalf("Overrides = %+v, want one audit entry", overrides)
	}
	o := overrides[0]
	if o.ID == "" || o.Phase != "specify" || o.Operator != "sam" || len(o.Findings) != 1 {
		t.Errorf("override = %+v", o)
	}
}

func TestAdvance_HandlerFailure(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, gateFreeTable())
	e.initFeature(t, "feat-1")

	e.runner.set("specify", func(dir string) *handler.Result { return fail() })

	res, err := e.orch.Advance(ctx, "feat-1", Options{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != OutcomeFailed || res.State.Status != types.WorkflowStatusFailed {
		t.Fatalf("result = %s/%s, want failed", res.Outcome, res.State.Status)
	}
	if res.State.CurrentPhase != 0 {
		t.Errorf("CurrentPhase = %d, a failed phase must not complete", res.State.CurrentPhase)
	}
}

func TestAdvance_CriteriaUnmet(t *testing.T) {
	ctx := context.Background()
	table := types.PhaseTable{{Name: "specify", RequiredArtifacts: []string{"spec.md"}}}
	e := newEnv(t, table)
	e.initFeature(t, "feat-1")

	res, err := e.orch.Advance(ctx, "feat-1", Options{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != OutcomeFailed {
		t.Fatalf("Outcome = %s, want failed for missing artifact", res.Outcome)
	}

	// Handler now produces the artifact; retry completes.
	e.runner.set("specify", func(dir string) *handler.Result {
		if err := os.WriteFile(filepath.Join(dir, "spec.md"), []byte("# spec\n"), 0644); err != nil {
			t.Fatal(err)
		}
		return ok()
	})
	res, err = e.orch.Advance(ctx, "feat-1", Options{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != OutcomeCompleted {
		t.Fatalf("Outcome = %s, want completed", res.Outcome)
	}
}

// A gate-guarded phase never runs while the gate is unresolved; writing the
// approval marker and re-advancing moves past the gate.
func TestAdvance_GateFlow(t *testing.T) {
	ctx := context.Background()
	table := types.PhaseTable{
		{Name: "plan"},
		{Name: "implement", Gate: "plan-review"},
	}
	e := newEnv(t, table)
	e.initFeature(t, "feat-1")

	res, err := e.orch.Advance(ctx, "feat-1", Options{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != OutcomeAwaitingGate {
		t.Fatalf("Outcome = %s, want awaiting_gate after plan", res.Outcome)
	}
	if res.State.AwaitingGateName != "plan-review" {
		t.Errorf("AwaitingGateName = %q", res.State.AwaitingGateName)
	}
	if g := res.State.Gates["plan-review"]; g == nil || g.Status != types.GateStatusAwaitingApproval {
		t.Errorf("gate record = %+v", g)
	}

	// No approval marker: advance is a no-op and the phase never runs.
	res, err = e.orch.Advance(ctx, "feat-1", Options{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != OutcomeAwaitingGate {
		t.Fatalf("Outcome = %s, want awaiting_gate", res.Outcome)
	}
	for _, call := range e.runner.calls {
		if call == "implement" {
			t.Fatal("gated phase ran without approval")
		}
	}

	writeApproval(t, e.dir, "plan-review", "GATE-APPROVED\nApprover: sam\n")

	res, err = e.orch.Advance(ctx, "feat-1", Options{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != OutcomeCompleted {
		t.Fatalf("Outcome = %s, want completed past the gate", res.Outcome)
	}
	g := res.State.Gates["plan-review"]
	if g.Status != types.GateStatusApproved || g.Approver != "sam" || g.ResolvedAt == nil {
		t.Errorf("gate record = %+v", g)
	}
}

// A rejected gate halts with the workflow still awaiting the gate; a fresh
// approval artifact starts a new cycle.
func TestAdvance_GateRejection(t *testing.T) {
	ctx := context.Background()
	table := types.PhaseTable{
		{Name: "plan"},
		{Name: "implement", Gate: "plan-review"},
	}
	e := newEnv(t, table)
	e.initFeature(t, "feat-1")

	if _, err := e.orch.Advance(ctx, "feat-1", Options{}); err != nil {
		t.Fatal(err)
	}
	writeApproval(t, e.dir, "plan-review", "GATE-REJECTED\nApprover: kim\n")

	res, err := e.orch.Advance(ctx, "feat-1", Options{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != OutcomeGateRejected {
		t.Fatalf("Outcome = %s, want gate_rejected", res.Outcome)
	}
	if res.State.Status != types.WorkflowStatusAwaitingGate {
		t.Errorf("Status = %s, rejection must not abort the workflow", res.State.Status)
	}
	if res.State.LastHalt == "" {
		t.Error("LastHalt must explain the rejection")
	}

	writeApproval(t, e.dir, "plan-review", "GATE-APPROVED\n")

	res, err = e.orch.Advance(ctx, "feat-1", Options{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != OutcomeCompleted {
		t.Fatalf("Outcome = %s, want completed after new approval", res.Outcome)
	}
}

// The decomposing phase registers its epics and does not complete until
// every one is done; interim advances are no-ops listing the remainder.
func TestAdvance_EpicDecomposition(t *testing.T) {
	ctx := context.Background()
	table := types.PhaseTable{
		{Name: "implement", DecomposesEpics: true},
		{Name: "validate"},
	}
	e := newEnv(t, table)
	e.initFeature(t, "feat-1")

	e.runner.set("implement", func(dir string) *handler.Result {
		writeReport(t, dir, "implement", `
phase: implement
epics:
  - id: epic-auth
    title: auth flow
    contracts_ref: contracts.md#auth
  - id: epic-ui
    title: settings UI
    contracts_ref: contracts.md#ui
`)
		return ok()
	})

	res, err := e.orch.Advance(ctx, "feat-1", Options{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != OutcomeEpicsPending {
		t.Fatalf("Outcome = %s, want epics_pending", res.Outcome)
	}
	if len(res.PendingEpics) != 2 {
		t.Fatalf("PendingEpics = %v", res.PendingEpics)
	}

	// Registered epics are contracts-locked and assignable.
	epic, err := e.tracker.GetEpic(ctx, "epic-auth")
	if err != nil {
		t.Fatal(err)
	}
	if epic.State != types.EpicStateContractsLocked {
		t.Errorf("epic state = %s", epic.State)
	}

	// Interim advance: handler does not re-run, remainder is reported.
	calls := len(e.runner.calls)
	res, err = e.orch.Advance(ctx, "feat-1", Options{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != OutcomeEpicsPending || len(e.runner.calls) != calls {
		t.Fatalf("interim advance must be a no-op without re-running the handler")
	}

	// Finish one epic: still pending on the other.
	if _, err := e.sched.Assign(ctx, "epic-auth", "agent-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := e.sched.Complete(ctx, "epic-auth"); err != nil {
		t.Fatal(err)
	}
	res, err = e.orch.Advance(ctx, "feat-1", Options{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != OutcomeEpicsPending || len(res.PendingEpics) != 1 || res.PendingEpics[0] != "epic-ui" {
		t.Fatalf("result = %s/%v, want epic-ui pending", res.Outcome, res.PendingEpics)
	}

	// Finish the last epic: the phase completes and the next begins.
	if _, err := e.sched.Assign(ctx, "epic-ui", "agent-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := e.sched.Complete(ctx, "epic-ui"); err != nil {
		t.Fatal(err)
	}
	res, err = e.orch.Advance(ctx, "feat-1", Options{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != OutcomeAdvanced || res.State.CurrentPhase != 1 {
		t.Fatalf("result = %s phase %d, want advanced to 1", res.Outcome, res.State.CurrentPhase)
	}
}

func TestAdvance_RecordsDeployment(t *testing.T) {
	ctx := context.Background()
	table := types.PhaseTable{{Name: "stage", RecordsDeployment: true}}
	e := newEnv(t, table)
	e.initFeature(t, "feat-1")

	e.runner.set("stage", func(dir string) *handler.Result {
		writeReport(t, dir, "stage", `
phase: stage
deployment:
  environment: staging
  commit: abc123
  run_id: ci-777
`)
		return ok()
	})

	res, err := e.orch.Advance(ctx, "feat-1", Options{})
	if err != nil {
		t.Fatal(err)
	}
	d, ok := res.State.Deployments["staging"]
	if !ok || d.Commit != "abc123" || d.RunID != "ci-777" {
		t.Errorf("Deployments = %+v", res.State.Deployments)
	}
}

func TestAdvance_PhaseTimings(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, types.PhaseTable{{Name: "specify"}})
	e.initFeature(t, "feat-1")

	before := time.Now().UTC().Add(-time.Second)
	res, err := e.orch.Advance(ctx, "feat-1", Options{})
	if err != nil {
		t.Fatal(err)
	}

	timing, ok := res.State.Timings["specify"]
	if !ok {
		t.Fatal("no timing recorded")
	}
	if timing.Start.Before(before) || timing.End == nil || timing.End.Before(timing.Start) {
		t.Errorf("timing = %+v", timing)
	}
}

// Two racing advances on the same feature never duplicate a phase
// completion: the store serializes them and the loser sees fresh state.
func TestAdvance_Idempotency(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, gateFreeTable())
	e.initFeature(t, "feat-1")

	for i := 0; i < 7; i++ {
		if _, err := e.orch.Advance(ctx, "feat-1", Options{}); err != nil {
			t.Fatal(err)
		}
	}

	res, err := e.orch.Advance(ctx, "feat-1", Options{})
	if err != nil {
		t.Fatal(err)
	}
	seen := make(map[int]bool)
	for _, p := range res.State.PhasesCompleted {
		if seen[p] {
			t.Fatalf("duplicate completion of phase %d: %v", p, res.State.PhasesCompleted)
		}
		seen[p] = true
	}
}

func TestInit_ExistingFeature(t *testing.T) {
	e := newEnv(t, gateFreeTable())
	e.initFeature(t, "feat-1")

	_, err := e.orch.Init(context.Background(), "feat-1", e.dir)
	if !swerr.HasCode(err, swerr.CodeStateInvalid) {
		t.Errorf("error = %v, want STATE_003", err)
	}
}

func TestHaltMessagesNameFollowUp(t *testing.T) {
	msg := haltBlocked("feat-1", "validate", blocker.Decision{
		Verdict: blocker.VerdictSoftBlock, High: 1, Summary: "[high] LINT-1 x\n",
	})
	for _, want := range []string{"validate", "shipway advance feat-1", "--override-soft-blockers"} {
		if !strings.Contains(msg, want) {
			t.Errorf("halt message %q missing %q", msg, want)
		}
	}
}
