// Package orchestrator drives the phase pipeline: one phase transition per
// invocation, with gate checks, handler execution, completion criteria, and
// blocker gating. All continuity lives in the persisted workflow record;
// the orchestrator itself is stateless across invocations.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/shipway-dev/shipway/internal/blocker"
	swerr "github.com/shipway-dev/shipway/internal/errors"
	"github.com/shipway-dev/shipway/internal/gate"
	"github.com/shipway-dev/shipway/internal/handler"
	"github.com/shipway-dev/shipway/internal/logging"
	"github.com/shipway-dev/shipway/internal/report"
	"github.com/shipway-dev/shipway/internal/store"
	"github.com/shipway-dev/shipway/internal/types"
	"github.com/shipway-dev/shipway/internal/wip"
)

// Outcome classifies what a single Advance call did.
type Outcome string

const (
	// OutcomeAdvanced means the current phase completed and the next one
	// is eligible to run.
	OutcomeAdvanced Outcome = "advanced"
	// OutcomeAwaitingGate means the pipeline is parked on a manual gate.
	OutcomeAwaitingGate Outcome = "awaiting_gate"
	// OutcomeGateRejected means the approver rejected the pending gate.
	OutcomeGateRejected Outcome = "gate_rejected"
	// OutcomeEpicsPending means the decomposing phase is waiting for its
	// epics to finish.
	OutcomeEpicsPending Outcome = "epics_pending"
	// OutcomeBlocked means findings exceeded the severity policy.
	OutcomeBlocked Outcome = "blocked"
	// OutcomeFailed means the handler failed or criteria were unmet.
	OutcomeFailed Outcome = "failed"
	// OutcomeCompleted means every phase is done.
	OutcomeCompleted Outcome = "completed"
	// OutcomeNoOp means nothing changed (already completed, still waiting).
	OutcomeNoOp Outcome = "no_op"
)

// Options tunes a single Advance call.
type Options struct {
	// OverrideSoftBlockers downgrades a soft block to a logged exception.
	// Hard blocks are never overridable.
	OverrideSoftBlockers bool

	// Operator is recorded in the override audit entry.
	Operator string
}

// Result reports what Advance did and the state it left behind.
type Result struct {
	Outcome Outcome
	State   *types.WorkflowState

	// Phase is the phase this call acted on (or waited for).
	Phase string

	// PendingEpics lists unfinished epics when Outcome is epics_pending.
	PendingEpics []string

	// Decision carries the blocker verdict when a report was evaluated.
	Decision *blocker.Decision
}

// Halted reports whether the pipeline needs operator attention.
func (r *Result) Halted() bool {
	switch r.Outcome {
	case OutcomeBlocked, OutcomeFailed, OutcomeGateRejected:
		return true
	}
	return false
}

// Orchestrator coordinates the store, gates, handlers, blocker policy, and
// the WIP tracker for one project.
type Orchestrator struct {
	store    *store.FeatureStore
	tracker  *wip.Tracker
	table    types.PhaseTable
	runner   handler.Runner
	detector *blocker.Detector
	logger   *slog.Logger
}

// New creates an orchestrator over the given collaborators.
func New(st *store.FeatureStore, tracker *wip.Tracker, table types.PhaseTable, runner handler.Runner, detector *blocker.Detector, logger *slog.Logger) (*Orchestrator, error) {
	if err := table.Validate(); err != nil {
		return nil, fmt.Errorf("invalid phase table: %w", err)
	}
	if logger == nil {
		logger = logging.NewDefault()
	}
	return &Orchestrator{
		store:    st,
		tracker:  tracker,
		table:    table,
		runner:   runner,
		detector: detector,
		logger:   logger,
	}, nil
}

// Init creates a fresh feature record at phase 0 and its directory.
func (o *Orchestrator) Init(ctx context.Context, featureID, dir string) (*types.WorkflowState, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating feature dir: %w", err)
	}
	w := types.NewWorkflowState(featureID, dir)
	if err := o.store.Create(ctx, w); err != nil {
		return nil, err
	}
	logging.WithFeature(o.logger, featureID).Info("feature initialized", "dir", dir)
	return w, nil
}

// Advance executes at most one phase transition for the feature.
// Repeated calls when nothing changed re-derive the same decision; there
// are no duplicate completions and no double side effects.
func (o *Orchestrator) Advance(ctx context.Context, featureID string, opts Options) (*Result, error) {
	w, err := o.store.Get(ctx, featureID)
	if err != nil {
		return nil, err
	}

	if w.Status.IsTerminal() {
		return &Result{Outcome: OutcomeNoOp, State: w}, nil
	}

	phase, ok := o.table.At(w.CurrentPhase)
	if !ok {
		// All phases recorded done but status never flipped; repair forward.
		w, err = o.store.Update(ctx, featureID, func(w *types.WorkflowState) error {
			w.Complete()
			return nil
		})
		if err != nil {
			return nil, err
		}
		return &Result{Outcome: OutcomeCompleted, State: w}, nil
	}

	log := logging.WithPhase(logging.WithFeature(o.logger, featureID), phase.Name)

	// Gate check before the phase may start.
	if phase.Gate != "" && w.Gate(phase.Gate).Status != types.GateStatusApproved {
		res, err := o.resolveGate(ctx, w, phase)
		if err != nil || res.Outcome != OutcomeAdvanced {
			return res, err
		}
		w = res.State
		log.Info("gate approved", "gate", phase.Gate, "approver", w.Gate(phase.Gate).Approver)
	}

	// A decomposed implement phase waits for its epics instead of
	// re-running the handler.
	if phase.DecomposesEpics && len(w.Epics) > 0 {
		return o.checkEpics(ctx, w, phase)
	}

	// Mark the phase running before the handler so a crash mid-run leaves
	// an honest record.
	w, err = o.store.Update(ctx, featureID, func(w *types.WorkflowState) error {
		w.Status = types.WorkflowStatusInProgress
		w.StartPhaseTiming(phase.Name, time.Now().UTC())
		return nil
	})
	if err != nil {
		return nil, err
	}

	run, err := o.runner.Run(ctx, phase.Name, featureID, w.Dir)
	if err != nil {
		return nil, fmt.Errorf("running %s handler: %w", phase.Name, err)
	}
	if !run.Succeeded() {
		herr := swerr.PhaseHandlerFailed(phase.Name, run.ExitCode, run.Stderr)
		w, uerr := o.store.Update(ctx, featureID, func(w *types.WorkflowState) error {
			w.Fail(haltHandlerFailed(featureID, phase.Name, run.ExitCode, run.Stderr))
			w.EndPhaseTiming(phase.Name, time.Now().UTC())
			return nil
		})
		if uerr != nil {
			return nil, uerr
		}
		log.Error("handler failed", "exit_code", run.ExitCode, "error", herr)
		return &Result{Outcome: OutcomeFailed, State: w, Phase: phase.Name}, nil
	}

	// Completion criteria: declared artifacts must exist.
	if missing := missingArtifacts(w.Dir, phase.RequiredArtifacts); len(missing) > 0 {
		cerr := swerr.PhaseCriteriaUnmet(phase.Name, missing)
		w, uerr := o.store.Update(ctx, featureID, func(w *types.WorkflowState) error {
			w.Fail(haltCriteriaUnmet(featureID, phase.Name, missing))
			w.EndPhaseTiming(phase.Name, time.Now().UTC())
			return nil
		})
		if uerr != nil {
			return nil, uerr
		}
		log.Error("completion criteria unmet", "missing", missing, "error", cerr)
		return &Result{Outcome: OutcomeFailed, State: w, Phase: phase.Name}, nil
	}

	// Blocker gating over the report artifact. A missing report means the
	// phase produced no findings.
	rep, err := report.Load(w.Dir, phase.Name)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		rep = &report.Report{Phase: phase.Name}
	}

	dec := o.detector.Decide(rep.Findings)
	if dec.Blocked() {
		overridden := dec.Verdict == blocker.VerdictSoftBlock && opts.OverrideSoftBlockers
		if !overridden {
			w, uerr := o.store.Update(ctx, featureID, func(w *types.WorkflowState) error {
				w.Block(haltBlocked(featureID, phase.Name, dec))
				w.EndPhaseTiming(phase.Name, time.Now().UTC())
				return nil
			})
			if uerr != nil {
				return nil, uerr
			}
			log.Warn("phase blocked", "verdict", string(dec.Verdict), "error", swerr.PhaseBlocked(phase.Name, dec.Critical, dec.High))
			return &Result{Outcome: OutcomeBlocked, State: w, Phase: phase.Name, Decision: &dec}, nil
		}
		log.Warn("soft block overridden", "operator", opts.Operator, "high", dec.High)
	}

	// Decomposing phase: register epics and wait for them.
	if phase.DecomposesEpics && len(rep.Epics) > 0 {
		w, err = o.registerEpics(ctx, w, phase, rep.Epics)
		if err != nil {
			return nil, err
		}
		return o.checkEpics(ctx, w, phase)
	}

	return o.completePhase(ctx, w, phase, &dec, rep, opts)
}

// resolveGate checks the pending gate's approval artifact and records the
// result. OutcomeAdvanced signals the caller to proceed with the phase.
func (o *Orchestrator) resolveGate(ctx context.Context, w *types.WorkflowState, phase types.Phase) (*Result, error) {
	res, err := gate.Resolve(w.Dir, phase.Gate)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	switch res.Status {
	case types.GateStatusApproved:
		w, err = o.store.Update(ctx, w.FeatureID, func(w *types.WorkflowState) error {
			gate.Record(w, phase.Gate, res, now)
			w.ClearGateWait()
			w.LastHalt = ""
			return nil
		})
		if err != nil {
			return nil, err
		}
		return &Result{Outcome: OutcomeAdvanced, State: w, Phase: phase.Name}, nil

	case types.GateStatusRejected:
		// The workflow stays parked on the gate; the approver must replace
		// the artifact with an approval to start a new cycle.
		w, err = o.store.Update(ctx, w.FeatureID, func(w *types.WorkflowState) error {
			gate.Record(w, phase.Gate, res, now)
			w.AwaitGate(phase.Gate)
			w.LastHalt = haltGateRejected(w.FeatureID, phase.Gate, res.Approver)
			return nil
		})
		if err != nil {
			return nil, err
		}
		logging.WithFeature(o.logger, w.FeatureID).Warn("gate rejected",
			"gate", phase.Gate,
			"error", swerr.GateRejected(phase.Gate, res.Approver),
		)
		return &Result{Outcome: OutcomeGateRejected, State: w, Phase: phase.Name}, nil

	default:
		w, err = o.store.Update(ctx, w.FeatureID, func(w *types.WorkflowState) error {
			gate.Raise(w, phase.Gate)
			w.AwaitGate(phase.Gate)
			return nil
		})
		if err != nil {
			return nil, err
		}
		logging.WithFeature(o.logger, w.FeatureID).Info("awaiting gate approval",
			"gate", phase.Gate,
			"artifact", gate.ArtifactPath(w.Dir, phase.Gate),
			"reason", swerr.GateNotApproved(phase.Gate),
		)
		return &Result{Outcome: OutcomeAwaitingGate, State: w, Phase: phase.Name}, nil
	}
}

// registerEpics creates tracker records for the handler's epic drafts and
// registers them on the workflow. Re-registration is idempotent. Drafts
// carrying a contracts ref are locked immediately so they are assignable.
func (o *Orchestrator) registerEpics(ctx context.Context, w *types.WorkflowState, phase types.Phase, drafts []report.EpicDraft) (*types.WorkflowState, error) {
	ids := make([]string, 0, len(drafts))
	for _, d := range drafts {
		id := d.ID
		if id == "" {
			id = uuid.NewString()
		}
		e := types.NewEpic(id, w.FeatureID, d.Title)
		if d.ContractsRef != "" {
			if err := e.LockContracts(d.ContractsRef); err != nil {
				return nil, err
			}
		}
		if err := o.tracker.CreateEpic(ctx, e); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	w, err := o.store.Update(ctx, w.FeatureID, func(w *types.WorkflowState) error {
		for _, id := range ids {
			w.RegisterEpic(id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	o.logger.Info("epics registered", "feature_id", w.FeatureID, "phase", phase.Name, "count", len(ids))
	return w, nil
}

// checkEpics completes the decomposing phase once every registered epic is
// done; otherwise it is a no-op reporting the remainder.
func (o *Orchestrator) checkEpics(ctx context.Context, w *types.WorkflowState, phase types.Phase) (*Result, error) {
	var pending []string
	for _, id := range w.Epics {
		e, err := o.tracker.GetEpic(ctx, id)
		if err != nil {
			return nil, err
		}
		if e.State != types.EpicStateDone {
			pending = append(pending, id)
		}
	}

	if len(pending) > 0 {
		return &Result{
			Outcome:      OutcomeEpicsPending,
			State:        w,
			Phase:        phase.Name,
			PendingEpics: pending,
		}, nil
	}
	return o.completePhase(ctx, w, phase, nil, nil, Options{})
}

// completePhase records the phase done and positions the workflow for the
// next one: awaiting its gate, in progress, or completed after the last.
func (o *Orchestrator) completePhase(ctx context.Context, w *types.WorkflowState, phase types.Phase, dec *blocker.Decision, rep *report.Report, opts Options) (*Result, error) {
	now := time.Now().UTC()
	ordinal := w.CurrentPhase

	w, err := o.store.Update(ctx, w.FeatureID, func(w *types.WorkflowState) error {
		if err := w.CompletePhase(ordinal); err != nil {
			return swerr.InvalidState(w.FeatureID, string(w.Status), "advance").WithCause(err)
		}
		w.EndPhaseTiming(phase.Name, now)
		w.LastHalt = ""

		if dec != nil && dec.Verdict == blocker.VerdictSoftBlock && opts.OverrideSoftBlockers {
			rendered := make([]string, len(dec.Blocking))
			for i, f := range dec.Blocking {
				rendered[i] = f.String()
			}
			w.RecordOverride(types.OverrideRecord{
				ID:       uuid.NewString(),
				Phase:    phase.Name,
				Operator: opts.Operator,
				Findings: rendered,
				At:       now,
			})
		}

		if phase.RecordsDeployment && rep != nil && rep.Deployment != nil {
			w.RecordDeployment(*rep.Deployment)
		}

		if w.CurrentPhase >= o.table.Len() {
			w.Complete()
			return nil
		}

		next, _ := o.table.At(w.CurrentPhase)
		if next.Gate != "" && w.Gate(next.Gate).Status != types.GateStatusApproved {
			gate.Raise(w, next.Gate)
			w.AwaitGate(next.Gate)
		} else {
			w.Status = types.WorkflowStatusInProgress
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	res := &Result{State: w, Phase: phase.Name, Decision: dec}
	switch {
	case w.Status.IsTerminal():
		res.Outcome = OutcomeCompleted
	case w.Status == types.WorkflowStatusAwaitingGate:
		res.Outcome = OutcomeAwaitingGate
	default:
		res.Outcome = OutcomeAdvanced
	}

	o.logger.Info("phase completed",
		"feature_id", w.FeatureID,
		"phase", phase.Name,
		"next", o.table.NameOf(w.CurrentPhase),
		"status", string(w.Status),
	)
	return res, nil
}

// Halt messages always name the phase, the cause, and the exact follow-up
// command to resume.

func haltHandlerFailed(featureID, phase string, exitCode int, stderr string) string {
	msg := fmt.Sprintf("phase %s handler exited with code %d", phase, exitCode)
	if s := strings.TrimSpace(stderr); s != "" {
		msg += "\n" + s
	}
	return msg + fmt.Sprintf("\nfix the handler and run: shipway advance %s", featureID)
}

func haltCriteriaUnmet(featureID, phase string, missing []string) string {
	return fmt.Sprintf("phase %s completed but required artifacts are missing: %s\nproduce them and run: shipway advance %s",
		phase, strings.Join(missing, ", "), featureID)
}

func haltBlocked(featureID, phase string, dec blocker.Decision) string {
	msg := fmt.Sprintf("phase %s blocked (%s): %d critical, %d high\n%s", phase, dec.Verdict, dec.Critical, dec.High, dec.Summary)
	if dec.Verdict == blocker.VerdictSoftBlock {
		return msg + fmt.Sprintf("remediate and run: shipway advance %s (or --override-soft-blockers to log an exception)", featureID)
	}
	return msg + fmt.Sprintf("remediate the critical findings and run: shipway advance %s", featureID)
}

func haltGateRejected(featureID, gateName, approver string) string {
	who := approver
	if who == "" {
		who = "the approver"
	}
	return fmt.Sprintf("gate %s was rejected by %s\nreplace the approval artifact and run: shipway advance %s",
		gateName, who, featureID)
}
