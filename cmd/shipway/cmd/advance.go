package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/shipway-dev/shipway/internal/gate"
	"github.com/shipway-dev/shipway/internal/orchestrator"
)

var advanceCmd = &cobra.Command{
	Use:   "advance <feature-id>",
	Short: "Execute the feature's next phase transition",
	Long: `Execute at most one phase transition for the feature: resolve a
pending gate, run the current phase's handler, verify its completion
criteria, and apply the severity policy to its report.

Exits 0 when the pipeline made progress or is legitimately waiting
(gate, epics); exits 1 when it is blocked, failed, or the gate was
rejected.`,
	Args: cobra.ExactArgs(1),
	RunE: runAdvance,
}

var (
	advanceOverride bool
	advanceOperator string
)

func init() {
	advanceCmd.Flags().BoolVar(&advanceOverride, "override-soft-blockers", false, "downgrade a soft block to a logged exception")
	advanceCmd.Flags().StringVar(&advanceOperator, "operator", "", "operator name recorded with an override")
	rootCmd.AddCommand(advanceCmd)
}

func runAdvance(cmd *cobra.Command, args []string) error {
	if err := checkProjectDir(); err != nil {
		return err
	}
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	featureID := args[0]
	res, err := a.orch.Advance(cmd.Context(), featureID, orchestrator.Options{
		OverrideSoftBlockers: advanceOverride,
		Operator:             advanceOperator,
	})
	if err != nil {
		return err
	}

	switch res.Outcome {
	case orchestrator.OutcomeAdvanced:
		fmt.Printf("Phase %s completed. Next: %s.\n", res.Phase, a.table.NameOf(res.State.CurrentPhase))
		fmt.Printf("Run: shipway advance %s\n", featureID)

	case orchestrator.OutcomeCompleted:
		fmt.Printf("All phases completed for %s.\n", featureID)

	case orchestrator.OutcomeAwaitingGate:
		g := res.State.AwaitingGateName
		fmt.Printf("Waiting on gate %s.\n", g)
		fmt.Printf("Approve by writing %q to %s, then re-run advance (or 'shipway await %s').\n",
			gate.ApproveMarker, gate.ArtifactPath(res.State.Dir, g), featureID)

	case orchestrator.OutcomeEpicsPending:
		fmt.Printf("Phase %s is waiting on %d epic(s): %s\n",
			res.Phase, len(res.PendingEpics), strings.Join(res.PendingEpics, ", "))
		fmt.Println("Finish them with 'shipway wip done <epic>', then re-run advance.")

	case orchestrator.OutcomeNoOp:
		fmt.Printf("Nothing to do: %s is %s.\n", featureID, res.State.Status)

	default:
		// blocked, failed, gate_rejected: the halt message says what and how
		fmt.Println(res.State.LastHalt)
		return ErrHalted
	}

	return nil
}
