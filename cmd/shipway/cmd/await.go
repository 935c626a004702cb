package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/shipway-dev/shipway/internal/gate"
	"github.com/shipway-dev/shipway/internal/poll"
	"github.com/shipway-dev/shipway/internal/types"
)

var awaitCmd = &cobra.Command{
	Use:   "await <feature-id>",
	Short: "Wait for the feature's pending gate to be resolved",
	Long: `Poll the feature's pending approval artifact at a fixed interval
until the approver writes a terminal marker (approve or reject) or the
wait budget runs out.

Waiting never mutates state: a timeout exits with an error and the
feature stays exactly where it was, so the wait can be retried. On
resolution, run 'shipway advance' to act on it.`,
	Args: cobra.ExactArgs(1),
	RunE: runAwait,
}

var (
	awaitInterval time.Duration
	awaitBudget   time.Duration
)

func init() {
	awaitCmd.Flags().DurationVar(&awaitInterval, "interval", 0, "poll interval (default from config)")
	awaitCmd.Flags().DurationVar(&awaitBudget, "budget", 0, "total wait budget (default from config)")
	rootCmd.AddCommand(awaitCmd)
}

func runAwait(cmd *cobra.Command, args []string) error {
	if err := checkProjectDir(); err != nil {
		return err
	}
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	featureID := args[0]
	w, err := a.store.Get(cmd.Context(), featureID)
	if err != nil {
		return err
	}
	if w.Status != types.WorkflowStatusAwaitingGate {
		fmt.Printf("Feature %s is %s; nothing to wait for.\n", featureID, w.Status)
		return nil
	}
	gateName := w.AwaitingGateName
	featureDir := w.Dir

	interval := a.cfg.Poll.Interval
	if awaitInterval > 0 {
		interval = awaitInterval
	}
	budget := a.cfg.Poll.Budget
	if awaitBudget > 0 {
		budget = awaitBudget
	}

	fmt.Printf("Waiting for gate %s (every %s, up to %s)...\n", gateName, interval, budget)

	waiter := poll.NewWaiter(interval, budget, a.logger)
	var resolved gate.Resolution
	err = waiter.Wait(cmd.Context(), "gate "+gateName, func(ctx context.Context) (bool, error) {
		res, err := gate.Resolve(featureDir, gateName)
		if err != nil {
			return false, err
		}
		// Only a terminal marker ends the wait.
		if res.Status == types.GateStatusApproved || res.Status == types.GateStatusRejected {
			resolved = res
			return true, nil
		}
		return false, nil
	})
	if err != nil {
		return err
	}

	fmt.Printf("Gate %s: %s", gateName, resolved.Status)
	if resolved.Approver != "" {
		fmt.Printf(" by %s", resolved.Approver)
	}
	fmt.Printf("\nRun: shipway advance %s\n", featureID)
	return nil
}
