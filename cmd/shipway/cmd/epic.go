package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shipway-dev/shipway/internal/types"
)

var epicCmd = &cobra.Command{
	Use:   "epic",
	Short: "Manage epic lifecycle",
}

var epicLockCmd = &cobra.Command{
	Use:   "lock <epic-id>",
	Short: "Lock an epic's contracts, making it assignable",
	Args:  cobra.ExactArgs(1),
	RunE:  runEpicLock,
}

var epicLockContracts string

func init() {
	epicLockCmd.Flags().StringVar(&epicLockContracts, "contracts", "", "contracts reference (required)")
	epicLockCmd.MarkFlagRequired("contracts")

	epicCmd.AddCommand(epicLockCmd)
	rootCmd.AddCommand(epicCmd)
}

func runEpicLock(cmd *cobra.Command, args []string) error {
	if err := checkProjectDir(); err != nil {
		return err
	}
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	e, err := a.tracker.UpdateEpic(cmd.Context(), args[0], func(e *types.Epic) error {
		return e.LockContracts(epicLockContracts)
	})
	if err != nil {
		return err
	}
	fmt.Printf("epic %s contracts locked (%s)\n", e.ID, e.ContractsRef)
	fmt.Printf("Run: shipway wip assign %s [agent]\n", e.ID)
	return nil
}
