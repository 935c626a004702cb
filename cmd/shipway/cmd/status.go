package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shipway-dev/shipway/internal/status"
)

var statusCmd = &cobra.Command{
	Use:   "status <feature-id>",
	Short: "Show a feature's pipeline status",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

var statusJSON bool

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "output as JSON")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	if err := checkProjectDir(); err != nil {
		return err
	}
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	w, err := a.store.Get(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	s, err := status.Build(cmd.Context(), w, a.table, a.tracker)
	if err != nil {
		return err
	}

	if statusJSON {
		out, err := s.JSON()
		if err != nil {
			return err
		}
		fmt.Print(out)
		return nil
	}

	fmt.Print(status.Render(s))
	return nil
}
