package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init [feature-id]",
	Short: "Create the .shipway project skeleton, optionally with a feature",
	Long: `Create the .shipway directory layout in the working directory.

With a feature ID, also create the feature's workflow record at phase 0
and its feature directory (where handlers write artifacts, reports, and
approvals).`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInit,
}

var initFeatureDir string

func init() {
	initCmd.Flags().StringVar(&initFeatureDir, "dir", "", "feature directory (default: <workdir>/features/<feature-id>)")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	dir, err := getWorkDir()
	if err != nil {
		return err
	}

	for _, sub := range []string{
		".shipway/features",
		".shipway/wip/epics/archive",
		".shipway/wip/agents",
		".shipway/handlers",
		".shipway/logs",
	} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0755); err != nil {
			return fmt.Errorf("creating %s: %w", sub, err)
		}
	}
	fmt.Println("Initialized .shipway project directory.")

	if len(args) == 0 {
		fmt.Println("Add phase handlers under .shipway/handlers/ and run 'shipway init <feature-id>'.")
		return nil
	}

	featureID := args[0]
	featureDir := initFeatureDir
	if featureDir == "" {
		featureDir = filepath.Join(dir, "features", featureID)
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if _, err := a.orch.Init(cmd.Context(), featureID, featureDir); err != nil {
		return err
	}
	fmt.Printf("Feature %s initialized at %s.\n", featureID, featureDir)
	fmt.Printf("Run: shipway advance %s\n", featureID)
	return nil
}
