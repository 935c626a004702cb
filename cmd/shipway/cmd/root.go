// Package cmd implements the shipway CLI. Every command is a single
// short-lived invocation over the persisted project state; exit code 0
// means success or assigned, 1 means queued, blocked, failed, or fatal.
package cmd

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/shipway-dev/shipway/internal/blocker"
	"github.com/shipway-dev/shipway/internal/config"
	"github.com/shipway-dev/shipway/internal/handler"
	"github.com/shipway-dev/shipway/internal/logging"
	"github.com/shipway-dev/shipway/internal/orchestrator"
	"github.com/shipway-dev/shipway/internal/store"
	"github.com/shipway-dev/shipway/internal/types"
	"github.com/shipway-dev/shipway/internal/wip"
)

var (
	// Version is set at build time via ldflags
	Version = "dev"

	// Global flags
	verbose bool
	workDir string
)

// ErrHalted signals exit status 1 for an outcome the command has already
// explained on stdout (queued, blocked, failed, rejected).
var ErrHalted = errors.New("halted")

var rootCmd = &cobra.Command{
	Use:   "shipway",
	Short: "Shipway - phased delivery pipeline orchestration",
	Long: `Shipway drives features through a fixed delivery pipeline:
specify, plan, contracts, implement, validate, stage, release.

Each invocation performs at most one transition and persists everything
to .shipway/ before exiting; there is no daemon. Phase work is done by
your handler executables under .shipway/handlers/, manual gates are
approved by editing approval artifacts, and implementation work is
spread across agents with per-agent WIP limits.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVarP(&workDir, "workdir", "C", "", "working directory (default: current)")

	rootCmd.Version = Version
	rootCmd.SetVersionTemplate("shipway {{.Version}}\n")
}

// getWorkDir returns the effective working directory.
func getWorkDir() (string, error) {
	if workDir != "" {
		return workDir, nil
	}
	return os.Getwd()
}

// checkProjectDir ensures we're in a shipway project directory.
func checkProjectDir() error {
	dir, err := getWorkDir()
	if err != nil {
		return err
	}
	if _, err := os.Stat(filepath.Join(dir, ".shipway")); os.IsNotExist(err) {
		return fmt.Errorf("not a shipway project (no .shipway directory). Run 'shipway init' first")
	}
	return nil
}

// app bundles the collaborators wired for one invocation.
type app struct {
	dir     string
	cfg     *config.Config
	logger  *slog.Logger
	closer  io.Closer
	store   *store.FeatureStore
	tracker *wip.Tracker
	sched   *wip.Scheduler
	orch    *orchestrator.Orchestrator
	table   types.PhaseTable
}

// newApp loads config and wires the engine for the current project.
func newApp() (*app, error) {
	dir, err := getWorkDir()
	if err != nil {
		return nil, err
	}

	cfg, err := config.LoadFromDir(dir)
	if err != nil {
		return nil, err
	}
	if verbose {
		cfg.Logging.Level = config.LogLevelDebug
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger, closer, err := logging.NewFromConfig(cfg, dir)
	if err != nil {
		return nil, err
	}

	st, err := store.NewFeatureStore(cfg.FeaturesDir(dir))
	if err != nil {
		return nil, err
	}
	tracker, err := wip.NewTracker(cfg.WIPDir(dir))
	if err != nil {
		return nil, err
	}

	runner := handler.NewExecRunner(
		cfg.HandlersDir(dir),
		time.Duration(cfg.Handler.StopGracePeriod)*time.Second,
		logger,
	)
	detector := blocker.New(blocker.Policy{
		HighThreshold: cfg.Blocker.HighThreshold,
		FindingsCap:   cfg.Blocker.FindingsCap,
	})

	table := types.DefaultTable()
	orch, err := orchestrator.New(st, tracker, table, runner, detector, logger)
	if err != nil {
		return nil, err
	}

	return &app{
		dir:     dir,
		cfg:     cfg,
		logger:  logger,
		closer:  closer,
		store:   st,
		tracker: tracker,
		sched:   wip.NewScheduler(tracker, cfg.Scheduler.MaxEpicsPerAgent, logger),
		orch:    orch,
		table:   table,
	}, nil
}

// Close releases the log file, if any.
func (a *app) Close() {
	if a.closer != nil {
		a.closer.Close()
	}
}
