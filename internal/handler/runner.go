// Package handler executes per-phase handler programs with cancellation
// support. A handler is an executable at .shipway/handlers/<phase>; the
// engine treats it as a black box and judges it by exit code alone.
package handler

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/shipway-dev/shipway/internal/logging"
)

// Result captures a handler run.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Succeeded reports whether the handler met the exit-code contract.
func (r *Result) Succeeded() bool {
	return r.ExitCode == 0
}

// Runner locates and executes phase handlers.
type Runner interface {
	Run(ctx context.Context, phase, featureID, featureDir string) (*Result, error)
}

// ExecRunner runs handlers as subprocesses.
type ExecRunner struct {
	// HandlersDir is the directory containing one executable per phase.
	HandlersDir string

	// StopGracePeriod is how long a cancelled handler gets between
	// SIGTERM and SIGKILL.
	StopGracePeriod time.Duration

	Logger *slog.Logger
}

// NewExecRunner creates a runner over the given handlers directory.
func NewExecRunner(handlersDir string, stopGracePeriod time.Duration, logger *slog.Logger) *ExecRunner {
	if stopGracePeriod <= 0 {
		stopGracePeriod = 10 * time.Second
	}
	if logger == nil {
		logger = logging.NewDefault()
	}
	return &ExecRunner{
		HandlersDir:     handlersDir,
		StopGracePeriod: stopGracePeriod,
		Logger:          logger,
	}
}

// Path returns the expected handler executable for a phase.
func (r *ExecRunner) Path(phase string) string {
	return filepath.Join(r.HandlersDir, phase)
}

// Run executes the phase handler with the feature ID and directory as
// arguments, plus SHIPWAY_FEATURE and SHIPWAY_PHASE in the environment.
// On context cancellation the handler's process group gets SIGTERM, then
// SIGKILL after the grace period.
func (r *ExecRunner) Run(ctx context.Context, phase, featureID, featureDir string) (*Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	path := r.Path(phase)
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("handler for phase %s not found at %s: %w", phase, path, err)
	}
	if info.Mode()&0111 == 0 {
		return nil, fmt.Errorf("handler for phase %s is not executable: %s", phase, path)
	}

	// Not CommandContext: cancellation is handled manually so the handler
	// gets SIGTERM before SIGKILL.
	cmd := exec.Command(path, featureID, featureDir)
	cmd.Dir = featureDir
	cmd.Env = append(os.Environ(),
		"SHIPWAY_FEATURE="+featureID,
		"SHIPWAY_PHASE="+phase,
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	// Process group so the whole handler tree can be killed
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting handler %s: %w", path, err)
	}

	r.Logger.Debug("handler started", "phase", phase, "feature_id", featureID, "pid", cmd.Process.Pid)

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	var exitCode int
	var runErr error

	select {
	case <-ctx.Done():
		_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
		select {
		case <-done:
		case <-time.After(r.StopGracePeriod):
			_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
			<-done
		}
		exitCode = -1
		runErr = ctx.Err()

	case err := <-done:
		if err != nil {
			if exitErr, ok := err.(*exec.ExitError); ok {
				exitCode = exitErr.ExitCode()
			} else {
				exitCode = -1
				runErr = err
			}
		}
	}

	res := &Result{
		ExitCode: exitCode,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	r.Logger.Info("handler finished",
		"phase", phase,
		"feature_id", featureID,
		"exit_code", exitCode,
		"duration", res.Duration.Round(time.Millisecond).String(),
	)

	return res, runErr
}
