// Package report parses phase report artifacts. Severities are converted
// to typed enums here, at the ingestion boundary; downstream code never
// re-interprets raw artifact text.
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/shipway-dev/shipway/internal/types"
)

// EpicDraft is one parallelizable unit declared by a decomposing phase.
type EpicDraft struct {
	ID           string `yaml:"id"`
	Title        string `yaml:"title,omitempty"`
	ContractsRef string `yaml:"contracts_ref,omitempty"`
}

// Report is the typed form of a phase report artifact.
type Report struct {
	Phase      string
	Findings   []types.Finding
	Artifacts  []string
	Epics      []EpicDraft
	Deployment *types.Deployment
}

// rawReport mirrors the artifact before severity typing.
type rawReport struct {
	Phase    string `yaml:"phase"`
	Findings []struct {
		Severity string `yaml:"severity"`
		Code     string `yaml:"code"`
		Message  string `yaml:"message"`
		File     string `yaml:"file"`
	} `yaml:"findings"`
	Artifacts  []string    `yaml:"artifacts"`
	Epics      []EpicDraft `yaml:"epics"`
	Deployment *struct {
		Environment string   `yaml:"environment"`
		Commit      string   `yaml:"commit"`
		RunID       string   `yaml:"run_id"`
		ArtifactIDs []string `yaml:"artifact_ids"`
	} `yaml:"deployment"`
}

// Path returns the phase-fixed report artifact path for a feature.
func Path(featureDir, phaseName string) string {
	return filepath.Join(featureDir, "reports", phaseName+".yaml")
}

// Load reads and types the report artifact for a phase.
// A missing artifact returns os.ErrNotExist (via os.ReadFile).
func Load(featureDir, phaseName string) (*Report, error) {
	path := Path(featureDir, phaseName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data, path)
}

// Parse converts raw artifact bytes into a typed Report.
func Parse(data []byte, path string) (*Report, error) {
	var raw rawReport
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing report %s: %w", path, err)
	}

	r := &Report{
		Phase:     raw.Phase,
		Artifacts: raw.Artifacts,
		Epics:     raw.Epics,
	}

	for i, f := range raw.Findings {
		sev, err := types.ParseSeverity(f.Severity)
		if err != nil {
			return nil, fmt.Errorf("report %s finding %d: %w", path, i, err)
		}
		r.Findings = append(r.Findings, types.Finding{
			Severity: sev,
			Code:     f.Code,
			Message:  f.Message,
			File:     f.File,
		})
	}

	if raw.Deployment != nil {
		if raw.Deployment.Environment == "" {
			return nil, fmt.Errorf("report %s: deployment record has no environment", path)
		}
		r.Deployment = &types.Deployment{
			Environment: raw.Deployment.Environment,
			Commit:      raw.Deployment.Commit,
			RunID:       raw.Deployment.RunID,
			ArtifactIDs: raw.Deployment.ArtifactIDs,
			DeployedAt:  time.Now().UTC(),
		}
	}

	return r, nil
}
