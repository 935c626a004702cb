package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// NewProjectDir creates a temp directory with the .shipway skeleton and
// returns its path.
func NewProjectDir(t *testing.T) string {
	t.Helper()
	base := t.TempDir()
	for _, sub := range []string{
		".shipway/features",
		".shipway/wip/epics/archive",
		".shipway/wip/agents",
		".shipway/handlers",
	} {
		if err := os.MkdirAll(filepath.Join(base, sub), 0755); err != nil {
			t.Fatalf("Failed to create %s: %v", sub, err)
		}
	}
	return base
}

// WriteHandler installs an executable handler script for a phase.
func WriteHandler(t *testing.T, projectDir, phase, script string) {
	t.Helper()
	path := filepath.Join(projectDir, ".shipway", "handlers", phase)
	if err := os.WriteFile(path, []byte(script), 0755); err != nil {
		t.Fatalf("Failed to write handler %s: %v", phase, err)
	}
}

// WriteReport writes a phase report artifact into a feature directory.
func WriteReport(t *testing.T, featureDir, phase, content string) {
	t.Helper()
	dir := filepath.Join(featureDir, "reports")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("Failed to create reports dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, phase+".yaml"), []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write report %s: %v", phase, err)
	}
}

// WriteApproval writes a gate approval artifact into a feature directory.
func WriteApproval(t *testing.T, featureDir, gateName, content string) {
	t.Helper()
	dir := filepath.Join(featureDir, "approvals")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("Failed to create approvals dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, gateName+".txt"), []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write approval %s: %v", gateName, err)
	}
}
