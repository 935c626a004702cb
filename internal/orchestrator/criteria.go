package orchestrator

import (
	"os"
	"path/filepath"
)

// missingArtifacts returns the required artifacts (relative to the feature
// directory) that do not exist or are empty. Empty files do not count as
// produced artifacts.
func missingArtifacts(featureDir string, required []string) []string {
	var missing []string
	for _, rel := range required {
		info, err := os.Stat(filepath.Join(featureDir, rel))
		if err != nil || info.IsDir() || info.Size() == 0 {
			missing = append(missing, rel)
		}
	}
	return missing
}
