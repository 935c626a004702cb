package types

import "fmt"

// Phase describes one ordered stage of the delivery pipeline.
type Phase struct {
	// Name identifies the phase and its handler executable.
	Name string

	// Gate names the manual approval gate guarding this phase, if any.
	// The phase may not start while the gate is not approved.
	Gate string

	// RequiredArtifacts lists paths (relative to the feature directory)
	// that must exist for the phase to count as complete.
	RequiredArtifacts []string

	// DecomposesEpics marks the phase whose handler splits the feature
	// into parallelizable epics handed to the WIP scheduler.
	DecomposesEpics bool

	// RecordsDeployment marks phases whose report may carry a
	// deployment record to merge into the workflow state.
	RecordsDeployment bool
}

// PhaseTable is the fixed ordered list of pipeline phases.
// current_phase in WorkflowState is an ordinal into this table.
type PhaseTable []Phase

// DefaultTable returns the standard seven-phase delivery pipeline.
func DefaultTable() PhaseTable {
	return PhaseTable{
		{Name: "specify", RequiredArtifacts: []string{"spec.md"}},
		{Name: "plan", RequiredArtifacts: []string{"plan.md"}},
		{Name: "contracts", RequiredArtifacts: []string{"contracts.md"}},
		{Name: "implement", Gate: "plan-review", DecomposesEpics: true},
		{Name: "validate"},
		{Name: "stage", RecordsDeployment: true},
		{Name: "release", Gate: "release-signoff", RecordsDeployment: true},
	}
}

// Validate checks table consistency: non-empty, unique names.
func (t PhaseTable) Validate() error {
	if len(t) == 0 {
		return fmt.Errorf("phase table is empty")
	}
	seen := make(map[string]bool, len(t))
	for i, p := range t {
		if p.Name == "" {
			return fmt.Errorf("phase %d has no name", i)
		}
		if seen[p.Name] {
			return fmt.Errorf("duplicate phase name: %s", p.Name)
		}
		seen[p.Name] = true
	}
	return nil
}

// At returns the phase at the given ordinal.
func (t PhaseTable) At(ordinal int) (Phase, bool) {
	if ordinal < 0 || ordinal >= len(t) {
		return Phase{}, false
	}
	return t[ordinal], true
}

// NameOf returns the name of the phase at the given ordinal, or the
// ordinal itself rendered as a string when out of range.
func (t PhaseTable) NameOf(ordinal int) string {
	if p, ok := t.At(ordinal); ok {
		return p.Name
	}
	return fmt.Sprintf("phase-%d", ordinal)
}

// Len returns the number of phases.
func (t PhaseTable) Len() int {
	return len(t)
}
