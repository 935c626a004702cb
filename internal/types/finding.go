package types

import "fmt"

// Severity classifies a phase finding. Severities are parsed once at the
// report ingestion boundary; raw text is never re-interpreted downstream.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// ParseSeverity converts raw artifact text into a typed severity.
func ParseSeverity(raw string) (Severity, error) {
	switch Severity(raw) {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow:
		return Severity(raw), nil
	}
	return "", fmt.Errorf("unknown severity: %q", raw)
}

// Rank returns the ordering weight of the severity, highest first.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 0
	case SeverityHigh:
		return 1
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 3
	default:
		return 4
	}
}

// Finding is one severity-tagged entry from a phase report artifact.
type Finding struct {
	Severity Severity `yaml:"severity"`
	Code     string   `yaml:"code,omitempty"`
	Message  string   `yaml:"message"`
	File     string   `yaml:"file,omitempty"`
}

// String renders a finding in the stable single-line form used by
// blocker reports.
func (f Finding) String() string {
	s := fmt.Sprintf("[%s]", f.Severity)
	if f.Code != "" {
		s += " " + f.Code
	}
	s += " " + f.Message
	if f.File != "" {
		s += " (" + f.File + ")"
	}
	return s
}
