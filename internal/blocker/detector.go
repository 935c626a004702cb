// Package blocker classifies phase findings by severity and decides
// whether the pipeline halts. Decisions are pure functions of the input
// findings: identical input yields a byte-identical decision and summary.
package blocker

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shipway-dev/shipway/internal/types"
)

// Verdict is the gating outcome for a set of findings.
type Verdict string

const (
	// VerdictClear means no finding exceeds policy; the pipeline continues.
	VerdictClear Verdict = "clear"
	// VerdictSoftBlock halts the pipeline unless an explicit operator
	// override downgrades it to a logged exception.
	VerdictSoftBlock Verdict = "soft_block"
	// VerdictHardBlock halts the pipeline unconditionally; never overridable.
	VerdictHardBlock Verdict = "hard_block"
)

// Policy configures the severity thresholds.
type Policy struct {
	// HighThreshold is the number of high findings tolerated before a
	// soft block.
	HighThreshold int

	// FindingsCap bounds the rendered summary; findings beyond the cap
	// collapse into a single "+K more" entry.
	FindingsCap int
}

// DefaultPolicy returns the standard policy: zero high tolerance, cap 50.
func DefaultPolicy() Policy {
	return Policy{HighThreshold: 0, FindingsCap: 50}
}

// Decision is the detector's output for one report.
type Decision struct {
	Verdict  Verdict
	Critical int
	High     int
	Medium   int
	Low      int

	// Blocking holds the findings that caused the verdict (critical and
	// high), in rendering order.
	Blocking []types.Finding

	// Summary is the deterministic, truncated human-readable report.
	Summary string
}

// Blocked reports whether the verdict halts the pipeline absent override.
func (d Decision) Blocked() bool {
	return d.Verdict != VerdictClear
}

// Detector applies a Policy to findings.
type Detector struct {
	policy Policy
}

// New creates a Detector. A non-positive cap falls back to the default.
func New(policy Policy) *Detector {
	if policy.FindingsCap <= 0 {
		policy.FindingsCap = DefaultPolicy().FindingsCap
	}
	return &Detector{policy: policy}
}

// Decide classifies findings and renders the truncated summary.
// Critical count > 0 is a hard block; high count above the threshold is a
// soft block; medium and low are informational only.
func (d *Detector) Decide(findings []types.Finding) Decision {
	dec := Decision{Verdict: VerdictClear}

	for _, f := range findings {
		switch f.Severity {
		case types.SeverityCritical:
			dec.Critical++
		case types.SeverityHigh:
			dec.High++
		case types.SeverityMedium:
			dec.Medium++
		case types.SeverityLow:
			dec.Low++
		}
	}

	switch {
	case dec.Critical > 0:
		dec.Verdict = VerdictHardBlock
	case dec.High > d.policy.HighThreshold:
		dec.Verdict = VerdictSoftBlock
	}

	ordered := orderFindings(findings)
	for _, f := range ordered {
		if f.Severity == types.SeverityCritical || f.Severity == types.SeverityHigh {
			dec.Blocking = append(dec.Blocking, f)
		}
	}
	dec.Summary = renderSummary(ordered, d.policy.FindingsCap)

	return dec
}

// orderFindings sorts by severity descending, then first-seen order.
// sort.SliceStable preserves input order within a severity, which is what
// makes the truncated summary reproducible.
func orderFindings(findings []types.Finding) []types.Finding {
	ordered := make([]types.Finding, len(findings))
	copy(ordered, findings)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Severity.Rank() < ordered[j].Severity.Rank()
	})
	return ordered
}

// renderSummary renders up to cap findings, one per line, plus a single
// synthetic "+K more" entry when the cap truncates.
func renderSummary(ordered []types.Finding, limit int) string {
	if len(ordered) == 0 {
		return "no findings"
	}

	shown := ordered
	extra := 0
	if len(ordered) > limit {
		shown = ordered[:limit]
		extra = len(ordered) - limit
	}

	var b strings.Builder
	for _, f := range shown {
		b.WriteString(f.String())
		b.WriteString("\n")
	}
	if extra > 0 {
		fmt.Fprintf(&b, "+%d more\n", extra)
	}
	return b.String()
}
