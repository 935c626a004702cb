package status

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/shipway-dev/shipway/internal/wip"
)

var (
	colorPass = lipgloss.AdaptiveColor{Light: "#86b300", Dark: "#c2d94c"}
	colorWarn = lipgloss.AdaptiveColor{Light: "#f2ae49", Dark: "#ffb454"}
	colorFail = lipgloss.AdaptiveColor{Light: "#f07171", Dark: "#f07178"}
	colorMute = lipgloss.AdaptiveColor{Light: "#828c99", Dark: "#6c7680"}

	passStyle   = lipgloss.NewStyle().Foreground(colorPass)
	warnStyle   = lipgloss.NewStyle().Foreground(colorWarn)
	failStyle   = lipgloss.NewStyle().Foreground(colorFail)
	mutedStyle  = lipgloss.NewStyle().Foreground(colorMute)
	headerStyle = lipgloss.NewStyle().Bold(true)
)

// styleFor maps a workflow/gate/epic state to its display style.
func styleFor(state string) lipgloss.Style {
	switch state {
	case "completed", "approved", "done", "in_progress", "implementing":
		return passStyle
	case "awaiting_gate", "awaiting_approval", "pending", "parked", "queued":
		return warnStyle
	case "blocked", "failed", "rejected":
		return failStyle
	default:
		return mutedStyle
	}
}

// Render formats the summary for the terminal. Colors follow the ambient
// lipgloss profile, so NO_COLOR and non-TTY output degrade to plain text.
func Render(s *Summary) string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s  %s\n", headerStyle.Render(s.FeatureID), styleFor(s.Status).Render(s.Status))
	fmt.Fprintf(&b, "phase: %s (%d/%d)\n", s.CurrentPhase, s.PhaseOrdinal, s.TotalPhases)
	if len(s.PhasesCompleted) > 0 {
		fmt.Fprintf(&b, "completed: %s\n", mutedStyle.Render(strings.Join(s.PhasesCompleted, " -> ")))
	}

	if s.AwaitingGate != "" {
		fmt.Fprintf(&b, "waiting on gate: %s\n", warnStyle.Render(s.AwaitingGate))
	}
	for _, g := range s.Gates {
		line := fmt.Sprintf("  gate %s: %s", g.Name, styleFor(g.Status).Render(g.Status))
		if g.Approver != "" {
			line += mutedStyle.Render(" by " + g.Approver)
		}
		b.WriteString(line + "\n")
	}

	if len(s.Epics) > 0 {
		b.WriteString("epics:\n")
		for _, e := range s.Epics {
			line := fmt.Sprintf("  %s: %s", e.ID, styleFor(e.State).Render(e.State))
			if e.AssignedAgent != "" {
				line += mutedStyle.Render(" @ " + e.AssignedAgent)
			}
			b.WriteString(line + "\n")
		}
	}

	for _, d := range s.Deployments {
		fmt.Fprintf(&b, "deployed %s: %s\n", d.Environment, mutedStyle.Render(d.Commit))
	}
	if s.OverrideCount > 0 {
		fmt.Fprintf(&b, "%s\n", warnStyle.Render(fmt.Sprintf("%d soft-block override(s) on record", s.OverrideCount)))
	}
	if s.LastHalt != "" {
		fmt.Fprintf(&b, "%s\n", failStyle.Render(s.LastHalt))
	}

	return b.String()
}

// RenderWIP formats the scheduler snapshot as the wip dashboard.
func RenderWIP(snap *wip.Snapshot) string {
	var b strings.Builder

	b.WriteString(headerStyle.Render("agents") + "\n")
	if len(snap.Agents) == 0 {
		b.WriteString(mutedStyle.Render("  none registered") + "\n")
	}
	for _, a := range snap.Agents {
		fmt.Fprintf(&b, "  %s  %d/%d active", a.ID, len(a.CurrentEpics), a.MaxEpics)
		if len(a.CurrentEpics) > 0 {
			fmt.Fprintf(&b, "  %s", passStyle.Render(strings.Join(a.CurrentEpics, ", ")))
		}
		if len(a.Queue) > 0 {
			ids := make([]string, len(a.Queue))
			for i, q := range a.Queue {
				ids[i] = q.EpicID
			}
			fmt.Fprintf(&b, "  queued: %s", warnStyle.Render(strings.Join(ids, ", ")))
		}
		b.WriteString("\n")
	}

	b.WriteString(headerStyle.Render("epics") + "\n")
	if len(snap.Epics) == 0 && len(snap.Archived) == 0 {
		b.WriteString(mutedStyle.Render("  none") + "\n")
	}
	for _, e := range snap.Epics {
		line := fmt.Sprintf("  %s  %s", e.ID, styleFor(string(e.State)).Render(string(e.State)))
		if e.AssignedAgent != "" {
			line += mutedStyle.Render(" @ " + e.AssignedAgent)
		}
		if n := len(e.Parks); n > 0 {
			line += mutedStyle.Render(fmt.Sprintf(" (parked %dx)", n))
		}
		b.WriteString(line + "\n")
	}
	for _, e := range snap.Archived {
		fmt.Fprintf(&b, "  %s  %s\n", e.ID, passStyle.Render("done"))
	}

	return b.String()
}
