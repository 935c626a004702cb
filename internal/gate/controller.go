// Package gate manages manual approval checkpoints. The controller only
// reads approval evidence; the marker artifact is written by an external
// approver, never by shipway.
package gate

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shipway-dev/shipway/internal/types"
)

// Marker strings the external approver writes into the approval artifact.
// A marker counts only as an exact, whole line; anything else is malformed
// and fail-safe keeps the gate awaiting approval.
const (
	ApproveMarker = "GATE-APPROVED"
	RejectMarker  = "GATE-REJECTED"

	approverPrefix = "Approver:"
)

// Resolution is the outcome of scanning the approval artifact.
type Resolution struct {
	Status   types.GateStatus
	Approver string
}

// ArtifactPath returns the approval artifact path for a gate.
func ArtifactPath(featureDir, gateName string) string {
	return filepath.Join(featureDir, "approvals", gateName+".txt")
}

// Raise transitions a pending gate to awaiting approval. Raising an
// already-raised gate is a no-op, keeping advance idempotent.
func Raise(w *types.WorkflowState, gateName string) {
	g := w.Gate(gateName)
	if g.Status == types.GateStatusPending {
		g.Status = types.GateStatusAwaitingApproval
	}
}

// Resolve scans the approval artifact for a completion marker.
// A valid approve marker yields Approved; an explicit reject marker yields
// Rejected; absence or a malformed artifact leaves the gate awaiting
// approval. Approval is never inferred from partial or ambiguous input: if
// both markers appear the artifact is ambiguous and stays unresolved.
func Resolve(featureDir, gateName string) (Resolution, error) {
	pending := Resolution{Status: types.GateStatusAwaitingApproval}

	file, err := os.Open(ArtifactPath(featureDir, gateName))
	if err != nil {
		if os.IsNotExist(err) {
			return pending, nil
		}
		return pending, err
	}
	defer file.Close()

	var approved, rejected bool
	var approver string

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == ApproveMarker:
			approved = true
		case line == RejectMarker:
			rejected = true
		case strings.HasPrefix(line, approverPrefix):
			approver = strings.TrimSpace(strings.TrimPrefix(line, approverPrefix))
		}
	}
	if err := scanner.Err(); err != nil {
		return pending, err
	}

	switch {
	case approved && rejected:
		return pending, nil // ambiguous, fail-safe
	case approved:
		return Resolution{Status: types.GateStatusApproved, Approver: approver}, nil
	case rejected:
		return Resolution{Status: types.GateStatusRejected, Approver: approver}, nil
	default:
		return pending, nil
	}
}

// Record applies a resolution to the workflow's gate record.
// Pending/awaiting resolutions only bump a pending gate to awaiting; a
// terminal resolution stamps approver and time.
func Record(w *types.WorkflowState, gateName string, res Resolution, at time.Time) *types.GateRecord {
	g := w.Gate(gateName)
	switch res.Status {
	case types.GateStatusApproved, types.GateStatusRejected:
		g.Status = res.Status
		g.Approver = res.Approver
		g.ResolvedAt = &at
	default:
		if g.Status == types.GateStatusPending {
			g.Status = types.GateStatusAwaitingApproval
		}
	}
	return g
}
