// Package testutil provides assertion helpers and fixtures for shipway
// tests.
package testutil

import (
	"os"
	"reflect"
	"strings"
	"testing"

	swerr "github.com/shipway-dev/shipway/internal/errors"
	"github.com/shipway-dev/shipway/internal/types"
)

// AssertEqual asserts that two values are equal.
func AssertEqual(t *testing.T, expected, actual any) {
	t.Helper()
	if !reflect.DeepEqual(expected, actual) {
		t.Errorf("Expected values to be equal\nExpected: %v\nActual: %v", expected, actual)
	}
}

// AssertNoError asserts that an error is nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Errorf("Expected no error\nError: %v", err)
	}
}

// AssertError asserts that an error is not nil.
func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Error("Expected an error")
	}
}

// AssertErrorCode asserts that an error carries the given shipway code.
func AssertErrorCode(t *testing.T, err error, code string) {
	t.Helper()
	if !swerr.HasCode(err, code) {
		t.Errorf("Expected error code %s, got: %v", code, err)
	}
}

// AssertContains asserts that a string contains a substring.
func AssertContains(t *testing.T, s, substring string) {
	t.Helper()
	if !strings.Contains(s, substring) {
		t.Errorf("Expected string to contain substring\nString: %q\nSubstring: %q", s, substring)
	}
}

// AssertFileExists asserts that a file exists.
func AssertFileExists(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Errorf("Expected file %s to exist", path)
	}
}

// AssertFileNotExists asserts that a file does not exist.
func AssertFileNotExists(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); err == nil {
		t.Errorf("Expected file %s to not exist", path)
	}
}

// AssertWorkflowStatus asserts a feature's workflow status.
func AssertWorkflowStatus(t *testing.T, w *types.WorkflowState, expected types.WorkflowStatus) {
	t.Helper()
	if w.Status != expected {
		t.Errorf("Expected feature %s status to be %s, got %s", w.FeatureID, expected, w.Status)
	}
}

// AssertEpicState asserts an epic's state.
func AssertEpicState(t *testing.T, e *types.Epic, expected types.EpicState) {
	t.Helper()
	if e.State != expected {
		t.Errorf("Expected epic %s state to be %s, got %s", e.ID, expected, e.State)
	}
}

// AssertGateStatus asserts the status of a named gate on a feature.
func AssertGateStatus(t *testing.T, w *types.WorkflowState, gateName string, expected types.GateStatus) {
	t.Helper()
	g, ok := w.Gates[gateName]
	if !ok {
		t.Errorf("Expected feature %s to have gate %s", w.FeatureID, gateName)
		return
	}
	if g.Status != expected {
		t.Errorf("Expected gate %s status to be %s, got %s", gateName, expected, g.Status)
	}
}

// RequireNoError is like AssertNoError but fails the test immediately.
func RequireNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("Expected no error\nError: %v", err)
	}
}
