// Package store persists shipway records as YAML files with atomic writes.
// Every mutation is a read-modify-write cycle under a per-record flock with
// an optimistic version check, so racing invocations cannot lose updates.
package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	swerr "github.com/shipway-dev/shipway/internal/errors"
	"github.com/shipway-dev/shipway/internal/types"
)

// FeatureStore persists per-feature workflow state.
// Multiple stores can be created for the same directory; locking is
// per-feature, not per-store.
type FeatureStore struct {
	dir string // .shipway/features
}

// NewFeatureStore creates a new store, recovering interrupted writes.
func NewFeatureStore(dir string) (*FeatureStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating features dir: %w", err)
	}

	if err := RecoverInterruptedWrites(dir); err != nil {
		return nil, fmt.Errorf("recovering interrupted writes: %w", err)
	}

	return &FeatureStore{dir: dir}, nil
}

func (s *FeatureStore) path(featureID string) string {
	return filepath.Join(s.dir, featureID+".yaml")
}

// Create persists a new feature record. Fails if the record exists.
func (s *FeatureStore) Create(ctx context.Context, w *types.WorkflowState) error {
	path := s.path(w.FeatureID)

	lock, err := AcquireLock(path)
	if err != nil {
		return err
	}
	defer lock.Release()

	if _, err := os.Stat(path); err == nil {
		return swerr.InvalidState(w.FeatureID, "exists", "create")
	}
	return s.write(w)
}

// Get retrieves a feature record by ID.
func (s *FeatureStore) Get(ctx context.Context, featureID string) (*types.WorkflowState, error) {
	return s.read(featureID)
}

// Update applies mutate to the current record and persists the result
// atomically. The whole read-modify-write runs under the feature's flock;
// the version field is re-checked before the write as a second guard
// against lost updates (e.g., a writer not honoring the lock protocol).
func (s *FeatureStore) Update(ctx context.Context, featureID string, mutate func(*types.WorkflowState) error) (*types.WorkflowState, error) {
	path := s.path(featureID)

	lock, err := AcquireLock(path)
	if err != nil {
		return nil, err
	}
	defer lock.Release()

	w, err := s.read(featureID)
	if err != nil {
		return nil, err
	}
	baseVersion := w.Version

	if err := mutate(w); err != nil {
		return nil, err
	}

	// CAS: the record on disk must still carry the version we read.
	current, err := s.read(featureID)
	if err != nil {
		return nil, err
	}
	if current.Version != baseVersion {
		return nil, swerr.StateConflict(featureID, baseVersion, current.Version)
	}

	w.Version = baseVersion + 1
	w.UpdatedAt = nowUTC()

	if err := s.write(w); err != nil {
		return nil, err
	}
	return w, nil
}

// List returns all feature records, skipping lock and temp files.
// Corrupted records surface as errors rather than being skipped.
func (s *FeatureStore) List(ctx context.Context) ([]*types.WorkflowState, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}

	var states []*types.WorkflowState
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasSuffix(name, ".yaml") {
			continue
		}
		w, err := s.read(strings.TrimSuffix(name, ".yaml"))
		if err != nil {
			return nil, err
		}
		states = append(states, w)
	}
	return states, nil
}

// Delete removes a feature record.
func (s *FeatureStore) Delete(ctx context.Context, featureID string) error {
	if err := os.Remove(s.path(featureID)); err != nil {
		if os.IsNotExist(err) {
			return swerr.FeatureNotFound(featureID)
		}
		return err
	}
	return nil
}

func (s *FeatureStore) read(featureID string) (*types.WorkflowState, error) {
	path := s.path(featureID)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, swerr.FeatureNotFound(featureID)
		}
		return nil, err
	}

	var w types.WorkflowState
	if err := yaml.Unmarshal(data, &w); err != nil {
		// Never auto-repaired: silent repair risks losing audit history.
		return nil, swerr.StateCorrupted(path, err)
	}
	return &w, nil
}

func (s *FeatureStore) write(w *types.WorkflowState) error {
	data, err := yaml.Marshal(w)
	if err != nil {
		return fmt.Errorf("marshaling feature %s: %w", w.FeatureID, err)
	}
	return WriteAtomic(s.path(w.FeatureID), data)
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
