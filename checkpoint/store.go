package checkpoint

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"

	"github.com/c360studio/agentgraph/agerr"
	"github.com/c360studio/agentgraph/graph"
)

const filePerm = 0o644

// Store persists named snapshots for a single project under root, one JSON
// file per name, written atomically (write-temp + rename) so a crash mid
// write never corrupts a prior snapshot.
//
// Snapshot persistence is an internal recovery mechanism, not a
// user-visible lifecycle stage, so it logs rather than publishing to the
// events.Bus — checkpoint_started/completed/failed on the bus name the
// review/QA quality-gate tasks, not this store.
type Store struct {
	root      string
	projectID string
	logger    *slog.Logger
}

// NewStore creates a Store rooted at filepath.Join(root, projectID). A nil
// logger falls back to slog.Default().
func NewStore(root, projectID string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{root: root, projectID: projectID, logger: logger}
}

func (s *Store) dir() string {
	return filepath.Join(s.root, s.projectID)
}

func (s *Store) path(name Name) string {
	return filepath.Join(s.dir(), string(name)+".json")
}

// Snapshot captures g's current state under name and writes it atomically.
func (s *Store) Snapshot(name Name, g *graph.Graph) error {
	s.logger.Debug("snapshot starting", "project", s.projectID, "name", string(name))

	if err := os.MkdirAll(s.dir(), 0o755); err != nil {
		err = agerr.CheckpointFailed(fmt.Sprintf("create checkpoint dir: %v", err))
		s.logger.Warn("snapshot failed", "project", s.projectID, "name", string(name), "error", err)
		return err
	}

	snap := Capture(g, name)
	data, err := json.Marshal(snap)
	if err != nil {
		err = agerr.CheckpointFailed(fmt.Sprintf("marshal snapshot: %v", err))
		s.logger.Warn("snapshot failed", "project", s.projectID, "name", string(name), "error", err)
		return err
	}

	if err := renameio.WriteFile(s.path(name), data, filePerm); err != nil {
		err = agerr.CheckpointFailed(fmt.Sprintf("write snapshot %s: %v", name, err))
		s.logger.Warn("snapshot failed", "project", s.projectID, "name", string(name), "error", err)
		return err
	}

	s.logger.Debug("snapshot completed", "project", s.projectID, "name", string(name))
	return nil
}

// Restore loads the named snapshot, or a CheckpointFailed error if it is
// missing, unreadable, or does not unmarshal to a valid Snapshot.
func (s *Store) Restore(name Name) (*Snapshot, error) {
	data, err := os.ReadFile(s.path(name))
	if err != nil {
		return nil, agerr.CheckpointFailed(fmt.Sprintf("read snapshot %s: %v", name, err))
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, agerr.CheckpointFailed(fmt.Sprintf("decode snapshot %s: %v", name, err))
	}
	if !snap.Valid() {
		return nil, agerr.CheckpointFailed(fmt.Sprintf("snapshot %s is empty", name))
	}
	return &snap, nil
}

// Recover walks the fixed recovery ladder — lastSuccessfulNode,
// autoSnapshotBeforeError, executionStart, initialized — and returns the
// first snapshot that restores successfully.
func (s *Store) Recover() (*Snapshot, *graph.Graph, error) {
	var lastErr error
	for _, name := range recoveryLadder {
		snap, err := s.Restore(name)
		if err != nil {
			lastErr = err
			continue
		}
		g, err := snap.Restore()
		if err != nil {
			lastErr = err
			continue
		}
		return snap, g, nil
	}
	if lastErr == nil {
		lastErr = agerr.CheckpointFailed("no snapshot available on recovery ladder")
	}
	return nil, nil, lastErr
}

// Has reports whether a snapshot exists under name without reading it.
func (s *Store) Has(name Name) bool {
	_, err := os.Stat(s.path(name))
	return err == nil
}
