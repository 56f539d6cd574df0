package statestore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"validator-engine/logging"
	"validator-engine/types"
)

const (
	stateFileName  = "state.json"
	backupSuffix   = ".bak"
	tempSuffix     = ".tmp"
	stateFilePerms = 0o600
)

// ErrCorruptState means both the snapshot and its backup failed validation.
// The caller must fail fast: silently resetting watermarks risks
// double-publication.
var ErrCorruptState = errors.New("state snapshot and backup are both invalid")

// Store is the durable record of engine progress. Every save writes a new
// file and atomically replaces the old one, keeping the previous snapshot as
// a backup until the new one is confirmed on disk.
type Store struct {
	path       string
	backupPath string
}

func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating state directory %s: %w", dir, err)
	}
	path := filepath.Join(dir, stateFileName)
	return &Store{
		path:       path,
		backupPath: path + backupSuffix,
	}, nil
}

// Load returns the last durable snapshot, falling back to the backup when
// the primary is missing or corrupt. A first run (no files at all) returns
// the zero-value state.
func (s *Store) Load() (types.PersistedState, error) {
	state, primaryErr := readSnapshot(s.path)
	if primaryErr == nil {
		return state, nil
	}
	if os.IsNotExist(primaryErr) {
		if _, backupErr := os.Stat(s.backupPath); os.IsNotExist(backupErr) {
			logging.Info("No state snapshot found, starting from zero state", logging.State, "path", s.path)
			return types.PersistedState{}, nil
		}
	}

	logging.Warn("State snapshot unreadable, trying backup", logging.State,
		"path", s.path, "error", primaryErr)
	state, backupErr := readSnapshot(s.backupPath)
	if backupErr == nil {
		return state, nil
	}
	return types.PersistedState{}, fmt.Errorf("%w: primary: %v, backup: %v", ErrCorruptState, primaryErr, backupErr)
}

// Save atomically replaces the durable record. Order matters: the new
// snapshot reaches disk under a temp name first, then the previous snapshot
// becomes the backup, then the temp file takes its place. A crash at any
// point leaves a readable prior state.
func (s *Store) Save(state types.PersistedState) error {
	state.SavedAt = time.Now().UTC()

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshalling state: %w", err)
	}

	tempPath := s.path + tempSuffix
	if err := writeFileSync(tempPath, data); err != nil {
		return fmt.Errorf("writing state temp file: %w", err)
	}

	if _, err := os.Stat(s.path); err == nil {
		if err := os.Rename(s.path, s.backupPath); err != nil {
			return fmt.Errorf("rotating state backup: %w", err)
		}
	}

	if err := os.Rename(tempPath, s.path); err != nil {
		return fmt.Errorf("replacing state snapshot: %w", err)
	}
	return nil
}

func readSnapshot(path string) (types.PersistedState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return types.PersistedState{}, err
	}
	var state types.PersistedState
	if err := json.Unmarshal(data, &state); err != nil {
		return types.PersistedState{}, fmt.Errorf("parsing %s: %w", path, err)
	}
	if err := validateState(state); err != nil {
		return types.PersistedState{}, fmt.Errorf("validating %s: %w", path, err)
	}
	return state, nil
}

func validateState(state types.PersistedState) error {
	if state.LastProcessedWindowIndex < 0 || state.LastPublishedWindowIndex < 0 {
		return fmt.Errorf("negative window watermark (processed=%d published=%d)",
			state.LastProcessedWindowIndex, state.LastPublishedWindowIndex)
	}
	if state.LastPublishedWindowIndex > state.LastProcessedWindowIndex {
		return fmt.Errorf("published watermark %d ahead of processed watermark %d",
			state.LastPublishedWindowIndex, state.LastProcessedWindowIndex)
	}
	return nil
}

func writeFileSync(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, stateFilePerms)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
