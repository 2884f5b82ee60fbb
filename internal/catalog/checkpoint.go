package catalog

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/desertthunder/spx/internal/models"
	"github.com/desertthunder/spx/internal/shared"
	"github.com/google/renameio/v2"
)

// CheckpointStore persists the sync checkpoint as a TOML file so operators
// can read and diff it by hand.
type CheckpointStore struct {
	path string
}

// NewCheckpointStore creates a store writing to path.
func NewCheckpointStore(path string) *CheckpointStore {
	return &CheckpointStore{path: path}
}

// Path returns the checkpoint file location.
func (s *CheckpointStore) Path() string { return s.path }

// Load reads the persisted checkpoint. A missing file is
// ErrCheckpointNotFound, which means the next run starts clean.
func (s *CheckpointStore) Load() (*models.Checkpoint, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, shared.ErrCheckpointNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint: %w", err)
	}

	var checkpoint models.Checkpoint
	if err := toml.Unmarshal(data, &checkpoint); err != nil {
		return nil, fmt.Errorf("%w: checkpoint: %v", shared.ErrCacheCorrupt, err)
	}
	return &checkpoint, nil
}

// Save atomically replaces the persisted checkpoint.
func (s *CheckpointStore) Save(checkpoint *models.Checkpoint) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(checkpoint); err != nil {
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}
	if err := renameio.WriteFile(s.path, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	return nil
}

// Clear removes the persisted checkpoint. Clearing a missing checkpoint is
// not an error.
func (s *CheckpointStore) Clear() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to clear checkpoint: %w", err)
	}
	return nil
}
