package tasks

import (
	"errors"
	"os"

	"github.com/desertthunder/spx/internal/catalog"
	"github.com/desertthunder/spx/internal/models"
	"github.com/desertthunder/spx/internal/shared"
)

// TableStatus is one entity table's row and stale counts.
type TableStatus struct {
	Name  string `json:"name"`
	Rows  int    `json:"rows"`
	Stale int    `json:"stale"`
}

// Status is a point-in-time view of the local state: table sizes, whether a
// run holds the lock, and any checkpoint left by an interrupted run.
type Status struct {
	Tables     []TableStatus      `json:"tables"`
	Locked     bool               `json:"locked"`
	LockPID    int                `json:"lock_pid,omitempty"`
	Checkpoint *models.Checkpoint `json:"checkpoint,omitempty"`
}

// GatherStatus reads the catalog, checkpoint, and lock without taking the
// lock itself; it is safe to run alongside an active sync.
func GatherStatus(cat *catalog.Catalog, checkpoints *catalog.CheckpointStore, config *shared.Config) (*Status, error) {
	status := &Status{}

	for _, kind := range models.Kinds() {
		table, err := cat.Read(kind)
		if err != nil {
			return nil, err
		}
		status.Tables = append(status.Tables, TableStatus{
			Name:  kind.String(),
			Rows:  table.Len(),
			Stale: table.StaleCount(),
		})
	}

	cp, err := checkpoints.Load()
	switch {
	case err == nil:
		status.Checkpoint = cp
	case !errors.Is(err, shared.ErrCheckpointNotFound):
		return nil, err
	}

	if _, err := os.Stat(config.LockPath()); err == nil {
		status.Locked = true
		status.LockPID = catalog.LockHolderPID(config.LockPath())
	}
	return status, nil
}
