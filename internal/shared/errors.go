package shared

import "fmt"

var (
	// Configuration errors
	ErrInvalidConfig      = fmt.Errorf("invalid configuration")
	ErrMissingCredentials = fmt.Errorf("missing credentials")

	// Remote API errors
	ErrRemoteRejected    = fmt.Errorf("remote rejected request")
	ErrRemoteUnavailable = fmt.Errorf("remote unavailable")
	ErrPlaylistNotFound  = fmt.Errorf("playlist not found")

	// Catalog errors
	ErrCacheCorrupt       = fmt.Errorf("catalog table corrupt")
	ErrCheckpointNotFound = fmt.Errorf("no checkpoint found")
	ErrBackupNotFound     = fmt.Errorf("backup not found")

	// Run coordination errors
	ErrSyncRunning         = fmt.Errorf("sync already running")
	ErrReconcileIncomplete = fmt.Errorf("reconciliation incomplete")

	// Input validation errors
	ErrInvalidInput    = fmt.Errorf("invalid input")
	ErrMissingArgument = fmt.Errorf("missing required argument")
)
