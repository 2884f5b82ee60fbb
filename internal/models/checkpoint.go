package models

import "time"

// Checkpoint records resumable progress through a sync run. It is persisted
// after every page merge and every completed step, and cleared only when a
// run finishes all of its steps.
//
// Cursors hold the provider pagination token per collection and are opaque to
// everything except the fetch layer. Complete marks collections whose
// terminal page has been reached; only a complete collection may be swept for
// stale rows. Seen accumulates the row keys each collection has yielded so
// far, so a listing interrupted mid-way can still prove completeness after a
// resume. Pending lists playlists whose membership still needs re-fetching.
type Checkpoint struct {
	RunID             string              `toml:"run_id"`
	RunStartedAt      time.Time           `toml:"run_started_at"`
	LastCompletedStep string              `toml:"last_completed_step"`
	Cursors           map[string]string   `toml:"cursors"`
	Complete          map[string]bool     `toml:"complete"`
	Seen              map[string][]string `toml:"seen"`
	Pending           []string            `toml:"pending,omitempty"`
	Failure           string              `toml:"failure,omitempty"`
}

// NewCheckpoint starts a checkpoint for a fresh run.
func NewCheckpoint(runID string, startedAt time.Time) *Checkpoint {
	return &Checkpoint{
		RunID:        runID,
		RunStartedAt: startedAt.UTC(),
		Cursors:      map[string]string{},
		Complete:     map[string]bool{},
		Seen:         map[string][]string{},
	}
}

// Cursor returns the saved pagination token for a collection, empty when the
// collection has not been started.
func (c *Checkpoint) Cursor(collection string) string {
	if c.Cursors == nil {
		return ""
	}
	return c.Cursors[collection]
}

// SetCursor advances the saved pagination token for a collection.
func (c *Checkpoint) SetCursor(collection, cursor string) {
	if c.Cursors == nil {
		c.Cursors = map[string]string{}
	}
	c.Cursors[collection] = cursor
}

// MarkComplete records that a collection's terminal page was reached.
func (c *Checkpoint) MarkComplete(collection string) {
	if c.Complete == nil {
		c.Complete = map[string]bool{}
	}
	c.Complete[collection] = true
}

// IsComplete reports whether a collection was fully listed this run.
func (c *Checkpoint) IsComplete(collection string) bool {
	return c.Complete != nil && c.Complete[collection]
}

// AddSeen appends row keys a collection page yielded.
func (c *Checkpoint) AddSeen(collection string, keys ...string) {
	if len(keys) == 0 {
		return
	}
	if c.Seen == nil {
		c.Seen = map[string][]string{}
	}
	c.Seen[collection] = append(c.Seen[collection], keys...)
}

// SeenKeys returns every row key a collection has yielded so far this run.
func (c *Checkpoint) SeenKeys(collection string) []string {
	if c.Seen == nil {
		return nil
	}
	return c.Seen[collection]
}
