package models

import "time"

// StepStatus is the outcome of one pipeline step.
type StepStatus string

const (
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// StepReport is the per-step entry of a [RunReport].
type StepReport struct {
	Name     string         `json:"name"`
	Status   StepStatus     `json:"status"`
	Reason   string         `json:"reason,omitempty"` // why a step was skipped or failed
	Counts   map[string]int `json:"counts,omitempty"`
	Backups  []string       `json:"backups,omitempty"`
	Duration time.Duration  `json:"duration"`
}

// Count adds n to a named counter, creating it on first use.
func (s *StepReport) Count(name string, n int) {
	if s.Counts == nil {
		s.Counts = map[string]int{}
	}
	s.Counts[name] += n
}

// RunReport summarizes one pipeline invocation: per-step outcomes, counts
// changed, and every backup file created, so an operator can inspect the run
// and restore manually if needed.
type RunReport struct {
	RunID     string        `json:"run_id"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Resumed   bool          `json:"resumed"`
	DryRun    bool          `json:"dry_run,omitempty"`
	Steps     []StepReport  `json:"steps"`
}

// Failed reports whether any step failed.
func (r *RunReport) Failed() bool {
	for _, s := range r.Steps {
		if s.Status == StepFailed {
			return true
		}
	}
	return false
}

// Backups returns every backup path created across all steps.
func (r *RunReport) Backups() []string {
	var paths []string
	for _, s := range r.Steps {
		paths = append(paths, s.Backups...)
	}
	return paths
}
