package domain

import "time"

// RunStatus represents the outcome of a scheduler run.
type RunStatus string

const (
	RunStatusRunning        RunStatus = "RUNNING"
	RunStatusCompleted      RunStatus = "COMPLETED"
	RunStatusPartialFailure RunStatus = "PARTIAL_FAILURE"
)

func (s RunStatus) String() string { return string(s) }

func (s RunStatus) IsValid() bool {
	switch s {
	case RunStatusRunning, RunStatusCompleted, RunStatusPartialFailure:
		return true
	}
	return false
}

// SchedulerRun is the persisted summary of one retry sweep.
type SchedulerRun struct {
	ID         string
	BatchSize  int
	Selected   int
	Processed  int
	Succeeded  int
	Failed     int
	Exhausted  int
	Cancelled  int
	Skipped    int
	ErrorCount int
	Status     RunStatus
	StartedAt  time.Time
	FinishedAt *time.Time
}
