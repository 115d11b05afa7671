package database

import (
	"time"
)

// Run is one recorded pipeline run. Complete is false for aborted runs so
// report consumers can distinguish partial coverage from true inactivity.
type Run struct {
	RunID        string
	StartDate    time.Time
	EndDate      time.Time
	TestRun      bool
	Complete     bool
	TaskCount    int
	OutcomeCount int
	StartedAt    time.Time
	FinishedAt   time.Time
}
