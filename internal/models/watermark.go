package models

import "time"

// Watermark is the persisted sync position of one tracker project.
type Watermark struct {
	Project      string
	SyncedAt     time.Time
	LastEventKey string
	UpdatedAt    time.Time
}

// RunStatus is the outcome of a polling cycle.
type RunStatus string

const (
	RunStatusRunning RunStatus = "running"
	RunStatusOK      RunStatus = "ok"
	RunStatusPartial RunStatus = "partial"
	RunStatusFailed  RunStatus = "failed"
)

// PollRun records one polling cycle for one project.
type PollRun struct {
	ID         string
	Project    string
	StartedAt  time.Time
	FinishedAt *time.Time
	MinDate    time.Time
	Sessions   int
	Delivered  int
	Status     RunStatus
	Error      string
}
