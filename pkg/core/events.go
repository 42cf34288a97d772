package core

import "time"

// Event is the interface for all lifecycle events.
type Event interface {
	eventMarker()
}

// ExecutionStarted is emitted when an execution begins running.
type ExecutionStarted struct {
	Execution *JobExecution
	Timestamp time.Time
}

func (*ExecutionStarted) eventMarker() {}

// ExecutionCompleted is emitted when an execution finishes successfully.
type ExecutionCompleted struct {
	Execution *JobExecution
	Duration  time.Duration
	Timestamp time.Time
}

func (*ExecutionCompleted) eventMarker() {}

// ExecutionFailed is emitted when an execution fails terminally.
type ExecutionFailed struct {
	Execution *JobExecution
	Error     error
	Timestamp time.Time
}

func (*ExecutionFailed) eventMarker() {}

// ExecutionRetrying is emitted before a retry attempt.
type ExecutionRetrying struct {
	JobID     string
	Attempt   int
	Error     error
	NextTry   time.Time
	Timestamp time.Time
}

func (*ExecutionRetrying) eventMarker() {}

// JobEvent is an application-level event emitted by a job body through its
// run context.
type JobEvent struct {
	JobID       string
	ExecutionID string
	Type        string
	Data        map[string]any
	Timestamp   time.Time
}

func (*JobEvent) eventMarker() {}
