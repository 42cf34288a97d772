package core

import (
	"time"
)

// JobStatus represents the current state of a job execution.
type JobStatus string

const (
	StatusPending   JobStatus = "pending"
	StatusRunning   JobStatus = "running"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
	StatusCancelled JobStatus = "cancelled"
	StatusMissed    JobStatus = "missed"

	// StatusNotFound is the sentinel returned for lookups of unknown
	// instances so polling callers need no error special-casing.
	StatusNotFound JobStatus = "not_found"
)

// Terminal reports whether the status permits no further transitions.
func (s JobStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusMissed:
		return true
	}
	return false
}

// InstanceStatus values persisted for scheduled job instances.
const (
	InstanceScheduled = "scheduled"
	InstancePaused    = "paused"
	InstanceCancelled = "cancelled"
)

// Priority orders jobs from least to most important.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

var priorityNames = map[Priority]string{
	PriorityLow:      "low",
	PriorityNormal:   "normal",
	PriorityHigh:     "high",
	PriorityCritical: "critical",
}

func (p Priority) String() string {
	if name, ok := priorityNames[p]; ok {
		return name
	}
	return "normal"
}

// MarshalText implements encoding.TextMarshaler so priorities round-trip
// as their string values in persisted records.
func (p Priority) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Priority) UnmarshalText(text []byte) error {
	for prio, name := range priorityNames {
		if name == string(text) {
			*p = prio
			return nil
		}
	}
	*p = PriorityNormal
	return nil
}

// JobMetadata is the static definition of a registered job. It is created
// at registration time and immutable afterward except for administrative
// updates such as RescheduleCount.
type JobMetadata struct {
	JobID      string        `json:"job_id"`
	Name       string        `json:"name"`
	Category   string        `json:"category"`
	Owner      string        `json:"owner"`
	Priority   Priority      `json:"priority"`
	MaxRetries int           `json:"max_retries"`
	RetryDelay time.Duration `json:"retry_delay"`
	Timeout    time.Duration `json:"timeout"`

	Tags         []string `json:"tags,omitempty"`
	Dependencies []string `json:"dependencies,omitempty"`

	NotifyOnSuccess []string `json:"notify_on_success,omitempty"`
	NotifyOnFailure []string `json:"notify_on_failure,omitempty"`

	RescheduleOnFailure bool `json:"reschedule_on_failure"`
	RescheduleCount     int  `json:"reschedule_count"`

	Extra map[string]string `json:"metadata,omitempty"`
}

// Clone returns a deep copy so callers can hold metadata without racing
// administrative updates.
func (m *JobMetadata) Clone() *JobMetadata {
	cp := *m
	cp.Tags = append([]string(nil), m.Tags...)
	cp.Dependencies = append([]string(nil), m.Dependencies...)
	cp.NotifyOnSuccess = append([]string(nil), m.NotifyOnSuccess...)
	cp.NotifyOnFailure = append([]string(nil), m.NotifyOnFailure...)
	if m.Extra != nil {
		cp.Extra = make(map[string]string, len(m.Extra))
		for k, v := range m.Extra {
			cp.Extra[k] = v
		}
	}
	return &cp
}

// JobExecution records one execution attempt of a job. Once CompletedAt is
// set the record is never mutated again.
type JobExecution struct {
	ExecutionID string     `json:"execution_id"`
	JobID       string     `json:"job_id"`
	Status      JobStatus  `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       string     `json:"error,omitempty"`
	Result      any        `json:"result,omitempty"`
	RetryCount  int        `json:"retry_count"`
	WorkerID    string     `json:"worker_id"`
}

// Duration is completed_at - started_at, zero while still running.
// Never negative.
func (e *JobExecution) Duration() time.Duration {
	if e.CompletedAt == nil {
		return 0
	}
	d := e.CompletedAt.Sub(e.StartedAt)
	if d < 0 {
		return 0
	}
	return d
}

// Finish transitions the execution into a terminal status, setting
// CompletedAt exactly once. Transitions out of terminal states are ignored.
func (e *JobExecution) Finish(status JobStatus, errMsg string) {
	if e.Status.Terminal() {
		return
	}
	now := time.Now().UTC()
	e.Status = status
	e.CompletedAt = &now
	e.Error = errMsg
}

// ExecutionStatistics summarizes execution history for reporting.
type ExecutionStatistics struct {
	Total           int64         `json:"total"`
	Completed       int64         `json:"completed"`
	Failed          int64         `json:"failed"`
	Running         int64         `json:"running"`
	AverageDuration time.Duration `json:"average_duration"`
	SuccessRate     float64       `json:"success_rate"`
}

// Progress is the latest reported progress of an execution.
// Only the most recent write is retained.
type Progress struct {
	JobID       string    `json:"job_id"`
	ExecutionID string    `json:"execution_id"`
	Percent     float64   `json:"percent"`
	Message     string    `json:"message"`
	UpdatedAt   time.Time `json:"updated_at"`
}
