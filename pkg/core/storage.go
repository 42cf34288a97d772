package core

import (
	"context"
	"time"
)

// StatsFilter narrows GetExecutionStatistics to a job and/or time window.
// Zero values mean unfiltered.
type StatsFilter struct {
	JobID string
	Start time.Time
	End   time.Time
}

// HistoryFilter narrows execution history queries.
type HistoryFilter struct {
	JobID  string
	Status JobStatus
	Start  time.Time
	End    time.Time
	Limit  int
}

// StateStore defines the persistence layer shared by every component.
// All methods may fail with an error matching ErrStoreUnavailable, which
// callers must treat as transient.
type StateStore interface {
	// Migrate creates the necessary tables.
	Migrate(ctx context.Context) error

	// Job metadata, keyed by scheduled instance id. Retained 30 days.
	SaveJobMetadata(ctx context.Context, instanceID string, meta *JobMetadata) error
	GetJobMetadata(ctx context.Context, instanceID string) (*JobMetadata, error)

	// Execution records, retained 30 days. GetJobExecutions returns the
	// most recent first.
	SaveExecution(ctx context.Context, exec *JobExecution) error
	GetJobExecutions(ctx context.Context, jobID string, limit int) ([]*JobExecution, error)
	QueryExecutions(ctx context.Context, filter HistoryFilter) ([]*JobExecution, error)

	// Checkpoints are opaque serialized blobs, retained 24 hours.
	// GetCheckpoint returns (nil, nil) when absent or expired.
	SaveCheckpoint(ctx context.Context, jobID, executionID string, state []byte) error
	GetCheckpoint(ctx context.Context, jobID, executionID string) ([]byte, error)

	// Progress is last-write-wins, retained 1 hour.
	UpdateJobProgress(ctx context.Context, jobID, executionID string, percent float64, message string) error
	GetJobProgress(ctx context.Context, jobID, executionID string) (*Progress, error)

	// Scheduled instance status. GetJobStatus returns StatusNotFound
	// (and no error) for unknown instances.
	UpdateJobStatus(ctx context.Context, instanceID string, status string) error
	GetJobStatus(ctx context.Context, instanceID string) (string, error)

	// CleanupOldExecutions deletes executions past the cutoff plus any
	// malformed rows it encounters; it never fails the whole sweep on a
	// bad record.
	CleanupOldExecutions(ctx context.Context, olderThan time.Duration) (int64, error)

	GetExecutionStatistics(ctx context.Context, filter StatsFilter) (*ExecutionStatistics, error)
}

// DependencyChecker reports whether all of a job's dependencies have
// succeeded. Injected into the executor so the policy stays pluggable.
type DependencyChecker interface {
	DependenciesMet(ctx context.Context, meta *JobMetadata) (bool, error)
}

// DependencyCheckerFunc adapts a function to the DependencyChecker interface.
type DependencyCheckerFunc func(ctx context.Context, meta *JobMetadata) (bool, error)

func (f DependencyCheckerFunc) DependenciesMet(ctx context.Context, meta *JobMetadata) (bool, error) {
	return f(ctx, meta)
}

// AuditLogger records lifecycle events such as "job.scheduled".
// Implementations are fire-and-forget; errors are not reported back.
type AuditLogger interface {
	LogEvent(ctx context.Context, userID, action, resource string, details map[string]any)
}

// MetricsSink is the narrow metrics contract the scheduler emits through.
type MetricsSink interface {
	IncrCounter(name string, labels map[string]string)
	SetGauge(name string, value float64, labels map[string]string)
	ObserveDuration(name string, d time.Duration, labels map[string]string)
}

// NopMetrics discards all measurements.
type NopMetrics struct{}

func (NopMetrics) IncrCounter(string, map[string]string)                  {}
func (NopMetrics) SetGauge(string, float64, map[string]string)            {}
func (NopMetrics) ObserveDuration(string, time.Duration, map[string]string) {}

// NopAudit discards all audit events.
type NopAudit struct{}

func (NopAudit) LogEvent(context.Context, string, string, string, map[string]any) {}
