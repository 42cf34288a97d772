// Package scheduler provides a resilient job scheduler with cron/interval/
// one-shot triggers, bounded-concurrency execution, retry policies with
// circuit breaking, durable state, and best-effort notifications.
//
// This is the main package users should import. It re-exports the public
// types from the pkg/ packages for a clean API surface.
//
// Basic usage:
//
//	// Create storage and scheduler
//	db, _ := gorm.Open(sqlite.Open("scheduler.db"), &gorm.Config{})
//	store := scheduler.NewGormStore(db)
//	store.Migrate(context.Background())
//	s := scheduler.New(store, scheduler.MaxWorkers(8))
//
//	// Register a job
//	s.RegisterJob("send-report", func(ctx context.Context, args map[string]any) (any, error) {
//	    return nil, sendReport(ctx, args["recipient"].(string))
//	}, scheduler.WithCategory("external_api"), scheduler.WithMaxRetries(3))
//
//	// Schedule it every morning and start the scheduler
//	s.ScheduleRecurringJob(ctx, "send-report", "0 9 * * *", map[string]any{"recipient": "ops@example.com"})
//	s.Start(ctx)
package scheduler

import (
	"context"

	"gorm.io/gorm"

	"github.com/ludia8888/arrakis-scheduler/pkg/core"
	"github.com/ludia8888/arrakis-scheduler/pkg/executor"
	"github.com/ludia8888/arrakis-scheduler/pkg/notify"
	"github.com/ludia8888/arrakis-scheduler/pkg/resilient"
	"github.com/ludia8888/arrakis-scheduler/pkg/sched"
	"github.com/ludia8888/arrakis-scheduler/pkg/storage"
	"github.com/ludia8888/arrakis-scheduler/pkg/trigger"
)

type (
	// Scheduler is the facade orchestrating triggers, executors, state,
	// and notifications.
	Scheduler = sched.Scheduler

	// Option configures a Scheduler.
	Option = sched.Option

	// Config holds scheduler configuration.
	Config = sched.Config

	// JobOption sets a metadata field at registration time.
	JobOption = sched.JobOption

	// JobFilter narrows ListJobs.
	JobFilter = sched.JobFilter

	// InstanceStatus merges live trigger-engine data with persisted history.
	InstanceStatus = sched.InstanceStatus

	// JobFunc is the signature every job body conforms to.
	JobFunc = executor.JobFunc

	// Run is the per-execution context exposed to job bodies.
	Run = executor.Run

	// JobMetadata is the static definition of a registered job.
	JobMetadata = core.JobMetadata

	// JobExecution records one execution attempt of a job.
	JobExecution = core.JobExecution

	// JobStatus represents the current state of a job execution.
	JobStatus = core.JobStatus

	// Priority orders jobs from least to most important.
	Priority = core.Priority

	// ExecutionStatistics summarizes execution history.
	ExecutionStatistics = core.ExecutionStatistics

	// HistoryFilter narrows execution history queries.
	HistoryFilter = core.HistoryFilter

	// StatsFilter narrows execution statistics.
	StatsFilter = core.StatsFilter

	// StateStore defines the persistence layer.
	StateStore = core.StateStore

	// NoRetryError marks an error as permanent.
	NoRetryError = core.NoRetryError

	// TransientError marks an error as worth retrying.
	TransientError = core.TransientError

	// Trigger determines when a scheduled job instance fires next.
	Trigger = trigger.Trigger

	// Dispatcher fans out lifecycle notifications.
	Dispatcher = notify.Dispatcher

	// CircuitBreaker stops attempting executions after repeated failures.
	CircuitBreaker = resilient.CircuitBreaker

	// BreakerConfig holds circuit breaker thresholds.
	BreakerConfig = resilient.BreakerConfig

	// GormStore is the GORM-backed state store.
	GormStore = storage.GormStore

	// MemoryStore is the in-memory state store.
	MemoryStore = storage.MemoryStore
)

// Execution status values.
const (
	StatusPending   = core.StatusPending
	StatusRunning   = core.StatusRunning
	StatusCompleted = core.StatusCompleted
	StatusFailed    = core.StatusFailed
	StatusCancelled = core.StatusCancelled
	StatusMissed    = core.StatusMissed
	StatusNotFound  = core.StatusNotFound
)

// Priorities.
const (
	PriorityLow      = core.PriorityLow
	PriorityNormal   = core.PriorityNormal
	PriorityHigh     = core.PriorityHigh
	PriorityCritical = core.PriorityCritical
)

// Errors surfaced by the scheduling API.
var (
	ErrInvalidTrigger     = core.ErrInvalidTrigger
	ErrUnregisteredJob    = core.ErrUnregisteredJob
	ErrUnknownInstance    = core.ErrUnknownInstance
	ErrStoreUnavailable   = core.ErrStoreUnavailable
	ErrCircuitOpen        = core.ErrCircuitOpen
	ErrExecutionCancelled = core.ErrExecutionCancelled
)

// New creates a Scheduler persisting to store.
func New(store StateStore, opts ...Option) *Scheduler { return sched.New(store, opts...) }

// NewGormStore creates a GORM-backed state store.
func NewGormStore(db *gorm.DB) *GormStore { return storage.NewGormStore(db) }

// NewMemoryStore creates an in-memory state store.
func NewMemoryStore() *MemoryStore { return storage.NewMemoryStore() }

// NewDispatcher creates a notification dispatcher.
func NewDispatcher(opts ...notify.Option) *Dispatcher { return notify.NewDispatcher(opts...) }

// RunFromContext returns the current Run, or nil outside a job body.
func RunFromContext(ctx context.Context) *Run { return executor.RunFromContext(ctx) }

// Trigger constructors, parsing, and calendar helpers.
var (
	ParseTrigger  = trigger.ParseTrigger
	Cron          = trigger.Cron
	Every         = trigger.Every
	At            = trigger.At
	NextRuns      = trigger.NextRuns
	RetryDelay    = trigger.RetryDelay
	BusinessHours = trigger.BusinessHours
)

// Error markers for job bodies.
var (
	NoRetry   = core.NoRetry
	Transient = core.Transient
)

// Scheduler options.
var (
	WithConfig            = sched.WithConfig
	MaxWorkers            = sched.MaxWorkers
	TickInterval          = sched.TickInterval
	Coalesce              = sched.Coalesce
	MaxInstances          = sched.MaxInstances
	WithNotifier          = sched.WithNotifier
	WithAudit             = sched.WithAudit
	WithMetrics           = sched.WithMetrics
	WithDependencyChecker = sched.WithDependencyChecker
	WithSchedulerLogger   = sched.WithLogger
	WithEventFunc         = sched.WithEventFunc
	WithBreakerConfig     = sched.WithBreakerConfig
)

// Job registration options.
var (
	WithName            = sched.WithName
	WithCategory        = sched.WithCategory
	WithOwner           = sched.WithOwner
	WithPriority        = sched.WithPriority
	WithMaxRetries      = sched.WithMaxRetries
	WithRetryDelay      = sched.WithRetryDelay
	WithTimeout         = sched.WithTimeout
	WithTags            = sched.WithTags
	WithDependencies    = sched.WithDependencies
	NotifyOnSuccess     = sched.NotifyOnSuccess
	NotifyOnFailure     = sched.NotifyOnFailure
	RescheduleOnFailure = sched.RescheduleOnFailure
	WithExtra           = sched.WithExtra
)
