package sched

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ludia8888/arrakis-scheduler/pkg/core"
	"github.com/ludia8888/arrakis-scheduler/pkg/executor"
	"github.com/ludia8888/arrakis-scheduler/pkg/notify"
	"github.com/ludia8888/arrakis-scheduler/pkg/resilient"
	"github.com/ludia8888/arrakis-scheduler/pkg/security"
	"github.com/ludia8888/arrakis-scheduler/pkg/trigger"
)

// registeredJob pairs a job function with its metadata template. Instances
// scheduled from it get their own metadata clone.
type registeredJob struct {
	fn   executor.JobFunc
	meta *core.JobMetadata
}

// Scheduler owns the trigger engine and job registry and orchestrates the
// executors, state store, and notification dispatcher. Construct one per
// process with its collaborators injected.
type Scheduler struct {
	config Config

	store    core.StateStore
	deps     core.DependencyChecker
	notifier executor.Notifier
	audit    core.AuditLogger
	metrics  core.MetricsSink
	logger   *slog.Logger
	emit     func(core.Event)
	now      func() time.Time

	breakerCfg *resilient.BreakerConfig

	exec      *executor.Executor
	resilient *resilient.Executor
	engine    *engine

	mu       sync.RWMutex
	registry map[string]*registeredJob

	runMu   sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a Scheduler persisting to store. Collaborators not injected
// via options get working defaults: a log-only notification dispatcher, a
// store-backed dependency checker, and no-op audit/metrics sinks.
func New(store core.StateStore, opts ...Option) *Scheduler {
	s := &Scheduler{
		config:   DefaultConfig(),
		store:    store,
		audit:    core.NopAudit{},
		metrics:  core.NopMetrics{},
		logger:   slog.Default(),
		now:      time.Now,
		registry: make(map[string]*registeredJob),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.notifier == nil {
		s.notifier = notify.NewDispatcher(notify.WithLogger(s.logger))
	}
	if s.deps == nil {
		s.deps = StoreDependencyChecker(store)
	}

	s.engine = newEngine(s.config.Coalesce, s.config.MaxInstances)
	s.exec = executor.New(store,
		executor.MaxWorkers(s.config.MaxWorkers),
		executor.WithDefaultTimeout(s.config.DefaultTimeout),
		executor.WithDependencyChecker(s.deps),
		executor.WithNotifier(s.notifier),
		executor.WithMetrics(s.metrics),
		executor.WithLogger(s.logger),
		executor.WithEventFunc(s.emit),
	)

	resOpts := []resilient.Option{
		resilient.WithLogger(s.logger),
		resilient.WithEventFunc(s.emit),
	}
	if s.breakerCfg != nil {
		resOpts = append(resOpts, resilient.WithBreaker(resilient.NewCircuitBreaker(*s.breakerCfg)))
	}
	s.resilient = resilient.New(s.exec, resOpts...)

	return s
}

// Executor exposes the underlying bounded executor for cancellation and
// monitoring.
func (s *Scheduler) Executor() *executor.Executor { return s.exec }

// Breaker exposes the circuit breaker state for monitoring.
func (s *Scheduler) Breaker() *resilient.CircuitBreaker { return s.resilient.Breaker() }

// JobOption sets a metadata field at registration time.
type JobOption func(*core.JobMetadata)

// WithName sets the human-readable job name.
func WithName(name string) JobOption { return func(m *core.JobMetadata) { m.Name = name } }

// WithCategory sets the category that selects the retry policy.
func WithCategory(c string) JobOption { return func(m *core.JobMetadata) { m.Category = c } }

// WithOwner sets the owning user or team.
func WithOwner(o string) JobOption { return func(m *core.JobMetadata) { m.Owner = o } }

// WithPriority sets the job priority.
func WithPriority(p core.Priority) JobOption { return func(m *core.JobMetadata) { m.Priority = p } }

// WithMaxRetries caps retry attempts. Clamped to security limits.
func WithMaxRetries(n int) JobOption {
	return func(m *core.JobMetadata) { m.MaxRetries = security.ClampRetries(n) }
}

// WithRetryDelay sets the base delay for retry backoff.
func WithRetryDelay(d time.Duration) JobOption {
	return func(m *core.JobMetadata) { m.RetryDelay = d }
}

// WithTimeout bounds each execution attempt.
func WithTimeout(d time.Duration) JobOption { return func(m *core.JobMetadata) { m.Timeout = d } }

// WithTags attaches free-form tags.
func WithTags(tags ...string) JobOption { return func(m *core.JobMetadata) { m.Tags = tags } }

// WithDependencies lists job ids that must have succeeded before this job runs.
func WithDependencies(ids ...string) JobOption {
	return func(m *core.JobMetadata) { m.Dependencies = ids }
}

// NotifyOnSuccess sets recipients for success notifications.
func NotifyOnSuccess(recipients ...string) JobOption {
	return func(m *core.JobMetadata) { m.NotifyOnSuccess = recipients }
}

// NotifyOnFailure sets recipients for failure notifications.
func NotifyOnFailure(recipients ...string) JobOption {
	return func(m *core.JobMetadata) { m.NotifyOnFailure = recipients }
}

// RescheduleOnFailure opts the job into backed-off rescheduling after its
// retry budget is exhausted.
func RescheduleOnFailure() JobOption {
	return func(m *core.JobMetadata) { m.RescheduleOnFailure = true }
}

// WithExtra attaches a free-form metadata key.
func WithExtra(key, value string) JobOption {
	return func(m *core.JobMetadata) {
		if m.Extra == nil {
			m.Extra = make(map[string]string)
		}
		m.Extra[key] = value
	}
}

// RegisterJob registers a job function under jobID. Registration is
// idempotent by id; the last registration wins.
func (s *Scheduler) RegisterJob(jobID string, fn executor.JobFunc, opts ...JobOption) error {
	if err := security.ValidateJobID(jobID); err != nil {
		return err
	}
	if fn == nil {
		return fmt.Errorf("%w: nil job function for %q", core.ErrUnregisteredJob, jobID)
	}

	meta := &core.JobMetadata{
		JobID:    jobID,
		Name:     jobID,
		Priority: core.PriorityNormal,
	}
	for _, opt := range opts {
		opt(meta)
	}

	s.mu.Lock()
	s.registry[jobID] = &registeredJob{fn: fn, meta: meta}
	s.mu.Unlock()

	s.logger.Debug("job registered", "job_id", jobID, "category", meta.Category)
	return nil
}

// lookup returns the registered job, or ErrUnregisteredJob.
func (s *Scheduler) lookup(jobID string) (*registeredJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.registry[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", core.ErrUnregisteredJob, jobID)
	}
	return job, nil
}

// newInstanceID generates "{job_id}_{8-hex-suffix}".
func newInstanceID(jobID string) string {
	suffix := strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
	return jobID + "_" + suffix
}

// ScheduleJob schedules a registered job under the given trigger and returns
// the instance id. The engine entry is created first and the store records
// second; the two writes are not transactional, and the dependency sweep
// reconciles drift after a crash between them.
func (s *Scheduler) ScheduleJob(ctx context.Context, jobID string, trig trigger.Trigger, args map[string]any) (string, error) {
	job, err := s.lookup(jobID)
	if err != nil {
		return "", err
	}
	if trig == nil {
		return "", fmt.Errorf("%w: nil trigger", core.ErrInvalidTrigger)
	}

	now := s.now()
	next, ok := trig.Next(now)
	if !ok {
		return "", fmt.Errorf("%w: trigger %q will never fire", core.ErrInvalidTrigger, trig.String())
	}

	instanceID := newInstanceID(jobID)
	meta := job.meta.Clone()

	ent := &entry{
		instanceID: instanceID,
		jobID:      jobID,
		trig:       trig,
		args:       args,
		meta:       meta,
		nextRun:    next,
	}
	if err := s.engine.add(ent); err != nil {
		return "", err
	}

	if err := s.store.SaveJobMetadata(ctx, instanceID, meta); err != nil {
		s.engine.remove(instanceID)
		return "", err
	}
	if err := s.store.UpdateJobStatus(ctx, instanceID, core.InstanceScheduled); err != nil {
		s.engine.remove(instanceID)
		return "", err
	}

	s.audit.LogEvent(ctx, meta.Owner, "job.scheduled", instanceID, map[string]any{
		"job_id":   jobID,
		"trigger":  trig.String(),
		"next_run": next.Format(time.RFC3339),
	})
	s.metrics.IncrCounter("scheduler.jobs_scheduled", map[string]string{
		"category": meta.Category,
		"job_name": meta.Name,
	})
	s.logger.Info("job scheduled",
		"instance_id", instanceID, "job_id", jobID,
		"trigger", trig.String(), "next_run", next)

	return instanceID, nil
}

// ScheduleJobSpec schedules using a trigger specification string
// (cron:, interval:, date:, or a raw crontab expression).
func (s *Scheduler) ScheduleJobSpec(ctx context.Context, jobID, spec string, args map[string]any) (string, error) {
	trig, err := trigger.ParseTrigger(spec)
	if err != nil {
		return "", err
	}
	return s.ScheduleJob(ctx, jobID, trig, args)
}

// ScheduleOneTimeJob schedules a single firing at runAt.
func (s *Scheduler) ScheduleOneTimeJob(ctx context.Context, jobID string, runAt time.Time, args map[string]any) (string, error) {
	return s.ScheduleJob(ctx, jobID, trigger.At(runAt), args)
}

// ScheduleRecurringJob schedules firings on a crontab expression.
func (s *Scheduler) ScheduleRecurringJob(ctx context.Context, jobID, cronExpr string, args map[string]any) (string, error) {
	trig, err := trigger.Cron(cronExpr)
	if err != nil {
		return "", err
	}
	return s.ScheduleJob(ctx, jobID, trig, args)
}

// RunNow executes a registered job immediately through the resilient
// executor, bypassing the trigger engine. The returned record is terminal.
func (s *Scheduler) RunNow(ctx context.Context, jobID string, args map[string]any) (*core.JobExecution, error) {
	job, err := s.lookup(jobID)
	if err != nil {
		return nil, err
	}
	exec, _, runErr := s.resilient.Execute(ctx, job.fn, job.meta.Clone(), args, nil)
	return exec, runErr
}

// PauseJob stops future firings of the instance without destroying it.
// The engine is mutated first and the store second; the writes are not
// transactional.
func (s *Scheduler) PauseJob(ctx context.Context, instanceID string) error {
	if !s.engine.setPaused(instanceID, true) {
		return fmt.Errorf("%w: %q", core.ErrUnknownInstance, instanceID)
	}
	if err := s.store.UpdateJobStatus(ctx, instanceID, core.InstancePaused); err != nil {
		return err
	}
	s.audit.LogEvent(ctx, "", "job.paused", instanceID, nil)
	s.logger.Info("job paused", "instance_id", instanceID)
	return nil
}

// ResumeJob re-enables firings of a paused instance.
func (s *Scheduler) ResumeJob(ctx context.Context, instanceID string) error {
	if !s.engine.setPaused(instanceID, false) {
		return fmt.Errorf("%w: %q", core.ErrUnknownInstance, instanceID)
	}
	if err := s.store.UpdateJobStatus(ctx, instanceID, core.InstanceScheduled); err != nil {
		return err
	}
	s.audit.LogEvent(ctx, "", "job.resumed", instanceID, nil)
	s.logger.Info("job resumed", "instance_id", instanceID)
	return nil
}

// CancelJob removes the instance from future firing. In-flight executions
// of the instance keep running; cancel them through the executor if needed.
func (s *Scheduler) CancelJob(ctx context.Context, instanceID string) error {
	if !s.engine.remove(instanceID) {
		return fmt.Errorf("%w: %q", core.ErrUnknownInstance, instanceID)
	}
	if err := s.store.UpdateJobStatus(ctx, instanceID, core.InstanceCancelled); err != nil {
		return err
	}
	s.audit.LogEvent(ctx, "", "job.cancelled", instanceID, nil)
	s.logger.Info("job cancelled", "instance_id", instanceID)
	return nil
}

// InstanceStatus merges live trigger-engine data with persisted history.
type InstanceStatus struct {
	InstanceID string               `json:"instance_id"`
	JobID      string               `json:"job_id,omitempty"`
	Status     string               `json:"status"`
	Paused     bool                 `json:"paused,omitempty"`
	NextRun    *time.Time           `json:"next_run,omitempty"`
	Trigger    string               `json:"trigger,omitempty"`
	Recent     []*core.JobExecution `json:"recent_executions,omitempty"`
}

// JobStatus returns the merged status of a scheduled instance. Unknown
// instances get the "not_found" sentinel status and no error, so polling
// callers need no special-case handling.
func (s *Scheduler) JobStatus(ctx context.Context, instanceID string) (*InstanceStatus, error) {
	status := &InstanceStatus{InstanceID: instanceID}

	ent := s.engine.get(instanceID)
	stored, err := s.store.GetJobStatus(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	if ent == nil && stored == string(core.StatusNotFound) {
		status.Status = string(core.StatusNotFound)
		return status, nil
	}

	status.Status = stored
	if ent != nil {
		status.JobID = ent.jobID
		status.Paused = ent.paused
		status.Trigger = ent.trig.String()
		if !ent.nextRun.IsZero() {
			next := ent.nextRun
			status.NextRun = &next
		}
		if stored == string(core.StatusNotFound) {
			// Engine knows the instance but the store lost the status
			// write; report the live view.
			status.Status = core.InstanceScheduled
		}
	}

	jobID := status.JobID
	if jobID == "" {
		if meta, err := s.store.GetJobMetadata(ctx, instanceID); err == nil && meta != nil {
			jobID = meta.JobID
			status.JobID = jobID
		}
	}
	if jobID != "" {
		recent, err := s.store.GetJobExecutions(ctx, jobID, 5)
		if err != nil {
			s.logger.Warn("execution history unavailable", "instance_id", instanceID, "error", err)
		} else {
			status.Recent = recent
		}
	}
	return status, nil
}

// JobFilter narrows ListJobs. Zero values mean unfiltered.
type JobFilter struct {
	Category string
	Owner    string
	Status   string // scheduled or paused
}

// ListJobs returns the live scheduled instances matching the filter.
func (s *Scheduler) ListJobs(filter JobFilter) []*InstanceStatus {
	var out []*InstanceStatus
	for _, ent := range s.engine.list() {
		if filter.Category != "" && ent.meta.Category != filter.Category {
			continue
		}
		if filter.Owner != "" && ent.meta.Owner != filter.Owner {
			continue
		}
		status := core.InstanceScheduled
		if ent.paused {
			status = core.InstancePaused
		}
		if filter.Status != "" && filter.Status != status {
			continue
		}

		info := &InstanceStatus{
			InstanceID: ent.instanceID,
			JobID:      ent.jobID,
			Status:     status,
			Paused:     ent.paused,
			Trigger:    ent.trig.String(),
		}
		if !ent.nextRun.IsZero() {
			next := ent.nextRun
			info.NextRun = &next
		}
		out = append(out, info)
	}
	return out
}

// ExecutionHistory returns past executions matching the filter, most recent
// first.
func (s *Scheduler) ExecutionHistory(ctx context.Context, filter core.HistoryFilter) ([]*core.JobExecution, error) {
	return s.store.QueryExecutions(ctx, filter)
}

// Statistics aggregates execution outcomes. Store failures degrade to empty
// statistics rather than an error, so dashboards keep rendering.
func (s *Scheduler) Statistics(ctx context.Context, filter core.StatsFilter) *core.ExecutionStatistics {
	stats, err := s.store.GetExecutionStatistics(ctx, filter)
	if err != nil {
		s.logger.Warn("execution statistics unavailable", "error", err)
		return &core.ExecutionStatistics{}
	}
	return stats
}

// Start launches the trigger loop and the background maintenance loops.
// Each loop is an independent goroutine so one stalling never blocks
// scheduling of new jobs.
func (s *Scheduler) Start(ctx context.Context) error {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.running {
		return nil
	}
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.running = true

	for _, loop := range []func(context.Context){
		s.triggerLoop,
		s.monitorLoop,
		s.cleanupLoop,
		s.dependencyLoop,
	} {
		loop := loop
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			loop(loopCtx)
		}()
	}

	s.logger.Info("scheduler started",
		"max_workers", s.config.MaxWorkers,
		"tick", s.config.TickInterval,
		"coalesce", s.config.Coalesce,
		"max_instances", s.config.MaxInstances)
	return nil
}

// Stop halts the loops and shuts the executor down, cancelling in-flight
// executions. Bounded by ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.runMu.Lock()
	if !s.running {
		s.runMu.Unlock()
		return nil
	}
	s.running = false
	s.cancel()
	s.runMu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	err := s.exec.Shutdown(ctx)
	s.logger.Info("scheduler stopped")
	return err
}

// triggerLoop fires due instances every tick.
func (s *Scheduler) triggerLoop(ctx context.Context) {
	ticker := time.NewTicker(s.config.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, f := range s.engine.due(s.now()) {
				if f.missed {
					s.recordMissed(ctx, f)
					continue
				}
				f := f
				s.wg.Add(1)
				go func() {
					defer s.wg.Done()
					defer s.engine.done(f.instanceID)
					s.fire(ctx, f)
				}()
			}
		}
	}
}

// fire runs one firing through the resilient executor and applies any
// reschedule hint it returns.
func (s *Scheduler) fire(ctx context.Context, f firing) {
	job, err := s.lookup(f.jobID)
	if err != nil {
		s.logger.Error("scheduled job no longer registered", "instance_id", f.instanceID, "job_id", f.jobID)
		return
	}

	exec, hint, err := s.resilient.Execute(ctx, job.fn, f.meta, f.args, f.trig)
	if err != nil && exec == nil {
		s.logger.Warn("execution did not start",
			"instance_id", f.instanceID, "job_id", f.jobID, "error", err)
	}

	if hint != nil {
		if snap := s.engine.bumpReschedule(f.instanceID); snap != nil {
			if err := s.store.SaveJobMetadata(context.WithoutCancel(ctx), f.instanceID, snap); err != nil {
				s.logger.Warn("failed to persist reschedule count",
					"instance_id", f.instanceID, "error", err)
			}
		}
		if s.engine.setNextRun(f.instanceID, hint.RunAt) {
			s.logger.Info("job rescheduled after failure",
				"instance_id", f.instanceID, "job_id", f.jobID, "run_at", hint.RunAt)
		}
	}
}

// recordMissed persists a MISSED execution for a firing skipped at its
// max-instances limit.
func (s *Scheduler) recordMissed(ctx context.Context, f firing) {
	now := s.now().UTC()
	exec := &core.JobExecution{
		ExecutionID: uuid.New().String(),
		JobID:       f.jobID,
		Status:      core.StatusMissed,
		StartedAt:   now,
		CompletedAt: &now,
		Error:       "max concurrent instances reached",
		WorkerID:    s.exec.WorkerID(),
	}
	if err := s.store.SaveExecution(ctx, exec); err != nil {
		s.logger.Warn("failed to persist missed execution", "job_id", f.jobID, "error", err)
	}
	s.metrics.IncrCounter("scheduler.executions", map[string]string{
		"status":   string(core.StatusMissed),
		"category": f.meta.Category,
		"job_name": f.meta.Name,
	})
	s.logger.Warn("firing skipped, instance at max concurrency",
		"instance_id", f.instanceID, "job_id", f.jobID)
}

// monitorLoop reports the scheduled and running counts.
func (s *Scheduler) monitorLoop(ctx context.Context) {
	ticker := time.NewTicker(s.config.MonitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			scheduled := s.engine.size()
			running := s.engine.runningCount()
			s.metrics.SetGauge("scheduler.scheduled_jobs", float64(scheduled), nil)
			s.metrics.SetGauge("scheduler.running_instances", float64(running), nil)
			s.logger.Debug("scheduler monitor",
				"scheduled", scheduled, "running", running,
				"active_workers", s.exec.ActiveCount(),
				"breaker", s.resilient.Breaker().State().String())
		}
	}
}

// cleanupLoop sweeps old execution records. Store failures are logged and
// swallowed; the sweep is best-effort.
func (s *Scheduler) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := s.store.CleanupOldExecutions(ctx, s.config.Retention)
			if err != nil {
				s.logger.Warn("execution cleanup failed", "error", err)
				continue
			}
			if removed > 0 {
				s.logger.Info("cleaned up old executions", "removed", removed)
			}
		}
	}
}

// dependencyLoop re-fires instances whose last execution failed on unmet
// dependencies once those dependencies are satisfied.
func (s *Scheduler) dependencyLoop(ctx context.Context) {
	ticker := time.NewTicker(s.config.DependencyInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepDependencies(ctx)
		}
	}
}

func (s *Scheduler) sweepDependencies(ctx context.Context) {
	for _, ent := range s.engine.list() {
		if ent.paused || len(ent.meta.Dependencies) == 0 {
			continue
		}

		recent, err := s.store.GetJobExecutions(ctx, ent.jobID, 1)
		if err != nil || len(recent) == 0 {
			continue
		}
		last := recent[0]
		if last.Status != core.StatusFailed || last.Error != core.DependenciesNotMetMessage {
			continue
		}

		met, err := s.deps.DependenciesMet(ctx, ent.meta)
		if err != nil || !met {
			continue
		}
		if s.engine.setNextRun(ent.instanceID, s.now()) {
			s.logger.Info("dependencies now met, re-firing job",
				"instance_id", ent.instanceID, "job_id", ent.jobID)
		}
	}
}

// StoreDependencyChecker treats a dependency as met when the dependency job
// has at least one completed execution on record.
func StoreDependencyChecker(store core.StateStore) core.DependencyChecker {
	return core.DependencyCheckerFunc(func(ctx context.Context, meta *core.JobMetadata) (bool, error) {
		for _, dep := range meta.Dependencies {
			execs, err := store.QueryExecutions(ctx, core.HistoryFilter{
				JobID:  dep,
				Status: core.StatusCompleted,
				Limit:  1,
			})
			if err != nil {
				return false, err
			}
			if len(execs) == 0 {
				return false, nil
			}
		}
		return true, nil
	})
}
