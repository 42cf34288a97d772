package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ludia8888/arrakis-scheduler/pkg/core"
	"github.com/ludia8888/arrakis-scheduler/pkg/security"
)

// Notifier is the slice of the notification dispatcher the executor needs.
type Notifier interface {
	SendJobNotification(ctx context.Context, recipients []string, subject string, exec *core.JobExecution, meta *core.JobMetadata)
}

// Executor runs job functions under a bounded-concurrency semaphore with
// per-job deadlines and a cancellation registry.
type Executor struct {
	config Config

	store    core.StateStore
	deps     core.DependencyChecker
	notifier Notifier
	metrics  core.MetricsSink
	logger   *slog.Logger
	emit     func(core.Event)

	sem chan struct{}

	mu       sync.Mutex
	running  map[string]*trackedRun
	active   int64
	shutdown bool

	wg sync.WaitGroup
}

// trackedRun pairs a running execution with its cancellation handle.
type trackedRun struct {
	cancel    context.CancelFunc
	cancelled *atomic.Bool
}

// New creates an Executor persisting to store.
func New(store core.StateStore, opts ...Option) *Executor {
	e := &Executor{
		config: Config{
			MaxWorkers:     10,
			WorkerID:       uuid.New().String(),
			DefaultTimeout: DefaultTimeout,
		},
		store:   store,
		metrics: core.NopMetrics{},
		logger:  slog.Default(),
		running: make(map[string]*trackedRun),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.sem = make(chan struct{}, e.config.MaxWorkers)
	return e
}

// WorkerID returns the id recorded on executions run by this executor.
func (e *Executor) WorkerID() string { return e.config.WorkerID }

// Store returns the state store executions are persisted to.
func (e *Executor) Store() core.StateStore { return e.store }

// Execute runs fn under the executor's concurrency and timeout discipline
// and returns the finished execution record. The record is persisted
// best-effort; store failures during bookkeeping are logged, not returned.
//
// The returned error is the failure cause: the body's error or a
// core.TimeoutError for FAILED records, core.ErrExecutionCancelled for
// caller-initiated cancellation, the context error when the caller's
// context ends mid-run (also a CANCELLED record), and nil for COMPLETED
// records and dependency failures (which are ordinary FAILED records,
// not exceptions).
func (e *Executor) Execute(ctx context.Context, fn JobFunc, meta *core.JobMetadata, args map[string]any) (*core.JobExecution, error) {
	exec := &core.JobExecution{
		ExecutionID: uuid.New().String(),
		JobID:       meta.JobID,
		Status:      core.StatusRunning,
		StartedAt:   time.Now().UTC(),
		WorkerID:    e.config.WorkerID,
	}

	// Dependency gate: an unmet dependency is a cheap immediate failure
	// that consumes neither a semaphore slot nor a timeout.
	if len(meta.Dependencies) > 0 && e.deps != nil {
		met, err := e.deps.DependenciesMet(ctx, meta)
		if err != nil {
			e.logger.Warn("dependency check failed", "job_id", meta.JobID, "error", err)
			met = false
		}
		if !met {
			exec.CompletedAt = &exec.StartedAt
			exec.Status = core.StatusFailed
			exec.Error = core.DependenciesNotMetMessage
			e.finish(ctx, exec, meta, nil)
			return exec, nil
		}
	}

	e.mu.Lock()
	if e.shutdown {
		e.mu.Unlock()
		return nil, core.ErrShuttingDown
	}
	e.mu.Unlock()

	// Acquire a worker slot.
	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-e.sem }()

	e.setActive(1)
	defer e.setActive(-1)

	timeout := meta.Timeout
	if timeout <= 0 {
		timeout = e.config.DefaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	tracked := &trackedRun{cancel: cancel, cancelled: &atomic.Bool{}}
	e.mu.Lock()
	e.running[exec.ExecutionID] = tracked
	e.mu.Unlock()
	defer e.untrack(exec.ExecutionID)

	run := &Run{
		exec:      exec,
		store:     e.store,
		logger:    e.logger,
		cancelled: tracked.cancelled,
		emit:      e.emit,
	}

	if e.emit != nil {
		e.emit(&core.ExecutionStarted{Execution: exec, Timestamp: exec.StartedAt})
	}

	type outcome struct {
		result any
		err    error
	}
	done := make(chan outcome, 1)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: core.NoRetry(fmt.Errorf("panic: %v", r))}
			}
		}()
		result, err := fn(withRun(runCtx, run), args)
		done <- outcome{result: result, err: err}
	}()

	select {
	case out := <-done:
		switch {
		case tracked.cancelled.Load():
			exec.Finish(core.StatusCancelled, core.ErrExecutionCancelled.Error())
			e.finish(ctx, exec, meta, nil)
			return exec, core.ErrExecutionCancelled
		case ctx.Err() != nil && errors.Is(out.err, context.Canceled):
			// The caller's context ended, not the per-job deadline.
			exec.Finish(core.StatusCancelled, core.ErrExecutionCancelled.Error())
			e.finish(ctx, exec, meta, nil)
			return exec, ctx.Err()
		case out.err != nil:
			exec.Finish(core.StatusFailed, security.SanitizeErrorMessage(out.err.Error()))
			e.finish(ctx, exec, meta, out.err)
			return exec, out.err
		default:
			exec.Result = out.result
			exec.Finish(core.StatusCompleted, "")
			e.finish(ctx, exec, meta, nil)
			return exec, nil
		}

	case <-runCtx.Done():
		// The body keeps the cancelled context; cooperative bodies
		// observe it and unwind. Bookkeeping does not wait for them.
		if tracked.cancelled.Load() {
			exec.Finish(core.StatusCancelled, core.ErrExecutionCancelled.Error())
			e.finish(ctx, exec, meta, nil)
			return exec, core.ErrExecutionCancelled
		}
		if err := ctx.Err(); err != nil {
			// The caller's context ended, not the per-job deadline; this
			// must not be recorded as a timeout.
			exec.Finish(core.StatusCancelled, core.ErrExecutionCancelled.Error())
			e.finish(ctx, exec, meta, nil)
			return exec, err
		}
		terr := &core.TimeoutError{Timeout: timeout}
		exec.Finish(core.StatusFailed, terr.Error())
		e.finish(ctx, exec, meta, terr)
		return exec, terr
	}
}

// finish persists the record, emits metrics and events, and fires
// notifications without blocking completion.
func (e *Executor) finish(ctx context.Context, exec *core.JobExecution, meta *core.JobMetadata, cause error) {
	if err := e.store.SaveExecution(context.WithoutCancel(ctx), exec); err != nil {
		e.logger.Error("failed to persist execution",
			"execution_id", exec.ExecutionID, "job_id", exec.JobID, "error", err)
	}

	labels := map[string]string{
		"status":   string(exec.Status),
		"category": meta.Category,
		"job_name": meta.Name,
	}
	e.metrics.IncrCounter("scheduler.executions", labels)
	e.metrics.ObserveDuration("scheduler.execution_duration", exec.Duration(), labels)

	if e.emit != nil {
		switch exec.Status {
		case core.StatusCompleted:
			e.emit(&core.ExecutionCompleted{Execution: exec, Duration: exec.Duration(), Timestamp: time.Now()})
		default:
			e.emit(&core.ExecutionFailed{Execution: exec, Error: cause, Timestamp: time.Now()})
		}
	}

	var recipients []string
	var subject string
	switch exec.Status {
	case core.StatusCompleted:
		recipients, subject = meta.NotifyOnSuccess, fmt.Sprintf("Job %s completed", exec.JobID)
	case core.StatusFailed:
		recipients, subject = meta.NotifyOnFailure, fmt.Sprintf("Job %s failed", exec.JobID)
	}
	if e.notifier != nil && len(recipients) > 0 {
		execCopy := *exec
		metaCopy := meta.Clone()
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.notifier.SendJobNotification(context.WithoutCancel(ctx), recipients, subject, &execCopy, metaCopy)
		}()
	}
}

// IsRunning reports whether the execution is tracked as in flight.
func (e *Executor) IsRunning(executionID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.running[executionID]
	return ok
}

// ActiveCount returns the number of executions currently holding a slot.
func (e *Executor) ActiveCount() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

// CancelExecution signals cooperative cancellation of a tracked execution.
// It returns false when the execution is unknown or already cancelled, so a
// second call for the same id reports false.
func (e *Executor) CancelExecution(executionID string) bool {
	e.mu.Lock()
	tracked, ok := e.running[executionID]
	if ok {
		delete(e.running, executionID)
	}
	e.mu.Unlock()
	if !ok {
		return false
	}

	tracked.cancelled.Store(true)
	tracked.cancel()
	return true
}

// Shutdown cancels all tracked executions and waits for their bookkeeping to
// complete, bounded by ctx.
func (e *Executor) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.shutdown = true
	ids := make([]string, 0, len(e.running))
	for id := range e.running {
		ids = append(ids, id)
	}
	e.mu.Unlock()

	for _, id := range ids {
		e.CancelExecution(id)
	}

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Executor) setActive(delta int64) {
	e.mu.Lock()
	e.active += delta
	active := e.active
	e.mu.Unlock()
	e.metrics.SetGauge("scheduler.active_jobs", float64(active), nil)
}

// untrack removes the execution from the registry; a no-op when a cancel
// already removed it.
func (e *Executor) untrack(executionID string) {
	e.mu.Lock()
	delete(e.running, executionID)
	e.mu.Unlock()
}
