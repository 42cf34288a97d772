package resilient

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"time"

	"github.com/ludia8888/arrakis-scheduler/pkg/core"
	"github.com/ludia8888/arrakis-scheduler/pkg/executor"
	"github.com/ludia8888/arrakis-scheduler/pkg/trigger"
)

// RescheduleHint asks the scheduler facade to re-run a terminally-failed
// job at a later time. The resilient executor only computes the hint; the
// facade owns the trigger engine and applies it.
type RescheduleHint struct {
	JobID string
	RunAt time.Time
}

// Executor wraps the bounded executor with a per-category retry policy and
// a circuit breaker.
type Executor struct {
	inner   *executor.Executor
	breaker *CircuitBreaker
	logger  *slog.Logger
	emit    func(core.Event)

	// sleep is swappable in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// Option configures the resilient Executor.
type Option func(*Executor)

// WithBreaker overrides the default circuit breaker.
func WithBreaker(b *CircuitBreaker) Option {
	return func(e *Executor) { e.breaker = b }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// WithEventFunc registers a callback for retry events.
func WithEventFunc(fn func(core.Event)) Option {
	return func(e *Executor) { e.emit = fn }
}

// New wraps inner with retry and circuit-breaking.
func New(inner *executor.Executor, opts ...Option) *Executor {
	e := &Executor{
		inner:   inner,
		breaker: NewCircuitBreaker(DefaultBreakerConfig()),
		logger:  slog.Default(),
		sleep:   sleepCtx,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Breaker exposes the circuit breaker for monitoring.
func (e *Executor) Breaker() *CircuitBreaker { return e.breaker }

// Execute runs the job with the retry policy resolved from its category.
// The whole dependency-checked, semaphore-bounded body is retried; the
// final record's RetryCount equals attempts-1. trig may be nil for jobs
// without a schedule.
//
// When retries are exhausted and the metadata opts in, the returned
// RescheduleHint carries the backed-off next run time for the facade to
// apply.
func (e *Executor) Execute(ctx context.Context, fn executor.JobFunc, meta *core.JobMetadata, args map[string]any, trig trigger.Trigger) (*core.JobExecution, *RescheduleHint, error) {
	if meta.MaxRetries == 0 {
		// Exactly once, same semaphore/timeout discipline, no retry driver.
		exec, err := e.executeOnce(ctx, fn, meta, args)
		return exec, nil, err
	}

	policy := policyForCategory(meta)
	var lastExec *core.JobExecution
	var lastErr error

	attempts := policy.MaxRetries + 1
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := e.backoff(policy, attempt-1)
			if e.emit != nil {
				e.emit(&core.ExecutionRetrying{
					JobID:     meta.JobID,
					Attempt:   attempt,
					Error:     lastErr,
					NextTry:   time.Now().Add(delay),
					Timestamp: time.Now(),
				})
			}
			e.logger.Info("retrying job",
				"job_id", meta.JobID, "attempt", attempt, "delay", delay, "error", lastErr)
			if err := e.sleep(ctx, delay); err != nil {
				return lastExec, nil, err
			}
		}

		exec, err := e.executeOnce(ctx, fn, meta, args)
		if exec != nil {
			exec.RetryCount = attempt
			lastExec = exec
			if attempt > 0 {
				// The inner executor persisted the record before the
				// retry count was known; refresh it.
				if serr := e.inner.Store().SaveExecution(context.WithoutCancel(ctx), exec); serr != nil {
					e.logger.Warn("failed to refresh retry count",
						"execution_id", exec.ExecutionID, "error", serr)
				}
			}
		}
		lastErr = err

		// Cancellation, shutdown, and an open breaker end the attempt
		// chain immediately.
		if errors.Is(err, core.ErrExecutionCancelled) ||
			errors.Is(err, core.ErrShuttingDown) ||
			errors.Is(err, core.ErrCircuitOpen) ||
			errors.Is(err, context.Canceled) {
			return lastExec, nil, err
		}

		if exec != nil && exec.Status == core.StatusCompleted {
			return exec, nil, nil
		}

		if !IsRetryable(err) {
			break
		}
	}

	return lastExec, e.rescheduleHint(meta, lastExec, trig), lastErr
}

// executeOnce guards a single inner execution with the circuit breaker.
func (e *Executor) executeOnce(ctx context.Context, fn executor.JobFunc, meta *core.JobMetadata, args map[string]any) (*core.JobExecution, error) {
	if !e.breaker.Allow() {
		e.logger.Warn("circuit breaker open, skipping execution", "job_id", meta.JobID)
		return nil, core.ErrCircuitOpen
	}

	exec, err := e.inner.Execute(ctx, fn, meta, args)
	if exec == nil {
		return nil, err
	}

	switch exec.Status {
	case core.StatusCompleted:
		e.breaker.RecordSuccess()
	case core.StatusFailed:
		// Dependency failures say nothing about downstream health.
		if exec.Error != core.DependenciesNotMetMessage {
			e.breaker.RecordFailure()
		}
	}
	return exec, err
}

// backoff computes the delay before retry n, with jitter, capped by the policy.
func (e *Executor) backoff(policy RetryPolicy, retryCount int) time.Duration {
	delay := trigger.RetryDelay(policy.BaseDelay, retryCount, policy.Strategy)
	if policy.MaxDelay > 0 && delay > policy.MaxDelay {
		delay = policy.MaxDelay
	}
	if policy.JitterFraction > 0 {
		jitter := time.Duration(float64(delay) * policy.JitterFraction * (rand.Float64()*2 - 1))
		if delay+jitter > 0 {
			delay += jitter
		}
	}
	return delay
}

// rescheduleHint decides whether a terminally-failed job should be re-run
// later. Only jobs that opted in, with retry budget left against their
// metadata and a computable future run, get a hint.
func (e *Executor) rescheduleHint(meta *core.JobMetadata, exec *core.JobExecution, trig trigger.Trigger) *RescheduleHint {
	if !meta.RescheduleOnFailure || exec == nil {
		return nil
	}
	if exec.RetryCount >= meta.MaxRetries && meta.MaxRetries > 0 {
		// The whole budget was consumed in-process; rescheduling would
		// just repeat the same failure chain.
		return nil
	}

	hasFuture := false
	if trig != nil {
		if trig.Recurring() {
			hasFuture = true
		} else if _, ok := trig.Next(time.Now()); ok {
			hasFuture = true
		}
	}
	if !hasFuture {
		return nil
	}

	base := meta.RetryDelay
	if base <= 0 {
		base = time.Minute
	}
	delay := trigger.RetryDelay(base, exec.RetryCount, trigger.StrategyExponential)
	return &RescheduleHint{JobID: meta.JobID, RunAt: time.Now().Add(delay)}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
