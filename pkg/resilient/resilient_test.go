package resilient

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ludia8888/arrakis-scheduler/pkg/core"
	"github.com/ludia8888/arrakis-scheduler/pkg/executor"
	"github.com/ludia8888/arrakis-scheduler/pkg/storage"
	"github.com/ludia8888/arrakis-scheduler/pkg/trigger"
)

func newTestExecutor(t *testing.T, opts ...Option) *Executor {
	t.Helper()
	inner := executor.New(storage.NewMemoryStore(), executor.MaxWorkers(4))
	e := New(inner, opts...)
	// No real sleeping between attempts in tests.
	e.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	return e
}

func transientBody(counter *atomic.Int32) executor.JobFunc {
	return func(context.Context, map[string]any) (any, error) {
		counter.Add(1)
		return nil, core.Transient(errors.New("flaky backend"))
	}
}

func TestExecute_TransientErrorRetriedToExhaustion(t *testing.T) {
	e := newTestExecutor(t)
	meta := &core.JobMetadata{JobID: "flaky", Category: "default", MaxRetries: 3, Timeout: time.Second}

	var attempts atomic.Int32
	exec, hint, err := e.Execute(context.Background(), transientBody(&attempts), meta, nil, nil)

	require.Error(t, err)
	assert.Equal(t, int32(4), attempts.Load(), "initial attempt plus 3 retries")
	require.NotNil(t, exec)
	assert.Equal(t, core.StatusFailed, exec.Status)
	assert.Equal(t, 3, exec.RetryCount)
	assert.Nil(t, hint)
}

func TestExecute_SucceedsAfterRetries(t *testing.T) {
	e := newTestExecutor(t)
	meta := &core.JobMetadata{JobID: "recovers", MaxRetries: 5, Timeout: time.Second}

	var attempts atomic.Int32
	exec, hint, err := e.Execute(context.Background(), func(context.Context, map[string]any) (any, error) {
		if attempts.Add(1) < 3 {
			return nil, core.Transient(errors.New("not yet"))
		}
		return "done", nil
	}, meta, nil, nil)

	require.NoError(t, err)
	assert.Equal(t, core.StatusCompleted, exec.Status)
	assert.Equal(t, 2, exec.RetryCount)
	assert.Nil(t, hint)
}

func TestExecute_NonRetryableFailsImmediately(t *testing.T) {
	e := newTestExecutor(t)
	meta := &core.JobMetadata{JobID: "buggy", MaxRetries: 5, Timeout: time.Second}

	var attempts atomic.Int32
	exec, _, err := e.Execute(context.Background(), func(context.Context, map[string]any) (any, error) {
		attempts.Add(1)
		return nil, core.NoRetry(errors.New("nil pointer dereference"))
	}, meta, nil, nil)

	require.Error(t, err)
	assert.Equal(t, int32(1), attempts.Load(), "programming errors are not retried")
	assert.Equal(t, core.StatusFailed, exec.Status)
	assert.Contains(t, exec.Error, "non-retryable")
}

func TestExecute_ZeroRetriesRunsExactlyOnce(t *testing.T) {
	e := newTestExecutor(t)
	meta := &core.JobMetadata{JobID: "oneshot", MaxRetries: 0, Timeout: time.Second}

	var attempts atomic.Int32
	exec, hint, err := e.Execute(context.Background(), transientBody(&attempts), meta, nil, nil)

	require.Error(t, err)
	assert.Equal(t, int32(1), attempts.Load())
	assert.Equal(t, core.StatusFailed, exec.Status)
	assert.Equal(t, 0, exec.RetryCount)
	assert.Nil(t, hint)
}

func TestExecute_OpenBreakerShortCircuits(t *testing.T) {
	breaker := NewCircuitBreaker(BreakerConfig{FailureThreshold: 1, OpenTimeout: time.Hour})
	e := newTestExecutor(t, WithBreaker(breaker))
	meta := &core.JobMetadata{JobID: "downstream", MaxRetries: 3, Timeout: time.Second}

	var attempts atomic.Int32
	_, _, err := e.Execute(context.Background(), transientBody(&attempts), meta, nil, nil)
	require.Error(t, err)
	require.Equal(t, BreakerOpen, breaker.State())
	firstRound := attempts.Load()

	// Circuit is open: no further attempts are made at all.
	_, _, err = e.Execute(context.Background(), transientBody(&attempts), meta, nil, nil)
	assert.ErrorIs(t, err, core.ErrCircuitOpen)
	assert.Equal(t, firstRound, attempts.Load())
}

func TestExecute_TimeoutIsRetryable(t *testing.T) {
	e := newTestExecutor(t)
	meta := &core.JobMetadata{JobID: "sleepy", MaxRetries: 2, Timeout: 30 * time.Millisecond}

	var attempts atomic.Int32
	exec, _, err := e.Execute(context.Background(), func(ctx context.Context, _ map[string]any) (any, error) {
		attempts.Add(1)
		<-ctx.Done()
		return nil, ctx.Err()
	}, meta, nil, nil)

	require.Error(t, err)
	assert.Equal(t, int32(3), attempts.Load())
	assert.Equal(t, core.StatusFailed, exec.Status)
}

func TestExecute_RescheduleHintForRecurringJobs(t *testing.T) {
	e := newTestExecutor(t)
	meta := &core.JobMetadata{
		JobID:               "nightly",
		MaxRetries:          2,
		RetryDelay:          time.Minute,
		Timeout:             time.Second,
		RescheduleOnFailure: true,
	}

	// Break the chain early with a non-retryable error so retry budget remains.
	var attempts atomic.Int32
	body := func(context.Context, map[string]any) (any, error) {
		attempts.Add(1)
		return nil, core.NoRetry(errors.New("bad input"))
	}

	trig, err := trigger.ParseTrigger("cron:0 2 * * *")
	require.NoError(t, err)

	exec, hint, execErr := e.Execute(context.Background(), body, meta, nil, trig)
	require.Error(t, execErr)
	require.NotNil(t, exec)
	require.NotNil(t, hint)
	assert.Equal(t, "nightly", hint.JobID)

	// retry_count is 0, so the backoff is one base delay out.
	assert.WithinDuration(t, time.Now().Add(time.Minute), hint.RunAt, 5*time.Second)
}

func TestExecute_NoRescheduleWithoutOptIn(t *testing.T) {
	e := newTestExecutor(t)
	meta := &core.JobMetadata{JobID: "nightly", MaxRetries: 2, Timeout: time.Second}

	trig, err := trigger.ParseTrigger("interval:minutes:5")
	require.NoError(t, err)

	var attempts atomic.Int32
	_, hint, _ := e.Execute(context.Background(), transientBody(&attempts), meta, nil, trig)
	assert.Nil(t, hint)
}

func TestExecute_NoRescheduleForSpentOneShot(t *testing.T) {
	e := newTestExecutor(t)
	meta := &core.JobMetadata{
		JobID:               "oneshot",
		MaxRetries:          2,
		Timeout:             time.Second,
		RescheduleOnFailure: true,
	}

	trig := trigger.At(time.Now().Add(-time.Hour))
	body := func(context.Context, map[string]any) (any, error) {
		return nil, core.NoRetry(errors.New("bad input"))
	}

	_, hint, _ := e.Execute(context.Background(), body, meta, nil, trig)
	assert.Nil(t, hint)
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, IsRetryable(nil))
	assert.False(t, IsRetryable(core.NoRetry(errors.New("bug"))))
	assert.False(t, IsRetryable(errors.New("invalid argument")))

	assert.True(t, IsRetryable(core.Transient(errors.New("hiccup"))))
	assert.True(t, IsRetryable(&core.TimeoutError{Timeout: time.Second}))
	assert.True(t, IsRetryable(fmt.Errorf("dial tcp: connection refused")))
	assert.True(t, IsRetryable(fmt.Errorf("read: connection reset by peer")))
}

func TestPolicyForCategory(t *testing.T) {
	assert.Equal(t, CriticalPolicy.BaseDelay, policyForCategory(&core.JobMetadata{Category: "critical"}).BaseDelay)
	assert.Equal(t, DatabasePolicy.BaseDelay, policyForCategory(&core.JobMetadata{Category: "data_processing"}).BaseDelay)
	assert.Equal(t, NetworkPolicy.BaseDelay, policyForCategory(&core.JobMetadata{Category: "external_api"}).BaseDelay)
	assert.Equal(t, NetworkPolicy.BaseDelay, policyForCategory(&core.JobMetadata{Category: "webhook"}).BaseDelay)
	assert.Equal(t, StandardPolicy.BaseDelay, policyForCategory(&core.JobMetadata{Category: "whatever"}).BaseDelay)

	// Metadata overrides the policy budget.
	p := policyForCategory(&core.JobMetadata{Category: "critical", MaxRetries: 7})
	assert.Equal(t, 7, p.MaxRetries)
}
