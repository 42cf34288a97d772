package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The facade package should be usable end to end without importing pkg/.
func TestFacade_ScheduleAndRun(t *testing.T) {
	s := New(NewMemoryStore(), MaxWorkers(2), TickInterval(10*time.Millisecond))

	require.NoError(t, s.RegisterJob("greet", func(ctx context.Context, args map[string]any) (any, error) {
		run := RunFromContext(ctx)
		require.NotNil(t, run)
		run.UpdateProgress(100, "done")
		return "hello " + args["name"].(string), nil
	}, WithCategory("critical"), WithTimeout(time.Second)))

	exec, err := s.RunNow(context.Background(), "greet", map[string]any{"name": "ops"})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, exec.Status)
	assert.Equal(t, "hello ops", exec.Result)

	stats := s.Statistics(context.Background(), StatsFilter{JobID: "greet"})
	assert.Equal(t, int64(1), stats.Completed)
}

func TestFacade_TimeoutDiscipline(t *testing.T) {
	s := New(NewMemoryStore(), TickInterval(10*time.Millisecond))

	require.NoError(t, s.RegisterJob("sleepy", func(ctx context.Context, _ map[string]any) (any, error) {
		select {
		case <-time.After(5 * time.Second):
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}, WithTimeout(100*time.Millisecond)))

	start := time.Now()
	exec, err := s.RunNow(context.Background(), "sleepy", nil)
	require.Error(t, err)
	assert.Equal(t, StatusFailed, exec.Status)
	assert.Contains(t, exec.Error, "timed out")
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestFacade_TriggerParsing(t *testing.T) {
	for _, spec := range []string{"cron:0 9 * * 1-5", "interval:minutes:5", "date:2030-01-02T15:04:05Z", "*/5 * * * *"} {
		trig, err := ParseTrigger(spec)
		require.NoError(t, err, spec)

		// Parsing the normalized form yields an equivalent trigger.
		again, err := ParseTrigger(trig.String())
		require.NoError(t, err, spec)
		from := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
		assert.Equal(t, NextRuns(trig, from, 3), NextRuns(again, from, 3), spec)
	}
}

func TestFacade_UnknownInstanceSentinel(t *testing.T) {
	s := New(NewMemoryStore())
	status, err := s.JobStatus(context.Background(), "nobody_12345678")
	require.NoError(t, err)
	assert.Equal(t, string(StatusNotFound), status.Status)
}
