package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ludia8888/arrakis-scheduler/pkg/core"
)

// openTestStore opens a fresh in-memory SQLite instance and migrates it.
func openTestStore(t *testing.T) *GormStore {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err, "open in-memory sqlite")

	store := NewGormStore(db)
	require.NoError(t, store.Migrate(context.Background()))
	return store
}

func finishedExecution(jobID string, status core.JobStatus, startedAt time.Time, dur time.Duration) *core.JobExecution {
	completed := startedAt.Add(dur)
	return &core.JobExecution{
		ExecutionID: jobID + "-" + startedAt.Format("150405.000000000"),
		JobID:       jobID,
		Status:      status,
		StartedAt:   startedAt,
		CompletedAt: &completed,
		WorkerID:    "worker-test",
	}
}

func TestJobMetadata_RoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	meta := &core.JobMetadata{
		JobID:           "backup",
		Name:            "Nightly backup",
		Category:        "data_processing",
		Owner:           "ops",
		Priority:        core.PriorityHigh,
		MaxRetries:      3,
		RetryDelay:      30 * time.Second,
		Timeout:         5 * time.Minute,
		Tags:            []string{"nightly", "db"},
		Dependencies:    []string{"snapshot"},
		NotifyOnFailure: []string{"ops@example.com", "#alerts"},
		Extra:           map[string]string{"region": "eu-west-1"},
	}

	require.NoError(t, store.SaveJobMetadata(ctx, "backup_a1b2c3d4", meta))

	got, err := store.GetJobMetadata(ctx, "backup_a1b2c3d4")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, meta, got)
}

func TestGetJobMetadata_Missing(t *testing.T) {
	store := openTestStore(t)

	got, err := store.GetJobMetadata(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestExecutions_SortedNewestFirst(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		exec := finishedExecution("etl", core.StatusCompleted, base.Add(time.Duration(i)*time.Hour), time.Minute)
		require.NoError(t, store.SaveExecution(ctx, exec))
	}

	got, err := store.GetJobExecutions(ctx, "etl", 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.True(t, got[0].StartedAt.After(got[1].StartedAt))
	assert.True(t, got[1].StartedAt.After(got[2].StartedAt))
}

func TestExecution_RoundTripsStatusAndTimes(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	started := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	exec := finishedExecution("etl", core.StatusFailed, started, 42*time.Second)
	exec.Error = "connection refused"
	exec.RetryCount = 2
	require.NoError(t, store.SaveExecution(ctx, exec))

	got, err := store.GetJobExecutions(ctx, "etl", 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, core.StatusFailed, got[0].Status)
	assert.Equal(t, "connection refused", got[0].Error)
	assert.Equal(t, 2, got[0].RetryCount)
	assert.True(t, got[0].StartedAt.Equal(started))
	assert.Equal(t, 42*time.Second, got[0].Duration())
}

func TestQueryExecutions_Filters(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.SaveExecution(ctx, finishedExecution("a", core.StatusCompleted, base, time.Second)))
	require.NoError(t, store.SaveExecution(ctx, finishedExecution("a", core.StatusFailed, base.Add(time.Hour), time.Second)))
	require.NoError(t, store.SaveExecution(ctx, finishedExecution("b", core.StatusFailed, base.Add(2*time.Hour), time.Second)))

	got, err := store.QueryExecutions(ctx, core.HistoryFilter{Status: core.StatusFailed})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = store.QueryExecutions(ctx, core.HistoryFilter{JobID: "a", Status: core.StatusFailed})
	require.NoError(t, err)
	assert.Len(t, got, 1)

	got, err = store.QueryExecutions(ctx, core.HistoryFilter{End: base.Add(30 * time.Minute)})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestCheckpoint_RoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	state := []byte(`{"cursor": 1500}`)
	require.NoError(t, store.SaveCheckpoint(ctx, "etl", "exec-1", state))

	got, err := store.GetCheckpoint(ctx, "etl", "exec-1")
	require.NoError(t, err)
	assert.Equal(t, state, got)

	// Overwrite wins.
	require.NoError(t, store.SaveCheckpoint(ctx, "etl", "exec-1", []byte(`{"cursor": 3000}`)))
	got, err = store.GetCheckpoint(ctx, "etl", "exec-1")
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"cursor": 3000}`), got)
}

func TestCheckpoint_MissingIsNil(t *testing.T) {
	store := openTestStore(t)

	got, err := store.GetCheckpoint(context.Background(), "etl", "never")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCheckpoint_ExpiredReadsAsAbsent(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveCheckpoint(ctx, "etl", "exec-1", []byte("x")))

	// Move the store clock past the checkpoint TTL.
	store.now = func() time.Time { return time.Now().Add(CheckpointTTL + time.Minute) }

	got, err := store.GetCheckpoint(ctx, "etl", "exec-1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestProgress_LastWriteWins(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpdateJobProgress(ctx, "etl", "exec-1", 10, "loading"))
	require.NoError(t, store.UpdateJobProgress(ctx, "etl", "exec-1", 80, "transforming"))

	got, err := store.GetJobProgress(ctx, "etl", "exec-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 80.0, got.Percent)
	assert.Equal(t, "transforming", got.Message)
}

func TestJobStatus_NotFoundSentinel(t *testing.T) {
	store := openTestStore(t)

	status, err := store.GetJobStatus(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Equal(t, string(core.StatusNotFound), status)
}

func TestJobStatus_RoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpdateJobStatus(ctx, "backup_a1b2c3d4", core.InstanceScheduled))
	require.NoError(t, store.UpdateJobStatus(ctx, "backup_a1b2c3d4", core.InstancePaused))

	status, err := store.GetJobStatus(ctx, "backup_a1b2c3d4")
	require.NoError(t, err)
	assert.Equal(t, core.InstancePaused, status)
}

func TestJobStatus_ExpiredRowsReadAsNotFoundAndAreSwept(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpdateJobStatus(ctx, "backup_a1b2c3d4", core.InstanceCancelled))

	// Move the store clock past the status TTL.
	store.now = func() time.Time { return time.Now().Add(StatusTTL + time.Hour) }

	status, err := store.GetJobStatus(ctx, "backup_a1b2c3d4")
	require.NoError(t, err)
	assert.Equal(t, string(core.StatusNotFound), status)

	_, err = store.CleanupOldExecutions(ctx, 7*24*time.Hour)
	require.NoError(t, err)

	var count int64
	require.NoError(t, store.db.Model(&instanceStatusRecord{}).Count(&count).Error)
	assert.Zero(t, count, "expired status rows are removed, not just hidden")
}

func TestCleanupOldExecutions(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	old := finishedExecution("etl", core.StatusCompleted, now.Add(-10*24*time.Hour), time.Second)
	fresh := finishedExecution("etl", core.StatusCompleted, now.Add(-time.Hour), time.Second)
	require.NoError(t, store.SaveExecution(ctx, old))
	require.NoError(t, store.SaveExecution(ctx, fresh))

	removed, err := store.CleanupOldExecutions(ctx, 7*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	got, err := store.GetJobExecutions(ctx, "etl", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, fresh.ExecutionID, got[0].ExecutionID)
}

func TestCleanupOldExecutions_RemovesMalformedRows(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, store.SaveExecution(ctx, finishedExecution("etl", core.StatusCompleted, now.Add(-time.Hour), time.Second)))

	// Seed a row whose payload is not valid JSON.
	bad := executionRecord{
		ExecutionID: "broken",
		JobID:       "etl",
		Status:      string(core.StatusCompleted),
		StartedAt:   now.Add(-time.Hour),
		Payload:     []byte("{not json"),
		ExpiresAt:   now.Add(ExecutionTTL),
	}
	require.NoError(t, store.db.Create(&bad).Error)

	removed, err := store.CleanupOldExecutions(ctx, 7*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	got, err := store.GetJobExecutions(ctx, "etl", 10)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestGetExecutionStatistics(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.SaveExecution(ctx, finishedExecution("etl", core.StatusCompleted, base, 10*time.Second)))
	require.NoError(t, store.SaveExecution(ctx, finishedExecution("etl", core.StatusCompleted, base.Add(time.Hour), 20*time.Second)))
	require.NoError(t, store.SaveExecution(ctx, finishedExecution("etl", core.StatusFailed, base.Add(2*time.Hour), time.Second)))
	running := &core.JobExecution{
		ExecutionID: "run-1",
		JobID:       "etl",
		Status:      core.StatusRunning,
		StartedAt:   base.Add(3 * time.Hour),
	}
	require.NoError(t, store.SaveExecution(ctx, running))

	stats, err := store.GetExecutionStatistics(ctx, core.StatsFilter{JobID: "etl"})
	require.NoError(t, err)
	assert.Equal(t, int64(4), stats.Total)
	assert.Equal(t, int64(2), stats.Completed)
	assert.Equal(t, int64(1), stats.Failed)
	assert.Equal(t, int64(1), stats.Running)
	assert.Equal(t, 15*time.Second, stats.AverageDuration)
	assert.InDelta(t, 2.0/3.0, stats.SuccessRate, 1e-9)
}

func TestGetExecutionStatistics_Empty(t *testing.T) {
	store := openTestStore(t)

	stats, err := store.GetExecutionStatistics(context.Background(), core.StatsFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.Total)
	assert.Equal(t, 0.0, stats.SuccessRate)
}
