package config

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "scheduler.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_FullConfig(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
scheduler:
  max_workers: 4
  tick_interval: 500ms
  default_timeout: 2m
  coalesce: false
  max_instances: 3
  cleanup_interval: 30m
  retention_days: 7
store:
  driver: sqlite
  dsn: /tmp/jobs.db
notify:
  priority_channel: "#oncall"
  rate_per_second: 2.5
  rate_burst: 10
log:
  level: debug
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Scheduler.MaxWorkers)
	assert.Equal(t, 500*time.Millisecond, cfg.Scheduler.TickInterval.Std())
	assert.Equal(t, 2*time.Minute, cfg.Scheduler.DefaultTimeout.Std())
	assert.False(t, cfg.Scheduler.CoalesceEnabled())
	assert.Equal(t, 3, cfg.Scheduler.MaxInstances)
	assert.Equal(t, 7*24*time.Hour, cfg.Scheduler.Retention())
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "/tmp/jobs.db", cfg.Store.DSN)
	assert.Equal(t, "#oncall", cfg.Notify.PriorityChannel)
	assert.Equal(t, 2.5, cfg.Notify.RatePerSecond)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_DefaultsApply(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "scheduler:\n  max_workers: 2\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Scheduler.MaxWorkers)
	assert.Equal(t, time.Second, cfg.Scheduler.TickInterval.Std())
	assert.True(t, cfg.Scheduler.CoalesceEnabled(), "coalesce defaults on")
	assert.Equal(t, 30*24*time.Hour, cfg.Scheduler.Retention())
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_RejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "scheduler:\n  max_wrokers: 2\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_wrokers")
}

func TestLoad_RejectsInvalidValues(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(writeConfig(t, dir, "store:\n  driver: cassandra\n"))
	assert.ErrorContains(t, err, "store.driver")

	_, err = Load(writeConfig(t, dir, "log:\n  level: loud\n"))
	assert.ErrorContains(t, err, "log.level")

	_, err = Load(writeConfig(t, dir, "scheduler:\n  tick_interval: sometimes\n"))
	assert.ErrorContains(t, err, "invalid duration")
}

func TestWatcher_PublishesReloadAndKeepsLastGood(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "scheduler:\n  max_workers: 2\n")

	w, err := NewWatcher(path, slog.Default())
	require.NoError(t, err)
	assert.Equal(t, 2, w.Current().Scheduler.MaxWorkers)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	watchDone := make(chan struct{})
	go func() {
		defer close(watchDone)
		_ = w.Watch(ctx)
	}()
	sub := w.Subscribe()

	// A valid rewrite is published.
	require.NoError(t, os.WriteFile(path, []byte("scheduler:\n  max_workers: 8\n"), 0o644))
	select {
	case cfg := <-sub:
		assert.Equal(t, 8, cfg.Scheduler.MaxWorkers)
	case <-time.After(5 * time.Second):
		t.Fatal("reload was never published")
	}

	// An invalid rewrite is rejected; the last good config stays.
	require.NoError(t, os.WriteFile(path, []byte("scheduler:\n  bogus_field: 1\n"), 0o644))
	time.Sleep(2 * debounceWindow)
	assert.Equal(t, 8, w.Current().Scheduler.MaxWorkers)

	cancel()
	select {
	case <-watchDone:
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop")
	}
}
