package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ludia8888/arrakis-scheduler/pkg/core"
)

func TestMemoryStore_StatusExpiresAndIsSwept(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.UpdateJobStatus(ctx, "backup_a1b2c3d4", core.InstanceCancelled))

	status, err := store.GetJobStatus(ctx, "backup_a1b2c3d4")
	require.NoError(t, err)
	require.Equal(t, core.InstanceCancelled, status)

	// Move the store clock past the status TTL.
	store.now = func() time.Time { return time.Now().Add(StatusTTL + time.Hour) }

	status, err = store.GetJobStatus(ctx, "backup_a1b2c3d4")
	require.NoError(t, err)
	assert.Equal(t, string(core.StatusNotFound), status)

	_, err = store.CleanupOldExecutions(ctx, 7*24*time.Hour)
	require.NoError(t, err)

	store.mu.RLock()
	_, present := store.statuses["backup_a1b2c3d4"]
	store.mu.RUnlock()
	assert.False(t, present, "expired status entries are removed, not just hidden")
}
