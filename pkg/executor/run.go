package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/ludia8888/arrakis-scheduler/pkg/core"
)

// JobFunc is the signature every job body conforms to. The context carries
// the Run for checkpoint/progress/cancellation access.
type JobFunc func(ctx context.Context, args map[string]any) (any, error)

type runKey struct{}

// Run is the ephemeral per-execution context exposed to job bodies. It is
// owned by exactly one execution and discarded at completion.
type Run struct {
	exec      *core.JobExecution
	store     core.StateStore
	logger    *slog.Logger
	cancelled *atomic.Bool
	emit      func(core.Event)
}

// RunFromContext returns the current Run, or nil outside a job body.
func RunFromContext(ctx context.Context) *Run {
	if r, ok := ctx.Value(runKey{}).(*Run); ok {
		return r
	}
	return nil
}

func withRun(ctx context.Context, r *Run) context.Context {
	return context.WithValue(ctx, runKey{}, r)
}

// Execution returns a snapshot view of the execution record.
func (r *Run) Execution() core.JobExecution { return *r.exec }

// Checkpoint persists opaque progress state so a later execution can resume
// rather than restart.
func (r *Run) Checkpoint(state any) error {
	blob, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	return r.store.SaveCheckpoint(context.Background(), r.exec.JobID, r.exec.ExecutionID, blob)
}

// RestoreCheckpoint loads the checkpoint saved under executionID into out.
// Returns false when no checkpoint exists.
func (r *Run) RestoreCheckpoint(executionID string, out any) (bool, error) {
	blob, err := r.store.GetCheckpoint(context.Background(), r.exec.JobID, executionID)
	if err != nil {
		return false, err
	}
	if blob == nil {
		return false, nil
	}
	if err := json.Unmarshal(blob, out); err != nil {
		return false, fmt.Errorf("unmarshal checkpoint: %w", err)
	}
	return true, nil
}

// UpdateProgress records the latest completion percentage. Best-effort;
// store failures are logged, not returned.
func (r *Run) UpdateProgress(percent float64, message string) {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	err := r.store.UpdateJobProgress(context.Background(), r.exec.JobID, r.exec.ExecutionID, percent, message)
	if err != nil {
		r.logger.Warn("progress update failed",
			"job_id", r.exec.JobID, "execution_id", r.exec.ExecutionID, "error", err)
	}
}

// Cancelled reports whether a caller has requested cancellation. Job bodies
// should poll this (or the context) at convenient points.
func (r *Run) Cancelled() bool {
	return r.cancelled.Load()
}

// EmitEvent publishes an application-level event tied to this execution.
func (r *Run) EmitEvent(eventType string, data map[string]any) {
	if r.emit == nil {
		return
	}
	r.emit(&core.JobEvent{
		JobID:       r.exec.JobID,
		ExecutionID: r.exec.ExecutionID,
		Type:        eventType,
		Data:        data,
		Timestamp:   time.Now(),
	})
}
