package storage

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/ludia8888/arrakis-scheduler/pkg/core"
)

// MemoryStore is an in-memory StateStore for tests and single-process
// deployments that need no durability. Safe for concurrent use.
type MemoryStore struct {
	mu sync.RWMutex

	metadata    map[string]entry // instanceID -> JobMetadata JSON
	executions  map[string]entry // executionID -> JobExecution JSON
	checkpoints map[string]entry // jobID/executionID -> blob
	progress    map[string]*core.Progress
	statuses    map[string]statusEntry

	now func() time.Time
}

type statusEntry struct {
	status    string
	expiresAt time.Time
}

type entry struct {
	payload   []byte
	jobID     string
	startedAt time.Time
	status    string
	expiresAt time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		metadata:    make(map[string]entry),
		executions:  make(map[string]entry),
		checkpoints: make(map[string]entry),
		progress:    make(map[string]*core.Progress),
		statuses:    make(map[string]statusEntry),
		now:         time.Now,
	}
}

// Migrate is a no-op for the in-memory store.
func (s *MemoryStore) Migrate(context.Context) error { return nil }

func (s *MemoryStore) SaveJobMetadata(_ context.Context, instanceID string, meta *core.JobMetadata) error {
	payload, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metadata[instanceID] = entry{payload: payload, jobID: meta.JobID, expiresAt: s.now().Add(MetadataTTL)}
	return nil
}

func (s *MemoryStore) GetJobMetadata(_ context.Context, instanceID string) (*core.JobMetadata, error) {
	s.mu.RLock()
	e, ok := s.metadata[instanceID]
	s.mu.RUnlock()
	if !ok || e.expiresAt.Before(s.now()) {
		return nil, nil
	}
	var meta core.JobMetadata
	if err := json.Unmarshal(e.payload, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

func (s *MemoryStore) SaveExecution(_ context.Context, exec *core.JobExecution) error {
	payload, err := json.Marshal(exec)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executions[exec.ExecutionID] = entry{
		payload:   payload,
		jobID:     exec.JobID,
		startedAt: exec.StartedAt,
		status:    string(exec.Status),
		expiresAt: s.now().Add(ExecutionTTL),
	}
	return nil
}

func (s *MemoryStore) GetJobExecutions(ctx context.Context, jobID string, limit int) ([]*core.JobExecution, error) {
	return s.QueryExecutions(ctx, core.HistoryFilter{JobID: jobID, Limit: limit})
}

func (s *MemoryStore) QueryExecutions(_ context.Context, filter core.HistoryFilter) ([]*core.JobExecution, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	s.mu.RLock()
	matched := make([]*core.JobExecution, 0)
	for _, e := range s.executions {
		if e.expiresAt.Before(s.now()) {
			continue
		}
		if filter.JobID != "" && e.jobID != filter.JobID {
			continue
		}
		if filter.Status != "" && e.status != string(filter.Status) {
			continue
		}
		if !filter.Start.IsZero() && e.startedAt.Before(filter.Start) {
			continue
		}
		if !filter.End.IsZero() && e.startedAt.After(filter.End) {
			continue
		}
		var exec core.JobExecution
		if err := json.Unmarshal(e.payload, &exec); err != nil {
			continue
		}
		matched = append(matched, &exec)
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].StartedAt.After(matched[j].StartedAt)
	})
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (s *MemoryStore) SaveCheckpoint(_ context.Context, jobID, executionID string, state []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoints[jobID+"/"+executionID] = entry{
		payload:   append([]byte(nil), state...),
		expiresAt: s.now().Add(CheckpointTTL),
	}
	return nil
}

func (s *MemoryStore) GetCheckpoint(_ context.Context, jobID, executionID string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.checkpoints[jobID+"/"+executionID]
	if !ok || e.expiresAt.Before(s.now()) {
		return nil, nil
	}
	return append([]byte(nil), e.payload...), nil
}

func (s *MemoryStore) UpdateJobProgress(_ context.Context, jobID, executionID string, percent float64, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress[jobID+"/"+executionID] = &core.Progress{
		JobID:       jobID,
		ExecutionID: executionID,
		Percent:     percent,
		Message:     message,
		UpdatedAt:   s.now(),
	}
	return nil
}

func (s *MemoryStore) GetJobProgress(_ context.Context, jobID, executionID string) (*core.Progress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.progress[jobID+"/"+executionID]
	if !ok || s.now().Sub(p.UpdatedAt) > ProgressTTL {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) UpdateJobStatus(_ context.Context, instanceID string, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[instanceID] = statusEntry{status: status, expiresAt: s.now().Add(StatusTTL)}
	return nil
}

func (s *MemoryStore) GetJobStatus(_ context.Context, instanceID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.statuses[instanceID]
	if !ok || e.expiresAt.Before(s.now()) {
		return string(core.StatusNotFound), nil
	}
	return e.status, nil
}

func (s *MemoryStore) CleanupOldExecutions(_ context.Context, olderThan time.Duration) (int64, error) {
	now := s.now()
	cutoff := now.Add(-olderThan)

	s.mu.Lock()
	defer s.mu.Unlock()
	var removed int64
	for id, e := range s.executions {
		var exec core.JobExecution
		malformed := json.Unmarshal(e.payload, &exec) != nil
		if e.startedAt.Before(cutoff) || e.expiresAt.Before(now) || malformed {
			delete(s.executions, id)
			removed++
		}
	}
	for key, e := range s.checkpoints {
		if e.expiresAt.Before(now) {
			delete(s.checkpoints, key)
		}
	}
	for key, p := range s.progress {
		if now.Sub(p.UpdatedAt) > ProgressTTL {
			delete(s.progress, key)
		}
	}
	for key, e := range s.statuses {
		if e.expiresAt.Before(now) {
			delete(s.statuses, key)
		}
	}
	return removed, nil
}

func (s *MemoryStore) GetExecutionStatistics(ctx context.Context, filter core.StatsFilter) (*core.ExecutionStatistics, error) {
	execs, err := s.QueryExecutions(ctx, core.HistoryFilter{
		JobID: filter.JobID,
		Start: filter.Start,
		End:   filter.End,
		Limit: 1 << 30,
	})
	if err != nil {
		return nil, err
	}

	stats := &core.ExecutionStatistics{Total: int64(len(execs))}
	var totalDuration time.Duration
	for _, exec := range execs {
		switch exec.Status {
		case core.StatusCompleted:
			stats.Completed++
			totalDuration += exec.Duration()
		case core.StatusFailed:
			stats.Failed++
		case core.StatusRunning:
			stats.Running++
		}
	}
	if stats.Completed > 0 {
		stats.AverageDuration = totalDuration / time.Duration(stats.Completed)
	}
	if finished := stats.Completed + stats.Failed; finished > 0 {
		stats.SuccessRate = float64(stats.Completed) / float64(finished)
	}
	return stats, nil
}
