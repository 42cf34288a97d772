package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/ludia8888/arrakis-scheduler/pkg/core"
	"github.com/ludia8888/arrakis-scheduler/pkg/security"
)

// Retention periods for the persisted record kinds.
const (
	MetadataTTL   = 30 * 24 * time.Hour
	ExecutionTTL  = 30 * 24 * time.Hour
	CheckpointTTL = 24 * time.Hour
	ProgressTTL   = time.Hour
	StatusTTL     = MetadataTTL
)

type jobMetadataRecord struct {
	InstanceID string    `gorm:"primaryKey;size:255"`
	JobID      string    `gorm:"index;size:255;not null"`
	Payload    []byte    `gorm:"type:bytes"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime"`
	ExpiresAt  time.Time `gorm:"index"`
}

func (jobMetadataRecord) TableName() string { return "job_metadata" }

type executionRecord struct {
	ExecutionID  string    `gorm:"primaryKey;size:36"`
	JobID        string    `gorm:"index;size:255;not null"`
	Status       string    `gorm:"index;size:20"`
	StartedAt    time.Time `gorm:"index"`
	DurationSecs float64
	Payload      []byte    `gorm:"type:bytes"`
	ExpiresAt    time.Time `gorm:"index"`
}

func (executionRecord) TableName() string { return "job_executions" }

type checkpointRecord struct {
	JobID       string    `gorm:"primaryKey;size:255"`
	ExecutionID string    `gorm:"primaryKey;size:36"`
	State       []byte    `gorm:"type:bytes"`
	CreatedAt   time.Time `gorm:"autoCreateTime"`
	ExpiresAt   time.Time `gorm:"index"`
}

func (checkpointRecord) TableName() string { return "job_checkpoints" }

type progressRecord struct {
	JobID       string    `gorm:"primaryKey;size:255"`
	ExecutionID string    `gorm:"primaryKey;size:36"`
	Percent     float64
	Message     string    `gorm:"type:text"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime"`
	ExpiresAt   time.Time `gorm:"index"`
}

func (progressRecord) TableName() string { return "job_progress" }

type instanceStatusRecord struct {
	InstanceID string    `gorm:"primaryKey;size:255"`
	Status     string    `gorm:"size:20"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime"`
	ExpiresAt  time.Time `gorm:"index"`
}

func (instanceStatusRecord) TableName() string { return "job_status" }

// GormStore implements core.StateStore using GORM.
type GormStore struct {
	db  *gorm.DB
	now func() time.Time
}

// NewGormStore creates a new GORM-backed state store.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db, now: time.Now}
}

// Migrate creates the necessary tables.
func (s *GormStore) Migrate(ctx context.Context) error {
	err := s.db.WithContext(ctx).AutoMigrate(
		&jobMetadataRecord{},
		&executionRecord{},
		&checkpointRecord{},
		&progressRecord{},
		&instanceStatusRecord{},
	)
	return core.StoreError(err)
}

// SaveJobMetadata upserts the metadata for a scheduled instance.
func (s *GormStore) SaveJobMetadata(ctx context.Context, instanceID string, meta *core.JobMetadata) error {
	payload, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	rec := jobMetadataRecord{
		InstanceID: instanceID,
		JobID:      meta.JobID,
		Payload:    payload,
		ExpiresAt:  s.now().Add(MetadataTTL),
	}
	return core.StoreError(s.db.WithContext(ctx).Save(&rec).Error)
}

// GetJobMetadata returns the metadata for an instance, or nil when absent.
func (s *GormStore) GetJobMetadata(ctx context.Context, instanceID string) (*core.JobMetadata, error) {
	var rec jobMetadataRecord
	err := s.db.WithContext(ctx).
		Where("instance_id = ? AND expires_at > ?", instanceID, s.now()).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, core.StoreError(err)
	}

	var meta core.JobMetadata
	if err := json.Unmarshal(rec.Payload, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

// SaveExecution upserts an execution record.
func (s *GormStore) SaveExecution(ctx context.Context, exec *core.JobExecution) error {
	payload, err := json.Marshal(exec)
	if err != nil {
		return err
	}
	rec := executionRecord{
		ExecutionID:  exec.ExecutionID,
		JobID:        exec.JobID,
		Status:       string(exec.Status),
		StartedAt:    exec.StartedAt,
		DurationSecs: exec.Duration().Seconds(),
		Payload:      payload,
		ExpiresAt:    s.now().Add(ExecutionTTL),
	}
	return core.StoreError(s.db.WithContext(ctx).Save(&rec).Error)
}

// GetJobExecutions returns the most recent executions for a job.
func (s *GormStore) GetJobExecutions(ctx context.Context, jobID string, limit int) ([]*core.JobExecution, error) {
	if limit <= 0 {
		limit = 50
	}
	var recs []executionRecord
	err := s.db.WithContext(ctx).
		Where("job_id = ? AND expires_at > ?", jobID, s.now()).
		Order("started_at DESC").
		Limit(limit).
		Find(&recs).Error
	if err != nil {
		return nil, core.StoreError(err)
	}
	return decodeExecutions(recs), nil
}

// QueryExecutions returns executions matching the filter, most recent first.
func (s *GormStore) QueryExecutions(ctx context.Context, filter core.HistoryFilter) ([]*core.JobExecution, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	q := s.db.WithContext(ctx).
		Model(&executionRecord{}).
		Where("expires_at > ?", s.now())
	if filter.JobID != "" {
		q = q.Where("job_id = ?", filter.JobID)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", string(filter.Status))
	}
	if !filter.Start.IsZero() {
		q = q.Where("started_at >= ?", filter.Start)
	}
	if !filter.End.IsZero() {
		q = q.Where("started_at <= ?", filter.End)
	}

	var recs []executionRecord
	if err := q.Order("started_at DESC").Limit(limit).Find(&recs).Error; err != nil {
		return nil, core.StoreError(err)
	}
	return decodeExecutions(recs), nil
}

// decodeExecutions skips rows whose payload no longer decodes; the cleanup
// sweep removes them.
func decodeExecutions(recs []executionRecord) []*core.JobExecution {
	out := make([]*core.JobExecution, 0, len(recs))
	for i := range recs {
		var exec core.JobExecution
		if err := json.Unmarshal(recs[i].Payload, &exec); err != nil {
			continue
		}
		out = append(out, &exec)
	}
	return out
}

// SaveCheckpoint upserts the checkpoint blob for an execution.
func (s *GormStore) SaveCheckpoint(ctx context.Context, jobID, executionID string, state []byte) error {
	if len(state) > security.MaxCheckpointSize {
		return errors.New("scheduler: checkpoint exceeds size limit")
	}
	rec := checkpointRecord{
		JobID:       jobID,
		ExecutionID: executionID,
		State:       state,
		ExpiresAt:   s.now().Add(CheckpointTTL),
	}
	return core.StoreError(s.db.WithContext(ctx).Save(&rec).Error)
}

// GetCheckpoint returns the checkpoint blob, or (nil, nil) when absent or expired.
func (s *GormStore) GetCheckpoint(ctx context.Context, jobID, executionID string) ([]byte, error) {
	var rec checkpointRecord
	err := s.db.WithContext(ctx).
		Where("job_id = ? AND execution_id = ? AND expires_at > ?", jobID, executionID, s.now()).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, core.StoreError(err)
	}
	return rec.State, nil
}

// UpdateJobProgress upserts the latest progress, last-write-wins.
func (s *GormStore) UpdateJobProgress(ctx context.Context, jobID, executionID string, percent float64, message string) error {
	rec := progressRecord{
		JobID:       jobID,
		ExecutionID: executionID,
		Percent:     percent,
		Message:     message,
		ExpiresAt:   s.now().Add(ProgressTTL),
	}
	return core.StoreError(s.db.WithContext(ctx).Save(&rec).Error)
}

// GetJobProgress returns the latest progress, or nil when absent or expired.
func (s *GormStore) GetJobProgress(ctx context.Context, jobID, executionID string) (*core.Progress, error) {
	var rec progressRecord
	err := s.db.WithContext(ctx).
		Where("job_id = ? AND execution_id = ? AND expires_at > ?", jobID, executionID, s.now()).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, core.StoreError(err)
	}
	return &core.Progress{
		JobID:       rec.JobID,
		ExecutionID: rec.ExecutionID,
		Percent:     rec.Percent,
		Message:     rec.Message,
		UpdatedAt:   rec.UpdatedAt,
	}, nil
}

// UpdateJobStatus upserts the status of a scheduled instance.
func (s *GormStore) UpdateJobStatus(ctx context.Context, instanceID string, status string) error {
	rec := instanceStatusRecord{
		InstanceID: instanceID,
		Status:     status,
		ExpiresAt:  s.now().Add(StatusTTL),
	}
	return core.StoreError(s.db.WithContext(ctx).Save(&rec).Error)
}

// GetJobStatus returns the instance status, or the not_found sentinel for
// unknown or expired instances.
func (s *GormStore) GetJobStatus(ctx context.Context, instanceID string) (string, error) {
	var rec instanceStatusRecord
	err := s.db.WithContext(ctx).
		Where("instance_id = ? AND expires_at > ?", instanceID, s.now()).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return string(core.StatusNotFound), nil
	}
	if err != nil {
		return "", core.StoreError(err)
	}
	return rec.Status, nil
}

// CleanupOldExecutions removes execution records older than the cutoff,
// expired rows of every kind, and execution rows whose payload no longer
// decodes. Malformed rows are dropped rather than failing the sweep.
func (s *GormStore) CleanupOldExecutions(ctx context.Context, olderThan time.Duration) (int64, error) {
	now := s.now()
	cutoff := now.Add(-olderThan)

	res := s.db.WithContext(ctx).
		Where("started_at < ? OR expires_at < ?", cutoff, now).
		Delete(&executionRecord{})
	if res.Error != nil {
		return 0, core.StoreError(res.Error)
	}
	removed := res.RowsAffected

	// Drop rows that survived the cutoff but no longer decode.
	var recs []executionRecord
	if err := s.db.WithContext(ctx).Find(&recs).Error; err != nil {
		return removed, core.StoreError(err)
	}
	var malformed []string
	for i := range recs {
		var exec core.JobExecution
		if err := json.Unmarshal(recs[i].Payload, &exec); err != nil {
			malformed = append(malformed, recs[i].ExecutionID)
		}
	}
	if len(malformed) > 0 {
		res = s.db.WithContext(ctx).
			Where("execution_id IN ?", malformed).
			Delete(&executionRecord{})
		if res.Error != nil {
			return removed, core.StoreError(res.Error)
		}
		removed += res.RowsAffected
	}

	// Expired auxiliary records ride along with the sweep.
	s.db.WithContext(ctx).Where("expires_at < ?", now).Delete(&checkpointRecord{})
	s.db.WithContext(ctx).Where("expires_at < ?", now).Delete(&progressRecord{})
	s.db.WithContext(ctx).Where("expires_at < ?", now).Delete(&jobMetadataRecord{})
	s.db.WithContext(ctx).Where("expires_at < ?", now).Delete(&instanceStatusRecord{})

	return removed, nil
}

// GetExecutionStatistics aggregates execution outcomes for reporting.
func (s *GormStore) GetExecutionStatistics(ctx context.Context, filter core.StatsFilter) (*core.ExecutionStatistics, error) {
	base := func() *gorm.DB {
		q := s.db.WithContext(ctx).
			Model(&executionRecord{}).
			Where("expires_at > ?", s.now())
		if filter.JobID != "" {
			q = q.Where("job_id = ?", filter.JobID)
		}
		if !filter.Start.IsZero() {
			q = q.Where("started_at >= ?", filter.Start)
		}
		if !filter.End.IsZero() {
			q = q.Where("started_at <= ?", filter.End)
		}
		return q
	}

	stats := &core.ExecutionStatistics{}
	if err := base().Count(&stats.Total).Error; err != nil {
		return nil, core.StoreError(err)
	}
	if err := base().Where("status = ?", string(core.StatusCompleted)).Count(&stats.Completed).Error; err != nil {
		return nil, core.StoreError(err)
	}
	if err := base().Where("status = ?", string(core.StatusFailed)).Count(&stats.Failed).Error; err != nil {
		return nil, core.StoreError(err)
	}
	if err := base().Where("status = ?", string(core.StatusRunning)).Count(&stats.Running).Error; err != nil {
		return nil, core.StoreError(err)
	}

	var avgSecs *float64
	err := base().
		Where("status = ?", string(core.StatusCompleted)).
		Select("AVG(duration_secs)").
		Scan(&avgSecs).Error
	if err != nil {
		return nil, core.StoreError(err)
	}
	if avgSecs != nil {
		stats.AverageDuration = time.Duration(*avgSecs * float64(time.Second))
	}

	finished := stats.Completed + stats.Failed
	if finished > 0 {
		stats.SuccessRate = float64(stats.Completed) / float64(finished)
	}
	return stats, nil
}
