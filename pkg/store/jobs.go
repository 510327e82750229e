package store

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/telarch/telarch/pkg/store/models"
)

// ============================================
// JOB OPERATIONS
// ============================================

// UpsertJob inserts or updates a job row. On conflict, state, priority,
// last_error and updated_at overwrite the stored values; the payload is
// preserved when the incoming job carries none.
func (s *Store) UpsertJob(ctx context.Context, job *models.Job) error {
	if !job.State.IsValid() {
		return models.ErrInvalidJobState
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	assignments := []string{"user_id", "chat_id", "message_id", "state", "priority", "last_error", "updated_at"}
	if job.PayloadJSON != "" {
		assignments = append(assignments, "payload_json")
	}

	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	if job.UpdatedAt.IsZero() {
		job.UpdatedAt = now
	}

	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "job_id"}},
		DoUpdates: clause.AssignmentColumns(assignments),
	}).Create(job).Error
}

// UpdateJobState moves a job to the given state, recording the error string
// for failure states and bumping updated_at.
func (s *Store) UpdateJobState(ctx context.Context, jobID string, state models.JobState, lastError string, now time.Time) error {
	if !state.IsValid() {
		return models.ErrInvalidJobState
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	result := s.db.WithContext(ctx).
		Model(&models.Job{}).
		Where("job_id = ?", jobID).
		Updates(map[string]any{
			"state":      state,
			"last_error": lastError,
			"updated_at": now.UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrJobNotFound
	}
	return nil
}

// GetJob retrieves a job by id.
func (s *Store) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	var job models.Job
	if err := s.db.WithContext(ctx).Where("job_id = ?", jobID).First(&job).Error; err != nil {
		return nil, convertNotFoundError(err, models.ErrJobNotFound)
	}
	return &job, nil
}

// ListJobs returns up to limit jobs ordered by updated_at descending.
func (s *Store) ListJobs(ctx context.Context, limit int) ([]*models.Job, error) {
	if limit <= 0 {
		limit = 50
	}
	var jobs []*models.Job
	err := s.db.WithContext(ctx).
		Order("updated_at DESC").
		Limit(limit).
		Find(&jobs).Error
	return jobs, err
}

// RetryJob transitions a FAILED or CANCELLED job back to PENDING and returns
// the stored row so the caller can re-publish its payload.
func (s *Store) RetryJob(ctx context.Context, jobID string, now time.Time) (*models.Job, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var job models.Job
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("job_id = ?", jobID).First(&job).Error; err != nil {
			return convertNotFoundError(err, models.ErrJobNotFound)
		}
		if !job.State.Retryable() {
			return models.ErrJobNotRetryable
		}
		job.State = models.JobStatePending
		job.LastError = ""
		job.UpdatedAt = now.UTC()
		return tx.Model(&models.Job{}).
			Where("job_id = ?", jobID).
			Updates(map[string]any{
				"state":      models.JobStatePending,
				"last_error": "",
				"updated_at": now.UTC(),
			}).Error
	})
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// RecordAttempt appends one entry to the job's retry log.
func (s *Store) RecordAttempt(ctx context.Context, attempt *models.JobAttempt) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.db.WithContext(ctx).Create(attempt).Error
}

// ListAttempts returns the attempt log for one job, oldest first.
func (s *Store) ListAttempts(ctx context.Context, jobID string) ([]*models.JobAttempt, error) {
	var attempts []*models.JobAttempt
	err := s.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("attempt ASC").
		Find(&attempts).Error
	return attempts, err
}

// CountsByState returns the number of jobs in each state.
func (s *Store) CountsByState(ctx context.Context) (map[models.JobState]int64, error) {
	type row struct {
		State models.JobState
		N     int64
	}
	var rows []row
	err := s.db.WithContext(ctx).
		Model(&models.Job{}).
		Select("state, COUNT(*) AS n").
		Group("state").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[models.JobState]int64, len(rows))
	for _, r := range rows {
		counts[r.State] = r.N
	}
	return counts, nil
}
