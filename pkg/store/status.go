package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/telarch/telarch/pkg/store/models"
)

// workerStatusID pins the heartbeat to a single row.
const workerStatusID = 1

// SetWorkerStatus writes the worker heartbeat row.
func (s *Store) SetWorkerStatus(ctx context.Context, status *models.WorkerStatus) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	status.ID = workerStatusID
	status.UpdatedAt = time.Now().UTC()
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"mode", "authorized", "auth_failures", "last_probe_at", "updated_at"}),
	}).Create(status).Error
}

// GetWorkerStatus reads the worker heartbeat row. A nil status with nil error
// means no worker has ever reported.
func (s *Store) GetWorkerStatus(ctx context.Context) (*models.WorkerStatus, error) {
	var status models.WorkerStatus
	err := s.db.WithContext(ctx).Where("id = ?", workerStatusID).First(&status).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &status, nil
}
