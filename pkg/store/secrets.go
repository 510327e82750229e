package store

import (
	"context"
	"time"

	"gorm.io/gorm/clause"

	"github.com/telarch/telarch/pkg/store/models"
)

// ============================================
// AUTH SECRET OPERATIONS
// ============================================

// SetSecret stores a login secret, replacing any previous value under the
// same key and resetting its creation timestamp.
func (s *Store) SetSecret(ctx context.Context, key, value string, now time.Time) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	secret := models.AuthSecret{
		Key:       key,
		Value:     value,
		CreatedAt: now.UTC(),
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "created_at"}),
	}).Create(&secret).Error
}

// GetSecretSince returns the secret stored under key if it was written at or
// after minCreated. Missing or stale secrets yield ErrSecretNotFound.
func (s *Store) GetSecretSince(ctx context.Context, key string, minCreated time.Time) (*models.AuthSecret, error) {
	var secret models.AuthSecret
	if err := s.db.WithContext(ctx).Where("key = ?", key).First(&secret).Error; err != nil {
		return nil, convertNotFoundError(err, models.ErrSecretNotFound)
	}
	if secret.CreatedAt.Before(minCreated.UTC()) {
		return nil, models.ErrSecretNotFound
	}
	return &secret, nil
}

// DeleteSecret removes the secret under key. Deleting a missing key is not an
// error.
func (s *Store) DeleteSecret(ctx context.Context, key string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.db.WithContext(ctx).Where("key = ?", key).Delete(&models.AuthSecret{}).Error
}
