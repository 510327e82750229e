package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/telarch/telarch/pkg/store/models"
)

// DuplicateResult is the outcome of a dedup probe.
type DuplicateResult struct {
	IsDuplicate bool
	ExistingKey string
	Reason      string // "file_unique_id" or "sha256"
}

// CheckByUniqueID probes the fast-path dedup index: the chat platform's
// file_unique_id is stable across re-shares, so a hit means the content is
// already archived and no download is needed.
func (s *Store) CheckByUniqueID(ctx context.Context, fileUniqueID string) (DuplicateResult, error) {
	var key string
	err := s.db.WithContext(ctx).
		Model(&models.SourceMap{}).
		Select("files.s3_key").
		Joins("JOIN files ON files.sha256 = tg_map.sha256").
		Where("tg_map.file_unique_id = ?", fileUniqueID).
		Scan(&key).Error
	if err != nil {
		return DuplicateResult{}, err
	}
	if key == "" {
		return DuplicateResult{}, nil
	}
	return DuplicateResult{IsDuplicate: true, ExistingKey: key, Reason: "file_unique_id"}, nil
}

// CheckBySHA256 probes the content-hash index after acquisition.
func (s *Store) CheckBySHA256(ctx context.Context, sha256 string) (DuplicateResult, error) {
	var record models.FileRecord
	err := s.db.WithContext(ctx).
		Where("sha256 = ?", sha256).
		First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return DuplicateResult{}, nil
	}
	if err != nil {
		return DuplicateResult{}, err
	}
	return DuplicateResult{IsDuplicate: true, ExistingKey: record.S3Key, Reason: "sha256"}, nil
}

// Record inserts a file record and, when fileUniqueID is non-empty, the
// source mapping, in a single transaction. It is idempotent: existing rows
// are left untouched.
func (s *Store) Record(ctx context.Context, sha256, s3Key string, sizeBytes int64, mime, fileUniqueID string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		record := models.FileRecord{
			SHA256:    sha256,
			S3Key:     s3Key,
			SizeBytes: sizeBytes,
			MIME:      mime,
			CreatedAt: time.Now().UTC(),
		}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&record).Error; err != nil {
			return err
		}

		if fileUniqueID != "" {
			mapping := models.SourceMap{
				FileUniqueID: fileUniqueID,
				SHA256:       sha256,
			}
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&mapping).Error; err != nil {
				return err
			}
		}
		return nil
	})
}
