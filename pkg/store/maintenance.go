package store

import (
	"context"
	"fmt"

	"github.com/telarch/telarch/pkg/store/models"
)

// ============================================
// MAINTENANCE OPERATIONS
// ============================================

// Vacuum compacts the underlying database. Only meaningful on SQLite;
// on PostgreSQL the statement still runs but autovacuum normally covers it.
func (s *Store) Vacuum(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.db.WithContext(ctx).Exec("VACUUM").Error; err != nil {
		return fmt.Errorf("failed to vacuum database: %w", err)
	}
	return nil
}

// PurgeCounts reports how many rows PurgeAll removed from each table.
type PurgeCounts struct {
	Files     int64 `json:"files"`
	SourceIDs int64 `json:"source_ids"`
	Messages  int64 `json:"messages"`
	Jobs      int64 `json:"jobs"`
	Attempts  int64 `json:"attempts"`
}

// PurgeAll deletes every archive record, dedup mapping and job row. Auth
// secrets survive so an in-flight login is not torn down. Irreversible;
// callers gate it behind explicit confirmation.
func (s *Store) PurgeAll(ctx context.Context) (*PurgeCounts, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	counts := &PurgeCounts{}
	deletes := []struct {
		model any
		n     *int64
	}{
		{&models.JobAttempt{}, &counts.Attempts},
		{&models.Job{}, &counts.Jobs},
		{&models.MessageSeen{}, &counts.Messages},
		{&models.SourceMap{}, &counts.SourceIDs},
		{&models.FileRecord{}, &counts.Files},
	}
	for _, d := range deletes {
		result := s.db.WithContext(ctx).Where("1 = 1").Delete(d.model)
		if result.Error != nil {
			return nil, fmt.Errorf("failed to purge table: %w", result.Error)
		}
		*d.n = result.RowsAffected
	}
	return counts, nil
}
