package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telarch/telarch/pkg/store/models"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := New(&Config{
		Type:   DatabaseTypeSQLite,
		SQLite: SQLiteConfig{Path: ":memory:"},
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.Close()
	})
	return s
}

func TestConfigApplyDefaults(t *testing.T) {
	t.Run("empty config defaults to sqlite", func(t *testing.T) {
		cfg := &Config{}
		cfg.ApplyDefaults()
		assert.Equal(t, DatabaseTypeSQLite, cfg.Type)
		assert.Equal(t, "/data/teltubby.db", cfg.SQLite.Path)
	})

	t.Run("postgres gets default port", func(t *testing.T) {
		cfg := &Config{Type: DatabaseTypePostgres}
		cfg.ApplyDefaults()
		assert.Equal(t, 5432, cfg.Postgres.Port)
	})
}

func TestFileDedup(t *testing.T) {
	ctx := context.Background()

	t.Run("no match on empty store", func(t *testing.T) {
		s := setupTestStore(t)

		res, err := s.CheckByUniqueID(ctx, "uid-1")
		require.NoError(t, err)
		assert.False(t, res.IsDuplicate)

		res, err = s.CheckBySHA256(ctx, "deadbeef")
		require.NoError(t, err)
		assert.False(t, res.IsDuplicate)
	})

	t.Run("record then match by unique id", func(t *testing.T) {
		s := setupTestStore(t)

		err := s.Record(ctx, "aa11", "teltubby/2024/01/chan/42/001.jpg", 1024, "image/jpeg", "uid-1")
		require.NoError(t, err)

		res, err := s.CheckByUniqueID(ctx, "uid-1")
		require.NoError(t, err)
		assert.True(t, res.IsDuplicate)
		assert.Equal(t, "teltubby/2024/01/chan/42/001.jpg", res.ExistingKey)
		assert.Equal(t, "file_unique_id", res.Reason)
	})

	t.Run("record then match by hash", func(t *testing.T) {
		s := setupTestStore(t)

		err := s.Record(ctx, "bb22", "teltubby/2024/02/chan/7/001.png", 2048, "image/png", "uid-2")
		require.NoError(t, err)

		res, err := s.CheckBySHA256(ctx, "bb22")
		require.NoError(t, err)
		assert.True(t, res.IsDuplicate)
		assert.Equal(t, "teltubby/2024/02/chan/7/001.png", res.ExistingKey)
		assert.Equal(t, "sha256", res.Reason)
	})

	t.Run("record is idempotent", func(t *testing.T) {
		s := setupTestStore(t)

		require.NoError(t, s.Record(ctx, "cc33", "key-a", 10, "", "uid-3"))
		require.NoError(t, s.Record(ctx, "cc33", "key-b", 10, "", "uid-3"))

		res, err := s.CheckBySHA256(ctx, "cc33")
		require.NoError(t, err)
		assert.True(t, res.IsDuplicate)
		assert.Equal(t, "key-a", res.ExistingKey)
	})

	t.Run("new unique id maps to existing hash", func(t *testing.T) {
		s := setupTestStore(t)

		require.NoError(t, s.Record(ctx, "dd44", "key-a", 10, "", "uid-4"))
		require.NoError(t, s.Record(ctx, "dd44", "key-a", 10, "", "uid-5"))

		res, err := s.CheckByUniqueID(ctx, "uid-5")
		require.NoError(t, err)
		assert.True(t, res.IsDuplicate)
		assert.Equal(t, "key-a", res.ExistingKey)
	})
}

func TestJobLifecycle(t *testing.T) {
	ctx := context.Background()

	newJob := func(id string, state models.JobState) *models.Job {
		return &models.Job{
			JobID:       id,
			UserID:      100,
			ChatID:      -1001,
			MessageID:   42,
			State:       state,
			Priority:    4,
			PayloadJSON: `{"job_id":"` + id + `"}`,
		}
	}

	t.Run("upsert and get", func(t *testing.T) {
		s := setupTestStore(t)

		require.NoError(t, s.UpsertJob(ctx, newJob("job-1", models.JobStatePending)))

		got, err := s.GetJob(ctx, "job-1")
		require.NoError(t, err)
		assert.Equal(t, models.JobStatePending, got.State)
		assert.Equal(t, 4, got.Priority)
		assert.NotEmpty(t, got.PayloadJSON)
	})

	t.Run("upsert without payload preserves stored payload", func(t *testing.T) {
		s := setupTestStore(t)

		require.NoError(t, s.UpsertJob(ctx, newJob("job-2", models.JobStatePending)))

		update := newJob("job-2", models.JobStateProcessing)
		update.PayloadJSON = ""
		require.NoError(t, s.UpsertJob(ctx, update))

		got, err := s.GetJob(ctx, "job-2")
		require.NoError(t, err)
		assert.Equal(t, models.JobStateProcessing, got.State)
		assert.NotEmpty(t, got.PayloadJSON)
	})

	t.Run("invalid state rejected", func(t *testing.T) {
		s := setupTestStore(t)

		err := s.UpsertJob(ctx, newJob("job-3", models.JobState("BOGUS")))
		assert.ErrorIs(t, err, models.ErrInvalidJobState)
	})

	t.Run("get missing job", func(t *testing.T) {
		s := setupTestStore(t)

		_, err := s.GetJob(ctx, "nope")
		assert.ErrorIs(t, err, models.ErrJobNotFound)
	})

	t.Run("update state records error and timestamp", func(t *testing.T) {
		s := setupTestStore(t)

		require.NoError(t, s.UpsertJob(ctx, newJob("job-4", models.JobStateProcessing)))

		now := time.Now()
		require.NoError(t, s.UpdateJobState(ctx, "job-4", models.JobStateFailed, "download timed out", now))

		got, err := s.GetJob(ctx, "job-4")
		require.NoError(t, err)
		assert.Equal(t, models.JobStateFailed, got.State)
		assert.Equal(t, "download timed out", got.LastError)
	})

	t.Run("update state of missing job", func(t *testing.T) {
		s := setupTestStore(t)

		err := s.UpdateJobState(ctx, "nope", models.JobStateFailed, "", time.Now())
		assert.ErrorIs(t, err, models.ErrJobNotFound)
	})

	t.Run("retry failed job", func(t *testing.T) {
		s := setupTestStore(t)

		job := newJob("job-5", models.JobStateFailed)
		job.LastError = "boom"
		require.NoError(t, s.UpsertJob(ctx, job))

		retried, err := s.RetryJob(ctx, "job-5", time.Now())
		require.NoError(t, err)
		assert.Equal(t, models.JobStatePending, retried.State)
		assert.NotEmpty(t, retried.PayloadJSON)

		got, err := s.GetJob(ctx, "job-5")
		require.NoError(t, err)
		assert.Equal(t, models.JobStatePending, got.State)
		assert.Empty(t, got.LastError)
	})

	t.Run("retry non-retryable job", func(t *testing.T) {
		s := setupTestStore(t)

		require.NoError(t, s.UpsertJob(ctx, newJob("job-6", models.JobStateCompleted)))

		_, err := s.RetryJob(ctx, "job-6", time.Now())
		assert.ErrorIs(t, err, models.ErrJobNotRetryable)
	})

	t.Run("list orders by recency", func(t *testing.T) {
		s := setupTestStore(t)

		old := newJob("job-old", models.JobStateCompleted)
		old.UpdatedAt = time.Now().Add(-time.Hour)
		require.NoError(t, s.UpsertJob(ctx, old))

		fresh := newJob("job-fresh", models.JobStatePending)
		fresh.UpdatedAt = time.Now()
		require.NoError(t, s.UpsertJob(ctx, fresh))

		jobs, err := s.ListJobs(ctx, 10)
		require.NoError(t, err)
		require.Len(t, jobs, 2)
		assert.Equal(t, "job-fresh", jobs[0].JobID)
		assert.Equal(t, "job-old", jobs[1].JobID)
	})

	t.Run("counts by state", func(t *testing.T) {
		s := setupTestStore(t)

		require.NoError(t, s.UpsertJob(ctx, newJob("a", models.JobStatePending)))
		require.NoError(t, s.UpsertJob(ctx, newJob("b", models.JobStatePending)))
		require.NoError(t, s.UpsertJob(ctx, newJob("c", models.JobStateFailed)))

		counts, err := s.CountsByState(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(2), counts[models.JobStatePending])
		assert.Equal(t, int64(1), counts[models.JobStateFailed])
	})

	t.Run("attempt log", func(t *testing.T) {
		s := setupTestStore(t)

		require.NoError(t, s.UpsertJob(ctx, newJob("job-7", models.JobStateProcessing)))

		started := time.Now().Add(-time.Minute)
		finished := time.Now()
		require.NoError(t, s.RecordAttempt(ctx, &models.JobAttempt{
			JobID:     "job-7",
			Attempt:   1,
			StartedAt: started,
			Success:   false,
			Error:     "timeout",
		}))
		require.NoError(t, s.RecordAttempt(ctx, &models.JobAttempt{
			JobID:      "job-7",
			Attempt:    2,
			StartedAt:  started,
			FinishedAt: &finished,
			Success:    true,
		}))

		attempts, err := s.ListAttempts(ctx, "job-7")
		require.NoError(t, err)
		require.Len(t, attempts, 2)
		assert.Equal(t, 1, attempts[0].Attempt)
		assert.True(t, attempts[1].Success)
	})
}

func TestSecrets(t *testing.T) {
	ctx := context.Background()

	t.Run("missing secret", func(t *testing.T) {
		s := setupTestStore(t)

		_, err := s.GetSecretSince(ctx, "code", time.Now().Add(-time.Hour))
		assert.ErrorIs(t, err, models.ErrSecretNotFound)
	})

	t.Run("fresh secret returned", func(t *testing.T) {
		s := setupTestStore(t)

		now := time.Now()
		require.NoError(t, s.SetSecret(ctx, "code", "12345", now))

		secret, err := s.GetSecretSince(ctx, "code", now.Add(-time.Minute))
		require.NoError(t, err)
		assert.Equal(t, "12345", secret.Value)
	})

	t.Run("stale secret not returned", func(t *testing.T) {
		s := setupTestStore(t)

		require.NoError(t, s.SetSecret(ctx, "code", "12345", time.Now().Add(-20*time.Minute)))

		_, err := s.GetSecretSince(ctx, "code", time.Now().Add(-10*time.Minute))
		assert.ErrorIs(t, err, models.ErrSecretNotFound)
	})

	t.Run("set replaces value and timestamp", func(t *testing.T) {
		s := setupTestStore(t)

		require.NoError(t, s.SetSecret(ctx, "password", "old", time.Now().Add(-2*time.Hour)))
		require.NoError(t, s.SetSecret(ctx, "password", "new", time.Now()))

		secret, err := s.GetSecretSince(ctx, "password", time.Now().Add(-time.Minute))
		require.NoError(t, err)
		assert.Equal(t, "new", secret.Value)
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		s := setupTestStore(t)

		require.NoError(t, s.SetSecret(ctx, "code", "12345", time.Now()))
		require.NoError(t, s.DeleteSecret(ctx, "code"))
		require.NoError(t, s.DeleteSecret(ctx, "code"))

		_, err := s.GetSecretSince(ctx, "code", time.Now().Add(-time.Hour))
		assert.ErrorIs(t, err, models.ErrSecretNotFound)
	})
}

func TestWorkerStatus(t *testing.T) {
	ctx := context.Background()

	t.Run("unreported worker", func(t *testing.T) {
		s := setupTestStore(t)

		status, err := s.GetWorkerStatus(ctx)
		require.NoError(t, err)
		assert.Nil(t, status)
	})

	t.Run("set and overwrite heartbeat", func(t *testing.T) {
		s := setupTestStore(t)

		require.NoError(t, s.SetWorkerStatus(ctx, &models.WorkerStatus{
			Mode:        "real",
			Authorized:  true,
			LastProbeAt: time.Now(),
		}))
		require.NoError(t, s.SetWorkerStatus(ctx, &models.WorkerStatus{
			Mode:         "simulate",
			Authorized:   false,
			AuthFailures: 3,
			LastProbeAt:  time.Now(),
		}))

		status, err := s.GetWorkerStatus(ctx)
		require.NoError(t, err)
		require.NotNil(t, status)
		assert.Equal(t, "simulate", status.Mode)
		assert.Equal(t, 3, status.AuthFailures)
		assert.False(t, status.Authorized)
	})
}

func TestPurgeAndVacuum(t *testing.T) {
	ctx := context.Background()

	t.Run("purge empties tables and reports counts", func(t *testing.T) {
		s := setupTestStore(t)

		require.NoError(t, s.Record(ctx, "ee55", "key", 1, "", "uid"))
		require.NoError(t, s.UpsertJob(ctx, &models.Job{JobID: "job-p", State: models.JobStatePending}))
		require.NoError(t, s.RecordAttempt(ctx, &models.JobAttempt{JobID: "job-p", Attempt: 1, StartedAt: time.Now()}))
		require.NoError(t, s.SetSecret(ctx, "password", "keepme", time.Now()))

		counts, err := s.PurgeAll(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), counts.Files)
		assert.Equal(t, int64(1), counts.SourceIDs)
		assert.Equal(t, int64(1), counts.Jobs)
		assert.Equal(t, int64(1), counts.Attempts)

		res, err := s.CheckBySHA256(ctx, "ee55")
		require.NoError(t, err)
		assert.False(t, res.IsDuplicate)

		_, err = s.GetJob(ctx, "job-p")
		assert.True(t, errors.Is(err, models.ErrJobNotFound))

		secret, err := s.GetSecretSince(ctx, "password", time.Now().Add(-time.Hour))
		require.NoError(t, err)
		assert.Equal(t, "keepme", secret.Value)
	})

	t.Run("vacuum succeeds", func(t *testing.T) {
		s := setupTestStore(t)
		require.NoError(t, s.Vacuum(ctx))
	})
}
