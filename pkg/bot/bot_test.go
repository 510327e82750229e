package bot

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v3"

	"github.com/telarch/telarch/pkg/ingest"
	"github.com/telarch/telarch/pkg/queue"
	"github.com/telarch/telarch/pkg/quota"
	"github.com/telarch/telarch/pkg/store"
	"github.com/telarch/telarch/pkg/store/models"
)

type fakeArchiver struct {
	err     error
	batches [][]*ingest.Message
}

func (f *fakeArchiver) ProcessBatch(ctx context.Context, batch []*ingest.Message) (*ingest.BatchResult, error) {
	f.batches = append(f.batches, batch)
	if f.err != nil {
		return nil, f.err
	}
	res := &ingest.BatchResult{BasePath: "teltubby/2024/01/chan/42/"}
	for i, m := range batch {
		res.Outcomes = append(res.Outcomes, ingest.Outcome{
			Ordinal:   i + 1,
			S3Key:     fmt.Sprintf("%sfile_%03d.jpg", res.BasePath, i+1),
			SizeBytes: m.Media.DeclaredSize,
		})
		res.TotalBytes += m.Media.DeclaredSize
	}
	return res, nil
}

type fakeQueue struct {
	published []*queue.JobMessage
	prios     []uint8
	depth     int
	purged    int
	pubErr    error
}

func (f *fakeQueue) Publish(msg *queue.JobMessage, priority uint8) error {
	if f.pubErr != nil {
		return f.pubErr
	}
	f.published = append(f.published, msg)
	f.prios = append(f.prios, priority)
	f.depth++
	return nil
}

func (f *fakeQueue) Depth() (int, error) { return f.depth, nil }

func (f *fakeQueue) Purge() (int, error) {
	f.purged = f.depth
	f.depth = 0
	return f.purged, nil
}

type fakeBucket struct {
	removed int64
}

func (f *fakeBucket) PurgeBucket(ctx context.Context, prefix string) (int64, error) {
	return f.removed, nil
}

type fixedSizer struct {
	used int64
}

func (f *fixedSizer) TotalSize(ctx context.Context, prefix string) (int64, error) {
	return f.used, nil
}

func newTestService(t *testing.T) (*Service, *fakeArchiver, *fakeQueue) {
	t.Helper()
	st, err := store.New(&store.Config{
		Type:   store.DatabaseTypeSQLite,
		SQLite: store.SQLiteConfig{Path: ":memory:"},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	cfg := Config{Whitelist: []int64{1}}
	cfg.applyDefaults()

	fa := &fakeArchiver{}
	fq := &fakeQueue{}
	s := &Service{
		cfg:       cfg,
		store:     st,
		archiver:  fa,
		agg:       ingest.NewAggregator(cfg.AlbumWindow),
		jobs:      fq,
		bucket:    &fakeBucket{removed: 7},
		startedAt: time.Now(),
		now:       time.Now,
	}
	return s, fa, fq
}

func photoMsg(id int64, size int64) *ingest.Message {
	return &ingest.Message{
		MessageID:    id,
		ChatID:       10,
		ChatUsername: "chan",
		SenderID:     1,
		SenderName:   "alice",
		Timestamp:    time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		Media: &ingest.Media{
			Type:         ingest.MediaPhoto,
			FileID:       fmt.Sprintf("F%d", id),
			FileUniqueID: fmt.Sprintf("U%d", id),
			DeclaredSize: size,
		},
	}
}

func TestIngest(t *testing.T) {
	ctx := context.Background()

	t.Run("singleton archives immediately", func(t *testing.T) {
		s, fa, _ := newTestService(t)
		reply, err := s.Ingest(ctx, photoMsg(42, 1024))
		require.NoError(t, err)
		assert.Contains(t, reply, "Archived 1 file(s)")
		assert.Len(t, fa.batches, 1)
	})

	t.Run("no media", func(t *testing.T) {
		s, fa, _ := newTestService(t)
		reply, err := s.Ingest(ctx, &ingest.Message{MessageID: 1, ChatID: 10})
		require.NoError(t, err)
		assert.Contains(t, reply, "Nothing to archive")
		assert.Empty(t, fa.batches)
	})

	t.Run("album member is buffered", func(t *testing.T) {
		s, fa, _ := newTestService(t)
		m1 := photoMsg(42, 100)
		m1.MediaGroupID = "g1"
		m2 := photoMsg(43, 200)
		m2.MediaGroupID = "g1"

		reply, err := s.Ingest(ctx, m1)
		require.NoError(t, err)
		assert.Empty(t, reply)

		reply, err = s.Ingest(ctx, m2)
		require.NoError(t, err)
		assert.Empty(t, reply)

		assert.Empty(t, fa.batches)
		assert.Equal(t, 1, s.agg.Pending())
	})

	t.Run("oversized media becomes a job", func(t *testing.T) {
		s, fa, fq := newTestService(t)
		reply, err := s.Ingest(ctx, photoMsg(42, 100<<20))
		require.NoError(t, err)
		assert.Contains(t, reply, "Queued for the worker as job")
		assert.Empty(t, fa.batches)

		require.Len(t, fq.published, 1)
		job := fq.published[0]
		assert.Equal(t, int64(42), job.MessageID)
		assert.Equal(t, queue.DefaultPriority, fq.prios[0])

		row, err := s.store.GetJob(ctx, job.JobID)
		require.NoError(t, err)
		assert.Equal(t, models.JobStatePending, row.State)
		assert.NotEmpty(t, row.PayloadJSON)
	})

	t.Run("publish failure marks the row failed", func(t *testing.T) {
		s, _, fq := newTestService(t)
		fq.pubErr = fmt.Errorf("broker down")
		_, err := s.Ingest(ctx, photoMsg(42, 100<<20))
		require.Error(t, err)

		jobs, err := s.store.ListJobs(ctx, 1)
		require.NoError(t, err)
		require.Len(t, jobs, 1)
		assert.Equal(t, models.JobStateFailed, jobs[0].State)
	})

	t.Run("full quota pauses ingestion", func(t *testing.T) {
		s, fa, _ := newTestService(t)
		s.quota = quota.New(&fixedSizer{used: 100}, quota.Config{MaxBytes: 100}, nil)

		reply, err := s.Ingest(ctx, photoMsg(42, 1024))
		require.NoError(t, err)
		assert.Contains(t, reply, "paused")
		assert.Empty(t, fa.batches)
		assert.True(t, s.paused.Load())
	})
}

func TestCommands(t *testing.T) {
	ctx := context.Background()

	t.Run("mtcode and mtpass store secrets", func(t *testing.T) {
		s, _, _ := newTestService(t)
		reply, err := s.cmdMTCode(ctx, "12345")
		require.NoError(t, err)
		assert.Contains(t, reply, "code received")

		_, err = s.cmdMTPass(ctx, "hunter2")
		require.NoError(t, err)

		since := time.Now().Add(-time.Minute)
		code, err := s.store.GetSecretSince(ctx, "code", since)
		require.NoError(t, err)
		assert.Equal(t, "12345", code.Value)
		pass, err := s.store.GetSecretSince(ctx, "password", since)
		require.NoError(t, err)
		assert.Equal(t, "hunter2", pass.Value)
	})

	t.Run("mtcode without argument", func(t *testing.T) {
		s, _, _ := newTestService(t)
		reply, err := s.cmdMTCode(ctx, "")
		require.NoError(t, err)
		assert.Contains(t, reply, "Usage")
	})

	t.Run("retry republishes the stored payload", func(t *testing.T) {
		s, _, fq := newTestService(t)
		job := buildJob(photoMsg(42, 100<<20), 3, time.Now().UTC())
		payload, err := job.Marshal()
		require.NoError(t, err)
		require.NoError(t, s.store.UpsertJob(ctx, &models.Job{
			JobID:       job.JobID,
			UserID:      1,
			ChatID:      10,
			MessageID:   42,
			State:       models.JobStateFailed,
			Priority:    4,
			LastError:   "download failed",
			PayloadJSON: string(payload),
		}))

		reply, err := s.cmdRetry(ctx, job.JobID)
		require.NoError(t, err)
		assert.Contains(t, reply, "requeued")

		require.Len(t, fq.published, 1)
		assert.Equal(t, 1, fq.published[0].JobMetadata.RetryCount)

		row, err := s.store.GetJob(ctx, job.JobID)
		require.NoError(t, err)
		assert.Equal(t, models.JobStatePending, row.State)
	})

	t.Run("retry refuses non-retryable jobs", func(t *testing.T) {
		s, _, _ := newTestService(t)
		require.NoError(t, s.store.UpsertJob(ctx, &models.Job{
			JobID: "00000000-0000-4000-8000-000000000001",
			State: models.JobStateCompleted,
		}))
		_, err := s.cmdRetry(ctx, "00000000-0000-4000-8000-000000000001")
		require.Error(t, err)
	})

	t.Run("cancel", func(t *testing.T) {
		s, _, _ := newTestService(t)
		require.NoError(t, s.store.UpsertJob(ctx, &models.Job{
			JobID: "00000000-0000-4000-8000-000000000002",
			State: models.JobStatePending,
		}))
		reply, err := s.cmdCancel(ctx, "00000000-0000-4000-8000-000000000002")
		require.NoError(t, err)
		assert.Contains(t, reply, "cancelled")

		reply, err = s.cmdCancel(ctx, "00000000-0000-4000-8000-000000000002")
		require.NoError(t, err)
		assert.Contains(t, reply, "already cancelled")
	})

	t.Run("purge requires confirmation", func(t *testing.T) {
		s, _, fq := newTestService(t)
		fq.depth = 3
		require.NoError(t, s.store.Record(ctx, "aa", "k1", 10, "image/jpeg", "U1"))

		reply, err := s.cmdPurge(ctx, "")
		require.NoError(t, err)
		assert.Contains(t, reply, "/purge confirm")
		assert.Zero(t, fq.purged)

		reply, err = s.cmdPurge(ctx, "confirm")
		require.NoError(t, err)
		assert.Contains(t, reply, "3 queued job(s)")
		assert.Contains(t, reply, "1 file record(s)")
		assert.Contains(t, reply, "7 object(s)")
	})

	t.Run("mtstatus without a worker", func(t *testing.T) {
		s, _, _ := newTestService(t)
		reply, err := s.cmdMTStatus(ctx, "")
		require.NoError(t, err)
		assert.Contains(t, reply, "No worker has reported")
	})

	t.Run("mtstatus with a worker row", func(t *testing.T) {
		s, _, _ := newTestService(t)
		require.NoError(t, s.store.SetWorkerStatus(ctx, &models.WorkerStatus{
			Mode:       "simulate",
			Authorized: false,
		}))
		reply, err := s.cmdMTStatus(ctx, "")
		require.NoError(t, err)
		assert.Contains(t, reply, "simulate")
		assert.Contains(t, reply, "not authorized")
	})

	t.Run("status summarizes jobs", func(t *testing.T) {
		s, _, fq := newTestService(t)
		fq.depth = 2
		require.NoError(t, s.store.UpsertJob(ctx, &models.Job{
			JobID: "00000000-0000-4000-8000-000000000003",
			State: models.JobStateFailed,
		}))
		reply, err := s.cmdStatus(ctx, "")
		require.NoError(t, err)
		assert.Contains(t, reply, "failed 1")
		assert.Contains(t, reply, "Queue depth: 2")
	})
}

func TestFormatAck(t *testing.T) {
	t.Run("mixed outcomes", func(t *testing.T) {
		text := formatAck(&ingest.BatchResult{
			BasePath:   "teltubby/2024/01/chan/42/",
			TotalBytes: 2048,
			Outcomes: []ingest.Outcome{
				{S3Key: "a", SizeBytes: 2048},
				{IsDuplicate: true},
				{SkippedReason: ingest.SkipDownloadFailed},
			},
		})
		assert.Contains(t, text, "Archived 1 file(s)")
		assert.Contains(t, text, "Duplicates skipped: 1")
		assert.Contains(t, text, "download_failed(1)")
		assert.Contains(t, text, "teltubby/2024/01/chan/42/")
	})

	t.Run("all duplicates", func(t *testing.T) {
		text := formatAck(&ingest.BatchResult{
			Outcomes: []ingest.Outcome{{IsDuplicate: true}, {IsDuplicate: true}},
		})
		assert.Contains(t, text, "Already archived")
	})
}

func TestFromTelebot(t *testing.T) {
	t.Run("forwarded photo", func(t *testing.T) {
		m := &tele.Message{
			ID:       42,
			Unixtime: 1704164645,
			AlbumID:  "g1",
			Caption:  "sunset",
			Chat:     &tele.Chat{ID: 10, Type: tele.ChatPrivate, Username: "alice_dm"},
			Sender:   &tele.User{ID: 1, Username: "alice"},
			Photo: &tele.Photo{
				File:   tele.File{FileID: "F1", UniqueID: "U1", FileSize: 1234},
				Width:  800,
				Height: 600,
			},
			OriginalChat:     &tele.Chat{ID: -100123, Title: "Chan A", Username: "chana"},
			OriginalUnixtime: 1700000000,
		}

		msg := fromTelebot(m)
		assert.Equal(t, int64(42), msg.MessageID)
		assert.Equal(t, "g1", msg.MediaGroupID)
		assert.Equal(t, "sunset", msg.Caption)
		assert.Equal(t, "alice", msg.SenderName)
		require.NotNil(t, msg.Media)
		assert.Equal(t, ingest.MediaPhoto, msg.Media.Type)
		assert.Equal(t, int64(1234), msg.Media.DeclaredSize)
		assert.Equal(t, 800, msg.Media.Width)
		require.NotNil(t, msg.ForwardOrigin)
		assert.Equal(t, "chana", msg.ForwardOrigin.Username)
		assert.Equal(t, "chana", msg.OriginName())
	})

	t.Run("document keeps its filename", func(t *testing.T) {
		m := &tele.Message{
			ID:   7,
			Chat: &tele.Chat{ID: 10},
			Document: &tele.Document{
				File:     tele.File{FileID: "F2", UniqueID: "U2", FileSize: 99},
				FileName: "report.pdf",
				MIME:     "application/pdf",
			},
		}
		msg := fromTelebot(m)
		require.NotNil(t, msg.Media)
		assert.Equal(t, ingest.MediaDocument, msg.Media.Type)
		assert.Equal(t, "report.pdf", msg.Media.OriginalName)
		assert.Equal(t, "application/pdf", msg.Media.MIME)
	})

	t.Run("video sticker is animated", func(t *testing.T) {
		m := &tele.Message{
			ID:   8,
			Chat: &tele.Chat{ID: 10},
			Sticker: &tele.Sticker{
				File:  tele.File{FileID: "F3", UniqueID: "U3"},
				Video: true,
			},
		}
		msg := fromTelebot(m)
		require.NotNil(t, msg.Media)
		assert.True(t, msg.Media.Animated)
	})

	t.Run("text only", func(t *testing.T) {
		m := &tele.Message{ID: 9, Chat: &tele.Chat{ID: 10}, Text: "hello"}
		assert.Nil(t, fromTelebot(m).Media)
	})
}

func TestAllowed(t *testing.T) {
	s, _, _ := newTestService(t)
	assert.True(t, s.allowed(&tele.User{ID: 1}))
	assert.False(t, s.allowed(&tele.User{ID: 2}))
	assert.False(t, s.allowed(nil))
}
