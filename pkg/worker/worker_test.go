package worker

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telarch/telarch/pkg/mtproto"
	"github.com/telarch/telarch/pkg/queue"
	"github.com/telarch/telarch/pkg/store"
	"github.com/telarch/telarch/pkg/store/models"
)

type fakeSession struct {
	startErr     error
	healthyErr   error
	authorizeErr error
	content      []byte
	meta         mtproto.FileMeta
	downloadErr  error

	healthyCalls   int
	authorizeCalls int
}

func (f *fakeSession) Start(ctx context.Context) error { return f.startErr }
func (f *fakeSession) Stop() error                     { return nil }

func (f *fakeSession) Healthy(ctx context.Context) error {
	f.healthyCalls++
	return f.healthyErr
}

func (f *fakeSession) Authorize(ctx context.Context) error {
	f.authorizeCalls++
	return f.authorizeErr
}

func (f *fakeSession) Download(ctx context.Context, chatID, messageID int64, w io.Writer, progress func(int64)) (*mtproto.FileMeta, error) {
	if f.downloadErr != nil {
		return nil, f.downloadErr
	}
	if _, err := w.Write(f.content); err != nil {
		return nil, err
	}
	return &f.meta, nil
}

type fakeObjectStore struct {
	objects   map[string][]byte
	uploadErr error
}

func newFakeObjectStore() *fakeObjectStore {
	return &fakeObjectStore{objects: map[string][]byte{}}
}

func (f *fakeObjectStore) EnsureBucket(ctx context.Context) error { return nil }

func (f *fakeObjectStore) Upload(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	if f.uploadErr != nil {
		return f.uploadErr
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	f.objects[key] = data
	return nil
}

type fakeNotifier struct {
	chat   []string
	admins []string
}

func (f *fakeNotifier) NotifyChat(ctx context.Context, chatID int64, text string) error {
	f.chat = append(f.chat, text)
	return nil
}

func (f *fakeNotifier) NotifyAdmins(ctx context.Context, text string) error {
	f.admins = append(f.admins, text)
	return nil
}

type fakeAcker struct {
	acked bool
}

func (f *fakeAcker) Ack(tag uint64, multiple bool) error           { return nil }
func (f *fakeAcker) Nack(tag uint64, multiple, requeue bool) error { return nil }
func (f *fakeAcker) Reject(tag uint64, requeue bool) error         { return nil }

func testStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(&store.Config{
		Type:   store.DatabaseTypeSQLite,
		SQLite: store.SQLiteConfig{Path: ":memory:"},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testJob() *queue.JobMessage {
	return &queue.JobMessage{
		JobID:     queue.NewJobID(),
		UserID:    100,
		ChatID:    200,
		MessageID: 42,
		FileInfo:  fileInfoFixture("big.mp4"),
		JobMetadata: queue.JobMetadata{
			CreatedAt:  time.Now().UTC(),
			Priority:   queue.DefaultPriority,
			MaxRetries: 3,
		},
	}
}

func fileInfoFixture(name string) queue.FileInfo {
	return queue.FileInfo{
		FileID:       "F1",
		FileUniqueID: "U1",
		FileSize:     120 << 20,
		FileType:     "video",
		FileName:     name,
	}
}

func delivery(t *testing.T, msg *queue.JobMessage) amqp.Delivery {
	t.Helper()
	body, err := msg.Marshal()
	require.NoError(t, err)
	return amqp.Delivery{Acknowledger: &fakeAcker{}, Body: body}
}

func newTestWorker(t *testing.T, session Session, obj ObjectStore, notifier Notifier) *Worker {
	w := New(Config{Concurrency: 2, TempDir: t.TempDir()}, queue.Config{}, testStore(t), obj, session, notifier, nil)
	return w
}

func TestHandleDeliverySuccess(t *testing.T) {
	ctx := context.Background()

	session := &fakeSession{
		content: []byte("videobytes"),
		meta:    mtproto.FileMeta{Name: "big.mp4", SizeBytes: 10, MIMEType: "video/mp4"},
	}
	obj := newFakeObjectStore()
	notifier := &fakeNotifier{}
	w := newTestWorker(t, session, obj, notifier)

	msg := testJob()
	w.handleDelivery(ctx, delivery(t, msg))

	job, err := w.store.GetJob(ctx, msg.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStateCompleted, job.State)

	require.Len(t, obj.objects, 1)
	for key := range obj.objects {
		assert.Contains(t, key, "/mtproto/42/")
		assert.Contains(t, key, "big.mp4")
	}

	attempts, err := w.store.ListAttempts(ctx, msg.JobID)
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.True(t, attempts[0].Success)
	require.NotEmpty(t, notifier.chat)
	assert.Contains(t, notifier.chat[0], "Archived")
}

func TestHandleDeliveryDownloadFailure(t *testing.T) {
	ctx := context.Background()

	session := &fakeSession{downloadErr: fmt.Errorf("FILE_REFERENCE_EXPIRED")}
	obj := newFakeObjectStore()
	notifier := &fakeNotifier{}
	w := newTestWorker(t, session, obj, notifier)

	msg := testJob()
	w.handleDelivery(ctx, delivery(t, msg))

	job, err := w.store.GetJob(ctx, msg.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStateFailed, job.State)
	assert.Contains(t, job.LastError, "FILE_REFERENCE_EXPIRED")
	assert.Empty(t, obj.objects)
	require.NotEmpty(t, notifier.chat)
	assert.Contains(t, notifier.chat[0], "/retry")
}

func TestHandleDeliverySizeMismatch(t *testing.T) {
	ctx := context.Background()

	session := &fakeSession{
		content: []byte("short"),
		meta:    mtproto.FileMeta{SizeBytes: 999},
	}
	w := newTestWorker(t, session, newFakeObjectStore(), nil)

	msg := testJob()
	w.handleDelivery(ctx, delivery(t, msg))

	job, err := w.store.GetJob(ctx, msg.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStateFailed, job.State)
	assert.Contains(t, job.LastError, "size mismatch")
}

func TestHandleDeliverySimulateMode(t *testing.T) {
	ctx := context.Background()

	obj := newFakeObjectStore()
	w := newTestWorker(t, nil, obj, nil)
	w.startSession(ctx)
	require.True(t, w.Simulating())

	msg := testJob()
	w.handleDelivery(ctx, delivery(t, msg))

	job, err := w.store.GetJob(ctx, msg.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStateCompleted, job.State)
	require.Len(t, obj.objects, 1)
	for _, data := range obj.objects {
		assert.Contains(t, string(data), "\"simulated\":true")
	}
}

func TestHandleDeliveryDuplicateCompleted(t *testing.T) {
	ctx := context.Background()

	session := &fakeSession{content: []byte("x"), meta: mtproto.FileMeta{}}
	obj := newFakeObjectStore()
	w := newTestWorker(t, session, obj, nil)

	msg := testJob()
	require.NoError(t, w.store.UpsertJob(ctx, &models.Job{
		JobID: msg.JobID,
		State: models.JobStateCompleted,
	}))

	w.handleDelivery(ctx, delivery(t, msg))
	assert.Empty(t, obj.objects)

	job, err := w.store.GetJob(ctx, msg.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStateCompleted, job.State)
}

func TestHandleDeliveryMalformed(t *testing.T) {
	w := newTestWorker(t, &fakeSession{}, newFakeObjectStore(), nil)
	w.handleDelivery(context.Background(), amqp.Delivery{Acknowledger: &fakeAcker{}, Body: []byte("{")})
}

func TestSafeName(t *testing.T) {
	assert.Equal(t, "holiday-video.mp4", safeName("Holiday Video.MP4"))
	assert.Equal(t, "file.bin", safeName("...bin"))
	assert.Equal(t, "report", safeName("report"))
}

func TestMonitorRecovery(t *testing.T) {
	ctx := context.Background()

	t.Run("successful recovery resets failures and notifies", func(t *testing.T) {
		session := &fakeSession{healthyErr: fmt.Errorf("AUTH_KEY_UNREGISTERED")}
		notifier := &fakeNotifier{}
		st := testStore(t)

		m := NewMonitor(session, st, notifier, MonitorConfig{MaxFailures: 3}, nil)
		m.TriggerRecovery(ctx)

		assert.Equal(t, 1, session.authorizeCalls)
		assert.Zero(t, m.Failures())
		require.Len(t, notifier.admins, 2)
		assert.Contains(t, notifier.admins[0], "/mtcode")
		assert.Contains(t, notifier.admins[1], "restored")
	})

	t.Run("repeated failure gives up", func(t *testing.T) {
		session := &fakeSession{
			healthyErr:   fmt.Errorf("dead"),
			authorizeErr: fmt.Errorf("code timeout"),
		}
		notifier := &fakeNotifier{}
		st := testStore(t)

		var gaveUp bool
		m := NewMonitor(session, st, notifier, MonitorConfig{MaxFailures: 2}, func(ctx context.Context, reason string) {
			gaveUp = true
		})

		m.TriggerRecovery(ctx)
		assert.False(t, gaveUp)
		assert.Equal(t, 1, m.Failures())

		m.TriggerRecovery(ctx)
		assert.True(t, gaveUp)
		assert.Equal(t, 2, m.Failures())
	})
}
