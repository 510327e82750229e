// Package worker consumes large-file jobs from the broker, acquires content
// over the MTProto session, and uploads it to the archive bucket.
package worker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/streadway/amqp"

	"github.com/telarch/telarch/internal/logger"
	"github.com/telarch/telarch/pkg/metrics"
	"github.com/telarch/telarch/pkg/mtproto"
	"github.com/telarch/telarch/pkg/naming"
	"github.com/telarch/telarch/pkg/queue"
	"github.com/telarch/telarch/pkg/store"
	"github.com/telarch/telarch/pkg/store/models"
)

// Session is the alternate transport the worker acquires through.
// *mtproto.Client satisfies it.
type Session interface {
	Start(ctx context.Context) error
	Stop() error
	Healthy(ctx context.Context) error
	Authorize(ctx context.Context) error
	Download(ctx context.Context, chatID, messageID int64, w io.Writer, progress func(written int64)) (*mtproto.FileMeta, error)
}

// ObjectStore is the slice of the blob client the worker needs.
type ObjectStore interface {
	EnsureBucket(ctx context.Context) error
	Upload(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
}

// Notifier delivers worker messages back through the chat platform.
type Notifier interface {
	NotifyChat(ctx context.Context, chatID int64, text string) error
	NotifyAdmins(ctx context.Context, text string) error
}

// Config tunes the worker.
type Config struct {
	// Concurrency bounds in-flight jobs and sets broker prefetch.
	// Clamped to 1..32.
	Concurrency int

	// IOTimeout bounds one acquisition. Default 30 minutes.
	IOTimeout time.Duration

	// MaxRetries is stamped into job metadata for operator reference.
	MaxRetries int

	// HealthInterval is the session probe cadence. Default 5 minutes.
	HealthInterval time.Duration

	// MaxAuthFailures flips the worker to simulate mode. Default 3.
	MaxAuthFailures int

	// TempDir holds in-flight downloads.
	TempDir string
}

func (c *Config) applyDefaults() {
	if c.Concurrency < 1 {
		c.Concurrency = 1
	}
	if c.Concurrency > 32 {
		c.Concurrency = 32
	}
	if c.IOTimeout <= 0 {
		c.IOTimeout = 30 * time.Minute
	}
	if c.HealthInterval <= 0 {
		c.HealthInterval = 5 * time.Minute
	}
	if c.MaxAuthFailures <= 0 {
		c.MaxAuthFailures = 3
	}
}

// Worker consumes Q_jobs.
type Worker struct {
	cfg      Config
	queueCfg queue.Config
	store    *store.Store
	obj      ObjectStore
	session  Session
	notifier Notifier
	metrics  *metrics.JobMetrics

	simulate atomic.Bool
	monitor  *Monitor
}

// New builds a Worker. session may be nil to force simulate mode; metrics
// and notifier may be nil.
func New(cfg Config, queueCfg queue.Config, st *store.Store, obj ObjectStore, session Session, notifier Notifier, m *metrics.JobMetrics) *Worker {
	cfg.applyDefaults()
	queueCfg.ApplyDefaults()
	w := &Worker{
		cfg:      cfg,
		queueCfg: queueCfg,
		store:    st,
		obj:      obj,
		session:  session,
		notifier: notifier,
		metrics:  m,
	}
	return w
}

// Simulating reports whether the worker completes jobs without real content.
func (w *Worker) Simulating() bool {
	return w.simulate.Load()
}

// Run starts the worker and blocks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context, conn queue.AMQPConnection) error {
	if err := w.obj.EnsureBucket(ctx); err != nil {
		return fmt.Errorf("failed to ensure bucket: %w", err)
	}

	w.startSession(ctx)
	w.reportStatus(ctx, time.Time{})

	if !w.simulate.Load() {
		w.monitor = NewMonitor(w.session, w.store, w.notifier, MonitorConfig{
			Interval:    w.cfg.HealthInterval,
			MaxFailures: w.cfg.MaxAuthFailures,
		}, w.enterSimulate)
		go w.monitor.Run(ctx)
	}

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}
	defer ch.Close()

	if err := ch.Qos(w.cfg.Concurrency, 0, false); err != nil {
		return fmt.Errorf("failed to set prefetch: %w", err)
	}
	if err := queue.DeclareTopology(ch, &w.queueCfg); err != nil {
		return err
	}

	deliveries, err := ch.Consume(w.queueCfg.Queue, "telarch-worker", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to consume: %w", err)
	}

	logger.Info("Worker consuming",
		"queue", w.queueCfg.Queue,
		"concurrency", w.cfg.Concurrency,
		"simulate", w.simulate.Load())

	var wg sync.WaitGroup
	sem := make(chan struct{}, w.cfg.Concurrency)

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				wg.Wait()
				return fmt.Errorf("delivery channel closed")
			}
			sem <- struct{}{}
			wg.Add(1)
			go func(d amqp.Delivery) {
				defer wg.Done()
				defer func() { <-sem }()
				w.handleDelivery(ctx, d)
			}(d)
		}
	}
}

// startSession brings the MTProto session up, falling back to simulate mode
// when credentials are absent or startup fails.
func (w *Worker) startSession(ctx context.Context) {
	if w.session == nil {
		logger.Warn("No MTProto session configured, entering simulate mode")
		w.simulate.Store(true)
		return
	}
	if err := w.session.Start(ctx); err != nil {
		logger.Warn("MTProto session startup failed, entering simulate mode", "error", err)
		w.simulate.Store(true)
		return
	}
}

func (w *Worker) enterSimulate(ctx context.Context, reason string) {
	if w.simulate.Swap(true) {
		return
	}
	logger.Error("Worker entering simulate mode", "reason", reason)
	w.reportStatus(ctx, time.Now())
	if w.notifier != nil {
		_ = w.notifier.NotifyAdmins(ctx, "CRITICAL: worker switched to simulate mode: "+reason)
	}
}

func (w *Worker) reportStatus(ctx context.Context, probedAt time.Time) {
	mode := "real"
	if w.simulate.Load() {
		mode = "simulate"
	}
	failures := 0
	if w.monitor != nil {
		failures = w.monitor.Failures()
	}
	err := w.store.SetWorkerStatus(ctx, &models.WorkerStatus{
		Mode:         mode,
		Authorized:   !w.simulate.Load(),
		AuthFailures: failures,
		LastProbeAt:  probedAt,
	})
	if err != nil {
		logger.Warn("Failed to write worker status", "error", err)
	}
}

// handleDelivery processes one job message. Failures never requeue: the job
// row records the error and the delivery is acknowledged and dropped.
func (w *Worker) handleDelivery(ctx context.Context, d amqp.Delivery) {
	defer func() {
		if err := d.Ack(false); err != nil {
			logger.Error("Failed to ack delivery", "error", err)
		}
	}()

	msg, err := queue.ParseJobMessage(d.Body)
	if err != nil {
		logger.Error("Dropping malformed job message", "error", err)
		return
	}

	job, err := w.store.GetJob(ctx, msg.JobID)
	if err != nil {
		// Row lost or never persisted; recreate from the payload.
		payload, _ := msg.Marshal()
		job = &models.Job{
			JobID:       msg.JobID,
			UserID:      msg.UserID,
			ChatID:      msg.ChatID,
			MessageID:   msg.MessageID,
			State:       models.JobStatePending,
			Priority:    int(msg.JobMetadata.Priority),
			PayloadJSON: string(payload),
		}
		if err := w.store.UpsertJob(ctx, job); err != nil {
			logger.Error("Failed to restore job row", "job_id", msg.JobID, "error", err)
			return
		}
	}
	if job.State == models.JobStateCompleted {
		logger.Info("Skipping duplicate delivery of completed job", "job_id", msg.JobID)
		return
	}

	started := time.Now()
	if err := w.store.UpdateJobState(ctx, msg.JobID, models.JobStateProcessing, "", started); err != nil {
		logger.Error("Failed to transition job", "job_id", msg.JobID, "error", err)
		return
	}

	key, uploaded, err := w.processJob(ctx, msg)
	finished := time.Now()
	attempt := &models.JobAttempt{
		JobID:      msg.JobID,
		Attempt:    msg.JobMetadata.RetryCount + 1,
		StartedAt:  started,
		FinishedAt: &finished,
	}

	if err != nil {
		attempt.Error = err.Error()
		_ = w.store.RecordAttempt(ctx, attempt)
		if serr := w.store.UpdateJobState(ctx, msg.JobID, models.JobStateFailed, err.Error(), finished); serr != nil {
			logger.Error("Failed to record job failure", "job_id", msg.JobID, "error", serr)
		}
		w.metrics.RecordFailed()
		logger.Error("Job failed", "job_id", msg.JobID, "error", err)
		w.notifyChat(ctx, msg.ChatID, fmt.Sprintf("Large file job %s failed: %v. Use /retry %s to try again.", msg.JobID, err, msg.JobID))
		return
	}

	attempt.Success = true
	_ = w.store.RecordAttempt(ctx, attempt)
	if serr := w.store.UpdateJobState(ctx, msg.JobID, models.JobStateCompleted, "", finished); serr != nil {
		logger.Error("Failed to record job completion", "job_id", msg.JobID, "error", serr)
	}
	w.metrics.RecordCompleted()
	logger.Info("Job completed", "job_id", msg.JobID, "key", key, "bytes", uploaded, "took", finished.Sub(started))
	w.notifyChat(ctx, msg.ChatID, fmt.Sprintf("Archived large file (%d bytes) to %s", uploaded, key))
}

// processJob acquires and uploads one job's content, returning the object
// key and byte count.
func (w *Worker) processJob(ctx context.Context, msg *queue.JobMessage) (string, int64, error) {
	key := w.buildKey(msg, time.Now())

	if w.simulate.Load() {
		return w.simulateJob(ctx, msg, key)
	}

	if err := w.session.Healthy(ctx); err != nil {
		logger.Warn("Session unhealthy before job, attempting recovery", "job_id", msg.JobID, "error", err)
		if w.monitor != nil {
			w.monitor.TriggerRecovery(ctx)
		}
		if err := w.session.Healthy(ctx); err != nil {
			return "", 0, fmt.Errorf("session unavailable: %w", err)
		}
	}

	acquireCtx, cancel := context.WithTimeout(ctx, w.cfg.IOTimeout)
	defer cancel()

	tmp, err := os.CreateTemp(w.cfg.TempDir, "telarch_job_*")
	if err != nil {
		return "", 0, fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	meta, err := w.session.Download(acquireCtx, msg.ChatID, msg.MessageID, tmp, func(written int64) {
		logger.Debug("Download progress", "job_id", msg.JobID, "bytes", written)
	})
	if err != nil {
		return "", 0, fmt.Errorf("download failed: %w", err)
	}

	stat, err := tmp.Stat()
	if err != nil {
		return "", 0, err
	}
	size := stat.Size()
	if size == 0 {
		return "", 0, fmt.Errorf("downloaded zero bytes")
	}
	if meta.SizeBytes > 0 && size != meta.SizeBytes {
		return "", 0, fmt.Errorf("size mismatch: disk %d, reported %d", size, meta.SizeBytes)
	}

	if meta.Name != "" {
		key = w.keyPrefix(msg, time.Now()) + safeName(meta.Name)
	}

	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return "", 0, err
	}
	if err := w.obj.Upload(ctx, key, tmp, size, meta.MIMEType); err != nil {
		return "", 0, fmt.Errorf("upload failed: %w", err)
	}
	return key, size, nil
}

// simulateJob completes a job with a placeholder object.
func (w *Worker) simulateJob(ctx context.Context, msg *queue.JobMessage, key string) (string, int64, error) {
	body := []byte(fmt.Sprintf("{\"simulated\":true,\"job_id\":%q}", msg.JobID))
	if err := w.obj.Upload(ctx, key, bytes.NewReader(body), int64(len(body)), "application/json"); err != nil {
		return "", 0, fmt.Errorf("placeholder upload failed: %w", err)
	}
	logger.Info("Simulated job completion", "job_id", msg.JobID)
	return key, int64(len(body)), nil
}

func (w *Worker) keyPrefix(msg *queue.JobMessage, now time.Time) string {
	u := now.UTC()
	return fmt.Sprintf("teltubby/%04d/%02d/mtproto/%d/", u.Year(), int(u.Month()), msg.MessageID)
}

// buildKey names the object after the declared filename, falling back to the
// platform unique id.
func (w *Worker) buildKey(msg *queue.JobMessage, now time.Time) string {
	name := msg.FileInfo.FileName
	if name == "" {
		name = msg.FileInfo.FileUniqueID + ".bin"
	}
	return w.keyPrefix(msg, now) + safeName(name)
}

// safeName slugs a declared filename while preserving its extension.
func safeName(name string) string {
	ext := path.Ext(name)
	base := naming.Slug(strings.TrimSuffix(name, ext))
	if base == "" {
		base = "file"
	}
	if ext != "" {
		ext = "." + naming.Slug(ext[1:])
	}
	return base + ext
}

func (w *Worker) notifyChat(ctx context.Context, chatID int64, text string) {
	if w.notifier == nil {
		return
	}
	if err := w.notifier.NotifyChat(ctx, chatID, text); err != nil {
		logger.Warn("Failed to notify chat", "chat_id", strconv.FormatInt(chatID, 10), "error", err)
	}
}
