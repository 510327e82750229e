package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/telarch/telarch/internal/logger"
	"github.com/telarch/telarch/pkg/queue"
	"github.com/telarch/telarch/pkg/quota"
	"github.com/telarch/telarch/pkg/store/models"
)

func (s *Service) cmdStart(ctx context.Context, arg string) (string, error) {
	return "teltubby archiver ready. Send or forward media here and it lands in the bucket. /help lists commands.", nil
}

func (s *Service) cmdHelp(ctx context.Context, arg string) (string, error) {
	return strings.Join([]string{
		"/status - service health and job counts",
		"/quota - bucket usage against the budget",
		"/mode - update delivery and worker mode",
		"/queue - large-file queue depth",
		"/jobs [id] - recent jobs, or one job in detail",
		"/retry <id> - requeue a failed job",
		"/cancel <id> - cancel a pending job",
		"/mtcode <code> - submit a login verification code",
		"/mtpass <password> - submit the 2FA password",
		"/mtstatus - worker session state",
		"/db_maint - compact the database",
		"/purge confirm - delete everything archived",
	}, "\n"), nil
}

func (s *Service) cmdStatus(ctx context.Context, arg string) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Up %s.", time.Since(s.startedAt).Round(time.Second))

	counts, err := s.store.CountsByState(ctx)
	if err != nil {
		return "", err
	}
	if len(counts) > 0 {
		parts := make([]string, 0, len(counts))
		for _, st := range []models.JobState{
			models.JobStatePending, models.JobStateProcessing, models.JobStateCompleted,
			models.JobStateFailed, models.JobStateRetrying, models.JobStateCancelled,
		} {
			if n := counts[st]; n > 0 {
				parts = append(parts, fmt.Sprintf("%s %d", strings.ToLower(string(st)), n))
			}
		}
		fmt.Fprintf(&b, "\nJobs: %s.", strings.Join(parts, ", "))
	} else {
		b.WriteString("\nJobs: none.")
	}

	if depth, err := s.jobs.Depth(); err == nil {
		fmt.Fprintf(&b, "\nQueue depth: %d.", depth)
	} else {
		b.WriteString("\nQueue depth: unavailable.")
	}

	if pending := s.agg.Pending(); pending > 0 {
		fmt.Fprintf(&b, "\nAlbums waiting: %d.", pending)
	}

	if s.quota != nil {
		if u, err := s.quota.UsedRatio(ctx); err == nil && u.MaxBytes > 0 {
			fmt.Fprintf(&b, "\nBucket: %.1f%% of %s.", u.Ratio*100, humanize.IBytes(uint64(u.MaxBytes)))
		}
	}

	if ws, err := s.store.GetWorkerStatus(ctx); err == nil && ws != nil {
		fmt.Fprintf(&b, "\nWorker: %s.", ws.Mode)
	}
	return b.String(), nil
}

func (s *Service) cmdQuota(ctx context.Context, arg string) (string, error) {
	if s.quota == nil {
		return "No storage budget configured.", nil
	}
	u, err := s.quota.UsedRatio(ctx)
	if err != nil {
		if errors.Is(err, quota.ErrUnknown) {
			return "Bucket usage is unknown: listing the bucket failed.", nil
		}
		return "", err
	}
	if u.MaxBytes <= 0 {
		return "No storage budget configured.", nil
	}
	text := fmt.Sprintf("Bucket: %s of %s (%.1f%%).",
		humanize.IBytes(uint64(u.UsedBytes)), humanize.IBytes(uint64(u.MaxBytes)), u.Ratio*100)
	if u.Stale {
		text += " Last refresh failed; this value is stale."
	}
	return text, nil
}

func (s *Service) cmdMode(ctx context.Context, arg string) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Updates: %s.", s.cfg.Mode)
	if s.paused.Load() {
		b.WriteString("\nArchiving: paused (quota).")
	} else {
		b.WriteString("\nArchiving: active.")
	}
	ws, err := s.store.GetWorkerStatus(ctx)
	if err != nil {
		return "", err
	}
	if ws == nil {
		b.WriteString("\nWorker: never reported.")
	} else {
		fmt.Fprintf(&b, "\nWorker: %s.", ws.Mode)
	}
	return b.String(), nil
}

func (s *Service) cmdDBMaint(ctx context.Context, arg string) (string, error) {
	started := time.Now()
	if err := s.store.Vacuum(ctx); err != nil {
		return "", err
	}
	logger.Info("Database vacuum completed", "took", time.Since(started))
	return fmt.Sprintf("Database maintenance completed in %s.", time.Since(started).Round(time.Millisecond)), nil
}

func (s *Service) cmdMTCode(ctx context.Context, arg string) (string, error) {
	if arg == "" {
		return "Usage: /mtcode <code>", nil
	}
	if err := s.store.SetSecret(ctx, "code", arg, s.now()); err != nil {
		return "", err
	}
	return "Verification code received. The worker will pick it up within a few seconds.", nil
}

func (s *Service) cmdMTPass(ctx context.Context, arg string) (string, error) {
	if arg == "" {
		return "Usage: /mtpass <password>", nil
	}
	if err := s.store.SetSecret(ctx, "password", arg, s.now()); err != nil {
		return "", err
	}
	return "Password received.", nil
}

func (s *Service) cmdMTStatus(ctx context.Context, arg string) (string, error) {
	ws, err := s.store.GetWorkerStatus(ctx)
	if err != nil {
		return "", err
	}
	if ws == nil {
		return "No worker has reported yet.", nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Worker mode: %s.", ws.Mode)
	if ws.Authorized {
		b.WriteString("\nSession: authorized.")
	} else {
		b.WriteString("\nSession: not authorized.")
	}
	if ws.AuthFailures > 0 {
		fmt.Fprintf(&b, "\nConsecutive auth failures: %d.", ws.AuthFailures)
	}
	if !ws.LastProbeAt.IsZero() {
		fmt.Fprintf(&b, "\nLast probe: %s.", humanize.Time(ws.LastProbeAt))
	}
	return b.String(), nil
}

func (s *Service) cmdQueue(ctx context.Context, arg string) (string, error) {
	depth, err := s.jobs.Depth()
	if err != nil {
		return "", fmt.Errorf("failed to inspect queue: %w", err)
	}
	s.jm.SetQueueDepth(depth)
	return fmt.Sprintf("Queue depth: %d job(s).", depth), nil
}

func (s *Service) cmdJobs(ctx context.Context, arg string) (string, error) {
	if arg != "" {
		return s.jobDetail(ctx, arg)
	}
	jobs, err := s.store.ListJobs(ctx, 10)
	if err != nil {
		return "", err
	}
	if len(jobs) == 0 {
		return "No jobs recorded.", nil
	}
	var b strings.Builder
	b.WriteString("Recent jobs:")
	for _, j := range jobs {
		fmt.Fprintf(&b, "\n%s  %s  %s", j.JobID, j.State, humanize.Time(j.UpdatedAt))
	}
	return b.String(), nil
}

func (s *Service) jobDetail(ctx context.Context, id string) (string, error) {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Job %s\nState: %s\nPriority: %d\nMessage: %d in chat %d\nCreated: %s",
		job.JobID, job.State, job.Priority, job.MessageID, job.ChatID, job.CreatedAt.Format(time.RFC3339))
	if job.LastError != "" {
		fmt.Fprintf(&b, "\nLast error: %s", job.LastError)
	}
	attempts, err := s.store.ListAttempts(ctx, id)
	if err != nil {
		return "", err
	}
	for _, a := range attempts {
		outcome := "ok"
		if !a.Success {
			outcome = a.Error
		}
		fmt.Fprintf(&b, "\nAttempt %d: %s", a.Attempt, outcome)
	}
	return b.String(), nil
}

func (s *Service) cmdRetry(ctx context.Context, arg string) (string, error) {
	if arg == "" {
		return "Usage: /retry <job-id>", nil
	}
	job, err := s.store.RetryJob(ctx, arg, s.now())
	if err != nil {
		return "", err
	}
	if job.PayloadJSON == "" {
		return "", fmt.Errorf("job %s has no stored payload to replay", arg)
	}
	msg, err := queue.ParseJobMessage([]byte(job.PayloadJSON))
	if err != nil {
		return "", fmt.Errorf("stored payload is unusable: %w", err)
	}
	msg.JobMetadata.RetryCount++
	if err := s.jobs.Publish(msg, uint8(job.Priority)); err != nil {
		_ = s.store.UpdateJobState(ctx, arg, models.JobStateFailed, "republish failed: "+err.Error(), s.now())
		return "", fmt.Errorf("failed to requeue job: %w", err)
	}
	s.jm.RecordRetried()
	return fmt.Sprintf("Job %s requeued (attempt %d).", arg, msg.JobMetadata.RetryCount+1), nil
}

func (s *Service) cmdCancel(ctx context.Context, arg string) (string, error) {
	if arg == "" {
		return "Usage: /cancel <job-id>", nil
	}
	job, err := s.store.GetJob(ctx, arg)
	if err != nil {
		return "", err
	}
	if job.State.Terminal() {
		return fmt.Sprintf("Job %s is already %s.", arg, strings.ToLower(string(job.State))), nil
	}
	if err := s.store.UpdateJobState(ctx, arg, models.JobStateCancelled, "", s.now()); err != nil {
		return "", err
	}
	return fmt.Sprintf("Job %s cancelled.", arg), nil
}

// cmdPurge wipes the queue, the database and the bucket. It refuses to act
// without the literal "confirm" argument.
func (s *Service) cmdPurge(ctx context.Context, arg string) (string, error) {
	if arg != "confirm" {
		return "This deletes every archived object, every database record and every queued job. Send /purge confirm to proceed.", nil
	}

	dropped, err := s.jobs.Purge()
	if err != nil {
		return "", fmt.Errorf("failed to purge queue: %w", err)
	}
	counts, err := s.store.PurgeAll(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to purge database: %w", err)
	}
	var removed int64
	if s.bucket != nil {
		removed, err = s.bucket.PurgeBucket(ctx, "")
		if err != nil {
			return "", fmt.Errorf("failed to purge bucket: %w", err)
		}
	}
	if s.quota != nil {
		s.quota.Invalidate()
	}

	logger.Warn("Archive purged",
		"queued_dropped", dropped,
		"files", counts.Files,
		"jobs", counts.Jobs,
		"objects", removed)
	return fmt.Sprintf("Purged: %d queued job(s), %d file record(s), %d job row(s), %d object(s).",
		dropped, counts.Files, counts.Jobs, removed), nil
}
