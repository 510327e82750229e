// Package bot is the chat front-end: it receives media from whitelisted
// users, routes it to the small-path pipeline or the large-file queue, and
// exposes the operator command surface.
package bot

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	tele "gopkg.in/telebot.v3"

	"github.com/telarch/telarch/internal/logger"
	"github.com/telarch/telarch/pkg/ingest"
	"github.com/telarch/telarch/pkg/metrics"
	"github.com/telarch/telarch/pkg/queue"
	"github.com/telarch/telarch/pkg/quota"
	"github.com/telarch/telarch/pkg/store"
	"github.com/telarch/telarch/pkg/store/models"
)

// Update delivery modes.
const (
	ModePolling = "polling"
	ModeWebhook = "webhook"
)

// Archiver runs the small-path pipeline. *ingest.Pipeline satisfies it.
type Archiver interface {
	ProcessBatch(ctx context.Context, batch []*ingest.Message) (*ingest.BatchResult, error)
}

// JobQueue publishes and inspects large-file jobs. *queue.Manager satisfies it.
type JobQueue interface {
	Publish(msg *queue.JobMessage, priority uint8) error
	Depth() (int, error)
	Purge() (int, error)
}

// BucketPurger is the slice of the object store /purge needs.
type BucketPurger interface {
	PurgeBucket(ctx context.Context, prefix string) (int64, error)
}

// Config tunes the bot front-end.
type Config struct {
	Token string

	// Whitelist holds the user ids allowed to talk to the bot. Everyone
	// else is ignored without a reply.
	Whitelist []int64

	// Mode selects update delivery: polling (default) or webhook.
	Mode          string
	WebhookURL    string
	WebhookListen string

	// AlbumWindow is how long grouped media waits for siblings. Default 10s.
	AlbumWindow time.Duration

	// FlushInterval is the album flusher cadence. Default 1s.
	FlushInterval time.Duration

	// PollTimeout is the long-poll timeout. Default 10s.
	PollTimeout time.Duration

	// SmallPathLimit routes anything larger to the job queue. Default 50 MiB.
	SmallPathLimit int64

	// MaxRetries is stamped into large-file job metadata.
	MaxRetries int
}

func (c *Config) applyDefaults() {
	if c.Mode == "" {
		c.Mode = ModePolling
	}
	if c.AlbumWindow <= 0 {
		c.AlbumWindow = 10 * time.Second
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = time.Second
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = 10 * time.Second
	}
	if c.SmallPathLimit <= 0 {
		c.SmallPathLimit = 50 << 20
	}
}

// Service is the running bot front-end. It also satisfies worker.Notifier so
// the worker can speak through the same bot account.
type Service struct {
	cfg      Config
	bot      *tele.Bot
	store    *store.Store
	archiver Archiver
	agg      *ingest.Aggregator
	quota    *quota.Calculator
	jobs     JobQueue
	bucket   BucketPurger
	im       *metrics.IngestMetrics
	jm       *metrics.JobMetrics

	startedAt time.Time
	paused    atomic.Bool
	now       func() time.Time
}

// New connects to the chat platform and wires the handler surface. quota,
// bucket and both metrics handles may be nil.
func New(cfg Config, st *store.Store, archiver Archiver, jobs JobQueue, bucket BucketPurger, q *quota.Calculator, im *metrics.IngestMetrics, jm *metrics.JobMetrics) (*Service, error) {
	cfg.applyDefaults()

	var poller tele.Poller
	switch cfg.Mode {
	case ModeWebhook:
		if cfg.WebhookURL == "" {
			return nil, fmt.Errorf("webhook mode requires a public URL")
		}
		poller = &tele.Webhook{
			Listen:   cfg.WebhookListen,
			Endpoint: &tele.WebhookEndpoint{PublicURL: cfg.WebhookURL},
		}
	case ModePolling:
		poller = &tele.LongPoller{Timeout: cfg.PollTimeout}
	default:
		return nil, fmt.Errorf("unknown bot mode %q", cfg.Mode)
	}

	b, err := tele.NewBot(tele.Settings{Token: cfg.Token, Poller: poller})
	if err != nil {
		return nil, fmt.Errorf("failed to connect bot: %w", err)
	}

	s := &Service{
		cfg:       cfg,
		bot:       b,
		store:     st,
		archiver:  archiver,
		agg:       ingest.NewAggregator(cfg.AlbumWindow),
		quota:     q,
		jobs:      jobs,
		bucket:    bucket,
		im:        im,
		jm:        jm,
		startedAt: time.Now(),
		now:       time.Now,
	}
	s.register()
	return s, nil
}

// Bot exposes the underlying connection for transport wiring.
func (s *Service) Bot() *tele.Bot { return s.bot }

// SetArchiver wires the pipeline after construction. The pipeline downloads
// through the bot's own transport, so it cannot exist before the bot does.
// Must be called before Start.
func (s *Service) SetArchiver(a Archiver) { s.archiver = a }

// Start runs the update loop and the album flusher until ctx is cancelled.
func (s *Service) Start(ctx context.Context) error {
	go s.flushLoop(ctx)
	go func() {
		<-ctx.Done()
		s.bot.Stop()
	}()

	logger.Info("Bot started",
		"mode", s.cfg.Mode,
		"whitelist_size", len(s.cfg.Whitelist),
		"album_window", s.cfg.AlbumWindow)

	s.bot.Start()
	return ctx.Err()
}

func (s *Service) register() {
	s.bot.Use(s.restrict)

	for _, ev := range []string{
		tele.OnPhoto, tele.OnVideo, tele.OnDocument, tele.OnAudio,
		tele.OnVoice, tele.OnAnimation, tele.OnSticker, tele.OnVideoNote,
	} {
		s.bot.Handle(ev, s.onMedia)
	}
	s.bot.Handle(tele.OnText, func(c tele.Context) error {
		return c.Send("Send or forward media to archive it. /help lists commands.")
	})

	s.bot.Handle("/start", s.command(s.cmdStart))
	s.bot.Handle("/help", s.command(s.cmdHelp))
	s.bot.Handle("/status", s.command(s.cmdStatus))
	s.bot.Handle("/quota", s.command(s.cmdQuota))
	s.bot.Handle("/mode", s.command(s.cmdMode))
	s.bot.Handle("/db_maint", s.command(s.cmdDBMaint))
	s.bot.Handle("/mtcode", s.command(s.cmdMTCode))
	s.bot.Handle("/mtpass", s.command(s.cmdMTPass))
	s.bot.Handle("/mtstatus", s.command(s.cmdMTStatus))
	s.bot.Handle("/queue", s.command(s.cmdQueue))
	s.bot.Handle("/jobs", s.command(s.cmdJobs))
	s.bot.Handle("/retry", s.command(s.cmdRetry))
	s.bot.Handle("/cancel", s.command(s.cmdCancel))
	s.bot.Handle("/purge", s.command(s.cmdPurge))
}

// restrict drops updates from outside the whitelist or outside private
// chats. Rejection is silent: the bot must be invisible to strangers.
func (s *Service) restrict(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		if c.Chat() == nil || c.Chat().Type != tele.ChatPrivate || !s.allowed(c.Sender()) {
			s.im.RecordSkip("input_rejected")
			return nil
		}
		return next(c)
	}
}

func (s *Service) allowed(u *tele.User) bool {
	if u == nil {
		return false
	}
	for _, id := range s.cfg.Whitelist {
		if id == u.ID {
			return true
		}
	}
	return false
}

func (s *Service) command(fn func(ctx context.Context, arg string) (string, error)) tele.HandlerFunc {
	return func(c tele.Context) error {
		reply, err := fn(context.Background(), strings.TrimSpace(c.Message().Payload))
		if err != nil {
			logger.Error("Command failed", "text", c.Message().Text, "error", err)
			reply = "Error: " + err.Error()
		}
		return c.Send(reply)
	}
}

func (s *Service) onMedia(c tele.Context) error {
	msg := fromTelebot(c.Message())
	reply, err := s.Ingest(context.Background(), msg)
	if err != nil {
		logger.Error("Ingest failed", "chat_id", msg.ChatID, "message_id", msg.MessageID, "error", err)
		return c.Send("Archival failed: " + err.Error())
	}
	if reply == "" {
		// Album member buffered; the flusher acks when the group closes.
		return nil
	}
	return c.Send(reply)
}

// Ingest routes one message: large media to the job queue, everything else
// through the album aggregator into the pipeline. The returned reply is
// empty when the message was buffered into a still-open album.
func (s *Service) Ingest(ctx context.Context, msg *ingest.Message) (string, error) {
	if msg.Media == nil {
		s.im.RecordSkip(ingest.SkipNoMedia)
		return "Nothing to archive in that message.", nil
	}

	if s.quotaFull(ctx) {
		return "Archiving is paused: the storage budget is exhausted.", nil
	}

	if msg.Media.DeclaredSize > s.cfg.SmallPathLimit {
		return s.enqueueLargeFile(ctx, msg)
	}

	var reply string
	for {
		batch, consumed := s.agg.Add(msg)
		if len(batch) > 0 {
			text, err := s.archiveBatch(ctx, batch)
			if err != nil {
				return "", err
			}
			reply = text
		}
		if consumed {
			break
		}
	}
	return reply, nil
}

// quotaFull reports whether archiving is paused, flipping the pause flag and
// alerting the admins on each transition.
func (s *Service) quotaFull(ctx context.Context) bool {
	if s.quota == nil {
		return false
	}
	if s.quota.Full(ctx) {
		if !s.paused.Swap(true) {
			logger.Error("Archiving paused, bucket quota exhausted")
			s.notifyAdmins(ctx, "CRITICAL: archiving paused, the bucket quota is exhausted. Free space or raise the budget, then send more media.")
		}
		return true
	}
	if s.paused.Swap(false) {
		logger.Info("Archiving resumed")
		s.notifyAdmins(ctx, "Archiving resumed: bucket usage is back under budget.")
	}
	return false
}

// enqueueLargeFile persists a PENDING job row, then publishes the job. The
// row is written first so a broker outage never loses the request silently.
func (s *Service) enqueueLargeFile(ctx context.Context, msg *ingest.Message) (string, error) {
	job := buildJob(msg, s.cfg.MaxRetries, s.now().UTC())
	payload, err := job.Marshal()
	if err != nil {
		return "", err
	}

	row := &models.Job{
		JobID:       job.JobID,
		UserID:      job.UserID,
		ChatID:      job.ChatID,
		MessageID:   job.MessageID,
		State:       models.JobStatePending,
		Priority:    int(queue.DefaultPriority),
		PayloadJSON: string(payload),
	}
	if err := s.store.UpsertJob(ctx, row); err != nil {
		return "", fmt.Errorf("failed to persist job: %w", err)
	}

	if err := s.jobs.Publish(job, queue.DefaultPriority); err != nil {
		_ = s.store.UpdateJobState(ctx, job.JobID, models.JobStateFailed, "publish failed: "+err.Error(), s.now())
		return "", fmt.Errorf("failed to queue job: %w", err)
	}

	s.jm.RecordCreated()
	logger.Info("Large file queued",
		"job_id", job.JobID,
		"chat_id", msg.ChatID,
		"message_id", msg.MessageID,
		"size", msg.Media.DeclaredSize)
	return fmt.Sprintf("File is %s, beyond the direct download limit. Queued for the worker as job %s.",
		humanize.IBytes(uint64(msg.Media.DeclaredSize)), job.JobID), nil
}

func (s *Service) archiveBatch(ctx context.Context, batch []*ingest.Message) (string, error) {
	res, err := s.archiver.ProcessBatch(ctx, batch)
	if err != nil {
		return "", err
	}
	if s.quota != nil {
		s.quota.Invalidate()
		if ratio, fire := s.quota.CheckAlert(ctx); fire {
			s.notifyAdmins(ctx, fmt.Sprintf("Warning: the archive bucket is %.0f%% full.", ratio*100))
		}
	}
	return formatAck(res), nil
}

// flushLoop closes albums whose window expired and acks them to their chat.
func (s *Service) flushLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, batch := range s.agg.FlushReady() {
				text, err := s.archiveBatch(ctx, batch)
				if err != nil {
					logger.Error("Album archival failed", "chat_id", batch[0].ChatID, "error", err)
					text = "Archival failed: " + err.Error()
				}
				s.notifyChat(ctx, batch[0].ChatID, text)
			}
		}
	}
}

// formatAck renders the per-batch summary sent back to the chat.
func formatAck(res *ingest.BatchResult) string {
	var archived, dups int
	skipped := map[string]int{}
	for _, o := range res.Outcomes {
		switch {
		case o.IsDuplicate:
			dups++
		case o.SkippedReason != "":
			skipped[o.SkippedReason]++
		case o.S3Key != "":
			archived++
		}
	}

	var b strings.Builder
	if archived == 0 && dups > 0 && len(skipped) == 0 {
		fmt.Fprintf(&b, "Already archived, nothing new to store. Duplicates: %d.", dups)
		return b.String()
	}

	fmt.Fprintf(&b, "Archived %d file(s), %s.", archived, humanize.IBytes(uint64(res.TotalBytes)))
	if dups > 0 {
		fmt.Fprintf(&b, " Duplicates skipped: %d.", dups)
	}
	if len(skipped) > 0 {
		reasons := make([]string, 0, len(skipped))
		for r, n := range skipped {
			reasons = append(reasons, fmt.Sprintf("%s(%d)", r, n))
		}
		sort.Strings(reasons)
		fmt.Fprintf(&b, " Failed: %s.", strings.Join(reasons, ", "))
	}
	if archived > 0 {
		fmt.Fprintf(&b, " Saved under %s", res.BasePath)
	}
	return b.String()
}

// NotifyChat sends text to a chat. Satisfies worker.Notifier.
func (s *Service) NotifyChat(ctx context.Context, chatID int64, text string) error {
	if s.bot == nil || text == "" {
		return nil
	}
	_, err := s.bot.Send(tele.ChatID(chatID), text)
	return err
}

// NotifyAdmins sends text to every whitelisted user.
func (s *Service) NotifyAdmins(ctx context.Context, text string) error {
	if s.bot == nil {
		return nil
	}
	var first error
	for _, id := range s.cfg.Whitelist {
		if _, err := s.bot.Send(tele.ChatID(id), text); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (s *Service) notifyChat(ctx context.Context, chatID int64, text string) {
	if err := s.NotifyChat(ctx, chatID, text); err != nil {
		logger.Warn("Failed to notify chat", "chat_id", chatID, "error", err)
	}
}

func (s *Service) notifyAdmins(ctx context.Context, text string) {
	if err := s.NotifyAdmins(ctx, text); err != nil {
		logger.Warn("Failed to notify admins", "error", err)
	}
}

// Transport adapts the bot file API to the pipeline's acquisition interface.
type Transport struct {
	bot *tele.Bot
}

// NewTransport wraps a connected bot.
func NewTransport(b *tele.Bot) *Transport {
	return &Transport{bot: b}
}

// Acquire opens the file content stream for a file id.
func (t *Transport) Acquire(ctx context.Context, fileID string) (io.ReadCloser, error) {
	return t.bot.File(&tele.File{FileID: fileID})
}
