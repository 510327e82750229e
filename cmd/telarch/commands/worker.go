package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/telarch/telarch/internal/logger"
	"github.com/telarch/telarch/pkg/api/handlers"
	"github.com/telarch/telarch/pkg/blob"
	"github.com/telarch/telarch/pkg/bot"
	"github.com/telarch/telarch/pkg/metrics"
	"github.com/telarch/telarch/pkg/mtproto"
	"github.com/telarch/telarch/pkg/queue"
	"github.com/telarch/telarch/pkg/store"
	"github.com/telarch/telarch/pkg/worker"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the large-file worker",
	Long: `Run the large-file worker: consume queued jobs from the broker and
download the media through a Telegram user session (MTProto).

Without MTProto credentials the worker runs in simulate mode: jobs complete
with placeholder objects so the queue keeps draining.

Examples:
  telarch worker
  telarch worker --config /etc/telarch/config.yaml`,
	RunE: runWorker,
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := store.New(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	obj, err := blob.NewClient(ctx, cfg.BlobConfig())
	if err != nil {
		return fmt.Errorf("failed to create S3 client: %w", err)
	}

	messenger, err := bot.NewMessenger(cfg.Bot.Token, cfg.Bot.Whitelist)
	if err != nil {
		// The worker is still useful without chat notifications.
		logger.Warn("Bot connection failed, notifications disabled", "error", err)
		messenger, _ = bot.NewMessenger("", nil)
	}

	var session worker.Session
	mtCfg := cfg.MTProtoClientConfig()
	if mtCfg.Configured() {
		session = mtproto.NewClient(mtCfg, st)
	} else {
		logger.Warn("MTProto credentials not configured, worker will simulate")
	}

	jm := metrics.NewJobMetrics()
	w := worker.New(cfg.WorkerRunConfig(), cfg.QueueManagerConfig(), st, obj, session, messenger, jm)

	queueCfg := cfg.QueueManagerConfig()
	queueCfg.ApplyDefaults()
	conn, err := (&queue.RealAMQPDialer{}).Dial(queueCfg.URL())
	if err != nil {
		return fmt.Errorf("failed to connect to broker: %w", err)
	}
	defer conn.Close()

	stopAPI := startAPIServer(ctx, cfg, workerChecks(st, obj, session), workerStatus(st, w))

	errCh := make(chan error, 1)
	go func() { errCh <- w.Run(ctx, conn) }()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
		signal.Stop(sigChan)
		logger.Info("Shutdown signal received, stopping worker")
		cancel()
		<-errCh
	case err := <-errCh:
		cancel()
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()
	stopAPI(shutdownCtx)

	logger.Info("Worker stopped")
	return nil
}

func workerChecks(st *store.Store, obj *blob.Client, session worker.Session) []handlers.NamedCheck {
	checks := []handlers.NamedCheck{
		{Name: "database", Check: st.Ping},
		{Name: "bucket", Check: obj.EnsureBucket},
	}
	if session != nil {
		checks = append(checks, handlers.NamedCheck{Name: "mtproto", Check: session.Healthy})
	}
	return checks
}

func workerStatus(st *store.Store, w *worker.Worker) handlers.StatusFunc {
	startedAt := time.Now()
	return func(ctx context.Context) (interface{}, error) {
		status := map[string]interface{}{
			"version":  Version,
			"uptime":   time.Since(startedAt).Round(time.Second).String(),
			"simulate": w.Simulating(),
		}
		if ws, err := st.GetWorkerStatus(ctx); err == nil && ws != nil {
			status["mode"] = ws.Mode
			status["authorized"] = ws.Authorized
			status["auth_failures"] = ws.AuthFailures
		}
		return status, nil
	}
}
