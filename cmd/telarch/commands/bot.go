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
	"github.com/telarch/telarch/pkg/config"
	"github.com/telarch/telarch/pkg/ingest"
	"github.com/telarch/telarch/pkg/metrics"
	"github.com/telarch/telarch/pkg/queue"
	"github.com/telarch/telarch/pkg/quota"
	"github.com/telarch/telarch/pkg/store"
)

var botCmd = &cobra.Command{
	Use:   "bot",
	Short: "Run the bot front-end",
	Long: `Run the bot front-end: the chat receive loop, album aggregation, the
small-path archiving pipeline, the large-file job publisher, and the
health/metrics HTTP server.

Examples:
  telarch bot
  telarch bot --config /etc/telarch/config.yaml
  TELARCH_LOGGING_LEVEL=DEBUG telarch bot`,
	RunE: runBot,
}

func runBot(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Bot.Token == "" {
		return fmt.Errorf("bot.token is required (set it in the config file or TELARCH_BOT_TOKEN)")
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
	if err := obj.EnsureBucket(ctx); err != nil {
		return fmt.Errorf("failed to ensure bucket: %w", err)
	}

	im := metrics.NewIngestMetrics()
	jm := metrics.NewJobMetrics()

	qm, err := queue.NewManager(cfg.QueueManagerConfig(), &queue.RealAMQPDialer{})
	if err != nil {
		return fmt.Errorf("failed to connect to broker: %w", err)
	}
	defer qm.Close()

	qcalc := quota.New(obj, cfg.QuotaCalcConfig(), im)

	svc, err := bot.New(cfg.BotServiceConfig(), st, nil, qm, obj, qcalc, im, jm)
	if err != nil {
		return err
	}
	pipeline := ingest.NewPipeline(cfg.PipelineConfig(), st, obj, bot.NewTransport(svc.Bot()), im)
	svc.SetArchiver(pipeline)

	stopAPI := startAPIServer(ctx, cfg, botChecks(st, obj, qm), botStatus(cfg, st, qm, qcalc))

	errCh := make(chan error, 1)
	go func() { errCh <- svc.Start(ctx) }()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
		signal.Stop(sigChan)
		logger.Info("Shutdown signal received, stopping bot")
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

	logger.Info("Bot stopped")
	return nil
}

func botChecks(st *store.Store, obj *blob.Client, qm *queue.Manager) []handlers.NamedCheck {
	return []handlers.NamedCheck{
		{Name: "database", Check: st.Ping},
		{Name: "bucket", Check: obj.EnsureBucket},
		{Name: "broker", Check: func(ctx context.Context) error {
			_, err := qm.Depth()
			return err
		}},
	}
}

func botStatus(cfg *config.Config, st *store.Store, qm *queue.Manager, qcalc *quota.Calculator) handlers.StatusFunc {
	startedAt := time.Now()
	return func(ctx context.Context) (interface{}, error) {
		counts, err := st.CountsByState(ctx)
		if err != nil {
			return nil, err
		}
		depth, err := qm.Depth()
		if err != nil {
			depth = -1
		}
		status := map[string]interface{}{
			"version":     Version,
			"uptime":      time.Since(startedAt).Round(time.Second).String(),
			"jobs":        counts,
			"queue_depth": depth,
		}
		if usage, err := qcalc.UsedRatio(ctx); err == nil {
			status["quota_used_ratio"] = usage.Ratio
		}
		return status, nil
	}
}
