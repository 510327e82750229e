package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/telarch/telarch/internal/cli/output"
	"github.com/telarch/telarch/internal/cli/prompt"
	"github.com/telarch/telarch/pkg/blob"
	"github.com/telarch/telarch/pkg/queue"
	"github.com/telarch/telarch/pkg/store/models"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and manage large-file jobs",
	Long: `Inspect and manage the large-file job index directly, without going
through the chat commands.

Examples:
  telarch jobs list
  telarch jobs inspect 0b8f1c2a-...
  telarch jobs retry 0b8f1c2a-...
  telarch jobs cancel 0b8f1c2a-...
  telarch jobs purge`,
}

var jobsListLimit int

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent jobs",
	RunE:  runJobsList,
}

var jobsInspectCmd = &cobra.Command{
	Use:   "inspect <job-id>",
	Short: "Show one job with its attempt log",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsInspect,
}

var jobsRetryCmd = &cobra.Command{
	Use:   "retry <job-id>",
	Short: "Re-queue a failed or cancelled job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsRetry,
}

var jobsCancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Cancel a queued job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsCancel,
}

var jobsPurgeForce bool

var jobsPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete every job, archive record and stored object",
	RunE:  runJobsPurge,
}

func init() {
	jobsListCmd.Flags().IntVar(&jobsListLimit, "limit", 20, "Maximum number of jobs to show")
	jobsPurgeCmd.Flags().BoolVar(&jobsPurgeForce, "force", false, "Skip the confirmation prompt")

	jobsCmd.AddCommand(jobsListCmd)
	jobsCmd.AddCommand(jobsInspectCmd)
	jobsCmd.AddCommand(jobsRetryCmd)
	jobsCmd.AddCommand(jobsCancelCmd)
	jobsCmd.AddCommand(jobsPurgeCmd)
}

func runJobsList(cmd *cobra.Command, args []string) error {
	_, st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()
	jobs, err := st.ListJobs(ctx, jobsListLimit)
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		fmt.Println("No jobs.")
		return nil
	}

	rows := make([][]string, 0, len(jobs))
	for _, j := range jobs {
		rows = append(rows, []string{
			j.JobID,
			string(j.State),
			jobFileLabel(j),
			humanize.Time(j.UpdatedAt),
		})
	}
	output.PrintTable(os.Stdout, []string{"Job", "State", "File", "Updated"}, rows)
	return nil
}

func runJobsInspect(cmd *cobra.Command, args []string) error {
	_, st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()
	job, err := st.GetJob(ctx, args[0])
	if err != nil {
		return err
	}

	pairs := [][2]string{
		{"Job", job.JobID},
		{"State", string(job.State)},
		{"Chat", fmt.Sprintf("%d", job.ChatID)},
		{"Message", fmt.Sprintf("%d", job.MessageID)},
		{"Priority", fmt.Sprintf("%d", job.Priority)},
		{"File", jobFileLabel(job)},
		{"Created", job.CreatedAt.Format(time.RFC3339)},
		{"Updated", job.UpdatedAt.Format(time.RFC3339)},
	}
	if job.LastError != "" {
		pairs = append(pairs, [2]string{"Last error", job.LastError})
	}
	output.PrintKV(os.Stdout, pairs)

	attempts, err := st.ListAttempts(ctx, job.JobID)
	if err != nil {
		return err
	}
	if len(attempts) == 0 {
		return nil
	}

	fmt.Println()
	rows := make([][]string, 0, len(attempts))
	for _, a := range attempts {
		result := "ok"
		if !a.Success {
			result = a.Error
		}
		rows = append(rows, []string{
			fmt.Sprintf("%d", a.Attempt),
			a.StartedAt.Format(time.RFC3339),
			result,
		})
	}
	output.PrintTable(os.Stdout, []string{"Attempt", "Started", "Result"}, rows)
	return nil
}

func runJobsRetry(cmd *cobra.Command, args []string) error {
	cfg, st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	qm, err := queue.NewManager(cfg.QueueManagerConfig(), &queue.RealAMQPDialer{})
	if err != nil {
		return fmt.Errorf("failed to connect to broker: %w", err)
	}
	defer qm.Close()

	ctx := context.Background()
	now := time.Now().UTC()
	job, err := st.RetryJob(ctx, args[0], now)
	if err != nil {
		return err
	}

	msg, err := queue.ParseJobMessage([]byte(job.PayloadJSON))
	if err != nil {
		return fmt.Errorf("job payload is unreadable: %w", err)
	}
	msg.JobMetadata.RetryCount++

	if err := qm.Publish(msg, uint8(job.Priority)); err != nil {
		_ = st.UpdateJobState(ctx, job.JobID, models.JobStateFailed, "republish failed: "+err.Error(), now)
		return fmt.Errorf("failed to republish job: %w", err)
	}

	fmt.Printf("Job %s re-queued (attempt %d).\n", job.JobID, msg.JobMetadata.RetryCount+1)
	return nil
}

func runJobsCancel(cmd *cobra.Command, args []string) error {
	_, st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()
	job, err := st.GetJob(ctx, args[0])
	if err != nil {
		return err
	}
	if job.State.Terminal() {
		fmt.Printf("Job %s is already %s.\n", job.JobID, job.State)
		return nil
	}
	if err := st.UpdateJobState(ctx, job.JobID, models.JobStateCancelled, "", time.Now().UTC()); err != nil {
		return err
	}
	fmt.Printf("Job %s cancelled.\n", job.JobID)
	return nil
}

func runJobsPurge(cmd *cobra.Command, args []string) error {
	cfg, st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	if !jobsPurgeForce {
		ok, err := prompt.ConfirmDanger("Delete every job, archive record and stored object", "confirm")
		if err != nil {
			if prompt.IsAborted(err) {
				fmt.Println("Aborted.")
				return nil
			}
			return err
		}
		if !ok {
			fmt.Println("Aborted.")
			return nil
		}
	}

	ctx := context.Background()

	qm, err := queue.NewManager(cfg.QueueManagerConfig(), &queue.RealAMQPDialer{})
	if err != nil {
		return fmt.Errorf("failed to connect to broker: %w", err)
	}
	defer qm.Close()
	queued, err := qm.Purge()
	if err != nil {
		return fmt.Errorf("failed to purge queue: %w", err)
	}

	counts, err := st.PurgeAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to purge store: %w", err)
	}

	obj, err := blob.NewClient(ctx, cfg.BlobConfig())
	if err != nil {
		return fmt.Errorf("failed to create S3 client: %w", err)
	}
	objects, err := obj.PurgeBucket(ctx, "")
	if err != nil {
		return fmt.Errorf("failed to purge bucket: %w", err)
	}

	fmt.Printf("Purged: %d queued job(s), %d file record(s), %d job row(s), %d object(s).\n",
		queued, counts.Files, counts.Jobs, objects)
	return nil
}

// jobFileLabel summarizes the payload's file for display, tolerating rows
// restored without one.
func jobFileLabel(job *models.Job) string {
	if job.PayloadJSON == "" {
		return "-"
	}
	msg, err := queue.ParseJobMessage([]byte(job.PayloadJSON))
	if err != nil {
		return "-"
	}
	name := msg.FileInfo.FileName
	if name == "" {
		name = msg.FileInfo.FileType
	}
	return fmt.Sprintf("%s (%s)", name, humanize.IBytes(uint64(msg.FileInfo.FileSize)))
}
