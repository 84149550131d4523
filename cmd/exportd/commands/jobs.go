package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/draywest/exportd/audit"
	"github.com/draywest/exportd/config"
	"github.com/draywest/exportd/job"
	"github.com/draywest/exportd/logger"
	"github.com/draywest/exportd/policy"
)

// JobsCmd groups export job operations.
var JobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and manage export jobs",
	Long: `Inspect and manage export jobs.

The acting identity comes from the --org/--user/--role flags; the
same capability checks apply as for API callers.

Examples:
  exportd jobs ls --org org1                 # List an organization's jobs
  exportd jobs show EJ_abc --org org1        # Show one job with metrics
  exportd jobs cancel EJ_abc --org org1      # Cancel an active job
  exportd jobs retry EJ_abc --org org1       # Re-queue a failed job`,
}

var (
	jobsOrgFlag    string
	jobsUserFlag   string
	jobsRoleFlag   string
	jobsStatusFlag string
	jobsAllFlag    bool
)

func init() {
	JobsCmd.PersistentFlags().StringVar(&jobsOrgFlag, "org", "", "Organization id (required)")
	JobsCmd.PersistentFlags().StringVar(&jobsUserFlag, "user", "operator", "Acting user id")
	JobsCmd.PersistentFlags().StringVar(&jobsRoleFlag, "role", "admin", "Acting role")
	JobsCmd.MarkPersistentFlagRequired("org")

	jobsLsCmd.Flags().StringVar(&jobsStatusFlag, "status", "", "Filter by status")
	jobsLsCmd.Flags().BoolVar(&jobsAllFlag, "all", false, "Include archived jobs")

	JobsCmd.AddCommand(jobsLsCmd)
	JobsCmd.AddCommand(jobsShowCmd)
	JobsCmd.AddCommand(jobsCancelCmd)
	JobsCmd.AddCommand(jobsRetryCmd)
	JobsCmd.AddCommand(jobsArchiveCmd)
}

func jobsActor() policy.Actor {
	return policy.Actor{UserID: jobsUserFlag, OrgID: jobsOrgFlag, Role: jobsRoleFlag}
}

func newJobService() (*job.Service, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	database, err := openDatabase(cfg.Database.Path)
	if err != nil {
		return nil, nil, err
	}
	svc := job.NewService(job.ServiceConfig{
		DB:             database,
		Audit:          audit.NewSQLiteSink(database),
		MaxItems:       cfg.Selection.MaxItems,
		StuckThreshold: time.Duration(cfg.Engine.StuckThresholdMinutes) * time.Minute,
		Logger:         logger.Logger,
	})
	return svc, func() { database.Close() }, nil
}

var jobsLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List export jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, closeDB, err := newJobService()
		if err != nil {
			return err
		}
		defer closeDB()

		jobs, err := svc.ListJobs(context.Background(), jobsActor(), job.ListFilter{
			Status:          job.Status(jobsStatusFlag),
			IncludeArchived: jobsAllFlag,
		})
		if err != nil {
			return err
		}
		if len(jobs) == 0 {
			fmt.Println("No jobs")
			return nil
		}

		fmt.Printf("%-40s %-10s %-8s %-8s %5s %s\n", "ID", "STATUS", "PRIORITY", "FORMAT", "PROG", "CREATED")
		for _, j := range jobs {
			fmt.Printf("%-40s %-10s %-8s %-8s %4d%% %s\n",
				j.ID, j.Status, j.Priority, j.Format, j.Progress,
				j.CreatedAt.Local().Format("2006-01-02 15:04"))
		}
		return nil
	},
}

var jobsShowCmd = &cobra.Command{
	Use:   "show <job-id>",
	Short: "Show one job with derived metrics",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, closeDB, err := newJobService()
		if err != nil {
			return err
		}
		defer closeDB()

		ctx := context.Background()
		j, metrics, err := svc.GetJobStatus(ctx, jobsActor(), args[0])
		if err != nil {
			return err
		}

		fmt.Printf("Job:        %s\n", j.ID)
		fmt.Printf("Status:     %s\n", j.Status)
		fmt.Printf("Origin:     %s\n", j.Origin)
		if j.ScheduleID != "" {
			fmt.Printf("Schedule:   %s\n", j.ScheduleID)
		}
		fmt.Printf("Owner:      %s\n", j.UserID)
		fmt.Printf("Format:     %s\n", j.Format)
		fmt.Printf("Priority:   %s\n", j.Priority)
		fmt.Printf("Progress:   %d%% (%d/%d items)\n", j.Progress, j.ProcessedItems, j.TotalItems)
		fmt.Printf("Elapsed:    %s\n", metrics.Elapsed.Round(time.Second))
		if metrics.Rate > 0 {
			fmt.Printf("Rate:       %.2f items/s\n", metrics.Rate)
		}
		if metrics.ETA != nil {
			fmt.Printf("ETA:        %s\n", metrics.ETA.Round(time.Second))
		}
		if metrics.IsStuck {
			fmt.Println("Warning:    job appears stuck")
		}
		if j.ErrorMessage != "" {
			fmt.Printf("Error:      %s\n", j.ErrorMessage)
		}
		if j.DownloadURL != "" {
			fmt.Printf("Artifact:   %s\n", j.DownloadURL)
		}

		logs, err := svc.GetJobLogs(ctx, jobsActor(), j.ID)
		if err != nil {
			return err
		}
		if len(logs) > 0 {
			fmt.Println("\nLog:")
			for _, e := range logs {
				fmt.Printf("  %s [%s] %s\n",
					e.Timestamp.Local().Format("15:04:05"), e.Level, e.Message)
			}
		}
		return nil
	},
}

var jobsCancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Cancel an active job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, closeDB, err := newJobService()
		if err != nil {
			return err
		}
		defer closeDB()

		j, err := svc.CancelJob(context.Background(), jobsActor(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Cancelled %s (progress frozen at %d%%)\n", j.ID, j.Progress)
		return nil
	},
}

var jobsRetryCmd = &cobra.Command{
	Use:   "retry <job-id>",
	Short: "Re-queue a failed job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, closeDB, err := newJobService()
		if err != nil {
			return err
		}
		defer closeDB()

		j, err := svc.RetryJob(context.Background(), jobsActor(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Re-queued %s\n", j.ID)
		return nil
	},
}

var jobsArchiveCmd = &cobra.Command{
	Use:   "archive <job-id>",
	Short: "Hide a settled job from default listings",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, closeDB, err := newJobService()
		if err != nil {
			return err
		}
		defer closeDB()

		j, err := svc.ArchiveJob(context.Background(), jobsActor(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Archived %s\n", j.ID)
		return nil
	},
}
