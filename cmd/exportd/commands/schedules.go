package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/draywest/exportd/audit"
	"github.com/draywest/exportd/config"
	"github.com/draywest/exportd/logger"
	"github.com/draywest/exportd/policy"
	"github.com/draywest/exportd/schedule"
)

// SchedulesCmd groups schedule definition operations.
var SchedulesCmd = &cobra.Command{
	Use:   "schedules",
	Short: "Inspect and manage schedule definitions",
	Long: `Inspect and manage schedule definitions.

Examples:
  exportd schedules ls --org org1              # List an organization's schedules
  exportd schedules pause SD_abc --org org1    # Pause a schedule
  exportd schedules resume SD_abc --org org1   # Resume (recomputes next firing)
  exportd schedules firings SD_abc --org org1  # Show firing history`,
}

var (
	schedOrgFlag  string
	schedUserFlag string
	schedRoleFlag string
)

func init() {
	SchedulesCmd.PersistentFlags().StringVar(&schedOrgFlag, "org", "", "Organization id (required)")
	SchedulesCmd.PersistentFlags().StringVar(&schedUserFlag, "user", "operator", "Acting user id")
	SchedulesCmd.PersistentFlags().StringVar(&schedRoleFlag, "role", "admin", "Acting role")
	SchedulesCmd.MarkPersistentFlagRequired("org")

	schedulesLsCmd.Flags().BoolVar(&schedulesActiveFlag, "active", false, "Only active schedules")

	SchedulesCmd.AddCommand(schedulesLsCmd)
	SchedulesCmd.AddCommand(schedulesPauseCmd)
	SchedulesCmd.AddCommand(schedulesResumeCmd)
	SchedulesCmd.AddCommand(schedulesFiringsCmd)
}

func schedActor() policy.Actor {
	return policy.Actor{UserID: schedUserFlag, OrgID: schedOrgFlag, Role: schedRoleFlag}
}

func newScheduleService() (*schedule.Service, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	database, err := openDatabase(cfg.Database.Path)
	if err != nil {
		return nil, nil, err
	}
	svc := schedule.NewService(schedule.ServiceConfig{
		DB:     database,
		Quota:  cfg.Quota,
		Audit:  audit.NewSQLiteSink(database),
		Logger: logger.Logger,
	})
	return svc, func() { database.Close() }, nil
}

var schedulesActiveFlag bool

var schedulesLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List schedule definitions",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, closeDB, err := newScheduleService()
		if err != nil {
			return err
		}
		defer closeDB()

		defs, err := svc.ListSchedules(context.Background(), schedActor(), schedulesActiveFlag)
		if err != nil {
			return err
		}
		if len(defs) == 0 {
			fmt.Println("No schedules")
			return nil
		}

		fmt.Printf("%-40s %-10s %-6s %-7s %s\n", "ID", "TYPE", "HOUR", "ACTIVE", "NEXT RUN")
		for _, d := range defs {
			fmt.Printf("%-40s %-10s %-6d %-7v %s\n",
				d.ID, d.Schedule.Type, d.Schedule.Hour, d.IsActive,
				d.NextRunAt.Local().Format("2006-01-02 15:04"))
		}
		return nil
	},
}

var schedulesPauseCmd = &cobra.Command{
	Use:   "pause <schedule-id>",
	Short: "Pause a schedule definition",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return toggleSchedule(args[0], false) },
}

var schedulesResumeCmd = &cobra.Command{
	Use:   "resume <schedule-id>",
	Short: "Resume a paused schedule definition",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return toggleSchedule(args[0], true) },
}

func toggleSchedule(id string, active bool) error {
	svc, closeDB, err := newScheduleService()
	if err != nil {
		return err
	}
	defer closeDB()

	d, err := svc.SetScheduleActive(context.Background(), schedActor(), id, active)
	if err != nil {
		return err
	}
	if active {
		fmt.Printf("Resumed %s; next firing %s\n", d.ID, d.NextRunAt.Local().Format(time.RFC3339))
	} else {
		fmt.Printf("Paused %s\n", d.ID)
	}
	return nil
}

var schedulesFiringsCmd = &cobra.Command{
	Use:   "firings <schedule-id>",
	Short: "Show a schedule's firing history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, closeDB, err := newScheduleService()
		if err != nil {
			return err
		}
		defer closeDB()

		firings, err := svc.ListFirings(context.Background(), schedActor(), args[0], 50)
		if err != nil {
			return err
		}
		if len(firings) == 0 {
			fmt.Println("No firings")
			return nil
		}

		fmt.Printf("%-20s %-10s %-40s %s\n", "STARTED", "STATUS", "JOB", "ERROR")
		for _, f := range firings {
			jobID := f.JobID
			if jobID == "" {
				jobID = "-"
			}
			fmt.Printf("%-20s %-10s %-40s %s\n",
				f.StartedAt.Local().Format("2006-01-02 15:04:05"), f.Status, jobID, f.ErrorMessage)
		}
		return nil
	},
}
