package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/draywest/exportd/config"
	"github.com/draywest/exportd/job"
)

// DbCmd groups database operations.
var DbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage the exportd database",
	Long: `Manage exportd database operations.

Examples:
  exportd db migrate              # Apply pending schema migrations
  exportd db stats                # Show job and schedule counts
  exportd db cleanup              # Delete settled jobs past retention`,
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := openDatabase("")
		if err != nil {
			return err
		}
		defer database.Close()
		fmt.Println("Database schema up to date")
		return nil
	},
}

var dbStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show database statistics",
	RunE:  runDbStats,
}

var dbCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete settled jobs older than the retention window",
	RunE:  runDbCleanup,
}

func init() {
	DbCmd.AddCommand(dbMigrateCmd)
	DbCmd.AddCommand(dbStatsCmd)
	DbCmd.AddCommand(dbCleanupCmd)
}

func runDbStats(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	database, err := openDatabase(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer database.Close()

	counts, err := job.NewStore(database).CountByStatus(context.Background())
	if err != nil {
		return err
	}

	var schedules, activeSchedules, documents int
	if err := database.QueryRow("SELECT COUNT(*) FROM schedule_definitions").Scan(&schedules); err != nil {
		return err
	}
	if err := database.QueryRow("SELECT COUNT(*) FROM schedule_definitions WHERE is_active = 1").Scan(&activeSchedules); err != nil {
		return err
	}
	if err := database.QueryRow("SELECT COUNT(*) FROM documents").Scan(&documents); err != nil {
		return err
	}

	fmt.Println("Database Statistics")
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Printf("Database Path:     %s\n", cfg.Database.Path)
	fmt.Printf("Documents:         %d\n", documents)
	fmt.Printf("Schedules:         %d (%d active)\n", schedules, activeSchedules)
	fmt.Println("Jobs:")
	for _, st := range []job.Status{job.StatusPending, job.StatusProcessing, job.StatusCompleted, job.StatusFailed, job.StatusCancelled} {
		fmt.Printf("  %-12s %d\n", string(st)+":", counts[st])
	}
	return nil
}

func runDbCleanup(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	database, err := openDatabase(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer database.Close()

	cutoff := time.Now().UTC().AddDate(0, 0, -cfg.Engine.RetentionDays)
	n, err := job.NewStore(database).DeleteSettledBefore(context.Background(), cutoff)
	if err != nil {
		return err
	}
	fmt.Printf("Deleted %d settled jobs older than %s\n", n, cutoff.Format("2006-01-02"))
	return nil
}
