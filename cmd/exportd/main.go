package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/draywest/exportd/cmd/exportd/commands"
	"github.com/draywest/exportd/logger"
)

var rootCmd = &cobra.Command{
	Use:   "exportd",
	Short: "exportd - scheduled export engine",
	Long: `exportd - multi-tenant export scheduling and job lifecycle engine.

exportd turns recurring export configurations into concrete export jobs
and runs them through a priority queue with progress tracking.

Available commands:
  engine    - Run the daemon (schedule ticker + dispatch pool)
  db        - Database operations (migrate, stats, cleanup)
  jobs      - Inspect and manage export jobs
  schedules - Inspect and manage schedule definitions

Examples:
  exportd engine start               # Start the daemon
  exportd db stats                   # Show database statistics
  exportd jobs ls --org org1         # List an organization's jobs
  exportd schedules ls --org org1    # List schedule definitions`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		verbosity, _ := cmd.Flags().GetCount("verbose")
		if err := logger.Initialize(false, verbosity); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv)")

	rootCmd.AddCommand(commands.EngineCmd)
	rootCmd.AddCommand(commands.DbCmd)
	rootCmd.AddCommand(commands.JobsCmd)
	rootCmd.AddCommand(commands.SchedulesCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	defer logger.Sync()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
