package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/draywest/exportd/audit"
	"github.com/draywest/exportd/config"
	"github.com/draywest/exportd/dispatch"
	"github.com/draywest/exportd/job"
	"github.com/draywest/exportd/logger"
	"github.com/draywest/exportd/schedule"
)

// EngineCmd groups daemon operations.
var EngineCmd = &cobra.Command{
	Use:   "engine",
	Short: "Manage the export engine daemon",
	Long: `Manage the export engine daemon.

The daemon runs two loops against the configured database:
- the schedule ticker, which fires due schedule definitions
- the dispatch pool, which processes pending export jobs

Examples:
  exportd engine start              # Start daemon in foreground
  exportd engine start --workers 4  # Start with 4 concurrent workers`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var engineStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the export engine in the foreground",
	Long: `Start the export engine in foreground mode.

The engine will:
- Recover jobs orphaned by a previous run
- Start the dispatch worker pool
- Start the schedule firing loop
- Run until interrupted (Ctrl+C), finishing in-flight jobs first`,
	RunE: runEngineStart,
}

func init() {
	EngineCmd.AddCommand(engineStartCmd)
	engineStartCmd.Flags().Int("workers", 0, "Number of concurrent export workers (overrides config)")
}

func runEngineStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if workers, _ := cmd.Flags().GetInt("workers"); workers > 0 {
		cfg.Engine.Workers = workers
	}

	database, err := openDatabase(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer database.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sink := audit.NewSQLiteSink(database)
	jobs := job.NewService(job.ServiceConfig{
		DB:             database,
		Audit:          sink,
		MaxItems:       cfg.Selection.MaxItems,
		StuckThreshold: time.Duration(cfg.Engine.StuckThresholdMinutes) * time.Minute,
		Logger:         logger.Logger,
	})

	pool := dispatch.NewPool(jobs, &dispatch.StubRenderer{}, nil, dispatch.PoolConfig{
		Workers:          cfg.Engine.Workers,
		PollInterval:     time.Duration(cfg.Engine.PollIntervalSeconds) * time.Second,
		DequeuePerSecond: cfg.Engine.DequeuePerSecond,
	}, logger.Logger)
	if err := pool.Start(ctx); err != nil {
		return err
	}

	ticker := schedule.NewTicker(
		schedule.NewStore(database),
		schedule.NewFiringStore(database),
		jobs,
		time.Duration(cfg.Engine.TickerIntervalSeconds)*time.Second,
		logger.Logger)
	ticker.Start(ctx)

	fmt.Printf("Export engine started\n")
	fmt.Printf("  Database:         %s\n", cfg.Database.Path)
	fmt.Printf("  Workers:          %d\n", cfg.Engine.Workers)
	fmt.Printf("  Ticker interval:  %ds\n", cfg.Engine.TickerIntervalSeconds)
	fmt.Printf("  Selection limit:  %d items\n", cfg.Selection.MaxItems)
	fmt.Printf("\nPress Ctrl+C for graceful shutdown\n\n")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	fmt.Println("\nShutting down...")

	// Reverse startup order: stop firing new jobs, then drain workers.
	ticker.Stop()
	pool.Stop()
	cancel()

	fmt.Println("Export engine stopped")
	return nil
}
