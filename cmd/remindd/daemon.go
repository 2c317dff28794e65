package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/avlloyd/remindd/internal/dayclock"
	"github.com/avlloyd/remindd/internal/sync"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Start the sync daemon (foreground)",
	Long: `Start the background reconciliation daemon in foreground mode.

The daemon will:
  1. Run a sync cycle immediately, then on a fixed interval
  2. Fire an extra cycle at each logical day boundary
  3. Advance recurring reminder times when a new day starts
  4. Evict stale disabled reminders when the cache exceeds its ceiling

Press Ctrl+C to stop. For production use, run under a process manager.`,
	Run: func(cmd *cobra.Command, args []string) {
		// Config is needed before buildApp to pick the log destination.
		app, err := buildApp(os.Stderr)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		logOut := daemonLogWriter(app.cfg)
		if app.cfg.LogFile != "" {
			// Rewire onto the rotated file.
			app.cleanup()
			app, err = buildApp(logOut)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
		}
		defer app.cleanup()

		logger := log.New(logOut, "[daemon] ", log.LstdFlags)

		scheduler := dayclock.NewScheduler(app.cfg.DayStartHour, app.cfg.Location(),
			log.New(logOut, "[dayclock] ", log.LstdFlags))
		scheduler.Start()
		defer scheduler.Stop()

		driver := sync.NewDriver(app.sync, sync.DriverConfig{
			Interval: app.cfg.SyncInterval,
			Boundary: scheduler.Events(),
			Logger:   log.New(logOut, "[driver] ", log.LstdFlags),
		})
		driver.Start()
		defer driver.Stop()

		fmt.Printf("Starting remindd daemon...\n")
		fmt.Printf("   Endpoint: %s\n", app.cfg.Endpoint)
		fmt.Printf("   Cache: %s\n", app.cfg.DatabasePath)
		fmt.Printf("   Sync interval: %s\n", app.cfg.SyncInterval)
		fmt.Printf("   Day starts at: %02d:00\n", app.cfg.DayStartHour)
		fmt.Printf("\nPress Ctrl+C to stop\n\n")

		logger.Printf("Daemon started (interval %s, day start %02d:00)",
			app.cfg.SyncInterval, app.cfg.DayStartHour)

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig

		logger.Printf("Shutting down")
	},
}

func init() {
	rootCmd.AddCommand(daemonCmd)
}
