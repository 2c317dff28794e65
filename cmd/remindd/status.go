package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show cache and queue status",
	Long: `Display the current state of the local reminder cache.

Shows:
  - Cache file location and estimated size
  - Number of cached reminders
  - Pending mutation queue depth and size
  - Last successful sync time`,
	Run: func(cmd *cobra.Command, args []string) {
		app, err := buildApp(io.Discard)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer app.cleanup()

		stats, err := app.engine.Stats(cmd.Context())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading cache: %v\n", err)
			os.Exit(1)
		}

		exhausted, err := app.queue.Exhausted(cmd.Context())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading queue: %v\n", err)
			os.Exit(1)
		}

		state := app.sync.Notifier().Current()

		fmt.Println()
		fmt.Printf("Cache:    %s\n", app.cfg.DatabasePath)
		fmt.Printf("Size:     %s (ceiling %s)\n",
			formatBytes(stats.CacheSizeBytes), formatBytes(app.cfg.RetentionCeilingBytes))
		fmt.Printf("Tasks:    %d\n", stats.Tasks)
		fmt.Printf("Pending:  %d mutations (%s)\n", stats.PendingMutations, formatBytes(stats.QueueSizeBytes))
		if len(exhausted) > 0 {
			fmt.Printf("Stuck:    %d mutations out of retries\n", len(exhausted))
		}
		fmt.Printf("Sync:     %s (last success %s)\n", state.Phase, formatTime(state.LastSuccess))
		if state.Message != "" {
			fmt.Printf("Error:    %s\n", state.Message)
		}
		fmt.Println()
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
