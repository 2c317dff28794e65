package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one reconciliation cycle and exit",
	Long: `Run a single sync cycle against the remote reminder service.

The cycle pushes pending local mutations first, then pulls the remote
entity lists and merges them into the cache (last write wins by update
time), then runs day-boundary recomputation and retention.`,
	Run: func(cmd *cobra.Command, args []string) {
		app, err := buildApp(os.Stderr)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer app.cleanup()

		ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
		defer cancel()

		summary, err := app.engine.TriggerSyncNow(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error during sync: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("Sync complete in %v\n", summary.Duration.Round(time.Millisecond))
		fmt.Printf("   Pushed: %d (failed: %d, skipped: %d)\n", summary.Pushed, summary.PushFailed, summary.PushSkipped)
		for entityType, n := range summary.Pulled {
			fmt.Printf("   Pulled %ss: %d\n", entityType, n)
		}
		if summary.RemindersAdvanced > 0 {
			fmt.Printf("   Reminders advanced: %d\n", summary.RemindersAdvanced)
		}
		if summary.Evicted > 0 {
			fmt.Printf("   Evicted: %d\n", summary.Evicted)
		}
		if summary.OverageBytes > 0 {
			fmt.Printf("   Cache over ceiling by %s (no evictable rows)\n", formatBytes(summary.OverageBytes))
		}
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
}
