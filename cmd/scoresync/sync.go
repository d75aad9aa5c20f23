package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"scoresync/internal/syncer"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Drain the pending queue once and exit",
	Long: `Connect, drain the pending operation queue, run a full game-record
backfill, and exit. Useful from scripts and cron; the daemon does this
continuously.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		timeout, _ := cmd.Flags().GetDuration("timeout")

		a, err := buildApp()
		if err != nil {
			return err
		}
		defer a.close()

		a.monitor.Start()

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		// Give the first probe a moment to settle before deciding we are
		// offline.
		deadline := time.Now().Add(5 * time.Second)
		for !a.monitor.Online() && time.Now().Before(deadline) {
			time.Sleep(200 * time.Millisecond)
		}
		if !a.monitor.Online() {
			return fmt.Errorf("remote store is not reachable")
		}

		if err := a.coord.Initialize(ctx); err != nil {
			return err
		}
		a.coord.ForceSync()

		ticker := time.NewTicker(250 * time.Millisecond)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return fmt.Errorf("sync did not finish within %s", timeout)
			case <-ticker.C:
			}

			status := a.coord.Status()
			if status.State == syncer.StateIdle && status.PendingOps == 0 {
				if status.ExhaustedOps > 0 {
					fmt.Printf("Sync finished with %d permanently failed operations\n", status.ExhaustedOps)
					fmt.Println("Run 'scoresync status' for details")
				} else {
					fmt.Println("Sync complete")
				}
				return nil
			}
		}
	},
}

func init() {
	syncCmd.Flags().Duration("timeout", 2*time.Minute, "Give up after this long")
	rootCmd.AddCommand(syncCmd)
}
