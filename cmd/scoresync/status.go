package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"scoresync/internal/oplog"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show local sync state",
	Long: `Show the local side of sync state: cache metadata, pending and
permanently failed operations. Reads the cache directly; the daemon does not
need to be running.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")

		a, err := buildApp()
		if err != nil {
			return err
		}
		defer func() {
			if err := a.oplog.Close(); err != nil {
				a.logger.Printf("Warning: failed to close operation log: %v", err)
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		pending, err := a.oplog.PendingCount(ctx)
		if err != nil {
			return err
		}
		exhausted, err := a.oplog.ExhaustedCount(ctx)
		if err != nil {
			return err
		}
		meta := a.store.Meta()

		if asJSON {
			return json.NewEncoder(os.Stdout).Encode(map[string]interface{}{
				"cache_dir":      a.store.Dir(),
				"pending_ops":    pending,
				"exhausted_ops":  exhausted,
				"full_sync_done": meta.FullSyncDone,
				"last_sync":      meta.LastSync,
			})
		}

		fmt.Printf("Cache:          %s\n", a.store.Dir())
		fmt.Printf("Pending ops:    %d\n", pending)
		fmt.Printf("Exhausted ops:  %d\n", exhausted)
		fmt.Printf("Full sync done: %v\n", meta.FullSyncDone)
		if meta.LastSync.IsZero() {
			fmt.Println("Last sync:      never")
		} else {
			fmt.Printf("Last sync:      %s\n", meta.LastSync.Format(time.RFC3339))
		}

		if exhausted > 0 {
			fmt.Println("\nPermanently failed operations:")
			ops, err := a.oplog.List(ctx)
			if err != nil {
				return err
			}
			for _, op := range ops {
				if op.Status == oplog.StatusFailed && op.RetryCount >= oplog.MaxRetries {
					fmt.Printf("  %s %s (%s): %s\n", op.ID, op.Type, op.LocalID, op.LastError)
				}
			}
		}

		return nil
	},
}

func init() {
	statusCmd.Flags().Bool("json", false, "Output as JSON")
	rootCmd.AddCommand(statusCmd)
}
