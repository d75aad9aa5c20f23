package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"scoresync/internal/dashboard"
	"scoresync/internal/store"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the sync daemon",
	Long: `Run the sync daemon: serve the local cache, drain the pending operation
queue whenever the device is online, and keep the cache fresh from remote
snapshot subscriptions.

A local status server exposes the current sync state:
  GET /status    one-shot JSON status
  WS  /ws        live status stream

Example usage:
  scoresync daemon
  scoresync daemon --cache-dir /tmp/scores`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}
		defer a.close()

		a.monitor.Start()

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		if err := a.coord.Initialize(ctx); err != nil {
			return fmt.Errorf("failed to initialize sync: %w", err)
		}

		// Pick up cache changes made by other processes.
		watcher, err := store.NewWatcher()
		if err != nil {
			return err
		}
		if err := watcher.Start(a.store.Dir()); err != nil {
			return err
		}
		defer func() {
			if err := watcher.Stop(); err != nil {
				a.logger.Printf("Warning: failed to stop watcher: %v", err)
			}
		}()

		go func() {
			for range watcher.Events() {
				if err := a.coord.Rehydrate(); err != nil {
					a.logger.Printf("Warning: rehydrate failed: %v", err)
				}
			}
		}()
		go func() {
			for err := range watcher.Errors() {
				a.logger.Printf("Watcher error: %v", err)
			}
		}()

		if a.cfg.DashboardAddr != "" {
			server := dashboard.NewServer(a.coord, &dashboard.Config{
				Addr:   a.cfg.DashboardAddr,
				Logger: a.cfg.NewLogger("[dashboard] "),
			})
			if err := server.Start(); err != nil {
				return err
			}
			defer func() {
				if err := server.Stop(); err != nil {
					a.logger.Printf("Warning: dashboard shutdown error: %v", err)
				}
			}()
			fmt.Printf("Status: http://%s/status\n", server.GetAddr())
		}

		fmt.Printf("Sync daemon running (cache: %s)\n", a.store.Dir())
		fmt.Println("Press Ctrl+C to stop...")

		<-ctx.Done()

		fmt.Println("\nShutting down...")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(daemonCmd)
}
