package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Destroy local state and rebuild from the remote store",
	Long: `Destroy the local cache, metadata, and the pending operation queue -
including any mutations that have not been uploaded yet - and rebuild
everything from the remote store.

This is the escape hatch for a wedged local state. Anything still queued is
lost permanently.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")

		a, err := buildApp()
		if err != nil {
			return err
		}
		defer a.close()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if !force {
			pending, err := a.oplog.PendingCount(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("This deletes the local cache in %s", a.store.Dir())
			if pending > 0 {
				fmt.Printf(" and discards %d not-yet-uploaded operation(s)", pending)
			}
			fmt.Print(".\nContinue? [y/N] ")

			answer, _ := bufio.NewReader(os.Stdin).ReadString('\n')
			if strings.ToLower(strings.TrimSpace(answer)) != "y" {
				fmt.Println("Aborted")
				return nil
			}
		}

		a.monitor.Start()
		if err := a.coord.Initialize(ctx); err != nil {
			return err
		}
		if err := a.coord.ResetAndSync(ctx); err != nil {
			return err
		}

		fmt.Println("Local state cleared; resyncing from remote")
		return nil
	},
}

func init() {
	resetCmd.Flags().Bool("force", false, "Skip the confirmation prompt")
	rootCmd.AddCommand(resetCmd)
}
