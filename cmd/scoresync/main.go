// Command scoresync runs the offline-first sync daemon for the scorekeeper:
// it serves the local cache, queues mutations while offline, and replays them
// against the remote document store when connectivity allows.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	cfgFile  string
	cacheDir string
)

var rootCmd = &cobra.Command{
	Use:   "scoresync",
	Short: "Offline-first sync for the scorekeeper",
	Long: `scoresync keeps a local cache of players, matches, and game records in
sync with the remote document store.

All reads are served from the local cache and render instantly. Mutations
persist locally first, queue in a durable operation log, and upload in the
background - in order, one at a time - whenever the device is online.`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file path")
	rootCmd.PersistentFlags().StringVar(&cacheDir, "cache-dir", "", "Cache directory (overrides config)")
}
