// Retrieverd is an actor-weighted retrieval daemon.
//
// It serves semantic search over a shared resource corpus, filtered by
// per-actor scope authorization with an audit trail, and re-ranked by a
// per-(actor, resource) importance ledger that decays nightly.
//
// Usage:
//
//	# Start the daemon
//	retrieverd serve
//
//	# Run one decay sweep and exit
//	retrieverd decay
//
//	# Bootstrap an actor key
//	retrieverd keys generate --actor 1 --name ci --scope project:demo
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	// configPath is the path to the YAML config file; empty uses the
	// default path.
	configPath string
	// version information (set via ldflags during build)
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "retrieverd",
	Short:   "Actor-weighted retrieval daemon",
	Long:    `retrieverd serves semantic search with scope-based authorization and per-actor importance ranking.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (default ~/.config/retrieverd/config.yaml)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(decayCmd)
	rootCmd.AddCommand(keysCmd)
}
