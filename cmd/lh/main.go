// Command lh is the ledgerhound CLI: it keeps a local, queryable copy of
// partner sales reports in sync with the partner financials API.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	flagConfig  string
	flagDataDir string
)

var rootCmd = &cobra.Command{
	Use:   "lh",
	Short: "Partner sales ledger sync",
	Long: `ledgerhound keeps a local SQLite copy of partner sales reports.

It discovers changed report dates through the partner financials API,
fetches them incrementally, and stores de-duplicated daily sales facts
that survive crashes and re-syncs. API credentials are encrypted at rest.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&flagDataDir, "data-dir", "", "data directory override")

	rootCmd.AddCommand(keysCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(salesCmd)
	rootCmd.AddCommand(tasksCmd)
	rootCmd.AddCommand(purgeCmd)
}
