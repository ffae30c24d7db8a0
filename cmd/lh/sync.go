package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ledgerhound/ledgerhound/internal/syncer"
	"github.com/ledgerhound/ledgerhound/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one sync pass",
	Long: `Run one sync pass: recover interrupted work, discover changed report
dates, fetch them, and commit the facts.

Without flags every registered credential is synced. A failed date stays
queued and is retried on the next run; already-committed dates are never
rolled back.`,
	Run: func(cmd *cobra.Command, args []string) {
		a, err := openApp()
		if err != nil {
			fatal(err)
		}
		defer a.Close()

		ctx := context.Background()
		keyID, _ := cmd.Flags().GetString("key")

		// Crash recovery happens once per process, before any claims.
		if reset, err := a.db.ResetStuck(ctx); err != nil {
			fatal(err)
		} else if reset > 0 {
			fmt.Println(ui.Warn("Recovered %d interrupted task(s) from a previous run", reset))
		}

		start := time.Now()
		var results []syncer.Result
		if keyID != "" {
			res, err := a.syncer.Run(ctx, keyID)
			if err != nil {
				fatal(err)
			}
			results = append(results, *res)
		} else {
			results, err = a.syncer.RunAll(ctx)
			if err != nil && len(results) == 0 {
				fatal(err)
			}
			if err != nil {
				fmt.Println(ui.Warn("Some credentials failed: %v", err))
			}
		}

		for _, res := range results {
			line := fmt.Sprintf("%s: %d date(s), %d record(s), watermark %d",
				ui.Accent(res.CredentialID), res.DatesProcessed, res.Records, res.Watermark)
			if res.DatesFailed > 0 {
				fmt.Println(ui.Warn("%s, %d date(s) failed and stay queued", line, res.DatesFailed))
			} else {
				fmt.Println(ui.Pass("%s", line))
			}
		}
		fmt.Println(ui.Faint(fmt.Sprintf("Done in %v", time.Since(start).Round(time.Millisecond))))
	},
}

func init() {
	syncCmd.Flags().String("key", "", "sync only this credential id")
}
