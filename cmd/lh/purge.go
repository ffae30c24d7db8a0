package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ledgerhound/ledgerhound/internal/ui"
)

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete synced data",
	Long: `Delete synced data.

With --key, clears one credential's facts, tasks, and watermark but keeps
the credential registered; the next sync re-fetches from scratch. Without
flags, wipes everything including registered credentials and their secrets.`,
	Run: func(cmd *cobra.Command, args []string) {
		a, err := openApp()
		if err != nil {
			fatal(err)
		}
		defer a.Close()

		ctx := context.Background()
		keyID, _ := cmd.Flags().GetString("key")
		yes, _ := cmd.Flags().GetBool("yes")

		if keyID != "" {
			if _, err := a.db.GetCredential(ctx, keyID); err != nil {
				fatal(err)
			}
			if !yes && !confirm(fmt.Sprintf("Delete all synced data for %s?", keyID)) {
				fmt.Println("Aborted.")
				return
			}
			if err := a.db.ClearCredential(ctx, keyID); err != nil {
				fatal(err)
			}
			fmt.Println(ui.Pass("Cleared data for %s; next sync starts fresh", keyID))
			return
		}

		if !yes && !confirm("Delete ALL synced data, credentials, and secrets?") {
			fmt.Println("Aborted.")
			return
		}
		if err := a.db.ClearAll(ctx); err != nil {
			fatal(err)
		}
		if err := a.vault.DeleteAll(); err != nil {
			fatal(err)
		}
		fmt.Println(ui.Pass("All data purged"))
	},
}

func confirm(prompt string) bool {
	fmt.Printf("%s [y/N] ", prompt)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

func init() {
	purgeCmd.Flags().String("key", "", "purge only this credential's data")
	purgeCmd.Flags().Bool("yes", false, "skip confirmation")
}
