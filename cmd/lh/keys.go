package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/ledgerhound/ledgerhound/internal/ledger"
	"github.com/ledgerhound/ledgerhound/internal/ui"
)

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage API credentials",
	Long: `Manage partner API credentials.

Secrets are encrypted at rest; commands and listings only ever show the
last four characters.`,
}

var keysAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Register a new API credential",
	Long: `Register a new API credential.

Prompts for the secret (input is hidden) and stores it encrypted. The
credential gets a generated id used everywhere else: sync scoping, fact
attribution, and removal.`,
	Run: func(cmd *cobra.Command, args []string) {
		a, err := openApp()
		if err != nil {
			fatal(err)
		}
		defer a.Close()

		name, _ := cmd.Flags().GetString("name")

		fmt.Print("API secret (input hidden): ")
		raw, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err != nil {
			fatal(fmt.Errorf("failed to read secret: %w", err))
		}
		secret := strings.TrimSpace(string(raw))
		if secret == "" {
			fatal(fmt.Errorf("secret must not be empty"))
		}

		id, err := a.vault.Register(secret)
		if err != nil {
			fatal(err)
		}
		if err := a.db.AddCredential(context.Background(), ledger.Credential{
			ID:          id,
			DisplayName: name,
			LastFour:    ledger.Fingerprint(secret),
		}); err != nil {
			// Metadata failed: do not leave an unlisted secret behind.
			_ = a.vault.Delete(id)
			fatal(err)
		}

		fmt.Println(ui.Pass("Credential registered"))
		fmt.Printf("   ID:   %s\n", ui.Accent(id))
		fmt.Printf("   Key:  %s\n", ui.Faint("…"+ledger.Fingerprint(secret)))
	},
}

var keysListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered credentials",
	Run: func(cmd *cobra.Command, args []string) {
		a, err := openApp()
		if err != nil {
			fatal(err)
		}
		defer a.Close()

		creds, err := a.db.Credentials(context.Background())
		if err != nil {
			fatal(err)
		}
		if len(creds) == 0 {
			fmt.Println(ui.Warn("No credentials registered. Run 'lh keys add' first."))
			return
		}

		fmt.Println(ui.Header("Credentials"))
		for _, c := range creds {
			name := c.DisplayName
			if name == "" {
				name = "(unnamed)"
			}
			added := time.UnixMilli(c.CreatedAt).Format("2006-01-02")
			fmt.Printf("  %s  …%s  %s  %s\n",
				ui.Accent(c.ID), c.LastFour, name, ui.Faint("added "+added))
		}
	},
}

var keysRenameCmd = &cobra.Command{
	Use:   "rename <id> <name>",
	Short: "Rename a credential",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		a, err := openApp()
		if err != nil {
			fatal(err)
		}
		defer a.Close()

		if err := a.db.RenameCredential(context.Background(), args[0], args[1]); err != nil {
			fatal(err)
		}
		fmt.Println(ui.Pass("Renamed %s to %q", args[0], args[1]))
	},
}

var keysRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Remove a credential and all its synced data",
	Long: `Remove a credential: its synced facts, queued tasks, watermark,
metadata, and finally the encrypted secret.

Data is cleared before the secret so an interruption never leaves rows
attributed to a credential that no longer exists.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a, err := openApp()
		if err != nil {
			fatal(err)
		}
		defer a.Close()

		ctx := context.Background()
		id := args[0]

		if _, err := a.db.GetCredential(ctx, id); err != nil {
			fatal(err)
		}
		if err := a.db.ClearCredential(ctx, id); err != nil {
			fatal(err)
		}
		if err := a.db.DeleteCredential(ctx, id); err != nil {
			fatal(err)
		}
		if err := a.vault.Delete(id); err != nil {
			fatal(err)
		}
		fmt.Println(ui.Pass("Removed credential %s and its data", id))
	},
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, ui.Fail("%v", err))
	os.Exit(1)
}

func init() {
	keysAddCmd.Flags().String("name", "", "display name for the credential")

	keysCmd.AddCommand(keysAddCmd)
	keysCmd.AddCommand(keysListCmd)
	keysCmd.AddCommand(keysRenameCmd)
	keysCmd.AddCommand(keysRemoveCmd)
}
