package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ledgerhound/ledgerhound/internal/daemon"
	"github.com/ledgerhound/ledgerhound/internal/ui"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the sync daemon in the foreground",
	Long: `Run the sync daemon in the foreground.

The daemon syncs on a schedule (daemon.schedule in the config) and also
whenever the encrypted credential container changes on disk, so credentials
registered by another process are picked up without a restart. Stop with
Ctrl-C; interrupted work resumes on the next start.`,
	Run: func(cmd *cobra.Command, args []string) {
		a, err := openApp()
		if err != nil {
			fatal(err)
		}
		defer a.Close()

		d, err := daemon.New(a.db, a.syncer, a.vault, daemon.Config{
			Schedule: a.cfg.Daemon.Schedule,
			Debounce: a.cfg.Daemon.Debounce,
		}, a.logger)
		if err != nil {
			fatal(err)
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		fmt.Println(ui.Pass("Daemon running (schedule %s). Ctrl-C to stop.", a.cfg.Daemon.Schedule))
		if err := d.Start(ctx); err != nil {
			fatal(err)
		}
	},
}
