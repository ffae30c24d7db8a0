package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ledgerhound/ledgerhound/internal/store"
	"github.com/ledgerhound/ledgerhound/internal/ui"
)

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Inspect and maintain the sync task queue",
}

var tasksStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show queue counts and pending dates",
	Run: func(cmd *cobra.Command, args []string) {
		a, err := openApp()
		if err != nil {
			fatal(err)
		}
		defer a.Close()

		ctx := context.Background()
		counts, err := a.db.CountByStatus(ctx)
		if err != nil {
			fatal(err)
		}

		fmt.Println(ui.Header("Sync task queue"))
		fmt.Printf("  todo:        %d\n", counts[store.TaskTodo])
		fmt.Printf("  in_progress: %d\n", counts[store.TaskInProgress])
		fmt.Printf("  done:        %d\n", counts[store.TaskDone])

		if counts[store.TaskInProgress] > 0 {
			fmt.Println(ui.Warn("in_progress tasks mean a sync is running — or a crashed one; 'lh tasks reset' recovers them"))
		}

		pending, err := a.db.Pending(ctx, "")
		if err != nil {
			fatal(err)
		}
		for _, t := range pending {
			fmt.Printf("  %s %s %s\n", ui.Faint("pending"), t.Date, ui.Accent(t.CredentialID))
		}
	},
}

var tasksResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Return interrupted (in_progress) tasks to the queue",
	Run: func(cmd *cobra.Command, args []string) {
		a, err := openApp()
		if err != nil {
			fatal(err)
		}
		defer a.Close()

		n, err := a.db.ResetStuck(context.Background())
		if err != nil {
			fatal(err)
		}
		if n == 0 {
			fmt.Println(ui.Pass("No interrupted tasks"))
			return
		}
		fmt.Println(ui.Pass("Returned %d task(s) to the queue", n))
	},
}

var tasksPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete completed tasks",
	Run: func(cmd *cobra.Command, args []string) {
		a, err := openApp()
		if err != nil {
			fatal(err)
		}
		defer a.Close()

		n, err := a.db.PurgeDone(context.Background())
		if err != nil {
			fatal(err)
		}
		fmt.Println(ui.Pass("Purged %d completed task(s)", n))
	},
}

func init() {
	tasksCmd.AddCommand(tasksStatusCmd)
	tasksCmd.AddCommand(tasksResetCmd)
	tasksCmd.AddCommand(tasksPurgeCmd)
}
