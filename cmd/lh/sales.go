package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ledgerhound/ledgerhound/internal/ledger"
	"github.com/ledgerhound/ledgerhound/internal/ui"
)

var salesCmd = &cobra.Command{
	Use:   "sales",
	Short: "Query synced sales facts",
}

var salesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sales facts, newest first",
	Run: func(cmd *cobra.Command, args []string) {
		a, err := openApp()
		if err != nil {
			fatal(err)
		}
		defer a.Close()

		var filter ledger.Filter
		filter.StartDate, _ = cmd.Flags().GetString("from")
		filter.EndDate, _ = cmd.Flags().GetString("to")
		filter.AppID, _ = cmd.Flags().GetInt64("app")
		filter.CountryCode, _ = cmd.Flags().GetString("country")
		filter.CredentialID, _ = cmd.Flags().GetString("key")
		filter.Limit, _ = cmd.Flags().GetInt("limit")

		facts, err := a.db.GetFacts(context.Background(), filter)
		if err != nil {
			fatal(err)
		}
		if len(facts) == 0 {
			fmt.Println(ui.Warn("No sales match. Has 'lh sync' run yet?"))
			return
		}

		fmt.Println(ui.Header(fmt.Sprintf("%-12s %-24s %-8s %6s %12s", "DATE", "APP", "COUNTRY", "UNITS", "NET USD")))
		var units int64
		var net float64
		for _, f := range facts {
			name := fmt.Sprintf("%d", f.AppID)
			if f.AppName != nil {
				name = *f.AppName
			}
			if len(name) > 24 {
				name = name[:21] + "..."
			}
			rowNet := 0.0
			if f.NetSalesUSD != nil {
				rowNet = *f.NetSalesUSD
			}
			fmt.Printf("%-12s %-24s %-8s %6d %12.2f\n", f.Date, name, f.CountryCode, f.UnitsSold, rowNet)
			units += f.UnitsSold
			net += rowNet
		}
		fmt.Println(ui.Faint(fmt.Sprintf("%d row(s), %d unit(s), %.2f USD net", len(facts), units, net)))
	},
}

func init() {
	salesListCmd.Flags().String("from", "", "start date (inclusive, YYYY-MM-DD)")
	salesListCmd.Flags().String("to", "", "end date (inclusive, YYYY-MM-DD)")
	salesListCmd.Flags().Int64("app", 0, "filter by app id")
	salesListCmd.Flags().String("country", "", "filter by country code")
	salesListCmd.Flags().String("key", "", "filter by credential id")
	salesListCmd.Flags().Int("limit", 100, "maximum rows (0 = all)")

	salesCmd.AddCommand(salesListCmd)
}
