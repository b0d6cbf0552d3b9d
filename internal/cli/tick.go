package cli

import (
	"github.com/spf13/cobra"

	"metalledger/internal/app"
)

var (
	tickDryRun     bool
	tickDealerFile string
)

var tickCmd = &cobra.Command{
	Use:   "tick",
	Short: "Run one ingestion tick now",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Tick(cmd.Context(), app.TickOptions{
			DryRun:     tickDryRun,
			DealerFile: tickDealerFile,
		})
	},
}

func init() {
	tickCmd.Flags().BoolVar(&tickDryRun, "dry-run", false, "Use an in-memory ledger and skip cache and alerts")
	tickCmd.Flags().StringVar(&tickDealerFile, "dealer-file", "", "CSV of dealer postings to include in this tick")
}
