package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"metalledger/internal/app"
	"metalledger/internal/pricing"
)

var (
	showMetal string
	showLimit int
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display recent canonical prices for a metal",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}
		metal, err := pricing.ParseMetalSlug(showMetal)
		if err != nil {
			return fmt.Errorf("invalid --metal value: %w", err)
		}

		return getApp().Show(cmd.Context(), app.ShowOptions{
			Metal: metal,
			Limit: showLimit,
		})
	},
}

func init() {
	showCmd.Flags().StringVar(&showMetal, "metal", "", "Metal slug")
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of prices to display")
	_ = showCmd.MarkFlagRequired("metal")
}
