package cli

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"metalledger/internal/pricing"
)

var checkCmd = &cobra.Command{
	Use:   "check METAL VALUE",
	Short: "Show whether a price would pass the outlier check now",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		metal, err := pricing.ParseMetalSlug(args[0])
		if err != nil {
			return err
		}
		value, err := decimal.NewFromString(args[1])
		if err != nil {
			return fmt.Errorf("invalid value %q: %w", args[1], err)
		}
		return getApp().Check(cmd.Context(), metal, value)
	},
}
