package cli

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"metalledger/internal/adapter"
)

var (
	submitDealer string
	submitMetal  string
	submitPrice  string
	submitUnit   string
	submitZIP    string
	submitNotes  string
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Record a dealer buy price",
	RunE: func(cmd *cobra.Command, args []string) error {
		price, err := decimal.NewFromString(submitPrice)
		if err != nil {
			return fmt.Errorf("invalid --price value: %w", err)
		}

		return getApp().Submit(cmd.Context(), adapter.Submission{
			DealerID:    submitDealer,
			Metal:       submitMetal,
			Price:       price,
			Unit:        submitUnit,
			LocationZIP: submitZIP,
			Notes:       submitNotes,
		})
	},
}

func init() {
	submitCmd.Flags().StringVar(&submitDealer, "dealer", "", "Dealer identifier")
	submitCmd.Flags().StringVar(&submitMetal, "metal", "", "Metal slug, e.g. CU_BARE")
	submitCmd.Flags().StringVar(&submitPrice, "price", "", "Buy price in USD")
	submitCmd.Flags().StringVar(&submitUnit, "unit", "lb", "Price unit: lb or ton")
	submitCmd.Flags().StringVar(&submitZIP, "zip", "", "Dealer location ZIP code")
	submitCmd.Flags().StringVar(&submitNotes, "notes", "", "Free-form notes")
	_ = submitCmd.MarkFlagRequired("dealer")
	_ = submitCmd.MarkFlagRequired("metal")
	_ = submitCmd.MarkFlagRequired("price")
}
