package app

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"metalledger/internal/storage"
)

// Show prints the most recent canonical prices for a metal.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	ledger, closeLedger, err := a.openLedger(ctx, false)
	if err != nil {
		return err
	}
	defer closeLedger()

	return a.show(ctx, ledger, opts)
}

func (a *App) show(ctx context.Context, ledger storage.CanonicalStore, opts ShowOptions) error {
	if opts.Metal == "" {
		return errors.New("--metal is required")
	}

	prices, err := ledger.ListRecentCanonical(ctx, opts.Metal, opts.Limit)
	if err != nil {
		return err
	}
	if len(prices) == 0 {
		fmt.Fprintf(a.Out, "no canonical prices for %s\n", opts.Metal)
		return nil
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tMetal\tValue\tCurrency\tSource\tRaw ID")
	for _, p := range prices {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%d\n",
			p.ObservedAt.UTC().Format(time.RFC3339),
			p.Metal,
			p.Value.StringFixed(4),
			p.Currency,
			p.Source,
			p.RawID,
		)
	}
	return writer.Flush()
}
