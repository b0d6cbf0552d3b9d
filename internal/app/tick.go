package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"metalledger/internal/adapter"
	"metalledger/internal/ingest"
	"metalledger/internal/pricing"
)

// Tick runs one ingestion pass now and prints its report.
func (a *App) Tick(ctx context.Context, opts TickOptions) error {
	var inbox *adapter.DealerInbox
	if opts.DealerFile != "" {
		subs, err := readDealerFile(opts.DealerFile)
		if err != nil {
			return err
		}
		inbox = adapter.NewDealerInbox()
		for i, sub := range subs {
			if _, err := inbox.Enqueue(sub); err != nil {
				return fmt.Errorf("dealer file row %d: %w", i+2, err)
			}
		}
		a.Logger.Info().Int("count", inbox.Pending()).Msg("queued dealer postings")
	}

	svc, closeAll, err := a.newService(ctx, serviceParts{
		adapters: a.newAdapters(inbox),
		dryRun:   opts.DryRun,
	})
	if err != nil {
		return err
	}
	defer closeAll()

	report, err := svc.Tick(ctx, time.Now().UTC())
	if err != nil {
		return err
	}
	writeTickReport(a.Out, report)
	return nil
}

func readDealerFile(path string) ([]adapter.Submission, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dealer file: %w", err)
	}
	defer file.Close()
	return adapter.ReadSubmissionsCSV(file)
}

func writeTickReport(out io.Writer, report ingest.TickReport) {
	if report.Skipped {
		fmt.Fprintln(out, "tick skipped: another instance holds the ingest lock")
		return
	}
	fmt.Fprintf(out, "request %s at %s\n", report.RequestID, report.At.Format(time.RFC3339))
	fmt.Fprintf(out, "fetched=%d accepted=%d rejected=%d promoted=%d duplicates=%d\n",
		report.Fetched, report.Accepted, report.Rejected, report.Promoted, report.Duplicates)

	if len(report.AdapterErrors) > 0 {
		sources := make([]string, 0, len(report.AdapterErrors))
		for source := range report.AdapterErrors {
			sources = append(sources, source.String())
		}
		sort.Strings(sources)
		for _, source := range sources {
			fmt.Fprintf(out, "adapter %s failed: %s\n", source, sanitizeInline(report.AdapterErrors[pricing.SourceID(source)]))
		}
	}

	if len(report.Rejections) == 0 {
		return
	}
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Metal\tSource\tVenue\tValue\tReason")
	for _, r := range report.Rejections {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\n",
			r.Observation.Metal,
			r.Observation.Source,
			r.Observation.Venue,
			r.Observation.Value.String(),
			r.Reason.String(),
		)
	}
	writer.Flush()
}

// Submit records one dealer posting immediately and prints the verdict.
func (a *App) Submit(ctx context.Context, sub adapter.Submission) error {
	svc, closeAll, err := a.newService(ctx, serviceParts{})
	if err != nil {
		return err
	}
	defer closeAll()

	result, err := svc.Submit(ctx, sub)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "status: %s\nprice_id: %s\nmetal: %s\nper_lb: %s\n",
		result.Status, result.PriceID, result.Metal, result.PerPound.String())
	if result.Reason != "" {
		fmt.Fprintf(a.Out, "reason: %s\n", result.Reason)
	}
	return nil
}

// Check prints how value would be classified for metal right now.
func (a *App) Check(ctx context.Context, metal pricing.MetalSlug, value decimal.Decimal) error {
	svc, closeAll, err := a.newService(ctx, serviceParts{})
	if err != nil {
		return err
	}
	defer closeAll()

	result, err := svc.Check(ctx, metal, value)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.Out, result.String())
	return nil
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
