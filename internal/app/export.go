package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"metalledger/internal/storage"
)

// Export renders a metal's canonical history as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	ledger, closeLedger, err := a.openLedger(ctx, false)
	if err != nil {
		return err
	}
	defer closeLedger()

	return a.export(ctx, ledger, opts, time.Now().UTC())
}

func (a *App) export(ctx context.Context, ledger storage.CanonicalStore, opts ExportOptions, now time.Time) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}
	if opts.Metal == "" {
		return errors.New("--metal is required")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	to := now
	if opts.To != nil {
		to = opts.To.UTC()
	}
	from := to.Add(-a.Config.RollingWindow())
	if opts.From != nil {
		from = opts.From.UTC()
	}
	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	prices, err := ledger.ListCanonicalBetween(ctx, opts.Metal, from, to)
	if err != nil {
		return err
	}
	if len(prices) == 0 {
		a.Logger.Info().Str("metal", opts.Metal.String()).Msg("no canonical prices found for export window")
		return nil
	}

	downsampled := downsamplePrices(prices, opts.MaxPoints)
	a.Logger.Info().
		Str("metal", opts.Metal.String()).
		Int("total", len(prices)).
		Int("exported", len(downsampled)).
		Msg("exporting canonical prices")

	if opts.CSVPath != "" {
		if err := writePricesCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}
	if opts.PNGPath != "" {
		if err := writePricesPNG(opts.PNGPath, downsampled); err != nil {
			return err
		}
	}
	return nil
}

func downsamplePrices(prices []storage.CanonicalPrice, max int) []storage.CanonicalPrice {
	if max <= 0 || len(prices) <= max {
		return prices
	}
	if max == 1 {
		return prices[len(prices)-1:]
	}

	result := make([]storage.CanonicalPrice, 0, max)
	step := float64(len(prices)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(prices) {
			idx = len(prices) - 1
		}
		result = append(result, prices[idx])
	}
	return result
}

func writePricesCSV(path string, prices []storage.CanonicalPrice) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	header := []string{"price_ts", "metal", "value", "currency", "source", "raw_id"}
	if err := writer.Write(header); err != nil {
		return err
	}
	for _, p := range prices {
		record := []string{
			p.ObservedAt.UTC().Format(time.RFC3339),
			p.Metal.String(),
			p.Value.String(),
			p.Currency,
			p.Source.String(),
			strconv.FormatInt(p.RawID, 10),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func writePricesPNG(path string, prices []storage.CanonicalPrice) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(prices))
	y := make([]float64, len(prices))
	for i, p := range prices {
		x[i] = p.ObservedAt
		y[i] = p.Value.InexactFloat64()
	}

	metal := prices[0].Metal.String()
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name: "USD per unit",
			ValueFormatter: func(v interface{}) string {
				return chart.FloatValueFormatterWithFormat(v, "%.4f")
			},
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    metal,
				XValues: x,
				YValues: y,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
