package adapter

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"metalledger/internal/pricing"
)

const lbmaVenue = "LBMA_AM"

// syntheticFix is served when neither a CSV file nor an API key is set.
var syntheticFix = []struct {
	symbol string
	price  string
}{
	{"XAU", "2038.75"},
	{"XAG", "23.72"},
}

// LBMAOptions parameterise the LBMA adapter.
type LBMAOptions struct {
	BaseURL string
	APIKey  string
	// CSVPath points at a local fix history with columns Date and one of
	// "USD AM", "XAU AM" or "AM". It takes precedence over the API.
	CSVPath string
}

// LBMA reports the London bullion AM fixes.
type LBMA struct {
	opts    LBMAOptions
	client  HTTPClient
	baseURL string
	logger  zerolog.Logger
	now     func() time.Time
}

// NewLBMA constructs the LBMA adapter.
func NewLBMA(opts LBMAOptions, client HTTPClient, logger zerolog.Logger) *LBMA {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.lbma.org.uk"
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &LBMA{
		opts:    opts,
		client:  client,
		baseURL: baseURL,
		logger:  logger.With().Str("component", "lbma").Logger(),
		now:     time.Now,
	}
}

// Source implements Adapter.
func (l *LBMA) Source() pricing.SourceID { return pricing.SourceLBMA }

// Fetch implements Adapter. A failing live call degrades to synthetic fixes.
func (l *LBMA) Fetch(ctx context.Context) ([]pricing.PriceObservation, error) {
	fetchedAt := l.now().UTC()

	if path := strings.TrimSpace(l.opts.CSVPath); path != "" {
		file, err := os.Open(path)
		switch {
		case err == nil:
			defer file.Close()
			l.logger.Info().Str("path", path).Msg("reading fixes from local csv")
			return l.parseCSV(file)
		case errors.Is(err, os.ErrNotExist):
			l.logger.Warn().Str("path", path).Msg("lbma csv not found, ignoring")
		default:
			return nil, fmt.Errorf("open lbma csv: %w", err)
		}
	}

	if strings.TrimSpace(l.opts.APIKey) != "" {
		prices, err := l.fetchLive(ctx, fetchedAt)
		if err == nil {
			return prices, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		l.logger.Warn().Err(err).Msg("lbma live fetch failed, falling back to synthetic fixes")
	}

	return l.synthetic(fetchedAt), nil
}

func fixTime(day time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), 10, 30, 0, 0, time.UTC)
}

func (l *LBMA) synthetic(fetchedAt time.Time) []pricing.PriceObservation {
	at := fixTime(fetchedAt)
	out := make([]pricing.PriceObservation, 0, len(syntheticFix))
	for _, fix := range syntheticFix {
		out = append(out, pricing.PriceObservation{
			Source:     pricing.SourceLBMA,
			Metal:      pricing.MetalSlug(fix.symbol),
			Venue:      lbmaVenue,
			ObservedAt: at,
			Value:      decimal.RequireFromString(fix.price),
			Currency:   pricing.DefaultCurrency,
			ExternalID: fmt.Sprintf("lbma_synthetic_%s_%s", fix.symbol, at.Format(time.DateOnly)),
		})
	}
	return out
}

// parseCSV reads gold AM fixes. Malformed rows are logged and skipped.
func (l *LBMA) parseCSV(r io.Reader) ([]pricing.PriceObservation, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("read lbma csv header: %w", err)
	}
	dateCol, amCol := -1, -1
	for i, name := range header {
		switch strings.TrimSpace(name) {
		case "Date":
			dateCol = i
		case "USD AM", "XAU AM", "AM":
			if amCol < 0 {
				amCol = i
			}
		}
	}
	if dateCol < 0 || amCol < 0 {
		return nil, fmt.Errorf("lbma csv needs Date and AM columns, got %v", header)
	}

	out := make([]pricing.PriceObservation, 0)
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read lbma csv: %w", err)
		}
		if dateCol >= len(record) || amCol >= len(record) {
			l.logger.Warn().Strs("row", record).Msg("short lbma csv row")
			continue
		}
		day, err := time.Parse(time.DateOnly, strings.TrimSpace(record[dateCol]))
		if err != nil {
			l.logger.Warn().Err(err).Strs("row", record).Msg("bad lbma csv date")
			continue
		}
		raw := strings.ReplaceAll(strings.TrimSpace(record[amCol]), ",", "")
		if raw == "" {
			continue
		}
		value, err := decimal.NewFromString(raw)
		if err != nil {
			l.logger.Warn().Err(err).Strs("row", record).Msg("bad lbma csv value")
			continue
		}
		at := fixTime(day)
		out = append(out, pricing.PriceObservation{
			Source:     pricing.SourceLBMA,
			Metal:      "XAU",
			Venue:      lbmaVenue,
			ObservedAt: at,
			Value:      value,
			Currency:   pricing.DefaultCurrency,
			ExternalID: fmt.Sprintf("lbma_xau_am_%s", at.Format(time.DateOnly)),
		})
	}
	return out, nil
}

type lbmaFix struct {
	AM *decimal.Decimal `json:"am"`
	PM *decimal.Decimal `json:"pm"`
}

type lbmaResponse struct {
	Gold   lbmaFix `json:"xauUSD"`
	Silver lbmaFix `json:"xagUSD"`
}

func (l *LBMA) fetchLive(ctx context.Context, fetchedAt time.Time) ([]pricing.PriceObservation, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.baseURL+"/gold/price/json", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+l.opts.APIKey)

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("lbma error (%d): %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	var body lbmaResponse
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, fmt.Errorf("decode lbma response: %w", err)
	}

	at := fixTime(fetchedAt)
	out := make([]pricing.PriceObservation, 0, 2)
	for _, fix := range []struct {
		symbol string
		am     *decimal.Decimal
	}{{"XAU", body.Gold.AM}, {"XAG", body.Silver.AM}} {
		if fix.am == nil || !fix.am.IsPositive() {
			continue
		}
		out = append(out, pricing.PriceObservation{
			Source:     pricing.SourceLBMA,
			Metal:      pricing.MetalSlug(fix.symbol),
			Venue:      lbmaVenue,
			ObservedAt: at,
			Value:      *fix.am,
			Currency:   pricing.DefaultCurrency,
			ExternalID: fmt.Sprintf("lbma_%s_am_%s", strings.ToLower(fix.symbol), at.Format(time.DateOnly)),
		})
	}
	return out, nil
}

var _ Adapter = (*LBMA)(nil)
