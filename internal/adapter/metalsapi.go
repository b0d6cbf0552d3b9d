package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"metalledger/internal/pricing"
)

const (
	metalsAPILatestPath = "/latest"
	metalsAPIVenue      = "SPOT"
)

var defaultSpotSymbols = []string{"XAU", "XAG", "CU"}

// syntheticSpot is served when no API key is configured or the API reports
// success=false.
var syntheticSpot = map[string]string{
	"XAU": "2041.50",
	"XAG": "23.85",
	"CU":  "3.912",
}

// MetalsAPIOptions parameterise the metals-api.com adapter.
type MetalsAPIOptions struct {
	BaseURL   string
	APIKey    string
	Symbols   []string
	UserAgent string
}

// MetalsAPI fetches spot prices from metals-api.com.
type MetalsAPI struct {
	opts    MetalsAPIOptions
	logger  zerolog.Logger
	client  HTTPClient
	baseURL string
	now     func() time.Time
}

// NewMetalsAPI constructs the spot adapter. client should come from the
// egress package so the allowlist applies.
func NewMetalsAPI(opts MetalsAPIOptions, client HTTPClient, logger zerolog.Logger) *MetalsAPI {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://metals-api.com/api"
	}
	if len(opts.Symbols) == 0 {
		opts.Symbols = defaultSpotSymbols
	}
	if client == nil {
		client = http.DefaultClient
	}

	return &MetalsAPI{
		opts:    opts,
		logger:  logger.With().Str("component", "metals_api").Logger(),
		client:  client,
		baseURL: baseURL,
		now:     time.Now,
	}
}

// Source implements Adapter.
func (m *MetalsAPI) Source() pricing.SourceID { return pricing.SourceMetalsAPI }

// Fetch implements Adapter.
func (m *MetalsAPI) Fetch(ctx context.Context) ([]pricing.PriceObservation, error) {
	fetchedAt := m.now().UTC()
	if strings.TrimSpace(m.opts.APIKey) == "" {
		m.logger.Info().Msg("no api key configured, using synthetic spot prices")
		return m.synthetic(fetchedAt), nil
	}

	query := url.Values{}
	query.Set("access_key", m.opts.APIKey)
	query.Set("base", pricing.DefaultCurrency)
	query.Set("symbols", strings.Join(m.opts.Symbols, ","))

	endpoint := m.baseURL + metalsAPILatestPath + "?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(m.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "metalledger/1.0")
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, parseHTTPError(resp.StatusCode, payload)
	}

	var latest latestResponse
	if err := json.Unmarshal(payload, &latest); err != nil {
		return nil, fmt.Errorf("decode metals-api response: %w", err)
	}
	if latest.Success != nil && !*latest.Success {
		m.logger.Warn().
			Int("code", latest.Error.Code).
			Str("info", latest.Error.Info).
			Msg("metals-api reported failure, falling back to synthetic spot prices")
		return m.synthetic(fetchedAt), nil
	}

	prices := m.parse(latest, fetchedAt)
	m.logger.Info().Int("count", len(prices)).Msg("fetched spot prices")
	return prices, nil
}

// parse inverts metal-per-USD rates into USD per unit.
func (m *MetalsAPI) parse(latest latestResponse, fetchedAt time.Time) []pricing.PriceObservation {
	currency := latest.Base
	if currency == "" {
		currency = pricing.DefaultCurrency
	}

	out := make([]pricing.PriceObservation, 0, len(m.opts.Symbols))
	for _, symbol := range m.opts.Symbols {
		rate, ok := latest.Rates[symbol]
		if !ok || !rate.IsPositive() {
			m.logger.Warn().Str("symbol", symbol).Msg("missing or non-positive rate in metals-api response")
			continue
		}
		out = append(out, pricing.PriceObservation{
			Source:     pricing.SourceMetalsAPI,
			Metal:      pricing.MetalSlug(symbol),
			Venue:      metalsAPIVenue,
			ObservedAt: fetchedAt,
			Value:      decimal.NewFromInt(1).DivRound(rate, 6),
			Currency:   currency,
			ExternalID: fmt.Sprintf("metals_api_%s_%d", symbol, fetchedAt.Unix()),
		})
	}
	return out
}

func (m *MetalsAPI) synthetic(fetchedAt time.Time) []pricing.PriceObservation {
	out := make([]pricing.PriceObservation, 0, len(m.opts.Symbols))
	for _, symbol := range m.opts.Symbols {
		price, ok := syntheticSpot[symbol]
		if !ok {
			continue
		}
		out = append(out, pricing.PriceObservation{
			Source:     pricing.SourceMetalsAPI,
			Metal:      pricing.MetalSlug(symbol),
			Venue:      metalsAPIVenue,
			ObservedAt: fetchedAt,
			Value:      decimal.RequireFromString(price),
			Currency:   pricing.DefaultCurrency,
			ExternalID: fmt.Sprintf("synthetic_%s_%d", symbol, fetchedAt.Unix()),
		})
	}
	return out
}

type latestResponse struct {
	Success   *bool                      `json:"success"`
	Base      string                     `json:"base"`
	Timestamp int64                      `json:"timestamp"`
	Rates     map[string]decimal.Decimal `json:"rates"`
	Error     struct {
		Code int    `json:"code"`
		Type string `json:"type"`
		Info string `json:"info"`
	} `json:"error"`
}

type errorResponse struct {
	Error struct {
		Code int    `json:"code"`
		Info string `json:"info"`
	} `json:"error"`
	Message string `json:"message"`
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Error.Info != "" {
			return fmt.Errorf("metals-api error (%d): %s", status, apiErr.Error.Info)
		}
		if apiErr.Message != "" {
			return fmt.Errorf("metals-api error (%d): %s", status, apiErr.Message)
		}
	}
	if len(payload) > 0 {
		return fmt.Errorf("metals-api error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("metals-api error (%d)", status)
}

var _ Adapter = (*MetalsAPI)(nil)
