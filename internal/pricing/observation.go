package pricing

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultCurrency applies when an observation carries no currency code.
const DefaultCurrency = "USD"

// ErrInvalidObservation marks observations that must not enter a batch.
var ErrInvalidObservation = errors.New("pricing: invalid observation")

// PriceObservation is one quote as received from a source, before any
// acceptance decision. Treat it as a value: it is never mutated after creation.
type PriceObservation struct {
	Source     SourceID
	Metal      MetalSlug
	Venue      string
	ObservedAt time.Time
	Value      decimal.Decimal
	Currency   string
	ExternalID string
}

// CurrencyOrDefault returns the observation currency, falling back to USD.
func (o PriceObservation) CurrencyOrDefault() string {
	if o.Currency == "" {
		return DefaultCurrency
	}
	return o.Currency
}

// Validate checks the upstream data-quality rules a batch relies on.
func (o PriceObservation) Validate() error {
	if o.Source == "" {
		return fmt.Errorf("%w: missing source", ErrInvalidObservation)
	}
	if o.Metal == "" {
		return fmt.Errorf("%w: missing metal", ErrInvalidObservation)
	}
	if o.ObservedAt.IsZero() {
		return fmt.Errorf("%w: missing observed_at", ErrInvalidObservation)
	}
	if !o.Value.IsPositive() {
		return fmt.Errorf("%w: value %s must be positive", ErrInvalidObservation, o.Value.String())
	}
	return nil
}

// HistoricalWindow maps a metal to its recent canonical values, oldest first.
// The normalizer only reads it.
type HistoricalWindow map[MetalSlug][]float64

// For returns the history of metal, or nil when none is known.
func (w HistoricalWindow) For(metal MetalSlug) []float64 {
	if w == nil {
		return nil
	}
	return w[metal]
}
