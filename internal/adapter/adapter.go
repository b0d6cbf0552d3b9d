// Package adapter holds the price sources that feed an ingestion tick.
package adapter

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"metalledger/internal/pricing"
)

// Adapter fetches one batch of observations from a single source.
//
//go:generate mockgen -package=ingest -destination=../ingest/mock_adapter_test.go -source=adapter.go Adapter
type Adapter interface {
	Source() pricing.SourceID
	Fetch(ctx context.Context) ([]pricing.PriceObservation, error)
}

// HTTPClient describes an HTTP client.
//
//go:generate mockgen -package=adapter -destination=mock_http_client_test.go -source=adapter.go HTTPClient
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Unit is the quantity a quoted price refers to.
type Unit string

const (
	UnitPound Unit = "lb"
	UnitTon   Unit = "ton"
)

// PoundsPerTon converts short-ton quotes to per-pound prices.
const PoundsPerTon = 2000

// ParseUnit accepts "lb" and "ton" in any case.
func ParseUnit(s string) (Unit, error) {
	switch u := Unit(strings.ToLower(strings.TrimSpace(s))); u {
	case UnitPound, UnitTon:
		return u, nil
	default:
		return "", fmt.Errorf("unit must be 'lb' or 'ton', got %q", s)
	}
}

// PerPound converts price quoted in unit to USD per pound, rounded to 6 dp.
func PerPound(price decimal.Decimal, unit Unit) decimal.Decimal {
	if unit == UnitTon {
		price = price.Div(decimal.NewFromInt(PoundsPerTon))
	}
	return price.Round(6)
}

var catalog = map[pricing.MetalSlug]struct{}{
	"HMS1": {}, "HMS2": {}, "SHRED": {}, "CAST": {},
	"CU_BARE": {}, "CU_1": {}, "CU_2": {},
	"AL_CAST": {}, "AL_EXTRUSION": {},
	"BRASS": {}, "SS_304": {}, "LEAD": {}, "ZORBA": {},
}

// InCatalog reports whether metal is a scrap grade dealers may quote.
func InCatalog(metal pricing.MetalSlug) bool {
	_, ok := catalog[metal]
	return ok
}

// Catalog lists the known scrap grades in sorted order.
func Catalog() []pricing.MetalSlug {
	out := make([]pricing.MetalSlug, 0, len(catalog))
	for m := range catalog {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
