package adapter

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"metalledger/internal/pricing"
)

// quote is one listed price in a synthetic feed. key makes the external id
// unique within the feed.
type quote struct {
	metal pricing.MetalSlug
	price decimal.Decimal
	unit  Unit
	venue string
	key   string
}

// SyntheticFeed replays a fixed price listing stamped with the fetch time.
// Scrap yards and benchmark publishers without a licensed API are served
// this way until a live feed is wired.
type SyntheticFeed struct {
	source   pricing.SourceID
	idPrefix string
	quotes   []quote
	now      func() time.Time
}

// Source implements Adapter.
func (f *SyntheticFeed) Source() pricing.SourceID { return f.source }

// Len returns the number of observations each Fetch emits.
func (f *SyntheticFeed) Len() int { return len(f.quotes) }

// Fetch implements Adapter.
func (f *SyntheticFeed) Fetch(ctx context.Context) ([]pricing.PriceObservation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ts := f.now().UTC()
	out := make([]pricing.PriceObservation, 0, len(f.quotes))
	for _, q := range f.quotes {
		out = append(out, pricing.PriceObservation{
			Source:     f.source,
			Metal:      q.metal,
			Venue:      q.venue,
			ObservedAt: ts,
			Value:      PerPound(q.price, q.unit),
			Currency:   pricing.DefaultCurrency,
			ExternalID: fmt.Sprintf("%s_%s_%d", f.idPrefix, q.key, ts.Unix()),
		})
	}
	return out, nil
}

// WithClock overrides the fetch timestamp source.
func (f *SyntheticFeed) WithClock(now func() time.Time) *SyntheticFeed {
	f.now = now
	return f
}

// listing is an ordered metal→per-lb price table.
type listing []struct {
	metal string
	price string
}

var scrapMetals = []string{
	"CU_BARE", "CU_1", "CU_2", "AL_CAST", "AL_EXTRUSION", "BRASS", "SS_304",
	"LEAD", "ZORBA", "HMS1", "HMS2", "SHRED", "CAST",
}

func newListing(prices ...string) listing {
	if len(prices) != len(scrapMetals) {
		panic("adapter: listing length mismatch")
	}
	l := make(listing, len(prices))
	for i, p := range prices {
		l[i].metal = scrapMetals[i]
		l[i].price = p
	}
	return l
}

type yard struct {
	id, name, zip string
	prices        listing
}

var iscrapYards = []yard{
	{
		id: "yard_iscrap_001", name: "Houston Metals Inc", zip: "77001",
		prices: newListing("3.85", "3.55", "3.10", "0.42", "0.52", "1.65", "0.58", "0.42", "0.65", "0.10", "0.089", "0.095", "0.072"),
	},
	{
		id: "yard_iscrap_002", name: "Gulf Coast Scrap", zip: "77002",
		prices: newListing("3.78", "3.48", "3.05", "0.40", "0.50", "1.60", "0.55", "0.40", "0.63", "0.098", "0.085", "0.091", "0.069"),
	},
}

// NewIScrapFeed lists yard prices near zip. An empty or unknown zip lists
// every yard.
func NewIScrapFeed(zip string) *SyntheticFeed {
	zip = strings.TrimSpace(zip)
	selected := make([]yard, 0, len(iscrapYards))
	for _, y := range iscrapYards {
		if y.zip == zip {
			selected = append(selected, y)
		}
	}
	if len(selected) == 0 {
		selected = iscrapYards
	}

	feed := &SyntheticFeed{source: pricing.SourceIScrap, idPrefix: "iscrap_synthetic", now: time.Now}
	for _, y := range selected {
		for _, p := range y.prices {
			feed.quotes = append(feed.quotes, quote{
				metal: pricing.MetalSlug(p.metal),
				price: decimal.RequireFromString(p.price),
				unit:  UnitPound,
				venue: y.name,
				key:   y.id + "_" + p.metal,
			})
		}
	}
	return feed
}

// DefaultRegion is used when a regional feed is asked for an unknown region.
const DefaultRegion = "South"

var scrapRegisterRegions = map[string]listing{
	"South":     newListing("3.82", "3.52", "3.08", "0.41", "0.51", "1.63", "0.56", "0.41", "0.64", "0.099", "0.086", "0.093", "0.071"),
	"Midwest":   newListing("3.79", "3.49", "3.05", "0.39", "0.49", "1.60", "0.54", "0.39", "0.62", "0.101", "0.088", "0.096", "0.073"),
	"Northeast": newListing("3.91", "3.60", "3.15", "0.43", "0.54", "1.68", "0.59", "0.43", "0.67", "0.103", "0.090", "0.098", "0.075"),
	"West":      newListing("3.88", "3.57", "3.12", "0.44", "0.55", "1.66", "0.58", "0.44", "0.66", "0.100", "0.087", "0.094", "0.072"),
}

// NewScrapRegisterFeed lists regional average prices.
func NewScrapRegisterFeed(region string) *SyntheticFeed {
	name := DefaultRegion
	for r := range scrapRegisterRegions {
		if strings.EqualFold(r, strings.TrimSpace(region)) {
			name = r
		}
	}

	feed := &SyntheticFeed{source: pricing.SourceScrapRegister, idPrefix: "scrapreg_synthetic", now: time.Now}
	for _, p := range scrapRegisterRegions[name] {
		feed.quotes = append(feed.quotes, quote{
			metal: pricing.MetalSlug(p.metal),
			price: decimal.RequireFromString(p.price),
			unit:  UnitPound,
			venue: "REGIONAL_" + strings.ToUpper(name),
			key:   strings.ToLower(name) + "_" + p.metal,
		})
	}
	return feed
}

// NewRecyclingTodayFeed lists commodity benchmark prices. Ferrous grades
// are quoted per ton and stored per pound.
func NewRecyclingTodayFeed() *SyntheticFeed {
	benchmarks := []struct {
		metal, price, venue, code string
		unit                      Unit
	}{
		{"HMS1", "205.00", "US_EXPORT", "MB-FE-0003", UnitTon},
		{"HMS2", "180.00", "US_EXPORT", "MB-FE-0004", UnitTon},
		{"SHRED", "192.00", "US_DOMESTIC", "MB-FE-0005", UnitTon},
		{"CAST", "142.00", "US_DOMESTIC", "MB-FE-0009", UnitTon},
		{"ZORBA", "0.67", "US_DOMESTIC", "MB-AL-0032", UnitPound},
	}

	feed := &SyntheticFeed{source: pricing.SourceRecyclingToday, idPrefix: "fastmarkets_synthetic", now: time.Now}
	for _, b := range benchmarks {
		feed.quotes = append(feed.quotes, quote{
			metal: pricing.MetalSlug(b.metal),
			price: decimal.RequireFromString(b.price),
			unit:  b.unit,
			venue: b.venue,
			key:   b.code,
		})
	}
	return feed
}

// NewSeedFeed emits a baseline listing for bootstrapping an empty ledger.
// The seed source ranks last so any real source wins a collapse.
func NewSeedFeed() *SyntheticFeed {
	feed := &SyntheticFeed{source: pricing.SourceSeed, idPrefix: "seed", now: time.Now}
	for _, p := range scrapRegisterRegions[DefaultRegion] {
		feed.quotes = append(feed.quotes, quote{
			metal: pricing.MetalSlug(p.metal),
			price: decimal.RequireFromString(p.price),
			unit:  UnitPound,
			venue: "SEED",
			key:   p.metal,
		})
	}
	return feed
}

var _ Adapter = (*SyntheticFeed)(nil)
