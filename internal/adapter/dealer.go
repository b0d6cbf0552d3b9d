package adapter

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"metalledger/internal/pricing"
)

// ErrInvalidSubmission wraps every dealer validation failure.
var ErrInvalidSubmission = errors.New("invalid dealer submission")

// Submission is a dealer's posted buy price.
type Submission struct {
	DealerID    string
	Metal       string
	Price       decimal.Decimal
	Unit        string
	LocationZIP string
	Notes       string
}

// Observation validates s and converts it to a per-pound observation at ts.
func (s Submission) Observation(ts time.Time) (pricing.PriceObservation, error) {
	dealer := strings.TrimSpace(s.DealerID)
	if dealer == "" {
		return pricing.PriceObservation{}, fmt.Errorf("%w: dealer_id is required", ErrInvalidSubmission)
	}
	metal, err := pricing.ParseMetalSlug(s.Metal)
	if err != nil || !InCatalog(metal) {
		return pricing.PriceObservation{}, fmt.Errorf("%w: unknown metal_slug %q, valid slugs: %v", ErrInvalidSubmission, s.Metal, Catalog())
	}
	unit := UnitPound
	if strings.TrimSpace(s.Unit) != "" {
		if unit, err = ParseUnit(s.Unit); err != nil {
			return pricing.PriceObservation{}, fmt.Errorf("%w: %v", ErrInvalidSubmission, err)
		}
	}
	if !s.Price.IsPositive() {
		return pricing.PriceObservation{}, fmt.Errorf("%w: price must be positive, got %s", ErrInvalidSubmission, s.Price.String())
	}

	ts = ts.UTC()
	zip := strings.TrimSpace(s.LocationZIP)
	return pricing.PriceObservation{
		Source:     pricing.SourceDealerManual,
		Metal:      metal,
		Venue:      fmt.Sprintf("DEALER:%s:%s", dealer, zip),
		ObservedAt: ts,
		Value:      PerPound(s.Price, unit),
		Currency:   pricing.DefaultCurrency,
		ExternalID: fmt.Sprintf("dealer_%s_%s_%d", dealer, metal, ts.Unix()),
	}, nil
}

// DealerInbox queues dealer postings until the next tick drains them.
type DealerInbox struct {
	mu      sync.Mutex
	pending []pricing.PriceObservation
	now     func() time.Time
}

// NewDealerInbox constructs an empty inbox.
func NewDealerInbox() *DealerInbox {
	return &DealerInbox{now: time.Now}
}

// Source implements Adapter.
func (d *DealerInbox) Source() pricing.SourceID { return pricing.SourceDealerManual }

// Enqueue validates s and queues it. The returned observation carries the
// external id used as the dealer's price id.
func (d *DealerInbox) Enqueue(s Submission) (pricing.PriceObservation, error) {
	obs, err := s.Observation(d.now())
	if err != nil {
		return pricing.PriceObservation{}, err
	}
	d.mu.Lock()
	d.pending = append(d.pending, obs)
	d.mu.Unlock()
	return obs, nil
}

// Pending reports the queue length.
func (d *DealerInbox) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Fetch drains the queue.
func (d *DealerInbox) Fetch(ctx context.Context) ([]pricing.PriceObservation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	out := d.pending
	d.pending = nil
	d.mu.Unlock()
	return out, nil
}

var _ Adapter = (*DealerInbox)(nil)
