package storage

import (
	"time"

	"github.com/shopspring/decimal"

	"metalledger/internal/pricing"
)

// CanonicalPrice is the accepted price of one metal at one instant.
type CanonicalPrice struct {
	ID         int64
	Metal      pricing.MetalSlug
	ObservedAt time.Time
	Value      decimal.Decimal
	Currency   string
	Source     pricing.SourceID
	RawID      int64
	PromotedAt time.Time
}

// RawPrice is an observation exactly as fetched, accepted or not.
type RawPrice struct {
	ID          int64
	Observation pricing.PriceObservation
	IngestedAt  time.Time
}
