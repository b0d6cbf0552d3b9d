package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ReasonKind classifies why an observation was rejected.
type ReasonKind string

const (
	// ReasonOutlier marks a value above multiplier × rolling median.
	ReasonOutlier ReasonKind = "outlier"
	// ReasonNonPositive marks a zero or negative value that slipped past upstream validation.
	ReasonNonPositive ReasonKind = "non_positive"
)

// RejectionReason carries the numbers behind a rejection so callers can
// assert on them without parsing text.
type RejectionReason struct {
	Kind       ReasonKind
	Value      decimal.Decimal
	Median     float64
	Multiplier float64
	Threshold  decimal.Decimal
}

// String renders the reason for logs and API responses.
func (r RejectionReason) String() string {
	switch r.Kind {
	case ReasonNonPositive:
		return fmt.Sprintf("non_positive: value=%s must be greater than zero", r.Value.StringFixed(4))
	default:
		return fmt.Sprintf("outlier: value=%s > %g×median=%.4f (threshold %s)",
			r.Value.StringFixed(4), r.Multiplier, r.Median, r.Threshold.StringFixed(4))
	}
}

// Rejection pairs an observation with the reason it was refused.
type Rejection struct {
	Observation PriceObservation
	Reason      RejectionReason
}

// NormalizationOutcome is the result of one normalisation call. Every input
// observation lands in exactly one of Accepted or Rejected.
type NormalizationOutcome struct {
	Accepted []PriceObservation
	Rejected []Rejection
}

// Total is the number of classified observations.
func (o NormalizationOutcome) Total() int {
	return len(o.Accepted) + len(o.Rejected)
}
