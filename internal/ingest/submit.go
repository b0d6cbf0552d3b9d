package ingest

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"metalledger/internal/adapter"
	"metalledger/internal/audit"
	"metalledger/internal/normalizer"
	"metalledger/internal/pricing"
)

// Submission statuses.
const (
	StatusAccepted = "accepted"
	StatusRejected = "rejected"
)

// SubmissionResult is returned to a dealer after a submission.
type SubmissionResult struct {
	Status   string
	PriceID  string
	Metal    pricing.MetalSlug
	PerPound decimal.Decimal
	Promoted bool
	Reason   string
}

// Submit validates a dealer posting, classifies it against the metal's
// history and records it. Validation failures wrap adapter.ErrInvalidSubmission.
func (s *Service) Submit(ctx context.Context, sub adapter.Submission) (SubmissionResult, error) {
	obs, err := sub.Observation(s.now())
	if err != nil {
		return SubmissionResult{}, err
	}

	requestID := audit.NewRequestID()
	logger := s.logger.With().
		Str("request_id", requestID.String()).
		Str("dealer_id", sub.DealerID).
		Str("metal", obs.Metal.String()).
		Logger()

	history, err := s.history(ctx, []pricing.MetalSlug{obs.Metal}, obs.ObservedAt)
	if err != nil {
		return SubmissionResult{}, err
	}
	outcome, accepted := s.deps.Normalizer.Classify([]pricing.PriceObservation{obs}, history)

	result := SubmissionResult{
		Status:   StatusAccepted,
		PriceID:  obs.ExternalID,
		Metal:    obs.Metal,
		PerPound: obs.Value,
	}
	if len(outcome.Rejected) > 0 {
		result.Status = StatusRejected
		result.Reason = outcome.Rejected[0].Reason.String()
	}

	promoted, _, err := s.persist(ctx, []pricing.PriceObservation{obs}, accepted)
	if err != nil {
		return SubmissionResult{}, err
	}
	result.Promoted = len(promoted) > 0

	if s.deps.Publisher != nil && result.Promoted {
		if err := s.deps.Publisher.Publish(ctx, promoted); err != nil {
			logger.Warn().Err(err).Msg("failed to publish latest price")
		}
	}

	if err := s.record(ctx, requestID, audit.ActionDealerSubmit, map[string]string{
		"price_id": result.PriceID,
		"metal":    result.Metal.String(),
		"value":    result.PerPound.String(),
		"status":   result.Status,
	}); err != nil {
		return SubmissionResult{}, err
	}

	if result.Status == StatusRejected {
		logger.Warn().Str("reason", result.Reason).Msg("dealer price rejected")
	} else {
		logger.Info().Str("price_id", result.PriceID).Bool("promoted", result.Promoted).Msg("dealer price accepted")
	}
	return result, nil
}

// CheckResult explains how a value would be classified right now.
type CheckResult struct {
	Metal       pricing.MetalSlug
	Value       decimal.Decimal
	Samples     int
	HasBaseline bool
	Median      float64
	Threshold   decimal.Decimal
	Accepted    bool
}

// Check evaluates value for metal against stored history without writing anything.
func (s *Service) Check(ctx context.Context, metal pricing.MetalSlug, value decimal.Decimal) (CheckResult, error) {
	history, err := s.history(ctx, []pricing.MetalSlug{metal}, s.now())
	if err != nil {
		return CheckResult{}, err
	}
	window := history.For(metal)
	threshold, median, ok := normalizer.Threshold(window, s.deps.Normalizer.Multiplier())

	return CheckResult{
		Metal:       metal,
		Value:       value,
		Samples:     len(window),
		HasBaseline: ok,
		Median:      median,
		Threshold:   threshold,
		Accepted:    value.IsPositive() && !normalizer.IsOutlier(value, window, s.deps.Normalizer.Multiplier()),
	}, nil
}

// String renders a one-line verdict.
func (c CheckResult) String() string {
	verdict := StatusAccepted
	if !c.Accepted {
		verdict = StatusRejected
	}
	if !c.HasBaseline {
		return fmt.Sprintf("%s %s: %s (no baseline, %d samples)", c.Metal, c.Value.String(), verdict, c.Samples)
	}
	return fmt.Sprintf("%s %s: %s (median %.4f over %d samples, threshold %s)",
		c.Metal, c.Value.String(), verdict, c.Median, c.Samples, c.Threshold.StringFixed(4))
}
