// Package normalizer classifies raw price observations as accepted or
// rejected and resolves source conflicts between them.
package normalizer

import (
	"github.com/rs/zerolog"

	"metalledger/internal/pricing"
)

// Options configure a Normalizer.
type Options struct {
	Multiplier float64
	Priority   pricing.SourcePriorityTable
}

// Normalizer applies the rolling-median outlier policy to batches. It holds
// only immutable configuration and is safe for concurrent use.
type Normalizer struct {
	multiplier float64
	resolver   Resolver
	logger     zerolog.Logger
}

// New constructs a Normalizer. A non-positive multiplier falls back to DefaultMultiplier.
func New(opts Options, logger zerolog.Logger) *Normalizer {
	multiplier := opts.Multiplier
	if multiplier <= 0 {
		multiplier = DefaultMultiplier
	}
	return &Normalizer{
		multiplier: multiplier,
		resolver:   NewResolver(opts.Priority),
		logger:     logger.With().Str("component", "normalizer").Logger(),
	}
}

// Multiplier returns the configured outlier multiplier.
func (n *Normalizer) Multiplier() float64 { return n.multiplier }

// Resolver exposes source-priority resolution with the same table.
func (n *Normalizer) Resolver() Resolver { return n.resolver }

// Normalize classifies every observation in batch against the history of its
// metal. Observations are grouped by metal in order of first appearance;
// order within a metal is preserved.
func (n *Normalizer) Normalize(batch []pricing.PriceObservation, history pricing.HistoricalWindow) pricing.NormalizationOutcome {
	outcome, _ := n.Classify(batch, history)
	return outcome
}

// Classify is Normalize plus a per-position verdict: accepted[i] reports
// whether batch[i] was accepted. Callers that persist the batch use it
// instead of matching observations by identity, which need not be unique.
func (n *Normalizer) Classify(batch []pricing.PriceObservation, history pricing.HistoricalWindow) (pricing.NormalizationOutcome, []bool) {
	outcome := pricing.NormalizationOutcome{
		Accepted: make([]pricing.PriceObservation, 0, len(batch)),
		Rejected: make([]pricing.Rejection, 0),
	}
	accepted := make([]bool, len(batch))

	metals, groups := groupByMetal(batch)
	for _, metal := range metals {
		window := history.For(metal)
		threshold, median, hasBaseline := Threshold(window, n.multiplier)

		for _, i := range groups[metal] {
			obs := batch[i]
			switch {
			case !obs.Value.IsPositive():
				n.reject(&outcome, obs, pricing.RejectionReason{
					Kind:       pricing.ReasonNonPositive,
					Value:      obs.Value,
					Median:     median,
					Multiplier: n.multiplier,
					Threshold:  threshold,
				})
			case hasBaseline && obs.Value.GreaterThan(threshold):
				n.reject(&outcome, obs, pricing.RejectionReason{
					Kind:       pricing.ReasonOutlier,
					Value:      obs.Value,
					Median:     median,
					Multiplier: n.multiplier,
					Threshold:  threshold,
				})
			default:
				n.accept(&outcome, obs)
				accepted[i] = true
			}
		}
	}

	n.logger.Info().
		Int("accepted", len(outcome.Accepted)).
		Int("rejected", len(outcome.Rejected)).
		Msg("normalisation complete")
	return outcome, accepted
}

func (n *Normalizer) accept(outcome *pricing.NormalizationOutcome, obs pricing.PriceObservation) {
	outcome.Accepted = append(outcome.Accepted, obs)
	n.logger.Debug().
		Str("metal", obs.Metal.String()).
		Time("observed_at", obs.ObservedAt).
		Str("source", obs.Source.String()).
		Str("value", obs.Value.String()).
		Msg("observation accepted")
}

func (n *Normalizer) reject(outcome *pricing.NormalizationOutcome, obs pricing.PriceObservation, reason pricing.RejectionReason) {
	outcome.Rejected = append(outcome.Rejected, pricing.Rejection{Observation: obs, Reason: reason})
	n.logger.Warn().
		Str("metal", obs.Metal.String()).
		Time("observed_at", obs.ObservedAt).
		Str("source", obs.Source.String()).
		Str("value", obs.Value.String()).
		Str("reason", reason.String()).
		Msg("observation rejected")
}

// groupByMetal returns batch positions per metal, metals in order of first
// appearance.
func groupByMetal(batch []pricing.PriceObservation) ([]pricing.MetalSlug, map[pricing.MetalSlug][]int) {
	order := make([]pricing.MetalSlug, 0)
	groups := make(map[pricing.MetalSlug][]int)
	for i, obs := range batch {
		if _, seen := groups[obs.Metal]; !seen {
			order = append(order, obs.Metal)
		}
		groups[obs.Metal] = append(groups[obs.Metal], i)
	}
	return order, groups
}
