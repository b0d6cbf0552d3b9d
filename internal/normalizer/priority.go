package normalizer

import (
	"sort"
	"time"

	"metalledger/internal/pricing"
)

// Resolver picks the canonical observation among same-metal candidates.
// It never rejects anything.
type Resolver struct {
	table pricing.SourcePriorityTable
}

// NewResolver wraps a priority table.
func NewResolver(table pricing.SourcePriorityTable) Resolver {
	return Resolver{table: table}
}

// SortByPriority returns a copy of obs ordered by global source rank,
// ascending. Equal ranks keep their input order.
func (r Resolver) SortByPriority(obs []pricing.PriceObservation) []pricing.PriceObservation {
	sorted := make([]pricing.PriceObservation, len(obs))
	copy(sorted, obs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return r.table.Rank(sorted[i].Source) < r.table.Rank(sorted[j].Source)
	})
	return sorted
}

// SelectBest returns the winning observation for metal. The metal's
// preference list is walked first; the global ranking is the fallback.
func (r Resolver) SelectBest(obs []pricing.PriceObservation, metal pricing.MetalSlug) (pricing.PriceObservation, bool) {
	i, ok := r.SelectBestIndex(obs, metal)
	if !ok {
		return pricing.PriceObservation{}, false
	}
	return obs[i], true
}

// SelectBestIndex is SelectBest returning the winner's position in obs.
func (r Resolver) SelectBestIndex(obs []pricing.PriceObservation, metal pricing.MetalSlug) (int, bool) {
	if len(obs) == 0 {
		return 0, false
	}

	for _, preferred := range r.table.Preferences(metal) {
		for i, o := range obs {
			if o.Source == preferred {
				return i, true
			}
		}
	}

	best := 0
	for i := 1; i < len(obs); i++ {
		if r.table.Rank(obs[i].Source) < r.table.Rank(obs[best].Source) {
			best = i
		}
	}
	return best, true
}

type canonicalKey struct {
	metal pricing.MetalSlug
	at    time.Time
}

// CollapseByPriority reduces obs to one winner per (metal, observed_at).
// Output follows the first appearance of each key in obs.
func (r Resolver) CollapseByPriority(obs []pricing.PriceObservation) []pricing.PriceObservation {
	winners := make([]pricing.PriceObservation, 0)
	for _, i := range r.CollapseIndices(obs) {
		winners = append(winners, obs[i])
	}
	return winners
}

// CollapseIndices is CollapseByPriority returning the winners' positions in obs.
func (r Resolver) CollapseIndices(obs []pricing.PriceObservation) []int {
	groups := make(map[canonicalKey][]int)
	order := make([]canonicalKey, 0)
	for i, o := range obs {
		key := canonicalKey{metal: o.Metal, at: o.ObservedAt.UTC()}
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], i)
	}

	winners := make([]int, 0, len(order))
	for _, key := range order {
		positions := groups[key]
		candidates := make([]pricing.PriceObservation, len(positions))
		for j, p := range positions {
			candidates[j] = obs[p]
		}
		if best, ok := r.SelectBestIndex(candidates, key.metal); ok {
			winners = append(winners, positions[best])
		}
	}
	return winners
}
