package pricing

import "fmt"

// UnknownSourceRank is the rank given to sources missing from the table.
const UnknownSourceRank = 999

// SourcePriorityTable ranks sources globally (lower is more trusted) and
// carries per-metal preference lists. It is built once at start-up and only
// read afterwards; the constructor copies its inputs.
type SourcePriorityTable struct {
	ranks       map[SourceID]int
	preferences map[MetalSlug][]SourceID
}

// NewSourcePriorityTable validates raw configuration maps and builds a table.
func NewSourcePriorityTable(ranks map[string]int, preferences map[string][]string) (SourcePriorityTable, error) {
	table := SourcePriorityTable{
		ranks:       make(map[SourceID]int, len(ranks)),
		preferences: make(map[MetalSlug][]SourceID, len(preferences)),
	}

	for raw, rank := range ranks {
		id, err := ParseSourceID(raw)
		if err != nil {
			return SourcePriorityTable{}, err
		}
		if rank < 0 {
			return SourcePriorityTable{}, fmt.Errorf("source %s: rank %d cannot be negative", id, rank)
		}
		table.ranks[id] = rank
	}

	for rawMetal, rawSources := range preferences {
		metal, err := ParseMetalSlug(rawMetal)
		if err != nil {
			return SourcePriorityTable{}, err
		}
		list := make([]SourceID, 0, len(rawSources))
		for _, raw := range rawSources {
			id, err := ParseSourceID(raw)
			if err != nil {
				return SourcePriorityTable{}, fmt.Errorf("preferences for %s: %w", metal, err)
			}
			list = append(list, id)
		}
		table.preferences[metal] = list
	}

	return table, nil
}

// Rank returns the global rank of source, or UnknownSourceRank.
func (t SourcePriorityTable) Rank(source SourceID) int {
	if rank, ok := t.ranks[source]; ok {
		return rank
	}
	return UnknownSourceRank
}

// Preferences returns a copy of the preferred source order for metal.
func (t SourcePriorityTable) Preferences(metal MetalSlug) []SourceID {
	list := t.preferences[metal]
	if len(list) == 0 {
		return nil
	}
	out := make([]SourceID, len(list))
	copy(out, list)
	return out
}

// DefaultSourceRanks mirrors the production source ranking.
func DefaultSourceRanks() map[string]int {
	return map[string]int{
		string(SourceDealerManual):   1,
		string(SourceIScrap):         2,
		string(SourceScrapRegister):  3,
		string(SourceRecyclingToday): 4,
		string(SourceMetalsAPI):      5,
		string(SourceLBMA):           6,
		string(SourceSeed):           99,
	}
}

// DefaultMetalPreferences lists the canonical source order per scrap grade.
func DefaultMetalPreferences() map[string][]string {
	ferrous := []string{string(SourceDealerManual), string(SourceIScrap), string(SourceRecyclingToday)}
	nonFerrous := []string{string(SourceDealerManual), string(SourceIScrap), string(SourceScrapRegister)}

	prefs := make(map[string][]string)
	for _, m := range []string{"HMS1", "HMS2", "SHRED", "CAST", "ZORBA"} {
		prefs[m] = append([]string(nil), ferrous...)
	}
	for _, m := range []string{"CU_BARE", "CU_1", "CU_2", "AL_CAST", "AL_EXTRUSION", "BRASS", "SS_304", "LEAD"} {
		prefs[m] = append([]string(nil), nonFerrous...)
	}
	return prefs
}
