// Package resolve scores registered warehouses against a snapshot's
// location codes and picks the layout the snapshot belongs to.
package resolve

import (
	"sort"

	"stockwatch/internal/domain"
	"stockwatch/internal/location"
)

// Tiers buckets match scores into confidence levels.
type Tiers struct {
	High   float64
	Medium float64
}

// DefaultTiers matches the documented HIGH >= 0.8, MEDIUM >= 0.5 buckets.
var DefaultTiers = Tiers{High: 0.8, Medium: 0.5}

func (t Tiers) Level(score float64) string {
	switch {
	case score >= t.High:
		return domain.ConfidenceHigh
	case score >= t.Medium:
		return domain.ConfidenceMedium
	default:
		return domain.ConfidenceLow
	}
}

// Warehouse pairs a grammar with its location engine inside the registry.
type Warehouse struct {
	Grammar domain.WarehouseGrammar
	Engine  *location.Engine
}

// Registry is the read-only set of active warehouses for one run. The
// owning application layer loads it at startup and refreshes it between
// runs, never during one.
type Registry struct {
	Warehouses []Warehouse
	FallbackID string
	Tiers      Tiers
}

// NewRegistry wires engines for each grammar. minPatternConfidence gates
// detected formats (zero means the engine default).
func NewRegistry(grammars []domain.WarehouseGrammar, overrides map[string][]domain.LocationRecord, fallbackID string, tiers Tiers, minPatternConfidence float64) *Registry {
	if tiers.High == 0 && tiers.Medium == 0 {
		tiers = DefaultTiers
	}
	reg := &Registry{FallbackID: fallbackID, Tiers: tiers}
	for _, g := range grammars {
		if !g.Active {
			continue
		}
		reg.Warehouses = append(reg.Warehouses, Warehouse{
			Grammar: g,
			Engine:  location.NewEngine(g, overrides[g.WarehouseID], minPatternConfidence),
		})
	}
	return reg
}

// Lookup returns the registry entry for a warehouse id.
func (reg *Registry) Lookup(warehouseID string) (Warehouse, bool) {
	for _, w := range reg.Warehouses {
		if w.Grammar.WarehouseID == warehouseID {
			return w, true
		}
	}
	return Warehouse{}, false
}

// DetectWarehouseContext scores every registered warehouse by how many of
// the snapshot's distinct locations it can account for. Normalizer variants
// widen match recall but the denominator stays the count of distinct
// original codes. Never fails: a snapshot matching nothing resolves to the
// fallback warehouse at score 0 with LOW confidence.
func (reg *Registry) DetectWarehouseContext(snapshotLocations []string) domain.ContextMatch {
	distinct := distinctNonEmpty(snapshotLocations)
	scores := make([]domain.WarehouseMatchScore, 0, len(reg.Warehouses))
	for _, w := range reg.Warehouses {
		matches := 0
		for _, code := range distinct {
			for _, variant := range location.Normalize(code) {
				if ok, _ := w.Engine.Validate(variant); ok {
					matches++
					break
				}
			}
		}
		score := 0.0
		if len(distinct) > 0 {
			score = float64(matches) / float64(len(distinct))
		}
		scores = append(scores, domain.WarehouseMatchScore{
			WarehouseID:       w.Grammar.WarehouseID,
			TotalLocations:    w.Engine.KnownLocationCount(),
			MatchingLocations: matches,
			Score:             score,
		})
	}
	sort.SliceStable(scores, func(i, j int) bool {
		if scores[i].Score != scores[j].Score {
			return scores[i].Score > scores[j].Score
		}
		// A richer layout wins over a sparse default.
		return scores[i].TotalLocations > scores[j].TotalLocations
	})

	if len(scores) == 0 || scores[0].Score == 0 {
		return domain.ContextMatch{
			WarehouseID:     reg.FallbackID,
			Score:           0,
			ConfidenceLevel: domain.ConfidenceLow,
			DetailedScores:  scores,
		}
	}
	best := scores[0]
	return domain.ContextMatch{
		WarehouseID:     best.WarehouseID,
		Score:           best.Score,
		ConfidenceLevel: reg.Tiers.Level(best.Score),
		DetailedScores:  scores,
	}
}

func distinctNonEmpty(codes []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, c := range codes {
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
