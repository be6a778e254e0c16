// Package location models a warehouse's addressable space and validates
// location codes against it without materializing every possible slot.
package location

import (
	"sort"
	"strings"

	"stockwatch/internal/domain"
)

// Resolver turns a location code into a LocationRecord. Physical rows and
// virtually derived records satisfy the same contract, so consumers never
// care which provenance produced a record.
type Resolver interface {
	Resolve(code string) (domain.LocationRecord, bool)
}

// physicalResolver serves persisted location rows (special areas and
// imported overrides).
type physicalResolver struct {
	records map[string]domain.LocationRecord
}

func newPhysicalResolver(warehouseID string, areas []domain.SpecialArea, overrides []domain.LocationRecord) *physicalResolver {
	records := make(map[string]domain.LocationRecord, len(areas)+len(overrides))
	for _, a := range areas {
		records[strings.ToUpper(a.Code)] = domain.LocationRecord{
			Code:        a.Code,
			WarehouseID: warehouseID,
			Type:        a.Type,
			Zone:        a.Zone,
			Capacity:    a.Capacity,
			Active:      true,
		}
	}
	for _, rec := range overrides {
		records[strings.ToUpper(rec.Code)] = rec
	}
	return &physicalResolver{records: records}
}

func (p *physicalResolver) Resolve(code string) (domain.LocationRecord, bool) {
	rec, ok := p.records[strings.ToUpper(strings.TrimSpace(code))]
	return rec, ok
}

func (p *physicalResolver) codes() []string {
	out := make([]string, 0, len(p.records))
	for c := range p.records {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
