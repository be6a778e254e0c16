package location

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"stockwatch/internal/domain"
)

// DefaultMinPatternConfidence gates detected formats out of the validation
// path when the detector was unsure.
const DefaultMinPatternConfidence = 0.6

// Engine validates location codes against one warehouse grammar and derives
// their structural attributes on demand.
type Engine struct {
	grammar              domain.WarehouseGrammar
	physical             *physicalResolver
	pattern              *domain.FormatPattern
	minPatternConfidence float64
}

// NewEngine builds an Engine from a grammar, its physical overrides, and an
// optional minimum confidence for the detected format (zero means default).
func NewEngine(g domain.WarehouseGrammar, overrides []domain.LocationRecord, minPatternConfidence float64) *Engine {
	if minPatternConfidence <= 0 {
		minPatternConfidence = DefaultMinPatternConfidence
	}
	e := &Engine{
		grammar:              g,
		physical:             newPhysicalResolver(g.WarehouseID, g.SpecialAreas, overrides),
		minPatternConfidence: minPatternConfidence,
	}
	if g.DetectedFormat != nil && g.DetectedFormat.Confidence >= minPatternConfidence {
		e.pattern = g.DetectedFormat
	}
	return e
}

// Grammar returns the grammar the engine was built from.
func (e *Engine) Grammar() domain.WarehouseGrammar { return e.grammar }

// Validate reports whether code addresses a real location. The reason names
// the exceeded bound or the structural mismatch so anomaly detail text can
// quote it.
func (e *Engine) Validate(code string) (bool, string) {
	rec := e.Resolve(code)
	if rec != nil {
		return true, ""
	}
	_, reason := e.derive(code)
	return false, reason
}

// Resolve implements Resolver over both provenances: physical rows first,
// then virtual derivation from the grammar.
func (e *Engine) Resolve(code string) *domain.LocationRecord {
	if rec, ok := e.physical.Resolve(code); ok {
		return &rec
	}
	rec, _ := e.derive(code)
	return rec
}

// Properties returns full derived attributes, or nil for invalid codes.
func (e *Engine) Properties(code string) *domain.LocationRecord {
	return e.Resolve(code)
}

// derive computes a virtual record for a storage code, preferring the
// detected format over the default aisle-rack-position-level grammar.
func (e *Engine) derive(code string) (*domain.LocationRecord, string) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return nil, "empty location code"
	}
	if e.pattern != nil {
		return e.deriveFromPattern(code)
	}
	return e.deriveDefault(code)
}

// deriveDefault parses the canonical aisle-rack-positionlevel layout, e.g.
// "01-02-03A".
func (e *Engine) deriveDefault(code string) (*domain.LocationRecord, string) {
	parts := strings.Split(code, "-")
	if len(parts) != 3 {
		return nil, fmt.Sprintf("code %s does not match aisle-rack-position-level layout", code)
	}
	aisle, err := strconv.Atoi(parts[0])
	if err != nil {
		return nil, fmt.Sprintf("aisle segment %q is not numeric", parts[0])
	}
	rack, err := strconv.Atoi(parts[1])
	if err != nil {
		return nil, fmt.Sprintf("rack segment %q is not numeric", parts[1])
	}
	last := parts[2]
	if len(last) < 2 {
		return nil, fmt.Sprintf("position segment %q too short", last)
	}
	level := string(last[len(last)-1])
	if unicode.IsDigit(rune(last[len(last)-1])) {
		return nil, fmt.Sprintf("code %s missing level letter", code)
	}
	position, err := strconv.Atoi(last[:len(last)-1])
	if err != nil {
		return nil, fmt.Sprintf("position segment %q is not numeric", last[:len(last)-1])
	}
	return e.checkBounds(code, aisle, rack, position, level)
}

// deriveFromPattern validates code against the detected format and maps its
// value-bearing segments onto coordinates.
func (e *Engine) deriveFromPattern(code string) (*domain.LocationRecord, string) {
	values, literalsOK := matchPattern(code, e.pattern.Segments)
	if !literalsOK {
		return nil, fmt.Sprintf("code %s does not match detected format %s", code, e.pattern.PatternType)
	}
	switch e.pattern.PatternType {
	case domain.PatternPositionLevel:
		if len(values) < 2 {
			return nil, fmt.Sprintf("code %s does not match detected format %s", code, e.pattern.PatternType)
		}
		position, _ := strconv.Atoi(values[0])
		return e.checkBounds(code, 1, 1, position, values[1])
	case domain.PatternAisleRackPosLvl:
		if len(values) < 4 {
			return nil, fmt.Sprintf("code %s does not match detected format %s", code, e.pattern.PatternType)
		}
		aisle, _ := strconv.Atoi(values[0])
		rack, _ := strconv.Atoi(values[1])
		position, _ := strconv.Atoi(values[2])
		return e.checkBounds(code, aisle, rack, position, values[3])
	default:
		// Structure matched but the format carries no coordinate roles.
		rec := e.record(code, 0, 0, 0, "")
		return &rec, ""
	}
}

// matchPattern walks code against the segment list, collecting the digit and
// letter segment values in order.
func matchPattern(code string, segs []domain.Segment) ([]string, bool) {
	runes := []rune(code)
	idx := 0
	var values []string
	for _, s := range segs {
		if idx+s.Length > len(runes) {
			return nil, false
		}
		chunk := string(runes[idx : idx+s.Length])
		switch s.Kind {
		case domain.SegmentDigits:
			if !isDigits(chunk) {
				return nil, false
			}
			values = append(values, chunk)
		case domain.SegmentLetters:
			for _, r := range chunk {
				if !unicode.IsLetter(r) {
					return nil, false
				}
			}
			values = append(values, chunk)
		case domain.SegmentLiteral:
			if chunk != s.Charset {
				return nil, false
			}
		}
		idx += s.Length
	}
	return values, idx == len(runes)
}

// checkBounds rejects coordinates beyond the configured layout, citing the
// exceeded bound.
func (e *Engine) checkBounds(code string, aisle, rack, position int, level string) (*domain.LocationRecord, string) {
	g := e.grammar
	if aisle < 1 || aisle > g.Aisles {
		return nil, fmt.Sprintf("aisle %d exceeds configured aisles (%d)", aisle, g.Aisles)
	}
	if rack < 1 || rack > g.RacksPerAisle {
		return nil, fmt.Sprintf("rack %d exceeds configured racks per aisle (%d)", rack, g.RacksPerAisle)
	}
	if position < 1 || position > g.PositionsPerRack {
		return nil, fmt.Sprintf("position %d exceeds configured positions per rack (%d)", position, g.PositionsPerRack)
	}
	if level != "" && !strings.Contains(g.LevelNames, level) {
		return nil, fmt.Sprintf("level %s not in configured levels (%s)", level, g.LevelNames)
	}
	rec := e.record(code, aisle, rack, position, level)
	return &rec, ""
}

func (e *Engine) record(code string, aisle, rack, position int, level string) domain.LocationRecord {
	zone := ""
	if aisle > 0 {
		zone = fmt.Sprintf("aisle-%02d", aisle)
	}
	return domain.LocationRecord{
		Code:        code,
		WarehouseID: e.grammar.WarehouseID,
		Type:        domain.LocationStorage,
		Zone:        zone,
		Capacity:    e.grammar.DefaultCapacity,
		Aisle:       aisle,
		Rack:        rack,
		Position:    position,
		Level:       level,
		Active:      true,
	}
}

// Summary aggregates the theoretical layout without enumerating it.
func (e *Engine) Summary() domain.WarehouseSummary {
	g := e.grammar
	storage := g.Aisles * g.RacksPerAisle * g.PositionsPerRack * len(g.LevelNames)
	counts := map[string]int{domain.LocationStorage: storage}
	capacity := storage * g.DefaultCapacity
	for _, rec := range e.physical.records {
		counts[rec.Type]++
		capacity += rec.Capacity
	}
	return domain.WarehouseSummary{
		WarehouseID:      g.WarehouseID,
		StorageLocations: storage,
		CountsByType:     counts,
		TotalCapacity:    capacity,
		SpecialAreaCodes: e.physical.codes(),
	}
}

// KnownLocationCount sizes the registered layout for resolver tie-breaks.
func (e *Engine) KnownLocationCount() int {
	g := e.grammar
	return g.Aisles*g.RacksPerAisle*g.PositionsPerRack*len(g.LevelNames) + len(e.physical.records)
}
