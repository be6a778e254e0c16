package server

import (
	"stockwatch/internal/domain"
)

// Request payloads

type CreateWarehouseRequest struct {
	ID               string               `json:"id"`
	Name             *string              `json:"name,omitempty"`
	Aisles           int                  `json:"aisles"`
	RacksPerAisle    int                  `json:"racks_per_aisle"`
	PositionsPerRack int                  `json:"positions_per_rack"`
	LevelNames       string               `json:"level_names"`
	DefaultCapacity  int                  `json:"default_capacity"`
	SpecialAreas     []domain.SpecialArea `json:"special_areas,omitempty"`
}

type UpdateWarehouseRequest struct {
	Name             *string              `json:"name,omitempty"`
	Aisles           int                  `json:"aisles"`
	RacksPerAisle    int                  `json:"racks_per_aisle"`
	PositionsPerRack int                  `json:"positions_per_rack"`
	LevelNames       string               `json:"level_names"`
	DefaultCapacity  int                  `json:"default_capacity"`
	SpecialAreas     []domain.SpecialArea `json:"special_areas,omitempty"`
}

type SetActiveRequest struct {
	Active bool `json:"active"`
}

type DetectFormatRequest struct {
	Examples []string `json:"examples"`
}

type ValidateLocationRequest struct {
	Code string `json:"code"`
}

type ValidateLocationResponse struct {
	Code   string `json:"code"`
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

type ImportLocationsRequest struct {
	Locations []domain.LocationRecord `json:"locations"`
}

type ImportLocationsResponse struct {
	Imported int `json:"imported"`
}

type CreateRuleRequest struct {
	ID         *string        `json:"id,omitempty"`
	Name       *string        `json:"name,omitempty"`
	RuleType   string         `json:"rule_type" enum:"STAGNANT_PALLETS,OVERCAPACITY,INVALID_LOCATION,UNCOORDINATED_LOTS,LOCATION_MAPPING_ERROR"`
	Conditions map[string]any `json:"conditions,omitempty"`
	Priority   int            `json:"priority"`
}

type UpdateRuleRequest struct {
	Name       *string        `json:"name,omitempty"`
	Conditions map[string]any `json:"conditions,omitempty"`
	Priority   *int           `json:"priority,omitempty"`
	Active     *bool          `json:"active,omitempty"`
}

type DetectContextRequest struct {
	Locations []string `json:"locations"`
}

type CreateRunRequest struct {
	Snapshot domain.Snapshot `json:"snapshot"`
}

// Response payloads reuse domain types directly; the API is a thin
// diagnostics surface over the engine.
