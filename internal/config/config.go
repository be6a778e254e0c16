package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"stockwatch/internal/domain"
)

// Config models stockwatch.yml: the warehouse registry, seed rules and
// resolver thresholds handed to the analysis core.
type Config struct {
	Registry struct {
		FallbackWarehouse   string  `yaml:"fallback_warehouse"`
		HighConfidence      float64 `yaml:"high_confidence"`
		MediumConfidence    float64 `yaml:"medium_confidence"`
		MinFormatConfidence float64 `yaml:"min_format_confidence"`
	} `yaml:"registry"`
	Warehouses []WarehouseDef `yaml:"warehouses"`
	Rules      []RuleDef      `yaml:"rules"`
}

// WarehouseDef declares one warehouse grammar in YAML.
type WarehouseDef struct {
	ID               string               `yaml:"id"`
	Name             string               `yaml:"name"`
	Aisles           int                  `yaml:"aisles"`
	RacksPerAisle    int                  `yaml:"racks_per_aisle"`
	PositionsPerRack int                  `yaml:"positions_per_rack"`
	LevelNames       string               `yaml:"level_names"`
	DefaultCapacity  int                  `yaml:"default_capacity"`
	SpecialAreas     []domain.SpecialArea `yaml:"special_areas"`
}

// RuleDef declares one seed rule in YAML.
type RuleDef struct {
	ID         string         `yaml:"id"`
	Name       string         `yaml:"name"`
	Type       string         `yaml:"type"`
	Priority   int            `yaml:"priority"`
	Active     *bool          `yaml:"active"`
	Conditions map[string]any `yaml:"conditions"`
}

var knownRuleTypes = map[string]bool{
	domain.RuleStagnantPallets:      true,
	domain.RuleOvercapacity:         true,
	domain.RuleInvalidLocation:      true,
	domain.RuleUncoordinatedLots:    true,
	domain.RuleLocationMappingError: true,
}

var knownAreaTypes = map[string]bool{
	domain.LocationReceiving:    true,
	domain.LocationStaging:      true,
	domain.LocationDock:         true,
	domain.LocationTransitional: true,
	domain.LocationStorage:      true,
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "stockwatch.yml")
}

// Load reads and validates config from a workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; generate one with sw config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if len(c.Warehouses) == 0 {
		return fmt.Errorf("config.warehouses is required")
	}
	seenWarehouse := map[string]bool{}
	for _, w := range c.Warehouses {
		if w.ID == "" {
			return fmt.Errorf("config.warehouses contains empty id")
		}
		if seenWarehouse[w.ID] {
			return fmt.Errorf("duplicate warehouse id %s", w.ID)
		}
		seenWarehouse[w.ID] = true
		if w.Aisles <= 0 || w.RacksPerAisle <= 0 || w.PositionsPerRack <= 0 {
			return fmt.Errorf("warehouse %s: aisles, racks_per_aisle and positions_per_rack must be positive", w.ID)
		}
		if w.DefaultCapacity <= 0 {
			return fmt.Errorf("warehouse %s: default_capacity must be positive", w.ID)
		}
		if w.LevelNames == "" {
			return fmt.Errorf("warehouse %s: level_names is required", w.ID)
		}
		seenLevel := map[rune]bool{}
		for _, r := range w.LevelNames {
			if seenLevel[r] {
				return fmt.Errorf("warehouse %s: duplicate level name %c", w.ID, r)
			}
			seenLevel[r] = true
		}
		seenArea := map[string]bool{}
		for _, a := range w.SpecialAreas {
			code := strings.ToUpper(a.Code)
			if code == "" {
				return fmt.Errorf("warehouse %s: special area with empty code", w.ID)
			}
			if seenArea[code] {
				return fmt.Errorf("warehouse %s: duplicate special area code %s", w.ID, a.Code)
			}
			seenArea[code] = true
			if !knownAreaTypes[a.Type] {
				return fmt.Errorf("warehouse %s: special area %s has unknown type %s", w.ID, a.Code, a.Type)
			}
			if a.Capacity <= 0 {
				return fmt.Errorf("warehouse %s: special area %s capacity must be positive", w.ID, a.Code)
			}
		}
	}
	if c.Registry.FallbackWarehouse != "" && !seenWarehouse[c.Registry.FallbackWarehouse] {
		return fmt.Errorf("registry.fallback_warehouse %s is not a declared warehouse", c.Registry.FallbackWarehouse)
	}
	if c.Registry.HighConfidence != 0 || c.Registry.MediumConfidence != 0 {
		if c.Registry.MediumConfidence <= 0 || c.Registry.HighConfidence > 1 ||
			c.Registry.MediumConfidence >= c.Registry.HighConfidence {
			return fmt.Errorf("registry confidence thresholds must satisfy 0 < medium < high <= 1")
		}
	}
	if c.Registry.MinFormatConfidence < 0 || c.Registry.MinFormatConfidence > 1 {
		return fmt.Errorf("registry.min_format_confidence must be between 0 and 1")
	}
	seenRule := map[string]bool{}
	for _, r := range c.Rules {
		if r.ID == "" {
			return fmt.Errorf("config.rules contains empty id")
		}
		if seenRule[r.ID] {
			return fmt.Errorf("duplicate rule id %s", r.ID)
		}
		seenRule[r.ID] = true
		if !knownRuleTypes[r.Type] {
			return fmt.Errorf("rule %s has unknown type %s", r.ID, r.Type)
		}
		if err := validateConditions(r); err != nil {
			return err
		}
	}
	return nil
}

// validateConditions checks the required keys per rule type early, so a
// misconfigured rule is rejected at load time instead of at run time.
func validateConditions(r RuleDef) error {
	required := map[string][]string{
		domain.RuleStagnantPallets:   {"time_threshold_hours", "location_types"},
		domain.RuleUncoordinatedLots: {"completion_threshold"},
	}
	for _, key := range required[r.Type] {
		if _, ok := r.Conditions[key]; !ok {
			return fmt.Errorf("rule %s (%s) missing required condition %q", r.ID, r.Type, key)
		}
	}
	return nil
}

// FallbackWarehouse returns the configured fallback, defaulting to the
// first declared warehouse.
func (c *Config) FallbackWarehouse() string {
	if c.Registry.FallbackWarehouse != "" {
		return c.Registry.FallbackWarehouse
	}
	if len(c.Warehouses) > 0 {
		return c.Warehouses[0].ID
	}
	return ""
}

// Grammar converts a warehouse definition into its domain form.
func (w WarehouseDef) Grammar() domain.WarehouseGrammar {
	return domain.WarehouseGrammar{
		WarehouseID:      w.ID,
		Name:             w.Name,
		Aisles:           w.Aisles,
		RacksPerAisle:    w.RacksPerAisle,
		PositionsPerRack: w.PositionsPerRack,
		LevelNames:       w.LevelNames,
		DefaultCapacity:  w.DefaultCapacity,
		SpecialAreas:     w.SpecialAreas,
		Active:           true,
	}
}

// Rule converts a rule definition into its domain form.
func (r RuleDef) Rule() domain.Rule {
	active := true
	if r.Active != nil {
		active = *r.Active
	}
	return domain.Rule{
		ID:         r.ID,
		Name:       r.Name,
		RuleType:   r.Type,
		Conditions: r.Conditions,
		Priority:   r.Priority,
		Active:     active,
	}
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	cfg, err := FromYAML([]byte(defaultTemplate))
	if err != nil {
		panic(fmt.Sprintf("default config template invalid: %v", err))
	}
	return cfg
}

const defaultTemplate = `registry:
  fallback_warehouse: main
  high_confidence: 0.8
  medium_confidence: 0.5
  min_format_confidence: 0.6

warehouses:
  - id: main
    name: "Main warehouse"
    aisles: 4
    racks_per_aisle: 5
    positions_per_rack: 10
    level_names: ABCD
    default_capacity: 1
    special_areas:
      - code: RECV-01
        type: RECEIVING
        capacity: 50
        zone: inbound
      - code: STAGE-01
        type: STAGING
        capacity: 30
        zone: inbound
      - code: DOCK-01
        type: DOCK
        capacity: 20
        zone: outbound
      - code: TRANS-01
        type: TRANSITIONAL
        capacity: 15
        zone: floor

rules:
  - id: stagnant-receiving
    name: "Pallets stuck in receiving"
    type: STAGNANT_PALLETS
    priority: 8
    conditions:
      time_threshold_hours: 24
      location_types: [RECEIVING]

  - id: overcapacity
    name: "Locations over capacity"
    type: OVERCAPACITY
    priority: 6

  - id: invalid-location
    name: "Unmapped location codes"
    type: INVALID_LOCATION
    priority: 7

  - id: split-lots
    name: "Partially moved lots"
    type: UNCOORDINATED_LOTS
    priority: 5
    conditions:
      completion_threshold: 0.8

  - id: mapping-mismatch
    name: "Declared vs derived location type"
    type: LOCATION_MAPPING_ERROR
    priority: 3
`
