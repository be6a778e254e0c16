package config_test

import (
	"strings"
	"testing"

	"stockwatch/internal/config"
	"stockwatch/internal/domain"
)

func TestDefaultTemplateValid(t *testing.T) {
	cfg := config.Default()
	if len(cfg.Warehouses) != 1 || cfg.Warehouses[0].ID != "main" {
		t.Fatalf("warehouses = %+v", cfg.Warehouses)
	}
	if len(cfg.Rules) != 5 {
		t.Fatalf("rules = %d, want one per rule family", len(cfg.Rules))
	}
	if cfg.FallbackWarehouse() != "main" {
		t.Fatalf("fallback = %s", cfg.FallbackWarehouse())
	}
	g := cfg.Warehouses[0].Grammar()
	if !g.Active || g.LevelNames != "ABCD" || len(g.SpecialAreas) != 4 {
		t.Fatalf("grammar = %+v", g)
	}
	for _, r := range cfg.Rules {
		rule := r.Rule()
		if !rule.Active {
			t.Fatalf("seed rule %s must default active", rule.ID)
		}
	}
}

func TestValidateRejections(t *testing.T) {
	base := `registry:
  fallback_warehouse: main
warehouses:
  - id: main
    aisles: 2
    racks_per_aisle: 2
    positions_per_rack: 5
    level_names: AB
    default_capacity: 1
`
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "no warehouses",
			yaml: "rules: []\n",
			want: "warehouses is required",
		},
		{
			name: "duplicate levels",
			yaml: strings.Replace(base, "level_names: AB", "level_names: AA", 1),
			want: "duplicate level name",
		},
		{
			name: "zero aisles",
			yaml: strings.Replace(base, "aisles: 2", "aisles: 0", 1),
			want: "must be positive",
		},
		{
			name: "unknown fallback",
			yaml: strings.Replace(base, "fallback_warehouse: main", "fallback_warehouse: nowhere", 1),
			want: "not a declared warehouse",
		},
		{
			name: "unknown rule type",
			yaml: base + `rules:
  - id: weird
    type: NO_SUCH_RULE
`,
			want: "unknown type",
		},
		{
			name: "stagnant rule missing conditions",
			yaml: base + `rules:
  - id: stagnant
    type: STAGNANT_PALLETS
`,
			want: `missing required condition "time_threshold_hours"`,
		},
		{
			name: "inverted thresholds",
			yaml: strings.Replace(base, "registry:\n  fallback_warehouse: main",
				"registry:\n  fallback_warehouse: main\n  high_confidence: 0.5\n  medium_confidence: 0.8", 1),
			want: "medium < high",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := config.FromYAML([]byte(tc.yaml))
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err.Error(), tc.want)
			}
		})
	}
}

func TestRuleDefActiveOverride(t *testing.T) {
	yaml := `warehouses:
  - id: main
    aisles: 2
    racks_per_aisle: 2
    positions_per_rack: 5
    level_names: AB
    default_capacity: 1
rules:
  - id: overcapacity
    type: OVERCAPACITY
    active: false
`
	cfg, err := config.FromYAML([]byte(yaml))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	rule := cfg.Rules[0].Rule()
	if rule.Active {
		t.Fatal("explicit active: false must carry through")
	}
	if rule.RuleType != domain.RuleOvercapacity {
		t.Fatalf("rule type = %s", rule.RuleType)
	}
}
