package engine_test

import (
	"context"
	"testing"
	"time"

	"stockwatch/internal/db"
	"stockwatch/internal/domain"
	"stockwatch/internal/engine"
	"stockwatch/internal/migrate"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(dir)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, nil)
	eng.Now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	if _, err := eng.CreateWarehouse(ctx, domain.WarehouseGrammar{
		WarehouseID:      "main",
		Name:             "Main warehouse",
		Aisles:           4,
		RacksPerAisle:    5,
		PositionsPerRack: 10,
		LevelNames:       "ABCD",
		DefaultCapacity:  1,
		SpecialAreas: []domain.SpecialArea{
			{Code: "RECV-01", Type: domain.LocationReceiving, Capacity: 2, Zone: "inbound"},
		},
	}, "tester"); err != nil {
		t.Fatalf("create warehouse: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx}
}

func (env testEnv) createRule(t *testing.T, rule domain.Rule) domain.Rule {
	t.Helper()
	created, err := env.Engine.CreateRule(env.Ctx, rule, "tester")
	if err != nil {
		t.Fatalf("create rule %s: %v", rule.ID, err)
	}
	return created
}

func TestWarehouseLifecycle(t *testing.T) {
	env := newTestEnv(t)
	g, err := env.Engine.Repo.GetWarehouse(env.Ctx, "main")
	if err != nil {
		t.Fatalf("get warehouse: %v", err)
	}
	if !g.Active || len(g.SpecialAreas) != 1 {
		t.Fatalf("stored grammar = %+v", g)
	}

	g.Aisles = 6
	if _, err := env.Engine.UpdateWarehouse(env.Ctx, g, "tester"); err != nil {
		t.Fatalf("update warehouse: %v", err)
	}
	g, _ = env.Engine.Repo.GetWarehouse(env.Ctx, "main")
	if g.Aisles != 6 {
		t.Fatalf("aisles = %d after update", g.Aisles)
	}

	if err := env.Engine.SetWarehouseActive(env.Ctx, "main", false, "tester"); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	active, err := env.Engine.Repo.ListWarehouses(env.Ctx, false)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("deactivated warehouse still listed: %v", active)
	}
	all, _ := env.Engine.Repo.ListWarehouses(env.Ctx, true)
	if len(all) != 1 {
		t.Fatalf("deactivated warehouse must stay for history, got %v", all)
	}
}

func TestCreateWarehouseValidation(t *testing.T) {
	env := newTestEnv(t)
	bad := domain.WarehouseGrammar{WarehouseID: "bad", Aisles: 0, RacksPerAisle: 1, PositionsPerRack: 1, LevelNames: "A", DefaultCapacity: 1}
	if _, err := env.Engine.CreateWarehouse(env.Ctx, bad, "tester"); err == nil {
		t.Fatal("expected error for zero aisles")
	}
	dup := domain.WarehouseGrammar{WarehouseID: "dup", Aisles: 1, RacksPerAisle: 1, PositionsPerRack: 1, LevelNames: "AA", DefaultCapacity: 1}
	if _, err := env.Engine.CreateWarehouse(env.Ctx, dup, "tester"); err == nil {
		t.Fatal("expected error for duplicate level names")
	}
}

func TestValidateAndProperties(t *testing.T) {
	env := newTestEnv(t)
	valid, _, err := env.Engine.ValidateLocation(env.Ctx, "main", "01-02-03A")
	if err != nil || !valid {
		t.Fatalf("validate: %v valid=%v", err, valid)
	}
	valid, reason, err := env.Engine.ValidateLocation(env.Ctx, "main", "09-02-03A")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if valid || reason == "" {
		t.Fatalf("expected invalid with reason, got valid=%v reason=%q", valid, reason)
	}
	rec, err := env.Engine.LocationProperties(env.Ctx, "main", "RECV-01")
	if err != nil || rec == nil {
		t.Fatalf("properties: %v rec=%v", err, rec)
	}
	if rec.Type != domain.LocationReceiving {
		t.Fatalf("type = %s", rec.Type)
	}
}

func TestImportLocations(t *testing.T) {
	env := newTestEnv(t)
	count, err := env.Engine.ImportLocations(env.Ctx, "main", []domain.LocationRecord{
		{Code: "BULK-01", Type: domain.LocationStorage, Capacity: 20},
		{Code: ""},
		{Code: "01-02-03A", Type: domain.LocationStaging, Capacity: 4},
	}, "tester")
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if count != 2 {
		t.Fatalf("imported = %d, want 2 (blank code dropped)", count)
	}
	rec, err := env.Engine.LocationProperties(env.Ctx, "main", "BULK-01")
	if err != nil || rec == nil || rec.Capacity != 20 {
		t.Fatalf("imported location not resolvable: %v %+v", err, rec)
	}
	// Imported rows override derived attributes for the same code.
	rec, _ = env.Engine.LocationProperties(env.Ctx, "main", "01-02-03A")
	if rec == nil || rec.Type != domain.LocationStaging {
		t.Fatalf("override not applied: %+v", rec)
	}
}

func TestDetectFormatPersists(t *testing.T) {
	env := newTestEnv(t)
	pattern, err := env.Engine.DetectFormat(env.Ctx, "main", []string{"01-02-03A", "01-02-04B", "02-05-10C"}, "tester")
	if err != nil {
		t.Fatalf("detect format: %v", err)
	}
	if pattern.PatternType != domain.PatternAisleRackPosLvl || pattern.Confidence != 1.0 {
		t.Fatalf("pattern = %+v", pattern)
	}
	stored, err := env.Engine.Repo.GetFormatPattern(env.Ctx, "main")
	if err != nil {
		t.Fatalf("get stored pattern: %v", err)
	}
	if stored.PatternType != pattern.PatternType || len(stored.Segments) != len(pattern.Segments) {
		t.Fatalf("stored pattern = %+v", stored)
	}
}

func TestDetectContext(t *testing.T) {
	env := newTestEnv(t)
	match, err := env.Engine.DetectContext(env.Ctx, []string{"01-02-03A", "RECV-01"})
	if err != nil {
		t.Fatalf("detect context: %v", err)
	}
	if match.WarehouseID != "main" || match.Score != 1.0 || match.ConfidenceLevel != domain.ConfidenceHigh {
		t.Fatalf("match = %+v", match)
	}
}

func TestEvaluateAllRulesPersistsRun(t *testing.T) {
	env := newTestEnv(t)
	env.createRule(t, domain.Rule{
		ID:       "stagnant-receiving",
		RuleType: domain.RuleStagnantPallets,
		Conditions: map[string]any{
			"time_threshold_hours": 8,
			"location_types":       []string{domain.LocationReceiving},
		},
		Priority: 8,
	})
	env.createRule(t, domain.Rule{
		ID:       "overcapacity",
		RuleType: domain.RuleOvercapacity,
		Priority: 6,
	})

	now := env.Engine.Now()
	snap := domain.Snapshot{Rows: []domain.PalletRow{
		{PalletID: "P1", Location: "RECV-01", CreatedAt: now.Add(-24 * time.Hour).Format(time.RFC3339)},
		{PalletID: "P2", Location: "01-01-01A", CreatedAt: now.Add(-1 * time.Hour).Format(time.RFC3339)},
		{PalletID: "P3", Location: "01-01-01A", CreatedAt: now.Add(-1 * time.Hour).Format(time.RFC3339)},
	}}
	run, err := env.Engine.EvaluateAllRules(env.Ctx, snap, "tester")
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if run.WarehouseID != "main" || run.Status != "completed" || run.RowCount != 3 {
		t.Fatalf("run = %+v", run)
	}
	if len(run.Results) != 2 {
		t.Fatalf("results = %d", len(run.Results))
	}

	stored, err := env.Engine.Repo.GetRun(env.Ctx, run.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	total := 0
	for _, res := range stored.Results {
		if res.Status != domain.RunSucceeded {
			t.Fatalf("result %s status = %s", res.RuleID, res.Status)
		}
		total += len(res.Anomalies)
	}
	// One stagnant pallet plus two overcapacity hits on 01-01-01A.
	if total != 3 {
		t.Fatalf("persisted anomalies = %d, want 3", total)
	}

	anomalies, err := env.Engine.Repo.ListRunAnomalies(env.Ctx, run.ID, "stagnant-receiving")
	if err != nil {
		t.Fatalf("list anomalies: %v", err)
	}
	if len(anomalies) != 1 || anomalies[0].PalletID != "P1" {
		t.Fatalf("filtered anomalies = %+v", anomalies)
	}
}

func TestEvaluateAllRulesIsolatesFailures(t *testing.T) {
	env := newTestEnv(t)
	env.createRule(t, domain.Rule{
		ID:       "broken",
		RuleType: domain.RuleStagnantPallets, // missing conditions
		Priority: 8,
	})
	env.createRule(t, domain.Rule{
		ID:       "overcapacity",
		RuleType: domain.RuleOvercapacity,
		Priority: 6,
	})
	snap := domain.Snapshot{Rows: []domain.PalletRow{
		{PalletID: "P1", Location: "01-01-01A", CreatedAt: env.Engine.Now().Format(time.RFC3339)},
	}}
	run, err := env.Engine.EvaluateAllRules(env.Ctx, snap, "tester")
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if run.Status != "completed_with_failures" {
		t.Fatalf("status = %s", run.Status)
	}
	var broken, overcap *domain.RuleResult
	for i := range run.Results {
		switch run.Results[i].RuleID {
		case "broken":
			broken = &run.Results[i]
		case "overcapacity":
			overcap = &run.Results[i]
		}
	}
	if broken == nil || broken.Status != domain.RunFailed || broken.ErrorMessage == "" {
		t.Fatalf("broken result = %+v", broken)
	}
	if overcap == nil || overcap.Status != domain.RunSucceeded {
		t.Fatalf("sibling rule must still succeed: %+v", overcap)
	}
}

func TestEventsRecorded(t *testing.T) {
	env := newTestEnv(t)
	events, err := env.Engine.Repo.LatestEvents(env.Ctx, 10, "", "", "")
	if err != nil {
		t.Fatalf("latest events: %v", err)
	}
	if len(events) == 0 {
		t.Fatal("expected warehouse.created event")
	}
	if events[0].Type != "warehouse.created" || events[0].ActorID != "tester" {
		t.Fatalf("event = %+v", events[0])
	}
	filtered, err := env.Engine.Repo.LatestEvents(env.Ctx, 10, "warehouse.created", "warehouse", "main")
	if err != nil || len(filtered) != 1 {
		t.Fatalf("filtered events: %v %v", err, filtered)
	}
}

func TestRunIDDeterministic(t *testing.T) {
	env := newTestEnv(t)
	env.createRule(t, domain.Rule{ID: "overcapacity", RuleType: domain.RuleOvercapacity, Priority: 6})
	snap := domain.Snapshot{Rows: []domain.PalletRow{
		{PalletID: "P1", Location: "01-01-01A", CreatedAt: env.Engine.Now().Format(time.RFC3339)},
	}}
	run, err := env.Engine.EvaluateAllRules(env.Ctx, snap, "tester")
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if run.ID == "" {
		t.Fatal("run id must be set")
	}
	if run.StartedAt != "2026-03-01T12:00:00Z" {
		t.Fatalf("started at = %s", run.StartedAt)
	}
}

func TestReanalyzeSameSnapshot(t *testing.T) {
	env := newTestEnv(t)
	env.createRule(t, domain.Rule{ID: "overcapacity", RuleType: domain.RuleOvercapacity, Priority: 6})
	snap := domain.Snapshot{Rows: []domain.PalletRow{
		{PalletID: "P2", Location: "01-01-01A", CreatedAt: env.Engine.Now().Add(-time.Hour).Format(time.RFC3339)},
		{PalletID: "P3", Location: "01-01-01A", CreatedAt: env.Engine.Now().Add(-time.Hour).Format(time.RFC3339)},
	}}
	first, err := env.Engine.EvaluateAllRules(env.Ctx, snap, "tester")
	if err != nil {
		t.Fatalf("first run: %v", err)
	}

	// The second pass produces byte-identical findings; it must still persist.
	env.Engine.Now = func() time.Time { return time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC) }
	second, err := env.Engine.EvaluateAllRules(env.Ctx, snap, "tester")
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if second.ID == first.ID {
		t.Fatalf("runs at different times must get distinct ids")
	}

	a1, err := env.Engine.Repo.ListRunAnomalies(env.Ctx, first.ID, "")
	if err != nil {
		t.Fatalf("first anomalies: %v", err)
	}
	a2, err := env.Engine.Repo.ListRunAnomalies(env.Ctx, second.ID, "")
	if err != nil {
		t.Fatalf("second anomalies: %v", err)
	}
	if len(a1) != 2 || len(a2) != 2 {
		t.Fatalf("anomalies = %d and %d, want 2 each", len(a1), len(a2))
	}
	if a1[0].ID != a2[0].ID {
		t.Fatalf("anomaly identity must be content-stable across runs: %s vs %s", a1[0].ID, a2[0].ID)
	}
}
