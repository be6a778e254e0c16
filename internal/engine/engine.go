package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"stockwatch/internal/config"
	"stockwatch/internal/domain"
	"stockwatch/internal/engine/rules"
	"stockwatch/internal/events"
	"stockwatch/internal/location"
	"stockwatch/internal/location/format"
	"stockwatch/internal/repo"
	"stockwatch/internal/resolve"
)

// Engine owns the inventory analysis workflow: registry management, context
// resolution, and rule evaluation over snapshots.
type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Rules  *rules.Registry
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Rules:  rules.NewRegistry(),
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) tiers() resolve.Tiers {
	if e.Config == nil {
		return resolve.DefaultTiers
	}
	t := resolve.Tiers{High: e.Config.Registry.HighConfidence, Medium: e.Config.Registry.MediumConfidence}
	if t.High == 0 && t.Medium == 0 {
		return resolve.DefaultTiers
	}
	return t
}

func (e Engine) minFormatConfidence() float64 {
	if e.Config == nil || e.Config.Registry.MinFormatConfidence == 0 {
		return location.DefaultMinPatternConfidence
	}
	return e.Config.Registry.MinFormatConfidence
}

// Registry loads the active warehouses into a read-only resolver registry.
// Callers hold it for the duration of one run; it is never refreshed
// mid-run.
func (e Engine) Registry(ctx context.Context) (*resolve.Registry, error) {
	grammars, err := e.Repo.ListWarehouses(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("load warehouses: %w", err)
	}
	overrides := map[string][]domain.LocationRecord{}
	for _, g := range grammars {
		recs, err := e.Repo.ListLocationOverrides(ctx, g.WarehouseID)
		if err != nil {
			return nil, fmt.Errorf("load location overrides: %w", err)
		}
		overrides[g.WarehouseID] = recs
	}
	fallback := ""
	if e.Config != nil {
		fallback = e.Config.FallbackWarehouse()
	}
	if fallback == "" && len(grammars) > 0 {
		fallback = grammars[0].WarehouseID
	}
	return resolve.NewRegistry(grammars, overrides, fallback, e.tiers(), e.minFormatConfidence()), nil
}

// DetectContext resolves which warehouse a set of snapshot locations
// belongs to.
func (e Engine) DetectContext(ctx context.Context, locations []string) (domain.ContextMatch, error) {
	reg, err := e.Registry(ctx)
	if err != nil {
		return domain.ContextMatch{}, err
	}
	return reg.DetectWarehouseContext(locations), nil
}

// EvaluateAllRules runs every active rule against the snapshot, persists the
// run with its per-rule results and anomalies, and returns it. One rule's
// failure never aborts its siblings.
func (e Engine) EvaluateAllRules(ctx context.Context, snap domain.Snapshot, actorID string) (domain.Run, error) {
	reg, err := e.Registry(ctx)
	if err != nil {
		return domain.Run{}, err
	}
	activeRules, err := e.Repo.ListRules(ctx, true)
	if err != nil {
		return domain.Run{}, fmt.Errorf("load rules: %w", err)
	}

	locations := make([]string, 0, len(snap.Rows))
	for _, row := range snap.Rows {
		locations = append(locations, row.Location)
	}
	match := reg.DetectWarehouseContext(locations)
	warehouse, ok := reg.Lookup(match.WarehouseID)
	if !ok {
		return domain.Run{}, fmt.Errorf("warehouse %s not registered", match.WarehouseID)
	}

	started := e.now().UTC()
	ectx := rules.Context{
		WarehouseID: match.WarehouseID,
		Engine:      warehouse.Engine,
		Match:       match,
		Now:         started,
	}

	// Rules only read the shared engine and the immutable snapshot, so they
	// can run in parallel; each writes its own result slot.
	results := make([]domain.RuleResult, len(activeRules))
	var wg sync.WaitGroup
	for i, rule := range activeRules {
		wg.Add(1)
		go func(i int, rule domain.Rule) {
			defer wg.Done()
			results[i] = e.Rules.Evaluate(rule, snap, ectx)
		}(i, rule)
	}
	wg.Wait()
	sort.SliceStable(results, func(i, j int) bool { return results[i].RuleID < results[j].RuleID })

	finished := e.now().UTC()
	run := domain.Run{
		ID:              uuid.NewSHA1(uuid.NameSpaceOID, []byte(match.WarehouseID+"|"+started.Format(time.RFC3339Nano)+"|run")).String(),
		WarehouseID:     match.WarehouseID,
		Score:           match.Score,
		ConfidenceLevel: match.ConfidenceLevel,
		LowConfidence:   match.ConfidenceLevel == domain.ConfidenceLow,
		RowCount:        len(snap.Rows),
		Status:          runStatus(results),
		StartedAt:       started.Format(time.RFC3339),
		FinishedAt:      finished.Format(time.RFC3339),
		Results:         results,
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return run, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertRun(ctx, tx, run); err != nil {
		return run, err
	}
	anomalies := 0
	var failed []string
	for _, res := range results {
		anomalies += len(res.Anomalies)
		if res.Status == domain.RunFailed {
			failed = append(failed, res.RuleID)
		}
	}
	if err := e.Events.Append(ctx, tx, "run.completed", "run", run.ID, actorID, events.EventPayload{
		"warehouse_id":   run.WarehouseID,
		"score":          run.Score,
		"confidence":     run.ConfidenceLevel,
		"low_confidence": run.LowConfidence,
		"anomalies":      anomalies,
		"failed_rules":   failed,
	}); err != nil {
		return run, err
	}
	if err := tx.Commit(); err != nil {
		return run, err
	}
	return run, nil
}

// EvaluateRule runs a single rule against a snapshot without persisting
// anything; context is resolved fresh unless the caller supplies one.
func (e Engine) EvaluateRule(ctx context.Context, rule domain.Rule, snap domain.Snapshot) (domain.RuleResult, error) {
	reg, err := e.Registry(ctx)
	if err != nil {
		return domain.RuleResult{}, err
	}
	locations := make([]string, 0, len(snap.Rows))
	for _, row := range snap.Rows {
		locations = append(locations, row.Location)
	}
	match := reg.DetectWarehouseContext(locations)
	warehouse, ok := reg.Lookup(match.WarehouseID)
	if !ok {
		return domain.RuleResult{}, fmt.Errorf("warehouse %s not registered", match.WarehouseID)
	}
	ectx := rules.Context{
		WarehouseID: match.WarehouseID,
		Engine:      warehouse.Engine,
		Match:       match,
		Now:         e.now().UTC(),
	}
	return e.Rules.Evaluate(rule, snap, ectx), nil
}

func runStatus(results []domain.RuleResult) string {
	for _, res := range results {
		if res.Status == domain.RunFailed {
			return "completed_with_failures"
		}
	}
	return "completed"
}

// --- diagnostics ---

// warehouseEngine builds the location engine for one warehouse.
func (e Engine) warehouseEngine(ctx context.Context, warehouseID string) (*location.Engine, error) {
	g, err := e.Repo.GetWarehouse(ctx, warehouseID)
	if err != nil {
		return nil, err
	}
	overrides, err := e.Repo.ListLocationOverrides(ctx, warehouseID)
	if err != nil {
		return nil, err
	}
	return location.NewEngine(g, overrides, e.minFormatConfidence()), nil
}

// ValidateLocation checks one code against one warehouse's layout.
func (e Engine) ValidateLocation(ctx context.Context, warehouseID, code string) (bool, string, error) {
	eng, err := e.warehouseEngine(ctx, warehouseID)
	if err != nil {
		return false, "", err
	}
	valid, reason := eng.Validate(code)
	return valid, reason, nil
}

// LocationProperties derives the full record for a code, nil when invalid.
func (e Engine) LocationProperties(ctx context.Context, warehouseID, code string) (*domain.LocationRecord, error) {
	eng, err := e.warehouseEngine(ctx, warehouseID)
	if err != nil {
		return nil, err
	}
	return eng.Properties(code), nil
}

// WarehouseSummary aggregates one warehouse's theoretical layout.
func (e Engine) WarehouseSummary(ctx context.Context, warehouseID string) (domain.WarehouseSummary, error) {
	eng, err := e.warehouseEngine(ctx, warehouseID)
	if err != nil {
		return domain.WarehouseSummary{}, err
	}
	return eng.Summary(), nil
}

// --- registry management ---

// CreateWarehouse registers a new grammar.
func (e Engine) CreateWarehouse(ctx context.Context, g domain.WarehouseGrammar, actorID string) (domain.WarehouseGrammar, error) {
	if g.WarehouseID == "" {
		return g, errors.New("warehouse id is required")
	}
	if g.Aisles <= 0 || g.RacksPerAisle <= 0 || g.PositionsPerRack <= 0 {
		return g, errors.New("aisles, racks and positions must be positive")
	}
	if g.DefaultCapacity <= 0 {
		return g, errors.New("default capacity must be positive")
	}
	if g.LevelNames == "" {
		return g, errors.New("level names are required")
	}
	if dup := duplicateLevel(g.LevelNames); dup != "" {
		return g, fmt.Errorf("duplicate level name %s", dup)
	}
	now := e.now().UTC().Format(time.RFC3339)
	g.Active = true
	g.CreatedAt = now
	g.UpdatedAt = now
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return g, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertWarehouse(ctx, tx, g); err != nil {
		return g, err
	}
	if err := e.Events.Append(ctx, tx, "warehouse.created", "warehouse", g.WarehouseID, actorID, events.EventPayload{
		"aisles": g.Aisles, "racks_per_aisle": g.RacksPerAisle, "positions_per_rack": g.PositionsPerRack,
	}); err != nil {
		return g, err
	}
	return g, tx.Commit()
}

// UpdateWarehouse replaces a grammar's configuration.
func (e Engine) UpdateWarehouse(ctx context.Context, g domain.WarehouseGrammar, actorID string) (domain.WarehouseGrammar, error) {
	existing, err := e.Repo.GetWarehouse(ctx, g.WarehouseID)
	if err != nil {
		return g, err
	}
	if g.Aisles <= 0 || g.RacksPerAisle <= 0 || g.PositionsPerRack <= 0 {
		return g, errors.New("aisles, racks and positions must be positive")
	}
	if dup := duplicateLevel(g.LevelNames); dup != "" {
		return g, fmt.Errorf("duplicate level name %s", dup)
	}
	g.Active = existing.Active
	g.CreatedAt = existing.CreatedAt
	g.UpdatedAt = e.now().UTC().Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return g, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateWarehouse(ctx, tx, g); err != nil {
		return g, err
	}
	if err := e.Events.Append(ctx, tx, "warehouse.updated", "warehouse", g.WarehouseID, actorID, nil); err != nil {
		return g, err
	}
	return g, tx.Commit()
}

// SetWarehouseActive soft-deactivates or reactivates a warehouse.
func (e Engine) SetWarehouseActive(ctx context.Context, warehouseID string, active bool, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.SetWarehouseActive(ctx, tx, warehouseID, active, e.now().UTC().Format(time.RFC3339)); err != nil {
		return err
	}
	evt := "warehouse.deactivated"
	if active {
		evt = "warehouse.activated"
	}
	if err := e.Events.Append(ctx, tx, evt, "warehouse", warehouseID, actorID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

// ImportLocations records physical location rows for a warehouse.
func (e Engine) ImportLocations(ctx context.Context, warehouseID string, recs []domain.LocationRecord, actorID string) (int, error) {
	if _, err := e.Repo.GetWarehouse(ctx, warehouseID); err != nil {
		return 0, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	count := 0
	for _, rec := range recs {
		if rec.Code == "" {
			continue
		}
		rec.WarehouseID = warehouseID
		if rec.Type == "" {
			rec.Type = domain.LocationStorage
		}
		rec.Active = true
		if err := e.Repo.UpsertLocationOverride(ctx, tx, rec); err != nil {
			return count, err
		}
		count++
	}
	if err := e.Events.Append(ctx, tx, "locations.imported", "warehouse", warehouseID, actorID, events.EventPayload{"count": count}); err != nil {
		return count, err
	}
	return count, tx.Commit()
}

// DetectFormat learns a location-code format from examples and stores it on
// the warehouse. Detection never fails; low confidence simply keeps the
// pattern out of the validation path.
func (e Engine) DetectFormat(ctx context.Context, warehouseID string, examples []string, actorID string) (domain.FormatPattern, error) {
	if _, err := e.Repo.GetWarehouse(ctx, warehouseID); err != nil {
		return domain.FormatPattern{}, err
	}
	pattern := format.Detect(examples)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return pattern, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpsertFormatPattern(ctx, tx, warehouseID, pattern, e.now().UTC().Format(time.RFC3339)); err != nil {
		return pattern, err
	}
	if err := e.Events.Append(ctx, tx, "format.detected", "warehouse", warehouseID, actorID, events.EventPayload{
		"pattern_type": pattern.PatternType,
		"confidence":   pattern.Confidence,
	}); err != nil {
		return pattern, err
	}
	return pattern, tx.Commit()
}

// CreateRule registers a new anomaly rule.
func (e Engine) CreateRule(ctx context.Context, rule domain.Rule, actorID string) (domain.Rule, error) {
	if rule.ID == "" {
		rule.ID = uuid.NewSHA1(uuid.NameSpaceOID, []byte(rule.RuleType+"|"+e.now().UTC().Format(time.RFC3339Nano))).String()
	}
	if rule.RuleType == "" {
		return rule, errors.New("rule type is required")
	}
	now := e.now().UTC().Format(time.RFC3339)
	rule.Active = true
	rule.CreatedAt = now
	rule.UpdatedAt = now
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return rule, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertRule(ctx, tx, rule); err != nil {
		return rule, err
	}
	if err := e.Events.Append(ctx, tx, "rule.created", "rule", rule.ID, actorID, events.EventPayload{
		"rule_type": rule.RuleType, "priority": rule.Priority,
	}); err != nil {
		return rule, err
	}
	return rule, tx.Commit()
}

// UpdateRule edits a rule between evaluation runs.
func (e Engine) UpdateRule(ctx context.Context, rule domain.Rule, actorID string) (domain.Rule, error) {
	existing, err := e.Repo.GetRule(ctx, rule.ID)
	if err != nil {
		return rule, err
	}
	if rule.RuleType == "" {
		rule.RuleType = existing.RuleType
	}
	rule.CreatedAt = existing.CreatedAt
	rule.UpdatedAt = e.now().UTC().Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return rule, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateRule(ctx, tx, rule); err != nil {
		return rule, err
	}
	if err := e.Events.Append(ctx, tx, "rule.updated", "rule", rule.ID, actorID, events.EventPayload{
		"active": rule.Active,
	}); err != nil {
		return rule, err
	}
	return rule, tx.Commit()
}

func duplicateLevel(levels string) string {
	seen := map[rune]bool{}
	for _, r := range levels {
		if seen[r] {
			return strings.ToUpper(string(r))
		}
		seen[r] = true
	}
	return ""
}
