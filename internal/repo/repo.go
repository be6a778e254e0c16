package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"stockwatch/internal/domain"
)

// Repo is the registry and run store over SQLite.
type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// --- warehouses ---

func (r Repo) InsertWarehouse(ctx context.Context, tx *sql.Tx, g domain.WarehouseGrammar) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO warehouses(id,name,aisles,racks_per_aisle,positions_per_rack,level_names,default_capacity,active,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?)`,
		g.WarehouseID, nullable(g.Name), g.Aisles, g.RacksPerAisle, g.PositionsPerRack, g.LevelNames, g.DefaultCapacity, boolInt(g.Active), g.CreatedAt, g.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert warehouse: %w", err)
	}
	return r.replaceSpecialAreas(ctx, tx, g.WarehouseID, g.SpecialAreas)
}

func (r Repo) UpdateWarehouse(ctx context.Context, tx *sql.Tx, g domain.WarehouseGrammar) error {
	res, err := tx.ExecContext(ctx, `UPDATE warehouses SET name=?,aisles=?,racks_per_aisle=?,positions_per_rack=?,level_names=?,default_capacity=?,active=?,updated_at=? WHERE id=?`,
		nullable(g.Name), g.Aisles, g.RacksPerAisle, g.PositionsPerRack, g.LevelNames, g.DefaultCapacity, boolInt(g.Active), g.UpdatedAt, g.WarehouseID)
	if err != nil {
		return fmt.Errorf("update warehouse: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return r.replaceSpecialAreas(ctx, tx, g.WarehouseID, g.SpecialAreas)
}

func (r Repo) replaceSpecialAreas(ctx context.Context, tx *sql.Tx, warehouseID string, areas []domain.SpecialArea) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM location_overrides WHERE warehouse_id=? AND source='special'`, warehouseID); err != nil {
		return err
	}
	for _, a := range areas {
		if _, err := tx.ExecContext(ctx, `INSERT INTO location_overrides(warehouse_id,code,type,zone,capacity,source,active) VALUES (?,?,?,?,?,'special',1)`,
			warehouseID, a.Code, a.Type, nullable(a.Zone), a.Capacity); err != nil {
			return fmt.Errorf("insert special area %s: %w", a.Code, err)
		}
	}
	return nil
}

// SetWarehouseActive soft-deactivates (or reactivates) a warehouse; grammars
// are never deleted while snapshots may reference them.
func (r Repo) SetWarehouseActive(ctx context.Context, tx *sql.Tx, warehouseID string, active bool, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE warehouses SET active=?, updated_at=? WHERE id=?`, boolInt(active), updatedAt, warehouseID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetWarehouse(ctx context.Context, id string) (domain.WarehouseGrammar, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,COALESCE(name,''),aisles,racks_per_aisle,positions_per_rack,level_names,default_capacity,active,created_at,updated_at FROM warehouses WHERE id=?`, id)
	g, err := scanWarehouse(row)
	if err != nil {
		return g, err
	}
	if g.SpecialAreas, err = r.listSpecialAreas(ctx, id); err != nil {
		return g, err
	}
	if pattern, err := r.GetFormatPattern(ctx, id); err == nil {
		g.DetectedFormat = &pattern
	} else if !errors.Is(err, ErrNotFound) {
		return g, err
	}
	return g, nil
}

func (r Repo) ListWarehouses(ctx context.Context, includeInactive bool) ([]domain.WarehouseGrammar, error) {
	query := `SELECT id,COALESCE(name,''),aisles,racks_per_aisle,positions_per_rack,level_names,default_capacity,active,created_at,updated_at FROM warehouses`
	if !includeInactive {
		query += ` WHERE active=1`
	}
	query += ` ORDER BY id`
	rows, err := r.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.WarehouseGrammar
	for rows.Next() {
		var g domain.WarehouseGrammar
		var name string
		var active int
		if err := rows.Scan(&g.WarehouseID, &name, &g.Aisles, &g.RacksPerAisle, &g.PositionsPerRack, &g.LevelNames, &g.DefaultCapacity, &active, &g.CreatedAt, &g.UpdatedAt); err != nil {
			return nil, err
		}
		g.Name = name
		g.Active = active == 1
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		if out[i].SpecialAreas, err = r.listSpecialAreas(ctx, out[i].WarehouseID); err != nil {
			return nil, err
		}
		if pattern, err := r.GetFormatPattern(ctx, out[i].WarehouseID); err == nil {
			out[i].DetectedFormat = &pattern
		} else if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	return out, nil
}

func scanWarehouse(row *sql.Row) (domain.WarehouseGrammar, error) {
	var g domain.WarehouseGrammar
	var name string
	var active int
	err := row.Scan(&g.WarehouseID, &name, &g.Aisles, &g.RacksPerAisle, &g.PositionsPerRack, &g.LevelNames, &g.DefaultCapacity, &active, &g.CreatedAt, &g.UpdatedAt)
	if err == sql.ErrNoRows {
		return g, ErrNotFound
	}
	g.Name = name
	g.Active = active == 1
	return g, err
}

func (r Repo) listSpecialAreas(ctx context.Context, warehouseID string) ([]domain.SpecialArea, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT code,type,COALESCE(zone,''),capacity FROM location_overrides WHERE warehouse_id=? AND source='special' AND active=1 ORDER BY code`, warehouseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.SpecialArea
	for rows.Next() {
		var a domain.SpecialArea
		if err := rows.Scan(&a.Code, &a.Type, &a.Zone, &a.Capacity); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// --- location overrides (physical provenance) ---

func (r Repo) UpsertLocationOverride(ctx context.Context, tx *sql.Tx, rec domain.LocationRecord) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO location_overrides(warehouse_id,code,type,zone,capacity,aisle,rack,position,level,source,active)
VALUES (?,?,?,?,?,?,?,?,?,'import',?)
ON CONFLICT(warehouse_id,code) DO UPDATE SET type=excluded.type,zone=excluded.zone,capacity=excluded.capacity,aisle=excluded.aisle,rack=excluded.rack,position=excluded.position,level=excluded.level,active=excluded.active`,
		rec.WarehouseID, rec.Code, rec.Type, nullable(rec.Zone), rec.Capacity, zeroNull(rec.Aisle), zeroNull(rec.Rack), zeroNull(rec.Position), nullable(rec.Level), boolInt(rec.Active))
	return err
}

func (r Repo) ListLocationOverrides(ctx context.Context, warehouseID string) ([]domain.LocationRecord, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT code,type,COALESCE(zone,''),capacity,COALESCE(aisle,0),COALESCE(rack,0),COALESCE(position,0),COALESCE(level,''),active FROM location_overrides WHERE warehouse_id=? AND source='import' ORDER BY code`, warehouseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.LocationRecord
	for rows.Next() {
		rec := domain.LocationRecord{WarehouseID: warehouseID}
		var active int
		if err := rows.Scan(&rec.Code, &rec.Type, &rec.Zone, &rec.Capacity, &rec.Aisle, &rec.Rack, &rec.Position, &rec.Level, &active); err != nil {
			return nil, err
		}
		rec.Active = active == 1
		out = append(out, rec)
	}
	return out, rows.Err()
}

// --- format patterns ---

func (r Repo) UpsertFormatPattern(ctx context.Context, tx *sql.Tx, warehouseID string, p domain.FormatPattern, detectedAt string) error {
	segments, err := json.Marshal(p.Segments)
	if err != nil {
		return err
	}
	examples, err := json.Marshal(p.SourceExamples)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO format_patterns(warehouse_id,pattern_type,segments_json,confidence,source_examples_json,detected_at)
VALUES (?,?,?,?,?,?)
ON CONFLICT(warehouse_id) DO UPDATE SET pattern_type=excluded.pattern_type,segments_json=excluded.segments_json,confidence=excluded.confidence,source_examples_json=excluded.source_examples_json,detected_at=excluded.detected_at`,
		warehouseID, p.PatternType, string(segments), p.Confidence, string(examples), detectedAt)
	return err
}

func (r Repo) GetFormatPattern(ctx context.Context, warehouseID string) (domain.FormatPattern, error) {
	var p domain.FormatPattern
	var segments, examples string
	err := r.DB.QueryRowContext(ctx, `SELECT pattern_type,segments_json,confidence,COALESCE(source_examples_json,'[]') FROM format_patterns WHERE warehouse_id=?`, warehouseID).
		Scan(&p.PatternType, &segments, &p.Confidence, &examples)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	if err := json.Unmarshal([]byte(segments), &p.Segments); err != nil {
		return p, fmt.Errorf("decode pattern segments: %w", err)
	}
	if err := json.Unmarshal([]byte(examples), &p.SourceExamples); err != nil {
		return p, fmt.Errorf("decode pattern examples: %w", err)
	}
	return p, nil
}

// --- rules ---

func (r Repo) InsertRule(ctx context.Context, tx *sql.Tx, rule domain.Rule) error {
	conditions, err := marshalConditions(rule.Conditions)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO rules(id,name,rule_type,conditions_json,priority,active,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?)`,
		rule.ID, nullable(rule.Name), rule.RuleType, conditions, rule.Priority, boolInt(rule.Active), rule.CreatedAt, rule.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert rule: %w", err)
	}
	return nil
}

func (r Repo) UpdateRule(ctx context.Context, tx *sql.Tx, rule domain.Rule) error {
	conditions, err := marshalConditions(rule.Conditions)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE rules SET name=?,rule_type=?,conditions_json=?,priority=?,active=?,updated_at=? WHERE id=?`,
		nullable(rule.Name), rule.RuleType, conditions, rule.Priority, boolInt(rule.Active), rule.UpdatedAt, rule.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetRule(ctx context.Context, id string) (domain.Rule, error) {
	return scanRule(r.DB.QueryRowContext(ctx, `SELECT id,COALESCE(name,''),rule_type,COALESCE(conditions_json,''),priority,active,created_at,updated_at FROM rules WHERE id=?`, id))
}

func (r Repo) ListRules(ctx context.Context, activeOnly bool) ([]domain.Rule, error) {
	query := `SELECT id,COALESCE(name,''),rule_type,COALESCE(conditions_json,''),priority,active,created_at,updated_at FROM rules`
	if activeOnly {
		query += ` WHERE active=1`
	}
	query += ` ORDER BY priority DESC, id`
	rows, err := r.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Rule
	for rows.Next() {
		var rule domain.Rule
		var conditions string
		var active int
		if err := rows.Scan(&rule.ID, &rule.Name, &rule.RuleType, &conditions, &rule.Priority, &active, &rule.CreatedAt, &rule.UpdatedAt); err != nil {
			return nil, err
		}
		rule.Active = active == 1
		if rule.Conditions, err = unmarshalConditions(conditions); err != nil {
			return nil, err
		}
		out = append(out, rule)
	}
	return out, rows.Err()
}

func scanRule(row *sql.Row) (domain.Rule, error) {
	var rule domain.Rule
	var conditions string
	var active int
	err := row.Scan(&rule.ID, &rule.Name, &rule.RuleType, &conditions, &rule.Priority, &active, &rule.CreatedAt, &rule.UpdatedAt)
	if err == sql.ErrNoRows {
		return rule, ErrNotFound
	}
	if err != nil {
		return rule, err
	}
	rule.Active = active == 1
	rule.Conditions, err = unmarshalConditions(conditions)
	return rule, err
}

func marshalConditions(c map[string]any) (any, error) {
	if len(c) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal rule conditions: %w", err)
	}
	return string(b), nil
}

func unmarshalConditions(raw string) (map[string]any, error) {
	if raw == "" {
		return nil, nil
	}
	var c map[string]any
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return nil, fmt.Errorf("decode rule conditions: %w", err)
	}
	return c, nil
}

// --- helpers ---

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func zeroNull(v int) any {
	if v == 0 {
		return nil
	}
	return v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
