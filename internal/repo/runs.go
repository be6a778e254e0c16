package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"stockwatch/internal/domain"
)

func (r Repo) InsertRun(ctx context.Context, tx *sql.Tx, run domain.Run) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO runs(id,warehouse_id,score,confidence_level,low_confidence,row_count,status,started_at,finished_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		run.ID, run.WarehouseID, run.Score, run.ConfidenceLevel, boolInt(run.LowConfidence), run.RowCount, run.Status, run.StartedAt, nullable(run.FinishedAt))
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	for _, res := range run.Results {
		if err := r.insertRunResult(ctx, tx, run.ID, res); err != nil {
			return err
		}
		for _, a := range res.Anomalies {
			if err := r.insertAnomaly(ctx, tx, run.ID, a); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r Repo) insertRunResult(ctx context.Context, tx *sql.Tx, runID string, res domain.RuleResult) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO run_results(run_id,rule_id,rule_type,status,error_message,anomaly_count,skipped_rows,execution_time_ms) VALUES (?,?,?,?,?,?,?,?)`,
		runID, res.RuleID, res.RuleType, res.Status, nullable(res.ErrorMessage), len(res.Anomalies), res.SkippedRows, res.ExecutionTimeMs)
	if err != nil {
		return fmt.Errorf("insert run result: %w", err)
	}
	return nil
}

func (r Repo) insertAnomaly(ctx context.Context, tx *sql.Tx, runID string, a domain.Anomaly) error {
	var details any
	if len(a.Details) > 0 {
		b, err := json.Marshal(a.Details)
		if err != nil {
			return fmt.Errorf("marshal anomaly details: %w", err)
		}
		details = string(b)
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO anomalies(id,run_id,rule_id,rule_type,pallet_id,location,severity,description,details_json) VALUES (?,?,?,?,?,?,?,?,?)`,
		a.ID, runID, a.RuleID, a.RuleType, a.PalletID, a.Location, a.Severity, a.Description, details)
	if err != nil {
		return fmt.Errorf("insert anomaly: %w", err)
	}
	return nil
}

func (r Repo) GetRun(ctx context.Context, id string) (domain.Run, error) {
	var run domain.Run
	var low int
	var finished sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,warehouse_id,score,confidence_level,low_confidence,row_count,status,started_at,finished_at FROM runs WHERE id=?`, id).
		Scan(&run.ID, &run.WarehouseID, &run.Score, &run.ConfidenceLevel, &low, &run.RowCount, &run.Status, &run.StartedAt, &finished)
	if err == sql.ErrNoRows {
		return run, ErrNotFound
	}
	if err != nil {
		return run, err
	}
	run.LowConfidence = low == 1
	if finished.Valid {
		run.FinishedAt = finished.String
	}
	if run.Results, err = r.listRunResults(ctx, id); err != nil {
		return run, err
	}
	return run, nil
}

func (r Repo) ListRuns(ctx context.Context, limit int) ([]domain.Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,warehouse_id,score,confidence_level,low_confidence,row_count,status,started_at,COALESCE(finished_at,'') FROM runs ORDER BY started_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Run
	for rows.Next() {
		var run domain.Run
		var low int
		if err := rows.Scan(&run.ID, &run.WarehouseID, &run.Score, &run.ConfidenceLevel, &low, &run.RowCount, &run.Status, &run.StartedAt, &run.FinishedAt); err != nil {
			return nil, err
		}
		run.LowConfidence = low == 1
		out = append(out, run)
	}
	return out, rows.Err()
}

func (r Repo) listRunResults(ctx context.Context, runID string) ([]domain.RuleResult, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT rule_id,rule_type,status,COALESCE(error_message,''),skipped_rows,execution_time_ms FROM run_results WHERE run_id=? ORDER BY rule_id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.RuleResult
	for rows.Next() {
		var res domain.RuleResult
		if err := rows.Scan(&res.RuleID, &res.RuleType, &res.Status, &res.ErrorMessage, &res.SkippedRows, &res.ExecutionTimeMs); err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		if out[i].Anomalies, err = r.ListRunAnomalies(ctx, runID, out[i].RuleID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// ListRunAnomalies returns a run's anomalies, optionally filtered by rule.
func (r Repo) ListRunAnomalies(ctx context.Context, runID, ruleID string) ([]domain.Anomaly, error) {
	query := `SELECT id,rule_id,rule_type,pallet_id,location,severity,description,COALESCE(details_json,'') FROM anomalies WHERE run_id=?`
	args := []any{runID}
	if ruleID != "" {
		query += ` AND rule_id=?`
		args = append(args, ruleID)
	}
	query += ` ORDER BY rule_id, pallet_id, location`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Anomaly
	for rows.Next() {
		var a domain.Anomaly
		var details string
		if err := rows.Scan(&a.ID, &a.RuleID, &a.RuleType, &a.PalletID, &a.Location, &a.Severity, &a.Description, &details); err != nil {
			return nil, err
		}
		if details != "" {
			if err := json.Unmarshal([]byte(details), &a.Details); err != nil {
				return nil, fmt.Errorf("decode anomaly details: %w", err)
			}
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// LatestEvents returns recent audit events, newest first.
func (r Repo) LatestEvents(ctx context.Context, n int, evtType, entityKind, entityID string) ([]domain.Event, error) {
	if n <= 0 {
		n = 20
	}
	query := `SELECT id,ts,type,entity_kind,COALESCE(entity_id,''),actor_id,payload_json FROM events WHERE 1=1`
	var args []any
	if evtType != "" {
		query += ` AND type=?`
		args = append(args, evtType)
	}
	if entityKind != "" {
		query += ` AND entity_kind=?`
		args = append(args, entityKind)
	}
	if entityID != "" {
		query += ` AND entity_id=?`
		args = append(args, entityID)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, n)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
