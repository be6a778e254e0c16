// Package rules holds the pluggable anomaly evaluators. Each rule family
// implements Evaluator; the Registry dispatches by rule type and normalizes
// evaluator output into a RuleResult.
package rules

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"stockwatch/internal/domain"
	"stockwatch/internal/location"
)

// Context carries the per-run resolved warehouse, shared read-only by every
// evaluator in the run.
type Context struct {
	WarehouseID string
	Engine      *location.Engine
	Match       domain.ContextMatch
	Now         time.Time
}

// Result is an evaluator's raw output before the registry fills in rule
// identity, severity and ids.
type Result struct {
	Anomalies   []domain.Anomaly
	SkippedRows int
}

// Evaluator scans one snapshot for one rule family's anomalies. Returned
// errors mark the rule failed without affecting sibling rules.
type Evaluator interface {
	Evaluate(rule domain.Rule, snap domain.Snapshot, ectx Context) (Result, error)
}

// Registry maps rule types to evaluators.
type Registry struct {
	evaluators map[string]Evaluator
}

// NewRegistry returns a registry with the built-in evaluators installed.
func NewRegistry() *Registry {
	r := &Registry{evaluators: map[string]Evaluator{}}
	r.Register(domain.RuleStagnantPallets, StagnantPallets{})
	r.Register(domain.RuleOvercapacity, Overcapacity{})
	r.Register(domain.RuleInvalidLocation, InvalidLocation{})
	r.Register(domain.RuleUncoordinatedLots, UncoordinatedLots{})
	r.Register(domain.RuleLocationMappingError, LocationMappingError{})
	return r
}

// Register installs or replaces the evaluator for a rule type.
func (r *Registry) Register(ruleType string, ev Evaluator) {
	r.evaluators[ruleType] = ev
}

// Evaluate runs one rule through its evaluator, producing the final
// RuleResult. Evaluator errors and panics become a failed result; anomalies
// get deterministic ids and in-rule (pallet, rule) dedup.
func (r *Registry) Evaluate(rule domain.Rule, snap domain.Snapshot, ectx Context) domain.RuleResult {
	started := time.Now()
	result := domain.RuleResult{
		RuleID:   rule.ID,
		RuleType: rule.RuleType,
		Status:   domain.RunRunning,
	}
	ev, ok := r.evaluators[rule.RuleType]
	if !ok {
		result.Status = domain.RunFailed
		result.ErrorMessage = fmt.Sprintf("no evaluator registered for rule type %s", rule.RuleType)
		result.ExecutionTimeMs = time.Since(started).Milliseconds()
		return result
	}
	raw, err := func() (raw Result, err error) {
		defer func() {
			if rec := recover(); rec != nil {
				err = fmt.Errorf("evaluator panic: %v", rec)
			}
		}()
		return ev.Evaluate(rule, snap, ectx)
	}()
	result.ExecutionTimeMs = time.Since(started).Milliseconds()
	result.SkippedRows = raw.SkippedRows
	if err != nil {
		result.Status = domain.RunFailed
		result.ErrorMessage = err.Error()
		return result
	}
	result.Status = domain.RunSucceeded
	result.Anomalies = finalize(rule, raw.Anomalies)
	return result
}

// finalize stamps rule identity, severity and deterministic ids, suppresses
// duplicate (pallet, rule) pairs, and orders output for stable reports.
func finalize(rule domain.Rule, anomalies []domain.Anomaly) []domain.Anomaly {
	seen := map[string]bool{}
	out := make([]domain.Anomaly, 0, len(anomalies))
	for _, a := range anomalies {
		if seen[a.PalletID] {
			continue
		}
		seen[a.PalletID] = true
		a.RuleID = rule.ID
		a.RuleType = rule.RuleType
		if a.Severity == "" {
			a.Severity = severityFor(rule.Priority)
		}
		a.ID = uuid.NewSHA1(uuid.NameSpaceOID, []byte(rule.ID+"|"+a.PalletID+"|"+a.Location+"|"+a.Description)).String()
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PalletID != out[j].PalletID {
			return out[i].PalletID < out[j].PalletID
		}
		return out[i].Location < out[j].Location
	})
	return out
}

func severityFor(priority int) string {
	switch {
	case priority >= 8:
		return "critical"
	case priority >= 4:
		return "warning"
	default:
		return "info"
	}
}

// resolveAny classifies a code trying every normalizer variant in order.
func resolveAny(engine *location.Engine, code string) *domain.LocationRecord {
	for _, variant := range location.Normalize(code) {
		if rec := engine.Resolve(variant); rec != nil {
			return rec
		}
	}
	return nil
}

func containsType(types []string, t string) bool {
	for _, x := range types {
		if x == t {
			return true
		}
	}
	return false
}

// rowTimestamp prefers the last movement over creation time.
func rowTimestamp(row domain.PalletRow) (time.Time, error) {
	raw := row.LastMovedAt
	if raw == "" {
		raw = row.CreatedAt
	}
	if raw == "" {
		return time.Time{}, fmt.Errorf("row has no timestamp")
	}
	return time.Parse(time.RFC3339, raw)
}
