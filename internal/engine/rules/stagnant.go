package rules

import (
	"fmt"

	"stockwatch/internal/domain"
)

// StagnantPallets flags pallets sitting in the configured location types
// longer than time_threshold_hours.
type StagnantPallets struct{}

func (StagnantPallets) Evaluate(rule domain.Rule, snap domain.Snapshot, ectx Context) (Result, error) {
	threshold, err := requireNumber(rule.Conditions, "time_threshold_hours")
	if err != nil {
		return Result{}, err
	}
	types, err := requireStringSlice(rule.Conditions, "location_types")
	if err != nil {
		return Result{}, err
	}

	var res Result
	for _, row := range snap.Rows {
		if row.PalletID == "" || row.Location == "" {
			res.SkippedRows++
			continue
		}
		ts, err := rowTimestamp(row)
		if err != nil {
			res.SkippedRows++
			continue
		}
		rec := resolveAny(ectx.Engine, row.Location)
		if rec == nil || !containsType(types, rec.Type) {
			continue
		}
		age := ectx.Now.Sub(ts).Hours()
		if age <= threshold {
			continue
		}
		res.Anomalies = append(res.Anomalies, domain.Anomaly{
			PalletID: row.PalletID,
			Location: row.Location,
			Description: fmt.Sprintf("pallet %s stagnant in %s location %s for %.1f hours (threshold %.0f)",
				row.PalletID, rec.Type, row.Location, age, threshold),
			Details: map[string]any{
				"age_hours":       age,
				"threshold_hours": threshold,
				"location_type":   rec.Type,
			},
		})
	}
	return res, nil
}
