package rules

import (
	"fmt"

	"stockwatch/internal/domain"
)

// Overcapacity flags locations holding more pallets than their derived
// capacity allows.
type Overcapacity struct{}

func (Overcapacity) Evaluate(rule domain.Rule, snap domain.Snapshot, ectx Context) (Result, error) {
	var res Result
	byLocation := map[string][]domain.PalletRow{}
	for _, row := range snap.Rows {
		if row.PalletID == "" || row.Location == "" {
			res.SkippedRows++
			continue
		}
		byLocation[row.Location] = append(byLocation[row.Location], row)
	}

	for loc, pallets := range byLocation {
		rec := resolveAny(ectx.Engine, loc)
		if rec == nil {
			// Unresolvable codes are the invalid-location rule's business.
			continue
		}
		if rec.Capacity <= 0 || len(pallets) <= rec.Capacity {
			continue
		}
		for _, row := range pallets {
			res.Anomalies = append(res.Anomalies, domain.Anomaly{
				PalletID: row.PalletID,
				Location: loc,
				Description: fmt.Sprintf("location %s holds %d pallets, capacity %d",
					loc, len(pallets), rec.Capacity),
				Details: map[string]any{
					"pallet_count":  len(pallets),
					"capacity":      rec.Capacity,
					"location_type": rec.Type,
				},
			})
		}
	}
	return res, nil
}
