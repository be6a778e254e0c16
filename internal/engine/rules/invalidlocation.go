package rules

import (
	"fmt"

	"stockwatch/internal/domain"
	"stockwatch/internal/location"
)

// InvalidLocation flags pallets whose code fails validation even after
// every normalizer variant was tried.
type InvalidLocation struct{}

func (InvalidLocation) Evaluate(rule domain.Rule, snap domain.Snapshot, ectx Context) (Result, error) {
	var res Result
	for _, row := range snap.Rows {
		if row.PalletID == "" {
			res.SkippedRows++
			continue
		}
		if row.Location == "" {
			res.SkippedRows++
			continue
		}
		valid := false
		for _, variant := range location.Normalize(row.Location) {
			if ok, _ := ectx.Engine.Validate(variant); ok {
				valid = true
				break
			}
		}
		if valid {
			continue
		}
		_, reason := ectx.Engine.Validate(row.Location)
		res.Anomalies = append(res.Anomalies, domain.Anomaly{
			PalletID:    row.PalletID,
			Location:    row.Location,
			Description: fmt.Sprintf("location %s is not valid for warehouse %s: %s", row.Location, ectx.WarehouseID, reason),
			Details: map[string]any{
				"reason":        reason,
				"location_type": domain.LocationUnknown,
			},
		})
	}
	return res, nil
}
