package rules

import (
	"fmt"
	"strings"

	"stockwatch/internal/domain"
)

// LocationMappingError cross-checks a row's declared location type against
// the type the layout derives for its code.
type LocationMappingError struct{}

func (LocationMappingError) Evaluate(rule domain.Rule, snap domain.Snapshot, ectx Context) (Result, error) {
	var res Result
	for _, row := range snap.Rows {
		if row.PalletID == "" || row.Location == "" {
			res.SkippedRows++
			continue
		}
		if row.DeclaredType == "" {
			continue
		}
		rec := resolveAny(ectx.Engine, row.Location)
		if rec == nil {
			// Unresolvable codes surface through the invalid-location rule.
			continue
		}
		declared := strings.ToUpper(strings.TrimSpace(row.DeclaredType))
		if declared == rec.Type {
			continue
		}
		res.Anomalies = append(res.Anomalies, domain.Anomaly{
			PalletID: row.PalletID,
			Location: row.Location,
			Description: fmt.Sprintf("location %s declared as %s but layout derives %s",
				row.Location, declared, rec.Type),
			Details: map[string]any{
				"declared_type": declared,
				"derived_type":  rec.Type,
			},
		})
	}
	return res, nil
}
