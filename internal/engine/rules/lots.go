package rules

import (
	"fmt"

	"stockwatch/internal/domain"
)

// UncoordinatedLots flags lots whose pallets have partially moved: the
// fraction already in a final location type is below completion_threshold
// while siblings still sit in intake types.
type UncoordinatedLots struct{}

func (UncoordinatedLots) Evaluate(rule domain.Rule, snap domain.Snapshot, ectx Context) (Result, error) {
	threshold, err := requireNumber(rule.Conditions, "completion_threshold")
	if err != nil {
		return Result{}, err
	}
	if threshold < 0 || threshold > 1 {
		return Result{}, fmt.Errorf("condition %q must be between 0 and 1, got %v", "completion_threshold", threshold)
	}
	finalTypes, err := optionalStringSlice(rule.Conditions, "final_location_types", []string{domain.LocationStorage})
	if err != nil {
		return Result{}, err
	}
	intakeTypes, err := optionalStringSlice(rule.Conditions, "intake_location_types",
		[]string{domain.LocationReceiving, domain.LocationStaging})
	if err != nil {
		return Result{}, err
	}

	type member struct {
		row  domain.PalletRow
		rec  *domain.LocationRecord
		kind string
	}
	var res Result
	lots := map[string][]member{}
	for _, row := range snap.Rows {
		if row.PalletID == "" || row.Location == "" {
			res.SkippedRows++
			continue
		}
		lotID := row.LotID
		if lotID == "" {
			lotID = row.ReceiptNumber
		}
		if lotID == "" {
			res.SkippedRows++
			continue
		}
		rec := resolveAny(ectx.Engine, row.Location)
		kind := ""
		if rec != nil {
			switch {
			case containsType(finalTypes, rec.Type):
				kind = "final"
			case containsType(intakeTypes, rec.Type):
				kind = "intake"
			}
		}
		lots[lotID] = append(lots[lotID], member{row: row, rec: rec, kind: kind})
	}

	for lotID, members := range lots {
		total := len(members)
		finals, intakes := 0, 0
		for _, m := range members {
			switch m.kind {
			case "final":
				finals++
			case "intake":
				intakes++
			}
		}
		if intakes == 0 {
			continue
		}
		completion := float64(finals) / float64(total)
		if completion >= threshold {
			continue
		}
		for _, m := range members {
			if m.kind != "intake" {
				continue
			}
			res.Anomalies = append(res.Anomalies, domain.Anomaly{
				PalletID: m.row.PalletID,
				Location: m.row.Location,
				Description: fmt.Sprintf("lot %s is %.0f%% complete (threshold %.0f%%); pallet %s still in %s",
					lotID, completion*100, threshold*100, m.row.PalletID, m.rec.Type),
				Details: map[string]any{
					"lot_id":               lotID,
					"completion":           completion,
					"completion_threshold": threshold,
					"final_pallets":        finals,
					"total_pallets":        total,
				},
			})
		}
	}
	return res, nil
}
