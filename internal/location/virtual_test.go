package location_test

import (
	"strings"
	"testing"

	"stockwatch/internal/domain"
	"stockwatch/internal/location"
)

func testGrammar() domain.WarehouseGrammar {
	return domain.WarehouseGrammar{
		WarehouseID:      "main",
		Aisles:           4,
		RacksPerAisle:    5,
		PositionsPerRack: 10,
		LevelNames:       "ABCD",
		DefaultCapacity:  1,
		SpecialAreas: []domain.SpecialArea{
			{Code: "RECV-01", Type: domain.LocationReceiving, Capacity: 50, Zone: "inbound"},
			{Code: "DOCK-01", Type: domain.LocationDock, Capacity: 10},
		},
		Active: true,
	}
}

func TestValidateStorageCode(t *testing.T) {
	eng := location.NewEngine(testGrammar(), nil, 0)
	valid, reason := eng.Validate("01-02-03A")
	if !valid {
		t.Fatalf("expected valid, got reason %q", reason)
	}
}

func TestValidateBounds(t *testing.T) {
	eng := location.NewEngine(testGrammar(), nil, 0)
	cases := []struct {
		code string
		want string
	}{
		{"05-02-03A", "aisle 5 exceeds"},
		{"01-06-03A", "rack 6 exceeds"},
		{"01-02-11A", "position 11 exceeds"},
		{"01-02-03E", "level E not in"},
		{"01-02", "does not match"},
		{"", "empty location code"},
	}
	for _, tc := range cases {
		valid, reason := eng.Validate(tc.code)
		if valid {
			t.Fatalf("code %q: expected invalid", tc.code)
		}
		if !strings.Contains(reason, tc.want) {
			t.Fatalf("code %q: reason %q does not mention %q", tc.code, reason, tc.want)
		}
	}
}

func TestValidateSpecialArea(t *testing.T) {
	eng := location.NewEngine(testGrammar(), nil, 0)
	for _, code := range []string{"RECV-01", "recv-01", " RECV-01 "} {
		if valid, reason := eng.Validate(code); !valid {
			t.Fatalf("code %q: expected valid, got %q", code, reason)
		}
	}
}

func TestPropertiesStorage(t *testing.T) {
	eng := location.NewEngine(testGrammar(), nil, 0)
	rec := eng.Properties("03-04-07B")
	if rec == nil {
		t.Fatal("expected a record")
	}
	if rec.Type != domain.LocationStorage {
		t.Fatalf("type = %s, want %s", rec.Type, domain.LocationStorage)
	}
	if rec.Aisle != 3 || rec.Rack != 4 || rec.Position != 7 || rec.Level != "B" {
		t.Fatalf("coordinates = %d/%d/%d/%s", rec.Aisle, rec.Rack, rec.Position, rec.Level)
	}
	if rec.Zone != "aisle-03" {
		t.Fatalf("zone = %s, want aisle-03", rec.Zone)
	}
	if rec.Capacity != 1 {
		t.Fatalf("capacity = %d, want grammar default 1", rec.Capacity)
	}
}

func TestPropertiesSpecialArea(t *testing.T) {
	eng := location.NewEngine(testGrammar(), nil, 0)
	rec := eng.Properties("RECV-01")
	if rec == nil {
		t.Fatal("expected a record")
	}
	if rec.Type != domain.LocationReceiving || rec.Capacity != 50 || rec.Zone != "inbound" {
		t.Fatalf("record = %+v", rec)
	}
}

func TestPropertiesInvalid(t *testing.T) {
	eng := location.NewEngine(testGrammar(), nil, 0)
	if rec := eng.Properties("99-99-99Z"); rec != nil {
		t.Fatalf("expected nil for invalid code, got %+v", rec)
	}
}

func TestOverrideBeatsDerivation(t *testing.T) {
	overrides := []domain.LocationRecord{
		{Code: "01-02-03A", WarehouseID: "main", Type: domain.LocationStaging, Capacity: 5, Active: true},
	}
	eng := location.NewEngine(testGrammar(), overrides, 0)
	rec := eng.Properties("01-02-03A")
	if rec == nil || rec.Type != domain.LocationStaging || rec.Capacity != 5 {
		t.Fatalf("imported row must win over derivation, got %+v", rec)
	}
}

func TestDetectedFormatGating(t *testing.T) {
	positionLevel := &domain.FormatPattern{
		PatternType: domain.PatternPositionLevel,
		Segments: []domain.Segment{
			{Kind: domain.SegmentDigits, Length: 2, Charset: "0-9"},
			{Kind: domain.SegmentLetters, Length: 1, Charset: "A-Z"},
		},
		Confidence: 0.9,
	}

	g := testGrammar()
	g.DetectedFormat = positionLevel
	eng := location.NewEngine(g, nil, 0)
	if valid, reason := eng.Validate("03A"); !valid {
		t.Fatalf("expected detected format to accept 03A, got %q", reason)
	}
	if valid, _ := eng.Validate("01-02-03A"); valid {
		t.Fatal("detected format should replace the default layout")
	}

	// Below the confidence gate the default layout stays in charge.
	low := *positionLevel
	low.Confidence = 0.3
	g.DetectedFormat = &low
	eng = location.NewEngine(g, nil, 0)
	if valid, reason := eng.Validate("01-02-03A"); !valid {
		t.Fatalf("expected default layout below gate, got %q", reason)
	}
}

func TestSummary(t *testing.T) {
	eng := location.NewEngine(testGrammar(), nil, 0)
	s := eng.Summary()
	if s.StorageLocations != 4*5*10*4 {
		t.Fatalf("storage locations = %d, want %d", s.StorageLocations, 4*5*10*4)
	}
	if s.CountsByType[domain.LocationReceiving] != 1 || s.CountsByType[domain.LocationDock] != 1 {
		t.Fatalf("counts by type = %v", s.CountsByType)
	}
	if s.TotalCapacity != 4*5*10*4*1+50+10 {
		t.Fatalf("total capacity = %d", s.TotalCapacity)
	}
	if len(s.SpecialAreaCodes) != 2 {
		t.Fatalf("special area codes = %v", s.SpecialAreaCodes)
	}
}

func TestKnownLocationCount(t *testing.T) {
	eng := location.NewEngine(testGrammar(), nil, 0)
	if got := eng.KnownLocationCount(); got != 4*5*10*4+2 {
		t.Fatalf("known locations = %d, want %d", got, 4*5*10*4+2)
	}
}
