package format_test

import (
	"reflect"
	"testing"

	"stockwatch/internal/domain"
	"stockwatch/internal/location/format"
)

func TestDetectAisleRackPositionLevel(t *testing.T) {
	p := format.Detect([]string{"01-02-03A", "01-02-04B", "02-05-10C"})
	if p.PatternType != domain.PatternAisleRackPosLvl {
		t.Fatalf("pattern type = %s, want %s", p.PatternType, domain.PatternAisleRackPosLvl)
	}
	if p.Confidence != 1.0 {
		t.Fatalf("confidence = %v, want 1.0", p.Confidence)
	}
	if len(p.Segments) != 6 {
		t.Fatalf("segments = %d, want 6", len(p.Segments))
	}
	want := []domain.Segment{
		{Kind: domain.SegmentDigits, Length: 2, Charset: "0-9"},
		{Kind: domain.SegmentLiteral, Length: 1, Charset: "-"},
		{Kind: domain.SegmentDigits, Length: 2, Charset: "0-9"},
		{Kind: domain.SegmentLiteral, Length: 1, Charset: "-"},
		{Kind: domain.SegmentDigits, Length: 2, Charset: "0-9"},
		{Kind: domain.SegmentLetters, Length: 1, Charset: "A-Z"},
	}
	if !reflect.DeepEqual(p.Segments, want) {
		t.Fatalf("segments = %+v, want %+v", p.Segments, want)
	}
}

func TestDetectPositionLevel(t *testing.T) {
	p := format.Detect([]string{"01A", "02B", "10C", "07D"})
	if p.PatternType != domain.PatternPositionLevel {
		t.Fatalf("pattern type = %s, want %s", p.PatternType, domain.PatternPositionLevel)
	}
	if p.Confidence != 1.0 {
		t.Fatalf("confidence = %v, want 1.0", p.Confidence)
	}
}

func TestDetectFewExamplePenalty(t *testing.T) {
	p := format.Detect([]string{"01-02-03A", "04-05-06B"})
	if p.Confidence != 0.75 {
		t.Fatalf("confidence = %v, want 0.75 with fewer than three examples", p.Confidence)
	}
}

func TestDetectEmptyInput(t *testing.T) {
	p := format.Detect(nil)
	if p.Confidence != 0 {
		t.Fatalf("confidence = %v, want 0 for empty input", p.Confidence)
	}
	if p.PatternType != domain.PatternAlphanumericFree {
		t.Fatalf("pattern type = %s, want %s", p.PatternType, domain.PatternAlphanumericFree)
	}

	p = format.Detect([]string{"  ", ""})
	if p.Confidence != 0 {
		t.Fatalf("confidence = %v, want 0 for blank-only input", p.Confidence)
	}
}

func TestDetectContradictoryInput(t *testing.T) {
	// Nothing aligns between these shapes: detection soft-fails rather
	// than erroring.
	p := format.Detect([]string{"01-02-03A", "RECV"})
	if p.Confidence != 0 {
		t.Fatalf("confidence = %v, want 0 for contradictory input", p.Confidence)
	}
	if p.PatternType != domain.PatternAlphanumericFree {
		t.Fatalf("pattern type = %s, want %s", p.PatternType, domain.PatternAlphanumericFree)
	}
}

func TestDetectPartialStability(t *testing.T) {
	// First three positions agree, the tail drifts.
	p := format.Detect([]string{"01-02-03A", "04-05-123", "06-07-08B"})
	if p.Confidence <= 0 || p.Confidence >= 1 {
		t.Fatalf("confidence = %v, want strictly between 0 and 1", p.Confidence)
	}
}

func TestDetectDeterministic(t *testing.T) {
	cases := [][]string{
		{"01-02-03A", "01-02-04B", "02-05-10C"},
		// Final segment splits one digit vote against one letter vote; the
		// winner must not depend on map iteration order.
		{"01-A", "01-1"},
	}
	for _, examples := range cases {
		base := format.Detect(examples)
		for i := 0; i < 50; i++ {
			if got := format.Detect(examples); !reflect.DeepEqual(got, base) {
				t.Fatalf("detection flipped for %v: %+v vs %+v", examples, got, base)
			}
		}
	}
}
