// Package format infers a location-code grammar from example codes.
package format

import (
	"strings"
	"unicode"

	"stockwatch/internal/domain"
)

// fewExamplePenalty is applied when fewer than three examples are given.
const fewExamplePenalty = 0.75

// Detect learns a FormatPattern from example location codes. It never fails:
// empty or contradictory input yields a generic pattern with confidence 0,
// and callers are expected to check Confidence before trusting the result.
func Detect(examples []string) domain.FormatPattern {
	cleaned := make([]string, 0, len(examples))
	for _, ex := range examples {
		ex = strings.TrimSpace(ex)
		if ex != "" {
			cleaned = append(cleaned, ex)
		}
	}
	if len(cleaned) == 0 {
		return genericPattern(nil)
	}

	segmented := make([][]domain.Segment, len(cleaned))
	for i, ex := range cleaned {
		segmented[i] = segment(ex)
	}

	total := 0
	for _, segs := range segmented {
		if len(segs) > total {
			total = len(segs)
		}
	}
	if total == 0 {
		return genericPattern(cleaned)
	}

	aligned := make([]domain.Segment, 0, total)
	stable := 0
	for pos := 0; pos < total; pos++ {
		seg, ok := alignPosition(segmented, pos)
		aligned = append(aligned, seg)
		if ok {
			stable++
		}
	}

	confidence := float64(stable) / float64(total)
	if len(cleaned) < 3 {
		confidence *= fewExamplePenalty
	}
	if stable == 0 {
		return genericPattern(cleaned)
	}

	return domain.FormatPattern{
		PatternType:    classify(aligned),
		Segments:       aligned,
		Confidence:     confidence,
		SourceExamples: cleaned,
	}
}

// segment splits a code into maximal runs of digits, letters, and single
// literal separators.
func segment(code string) []domain.Segment {
	var segs []domain.Segment
	runes := []rune(code)
	for i := 0; i < len(runes); {
		r := runes[i]
		switch {
		case unicode.IsDigit(r):
			j := i
			for j < len(runes) && unicode.IsDigit(runes[j]) {
				j++
			}
			segs = append(segs, domain.Segment{Kind: domain.SegmentDigits, Length: j - i, Charset: "0-9"})
			i = j
		case unicode.IsLetter(r):
			j := i
			for j < len(runes) && unicode.IsLetter(runes[j]) {
				j++
			}
			segs = append(segs, domain.Segment{Kind: domain.SegmentLetters, Length: j - i, Charset: "A-Z"})
			i = j
		default:
			segs = append(segs, domain.Segment{Kind: domain.SegmentLiteral, Length: 1, Charset: string(r)})
			i++
		}
	}
	return segs
}

// alignPosition picks the consensus segment at pos. A position is stable when
// every example has a segment there agreeing on kind, length and (for
// literals) the separator itself. Ties between candidate classifications are
// broken toward the one stabilizing the most examples, then the shortest,
// then by kind so the winner never depends on map order.
func alignPosition(segmented [][]domain.Segment, pos int) (domain.Segment, bool) {
	type key struct {
		kind    string
		length  int
		charset string
	}
	votes := map[key]int{}
	present := 0
	for _, segs := range segmented {
		if pos >= len(segs) {
			continue
		}
		present++
		s := segs[pos]
		k := key{kind: s.Kind, length: s.Length}
		if s.Kind == domain.SegmentLiteral {
			k.charset = s.Charset
		}
		votes[k]++
	}
	if present == 0 {
		return domain.Segment{Kind: domain.SegmentLiteral, Length: 0}, false
	}
	beats := func(a, b key) bool {
		if a.length != b.length {
			return a.length < b.length
		}
		if kindRank(a.kind) != kindRank(b.kind) {
			return kindRank(a.kind) < kindRank(b.kind)
		}
		return a.charset < b.charset
	}
	var best key
	bestVotes := -1
	for k, n := range votes {
		switch {
		case n > bestVotes:
			best, bestVotes = k, n
		case n == bestVotes && beats(k, best):
			best = k
		}
	}
	seg := domain.Segment{Kind: best.kind, Length: best.length, Charset: best.charset}
	if seg.Charset == "" {
		switch seg.Kind {
		case domain.SegmentDigits:
			seg.Charset = "0-9"
		case domain.SegmentLetters:
			seg.Charset = "A-Z"
		}
	}
	return seg, bestVotes == len(segmented)
}

// kindRank orders segment kinds for tie-breaking; map iteration order must
// never decide a winner.
func kindRank(kind string) int {
	switch kind {
	case domain.SegmentDigits:
		return 0
	case domain.SegmentLetters:
		return 1
	default:
		return 2
	}
}

// classify names the overall pattern shape.
func classify(segs []domain.Segment) string {
	kinds := make([]string, 0, len(segs))
	for _, s := range segs {
		if s.Kind != domain.SegmentLiteral {
			kinds = append(kinds, s.Kind)
		}
	}
	switch {
	case len(kinds) == 2 && kinds[0] == domain.SegmentDigits && kinds[1] == domain.SegmentLetters:
		return domain.PatternPositionLevel
	case len(kinds) == 4 && kinds[0] == domain.SegmentDigits && kinds[1] == domain.SegmentDigits &&
		kinds[2] == domain.SegmentDigits && kinds[3] == domain.SegmentLetters:
		return domain.PatternAisleRackPosLvl
	default:
		return domain.PatternAlphanumericFree
	}
}

func genericPattern(examples []string) domain.FormatPattern {
	return domain.FormatPattern{
		PatternType:    domain.PatternAlphanumericFree,
		Segments:       nil,
		Confidence:     0,
		SourceExamples: examples,
	}
}
