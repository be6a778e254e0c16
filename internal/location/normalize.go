package location

import (
	"strings"
	"unicode"
)

// padWidth is the canonical zero-pad width for numeric segments.
const padWidth = 2

// Normalize returns plausible renderings of a raw location code, bridging
// format drift between inventory exports and the stored grammar. The original
// code is always the first variant; the list is deterministic and free of
// duplicates.
func Normalize(raw string) []string {
	variants := []string{raw}
	seen := map[string]bool{raw: true}
	add := func(v string) {
		if v != "" && !seen[v] {
			seen[v] = true
			variants = append(variants, v)
		}
	}

	trimmed := strings.TrimSpace(raw)
	add(trimmed)
	upper := strings.ToUpper(trimmed)
	add(upper)

	for _, base := range []string{upper, strings.ReplaceAll(upper, "_", "-")} {
		add(base)
		add(strings.ReplaceAll(base, "-", "_"))
		add(padNumericRuns(base))
		add(stripLeadingZeros(base))
		add(padNumericRuns(strings.ReplaceAll(base, "_", "-")))
		add(swapLeadingTokens(base))
		add(padNumericRuns(swapLeadingTokens(base)))
	}
	return variants
}

// padNumericRuns zero-pads every digit run shorter than padWidth.
func padNumericRuns(code string) string {
	var b strings.Builder
	runes := []rune(code)
	for i := 0; i < len(runes); {
		if !unicode.IsDigit(runes[i]) {
			b.WriteRune(runes[i])
			i++
			continue
		}
		j := i
		for j < len(runes) && unicode.IsDigit(runes[j]) {
			j++
		}
		run := string(runes[i:j])
		for len(run) < padWidth {
			run = "0" + run
		}
		b.WriteString(run)
		i = j
	}
	return b.String()
}

// stripLeadingZeros drops leading zeros from digit runs, keeping one digit.
func stripLeadingZeros(code string) string {
	var b strings.Builder
	runes := []rune(code)
	for i := 0; i < len(runes); {
		if !unicode.IsDigit(runes[i]) {
			b.WriteRune(runes[i])
			i++
			continue
		}
		j := i
		for j < len(runes) && unicode.IsDigit(runes[j]) {
			j++
		}
		run := strings.TrimLeft(string(runes[i:j]), "0")
		if run == "" {
			run = "0"
		}
		b.WriteString(run)
		i = j
	}
	return b.String()
}

// swapLeadingTokens transposes the first two separator-delimited tokens when
// both are numeric. Some exports emit rack-aisle instead of aisle-rack.
func swapLeadingTokens(code string) string {
	sep := "-"
	if !strings.Contains(code, sep) {
		return code
	}
	parts := strings.Split(code, sep)
	if len(parts) < 2 || !isDigits(parts[0]) || !isDigits(parts[1]) {
		return code
	}
	parts[0], parts[1] = parts[1], parts[0]
	return strings.Join(parts, sep)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
