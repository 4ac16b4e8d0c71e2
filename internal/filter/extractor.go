// Package filter derives structured retrieval filters from free-text queries.
package filter

import (
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/hyperjump/kiku/internal/models"
)

type boundKind int

const (
	upperBound boundKind = iota
	lowerBound
	priceRange
)

// amount matches an optional "$", a number with optional separators, and an optional unit word.
const amount = `(\$)?(\d+(?:[.,]\d+)*)(?:\s*(\p{L}+))?`

// lead keeps keywords from matching inside longer words.
const lead = `(?:^|[^\p{L}\d])`

// Patterns are tried in order and the first usable match wins. Upper bounds come
// before lower bounds, and both before ranges.
var defaultPatterns = []struct {
	kind boundKind
	expr string
}{
	{upperBound, lead + `(?:under|below|less than|cheaper than|at most|up to|dưới|không quá|tối đa)\s+` + amount},
	{lowerBound, lead + `(?:over|above|more than|greater than|at least|trên|tối thiểu)\s+` + amount},
	{priceRange, lead + `between\s+` + amount + `\s+and\s+` + amount},
	{priceRange, lead + `(?:from|từ)\s+` + amount + `\s+(?:to|đến|tới)\s+` + amount},
	{priceRange, lead + amount + `\s*(?:-|–|\s(?:to|đến|tới)\s)\s*` + amount},
}

var unitMultipliers = map[string]float64{
	"k": 1e3, "thousand": 1e3, "thousands": 1e3, "nghìn": 1e3, "ngàn": 1e3,
	"m": 1e6, "mil": 1e6, "million": 1e6, "millions": 1e6, "triệu": 1e6, "tr": 1e6,
	"b": 1e9, "bn": 1e9, "billion": 1e9, "billions": 1e9, "tỷ": 1e9, "tỉ": 1e9,
	"usd": 1, "dollar": 1, "dollars": 1, "vnd": 1, "đ": 1, "dong": 1, "đồng": 1, "eur": 1, "euro": 1, "euros": 1,
}

type pattern struct {
	kind boundKind
	re   *regexp.Regexp
}

// Extractor recognizes price-bound phrasing such as "under 20 million",
// "over 5k" or "từ 10 đến 15 triệu". It never fails: text without a usable
// phrase yields an empty filter.
type Extractor struct {
	patterns []pattern
}

// NewExtractor returns an extractor with the built-in English and Vietnamese patterns.
func NewExtractor() *Extractor {
	e := &Extractor{patterns: make([]pattern, 0, len(defaultPatterns))}
	for _, p := range defaultPatterns {
		e.patterns = append(e.patterns, pattern{kind: p.kind, re: regexp.MustCompile(`(?i)` + p.expr)})
	}
	return e
}

// Extract returns the price bounds found in text. Only MinPrice and MaxPrice are
// ever set; exact-match fields are left for the caller.
func (e *Extractor) Extract(text string) models.StructuredFilter {
	var f models.StructuredFilter
	lower := strings.ToLower(norm.NFC.String(text))

	for _, p := range e.patterns {
		m := p.re.FindStringSubmatch(lower)
		if m == nil {
			continue
		}
		switch p.kind {
		case upperBound:
			if v, ok := parseAmount(m[1], m[2], m[3], 0); ok {
				f.MaxPrice = &v
				return f
			}
		case lowerBound:
			if v, ok := parseAmount(m[1], m[2], m[3], 0); ok {
				f.MinPrice = &v
				return f
			}
		case priceRange:
			hiMult, ok := multiplier(m[4], m[6])
			if !ok {
				continue
			}
			hi, _ := parseAmount(m[4], m[5], m[6], 0)
			lo, ok := parseAmount(m[1], m[2], m[3], hiMult)
			if !ok {
				continue
			}
			if lo > hi {
				lo, hi = hi, lo
			}
			f.MinPrice = &lo
			f.MaxPrice = &hi
			return f
		}
	}
	return f
}

// multiplier resolves the unit of one amount. An amount is usable when its unit is
// known, or when it carries a "$" and no unit.
func multiplier(dollar, unit string) (float64, bool) {
	if unit == "" {
		return 1, dollar != ""
	}
	mult, ok := unitMultipliers[unit]
	return mult, ok
}

// parseAmount converts a matched amount to a number. fallback is used as the
// multiplier for a bare number, so "between 5 and 10 million" reads as 5M to 10M.
func parseAmount(dollar, number, unit string, fallback float64) (float64, bool) {
	mult, ok := multiplier(dollar, unit)
	if !ok {
		if unit != "" || fallback == 0 {
			return 0, false
		}
		mult = fallback
	}
	v, err := parseNumber(number, mult > 1)
	if err != nil {
		return 0, false
	}
	return v * mult, true
}

// parseNumber reads "20", "1.5", "1,5" and "20,000,000". A single separator followed
// by exactly three digits is a thousands separator unless a unit scales the number.
func parseNumber(s string, scaled bool) (float64, error) {
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == '.' || r == ',' })
	switch {
	case len(parts) > 2:
		s = strings.Join(parts, "")
	case len(parts) == 2 && len(parts[1]) == 3 && !scaled:
		s = parts[0] + parts[1]
	case len(parts) == 2:
		s = parts[0] + "." + parts[1]
	}
	return strconv.ParseFloat(s, 64)
}

// Merge combines caller-supplied predicates with extracted price bounds. Explicit
// bounds take precedence over extracted ones.
func Merge(explicit, extracted models.StructuredFilter) models.StructuredFilter {
	out := explicit
	if out.MinPrice == nil {
		out.MinPrice = extracted.MinPrice
	}
	if out.MaxPrice == nil {
		out.MaxPrice = extracted.MaxPrice
	}
	return out
}
