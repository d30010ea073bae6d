// Package naming normalizes column names and measures how close two names are.
package naming

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/agext/levenshtein"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	parenthetical = regexp.MustCompile(`\([^)]*\)|\[[^\]]*\]`)
	separators    = regexp.MustCompile(`[^a-z0-9]+`)
)

// StripDiacritics removes combining marks: "Preço Médio" -> "Preco Medio".
func StripDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// Normalize turns a raw column header into a snake_case key: diacritics and
// parenthetical units are dropped, camelCase is split and every run of
// separators becomes one underscore. Normalize(Normalize(x)) == Normalize(x).
func Normalize(name string) string {
	s := StripDiacritics(name)
	s = parenthetical.ReplaceAllString(s, " ")
	s = splitCamel(s)
	s = strings.ToLower(s)
	s = separators.ReplaceAllString(s, "_")
	return strings.Trim(s, "_")
}

// Tokenize splits a name into its normalized words, skipping single characters.
func Tokenize(name string) []string {
	var out []string
	for _, t := range strings.Split(Normalize(name), "_") {
		if len(t) > 1 {
			out = append(out, t)
		}
	}
	return out
}

// Fold lowercases text and strips diacritics for accent-insensitive matching.
func Fold(s string) string {
	return strings.ToLower(StripDiacritics(s))
}

func splitCamel(s string) string {
	rs := []rune(s)
	var b strings.Builder
	for i, r := range rs {
		if i > 0 && unicode.IsUpper(r) && unicode.IsLower(rs[i-1]) {
			b.WriteRune('_')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// LevenshteinRatio is 1 - distance/maxLen over the lowercased names, in [0, 1].
func LevenshteinRatio(s1, s2 string) float64 {
	s1 = strings.ToLower(s1)
	s2 = strings.ToLower(s2)
	maxLen := len([]rune(s1))
	if l := len([]rune(s2)); l > maxLen {
		maxLen = l
	}
	if maxLen == 0 {
		return 1.0
	}
	return 1.0 - float64(levenshtein.Distance(s1, s2, nil))/float64(maxLen)
}
