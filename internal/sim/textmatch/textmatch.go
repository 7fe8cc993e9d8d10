// Package textmatch holds the string folding and fuzzy scoring shared by the
// banner pattern matcher and the rule engine.
package textmatch

import (
	"strings"
	"unicode"

	"github.com/agnivade/levenshtein"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var foldAccents = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Normalize uppercases, strips diacritics and collapses whitespace.
// "  Résultat " -> "RESULTAT".
func Normalize(s string) string {
	folded, _, err := transform.String(foldAccents, s)
	if err != nil {
		folded = s
	}
	return strings.Join(strings.Fields(strings.ToUpper(folded)), " ")
}

// Ratio is a 0..100 similarity: 100 * (1 - distance/maxLen).
func Ratio(a, b string) int {
	if a == b {
		return 100
	}
	la, lb := len([]rune(a)), len([]rune(b))
	n := max(la, lb)
	if n == 0 {
		return 100
	}
	d := levenshtein.ComputeDistance(a, b)
	if d >= n {
		return 0
	}
	return (100*(n-d) + n/2) / n
}

// Compact removes all whitespace.
func Compact(s string) string {
	return strings.Join(strings.Fields(s), "")
}

// CountChars counts non-space runes.
func CountChars(s string) int {
	n := 0
	for _, r := range s {
		if !unicode.IsSpace(r) {
			n++
		}
	}
	return n
}
