// Package songkey derives the logical identity of a song from its artist and
// title. The same recording can live at several paths (different encodes), so
// history aggregation groups by this identity instead of by path.
package songkey

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var whitespaceRegex = regexp.MustCompile(`\s+`)

// unsafeRunes are rejected in store keys.
const unsafeRunes = ".#$[]/"

// Separator joins the normalized artist and title. It is not escaped inside
// the fields, so ("a_b", "c") and ("a", "b_c") share an identity.
const Separator = "_"

// Normalize folds a single field: lower case, trimmed, store-unsafe
// characters replaced with "_". Inner whitespace and Unicode composition are
// kept as written.
func Normalize(s string) string {
	s = strings.TrimSpace(strings.ToLower(s))

	return strings.Map(func(r rune) rune {
		if strings.ContainsRune(unsafeRunes, r) {
			return '_'
		}
		return r
	}, s)
}

// Identity is the grouping key for an artist/title pair.
func Identity(artist, title string) string {
	return Normalize(artist) + Separator + Normalize(title)
}

// Display tidies a field for presentation: NFC composition, trimmed, inner
// whitespace collapsed, case kept.
func Display(s string) string {
	return strings.TrimSpace(whitespaceRegex.ReplaceAllString(norm.NFC.String(s), " "))
}
