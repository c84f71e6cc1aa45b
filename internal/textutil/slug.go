// Package textutil holds small text helpers exposed to scripts.
package textutil

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	nonSlug    = regexp.MustCompile(`[^a-z0-9_-]`)
	dashes     = regexp.MustCompile(`-+`)
	edgePunct  = regexp.MustCompile(`^[-_]+|[-_]+$`)
	ligatures  = strings.NewReplacer("ß", "ss", "æ", "ae", "Æ", "AE", "œ", "oe", "Œ", "OE", "ø", "o", "Ø", "O", "đ", "d", "Đ", "D", "ł", "l", "Ł", "L", "þ", "th", "Þ", "TH")
	stripMarks = runes.Remove(runes.In(unicode.Mn))
)

// Slug turns v into a lower-case URL path segment: accents are folded to
// their base letters, every other character outside [a-z0-9_-] becomes a
// dash, dash runs collapse, and leading or trailing dashes and underscores
// are dropped. Scripts without a Latin decomposition, such as CJK, fold to
// dashes.
func Slug(v string) string {
	v = ligatures.Replace(strings.TrimSpace(v))
	t := transform.Chain(norm.NFKD, stripMarks, norm.NFC)
	if folded, _, err := transform.String(t, v); err == nil {
		v = folded
	}
	v = strings.ToLower(v)
	v = nonSlug.ReplaceAllString(v, "-")
	v = dashes.ReplaceAllString(v, "-")
	return edgePunct.ReplaceAllString(v, "")
}
