// Package textnorm holds the two text normalizations used by ingestion:
// one tuned for field extraction and one tuned for insurer alias matching.
package textnorm

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	controlSpaces = regexp.MustCompile(`[\t\v\f\r]+`)
	spaceRuns     = regexp.MustCompile(` {2,}`)
	nonAlnumRuns  = regexp.MustCompile(`[^a-z0-9]+`)

	dashes = strings.NewReplacer(
		"\u00a0", " ",
		"\u2212", "-",
		"\u2010", "-",
		"\u2011", "-",
		"\u2013", "-",
		"\u2014", "-",
	)
)

// ForExtraction applies compatibility composition and folds look-alike
// characters so field patterns see plain ASCII separators. Line breaks are kept.
func ForExtraction(s string) string {
	if s == "" {
		return ""
	}
	s = norm.NFKC.String(s)
	s = dashes.Replace(s)
	s = controlSpaces.ReplaceAllString(s, " ")
	s = spaceRuns.ReplaceAllString(s, " ")
	return s
}

// ForDetection lower-cases, strips diacritics and collapses every run of
// non-alphanumeric characters into one space. The result has no leading or
// trailing space.
func ForDetection(s string) string {
	if s == "" {
		return ""
	}
	s = strings.ToLower(s)
	s = StripMarks(s)
	s = nonAlnumRuns.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// StripMarks decomposes s and drops combining marks ("Río" becomes "Rio").
func StripMarks(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}
