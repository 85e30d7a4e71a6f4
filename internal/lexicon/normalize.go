// Package lexicon normalizes clinical event names and maps synonymous
// phrasings ("coil embolization", "endovascular coiling") onto one key.
package lexicon

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

var (
	// Relative day markers carried inside a name, e.g. "post-coiling day 2".
	dayMarkerRe = regexp.MustCompile(`\b(?:pod|hd)\s*#?\s*\d+\b|\b(?:post[\s-]?op(?:erative)?\s+|hospital\s+)?day\s*#?\s*\d+\b`)

	// Lead-in words that say when or whether an event happened but not which
	// event it is: referential ("s/p", "status post", "post-") and assertive
	// ("underwent", "developed") cues at the start of a name.
	leadInRe = regexp.MustCompile(`(?i)^[\s.,;:]*(?:(?:s/p|s\.p\.|status[\s-]+post|h/o|history\s+of|post[\s-]+op(?:erative)?|post|underwent|undergoing|developed|started|performed|initiated|placed|began|continued|continues|continuing)(?:[\s-]+|$))+`)

	multiSpaceRe    = regexp.MustCompile(`\s+`)
	trailingPunctRe = regexp.MustCompile(`[\s.,;:!?\-–—]+$`)
	leadingPunctRe  = regexp.MustCompile(`^[\s.,;:!?\-–—]+`)
)

var stopWords = map[string]bool{
	"a": true, "an": true, "the": true, "of": true, "and": true, "with": true,
	"on": true, "in": true, "at": true, "to": true, "for": true, "by": true,
}

// Fold applies NFKC normalization and Unicode case folding.
func Fold(s string) string {
	// Casers keep state and are not safe to share between goroutines.
	return cases.Fold().String(norm.NFKC.String(s))
}

// Normalize reduces a name to the form used for similarity scoring:
//  1. NFKC + case folding
//  2. Removing relative day markers (POD#2, hospital day 3, day 4)
//  3. Removing lead-in cue words (s/p, status post, post-, underwent)
//  4. Replacing punctuation with spaces
//  5. Dropping stop words and collapsing whitespace
func Normalize(name string) string {
	s := Fold(strings.TrimSpace(name))
	if s == "" {
		return ""
	}
	s = dayMarkerRe.ReplaceAllString(s, " ")
	s = leadInRe.ReplaceAllString(s, "")
	s = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return ' '
	}, s)

	words := strings.Fields(s)
	kept := words[:0]
	for _, w := range words {
		if stopWords[w] {
			continue
		}
		kept = append(kept, w)
	}
	return strings.Join(kept, " ")
}

// Words splits folded text into letter/digit runs without dropping anything.
func Words(s string) []string {
	return strings.FieldsFunc(Fold(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// CleanName tidies a display name: trims, drops lead-in cue words
// ("Underwent coiling" becomes "coiling"), strips leading and trailing
// punctuation and collapses internal whitespace. A name made only of cue
// words keeps them. It never changes the normalized form, so it is safe to
// apply after scoring.
func CleanName(name string) string {
	s := multiSpaceRe.ReplaceAllString(name, " ")
	s = trailingPunctRe.ReplaceAllString(s, "")
	s = leadingPunctRe.ReplaceAllString(s, "")
	if stripped := leadInRe.ReplaceAllString(s, ""); strings.TrimSpace(stripped) != "" {
		s = leadingPunctRe.ReplaceAllString(stripped, "")
	}
	return strings.TrimSpace(s)
}
