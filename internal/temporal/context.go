package temporal

import (
	"regexp"
	"slices"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/sells-group/clinical-timeline/internal/lexicon"
	"github.com/sells-group/clinical-timeline/internal/model"
)

// Cues that mark a mention as pointing back at an event that already
// happened.
var referentialCues = []*regexp.Regexp{
	regexp.MustCompile(`\bs/p\b`),
	regexp.MustCompile(`\bs\.p\.`),
	regexp.MustCompile(`\bstatus[\s-]+post\b`),
	regexp.MustCompile(`\bcontinu(?:es|ed|ing)\b`),
	regexp.MustCompile(`\bfollow[\s-]?up\b`),
	regexp.MustCompile(`\bhistory\s+of\b`),
	regexp.MustCompile(`\bh/o\b`),
	regexp.MustCompile(`\bpreviously\b`),
	regexp.MustCompile(`\bprior\b`),
}

// Cues that report an event as happening now.
var assertiveCues = []*regexp.Regexp{
	regexp.MustCompile(`\bunderwent\b`),
	regexp.MustCompile(`\bdeveloped\b`),
	regexp.MustCompile(`\bstarted\b`),
	regexp.MustCompile(`\bperformed\b`),
	regexp.MustCompile(`\bnoted\s+on\b`),
	regexp.MustCompile(`\binitiated\b`),
	regexp.MustCompile(`\bplaced\b`),
	regexp.MustCompile(`\bnew[\s-]+onset\b`),
	regexp.MustCompile(`\bbegan\b`),
}

// "post-coiling day 2": referential only when the word after "post" names
// the mentioned entity.
var postEntityDayRe = regexp.MustCompile(`\bpost[\s-]?([a-z]+)\s+day\s*#?\s*\d{1,3}\b`)

var (
	podMarkerRe     = regexp.MustCompile(`\bpod\s*#?\s*(\d{1,3})\b`)
	postDayMarkerRe = regexp.MustCompile(`\bpost[\s-]?[a-z]+\s+day\s*#?\s*(\d{1,3})\b`)
	hdMarkerRe      = regexp.MustCompile(`\b(?:hd|hospital\s+day)\s*#?\s*(\d{1,3})\b`)
)

// span is a byte range of text.
type span struct {
	start, end int
}

// lowerASCII lower-cases ASCII letters only. Every other byte, including
// invalid UTF-8, is kept as is, so byte offsets into s stay valid in the
// result. All cue, marker and date patterns are ASCII.
func lowerASCII(s string) string {
	b := []byte(s)
	for i, c := range b {
		if 'A' <= c && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

// localWindow returns the text around sp, at most radius bytes either side,
// clipped to the sentence containing sp. The returned span locates sp
// inside the window. ok is false when sp does not lie within text.
func localWindow(text string, sp span, radius int) (string, span, bool) {
	if sp.start < 0 || sp.start > len(text) {
		return "", span{}, false
	}
	sp.end = min(max(sp.end, sp.start), len(text))
	for sp.start > 0 && sp.start < len(text) && !utf8.RuneStart(text[sp.start]) {
		sp.start--
	}
	for sp.end < len(text) && !utf8.RuneStart(text[sp.end]) {
		sp.end++
	}

	lo := max(0, sp.start-radius)
	hi := min(len(text), sp.end+radius)
	for lo > 0 && !utf8.RuneStart(text[lo]) {
		lo--
	}
	for hi < len(text) && !utf8.RuneStart(text[hi]) {
		hi++
	}

	if breaks := sentenceBreaks(text[lo:sp.start]); len(breaks) > 0 {
		lo += breaks[len(breaks)-1]
	}
	if breaks := sentenceBreaks(text[sp.end:hi]); len(breaks) > 0 {
		hi = sp.end + breaks[0]
	}
	return text[lo:hi], span{sp.start - lo, sp.end - lo}, true
}

// sentenceBreaks returns the offsets just past each sentence terminator in
// s: newlines, semicolons, and periods that end a word of three or more
// letters (so "s.p." and "Dr." do not split a sentence).
func sentenceBreaks(s string) []int {
	var out []int
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\n', ';':
			out = append(out, i+1)
		case '.':
			if i+1 < len(s) && s[i+1] != ' ' && s[i+1] != '\t' && s[i+1] != '\n' {
				continue
			}
			if endsWord(s[:i]) {
				out = append(out, i+1)
			}
		}
	}
	return out
}

// endsWord reports whether s ends in a token of at least three letters or
// digits with no internal periods.
func endsWord(s string) bool {
	start := strings.LastIndexFunc(s, unicode.IsSpace) + 1
	tok := s[start:]
	if strings.Contains(tok, ".") {
		return false
	}
	n := 0
	for _, r := range tok {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			n++
		}
	}
	return n >= 3
}

// countCues tallies referential and assertive cues in a lower-cased window.
func (r *Resolver) countCues(window string, m model.CandidateMention) (referential, assertive int) {
	for _, re := range referentialCues {
		referential += len(re.FindAllStringIndex(window, -1))
	}
	for _, re := range assertiveCues {
		assertive += len(re.FindAllStringIndex(window, -1))
	}

	nameWords := lexicon.Words(m.RawName)
	canonical := " " + r.lex.Canonicalize(lexicon.Normalize(m.RawName)) + " "
	for _, sub := range postEntityDayRe.FindAllStringSubmatch(window, -1) {
		word := sub[1]
		if word == "op" || word == "operative" {
			continue
		}
		if slices.Contains(nameWords, word) || strings.Contains(canonical, " "+r.lex.Canonicalize(word)+" ") {
			referential++
		}
	}
	return referential, assertive
}

// findMarker returns the POD or HD marker in a lower-cased window nearest
// to sp, or nil.
func findMarker(window string, sp span) *model.TemporalMarker {
	var (
		best     *model.TemporalMarker
		bestDist = -1
		bestPos  = 0
	)
	scan := func(re *regexp.Regexp, kind model.MarkerKind) {
		for _, loc := range re.FindAllStringSubmatchIndex(window, -1) {
			n, err := strconv.Atoi(window[loc[2]:loc[3]])
			if err != nil {
				continue
			}
			dist := spanDistance(loc[0], loc[1], sp.start, sp.end)
			if bestDist < 0 || dist < bestDist || (dist == bestDist && loc[0] < bestPos) {
				best = &model.TemporalMarker{Kind: kind, N: n}
				bestDist, bestPos = dist, loc[0]
			}
		}
	}
	scan(podMarkerRe, model.MarkerPOD)
	scan(postDayMarkerRe, model.MarkerPOD)
	scan(hdMarkerRe, model.MarkerHD)
	return best
}
