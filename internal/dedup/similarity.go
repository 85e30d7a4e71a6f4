// Package dedup clusters annotated mentions of one document into canonical
// ResolvedEvents, linking references back to the events they point at.
package dedup

import (
	"strings"

	"github.com/agext/levenshtein"
	"go.uber.org/zap"

	"github.com/sells-group/clinical-timeline/internal/lexicon"
)

// tokenMatchThreshold is the per-token edit similarity at which two words
// count as the same word ("aneurysm" / "aneursym").
const tokenMatchThreshold = 0.85

// Scorer computes name similarity in [0, 1]. It is deterministic, symmetric
// and safe for concurrent use.
type Scorer struct {
	lex *lexicon.Lexicon

	// Swapped out in tests to simulate failures.
	normalize func(string) string
	compare   func(a, b string) float64
}

// NewScorer creates a Scorer. A nil lexicon uses the default synonyms.
func NewScorer(lex *lexicon.Lexicon) *Scorer {
	if lex == nil {
		lex = lexicon.Default()
	}
	return &Scorer{lex: lex, normalize: lexicon.Normalize, compare: lexical}
}

// Score compares two raw names. Both are normalized, then scored as written
// and again with synonyms collapsed; the higher score wins. Empty names
// score 0.
func (s *Scorer) Score(a, b string) float64 {
	return s.ScoreNormalized(s.Normalize(a), s.Normalize(b))
}

// Normalize returns the scoring form of name. A failure is logged and
// yields "", which matches nothing.
func (s *Scorer) Normalize(name string) (n string) {
	defer func() {
		if r := recover(); r != nil {
			zap.L().Warn("dedup: name normalization failed",
				zap.String("name", name),
				zap.Any("panic", r),
			)
			n = ""
		}
	}()
	return s.normalize(name)
}

// ScoreNormalized is Score for names that are already normalized. Scoring
// never fails: an internal error is logged and scores 0.
func (s *Scorer) ScoreNormalized(na, nb string) (score float64) {
	defer func() {
		if r := recover(); r != nil {
			zap.L().Warn("dedup: similarity scoring failed",
				zap.String("a", na),
				zap.String("b", nb),
				zap.Any("panic", r),
			)
			score = 0
		}
	}()
	if na == "" || nb == "" {
		return 0
	}
	if na == nb {
		return 1
	}
	score = s.compare(na, nb)
	if ca, cb := s.lex.Canonicalize(na), s.lex.Canonicalize(nb); ca != na || cb != nb {
		score = max(score, s.compare(ca, cb))
	}
	return score
}

// lexical blends whole-string edit similarity with token overlap. Token
// overlap alone is a floor so that "coiling" still relates to "coiling of
// PCOM aneurysm" despite the large edit distance.
func lexical(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}
	tok := tokenScore(strings.Fields(a), strings.Fields(b))
	edit := levenshtein.Similarity(a, b, nil)
	return max(0.5*edit+0.5*tok, tok)
}

// tokenScore averages Jaccard overlap with containment of the smaller token
// set in the larger, matching tokens with typo tolerance.
func tokenScore(a, b []string) float64 {
	a, b = uniq(a), uniq(b)
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	matched := min(countMatches(a, b), countMatches(b, a))
	union := len(a) + len(b) - matched
	jaccard := float64(matched) / float64(union)
	containment := float64(matched) / float64(min(len(a), len(b)))
	return 0.5*jaccard + 0.5*containment
}

// countMatches counts tokens of a that have a close match in b.
func countMatches(a, b []string) int {
	n := 0
	for _, x := range a {
		for _, y := range b {
			if x == y || levenshtein.Similarity(x, y, nil) >= tokenMatchThreshold {
				n++
				break
			}
		}
	}
	return n
}

func uniq(words []string) []string {
	seen := make(map[string]bool, len(words))
	out := words[:0:0]
	for _, w := range words {
		if !seen[w] {
			seen[w] = true
			out = append(out, w)
		}
	}
	return out
}
