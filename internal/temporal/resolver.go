// Package temporal classifies candidate mentions as new events or
// references to earlier ones and resolves their dates, including POD#n and
// HD#n relative markers, against a document's reference dates.
package temporal

import (
	"regexp"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/clinical-timeline/internal/lexicon"
	"github.com/sells-group/clinical-timeline/internal/model"
)

// Config controls temporal resolution.
type Config struct {
	// Window is the number of bytes of context read on each side of a
	// mention. Default: 75.
	Window int `yaml:"window" mapstructure:"window"`
}

// DefaultConfig returns the default resolver configuration.
func DefaultConfig() Config {
	return Config{Window: 75}
}

// Resolver produces a TemporalContext for each mention. It holds no
// per-document state and is safe for concurrent use.
type Resolver struct {
	cfg Config
	lex *lexicon.Lexicon
}

// NewResolver creates a Resolver. A nil lexicon uses the default synonyms.
func NewResolver(cfg Config, lex *lexicon.Lexicon) *Resolver {
	if cfg.Window <= 0 {
		cfg.Window = DefaultConfig().Window
	}
	if lex == nil {
		lex = lexicon.Default()
	}
	return &Resolver{cfg: cfg, lex: lex}
}

// Resolve classifies m and resolves its date. Identical inputs always give
// identical output; when nothing can be determined the context is a new
// event with an unresolved date.
func (r *Resolver) Resolve(m model.CandidateMention, text string, refs model.ReferenceDateSet) model.TemporalContext {
	ctx := model.TemporalContext{DateSource: model.DateUnresolved}

	lower := lowerASCII(text)
	window, sp, ok := localWindow(lower, span{m.SourceOffset, m.SourceOffset + len(m.RawName)}, r.cfg.Window)
	if !ok || window == "" {
		window = lowerASCII(m.RawName)
		sp = span{0, len(window)}
	}

	referential, assertive := r.countCues(window, m)
	// Ties go to reference: double-counting an event is worse than missing one.
	ctx.IsReference = referential > 0 && referential >= assertive

	marker := m.TemporalMarker
	if marker == nil {
		marker = findMarker(window, sp)
	}
	if marker != nil {
		n := marker.N
		switch marker.Kind {
		case model.MarkerPOD:
			ctx.POD = &n
		case model.MarkerHD:
			ctx.HD = &n
		}
	}

	yearHint := refs.YearHint()
	var explicit *time.Time
	if m.ExplicitDateText != "" {
		explicit = ParseDate(m.ExplicitDateText, yearHint)
	}
	if explicit == nil {
		explicit = nearestDate(window, sp.start, sp.end, yearHint)
	}
	if explicit != nil {
		ctx.ResolvedDate = explicit
		ctx.DateSource = model.DateExplicit
		return ctx
	}

	if marker == nil {
		return ctx
	}

	var anchor *time.Time
	switch marker.Kind {
	case model.MarkerPOD:
		anchor = r.podAnchor(m, lower, refs)
	case model.MarkerHD:
		anchor = refs.Admission
	}
	if anchor == nil {
		zap.L().Debug("temporal: no anchor for relative marker",
			zap.String("mention", m.ID),
			zap.String("kind", string(marker.Kind)),
			zap.Int("n", marker.N),
		)
		return ctx
	}

	ctx.AnchorDate = model.DatePtr(*anchor)
	ctx.ResolvedDate = model.AddDays(*anchor, marker.N)
	if marker.Kind == model.MarkerHD {
		ctx.DateSource = model.DateHDResolved
	} else {
		ctx.DateSource = model.DatePODResolved
	}
	return ctx
}

// Annotate resolves every mention of a document, preserving input order.
func (r *Resolver) Annotate(mentions []model.CandidateMention, text string, refs model.ReferenceDateSet) []model.AnnotatedMention {
	out := make([]model.AnnotatedMention, 0, len(mentions))
	for _, m := range mentions {
		m = m.WithID()
		out = append(out, model.AnnotatedMention{
			Mention: m,
			Context: r.Resolve(m, text, refs),
		})
	}
	return out
}

// podAnchor picks the date a POD marker counts from: the procedure's own
// first explicitly dated occurrence, then the first procedure date, then
// admission, then ictus.
func (r *Resolver) podAnchor(m model.CandidateMention, lowerText string, refs model.ReferenceDateSet) *time.Time {
	if m.EntityType == model.EntityProcedure {
		if d := r.firstExplicitOccurrence(m.RawName, lowerText, refs.YearHint()); d != nil {
			return d
		}
	}
	for _, d := range []*time.Time{refs.FirstProcedureDate, refs.Admission, refs.Ictus} {
		if d != nil {
			return d
		}
	}
	return nil
}

// stopWordGap matches the separators allowed between the words of a
// normalized phrase when searching raw text for it.
const stopWordGap = `(?:[^a-z0-9]+(?:of|the|a|an|and|with|on|in|at|to|for|by))*[^a-z0-9]+`

// firstExplicitOccurrence scans lowerText for the entity name or any of its
// synonyms and returns the explicit date next to the earliest occurrence
// that has one.
func (r *Resolver) firstExplicitOccurrence(name, lowerText string, yearHint int) *time.Time {
	var hits []span
	for _, v := range r.lex.Variants(name) {
		words := strings.Fields(v)
		for i, w := range words {
			words[i] = regexp.QuoteMeta(w)
		}
		re, err := regexp.Compile(`\b` + strings.Join(words, stopWordGap) + `\b`)
		if err != nil {
			continue
		}
		for _, loc := range re.FindAllStringIndex(lowerText, -1) {
			hits = append(hits, span{loc[0], loc[1]})
		}
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].start != hits[j].start {
			return hits[i].start < hits[j].start
		}
		return hits[i].end < hits[j].end
	})

	for _, h := range hits {
		window, sp, ok := localWindow(lowerText, h, r.cfg.Window)
		if !ok {
			continue
		}
		if d := nearestDate(window, sp.start, sp.end, yearHint); d != nil {
			return d
		}
	}
	return nil
}
