package dedup

import (
	"slices"
	"sort"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/sells-group/clinical-timeline/internal/lexicon"
	"github.com/sells-group/clinical-timeline/internal/model"
)

// Config controls clustering and reference linking.
type Config struct {
	// ClusterThreshold is the similarity at which two new-event mentions
	// merge regardless of date. Default: 0.75.
	ClusterThreshold float64 `yaml:"cluster_threshold" mapstructure:"cluster_threshold"`
	// SameDateThreshold applies when both sides resolve to the same date.
	// Default: 0.6.
	SameDateThreshold float64 `yaml:"same_date_threshold" mapstructure:"same_date_threshold"`
	// ReferenceThreshold is the bar a reference must clear to link to a
	// cluster. Default: 0.6.
	ReferenceThreshold float64 `yaml:"reference_threshold" mapstructure:"reference_threshold"`
	// ReferenceBoost is added to a reference's score when its date matches
	// the cluster date, up to ReferenceBoostCap. Defaults: 0.25, 0.95.
	ReferenceBoost    float64 `yaml:"reference_boost" mapstructure:"reference_boost"`
	ReferenceBoostCap float64 `yaml:"reference_boost_cap" mapstructure:"reference_boost_cap"`
	// UnlinkedConfidenceCap bounds the confidence of events built from
	// references that matched nothing. Default: 0.3.
	UnlinkedConfidenceCap float64 `yaml:"unlinked_confidence_cap" mapstructure:"unlinked_confidence_cap"`
}

// DefaultConfig returns the default clustering configuration.
func DefaultConfig() Config {
	return Config{
		ClusterThreshold:      0.75,
		SameDateThreshold:     0.6,
		ReferenceThreshold:    0.6,
		ReferenceBoost:        0.25,
		ReferenceBoostCap:     0.95,
		UnlinkedConfidenceCap: 0.3,
	}
}

// Result is the output of one clustering pass.
type Result struct {
	// Events are clusters of new-event mentions with their linked references.
	Events []model.ResolvedEvent
	// Unlinked are standalone low-confidence events built from references
	// that matched no cluster.
	Unlinked []model.ResolvedEvent
}

// All returns Events followed by Unlinked.
func (r Result) All() []model.ResolvedEvent {
	out := make([]model.ResolvedEvent, 0, len(r.Events)+len(r.Unlinked))
	out = append(out, r.Events...)
	return append(out, r.Unlinked...)
}

// MentionCount returns how many input mentions the result accounts for.
func (r Result) MentionCount() int {
	n := 0
	for _, e := range r.All() {
		n += len(e.AllMentionIDs())
	}
	return n
}

// Clusterer groups annotated mentions into ResolvedEvents. It holds no
// per-document state and is safe for concurrent use.
type Clusterer struct {
	cfg    Config
	scorer *Scorer
}

// NewClusterer creates a Clusterer. A nil lexicon uses the default synonyms.
func NewClusterer(cfg Config, lex *lexicon.Lexicon) *Clusterer {
	return &Clusterer{cfg: cfg, scorer: NewScorer(lex)}
}

// cluster is a group of annotated mentions under construction.
type cluster struct {
	members []model.AnnotatedMention
	refs    []model.AnnotatedMention

	name string
	norm string
	date *time.Time
}

// Cluster deduplicates the mentions of one document. Mentions of different
// entity types never merge, and output is grouped by entity type in rank
// order. Every input mention is accounted for exactly once across Events
// and Unlinked.
func (c *Clusterer) Cluster(mentions []model.AnnotatedMention) Result {
	var (
		order  []model.EntityType
		byType = make(map[model.EntityType][]model.AnnotatedMention)
	)
	for _, a := range mentions {
		if !a.Resolved && len(a.Members) == 0 && len(a.UnlinkedMembers) == 0 {
			a.Mention = a.Mention.WithID()
		}
		t := a.Mention.EntityType
		if _, ok := byType[t]; !ok {
			order = append(order, t)
		}
		byType[t] = append(byType[t], a)
	}
	sort.SliceStable(order, func(i, j int) bool { return model.LessType(order[i], order[j]) })

	var res Result
	for _, t := range order {
		events, unlinked := c.clusterType(t, byType[t])
		res.Events = append(res.Events, events...)
		res.Unlinked = append(res.Unlinked, unlinked...)
	}

	zap.L().Debug("dedup: clustered mentions",
		zap.Int("mentions", len(mentions)),
		zap.Int("events", len(res.Events)),
		zap.Int("unlinked", len(res.Unlinked)),
	)
	return res
}

// Recluster feeds resolved events back through the clusterer, each as a
// single new-event mention that carries its existing membership. Running it
// on Cluster output changes nothing; running it on a union of two results
// merges the events both sides found.
func (c *Clusterer) Recluster(events []model.ResolvedEvent) Result {
	mentions := make([]model.AnnotatedMention, 0, len(events))
	for i, e := range events {
		mentions = append(mentions, AsMention(e, i))
	}
	return c.Cluster(mentions)
}

// AsMention wraps a resolved event as an annotated new-event mention at the
// given offset.
func AsMention(e model.ResolvedEvent, offset int) model.AnnotatedMention {
	var date *time.Time
	if e.Date != nil {
		date = model.DatePtr(*e.Date)
	}
	source := e.DateSource
	if date == nil {
		source = model.DateUnresolved
	}
	return model.AnnotatedMention{
		Mention: model.CandidateMention{
			EntityType:    e.EntityType,
			RawName:       e.CanonicalName,
			SourceOffset:  offset,
			RawConfidence: e.Confidence,
		},
		Context: model.TemporalContext{
			ResolvedDate: date,
			DateSource:   source,
		},
		Resolved:        true,
		Members:         slices.Clone(e.MemberMentionIDs),
		UnlinkedMembers: slices.Clone(e.UnlinkedMentionIDs),
		Unlinked:        e.Unlinked,
		PriorReferences: e.ReferenceCount,
	}
}

func (c *Clusterer) clusterType(t model.EntityType, mentions []model.AnnotatedMention) ([]model.ResolvedEvent, []model.ResolvedEvent) {
	var fresh, refs, unlinked []model.AnnotatedMention
	for _, a := range mentions {
		switch {
		case a.Unlinked:
			unlinked = append(unlinked, a)
		case a.Context.IsReference:
			refs = append(refs, a)
		default:
			fresh = append(fresh, a)
		}
	}

	clusters := c.group(fresh)

	for _, ref := range sortMentions(refs) {
		best, bestScore := -1, 0.0
		refNorm := c.scorer.Normalize(ref.Mention.RawName)
		for i, cl := range clusters {
			score := c.scorer.ScoreNormalized(refNorm, cl.norm)
			if model.SameDay(ref.Context.ResolvedDate, cl.date) || model.SameDay(ref.Context.AnchorDate, cl.date) {
				score = min(score+c.cfg.ReferenceBoost, max(c.cfg.ReferenceBoostCap, score))
			}
			if score > bestScore {
				best, bestScore = i, score
			}
		}
		if best >= 0 && bestScore >= c.cfg.ReferenceThreshold {
			clusters[best].refs = append(clusters[best].refs, ref)
			continue
		}
		unlinked = append(unlinked, ref)
	}

	events := make([]model.ResolvedEvent, 0, len(clusters))
	for _, cl := range clusters {
		events = append(events, c.resolve(t, cl))
	}

	var standalone []model.ResolvedEvent
	for _, cl := range c.group(unlinked) {
		standalone = append(standalone, c.resolveUnlinked(t, cl))
	}
	if len(standalone) > 0 {
		zap.L().Debug("dedup: references kept as unlinked events",
			zap.String("entity_type", string(t)),
			zap.Int("events", len(standalone)),
		)
	}
	return events, standalone
}

// group clusters new-event mentions greedily in document order, then merges
// clusters until no pair qualifies.
func (c *Clusterer) group(mentions []model.AnnotatedMention) []*cluster {
	var clusters []*cluster
	for _, a := range sortMentions(mentions) {
		n := c.scorer.Normalize(a.Mention.RawName)
		placed := false
		for _, cl := range clusters {
			if c.shouldMerge(n, a.Context.ResolvedDate, cl.norm, cl.date) {
				cl.members = append(cl.members, a)
				c.refresh(cl)
				placed = true
				break
			}
		}
		if !placed {
			cl := &cluster{members: []model.AnnotatedMention{a}}
			c.refresh(cl)
			clusters = append(clusters, cl)
		}
	}

	for merged := true; merged; {
		merged = false
		for i := 0; i < len(clusters) && !merged; i++ {
			for j := i + 1; j < len(clusters); j++ {
				if !c.shouldMerge(clusters[i].norm, clusters[i].date, clusters[j].norm, clusters[j].date) {
					continue
				}
				clusters[i].members = append(clusters[i].members, clusters[j].members...)
				c.refresh(clusters[i])
				clusters = slices.Delete(clusters, j, j+1)
				merged = true
				break
			}
		}
	}
	return clusters
}

func (c *Clusterer) shouldMerge(na string, da *time.Time, nb string, db *time.Time) bool {
	score := c.scorer.ScoreNormalized(na, nb)
	if score >= c.cfg.ClusterThreshold {
		return true
	}
	return model.SameDay(da, db) && score >= c.cfg.SameDateThreshold
}

// refresh recomputes the canonical name and date from the members: the
// longest name (earliest mention on ties), the earliest explicit date, else
// the earliest resolved date.
func (c *Clusterer) refresh(cl *cluster) {
	bestLen := -1
	var explicit, resolved *time.Time
	for _, a := range cl.members {
		name := lexicon.CleanName(a.Mention.RawName)
		if l := utf8.RuneCountInString(name); l > bestLen {
			cl.name, bestLen = name, l
		}
		d := a.Context.ResolvedDate
		if d == nil {
			continue
		}
		if a.Context.DateSource == model.DateExplicit && (explicit == nil || d.Before(*explicit)) {
			explicit = d
		}
		if resolved == nil || d.Before(*resolved) {
			resolved = d
		}
	}
	cl.norm = c.scorer.Normalize(cl.name)
	cl.date = explicit
	if cl.date == nil {
		cl.date = resolved
	}
}

func (c *Clusterer) resolve(t model.EntityType, cl *cluster) model.ResolvedEvent {
	e := model.ResolvedEvent{
		EntityType:    t,
		CanonicalName: cl.name,
		DateSource:    model.DateUnresolved,
	}
	if cl.date != nil {
		e.Date = model.DatePtr(*cl.date)
		e.DateSource = dateSourceOf(cl.members, cl.date)
	}

	for _, a := range cl.members {
		e.Confidence = max(e.Confidence, a.Mention.ClampedConfidence())
		e.ReferenceCount += a.PriorReferences
		e.MemberMentionIDs = append(e.MemberMentionIDs, a.MemberIDs()...)
	}
	for _, r := range cl.refs {
		e.ReferenceCount++
		e.MemberMentionIDs = append(e.MemberMentionIDs, r.MemberIDs()...)
	}
	return e
}

func (c *Clusterer) resolveUnlinked(t model.EntityType, cl *cluster) model.ResolvedEvent {
	e := model.ResolvedEvent{
		EntityType:    t,
		CanonicalName: cl.name,
		DateSource:    model.DateUnresolved,
		Unlinked:      true,
	}
	if cl.date != nil {
		e.Date = model.DatePtr(*cl.date)
		e.DateSource = dateSourceOf(cl.members, cl.date)
	}

	for _, a := range cl.members {
		e.Confidence = max(e.Confidence, a.Mention.ClampedConfidence())
		if a.Unlinked {
			e.ReferenceCount += a.PriorReferences
			e.UnlinkedMentionIDs = append(e.UnlinkedMentionIDs, a.UnlinkedMembers...)
			continue
		}
		e.ReferenceCount += 1 + a.PriorReferences
		e.UnlinkedMentionIDs = append(e.UnlinkedMentionIDs, a.MemberIDs()...)
	}
	e.Confidence = min(e.Confidence, c.cfg.UnlinkedConfidenceCap)
	return e
}

// dateSourceOf returns the date source of the first member whose resolved
// date is d, preferring an explicit one.
func dateSourceOf(members []model.AnnotatedMention, d *time.Time) model.DateSource {
	source := model.DateUnresolved
	for _, a := range members {
		if !model.SameDay(a.Context.ResolvedDate, d) {
			continue
		}
		if a.Context.DateSource == model.DateExplicit {
			return model.DateExplicit
		}
		if source == model.DateUnresolved {
			source = a.Context.DateSource
		}
	}
	return source
}

// sortMentions returns a copy of mentions in document order.
func sortMentions(mentions []model.AnnotatedMention) []model.AnnotatedMention {
	out := slices.Clone(mentions)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].Mention, out[j].Mention
		if a.SourceOffset != b.SourceOffset {
			return a.SourceOffset < b.SourceOffset
		}
		return a.ID < b.ID
	})
	return out
}
