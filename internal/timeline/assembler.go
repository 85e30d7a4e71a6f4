// Package timeline orders merged events chronologically, infers dates for
// undated ones and annotates the gaps between them.
package timeline

import (
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/clinical-timeline/internal/model"
)

// Config controls date inference and milestone entries.
type Config struct {
	// ProcedureFallbackDays places an undated procedure this many days
	// after admission when discharge is unknown. Default: 2.
	ProcedureFallbackDays int `yaml:"procedure_fallback_days" mapstructure:"procedure_fallback_days"`
	// ComplicationOffsetDays places an undated complication this many days
	// after the most recent dated procedure. Default: 5.
	ComplicationOffsetDays int `yaml:"complication_offset_days" mapstructure:"complication_offset_days"`
	// IncludeMilestones adds onset, admission and discharge entries from
	// the reference dates. Default: true.
	IncludeMilestones bool `yaml:"include_milestones" mapstructure:"include_milestones"`
}

// DefaultConfig returns the default assembler configuration.
func DefaultConfig() Config {
	return Config{
		ProcedureFallbackDays:  2,
		ComplicationOffsetDays: 5,
		IncludeMilestones:      true,
	}
}

// Assembler builds timelines. It is stateless and safe for concurrent use.
type Assembler struct {
	cfg Config
}

// NewAssembler creates an Assembler.
func NewAssembler(cfg Config) *Assembler {
	return &Assembler{cfg: cfg}
}

// Assemble builds the timeline for one document. Input events are never
// modified; entries are annotated copies.
func (a *Assembler) Assemble(events []model.ResolvedEvent, refs model.ReferenceDateSet) model.Timeline {
	entries := make([]model.TimelineEntry, 0, len(events)+3)
	if a.cfg.IncludeMilestones {
		entries = append(entries, milestones(refs)...)
	}
	for _, e := range events {
		entries = append(entries, model.TimelineEntry{ResolvedEvent: e.Clone()})
	}

	a.inferDates(entries, refs)

	sort.SliceStable(entries, func(i, j int) bool {
		return less(entries[i], entries[j])
	})

	entries = dedupe(entries)
	annotate(entries)

	return model.Timeline{
		Events:         entries,
		ReferenceDates: refs,
		Metadata:       metadata(entries),
	}
}

func milestones(refs model.ReferenceDateSet) []model.TimelineEntry {
	var out []model.TimelineEntry
	add := func(t model.EntityType, name string, d *time.Time) {
		if d == nil {
			return
		}
		out = append(out, model.TimelineEntry{
			ResolvedEvent: model.ResolvedEvent{
				EntityType:    t,
				CanonicalName: name,
				Date:          model.DatePtr(*d),
				DateSource:    model.DateExplicit,
				Confidence:    1,
			},
			Milestone: true,
		})
	}
	add(model.EntityOnset, "symptom onset", refs.Ictus)
	add(model.EntityAdmission, "admission", refs.Admission)
	add(model.EntityDischarge, "discharge", refs.Discharge)
	return out
}

// inferDates fills in undated procedures first, then undated complications,
// which depend on the latest procedure date.
func (a *Assembler) inferDates(entries []model.TimelineEntry, refs model.ReferenceDateSet) {
	var procDate *time.Time
	switch {
	case refs.Admission != nil && refs.Discharge != nil:
		span := model.DaysBetween(*refs.Admission, *refs.Discharge)
		procDate = model.AddDays(*refs.Admission, span/2)
	case refs.Admission != nil:
		procDate = model.AddDays(*refs.Admission, a.cfg.ProcedureFallbackDays)
	}

	for i := range entries {
		e := &entries[i]
		if e.Date != nil || e.EntityType != model.EntityProcedure || procDate == nil {
			continue
		}
		setInferred(e, *procDate)
	}

	var latest *time.Time
	for _, e := range entries {
		if e.EntityType == model.EntityProcedure && e.Date != nil && (latest == nil || e.Date.After(*latest)) {
			latest = e.Date
		}
	}
	if latest == nil {
		return
	}
	compDate := model.AddDays(*latest, a.cfg.ComplicationOffsetDays)
	for i := range entries {
		e := &entries[i]
		if e.Date != nil || e.EntityType != model.EntityComplication {
			continue
		}
		setInferred(e, *compDate)
	}
}

func setInferred(e *model.TimelineEntry, d time.Time) {
	e.Date = model.DatePtr(d)
	e.DateSource = model.DateInferred
	e.Inferred = true
	zap.L().Debug("timeline: inferred event date",
		zap.String("entity_type", string(e.EntityType)),
		zap.String("event", e.CanonicalName),
		zap.String("date", d.Format(model.DateLayout)),
	)
}

// less orders dated entries before undated ones, then by date, then by
// entity type rank. Equal keys keep insertion order via the stable sort.
func less(a, b model.TimelineEntry) bool {
	switch {
	case a.Date != nil && b.Date == nil:
		return true
	case a.Date == nil && b.Date != nil:
		return false
	case a.Date != nil && !a.Date.Equal(*b.Date):
		return a.Date.Before(*b.Date)
	}
	return a.EntityType.Rank() < b.EntityType.Rank()
}

// dedupe drops later entries whose key was already seen.
func dedupe(entries []model.TimelineEntry) []model.TimelineEntry {
	seen := make(map[string]bool, len(entries))
	out := entries[:0]
	for _, e := range entries {
		key := e.Key()
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, e)
	}
	return out
}

// annotate records the gap to the previous entry when both are dated.
func annotate(entries []model.TimelineEntry) {
	for i := 1; i < len(entries); i++ {
		prev, cur := entries[i-1], &entries[i]
		if prev.Date == nil || cur.Date == nil {
			continue
		}
		days := model.DaysBetween(*prev.Date, *cur.Date)
		cur.DaysSincePrevious = &days
		cur.Relation = Relation(days)
	}
}

// Relation buckets a day gap into a narrative phrase.
func Relation(days int) string {
	switch {
	case days <= 0:
		return model.RelationSameDay
	case days == 1:
		return model.RelationNextDay
	case days <= 3:
		return model.RelationShortlyAfter
	case days <= 7:
		return model.RelationDaysLater
	default:
		return model.RelationWeeksLater
	}
}

func metadata(entries []model.TimelineEntry) model.TimelineMetadata {
	md := model.TimelineMetadata{TotalEvents: len(entries)}
	for _, e := range entries {
		if e.Date == nil {
			continue
		}
		md.Completeness.WithDates++
		if md.DateRange.Start == nil || e.Date.Before(*md.DateRange.Start) {
			md.DateRange.Start = model.DatePtr(*e.Date)
		}
		if md.DateRange.End == nil || e.Date.After(*md.DateRange.End) {
			md.DateRange.End = model.DatePtr(*e.Date)
		}
	}
	md.Completeness.Total = len(entries)
	if md.Completeness.Total > 0 {
		md.Completeness.Score = float64(md.Completeness.WithDates) / float64(md.Completeness.Total) * 100
	}
	if md.DateRange.Start != nil {
		md.DateRange.DurationDays = model.DaysBetween(*md.DateRange.Start, *md.DateRange.End)
	}
	return md
}
