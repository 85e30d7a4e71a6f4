package timeline

import (
	"testing"
	"time"

	"github.com/sells-group/clinical-timeline/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func oct(d int) *time.Time {
	t := model.Day(2024, time.October, d)
	return &t
}

func ev(t model.EntityType, name string, d *time.Time) model.ResolvedEvent {
	source := model.DateUnresolved
	if d != nil {
		source = model.DateExplicit
	}
	return model.ResolvedEvent{EntityType: t, CanonicalName: name, Date: d, DateSource: source, Confidence: 0.8}
}

func noMilestones() *Assembler {
	cfg := DefaultConfig()
	cfg.IncludeMilestones = false
	return NewAssembler(cfg)
}

func TestAssemble_ProcedureMidpoint(t *testing.T) {
	a := noMilestones()
	refs := model.ReferenceDateSet{Admission: oct(1), Discharge: oct(15)}

	tl := a.Assemble([]model.ResolvedEvent{ev(model.EntityProcedure, "clipping", nil)}, refs)
	require.Len(t, tl.Events, 1)
	e := tl.Events[0]
	assert.Equal(t, oct(8), e.Date)
	assert.Equal(t, model.DateInferred, e.DateSource)
	assert.True(t, e.Inferred)
}

func TestAssemble_ProcedureAdmissionFallback(t *testing.T) {
	a := noMilestones()

	tl := a.Assemble([]model.ResolvedEvent{ev(model.EntityProcedure, "clipping", nil)}, model.ReferenceDateSet{Admission: oct(1)})
	assert.Equal(t, oct(3), tl.Events[0].Date)

	tl = a.Assemble([]model.ResolvedEvent{ev(model.EntityProcedure, "clipping", nil)}, model.ReferenceDateSet{})
	assert.Nil(t, tl.Events[0].Date)
	assert.False(t, tl.Events[0].Inferred)
}

func TestAssemble_ComplicationAfterLatestProcedure(t *testing.T) {
	a := noMilestones()
	events := []model.ResolvedEvent{
		ev(model.EntityComplication, "vasospasm", nil),
		ev(model.EntityProcedure, "coiling", oct(2)),
		ev(model.EntityProcedure, "EVD placement", oct(4)),
	}

	tl := a.Assemble(events, model.ReferenceDateSet{})
	require.Len(t, tl.Events, 3)
	last := tl.Events[2]
	assert.Equal(t, "vasospasm", last.CanonicalName)
	assert.Equal(t, oct(9), last.Date)
	assert.True(t, last.Inferred)

	// No dated procedure leaves the complication undated.
	tl = a.Assemble([]model.ResolvedEvent{ev(model.EntityComplication, "vasospasm", nil)}, model.ReferenceDateSet{})
	assert.Nil(t, tl.Events[0].Date)
	assert.Equal(t, model.DateUnresolved, tl.Events[0].DateSource)
}

func TestAssemble_ComplicationUsesInferredProcedure(t *testing.T) {
	a := noMilestones()
	events := []model.ResolvedEvent{
		ev(model.EntityComplication, "hydrocephalus", nil),
		ev(model.EntityProcedure, "clipping", nil),
	}

	tl := a.Assemble(events, model.ReferenceDateSet{Admission: oct(1)})
	require.Len(t, tl.Events, 2)
	assert.Equal(t, oct(3), tl.Events[0].Date)
	assert.Equal(t, oct(8), tl.Events[1].Date)
}

func TestAssemble_OrderingAndRank(t *testing.T) {
	a := NewAssembler(DefaultConfig())
	refs := model.ReferenceDateSet{Ictus: oct(1), Admission: oct(1), Discharge: oct(20)}
	events := []model.ResolvedEvent{
		ev(model.EntityImaging, "CT head", oct(1)),
		ev(model.EntityMedication, "nimodipine", nil),
		ev(model.EntityComplication, "vasospasm", oct(6)),
		ev(model.EntityProcedure, "angiogram", oct(1)),
		ev(model.EntityProcedure, "coiling", oct(2)),
		ev(model.EntityMedication, "levetiracetam", nil),
	}

	tl := a.Assemble(events, refs)
	var names []string
	for _, e := range tl.Events {
		names = append(names, e.CanonicalName)
	}
	assert.Equal(t, []string{
		"symptom onset", "admission", "angiogram", "CT head",
		"coiling", "vasospasm", "discharge",
		"nimodipine", "levetiracetam",
	}, names)

	for i := 1; i < len(tl.Events); i++ {
		prev, cur := tl.Events[i-1], tl.Events[i]
		if prev.Date == nil {
			assert.Nil(t, cur.Date, "dated entry after undated one")
			continue
		}
		if cur.Date != nil {
			assert.False(t, cur.Date.Before(*prev.Date))
			if cur.Date.Equal(*prev.Date) {
				assert.LessOrEqual(t, prev.EntityType.Rank(), cur.EntityType.Rank())
			}
		}
	}
}

func TestAssemble_DropsExactDuplicates(t *testing.T) {
	a := noMilestones()
	events := []model.ResolvedEvent{
		ev(model.EntityProcedure, "coiling", oct(2)),
		ev(model.EntityProcedure, "coiling", oct(2)),
		ev(model.EntityProcedure, "coiling", oct(3)),
		ev(model.EntityComplication, "coiling", oct(2)),
	}

	tl := a.Assemble(events, model.ReferenceDateSet{})
	assert.Len(t, tl.Events, 3)
	assert.Equal(t, 3, tl.Metadata.TotalEvents)
}

func TestAssemble_RelationsAndMetadata(t *testing.T) {
	a := noMilestones()
	events := []model.ResolvedEvent{
		ev(model.EntityProcedure, "angiogram", oct(1)),
		ev(model.EntityProcedure, "coiling", oct(1)),
		ev(model.EntityProcedure, "EVD placement", oct(2)),
		ev(model.EntityComplication, "vasospasm", oct(5)),
		ev(model.EntityComplication, "hydrocephalus", oct(10)),
		ev(model.EntityComplication, "pneumonia", oct(20)),
		ev(model.EntityMedication, "nimodipine", nil),
	}

	tl := a.Assemble(events, model.ReferenceDateSet{})
	require.Len(t, tl.Events, 7)

	assert.Nil(t, tl.Events[0].DaysSincePrevious)
	wantRel := []string{"", model.RelationSameDay, model.RelationNextDay, model.RelationShortlyAfter, model.RelationDaysLater, model.RelationWeeksLater, ""}
	for i, e := range tl.Events {
		assert.Equal(t, wantRel[i], e.Relation, e.CanonicalName)
	}
	require.NotNil(t, tl.Events[5].DaysSincePrevious)
	assert.Equal(t, 10, *tl.Events[5].DaysSincePrevious)

	md := tl.Metadata
	assert.Equal(t, 6, md.Completeness.WithDates)
	assert.Equal(t, 7, md.Completeness.Total)
	assert.InDelta(t, 85.71, md.Completeness.Score, 0.01)
	assert.Equal(t, oct(1), md.DateRange.Start)
	assert.Equal(t, oct(20), md.DateRange.End)
	assert.Equal(t, 19, md.DateRange.DurationDays)
}

func TestAssemble_DoesNotMutateInput(t *testing.T) {
	a := noMilestones()
	events := []model.ResolvedEvent{ev(model.EntityProcedure, "clipping", nil)}

	a.Assemble(events, model.ReferenceDateSet{Admission: oct(1)})
	assert.Nil(t, events[0].Date)
	assert.Equal(t, model.DateUnresolved, events[0].DateSource)
}

func TestAssemble_Empty(t *testing.T) {
	tl := noMilestones().Assemble(nil, model.ReferenceDateSet{})
	assert.Empty(t, tl.Events)
	assert.Equal(t, 0.0, tl.Metadata.Completeness.Score)
	assert.Nil(t, tl.Metadata.DateRange.Start)
}

func TestRelation(t *testing.T) {
	tests := []struct {
		days int
		want string
	}{
		{0, model.RelationSameDay},
		{1, model.RelationNextDay},
		{2, model.RelationShortlyAfter},
		{3, model.RelationShortlyAfter},
		{4, model.RelationDaysLater},
		{7, model.RelationDaysLater},
		{8, model.RelationWeeksLater},
		{30, model.RelationWeeksLater},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Relation(tt.days), "days=%d", tt.days)
	}
}
